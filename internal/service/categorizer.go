package service

import "strings"

// UnknownCategory is the bucket for symbols with no configured category.
const UnknownCategory = "unknown"

// StaticCategorizer maps symbols to categories from configuration.
type StaticCategorizer struct {
	bySymbol map[string]string
}

// NewStaticCategorizer builds a categorizer from category -> symbols.
func NewStaticCategorizer(categories map[string][]string) *StaticCategorizer {
	c := &StaticCategorizer{bySymbol: make(map[string]string)}
	for cat, symbols := range categories {
		for _, s := range symbols {
			c.bySymbol[strings.ToUpper(s)] = cat
		}
	}
	return c
}

// Category returns the configured category for symbol, or UnknownCategory.
func (c *StaticCategorizer) Category(symbol string) string {
	if cat, ok := c.bySymbol[strings.ToUpper(symbol)]; ok {
		return cat
	}
	return UnknownCategory
}
