package postgres

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vigoferrel/qbtc-unified-sub000/internal/domain"
)

// listClause appends the time window, ordering and paging of opts to query.
// column is the timestamp the window applies to.
func listClause(query string, args []any, column string, opts domain.ListOpts) (string, []any) {
	if opts.Since != nil {
		args = append(args, *opts.Since)
		query += fmt.Sprintf(" AND %s >= $%d", column, len(args))
	}
	if opts.Until != nil {
		args = append(args, *opts.Until)
		query += fmt.Sprintf(" AND %s <= $%d", column, len(args))
	}
	query += " ORDER BY " + column + " DESC"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return query, args
}

// Decimals cross the wire as text and are cast in SQL, so no pgx type
// registration is needed.

func decText(d decimal.Decimal) string {
	return d.String()
}

func parseDec(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
