package binance

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vigoferrel/qbtc-unified-sub000/internal/domain"
)

// --------------------------------------------------------------------------
// REST DTOs
// --------------------------------------------------------------------------

// apiError is the error body returned by the futures API.
type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// Error codes mapped onto domain errors.
const (
	codeInsufficientMargin = -2019
	codeInvalidTimestamp   = -1021
	codeTooManyRequests    = -1003
)

// OrderResponse is the body of POST /fapi/v1/order with newOrderRespType=RESULT.
type OrderResponse struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Symbol        string `json:"symbol"`
	Status        string `json:"status"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	AvgPrice      string `json:"avgPrice"`
	ExecutedQty   string `json:"executedQty"`
	OrigQty       string `json:"origQty"`
	ReduceOnly    bool   `json:"reduceOnly"`
	UpdateTime    int64  `json:"updateTime"`
}

// accepted reports whether the exchange took the order.
func (o *OrderResponse) accepted() bool {
	switch o.Status {
	case "NEW", "PARTIALLY_FILLED", "FILLED":
		return true
	}
	return false
}

// ToDomainResult converts the response into an OrderResult.
func (o *OrderResponse) ToDomainResult() domain.OrderResult {
	res := domain.OrderResult{
		Success:   o.accepted(),
		OrderID:   strconv.FormatInt(o.OrderID, 10),
		FillPrice: parseFloat(o.AvgPrice),
		FilledQty: o.ExecutedQty,
		At:        time.UnixMilli(o.UpdateTime).UTC(),
	}
	if o.UpdateTime == 0 {
		res.At = time.Now().UTC()
	}
	if !res.Success {
		res.Message = fmt.Sprintf("order %s", o.Status)
	}
	return res
}

// premiumIndex is the body of GET /fapi/v1/premiumIndex?symbol=X.
type premiumIndex struct {
	Symbol    string `json:"symbol"`
	MarkPrice string `json:"markPrice"`
	Time      int64  `json:"time"`
}

// exchangeInfo is the subset of GET /fapi/v1/exchangeInfo the resolver needs.
type exchangeInfo struct {
	Symbols []struct {
		Symbol  string `json:"symbol"`
		Status  string `json:"status"`
		Filters []struct {
			FilterType string `json:"filterType"`
			StepSize   string `json:"stepSize"`
			MinQty     string `json:"minQty"`
			MaxQty     string `json:"maxQty"`
			Notional   string `json:"notional"`
		} `json:"filters"`
	} `json:"symbols"`
}

// SymbolFilters are the quantity rules for one symbol.
type SymbolFilters struct {
	Symbol      string
	StepSize    decimal.Decimal
	MinQty      decimal.Decimal
	MaxQty      decimal.Decimal
	MinNotional decimal.Decimal
}

func (e *exchangeInfo) toFilters() map[string]SymbolFilters {
	out := make(map[string]SymbolFilters, len(e.Symbols))
	for _, s := range e.Symbols {
		if s.Status != "" && s.Status != "TRADING" {
			continue
		}
		f := SymbolFilters{Symbol: s.Symbol}
		for _, flt := range s.Filters {
			switch flt.FilterType {
			case "MARKET_LOT_SIZE":
				f.StepSize = parseDecimal(flt.StepSize)
				f.MinQty = parseDecimal(flt.MinQty)
				f.MaxQty = parseDecimal(flt.MaxQty)
			case "LOT_SIZE":
				// MARKET_LOT_SIZE wins when present.
				if f.StepSize.IsZero() {
					f.StepSize = parseDecimal(flt.StepSize)
					f.MinQty = parseDecimal(flt.MinQty)
					f.MaxQty = parseDecimal(flt.MaxQty)
				}
			case "MIN_NOTIONAL":
				f.MinNotional = parseDecimal(flt.Notional)
			}
		}
		out[s.Symbol] = f
	}
	return out
}

// --------------------------------------------------------------------------
// WebSocket DTOs
// --------------------------------------------------------------------------

// streamEnvelope wraps every message on a combined stream.
type streamEnvelope struct {
	Stream string          `json:"stream"`
	Data   markPriceUpdate `json:"data"`
}

// markPriceUpdate is a markPriceUpdate event.
type markPriceUpdate struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	MarkPrice string `json:"p"`
}

func (m *markPriceUpdate) toTick() (domain.PriceTick, bool) {
	if m.Event != "markPriceUpdate" || m.Symbol == "" {
		return domain.PriceTick{}, false
	}
	p := parseFloat(m.MarkPrice)
	if p <= 0 {
		return domain.PriceTick{}, false
	}
	return domain.PriceTick{Symbol: m.Symbol, Price: p, At: time.UnixMilli(m.EventTime).UTC()}, true
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
