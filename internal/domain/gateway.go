package domain

import "context"

// Oracle produces scored opportunities. Its scoring is opaque to the
// controller and may be nondeterministic.
type Oracle interface {
	Scan(ctx context.Context) ([]Opportunity, error)
	Score(ctx context.Context, symbol string) (Score, error)
}

// ExecutionGateway places orders on an exchange. A failed PlaceOrder means no
// position exists.
type ExecutionGateway interface {
	Ping(ctx context.Context) (PingResult, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	MarkPrice(ctx context.Context, symbol string) (float64, error)
}

// QuantityResolver turns a notional size into an exchange-legal quantity.
type QuantityResolver interface {
	Resolve(ctx context.Context, symbol string, notionalUSD, price float64) (string, error)
}

// SymbolCategorizer maps a symbol to its exposure bucket.
type SymbolCategorizer interface {
	Category(symbol string) string
}
