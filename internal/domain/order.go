package domain

import "time"

// OrderSide is the exchange order direction.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderType is the exchange order type.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// EntrySide maps a position side to the order side that opens it.
func EntrySide(s Side) OrderSide {
	if s == SideShort {
		return OrderSideSell
	}
	return OrderSideBuy
}

// ExitSide maps a position side to the order side that closes it.
func ExitSide(s Side) OrderSide {
	return EntrySide(s.Opposite())
}

// OrderRequest is sent to the execution gateway.
type OrderRequest struct {
	ClientID   string
	Symbol     string
	Side       OrderSide
	Type       OrderType
	Quantity   string
	Price      float64
	ReduceOnly bool
}

// OrderResult is the gateway's answer to a placed order.
type OrderResult struct {
	Success   bool
	OrderID   string
	FillPrice float64
	FilledQty string
	Message   string
	At        time.Time
}

// PingResult reports gateway reachability.
type PingResult struct {
	OK      bool
	Latency time.Duration
}
