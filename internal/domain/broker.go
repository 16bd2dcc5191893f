package domain

import (
	"context"
	"time"
)

// Account is a snapshot of the broker account's financial metrics.
type Account struct {
	ID                       string
	Equity                   float64
	LastEquity               float64
	BuyingPower              float64 // Reg-T buying power, used for equities
	NonMarginableBuyingPower float64 // cash buying power, used for crypto
	Cash                     float64
}

// BrokerPosition is a position as reported by the broker, independent of any
// internal record.
type BrokerPosition struct {
	Symbol      string
	Qty         float64
	Side        OrderSide
	MarketValue float64
	AvgEntry    float64
}

// OrderStatus tracks the broker-side order lifecycle.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "new"
	OrderStatusAccepted        OrderStatus = "accepted"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCanceled        OrderStatus = "canceled"
	OrderStatusRejected        OrderStatus = "rejected"
)

// Filled reports whether the order reached a full fill.
func (s OrderStatus) Filled() bool { return s == OrderStatusFilled }

// Order is a broker order as returned by the gateway.
type Order struct {
	ID             string
	ClientOrderID  string
	Symbol         string
	Side           OrderSide
	Type           string // broker order type: "market", "limit", "stop", ...
	Qty            float64
	FilledQty      float64
	FilledAvgPrice *float64
	Status         OrderStatus
	Legs           []Order
	CreatedAt      time.Time
	FilledAt       *time.Time
}

// OrderKind selects the order structure submitted to the broker.
type OrderKind string

const (
	// OrderKindMarket is a plain market order. The broker's crypto venue
	// supports nothing else for entries.
	OrderKindMarket OrderKind = "market"
	// OrderKindBracket is an entry with attached take-profit and stop-loss
	// legs, submitted in one call. Equities only.
	OrderKindBracket OrderKind = "bracket"
)

// OrderRequest describes an order to submit through the gateway.
type OrderRequest struct {
	Symbol        string
	Qty           float64
	Side          OrderSide
	Kind          OrderKind
	TakeProfit    float64 // bracket leg limit price, required for bracket
	StopLoss      float64 // bracket leg stop price, required for bracket
	ClientOrderID string
}

// OrderFilter narrows an order-history query.
type OrderFilter struct {
	Status  string // "open", "closed" or "all"
	Symbols []string
	After   time.Time
	Limit   int
}

// Activity is a non-order account event (fees, dividends, transfers).
type Activity struct {
	ID        string
	Type      string
	OrderID   string
	Symbol    string
	Qty       float64
	Price     float64
	NetAmount float64
	At        time.Time
}

// ActivityFilter narrows an account-activity query.
type ActivityFilter struct {
	Types []string
	After time.Time
}

// BrokerGateway is the capability contract against the brokerage. "Position
// not found" surfaces as ErrNotFound, never as an HTTP status the caller has
// to inspect. Implementations wrap transient failures in bounded retry and
// must eventually return an error rather than retry forever.
type BrokerGateway interface {
	GetAccount(ctx context.Context) (Account, error)
	GetAccountID(ctx context.Context) (string, error)
	GetAllPositions(ctx context.Context) ([]BrokerPosition, error)
	GetOpenPosition(ctx context.Context, symbol string) (BrokerPosition, error)
	SubmitOrder(ctx context.Context, req OrderRequest) (Order, error)
	GetOrder(ctx context.Context, id string) (Order, error)
	GetOrders(ctx context.Context, filter OrderFilter) ([]Order, error)
	ReplaceStopOrder(ctx context.Context, id string, stopPrice float64) (Order, error)
	CancelOrder(ctx context.Context, id string) error
	GetActivities(ctx context.Context, filter ActivityFilter) ([]Activity, error)
}
