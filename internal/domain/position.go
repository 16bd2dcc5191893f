package domain

import "time"

// AssetClass distinguishes broker asset classes, which have different order
// capabilities and draw on different buying-power buckets.
type AssetClass string

const (
	AssetClassCrypto AssetClass = "crypto"
	AssetClassEquity AssetClass = "equity"
)

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Opposite returns the closing side for a position entered on this side.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// PositionStatus tracks whether a position is open or closed.
type PositionStatus string

const (
	PositionStatusOpen   PositionStatus = "open"
	PositionStatusClosed PositionStatus = "closed"
)

// TradeType records how a position came to exist.
type TradeType string

const (
	// TradeTypeExecuted positions hold (or held) real broker inventory.
	TradeTypeExecuted TradeType = "executed"
	// TradeTypeTheoretical positions are paper-only records that never
	// touched the broker. They are excluded from reconciliation entirely.
	TradeTypeTheoretical TradeType = "theoretical"
	// TradeTypeRiskBlocked positions are shadow records written when a risk
	// gate rejected the signal, kept purely for audit.
	TradeTypeRiskBlocked TradeType = "risk_blocked"
)

// ExitReason explains why a position was closed.
type ExitReason string

const (
	ExitReasonTakeProfit     ExitReason = "take_profit"
	ExitReasonStopLoss       ExitReason = "stop_loss"
	ExitReasonManualExit     ExitReason = "manual_exit"
	ExitReasonEmergencyClose ExitReason = "emergency_close"
	ExitReasonRiskBlocked    ExitReason = "risk_blocked"
)

// ScaleOut is one partial-exit record on a position.
type ScaleOut struct {
	Price float64   `json:"price"`
	Qty   float64   `json:"qty"`
	At    time.Time `json:"at"`
}

// Position is the internal record of a held or attempted trade. Its ID is
// usually the originating signal's ID; SignalID is kept separately as a weak
// back-reference (lookup only, the signal may already be archived).
//
// A position is never hard-deleted while open; closure is a status
// transition. Archival of old closed rows is a separate maintenance step.
type Position struct {
	ID                string
	SignalID          string
	Symbol            string
	AssetClass        AssetClass
	Side              OrderSide
	Status            PositionStatus
	Qty               float64
	EntryFillPrice    float64
	CurrentStopLoss   float64
	BreakevenApplied  bool
	BrokerOrderID     string
	TakeProfitOrderID string
	StopLossOrderID   string
	ExitOrderID       string
	ExitReason        *ExitReason
	ExitFillPrice     *float64
	TradeType         TradeType
	AccountID         string
	Strategy          string
	ScaledOutPrices   []ScaleOut
	FailedReason      *string
	CreatedAt         time.Time
	ClosedAt          *time.Time
	ArchivedAt        *time.Time
}

// IsOpen reports whether the position currently counts toward open exposure.
func (p *Position) IsOpen() bool {
	return p.Status == PositionStatusOpen
}

// Age returns how long the position has existed relative to now.
func (p *Position) Age(now time.Time) time.Duration {
	return now.Sub(p.CreatedAt)
}

// MarkClosed transitions the position to closed with the given reason, exit
// fill price and the broker order that produced the exit.
func (p *Position) MarkClosed(reason ExitReason, fillPrice float64, exitOrderID string, at time.Time) {
	p.Status = PositionStatusClosed
	p.ExitReason = &reason
	p.ExitFillPrice = &fillPrice
	p.ExitOrderID = exitOrderID
	p.ClosedAt = &at
}
