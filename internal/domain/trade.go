package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// FillStatus is the fate of an accepted decision.
type FillStatus string

const (
	StatusFilled     FillStatus = "filled"      // live order accepted by the exchange
	StatusSimulated  FillStatus = "simulated"   // paper taker fill
	StatusLoggedOnly FillStatus = "logged_only" // training/test: would have placed
	StatusRejected   FillStatus = "rejected"    // live submission failed
	StatusUnfilled   FillStatus = "unfilled"    // paper maker order resting, no fill
)

// ExecutorKind identifies which dispatcher variant produced a trade.
type ExecutorKind string

const (
	ExecutorPaper    ExecutorKind = "paper"
	ExecutorTraining ExecutorKind = "training"
	ExecutorLive     ExecutorKind = "live"
)

// External order id sentinels for executors that never reach the exchange.
const (
	WouldPlaceOrderID = "WOULD_PLACE"
	NoFillOrderID     = "NO_FILL"
)

// Trade records what happened to one accepted decision.
type Trade struct {
	ID              string          `json:"id"`
	MarketID        string          `json:"market_id"`
	Side            Side            `json:"side"`
	PriceCents      int             `json:"price_cents"`
	Size            int             `json:"size"`
	Notional        decimal.Decimal `json:"notional"`
	FeeCents        int             `json:"fee_cents"`
	Edge            float64         `json:"edge"`
	Mode            RunMode         `json:"mode"`
	Executor        ExecutorKind    `json:"executor"`
	ExternalOrderID string          `json:"external_order_id"`
	Timestamp       time.Time       `json:"ts"`
	Status          FillStatus      `json:"status"`
	Note            string          `json:"note,omitempty"`
}

// Holds reports whether the trade opened a position (real or simulated).
func (t Trade) Holds() bool {
	return t.Status == StatusFilled || t.Status == StatusSimulated
}

// OrderRequest is a limit buy sent to the exchange.
type OrderRequest struct {
	MarketID      string
	Side          Side
	PriceCents    int
	Count         int
	ClientOrderID string
}
