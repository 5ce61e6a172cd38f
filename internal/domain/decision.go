package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SkipReason explica por qué un mercado no produjo un trade.
type SkipReason string

const (
	SkipNoPrices           SkipReason = "no_prices"
	SkipSpreadTooWide      SkipReason = "spread_too_wide"
	SkipInsufficientDepth  SkipReason = "insufficient_depth"
	SkipInsufficientEdge   SkipReason = "insufficient_edge"
	SkipMaxExposure        SkipReason = "max_exposure_reached"
	SkipModeDisallowsTrade SkipReason = "mode_disallows_trade"
)

// SkipReasons lista todas las razones en el orden en que el motor las evalúa.
// mode_disallows_trade no sale del motor: la usa el dispatcher en sus marcas.
var SkipReasons = []SkipReason{
	SkipNoPrices,
	SkipSpreadTooWide,
	SkipInsufficientDepth,
	SkipInsufficientEdge,
	SkipMaxExposure,
	SkipModeDisallowsTrade,
}

// Outcome es el resultado de una decisión.
type Outcome string

const (
	OutcomeSkip   Outcome = "skip"
	OutcomeAccept Outcome = "accept"
)

// Skip es el detalle de una decisión rechazada.
type Skip struct {
	Reason SkipReason `json:"reason"`
	Detail string     `json:"detail,omitempty"`
}

// Accept es el detalle de una decisión ejecutable.
type Accept struct {
	Edge       EdgeEstimate    `json:"edge"`
	Size       int             `json:"size"`
	PriceCents int             `json:"price_cents"`
	Notional   decimal.Decimal `json:"notional"`
	Taker      bool            `json:"taker"`
}

// Decision es el registro de auditoría de un mercado en un tick.
// Lleva exactamente uno de Skip o Accept; usar SkipDecision/AcceptDecision.
type Decision struct {
	MarketID  string         `json:"market_id"`
	Timestamp time.Time      `json:"ts"`
	Snapshot  MarketSnapshot `json:"snapshot"`
	Skip      *Skip          `json:"skip,omitempty"`
	Accept    *Accept        `json:"accept,omitempty"`
}

// SkipDecision construye una decisión rechazada.
func SkipDecision(marketID string, at time.Time, snap MarketSnapshot, reason SkipReason, detail string) Decision {
	return Decision{
		MarketID:  marketID,
		Timestamp: at,
		Snapshot:  snap,
		Skip:      &Skip{Reason: reason, Detail: detail},
	}
}

// AcceptDecision construye una decisión aceptada.
func AcceptDecision(marketID string, at time.Time, snap MarketSnapshot, accept Accept) Decision {
	return Decision{
		MarketID:  marketID,
		Timestamp: at,
		Snapshot:  snap,
		Accept:    &accept,
	}
}

// Outcome devuelve skip o accept.
func (d Decision) Outcome() Outcome {
	if d.Accept != nil {
		return OutcomeAccept
	}
	return OutcomeSkip
}

// Accepted es un atajo para Outcome() == OutcomeAccept.
func (d Decision) Accepted() bool { return d.Accept != nil }

// Reason devuelve la razón de skip, o "" si la decisión fue aceptada.
func (d Decision) Reason() SkipReason {
	if d.Skip == nil {
		return ""
	}
	return d.Skip.Reason
}
