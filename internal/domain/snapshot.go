package domain

import "time"

// DefaultDepthBandCents es la banda usada para medir profundidad cerca del mejor precio.
const DefaultDepthBandCents = 5

// Quote es un lado del top-of-book. Present=false significa lado vacío,
// nunca se representa como precio cero.
type Quote struct {
	PriceCents int  `json:"price_cents"`
	Depth      int  `json:"depth"`
	Present    bool `json:"present"`
}

// MarketSnapshot es la vista normalizada de un book para una pasada del motor.
type MarketSnapshot struct {
	MarketID  string    `json:"market_id"`
	Bid       Quote     `json:"bid"`
	Ask       Quote     `json:"ask"`
	Timestamp time.Time `json:"ts"`
}

// Valid indica que ambos lados existen y el book no está cruzado.
func (s MarketSnapshot) Valid() bool {
	return s.Bid.Present && s.Ask.Present && s.Bid.PriceCents <= s.Ask.PriceCents
}

// SpreadCents devuelve ask - bid. Solo tiene sentido si Valid().
func (s MarketSnapshot) SpreadCents() int {
	return s.Ask.PriceCents - s.Bid.PriceCents
}

// MinDepth devuelve la menor profundidad de los dos lados.
func (s MarketSnapshot) MinDepth() int {
	return min(s.Bid.Depth, s.Ask.Depth)
}

// Mid devuelve el punto medio como probabilidad (0-1).
func (s MarketSnapshot) Mid() (float64, bool) {
	if !s.Valid() {
		return 0, false
	}
	return float64(s.Bid.PriceCents+s.Ask.PriceCents) / 200, true
}

// ExtractSnapshot normaliza un book en bid/ask/profundidad de YES.
//
// El bid es el mejor bid de YES; el ask es 100 menos el mejor bid de NO, y su
// profundidad es la de los bids de NO dentro de la banda. Niveles malformados se
// ignoran. Devuelve ok=false (no_prices) si falta un lado o el book está cruzado.
func ExtractSnapshot(book OrderBook, bandCents int) (MarketSnapshot, bool) {
	if bandCents < 0 {
		bandCents = DefaultDepthBandCents
	}

	snap := MarketSnapshot{MarketID: book.MarketID, Timestamp: book.FetchedAt}

	if yes, ok := book.BestYesBid(); ok {
		snap.Bid = Quote{
			PriceCents: yes.PriceCents,
			Depth:      depthWithin(book.YesBids, yes.PriceCents, bandCents),
			Present:    true,
		}
	}
	if no, ok := book.BestNoBid(); ok {
		snap.Ask = Quote{
			PriceCents: 100 - no.PriceCents,
			Depth:      depthWithin(book.NoBids, no.PriceCents, bandCents),
			Present:    true,
		}
	}

	return snap, snap.Valid()
}
