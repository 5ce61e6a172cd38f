package domain

import "time"

// Market es un mercado binario listado en Kalshi.
type Market struct {
	Ticker       string
	EventTicker  string
	Title        string
	Status       string // "open" | "active" | "closed" | ...
	YesBid       int    // centavos, según el listado
	YesAsk       int
	LastPrice    int
	Volume24h    int64
	OpenInterest int64
	CloseTime    time.Time
}

// Pesos del score de liquidez.
const (
	liquidityVolumeWeight = 0.7
	liquidityOIWeight     = 0.3
)

// LiquidityScore pondera volumen de 24h y open interest.
func (m Market) LiquidityScore() float64 {
	return liquidityVolumeWeight*float64(m.Volume24h) + liquidityOIWeight*float64(m.OpenInterest)
}

// Tradable indica si el mercado acepta órdenes.
func (m Market) Tradable() bool {
	return m.Status == "" || m.Status == "open" || m.Status == "active"
}
