package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RunInfo se entrega al sink al arrancar la corrida.
type RunInfo struct {
	RunID     string         `json:"run_id"`
	Mode      RunMode        `json:"mode"`
	StartedAt time.Time      `json:"started_at"`
	Settings  map[string]any `json:"settings,omitempty"` // config redactada
}

// SkipSample es una muestra de un skip para inspección post-corrida.
type SkipSample struct {
	MarketID string     `json:"market_id"`
	Reason   SkipReason `json:"reason"`
	Detail   string     `json:"detail,omitempty"`
}

// DiagnosticsSnapshot es la serialización final del acumulador de diagnósticos.
type DiagnosticsSnapshot struct {
	MarketsSeen          int                `json:"markets_seen"`
	MarketsWithOrderbook int                `json:"markets_with_orderbook"`
	DecisionsGenerated   int                `json:"decisions_generated"`
	Accepted             int                `json:"accepted"`
	SkipReasons          map[SkipReason]int `json:"skip_reasons"`
	TradesByStatus       map[FillStatus]int `json:"trades_by_status"`
	SkipSamples          []SkipSample       `json:"skip_samples"`
}

// Skipped devuelve el total de skips.
func (d DiagnosticsSnapshot) Skipped() int {
	total := 0
	for _, n := range d.SkipReasons {
		total += n
	}
	return total
}

// ExposureSnapshot es el estado final del ledger de riesgo.
type ExposureSnapshot struct {
	ByMarket       map[string]decimal.Decimal `json:"by_market"`
	Total          decimal.Decimal            `json:"total"`
	PerMarketLimit decimal.Decimal            `json:"per_market_limit"`
	TotalLimit     decimal.Decimal            `json:"total_limit"`
}

// EquityPoint es una foto mark-to-market al final de un tick.
type EquityPoint struct {
	Tick      int             `json:"tick"`
	Timestamp time.Time       `json:"ts"`
	Cash      decimal.Decimal `json:"cash"`
	MarkValue decimal.Decimal `json:"mark_value"`
	Equity    decimal.Decimal `json:"equity"`
	Exposure  decimal.Decimal `json:"exposure"`
}

// PriceMark es el último precio visto de un mercado.
type PriceMark struct {
	Bid       Quote     `json:"bid"`
	Ask       Quote     `json:"ask"`
	Mid       float64   `json:"mid"`
	Timestamp time.Time `json:"ts"`
}

// TrainingSummary resume los would-trades de una corrida sin envío de órdenes.
type TrainingSummary struct {
	TotalWouldTrades int             `json:"total_would_trades"`
	HypotheticalCost decimal.Decimal `json:"total_hypothetical_cost_usd"`
	UniqueTickers    int             `json:"unique_tickers"`
	AvgEdge          float64         `json:"avg_edge"`
	BySide           map[Side]int    `json:"by_side"`
}

// RunReport es todo lo que la corrida expone al finalizar.
type RunReport struct {
	RunID       string               `json:"run_id"`
	Mode        RunMode              `json:"mode"`
	StartedAt   time.Time            `json:"started_at"`
	FinishedAt  time.Time            `json:"finished_at"`
	Ticks       int                  `json:"ticks"`
	Interrupted bool                 `json:"interrupted"`
	Diagnostics DiagnosticsSnapshot  `json:"diagnostics"`
	Exposure    ExposureSnapshot     `json:"exposure"`
	Equity      []EquityPoint        `json:"equity"`
	PricesEnd   map[string]PriceMark `json:"prices_end"`
	Training    *TrainingSummary     `json:"training,omitempty"`
	Settings    map[string]any       `json:"settings,omitempty"`
	Bankroll    decimal.Decimal      `json:"bankroll"`   // equity inicial
	MakerOnly   bool                 `json:"maker_only"` // precio de órdenes en el mejor bid
}

// RunRecord es una corrida finalizada tal como queda en el histórico.
type RunRecord struct {
	RunID         string          `json:"run_id"`
	Mode          RunMode         `json:"mode"`
	StartedAt     time.Time       `json:"started_at"`
	FinishedAt    time.Time       `json:"finished_at"`
	Ticks         int             `json:"ticks"`
	Interrupted   bool            `json:"interrupted"`
	MarketsSeen   int             `json:"markets_seen"`
	Accepted      int             `json:"accepted"`
	Trades        int             `json:"trades"`
	ExposureTotal decimal.Decimal `json:"exposure_total"`
}
