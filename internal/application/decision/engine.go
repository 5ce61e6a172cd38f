// Package decision turns one market's order book into a Decision.
//
// Filters run in a fixed order and stop at the first failure:
//
//	no_prices → spread_too_wide → insufficient_depth → insufficient_edge → max_exposure_reached
//
// The run mode never reaches this package: training and paper runs accept
// exactly the same markets a live run would.
package decision

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lehacf-git/castle-bot/internal/application/risk"
	"github.com/lehacf-git/castle-bot/internal/domain"
	"github.com/lehacf-git/castle-bot/internal/ports"
)

// edgeEpsilon absorbs float noise when comparing edge to the threshold.
const edgeEpsilon = 1e-9

// Config holds the filter thresholds and sizing policy.
type Config struct {
	// MaxSpreadCents is the widest ask-bid spread accepted.
	MaxSpreadCents int
	// MinDepth is the minimum contracts within the band on BOTH sides.
	MinDepth int
	// MinEdge is the minimum edge in probability units.
	MinEdge float64
	// DepthBandCents is the band used by the snapshot extractor.
	DepthBandCents int
	// MakerOnly prices orders at the chosen side's best bid instead of crossing.
	MakerOnly bool
	// TakerFeeCents is the estimated fee per contract, deducted from edge when crossing.
	TakerFeeCents int
	// EdgeScale is the edge at which the full remaining budget is targeted.
	EdgeScale float64
}

// DefaultConfig returns the thresholds the bot ships with.
func DefaultConfig() Config {
	return Config{
		MaxSpreadCents: 10,
		MinDepth:       50,
		MinEdge:        0.03,
		DepthBandCents: domain.DefaultDepthBandCents,
		MakerOnly:      true,
		TakerFeeCents:  2,
		EdgeScale:      0.10,
	}
}

// Recorder receives exactly one call per evaluated market.
type Recorder interface {
	RecordSkip(marketID string, reason domain.SkipReason, detail string)
	RecordAccept(marketID string)
}

// Candidate is one market to evaluate in a tick.
type Candidate struct {
	MarketID string
	Book     *domain.OrderBook // nil when the prefetch failed or timed out
	FetchErr error
	At       time.Time // decision timestamp; defaults to the book's fetch time
}

// Engine evaluates candidates. It reserves exposure for every Accept it returns.
type Engine struct {
	cfg    Config
	probs  ports.ProbabilitySource
	budget risk.Budget
	rec    Recorder
}

// New creates an Engine with all dependencies injected.
func New(cfg Config, probs ports.ProbabilitySource, budget risk.Budget, rec Recorder) *Engine {
	if cfg.EdgeScale <= 0 {
		cfg.EdgeScale = DefaultConfig().EdgeScale
	}
	return &Engine{cfg: cfg, probs: probs, budget: budget, rec: rec}
}

// Config returns the engine's thresholds.
func (e *Engine) Config() Config { return e.cfg }

// Evaluate runs the filter chain for one market and reports the outcome.
func (e *Engine) Evaluate(ctx context.Context, c Candidate) domain.Decision {
	d := e.decide(ctx, c)

	if d.Accepted() {
		e.rec.RecordAccept(d.MarketID)
		slog.Debug("decision: accept",
			"market", d.MarketID,
			"side", d.Accept.Edge.Side,
			"edge", fmt.Sprintf("%.4f", d.Accept.Edge.Edge),
			"price", d.Accept.PriceCents,
			"size", d.Accept.Size,
			"notional", d.Accept.Notional.StringFixed(2),
		)
		return d
	}

	e.rec.RecordSkip(d.MarketID, d.Skip.Reason, d.Skip.Detail)
	slog.Debug("decision: skip", "market", d.MarketID, "reason", d.Skip.Reason, "detail", d.Skip.Detail)
	return d
}

func (e *Engine) decide(ctx context.Context, c Candidate) domain.Decision {
	at := c.At

	// 1. prices
	if c.Book == nil {
		detail := "no orderbook"
		if c.FetchErr != nil {
			detail = "orderbook fetch failed: " + c.FetchErr.Error()
		}
		return domain.SkipDecision(c.MarketID, at, domain.MarketSnapshot{MarketID: c.MarketID}, domain.SkipNoPrices, detail)
	}
	snap, ok := domain.ExtractSnapshot(*c.Book, e.cfg.DepthBandCents)
	if snap.MarketID == "" {
		snap.MarketID = c.MarketID
	}
	if at.IsZero() {
		at = snap.Timestamp
	}
	if !ok {
		return domain.SkipDecision(c.MarketID, at, snap, domain.SkipNoPrices, missingPrices(snap))
	}

	// 2. spread
	if spread := snap.SpreadCents(); spread > e.cfg.MaxSpreadCents {
		return domain.SkipDecision(c.MarketID, at, snap, domain.SkipSpreadTooWide,
			fmt.Sprintf("spread %dc > max %dc", spread, e.cfg.MaxSpreadCents))
	}

	// 3. depth
	if depth := snap.MinDepth(); depth < e.cfg.MinDepth {
		return domain.SkipDecision(c.MarketID, at, snap, domain.SkipInsufficientDepth,
			fmt.Sprintf("depth bid=%d ask=%d < min %d", snap.Bid.Depth, snap.Ask.Depth, e.cfg.MinDepth))
	}

	// 4. edge
	p, err := e.probs.Estimate(ctx, c.MarketID, snap)
	if err != nil {
		return domain.SkipDecision(c.MarketID, at, snap, domain.SkipInsufficientEdge,
			"probability unavailable: "+err.Error())
	}
	est, ok := domain.ComputeEdge(snap, p)
	if !ok {
		return domain.SkipDecision(c.MarketID, at, snap, domain.SkipInsufficientEdge,
			fmt.Sprintf("no positive edge (p=%.3f best=%+.4f)", p, est.Edge))
	}
	taker := !e.cfg.MakerOnly
	edge := est.Edge
	if taker {
		edge -= float64(e.cfg.TakerFeeCents) / 100
	}
	if edge+edgeEpsilon < e.cfg.MinEdge {
		return domain.SkipDecision(c.MarketID, at, snap, domain.SkipInsufficientEdge,
			fmt.Sprintf("edge %.4f < min %.4f (%s)", edge, e.cfg.MinEdge, est.Side))
	}

	// 5. exposure
	price := orderPrice(snap, est, taker)
	size, notional, detail := e.size(c.MarketID, edge, price)
	if size == 0 {
		return domain.SkipDecision(c.MarketID, at, snap, domain.SkipMaxExposure, detail)
	}
	if !e.budget.Reserve(c.MarketID, notional) {
		return domain.SkipDecision(c.MarketID, at, snap, domain.SkipMaxExposure,
			"reservation refused for "+notional.StringFixed(2))
	}

	return domain.AcceptDecision(c.MarketID, at, snap, domain.Accept{
		Edge:       est,
		Size:       size,
		PriceCents: price,
		Notional:   notional,
		Taker:      taker,
	})
}

// orderPrice is the limit price for the chosen side: its best bid when resting,
// its implied ask when crossing.
func orderPrice(snap domain.MarketSnapshot, est domain.EdgeEstimate, taker bool) int {
	if taker {
		return est.PriceCents
	}
	if est.Side == domain.SideYes {
		return snap.Bid.PriceCents
	}
	return 100 - snap.Ask.PriceCents
}

// size scales the remaining budget by edge strength and converts it to contracts.
// A zero size comes with the skip detail.
func (e *Engine) size(marketID string, edge float64, priceCents int) (int, decimal.Decimal, string) {
	remaining := e.budget.Remaining(marketID)
	if !remaining.IsPositive() {
		return 0, decimal.Zero, "no remaining risk budget"
	}

	cost := decimal.New(int64(priceCents), -2)
	maxCount := remaining.Div(cost).IntPart()
	if maxCount < 1 {
		return 0, decimal.Zero, fmt.Sprintf("remaining budget %s below one contract at %dc", remaining.StringFixed(2), priceCents)
	}

	scale := min(1.0, edge/e.cfg.EdgeScale)
	target := remaining.Mul(decimal.NewFromFloat(scale))
	count := max(target.Div(cost).IntPart(), 1)
	count = min(count, maxCount)

	return int(count), cost.Mul(decimal.NewFromInt(count)), ""
}

func missingPrices(snap domain.MarketSnapshot) string {
	switch {
	case !snap.Bid.Present && !snap.Ask.Present:
		return "empty orderbook"
	case !snap.Bid.Present:
		return "no yes bids"
	case !snap.Ask.Present:
		return "no no bids (yes ask missing)"
	default:
		return fmt.Sprintf("crossed book bid=%dc ask=%dc", snap.Bid.PriceCents, snap.Ask.PriceCents)
	}
}
