package execution

import (
	"context"
	"log/slog"

	"github.com/lehacf-git/castle-bot/internal/domain"
)

// PaperConfig controls the fill rule.
type PaperConfig struct {
	// EnableTakerFills lets crossing orders fill at the quoted price.
	EnableTakerFills bool
	// TakerFeeCents is charged per contract on simulated taker fills.
	TakerFeeCents int
}

// Paper simulates fills conservatively: resting orders never fill in the same
// tick, crossing orders fill all-or-nothing at the quoted price when enabled.
type Paper struct {
	mode domain.RunMode
	cfg  PaperConfig
	rec  Recorder
}

// NewPaper creates a paper executor.
func NewPaper(mode domain.RunMode, cfg PaperConfig, rec Recorder) *Paper {
	return &Paper{mode: mode, cfg: cfg, rec: rec}
}

func (p *Paper) Kind() domain.ExecutorKind { return domain.ExecutorPaper }

// Dispatch implements Executor.
func (p *Paper) Dispatch(_ context.Context, d domain.Decision) (domain.Trade, error) {
	if err := requireAccept(d); err != nil {
		return domain.Trade{}, err
	}

	t := baseTrade(d, p.mode, domain.ExecutorPaper)
	switch {
	case d.Accept.Taker && p.cfg.EnableTakerFills:
		t.Status = domain.StatusSimulated
		t.ExternalOrderID = "PAPER-" + t.ID
		t.FeeCents = p.cfg.TakerFeeCents * t.Size
		t.Note = "taker fill at quoted price"
	case d.Accept.Taker:
		t.Status = domain.StatusUnfilled
		t.ExternalOrderID = domain.NoFillOrderID
		t.Note = "taker fills disabled"
	default:
		t.Status = domain.StatusUnfilled
		t.ExternalOrderID = domain.NoFillOrderID
		t.Note = "resting maker order, no same-tick fill"
	}

	record(p.rec, t)
	slog.Debug("paper: dispatched",
		"market", t.MarketID,
		"side", t.Side,
		"price", t.PriceCents,
		"size", t.Size,
		"status", t.Status,
	)
	return t, nil
}
