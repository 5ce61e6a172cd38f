package execution

import (
	"context"
	"log/slog"

	"github.com/lehacf-git/castle-bot/internal/domain"
)

// Training records what would have been placed. It has no submitter field, so
// it cannot reach the exchange.
type Training struct {
	mode domain.RunMode
	rec  Recorder
}

// NewTraining creates a training executor. Also used for execution mode test.
func NewTraining(mode domain.RunMode, rec Recorder) *Training {
	return &Training{mode: mode, rec: rec}
}

func (t *Training) Kind() domain.ExecutorKind { return domain.ExecutorTraining }

// Dispatch implements Executor.
func (t *Training) Dispatch(_ context.Context, d domain.Decision) (domain.Trade, error) {
	if err := requireAccept(d); err != nil {
		return domain.Trade{}, err
	}

	tr := baseTrade(d, t.mode, domain.ExecutorTraining)
	tr.Status = domain.StatusLoggedOnly
	tr.ExternalOrderID = domain.WouldPlaceOrderID
	tr.Note = string(domain.SkipModeDisallowsTrade)

	record(t.rec, tr)
	slog.Info("training: WOULD_PLACE",
		"market", tr.MarketID,
		"side", tr.Side,
		"price", tr.PriceCents,
		"size", tr.Size,
		"edge", tr.Edge,
		"mode", t.mode.String(),
	)
	return tr, nil
}
