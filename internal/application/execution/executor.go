// Package execution turns accepted decisions into trade records.
//
// One executor is selected per run from the run mode:
//
//	paper            → Paper    (simulated fills, never submits)
//	test, training   → Training (would-place logs, never submits)
//	demo, prod       → Live     (real orders; needs a domain.LiveGrant)
package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lehacf-git/castle-bot/internal/application/risk"
	"github.com/lehacf-git/castle-bot/internal/domain"
	"github.com/lehacf-git/castle-bot/internal/ports"
)

// ErrInvariant marks a programming defect detected at dispatch time. The run
// controller aborts the run when it sees one.
var ErrInvariant = errors.New("execution: invariant violated")

// Executor converts an accepted decision into exactly one Trade.
type Executor interface {
	Kind() domain.ExecutorKind
	Dispatch(ctx context.Context, d domain.Decision) (domain.Trade, error)
}

// Recorder receives one call per trade record.
type Recorder interface {
	RecordTrade(status domain.FillStatus)
}

// Deps are the collaborators an executor may need.
type Deps struct {
	Submitter     ports.OrderSubmitter // live only
	Releaser      risk.Releaser        // live only
	Recorder      Recorder
	Paper         PaperConfig
	SubmitTimeout time.Duration
}

// ForMode selects the executor for a run. The switch is exhaustive over
// domain.ExecutorKind; only the live branch can reach a submitter.
func ForMode(mode domain.RunMode, deps Deps) (Executor, error) {
	if mode.IsZero() {
		return nil, fmt.Errorf("execution.ForMode: %w", domain.ErrInvalidRunMode)
	}
	switch kind := mode.ExecutorKind(); kind {
	case domain.ExecutorPaper:
		return NewPaper(mode, deps.Paper, deps.Recorder), nil
	case domain.ExecutorTraining:
		return NewTraining(mode, deps.Recorder), nil
	case domain.ExecutorLive:
		grant, err := mode.GrantLive()
		if err != nil {
			return nil, fmt.Errorf("execution.ForMode: %w", err)
		}
		live, err := NewLive(grant, deps.Submitter, deps.Releaser, deps.Recorder, deps.SubmitTimeout)
		if err != nil {
			return nil, err
		}
		return live, nil
	default:
		return nil, fmt.Errorf("execution.ForMode: unknown executor kind %q", kind)
	}
}

// baseTrade fills the fields every executor shares.
func baseTrade(d domain.Decision, mode domain.RunMode, kind domain.ExecutorKind) domain.Trade {
	a := d.Accept
	return domain.Trade{
		ID:         uuid.NewString(),
		MarketID:   d.MarketID,
		Side:       a.Edge.Side,
		PriceCents: a.PriceCents,
		Size:       a.Size,
		Notional:   a.Notional,
		Edge:       a.Edge.Edge,
		Mode:       mode,
		Executor:   kind,
		Timestamp:  d.Timestamp,
	}
}

func requireAccept(d domain.Decision) error {
	if !d.Accepted() || d.Skip != nil {
		return fmt.Errorf("%w: dispatch of non-accepted decision for %s", ErrInvariant, d.MarketID)
	}
	return nil
}

func record(rec Recorder, t domain.Trade) {
	if rec != nil {
		rec.RecordTrade(t.Status)
	}
}
