package artifacts

import (
	"context"
	"errors"
	"fmt"

	"github.com/lehacf-git/castle-bot/internal/domain"
	"github.com/lehacf-git/castle-bot/internal/ports"
)

// Publisher is a sink whose Finalize cannot be undone (e.g. a directory rename).
// Prepare does every fallible step that can still be aborted.
type Publisher interface {
	ports.ArtifactSink
	Prepare(ctx context.Context, r domain.RunReport) error
}

// Tee fans every call out to several sinks. Any sink error fails the call.
//
// Finalize runs in two phases: every Publisher is prepared, then plain sinks
// commit before publishers publish. The first error aborts every sink that has
// not finalized yet, so a failed run is never published.
type Tee struct {
	sinks []ports.ArtifactSink
	done  []bool
}

// NewTee skips nil sinks.
func NewTee(sinks ...ports.ArtifactSink) *Tee {
	t := &Tee{}
	for _, s := range sinks {
		if s != nil {
			t.sinks = append(t.sinks, s)
		}
	}
	return t
}

// Begin starts every sink; on failure the ones already started are aborted.
func (t *Tee) Begin(ctx context.Context, info domain.RunInfo) error {
	t.done = make([]bool, len(t.sinks))
	for i, s := range t.sinks {
		if err := s.Begin(ctx, info); err != nil {
			for _, started := range t.sinks[:i] {
				_ = started.Abort(ctx)
			}
			return fmt.Errorf("artifacts.Tee: begin sink %d: %w", i, err)
		}
	}
	return nil
}

func (t *Tee) AppendDecision(ctx context.Context, d domain.Decision) error {
	return t.each(func(s ports.ArtifactSink) error { return s.AppendDecision(ctx, d) })
}

func (t *Tee) AppendTrade(ctx context.Context, tr domain.Trade) error {
	return t.each(func(s ports.ArtifactSink) error { return s.AppendTrade(ctx, tr) })
}

func (t *Tee) Finalize(ctx context.Context, r domain.RunReport) error {
	if len(t.done) != len(t.sinks) {
		t.done = make([]bool, len(t.sinks))
	}

	for i, s := range t.sinks {
		p, ok := s.(Publisher)
		if !ok {
			continue
		}
		if err := p.Prepare(ctx, r); err != nil {
			t.abortPending(ctx)
			return fmt.Errorf("artifacts.Tee: prepare sink %d: %w", i, err)
		}
	}

	for _, i := range t.commitOrder() {
		if err := t.sinks[i].Finalize(ctx, r); err != nil {
			t.abortPending(ctx)
			return fmt.Errorf("artifacts.Tee: finalize sink %d: %w", i, err)
		}
		t.done[i] = true
	}
	return nil
}

// commitOrder puts plain sinks first and publishers last, keeping registration order.
func (t *Tee) commitOrder() []int {
	order := make([]int, 0, len(t.sinks))
	for i, s := range t.sinks {
		if _, ok := s.(Publisher); !ok {
			order = append(order, i)
		}
	}
	for i, s := range t.sinks {
		if _, ok := s.(Publisher); ok {
			order = append(order, i)
		}
	}
	return order
}

func (t *Tee) abortPending(ctx context.Context) {
	for i, s := range t.sinks {
		if !t.done[i] {
			_ = s.Abort(ctx)
		}
	}
}

// Abort aborts every sink that has not finalized.
func (t *Tee) Abort(ctx context.Context) error {
	var errs []error
	for i, s := range t.sinks {
		if i < len(t.done) && t.done[i] {
			continue
		}
		if err := s.Abort(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t *Tee) each(fn func(ports.ArtifactSink) error) error {
	var errs []error
	for _, s := range t.sinks {
		if err := fn(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
