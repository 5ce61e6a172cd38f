// Package diagnostics counts what happened to every market in a run.
//
// An Accumulator is created at run start and finalized once at run end. The
// decision engine and the executors only see the narrow recorder interfaces
// they need; the run controller owns the accumulator itself.
package diagnostics

import (
	"log/slog"
	"maps"

	"github.com/lehacf-git/castle-bot/internal/domain"
)

// DefaultSampleCap bounds how many skip records are kept for inspection.
const DefaultSampleCap = 20

// Accumulator is not safe for concurrent use; the decision pass is sequential.
type Accumulator struct {
	sampleCap int

	marketsSeen   int
	withOrderbook int
	accepted      int
	skips         map[domain.SkipReason]int
	trades        map[domain.FillStatus]int
	samples       []domain.SkipSample

	finalized bool
	final     domain.DiagnosticsSnapshot
}

// New returns an empty accumulator. sampleCap <= 0 uses DefaultSampleCap.
func New(sampleCap int) *Accumulator {
	if sampleCap <= 0 {
		sampleCap = DefaultSampleCap
	}
	return &Accumulator{
		sampleCap: sampleCap,
		skips:     make(map[domain.SkipReason]int),
		trades:    make(map[domain.FillStatus]int),
	}
}

// MarketSeen counts a market entering the decision pass.
func (a *Accumulator) MarketSeen(hasOrderbook bool) {
	if a.frozen("market_seen") {
		return
	}
	a.marketsSeen++
	if hasOrderbook {
		a.withOrderbook++
	}
}

// RecordSkip counts one skipped decision.
func (a *Accumulator) RecordSkip(marketID string, reason domain.SkipReason, detail string) {
	if a.frozen("skip") {
		return
	}
	a.skips[reason]++
	if len(a.samples) < a.sampleCap {
		a.samples = append(a.samples, domain.SkipSample{MarketID: marketID, Reason: reason, Detail: detail})
	}
}

// RecordAccept counts one accepted decision.
func (a *Accumulator) RecordAccept(string) {
	if a.frozen("accept") {
		return
	}
	a.accepted++
}

// RecordTrade counts one trade record by status.
func (a *Accumulator) RecordTrade(status domain.FillStatus) {
	if a.frozen("trade") {
		return
	}
	a.trades[status]++
}

// Snapshot returns the current counters without finalizing.
func (a *Accumulator) Snapshot() domain.DiagnosticsSnapshot {
	if a.finalized {
		return a.final
	}
	skipped := 0
	for _, n := range a.skips {
		skipped += n
	}
	return domain.DiagnosticsSnapshot{
		MarketsSeen:          a.marketsSeen,
		MarketsWithOrderbook: a.withOrderbook,
		DecisionsGenerated:   a.accepted + skipped,
		Accepted:             a.accepted,
		SkipReasons:          maps.Clone(a.skips),
		TradesByStatus:       maps.Clone(a.trades),
		SkipSamples:          append([]domain.SkipSample(nil), a.samples...),
	}
}

// Finalize freezes the accumulator and returns its final state.
// Later calls return the same snapshot.
func (a *Accumulator) Finalize() domain.DiagnosticsSnapshot {
	if !a.finalized {
		a.final = a.Snapshot()
		a.finalized = true
	}
	return a.final
}

func (a *Accumulator) frozen(op string) bool {
	if a.finalized {
		slog.Error("diagnostics: update after finalize", "op", op)
	}
	return a.finalized
}
