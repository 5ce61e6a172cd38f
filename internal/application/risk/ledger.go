// Package risk tracks committed notional per market and in total for one run.
package risk

import (
	"errors"
	"maps"
	"sync"

	"github.com/lehacf-git/castle-bot/internal/domain"
	"github.com/shopspring/decimal"
)

var (
	// ErrPerMarketLimitExceeded is returned when a reservation would push one
	// market's committed notional beyond its cap.
	ErrPerMarketLimitExceeded = errors.New("risk: per-market exposure limit exceeded")

	// ErrTotalLimitExceeded is returned when a reservation would push the
	// run's total committed notional beyond the total cap.
	ErrTotalLimitExceeded = errors.New("risk: total exposure limit exceeded")

	// ErrNonPositiveNotional rejects empty or negative reservations.
	ErrNonPositiveNotional = errors.New("risk: notional must be positive")
)

// Limits are the caps a Ledger enforces, in USD.
type Limits struct {
	PerMarket decimal.Decimal
	Total     decimal.Decimal
}

// Budget is the view the decision engine gets: read remaining, then reserve.
type Budget interface {
	Remaining(marketID string) decimal.Decimal
	Reserve(marketID string, notional decimal.Decimal) bool
}

// Releaser is the view executors get to hand back exposure of failed trades.
type Releaser interface {
	Release(marketID string, notional decimal.Decimal)
}

// Ledger is the run's exposure state. Invariants:
//   - committed[m] <= PerMarket for every m
//   - total == sum(committed) <= Total
type Ledger struct {
	mu        sync.Mutex
	limits    Limits
	committed map[string]decimal.Decimal
	total     decimal.Decimal
}

// NewLedger returns an empty ledger with the given caps.
func NewLedger(limits Limits) *Ledger {
	return &Ledger{
		limits:    limits,
		committed: make(map[string]decimal.Decimal),
	}
}

// Check reports whether reserving notional on marketID would respect both caps.
func (l *Ledger) Check(marketID string, notional decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.check(marketID, notional)
}

func (l *Ledger) check(marketID string, notional decimal.Decimal) error {
	if !notional.IsPositive() {
		return ErrNonPositiveNotional
	}
	if l.committed[marketID].Add(notional).GreaterThan(l.limits.PerMarket) {
		return ErrPerMarketLimitExceeded
	}
	if l.total.Add(notional).GreaterThan(l.limits.Total) {
		return ErrTotalLimitExceeded
	}
	return nil
}

// Reserve commits notional on marketID if both caps allow it.
// On refusal the state is left untouched.
func (l *Ledger) Reserve(marketID string, notional decimal.Decimal) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.check(marketID, notional); err != nil {
		return false
	}
	l.committed[marketID] = l.committed[marketID].Add(notional)
	l.total = l.total.Add(notional)
	return true
}

// Release hands back up to notional from marketID. Over-release clamps to
// zero; releasing from an unknown market is a no-op.
func (l *Ledger) Release(marketID string, notional decimal.Decimal) {
	if !notional.IsPositive() {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	cur, ok := l.committed[marketID]
	if !ok {
		return
	}
	freed := decimal.Min(cur, notional)
	left := cur.Sub(freed)
	if left.IsZero() {
		delete(l.committed, marketID)
	} else {
		l.committed[marketID] = left
	}
	l.total = l.total.Sub(freed)
	if l.total.IsNegative() {
		l.total = decimal.Zero
	}
}

// Remaining is the largest notional Reserve would accept for marketID.
func (l *Ledger) Remaining(marketID string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()

	perMarket := l.limits.PerMarket.Sub(l.committed[marketID])
	total := l.limits.Total.Sub(l.total)
	rem := decimal.Min(perMarket, total)
	if rem.IsNegative() {
		return decimal.Zero
	}
	return rem
}

// Committed returns the notional currently committed on marketID.
func (l *Ledger) Committed(marketID string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.committed[marketID]
}

// Total returns the total committed notional.
func (l *Ledger) Total() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

// Reset clears all exposure. Called at run start.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	clear(l.committed)
	l.total = decimal.Zero
}

// Snapshot exports the exposure state for the run artifacts.
func (l *Ledger) Snapshot() domain.ExposureSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return domain.ExposureSnapshot{
		ByMarket:       maps.Clone(l.committed),
		Total:          l.total,
		PerMarketLimit: l.limits.PerMarket,
		TotalLimit:     l.limits.Total,
	}
}
