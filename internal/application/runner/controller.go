// Package runner drives a run: mode checks, the tick loop, and artifact finalization.
//
//	Initializing → Running → Finalizing → Done
//	      └────────────┴──────────┴──────→ Failed
//
// Each Run builds its own ledger, diagnostics and executor; nothing is shared
// between runs.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lehacf-git/castle-bot/internal/application/decision"
	"github.com/lehacf-git/castle-bot/internal/application/diagnostics"
	"github.com/lehacf-git/castle-bot/internal/application/execution"
	"github.com/lehacf-git/castle-bot/internal/application/risk"
	"github.com/lehacf-git/castle-bot/internal/domain"
	"github.com/lehacf-git/castle-bot/internal/ports"
)

// State is the run lifecycle state.
type State string

const (
	StateIdle         State = "idle"
	StateInitializing State = "initializing"
	StateRunning      State = "running"
	StateFinalizing   State = "finalizing"
	StateDone         State = "done"
	StateFailed       State = "failed"
)

var (
	// ErrConfirmationDeclined is returned when the operator does not approve a trading run.
	ErrConfirmationDeclined = errors.New("runner: operator declined confirmation")
	// ErrMissingDependency is returned when a required collaborator is nil.
	ErrMissingDependency = errors.New("runner: missing dependency")
)

// Config controls cadence, timeouts, risk caps and the decision policy.
type Config struct {
	Interval        time.Duration
	MaxTicks        int // 0 = until the deadline
	Workers         int
	FetchTimeout    time.Duration
	SubmitTimeout   time.Duration
	MaxAuthFailures int
	SampleCap       int

	Bankroll decimal.Decimal
	Limits   risk.Limits
	Decision decision.Config
	Paper    execution.PaperConfig

	// Settings is the redacted configuration written with the artifacts.
	Settings map[string]any
}

// DefaultConfig returns the shipped defaults.
func DefaultConfig() Config {
	return Config{
		Interval:        5 * time.Second,
		Workers:         8,
		FetchTimeout:    4 * time.Second,
		SubmitTimeout:   10 * time.Second,
		MaxAuthFailures: 3,
		SampleCap:       diagnostics.DefaultSampleCap,
		Bankroll:        decimal.NewFromInt(500),
		Limits:          risk.Limits{PerMarket: decimal.NewFromInt(20), Total: decimal.NewFromInt(100)},
		Decision:        decision.DefaultConfig(),
		Paper:           execution.PaperConfig{TakerFeeCents: 2},
	}
}

// Observer receives run events, e.g. for metrics. All methods are called from
// the decision goroutine.
type Observer interface {
	ObserveDecision(d domain.Decision)
	ObserveTrade(t domain.Trade)
	ObserveTick(elapsed time.Duration, markets int)
	ObserveExposure(total decimal.Decimal)
}

// Deps are the run's collaborators.
type Deps struct {
	Markets     ports.MarketProvider
	Books       ports.BookProvider
	Submitter   ports.OrderSubmitter // required for demo/prod execution
	Probability ports.ProbabilitySource
	Sink        ports.ArtifactSink
	Confirmer   ports.Confirmer // required for demo/prod execution
	Observer    Observer
	Now         func() time.Time
}

// RunResult is what a run hands to reporting.
type RunResult struct {
	domain.RunReport
	State     State
	Decisions []domain.Decision
	Trades    []domain.Trade
}

// Controller runs the tick loop. A Controller runs one Run at a time.
type Controller struct {
	cfg  Config
	deps Deps

	mu    sync.Mutex
	state State
}

// New creates a Controller; zero config fields take DefaultConfig values.
func New(cfg Config, deps Deps) *Controller {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = def.FetchTimeout
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = def.SubmitTimeout
	}
	if cfg.MaxAuthFailures <= 0 {
		cfg.MaxAuthFailures = def.MaxAuthFailures
	}
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}
	if deps.Observer == nil {
		deps.Observer = noopObserver{}
	}
	return &Controller{cfg: cfg, deps: deps, state: StateIdle}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()
	slog.Debug("run: state", "from", prev, "to", s)
}

// run is the per-invocation state.
type run struct {
	id          string
	mode        domain.RunMode
	startedAt   time.Time
	ledger      *risk.Ledger
	diag        *diagnostics.Accumulator
	engine      *decision.Engine
	exec        execution.Executor
	folio       *portfolio
	decisions   []domain.Decision
	trades      []domain.Trade
	ticks       int
	interrupted bool
	authFails   int
	begun       bool
}

// Run executes ticks every Interval until duration elapses (duration <= 0 runs
// a single tick), MaxTicks is reached, or ctx is cancelled. Cancellation still
// finalizes the artifacts; only failures discard them.
func (c *Controller) Run(ctx context.Context, mode domain.RunMode, duration time.Duration, selector ports.MarketSelector) (RunResult, error) {
	c.setState(StateInitializing)

	r, err := c.initialize(ctx, mode, selector)
	if err != nil {
		return c.fail(ctx, r, err)
	}

	c.setState(StateRunning)
	slog.Info("run started",
		"run_id", r.id,
		"mode", mode.String(),
		"executor", r.exec.Kind(),
		"duration", duration,
		"interval", c.cfg.Interval,
	)

	deadline := r.startedAt.Add(duration)
loop:
	for {
		if err := c.tick(ctx, r, selector); err != nil {
			return c.fail(ctx, r, err)
		}
		if ctx.Err() != nil {
			r.interrupted = true
			break
		}
		if c.cfg.MaxTicks > 0 && r.ticks >= c.cfg.MaxTicks {
			break
		}
		now := c.deps.Now()
		if duration <= 0 || !now.Before(deadline) {
			break
		}

		timer := time.NewTimer(min(c.cfg.Interval, deadline.Sub(now)))
		select {
		case <-ctx.Done():
			timer.Stop()
			r.interrupted = true
			break loop
		case <-timer.C:
		}
	}

	return c.finalize(ctx, r)
}

func (c *Controller) initialize(ctx context.Context, mode domain.RunMode, selector ports.MarketSelector) (*run, error) {
	if mode.IsZero() {
		return nil, fmt.Errorf("runner.initialize: %w", domain.ErrInvalidRunMode)
	}
	if err := c.checkDeps(mode, selector); err != nil {
		return nil, err
	}

	if mode.RequiresConfirmation() {
		prompt := fmt.Sprintf("Mode %s will submit REAL orders (per-market cap $%s, total cap $%s). Continue?",
			mode, c.cfg.Limits.PerMarket.StringFixed(2), c.cfg.Limits.Total.StringFixed(2))
		if !c.deps.Confirmer.Confirm(prompt) {
			return nil, ErrConfirmationDeclined
		}
	}

	now := c.deps.Now()
	r := &run{
		id:        now.Format("20060102T150405Z") + "-" + uuid.NewString()[:8],
		mode:      mode,
		startedAt: now,
		ledger:    risk.NewLedger(c.cfg.Limits),
		diag:      diagnostics.New(c.cfg.SampleCap),
		folio:     newPortfolio(c.cfg.Bankroll),
	}
	r.engine = decision.New(c.cfg.Decision, c.deps.Probability, r.ledger, r.diag)

	exec, err := execution.ForMode(mode, execution.Deps{
		Submitter:     c.deps.Submitter,
		Releaser:      r.ledger,
		Recorder:      r.diag,
		Paper:         c.cfg.Paper,
		SubmitTimeout: c.cfg.SubmitTimeout,
	})
	if err != nil {
		return r, fmt.Errorf("runner.initialize: %w", err)
	}
	r.exec = exec

	if err := c.deps.Sink.Begin(ctx, domain.RunInfo{
		RunID:     r.id,
		Mode:      mode,
		StartedAt: r.startedAt,
		Settings:  c.cfg.Settings,
	}); err != nil {
		return r, fmt.Errorf("runner.initialize: begin artifacts: %w", err)
	}
	r.begun = true
	return r, nil
}

func (c *Controller) checkDeps(mode domain.RunMode, selector ports.MarketSelector) error {
	missing := func(name string) error {
		return fmt.Errorf("runner.initialize: %w: %s", ErrMissingDependency, name)
	}
	switch {
	case selector == nil:
		return missing("market selector")
	case c.deps.Markets == nil:
		return missing("market provider")
	case c.deps.Books == nil:
		return missing("book provider")
	case c.deps.Probability == nil:
		return missing("probability source")
	case c.deps.Sink == nil:
		return missing("artifact sink")
	}
	if mode.SubmitsOrders() && c.deps.Submitter == nil {
		return missing("order submitter")
	}
	if mode.RequiresConfirmation() && c.deps.Confirmer == nil {
		return missing("confirmer")
	}
	return nil
}

// tick runs one complete pass over the selected markets.
func (c *Controller) tick(ctx context.Context, r *run, selector ports.MarketSelector) error {
	start := time.Now()
	r.ticks++
	at := c.deps.Now()

	markets, err := c.deps.Markets.ListMarkets(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			r.authFails++
			if r.authFails >= c.cfg.MaxAuthFailures {
				return fmt.Errorf("runner.tick: %d consecutive auth failures: %w", r.authFails, err)
			}
		} else {
			r.authFails = 0
		}
		slog.Warn("tick: market listing failed", "tick", r.ticks, "err", err)
		c.deps.Observer.ObserveTick(time.Since(start), 0)
		return nil
	}
	r.authFails = 0

	selected := selector.Select(markets)
	ids := make([]string, len(selected))
	for i, m := range selected {
		ids[i] = m.Ticker
	}
	books := prefetchBooks(ctx, c.deps.Books, ids, c.cfg.Workers, c.cfg.FetchTimeout)

	// In-flight markets finish even if ctx is cancelled meanwhile.
	mctx := context.WithoutCancel(ctx)
	evaluated, accepted := 0, 0
	for _, id := range ids {
		if ctx.Err() != nil {
			r.interrupted = true
			slog.Info("tick: cancelled", "tick", r.ticks, "evaluated", evaluated, "remaining", len(ids)-evaluated)
			break
		}
		d, err := c.evaluate(mctx, r, id, books[id], at)
		if err != nil {
			return err
		}
		evaluated++
		if d.Accepted() {
			accepted++
		}
	}

	pt := r.folio.snapshot(r.ticks, c.deps.Now(), r.ledger.Total())
	c.deps.Observer.ObserveTick(time.Since(start), evaluated)
	c.deps.Observer.ObserveExposure(r.ledger.Total())

	slog.Info("tick complete",
		"tick", r.ticks,
		"listed", len(markets),
		"evaluated", evaluated,
		"accepted", accepted,
		"exposure", r.ledger.Total().StringFixed(2),
		"equity", pt.Equity.StringFixed(2),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return nil
}

// evaluate runs decision → dispatch → artifacts for one market.
func (c *Controller) evaluate(ctx context.Context, r *run, marketID string, fetched fetchResult, at time.Time) (domain.Decision, error) {
	r.diag.MarketSeen(fetched.book != nil)

	d := r.engine.Evaluate(ctx, decision.Candidate{
		MarketID: marketID,
		Book:     fetched.book,
		FetchErr: fetched.err,
		At:       at,
	})
	r.decisions = append(r.decisions, d)
	r.folio.observe(d.Snapshot)
	c.deps.Observer.ObserveDecision(d)

	if err := c.deps.Sink.AppendDecision(ctx, d); err != nil {
		return d, fmt.Errorf("runner.evaluate: append decision %s: %w", marketID, err)
	}
	if !d.Accepted() {
		return d, nil
	}

	t, err := r.exec.Dispatch(ctx, d)
	if err != nil {
		return d, fmt.Errorf("runner.evaluate: dispatch %s: %w", marketID, err)
	}
	r.trades = append(r.trades, t)
	r.folio.apply(t)
	c.deps.Observer.ObserveTrade(t)

	if err := c.deps.Sink.AppendTrade(ctx, t); err != nil {
		return d, fmt.Errorf("runner.evaluate: append trade %s: %w", marketID, err)
	}
	return d, nil
}

func (c *Controller) finalize(ctx context.Context, r *run) (RunResult, error) {
	c.setState(StateFinalizing)

	res := c.result(r, StateDone)
	if err := c.deps.Sink.Finalize(context.WithoutCancel(ctx), res.RunReport); err != nil {
		return c.fail(ctx, r, fmt.Errorf("runner.finalize: %w", err))
	}

	c.setState(StateDone)
	slog.Info("run finished",
		"run_id", r.id,
		"ticks", r.ticks,
		"interrupted", r.interrupted,
		"markets_seen", res.Diagnostics.MarketsSeen,
		"accepted", res.Diagnostics.Accepted,
		"trades", len(res.Trades),
		"exposure", res.Exposure.Total.StringFixed(2),
	)
	return res, nil
}

func (c *Controller) fail(ctx context.Context, r *run, cause error) (RunResult, error) {
	c.setState(StateFailed)

	if r == nil {
		slog.Error("run failed during initialization", "err", cause)
		return RunResult{State: StateFailed}, cause
	}

	res := c.result(r, StateFailed)
	if r.begun {
		if err := c.deps.Sink.Abort(context.WithoutCancel(ctx)); err != nil {
			slog.Warn("run: abort artifacts", "run_id", r.id, "err", err)
		}
	}
	slog.Error("run failed", "run_id", r.id, "ticks", r.ticks, "err", cause)
	return res, cause
}

func (c *Controller) result(r *run, state State) RunResult {
	report := domain.RunReport{
		RunID:       r.id,
		Mode:        r.mode,
		StartedAt:   r.startedAt,
		FinishedAt:  c.deps.Now(),
		Ticks:       r.ticks,
		Interrupted: r.interrupted,
		Diagnostics: r.diag.Finalize(),
		Exposure:    r.ledger.Snapshot(),
		Equity:      r.folio.equity,
		PricesEnd:   r.folio.prices,
		Settings:    c.cfg.Settings,
		Bankroll:    c.cfg.Bankroll,
		MakerOnly:   c.cfg.Decision.MakerOnly,
	}
	if r.mode.ExecutorKind() == domain.ExecutorTraining {
		report.Training = trainingSummary(r.trades)
	}
	return RunResult{
		RunReport: report,
		State:     state,
		Decisions: r.decisions,
		Trades:    r.trades,
	}
}

type noopObserver struct{}

func (noopObserver) ObserveDecision(domain.Decision) {}
func (noopObserver) ObserveTrade(domain.Trade) {}
func (noopObserver) ObserveTick(time.Duration, int) {}
func (noopObserver) ObserveExposure(decimal.Decimal) {}
