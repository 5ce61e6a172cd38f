package artifacts_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lehacf-git/castle-bot/internal/adapters/artifacts"
	"github.com/lehacf-git/castle-bot/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var at = time.Date(2026, 2, 10, 15, 0, 0, 0, time.UTC)

func trainingMode(t *testing.T) domain.RunMode {
	t.Helper()
	m, err := domain.ParseRunMode("prod", "training")
	require.NoError(t, err)
	return m
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func acceptDecision() domain.Decision {
	snap := domain.MarketSnapshot{
		MarketID: "KX-A",
		Bid:      domain.Quote{PriceCents: 48, Depth: 60, Present: true},
		Ask:      domain.Quote{PriceCents: 53, Depth: 70, Present: true},
	}
	return domain.AcceptDecision("KX-A", at, snap, domain.Accept{
		Edge:       domain.EdgeEstimate{MarketID: "KX-A", FairProbability: 0.58, Edge: 0.05, Side: domain.SideYes, PriceCents: 53},
		Size:       20,
		PriceCents: 48,
		Notional:   decimal.RequireFromString("9.60"),
	})
}

func runOnce(t *testing.T, sink *artifacts.DirSink, runID string) domain.RunReport {
	t.Helper()
	ctx := context.Background()
	mode := trainingMode(t)

	require.NoError(t, sink.Begin(ctx, domain.RunInfo{RunID: runID, Mode: mode, StartedAt: at, Settings: map[string]any{"min_edge": 0.03}}))
	require.NoError(t, sink.AppendDecision(ctx, acceptDecision()))
	require.NoError(t, sink.AppendDecision(ctx, domain.SkipDecision("KX-B", at, domain.MarketSnapshot{MarketID: "KX-B"}, domain.SkipNoPrices, "empty orderbook")))
	require.NoError(t, sink.AppendTrade(ctx, domain.Trade{
		ID: "t1", MarketID: "KX-A", Side: domain.SideYes, PriceCents: 48, Size: 20,
		Notional: decimal.RequireFromString("9.60"), Edge: 0.05, Mode: mode,
		Executor: domain.ExecutorTraining, ExternalOrderID: domain.WouldPlaceOrderID,
		Timestamp: at, Status: domain.StatusLoggedOnly, Note: string(domain.SkipModeDisallowsTrade),
	}))

	return domain.RunReport{
		RunID: runID, Mode: mode, StartedAt: at, FinishedAt: at.Add(time.Minute), Ticks: 1,
		Diagnostics: domain.DiagnosticsSnapshot{
			MarketsSeen: 2, MarketsWithOrderbook: 1, DecisionsGenerated: 2, Accepted: 1,
			SkipReasons:    map[domain.SkipReason]int{domain.SkipNoPrices: 1},
			TradesByStatus: map[domain.FillStatus]int{domain.StatusLoggedOnly: 1},
		},
		Exposure: domain.ExposureSnapshot{Total: decimal.RequireFromString("9.60")},
		Equity: []domain.EquityPoint{{
			Tick: 1, Timestamp: at, Cash: decimal.NewFromInt(500), MarkValue: decimal.Zero,
			Equity: decimal.NewFromInt(500), Exposure: decimal.RequireFromString("9.60"),
		}},
		PricesEnd: map[string]domain.PriceMark{"KX-A": {Mid: 0.505, Timestamp: at}},
		Training:  &domain.TrainingSummary{TotalWouldTrades: 1, HypotheticalCost: decimal.RequireFromString("9.60"), UniqueTickers: 1, AvgEdge: 0.05, BySide: map[domain.Side]int{domain.SideYes: 1}},
	}
}

func TestDirSink_PartialUntilFinalize(t *testing.T) {
	root := t.TempDir()
	sink := artifacts.NewDirSink(root)
	report := runOnce(t, sink, "run-1")

	_, err := os.Stat(filepath.Join(root, "run-1"))
	assert.True(t, os.IsNotExist(err), "final dir must not exist before finalize")
	_, err = os.Stat(filepath.Join(root, ".run-1.partial", artifacts.DecisionsFile))
	require.NoError(t, err)

	require.NoError(t, sink.Finalize(context.Background(), report))

	dir := filepath.Join(root, "run-1")
	assert.Equal(t, dir, sink.Dir())
	_, err = os.Stat(filepath.Join(root, ".run-1.partial"))
	assert.True(t, os.IsNotExist(err))

	for _, name := range []string{
		artifacts.DecisionsFile, artifacts.TradesFile, artifacts.EquityFile,
		artifacts.DiagnosticsFile, artifacts.ExposureFile, artifacts.PricesEndFile,
		artifacts.SummaryFile, artifacts.SettingsFile, artifacts.TrainingSummaryFile,
		artifacts.LogsFile,
	} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}
}

func TestDirSink_Contents(t *testing.T) {
	root := t.TempDir()
	sink := artifacts.NewDirSink(root)
	require.NoError(t, sink.Finalize(context.Background(), runOnce(t, sink, "run-1")))
	dir := filepath.Join(root, "run-1")

	decisions := readCSV(t, filepath.Join(dir, artifacts.DecisionsFile))
	require.Len(t, decisions, 3)
	assert.Equal(t, "market_id", decisions[0][1])
	assert.Equal(t, []string{"KX-A", "accept", ""}, decisions[1][1:4])
	assert.Equal(t, "5", decisions[1][9])
	assert.Equal(t, "9.60", decisions[1][15])
	assert.Equal(t, []string{"KX-B", "skip", "no_prices", "empty orderbook"}, decisions[2][1:5])
	assert.Equal(t, "", decisions[2][5], "missing quote is blank, not zero")

	trades := readCSV(t, filepath.Join(dir, artifacts.TradesFile))
	require.Len(t, trades, 2)
	assert.Equal(t, "WOULD_PLACE", trades[1][11])
	assert.Equal(t, "logged_only", trades[1][12])
	assert.Equal(t, "prod/training", trades[1][9])

	equity := readCSV(t, filepath.Join(dir, artifacts.EquityFile))
	require.Len(t, equity, 2)
	assert.Equal(t, "500.00", equity[1][4])

	var diag domain.DiagnosticsSnapshot
	b, err := os.ReadFile(filepath.Join(dir, artifacts.DiagnosticsFile))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, &diag))
	assert.Equal(t, 1, diag.SkipReasons[domain.SkipNoPrices])
	assert.Equal(t, diag.MarketsSeen, diag.Accepted+diag.Skipped())

	var summary map[string]any
	b, err = os.ReadFile(filepath.Join(dir, artifacts.SummaryFile))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, &summary))
	assert.Equal(t, "prod/training", summary["mode"])
	assert.Equal(t, "9.60", summary["exposure_total"])
	assert.Equal(t, "500.00", summary["final_equity"])
}

func TestDirSink_NoTrainingSummaryForPaper(t *testing.T) {
	root := t.TempDir()
	sink := artifacts.NewDirSink(root)
	report := runOnce(t, sink, "run-1")
	report.Training = nil
	require.NoError(t, sink.Finalize(context.Background(), report))

	_, err := os.Stat(filepath.Join(root, "run-1", artifacts.TrainingSummaryFile))
	assert.True(t, os.IsNotExist(err))
}

func TestDirSink_AbortRemovesPartial(t *testing.T) {
	root := t.TempDir()
	sink := artifacts.NewDirSink(root)
	runOnce(t, sink, "run-1")

	require.NoError(t, sink.Abort(context.Background()))

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.ErrorIs(t, sink.AppendTrade(context.Background(), domain.Trade{}), artifacts.ErrNoActiveRun)
	assert.NoError(t, sink.Abort(context.Background()), "abort without a run is a no-op")
}

func TestDirSink_SinkIsReusable(t *testing.T) {
	root := t.TempDir()
	sink := artifacts.NewDirSink(root)
	require.NoError(t, sink.Finalize(context.Background(), runOnce(t, sink, "run-1")))
	require.NoError(t, sink.Finalize(context.Background(), runOnce(t, sink, "run-2")))

	for _, id := range []string{"run-1", "run-2"} {
		_, err := os.Stat(filepath.Join(root, id))
		assert.NoError(t, err)
	}
}

type failingSink struct {
	beginErr   error
	finalErr   error
	onFinalize func()
	aborted    bool
	finalized  bool
	appended   int
}

func (f *failingSink) Begin(context.Context, domain.RunInfo) error { return f.beginErr }
func (f *failingSink) AppendDecision(context.Context, domain.Decision) error { f.appended++; return nil }
func (f *failingSink) AppendTrade(context.Context, domain.Trade) error { return errors.New("trade write failed") }
func (f *failingSink) Abort(context.Context) error { f.aborted = true; return nil }

func (f *failingSink) Finalize(context.Context, domain.RunReport) error {
	if f.onFinalize != nil {
		f.onFinalize()
	}
	if f.finalErr != nil {
		return f.finalErr
	}
	f.finalized = true
	return nil
}

func TestTee_FansOutAndJoinsErrors(t *testing.T) {
	root := t.TempDir()
	dir := artifacts.NewDirSink(root)
	other := &failingSink{}
	tee := artifacts.NewTee(dir, nil, other)
	ctx := context.Background()

	require.NoError(t, tee.Begin(ctx, domain.RunInfo{RunID: "run-1", Mode: trainingMode(t), StartedAt: at}))
	require.NoError(t, tee.AppendDecision(ctx, acceptDecision()))
	assert.Equal(t, 1, other.appended)

	err := tee.AppendTrade(ctx, domain.Trade{ID: "t1", Mode: trainingMode(t)})
	assert.ErrorContains(t, err, "trade write failed")

	require.NoError(t, tee.Abort(ctx))
	assert.True(t, other.aborted)
	entries, _ := os.ReadDir(root)
	assert.Empty(t, entries)
}

func TestTee_BeginFailureAbortsStarted(t *testing.T) {
	root := t.TempDir()
	dir := artifacts.NewDirSink(root)
	tee := artifacts.NewTee(dir, &failingSink{beginErr: errors.New("db locked")})

	err := tee.Begin(context.Background(), domain.RunInfo{RunID: "run-1", Mode: trainingMode(t), StartedAt: at})
	require.ErrorContains(t, err, "db locked")

	entries, _ := os.ReadDir(root)
	assert.Empty(t, entries, "started sinks are rolled back")
}

func TestTee_FinalizeFailureNeverPublishes(t *testing.T) {
	root := t.TempDir()
	dir := artifacts.NewDirSink(root)
	other := &failingSink{finalErr: errors.New("commit failed")}
	tee := artifacts.NewTee(dir, other)
	ctx := context.Background()

	require.NoError(t, tee.Begin(ctx, domain.RunInfo{RunID: "run-1", Mode: trainingMode(t), StartedAt: at}))
	require.NoError(t, tee.AppendDecision(ctx, acceptDecision()))

	err := tee.Finalize(ctx, domain.RunReport{RunID: "run-1", Mode: trainingMode(t), StartedAt: at})
	require.ErrorContains(t, err, "commit failed")
	require.NoError(t, tee.Abort(ctx))

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries, "neither the run dir nor the partial dir survives")
	assert.True(t, other.aborted)
	assert.Empty(t, dir.Dir())
}

func TestTee_CommitsBeforePublishing(t *testing.T) {
	root := t.TempDir()
	dir := artifacts.NewDirSink(root)
	var publishedAtCommit, preparedAtCommit bool
	other := &failingSink{onFinalize: func() {
		_, err := os.Stat(filepath.Join(root, "run-1"))
		publishedAtCommit = err == nil
		_, err = os.Stat(filepath.Join(root, ".run-1.partial", artifacts.SummaryFile))
		preparedAtCommit = err == nil
	}}
	tee := artifacts.NewTee(dir, other)
	ctx := context.Background()

	require.NoError(t, tee.Begin(ctx, domain.RunInfo{RunID: "run-1", Mode: trainingMode(t), StartedAt: at}))
	require.NoError(t, tee.Finalize(ctx, domain.RunReport{RunID: "run-1", Mode: trainingMode(t), StartedAt: at}))

	assert.False(t, publishedAtCommit, "directory is renamed after the other sinks commit")
	assert.True(t, preparedAtCommit, "end-of-run files are written before the other sinks commit")
	assert.True(t, other.finalized)
	assert.False(t, other.aborted)
	assert.Equal(t, filepath.Join(root, "run-1"), dir.Dir())

	require.NoError(t, tee.Abort(ctx), "abort after a successful finalize touches nothing")
	assert.False(t, other.aborted)
	_, err := os.Stat(filepath.Join(root, "run-1"))
	assert.NoError(t, err)
}

func TestDirSink_AbortAfterPrepare(t *testing.T) {
	root := t.TempDir()
	sink := artifacts.NewDirSink(root)
	report := runOnce(t, sink, "run-1")

	require.NoError(t, sink.Prepare(context.Background(), report))
	_, err := os.Stat(filepath.Join(root, ".run-1.partial", artifacts.SummaryFile))
	require.NoError(t, err)

	require.NoError(t, sink.Abort(context.Background()))
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDirSink_LogHandlerWritesRunLog(t *testing.T) {
	root := t.TempDir()
	sink := artifacts.NewDirSink(root)
	var console bytes.Buffer
	logger := slog.New(sink.LogHandler(slog.NewTextHandler(&console, &slog.HandlerOptions{Level: slog.LevelInfo})))

	logger.Info("before run")
	report := runOnce(t, sink, "run-1")
	logger.With("tick", 1).Info("tick complete", "accepted", 1)
	logger.Debug("debug detail")
	require.NoError(t, sink.Finalize(context.Background(), report))
	logger.Info("after run")

	b, err := os.ReadFile(filepath.Join(root, "run-1", artifacts.LogsFile))
	require.NoError(t, err)
	runLog := string(b)
	assert.Contains(t, runLog, "tick complete")
	assert.Contains(t, runLog, "tick=1")
	assert.Contains(t, runLog, "accepted=1")
	assert.NotContains(t, runLog, "before run")
	assert.NotContains(t, runLog, "after run")
	assert.NotContains(t, runLog, "debug detail", "the run log follows the console level")

	for _, msg := range []string{"before run", "tick complete", "after run"} {
		assert.Contains(t, console.String(), msg)
	}
}

func TestDirSink_SummaryEquityAndMakerNote(t *testing.T) {
	root := t.TempDir()
	sink := artifacts.NewDirSink(root)
	report := runOnce(t, sink, "run-1")
	paper, err := domain.ParseRunMode("prod", "paper")
	require.NoError(t, err)
	report.Mode = paper
	report.Training = nil
	report.MakerOnly = true
	report.Bankroll = decimal.NewFromInt(500)
	report.Diagnostics.TradesByStatus = map[domain.FillStatus]int{domain.StatusUnfilled: 1}
	report.Equity[0].Equity = decimal.RequireFromString("498.40")
	require.NoError(t, sink.Finalize(context.Background(), report))

	var summary artifacts.Summary
	b, err := os.ReadFile(filepath.Join(root, "run-1", artifacts.SummaryFile))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, &summary))

	assert.Equal(t, "500.00", summary.EquityStart)
	assert.Equal(t, "498.40", summary.FinalEquity)
	assert.Equal(t, "-1.60", summary.EquityDelta)
	require.Len(t, summary.Notes, 1)
	assert.Contains(t, summary.Notes[0], "maker-only")
}

func TestDirSink_SummaryNoNoteWithFills(t *testing.T) {
	root := t.TempDir()
	sink := artifacts.NewDirSink(root)
	report := runOnce(t, sink, "run-1")
	paper, err := domain.ParseRunMode("prod", "paper")
	require.NoError(t, err)
	report.Mode = paper
	report.MakerOnly = true
	report.Diagnostics.TradesByStatus = map[domain.FillStatus]int{domain.StatusSimulated: 1}
	require.NoError(t, sink.Finalize(context.Background(), report))

	var summary artifacts.Summary
	b, err := os.ReadFile(filepath.Join(root, "run-1", artifacts.SummaryFile))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, &summary))
	assert.Empty(t, summary.Notes)
}
