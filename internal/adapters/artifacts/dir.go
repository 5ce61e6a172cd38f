// Package artifacts writes the per-run artifact directory.
//
// Files are written under <root>/.<run_id>.partial/ and the directory is renamed
// to <root>/<run_id>/ on Finalize, so a reader never sees a half-written run.
// Abort removes the partial directory, also after Prepare.
package artifacts

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/lehacf-git/castle-bot/internal/domain"
)

const (
	DecisionsFile       = "decisions.csv"
	TradesFile          = "trades.csv"
	EquityFile          = "equity.csv"
	DiagnosticsFile     = "diagnostics.json"
	ExposureFile        = "exposure.json"
	PricesEndFile       = "prices_end.json"
	SummaryFile         = "summary.json"
	SettingsFile        = "settings.json"
	TrainingSummaryFile = "training_summary.json"
	LogsFile            = "logs.txt"
)

var (
	decisionHeader = []string{
		"ts", "market_id", "outcome", "reason", "detail",
		"bid_cents", "ask_cents", "bid_depth", "ask_depth", "spread_cents",
		"side", "fair_p", "edge", "price_cents", "size", "notional", "taker",
	}
	tradeHeader = []string{
		"ts", "id", "market_id", "side", "price_cents", "size", "notional", "fee_cents",
		"edge", "mode", "executor", "external_order_id", "status", "note",
	}
	equityHeader = []string{"tick", "ts", "cash", "mark_value", "equity", "exposure"}
)

// ErrNoActiveRun is returned when writing outside Begin/Finalize.
var ErrNoActiveRun = errors.New("artifacts: no active run")

// Summary is the content of summary.json.
type Summary struct {
	RunID         string                    `json:"run_id"`
	Mode          domain.RunMode            `json:"mode"`
	StartedAt     time.Time                 `json:"started_at"`
	FinishedAt    time.Time                 `json:"finished_at"`
	Ticks         int                       `json:"ticks"`
	Interrupted   bool                      `json:"interrupted"`
	MarketsSeen   int                       `json:"markets_seen"`
	Accepted      int                       `json:"accepted"`
	Skipped       int                       `json:"skipped"`
	Trades        map[domain.FillStatus]int `json:"trades"`
	ExposureTotal string                    `json:"exposure_total"`
	EquityStart   string                    `json:"equity_start"`
	FinalEquity   string                    `json:"final_equity,omitempty"`
	EquityDelta   string                    `json:"equity_delta,omitempty"`
	Notes         []string                  `json:"notes,omitempty"`
}

// DirSink implements ports.ArtifactSink on the local filesystem.
type DirSink struct {
	root string

	mu        sync.Mutex
	runID     string
	partial   string
	files     []*os.File
	decisions *csv.Writer
	trades    *csv.Writer
	prepared  bool
	lastDir   string

	logMu   sync.Mutex // separate from mu: the sink logs while holding mu
	logFile *os.File
}

// NewDirSink writes runs under root. The directory is created on Begin.
func NewDirSink(root string) *DirSink {
	return &DirSink{root: root}
}

// Dir returns the final directory of the last finalized run.
func (s *DirSink) Dir() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastDir
}

// Begin creates the partial directory, the CSV streams, logs.txt and settings.json.
func (s *DirSink) Begin(_ context.Context, info domain.RunInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runID != "" {
		return fmt.Errorf("artifacts.Begin: run %s still active", s.runID)
	}
	if info.RunID == "" {
		return errors.New("artifacts.Begin: empty run id")
	}

	partial := filepath.Join(s.root, "."+info.RunID+".partial")
	if err := os.MkdirAll(partial, 0o755); err != nil {
		return fmt.Errorf("artifacts.Begin: mkdir: %w", err)
	}
	s.runID, s.partial = info.RunID, partial

	logFile, err := os.Create(filepath.Join(partial, LogsFile))
	if err != nil {
		return s.beginFailed(err)
	}
	s.logMu.Lock()
	s.logFile = logFile
	s.logMu.Unlock()

	if s.decisions, err = s.openCSV(DecisionsFile, decisionHeader); err != nil {
		return s.beginFailed(err)
	}
	if s.trades, err = s.openCSV(TradesFile, tradeHeader); err != nil {
		return s.beginFailed(err)
	}
	if err := writeJSON(filepath.Join(partial, SettingsFile), info); err != nil {
		return s.beginFailed(err)
	}

	slog.Debug("artifacts: run started", "dir", partial)
	return nil
}

func (s *DirSink) beginFailed(err error) error {
	s.discard()
	return fmt.Errorf("artifacts.Begin: %w", err)
}

func (s *DirSink) openCSV(name string, header []string) (*csv.Writer, error) {
	f, err := os.Create(filepath.Join(s.partial, name))
	if err != nil {
		return nil, err
	}
	s.files = append(s.files, f)
	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return nil, err
	}
	w.Flush()
	return w, w.Error()
}

// AppendDecision streams one decision row.
func (s *DirSink) AppendDecision(_ context.Context, d domain.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.decisions == nil {
		return fmt.Errorf("artifacts.AppendDecision: %w", ErrNoActiveRun)
	}
	if err := writeRow(s.decisions, decisionRow(d)); err != nil {
		return fmt.Errorf("artifacts.AppendDecision %s: %w", d.MarketID, err)
	}
	return nil
}

// AppendTrade streams one trade row.
func (s *DirSink) AppendTrade(_ context.Context, t domain.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.trades == nil {
		return fmt.Errorf("artifacts.AppendTrade: %w", ErrNoActiveRun)
	}
	if err := writeRow(s.trades, tradeRow(t)); err != nil {
		return fmt.Errorf("artifacts.AppendTrade %s: %w", t.ID, err)
	}
	return nil
}

// Prepare writes the end-of-run files and closes the streams without publishing.
// The run can still be aborted afterwards.
func (s *DirSink) Prepare(_ context.Context, r domain.RunReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runID == "" {
		return fmt.Errorf("artifacts.Prepare: %w", ErrNoActiveRun)
	}
	if err := s.prepare(r); err != nil {
		return fmt.Errorf("artifacts.Prepare: %w", err)
	}
	return nil
}

func (s *DirSink) prepare(r domain.RunReport) error {
	if s.prepared {
		return nil
	}
	if err := s.writeFinal(r); err != nil {
		return err
	}
	if err := s.closeFiles(); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	final := filepath.Join(s.root, s.runID)
	if _, err := os.Stat(final); err == nil {
		return fmt.Errorf("%s already exists", final)
	}
	s.prepared = true
	return nil
}

// Finalize prepares the run if needed and publishes the directory.
func (s *DirSink) Finalize(_ context.Context, r domain.RunReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runID == "" {
		return fmt.Errorf("artifacts.Finalize: %w", ErrNoActiveRun)
	}
	if err := s.prepare(r); err != nil {
		return fmt.Errorf("artifacts.Finalize: %w", err)
	}

	final := filepath.Join(s.root, s.runID)
	if err := os.Rename(s.partial, final); err != nil {
		return fmt.Errorf("artifacts.Finalize: publish: %w", err)
	}

	s.lastDir = final
	s.reset()
	slog.Info("artifacts written", "dir", final)
	return nil
}

func (s *DirSink) writeFinal(r domain.RunReport) error {
	if err := s.writeEquity(r.Equity); err != nil {
		return err
	}

	files := map[string]any{
		DiagnosticsFile: r.Diagnostics,
		ExposureFile:    r.Exposure,
		PricesEndFile:   r.PricesEnd,
		SummaryFile:     summarize(r),
	}
	if r.Training != nil {
		files[TrainingSummaryFile] = r.Training
	}
	for name, v := range files {
		if err := writeJSON(filepath.Join(s.partial, name), v); err != nil {
			return err
		}
	}
	return nil
}

func (s *DirSink) writeEquity(points []domain.EquityPoint) error {
	f, err := os.Create(filepath.Join(s.partial, EquityFile))
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	rows := [][]string{equityHeader}
	for _, p := range points {
		rows = append(rows, []string{
			strconv.Itoa(p.Tick),
			formatTime(p.Timestamp),
			p.Cash.StringFixed(2),
			p.MarkValue.StringFixed(2),
			p.Equity.StringFixed(2),
			p.Exposure.StringFixed(2),
		})
	}
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("write %s: %w", EquityFile, err)
	}
	return f.Close()
}

// Abort removes the partial directory. It is a no-op without an active run.
func (s *DirSink) Abort(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runID == "" {
		return nil
	}
	partial := s.partial
	s.discard()
	slog.Warn("artifacts: run discarded", "dir", partial)
	return nil
}

func (s *DirSink) discard() {
	_ = s.closeFiles()
	if s.partial != "" {
		if err := os.RemoveAll(s.partial); err != nil {
			slog.Warn("artifacts: remove partial dir", "dir", s.partial, "err", err)
		}
	}
	s.reset()
}

func (s *DirSink) closeFiles() error {
	var errs []error
	for _, w := range []*csv.Writer{s.decisions, s.trades} {
		if w != nil {
			w.Flush()
			errs = append(errs, w.Error())
		}
	}
	for _, f := range s.files {
		errs = append(errs, f.Close())
	}
	s.files = nil
	s.decisions, s.trades = nil, nil

	s.logMu.Lock()
	if s.logFile != nil {
		errs = append(errs, s.logFile.Close())
		s.logFile = nil
	}
	s.logMu.Unlock()
	return errors.Join(errs...)
}

func (s *DirSink) reset() {
	s.runID, s.partial = "", ""
	s.prepared = false
	s.files = nil
	s.decisions, s.trades = nil, nil
}

// --- encoding ---

func writeRow(w *csv.Writer, row []string) error {
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

func decisionRow(d domain.Decision) []string {
	snap := d.Snapshot
	spread := ""
	if snap.Valid() {
		spread = strconv.Itoa(snap.SpreadCents())
	}
	row := []string{
		formatTime(d.Timestamp),
		d.MarketID,
		string(d.Outcome()),
		string(d.Reason()),
		"",
		quoteCents(snap.Bid),
		quoteCents(snap.Ask),
		strconv.Itoa(snap.Bid.Depth),
		strconv.Itoa(snap.Ask.Depth),
		spread,
		"", "", "", "", "", "", "",
	}
	if d.Skip != nil {
		row[4] = d.Skip.Detail
	}
	if a := d.Accept; a != nil {
		row[10] = string(a.Edge.Side)
		row[11] = strconv.FormatFloat(a.Edge.FairProbability, 'f', 4, 64)
		row[12] = strconv.FormatFloat(a.Edge.Edge, 'f', 4, 64)
		row[13] = strconv.Itoa(a.PriceCents)
		row[14] = strconv.Itoa(a.Size)
		row[15] = a.Notional.StringFixed(2)
		row[16] = strconv.FormatBool(a.Taker)
	}
	return row
}

func tradeRow(t domain.Trade) []string {
	return []string{
		formatTime(t.Timestamp),
		t.ID,
		t.MarketID,
		string(t.Side),
		strconv.Itoa(t.PriceCents),
		strconv.Itoa(t.Size),
		t.Notional.StringFixed(2),
		strconv.Itoa(t.FeeCents),
		strconv.FormatFloat(t.Edge, 'f', 4, 64),
		t.Mode.String(),
		string(t.Executor),
		t.ExternalOrderID,
		string(t.Status),
		t.Note,
	}
}

func quoteCents(q domain.Quote) string {
	if !q.Present {
		return ""
	}
	return strconv.Itoa(q.PriceCents)
}

func summarize(r domain.RunReport) Summary {
	s := Summary{
		RunID:         r.RunID,
		Mode:          r.Mode,
		StartedAt:     r.StartedAt,
		FinishedAt:    r.FinishedAt,
		Ticks:         r.Ticks,
		Interrupted:   r.Interrupted,
		MarketsSeen:   r.Diagnostics.MarketsSeen,
		Accepted:      r.Diagnostics.Accepted,
		Skipped:       r.Diagnostics.Skipped(),
		Trades:        r.Diagnostics.TradesByStatus,
		ExposureTotal: r.Exposure.Total.StringFixed(2),
		EquityStart:   r.Bankroll.StringFixed(2),
	}
	if n := len(r.Equity); n > 0 {
		final := r.Equity[n-1].Equity
		s.FinalEquity = final.StringFixed(2)
		s.EquityDelta = final.Sub(r.Bankroll).StringFixed(2)
	}

	fills := r.Diagnostics.TradesByStatus[domain.StatusFilled] + r.Diagnostics.TradesByStatus[domain.StatusSimulated]
	if r.Mode.ExecutorKind() == domain.ExecutorPaper && r.MakerOnly && fills == 0 {
		s.Notes = append(s.Notes, "maker-only paper run: resting orders never fill in the same tick, so 0 fills is expected")
	}
	return s
}

func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, append(b, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
