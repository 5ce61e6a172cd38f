package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/lehacf-git/castle-bot/config"
	"github.com/lehacf-git/castle-bot/internal/adapters/artifacts"
	"github.com/lehacf-git/castle-bot/internal/adapters/kalshi"
	"github.com/lehacf-git/castle-bot/internal/adapters/notify"
	"github.com/lehacf-git/castle-bot/internal/adapters/storage"
	"github.com/lehacf-git/castle-bot/internal/application/decision"
	"github.com/lehacf-git/castle-bot/internal/application/execution"
	"github.com/lehacf-git/castle-bot/internal/application/risk"
	"github.com/lehacf-git/castle-bot/internal/application/runner"
	"github.com/lehacf-git/castle-bot/internal/application/selection"
	"github.com/lehacf-git/castle-bot/internal/application/strategy"
	"github.com/lehacf-git/castle-bot/internal/domain"
	"github.com/lehacf-git/castle-bot/internal/metrics"
	"github.com/lehacf-git/castle-bot/internal/ports"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	execMode := flag.String("mode", "", "execution mode: test|paper|training|demo|prod (overrides config)")
	dataEnv := flag.String("env", "", "data environment: demo|prod (overrides config)")
	minutes := flag.Int("minutes", -1, "run duration in minutes, 0 = single tick (overrides config)")
	limit := flag.Int("limit", 0, "max markets evaluated per tick (overrides config)")
	tickers := flag.String("tickers", "", "comma-separated tickers to evaluate instead of the liquidity ranking")
	priorsPath := flag.String("priors", "", "YAML file with per-ticker probabilities (overrides config)")
	once := flag.Bool("once", false, "run a single tick and exit")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	metricsAddr := flag.String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9100")
	table := flag.Bool("table", true, "print the full run summary (false: compact 1-line)")
	history := flag.Int("history", 0, "print the last N recorded runs and exit")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		return 1
	}

	if *execMode != "" {
		cfg.Mode.Execution = *execMode
	}
	if *dataEnv != "" {
		cfg.Mode.Data = *dataEnv
	}
	if *minutes >= 0 {
		cfg.Run.Minutes = *minutes
	}
	if *limit > 0 {
		cfg.Selection.LimitMarkets = *limit
	}
	if *tickers != "" {
		cfg.Selection.Tickers = splitList(*tickers)
	}
	if *priorsPath != "" {
		cfg.Strategy.PriorsPath = *priorsPath
	}
	if *metricsAddr != "" {
		cfg.Metrics.Addr = *metricsAddr
	}
	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	if *history > 0 {
		return printHistory(cfg, *history)
	}

	mode, err := cfg.RunMode()
	if err != nil {
		slog.Error("invalid run mode", "err", err)
		return 1
	}
	if err := cfg.Validate(mode); err != nil {
		slog.Error("invalid config", "err", err)
		return 1
	}

	slog.Info("castle starting",
		"config", *configPath,
		"mode", mode.String(),
		"minutes", cfg.Run.Minutes,
		"interval", cfg.Interval(),
		"once", *once,
	)

	client, err := newKalshiClient(cfg, mode)
	if err != nil {
		slog.Error("failed to build kalshi client", "err", err)
		return 1
	}

	probs, err := newProbabilitySource(cfg)
	if err != nil {
		slog.Error("failed to load priors", "err", err, "path", cfg.Strategy.PriorsPath)
		return 1
	}

	runDir := artifacts.NewDirSink(cfg.Run.RunsDir)
	slog.SetDefault(slog.New(runDir.LogHandler(slog.Default().Handler())))

	// SQLite commits before the run directory is published; see artifacts.Tee.
	sinks := []ports.ArtifactSink{runDir}
	if cfg.StorageEnabled() {
		store, err := storage.NewSQLiteStorage(cfg.Storage.DSN)
		if err != nil {
			slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
			return 1
		}
		defer store.Close()
		sinks = append(sinks, store)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	deps := runner.Deps{
		Markets:     client,
		Books:       client,
		Probability: probs,
		Sink:        artifacts.NewTee(sinks...),
		Confirmer:   newStdinConfirmer(),
	}
	if client.Authenticated() {
		deps.Submitter = client
	}
	if cfg.Metrics.Addr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		deps.Observer = metrics.New(reg)
		stop := serveMetrics(cfg.Metrics.Addr, reg)
		defer stop()
	}

	runCfg := runnerConfig(cfg)
	duration := cfg.Duration()
	if *once {
		runCfg.MaxTicks = 1
		duration = 0
	}

	res, err := runner.New(runCfg, deps).Run(ctx, mode, duration, newSelector(cfg))
	if err != nil {
		if errors.Is(err, runner.ErrConfirmationDeclined) {
			slog.Warn("run not confirmed, nothing was sent", "mode", mode.String())
		} else {
			slog.Error("run failed", "err", err, "state", res.State)
		}
		return 1
	}

	notifier := notify.NewConsole(*table)
	if err := notifier.NotifyRun(context.Background(), res.RunReport); err != nil {
		slog.Warn("notifier error", "err", err)
	}

	slog.Info("castle stopped cleanly", "run_id", res.RunID, "interrupted", res.Interrupted)
	return 0
}

func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && path == "config/config.yaml" {
		slog.Warn("config file not found, using defaults", "path", path)
		return config.Default(), nil
	}
	return config.Load(path)
}

func newKalshiClient(cfg *config.Config, mode domain.RunMode) (*kalshi.Client, error) {
	var signer *kalshi.Signer
	if cfg.Kalshi.KeyID != "" && cfg.Kalshi.PrivateKeyPath != "" {
		s, err := kalshi.LoadSigner(cfg.Kalshi.KeyID, cfg.Kalshi.PrivateKeyPath)
		if err != nil {
			return nil, err
		}
		signer = s
	}
	return kalshi.NewClient(cfg.BaseURL(mode.Data()), signer), nil
}

func newProbabilitySource(cfg *config.Config) (ports.ProbabilitySource, error) {
	if cfg.Strategy.PriorsPath == "" {
		slog.Info("no priors file, using market midpoint (no edge expected)")
		return strategy.Midpoint{}, nil
	}
	p, err := strategy.LoadPriors(cfg.Strategy.PriorsPath, strategy.Midpoint{})
	if err != nil {
		return nil, err
	}
	slog.Info("priors loaded", "path", cfg.Strategy.PriorsPath, "tickers", p.Len())
	return p, nil
}

func newSelector(cfg *config.Config) ports.MarketSelector {
	if len(cfg.Selection.Tickers) > 0 {
		return selection.Tickers(cfg.Selection.Tickers)
	}
	return selection.Liquidity{
		Limit:           cfg.Selection.LimitMarkets,
		MinVolume24h:    cfg.Selection.MinVolume24h,
		MinOpenInterest: cfg.Selection.MinOpenInterest,
	}
}

func runnerConfig(cfg *config.Config) runner.Config {
	rc := runner.DefaultConfig()
	rc.Interval = cfg.Interval()
	rc.Workers = cfg.Run.Workers
	rc.FetchTimeout = cfg.FetchTimeout()
	rc.SubmitTimeout = cfg.SubmitTimeout()
	rc.MaxAuthFailures = cfg.Run.MaxAuthFailures
	rc.Bankroll = cfg.Bankroll()
	rc.Limits = risk.Limits{PerMarket: cfg.PerMarketLimit(), Total: cfg.TotalLimit()}
	rc.Decision = decision.Config{
		MaxSpreadCents: cfg.Strategy.MaxSpreadCents,
		MinDepth:       cfg.Strategy.MinDepth,
		MinEdge:        cfg.Strategy.MinEdge,
		DepthBandCents: cfg.Strategy.DepthBandCents,
		MakerOnly:      cfg.MakerOnly(),
		TakerFeeCents:  cfg.Strategy.EstTakerFeeCents,
		EdgeScale:      cfg.Strategy.EdgeScale,
	}
	rc.Paper = execution.PaperConfig{
		EnableTakerFills: cfg.Strategy.EnableTakerFills,
		TakerFeeCents:    cfg.Strategy.EstTakerFeeCents,
	}
	rc.Settings = cfg.Redacted()
	return rc
}

func printHistory(cfg *config.Config, n int) int {
	if !cfg.StorageEnabled() {
		slog.Error("run history needs storage.dsn")
		return 1
	}
	store, err := storage.NewSQLiteStorage(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
		return 1
	}
	defer store.Close()

	runs, err := store.ListRuns(context.Background(), n)
	if err != nil {
		slog.Error("failed to list runs", "err", err)
		return 1
	}
	notify.NewConsole(true).PrintHistory(runs)
	return 0
}

// serveMetrics starts the /metrics endpoint and returns its shutdown func.
func serveMetrics(addr string, reg *prometheus.Registry) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "err", err, "addr", addr)
		}
	}()
	slog.Info("metrics endpoint listening", "addr", addr)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
