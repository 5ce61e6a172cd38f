package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/lehacf-git/castle-bot/internal/domain"
)

// Config es la configuración completa del bot.
type Config struct {
	Mode      ModeConfig      `yaml:"mode"`
	Kalshi    KalshiConfig    `yaml:"kalshi"`
	Run       RunConfig       `yaml:"run"`
	Strategy  StrategyConfig  `yaml:"strategy"`
	Risk      RiskConfig      `yaml:"risk"`
	Selection SelectionConfig `yaml:"selection"`
	Storage   StorageConfig   `yaml:"storage"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Log       LogConfig       `yaml:"log"`
}

// ModeConfig elige entorno de datos y modo de ejecución.
type ModeConfig struct {
	Data      string `yaml:"data"`      // demo | prod
	Execution string `yaml:"execution"` // test | paper | training | demo | prod
}

// KalshiConfig contiene URLs y credenciales de la API.
type KalshiConfig struct {
	DemoBaseURL    string `yaml:"demo_base_url"`
	ProdBaseURL    string `yaml:"prod_base_url"`
	KeyID          string `yaml:"key_id"`
	PrivateKeyPath string `yaml:"private_key_path"`
}

// RunConfig controla la cadencia y los timeouts de la corrida.
type RunConfig struct {
	IntervalSeconds      int    `yaml:"interval_seconds"`
	Minutes              int    `yaml:"minutes"` // 0 = un solo tick
	Workers              int    `yaml:"workers"`
	FetchTimeoutSeconds  int    `yaml:"fetch_timeout_seconds"`
	SubmitTimeoutSeconds int    `yaml:"submit_timeout_seconds"`
	MaxAuthFailures      int    `yaml:"max_auth_failures"`
	RunsDir              string `yaml:"runs_dir"`
}

// StrategyConfig son los umbrales del motor de decisión.
type StrategyConfig struct {
	MinEdge          float64 `yaml:"min_edge"`
	MaxSpreadCents   int     `yaml:"max_spread_cents"`
	MinDepth         int     `yaml:"min_depth"`
	DepthBandCents   int     `yaml:"depth_band_cents"`
	MakerOnly        *bool   `yaml:"maker_only"` // nil = true
	EstTakerFeeCents int     `yaml:"est_taker_fee_cents"`
	EnableTakerFills bool    `yaml:"enable_taker_fills"` // solo paper
	EdgeScale        float64 `yaml:"edge_scale"`
	PriorsPath       string  `yaml:"priors_path"`
}

// RiskConfig son los topes de exposición en USD.
type RiskConfig struct {
	BankrollUSD         float64 `yaml:"bankroll_usd"`
	MaxRiskPerMarketUSD float64 `yaml:"max_risk_per_market_usd"`
	MaxTotalExposureUSD float64 `yaml:"max_total_exposure_usd"`
}

// SelectionConfig controla qué mercados entran en cada tick.
type SelectionConfig struct {
	LimitMarkets    int      `yaml:"limit_markets"`
	MinVolume24h    int64    `yaml:"min_volume_24h"`
	MinOpenInterest int64    `yaml:"min_open_interest"`
	Tickers         []string `yaml:"tickers"` // si no está vacío, reemplaza el ranking por liquidez
}

// StorageConfig controla dónde se persiste el histórico.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, ":memory:", o "off"
}

// MetricsConfig controla el endpoint de Prometheus.
type MetricsConfig struct {
	Addr string `yaml:"addr"` // vacío = deshabilitado
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Las variables de entorno sobreescriben los valores del YAML.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	return &cfg, nil
}

// Default devuelve la configuración por defecto, con overrides de entorno.
// Se usa cuando no hay archivo de configuración.
func Default() *Config {
	var cfg Config
	applyEnvOverrides(&cfg)
	setDefaults(&cfg)
	return &cfg
}

// RunMode construye el modo validado a partir de la sección mode.
func (c *Config) RunMode() (domain.RunMode, error) {
	m, err := domain.ParseRunMode(c.Mode.Data, c.Mode.Execution)
	if err != nil {
		return domain.RunMode{}, fmt.Errorf("config.RunMode: %w", err)
	}
	return m, nil
}

// Validate revisa coherencia numérica y credenciales para el modo dado.
func (c *Config) Validate(mode domain.RunMode) error {
	var errs []error
	if mode.SubmitsOrders() {
		if c.Kalshi.KeyID == "" {
			errs = append(errs, errors.New("kalshi.key_id is required for demo/prod execution"))
		}
		if c.Kalshi.PrivateKeyPath == "" {
			errs = append(errs, errors.New("kalshi.private_key_path is required for demo/prod execution"))
		}
	}
	if c.Strategy.MinEdge < 0 || c.Strategy.MinEdge >= 1 {
		errs = append(errs, fmt.Errorf("strategy.min_edge %.4f out of [0,1)", c.Strategy.MinEdge))
	}
	if c.Strategy.MaxSpreadCents < 0 || c.Strategy.MaxSpreadCents > domain.MaxPriceCents {
		errs = append(errs, fmt.Errorf("strategy.max_spread_cents %d out of range", c.Strategy.MaxSpreadCents))
	}
	if c.Strategy.MinDepth < 0 {
		errs = append(errs, fmt.Errorf("strategy.min_depth %d is negative", c.Strategy.MinDepth))
	}
	if c.Risk.MaxRiskPerMarketUSD > c.Risk.MaxTotalExposureUSD {
		errs = append(errs, fmt.Errorf("risk.max_risk_per_market_usd %.2f exceeds max_total_exposure_usd %.2f",
			c.Risk.MaxRiskPerMarketUSD, c.Risk.MaxTotalExposureUSD))
	}
	if c.Risk.MaxTotalExposureUSD > c.Risk.BankrollUSD {
		errs = append(errs, fmt.Errorf("risk.max_total_exposure_usd %.2f exceeds bankroll_usd %.2f",
			c.Risk.MaxTotalExposureUSD, c.Risk.BankrollUSD))
	}
	if c.Run.Minutes < 0 {
		errs = append(errs, fmt.Errorf("run.minutes %d is negative", c.Run.Minutes))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config.Validate: %w", errors.Join(errs...))
	}
	return nil
}

// BaseURL devuelve la raíz de la API para el entorno de datos.
func (c *Config) BaseURL(env domain.DataEnvironment) string {
	if env == domain.EnvProd {
		return c.Kalshi.ProdBaseURL
	}
	return c.Kalshi.DemoBaseURL
}

// Interval devuelve el intervalo entre ticks.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.Run.IntervalSeconds) * time.Second
}

// Duration devuelve la duración total de la corrida (0 = un solo tick).
func (c *Config) Duration() time.Duration {
	return time.Duration(c.Run.Minutes) * time.Minute
}

// FetchTimeout devuelve el timeout por orderbook.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.Run.FetchTimeoutSeconds) * time.Second
}

// SubmitTimeout devuelve el timeout por orden.
func (c *Config) SubmitTimeout() time.Duration {
	return time.Duration(c.Run.SubmitTimeoutSeconds) * time.Second
}

// MakerOnly devuelve strategy.maker_only con su default.
func (c *Config) MakerOnly() bool {
	return c.Strategy.MakerOnly == nil || *c.Strategy.MakerOnly
}

// Bankroll, PerMarketLimit y TotalLimit convierten los montos a decimal con centavos.
func (c *Config) Bankroll() decimal.Decimal { return usd(c.Risk.BankrollUSD) }

func (c *Config) PerMarketLimit() decimal.Decimal { return usd(c.Risk.MaxRiskPerMarketUSD) }

func (c *Config) TotalLimit() decimal.Decimal { return usd(c.Risk.MaxTotalExposureUSD) }

func usd(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(2)
}

// StorageEnabled es false cuando storage.dsn es "off".
func (c *Config) StorageEnabled() bool {
	return !strings.EqualFold(c.Storage.DSN, "off")
}

// Redacted devuelve la configuración como mapa con las credenciales enmascaradas,
// para volcarla junto a los artefactos de la corrida.
func (c *Config) Redacted() map[string]any {
	b, err := yaml.Marshal(c)
	if err != nil {
		return map[string]any{"error": err.Error()}
	}
	var out map[string]any
	if err := yaml.Unmarshal(b, &out); err != nil {
		return map[string]any{"error": err.Error()}
	}
	redact(out)
	return out
}

var sensitive = []string{"key", "private", "token", "secret", "password"}

func redact(m map[string]any) {
	for k, v := range m {
		if nested, ok := v.(map[string]any); ok {
			redact(nested)
			continue
		}
		lk := strings.ToLower(k)
		for _, s := range sensitive {
			if strings.Contains(lk, s) {
				if str, ok := v.(string); !ok || str != "" {
					m[k] = "***"
				}
				break
			}
		}
	}
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CASTLE_MODE"); v != "" {
		// acepta "paper" o "prod/paper"
		if data, exec, ok := strings.Cut(v, "/"); ok {
			cfg.Mode.Data, cfg.Mode.Execution = data, exec
		} else {
			cfg.Mode.Execution = v
		}
	}
	if v := os.Getenv("KALSHI_ENV"); v != "" {
		cfg.Mode.Data = v
	}
	if v := os.Getenv("KALSHI_API_KEY_ID"); v != "" {
		cfg.Kalshi.KeyID = v
	}
	if v := os.Getenv("KALSHI_PRIVATE_KEY_PATH"); v != "" {
		cfg.Kalshi.PrivateKeyPath = v
	}
	if v := os.Getenv("CASTLE_RUNS_DIR"); v != "" {
		cfg.Run.RunsDir = v
	}
	if v := os.Getenv("CASTLE_DB"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	if cfg.Mode.Data == "" {
		cfg.Mode.Data = string(domain.EnvDemo)
	}
	if cfg.Mode.Execution == "" {
		cfg.Mode.Execution = string(domain.ExecPaper)
	}
	if cfg.Kalshi.DemoBaseURL == "" {
		cfg.Kalshi.DemoBaseURL = "https://demo-api.kalshi.co/trade-api/v2"
	}
	if cfg.Kalshi.ProdBaseURL == "" {
		cfg.Kalshi.ProdBaseURL = "https://api.elections.kalshi.com/trade-api/v2"
	}
	if cfg.Run.IntervalSeconds <= 0 {
		cfg.Run.IntervalSeconds = 5
	}
	if cfg.Run.FetchTimeoutSeconds <= 0 {
		cfg.Run.FetchTimeoutSeconds = 4
	}
	if cfg.Run.SubmitTimeoutSeconds <= 0 {
		cfg.Run.SubmitTimeoutSeconds = 10
	}
	if cfg.Run.MaxAuthFailures <= 0 {
		cfg.Run.MaxAuthFailures = 3
	}
	if cfg.Run.RunsDir == "" {
		cfg.Run.RunsDir = "runs"
	}
	if cfg.Strategy.MinEdge <= 0 {
		cfg.Strategy.MinEdge = 0.03
	}
	if cfg.Strategy.MaxSpreadCents <= 0 {
		cfg.Strategy.MaxSpreadCents = 10
	}
	if cfg.Strategy.MinDepth <= 0 {
		cfg.Strategy.MinDepth = 50
	}
	if cfg.Strategy.DepthBandCents <= 0 {
		cfg.Strategy.DepthBandCents = domain.DefaultDepthBandCents
	}
	if cfg.Strategy.EstTakerFeeCents <= 0 {
		cfg.Strategy.EstTakerFeeCents = 2
	}
	if cfg.Strategy.EdgeScale <= 0 {
		cfg.Strategy.EdgeScale = 0.10
	}
	if cfg.Risk.BankrollUSD <= 0 {
		cfg.Risk.BankrollUSD = 500
	}
	if cfg.Risk.MaxRiskPerMarketUSD <= 0 {
		cfg.Risk.MaxRiskPerMarketUSD = 20
	}
	if cfg.Risk.MaxTotalExposureUSD <= 0 {
		cfg.Risk.MaxTotalExposureUSD = 100
	}
	if cfg.Selection.LimitMarkets <= 0 {
		cfg.Selection.LimitMarkets = 40
	}
	if cfg.Selection.MinVolume24h <= 0 {
		cfg.Selection.MinVolume24h = 100
	}
	if cfg.Selection.MinOpenInterest <= 0 {
		cfg.Selection.MinOpenInterest = 50
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "castle.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
