package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/ufoagent/market"
	"github.com/rustyeddy/ufoagent/ufo"
)

// Documented defaults, applied when an option is missing or unparseable.
const (
	DefaultCyclePeriodMinutes     = 40
	DefaultMaxConcurrentPositions = 11
	DefaultTargetPositions        = 6
	DefaultMinPositions           = 5
	DefaultEquityStop             = -0.05
	DefaultLotSize                = 0.1
	DefaultStopPips               = 30
	DefaultTargetPips             = 60
	DefaultMinStrengthSpread      = 0.05
	DefaultFetchTimeoutSeconds    = 20
	DefaultDecisionTimeoutSeconds = 60
	DefaultOrderTimeoutSeconds    = 15
	DefaultConcurrency            = 8
	DefaultStartingBalance        = 10000
	DefaultSeed                   = 42
)

var DefaultCurrencies = []string{"EUR", "GBP", "AUD", "NZD", "USD", "CAD", "CHF", "JPY"}

// DefaultTimeframes holds the bar count fetched per timeframe.
var DefaultTimeframes = map[string]int{"M5": 240, "M15": 80, "H1": 20, "H4": 120, "D1": 100}

// Config is the complete agent configuration.
type Config struct {
	App     AppConfig     `json:"app" yaml:"app" toml:"app"`
	Trading TradingConfig `json:"trading" yaml:"trading" toml:"trading"`
	Data    DataConfig    `json:"data" yaml:"data" toml:"data"`
	Broker  BrokerConfig  `json:"broker" yaml:"broker" toml:"broker"`
	Roles   RolesConfig   `json:"roles" yaml:"roles" toml:"roles"`
	Journal JournalConfig `json:"journal" yaml:"journal" toml:"journal"`
	Cache   CacheConfig   `json:"cache" yaml:"cache" toml:"cache"`
}

// AppConfig contains process level settings.
type AppConfig struct {
	LogLevel    string `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat   string `json:"log_format" yaml:"log_format" toml:"log_format"` // "console" or "json"
	MetricsAddr string `json:"metrics_addr,omitempty" yaml:"metrics_addr,omitempty" toml:"metrics_addr"`
}

// TradingConfig contains cadence and portfolio limits.
type TradingConfig struct {
	CyclePeriodMinutes           Int    `json:"cycle_period_minutes" yaml:"cycle_period_minutes" toml:"cycle_period_minutes"`
	MaxConcurrentPositions       Int    `json:"max_concurrent_positions" yaml:"max_concurrent_positions" toml:"max_concurrent_positions"`
	TargetPositionsWhenAvailable Int    `json:"target_positions_when_available" yaml:"target_positions_when_available" toml:"target_positions_when_available"`
	MinPositionsForSession       Int    `json:"min_positions_for_session" yaml:"min_positions_for_session" toml:"min_positions_for_session"`
	PortfolioEquityStop          Float  `json:"portfolio_equity_stop" yaml:"portfolio_equity_stop" toml:"portfolio_equity_stop"`
	PortfolioEquityStopUnit      string `json:"portfolio_equity_stop_unit,omitempty" yaml:"portfolio_equity_stop_unit,omitempty" toml:"portfolio_equity_stop_unit"` // "", "fraction" or "percent"
	Currencies                   List   `json:"currencies" yaml:"currencies" toml:"currencies"`
	Symbols                      List   `json:"symbols,omitempty" yaml:"symbols,omitempty" toml:"symbols"`
	SymbolSuffix                 string `json:"symbol_suffix" yaml:"symbol_suffix" toml:"symbol_suffix"`
	LotSize                      Float  `json:"lot_size" yaml:"lot_size" toml:"lot_size"`
	StopPips                     Float  `json:"stop_pips" yaml:"stop_pips" toml:"stop_pips"`
	TargetPips                   Float  `json:"target_pips" yaml:"target_pips" toml:"target_pips"`
	MinStrengthSpread            Float  `json:"min_strength_spread" yaml:"min_strength_spread" toml:"min_strength_spread"`
	Normalization                string `json:"normalization" yaml:"normalization" toml:"normalization"`
}

// DataConfig selects the market data source.
type DataConfig struct {
	Source              string         `json:"source" yaml:"source" toml:"source"` // oanda, synthetic, csv, dukascopy
	Timeframes          map[string]Int `json:"timeframes" yaml:"timeframes" toml:"timeframes"`
	CSVDir              string         `json:"csv_dir,omitempty" yaml:"csv_dir,omitempty" toml:"csv_dir"`
	DukascopyCache      string         `json:"dukascopy_cache,omitempty" yaml:"dukascopy_cache,omitempty" toml:"dukascopy_cache"`
	DukascopyURL        string         `json:"dukascopy_url,omitempty" yaml:"dukascopy_url,omitempty" toml:"dukascopy_url"`
	Seed                Int            `json:"seed" yaml:"seed" toml:"seed"`
	FetchTimeoutSeconds Int            `json:"fetch_timeout_seconds" yaml:"fetch_timeout_seconds" toml:"fetch_timeout_seconds"`
	Concurrency         Int            `json:"concurrency" yaml:"concurrency" toml:"concurrency"`
}

// BrokerConfig selects where orders go.
type BrokerConfig struct {
	Type                string `json:"type" yaml:"type" toml:"type"` // paper, oanda
	Practice            bool   `json:"practice" yaml:"practice" toml:"practice"`
	AccountID           string `json:"account_id,omitempty" yaml:"account_id,omitempty" toml:"account_id"`
	Token               string `json:"-" yaml:"-" toml:"-"`
	BaseURL             string `json:"base_url,omitempty" yaml:"base_url,omitempty" toml:"base_url"`
	AccountCurrency     string `json:"account_currency" yaml:"account_currency" toml:"account_currency"`
	StartingBalance     Float  `json:"starting_balance" yaml:"starting_balance" toml:"starting_balance"`
	OrderTimeoutSeconds Int    `json:"order_timeout_seconds" yaml:"order_timeout_seconds" toml:"order_timeout_seconds"`
}

// RolesConfig selects the decision role strategies.
type RolesConfig struct {
	Strategy               string            `json:"strategy" yaml:"strategy" toml:"strategy"` // rule, llm, mock
	Overrides              map[string]string `json:"overrides,omitempty" yaml:"overrides,omitempty" toml:"overrides"`
	DecisionTimeoutSeconds Int               `json:"decision_timeout_seconds" yaml:"decision_timeout_seconds" toml:"decision_timeout_seconds"`
	LLM                    LLMConfig         `json:"llm" yaml:"llm" toml:"llm"`
}

// LLMConfig configures the OpenAI compatible completion backend.
type LLMConfig struct {
	BaseURL     string `json:"base_url" yaml:"base_url" toml:"base_url"`
	Model       string `json:"model" yaml:"model" toml:"model"`
	APIKey      string `json:"-" yaml:"-" toml:"-"`
	Temperature Float  `json:"temperature" yaml:"temperature" toml:"temperature"`
	MaxTokens   Int    `json:"max_tokens" yaml:"max_tokens" toml:"max_tokens"`
}

// JournalConfig lists the run log sinks. Every non-empty sink is written.
type JournalConfig struct {
	TextPath    string `json:"text_path,omitempty" yaml:"text_path,omitempty" toml:"text_path"`
	SQLitePath  string `json:"sqlite_path,omitempty" yaml:"sqlite_path,omitempty" toml:"sqlite_path"`
	PostgresDSN string `json:"-" yaml:"-" toml:"-"`
}

// CacheConfig selects where the last good snapshot is kept.
type CacheConfig struct {
	Type       string `json:"type" yaml:"type" toml:"type"` // memory, redis
	RedisURL   string `json:"-" yaml:"-" toml:"-"`
	Prefix     string `json:"prefix" yaml:"prefix" toml:"prefix"`
	TTLMinutes Int    `json:"ttl_minutes" yaml:"ttl_minutes" toml:"ttl_minutes"`
}

// LoadEnv reads a .env file into the process environment if one exists.
func LoadEnv(paths ...string) {
	_ = godotenv.Load(paths...) // best-effort
}

// Load reads path when given, otherwise starts from Default with the
// environment applied.
func Load(path string) (*Config, error) {
	if path != "" {
		return LoadFromFile(path)
	}
	cfg := Default()
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFromFile loads YAML or JSON, or TOML for a .toml extension, then
// applies environment overrides and defaults and validates the result.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("parse toml config: %w", err)
		}
	default:
		// Try YAML first, fall back to JSON
		if err := yaml.Unmarshal(data, cfg); err != nil {
			if jerr := json.Unmarshal(data, cfg); jerr != nil {
				return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
			}
		}
	}

	cfg.applyEnv()
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SaveToFile writes YAML for .yaml/.yml paths and indented JSON otherwise.
func (c *Config) SaveToFile(path string) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("UFO_OANDA_TOKEN"); v != "" {
		c.Broker.Token = v
	}
	if v := os.Getenv("UFO_OANDA_ACCOUNT"); v != "" {
		c.Broker.AccountID = v
	}
	if v := os.Getenv("UFO_LLM_API_KEY"); v != "" {
		c.Roles.LLM.APIKey = v
	}
	if v := os.Getenv("UFO_REDIS_URL"); v != "" {
		c.Cache.RedisURL = v
	}
	if v := os.Getenv("UFO_POSTGRES_DSN"); v != "" {
		c.Journal.PostgresDSN = v
	}
}

func setInt(i *Int, def int) {
	if !i.IsSet() {
		*i = IntOf(def)
	}
}

func setFloat(f *Float, def float64) {
	if !f.IsSet() {
		*f = FloatOf(def)
	}
}

// ApplyDefaults fills every unset option with its documented default.
func (c *Config) ApplyDefaults() {
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.LogFormat == "" {
		c.App.LogFormat = "console"
	}

	t := &c.Trading
	setInt(&t.CyclePeriodMinutes, DefaultCyclePeriodMinutes)
	setInt(&t.MaxConcurrentPositions, DefaultMaxConcurrentPositions)
	setInt(&t.TargetPositionsWhenAvailable, DefaultTargetPositions)
	setInt(&t.MinPositionsForSession, DefaultMinPositions)
	setFloat(&t.PortfolioEquityStop, DefaultEquityStop)
	t.PortfolioEquityStopUnit = strings.ToLower(strings.TrimSpace(t.PortfolioEquityStopUnit))
	setFloat(&t.LotSize, DefaultLotSize)
	setFloat(&t.StopPips, DefaultStopPips)
	setFloat(&t.TargetPips, DefaultTargetPips)
	setFloat(&t.MinStrengthSpread, DefaultMinStrengthSpread)
	if len(t.Currencies) == 0 {
		t.Currencies = append(List(nil), DefaultCurrencies...)
	}
	for i, ccy := range t.Currencies {
		t.Currencies[i] = strings.ToUpper(strings.TrimSpace(ccy))
	}
	if t.Normalization == "" {
		t.Normalization = "none"
	}

	d := &c.Data
	if d.Source == "" {
		d.Source = "synthetic"
	}
	if len(d.Timeframes) == 0 {
		d.Timeframes = make(map[string]Int, len(DefaultTimeframes))
		for tf, n := range DefaultTimeframes {
			d.Timeframes[tf] = IntOf(n)
		}
	}
	setInt(&d.Seed, DefaultSeed)
	setInt(&d.FetchTimeoutSeconds, DefaultFetchTimeoutSeconds)
	setInt(&d.Concurrency, DefaultConcurrency)

	b := &c.Broker
	if b.Type == "" {
		b.Type = "paper"
	}
	if b.AccountCurrency == "" {
		b.AccountCurrency = "USD"
	}
	setFloat(&b.StartingBalance, DefaultStartingBalance)
	setInt(&b.OrderTimeoutSeconds, DefaultOrderTimeoutSeconds)

	r := &c.Roles
	if r.Strategy == "" {
		r.Strategy = "rule"
	}
	setInt(&r.DecisionTimeoutSeconds, DefaultDecisionTimeoutSeconds)
	if r.LLM.BaseURL == "" {
		r.LLM.BaseURL = "https://openrouter.ai/api/v1"
	}
	if r.LLM.Model == "" {
		r.LLM.Model = "anthropic/claude-3-haiku:beta"
	}
	setFloat(&r.LLM.Temperature, 0.3)
	setInt(&r.LLM.MaxTokens, 1500)

	if c.Cache.Type == "" {
		c.Cache.Type = "memory"
	}
	if c.Cache.Prefix == "" {
		c.Cache.Prefix = "ufo"
	}
	setInt(&c.Cache.TTLMinutes, 24*60)
}

var (
	validSources    = map[string]bool{"oanda": true, "synthetic": true, "csv": true, "dukascopy": true}
	validBrokers    = map[string]bool{"paper": true, "oanda": true}
	validStrategies = map[string]bool{"rule": true, "llm": true, "mock": true}
	validCaches     = map[string]bool{"memory": true, "redis": true}
	validStopUnits  = map[string]bool{"": true, "fraction": true, "percent": true}
)

// Validate checks the configuration is usable. It expects defaults applied.
func (c *Config) Validate() error {
	t := c.Trading
	if t.CyclePeriodMinutes.Value() <= 0 {
		return errors.New("trading.cycle_period_minutes must be positive")
	}
	if t.MaxConcurrentPositions.Value() <= 0 {
		return errors.New("trading.max_concurrent_positions must be positive")
	}
	if t.TargetPositionsWhenAvailable.Value() < 0 || t.MinPositionsForSession.Value() < 0 {
		return errors.New("trading position targets must not be negative")
	}
	if t.LotSize.Value() <= 0 {
		return errors.New("trading.lot_size must be positive")
	}
	for _, ccy := range t.Currencies {
		if len(ccy) != 3 {
			return fmt.Errorf("trading.currencies: invalid currency %q", ccy)
		}
	}
	for _, sym := range t.Symbols {
		if _, err := market.ParsePair(sym); err != nil {
			return fmt.Errorf("trading.symbols: %w", err)
		}
	}
	if _, err := ufo.ParseNormalization(t.Normalization); err != nil {
		return fmt.Errorf("trading.normalization: %w", err)
	}
	if !validStopUnits[t.PortfolioEquityStopUnit] {
		return fmt.Errorf("trading.portfolio_equity_stop_unit must be fraction or percent (got %q)", t.PortfolioEquityStopUnit)
	}

	if !validSources[c.Data.Source] {
		return fmt.Errorf("data.source must be one of oanda, synthetic, csv, dukascopy (got %q)", c.Data.Source)
	}
	if c.Data.Source == "csv" && c.Data.CSVDir == "" {
		return errors.New("data.csv_dir required for csv source")
	}
	if _, err := c.Data.TimeframeBars(); err != nil {
		return err
	}

	if !validBrokers[c.Broker.Type] {
		return fmt.Errorf("broker.type must be paper or oanda (got %q)", c.Broker.Type)
	}
	if c.Broker.Type == "oanda" && (c.Broker.Token == "" || c.Broker.AccountID == "") {
		return errors.New("broker oanda requires UFO_OANDA_TOKEN and an account id")
	}
	if c.Data.Source == "oanda" && c.Broker.Token == "" {
		return errors.New("data source oanda requires UFO_OANDA_TOKEN")
	}

	if !validStrategies[c.Roles.Strategy] {
		return fmt.Errorf("roles.strategy must be rule, llm or mock (got %q)", c.Roles.Strategy)
	}
	for role, s := range c.Roles.Overrides {
		if !validStrategies[s] {
			return fmt.Errorf("roles.overrides.%s: unknown strategy %q", role, s)
		}
	}

	if !validCaches[c.Cache.Type] {
		return fmt.Errorf("cache.type must be memory or redis (got %q)", c.Cache.Type)
	}
	if c.Cache.Type == "redis" && c.Cache.RedisURL == "" {
		return errors.New("cache redis requires UFO_REDIS_URL")
	}
	return nil
}

// Default returns a configuration with every default applied: synthetic
// data, paper broker, rule based roles.
func Default() *Config {
	c := &Config{
		Journal: JournalConfig{
			TextPath:   "./ufo-run.log",
			SQLitePath: "./ufo.db",
		},
	}
	c.ApplyDefaults()
	return c
}

// CyclePeriod returns the cycle cadence.
func (t TradingConfig) CyclePeriod() time.Duration {
	return time.Duration(t.CyclePeriodMinutes.Value()) * time.Minute
}

// EquityStop returns the drawdown threshold as a negative fraction.
// PortfolioEquityStopUnit fixes how the raw value is read. Without it a
// magnitude above 1 is a percentage (-5 means -0.05) and anything else a
// fraction.
func (t TradingConfig) EquityStop() float64 {
	v := t.PortfolioEquityStop.Value()
	switch t.PortfolioEquityStopUnit {
	case "percent":
		v /= 100
	case "fraction":
	default:
		if v > 1 || v < -1 {
			v /= 100
		}
	}
	if v > 0 {
		v = -v
	}
	return v
}

// Warnings lists settings that are valid but probably not what was meant.
func (c *Config) Warnings() []string {
	var out []string
	t := c.Trading
	if v := math.Abs(t.PortfolioEquityStop.Value()); t.PortfolioEquityStopUnit == "" && v >= 0.25 && v <= 1 {
		out = append(out, fmt.Sprintf(
			"trading.portfolio_equity_stop %v reads as a %.0f%% drawdown; set portfolio_equity_stop_unit to percent for %.2f%%",
			t.PortfolioEquityStop.Value(), v*100, v))
	}
	return out
}

// Universe returns the configured symbols, or every pair formed from the
// configured currencies when no symbols are listed.
func (t TradingConfig) Universe() []string {
	if len(t.Symbols) > 0 {
		out := make([]string, 0, len(t.Symbols))
		for _, s := range t.Symbols {
			if p, err := market.ParsePair(s); err == nil {
				out = append(out, p.Symbol())
			}
		}
		return out
	}
	return market.Universe(t.Currencies)
}

// TimeframeBars returns the bar count per timeframe.
func (d DataConfig) TimeframeBars() (map[market.Timeframe]int, error) {
	out := make(map[market.Timeframe]int, len(d.Timeframes))
	for name, n := range d.Timeframes {
		tf, err := market.ParseTimeframe(name)
		if err != nil {
			return nil, fmt.Errorf("data.timeframes: %w", err)
		}
		if n.Value() < 2 {
			return nil, fmt.Errorf("data.timeframes.%s: need at least 2 bars", name)
		}
		out[tf] = n.Value()
	}
	return out, nil
}

func seconds(i Int) time.Duration { return time.Duration(i.Value()) * time.Second }

func (d DataConfig) FetchTimeout() time.Duration     { return seconds(d.FetchTimeoutSeconds) }
func (b BrokerConfig) OrderTimeout() time.Duration   { return seconds(b.OrderTimeoutSeconds) }
func (r RolesConfig) DecisionTimeout() time.Duration { return seconds(r.DecisionTimeoutSeconds) }
func (c CacheConfig) TTL() time.Duration             { return time.Duration(c.TTLMinutes.Value()) * time.Minute }

// StrategyFor returns the strategy selected for a role, honouring overrides.
func (r RolesConfig) StrategyFor(role string) string {
	if s, ok := r.Overrides[role]; ok && s != "" {
		return s
	}
	if s, ok := r.Overrides[strings.ToLower(role)]; ok && s != "" {
		return s
	}
	return r.Strategy
}
