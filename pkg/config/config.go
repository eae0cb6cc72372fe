package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"oneof=development staging production test"`

	Log struct {
		Level      string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format     string `yaml:"format" default:"json" validate:"oneof=json console"`
		Output     string `yaml:"output" default:"stdout"`
		TimeFormat string `yaml:"time_format"`
		Digest     struct {
			Enabled   bool          `yaml:"enabled"`
			Topic     string        `yaml:"topic" default:"signalfusion.logs"`
			Interval  time.Duration `yaml:"interval" default:"30s"`
			MaxUnique int           `yaml:"max_unique" default:"100"`
		} `yaml:"digest"`
	} `yaml:"log"`

	Server struct {
		Host            string        `yaml:"host" default:"0.0.0.0"`
		Port            int           `yaml:"port" default:"8080" validate:"gt=0,lte=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"60s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
		SlowRequest     time.Duration `yaml:"slow_request" default:"2s"`
		CORS            bool          `yaml:"cors" default:"true"`
		CORSOrigins     []string      `yaml:"cors_origins"`
		ClientRPM       int           `yaml:"client_requests_per_minute" default:"120" validate:"gte=0"`
		ClientBurst     int           `yaml:"client_burst" default:"30" validate:"gte=0"`
	} `yaml:"server"`

	RateLimit struct {
		MaxConcurrentRequests    int `yaml:"max_concurrent_requests" default:"8"`
		DefaultRequestsPerMinute int `yaml:"default_requests_per_minute" default:"60" validate:"gt=0"`
		DefaultBurst             int `yaml:"default_burst" default:"5" validate:"gt=0"`
	} `yaml:"rate_limit"`

	Sources struct {
		// Priority breaks ties between snapshots fetched at the same instant.
		Priority      []string     `yaml:"priority" default:"[\"finnhub\",\"finnhub_stream\",\"polygon\",\"alphavantage\"]"`
		Finnhub       SourceConfig `yaml:"finnhub"`
		AlphaVantage  SourceConfig `yaml:"alphavantage"`
		Polygon       SourceConfig `yaml:"polygon"`
		FinnhubStream struct {
			Enabled        bool          `yaml:"enabled"`
			APIKey         string        `yaml:"api_key"`
			URL            string        `yaml:"url" default:"wss://ws.finnhub.io"`
			ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"5s"`
			PingInterval   time.Duration `yaml:"ping_interval" default:"20s"`
		} `yaml:"finnhub_stream"`
	} `yaml:"sources"`

	Cache struct {
		TTLSeconds      map[string]int `yaml:"ttl_seconds" default:"{\"quote\":60,\"fundamentals\":86400,\"insider\":3600,\"sentiment\":1800}"`
		FetchTimeout    time.Duration  `yaml:"fetch_timeout" default:"15s"`
		JanitorInterval time.Duration  `yaml:"janitor_interval" default:"5m"`
		L2              bool           `yaml:"l2"`
	} `yaml:"cache"`

	Redis struct {
		Addr         string `yaml:"addr" default:"localhost:6379"`
		Password     string `yaml:"password"`
		DB           int    `yaml:"db"`
		PoolSize     int    `yaml:"pool_size" default:"10"`
		MinIdleConns int    `yaml:"min_idle_conns" default:"2"`
		Prefix       string `yaml:"prefix" default:"signalfusion"`
	} `yaml:"redis"`

	Features struct {
		MinHistory     int     `yaml:"min_history" default:"60" validate:"gte=2"`
		PeriodsPerYear float64 `yaml:"periods_per_year" default:"252" validate:"gt=0"`
		Neutral        Neutral `yaml:"neutral"`
	} `yaml:"features"`

	Ensemble struct {
		Weights              map[string]float64 `yaml:"weights" default:"{\"ridge\":0.4,\"knn\":0.3,\"drift\":0.1,\"remote\":0.2}"`
		ValidationSplit      float64            `yaml:"validation_split" default:"0.2" validate:"gt=0,lt=1"`
		ReweightByValidation bool               `yaml:"reweight_by_validation"`
		HistoryBars          int                `yaml:"history_bars" default:"750" validate:"gte=50"`
		RidgeLambda          float64            `yaml:"ridge_lambda" default:"1" validate:"gte=0"`
		KNeighbors           int                `yaml:"k_neighbors" default:"5" validate:"gt=0"`
		Remote               struct {
			URL     string        `yaml:"url"`
			Timeout time.Duration `yaml:"timeout" default:"3s"`
			Retries int           `yaml:"retries" default:"3"`
		} `yaml:"remote"`
	} `yaml:"ensemble"`

	PredictionHorizons []int `yaml:"prediction_horizons" default:"[1,7,30]" validate:"min=1"`

	Scoring struct {
		Weights    map[string]float64 `yaml:"weights" default:"{\"fundamental\":0.4,\"technical\":0.3,\"insider\":0.2,\"sentiment\":0.1}"`
		Thresholds struct {
			StrongBuy float64 `yaml:"strong_buy" default:"80"`
			Buy       float64 `yaml:"buy" default:"60"`
			Hold      float64 `yaml:"hold" default:"40"`
			Sell      float64 `yaml:"sell" default:"20"`
		} `yaml:"thresholds"`
	} `yaml:"scoring"`

	Risk struct {
		VaRConfidenceLevels []float64 `yaml:"var_confidence_levels" default:"[0.95,0.99]"`
		MaxPositionSize     float64   `yaml:"max_position_size" default:"0.3"`
		MinObservations     int       `yaml:"min_observations" default:"5" validate:"gte=2"`
		RiskFreeRate        float64   `yaml:"risk_free_rate"`
		PeriodsPerYear      float64   `yaml:"periods_per_year" default:"252" validate:"gt=0"`
		MaxIterations       int       `yaml:"max_iterations" default:"1000" validate:"gt=0"`
		HistoryBars         int       `yaml:"history_bars" default:"252" validate:"gte=2"`
	} `yaml:"risk"`

	Portfolio struct {
		Store     string `yaml:"store" default:"memory" validate:"oneof=memory redis badger"`
		BadgerDir string `yaml:"badger_dir" default:"./data/portfolios"`
		KeyPrefix string `yaml:"key_prefix" default:"portfolio:"`
	} `yaml:"portfolio"`

	// Alerts are stored as one document in the portfolio KV store and
	// checked after every scheduled pass.
	Alerts struct {
		Key         string `yaml:"key" default:"alerts"`
		Parallelism int    `yaml:"parallelism" default:"4" validate:"gt=0"`
	} `yaml:"alerts"`

	History struct {
		Store     string `yaml:"store" default:"memory" validate:"oneof=memory clickhouse"`
		Timeframe string `yaml:"timeframe" default:"1d" validate:"oneof=1m 1h 1d"`
		// RecordStream folds live stream trades into stored candles.
		RecordStream  bool          `yaml:"record_stream"`
		FlushInterval time.Duration `yaml:"flush_interval" default:"5s"`
		Buffer        int           `yaml:"buffer" default:"4096" validate:"gt=0"`
	} `yaml:"history"`

	ClickHouse struct {
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"signalfusion"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert" default:"true"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"30s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
	} `yaml:"clickhouse"`

	Kafka struct {
		Enabled      bool          `yaml:"enabled"`
		Brokers      []string      `yaml:"brokers" default:"[\"localhost:9092\"]"`
		Topic        string        `yaml:"topic" default:"signalfusion.artifacts"`
		RequiredAcks int           `yaml:"required_acks" default:"-1"`
		Compression  string        `yaml:"compression" default:"snappy" validate:"oneof=none gzip snappy lz4 zstd"`
		MaxAttempts  int           `yaml:"max_attempts" default:"5"`
		BatchSize    int           `yaml:"batch_size" default:"100"`
		BatchTimeout time.Duration `yaml:"batch_timeout" default:"50ms"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
		Async        bool          `yaml:"async"`
	} `yaml:"kafka"`

	Analysis struct {
		Workers   int           `yaml:"workers" default:"4" validate:"gt=0"`
		Timeout   time.Duration `yaml:"timeout" default:"60s"`
		Watchlist []string      `yaml:"watchlist"`
	} `yaml:"analysis"`

	Scheduler struct {
		Enabled bool   `yaml:"enabled"`
		Spec    string `yaml:"spec" default:"@every 15m"`
	} `yaml:"scheduler"`

	Jobs struct {
		Enabled    bool          `yaml:"enabled"`
		Backend    string        `yaml:"backend" default:"memory" validate:"oneof=memory redis"`
		Workers    int           `yaml:"workers" default:"2" validate:"gt=0"`
		QueueSize  int           `yaml:"queue_size" default:"256" validate:"gt=0"`
		RetryLimit int           `yaml:"retry_limit" default:"2" validate:"gte=0"`
		RetryDelay time.Duration `yaml:"retry_delay" default:"30s"`
	} `yaml:"jobs"`
}

// SourceConfig configures one REST adapter.
type SourceConfig struct {
	Enabled           bool          `yaml:"enabled"`
	APIKey            string        `yaml:"api_key"`
	BaseURL           string        `yaml:"base_url"`
	RequestsPerMinute int           `yaml:"requests_per_minute" validate:"gte=0"`
	Burst             int           `yaml:"burst" validate:"gte=0"`
	Timeout           time.Duration `yaml:"timeout" default:"10s"`
	Retries           int           `yaml:"retries" default:"2"`
}

// Neutral holds the fill values used when a feature cannot be computed.
type Neutral struct {
	RSI         float64 `yaml:"rsi" default:"50"`
	Ratio       float64 `yaml:"ratio" default:"1"`
	Oscillator  float64 `yaml:"oscillator"`
	Return      float64 `yaml:"return"`
	PercentB    float64 `yaml:"percent_b" default:"0.5"`
	Stochastic  float64 `yaml:"stochastic" default:"50"`
	Williams    float64 `yaml:"williams" default:"-50"`
	Volatility  float64 `yaml:"volatility"`
	Fundamental float64 `yaml:"fundamental"`
}

// TTL returns the configured cache TTL for a query kind, or fallback.
func (c *Config) TTL(kind string, fallback time.Duration) time.Duration {
	if s, ok := c.Cache.TTLSeconds[kind]; ok && s > 0 {
		return time.Duration(s) * time.Second
	}
	return fallback
}

var validate = validator.New()

// Default returns a config with every default applied. Used by tests and
// when no file is given.
func Default() *Config {
	var c Config
	_ = defaults.Set(&c)
	return &c
}

// Parse decodes YAML, applies defaults and validates.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	c.applyEnv(os.Getenv)
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv(get func(string) string) {
	if v := get("FINNHUB_API_KEY"); v != "" {
		c.Sources.Finnhub.APIKey = v
		c.Sources.FinnhubStream.APIKey = v
	}
	if v := get("ALPHAVANTAGE_API_KEY"); v != "" {
		c.Sources.AlphaVantage.APIKey = v
	}
	if v := get("POLYGON_API_KEY"); v != "" {
		c.Sources.Polygon.APIKey = v
	}
	if v := get("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := get("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitList(v)
	}
	if v := get("WATCHLIST"); v != "" {
		c.Analysis.Watchlist = splitList(v)
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate runs tag validation and the cross-field checks tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	var errs []error

	if sum, ok := sumPositive(c.Scoring.Weights); !ok {
		errs = append(errs, errors.New("scoring.weights must be non-negative"))
	} else if math.Abs(sum-1) > 1e-6 {
		errs = append(errs, fmt.Errorf("scoring.weights must sum to 1, got %.6f", sum))
	}
	for k := range c.Scoring.Weights {
		switch k {
		case "fundamental", "technical", "insider", "sentiment":
		default:
			errs = append(errs, fmt.Errorf("scoring.weights: unknown category %q", k))
		}
	}

	t := c.Scoring.Thresholds
	if !(t.StrongBuy > t.Buy && t.Buy > t.Hold && t.Hold > t.Sell) {
		errs = append(errs, errors.New("scoring.thresholds must be strictly descending strong_buy > buy > hold > sell"))
	}
	if t.StrongBuy > 100 || t.Sell < 0 {
		errs = append(errs, errors.New("scoring.thresholds must lie in [0,100]"))
	}

	if len(c.Ensemble.Weights) == 0 {
		errs = append(errs, errors.New("ensemble.weights cannot be empty"))
	}
	for name, w := range c.Ensemble.Weights {
		if !(w > 0) {
			errs = append(errs, fmt.Errorf("ensemble.weights.%s must be positive", name))
		}
	}

	for _, h := range c.PredictionHorizons {
		if h != 1 && h != 7 && h != 30 {
			errs = append(errs, fmt.Errorf("prediction_horizons: %d not in {1,7,30}", h))
		}
	}

	for _, lvl := range c.Risk.VaRConfidenceLevels {
		if !(lvl > 0 && lvl < 1) {
			errs = append(errs, fmt.Errorf("risk.var_confidence_levels: %v not in (0,1)", lvl))
		}
	}
	if !(c.Risk.MaxPositionSize > 0 && c.Risk.MaxPositionSize <= 1) {
		errs = append(errs, errors.New("risk.max_position_size must be in (0,1]"))
	}

	for kind, s := range c.Cache.TTLSeconds {
		switch kind {
		case "quote", "fundamentals", "insider", "sentiment":
		default:
			errs = append(errs, fmt.Errorf("cache.ttl_seconds: unknown kind %q", kind))
		}
		if s <= 0 {
			errs = append(errs, fmt.Errorf("cache.ttl_seconds.%s must be positive", kind))
		}
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.brokers required when kafka is enabled"))
	}
	if c.Scheduler.Enabled && len(c.Analysis.Watchlist) == 0 {
		errs = append(errs, errors.New("analysis.watchlist required when the scheduler is enabled"))
	}
	return errors.Join(errs...)
}

func sumPositive(m map[string]float64) (float64, bool) {
	s := 0.0
	for _, v := range m {
		if v < 0 || math.IsNaN(v) {
			return 0, false
		}
		s += v
	}
	return s, true
}
