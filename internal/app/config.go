package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"ts-data/internal/auth"
	"ts-data/internal/provider/tradestation"
	"ts-data/internal/storage"
)

const (
	DefaultConfigPath = "config.yaml"
	DefaultStartDate  = "2007-01-01"

	// FormatAuto selects the layout already present in the data directory.
	FormatAuto = "auto"
)

// ConfigError reports a missing or invalid setting.
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Msg)
}

// Config holds application configuration.
// Sources, lowest precedence first: defaults, YAML file, environment, CLI flags.
type Config struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	TokenURL     string
	BaseURL      string

	DataDir     string
	StartDate   string // YYYY-MM-DD, UTC
	Symbols     []string
	SymbolsFile string
	FullRefresh bool

	MaxBarsPerRequest int
	RateLimitDelay    time.Duration
	MaxRetries        int
	Workers           int
	SymbolDelay       time.Duration

	StorageFormat string // single | daily | monthly | auto
	Compression   string
	DatetimeIndex bool

	LogLevel string // debug | info | warn | error
	LogFile  string

	Watch          bool
	ScheduleHour   int
	ScheduleMinute int
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		TokenURL:          auth.DefaultTokenURL,
		BaseURL:           tradestation.DefaultBaseURL,
		DataDir:           "data",
		StartDate:         DefaultStartDate,
		MaxBarsPerRequest: tradestation.DefaultMaxBarsPerRequest,
		RateLimitDelay:    tradestation.DefaultRateLimitDelay,
		MaxRetries:        tradestation.DefaultMaxRetries,
		Workers:           1,
		SymbolDelay:       200 * time.Millisecond,
		StorageFormat:     FormatAuto,
		Compression:       string(storage.CompressionZstd),
		DatetimeIndex:     true,
		LogLevel:          "info",
		ScheduleHour:      0,
		ScheduleMinute:    30,
	}
}

// fileConfig mirrors config.yaml. Absent keys keep the lower-precedence value.
type fileConfig struct {
	TradeStation struct {
		ClientID     string `yaml:"client_id"`
		ClientSecret string `yaml:"client_secret"`
		RefreshToken string `yaml:"refresh_token"`
		TokenURL     string `yaml:"token_url"`
		BaseURL      string `yaml:"base_url"`
	} `yaml:"tradestation"`
	DataDir           string   `yaml:"data_dir"`
	StartDate         string   `yaml:"start_date"`
	Symbols           []string `yaml:"symbols"`
	SymbolsFile       string   `yaml:"symbols_file"`
	MaxBarsPerRequest *int     `yaml:"max_bars_per_request"`
	RateLimitDelay    *float64 `yaml:"rate_limit_delay"` // seconds
	MaxRetries        *int     `yaml:"max_retries"`
	Workers           *int     `yaml:"parallel_downloads"`
	SymbolDelay       *float64 `yaml:"symbol_delay"` // seconds
	Storage           struct {
		Format        string `yaml:"format"`
		Compression   string `yaml:"compression"`
		DatetimeIndex *bool  `yaml:"datetime_index"`
	} `yaml:"storage"`
	Log struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"log"`
	Schedule struct {
		Hour   *int `yaml:"hour"`
		Minute *int `yaml:"minute"`
	} `yaml:"schedule"`
}

// LoadConfig loads .env (if present), then the YAML file at path, then the
// environment. A missing file is an error only when mustExist is set.
func LoadConfig(path string, mustExist bool) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg := DefaultConfig()
	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			if !errors.Is(err, fs.ErrNotExist) || mustExist {
				return nil, err
			}
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var f fileConfig
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setString(&c.ClientID, f.TradeStation.ClientID)
	setString(&c.ClientSecret, f.TradeStation.ClientSecret)
	setString(&c.RefreshToken, f.TradeStation.RefreshToken)
	setString(&c.TokenURL, f.TradeStation.TokenURL)
	setString(&c.BaseURL, f.TradeStation.BaseURL)
	setString(&c.DataDir, f.DataDir)
	setString(&c.StartDate, f.StartDate)
	if len(f.Symbols) > 0 {
		c.Symbols = f.Symbols
	}
	setString(&c.SymbolsFile, f.SymbolsFile)
	setInt(&c.MaxBarsPerRequest, f.MaxBarsPerRequest)
	setSeconds(&c.RateLimitDelay, f.RateLimitDelay)
	setInt(&c.MaxRetries, f.MaxRetries)
	setInt(&c.Workers, f.Workers)
	setSeconds(&c.SymbolDelay, f.SymbolDelay)
	setString(&c.StorageFormat, f.Storage.Format)
	setString(&c.Compression, f.Storage.Compression)
	if f.Storage.DatetimeIndex != nil {
		c.DatetimeIndex = *f.Storage.DatetimeIndex
	}
	setString(&c.LogLevel, f.Log.Level)
	setString(&c.LogFile, f.Log.File)
	setInt(&c.ScheduleHour, f.Schedule.Hour)
	setInt(&c.ScheduleMinute, f.Schedule.Minute)
	return nil
}

func (c *Config) applyEnv() error {
	c.ClientID = getEnv("TS_CLIENT_ID", c.ClientID)
	c.ClientSecret = getEnv("TS_CLIENT_SECRET", c.ClientSecret)
	c.RefreshToken = getEnv("TS_REFRESH_TOKEN", c.RefreshToken)
	c.TokenURL = getEnv("TS_TOKEN_URL", c.TokenURL)
	c.BaseURL = getEnv("TS_BASE_URL", c.BaseURL)
	c.DataDir = getEnv("DATA_DIR", c.DataDir)
	c.StartDate = getEnv("START_DATE", c.StartDate)
	if s := os.Getenv("SYMBOLS"); s != "" {
		c.Symbols = splitList(s)
	}
	c.SymbolsFile = getEnv("SYMBOLS_FILE", c.SymbolsFile)
	c.StorageFormat = getEnv("STORAGE_FORMAT", c.StorageFormat)
	c.Compression = getEnv("COMPRESSION", c.Compression)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFile = getEnv("LOG_FILE", c.LogFile)

	ints := []struct {
		key string
		dst *int
	}{
		{"BARS_BACK", &c.MaxBarsPerRequest},
		{"MAX_RETRIES", &c.MaxRetries},
		{"WORKERS", &c.Workers},
		{"SCHEDULE_HOUR", &c.ScheduleHour},
		{"SCHEDULE_MINUTE", &c.ScheduleMinute},
	}
	for _, e := range ints {
		if v := os.Getenv(e.key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return &ConfigError{Field: e.key, Msg: fmt.Sprintf("not an integer: %q", v)}
			}
			*e.dst = n
		}
	}
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"RATE_LIMIT_DELAY", &c.RateLimitDelay},
		{"SYMBOL_DELAY", &c.SymbolDelay},
	}
	for _, e := range durations {
		if v := os.Getenv(e.key); v != "" {
			d, err := parseDelay(v)
			if err != nil {
				return &ConfigError{Field: e.key, Msg: err.Error()}
			}
			*e.dst = d
		}
	}
	if v := os.Getenv("DATETIME_INDEX"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return &ConfigError{Field: "DATETIME_INDEX", Msg: fmt.Sprintf("not a boolean: %q", v)}
		}
		c.DatetimeIndex = b
	}
	return nil
}

// Validate checks credentials and value ranges.
func (c *Config) Validate() error {
	switch {
	case c.ClientID == "":
		return &ConfigError{Field: "client_id", Msg: "not set (tradestation.client_id or TS_CLIENT_ID)"}
	case c.ClientSecret == "":
		return &ConfigError{Field: "client_secret", Msg: "not set (tradestation.client_secret or TS_CLIENT_SECRET)"}
	case c.RefreshToken == "":
		return &ConfigError{Field: "refresh_token", Msg: "not set (tradestation.refresh_token or TS_REFRESH_TOKEN)"}
	}
	if _, err := c.Start(); err != nil {
		return &ConfigError{Field: "start_date", Msg: err.Error()}
	}
	if c.StorageFormat != FormatAuto {
		if _, err := storage.ParseFormat(c.StorageFormat); err != nil {
			return &ConfigError{Field: "storage.format", Msg: err.Error()}
		}
	}
	if _, err := storage.ParseCompression(c.Compression); err != nil {
		return &ConfigError{Field: "storage.compression", Msg: err.Error()}
	}
	if c.Workers < 1 {
		return &ConfigError{Field: "parallel_downloads", Msg: "must be at least 1"}
	}
	if c.MaxBarsPerRequest < 1 || c.MaxBarsPerRequest > tradestation.DefaultMaxBarsPerRequest {
		return &ConfigError{Field: "max_bars_per_request", Msg: fmt.Sprintf("must be in 1..%d", tradestation.DefaultMaxBarsPerRequest)}
	}
	if c.MaxRetries < 0 || c.RateLimitDelay < 0 || c.SymbolDelay < 0 {
		return &ConfigError{Field: "retry", Msg: "max_retries and delays must not be negative"}
	}
	if c.ScheduleHour < 0 || c.ScheduleHour > 23 || c.ScheduleMinute < 0 || c.ScheduleMinute > 59 {
		return &ConfigError{Field: "schedule", Msg: fmt.Sprintf("invalid time %02d:%02d", c.ScheduleHour, c.ScheduleMinute)}
	}
	return nil
}

// Start parses StartDate as a UTC midnight.
func (c *Config) Start() (time.Time, error) {
	return time.ParseInLocation(time.DateOnly, strings.TrimSpace(c.StartDate), time.UTC)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setSeconds(dst *time.Duration, v *float64) {
	if v != nil {
		*dst = time.Duration(*v * float64(time.Second))
	}
}

// parseDelay accepts a Go duration ("500ms") or plain seconds ("0.5").
func parseDelay(v string) (time.Duration, error) {
	if d, err := time.ParseDuration(v); err == nil {
		return d, nil
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("not a duration: %q", v)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
