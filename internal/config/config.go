package config

import (
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const (
	// ProviderGitLab selects the GitLab REST API as the source-control host.
	ProviderGitLab = "gitlab"
	// ProviderGitHub selects the GitHub REST API as the source-control host.
	ProviderGitHub = "github"

	// DefaultGitLabBaseURL is the public GitLab API root.
	DefaultGitLabBaseURL = "https://gitlab.com/api/v4/"

	envPrefix = "heatmap"
)

var (
	validLogLevels  = []string{"debug", "info", "warn", "error"}
	validProviders  = []string{ProviderGitLab, ProviderGitHub}
	validBackends   = []string{"memory", "redis"}
	validTraceModes = []string{"", "off", "errors", "sampled", "detailed"}
)

// Config is the root application configuration.
type Config struct {
	Server    ServerConfig
	Source    SourceConfig
	Heatmap   HeatmapConfig
	RateLimit RateLimitConfig
	Retry     RetryConfig
	Store     StoreConfig
	Telemetry TelemetryConfig
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	LogLevel   string `yaml:"log_level"`
}

// SourceConfig configures the source-control host.
type SourceConfig struct {
	Provider       string
	BaseURL        string
	Token          string
	RequestTimeout time.Duration
	PerPage        int
	GitHubApp      GitHubAppConfig
}

// GitHubAppConfig configures GitHub App installation authentication.
type GitHubAppConfig struct {
	AppID          int64  `yaml:"app_id"`
	InstallationID int64  `yaml:"installation_id"`
	PrivateKeyPath string `yaml:"private_key_path"`
}

// Enabled reports whether any App credential field is set.
func (c GitHubAppConfig) Enabled() bool {
	return c.AppID != 0 || c.InstallationID != 0 || strings.TrimSpace(c.PrivateKeyPath) != ""
}

// HeatmapConfig configures aggregation runs.
type HeatmapConfig struct {
	ProjectConcurrency int
	MatchThreshold     float64
	IncludeSubgroups   bool
	ComputeTimeout     time.Duration
}

// RateLimitConfig configures rate-limit controls.
type RateLimitConfig struct {
	MinRemainingThreshold int
	MinResetBuffer        time.Duration
	SecondaryLimitBackoff time.Duration
}

// RetryConfig configures upstream retries. A single attempt is the default.
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// StoreConfig configures run-metric storage.
type StoreConfig struct {
	Backend            string
	RedisMode          string
	RedisAddr          string
	RedisMasterSet     string
	RedisSentinelAddrs []string
	RedisPassword      string
	RedisDB            int
	Retention          time.Duration
	MaxSeriesBudget    int
}

// TelemetryConfig configures OpenTelemetry behavior.
type TelemetryConfig struct {
	OTELEnabled          bool
	OTELTraceMode        string
	OTELTraceSampleRatio float64
}

// Load reads configuration from YAML, applies HEATMAP_* environment overrides and validates the result.
func Load(reader io.Reader) (*Config, error) {
	if reader == nil {
		return nil, fmt.Errorf("config reader is nil")
	}

	decoder := yaml.NewDecoder(reader)
	decoder.KnownFields(true)

	var raw rawConfig
	if err := decoder.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	cfg := raw.toConfig()
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate validates configuration values.
func (c *Config) Validate() error {
	var errs []string

	if !slices.Contains(validLogLevels, c.Server.LogLevel) {
		errs = append(errs, "server.log_level must be one of debug|info|warn|error")
	}

	if !slices.Contains(validProviders, c.Source.Provider) {
		errs = append(errs, "source.provider must be gitlab or github")
	}
	if c.Source.PerPage <= 0 || c.Source.PerPage > 100 {
		errs = append(errs, "source.per_page must be between 1 and 100")
	}
	if c.Source.RequestTimeout < 0 {
		errs = append(errs, "source.request_timeout must be >= 0")
	}
	if c.Source.GitHubApp.Enabled() {
		if c.Source.Provider != ProviderGitHub {
			errs = append(errs, "source.github_app requires source.provider=github")
		}
		if c.Source.GitHubApp.AppID <= 0 {
			errs = append(errs, "source.github_app.app_id must be > 0")
		}
		if c.Source.GitHubApp.InstallationID <= 0 {
			errs = append(errs, "source.github_app.installation_id must be > 0")
		}
		if strings.TrimSpace(c.Source.GitHubApp.PrivateKeyPath) == "" {
			errs = append(errs, "source.github_app.private_key_path is required")
		}
	}

	if c.Heatmap.ProjectConcurrency <= 0 {
		errs = append(errs, "heatmap.project_concurrency must be > 0")
	}
	if c.Heatmap.MatchThreshold < 0 || c.Heatmap.MatchThreshold > 100 {
		errs = append(errs, "heatmap.match_threshold must be between 0 and 100")
	}

	if c.Retry.MaxAttempts <= 0 {
		errs = append(errs, "retry.max_attempts must be > 0")
	}

	if !slices.Contains(validBackends, c.Store.Backend) {
		errs = append(errs, "store.backend must be memory or redis")
	}
	if c.Store.RedisMode != "standalone" && c.Store.RedisMode != "sentinel" {
		errs = append(errs, "store.redis_mode must be standalone or sentinel")
	}
	if c.Store.RedisMode == "sentinel" && len(c.Store.RedisSentinelAddrs) == 0 {
		errs = append(errs, "store.redis_sentinel_addrs is required when store.redis_mode=sentinel")
	}

	if !slices.Contains(validTraceModes, c.Telemetry.OTELTraceMode) {
		errs = append(errs, "telemetry.otel_trace_mode must be one of off|errors|sampled|detailed")
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = "info"
	}
	if cfg.Source.Provider == "" {
		cfg.Source.Provider = ProviderGitLab
	}
	if cfg.Source.BaseURL == "" && cfg.Source.Provider == ProviderGitLab {
		cfg.Source.BaseURL = DefaultGitLabBaseURL
	}
	if cfg.Source.RequestTimeout == 0 {
		cfg.Source.RequestTimeout = 30 * time.Second
	}
	if cfg.Source.PerPage == 0 {
		cfg.Source.PerPage = 100
	}
	if cfg.Heatmap.ProjectConcurrency == 0 {
		cfg.Heatmap.ProjectConcurrency = 1
	}
	if cfg.Heatmap.MatchThreshold == 0 {
		cfg.Heatmap.MatchThreshold = 80
	}
	if cfg.Heatmap.ComputeTimeout == 0 {
		cfg.Heatmap.ComputeTimeout = 5 * time.Minute
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 1
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "memory"
	}
	if cfg.Store.RedisMode == "" {
		cfg.Store.RedisMode = "standalone"
	}
	if cfg.Store.Retention == 0 {
		cfg.Store.Retention = 7 * 24 * time.Hour
	}
}

type envOverrides struct {
	SourceToken   string `envconfig:"SOURCE_TOKEN"`
	SourceBaseURL string `envconfig:"SOURCE_BASE_URL"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
}

func applyEnvOverrides(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process(envPrefix, &env); err != nil {
		return fmt.Errorf("read environment overrides: %w", err)
	}
	if env.SourceToken != "" {
		cfg.Source.Token = env.SourceToken
	}
	if env.SourceBaseURL != "" {
		cfg.Source.BaseURL = env.SourceBaseURL
	}
	if env.RedisPassword != "" {
		cfg.Store.RedisPassword = env.RedisPassword
	}
	return nil
}

type duration struct {
	time.Duration
}

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil || value.Kind == 0 || strings.TrimSpace(value.Value) == "" {
		d.Duration = 0
		return nil
	}

	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("decode duration: %w", err)
	}

	parsed, err := parseFlexibleDuration(raw)
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func parseFlexibleDuration(raw string) (time.Duration, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, nil
	}

	if standard, err := time.ParseDuration(trimmed); err == nil {
		return standard, nil
	}

	if strings.HasSuffix(trimmed, "d") {
		return parseDurationWithMultiplier(strings.TrimSuffix(trimmed, "d"), 24)
	}
	if strings.HasSuffix(trimmed, "w") {
		return parseDurationWithMultiplier(strings.TrimSuffix(trimmed, "w"), 24*7)
	}

	return 0, fmt.Errorf("parse duration %q: invalid unit", raw)
}

func parseDurationWithMultiplier(numeric string, multiplierHours float64) (time.Duration, error) {
	value, err := strconv.ParseFloat(strings.TrimSpace(numeric), 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration value %q: %w", numeric, err)
	}

	nanos := value * multiplierHours * float64(time.Hour)
	if nanos > math.MaxInt64 || nanos < math.MinInt64 {
		return 0, fmt.Errorf("parse duration value %q: out of range", numeric)
	}
	return time.Duration(nanos), nil
}

type rawConfig struct {
	Server    ServerConfig `yaml:"server"`
	Source    rawSource    `yaml:"source"`
	Heatmap   rawHeatmap   `yaml:"heatmap"`
	RateLimit rawRateLimit `yaml:"rate_limit"`
	Retry     rawRetry     `yaml:"retry"`
	Store     rawStore     `yaml:"store"`
	Telemetry rawTelemetry `yaml:"telemetry"`
}

type rawSource struct {
	Provider       string          `yaml:"provider"`
	BaseURL        string          `yaml:"base_url"`
	Token          string          `yaml:"token"`
	RequestTimeout duration        `yaml:"request_timeout"`
	PerPage        int             `yaml:"per_page"`
	GitHubApp      GitHubAppConfig `yaml:"github_app"`
}

type rawHeatmap struct {
	ProjectConcurrency int      `yaml:"project_concurrency"`
	MatchThreshold     float64  `yaml:"match_threshold"`
	IncludeSubgroups   *bool    `yaml:"include_subgroups"`
	ComputeTimeout     duration `yaml:"compute_timeout"`
}

type rawRateLimit struct {
	MinRemainingThreshold int      `yaml:"min_remaining_threshold"`
	MinResetBuffer        duration `yaml:"min_reset_buffer"`
	SecondaryLimitBackoff duration `yaml:"secondary_limit_backoff"`
}

type rawRetry struct {
	MaxAttempts    int      `yaml:"max_attempts"`
	InitialBackoff duration `yaml:"initial_backoff"`
	MaxBackoff     duration `yaml:"max_backoff"`
}

type rawStore struct {
	Backend            string   `yaml:"backend"`
	RedisMode          string   `yaml:"redis_mode"`
	RedisAddr          string   `yaml:"redis_addr"`
	RedisMasterSet     string   `yaml:"redis_master_set"`
	RedisSentinelAddrs []string `yaml:"redis_sentinel_addrs"`
	RedisPassword      string   `yaml:"redis_password"`
	RedisDB            int      `yaml:"redis_db"`
	Retention          duration `yaml:"retention"`
	MaxSeriesBudget    int      `yaml:"max_series_budget"`
}

type rawTelemetry struct {
	OTELEnabled          bool    `yaml:"otel_enabled"`
	OTELTraceMode        string  `yaml:"otel_trace_mode"`
	OTELTraceSampleRatio float64 `yaml:"otel_trace_sample_ratio"`
}

func (r rawConfig) toConfig() *Config {
	includeSubgroups := true
	if r.Heatmap.IncludeSubgroups != nil {
		includeSubgroups = *r.Heatmap.IncludeSubgroups
	}

	return &Config{
		Server: r.Server,
		Source: SourceConfig{
			Provider:       strings.ToLower(strings.TrimSpace(r.Source.Provider)),
			BaseURL:        strings.TrimSpace(r.Source.BaseURL),
			Token:          r.Source.Token,
			RequestTimeout: r.Source.RequestTimeout.Duration,
			PerPage:        r.Source.PerPage,
			GitHubApp:      r.Source.GitHubApp,
		},
		Heatmap: HeatmapConfig{
			ProjectConcurrency: r.Heatmap.ProjectConcurrency,
			MatchThreshold:     r.Heatmap.MatchThreshold,
			IncludeSubgroups:   includeSubgroups,
			ComputeTimeout:     r.Heatmap.ComputeTimeout.Duration,
		},
		RateLimit: RateLimitConfig{
			MinRemainingThreshold: r.RateLimit.MinRemainingThreshold,
			MinResetBuffer:        r.RateLimit.MinResetBuffer.Duration,
			SecondaryLimitBackoff: r.RateLimit.SecondaryLimitBackoff.Duration,
		},
		Retry: RetryConfig{
			MaxAttempts:    r.Retry.MaxAttempts,
			InitialBackoff: r.Retry.InitialBackoff.Duration,
			MaxBackoff:     r.Retry.MaxBackoff.Duration,
		},
		Store: StoreConfig{
			Backend:            strings.ToLower(strings.TrimSpace(r.Store.Backend)),
			RedisMode:          r.Store.RedisMode,
			RedisAddr:          r.Store.RedisAddr,
			RedisMasterSet:     r.Store.RedisMasterSet,
			RedisSentinelAddrs: r.Store.RedisSentinelAddrs,
			RedisPassword:      r.Store.RedisPassword,
			RedisDB:            r.Store.RedisDB,
			Retention:          r.Store.Retention.Duration,
			MaxSeriesBudget:    r.Store.MaxSeriesBudget,
		},
		Telemetry: TelemetryConfig{
			OTELEnabled:          r.Telemetry.OTELEnabled,
			OTELTraceMode:        strings.ToLower(strings.TrimSpace(r.Telemetry.OTELTraceMode)),
			OTELTraceSampleRatio: r.Telemetry.OTELTraceSampleRatio,
		},
	}
}
