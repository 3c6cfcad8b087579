package config

import (
	"io"
	"strings"
	"testing"
	"time"
)

func TestLoadAndValidate(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name       string
		yaml       string
		wantErr    bool
		errSubstrs []string
	}{
		{
			name: "valid_full_gitlab_configuration",
			yaml: `
server:
  listen_addr: ":8080"
  log_level: "info"
source:
  provider: "gitlab"
  base_url: "https://gitlab.example.com/api/v4"
  token: "glpat-example"
  request_timeout: "20s"
  per_page: 100
heatmap:
  project_concurrency: 4
  match_threshold: 85
  include_subgroups: false
  compute_timeout: "10m"
rate_limit:
  min_remaining_threshold: 50
  min_reset_buffer: "5s"
  secondary_limit_backoff: "30s"
retry:
  max_attempts: 1
store:
  backend: "redis"
  redis_mode: "standalone"
  redis_addr: "redis:6379"
  redis_db: 0
  retention: "30d"
  max_series_budget: 1000
telemetry:
  otel_enabled: false
  otel_trace_mode: "off"
  otel_trace_sample_ratio: 0.05
`,
		},
		{
			name: "valid_github_app_configuration",
			yaml: `
source:
  provider: "github"
  github_app:
    app_id: 111111
    installation_id: 222222
    private_key_path: "/etc/delivery-heatmap/keys/app.pem"
`,
		},
		{
			name: "invalid_log_level",
			yaml: `
server:
  log_level: "verbose"
`,
			wantErr:    true,
			errSubstrs: []string{"server.log_level"},
		},
		{
			name: "unknown_provider",
			yaml: `
source:
  provider: "bitbucket"
`,
			wantErr:    true,
			errSubstrs: []string{"source.provider must be gitlab or github"},
		},
		{
			name: "per_page_above_host_cap",
			yaml: `
source:
  per_page: 250
`,
			wantErr:    true,
			errSubstrs: []string{"source.per_page"},
		},
		{
			name: "partial_github_app_configuration",
			yaml: `
source:
  provider: "github"
  github_app:
    app_id: 1
`,
			wantErr: true,
			errSubstrs: []string{
				"source.github_app.installation_id must be > 0",
				"source.github_app.private_key_path is required",
			},
		},
		{
			name: "github_app_with_gitlab_provider",
			yaml: `
source:
  provider: "gitlab"
  github_app:
    app_id: 1
    installation_id: 2
    private_key_path: "/tmp/key.pem"
`,
			wantErr:    true,
			errSubstrs: []string{"source.github_app requires source.provider=github"},
		},
		{
			name: "threshold_out_of_range",
			yaml: `
heatmap:
  match_threshold: 120
`,
			wantErr:    true,
			errSubstrs: []string{"heatmap.match_threshold"},
		},
		{
			name: "negative_concurrency",
			yaml: `
heatmap:
  project_concurrency: -2
`,
			wantErr:    true,
			errSubstrs: []string{"heatmap.project_concurrency must be > 0"},
		},
		{
			name: "sentinel_without_addrs",
			yaml: `
store:
  backend: "redis"
  redis_mode: "sentinel"
`,
			wantErr:    true,
			errSubstrs: []string{"store.redis_sentinel_addrs is required"},
		},
		{
			name: "unknown_store_backend",
			yaml: `
store:
  backend: "postgres"
`,
			wantErr:    true,
			errSubstrs: []string{"store.backend must be memory or redis"},
		},
		{
			name: "unknown_trace_mode",
			yaml: `
telemetry:
  otel_trace_mode: "verbose"
`,
			wantErr:    true,
			errSubstrs: []string{"telemetry.otel_trace_mode"},
		},
		{
			name: "unknown_field_rejected",
			yaml: `
source:
  project_allowlist: ["a"]
`,
			wantErr:    true,
			errSubstrs: []string{"unmarshal yaml"},
		},
		{
			name: "multiple_errors_joined",
			yaml: `
server:
  log_level: "loud"
retry:
  max_attempts: -1
`,
			wantErr:    true,
			errSubstrs: []string{"server.log_level", "; ", "retry.max_attempts must be > 0"},
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg, err := Load(strings.NewReader(tc.yaml))
			if tc.wantErr {
				if err == nil {
					t.Fatalf("Load() expected error, got nil")
				}
				for _, substr := range tc.errSubstrs {
					if !strings.Contains(err.Error(), substr) {
						t.Fatalf("Load() error = %q, missing substring %q", err.Error(), substr)
					}
				}
				return
			}

			if err != nil {
				t.Fatalf("Load() unexpected error: %v", err)
			}
			if cfg == nil {
				t.Fatalf("Load() returned nil config")
			}
		})
	}
}

func TestLoadAdditionalBehaviors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name        string
		reader      io.Reader
		wantErr     bool
		errContains string
		assert      func(t *testing.T, cfg *Config)
	}{
		{
			name:        "nil_reader_returns_error",
			reader:      nil,
			wantErr:     true,
			errContains: "config reader is nil",
		},
		{
			name:        "invalid_yaml_returns_parse_error",
			reader:      strings.NewReader("server: [oops"),
			wantErr:     true,
			errContains: "unmarshal yaml",
		},
		{
			name:   "empty_document_uses_defaults",
			reader: strings.NewReader(""),
			assert: func(t *testing.T, cfg *Config) {
				t.Helper()
				if cfg.Server.ListenAddr != ":8080" {
					t.Fatalf("Server.ListenAddr = %q, want :8080", cfg.Server.ListenAddr)
				}
				if cfg.Source.Provider != ProviderGitLab {
					t.Fatalf("Source.Provider = %q, want %q", cfg.Source.Provider, ProviderGitLab)
				}
				if cfg.Source.BaseURL != DefaultGitLabBaseURL {
					t.Fatalf("Source.BaseURL = %q, want %q", cfg.Source.BaseURL, DefaultGitLabBaseURL)
				}
			},
		},
		{
			name: "applies_defaults_and_parses_day_duration",
			reader: strings.NewReader(`
source:
  token: "glpat-example"
store:
  retention: "2w"
heatmap:
  compute_timeout: "1d"
`),
			assert: func(t *testing.T, cfg *Config) {
				t.Helper()
				if cfg.Server.LogLevel != "info" {
					t.Fatalf("Server.LogLevel = %q, want info", cfg.Server.LogLevel)
				}
				if cfg.Source.PerPage != 100 {
					t.Fatalf("Source.PerPage = %d, want 100", cfg.Source.PerPage)
				}
				if cfg.Source.RequestTimeout != 30*time.Second {
					t.Fatalf("Source.RequestTimeout = %s, want 30s", cfg.Source.RequestTimeout)
				}
				if cfg.Heatmap.ProjectConcurrency != 1 {
					t.Fatalf("Heatmap.ProjectConcurrency = %d, want 1", cfg.Heatmap.ProjectConcurrency)
				}
				if cfg.Heatmap.MatchThreshold != 80 {
					t.Fatalf("Heatmap.MatchThreshold = %v, want 80", cfg.Heatmap.MatchThreshold)
				}
				if !cfg.Heatmap.IncludeSubgroups {
					t.Fatalf("Heatmap.IncludeSubgroups = false, want true")
				}
				if cfg.Heatmap.ComputeTimeout != 24*time.Hour {
					t.Fatalf("Heatmap.ComputeTimeout = %s, want 24h", cfg.Heatmap.ComputeTimeout)
				}
				if cfg.Retry.MaxAttempts != 1 {
					t.Fatalf("Retry.MaxAttempts = %d, want 1", cfg.Retry.MaxAttempts)
				}
				if cfg.Store.Backend != "memory" {
					t.Fatalf("Store.Backend = %q, want memory", cfg.Store.Backend)
				}
				if cfg.Store.RedisMode != "standalone" {
					t.Fatalf("Store.RedisMode = %q, want standalone", cfg.Store.RedisMode)
				}
				if cfg.Store.Retention != 14*24*time.Hour {
					t.Fatalf("Store.Retention = %s, want %s", cfg.Store.Retention, 14*24*time.Hour)
				}
			},
		},
		{
			name: "github_provider_keeps_empty_base_url",
			reader: strings.NewReader(`
source:
  provider: "GitHub"
  token: "ghp_example"
`),
			assert: func(t *testing.T, cfg *Config) {
				t.Helper()
				if cfg.Source.Provider != ProviderGitHub {
					t.Fatalf("Source.Provider = %q, want github", cfg.Source.Provider)
				}
				if cfg.Source.BaseURL != "" {
					t.Fatalf("Source.BaseURL = %q, want empty", cfg.Source.BaseURL)
				}
			},
		},
		{
			name:        "invalid_duration_unit",
			reader:      strings.NewReader("source:\n  request_timeout: \"5y\"\n"),
			wantErr:     true,
			errContains: "invalid unit",
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg, err := Load(tc.reader)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("Load() expected error, got nil")
				}
				if tc.errContains != "" && !strings.Contains(err.Error(), tc.errContains) {
					t.Fatalf("Load() error = %q, missing %q", err.Error(), tc.errContains)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() unexpected error: %v", err)
			}
			if tc.assert != nil {
				tc.assert(t, cfg)
			}
		})
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("HEATMAP_SOURCE_TOKEN", "from-env")
	t.Setenv("HEATMAP_SOURCE_BASE_URL", "https://gitlab.internal/api/v4/")
	t.Setenv("HEATMAP_REDIS_PASSWORD", "secret")

	cfg, err := Load(strings.NewReader(`
source:
  token: "from-file"
  base_url: "https://gitlab.example.com/api/v4/"
`))
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	if cfg.Source.Token != "from-env" {
		t.Fatalf("Source.Token = %q, want from-env", cfg.Source.Token)
	}
	if cfg.Source.BaseURL != "https://gitlab.internal/api/v4/" {
		t.Fatalf("Source.BaseURL = %q, want env override", cfg.Source.BaseURL)
	}
	if cfg.Store.RedisPassword != "secret" {
		t.Fatalf("Store.RedisPassword = %q, want secret", cfg.Store.RedisPassword)
	}
}

func TestParseFlexibleDuration(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{name: "empty", raw: "", want: 0},
		{name: "standard", raw: "90s", want: 90 * time.Second},
		{name: "days", raw: "1.5d", want: 36 * time.Hour},
		{name: "weeks", raw: "1w", want: 7 * 24 * time.Hour},
		{name: "bad_number", raw: "xd", wantErr: true},
		{name: "bad_unit", raw: "3q", wantErr: true},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := parseFlexibleDuration(tc.raw)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("parseFlexibleDuration(%q) expected error", tc.raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseFlexibleDuration(%q) unexpected error: %v", tc.raw, err)
			}
			if got != tc.want {
				t.Fatalf("parseFlexibleDuration(%q) = %s, want %s", tc.raw, got, tc.want)
			}
		})
	}
}
