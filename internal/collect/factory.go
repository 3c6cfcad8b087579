package collect

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cam3ron2/delivery-heatmap/internal/config"
	"github.com/cam3ron2/delivery-heatmap/internal/githubapi"
	"github.com/cam3ron2/delivery-heatmap/internal/gitlabapi"
)

// NewSourceFromConfig builds the configured provider's Source. A missing credential yields
// ErrMissingCredential.
func NewSourceFromConfig(cfg *config.Config) (Source, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	timeout := cfg.Source.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	switch cfg.Source.Provider {
	case config.ProviderGitHub:
		return newGitHubSource(cfg, timeout)
	case config.ProviderGitLab, "":
		return newGitLabSource(cfg, timeout)
	default:
		return nil, fmt.Errorf("unsupported source provider %q", cfg.Source.Provider)
	}
}

func newGitLabSource(cfg *config.Config, timeout time.Duration) (Source, error) {
	httpClient, err := gitlabapi.NewTokenHTTPClient(gitlabapi.AuthConfig{
		Token:         cfg.Source.Token,
		Timeout:       timeout,
		BaseTransport: http.DefaultTransport,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMissingCredential, err)
	}

	requestClient := gitlabapi.NewClient(httpClient, gitlabapi.RetryConfig{
		MaxAttempts:    cfg.Retry.MaxAttempts,
		InitialBackoff: cfg.Retry.InitialBackoff,
		MaxBackoff:     cfg.Retry.MaxBackoff,
	}, gitlabapi.RateLimitPolicy{
		MinRemainingThreshold: cfg.RateLimit.MinRemainingThreshold,
		MinResetBuffer:        cfg.RateLimit.MinResetBuffer,
		SecondaryLimitBackoff: cfg.RateLimit.SecondaryLimitBackoff,
	})

	baseURL := cfg.Source.BaseURL
	if strings.TrimSpace(baseURL) == "" {
		baseURL = config.DefaultGitLabBaseURL
	}
	dataClient, err := gitlabapi.NewDataClient(baseURL, requestClient, cfg.Source.PerPage)
	if err != nil {
		return nil, fmt.Errorf("create gitlab data client: %w", err)
	}
	return NewGitLabSource(dataClient, cfg.Heatmap.IncludeSubgroups), nil
}

func newGitHubSource(cfg *config.Config, timeout time.Duration) (Source, error) {
	app := cfg.Source.GitHubApp
	restClient, err := githubapi.NewRESTClient(githubapi.ClientConfig{
		Credentials: githubapi.Credentials{
			Token:          cfg.Source.Token,
			AppID:          app.AppID,
			InstallationID: app.InstallationID,
			PrivateKeyPath: app.PrivateKeyPath,
		},
		BaseURL:       cfg.Source.BaseURL,
		Timeout:       timeout,
		BaseTransport: http.DefaultTransport,
	})
	if err != nil {
		if errors.Is(err, githubapi.ErrMissingToken) || app.Enabled() {
			return nil, fmt.Errorf("%w: %w", ErrMissingCredential, err)
		}
		return nil, fmt.Errorf("create github rest client: %w", err)
	}
	dataClient, err := githubapi.NewDataClient(restClient, cfg.Source.PerPage)
	if err != nil {
		return nil, fmt.Errorf("create github data client: %w", err)
	}
	return NewGitHubSource(dataClient), nil
}
