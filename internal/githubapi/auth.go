package githubapi

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/google/go-github/v75/github"
)

// ErrMissingToken is returned when neither a token nor App credentials are configured.
var ErrMissingToken = errors.New("github token or app credentials are required")

// Credentials authenticate GitHub requests. Any App field set selects App installation auth,
// which then takes precedence over Token.
type Credentials struct {
	Token          string
	AppID          int64
	InstallationID int64
	PrivateKeyPath string
}

func (c Credentials) usesApp() bool {
	return c.AppID != 0 || c.InstallationID != 0 || strings.TrimSpace(c.PrivateKeyPath) != ""
}

// ClientConfig configures NewRESTClient. An empty BaseURL targets api.github.com.
type ClientConfig struct {
	Credentials   Credentials
	BaseURL       string
	Timeout       time.Duration
	BaseTransport http.RoundTripper
}

// RESTClient wraps the go-github REST client.
type RESTClient struct {
	Client *github.Client
}

// NewRESTClient creates an authenticated go-github client.
func NewRESTClient(cfg ClientConfig) (*RESTClient, error) {
	baseURL, err := parseAPIBaseURL(cfg.BaseURL)
	if err != nil {
		return nil, err
	}

	transport := cfg.BaseTransport
	if transport == nil {
		transport = http.DefaultTransport
	}
	httpClient := &http.Client{Transport: transport, Timeout: cfg.Timeout}

	var client *github.Client
	switch {
	case cfg.Credentials.usesApp():
		appTransport, err := installationTransport(transport, cfg.Credentials)
		if err != nil {
			return nil, err
		}
		if baseURL != nil {
			appTransport.BaseURL = strings.TrimSuffix(baseURL.String(), "/")
		}
		httpClient.Transport = appTransport
		client = github.NewClient(httpClient)
	case strings.TrimSpace(cfg.Credentials.Token) != "":
		client = github.NewClient(httpClient).WithAuthToken(strings.TrimSpace(cfg.Credentials.Token))
	default:
		return nil, ErrMissingToken
	}

	if baseURL != nil {
		client.BaseURL = baseURL
	}
	return &RESTClient{Client: client}, nil
}

func installationTransport(base http.RoundTripper, creds Credentials) (*ghinstallation.Transport, error) {
	var problems []string
	if creds.AppID <= 0 {
		problems = append(problems, "app id must be > 0")
	}
	if creds.InstallationID <= 0 {
		problems = append(problems, "installation id must be > 0")
	}
	if strings.TrimSpace(creds.PrivateKeyPath) == "" {
		problems = append(problems, "private key path is required")
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("github app credentials: %s", strings.Join(problems, "; "))
	}

	transport, err := ghinstallation.NewKeyFromFile(base, creds.AppID, creds.InstallationID, creds.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("create github app transport: %w", err)
	}
	return transport, nil
}

// parseAPIBaseURL returns nil for an empty raw URL. The returned path always ends in a slash,
// which go-github requires.
func parseAPIBaseURL(raw string) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse github api base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("parse github api base url: missing scheme or host")
	}
	if !strings.HasSuffix(parsed.Path, "/") {
		parsed.Path += "/"
	}
	return parsed, nil
}
