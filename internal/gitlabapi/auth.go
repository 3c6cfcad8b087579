package gitlabapi

import (
	"errors"
	"net/http"
	"strings"
	"time"
)

// ErrMissingToken is returned when no access token is configured.
var ErrMissingToken = errors.New("gitlab access token is required")

// AuthConfig configures personal/project access token authentication.
type AuthConfig struct {
	Token         string
	Timeout       time.Duration
	BaseTransport http.RoundTripper
}

// NewTokenHTTPClient creates an HTTP client that sends the access token on every request.
func NewTokenHTTPClient(cfg AuthConfig) (*http.Client, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, ErrMissingToken
	}

	baseTransport := cfg.BaseTransport
	if baseTransport == nil {
		baseTransport = http.DefaultTransport
	}

	return &http.Client{
		Transport: &tokenTransport{token: token, base: baseTransport},
		Timeout:   cfg.Timeout,
	}, nil
}

type tokenTransport struct {
	token string
	base  http.RoundTripper
}

func (t *tokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	authed := req.Clone(req.Context())
	authed.Header.Set("PRIVATE-TOKEN", t.token)
	return t.base.RoundTrip(authed)
}
