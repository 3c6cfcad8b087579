package githubapi

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bradleyfalzon/ghinstallation/v2"
)

func writePrivateKeyPEM(t *testing.T, dir string) string {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey() unexpected error: %v", err)
	}

	pemBytes := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	})

	path := filepath.Join(dir, "key.pem")
	if err := os.WriteFile(path, pemBytes, 0o600); err != nil {
		t.Fatalf("os.WriteFile() unexpected error: %v", err)
	}
	return path
}

func TestNewRESTClient(t *testing.T) {
	t.Parallel()

	tempDir := t.TempDir()
	validKeyPath := writePrivateKeyPEM(t, tempDir)
	invalidKeyPath := filepath.Join(tempDir, "invalid.pem")
	if err := os.WriteFile(invalidKeyPath, []byte("not-a-key"), 0o600); err != nil {
		t.Fatalf("os.WriteFile(invalid) unexpected error: %v", err)
	}

	testCases := []struct {
		name        string
		config      ClientConfig
		wantErr     error
		errContains []string
		assert      func(t *testing.T, client *RESTClient)
	}{
		{
			name:    "no_credentials",
			config:  ClientConfig{Credentials: Credentials{Token: "  "}},
			wantErr: ErrMissingToken,
		},
		{
			name:   "token_default_base_url",
			config: ClientConfig{Credentials: Credentials{Token: "ghp_example"}, Timeout: 10 * time.Second},
			assert: func(t *testing.T, client *RESTClient) {
				t.Helper()
				if got := client.Client.BaseURL.Host; got != "api.github.com" {
					t.Fatalf("BaseURL host = %q, want api.github.com", got)
				}
				if got := client.Client.Client().Timeout; got != 10*time.Second {
					t.Fatalf("timeout = %s, want 10s", got)
				}
			},
		},
		{
			name: "token_enterprise_base_url",
			config: ClientConfig{
				Credentials: Credentials{Token: "ghp_example"},
				BaseURL:     "https://github.example.com/api/v3",
			},
			assert: func(t *testing.T, client *RESTClient) {
				t.Helper()
				if got := client.Client.BaseURL.String(); got != "https://github.example.com/api/v3/" {
					t.Fatalf("BaseURL = %q, want %q", got, "https://github.example.com/api/v3/")
				}
			},
		},
		{
			name: "base_url_without_host",
			config: ClientConfig{
				Credentials: Credentials{Token: "ghp_example"},
				BaseURL:     "/api/v3",
			},
			errContains: []string{"missing scheme or host"},
		},
		{
			name: "invalid_base_url",
			config: ClientConfig{
				Credentials: Credentials{Token: "ghp_example"},
				BaseURL:     "://bad-url",
			},
			errContains: []string{"parse github api base url"},
		},
		{
			name: "app_with_invalid_ids",
			config: ClientConfig{Credentials: Credentials{
				PrivateKeyPath: validKeyPath,
			}},
			errContains: []string{"app id", "installation id"},
		},
		{
			name: "app_missing_private_key_path",
			config: ClientConfig{Credentials: Credentials{
				AppID:          1,
				InstallationID: 1,
			}},
			errContains: []string{"private key path"},
		},
		{
			name: "app_invalid_private_key_file",
			config: ClientConfig{Credentials: Credentials{
				AppID:          1,
				InstallationID: 1,
				PrivateKeyPath: invalidKeyPath,
			}},
			errContains: []string{"create github app transport"},
		},
		{
			name: "app_takes_precedence_over_token",
			config: ClientConfig{
				Credentials: Credentials{
					Token:          "ghp_ignored",
					AppID:          1,
					InstallationID: 2,
					PrivateKeyPath: validKeyPath,
				},
				BaseURL: "https://github.example.com/api/v3/",
				Timeout: 15 * time.Second,
			},
			assert: func(t *testing.T, client *RESTClient) {
				t.Helper()
				httpClient := client.Client.Client()
				transport, ok := httpClient.Transport.(*ghinstallation.Transport)
				if !ok {
					t.Fatalf("transport type = %T, want *ghinstallation.Transport", httpClient.Transport)
				}
				if transport.BaseURL != "https://github.example.com/api/v3" {
					t.Fatalf("app transport BaseURL = %q, want enterprise API root", transport.BaseURL)
				}
				if httpClient.Timeout != 15*time.Second {
					t.Fatalf("timeout = %s, want 15s", httpClient.Timeout)
				}
			},
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			client, err := NewRESTClient(tc.config)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("NewRESTClient() error = %v, want %v", err, tc.wantErr)
				}
				return
			}
			if len(tc.errContains) > 0 {
				if err == nil {
					t.Fatalf("NewRESTClient() expected error, got nil")
				}
				for _, want := range tc.errContains {
					if !strings.Contains(err.Error(), want) {
						t.Fatalf("error = %q, missing %q", err.Error(), want)
					}
				}
				return
			}
			if err != nil {
				t.Fatalf("NewRESTClient() unexpected error: %v", err)
			}
			if tc.assert != nil {
				tc.assert(t, client)
			}
		})
	}
}

func TestNewRESTClientSendsToken(t *testing.T) {
	t.Parallel()

	var authorized atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorized.Store(r.Header.Get("Authorization") == "Bearer ghp_example")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"login":"octocat"}`))
	}))
	t.Cleanup(server.Close)

	client, err := NewRESTClient(ClientConfig{
		Credentials:   Credentials{Token: " ghp_example "},
		BaseURL:       server.URL,
		BaseTransport: server.Client().Transport,
	})
	if err != nil {
		t.Fatalf("NewRESTClient() unexpected error: %v", err)
	}
	user, _, err := client.Client.Users.Get(context.Background(), "")
	if err != nil {
		t.Fatalf("Users.Get() unexpected error: %v", err)
	}
	if user.GetLogin() != "octocat" {
		t.Fatalf("login = %q, want octocat", user.GetLogin())
	}
	if !authorized.Load() {
		t.Fatalf("request did not carry the bearer token")
	}
}
