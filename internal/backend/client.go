package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// maxResponseBytes bounds backend responses, generated images are inlined as base64.
const maxResponseBytes = 64 << 20

// Config for the generation backend client.
type Config struct {
	BaseURL string
	// Timeout for a single backend call, generations can take minutes.
	Timeout time.Duration

	// OAuth2 client credentials, all optional. When ClientID is set every
	// request carries a bearer token from TokenURL.
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
}

func (c *Config) ApplyDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Minute
	}
}

func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return errors.New("backend base url is required")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid backend base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("backend base url must be http or https: %s", c.BaseURL)
	}
	if c.ClientID != "" && c.TokenURL == "" {
		return errors.New("backend token url is required with a client id")
	}
	return nil
}

// Error is returned for a non-success backend response.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return e.Message
}

// Client posts generation requests to the backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a backend client. ctx scopes OAuth2 token fetches.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: cfg.Timeout}

	if cfg.ClientID != "" {
		cc := &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		ctx = context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Timeout: 30 * time.Second})
		httpClient = cc.Client(ctx)
		httpClient.Timeout = cfg.Timeout

		log.Info().Str("token_url", cfg.TokenURL).Msg("Backend calls use client credentials")
	}

	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: httpClient,
	}, nil
}

// Call posts payload to path and returns the JSON result. A non-success
// status returns *Error; transport and decode failures return other errors.
func (c *Client) Call(ctx context.Context, path string, payload json.RawMessage) (json.RawMessage, error) {
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build backend request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read backend response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{
			StatusCode: resp.StatusCode,
			Message:    ExtractErrorMessage(resp.StatusCode, body),
		}
	}

	if !json.Valid(body) {
		return nil, errors.New("backend returned invalid JSON")
	}

	return json.RawMessage(body), nil
}

// ExtractErrorMessage pulls a readable message out of an error body, trying
// detail, error then message. Non-string details are rendered as compact JSON.
func ExtractErrorMessage(statusCode int, body []byte) string {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err == nil {
		for _, name := range []string{"detail", "error", "message"} {
			raw, ok := fields[name]
			if !ok || isEmptyJSON(raw) {
				continue
			}

			var s string
			if err := json.Unmarshal(raw, &s); err == nil {
				return s
			}

			var compact bytes.Buffer
			if err := json.Compact(&compact, raw); err == nil {
				return compact.String()
			}
		}
	}

	return fmt.Sprintf("backend returned HTTP %d", statusCode)
}

func isEmptyJSON(raw json.RawMessage) bool {
	switch strings.TrimSpace(string(raw)) {
	case "", "null", `""`:
		return true
	}
	return false
}
