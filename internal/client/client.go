package client

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

	"connectrpc.com/connect"
	"github.com/cenkalti/backoff/v5"
	"github.com/wolfeidau/genjobs/internal/gateway"
	httpmiddleware "github.com/wolfeidau/genjobs/internal/http"
	"github.com/wolfeidau/genjobs/internal/models"
	"github.com/wolfeidau/genjobs/internal/server"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ErrJobNotFound is returned by GetJob for an unknown job id.
var ErrJobNotFound = errors.New("job not found")

// Config holds common client configuration
type Config struct {
	ServerURL string
	// Token is sent as a bearer token when set.
	Token string
	// Timeout bounds each API call except the change stream. Synchronous
	// submissions wait for the generation, so it must cover the backend.
	Timeout time.Duration
	// Cache is shared by the reads of this client, nil disables caching.
	Cache        *QueryCache
	Interceptors []connect.Interceptor
}

func (c *Config) ApplyDefaults() {
	if c.ServerURL == "" {
		c.ServerURL = "http://localhost:8080"
	}
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Minute
	}
}

func (c *Config) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return fmt.Errorf("invalid server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("server url must be http or https: %s", c.ServerURL)
	}
	return nil
}

// Error is a non-success API response.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (HTTP %d)", e.Message, e.StatusCode)
}

// SubmitResult is the relayed response of a synchronous submission.
type SubmitResult struct {
	StatusCode int
	Body       json.RawMessage
}

// Client calls the genjobs HTTP API and change stream.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	retries    int
	changes    *connect.Client[wrapperspb.StringValue, structpb.Struct]
}

func New(cfg Config) (*Client, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	baseURL := strings.TrimRight(cfg.ServerURL, "/")

	transport := http.DefaultTransport
	retries := 0
	if cfg.Cache != nil {
		transport = cfg.Cache.Transport(transport)
		retries = cfg.Cache.Options().Retries
	}

	// the stream stays open for as long as a generation is watched
	streamClient := &http.Client{}

	return &Client{
		baseURL:    baseURL,
		token:      cfg.Token,
		httpClient: &http.Client{Transport: transport, Timeout: cfg.Timeout},
		retries:    retries,
		changes: connect.NewClient[wrapperspb.StringValue, structpb.Struct](
			streamClient,
			baseURL+server.WatchGenerationProcedure,
			connect.WithInterceptors(cfg.Interceptors...),
		),
	}, nil
}

// ListJobs returns the jobs of a generation, served from the cache while fresh.
func (c *Client) ListJobs(ctx context.Context, generationID string) ([]*models.GenerationJob, error) {
	return c.listJobs(ctx, generationID, "")
}

// RefetchJobs is ListJobs bypassing any cached response.
func (c *Client) RefetchJobs(ctx context.Context, generationID string) ([]*models.GenerationJob, error) {
	return c.listJobs(ctx, generationID, "no-cache")
}

func (c *Client) listJobs(ctx context.Context, generationID, cacheControl string) ([]*models.GenerationJob, error) {
	if generationID == "" {
		return nil, errors.New("generation id is required")
	}

	path := "/api/generations/" + url.PathEscape(generationID) + "/jobs"

	return retryRead(ctx, c.retries, "list_jobs", func() ([]*models.GenerationJob, error) {
		var resp server.ListJobsResponse
		if err := c.get(ctx, path, cacheControl, &resp); err != nil {
			return nil, err
		}
		return resp.Jobs, nil
	})
}

func (c *Client) GetJob(ctx context.Context, jobID string) (*models.GenerationJob, error) {
	if jobID == "" {
		return nil, errors.New("job id is required")
	}

	return retryRead(ctx, c.retries, "get_job", func() (*models.GenerationJob, error) {
		var job models.GenerationJob
		if err := c.get(ctx, "/api/jobs/"+url.PathEscape(jobID), "", &job); err != nil {
			var apiErr *Error
			if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
				return nil, backoff.Permanent(ErrJobNotFound)
			}
			return nil, err
		}
		return &job, nil
	})
}

// Submit runs a synchronous submission and relays the gateway's response.
// Backend failures are not Go errors, they come back as a non-2xx result.
func (c *Client) Submit(ctx context.Context, req gateway.Request) (*SubmitResult, error) {
	resp, err := c.post(ctx, "/api/jobs", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read submit response: %w", err)
	}

	return &SubmitResult{StatusCode: resp.StatusCode, Body: body}, nil
}

// SubmitAsync starts a submission without waiting for the backend.
func (c *Client) SubmitAsync(ctx context.Context, req gateway.Request) (*gateway.SubmitResponse, error) {
	resp, err := c.post(ctx, "/api/jobs/submit", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return nil, responseError(resp)
	}

	var out gateway.SubmitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode submit response: %w", err)
	}
	return &out, nil
}

func (c *Client) get(ctx context.Context, path, cacheControl string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if cacheControl != "" {
		req.Header.Set("Cache-Control", cacheControl)
	}
	c.authorize(req.Header)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := responseError(resp)
		if resp.StatusCode < http.StatusInternalServerError {
			return backoff.Permanent(err)
		}
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return backoff.Permanent(fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, v any) (*http.Response, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req.Header)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

func (c *Client) authorize(h http.Header) {
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
}

func responseError(resp *http.Response) *Error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var errResp httpmiddleware.ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		return &Error{StatusCode: resp.StatusCode, Message: errResp.Error}
	}
	return &Error{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
}
