package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"flockbridge.io/flockbridge/internal/domain"
	apperrors "flockbridge.io/flockbridge/internal/pkg/errors"
	"flockbridge.io/flockbridge/internal/pkg/logger"
)

// HTTPClientOptions configures HTTPClient.
type HTTPClientOptions struct {
	BaseURL     string
	Credentials CredentialSource
	HTTPClient  *http.Client
	UserAgent   string
	// MaxRateLimitRetries bounds in-client retries of 429 responses. Other
	// failures surface as FETCH_ERROR and are retried by the workflow layer.
	MaxRateLimitRetries int
	MaxDelay            time.Duration
}

// HTTPClient talks JSON:API over HTTP with per-org basic auth.
type HTTPClient struct {
	baseURL     string
	credentials CredentialSource
	httpClient  *http.Client
	userAgent   string
	maxRetries  int
	maxDelay    time.Duration
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates an HTTPClient.
func NewHTTPClient(opts HTTPClientOptions) *HTTPClient {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.planningcenteronline.com"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	maxRetries := opts.MaxRateLimitRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 20 * time.Second
	}
	userAgent := strings.TrimSpace(opts.UserAgent)
	if userAgent == "" {
		userAgent = "flockbridge"
	}
	return &HTTPClient{
		baseURL:     baseURL,
		credentials: opts.Credentials,
		httpClient:  httpClient,
		userAgent:   userAgent,
		maxRetries:  maxRetries,
		maxDelay:    maxDelay,
	}
}

// List fetches one collection page.
func (c *HTTPClient) List(ctx context.Context, orgID, path string, params map[string]string) (*ListResponse, error) {
	var out ListResponse
	if err := c.do(ctx, orgID, "list", http.MethodGet, path, params, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Get fetches a single resource.
func (c *HTTPClient) Get(ctx context.Context, orgID, path string, params map[string]string) (*domain.Document, error) {
	var out domain.Document
	if err := c.do(ctx, orgID, "get", http.MethodGet, path, params, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Create posts a new resource.
func (c *HTTPClient) Create(ctx context.Context, orgID, path string, res Resource) (*domain.Document, error) {
	var out domain.Document
	if err := c.do(ctx, orgID, "create", http.MethodPost, path, nil, res, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Update patches an existing resource.
func (c *HTTPClient) Update(ctx context.Context, orgID, path string, res Resource) (*domain.Document, error) {
	var out domain.Document
	if err := c.do(ctx, orgID, "update", http.MethodPatch, path, nil, res, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) endpoint(path string, params map[string]string) string {
	u := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(params) == 0 {
		return u
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	q := url.Values{}
	for _, k := range keys {
		q.Set(k, params[k])
	}
	return u + "?" + q.Encode()
}

func (c *HTTPClient) do(ctx context.Context, orgID, op, method, path string, params map[string]string, body any, out any) error {
	if c.credentials == nil {
		return apperrors.ErrFetch(op, 0, fmt.Errorf("no credential source configured"))
	}
	creds, ok := c.credentials(orgID)
	if !ok {
		return apperrors.ErrFetch(op, 0, fmt.Errorf("no credentials for org %q", orgID))
	}

	var payload []byte
	if body != nil {
		raw, err := json.Marshal(map[string]any{"data": body})
		if err != nil {
			return apperrors.ErrFetch(op, 0, err)
		}
		payload = raw
	}
	target := c.endpoint(path, params)

	for attempt := 0; ; attempt++ {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, reader)
		if err != nil {
			return apperrors.ErrFetch(op, 0, err)
		}
		req.SetBasicAuth(creds.AppID, creds.Secret)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", c.userAgent)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return apperrors.ErrFetch(op, 0, err)
		}
		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return apperrors.ErrFetch(op, resp.StatusCode, readErr)
		}

		if resp.StatusCode == http.StatusTooManyRequests && attempt < c.maxRetries {
			delay := c.retryDelay(resp.Header.Get("Retry-After"))
			logger.Warn("Provider rate limited",
				zap.String("org_id", orgID),
				zap.String("operation", op),
				zap.Duration("retry_after", delay),
			)
			if err := sleepContext(ctx, delay); err != nil {
				return apperrors.ErrFetch(op, resp.StatusCode, err)
			}
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return apperrors.ErrFetch(op, resp.StatusCode, fmt.Errorf("%s %s: status=%d message=%s",
				method, path, resp.StatusCode, errorMessage(respBody)))
		}
		if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
			return nil
		}
		if err := json.Unmarshal(respBody, out); err != nil {
			return apperrors.ErrFetch(op, resp.StatusCode, fmt.Errorf("decode response: %w", err))
		}
		return nil
	}
}

// errorMessage extracts the first JSON:API error title, or the raw body.
func errorMessage(body []byte) string {
	var parsed struct {
		Errors []struct {
			Title  string `json:"title"`
			Detail string `json:"detail"`
		} `json:"errors"`
	}
	if json.Unmarshal(body, &parsed) == nil && len(parsed.Errors) > 0 {
		e := parsed.Errors[0]
		if e.Detail != "" {
			return e.Title + ": " + e.Detail
		}
		return e.Title
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 512 {
		msg = msg[:512]
	}
	return msg
}

func (c *HTTPClient) retryDelay(header string) time.Duration {
	delay := time.Second
	if seconds, err := strconv.Atoi(strings.TrimSpace(header)); err == nil && seconds >= 0 {
		delay = time.Duration(seconds) * time.Second
	}
	if delay > c.maxDelay {
		return c.maxDelay
	}
	return delay
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
