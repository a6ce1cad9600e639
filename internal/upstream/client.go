package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/grafana/dskit/backoff"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Config holds the client's connection and admission settings.
type Config struct {
	BaseURL        string
	Token          string
	RateLimitRPS   float64
	RateLimitBurst int
	MaxRetries     int
}

// Client talks to the provider's query APIs. One Client is constructed at
// process start and injected into every actor, so the token-bucket budget
// is shared by all concurrent refresh cycles.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
	backoffCfg backoff.Config
	logger     zerolog.Logger
}

func NewClient(cfg Config, logger zerolog.Logger) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst),
		backoffCfg: backoff.Config{
			MinBackoff: 250 * time.Millisecond,
			MaxBackoff: 8 * time.Second,
			MaxRetries: cfg.MaxRetries,
		},
		logger: logger.With().Str("component", "upstream-client").Logger(),
	}
}

// envelope is the provider's response wrapper shared by every endpoint.
type envelope struct {
	Success bool `json:"success"`
	Errors  []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
	Result     json.RawMessage `json:"result"`
	ResultInfo *struct {
		Page       int `json:"page"`
		TotalPages int `json:"total_pages"`
	} `json:"result_info"`
}

// do runs one admitted, retried request and returns the decoded envelope.
// Retryable failures back off exponentially up to the retry ceiling, then
// fail outward.
func (c *Client) do(ctx context.Context, method, path string, body any) (*envelope, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
	}

	retry := backoff.New(ctx, c.backoffCfg)
	var lastErr error
	for retry.Ongoing() {
		if lastErr != nil {
			upstreamRetriesTotal.WithLabelValues(path).Inc()
		}

		env, err := c.attempt(ctx, method, path, payload)
		if err == nil {
			return env, nil
		}
		lastErr = err
		if !IsRetryable(lastErr) {
			return nil, lastErr
		}

		c.logger.Warn().Err(lastErr).Str("path", path).Msg("upstream request failed, retrying")
		retry.Wait()
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, retry.Err()
}

// get fetches path and decodes the envelope result into out.
func (c *Client) get(ctx context.Context, path string, out any) error {
	env, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if out != nil && env.Result != nil {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
	}
	return nil
}

// post sends body to path and decodes the envelope result into out.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	env, err := c.do(ctx, http.MethodPost, path, body)
	if err != nil {
		return err
	}
	if out != nil && env.Result != nil {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
	}
	return nil
}

func (c *Client) attempt(ctx context.Context, method, path string, payload []byte) (*envelope, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &APIError{Code: CodeTimeout, Message: err.Error(), Retryable: false}
	}

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	upstreamRequestDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
	if err != nil {
		// A timed-out call surfaces as a timeout error; the transport is
		// not forcibly aborted beyond the request context.
		upstreamRequestsTotal.WithLabelValues(path, "error").Inc()
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, &APIError{Code: CodeTimeout, Message: err.Error(), Retryable: false}
		}
		return nil, &APIError{Code: CodeTimeout, Message: err.Error(), Retryable: true}
	}
	defer resp.Body.Close()
	upstreamRequestsTotal.WithLabelValues(path, strconv.Itoa(resp.StatusCode)).Inc()

	if err := classifyStatus(resp.StatusCode); err != nil {
		io.Copy(io.Discard, resp.Body)
		return nil, err
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, &APIError{Code: CodeUnavailable, Message: "decode response: " + err.Error(), Retryable: true}
	}

	if !env.Success {
		msg := "unknown API error"
		if len(env.Errors) > 0 {
			msg = env.Errors[0].Message
		}
		return nil, &APIError{Code: CodeQuery, Message: msg, Retryable: false}
	}
	return &env, nil
}

// doPaged repeats a GET until result_info reports the last page, handing
// each page's raw result to collect.
func (c *Client) doPaged(ctx context.Context, path string, collect func(json.RawMessage) error) error {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	for page := 1; ; page++ {
		pagedPath := fmt.Sprintf("%s%spage=%d&per_page=50", path, sep, page)

		env, err := c.do(ctx, http.MethodGet, pagedPath, nil)
		if err != nil {
			return err
		}
		if err := collect(env.Result); err != nil {
			return err
		}
		if env.ResultInfo == nil || env.ResultInfo.Page >= env.ResultInfo.TotalPages {
			return nil
		}
	}
}

func classifyStatus(status int) error {
	switch {
	case status == http.StatusOK:
		return nil
	case status == http.StatusTooManyRequests:
		return &APIError{Code: CodeRateLimited, Message: "rate limited by upstream", Retryable: true}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &APIError{Code: CodeAuthFailed, Message: fmt.Sprintf("authentication failed (%d)", status), Retryable: false}
	case status >= 500:
		return &APIError{Code: CodeUnavailable, Message: fmt.Sprintf("upstream unavailable (%d)", status), Retryable: true}
	default:
		return &APIError{Code: CodeUnavailable, Message: fmt.Sprintf("unexpected status %d", status), Retryable: false}
	}
}
