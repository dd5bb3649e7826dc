// Athletesync - Incremental Activity History Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/athletesync

/*
client.go - Remote Activity Service Client

This file provides the HTTP layer shared by every remote endpoint.

Client Features:
  - Session cookie authentication
  - x-requested-with header required by the remote AJAX endpoints
  - Linear retry on 5xx responses (base delay * attempt)
  - Typed errors: FetchError for non-2xx, ThrottledFetchError for 429
  - Optional circuit breaker (see breaker.go)
  - Request pacing for discovery endpoints via golang.org/x/time/rate

The streams endpoint is not paced here. Its budget is owned by the
ratelimit.Group the sync pipeline waits on before each call.
*/

//nolint:staticcheck // File documentation, not package doc
package remote

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/tomtom215/athletesync/internal/config"
	"github.com/tomtom215/athletesync/internal/logging"
	"github.com/tomtom215/athletesync/internal/metrics"
)

// maxErrorBodySize limits the amount of response body kept on errors.
const maxErrorBodySize = 64 * 1024

// maxBodySize bounds successful response bodies.
const maxBodySize = 64 * 1024 * 1024

// Response is a fully read remote response.
type Response struct {
	Status int
	URL    string
	Header http.Header
	Body   []byte
}

// Client talks to the remote activity service.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	cookie         string
	maxRetries     int
	retryBaseDelay time.Duration
	pacer          *rate.Limiter
	breaker        *breaker
}

// NewClient creates a client from cfg.
func NewClient(cfg *config.RemoteConfig) *Client {
	c := &Client{
		httpClient:     &http.Client{Timeout: cfg.Timeout},
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		cookie:         cfg.SessionCookie,
		maxRetries:     cfg.MaxRetries,
		retryBaseDelay: cfg.RetryBaseDelay,
	}
	if cfg.DiscoveryRPS > 0 {
		burst := cfg.DiscoveryBurst
		if burst < 1 {
			burst = 1
		}
		c.pacer = rate.NewLimiter(rate.Limit(cfg.DiscoveryRPS), burst)
	}
	if cfg.CircuitBreaker.Enabled {
		c.breaker = newBreaker("remote-api", &cfg.CircuitBreaker)
	}
	return c
}

// SetHTTPClient replaces the underlying HTTP client.
func (c *Client) SetHTTPClient(hc *http.Client) {
	c.httpClient = hc
}

// Fetch issues a GET for urn (path plus optional query) relative to the
// base URL. 5xx responses are retried up to the configured bound; any
// other non-2xx response is returned as a *FetchError or
// *ThrottledFetchError.
func (c *Client) Fetch(ctx context.Context, urn string, query url.Values) (*Response, error) {
	if c.breaker == nil {
		return c.fetch(ctx, urn, query)
	}
	return c.breaker.execute(func() (*Response, error) {
		return c.fetch(ctx, urn, query)
	})
}

// pace blocks until the discovery pacer admits a request.
func (c *Client) pace(ctx context.Context) error {
	if c.pacer == nil {
		return nil
	}
	return c.pacer.Wait(ctx)
}

func (c *Client) fetch(ctx context.Context, urn string, query url.Values) (*Response, error) {
	reqURL := c.baseURL + urn
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	for attempt := 1; ; attempt++ {
		resp, err := c.do(ctx, reqURL)
		if err != nil {
			metrics.RecordRemoteStatus(0)
			return nil, err
		}
		metrics.RecordRemoteStatus(resp.Status)

		if resp.Status >= 200 && resp.Status < 300 {
			return resp, nil
		}
		if resp.Status >= 500 && resp.Status < 600 && attempt <= c.maxRetries {
			delay := c.retryBaseDelay * time.Duration(attempt)
			logging.Ctx(ctx).Info().
				Str("url", resp.URL).
				Int("status", resp.Status).
				Int("attempt", attempt).
				Int("max_retries", c.maxRetries).
				Dur("delay", delay).
				Msg("Remote server error, retrying")

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			continue
		}
		return nil, newFetchError(resp)
	}
}

func (c *Client) do(ctx context.Context, reqURL string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	// Required by most remote AJAX endpoints.
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	if c.cookie != "" {
		req.Header.Set("Cookie", c.cookie)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	limit := int64(maxBodySize)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		limit = maxErrorBodySize
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	return &Response{
		Status: resp.StatusCode,
		URL:    resp.Request.URL.String(),
		Header: resp.Header,
		Body:   body,
	}, nil
}
