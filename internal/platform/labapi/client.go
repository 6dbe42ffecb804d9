// Package labapi is the HTTP client for the upstream laboratory backend. It
// normalizes every response generation into the domain types of the results
// and trends packages.
package labapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/labportal/labportal/internal/domain/results"
	"github.com/labportal/labportal/internal/domain/trends"
	"github.com/labportal/labportal/internal/platform/auth"
)

const (
	resultsPath    = "/api/results"
	summaryPath    = "/api/results/summary"
	cumulativePath = "/api/results/%s/cumulative"

	maxErrorBody = 4 << 10
)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithTokenProvider sets the source of the upstream bearer token.
func WithTokenProvider(p auth.TokenProvider) ClientOption {
	return func(c *Client) { c.tokens = p }
}

// Client talks to the lab backend. It never retries; every failure surfaces
// as a *results.FetchError.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  auth.TokenProvider
	logger  zerolog.Logger
}

// NewClient creates a client for the backend at baseURL.
func NewClient(baseURL string, timeout time.Duration, logger zerolog.Logger, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchPage loads one page of the result listing.
func (c *Client) FetchPage(ctx context.Context, q results.CompiledQuery) (*results.ResultPage, error) {
	body, err := c.get(ctx, resultsPath, q.Values())
	if err != nil {
		return nil, err
	}
	page, err := decodeListing(body, q)
	if err != nil {
		return nil, &results.FetchError{Message: err.Error()}
	}
	return page, nil
}

// FetchSummary loads the counter summary for q's date bounds and scope.
func (c *Client) FetchSummary(ctx context.Context, q results.CompiledQuery) (*results.Summary, error) {
	body, err := c.get(ctx, summaryPath, q.SummaryValues())
	if err != nil {
		return nil, err
	}
	var env summaryEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &results.FetchError{Message: fmt.Sprintf("decode summary: %v", err)}
	}
	return env.normalize(), nil
}

// FetchCumulative loads the cross-report view anchored at reportID.
func (c *Client) FetchCumulative(ctx context.Context, reportID string) (*trends.Cumulative, error) {
	body, err := c.get(ctx, fmt.Sprintf(cumulativePath, url.PathEscape(reportID)), nil)
	if err != nil {
		return nil, err
	}
	var env cumulativeEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &results.FetchError{Message: fmt.Sprintf("decode cumulative: %v", err)}
	}
	return env.normalize(), nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	target := c.baseURL + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &results.FetchError{Message: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Accept", "application/json")

	if c.tokens != nil {
		tok, err := c.tokens.Token(ctx)
		switch {
		case err == nil:
			req.Header.Set("Authorization", "Bearer "+tok)
		case errors.Is(err, auth.ErrNoToken):
		default:
			return nil, &results.FetchError{Message: fmt.Sprintf("obtain upstream token: %v", err)}
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug().Err(err).Str("path", path).Msg("lab backend request failed")
		return nil, &results.FetchError{Message: err.Error()}
	}
	defer resp.Body.Close()

	c.logger.Debug().
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("lab backend request")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &results.FetchError{Status: resp.StatusCode, Message: errorMessage(resp.StatusCode, raw)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &results.FetchError{Status: resp.StatusCode, Message: fmt.Sprintf("read body: %v", err)}
	}
	return body, nil
}

// errorMessage extracts a human readable message from an error body.
func errorMessage(status int, raw []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
		Title   string `json:"title"`
	}
	if json.Unmarshal(raw, &payload) == nil {
		for _, m := range []string{payload.Message, payload.Error, payload.Title} {
			if m != "" {
				return m
			}
		}
	}
	if text := strings.TrimSpace(string(raw)); text != "" && len(text) < 200 {
		return text
	}
	return http.StatusText(status)
}
