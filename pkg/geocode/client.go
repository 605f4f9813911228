// Package geocode provides the lookup-provider abstraction and its
// implementations (Census, Nominatim, Geocodio, Mapbox, Google, Photon).
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/vote-match/internal/model"
)

// AddressInput represents an address to geocode.
type AddressInput struct {
	ID        string // record identifier, echoed back on the Result
	Street    string
	Secondary string // unit; only address validation sends it separately
	City      string
	State     string
	ZipCode   string
}

// Result is a provider answer normalized to the shared quality scale.
type Result struct {
	RecordID    string
	Provider    string
	Quality     model.Quality
	Lon         *float64
	Lat         *float64
	MatchedText string
	Confidence  *float64
	Payload     json.RawMessage
	Error       string
}

// Attempt converts the result into an attempt row for persistence.
func (r Result) Attempt(at time.Time) model.Attempt {
	return model.Attempt{
		RecordID:    r.RecordID,
		Provider:    r.Provider,
		Quality:     r.Quality,
		Lon:         r.Lon,
		Lat:         r.Lat,
		MatchedText: r.MatchedText,
		Confidence:  r.Confidence,
		Payload:     r.Payload,
		Error:       r.Error,
		CreatedAt:   at,
	}
}

// Option configures a provider.
type Option func(*client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) {
		c.httpClient = hc
	}
}

// WithLimiter replaces the pacing limiter used by one-record-at-a-time providers.
func WithLimiter(l *rate.Limiter) Option {
	return func(c *client) {
		c.limiter = l
	}
}

// client is the HTTP plumbing shared by every provider.
type client struct {
	name       string
	httpClient *http.Client
	limiter    *rate.Limiter
}

func newClient(name string, timeout, delay time.Duration, opts ...Option) client {
	c := client{
		name:       name,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    paceLimiter(delay),
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// paceLimiter allows one request immediately, then one per delay.
func paceLimiter(delay time.Duration) *rate.Limiter {
	if delay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(delay), 1)
}

// do executes req and returns the body of a 2xx response. 401/403 become a
// CredentialError, anything else a TransportError.
func (c *client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Provider: c.name, Err: eris.Wrap(err, "request")}
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Provider: c.name, StatusCode: resp.StatusCode, Err: eris.Wrap(err, "read body")}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &CredentialError{Provider: c.name, Reason: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &TransportError{
			Provider:   c.name,
			StatusCode: resp.StatusCode,
			Body:       body,
			Err:        eris.Errorf("unexpected status: %s", truncate(string(body), 200)),
		}
	}
	return body, nil
}

// query is one prepared request for a one-record-at-a-time provider.
type query struct {
	ID    string
	Query string
}

// reply is the raw outcome of one individual request.
type reply struct {
	ID    string
	Query string
	Body  []byte
	Err   error
}

// each sends one request per query, waiting on the limiter between calls.
// Per-record transport failures are kept on the reply. Credential failures and
// context cancellation abort the whole call so the batch is failed as a unit.
func (c *client) each(ctx context.Context, queries []query, build func(ctx context.Context, q query) (*http.Request, error)) ([]reply, error) {
	replies := make([]reply, 0, len(queries))
	for _, q := range queries {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &TransportError{Provider: c.name, Err: eris.Wrap(err, "rate limit wait")}
		}

		req, err := build(ctx, q)
		if err != nil {
			return nil, eris.Wrapf(err, "geocode: %s: build request", c.name)
		}

		body, err := c.do(req)
		if err != nil {
			var credErr *CredentialError
			if errors.As(err, &credErr) {
				return nil, err
			}
			if ctx.Err() != nil {
				return nil, &TransportError{Provider: c.name, Err: eris.Wrap(ctx.Err(), "context done")}
			}
			replies = append(replies, reply{ID: q.ID, Query: q.Query, Err: err})
			continue
		}
		replies = append(replies, reply{ID: q.ID, Query: q.Query, Body: body})
	}
	return replies, nil
}

// failedResult records a per-record failure.
func failedResult(provider, id, query string, err error) Result {
	return Result{
		RecordID: id,
		Provider: provider,
		Quality:  model.QualityFailed,
		Payload:  payload(map[string]any{"query": query}),
		Error:    err.Error(),
	}
}

// formatQuery renders "street, city, ST zip" (or "street, city, ST" without a zip).
func formatQuery(addr AddressInput) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{addr.Street, addr.City} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	tail := strings.TrimSpace(strings.TrimSpace(addr.State) + " " + strings.TrimSpace(addr.ZipCode))
	if tail != "" {
		parts = append(parts, tail)
	}
	return strings.Join(parts, ", ")
}

// payload marshals provider details for the attempt's raw payload column.
func payload(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
