// Package upstream implements the client for the biometric terminal polling
// API. It is the only component with real network latency in the pipeline;
// every call is bounded by a per-call timeout and a small retry budget with
// exponential backoff, so a stuck upstream can delay at most its own caller's
// cycle.
//
// Retry policy is centralized here (one backoff utility for both the polling
// scheduler and the backfill agent) instead of scattered per call site.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/mfarhanz/go-attendance-core/internal/config"
)

// ErrAuth indicates the upstream rejected our credentials even after a
// re-authentication attempt. Callers treat it as a skipped cycle, not a crash.
var ErrAuth = errors.New("upstream authentication failed")

// Event is one punch record as delivered by the upstream API.
type Event struct {
	SourceID     int64           `json:"source_id"`
	EmployeeCode string          `json:"employee_code"`
	Timestamp    time.Time       `json:"timestamp"`
	Direction    string          `json:"direction"`
	TerminalID   string          `json:"terminal_id"`
	Raw          json.RawMessage `json:"raw,omitempty"`
}

// Client talks to the upstream biometric API with bearer-token auth.
// It is safe for concurrent use; the token is refreshed under a mutex.
type Client struct {
	baseURL    string
	username   string
	password   string
	pageSize   int
	maxRetries uint64
	http       *http.Client

	mu    sync.Mutex
	token string
}

// NewClient builds a Client from configuration. The underlying http.Client
// carries the per-call timeout; TLS and connectivity errors surface as
// transient and go through the retry budget.
func NewClient(cfg config.UpstreamConfig) *Client {
	return &Client{
		baseURL:    cfg.BaseURL,
		username:   cfg.Username,
		password:   cfg.Password,
		pageSize:   cfg.PageSize,
		maxRetries: cfg.MaxRetries,
		http:       &http.Client{Timeout: cfg.Timeout},
	}
}

// FetchWindow returns all events whose upstream timestamp falls in
// [since, until], fetching page by page until a short page arrives.
func (c *Client) FetchWindow(ctx context.Context, since, until time.Time) ([]Event, error) {
	q := url.Values{}
	q.Set("since", since.UTC().Format(time.RFC3339))
	q.Set("until", until.UTC().Format(time.RFC3339))
	return c.fetchPaged(ctx, q)
}

// FetchRange returns events with source ids in [gte, lte], the targeted
// backfill query. Upstream returning an empty result is not an error; it
// means upstream has no memory of those ids.
func (c *Client) FetchRange(ctx context.Context, gte, lte int64) ([]Event, error) {
	q := url.Values{}
	q.Set("id_gte", strconv.FormatInt(gte, 10))
	q.Set("id_lte", strconv.FormatInt(lte, 10))
	return c.fetchPaged(ctx, q)
}

func (c *Client) fetchPaged(ctx context.Context, base url.Values) ([]Event, error) {
	var all []Event
	offset := 0
	for {
		q := url.Values{}
		for k, v := range base {
			q[k] = v
		}
		q.Set("limit", strconv.Itoa(c.pageSize))
		q.Set("offset", strconv.Itoa(offset))

		page, err := c.getEvents(ctx, q)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < c.pageSize {
			return all, nil
		}
		offset += len(page)
	}
}

// getEvents performs one GET /events call under the retry policy. A 401 is
// handled inside a single attempt: re-authenticate once and repeat the
// request; a second 401 is permanent (ErrAuth).
func (c *Client) getEvents(ctx context.Context, q url.Values) ([]Event, error) {
	var out []Event
	op := func() error {
		body, status, err := c.doGet(ctx, "/events?"+q.Encode())
		if err != nil {
			return err // transport error: transient
		}
		if status == http.StatusUnauthorized {
			if err := c.authenticate(ctx); err != nil {
				return backoff.Permanent(ErrAuth)
			}
			body, status, err = c.doGet(ctx, "/events?"+q.Encode())
			if err != nil {
				return err
			}
			if status == http.StatusUnauthorized {
				return backoff.Permanent(ErrAuth)
			}
		}
		if status >= 500 {
			return fmt.Errorf("upstream returned %d", status)
		}
		if status != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("upstream returned %d", status))
		}
		out = nil
		if err := json.Unmarshal(body, &out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode events: %w", err))
		}
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) doGet(ctx context.Context, path string) (body []byte, status int, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, 0, err
	}
	if tok := c.currentToken(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	body, err = io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}

func (c *Client) currentToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// authenticate obtains a fresh bearer token.
func (c *Client) authenticate(ctx context.Context) error {
	payload, _ := json.Marshal(map[string]string{
		"username": c.username,
		"password": c.password,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/token", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("token endpoint returned %d", resp.StatusCode)
	}

	var tok struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return err
	}
	if tok.Token == "" {
		return errors.New("token endpoint returned empty token")
	}

	c.mu.Lock()
	c.token = tok.Token
	c.mu.Unlock()
	log.Debug().Str("component", "upstream").Msg("re-authenticated")
	return nil
}
