// Package registry provides the employee registry used to decide whether a
// punch event should produce attendance sessions at all. Inactive and
// biometric-exempt employees are skipped by the folding engine.
//
// A registry outage must never stall reconciliation: lookups degrade to
// "active, not exempt" with a warning, so sessions keep folding and an
// operator can reconcile exemptions later.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mfarhanz/go-attendance-core/internal/config"
)

// Registry answers employee eligibility questions for the folding engine and
// the stale-session closer.
type Registry interface {
	IsActiveEmployee(ctx context.Context, code string) bool
	IsBiometricExempt(ctx context.Context, code string) bool
}

// Static is a fixed-answer Registry: everyone listed in Inactive/Exempt is
// flagged, everyone else is an active, non-exempt employee. Used when no
// registry service is configured, and in tests.
type Static struct {
	Inactive map[string]bool
	Exempt   map[string]bool
}

// IsActiveEmployee implements Registry.
func (s Static) IsActiveEmployee(_ context.Context, code string) bool {
	return !s.Inactive[code]
}

// IsBiometricExempt implements Registry.
func (s Static) IsBiometricExempt(_ context.Context, code string) bool {
	return s.Exempt[code]
}

// httpRegistry asks a remote registry service over HTTP.
type httpRegistry struct {
	baseURL string
	http    *http.Client
}

// NewHTTP builds a Registry backed by the remote service at cfg.BaseURL.
func NewHTTP(cfg config.RegistryConfig) Registry {
	return &httpRegistry{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: cfg.Timeout},
	}
}

// employeeInfo is the remote answer shape.
type employeeInfo struct {
	Active bool `json:"active"`
	Exempt bool `json:"biometric_exempt"`
}

func (r *httpRegistry) lookup(ctx context.Context, code string) (employeeInfo, error) {
	u := fmt.Sprintf("%s/employees/%s", r.baseURL, url.PathEscape(code))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return employeeInfo{}, err
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return employeeInfo{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		// Unknown code: treat as inactive rather than inventing sessions.
		return employeeInfo{Active: false}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return employeeInfo{}, fmt.Errorf("registry returned %d", resp.StatusCode)
	}
	var info employeeInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return employeeInfo{}, err
	}
	return info, nil
}

// IsActiveEmployee implements Registry. Failures degrade to active.
func (r *httpRegistry) IsActiveEmployee(ctx context.Context, code string) bool {
	info, err := r.lookup(ctx, code)
	if err != nil {
		log.Warn().Err(err).Str("component", "registry").Str("employee_code", code).
			Msg("registry lookup failed, assuming active")
		return true
	}
	return info.Active
}

// IsBiometricExempt implements Registry. Failures degrade to not exempt.
func (r *httpRegistry) IsBiometricExempt(ctx context.Context, code string) bool {
	info, err := r.lookup(ctx, code)
	if err != nil {
		log.Warn().Err(err).Str("component", "registry").Str("employee_code", code).
			Msg("registry lookup failed, assuming not exempt")
		return false
	}
	return info.Exempt
}

// cached wraps another Registry with a TTL cache. Folding consults the
// registry for every event; without the cache a busy poll cycle would hammer
// the registry with one lookup per punch.
type cached struct {
	inner Registry
	ttl   time.Duration

	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	active  bool
	exempt  bool
	expires time.Time
}

// NewCached wraps inner with a TTL cache.
func NewCached(inner Registry, ttl time.Duration) Registry {
	return &cached{inner: inner, ttl: ttl, entries: make(map[string]cacheEntry)}
}

func (c *cached) get(ctx context.Context, code string) cacheEntry {
	c.mu.Lock()
	e, ok := c.entries[code]
	c.mu.Unlock()
	if ok && time.Now().Before(e.expires) {
		return e
	}

	e = cacheEntry{
		active:  c.inner.IsActiveEmployee(ctx, code),
		exempt:  c.inner.IsBiometricExempt(ctx, code),
		expires: time.Now().Add(c.ttl),
	}
	c.mu.Lock()
	c.entries[code] = e
	c.mu.Unlock()
	return e
}

// IsActiveEmployee implements Registry.
func (c *cached) IsActiveEmployee(ctx context.Context, code string) bool {
	return c.get(ctx, code).active
}

// IsBiometricExempt implements Registry.
func (c *cached) IsBiometricExempt(ctx context.Context, code string) bool {
	return c.get(ctx, code).exempt
}

// FromConfig assembles the Registry the pipeline should use: the remote
// service behind a cache when configured, otherwise a permissive Static.
func FromConfig(cfg config.RegistryConfig) Registry {
	if cfg.BaseURL == "" {
		return Static{}
	}
	return NewCached(NewHTTP(cfg), cfg.CacheTTL)
}
