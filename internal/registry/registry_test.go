package registry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mfarhanz/go-attendance-core/internal/config"
)

func TestStatic(t *testing.T) {
	r := Static{
		Inactive: map[string]bool{"E9": true},
		Exempt:   map[string]bool{"E2": true},
	}
	ctx := context.Background()
	if !r.IsActiveEmployee(ctx, "E1") || r.IsActiveEmployee(ctx, "E9") {
		t.Fatalf("active answers wrong")
	}
	if r.IsBiometricExempt(ctx, "E1") || !r.IsBiometricExempt(ctx, "E2") {
		t.Fatalf("exempt answers wrong")
	}
}

func TestHTTP_LookupAndFallbacks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/employees/E1":
			_ = json.NewEncoder(w).Encode(map[string]bool{"active": true, "biometric_exempt": false})
		case "/employees/EX":
			_ = json.NewEncoder(w).Encode(map[string]bool{"active": true, "biometric_exempt": true})
		case "/employees/GONE":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	r := NewHTTP(config.RegistryConfig{BaseURL: srv.URL, Timeout: 2 * time.Second})
	ctx := context.Background()

	if !r.IsActiveEmployee(ctx, "E1") {
		t.Fatalf("E1 should be active")
	}
	if !r.IsBiometricExempt(ctx, "EX") {
		t.Fatalf("EX should be exempt")
	}
	// Unknown employee codes never produce sessions.
	if r.IsActiveEmployee(ctx, "GONE") {
		t.Fatalf("404 should read as inactive")
	}
	// Server errors degrade permissively: folding must not stall.
	if !r.IsActiveEmployee(ctx, "BOOM") {
		t.Fatalf("5xx should degrade to active")
	}
	if r.IsBiometricExempt(ctx, "BOOM") {
		t.Fatalf("5xx should degrade to not exempt")
	}
}

type countingRegistry struct {
	calls int64
}

func (c *countingRegistry) IsActiveEmployee(context.Context, string) bool {
	atomic.AddInt64(&c.calls, 1)
	return true
}

func (c *countingRegistry) IsBiometricExempt(context.Context, string) bool {
	atomic.AddInt64(&c.calls, 1)
	return false
}

func TestCached_CollapsesLookups(t *testing.T) {
	inner := &countingRegistry{}
	r := NewCached(inner, time.Minute)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		r.IsActiveEmployee(ctx, "E1")
		r.IsBiometricExempt(ctx, "E1")
	}
	// One cache fill = two inner calls (active + exempt).
	if got := atomic.LoadInt64(&inner.calls); got != 2 {
		t.Fatalf("expected 2 inner calls, got %d", got)
	}

	r.IsActiveEmployee(ctx, "E2")
	if got := atomic.LoadInt64(&inner.calls); got != 4 {
		t.Fatalf("expected 4 inner calls after second key, got %d", got)
	}
}

func TestFromConfig(t *testing.T) {
	if _, ok := FromConfig(config.RegistryConfig{}).(Static); !ok {
		t.Fatalf("empty base URL should yield Static registry")
	}
	r := FromConfig(config.RegistryConfig{BaseURL: "http://reg", CacheTTL: time.Minute, Timeout: time.Second})
	if _, ok := r.(Static); ok {
		t.Fatalf("configured base URL should not yield Static registry")
	}
}
