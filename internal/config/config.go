// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes settings for the
// HTTP server, logging, the SQLite store, the upstream biometric API, and the
// reconciliation pipeline timers and thresholds.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// UpstreamConfig holds settings for the biometric terminal polling API.
type UpstreamConfig struct {
	BaseURL    string        // UPSTREAM_BASE_URL
	Username   string        // UPSTREAM_USERNAME
	Password   string        // UPSTREAM_PASSWORD
	Timeout    time.Duration // per-call timeout
	MaxRetries uint64        // bounded retry budget per call
	PageSize   int           // page size for event queries
}

// RegistryConfig holds settings for the employee registry service.
type RegistryConfig struct {
	BaseURL  string        // REGISTRY_BASE_URL; empty disables remote lookups
	Timeout  time.Duration // per-call timeout
	CacheTTL time.Duration // TTL for cached active/exempt answers
}

// PipelineConfig holds timers and thresholds for the reconciliation tasks.
type PipelineConfig struct {
	PollInterval       time.Duration // T: upstream poll cadence
	PollOverlap        time.Duration // window overlap against boundary loss
	ExtendedAfter      int           // consecutive failures before extended poll
	ExtendedWindow     time.Duration // lookback of the self-heal poll
	FoldInterval       time.Duration // folding engine cadence
	FoldBatchSize      int           // events consumed per folding cycle
	GapScanInterval    time.Duration // gap detector cadence
	GapMaxAttempts     int           // backfill attempts before a gap goes stale
	GapRetryBackoff    time.Duration // minimum wait between attempts on one gap
	SweepInterval      time.Duration // stale-session closer cadence
	StaleAfter         time.Duration // OPEN older than this gets auto-closed
	SessionMaxHours    float64       // cap on TotalHours regardless of elapsed
	PenaltyMissingOut  float64       // hours: fixed penalty for a missing punch-out
	PenaltyOffsite     float64       // hours: employee away from work at close time
	PenaltyLowSignal   float64       // hours: location signal below confidence floor
	ConfidenceFloor    int           // 0..100; below this the signal is low-confidence
	ValidatorInterval  time.Duration // consistency validator cadence
	QualityFloor       int           // 0..100; days under this are flagged
	BaselineWeeks      int           // trailing weeks for the weekday-aware baseline
	OnsiteTerminals    []string      // terminal ids considered "at a work location"
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	GinMode           string // debug|release|test

	// Logging
	LogLevel    string // debug|info|warn|error|fatal|panic
	LogPretty   bool   // pretty console logs in dev
	APIBasePath string // base path for API routes

	// Storage
	DBPath string // SQLite path

	// Collaborators
	Upstream UpstreamConfig
	Registry RegistryConfig

	// Reconciliation pipeline
	Pipeline PipelineConfig

	// Rate limiting (ops/read surface)
	RateRPS   float64
	RateBurst int

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:    strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:   getbool("LOG_PRETTY", false),
		APIBasePath: normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// Storage
		DBPath: getenv("DB_PATH", "attendance.db"),

		Upstream: UpstreamConfig{
			BaseURL:    getenv("UPSTREAM_BASE_URL", "http://localhost:9090"),
			Username:   getenv("UPSTREAM_USERNAME", ""),
			Password:   getenv("UPSTREAM_PASSWORD", ""),
			Timeout:    getdur("UPSTREAM_TIMEOUT", 30*time.Second),
			MaxRetries: uint64(getint("UPSTREAM_MAX_RETRIES", 3)),
			PageSize:   getint("UPSTREAM_PAGE_SIZE", 500),
		},

		Registry: RegistryConfig{
			BaseURL:  getenv("REGISTRY_BASE_URL", ""),
			Timeout:  getdur("REGISTRY_TIMEOUT", 10*time.Second),
			CacheTTL: getdur("REGISTRY_CACHE_TTL", 15*time.Minute),
		},

		Pipeline: PipelineConfig{
			PollInterval:      getdur("POLL_INTERVAL", 5*time.Minute),
			PollOverlap:       getdur("POLL_OVERLAP", 2*time.Minute),
			ExtendedAfter:     getint("POLL_EXTENDED_AFTER", 2),
			ExtendedWindow:    getdur("POLL_EXTENDED_WINDOW", 24*time.Hour),
			FoldInterval:      getdur("FOLD_INTERVAL", time.Minute),
			FoldBatchSize:     getint("FOLD_BATCH_SIZE", 500),
			GapScanInterval:   getdur("GAP_SCAN_INTERVAL", 10*time.Minute),
			GapMaxAttempts:    getint("GAP_MAX_ATTEMPTS", 5),
			GapRetryBackoff:   getdur("GAP_RETRY_BACKOFF", 30*time.Minute),
			SweepInterval:     getdur("CLOSE_SWEEP_INTERVAL", 5*time.Minute),
			StaleAfter:        getdur("SESSION_STALE_AFTER", 12*time.Hour),
			SessionMaxHours:   getfloat("SESSION_MAX_HOURS", 12.0),
			PenaltyMissingOut: getfloat("PENALTY_MISSING_OUT", 1.0),
			PenaltyOffsite:    getfloat("PENALTY_OFFSITE", 2.0),
			PenaltyLowSignal:  getfloat("PENALTY_LOW_CONFIDENCE", 0.5),
			ConfidenceFloor:   getint("CONFIDENCE_FLOOR", 40),
			ValidatorInterval: getdur("VALIDATOR_INTERVAL", 15*time.Minute),
			QualityFloor:      getint("QUALITY_FLOOR", 60),
			BaselineWeeks:     getint("BASELINE_WEEKS", 4),
			OnsiteTerminals:   splitCSV(getenv("ONSITE_TERMINALS", "")),
		},

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-attendance-core"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	cfg.Upstream.BaseURL = strings.TrimRight(cfg.Upstream.BaseURL, "/")
	cfg.Registry.BaseURL = strings.TrimRight(cfg.Registry.BaseURL, "/")

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if strings.TrimSpace(cfg.Upstream.BaseURL) == "" {
		return cfg, errors.New("UPSTREAM_BASE_URL must not be empty")
	}
	if cfg.Upstream.Timeout <= 0 {
		return cfg, errors.New("UPSTREAM_TIMEOUT must be > 0")
	}
	if cfg.Upstream.PageSize < 1 {
		return cfg, errors.New("UPSTREAM_PAGE_SIZE must be >= 1")
	}
	p := cfg.Pipeline
	if p.PollInterval <= 0 || p.FoldInterval <= 0 || p.GapScanInterval <= 0 ||
		p.SweepInterval <= 0 || p.ValidatorInterval <= 0 {
		return cfg, errors.New("pipeline intervals must be positive durations")
	}
	if p.PollOverlap < 0 || p.PollOverlap >= p.PollInterval+p.ExtendedWindow {
		return cfg, errors.New("POLL_OVERLAP must be >= 0 and smaller than the poll window")
	}
	if p.ExtendedAfter < 1 {
		return cfg, errors.New("POLL_EXTENDED_AFTER must be >= 1")
	}
	if p.FoldBatchSize < 1 {
		return cfg, errors.New("FOLD_BATCH_SIZE must be >= 1")
	}
	if p.GapMaxAttempts < 1 {
		return cfg, errors.New("GAP_MAX_ATTEMPTS must be >= 1")
	}
	if p.StaleAfter <= 0 {
		return cfg, errors.New("SESSION_STALE_AFTER must be > 0")
	}
	if p.SessionMaxHours <= 0 {
		return cfg, errors.New("SESSION_MAX_HOURS must be > 0")
	}
	if p.PenaltyMissingOut < 0 || p.PenaltyOffsite < 0 || p.PenaltyLowSignal < 0 {
		return cfg, errors.New("penalty hours must be >= 0")
	}
	if p.ConfidenceFloor < 0 || p.ConfidenceFloor > 100 {
		return cfg, errors.New("CONFIDENCE_FLOOR must be in [0,100]")
	}
	if p.QualityFloor < 0 || p.QualityFloor > 100 {
		return cfg, errors.New("QUALITY_FLOOR must be in [0,100]")
	}
	if p.BaselineWeeks < 1 {
		return cfg, errors.New("BASELINE_WEEKS must be >= 1")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
