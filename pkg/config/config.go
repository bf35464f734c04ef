// Package config loads and validates harness configuration from the
// environment. The umbrella Config object is built once at startup by
// Load() and passed down by value-typed handles; nothing re-reads the
// environment after initialization.
package config

import "time"

// Config is the umbrella configuration object returned by Load().
type Config struct {
	// HTTPPort is the API listen port.
	HTTPPort string

	// DatabaseURL is the PostgreSQL DSN.
	DatabaseURL string

	// DefaultProvider names the provider used when an experiment omits one.
	DefaultProvider string

	// Providers holds per-provider endpoint and role-model configuration.
	Providers *ProviderRegistry

	// Queue holds worker pool configuration.
	Queue *QueueConfig

	// Gateway holds LLM gateway retry and timeout configuration.
	Gateway *GatewayConfig

	// Breaker holds circuit breaker thresholds.
	Breaker *BreakerConfig

	// API key auth for boundary operations.
	APIKeyEnabled bool
	APIKey        string

	// CORSOrigins is the allowed origin list for the dashboard.
	CORSOrigins []string

	// Rate limiting for boundary operations.
	RateLimitEnabled  bool
	RequestsPerMinute int

	// VerbosityDefault is the initial verbosity of new subscribers (0..3).
	VerbosityDefault int

	// DemoMode serves canned read responses and runs no experiments.
	DemoMode bool

	// Audit log location and retention.
	AuditLogDir           string
	AuditLogRetentionDays int

	// Retention controls deletion of old terminal experiments.
	Retention *RetentionConfig
}

// RetentionConfig controls the experiment retention sweeper.
type RetentionConfig struct {
	// Enabled turns the sweeper on. Off by default; findings are kept
	// until the operator opts in.
	Enabled bool

	// MaxAge is how old a terminal experiment may get before deletion.
	MaxAge time.Duration

	// SweepInterval is how often the sweep runs.
	SweepInterval time.Duration
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		Enabled:       false,
		MaxAge:        90 * 24 * time.Hour,
		SweepInterval: 24 * time.Hour,
	}
}

// GatewayConfig controls retry and per-call timeout behavior of the LLM
// gateway.
type GatewayConfig struct {
	// RetryAttempts is the number of retries after the first call.
	// The gateway performs at most RetryAttempts+1 provider calls.
	RetryAttempts int

	// RetryBaseDelay is the base for exponential backoff: base * 2^attempt.
	RetryBaseDelay time.Duration

	// RetryMaxDelay caps the backoff delay.
	RetryMaxDelay time.Duration

	// CallTimeout bounds a single provider call end to end.
	CallTimeout time.Duration
}

// DefaultGatewayConfig returns the built-in gateway defaults.
func DefaultGatewayConfig() *GatewayConfig {
	return &GatewayConfig{
		RetryAttempts:  3,
		RetryBaseDelay: 500 * time.Millisecond,
		RetryMaxDelay:  30 * time.Second,
		CallTimeout:    60 * time.Second,
	}
}

// BreakerConfig controls the per-(provider, role) circuit breakers.
type BreakerConfig struct {
	// FailureThreshold is the consecutive failure count that opens a breaker.
	FailureThreshold int

	// SuccessThreshold is the consecutive success count that closes a
	// half-open breaker.
	SuccessThreshold int

	// OpenTimeout is how long an open breaker waits before probing half-open.
	OpenTimeout time.Duration
}

// DefaultBreakerConfig returns the built-in breaker defaults.
func DefaultBreakerConfig() *BreakerConfig {
	return &BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      60 * time.Second,
	}
}

// QueueConfig contains worker pool configuration. These values control how
// pending experiments are polled, claimed, and processed.
type QueueConfig struct {
	// WorkerCount is the number of worker goroutines.
	WorkerCount int

	// MaxConcurrentExperiments bounds concurrently running experiments.
	MaxConcurrentExperiments int

	// PollInterval is the base interval for checking pending experiments.
	PollInterval time.Duration

	// PollIntervalJitter randomizes the poll interval: PollInterval ± jitter.
	PollIntervalJitter time.Duration

	// HeartbeatInterval is how often a claimed experiment's last_activity_at
	// is refreshed.
	HeartbeatInterval time.Duration

	// OrphanThreshold is how stale last_activity_at may be before a running
	// experiment is failed at startup recovery.
	OrphanThreshold time.Duration

	// OrphanDetectionInterval is how often the periodic orphan scan runs.
	// Every pod scans independently; recovery is idempotent.
	OrphanDetectionInterval time.Duration

	// GracefulShutdownTimeout is the max wait for in-flight experiments on
	// shutdown.
	GracefulShutdownTimeout time.Duration
}

// DefaultQueueConfig returns the built-in queue defaults.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		WorkerCount:              3,
		MaxConcurrentExperiments: 3,
		PollInterval:             1 * time.Second,
		PollIntervalJitter:       500 * time.Millisecond,
		HeartbeatInterval:        15 * time.Second,
		OrphanThreshold:          5 * time.Minute,
		OrphanDetectionInterval:  time.Minute,
		GracefulShutdownTimeout:  10 * time.Minute,
	}
}
