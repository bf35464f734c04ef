package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Load builds a Config from the process environment. The caller is expected
// to have loaded any .env file (godotenv) beforehand.
//
// Provider discovery: LLM_PROVIDERS is a comma-separated list of provider
// names; each provider N reads N_API_BASE, N_API_KEY, N_MODEL_ATTACKER,
// N_MODEL_TARGET and N_MODEL_JUDGE (name upper-cased).
func Load() (*Config, error) {
	cfg := &Config{
		HTTPPort:              getEnv("HTTP_PORT", "8080"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		DefaultProvider:       getEnv("DEFAULT_LLM_PROVIDER", "ollama"),
		Queue:                 DefaultQueueConfig(),
		Gateway:               DefaultGatewayConfig(),
		Breaker:               DefaultBreakerConfig(),
		APIKeyEnabled:         getEnvBool("API_KEY_ENABLED", false),
		APIKey:                os.Getenv("API_KEY"),
		RateLimitEnabled:      getEnvBool("RATE_LIMIT_ENABLED", false),
		RequestsPerMinute:     getEnvInt("REQUESTS_PER_MINUTE", 60),
		VerbosityDefault:      getEnvInt("VERBOSITY_DEFAULT", 1),
		DemoMode:              getEnvBool("DEMO_MODE", false),
		AuditLogDir:           getEnv("AUDIT_LOG_DIR", "./audit"),
		AuditLogRetentionDays: getEnvInt("AUDIT_LOG_RETENTION_DAYS", 90),
		Retention:             DefaultRetentionConfig(),
	}

	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, o)
			}
		}
	}

	if cfg.DatabaseURL == "" && !cfg.DemoMode {
		return nil, ErrMissingDatabaseURL
	}
	if cfg.APIKeyEnabled && cfg.APIKey == "" {
		return nil, fmt.Errorf("API_KEY_ENABLED is set but API_KEY is empty")
	}
	if cfg.VerbosityDefault < 0 || cfg.VerbosityDefault > 3 {
		return nil, fmt.Errorf("VERBOSITY_DEFAULT must be 0..3, got %d", cfg.VerbosityDefault)
	}

	// Queue overrides.
	cfg.Queue.WorkerCount = getEnvInt("WORKER_COUNT", cfg.Queue.WorkerCount)
	cfg.Queue.MaxConcurrentExperiments = getEnvInt("MAX_CONCURRENT_EXPERIMENTS", cfg.Queue.MaxConcurrentExperiments)
	cfg.Queue.PollInterval = getEnvDuration("QUEUE_POLL_INTERVAL", cfg.Queue.PollInterval)
	cfg.Queue.GracefulShutdownTimeout = getEnvDuration("GRACEFUL_SHUTDOWN_TIMEOUT", cfg.Queue.GracefulShutdownTimeout)

	// Gateway overrides.
	cfg.Gateway.RetryAttempts = getEnvInt("LLM_RETRY_ATTEMPTS", cfg.Gateway.RetryAttempts)
	cfg.Gateway.CallTimeout = getEnvDuration("LLM_CALL_TIMEOUT", cfg.Gateway.CallTimeout)

	// Retention overrides.
	cfg.Retention.Enabled = getEnvBool("RETENTION_ENABLED", cfg.Retention.Enabled)
	cfg.Retention.MaxAge = getEnvDuration("RETENTION_MAX_AGE", cfg.Retention.MaxAge)
	cfg.Retention.SweepInterval = getEnvDuration("RETENTION_SWEEP_INTERVAL", cfg.Retention.SweepInterval)

	// Breaker overrides.
	cfg.Breaker.FailureThreshold = getEnvInt("BREAKER_FAILURE_THRESHOLD", cfg.Breaker.FailureThreshold)
	cfg.Breaker.SuccessThreshold = getEnvInt("BREAKER_SUCCESS_THRESHOLD", cfg.Breaker.SuccessThreshold)
	cfg.Breaker.OpenTimeout = getEnvDuration("BREAKER_OPEN_TIMEOUT", cfg.Breaker.OpenTimeout)

	providers, err := loadProviders()
	if err != nil {
		return nil, err
	}
	cfg.Providers = NewProviderRegistry(providers)

	if !cfg.DemoMode && !cfg.Providers.Has(cfg.DefaultProvider) {
		return nil, fmt.Errorf("%w: default provider %q not configured",
			ErrProviderNotFound, cfg.DefaultProvider)
	}

	return cfg, nil
}

// loadProviders reads per-provider configuration from the environment.
func loadProviders() (map[string]*ProviderConfig, error) {
	names := strings.Split(getEnv("LLM_PROVIDERS", "ollama"), ",")
	providers := make(map[string]*ProviderConfig, len(names))

	for _, raw := range names {
		name := strings.TrimSpace(raw)
		if name == "" {
			continue
		}
		prefix := strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
		p := &ProviderConfig{
			Name:          name,
			APIBase:       getEnv(prefix+"_API_BASE", defaultAPIBase(name)),
			APIKey:        os.Getenv(prefix + "_API_KEY"),
			ModelAttacker: os.Getenv(prefix + "_MODEL_ATTACKER"),
			ModelTarget:   os.Getenv(prefix + "_MODEL_TARGET"),
			ModelJudge:    os.Getenv(prefix + "_MODEL_JUDGE"),
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		providers[name] = p
	}

	return providers, nil
}

// defaultAPIBase returns the conventional endpoint for well-known providers.
func defaultAPIBase(name string) string {
	switch name {
	case "ollama":
		return "http://localhost:11434/v1"
	case "openai":
		return "https://api.openai.com/v1"
	default:
		return ""
	}
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}
