// Package config holds the engine's file-level configuration: defaults for
// retry/circuit-breaker/rate-limit/cache/coordinator settings that gateway
// callers may omit. This is distinct from the per-request option resolution
// in package gateway, which spec §9 requires to stay an explicit, enumerated
// merge rather than reflection. The loader itself overlays the YAML file onto
// DefaultConfig by unmarshaling; MergeNonZero is a separate helper that the
// loader does not call.
package config

import "time"

// Config is the root configuration document.
type Config struct {
	Logging     LoggingConfig     `yaml:"logging"`
	Retry       RetryConfig       `yaml:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Concurrency ConcurrencyConfig `yaml:"concurrency"`
	Cache       CacheConfig       `yaml:"cache"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Tracing     TracingConfig     `yaml:"tracing"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
}

// LoggingConfig configures the shared zap logger.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Output     string `yaml:"output"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// RetryConfig is the default retry policy applied when a StableRequestSpec
// doesn't set its own values.
type RetryConfig struct {
	Attempts          int           `yaml:"attempts"`
	Wait              time.Duration `yaml:"wait"`
	RetryStrategy     string        `yaml:"retry_strategy"` // FIXED, LINEAR, EXPONENTIAL
	Jitter            float64       `yaml:"jitter"`
	MaxAllowedWait    time.Duration `yaml:"max_allowed_wait"`
	PerformAllAttempts bool         `yaml:"perform_all_attempts"`
}

// CircuitBreakerConfig configures a Breaker.
type CircuitBreakerConfig struct {
	FailureThresholdPercentage int           `yaml:"failure_threshold_percentage"`
	MinimumRequests            int           `yaml:"minimum_requests"`
	RecoveryTimeout            time.Duration `yaml:"recovery_timeout"`
	SuccessThresholdPercentage int           `yaml:"success_threshold_percentage"`
	HalfOpenMaxRequests        int           `yaml:"half_open_max_requests"`
	TrackIndividualAttempts    bool          `yaml:"track_individual_attempts"`
}

// RateLimitConfig configures a token-bucket RateLimiter.
type RateLimitConfig struct {
	MaxRequests int           `yaml:"max_requests"`
	WindowMs    time.Duration `yaml:"window"`
}

// ConcurrencyConfig configures a ConcurrencyLimiter.
type ConcurrencyConfig struct {
	MaxConcurrent int `yaml:"max_concurrent"`
}

// CacheConfig configures a ResponseCache.
type CacheConfig struct {
	TTL     time.Duration `yaml:"ttl"`
	MaxSize int           `yaml:"max_size"`
}

// MetricsConfig configures the Prometheus registry exposition.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// TracingConfig configures the OpenTelemetry tracer.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	ServiceName string  `yaml:"service_name"`
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	SampleRate  float64 `yaml:"sample_rate"`
}

// CoordinatorConfig configures the distributed coordinator backend.
type CoordinatorConfig struct {
	Type  string `yaml:"type"` // "redis", "etcd", or "" (disabled)
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Etcd struct {
		Endpoints []string `yaml:"endpoints"`
	} `yaml:"etcd"`
}

// DefaultConfig returns a configuration with the defaults named throughout
// spec §3/§4.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Output: "stdout"},
		Retry: RetryConfig{
			Attempts:       1,
			Wait:           0,
			RetryStrategy:  "FIXED",
			MaxAllowedWait: 60000 * time.Millisecond,
		},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThresholdPercentage: 50,
			MinimumRequests:            1,
			RecoveryTimeout:            100 * time.Millisecond,
			SuccessThresholdPercentage: 50,
			HalfOpenMaxRequests:        5,
		},
		RateLimit: RateLimitConfig{},
		Concurrency: ConcurrencyConfig{},
		Cache: CacheConfig{
			TTL:     300000 * time.Millisecond,
			MaxSize: 1000,
		},
		Metrics: MetricsConfig{Enabled: true, Addr: ":9090"},
		Tracing: TracingConfig{SampleRate: 1.0},
	}
}
