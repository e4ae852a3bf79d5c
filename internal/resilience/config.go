package resilience

import (
	"time"

	"github.com/sells-group/siting-cli/internal/config"
)

// FromOutputConfig builds the output write retry policy.
func FromOutputConfig(c config.OutputConfig) RetryConfig {
	cfg := DefaultRetryConfig()
	if c.MaxAttempts > 0 {
		cfg.MaxAttempts = c.MaxAttempts
	}
	if c.InitialBackoffMs > 0 {
		cfg.InitialBackoff = time.Duration(c.InitialBackoffMs) * time.Millisecond
	}
	if c.MaxBackoffMs > 0 {
		cfg.MaxBackoff = time.Duration(c.MaxBackoffMs) * time.Millisecond
	}
	return cfg
}

// BreakerFromOutputConfig builds the output store circuit breaker.
func BreakerFromOutputConfig(c config.OutputConfig) *Breaker {
	return NewBreaker(BreakerConfig{
		Name:             "output-store",
		FailureThreshold: c.BreakerThreshold,
		Cooldown:         time.Duration(c.BreakerCooldownSecs) * time.Second,
	})
}
