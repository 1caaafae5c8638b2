package config

import (
	"os"
	"strings"
	"time"
)

// RateLimitConfig tunes the Redis token-bucket limiter applied to the
// public queue endpoints. Buckets are keyed by client IP and route.
type RateLimitConfig struct {
	Enabled        bool
	Capacity       int
	RefillTokens   int
	RefillInterval time.Duration
	TTL            time.Duration
	Prefix         string
}

// RateLimitFromEnv reads limiter settings from the environment with
// defaults sized for a departmental kiosk deployment.
func RateLimitFromEnv() RateLimitConfig {
	enabled := true
	if v := os.Getenv("RATELIMIT_ENABLED"); v != "" {
		enabled = strings.EqualFold(v, "true") || v == "1"
	}
	interval := time.Second
	if v := os.Getenv("RATELIMIT_REFILL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			interval = d
		}
	}
	return RateLimitConfig{
		Enabled:        enabled,
		Capacity:       envInt("RATELIMIT_CAPACITY", 20),
		RefillTokens:   envInt("RATELIMIT_REFILL_TOKENS", 5),
		RefillInterval: interval,
		TTL:            10 * time.Minute,
		Prefix:         "qcea:rl",
	}
}
