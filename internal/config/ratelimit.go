package config

import (
	"os"
	"strings"
	"time"
)

// RateLimitConfig configures the sign-in limiter: MaxAttempts per Window,
// then a Lockout that outlives the window.
type RateLimitConfig struct {
	Enabled     bool
	MaxAttempts int
	Window      time.Duration
	Lockout     time.Duration
	Store       string // memory or redis
	Prefix      string
	SweepEvery  time.Duration
}

func LoadRateLimitConfig() RateLimitConfig {
	def := RateLimitConfig{
		Enabled:     envBool("RATE_LIMIT_ENABLED", true),
		MaxAttempts: envInt("RATE_LIMIT_MAX_ATTEMPTS", 5),
		Window:      envDur("RATE_LIMIT_WINDOW", time.Minute),
		Lockout:     envDur("RATE_LIMIT_LOCKOUT", 5*time.Minute),
		Store:       strings.ToLower(envStr("RATE_LIMIT_STORE", "memory")),
		Prefix:      envStr("RATE_LIMIT_PREFIX", "rl:signin"),
		SweepEvery:  envDur("RATE_LIMIT_SWEEP", time.Minute),
	}
	// Automated suites hammer sign-in; never throttle them.
	switch strings.ToLower(os.Getenv("APP_ENV")) {
	case EnvTest, EnvCI:
		def.Enabled = false
	}
	if def.MaxAttempts < 1 {
		def.MaxAttempts = 1
	}
	if def.Window <= 0 {
		def.Window = time.Minute
	}
	if def.Lockout <= 0 {
		def.Lockout = 5 * time.Minute
	}
	if def.SweepEvery <= 0 {
		def.SweepEvery = time.Minute
	}
	if def.Store != "redis" {
		def.Store = "memory"
	}
	return def
}
