package rpc

import (
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"chainmail/go-backend/internal/platform/ratelimiter"
)

const (
	rpcRateLimitEnabledEnv = "CHAINMAIL_RPC_RATE_LIMIT_ENABLED"
	rpcRateLimitRPSEnv     = "CHAINMAIL_RPC_RATE_LIMIT_RPS"
	rpcRateLimitBurstEnv   = "CHAINMAIL_RPC_RATE_LIMIT_BURST"

	defaultRPCRateLimitRPS   = 30
	defaultRPCRateLimitBurst = 60

	rpcRateLimitIdleTTL = 10 * time.Minute
)

type rpcRateLimitConfig struct {
	enabled bool
	rps     float64
	burst   int
}

func loadRPCRateLimitConfig() rpcRateLimitConfig {
	cfg := rpcRateLimitConfig{
		enabled: true,
		rps:     defaultRPCRateLimitRPS,
		burst:   defaultRPCRateLimitBurst,
	}
	switch strings.ToLower(strings.TrimSpace(os.Getenv(deploymentEnvVar))) {
	case "test", "testing":
		cfg.enabled = false
	}
	if enabled, ok := parseBoolEnv(rpcRateLimitEnabledEnv); ok {
		cfg.enabled = enabled
	}
	if raw := strings.TrimSpace(os.Getenv(rpcRateLimitRPSEnv)); raw != "" {
		if parsed, err := strconv.ParseFloat(raw, 64); err == nil && parsed > 0 {
			cfg.rps = parsed
		}
	}
	if raw := strings.TrimSpace(os.Getenv(rpcRateLimitBurstEnv)); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			cfg.burst = parsed
		}
	}
	return cfg
}

type rpcRateLimiter struct {
	buckets *ratelimiter.MapLimiter
}

// newRPCRateLimiter returns nil when limiting is disabled; allow is nil-safe.
func newRPCRateLimiter(cfg rpcRateLimitConfig) *rpcRateLimiter {
	if !cfg.enabled {
		return nil
	}
	return &rpcRateLimiter{buckets: ratelimiter.New(cfg.rps, cfg.burst, rpcRateLimitIdleTTL)}
}

func (l *rpcRateLimiter) allow(key string, now time.Time) bool {
	if l == nil {
		return true
	}
	return l.buckets.Allow(key, now)
}

// rpcRateLimitKey buckets authenticated callers by token and anonymous
// callers by remote IP.
func rpcRateLimitKey(r *http.Request, token string) string {
	if token != "" {
		return "token:" + token
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
