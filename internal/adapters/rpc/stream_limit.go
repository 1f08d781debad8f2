package rpc

import (
	"os"
	"strconv"
	"strings"
	"sync"
)

const (
	rpcStreamMaxGlobalEnv    = "CHAINMAIL_RPC_STREAM_MAX_GLOBAL"
	rpcStreamMaxPerClientEnv = "CHAINMAIL_RPC_STREAM_MAX_PER_CLIENT"

	defaultRPCStreamMaxGlobal    = 128
	defaultRPCStreamMaxPerClient = 8
)

type rpcStreamLimitConfig struct {
	maxGlobal    int
	maxPerClient int
}

func loadRPCStreamLimitConfig() rpcStreamLimitConfig {
	cfg := rpcStreamLimitConfig{
		maxGlobal:    defaultRPCStreamMaxGlobal,
		maxPerClient: defaultRPCStreamMaxPerClient,
	}
	if raw := strings.TrimSpace(os.Getenv(rpcStreamMaxGlobalEnv)); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			cfg.maxGlobal = parsed
		}
	}
	if raw := strings.TrimSpace(os.Getenv(rpcStreamMaxPerClientEnv)); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			cfg.maxPerClient = parsed
		}
	}
	return cfg
}

// rpcStreamLimiter caps concurrent SSE subscriptions globally and per
// caller so one client cannot exhaust the daemon's stream slots.
type rpcStreamLimiter struct {
	mu        sync.Mutex
	cfg       rpcStreamLimitConfig
	total     int
	perClient map[string]int
}

func newRPCStreamLimiter(cfg rpcStreamLimitConfig) *rpcStreamLimiter {
	return &rpcStreamLimiter{
		cfg:       cfg,
		perClient: make(map[string]int),
	}
}

func (l *rpcStreamLimiter) acquire(clientKey string) (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.total >= l.cfg.maxGlobal || l.perClient[clientKey] >= l.cfg.maxPerClient {
		return nil, false
	}
	l.total++
	l.perClient[clientKey]++

	var once sync.Once
	release := func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			l.total--
			l.perClient[clientKey]--
			if l.perClient[clientKey] <= 0 {
				delete(l.perClient, clientKey)
			}
		})
	}
	return release, true
}
