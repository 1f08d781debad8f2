package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"chainmail/go-backend/internal/platform/metrics"
	"chainmail/go-backend/internal/platform/ratelimiter"
	"chainmail/go-backend/pkg/models"
)

const (
	maxHeightBody = 256
	maxEntityBody = 2 << 20
	maxBlockBody  = 8 << 20
)

type Config struct {
	Endpoints         []string      `yaml:"endpoints"`
	RequestTimeout    time.Duration `yaml:"requestTimeout"`
	MaxAttempts       int           `yaml:"maxAttempts"`
	RetryStep         time.Duration `yaml:"retryStep"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond"`
	Burst             int           `yaml:"burst"`
}

func DefaultConfig() Config {
	return Config{
		Endpoints:         []string{"https://api.explorer.provable.com/v1/testnet"},
		RequestTimeout:    10 * time.Second,
		MaxAttempts:       6,
		RetryStep:         250 * time.Millisecond,
		RequestsPerSecond: 8,
		Burst:             16,
	}
}

func normalizeConfig(cfg Config) Config {
	def := DefaultConfig()
	endpoints := make([]string, 0, len(cfg.Endpoints))
	for _, endpoint := range cfg.Endpoints {
		endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
		if endpoint == "" {
			continue
		}
		endpoints = append(endpoints, endpoint)
	}
	cfg.Endpoints = endpoints
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.RetryStep <= 0 {
		cfg.RetryStep = def.RetryStep
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = def.RequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	return cfg
}

type clientCounters struct {
	requests  int
	failures  int
	retries   int
	failovers int
}

// Client is a read-only view over one or more ledger HTTP endpoints with
// ordered failover. Per-endpoint request pacing keeps public indexers from
// throttling block scans.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *ratelimiter.MapLimiter
	logger  *slog.Logger
	prom    *metrics.Collectors

	mu           sync.RWMutex
	counters     clientCounters
	lastEndpoint string
	lastHeight   uint64
	lastProbeAt  time.Time
	lastError    string
}

func New(cfg Config, logger *slog.Logger, prom *metrics.Collectors) (*Client, error) {
	cfg = normalizeConfig(cfg)
	if len(cfg.Endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		limiter: ratelimiter.New(cfg.RequestsPerSecond, cfg.Burst, 10*time.Minute),
		logger:  logger,
		prom:    prom,
	}, nil
}

func (c *Client) EndpointCount() int {
	return len(c.cfg.Endpoints)
}

// Height returns the current chain height, trying endpoints in order.
func (c *Client) Height(ctx context.Context) (uint64, error) {
	var (
		lastErr      error
		lastEndpoint string
		lastStatus   int
	)
	for i, endpoint := range c.cfg.Endpoints {
		lastEndpoint = endpoint
		status, body, err := c.fetch(ctx, endpoint, "/latest/height", maxHeightBody)
		if err != nil {
			lastErr, lastStatus = err, 0
			c.noteFailure("height", endpoint, err)
			continue
		}
		if status != http.StatusOK {
			lastErr, lastStatus = fmt.Errorf("unexpected status"), status
			c.noteFailure("height", endpoint, fmt.Errorf("status %d", status))
			continue
		}
		height, perr := parseHeight(body)
		if perr != nil {
			lastErr, lastStatus = perr, status
			c.noteFailure("height", endpoint, perr)
			continue
		}
		c.noteHeight(endpoint, height, i > 0)
		c.prom.IncLedgerRequest("height", "ok")
		return height, nil
	}
	c.prom.IncLedgerRequest("height", "error")
	return 0, &EndpointError{Op: "height", Endpoint: lastEndpoint, Status: lastStatus, Err: lastErr}
}

// Block returns nil on any fetch or parse failure so batch scans can skip
// one bad block without aborting the window.
func (c *Client) Block(ctx context.Context, height uint64) *Block {
	path := "/block/" + strconv.FormatUint(height, 10)
	for i, endpoint := range c.cfg.Endpoints {
		if ctx.Err() != nil {
			return nil
		}
		status, body, err := c.fetch(ctx, endpoint, path, maxBlockBody)
		if err != nil {
			c.noteFailure("block", endpoint, err)
			continue
		}
		if status != http.StatusOK {
			c.noteFailure("block", endpoint, fmt.Errorf("status %d", status))
			continue
		}
		block, derr := decodeBlock(body)
		if derr != nil {
			c.logger.Warn("malformed block payload skipped", "height", height, "reason", derr.Error())
			c.noteFailure("block", endpoint, derr)
			c.prom.IncLedgerRequest("block", "miss")
			return nil
		}
		if i > 0 {
			c.noteFailover()
		}
		c.prom.IncLedgerRequest("block", "ok")
		return block
	}
	c.prom.IncLedgerRequest("block", "miss")
	return nil
}

// Transaction returns nil after exhausting retries or on a definitive
// not-found answer.
func (c *Client) Transaction(ctx context.Context, id string) *Transaction {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil
	}
	body := c.retryFetch(ctx, "transaction", "/transaction/"+id)
	if body == nil {
		return nil
	}
	var tx Transaction
	if err := json.Unmarshal(body, &tx); err != nil || tx.ID == "" {
		c.logger.Warn("malformed transaction payload skipped", "reason", "undecodable body")
		return nil
	}
	return &tx
}

// Transition returns nil after exhausting retries or on a definitive
// not-found answer.
func (c *Client) Transition(ctx context.Context, id string) *Transition {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil
	}
	body := c.retryFetch(ctx, "transition", "/transition/"+id)
	if body == nil {
		return nil
	}
	var tr Transition
	if err := json.Unmarshal(body, &tr); err != nil || tr.ID == "" {
		c.logger.Warn("malformed transition payload skipped", "reason", "undecodable body")
		return nil
	}
	return &tr
}

// FetchByID dispatches on the id prefix and always returns the
// transaction shape; bare transitions are wrapped.
func (c *Client) FetchByID(ctx context.Context, id string) *Transaction {
	switch {
	case IsTransactionID(id):
		return c.Transaction(ctx, id)
	case IsTransitionID(id):
		tr := c.Transition(ctx, id)
		if tr == nil {
			return nil
		}
		return WrapTransition(*tr)
	default:
		return nil
	}
}

// Probe performs a live height check and reports endpoint health.
func (c *Client) Probe(ctx context.Context) models.LedgerStatus {
	height, err := c.Height(ctx)

	c.mu.RLock()
	defer c.mu.RUnlock()
	status := models.LedgerStatus{
		Status:        "ok",
		Endpoint:      c.lastEndpoint,
		Height:        height,
		EndpointCount: len(c.cfg.Endpoints),
		LastProbeAt:   time.Now().UTC(),
	}
	if err != nil {
		status.Status = "unreachable"
		status.Height = c.lastHeight
		status.LastError = err.Error()
	}
	return status
}

// Status reports the last observed endpoint health without network access.
func (c *Client) Status() models.LedgerStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	status := models.LedgerStatus{
		Status:        "ok",
		Endpoint:      c.lastEndpoint,
		Height:        c.lastHeight,
		EndpointCount: len(c.cfg.Endpoints),
		LastProbeAt:   c.lastProbeAt,
		LastError:     c.lastError,
	}
	if c.lastProbeAt.IsZero() {
		status.Status = "unknown"
	} else if c.lastError != "" {
		status.Status = "degraded"
	}
	return status
}

func (c *Client) Metrics() map[string]int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return map[string]int{
		"requests_total":     c.counters.requests,
		"request_failures":   c.counters.failures,
		"request_retries":    c.counters.retries,
		"endpoint_failovers": c.counters.failovers,
	}
}

func (c *Client) retryFetch(ctx context.Context, op, path string) []byte {
	endpoints := c.cfg.Endpoints
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil
		}
		endpoint := endpoints[(attempt-1)%len(endpoints)]
		status, body, err := c.fetch(ctx, endpoint, path, maxEntityBody)
		switch {
		case err != nil:
			c.noteFailure(op, endpoint, err)
		case status == http.StatusOK:
			if (attempt-1)%len(endpoints) != 0 {
				c.noteFailover()
				c.logger.Info("ledger request recovered via failover", "op", op, "attempt", attempt)
			}
			c.prom.IncLedgerRequest(op, "ok")
			return body
		case status == http.StatusTooManyRequests || status >= 500:
			c.noteFailure(op, endpoint, fmt.Errorf("status %d", status))
		default:
			// Definitive answer: the id is unknown to the ledger.
			c.prom.IncLedgerRequest(op, "miss")
			return nil
		}
		if attempt < c.cfg.MaxAttempts {
			c.noteRetry()
			c.prom.IncLedgerRetry()
			if err := waitRetry(ctx, time.Duration(attempt)*c.cfg.RetryStep); err != nil {
				return nil
			}
		}
	}
	c.prom.IncLedgerRequest(op, "error")
	return nil
}

func (c *Client) fetch(ctx context.Context, endpoint, path string, maxBody int64) (int, []byte, error) {
	if err := c.limiter.Wait(ctx, endpoint); err != nil {
		return 0, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+path, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")

	c.mu.Lock()
	c.counters.requests++
	c.mu.Unlock()

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

func (c *Client) noteHeight(endpoint string, height uint64, failover bool) {
	c.mu.Lock()
	c.lastEndpoint = endpoint
	c.lastHeight = height
	c.lastProbeAt = time.Now().UTC()
	c.lastError = ""
	if failover {
		c.counters.failovers++
	}
	c.mu.Unlock()
	if failover {
		c.logger.Info("height recovered via failover", "endpoint", endpoint)
	}
}

func (c *Client) noteFailure(op, endpoint string, err error) {
	c.mu.Lock()
	c.counters.failures++
	c.lastError = err.Error()
	c.mu.Unlock()
	c.logger.Debug("ledger request failed", "op", op, "endpoint", endpoint, "reason", err.Error())
}

func (c *Client) noteRetry() {
	c.mu.Lock()
	c.counters.retries++
	c.mu.Unlock()
}

func (c *Client) noteFailover() {
	c.mu.Lock()
	c.counters.failovers++
	c.mu.Unlock()
	c.prom.IncLedgerFailover()
}

func parseHeight(body []byte) (uint64, error) {
	text := strings.Trim(strings.TrimSpace(string(body)), `"`)
	height, err := strconv.ParseUint(text, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("height is not a non-negative integer: %q", text)
	}
	return height, nil
}

func waitRetry(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
