// Package metrics defines the Prometheus collectors exported by the daemon.
// A nil *Collectors is valid and drops every observation, which keeps unit
// tests free of registry bookkeeping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collectors struct {
	ledgerRequests  *prometheus.CounterVec
	ledgerRetries   prometheus.Counter
	ledgerFailovers prometheus.Counter

	decryptAttempts prometheus.Counter
	decryptHits     prometheus.Counter

	syncRuns          *prometheus.CounterVec
	syncDuration      prometheus.Histogram
	scannedBlocks     prometheus.Counter
	messagesConfirmed prometheus.Counter
}

func New(reg prometheus.Registerer) *Collectors {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Collectors{
		ledgerRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chainmail",
			Subsystem: "ledger",
			Name:      "requests_total",
			Help:      "Ledger HTTP requests by operation and outcome.",
		}, []string{"op", "outcome"}),
		ledgerRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "chainmail",
			Subsystem: "ledger",
			Name:      "request_retries_total",
			Help:      "Transient ledger request retries.",
		}),
		ledgerFailovers: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "chainmail",
			Subsystem: "ledger",
			Name:      "endpoint_failovers_total",
			Help:      "Requests answered by a non-primary endpoint.",
		}),
		decryptAttempts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "chainmail",
			Subsystem: "records",
			Name:      "decrypt_attempts_total",
			Help:      "Decrypt capability invocations across all parameter combinations.",
		}),
		decryptHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "chainmail",
			Subsystem: "records",
			Name:      "decrypt_hits_total",
			Help:      "Decrypt attempts that produced a plaintext.",
		}),
		syncRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chainmail",
			Subsystem: "sync",
			Name:      "runs_total",
			Help:      "Inbox sync runs by outcome.",
		}, []string{"outcome"}),
		syncDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "chainmail",
			Subsystem: "sync",
			Name:      "run_duration_seconds",
			Help:      "Wall time of inbox sync runs.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		scannedBlocks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "chainmail",
			Subsystem: "sync",
			Name:      "scanned_blocks_total",
			Help:      "Blocks inspected by the tier-3 scanner.",
		}),
		messagesConfirmed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "chainmail",
			Subsystem: "sync",
			Name:      "messages_confirmed_total",
			Help:      "Inbox messages confirmed across all tiers.",
		}),
	}
}

func (c *Collectors) IncLedgerRequest(op, outcome string) {
	if c == nil {
		return
	}
	c.ledgerRequests.WithLabelValues(op, outcome).Inc()
}

func (c *Collectors) IncLedgerRetry() {
	if c == nil {
		return
	}
	c.ledgerRetries.Inc()
}

func (c *Collectors) IncLedgerFailover() {
	if c == nil {
		return
	}
	c.ledgerFailovers.Inc()
}

func (c *Collectors) IncDecryptAttempt() {
	if c == nil {
		return
	}
	c.decryptAttempts.Inc()
}

func (c *Collectors) IncDecryptHit() {
	if c == nil {
		return
	}
	c.decryptHits.Inc()
}

func (c *Collectors) ObserveSyncRun(outcome string, seconds float64) {
	if c == nil {
		return
	}
	c.syncRuns.WithLabelValues(outcome).Inc()
	c.syncDuration.Observe(seconds)
}

func (c *Collectors) AddScannedBlocks(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.scannedBlocks.Add(float64(n))
}

func (c *Collectors) AddMessagesConfirmed(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.messagesConfirmed.Add(float64(n))
}

// Handler serves the default registry, matching the collectors created by
// New(nil).
func Handler() http.Handler {
	return promhttp.Handler()
}
