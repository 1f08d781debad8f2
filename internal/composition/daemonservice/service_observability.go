package daemonservice

import (
	"time"

	"chainmail/go-backend/internal/platform/runtimestate"
	"chainmail/go-backend/pkg/models"
)

// GetMetrics snapshots the service-level counters together with the ledger
// client's request counters.
func (s *Service) GetMetrics() models.MetricsSnapshot {
	counters, opStats, lastAt := s.metrics.Snapshot()
	ledgerMetrics := s.ledger.Metrics()
	return models.MetricsSnapshot{
		ErrorCounters:       counters,
		OperationStats:      opStats,
		LedgerMetrics:       ledgerMetrics,
		RetryAttemptsTotal:  ledgerMetrics["request_retries"],
		NotificationBacklog: s.notifier.BacklogSize(),
		LastUpdatedAt:       lastAt,
	}
}

// SubscribeNotifications replays events after cursor and streams new ones
// until the returned cancel function runs.
func (s *Service) SubscribeNotifications(cursor int64) ([]runtimestate.NotificationEvent, <-chan runtimestate.NotificationEvent, func()) {
	return s.notifier.Subscribe(cursor)
}

func (s *Service) notify(method string, payload any) {
	s.notifier.Publish(method, payload)
}

func (s *Service) recordError(category string, err error) {
	s.recordErrorWithContext(category, err, "service.error", "n/a")
}

func (s *Service) trackOperation(operation string, errRef *error) func() {
	started := time.Now()
	return func() {
		s.metrics.RecordOp(operation, started)
		if errRef != nil && *errRef != nil {
			s.metrics.RecordOpError(operation)
		}
	}
}
