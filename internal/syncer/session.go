package syncer

import (
	"errors"
	"sync"
)

var ErrSyncInFlight = errors.New("syncer: sync already in flight for this account")

// session is the cooperative cancellation token for one running sync. The
// scan loop polls it at the top of each batch; cancellation never discards
// accumulated progress.
type session struct {
	cancel chan struct{}
	once   sync.Once
}

func newSession() *session {
	return &session{cancel: make(chan struct{})}
}

func (s *session) Cancel() {
	s.once.Do(func() { close(s.cancel) })
}

func (s *session) cancelled() bool {
	select {
	case <-s.cancel:
		return true
	default:
		return false
	}
}

// sessionRegistry enforces at-most-one sync in flight per account. A
// second sync request is rejected immediately, never queued.
type sessionRegistry struct {
	mu     sync.Mutex
	active map[string]*session
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{active: make(map[string]*session)}
}

func (r *sessionRegistry) begin(account string) (*session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, running := r.active[account]; running {
		return nil, ErrSyncInFlight
	}
	s := newSession()
	r.active[account] = s
	return s, nil
}

func (r *sessionRegistry) end(account string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, account)
}

func (r *sessionRegistry) cancelActive(account string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, running := r.active[account]
	if !running {
		return false
	}
	s.Cancel()
	return true
}

func (r *sessionRegistry) inFlight(account string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, running := r.active[account]
	return running
}
