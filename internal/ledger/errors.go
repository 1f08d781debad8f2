package ledger

import (
	"errors"
	"fmt"
)

var ErrNoEndpoints = errors.New("ledger: no endpoints configured")

// EndpointError reports that every configured endpoint failed to answer a
// ledger query. Per-item misses (unknown id, bad block) are not errors and
// are reported as nil results instead.
type EndpointError struct {
	Op       string
	Endpoint string
	Status   int
	Err      error
}

func (e *EndpointError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("ledger %s via %s: %v", e.Op, e.Endpoint, e.Err)
	}
	return fmt.Sprintf("ledger %s via %s: status %d", e.Op, e.Endpoint, e.Status)
}

func (e *EndpointError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func IsEndpointError(err error) bool {
	var eerr *EndpointError
	return errors.As(err, &eerr)
}
