package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and infrastructure layers
// return these (optionally wrapped) so callers can tell an outage from a bug.
//
// For client-visible errors, use pkg/domain-errors directly.
var (
	// ErrUnavailable means the audit store cannot be reached right now, or the
	// writer's circuit breaker is holding writes back.
	ErrUnavailable = errors.New("unavailable")
)
