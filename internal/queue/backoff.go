package queue

import (
	"time"

	"taskbridge/internal/models"
)

const (
	// BackoffExponential doubles the delay on every retry, starting at 30s.
	BackoffExponential = "exponential"
	// BackoffLinear grows the delay by 60s per retry.
	BackoffLinear = "linear"

	exponentialBase = 30 * time.Second
	linearStep      = 60 * time.Second
)

// backoffDelay returns how long to wait before retry number n (1-based) for
// the given target platform policy. Exponential yields 30s, 1m, 2m, ...;
// linear yields 1m, 2m, 3m, ... Unknown policies fall back to exponential.
func backoffDelay(policy string, retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}
	switch policy {
	case BackoffLinear:
		return time.Duration(retry) * linearStep
	default:
		return exponentialBase << uint(retry-1)
	}
}

// policyFor picks the backoff policy of an item's target platform.
func (m *Manager) policyFor(targetPlatform string) string {
	if targetPlatform == models.PlatformTrello {
		return m.trelloBackoff
	}
	return m.motionBackoff
}
