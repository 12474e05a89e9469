package platform

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a platform API failure.
type ErrorKind string

const (
	KindRateLimited      ErrorKind = "rate_limited"
	KindAuthExpired      ErrorKind = "auth_expired"
	KindPermissionDenied ErrorKind = "permission_denied"
	KindNotFound         ErrorKind = "not_found"
	KindGeneric          ErrorKind = "generic"
)

// IntegrationError is a typed failure from a platform API call. The queue
// maps it to retryable vs terminal: auth-expired and permission-denied need
// human reconnect action and are never retried.
type IntegrationError struct {
	Platform   string
	Kind       ErrorKind
	StatusCode int
	Message    string
}

func (e *IntegrationError) Error() string {
	return fmt.Sprintf("%s api error (%s, status %d): %s", e.Platform, e.Kind, e.StatusCode, e.Message)
}

// Retryable reports whether the queue should retry this failure.
func (e *IntegrationError) Retryable() bool {
	switch e.Kind {
	case KindAuthExpired, KindPermissionDenied:
		return false
	default:
		return true
	}
}

// IsRetryable classifies any error for queue bookkeeping. Unknown errors
// (network, timeout, decode) are retried.
func IsRetryable(err error) bool {
	var ie *IntegrationError
	if errors.As(err, &ie) {
		return ie.Retryable()
	}
	return true
}

func classifyStatus(platformName string, status int, body string) *IntegrationError {
	kind := KindGeneric
	switch status {
	case http.StatusTooManyRequests:
		kind = KindRateLimited
	case http.StatusUnauthorized:
		kind = KindAuthExpired
	case http.StatusForbidden:
		kind = KindPermissionDenied
	case http.StatusNotFound:
		kind = KindNotFound
	}
	return &IntegrationError{Platform: platformName, Kind: kind, StatusCode: status, Message: body}
}
