package etims

import (
	"errors"
	"fmt"
)

// Error taxonomy for gateway calls. Handlers branch on the class to decide
// whether to retry, re-authenticate, or park the document for an operator.

// ConfigurationError means the local setup is wrong (missing route, missing
// placeholder value, no active settings). Retrying cannot help.
type ConfigurationError struct {
	Detail string
	Err    error
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Detail
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// AuthenticationError means the gateway rejected our credentials even after
// a token refresh.
type AuthenticationError struct {
	StatusCode int
	Detail     string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed (%d): %s", e.StatusCode, e.Detail)
}

// TransientNetworkError wraps connection failures and timeouts. Safe to
// retry with backoff.
type TransientNetworkError struct {
	Err error
}

func (e *TransientNetworkError) Error() string {
	return "network error: " + e.Err.Error()
}

func (e *TransientNetworkError) Unwrap() error {
	return e.Err
}

// RemoteRejection is a non-2xx business response from the gateway. The
// detail is extracted from the response body's error/detail field.
type RemoteRejection struct {
	StatusCode int
	Detail     string
	Body       []byte
}

func (e *RemoteRejection) Error() string {
	return fmt.Sprintf("gateway rejected request (%d): %s", e.StatusCode, e.Detail)
}

// DataValidationError means a local document cannot be submitted as-is
// (unregistered item, invalid remote id, missing link target).
type DataValidationError struct {
	Detail string
	Err    error
}

func (e *DataValidationError) Error() string {
	if e.Err != nil {
		return "validation error: " + e.Detail + ": " + e.Err.Error()
	}
	return "validation error: " + e.Detail
}

func (e *DataValidationError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether a failed call may succeed on a later attempt
// without operator intervention.
func IsRetryable(err error) bool {
	var netErr *TransientNetworkError
	if errors.As(err, &netErr) {
		return true
	}
	var rejection *RemoteRejection
	if errors.As(err, &rejection) {
		return rejection.StatusCode >= 500
	}
	return false
}
