// internal/auth/errors.go
package auth

import "fmt"

// ConfigurationError reports a problem detectable before any network
// call (unknown federated provider, unknown device name). Never
// retried.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string { return "configuration: " + e.Reason }

// AuthenticationError reports a login or refresh rejected by the
// remote service, or a 401 that survived the single re-auth retry.
// Code carries the remote error code when the response included one.
type AuthenticationError struct {
	Code   int
	Status int
	Reason string
}

func (e *AuthenticationError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("authentication failed: %s (remote code %d)", e.Reason, e.Code)
	}
	return "authentication failed: " + e.Reason
}
