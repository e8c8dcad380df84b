// internal/auth/registry.go
package auth

import "sync"

// The default session: clients constructed without an explicit
// authenticator share this one, so repeated client construction does
// not trigger repeated logins. Callers needing isolation pass their
// own Authenticator instead.
var (
	defaultMu   sync.Mutex
	defaultAuth *Authenticator
)

// Default returns the shared process-wide authenticator, creating it
// from opts on first use. Later calls return the existing instance and
// ignore opts.
func Default(opts Options) *Authenticator {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultAuth == nil {
		defaultAuth = New(opts)
	}
	return defaultAuth
}

// ResetDefault discards the shared authenticator so the next Default
// call builds a fresh, unauthenticated one. Used for test isolation
// and credential rotation.
func ResetDefault() {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultAuth = nil
}
