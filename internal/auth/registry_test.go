// internal/auth/registry_test.go
package auth_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"qjob/internal/apitest"
	"qjob/internal/auth"
	"qjob/pkg/transport"
)

// No t.Parallel here: these tests own the process-wide default.

func TestDefaultIsSharedUntilReset(t *testing.T) {
	srv := apitest.New(t)
	auth.ResetDefault()
	t.Cleanup(auth.ResetDefault)

	opts := auth.Options{
		Username:    "user@example.com",
		Credentials: auth.StaticProvider{User: "user@example.com", Pass: "secret"},
		API:         transport.New(srv.URL(), 5*time.Second, nil),
	}
	a := auth.Default(opts)
	b := auth.Default(opts)
	require.Same(t, a, b)

	auth.ResetDefault()
	c := auth.Default(opts)
	require.NotSame(t, a, c)
	require.False(t, c.Authenticated())
}
