// internal/auth/authenticator_test.go
package auth_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"qjob/internal/apitest"
	"qjob/internal/auth"
	"qjob/pkg/tokencache"
	"qjob/pkg/transport"
)

func testOptions(srv *apitest.Server) auth.Options {
	return auth.Options{
		Username:    "user@example.com",
		Credentials: auth.StaticProvider{User: "user@example.com", Pass: "secret"},
		API:         transport.New(srv.URL(), 5*time.Second, nil),
	}
}

func TestBearerTokenLogsInOnceAndReuses(t *testing.T) {
	t.Parallel()
	srv := apitest.New(t)
	a := auth.New(testOptions(srv))

	tok1, err := a.BearerToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, srv.IDToken, tok1)

	// Second call within the token's validity window: no network.
	tok2, err := a.BearerToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, tok1, tok2)
	require.Equal(t, 1, srv.LoginCalls())
}

func TestLoginMFAFlow(t *testing.T) {
	t.Parallel()
	srv := apitest.New(t)
	srv.MFACode = "424242"

	opts := testOptions(srv)
	opts.Credentials = auth.StaticProvider{User: "user@example.com", Pass: "secret", MFA: "424242"}
	a := auth.New(opts)

	require.NoError(t, a.Login(context.Background()))
	require.True(t, a.Authenticated())

	bodies := srv.LoginBodies()
	require.Len(t, bodies, 2)
	require.NotContains(t, bodies[0], "code")
	require.Equal(t, "424242", bodies[1]["code"])
}

func TestLoginMFARejectedCode(t *testing.T) {
	t.Parallel()
	srv := apitest.New(t)
	srv.MFACode = "424242"

	opts := testOptions(srv)
	opts.Credentials = auth.StaticProvider{User: "user@example.com", Pass: "secret", MFA: "000000"}
	a := auth.New(opts)

	err := a.Login(context.Background())
	var authErr *auth.AuthenticationError
	require.ErrorAs(t, err, &authErr)
	require.False(t, a.Authenticated())
	// One plain attempt plus exactly one code-bearing retry.
	require.Equal(t, 2, srv.LoginCalls())
}

func TestFederatedLogin(t *testing.T) {
	t.Parallel()
	srv := apitest.New(t)

	calls := 0
	opts := testOptions(srv)
	opts.Username = ""
	opts.Provider = "example-idp"
	opts.FederatedLogin = func(ctx context.Context) (string, string, error) {
		calls++
		return "fed-user@example.com", "idp-issued-token", nil
	}
	a := auth.New(opts)

	require.NoError(t, a.Login(context.Background()))
	require.Equal(t, 1, calls)

	bodies := srv.LoginBodies()
	require.Len(t, bodies, 1)
	require.Equal(t, "idp-issued-token", bodies[0]["token"])
	require.NotContains(t, bodies[0], "password")
}

func TestFederatedUnknownProvider(t *testing.T) {
	t.Parallel()
	srv := apitest.New(t)

	opts := testOptions(srv)
	opts.Provider = "wrong provider"
	a := auth.New(opts)

	err := a.Login(context.Background())
	var cfgErr *auth.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	// Detected before any network call.
	require.Equal(t, 0, srv.LoginCalls())
}

func TestLoginRejected(t *testing.T) {
	t.Parallel()
	srv := apitest.New(t)
	srv.FailLogin = true

	a := auth.New(testOptions(srv))
	err := a.Login(context.Background())

	var authErr *auth.AuthenticationError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, 3, authErr.Code)
}

func TestBearerTokenSingleFlight(t *testing.T) {
	t.Parallel()
	srv := apitest.New(t)
	srv.LoginDelay = 50 * time.Millisecond

	a := auth.New(testOptions(srv))

	var wg sync.WaitGroup
	tokens := make([]string, 8)
	errs := make([]error, 8)
	for i := range tokens {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = a.BearerToken(context.Background())
		}(i)
	}
	wg.Wait()

	// One login reached the network; every caller observed its result.
	require.Equal(t, 1, srv.LoginCalls())
	for i := range tokens {
		require.NoError(t, errs[i])
		require.Equal(t, srv.IDToken, tokens[i])
	}
}

func TestBearerTokenJoinsInFlightLogin(t *testing.T) {
	t.Parallel()
	srv := apitest.New(t)
	srv.LoginDelay = 150 * time.Millisecond

	a := auth.New(testOptions(srv))

	// One goroutine logs in explicitly while another asks for the
	// bearer token mid-flight; the waiter must receive the login's
	// token, not a duplicate login and not a panic.
	var wg sync.WaitGroup
	var loginErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		loginErr = a.Login(context.Background())
	}()
	time.Sleep(50 * time.Millisecond)
	tok, err := a.BearerToken(context.Background())
	wg.Wait()

	require.NoError(t, loginErr)
	require.NoError(t, err)
	require.Equal(t, srv.IDToken, tok)
	require.Equal(t, 1, srv.LoginCalls())
}

func TestCacheSeedsSessionOnConstruct(t *testing.T) {
	t.Parallel()
	srv := apitest.New(t)
	cache := tokencache.NewMemory()
	key := tokencache.Key("user@example.com", srv.URL())
	seeded := apitest.Token(t, time.Hour)
	require.NoError(t, cache.Store(context.Background(), key,
		tokencache.Entry{AccessToken: seeded, RefreshToken: srv.RefreshToken}, time.Hour))

	opts := testOptions(srv)
	opts.Cache = cache
	a := auth.New(opts)

	require.True(t, a.Authenticated())
	tok, err := a.BearerToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, seeded, tok)
	// The seeded session needed no login of its own.
	require.Equal(t, 0, srv.LoginCalls())
}

func TestCacheWriteThroughOnLogin(t *testing.T) {
	t.Parallel()
	srv := apitest.New(t)
	cache := tokencache.NewMemory()
	opts := testOptions(srv)
	opts.Cache = cache
	a := auth.New(opts)

	require.NoError(t, a.Login(context.Background()))

	e, ok, err := cache.Load(context.Background(), tokencache.Key("user@example.com", srv.URL()))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, srv.IDToken, e.AccessToken)
	require.Equal(t, srv.RefreshToken, e.RefreshToken)
}

func TestCacheWriteThroughOnRefresh(t *testing.T) {
	t.Parallel()
	srv := apitest.New(t)
	cache := tokencache.NewMemory()
	key := tokencache.Key("user@example.com", srv.URL())
	expired := apitest.Token(t, -time.Minute)
	require.NoError(t, cache.Store(context.Background(), key,
		tokencache.Entry{AccessToken: expired, RefreshToken: srv.RefreshToken}, time.Hour))

	opts := testOptions(srv)
	opts.Cache = cache
	a := auth.New(opts)

	tok, err := a.BearerToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, srv.IDToken, tok)

	// The refreshed token replaced the expired one in the cache.
	e, ok, err := cache.Load(context.Background(), key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, srv.IDToken, e.AccessToken)
}

func TestLogoutClearsCache(t *testing.T) {
	t.Parallel()
	srv := apitest.New(t)
	cache := tokencache.NewMemory()
	opts := testOptions(srv)
	opts.Cache = cache
	a := auth.New(opts)

	require.NoError(t, a.Login(context.Background()))
	a.Logout()

	_, ok, err := cache.Load(context.Background(), tokencache.Key("user@example.com", srv.URL()))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestExpiredTokenRefreshes(t *testing.T) {
	t.Parallel()
	srv := apitest.New(t)
	expired := apitest.Token(t, -time.Minute)

	a := auth.NewWithTokens(testOptions(srv), expired, srv.RefreshToken)

	tok, err := a.BearerToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, srv.IDToken, tok)

	bodies := srv.LoginBodies()
	require.Len(t, bodies, 1)
	require.Contains(t, bodies[0], "refresh-token")
	require.NotContains(t, bodies[0], "password")
}

func TestRefreshFailureFallsBackToLogin(t *testing.T) {
	t.Parallel()
	srv := apitest.New(t)
	srv.FailRefresh = true
	expired := apitest.Token(t, -time.Minute)

	a := auth.NewWithTokens(testOptions(srv), expired, srv.RefreshToken)

	tok, err := a.BearerToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, srv.IDToken, tok)

	bodies := srv.LoginBodies()
	require.Len(t, bodies, 2)
	require.Contains(t, bodies[0], "refresh-token")
	require.Contains(t, bodies[1], "password")
}

func TestLogoutIsIdempotent(t *testing.T) {
	t.Parallel()
	srv := apitest.New(t)
	a := auth.New(testOptions(srv))

	require.NoError(t, a.Login(context.Background()))
	require.True(t, a.Authenticated())

	a.Logout()
	require.False(t, a.Authenticated())
	a.DeleteAuthentication()
	require.False(t, a.Authenticated())
}
