// internal/auth/authenticator.go
package auth

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"qjob/pkg/logger"
	"qjob/pkg/metrics"
	"qjob/pkg/tokencache"
	"qjob/pkg/transport"
)

// Remote error code meaning the login needs an MFA verification code
// on resubmission.
const codeMFARequired = 73

// FederatedLoginFunc acquires credentials from an external identity
// provider, returning the account name and a provider-issued token
// submitted in place of a password.
type FederatedLoginFunc func(ctx context.Context) (username, token string, err error)

var (
	federatedMu  sync.RWMutex
	federatedReg = map[string]FederatedLoginFunc{}
)

// RegisterFederated installs a federated login routine under a
// provider name. Called from provider packages at init.
func RegisterFederated(name string, fn FederatedLoginFunc) {
	federatedMu.Lock()
	defer federatedMu.Unlock()
	federatedReg[name] = fn
}

func lookupFederated(name string) (FederatedLoginFunc, bool) {
	federatedMu.RLock()
	defer federatedMu.RUnlock()
	fn, ok := federatedReg[name]
	return fn, ok
}

// Options configures an Authenticator.
type Options struct {
	Username    string
	Provider    string // "" for native login, else a federated idp name
	Credentials CredentialProvider
	API         *transport.Client
	Log         logger.Sugared
	Metrics     *metrics.Metrics
	Cache       tokencache.Cache // optional cross-process session mirror

	// FederatedLogin overrides the registered routine for Provider;
	// tests inject fakes here.
	FederatedLogin FederatedLoginFunc
}

// Authenticator owns one session against the remote API: login
// (password, MFA, federated), refresh, logout. Login and refresh are
// single-flight; concurrent callers share one outcome.
type Authenticator struct {
	username  string
	provider  string
	creds     CredentialProvider
	api       *transport.Client
	log       logger.Sugared
	met       *metrics.Metrics
	cache     tokencache.Cache
	fedLogin  FederatedLoginFunc
	store     *CredentialStore
	sf        singleflight.Group
	userKnown sync.Mutex // guards username once prompts resolve it
}

func New(opts Options) *Authenticator {
	log := opts.Log
	if log == nil {
		log = logger.Nop()
	}
	creds := opts.Credentials
	if creds == nil {
		creds = NewPromptProvider()
	}
	a := &Authenticator{
		username: opts.Username,
		provider: opts.Provider,
		creds:    creds,
		api:      opts.API,
		log:      log,
		met:      opts.Metrics,
		cache:    opts.Cache,
		fedLogin: opts.FederatedLogin,
		store:    &CredentialStore{},
	}
	a.seedFromCache()
	return a
}

// NewWithTokens builds an authenticator with pre-set credentials,
// bypassing login entirely. Intended for callers that obtained tokens
// elsewhere and for tests.
func NewWithTokens(opts Options, access, refresh string) *Authenticator {
	a := New(opts)
	a.store.SetTokens(access, refresh)
	return a
}

// cacheTTL bounds how long mirrored credentials outlive the process.
const cacheTTL = 24 * time.Hour

func (a *Authenticator) seedFromCache() {
	if a.cache == nil || a.username == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	e, ok, err := a.cache.Load(ctx, tokencache.Key(a.username, a.api.BaseURL()))
	if err != nil {
		a.log.Warnw("token cache load", "err", err)
		return
	}
	if ok {
		a.store.SetTokens(e.AccessToken, e.RefreshToken)
	}
}

func (a *Authenticator) mirrorToCache(ctx context.Context) {
	if a.cache == nil || a.username == "" {
		return
	}
	tok, _ := a.store.FreshAccessToken()
	e := tokencache.Entry{AccessToken: tok, RefreshToken: a.store.RefreshToken()}
	if err := a.cache.Store(ctx, tokencache.Key(a.username, a.api.BaseURL()), e, cacheTTL); err != nil {
		a.log.Warnw("token cache store", "err", err)
	}
}

// BearerToken returns a valid access token, logging in when the store
// is empty and refreshing when the held token is stale. Refresh
// failure falls back to a full login. Concurrent callers while
// unauthenticated trigger exactly one network login.
func (a *Authenticator) BearerToken(ctx context.Context) (string, error) {
	if tok, ok := a.store.FreshAccessToken(); ok {
		return tok, nil
	}
	v, err, _ := a.sf.Do("session", func() (any, error) {
		// A waiter may arrive after the winner already repopulated.
		if tok, ok := a.store.FreshAccessToken(); ok {
			return tok, nil
		}
		if rt := a.store.RefreshToken(); rt != "" {
			if err := a.refresh(ctx, rt); err == nil {
				tok, _ := a.store.FreshAccessToken()
				return tok, nil
			}
			a.log.Debugw("refresh failed, falling back to login")
		}
		if err := a.login(ctx); err != nil {
			return "", err
		}
		tok, _ := a.store.FreshAccessToken()
		return tok, nil
	})
	if err != nil {
		return "", err
	}
	tok, _ := v.(string)
	return tok, nil
}

// ForceReauth invalidates the held access token and produces a new one
// via refresh or login. Used by the single 401 recovery path in job
// submission.
func (a *Authenticator) ForceReauth(ctx context.Context) (string, error) {
	a.store.MarkStale()
	return a.BearerToken(ctx)
}

// Login performs a full interactive (or federated) login regardless of
// current token state. Single-flight with BearerToken: the closure
// returns the fresh token so a BearerToken caller that joins this
// flight gets a usable result.
func (a *Authenticator) Login(ctx context.Context) error {
	_, err, _ := a.sf.Do("session", func() (any, error) {
		if err := a.login(ctx); err != nil {
			return "", err
		}
		tok, _ := a.store.FreshAccessToken()
		return tok, nil
	})
	return err
}

// Logout clears the session credentials. Idempotent.
func (a *Authenticator) Logout() {
	a.store.Clear()
	if a.cache != nil && a.username != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.cache.Clear(ctx, tokencache.Key(a.username, a.api.BaseURL())); err != nil {
			a.log.Warnw("token cache clear", "err", err)
		}
	}
}

// DeleteAuthentication is an alias for Logout kept for callers that
// phrase it as credential removal.
func (a *Authenticator) DeleteAuthentication() { a.Logout() }

// Authenticated reports whether the store currently holds a token.
func (a *Authenticator) Authenticated() bool { return !a.store.Empty() }

type loginResponse struct {
	IDToken      string `json:"id-token"`
	RefreshToken string `json:"refresh-token"`
}

func (a *Authenticator) login(ctx context.Context) error {
	body, err := a.loginBody(ctx)
	if err != nil {
		return err
	}
	resp, err := a.api.PostJSON(ctx, "/login", body, "")
	if err != nil {
		a.met.Login("transport_error")
		return err
	}
	if resp.StatusCode == 200 {
		return a.acceptLogin(ctx, resp)
	}
	if resp.ErrorCode() == codeMFARequired {
		return a.loginWithMFA(ctx, body)
	}
	a.met.Login("rejected")
	return &AuthenticationError{Code: resp.ErrorCode(), Status: resp.StatusCode, Reason: "login rejected"}
}

// loginWithMFA resubmits the login including a one-time code. At most
// one code prompt; a second rejection surfaces.
func (a *Authenticator) loginWithMFA(ctx context.Context, body map[string]any) error {
	code, err := a.creds.MFACode()
	if err != nil {
		return err
	}
	body["code"] = code
	resp, err := a.api.PostJSON(ctx, "/login", body, "")
	if err != nil {
		a.met.Login("transport_error")
		return err
	}
	if resp.StatusCode == 200 {
		return a.acceptLogin(ctx, resp)
	}
	a.met.Login("rejected")
	return &AuthenticationError{Code: resp.ErrorCode(), Status: resp.StatusCode, Reason: "MFA login rejected"}
}

func (a *Authenticator) acceptLogin(ctx context.Context, resp *transport.Response) error {
	var lr loginResponse
	if err := resp.Decode(&lr); err != nil {
		a.met.Login("transport_error")
		return err
	}
	a.store.SetTokens(lr.IDToken, lr.RefreshToken)
	a.met.Login("ok")
	a.log.Infow("logged in", "user", a.username, "provider", a.providerName())
	a.mirrorToCache(ctx)
	return nil
}

func (a *Authenticator) providerName() string {
	if a.provider == "" {
		return "native"
	}
	return a.provider
}

// loginBody resolves the credentials for the initial login request.
// Unsupported federation providers fail here, before any network call.
func (a *Authenticator) loginBody(ctx context.Context) (map[string]any, error) {
	if a.provider != "" {
		fn := a.fedLogin
		if fn == nil {
			var ok bool
			fn, ok = lookupFederated(a.provider)
			if !ok {
				return nil, &ConfigurationError{Reason: "unsupported provider for login: " + a.provider}
			}
		}
		user, token, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		a.setUsername(user)
		return map[string]any{"username": user, "token": token}, nil
	}
	user, err := a.resolveUsername()
	if err != nil {
		return nil, err
	}
	pwd, err := a.creds.Password()
	if err != nil {
		return nil, err
	}
	return map[string]any{"username": user, "password": pwd}, nil
}

func (a *Authenticator) resolveUsername() (string, error) {
	a.userKnown.Lock()
	defer a.userKnown.Unlock()
	if a.username != "" {
		return a.username, nil
	}
	user, err := a.creds.Username()
	if err != nil {
		return "", err
	}
	a.username = user
	return user, nil
}

func (a *Authenticator) setUsername(user string) {
	a.userKnown.Lock()
	defer a.userKnown.Unlock()
	if a.username == "" {
		a.username = user
	}
}

// refresh mints a new access token from the refresh token.
func (a *Authenticator) refresh(ctx context.Context, refreshToken string) error {
	resp, err := a.api.PostJSON(ctx, "/login", map[string]any{"refresh-token": refreshToken}, "")
	if err != nil {
		a.met.Refresh("transport_error")
		return err
	}
	if resp.StatusCode != 200 {
		a.met.Refresh("rejected")
		return &AuthenticationError{Code: resp.ErrorCode(), Status: resp.StatusCode, Reason: "token refresh rejected"}
	}
	var lr loginResponse
	if err := resp.Decode(&lr); err != nil {
		a.met.Refresh("transport_error")
		return err
	}
	a.store.SetTokens(lr.IDToken, lr.RefreshToken)
	a.met.Refresh("ok")
	a.mirrorToCache(ctx)
	return nil
}
