// internal/apitest/server.go
//
// In-process fake of the remote quantum-job API for package tests:
// scripted /login (success, MFA-first, hard rejection), /job with
// per-request body capture, and a configurable /machine catalog.
package apitest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// Server scripts the remote API's behavior and records what it saw.
type Server struct {
	ts *httptest.Server

	mu sync.Mutex

	// Scripted behavior.
	IDToken      string
	RefreshToken string
	MFACode      string        // non-empty: first login without code gets the MFA-required error
	FailLogin    bool          // every login is rejected
	FailRefresh  bool          // refresh grants are rejected; password logins still work
	LoginDelay   time.Duration // artificial latency, for single-flight tests
	JobID        string
	Reject401    int // number of upcoming /job posts to answer with 401
	Machines     []map[string]any

	// Observations.
	loginBodies  []map[string]any
	jobBodies    []map[string]any
	machineCalls int
}

// New starts the fake API with sensible defaults: one concrete
// batching-capable machine and a token valid for an hour.
func New(t *testing.T) *Server {
	t.Helper()
	s := &Server{
		IDToken:      Token(t, time.Hour),
		RefreshToken: Token(t, 30*24*time.Hour),
		JobID:        "abc-123",
		Machines:     []map[string]any{MachineInfo("H9-27")},
	}
	r := chi.NewRouter()
	r.Post("/login", s.handleLogin)
	r.Post("/job", s.handleJob)
	r.Get("/machine/", s.handleMachines)
	s.ts = httptest.NewServer(r)
	t.Cleanup(s.ts.Close)
	return s
}

func (s *Server) URL() string { return s.ts.URL }

// LoginCalls returns how many times /login was hit.
func (s *Server) LoginCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.loginBodies)
}

// LoginBodies returns the decoded bodies of every /login call, in
// order.
func (s *Server) LoginBodies() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]any(nil), s.loginBodies...)
}

// JobCalls returns how many times /job was hit, including rejected
// attempts.
func (s *Server) JobCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobBodies)
}

// JobBodies returns the decoded bodies of every /job call, in order.
func (s *Server) JobBodies() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]any(nil), s.jobBodies...)
}

// LastJobBody returns the most recent /job body, or nil.
func (s *Server) LastJobBody() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.jobBodies) == 0 {
		return nil
	}
	return s.jobBodies[len(s.jobBodies)-1]
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	s.mu.Lock()
	s.loginBodies = append(s.loginBodies, body)
	failLogin, failRefresh, mfa := s.FailLogin, s.FailRefresh, s.MFACode
	id, refresh := s.IDToken, s.RefreshToken
	delay := s.LoginDelay
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if failLogin {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": map[string]any{"code": 3}})
		return
	}
	// Refresh grant: accept any refresh token unless scripted to fail.
	if _, ok := body["refresh-token"]; ok {
		if failRefresh {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": map[string]any{"code": 14}})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id-token": id, "refresh-token": refresh})
		return
	}
	if mfa != "" {
		code, _ := body["code"].(string)
		if code == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": map[string]any{"code": 73}})
			return
		}
		if code != mfa {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": map[string]any{"code": 74}})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"id-token": id, "refresh-token": refresh})
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	s.mu.Lock()
	s.jobBodies = append(s.jobBodies, body)
	reject := s.Reject401 > 0
	if reject {
		s.Reject401--
	}
	jobID := s.JobID
	s.mu.Unlock()

	if reject {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": map[string]any{"code": 12}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": jobID})
}

func (s *Server) handleMachines(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.machineCalls++
	machines := append([]map[string]any(nil), s.Machines...)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, machines)
}

// MachineCalls returns how many times the catalog was fetched.
func (s *Server) MachineCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machineCalls
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Token mints a signed JWT expiring after ttl. The client parses
// tokens unverified, so the signing key is arbitrary.
func Token(t *testing.T, ttl time.Duration) string {
	t.Helper()
	tok, err := jwt.NewBuilder().
		Issuer("apitest").
		IssuedAt(time.Now()).
		Expiration(time.Now().Add(ttl)).
		Build()
	if err != nil {
		t.Fatalf("build token: %v", err)
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, []byte("apitest-secret")))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return string(signed)
}

// MachineInfo builds a catalog entry for a concrete batching-capable
// machine named like the fixtures the remote service returns.
func MachineInfo(name string) map[string]any {
	return map[string]any{
		"name":                  name,
		"n_qubits":              20,
		"n_classical_registers": 120,
		"n_shots":               10000,
		"system_type":           "hardware",
		"emulator":              name + "E",
		"syntax_checker":        name + "SC",
		"batching":              true,
		"wasm":                  true,
	}
}

// MachineFamily builds the catalog entries for a family name plus its
// concrete units, mirroring production catalogs where "H1" sits next
// to "H1-1" and "H1-2".
func MachineFamily(family string, units ...string) []map[string]any {
	out := []map[string]any{MachineInfo(family)}
	for _, u := range units {
		out = append(out, MachineInfo(family+"-"+u))
	}
	return out
}
