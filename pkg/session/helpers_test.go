package session_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/tabsession/pkg/authsdk"
	"github.com/aussiebroadwan/tabsession/pkg/credstore"
	"github.com/aussiebroadwan/tabsession/pkg/jwtx"
	"github.com/aussiebroadwan/tabsession/pkg/jwtx/jwtxtest"
	"github.com/aussiebroadwan/tabsession/pkg/session"
	"github.com/aussiebroadwan/tabsession/pkg/tabsync"
)

const accessTTL = 900 * time.Second

// clock is a manually advanced clock shared by the fake server and tabs.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeAuth is an in-memory auth API. Generation n issues access token "An"
// (as the jti claim) and refresh token "Rn"; only the latest refresh token
// is accepted.
type fakeAuth struct {
	srv   *httptest.Server
	clock *clock

	loginCalls   atomic.Int32
	refreshCalls atomic.Int32
	logoutCalls  atomic.Int32

	mu              sync.Mutex
	gen             int
	validRefresh    string
	refreshStatus   int
	refreshDelay    time.Duration
	logoutStatus    int
	revoked         []string
	lastRefreshAuth string
}

func newFakeAuth(t *testing.T, clk *clock) *fakeAuth {
	t.Helper()

	f := &fakeAuth{clock: clk}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", f.handleLogin)
	mux.HandleFunc("POST /auth/refresh-token", f.handleRefresh)
	mux.HandleFunc("POST /auth/logout", f.handleLogout)
	mux.HandleFunc("GET /api/orders", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"authorization": r.Header.Get("Authorization")})
	})
	mux.HandleFunc("GET /api/revoked", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeAuth) issueLocked() map[string]any {
	f.gen++
	now := f.clock.Now()
	access := jwtxtest.Mint(jwtx.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        fmt.Sprintf("A%d", f.gen),
			Subject:   "user-1",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(accessTTL)),
		},
		Role: "clerk",
	})
	f.validRefresh = fmt.Sprintf("R%d", f.gen)

	return map[string]any{
		"access_token":  access,
		"refresh_token": f.validRefresh,
		"id":            "user-1",
		"role":          "guest", // stale role; the token claim must win
		"is_verified":   true,
		"email":         "ada@example.com",
	}
}

func (f *fakeAuth) handleLogin(w http.ResponseWriter, r *http.Request) {
	f.loginCalls.Add(1)

	var req authsdk.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Password != "hunter2" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_credentials"})
		return
	}

	f.mu.Lock()
	body := f.issueLocked()
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, body)
}

func (f *fakeAuth) handleRefresh(w http.ResponseWriter, r *http.Request) {
	f.refreshCalls.Add(1)

	f.mu.Lock()
	delay, status := f.refreshDelay, f.refreshStatus
	f.lastRefreshAuth = r.Header.Get("Authorization")
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}
	if status != 0 {
		writeJSON(w, status, map[string]string{"error": "invalid_refresh_token", "message": "refresh rejected"})
		return
	}

	var req authsdk.RefreshRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	f.mu.Lock()
	defer f.mu.Unlock()
	if req.RefreshToken != f.validRefresh {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_refresh_token"})
		return
	}
	writeJSON(w, http.StatusOK, f.issueLocked())
}

func (f *fakeAuth) handleLogout(w http.ResponseWriter, r *http.Request) {
	f.logoutCalls.Add(1)

	var req authsdk.LogoutRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.logoutStatus != 0 {
		writeJSON(w, f.logoutStatus, map[string]string{"error": "server_error"})
		return
	}
	f.revoked = append(f.revoked, req.RefreshToken)
	writeJSON(w, http.StatusOK, authsdk.LogoutResponse{Success: true})
}

func (f *fakeAuth) set(fn func(f *fakeAuth)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

// navRecorder is a Navigator that remembers where it was sent.
type navRecorder struct {
	mu    sync.Mutex
	paths []string
}

func (n *navRecorder) Navigate(_ context.Context, path string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.paths = append(n.paths, path)
}

func (n *navRecorder) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.paths)
}

type tab struct {
	*session.Manager
	nav *navRecorder
}

// env is one origin: a fake auth API, a shared durable tier and a bus.
type env struct {
	t       *testing.T
	clock   *clock
	auth    *fakeAuth
	durable *credstore.Memory
	hub     *tabsync.Hub
}

func newEnv(t *testing.T) *env {
	t.Helper()

	clk := newClock()
	return &env{
		t:       t,
		clock:   clk,
		auth:    newFakeAuth(t, clk),
		durable: credstore.NewMemory(),
		hub:     tabsync.NewHub(),
	}
}

func (e *env) openTab(mutate ...func(*session.Options)) *tab {
	e.t.Helper()

	nav := &navRecorder{}
	opts := session.Options{
		Store:     credstore.New(credstore.Options{Durable: e.durable}),
		API:       authsdk.NewSDKClient(e.auth.srv.URL),
		Bus:       e.hub,
		Navigator: nav,
		Now:       e.clock.Now,
	}
	for _, fn := range mutate {
		fn(&opts)
	}

	m, err := session.New(opts)
	require.NoError(e.t, err)
	e.t.Cleanup(func() { _ = m.Close() })
	return &tab{Manager: m, nav: nav}
}

// tokenID returns the jti of an access token, "A1", "A2", ...
func tokenID(t *testing.T, token string) string {
	t.Helper()
	claims, err := jwtx.ParseClaims(token)
	require.NoError(t, err)
	return claims.ID
}
