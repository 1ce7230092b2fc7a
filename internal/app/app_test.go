package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/tabsession/pkg/authsdk"
	"github.com/aussiebroadwan/tabsession/pkg/credstore"
	"github.com/aussiebroadwan/tabsession/pkg/jwtx/jwtxtest"
	"github.com/aussiebroadwan/tabsession/pkg/session"
	"github.com/aussiebroadwan/tabsession/pkg/tabsync"
)

func newAuthServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  jwtxtest.Token("user-1", "clerk", time.Now(), 15*time.Minute),
			"refresh_token": "R1",
			"id":            "user-1",
			"role":          "clerk",
		})
	})
	mux.HandleFunc("POST /auth/logout", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(authsdk.LogoutResponse{Success: true})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type navCounter struct {
	mu sync.Mutex
	n  int
}

func (c *navCounter) Navigate(context.Context, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
}

func (c *navCounter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func testConfig(t *testing.T, apiURL string) Config {
	return Config{
		APIBaseURL:       apiURL,
		Origin:           apiURL,
		DBFile:           filepath.Join(t.TempDir(), "session.db"),
		Channel:          tabsync.DefaultChannel,
		Bus:              BusMemory,
		RefreshThreshold: time.Minute,
		RefreshTimeout:   time.Second,
		LogoutTimeout:    time.Second,
		HTTPTimeout:      time.Second,
		RateLimitRPS:     100,
	}
}

func openTestTab(t *testing.T, cfg Config, opts TabOptions) (*Tab, *navCounter) {
	t.Helper()

	nav := &navCounter{}
	opts.Navigator = nav
	tab, err := OpenTab(cfg, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tab.Close() })
	return tab, nav
}

func TestOpenTabSharesSessionThroughDurableStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	srv := newAuthServer(t)
	cfg := testConfig(t, srv.URL)
	hub := tabsync.NewHub()

	tabA, _ := openTestTab(t, cfg, TabOptions{Hub: hub})
	tabB, navB := openTestTab(t, cfg, TabOptions{Hub: hub})

	_, err := tabA.Login(ctx, "ada@example.com", "hunter2")
	require.NoError(t, err)
	require.True(t, tabB.IsAuthenticated(ctx), "durable tier is shared between tabs")

	origin, err := url.Parse(srv.URL)
	require.NoError(t, err)
	cookies := map[string]string{}
	for _, c := range tabA.Client.Jar.Cookies(origin) {
		cookies[c.Name] = c.Value
	}
	require.Equal(t, "R1", cookies[credstore.CookieRefreshToken])
	require.NotEmpty(t, cookies[credstore.CookieAccessToken])

	res := tabA.Logout(ctx, nil)
	require.Equal(t, session.RemoteRevoked, res.Remote)
	require.Eventually(t, func() bool { return navB.count() == 1 }, time.Second, 5*time.Millisecond)
	require.False(t, tabB.IsAuthenticated(ctx))
	require.Empty(t, tabA.Client.Jar.Cookies(origin))
}

func TestOpenTabOverSocketBroker(t *testing.T) {
	ctx := context.Background()
	srv := newAuthServer(t)

	cfg := testConfig(t, srv.URL)
	cfg.Bus = BusSocket
	cfg.BusAddr = "tcp://127.0.0.1:0"
	cfg.ShutdownGracePeriod = time.Second
	cfg.LogLevel = "error"

	broker, err := New(cfg)
	require.NoError(t, err)
	runErr := make(chan error, 1)
	go func() { runErr <- broker.Run() }()

	cfg.BusAddr = "tcp://" + broker.Addr().String()
	tabA, _ := openTestTab(t, cfg, TabOptions{})
	tabB, navB := openTestTab(t, cfg, TabOptions{})
	require.Eventually(t, func() bool { return broker.Tabs(cfg.Channel) == 2 }, time.Second, 5*time.Millisecond)

	_, err = tabA.Login(ctx, "ada@example.com", "hunter2")
	require.NoError(t, err)
	require.NoError(t, tabA.ForceLogout(ctx, nil))

	require.Eventually(t, func() bool { return navB.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.False(t, tabB.IsAuthenticated(ctx))

	require.NoError(t, broker.Shutdown())
	require.NoError(t, <-runErr)
}

func TestOpenTabRejectsUnknownBus(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "http://localhost:8080")
	cfg.Bus = "carrier-pigeon"

	_, err := OpenTab(cfg, TabOptions{})
	require.Error(t, err)
}

func TestOpenTabWithoutDurableStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	srv := newAuthServer(t)
	cfg := testConfig(t, srv.URL)
	cfg.DBFile = ""
	cfg.Bus = BusNone

	tab, _ := openTestTab(t, cfg, TabOptions{})
	_, err := tab.Login(ctx, "ada@example.com", "hunter2")
	require.NoError(t, err)

	// Access token is tab-scoped and still usable; nothing survives durably.
	_, ok := tab.ValidAccessToken(ctx)
	require.True(t, ok)
	require.False(t, tab.IsAuthenticated(ctx))
}
