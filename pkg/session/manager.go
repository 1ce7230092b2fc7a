package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/aussiebroadwan/tabsession/pkg/authsdk"
	"github.com/aussiebroadwan/tabsession/pkg/credential"
	"github.com/aussiebroadwan/tabsession/pkg/credstore"
	"github.com/aussiebroadwan/tabsession/pkg/idx"
	"github.com/aussiebroadwan/tabsession/pkg/jwtx"
	"github.com/aussiebroadwan/tabsession/pkg/slogx"
	"github.com/aussiebroadwan/tabsession/pkg/tabsync"
)

const (
	// DefaultRefreshTimeout bounds one renewal, network call included.
	DefaultRefreshTimeout = 15 * time.Second

	// DefaultLogoutTimeout bounds the remote logout call.
	DefaultLogoutTimeout = 5 * time.Second

	// DefaultEntryPoint is where a tab is sent once its session ends.
	DefaultEntryPoint = "/login"
)

// ErrUnauthenticated is returned when no usable access token exists.
var ErrUnauthenticated = errors.New("session: not authenticated")

// API is the part of the auth API a Manager calls. *authsdk.SDKClient
// implements it.
type API interface {
	Login(ctx context.Context, req authsdk.LoginRequest) (*authsdk.TokenResponse, error)
	RefreshToken(ctx context.Context, accessToken string, refreshToken credential.Refresh) (*authsdk.TokenResponse, error)
	Logout(ctx context.Context, refreshToken credential.Refresh) (*authsdk.LogoutResponse, error)
}

var _ API = (*authsdk.SDKClient)(nil)

// State is the coarse authentication state of a tab, derived from what the
// store holds.
type State int

const (
	StateAnonymous State = iota
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateAuthenticated:
		return "authenticated"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Options configures a Manager. Store and API are required; everything else
// has a usable default.
type Options struct {
	Store *credstore.Store
	API   API

	// Bus connects this tab to its siblings. Nil means no sibling
	// notification at all.
	Bus     tabsync.Bus
	Channel string

	// TabID identifies this Manager on the bus. Generated when zero.
	TabID idx.ID

	// Navigator is used when Logout or ForceLogout is called without one,
	// and when another tab logs out.
	Navigator  Navigator
	EntryPoint string

	RefreshThreshold time.Duration
	RefreshTimeout   time.Duration
	LogoutTimeout    time.Duration

	// Now overrides the clock used for expiry decisions.
	Now func() time.Time

	Logger *slog.Logger
}

// Manager is the session of a single tab. It is safe for concurrent use.
type Manager struct {
	store *credstore.Store
	api   API
	tabs  *tabsync.Synchronizer

	nav        Navigator
	entryPoint string

	oracle         jwtx.Oracle
	threshold      time.Duration
	refreshTimeout time.Duration
	logoutTimeout  time.Duration

	logger *slog.Logger
	flight singleflight.Group

	// epoch counts session endings seen by this tab. A refresh whose
	// epoch moved while it was on the network must not store its answer.
	epochMu sync.Mutex
	epoch   uint64
}

// New builds a Manager and joins the cross-tab channel. Close the Manager
// to leave it.
func New(opts Options) (*Manager, error) {
	if opts.Store == nil {
		return nil, errors.New("session: store is required")
	}
	if opts.API == nil {
		return nil, errors.New("session: api client is required")
	}

	tabID := opts.TabID
	if tabID.IsZero() {
		tabID = idx.NewTab()
	}
	channel := opts.Channel
	if channel == "" {
		channel = tabsync.DefaultChannel
	}

	base := slogx.OrDiscard(opts.Logger)
	logger := base.With("tab_id", tabID.String())

	m := &Manager{
		store:          opts.Store,
		api:            opts.API,
		tabs:           tabsync.New(opts.Bus, channel, tabID, base),
		nav:            opts.Navigator,
		entryPoint:     opts.EntryPoint,
		oracle:         jwtx.Oracle{Now: opts.Now},
		threshold:      opts.RefreshThreshold,
		refreshTimeout: opts.RefreshTimeout,
		logoutTimeout:  opts.LogoutTimeout,
		logger:         logger,
	}
	if m.entryPoint == "" {
		m.entryPoint = DefaultEntryPoint
	}
	if m.threshold <= 0 {
		m.threshold = jwtx.DefaultRefreshThreshold
	}
	if m.refreshTimeout <= 0 {
		m.refreshTimeout = DefaultRefreshTimeout
	}
	if m.logoutTimeout <= 0 {
		m.logoutTimeout = DefaultLogoutTimeout
	}

	m.tabs.OnEvent(m.handleEvent)
	return m, nil
}

func (m *Manager) TabID() idx.ID { return m.tabs.TabID() }

// StoreTokens records a successful login or refresh answer.
func (m *Manager) StoreTokens(ctx context.Context, resp *authsdk.TokenResponse) error {
	if resp == nil {
		return fmt.Errorf("session: store tokens: %w", authsdk.ErrInvalidResponse)
	}
	if err := m.store.Put(ctx, resp.CredentialSet()); err != nil {
		return fmt.Errorf("session: store tokens: %w", err)
	}
	return nil
}

// Login authenticates with email and password and stores the session.
func (m *Manager) Login(ctx context.Context, email, password string) (*credential.Identity, error) {
	resp, err := m.api.Login(ctx, authsdk.LoginRequest{Email: email, Password: password})
	if err != nil {
		return nil, fmt.Errorf("session: login: %w", err)
	}

	set := resp.CredentialSet()
	if err := m.store.Put(ctx, set); err != nil {
		return nil, fmt.Errorf("session: store tokens: %w", err)
	}

	m.logger.Info("logged in", "user_id", set.Identity.ID, "role", set.Identity.Role)
	return &set.Identity, nil
}

// CurrentUser returns the cached identity without touching the network.
func (m *Manager) CurrentUser(ctx context.Context) (*credential.Identity, bool) {
	return m.store.GetIdentity(ctx)
}

// IsAuthenticated reports whether a refresh token and an identity are both
// held. The access token is ignored: an expired one is renewed on demand.
func (m *Manager) IsAuthenticated(ctx context.Context) bool {
	if _, ok := m.store.GetRefresh(ctx); !ok {
		return false
	}
	_, ok := m.store.GetIdentity(ctx)
	return ok
}

func (m *Manager) State(ctx context.Context) State {
	if m.IsAuthenticated(ctx) {
		return StateAuthenticated
	}
	return StateAnonymous
}

// Close leaves the cross-tab channel. The stored session is left untouched.
func (m *Manager) Close() error {
	return m.tabs.Close()
}

// handleEvent applies what a sibling tab announced. It never calls the auth
// API and never broadcasts.
func (m *Manager) handleEvent(ev tabsync.Event) {
	ctx := slogx.WithContext(context.Background(), m.logger)
	logger := m.logger.With("event_id", ev.ID.String(), "origin", ev.Origin.String())

	switch ev.Kind {
	case tabsync.KindTokenRefreshed:
		m.epochMu.Lock()
		defer m.epochMu.Unlock()

		if _, ok := m.store.GetRefresh(ctx); !ok {
			logger.Debug("ignoring refreshed token, session already ended")
			return
		}
		if err := m.store.PutAccess(ctx, *ev.Access, *ev.Identity); err != nil {
			logger.Error("failed to apply refreshed token from another tab", "error", err)
			return
		}
		logger.Debug("applied refreshed token from another tab")

	case tabsync.KindLogout:
		m.endEpoch()
		if err := m.store.Clear(ctx); err != nil {
			logger.Error("failed to clear session after logout in another tab", "error", err)
		}
		logger.Info("logged out by another tab")
		m.navigate(ctx, nil)
	}
}

func (m *Manager) currentEpoch() uint64 {
	m.epochMu.Lock()
	defer m.epochMu.Unlock()
	return m.epoch
}

func (m *Manager) endEpoch() {
	m.epochMu.Lock()
	m.epoch++
	m.epochMu.Unlock()
}

func (m *Manager) broadcast(ctx context.Context, ev tabsync.Event) {
	if err := m.tabs.Broadcast(slogx.WithContext(ctx, m.logger), ev); err != nil {
		m.logger.Warn("failed to notify other tabs", "kind", ev.Kind, "error", err)
	}
}
