package credstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/tabsession/pkg/credential"
	"github.com/aussiebroadwan/tabsession/pkg/slogx"
)

// Storage keys. Tab-scoped tier holds the access token, the durable tier the
// refresh token and the serialised identity.
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
	KeyUser         = "user"
)

// Cookie names read by the routing layer.
const (
	CookieAccessToken  = "token"
	CookieRefreshToken = "refresh_token"
)

// DefaultRefreshCookieTTL bounds the refresh cookie when the caller does not.
const DefaultRefreshCookieTTL = 7 * 24 * time.Hour

var (
	tabKeys     = []string{KeyAccessToken}
	durableKeys = []string{KeyRefreshToken, KeyUser}
	cookieNames = []string{CookieAccessToken, CookieRefreshToken}
)

// Options configures a Store. The zero value gives a tab-only store with no
// durable tier and no cookies.
type Options struct {
	// Tab is the tab-scoped tier. Defaults to a fresh Memory.
	Tab Backend

	// Durable is shared by every tab of the origin. Defaults to Discard.
	Durable Backend

	// Cookies mirrors tokens for non-script consumers. Defaults to NopMirror.
	Cookies CookieMirror

	// RefreshCookieTTL is the max-age of the refresh_token cookie.
	RefreshCookieTTL time.Duration

	Logger *slog.Logger
}

// Store is the key/value facade over both storage tiers and the cookie
// mirror. It does no decoding and no network access. Writes are
// last-writer-wins.
type Store struct {
	tab        Backend
	durable    Backend
	cookies    CookieMirror
	refreshTTL time.Duration
	logger     *slog.Logger
}

// New returns a Store over the configured tiers, filling in defaults for
// any left nil.
func New(opts Options) *Store {
	s := &Store{
		tab:        opts.Tab,
		durable:    opts.Durable,
		cookies:    opts.Cookies,
		refreshTTL: opts.RefreshCookieTTL,
		logger:     slogx.OrDiscard(opts.Logger),
	}
	if s.tab == nil {
		s.tab = NewMemory()
	}
	if s.durable == nil {
		s.durable = Discard
	}
	if s.cookies == nil {
		s.cookies = NopMirror{}
	}
	if s.refreshTTL <= 0 {
		s.refreshTTL = DefaultRefreshCookieTTL
	}
	return s
}

// Put writes a full credential set: refresh token and identity to the durable
// tier in one write, then the access token to the tab tier, then the cookies.
func (s *Store) Put(ctx context.Context, set credential.Set) error {
	user, err := json.Marshal(set.Identity)
	if err != nil {
		return fmt.Errorf("credstore: encode identity: %w", err)
	}
	access, err := json.Marshal(set.Access)
	if err != nil {
		return fmt.Errorf("credstore: encode access: %w", err)
	}

	if err := s.durable.Put(ctx, map[string]string{
		KeyRefreshToken: set.Refresh.String(),
		KeyUser:         string(user),
	}); err != nil {
		return fmt.Errorf("credstore: put durable: %w", err)
	}
	if err := s.tab.Put(ctx, map[string]string{KeyAccessToken: string(access)}); err != nil {
		return fmt.Errorf("credstore: put tab: %w", err)
	}

	s.cookies.SetCookie(CookieRefreshToken, set.Refresh.String(), s.refreshTTL)
	s.cookies.SetCookie(CookieAccessToken, set.Access.Token, 0)
	return nil
}

// PutAccess overwrites the access token and identity together, leaving the
// refresh token alone. Used when a sibling tab has already refreshed.
func (s *Store) PutAccess(ctx context.Context, access credential.Access, identity credential.Identity) error {
	user, err := json.Marshal(identity)
	if err != nil {
		return fmt.Errorf("credstore: encode identity: %w", err)
	}
	raw, err := json.Marshal(access)
	if err != nil {
		return fmt.Errorf("credstore: encode access: %w", err)
	}

	if err := s.durable.Put(ctx, map[string]string{KeyUser: string(user)}); err != nil {
		return fmt.Errorf("credstore: put durable: %w", err)
	}
	if err := s.tab.Put(ctx, map[string]string{KeyAccessToken: string(raw)}); err != nil {
		return fmt.Errorf("credstore: put tab: %w", err)
	}

	s.cookies.SetCookie(CookieAccessToken, access.Token, 0)
	return nil
}

func (s *Store) GetAccess(ctx context.Context) (credential.Access, bool) {
	raw, ok := s.get(ctx, s.tab, KeyAccessToken)
	if !ok {
		return credential.Access{}, false
	}

	var access credential.Access
	if err := json.Unmarshal([]byte(raw), &access); err != nil || access.IsZero() {
		s.logger.Warn("discarding unreadable access token", "error", err)
		return credential.Access{}, false
	}
	return access, true
}

func (s *Store) GetRefresh(ctx context.Context) (credential.Refresh, bool) {
	raw, ok := s.get(ctx, s.durable, KeyRefreshToken)
	if !ok || raw == "" {
		return "", false
	}
	return credential.Refresh(raw), true
}

func (s *Store) GetIdentity(ctx context.Context) (*credential.Identity, bool) {
	raw, ok := s.get(ctx, s.durable, KeyUser)
	if !ok {
		return nil, false
	}

	var identity credential.Identity
	if err := json.Unmarshal([]byte(raw), &identity); err != nil {
		s.logger.Warn("discarding unreadable identity", "error", err)
		return nil, false
	}
	return &identity, true
}

// Clear removes every key ever written from both tiers and expires the
// cookie mirrors. Every tier is attempted even if an earlier one fails, and
// absent keys are not an error, so Clear is safe to repeat.
func (s *Store) Clear(ctx context.Context) error {
	var errs []error
	if err := s.tab.Delete(ctx, tabKeys...); err != nil {
		errs = append(errs, fmt.Errorf("credstore: clear tab: %w", err))
	}
	if err := s.durable.Delete(ctx, durableKeys...); err != nil {
		errs = append(errs, fmt.Errorf("credstore: clear durable: %w", err))
	}
	s.cookies.Expire(cookieNames...)
	return errors.Join(errs...)
}

func (s *Store) get(ctx context.Context, b Backend, key string) (string, bool) {
	v, err := b.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Warn("credential store read failed", "key", key, "error", err)
		}
		return "", false
	}
	return v, true
}
