package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/aussiebroadwan/tabsession/pkg/credential"
	"github.com/aussiebroadwan/tabsession/pkg/slogx"
	"github.com/aussiebroadwan/tabsession/pkg/tabsync"
)

const refreshKey = "refresh"

var errNoRefreshToken = errors.New("session: no refresh token")

// ValidAccessToken returns an access token that is not about to expire,
// renewing it first when needed. It reports false when the tab holds no
// access token, when the renewal failed (the session has then been ended),
// or when ctx ends before the renewal finishes.
//
// Concurrent callers share a single renewal. The renewal itself does not
// stop when one caller gives up; it runs until it completes or
// RefreshTimeout passes.
func (m *Manager) ValidAccessToken(ctx context.Context) (credential.Access, bool) {
	access, ok := m.store.GetAccess(ctx)
	if !ok {
		return credential.Access{}, false
	}
	if !m.expiringSoon(access) {
		return access, true
	}

	detached := context.WithoutCancel(ctx)
	ch := m.flight.DoChan(refreshKey, func() (any, error) {
		return m.refresh(detached)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return credential.Access{}, false
		}
		return res.Val.(credential.Access), true
	case <-ctx.Done():
		return credential.Access{}, false
	}
}

func (m *Manager) expiringSoon(access credential.Access) bool {
	return m.oracle.IsExpiringSoon(access.Token, m.threshold)
}

// refresh runs inside the single flight. Every failure ends the session. An
// answer that arrives after the session was ended, here or in another tab, is
// dropped rather than stored.
func (m *Manager) refresh(ctx context.Context) (credential.Access, error) {
	ctx, cancel := context.WithTimeout(ctx, m.refreshTimeout)
	defer cancel()
	ctx = slogx.WithContext(ctx, m.logger)
	epoch := m.currentEpoch()

	// A flight that finished just before this one started may have stored a
	// fresh token already.
	current, ok := m.store.GetAccess(ctx)
	if !ok {
		return credential.Access{}, ErrUnauthenticated
	}
	if !m.expiringSoon(current) {
		return current, nil
	}

	refreshToken, ok := m.store.GetRefresh(ctx)
	if !ok {
		m.logger.Warn("access token expiring without a refresh token, ending session")
		_ = m.ForceLogout(ctx, nil)
		return credential.Access{}, errNoRefreshToken
	}

	resp, err := m.api.RefreshToken(ctx, current.Token, refreshToken)

	m.epochMu.Lock()
	if m.epoch != epoch {
		m.epochMu.Unlock()
		m.logger.Debug("session ended during token refresh, dropping answer")
		return credential.Access{}, ErrUnauthenticated
	}
	if err != nil {
		m.epochMu.Unlock()
		m.logger.Warn("token refresh failed, ending session", "error", err)
		_ = m.ForceLogout(ctx, nil)
		return credential.Access{}, fmt.Errorf("session: refresh: %w", err)
	}

	set := resp.CredentialSet()
	if err := m.store.Put(ctx, set); err != nil {
		m.epochMu.Unlock()
		m.logger.Error("failed to store refreshed tokens, ending session", "error", err)
		_ = m.ForceLogout(ctx, nil)
		return credential.Access{}, fmt.Errorf("session: refresh: %w", err)
	}
	m.broadcast(ctx, tabsync.TokenRefreshed(set.Access, set.Identity))
	m.epochMu.Unlock()

	m.logger.Debug("access token refreshed", "expires_at", set.Access.ExpiresAt)
	return set.Access, nil
}
