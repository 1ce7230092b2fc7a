package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/aussiebroadwan/tabsession/pkg/tabsync"
)

// RemoteOutcome is what happened to the server-side revocation.
type RemoteOutcome int

const (
	// RemoteSkipped means there was no refresh token to revoke.
	RemoteSkipped RemoteOutcome = iota
	RemoteRevoked
	RemoteFailed
)

func (o RemoteOutcome) String() string {
	switch o {
	case RemoteSkipped:
		return "skipped"
	case RemoteRevoked:
		return "revoked"
	case RemoteFailed:
		return "failed"
	default:
		return fmt.Sprintf("RemoteOutcome(%d)", int(o))
	}
}

var errLogoutRejected = errors.New("session: logout rejected")

// LogoutResult reports the remote and local halves of a logout separately.
// The local half always runs; a remote failure never stops it.
type LogoutResult struct {
	Remote    RemoteOutcome
	RemoteErr error
	LocalErr  error
}

// LocalOK reports whether every trace of the session was removed locally.
func (r LogoutResult) LocalOK() bool { return r.LocalErr == nil }

// Logout revokes the refresh token server side when one is held, then
// clears the session, tells sibling tabs and navigates to the entry point.
// nav overrides the default Navigator for this call.
func (m *Manager) Logout(ctx context.Context, nav Navigator) LogoutResult {
	var res LogoutResult

	// A renewal answering while the revocation is on the wire is stale.
	m.endEpoch()

	if refreshToken, ok := m.store.GetRefresh(ctx); ok {
		callCtx, cancel := context.WithTimeout(ctx, m.logoutTimeout)
		resp, err := m.api.Logout(callCtx, refreshToken)
		cancel()

		switch {
		case err != nil:
			res.Remote, res.RemoteErr = RemoteFailed, err
		case resp == nil || !resp.Success:
			reason := "empty response"
			if resp != nil {
				reason = resp.Reason
			}
			res.Remote, res.RemoteErr = RemoteFailed, fmt.Errorf("%w: %s", errLogoutRejected, reason)
		default:
			res.Remote = RemoteRevoked
		}
		if res.RemoteErr != nil {
			m.logger.Warn("remote logout failed, clearing local session anyway", "error", res.RemoteErr)
		}
	}

	res.LocalErr = m.teardown(ctx, nav)
	m.logger.Info("logged out", "remote", res.Remote.String())
	return res
}

// ForceLogout ends the session without calling the auth API. It is used
// once the session is known to be unrecoverable.
func (m *Manager) ForceLogout(ctx context.Context, nav Navigator) error {
	return m.teardown(ctx, nav)
}

// teardown always notifies siblings and navigates, even when clearing
// storage partly failed. It runs to completion even if ctx is already done.
func (m *Manager) teardown(ctx context.Context, nav Navigator) error {
	ctx = context.WithoutCancel(ctx)
	m.endEpoch()

	err := m.store.Clear(ctx)
	if err != nil {
		m.logger.Error("failed to clear session storage", "error", err)
		err = fmt.Errorf("session: clear: %w", err)
	}

	m.broadcast(ctx, tabsync.Logout())
	m.navigate(ctx, nav)
	return err
}
