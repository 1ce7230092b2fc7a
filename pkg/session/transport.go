package session

import (
	"net/http"
)

// Transport attaches the tab's access token to outgoing requests. Requests
// are refused with ErrUnauthenticated when no valid token can be had, and a
// 401 answer ends the session.
type Transport struct {
	Base    http.RoundTripper
	Manager *Manager
}

// Transport wraps base (http.DefaultTransport when nil).
func (m *Manager) Transport(base http.RoundTripper) *Transport {
	return &Transport{Base: base, Manager: m}
}

func (t *Transport) RoundTrip(r *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	access, ok := t.Manager.ValidAccessToken(r.Context())
	if !ok {
		if r.Body != nil {
			_ = r.Body.Close()
		}
		return nil, ErrUnauthenticated
	}

	req := r.Clone(r.Context())
	req.Header.Set("Authorization", "Bearer "+access.Token)

	resp, err := base.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		t.Manager.logger.Warn("request rejected as unauthorized, ending session",
			"method", r.Method, "path", r.URL.Path)
		_ = t.Manager.ForceLogout(r.Context(), nil)
	}
	return resp, nil
}
