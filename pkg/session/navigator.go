package session

import "context"

// Navigator moves the user interface to path, typically the login page.
type Navigator interface {
	Navigate(ctx context.Context, path string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(ctx context.Context, path string)

func (f NavigatorFunc) Navigate(ctx context.Context, path string) { f(ctx, path) }

func (m *Manager) navigate(ctx context.Context, nav Navigator) {
	if nav == nil {
		nav = m.nav
	}
	if nav == nil {
		m.logger.Debug("no navigator configured, staying put", "entry_point", m.entryPoint)
		return
	}
	nav.Navigate(ctx, m.entryPoint)
}
