// Package session keeps one tab's authentication session alive.
//
// A Manager owns the tab's credential store, talks to the auth API through
// an authsdk client and keeps sibling tabs in step over a tabsync bus:
//
//	m, err := session.New(session.Options{
//		Store:     store,
//		API:       authsdk.NewSDKClient("https://api.example.com"),
//		Bus:       hub,
//		Navigator: session.NavigatorFunc(redirect),
//	})
//	if err != nil {
//		return err
//	}
//	defer m.Close()
//
//	access, ok := m.ValidAccessToken(ctx)
//
// ValidAccessToken renews the access token shortly before it expires. At most
// one renewal is in flight per Manager no matter how many goroutines ask, and
// a renewal that fails for any reason ends the session in every tab.
package session
