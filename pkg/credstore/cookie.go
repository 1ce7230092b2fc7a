package credstore

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"golang.org/x/net/publicsuffix"
)

// CookieMirror copies credentials into cookies so that request-time routing
// layers can read them without going through the storage API.
type CookieMirror interface {
	// SetCookie writes name=value. A zero maxAge makes a session cookie.
	SetCookie(name, value string, maxAge time.Duration)

	// Cookie reads back a mirrored value.
	Cookie(name string) (string, bool)

	// Expire removes the named cookies. Missing cookies are ignored.
	Expire(names ...string)
}

// NewCookieJar returns the jar used for the cookie mirror. Installing the same
// jar on the API client's http.Client makes the mirrored cookies travel with
// every request to the origin.
func NewCookieJar() (http.CookieJar, error) {
	return cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
}

// JarMirror mirrors cookies into an http.CookieJar scoped to one origin.
type JarMirror struct {
	jar    http.CookieJar
	origin *url.URL
}

// NewJarMirror binds jar to origin, e.g. "https://app.example.com".
func NewJarMirror(jar http.CookieJar, origin string) (*JarMirror, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return nil, fmt.Errorf("credstore: parse origin: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("credstore: origin %q must be absolute", origin)
	}

	return &JarMirror{jar: jar, origin: &url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/"}}, nil
}

func (m *JarMirror) SetCookie(name, value string, maxAge time.Duration) {
	c := m.cookie(name, value)
	if maxAge > 0 {
		c.MaxAge = int(maxAge / time.Second)
	}
	m.jar.SetCookies(m.origin, []*http.Cookie{c})
}

func (m *JarMirror) Cookie(name string) (string, bool) {
	for _, c := range m.jar.Cookies(m.origin) {
		if c.Name == name {
			return c.Value, true
		}
	}
	return "", false
}

func (m *JarMirror) Expire(names ...string) {
	cookies := make([]*http.Cookie, 0, len(names))
	for _, name := range names {
		c := m.cookie(name, "")
		c.MaxAge = -1
		cookies = append(cookies, c)
	}
	m.jar.SetCookies(m.origin, cookies)
}

func (m *JarMirror) cookie(name, value string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Secure:   m.origin.Scheme == "https",
		SameSite: http.SameSiteStrictMode,
	}
}

// NopMirror is used where no cookie consumer exists.
type NopMirror struct{}

func (NopMirror) SetCookie(string, string, time.Duration) {}
func (NopMirror) Cookie(string) (string, bool)            { return "", false }
func (NopMirror) Expire(...string)                        {}
