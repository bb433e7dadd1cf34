package portal

import (
	"sort"
	"strings"
	"time"
)

// Session is the authenticated credential bundle produced by a successful
// login. A Session is immutable once returned; holders receive clones so a
// renewal in progress cannot corrupt an in-flight request.
type Session struct {
	// Cookies is the portal cookie set keyed by cookie name.
	Cookies map[string]string `json:"cookies"`
	// Username the session was established for.
	Username string `json:"username"`
	// EstablishedAt is when the login completed.
	EstablishedAt time.Time `json:"establishedAt"`
	// ExpiresHint is an optional portal-supplied expiry hint; zero when
	// the portal gave none.
	ExpiresHint time.Time `json:"expiresHint,omitempty"`
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Cookies = make(map[string]string, len(s.Cookies))
	for k, v := range s.Cookies {
		cp.Cookies[k] = v
	}
	return &cp
}

// CookieHeader returns a Cookie header value carrying the full cookie set,
// for requests that replay this session without touching a jar.
func (s *Session) CookieHeader() string {
	if s == nil {
		return ""
	}
	parts := make([]string, 0, len(s.Cookies))
	for k, v := range s.Cookies {
		parts = append(parts, k+"="+v)
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}

// authCookieNames are the cookies that actually carry authentication state.
var authCookieNames = []string{"JAAuthCookie", "JSESSIONID", "CASTGC"}

// AuthCookieHeader returns a Cookie header value carrying the key
// authentication cookies, for requests made outside the portal client.
func (s *Session) AuthCookieHeader() string {
	if s == nil {
		return ""
	}
	var parts []string
	for k, v := range s.Cookies {
		for _, name := range authCookieNames {
			if strings.EqualFold(k, name) {
				parts = append(parts, k+"="+v)
				break
			}
		}
	}
	return strings.Join(parts, "; ")
}
