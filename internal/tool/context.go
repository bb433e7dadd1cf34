package tool

import (
	"net/http"
	"time"

	"github.com/sjtu-chatbot/campusd/internal/portal"
)

// toolRequestTimeout bounds a single HTTP request made by a tool.
const toolRequestTimeout = 30 * time.Second

// sessionTransport injects a session snapshot's authentication cookies
// into every request. The cookies are fixed at dispatch time, so a
// renewal rewriting the live portal jar cannot strip an in-flight call.
type sessionTransport struct {
	cookie string
	base   http.RoundTripper
}

func (t *sessionTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	if t.cookie == "" || req.Header.Get("Cookie") != "" {
		return base.RoundTrip(req)
	}
	r := req.Clone(req.Context())
	r.Header.Set("Cookie", t.cookie)
	return base.RoundTrip(r)
}

// Context carries per-invocation state into a tool Run. It is built by the
// dispatcher for each call and never shared between calls. The session is
// the snapshot taken at dispatch time; a renewal happening mid-call does
// not mutate it.
type Context struct {
	session *portal.Session
	client  *http.Client
}

// NewContext builds an invocation context. session may be nil for calls
// dispatched while logged out; client carries the portal cookies when a
// session is held.
func NewContext(session *portal.Session, client *http.Client) *Context {
	if client == nil {
		client = &http.Client{Timeout: toolRequestTimeout}
	}
	return &Context{session: session, client: client}
}

// LoggedIn reports whether the invocation was dispatched with a session.
func (c *Context) LoggedIn() bool {
	return c.session != nil
}

// Session returns the session snapshot, or nil when logged out.
func (c *Context) Session() *portal.Session {
	return c.session
}

// Username returns the session's username, or "" when logged out.
func (c *Context) Username() string {
	if c.session == nil {
		return ""
	}
	return c.session.Username
}

// HTTPClient returns the client tools use for outbound requests. For
// authenticated invocations it replays the session cookies.
func (c *Context) HTTPClient() *http.Client {
	return c.client
}
