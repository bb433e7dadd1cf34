// Package portal implements the SSO portal client: the multi-step login
// handshake with captcha, the session liveness probe, and logout.
package portal

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/sjtu-chatbot/campusd/internal/config"
	"github.com/sjtu-chatbot/campusd/internal/logging"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/136.0.0.0 Safari/537.36"

// Credentials holds a username and password. Never persisted, never logged.
type Credentials struct {
	Username string
	Password string
}

// Client talks to the SSO portal. It owns a cookie jar shared by the login
// flow, the liveness probe, and authenticated resource fetches.
type Client struct {
	cfg  config.PortalConfig
	http *http.Client
	jar  *cookiejar.Jar
	log  zerolog.Logger
}

// NewClient creates a portal client for the given endpoint set.
func NewClient(cfg config.PortalConfig) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	timeout := cfg.Timeout.Std()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		cfg: cfg,
		http: &http.Client{
			Jar:     jar,
			Timeout: timeout,
		},
		jar: jar,
		log: logging.Component("portal"),
	}, nil
}

// HTTPClient returns the underlying client. Requests made through it carry
// the portal cookies.
func (c *Client) HTTPClient() *http.Client {
	return c.http
}

// cookieURLs returns the URLs whose hosts the jar tracks cookies for.
func (c *Client) cookieURLs() []*url.URL {
	var urls []*url.URL
	seen := make(map[string]bool)
	for _, raw := range []string{c.cfg.PreAuthURL, c.cfg.LoginURL, c.cfg.CheckURL} {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" || seen[u.Host] {
			continue
		}
		seen[u.Host] = true
		urls = append(urls, &url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/"})
	}
	return urls
}

// Cookies exports the current cookie set for all portal hosts.
func (c *Client) Cookies() map[string]string {
	cookies := make(map[string]string)
	for _, u := range c.cookieURLs() {
		for _, ck := range c.jar.Cookies(u) {
			cookies[ck.Name] = ck.Value
		}
	}
	return cookies
}

// SetCookies installs a persisted cookie set into the jar for all portal
// hosts, replacing whatever was there.
func (c *Client) SetCookies(cookies map[string]string) {
	for _, u := range c.cookieURLs() {
		var cks []*http.Cookie
		for name, value := range cookies {
			cks = append(cks, &http.Cookie{Name: name, Value: value, Path: "/"})
		}
		c.jar.SetCookies(u, cks)
	}
}

// ClearCookies removes all portal cookies. The jar itself is never
// replaced: concurrent requests keep a stable, internally synchronized
// jar and only observe the entries disappearing.
func (c *Client) ClearCookies() {
	for _, u := range c.cookieURLs() {
		var expired []*http.Cookie
		for _, ck := range c.jar.Cookies(u) {
			expired = append(expired, &http.Cookie{Name: ck.Name, Path: "/", MaxAge: -1})
		}
		c.jar.SetCookies(u, expired)
	}
}

// Probe checks whether the current cookies are still accepted by the portal.
// It returns (false, nil) for a definitive "not logged in" and a non-nil
// error only for network-level problems, which callers should not treat as
// an expiry.
func (c *Client) Probe(ctx context.Context) (bool, error) {
	return c.probe(ctx, c.jar, "")
}

// ProbeSession checks a specific session's cookies against the portal,
// independent of the live jar. A renewal rewriting the jar cannot make a
// still-valid held session probe as expired.
func (c *Client) ProbeSession(ctx context.Context, session *Session) (bool, error) {
	return c.probe(ctx, nil, session.CookieHeader())
}

func (c *Client) probe(ctx context.Context, jar http.CookieJar, cookieHeader string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.CheckURL, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("User-Agent", userAgent)
	if cookieHeader != "" {
		req.Header.Set("Cookie", cookieHeader)
	}

	// Redirects disabled: a 302 to the login host is the expiry signal.
	noRedirect := &http.Client{
		Jar:     jar,
		Timeout: c.http.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	resp, err := noRedirect.Do(req)
	if err != nil {
		return false, fmt.Errorf("liveness probe failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		var body struct {
			Errno int    `json:"errno"`
			Error string `json:"error"`
		}
		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return false, fmt.Errorf("liveness probe read failed: %w", err)
		}
		if json.Unmarshal(data, &body) == nil && body.Errno == 0 && body.Error == "success" {
			return true, nil
		}
		return false, nil
	}

	if resp.StatusCode == http.StatusFound && strings.Contains(resp.Header.Get("Location"), c.cfg.LoginHost) {
		c.log.Debug().Msg("probe redirected to login page, session expired")
		return false, nil
	}

	return false, nil
}

// Logout invalidates the portal-side session and clears local cookies.
// Best effort: a network failure still clears local state.
func (c *Client) Logout(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.LogoutURL, nil)
	if err == nil {
		req.Header.Set("User-Agent", userAgent)
		if resp, doErr := c.http.Do(req); doErr == nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		} else {
			err = doErr
		}
	}

	c.ClearCookies()
	return err
}
