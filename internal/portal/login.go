package portal

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/cenkalti/backoff/v4"
)

// Portal error codes carried as the "err" query parameter when the login
// form post is redirected back to the login page.
const (
	errCodeBadCredentials = "0"
	errCodeWrongCaptcha   = "1"
)

var uuidPattern = regexp.MustCompile(`[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)

// LoginOptions tunes a login attempt.
type LoginOptions struct {
	// CaptchaRetries bounds how many rejected captcha answers are
	// tolerated before the attempt fails. Defaults to 3.
	CaptchaRetries int
	// CaptchaDir is where captcha images are written for human
	// inspection. Empty disables the artifact.
	CaptchaDir string
}

// loginPage is the state extracted from the portal's login page.
type loginPage struct {
	uuid   string
	url    *url.URL
	params url.Values
}

// Login drives the multi-step authentication handshake: fetch the login
// page, solve the captcha, submit the form. It returns an established
// Session or a *LoginError tagged with the failure reason.
//
// A rejected captcha re-enters the captcha step with a fresh challenge up
// to opts.CaptchaRetries times; a rejected password fails immediately with
// BadCredentials and is never auto-retried.
func (c *Client) Login(ctx context.Context, creds Credentials, solver Solver, opts LoginOptions) (*Session, error) {
	if solver == nil {
		return nil, failure(CaptchaAborted, fmt.Errorf("no captcha solver configured"))
	}

	retries := opts.CaptchaRetries
	if retries <= 0 {
		retries = 3
	}

	for attempt := 0; attempt < retries; attempt++ {
		// Each attempt needs a fresh login page: the portal issues a new
		// challenge uuid after every rejected form post.
		page, err := c.fetchLoginPage(ctx)
		if err != nil {
			return nil, failure(Transient, err)
		}

		challenge, err := c.fetchCaptcha(ctx, page.uuid, opts.CaptchaDir)
		if err != nil {
			return nil, failure(Transient, err)
		}

		answer, err := solver(ctx, challenge)
		if err != nil {
			return nil, failure(CaptchaAborted, err)
		}

		session, rejected, err := c.submitLogin(ctx, creds, page, answer)
		if err != nil {
			return nil, failure(Transient, err)
		}
		if session != nil {
			return session, nil
		}

		if rejected == errCodeWrongCaptcha {
			c.log.Warn().Int("attempt", attempt+1).Msg("captcha rejected")
			continue
		}

		// Absent or unrecognized error codes are treated as credential
		// failures so we never retry into an account lockout.
		c.log.Warn().Str("code", rejected).Msg("portal rejected credentials")
		return nil, failure(BadCredentials, fmt.Errorf("portal rejected credentials (code %q)", rejected))
	}

	return nil, failure(CaptchaExhausted, fmt.Errorf("captcha rejected %d times", retries))
}

// fetchLoginPage loads the pre-auth URL (following redirects to the login
// page) and extracts the challenge uuid and form parameters. Transient
// fetch errors are retried with bounded exponential backoff.
func (c *Client) fetchLoginPage(ctx context.Context) (*loginPage, error) {
	var page *loginPage

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.PreAuthURL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("User-Agent", userAgent)
		req.Header.Set("Accept-Language", "zh-CN")

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return err
		}

		uuid := extractUUID(body, resp.Request.URL)
		if uuid == "" {
			// Not a network problem; retrying will not help.
			return backoff.Permanent(fmt.Errorf("login page did not contain a challenge uuid"))
		}

		page = &loginPage{
			uuid:   uuid,
			url:    resp.Request.URL,
			params: resp.Request.URL.Query(),
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, fmt.Errorf("failed to fetch login page: %w", err)
	}

	return page, nil
}

// extractUUID pulls the challenge uuid out of the login page, trying in
// order: the browser-hint anchor, the hidden form input, the page URL
// query, an inline script variable, and finally any uuid-shaped string.
func extractUUID(body []byte, pageURL *url.URL) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err == nil {
		if href, ok := doc.Find("a#firefox_link").Attr("href"); ok {
			if _, value, found := strings.Cut(href, "="); found {
				return value
			}
		}

		if value, ok := doc.Find(`input[name="uuid"]`).Attr("value"); ok && value != "" {
			return value
		}
	}

	if uuid := pageURL.Query().Get("uuid"); uuid != "" {
		return uuid
	}

	if doc != nil {
		var fromScript string
		doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			for _, line := range strings.Split(s.Text(), "\n") {
				if strings.Contains(line, "var uuid") {
					if _, value, found := strings.Cut(line, "="); found {
						fromScript = strings.Trim(strings.TrimSpace(value), `";'`)
						return false
					}
				}
			}
			return true
		})
		if fromScript != "" {
			return fromScript
		}
	}

	return uuidPattern.FindString(string(body))
}

// submitLogin posts the solved captcha with the credentials. It returns a
// Session on success, the portal rejection code when the form bounced back
// to the login page, or an error for network problems.
func (c *Client) submitLogin(ctx context.Context, creds Credentials, page *loginPage, captcha string) (*Session, string, error) {
	form := url.Values{}
	form.Set("user", creds.Username)
	form.Set("pass", creds.Password)
	form.Set("uuid", page.uuid)
	form.Set("captcha", captcha)
	for key, values := range page.params {
		if form.Get(key) == "" && len(values) > 0 {
			form.Set(key, values[0])
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.LoginURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept-Language", "zh-CN")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("login post failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<20))

	// Bouncing back to the login page means the attempt was rejected.
	finalURL := resp.Request.URL
	if finalURL.Host == page.url.Host && finalURL.Path == page.url.Path {
		code := finalURL.Query().Get("err")
		if code == "" {
			code = errCodeBadCredentials
		}
		return nil, code, nil
	}

	session := &Session{
		Cookies:       c.Cookies(),
		Username:      creds.Username,
		EstablishedAt: time.Now(),
	}
	c.log.Info().Str("username", creds.Username).Msg("login succeeded")
	return session, "", nil
}
