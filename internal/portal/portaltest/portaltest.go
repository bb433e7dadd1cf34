// Package portaltest provides an in-process fake SSO portal for tests.
package portaltest

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sjtu-chatbot/campusd/internal/config"
)

// Portal is a fake SSO portal backed by httptest. It implements the same
// handshake as the real portal: a pre-auth endpoint that redirects to a
// login page carrying a challenge uuid, a captcha image endpoint, a form
// post endpoint that bounces rejected attempts back to the login page with
// an error code, and a liveness check endpoint.
type Portal struct {
	Server *httptest.Server

	mu       sync.Mutex
	username string
	password string
	captcha  string
	sessions map[string]bool

	preAuthCalls int
	loginCalls   int
}

// New starts a fake portal accepting the given credentials and captcha
// answer. The server is shut down when the test finishes.
func New(t interface{ Cleanup(func()) }, username, password, captcha string) *Portal {
	p := &Portal{
		username: username,
		password: password,
		captcha:  captcha,
		sessions: make(map[string]bool),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/account", p.handleAccount)
	mux.HandleFunc("/jalogin", p.handleLoginPage)
	mux.HandleFunc("/captcha", p.handleCaptcha)
	mux.HandleFunc("/ulogin", p.handleLoginPost)
	mux.HandleFunc("/logout", p.handleLogout)

	p.Server = httptest.NewServer(mux)
	t.Cleanup(p.Server.Close)

	return p
}

// Config returns a portal configuration pointing at the fake server.
func (p *Portal) Config() config.PortalConfig {
	u, _ := url.Parse(p.Server.URL)
	return config.PortalConfig{
		PreAuthURL: p.Server.URL + "/account",
		CaptchaURL: p.Server.URL + "/captcha",
		LoginURL:   p.Server.URL + "/ulogin",
		LogoutURL:  p.Server.URL + "/logout",
		CheckURL:   p.Server.URL + "/account",
		LoginHost:  u.Host,
		Timeout:    config.Duration(5 * time.Second),
	}
}

// ExpireAll invalidates every issued session, simulating a portal-side
// expiry.
func (p *Portal) ExpireAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for token := range p.sessions {
		p.sessions[token] = false
	}
}

// AcceptToken marks an arbitrary token as a valid session, simulating a
// persisted record the portal still accepts.
func (p *Portal) AcceptToken(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions[token] = true
}

// LoginCalls returns how many form posts the portal has received.
func (p *Portal) LoginCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loginCalls
}

// PreAuthCalls returns how many pre-auth/check requests were made.
func (p *Portal) PreAuthCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.preAuthCalls
}

func (p *Portal) validSession(r *http.Request) bool {
	cookie, err := r.Cookie("JSESSIONID")
	if err != nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessions[cookie.Value]
}

// handleAccount is both the pre-auth entry point and the liveness check.
func (p *Portal) handleAccount(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	p.preAuthCalls++
	p.mu.Unlock()

	if p.validSession(r) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"errno":0,"error":"success"}`)
		return
	}

	http.Redirect(w, r, "/jalogin?uuid="+uuid.NewString(), http.StatusFound)
}

func (p *Portal) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	challenge := r.URL.Query().Get("uuid")
	if challenge == "" {
		challenge = uuid.NewString()
	}
	w.Header().Set("Content-Type", "text/html")
	fmt.Fprintf(w, `<html><body><form action="/ulogin" method="post">
<input name="uuid" value="%s">
</form></body></html>`, challenge)
}

func (p *Portal) handleCaptcha(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "image/png")
	w.Write([]byte("\x89PNG fake captcha " + r.URL.Query().Get("uuid")))
}

func (p *Portal) handleLoginPost(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()

	p.mu.Lock()
	p.loginCalls++
	p.mu.Unlock()

	if r.PostForm.Get("captcha") != p.captcha {
		http.Redirect(w, r, "/jalogin?err=1&uuid="+uuid.NewString(), http.StatusFound)
		return
	}
	if r.PostForm.Get("user") != p.username || r.PostForm.Get("pass") != p.password {
		http.Redirect(w, r, "/jalogin?err=0&uuid="+uuid.NewString(), http.StatusFound)
		return
	}

	token := uuid.NewString()
	p.mu.Lock()
	p.sessions[token] = true
	p.mu.Unlock()

	http.SetCookie(w, &http.Cookie{Name: "JSESSIONID", Value: token, Path: "/"})
	http.Redirect(w, r, "/account", http.StatusFound)
}

func (p *Portal) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie("JSESSIONID"); err == nil {
		p.mu.Lock()
		delete(p.sessions, cookie.Value)
		p.mu.Unlock()
	}
	w.WriteHeader(http.StatusOK)
}
