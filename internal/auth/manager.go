// Package auth owns the authenticated portal session: the process-wide
// session manager, its persisted record, and the background monitor that
// detects expiry and drives re-authentication.
package auth

import (
	"context"
	"errors"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"github.com/sjtu-chatbot/campusd/internal/config"
	"github.com/sjtu-chatbot/campusd/internal/event"
	"github.com/sjtu-chatbot/campusd/internal/logging"
	"github.com/sjtu-chatbot/campusd/internal/portal"
)

// ErrNotLoggedIn is returned when an operation needs a session and none is
// held.
var ErrNotLoggedIn = errors.New("not logged in")

// Manager owns the current portal session. It exposes thread-safe
// login/logout/status operations shared by all tool invocations and the
// background monitor.
//
// Locking discipline: mu guards the held session and serializes reads
// against installs. loginMu serializes whole login attempts so that only
// one flows against the portal at a time; a second caller blocks on it and
// then observes the first attempt's outcome. The login network and captcha
// work happens while holding loginMu only, so concurrent readers of the
// previously held session are never blocked on a human solving a captcha.
type Manager struct {
	cfg    *config.Config
	client *portal.Client
	store  *Store
	log    zerolog.Logger

	mu      sync.RWMutex
	session *portal.Session

	loginMu sync.Mutex

	solverMu sync.Mutex
	solver   portal.Solver

	monitor *Monitor
}

var (
	instanceMu sync.Mutex
	instance   *Manager
	pendingCfg *config.Config
)

// Configure sets the configuration used to construct the singleton. It
// must be called before the first Get; calling it later has no effect on
// the existing instance.
func Configure(cfg *config.Config) {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	pendingCfg = cfg
}

// Get returns the process-wide Manager, constructing it on first use.
// Construction is idempotent and thread-safe.
func Get() *Manager {
	instanceMu.Lock()
	defer instanceMu.Unlock()

	if instance == nil {
		cfg := pendingCfg
		if cfg == nil {
			cfg = config.Default()
		}
		m, err := New(cfg)
		if err != nil {
			logging.Fatal().Err(err).Msg("failed to construct session manager")
		}
		instance = m
	}
	return instance
}

// Reset tears down the singleton (for tests).
func Reset() {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	if instance != nil {
		instance.Shutdown()
		instance = nil
	}
	pendingCfg = nil
}

// New constructs a Manager. At startup it reconciles the persisted session
// record with the live portal: a record the portal still accepts is
// installed; a stale or rejected one is treated as absent. Reconciliation
// failures never prevent construction.
func New(cfg *config.Config) (*Manager, error) {
	client, err := portal.NewClient(cfg.Portal)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:    cfg,
		client: client,
		store:  NewStore(cfg.Session.Dir),
		log:    logging.Component("auth"),
		solver: portal.PromptSolver(os.Stdin, os.Stdout),
	}
	m.monitor = newMonitor(m, cfg.Session.MonitorInterval.Std())

	m.restorePersisted()

	return m, nil
}

// restorePersisted loads the persisted record and probes the portal with
// it. Only a record the portal still accepts becomes the held session.
func (m *Manager) restorePersisted() {
	session, err := m.store.Load()
	if err != nil || session == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.Portal.Timeout.Std())
	defer cancel()

	alive, err := m.client.ProbeSession(ctx, session)
	if err != nil {
		m.log.Warn().Err(err).Msg("could not validate persisted session, starting logged out")
		return
	}
	if !alive {
		m.log.Info().Msg("persisted session no longer accepted by portal")
		return
	}

	m.client.SetCookies(session.Cookies)
	m.mu.Lock()
	m.session = session
	m.mu.Unlock()
	m.log.Info().Str("username", session.Username).Msg("restored persisted session")
}

// SetSolver replaces the captcha solver used when a login does not supply
// its own.
func (m *Manager) SetSolver(solver portal.Solver) {
	m.solverMu.Lock()
	defer m.solverMu.Unlock()
	m.solver = solver
}

func (m *Manager) defaultSolver() portal.Solver {
	m.solverMu.Lock()
	defer m.solverMu.Unlock()
	return m.solver
}

// IsLoggedIn reports whether a session is currently held and has not been
// invalidated. It does not contact the portal.
func (m *Manager) IsLoggedIn() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session != nil
}

// Snapshot returns an immutable copy of the held session, or
// ErrNotLoggedIn when none is held.
func (m *Manager) Snapshot() (*portal.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return nil, ErrNotLoggedIn
	}
	return m.session.Clone(), nil
}

// Client returns the portal client carrying the session cookies.
func (m *Manager) Client() *portal.Client {
	return m.client
}

// EnsureLoggedIn is a no-op when a session is held. Otherwise it runs the
// login flow: nil credentials prompt interactively, a nil solver falls
// back to the configured one. Concurrent callers serialize; the later one
// observes the earlier attempt's outcome instead of starting a duplicate
// attempt against the portal.
func (m *Manager) EnsureLoggedIn(ctx context.Context, creds *portal.Credentials, solver portal.Solver) error {
	if m.IsLoggedIn() {
		return nil
	}

	m.loginMu.Lock()
	defer m.loginMu.Unlock()

	// A concurrent attempt may have finished while we waited.
	if m.IsLoggedIn() {
		return nil
	}

	if creds == nil {
		c, err := promptCredentials(os.Stdin, os.Stdout)
		if err != nil {
			return err
		}
		creds = &c
	}
	if solver == nil {
		solver = m.defaultSolver()
	}

	return m.login(ctx, *creds, solver)
}

// LoginWithPassword runs a non-interactive login. The captcha still goes
// through the configured solver.
func (m *Manager) LoginWithPassword(ctx context.Context, username, password string) error {
	m.loginMu.Lock()
	defer m.loginMu.Unlock()

	if m.IsLoggedIn() {
		return nil
	}

	return m.login(ctx, portal.Credentials{Username: username, Password: password}, m.defaultSolver())
}

// Relogin runs the login flow even when a session is already held,
// replacing it on success. The held session stays readable while the
// attempt is in flight; only the final install takes the write lock.
func (m *Manager) Relogin(ctx context.Context, creds portal.Credentials, solver portal.Solver) error {
	m.loginMu.Lock()
	defer m.loginMu.Unlock()

	if solver == nil {
		solver = m.defaultSolver()
	}

	// The portal only serves a fresh challenge to an unauthenticated
	// request, so the attempt starts from an empty cookie jar. The held
	// session keeps its own cookie copy and stays readable throughout; on
	// failure its cookies go back into the jar.
	m.client.ClearCookies()
	if err := m.login(ctx, creds, solver); err != nil {
		if snap, snapErr := m.Snapshot(); snapErr == nil {
			m.client.SetCookies(snap.Cookies)
		}
		return err
	}
	return nil
}

// login runs the portal login flow and installs the result. Callers hold
// loginMu; the session lock is taken only for the moment of install.
func (m *Manager) login(ctx context.Context, creds portal.Credentials, solver portal.Solver) error {
	session, err := m.client.Login(ctx, creds, solver, portal.LoginOptions{
		CaptchaRetries: m.cfg.Login.CaptchaRetries,
		CaptchaDir:     m.cfg.Login.CaptchaDir,
	})
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.session = session
	m.mu.Unlock()

	if err := m.store.Save(session); err != nil {
		m.log.Error().Err(err).Msg("failed to persist session")
	}

	event.Publish(event.Event{
		Type: event.SessionEstablished,
		Data: event.SessionData{Username: session.Username},
	})
	return nil
}

// Invalidate clears the held session and its persisted record. Used when a
// handler observes the portal rejecting the cached session mid-use.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	hadSession := m.session != nil
	username := ""
	if m.session != nil {
		username = m.session.Username
	}
	m.session = nil
	m.mu.Unlock()

	if !hadSession {
		return
	}

	m.client.ClearCookies()
	if err := m.store.Clear(); err != nil {
		m.log.Error().Err(err).Msg("failed to clear persisted session")
	}

	event.Publish(event.Event{
		Type: event.SessionInvalidated,
		Data: event.SessionData{Username: username},
	})
}

// Logout invalidates the portal-side session, then the local one.
func (m *Manager) Logout(ctx context.Context) error {
	err := m.client.Logout(ctx)
	m.Invalidate()
	return err
}

// StartMonitor starts the background session monitor. No-op when already
// running. onExpired is invoked once per detected expiry; it typically
// calls EnsureLoggedIn again.
func (m *Manager) StartMonitor(onExpired func()) {
	m.monitor.Start(onExpired)
}

// StopMonitor stops the monitor, draining an in-flight probe or renewal.
// No-op when not running.
func (m *Manager) StopMonitor() {
	m.monitor.Stop()
}

// Shutdown stops the monitor. Explicit teardown for process exit.
func (m *Manager) Shutdown() {
	m.StopMonitor()
}
