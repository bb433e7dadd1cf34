package auth

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sjtu-chatbot/campusd/internal/config"
	"github.com/sjtu-chatbot/campusd/internal/portal"
	"github.com/sjtu-chatbot/campusd/internal/portal/portaltest"
)

const (
	testUser     = "student"
	testPassword = "hunter2"
	testCaptcha  = "7x9q"
)

func testConfig(t *testing.T, p *portaltest.Portal) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Portal = p.Config()
	cfg.Login.CaptchaRetries = 3
	cfg.Login.CaptchaDir = t.TempDir()
	cfg.Session.Dir = t.TempDir()
	cfg.Session.MonitorInterval = config.Duration(25 * time.Millisecond)
	return cfg
}

func testCreds() *portal.Credentials {
	return &portal.Credentials{Username: testUser, Password: testPassword}
}

func TestEnsureLoggedInIdempotent(t *testing.T) {
	p := portaltest.New(t, testUser, testPassword, testCaptcha)
	m, err := New(testConfig(t, p))
	require.NoError(t, err)

	ctx := context.Background()
	solver := portal.StaticSolver(testCaptcha)

	require.NoError(t, m.EnsureLoggedIn(ctx, testCreds(), solver))
	require.NoError(t, m.EnsureLoggedIn(ctx, testCreds(), solver))

	assert.True(t, m.IsLoggedIn())
	assert.Equal(t, 1, p.LoginCalls(), "second ensure should not hit the portal")

	snap, err := m.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, testUser, snap.Username)
	assert.NotEmpty(t, snap.Cookies)
}

func TestEnsureLoggedInBadCredentials(t *testing.T) {
	p := portaltest.New(t, testUser, testPassword, testCaptcha)
	m, err := New(testConfig(t, p))
	require.NoError(t, err)

	err = m.EnsureLoggedIn(context.Background(),
		&portal.Credentials{Username: testUser, Password: "wrong"},
		portal.StaticSolver(testCaptcha))

	require.Error(t, err)
	assert.Equal(t, portal.BadCredentials, portal.ReasonOf(err))
	assert.Equal(t, 1, p.LoginCalls(), "bad credentials must not be retried")
	assert.False(t, m.IsLoggedIn())

	_, err = m.Snapshot()
	assert.ErrorIs(t, err, ErrNotLoggedIn)
}

func TestEnsureLoggedInCaptchaExhausted(t *testing.T) {
	p := portaltest.New(t, testUser, testPassword, testCaptcha)
	m, err := New(testConfig(t, p))
	require.NoError(t, err)

	err = m.EnsureLoggedIn(context.Background(), testCreds(), portal.StaticSolver("nope"))

	require.Error(t, err)
	assert.Equal(t, portal.CaptchaExhausted, portal.ReasonOf(err))
	assert.Equal(t, 3, p.LoginCalls())
	assert.False(t, m.IsLoggedIn())
}

func TestConcurrentEnsureSingleFlight(t *testing.T) {
	p := portaltest.New(t, testUser, testPassword, testCaptcha)
	m, err := New(testConfig(t, p))
	require.NoError(t, err)

	// Both goroutines race into a logged-out manager; the solver delay
	// widens the window so the loser really does wait on the winner.
	solver := func(ctx context.Context, c *portal.CaptchaChallenge) (string, error) {
		time.Sleep(50 * time.Millisecond)
		return testCaptcha, nil
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = m.EnsureLoggedIn(context.Background(), testCreds(), solver)
		}()
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, 1, p.LoginCalls(), "only one attempt should reach the portal")
}

func TestPersistedSessionRestored(t *testing.T) {
	p := portaltest.New(t, testUser, testPassword, testCaptcha)
	cfg := testConfig(t, p)

	m1, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, m1.EnsureLoggedIn(context.Background(), testCreds(), portal.StaticSolver(testCaptcha)))

	// A fresh manager on the same session dir revalidates the record with
	// a probe but never re-runs the login flow.
	m2, err := New(cfg)
	require.NoError(t, err)

	assert.True(t, m2.IsLoggedIn())
	assert.Equal(t, 1, p.LoginCalls())

	snap, err := m2.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, testUser, snap.Username)
}

func TestRejectedPersistedRecordFallsBackToLoggedOut(t *testing.T) {
	p := portaltest.New(t, testUser, testPassword, testCaptcha)
	cfg := testConfig(t, p)

	m1, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, m1.EnsureLoggedIn(context.Background(), testCreds(), portal.StaticSolver(testCaptcha)))

	p.ExpireAll()

	m2, err := New(cfg)
	require.NoError(t, err)
	assert.False(t, m2.IsLoggedIn())
}

func TestCorruptPersistedRecordIgnored(t *testing.T) {
	p := portaltest.New(t, testUser, testPassword, testCaptcha)
	cfg := testConfig(t, p)

	path := filepath.Join(cfg.Session.Dir, "session.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	m, err := New(cfg)
	require.NoError(t, err)
	assert.False(t, m.IsLoggedIn())
}

func TestSnapshotNotBlockedByRelogin(t *testing.T) {
	p := portaltest.New(t, testUser, testPassword, testCaptcha)
	m, err := New(testConfig(t, p))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, m.EnsureLoggedIn(ctx, testCreds(), portal.StaticSolver(testCaptcha)))

	first, err := m.Snapshot()
	require.NoError(t, err)

	entered := make(chan struct{})
	release := make(chan struct{})
	blocking := func(ctx context.Context, c *portal.CaptchaChallenge) (string, error) {
		close(entered)
		<-release
		return testCaptcha, nil
	}

	done := make(chan error, 1)
	go func() {
		done <- m.Relogin(ctx, *testCreds(), blocking)
	}()

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("relogin never reached the solver")
	}

	// Renewal is parked on a human captcha; readers of the previous
	// session must not be.
	snap, err := m.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, first.Cookies, snap.Cookies)
	assert.True(t, m.IsLoggedIn())

	close(release)
	require.NoError(t, <-done)

	renewed, err := m.Snapshot()
	require.NoError(t, err)
	assert.NotEqual(t, first.Cookies["JSESSIONID"], renewed.Cookies["JSESSIONID"])
}

func TestSnapshotIsACopy(t *testing.T) {
	p := portaltest.New(t, testUser, testPassword, testCaptcha)
	m, err := New(testConfig(t, p))
	require.NoError(t, err)

	require.NoError(t, m.EnsureLoggedIn(context.Background(), testCreds(), portal.StaticSolver(testCaptcha)))

	snap, err := m.Snapshot()
	require.NoError(t, err)
	snap.Cookies["JSESSIONID"] = "tampered"
	snap.Username = "tampered"

	again, err := m.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, testUser, again.Username)
	assert.NotEqual(t, "tampered", again.Cookies["JSESSIONID"])
}

func TestLoginWithPassword(t *testing.T) {
	p := portaltest.New(t, testUser, testPassword, testCaptcha)
	m, err := New(testConfig(t, p))
	require.NoError(t, err)

	m.SetSolver(portal.StaticSolver(testCaptcha))
	require.NoError(t, m.LoginWithPassword(context.Background(), testUser, testPassword))
	assert.True(t, m.IsLoggedIn())
}

func TestInvalidateClearsSessionAndRecord(t *testing.T) {
	p := portaltest.New(t, testUser, testPassword, testCaptcha)
	cfg := testConfig(t, p)
	m, err := New(cfg)
	require.NoError(t, err)

	require.NoError(t, m.EnsureLoggedIn(context.Background(), testCreds(), portal.StaticSolver(testCaptcha)))
	m.Invalidate()

	assert.False(t, m.IsLoggedIn())
	_, err = m.Snapshot()
	assert.ErrorIs(t, err, ErrNotLoggedIn)

	// The persisted record is gone too, so a fresh manager starts logged
	// out instead of resurrecting the dead session.
	m2, err := New(cfg)
	require.NoError(t, err)
	assert.False(t, m2.IsLoggedIn())
}

func TestLogout(t *testing.T) {
	p := portaltest.New(t, testUser, testPassword, testCaptcha)
	m, err := New(testConfig(t, p))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, m.EnsureLoggedIn(ctx, testCreds(), portal.StaticSolver(testCaptcha)))

	snap, err := m.Snapshot()
	require.NoError(t, err)
	token := snap.Cookies["JSESSIONID"]

	require.NoError(t, m.Logout(ctx))
	assert.False(t, m.IsLoggedIn())

	// The portal-side session was revoked, not just forgotten locally.
	m.Client().SetCookies(map[string]string{"JSESSIONID": token})
	alive, err := m.Client().Probe(ctx)
	require.NoError(t, err)
	assert.False(t, alive)
}

func TestUnreachablePortalIsTransient(t *testing.T) {
	p := portaltest.New(t, testUser, testPassword, testCaptcha)
	cfg := testConfig(t, p)
	p.Server.Close()

	m, err := New(cfg)
	require.NoError(t, err)

	err = m.EnsureLoggedIn(context.Background(), testCreds(), portal.StaticSolver(testCaptcha))
	require.Error(t, err)
	assert.Equal(t, portal.Transient, portal.ReasonOf(err))

	var le *portal.LoginError
	require.True(t, errors.As(err, &le))
	assert.True(t, le.Retryable())
}

func TestSingletonConfigureGetReset(t *testing.T) {
	p := portaltest.New(t, testUser, testPassword, testCaptcha)
	Configure(testConfig(t, p))
	t.Cleanup(Reset)

	m1 := Get()
	m2 := Get()
	assert.Same(t, m1, m2)

	Reset()
	Configure(testConfig(t, p))
	assert.NotSame(t, m1, Get())
}
