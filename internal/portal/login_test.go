package portal_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sjtu-chatbot/campusd/internal/portal"
	"github.com/sjtu-chatbot/campusd/internal/portal/portaltest"
)

func newClient(t *testing.T, fake *portaltest.Portal) *portal.Client {
	t.Helper()
	client, err := portal.NewClient(fake.Config())
	require.NoError(t, err)
	return client
}

func TestLoginSucceeds(t *testing.T) {
	fake := portaltest.New(t, "u", "p", "7")
	client := newClient(t, fake)

	session, err := client.Login(context.Background(),
		portal.Credentials{Username: "u", Password: "p"},
		portal.StaticSolver("7"),
		portal.LoginOptions{})
	require.NoError(t, err)

	assert.Equal(t, "u", session.Username)
	assert.False(t, session.EstablishedAt.IsZero())
	assert.NotEmpty(t, session.Cookies["JSESSIONID"])

	alive, err := client.Probe(context.Background())
	require.NoError(t, err)
	assert.True(t, alive)
}

func TestLoginWrongCaptchaExhaustsRetries(t *testing.T) {
	fake := portaltest.New(t, "u", "p", "7")
	client := newClient(t, fake)

	_, err := client.Login(context.Background(),
		portal.Credentials{Username: "u", Password: "p"},
		portal.StaticSolver("9"),
		portal.LoginOptions{CaptchaRetries: 3})
	require.Error(t, err)

	assert.Equal(t, portal.CaptchaExhausted, portal.ReasonOf(err))
	assert.Equal(t, 3, fake.LoginCalls())
}

func TestLoginBadCredentialsFailsWithoutRetry(t *testing.T) {
	fake := portaltest.New(t, "u", "p", "7")
	client := newClient(t, fake)

	_, err := client.Login(context.Background(),
		portal.Credentials{Username: "u", Password: "wrong"},
		portal.StaticSolver("7"),
		portal.LoginOptions{CaptchaRetries: 3})
	require.Error(t, err)

	assert.Equal(t, portal.BadCredentials, portal.ReasonOf(err))
	// One form post only: credential rejections are never auto-retried.
	assert.Equal(t, 1, fake.LoginCalls())
}

func TestLoginSolverErrorAborts(t *testing.T) {
	fake := portaltest.New(t, "u", "p", "7")
	client := newClient(t, fake)

	solverErr := errors.New("user cancelled")
	solver := func(ctx context.Context, ch *portal.CaptchaChallenge) (string, error) {
		return "", solverErr
	}

	_, err := client.Login(context.Background(),
		portal.Credentials{Username: "u", Password: "p"}, solver, portal.LoginOptions{})
	require.Error(t, err)

	assert.Equal(t, portal.CaptchaAborted, portal.ReasonOf(err))
	assert.ErrorIs(t, err, solverErr)
	assert.Equal(t, 0, fake.LoginCalls())
}

func TestLoginUnreachablePortalIsTransient(t *testing.T) {
	fake := portaltest.New(t, "u", "p", "7")
	cfg := fake.Config()
	fake.Server.Close()

	client, err := portal.NewClient(cfg)
	require.NoError(t, err)

	_, err = client.Login(context.Background(),
		portal.Credentials{Username: "u", Password: "p"},
		portal.StaticSolver("7"),
		portal.LoginOptions{})
	require.Error(t, err)

	var le *portal.LoginError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, portal.Transient, le.Reason)
	assert.True(t, le.Retryable())
}

func TestCaptchaSolverReceivesChallenge(t *testing.T) {
	fake := portaltest.New(t, "u", "p", "7")
	client := newClient(t, fake)

	cacheDir := t.TempDir()
	var seen *portal.CaptchaChallenge
	solver := func(ctx context.Context, ch *portal.CaptchaChallenge) (string, error) {
		seen = ch
		return "7", nil
	}

	_, err := client.Login(context.Background(),
		portal.Credentials{Username: "u", Password: "p"}, solver,
		portal.LoginOptions{CaptchaDir: cacheDir})
	require.NoError(t, err)

	require.NotNil(t, seen)
	assert.NotEmpty(t, seen.ID)
	assert.NotEmpty(t, seen.Image)

	// The image was written into the cache dir for human inspection.
	require.NotEmpty(t, seen.Path)
	assert.Equal(t, cacheDir, filepath.Dir(seen.Path))
	data, err := os.ReadFile(seen.Path)
	require.NoError(t, err)
	assert.Equal(t, seen.Image, data)
}

func TestProbeDetectsExpiry(t *testing.T) {
	fake := portaltest.New(t, "u", "p", "7")
	client := newClient(t, fake)

	_, err := client.Login(context.Background(),
		portal.Credentials{Username: "u", Password: "p"},
		portal.StaticSolver("7"), portal.LoginOptions{})
	require.NoError(t, err)

	alive, err := client.Probe(context.Background())
	require.NoError(t, err)
	assert.True(t, alive)

	fake.ExpireAll()

	alive, err = client.Probe(context.Background())
	require.NoError(t, err)
	assert.False(t, alive)
}

func TestProbeNetworkErrorIsNotExpiry(t *testing.T) {
	fake := portaltest.New(t, "u", "p", "7")
	cfg := fake.Config()
	fake.Server.Close()

	client, err := portal.NewClient(cfg)
	require.NoError(t, err)

	alive, err := client.Probe(context.Background())
	assert.False(t, alive)
	assert.Error(t, err)
}

func TestSetCookiesRestoresSession(t *testing.T) {
	fake := portaltest.New(t, "u", "p", "7")
	fake.AcceptToken("persisted-token")

	client := newClient(t, fake)
	client.SetCookies(map[string]string{"JSESSIONID": "persisted-token"})

	alive, err := client.Probe(context.Background())
	require.NoError(t, err)
	assert.True(t, alive)
}

func TestLogoutClearsCookies(t *testing.T) {
	fake := portaltest.New(t, "u", "p", "7")
	client := newClient(t, fake)

	_, err := client.Login(context.Background(),
		portal.Credentials{Username: "u", Password: "p"},
		portal.StaticSolver("7"), portal.LoginOptions{})
	require.NoError(t, err)

	require.NoError(t, client.Logout(context.Background()))

	alive, err := client.Probe(context.Background())
	require.NoError(t, err)
	assert.False(t, alive)
	assert.Empty(t, client.Cookies())
}

func TestProbeSessionIndependentOfJar(t *testing.T) {
	fake := portaltest.New(t, "u", "p", "7")
	fake.AcceptToken("held-token")
	client := newClient(t, fake)

	held := &portal.Session{Cookies: map[string]string{"JSESSIONID": "held-token"}}

	// The jar is empty, as it is mid-renewal; the held session still
	// probes alive on its own cookies.
	alive, err := client.ProbeSession(context.Background(), held)
	require.NoError(t, err)
	assert.True(t, alive)

	// And a revoked session probes dead even while the jar carries a
	// token the portal accepts.
	client.SetCookies(map[string]string{"JSESSIONID": "held-token"})
	alive, err = client.ProbeSession(context.Background(),
		&portal.Session{Cookies: map[string]string{"JSESSIONID": "revoked"}})
	require.NoError(t, err)
	assert.False(t, alive)
}

func TestClearCookiesKeepsJar(t *testing.T) {
	fake := portaltest.New(t, "u", "p", "7")
	client := newClient(t, fake)

	jar := client.HTTPClient().Jar
	client.SetCookies(map[string]string{"JSESSIONID": "tok"})
	client.ClearCookies()

	// The jar is emptied in place, never swapped: requests in flight keep
	// a stable jar.
	assert.Same(t, jar, client.HTTPClient().Jar)
	assert.Empty(t, client.Cookies())

	client.SetCookies(map[string]string{"JSESSIONID": "tok2"})
	assert.Equal(t, "tok2", client.Cookies()["JSESSIONID"])
}

func TestCookieMutationConcurrentWithProbe(t *testing.T) {
	fake := portaltest.New(t, "u", "p", "7")
	fake.AcceptToken("tok")
	client := newClient(t, fake)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				client.SetCookies(map[string]string{"JSESSIONID": "tok"})
				client.ClearCookies()
				client.Cookies()
			}
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if _, err := client.Probe(context.Background()); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestSessionClone(t *testing.T) {
	orig := &portal.Session{
		Cookies:  map[string]string{"JSESSIONID": "a"},
		Username: "u",
	}

	clone := orig.Clone()
	clone.Cookies["JSESSIONID"] = "tampered"

	assert.Equal(t, "a", orig.Cookies["JSESSIONID"])
}

func TestAuthCookieHeader(t *testing.T) {
	s := &portal.Session{Cookies: map[string]string{
		"JSESSIONID":  "abc",
		"JAAuthCookie": "xyz",
		"irrelevant":  "1",
	}}

	header := s.AuthCookieHeader()
	assert.Contains(t, header, "JSESSIONID=abc")
	assert.Contains(t, header, "JAAuthCookie=xyz")
	assert.NotContains(t, header, "irrelevant")
}

func TestCookieHeaderCarriesAllCookies(t *testing.T) {
	s := &portal.Session{Cookies: map[string]string{"b": "2", "a": "1"}}
	assert.Equal(t, "a=1; b=2", s.CookieHeader())
}
