package auth

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sjtu-chatbot/campusd/internal/portal"
)

func TestStoreRoundTrip(t *testing.T) {
	s := NewStore(t.TempDir())

	session := &portal.Session{
		Cookies:       map[string]string{"JSESSIONID": "abc123"},
		Username:      "student",
		EstablishedAt: time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, s.Save(session))

	loaded, err := s.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, session.Cookies, loaded.Cookies)
	assert.Equal(t, session.Username, loaded.Username)
}

func TestStoreLoadMissing(t *testing.T) {
	s := NewStore(t.TempDir())

	loaded, err := s.Load()
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestStoreLoadCorrupt(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "session.json"), []byte("%%%"), 0o600))

	loaded, err := NewStore(dir).Load()
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestStoreLoadUnknownVersion(t *testing.T) {
	dir := t.TempDir()
	record := `{"version":99,"session":{"cookies":{"JSESSIONID":"x"},"username":"u"}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "session.json"), []byte(record), 0o600))

	loaded, err := NewStore(dir).Load()
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestStoreLoadEmptyCookies(t *testing.T) {
	dir := t.TempDir()
	record := `{"version":1,"session":{"cookies":{},"username":"u"}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "session.json"), []byte(record), 0o600))

	loaded, err := NewStore(dir).Load()
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestStoreClearIdempotent(t *testing.T) {
	s := NewStore(t.TempDir())
	require.NoError(t, s.Clear())
	require.NoError(t, s.Clear())
}
