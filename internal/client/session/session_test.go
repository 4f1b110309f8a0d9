package session

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.yaml")
	store := FileStore{Path: path}

	st, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, State{}, st, "missing file is an empty state")

	m := NewManager(store)
	require.NoError(t, m.Load())
	require.NoError(t, m.SetTokens("access-1", "refresh-1"))
	collapsed, err := m.ToggleSidebar()
	require.NoError(t, err)
	assert.True(t, collapsed)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	reloaded := NewManager(FileStore{Path: path})
	require.NoError(t, reloaded.Load())
	assert.Equal(t, "access-1", reloaded.AccessToken())
	assert.Equal(t, "refresh-1", reloaded.RefreshToken())
	assert.True(t, reloaded.SidebarCollapsed())
}

func TestFileStoreRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	require.NoError(t, os.WriteFile(path, []byte("access_token: [oops"), 0o600))
	_, err := FileStore{Path: path}.Load()
	assert.Error(t, err)
}

func TestSetTokensKeepsRefreshWhenOmitted(t *testing.T) {
	m := NewManager(&MemoryStore{})
	require.NoError(t, m.SetTokens("a1", "r1"))
	require.NoError(t, m.SetTokens("a2", ""))
	assert.Equal(t, "a2", m.AccessToken())
	assert.Equal(t, "r1", m.RefreshToken())
}

func TestClearKeepsPreferences(t *testing.T) {
	store := &MemoryStore{}
	m := NewManager(store)
	require.NoError(t, m.SetTokens("a", "r"))
	_, err := m.ToggleSidebar()
	require.NoError(t, err)

	require.NoError(t, m.Clear())
	assert.Empty(t, m.AccessToken())
	assert.Empty(t, m.RefreshToken())
	assert.True(t, m.SidebarCollapsed())

	persisted, _ := store.Load()
	assert.Equal(t, State{SidebarCollapsed: true}, persisted)
}

func TestClearAccessTokenKeepsRefresh(t *testing.T) {
	m := NewManager(&MemoryStore{})
	require.NoError(t, m.SetTokens("a", "r"))
	m.ClearAccessToken()
	assert.Empty(t, m.AccessToken())
	assert.Equal(t, "r", m.RefreshToken())
}

type brokenStore struct{ MemoryStore }

func (*brokenStore) Save(State) error { return errors.New("disk full") }

func TestFailedSaveLeavesStateUntouched(t *testing.T) {
	m := NewManager(&brokenStore{})
	assert.Error(t, m.SetTokens("a", "r"))
	assert.Empty(t, m.AccessToken())
}
