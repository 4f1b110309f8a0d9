// Package session keeps the signed-in user's tokens and UI preferences
// between archctl invocations.
package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

type State struct {
	AccessToken      string `yaml:"access_token,omitempty"`
	RefreshToken     string `yaml:"refresh_token,omitempty"`
	SidebarCollapsed bool   `yaml:"sidebar_collapsed"`
}

type Store interface {
	Load() (State, error)
	Save(State) error
}

// FileStore persists state as YAML. A missing file is an empty state.
type FileStore struct {
	Path string
}

func (f FileStore) Load() (State, error) {
	raw, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return State{}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("read state: %w", err)
	}
	var st State
	if err := yaml.Unmarshal(raw, &st); err != nil {
		return State{}, fmt.Errorf("parse state %s: %w", f.Path, err)
	}
	return st, nil
}

func (f FileStore) Save(st State) error {
	raw, err := yaml.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp := f.Path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if err := os.Rename(tmp, f.Path); err != nil {
		return fmt.Errorf("replace state: %w", err)
	}
	return nil
}

type MemoryStore struct {
	mu    sync.Mutex
	state State
}

func (m *MemoryStore) Load() (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, nil
}

func (m *MemoryStore) Save(st State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = st
	return nil
}

// Manager is the in-process view of the stored state. Load runs at startup,
// SetTokens after login, signup and refresh, Clear on logout.
type Manager struct {
	mu    sync.RWMutex
	store Store
	state State
}

func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

func (m *Manager) Load() error {
	st, err := m.store.Load()
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.state = st
	m.mu.Unlock()
	return nil
}

func (m *Manager) AccessToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.AccessToken
}

func (m *Manager) RefreshToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.RefreshToken
}

func (m *Manager) SidebarCollapsed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.SidebarCollapsed
}

func (m *Manager) update(fn func(*State)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.state
	fn(&next)
	if err := m.store.Save(next); err != nil {
		return err
	}
	m.state = next
	return nil
}

// SetTokens stores a new access token. An empty refresh token keeps the one
// already stored.
func (m *Manager) SetTokens(access, refresh string) error {
	return m.update(func(st *State) {
		st.AccessToken = access
		if refresh != "" {
			st.RefreshToken = refresh
		}
	})
}

// ClearAccessToken drops the access token after the server rejected it. The
// refresh token survives so the user can refresh instead of logging in.
func (m *Manager) ClearAccessToken() {
	_ = m.update(func(st *State) {
		st.AccessToken = ""
	})
}

// Clear forgets both tokens. Preferences are kept.
func (m *Manager) Clear() error {
	return m.update(func(st *State) {
		st.AccessToken = ""
		st.RefreshToken = ""
	})
}

func (m *Manager) ToggleSidebar() (bool, error) {
	var collapsed bool
	err := m.update(func(st *State) {
		st.SidebarCollapsed = !st.SidebarCollapsed
		collapsed = st.SidebarCollapsed
	})
	return collapsed, err
}
