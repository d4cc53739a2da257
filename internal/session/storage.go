package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// ErrNoPersistedState is returned when no session has been persisted yet.
var ErrNoPersistedState = errors.New("session: no persisted state")

// PersistedState is the single local-storage entry the client keeps as a
// continuity fallback: the last session plus the provider grant that backed
// it (empty for legacy-mode sessions).
type PersistedState struct {
	Session      Session   `json:"session"`
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	SavedAt      time.Time `json:"saved_at"`
}

// PersistentStore abstracts the device-local storage entry.
type PersistentStore interface {
	Save(state PersistedState) error
	Load() (PersistedState, error)
	Clear() error
}

// FileStore persists the session state as a single JSON document on disk.
type FileStore struct {
	path string
}

// NewFileStore validates the target path and returns a store.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("session: storage path required")
	}
	return &FileStore{path: path}, nil
}

// Save writes the state, replacing any previous entry. The file is written
// via a temporary sibling so a crash never leaves a half-written document.
func (s *FileStore) Save(state PersistedState) error {
	if state.SavedAt.IsZero() {
		state.SavedAt = time.Now().UTC()
	}
	encoded, err := json.Marshal(state)
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, encoded, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Load reads the persisted state, or ErrNoPersistedState when absent or
// unreadable as JSON.
func (s *FileStore) Load() (PersistedState, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return PersistedState{}, ErrNoPersistedState
	}
	if err != nil {
		return PersistedState{}, err
	}
	var state PersistedState
	if err := json.Unmarshal(raw, &state); err != nil {
		return PersistedState{}, ErrNoPersistedState
	}
	return state, nil
}

// Clear removes the entry; a missing file is not an error.
func (s *FileStore) Clear() error {
	err := os.Remove(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// MemoryStore is an in-process PersistentStore for tests and embedded use.
type MemoryStore struct {
	state PersistedState
	set   bool
}

// Save replaces the stored state.
func (s *MemoryStore) Save(state PersistedState) error {
	s.state = state
	s.set = true
	return nil
}

// Load returns the stored state or ErrNoPersistedState.
func (s *MemoryStore) Load() (PersistedState, error) {
	if !s.set {
		return PersistedState{}, ErrNoPersistedState
	}
	return s.state, nil
}

// Clear drops the stored state.
func (s *MemoryStore) Clear() error {
	s.state = PersistedState{}
	s.set = false
	return nil
}
