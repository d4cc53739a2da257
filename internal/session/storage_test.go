package session

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestFileStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := NewFileStore(filepath.Join(t.TempDir(), "state", "session.json"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

func TestFileStoreRoundTrip(t *testing.T) {
	store := newTestFileStore(t)
	state := PersistedState{
		Session: Session{
			SessionID: "sess-1",
			UserType:  UserTypeStaff,
			AuthMode:  AuthModeManaged,
			User:      Identity{ID: "7", Email: "a@x.edu"},
			Role:      "Admin",
		},
		AccessToken: "token-1",
		SavedAt:     time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC),
	}
	if err := store.Save(state); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.Session.User.Email != "a@x.edu" || loaded.AccessToken != "token-1" {
		t.Fatalf("unexpected state: %+v", loaded)
	}
	if loaded.Session.AuthMode != AuthModeManaged {
		t.Fatalf("unexpected auth mode: %q", loaded.Session.AuthMode)
	}
}

func TestFileStoreLoadWithoutSaveReturnsNoPersistedState(t *testing.T) {
	store := newTestFileStore(t)
	if _, err := store.Load(); !errors.Is(err, ErrNoPersistedState) {
		t.Fatalf("expected ErrNoPersistedState, got %v", err)
	}
}

func TestFileStoreTreatsCorruptDocumentAsAbsent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("failed to write corrupt file: %v", err)
	}
	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if _, err := store.Load(); !errors.Is(err, ErrNoPersistedState) {
		t.Fatalf("expected ErrNoPersistedState for corrupt document, got %v", err)
	}
}

func TestFileStoreClearIsIdempotent(t *testing.T) {
	store := newTestFileStore(t)
	if err := store.Save(PersistedState{Session: Session{SessionID: "sess-1"}}); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := store.Clear(); err != nil {
		t.Fatalf("first clear failed: %v", err)
	}
	if err := store.Clear(); err != nil {
		t.Fatalf("second clear failed: %v", err)
	}
	if _, err := store.Load(); !errors.Is(err, ErrNoPersistedState) {
		t.Fatalf("expected state removed, got %v", err)
	}
}
