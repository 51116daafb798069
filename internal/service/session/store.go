package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	model "github.com/inboxd/inboxd/internal/model/session"
)

var (
	// ErrNotHydrated is returned while the durable record is still loading;
	// callers must treat the credential as unknown, not absent.
	ErrNotHydrated = errors.New("session store not hydrated")
)

// Store owns the session snapshot. Every mutation persists the whole record
// to the session file; Logout deletes the file outright. All other
// components read through accessors and never hold a reference into the
// snapshot.
type Store struct {
	mu         sync.RWMutex
	path       string
	snap       model.Snapshot
	hydrated   bool
	generation uint64
	ready      chan struct{}
}

// NewStore builds a store backed by the JSON record at path. The store is
// unusable for auth-gated work until Hydrate has run.
func NewStore(path string) *Store {
	return &Store{
		path:  path,
		ready: make(chan struct{}),
	}
}

// Hydrate loads the durable record. A missing file yields an empty session.
// The hydrated flag is set exactly once and never reverts, even if a later
// mutation fails to persist.
func (s *Store) Hydrate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hydrated {
		return nil
	}

	data, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// First run: nothing saved yet.
	case err != nil:
		s.markHydratedLocked()
		return fmt.Errorf("read session file: %w", err)
	default:
		var snap model.Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			// A corrupt record is unrecoverable; start anonymous rather
			// than block every auth-gated operation forever.
			s.markHydratedLocked()
			return fmt.Errorf("decode session file: %w", err)
		}
		s.snap = snap
	}

	s.markHydratedLocked()
	return nil
}

func (s *Store) markHydratedLocked() {
	s.hydrated = true
	close(s.ready)
}

// Ready returns a channel closed once hydration completes. Consumers gate
// auth-dependent work on it instead of polling Hydrated.
func (s *Store) Ready() <-chan struct{} {
	return s.ready
}

// Hydrated reports whether the durable record has been loaded.
func (s *Store) Hydrated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hydrated
}

// Snapshot returns a copy of the current session record.
func (s *Store) Snapshot() model.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Credential returns the active bearer token. Before hydration the value is
// unknown, so ErrNotHydrated is returned instead of an empty string.
func (s *Store) Credential() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.hydrated {
		return "", ErrNotHydrated
	}
	return s.snap.Credential, nil
}

// Generation counts credential-affecting mutations. Async work captures the
// generation before an I/O round trip and discards its result if the value
// moved while it was in flight.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// SetCredential overwrites the bearer token unconditionally. The controller
// is responsible for having verified it.
func (s *Store) SetCredential(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Credential = token
	s.generation++
	return s.persistLocked()
}

// SetIdentity overwrites the profile unconditionally.
func (s *Store) SetIdentity(identity *model.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Identity = identity
	return s.persistLocked()
}

// StartImpersonation swaps in a temporary principal. The first start
// archives the current pair; while already impersonating, archiving is
// skipped so the original principal stays the only recoverable one — the
// stack is deliberately one level deep.
func (s *Store) StartImpersonation(credential string, identity *model.Identity, context *model.ImpersonationContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.snap.Impersonating {
		s.snap.SavedCredential = s.snap.Credential
		s.snap.SavedIdentity = s.snap.Identity
	}
	s.snap.Credential = credential
	s.snap.Identity = identity
	s.snap.Context = context
	s.snap.Impersonating = true
	s.generation++
	return s.persistLocked()
}

// StopImpersonation restores the archived principal. It is a no-op unless
// the session is impersonating with a complete saved pair.
func (s *Store) StopImpersonation() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.snap.Impersonating || s.snap.SavedCredential == "" || s.snap.SavedIdentity == nil {
		return nil
	}

	s.snap.Credential = s.snap.SavedCredential
	s.snap.Identity = s.snap.SavedIdentity
	s.snap.SavedCredential = ""
	s.snap.SavedIdentity = nil
	s.snap.Context = nil
	s.snap.Impersonating = false
	s.generation++
	return s.persistLocked()
}

// Logout resets every field and erases the durable record entirely, so a
// fresh hydration afterwards yields an empty session.
func (s *Store) Logout() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snap = model.Snapshot{}
	s.generation++

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}

func (s *Store) persistLocked() error {
	s.snap.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(s.snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create session directory: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	return nil
}
