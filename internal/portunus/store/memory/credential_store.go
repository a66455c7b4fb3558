package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/BrandonDHaskell/Portunus/controller/internal/portunus/store"
	"github.com/BrandonDHaskell/Portunus/controller/internal/portunus/types"
)

// CredentialStore is an in-memory CredentialStorage. It is intended for use
// in tests and for bench runs without persistent media.
type CredentialStore struct {
	mu       sync.RWMutex
	mounted  bool
	live     map[types.CardIdentity]struct{}
	staging  map[types.CardIdentity]struct{}
	version  []byte
	batches  int
	mountErr error
	stageErr error
}

var _ store.CredentialStorage = (*CredentialStore)(nil)

// NewCredentialStore returns an unformatted store; Mount fails until Format
// has been called.
func NewCredentialStore() *CredentialStore {
	return &CredentialStore{}
}

// FailMount makes the next Mount calls return err. Test-only helper.
func (s *CredentialStore) FailMount(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mountErr = err
}

// FailStage makes StageSortedBatch return err. Test-only helper.
func (s *CredentialStore) FailStage(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stageErr = err
}

// Batches returns how many batches have been staged. Test-only helper.
func (s *CredentialStore) Batches() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.batches
}

func (s *CredentialStore) Mount(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mountErr != nil {
		return fmt.Errorf("%w: mount: %w", store.ErrStorage, s.mountErr)
	}
	if s.live == nil {
		return fmt.Errorf("%w: mount: media not formatted", store.ErrStorage)
	}
	if s.version == nil {
		return store.ErrNoVersion
	}
	s.mounted = true
	return nil
}

func (s *CredentialStore) Format(_ context.Context, version []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.live = make(map[types.CardIdentity]struct{})
	s.staging = nil
	s.version = append([]byte(nil), version...)
	s.mountErr = nil
	s.mounted = true
	return nil
}

func (s *CredentialStore) Has(_ context.Context, key types.CardIdentity) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.mounted {
		return false, fmt.Errorf("%w: not mounted", store.ErrStorage)
	}
	_, ok := s.live[key]
	return ok, nil
}

func (s *CredentialStore) Version(_ context.Context) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.version == nil {
		return nil, store.ErrNoVersion
	}
	return append([]byte(nil), s.version...), nil
}

func (s *CredentialStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.live), nil
}

func (s *CredentialStore) BeginReplace(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staging = make(map[types.CardIdentity]struct{})
	return nil
}

func (s *CredentialStore) StageSortedBatch(_ context.Context, keys []types.CardIdentity) error {
	if err := store.CheckSorted(keys); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stageErr != nil {
		return fmt.Errorf("%w: stage: %w", store.ErrStorage, s.stageErr)
	}
	if s.staging == nil {
		return fmt.Errorf("%w: no replacement in progress", store.ErrStorage)
	}
	for _, k := range keys {
		s.staging[k] = struct{}{}
	}
	s.batches++
	return nil
}

func (s *CredentialStore) CommitReplace(_ context.Context, version []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.staging == nil {
		return 0, fmt.Errorf("%w: no replacement in progress", store.ErrStorage)
	}
	s.live = s.staging
	s.staging = nil
	s.version = append([]byte(nil), version...)
	return len(s.live), nil
}
