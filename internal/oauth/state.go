package oauth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"warranty_auth/internal/lib/tokens"
	"warranty_auth/internal/models"
	"warranty_auth/internal/storage"
)

// StateStore keeps the CSRF state of an authorization request. Consume is single use.
type StateStore interface {
	Save(ctx context.Context, state string, provider models.Provider, ttl time.Duration) error
	Consume(ctx context.Context, state string) (models.Provider, error)
}

// * NewState генерирует непредсказуемое значение state
func NewState() (string, error) {
	return tokens.New()
}

type memoryState struct {
	provider  models.Provider
	expiresAt time.Time
}

// MemoryStateStore is the StateStore used when no Redis address is configured.
type MemoryStateStore struct {
	mu     sync.Mutex
	states map[string]memoryState
	now    func() time.Time
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{
		states: make(map[string]memoryState),
		now:    time.Now,
	}
}

func (s *MemoryStateStore) Save(_ context.Context, state string, provider models.Provider, ttl time.Duration) error {
	const op = "oauth.MemoryStateStore.Save"

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.purge(now)

	if _, ok := s.states[state]; ok {
		return fmt.Errorf("%s: state already exists", op)
	}

	s.states[state] = memoryState{
		provider:  provider,
		expiresAt: now.Add(ttl),
	}

	return nil
}

func (s *MemoryStateStore) Consume(_ context.Context, state string) (models.Provider, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[state]
	if !ok {
		return "", storage.ErrOAuthStateNotFound
	}
	delete(s.states, state)

	if st.expiresAt.Before(s.now()) {
		return "", storage.ErrOAuthStateNotFound
	}

	return st.provider, nil
}

func (s *MemoryStateStore) purge(now time.Time) {
	for k, st := range s.states {
		if st.expiresAt.Before(now) {
			delete(s.states, k)
		}
	}
}
