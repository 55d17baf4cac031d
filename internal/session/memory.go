package session

import (
	"context"
	"sync"
	"time"
)

// memoryEntry is a stored record with expiration.
type memoryEntry struct {
	state      State
	expiration time.Time
}

// MemoryStore implements Store using in-memory storage. Suitable for tests
// and single-node deployments.
type MemoryStore struct {
	data    sync.Map
	cleanup *time.Ticker
	done    chan struct{}
	mu      sync.Mutex
	closed  bool
}

// NewMemoryStore creates a new in-memory store with a one minute cleanup interval.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithCleanupInterval(time.Minute)
}

// NewMemoryStoreWithCleanupInterval creates a new in-memory store with a
// custom cleanup interval.
func NewMemoryStoreWithCleanupInterval(interval time.Duration) *MemoryStore {
	s := &MemoryStore{
		cleanup: time.NewTicker(interval),
		done:    make(chan struct{}),
	}

	go s.startCleanup()

	return s
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, id string) (State, error) {
	if err := ctx.Err(); err != nil {
		return State{}, err
	}

	value, ok := s.data.Load(id)
	if !ok {
		return State{}, ErrNotFound
	}

	e := value.(*memoryEntry)

	if !e.expiration.IsZero() && time.Now().After(e.expiration) {
		s.data.Delete(id)
		return State{}, ErrNotFound
	}

	return e.state, nil
}

// Save implements Store.
func (s *MemoryStore) Save(ctx context.Context, id string, state State, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}

	s.data.Store(id, &memoryEntry{state: state, expiration: exp})
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.data.Delete(id)
	return nil
}

// Close implements Store. Close is idempotent.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	s.cleanup.Stop()
	close(s.done)
	return nil
}

// startCleanup periodically removes expired records.
func (s *MemoryStore) startCleanup() {
	for {
		select {
		case <-s.done:
			return
		case <-s.cleanup.C:
			now := time.Now()
			s.data.Range(func(key, value any) bool {
				e := value.(*memoryEntry)
				if !e.expiration.IsZero() && now.After(e.expiration) {
					s.data.Delete(key)
				}
				return true
			})
		}
	}
}
