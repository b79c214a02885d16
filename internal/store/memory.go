package store

import (
	"context"
	"sync"
	"time"

	"github.com/RoseVZ/Instalily-casestudy/internal/model"
)

// MemoryStore is an in-process Store used for development and tests.
// Each thread gets its own mutex so merges on one thread never block
// turns on another.
type MemoryStore struct {
	ttl          time.Duration
	historyLimit int

	mu      sync.Mutex
	entries map[string]*memoryEntry

	// now is swappable in tests.
	now func() time.Time
}

type memoryEntry struct {
	mu    sync.Mutex
	state model.ConversationState
}

// NewMemoryStore creates an in-memory conversation store.
func NewMemoryStore(ttl time.Duration, historyLimit int) *MemoryStore {
	return &MemoryStore{
		ttl:          ttl,
		historyLimit: historyLimit,
		entries:      make(map[string]*memoryEntry),
		now:          time.Now,
	}
}

func (s *MemoryStore) entry(threadID string, create bool) *memoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[threadID]
	if !ok && create {
		e = &memoryEntry{}
		s.entries[threadID] = e
	}
	return e
}

// Get returns the live state for a thread.
func (s *MemoryStore) Get(ctx context.Context, threadID string) (*model.ConversationState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e := s.entry(threadID, false)
	if e == nil {
		return nil, ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.ThreadID == "" || e.state.Expired(s.now()) {
		return nil, ErrNotFound
	}

	cp := e.state
	cp.History = append([]model.Turn(nil), e.state.History...)
	return &cp, nil
}

// Merge applies a read-modify-write update under the thread's lock.
func (s *MemoryStore) Merge(ctx context.Context, threadID string, req MergeRequest) (*model.ConversationState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e := s.entry(threadID, true)

	e.mu.Lock()
	defer e.mu.Unlock()

	now := s.now()
	if e.state.ThreadID == "" || e.state.Expired(now) {
		e.state = model.ConversationState{}
	}
	apply(&e.state, threadID, req, s.ttl, s.historyLimit, now)

	cp := e.state
	cp.History = append([]model.Turn(nil), e.state.History...)
	return &cp, nil
}

// Sweep drops expired entries. The store works without it (expired reads are
// treated as absent); callers may run it periodically to cap memory.
func (s *MemoryStore) Sweep() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, e := range s.entries {
		e.mu.Lock()
		expired := e.state.Expired(now)
		e.mu.Unlock()
		if expired {
			delete(s.entries, id)
			removed++
		}
	}
	return removed
}
