package roomstate

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps room state in process. Suitable for single-instance
// deployments and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	states  map[string]State
	members map[string]map[string]struct{}
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states:  make(map[string]State),
		members: make(map[string]map[string]struct{}),
	}
}

// Get returns the room state, or the defaults for an unknown room.
func (s *MemoryStore) Get(_ context.Context, roomID string) (State, error) {
	if roomID == "" {
		return State{}, ErrInvalidRoomID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[roomID]
	if !ok {
		return defaultState(), nil
	}
	return st, nil
}

// Update applies the fields set in u and returns the merged state.
func (s *MemoryStore) Update(_ context.Context, roomID string, u Update) (State, error) {
	if roomID == "" {
		return State{}, ErrInvalidRoomID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.states[roomID]
	if !ok {
		cur = defaultState()
	}
	next := u.apply(cur)
	s.states[roomID] = next
	return next, nil
}

// AddMember records connectionID as present in the room.
func (s *MemoryStore) AddMember(_ context.Context, roomID, connectionID string) error {
	if roomID == "" {
		return ErrInvalidRoomID
	}
	if connectionID == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.members[roomID]
	if !ok {
		set = make(map[string]struct{})
		s.members[roomID] = set
	}
	set[connectionID] = struct{}{}
	return nil
}

// RemoveMember forgets connectionID. Empty rooms are dropped.
func (s *MemoryStore) RemoveMember(_ context.Context, roomID, connectionID string) error {
	if roomID == "" {
		return ErrInvalidRoomID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.members[roomID]
	if !ok {
		return nil
	}
	delete(set, connectionID)
	if len(set) == 0 {
		delete(s.members, roomID)
	}
	return nil
}

// Members returns the room's connection ids in sorted order.
func (s *MemoryStore) Members(_ context.Context, roomID string) ([]string, error) {
	if roomID == "" {
		return nil, ErrInvalidRoomID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.members[roomID]))
	for id := range s.members[roomID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
