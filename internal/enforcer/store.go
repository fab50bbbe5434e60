package enforcer

import (
	"context"
	"sync"
)

// Store is the durable home of the tuple set. Persist replaces the whole
// set atomically; the engine never writes partial state.
type Store interface {
	LoadAll(ctx context.Context) (Snapshot, error)
	Persist(ctx context.Context, s Snapshot) error
}

// MemoryStore keeps tuples in process. Used for dev bring-up and tests.
type MemoryStore struct {
	mu   sync.Mutex
	snap Snapshot

	// FailPersist, when set, is returned by Persist without storing.
	FailPersist error
	// FailLoad, when set, is returned by LoadAll.
	FailLoad error
}

func NewMemoryStore(seed Snapshot) *MemoryStore {
	return &MemoryStore{snap: cloneSnapshot(seed)}
}

func (m *MemoryStore) LoadAll(context.Context) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailLoad != nil {
		return Snapshot{}, m.FailLoad
	}
	return cloneSnapshot(m.snap), nil
}

func (m *MemoryStore) Persist(_ context.Context, s Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailPersist != nil {
		return m.FailPersist
	}
	m.snap = cloneSnapshot(s)
	return nil
}

func cloneSnapshot(s Snapshot) Snapshot {
	return Snapshot{
		Policies:    append([]Policy(nil), s.Policies...),
		Assignments: append([]Assignment(nil), s.Assignments...),
	}
}
