package pipeline

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store with the same compare-and-swap semantics
// as the Postgres implementation. Used by tests and the validate command.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
	events  []Event
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func key(jobID, candidateID string) string { return jobID + "\x00" + candidateID }

func (m *MemoryStore) Create(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(rec.JobID, rec.CandidateID)
	if _, ok := m.records[k]; ok {
		return ErrAlreadyExists
	}
	m.records[k] = rec
	return nil
}

func (m *MemoryStore) Get(_ context.Context, jobID, candidateID string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key(jobID, candidateID)]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (m *MemoryStore) Commit(_ context.Context, rec Record, expectState State, expectUpdatedAt time.Time, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(rec.JobID, rec.CandidateID)
	cur, ok := m.records[k]
	if !ok {
		return ErrNotFound
	}
	if cur.State != expectState || !cur.UpdatedAt.Equal(expectUpdatedAt) {
		return &StaleRecordError{JobID: rec.JobID, CandidateID: rec.CandidateID, Expected: expectState}
	}
	m.records[k] = rec
	m.events = append(m.events, ev)
	return nil
}

func (m *MemoryStore) ListEvents(_ context.Context, jobID, candidateID string) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, ev := range m.events {
		if ev.JobID == jobID && ev.CandidateID == candidateID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *MemoryStore) MarkEventSynced(_ context.Context, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.events {
		if m.events[i].ID == eventID {
			m.events[i].Synced = true
			return nil
		}
	}
	return ErrNotFound
}

func (m *MemoryStore) ListUnsyncedEvents(_ context.Context, limit int) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, ev := range m.events {
		if !ev.Synced {
			out = append(out, ev)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}
