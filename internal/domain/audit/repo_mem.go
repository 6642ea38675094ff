package audit

import (
	"context"
	"sync"
)

type memRepo struct {
	mu     sync.RWMutex
	trails map[string][]Entry
}

func NewMemRepo() Repository {
	return &memRepo{trails: make(map[string][]Entry)}
}

func (m *memRepo) Append(_ context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.Seq = int64(len(m.trails[e.PatientID])) + 1
	m.trails[e.PatientID] = append(m.trails[e.PatientID], *e)
	return nil
}

func (m *memRepo) List(_ context.Context, patientID string, f Filter) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Entry
	for i := range m.trails[patientID] {
		e := m.trails[patientID][i]
		if f.Match(&e) {
			out = append(out, &e)
		}
	}
	return out, nil
}

func (m *memRepo) Count(_ context.Context, patientID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.trails[patientID]), nil
}
