package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/ehr/medledger/internal/platform/apperror"
)

type memRepo struct {
	mu      sync.RWMutex
	entries map[string][]Entry
	hashes  map[string]HashRef
}

func NewMemRepo() Repository {
	return &memRepo{
		entries: make(map[string][]Entry),
		hashes:  make(map[string]HashRef),
	}
}

func (m *memRepo) Append(_ context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.hashes[e.ContentHash]; ok {
		return apperror.Conflict(MsgHashExists)
	}
	e.Index = len(m.entries[e.PatientID])
	m.entries[e.PatientID] = append(m.entries[e.PatientID], *e)
	m.hashes[e.ContentHash] = HashRef{PatientID: e.PatientID, Index: e.Index}
	return nil
}

func (m *memRepo) List(_ context.Context, patientID string) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seq := m.entries[patientID]
	out := make([]*Entry, len(seq))
	for i := range seq {
		e := seq[i]
		out[i] = &e
	}
	return out, nil
}

func (m *memRepo) Get(_ context.Context, patientID string, index int) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seq := m.entries[patientID]
	if index < 0 || index >= len(seq) {
		return nil, nil
	}
	e := seq[index]
	return &e, nil
}

func (m *memRepo) Count(_ context.Context, patientID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries[patientID]), nil
}

func (m *memRepo) SetActive(_ context.Context, patientID string, index int, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	seq := m.entries[patientID]
	if index < 0 || index >= len(seq) {
		return fmt.Errorf("set active: no entry %s/%d", patientID, index)
	}
	seq[index].Active = active
	return nil
}

func (m *memRepo) LookupHash(_ context.Context, contentHash string) (*HashRef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ref, ok := m.hashes[contentHash]
	if !ok {
		return nil, nil
	}
	return &ref, nil
}
