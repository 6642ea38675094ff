package consent

import (
	"context"
	"sort"
	"sync"

	"github.com/ehr/medledger/internal/domain/access"
)

type pairKey struct {
	patient, provider access.Principal
}

type memRepo struct {
	mu      sync.RWMutex
	records map[pairKey]Record
}

func NewMemRepo() Repository {
	return &memRepo{records: make(map[pairKey]Record)}
}

func (m *memRepo) Get(_ context.Context, patient, provider access.Principal) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[pairKey{patient, provider}]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *memRepo) Put(_ context.Context, r *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[pairKey{r.Patient, r.Provider}] = *r
	return nil
}

func (m *memRepo) ListByPatient(_ context.Context, patient access.Principal) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Record
	for k, r := range m.records {
		if k.patient != patient {
			continue
		}
		r := r
		out = append(out, &r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out, nil
}
