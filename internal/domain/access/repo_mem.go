package access

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memRepo struct {
	mu     sync.RWMutex
	roles  map[Principal]*Assignment
	paused bool
}

// NewMemRepo returns an in-process Repository.
func NewMemRepo() Repository {
	return &memRepo{roles: make(map[Principal]*Assignment)}
}

func (m *memRepo) GetRole(_ context.Context, p Principal) (Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if a, ok := m.roles[p]; ok {
		return a.Role, nil
	}
	return RoleNone, nil
}

func (m *memRepo) SetRole(_ context.Context, p Principal, r Role, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roles[p] = &Assignment{Principal: p, Role: r, UpdatedAt: at}
	return nil
}

func (m *memRepo) ListAssignments(_ context.Context) ([]*Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Assignment, 0, len(m.roles))
	for _, a := range m.roles {
		if a.Role == RoleNone {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Principal < out[j].Principal })
	return out, nil
}

func (m *memRepo) IsPaused(_ context.Context) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paused, nil
}

func (m *memRepo) SetPaused(_ context.Context, paused bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused = paused
	return nil
}
