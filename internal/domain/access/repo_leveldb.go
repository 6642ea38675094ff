package access

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/ehr/medledger/internal/platform/kv"
)

const (
	roleBucket  = "role"
	stateBucket = "state"
)

type pauseState struct {
	Paused bool `json:"paused"`
}

type accessRepoLevelDB struct{ store *kv.Store }

func NewRepoLevelDB(store *kv.Store) Repository {
	return &accessRepoLevelDB{store: store}
}

func (r *accessRepoLevelDB) GetRole(_ context.Context, p Principal) (Role, error) {
	var a Assignment
	ok, err := r.store.GetJSON(kv.Key(roleBucket, string(p)), &a)
	if err != nil || !ok {
		return RoleNone, err
	}
	return a.Role, nil
}

func (r *accessRepoLevelDB) SetRole(_ context.Context, p Principal, role Role, at time.Time) error {
	return r.store.Write(func(b *kv.Batch) error {
		return b.PutJSON(kv.Key(roleBucket, string(p)), Assignment{Principal: p, Role: role, UpdatedAt: at})
	})
}

func (r *accessRepoLevelDB) ListAssignments(_ context.Context) ([]*Assignment, error) {
	var out []*Assignment
	err := r.store.Scan(kv.Prefix(roleBucket), func(_ string, value []byte) error {
		var a Assignment
		if err := json.Unmarshal(value, &a); err != nil {
			return err
		}
		if a.Role != RoleNone {
			out = append(out, &a)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Principal < out[j].Principal })
	return out, nil
}

func (r *accessRepoLevelDB) IsPaused(_ context.Context) (bool, error) {
	var st pauseState
	_, err := r.store.GetJSON(kv.Key(stateBucket, "pause"), &st)
	return st.Paused, err
}

func (r *accessRepoLevelDB) SetPaused(_ context.Context, paused bool) error {
	return r.store.Write(func(b *kv.Batch) error {
		return b.PutJSON(kv.Key(stateBucket, "pause"), pauseState{Paused: paused})
	})
}
