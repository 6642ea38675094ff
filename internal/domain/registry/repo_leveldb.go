package registry

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ehr/medledger/internal/platform/apperror"
	"github.com/ehr/medledger/internal/platform/kv"
)

const (
	entryBucket = "entry"
	countBucket = "entry-count"
	hashBucket  = "hash"
)

type registryRepoLevelDB struct{ store *kv.Store }

// NewRepoLevelDB returns a Repository over store. Callers serialize appends
// per patient; the service's key lock does this.
func NewRepoLevelDB(store *kv.Store) Repository {
	return &registryRepoLevelDB{store: store}
}

func (r *registryRepoLevelDB) entryKey(patientID string, index int) string {
	return kv.Key(entryBucket, patientID, kv.Seq(int64(index)))
}

func (r *registryRepoLevelDB) Append(ctx context.Context, e *Entry) error {
	taken, err := r.store.Has(kv.Key(hashBucket, e.ContentHash))
	if err != nil {
		return err
	}
	if taken {
		return apperror.Conflict(MsgHashExists)
	}
	n, err := r.Count(ctx, e.PatientID)
	if err != nil {
		return err
	}
	e.Index = n
	return r.store.Write(func(b *kv.Batch) error {
		if err := b.PutJSON(r.entryKey(e.PatientID, e.Index), e); err != nil {
			return err
		}
		if err := b.PutJSON(kv.Key(hashBucket, e.ContentHash), HashRef{PatientID: e.PatientID, Index: e.Index}); err != nil {
			return err
		}
		return b.PutJSON(kv.Key(countBucket, e.PatientID), n+1)
	})
}

func (r *registryRepoLevelDB) List(_ context.Context, patientID string) ([]*Entry, error) {
	var out []*Entry
	err := r.store.Scan(kv.Prefix(entryBucket, patientID), func(_ string, value []byte) error {
		var e Entry
		if err := json.Unmarshal(value, &e); err != nil {
			return err
		}
		out = append(out, &e)
		return nil
	})
	return out, err
}

func (r *registryRepoLevelDB) Get(_ context.Context, patientID string, index int) (*Entry, error) {
	if index < 0 {
		return nil, nil
	}
	var e Entry
	ok, err := r.store.GetJSON(r.entryKey(patientID, index), &e)
	if err != nil || !ok {
		return nil, err
	}
	return &e, nil
}

func (r *registryRepoLevelDB) Count(_ context.Context, patientID string) (int, error) {
	var n int
	_, err := r.store.GetJSON(kv.Key(countBucket, patientID), &n)
	return n, err
}

func (r *registryRepoLevelDB) SetActive(ctx context.Context, patientID string, index int, active bool) error {
	e, err := r.Get(ctx, patientID, index)
	if err != nil {
		return err
	}
	if e == nil {
		return fmt.Errorf("set active: no entry %s/%d", patientID, index)
	}
	e.Active = active
	return r.store.Write(func(b *kv.Batch) error {
		return b.PutJSON(r.entryKey(patientID, index), e)
	})
}

func (r *registryRepoLevelDB) LookupHash(_ context.Context, contentHash string) (*HashRef, error) {
	var ref HashRef
	ok, err := r.store.GetJSON(kv.Key(hashBucket, contentHash), &ref)
	if err != nil || !ok {
		return nil, err
	}
	return &ref, nil
}
