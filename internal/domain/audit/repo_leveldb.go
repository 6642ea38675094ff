package audit

import (
	"context"
	"encoding/json"

	"github.com/ehr/medledger/internal/platform/kv"
)

const (
	auditBucket      = "audit"
	auditCountBucket = "audit-count"
)

type auditRepoLevelDB struct{ store *kv.Store }

// NewRepoLevelDB returns a Repository over store. Appends for one patient
// must be serialized by the caller.
func NewRepoLevelDB(store *kv.Store) Repository {
	return &auditRepoLevelDB{store: store}
}

func (r *auditRepoLevelDB) Append(ctx context.Context, e *Entry) error {
	n, err := r.Count(ctx, e.PatientID)
	if err != nil {
		return err
	}
	e.Seq = int64(n) + 1
	return r.store.Write(func(b *kv.Batch) error {
		if err := b.PutJSON(kv.Key(auditBucket, e.PatientID, kv.Seq(e.Seq)), e); err != nil {
			return err
		}
		return b.PutJSON(kv.Key(auditCountBucket, e.PatientID), n+1)
	})
}

func (r *auditRepoLevelDB) List(_ context.Context, patientID string, f Filter) ([]*Entry, error) {
	var out []*Entry
	err := r.store.Scan(kv.Prefix(auditBucket, patientID), func(_ string, value []byte) error {
		var e Entry
		if err := json.Unmarshal(value, &e); err != nil {
			return err
		}
		if f.Match(&e) {
			out = append(out, &e)
		}
		return nil
	})
	return out, err
}

func (r *auditRepoLevelDB) Count(_ context.Context, patientID string) (int, error) {
	var n int
	_, err := r.store.GetJSON(kv.Key(auditCountBucket, patientID), &n)
	return n, err
}
