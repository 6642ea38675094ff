package consent

import (
	"context"
	"encoding/json"

	"github.com/ehr/medledger/internal/domain/access"
	"github.com/ehr/medledger/internal/platform/kv"
)

const consentBucket = "consent"

type consentRepoLevelDB struct{ store *kv.Store }

func NewRepoLevelDB(store *kv.Store) Repository {
	return &consentRepoLevelDB{store: store}
}

func (r *consentRepoLevelDB) Get(_ context.Context, patient, provider access.Principal) (*Record, error) {
	var rec Record
	ok, err := r.store.GetJSON(kv.Key(consentBucket, string(patient), string(provider)), &rec)
	if err != nil || !ok {
		return nil, err
	}
	return &rec, nil
}

func (r *consentRepoLevelDB) Put(_ context.Context, rec *Record) error {
	return r.store.Write(func(b *kv.Batch) error {
		return b.PutJSON(kv.Key(consentBucket, string(rec.Patient), string(rec.Provider)), rec)
	})
}

// ListByPatient relies on key order to return records sorted by provider.
func (r *consentRepoLevelDB) ListByPatient(_ context.Context, patient access.Principal) ([]*Record, error) {
	var out []*Record
	err := r.store.Scan(kv.Prefix(consentBucket, string(patient)), func(_ string, value []byte) error {
		var rec Record
		if err := json.Unmarshal(value, &rec); err != nil {
			return err
		}
		out = append(out, &rec)
		return nil
	})
	return out, err
}
