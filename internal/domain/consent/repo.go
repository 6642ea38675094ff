package consent

import (
	"context"

	"github.com/ehr/medledger/internal/domain/access"
)

// Repository stores one record per (patient, provider) pair. Get returns
// nil, nil when the pair has no record.
type Repository interface {
	Get(ctx context.Context, patient, provider access.Principal) (*Record, error)
	Put(ctx context.Context, r *Record) error
	ListByPatient(ctx context.Context, patient access.Principal) ([]*Record, error)
}
