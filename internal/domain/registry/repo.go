package registry

import "context"

// Repository stores per-patient entry sequences and the global hash index.
// Get and LookupHash return nil, nil when nothing matches.
type Repository interface {
	// Append stores e at index Count(e.PatientID) and reserves e.ContentHash
	// in one atomic write, setting e.Index. It fails with a Conflict error
	// when the hash is already reserved.
	Append(ctx context.Context, e *Entry) error
	List(ctx context.Context, patientID string) ([]*Entry, error)
	Get(ctx context.Context, patientID string, index int) (*Entry, error)
	Count(ctx context.Context, patientID string) (int, error)
	SetActive(ctx context.Context, patientID string, index int, active bool) error
	LookupHash(ctx context.Context, contentHash string) (*HashRef, error)
}
