package audit

import "context"

// Repository is append-only: there is no way to change or remove an entry.
type Repository interface {
	// Append assigns e.Seq as the patient's next sequence number and stores e.
	Append(ctx context.Context, e *Entry) error
	// List returns the patient's entries matching f in insertion order.
	List(ctx context.Context, patientID string, f Filter) ([]*Entry, error)
	Count(ctx context.Context, patientID string) (int, error)
}
