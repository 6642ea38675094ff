package access

import (
	"context"
	"time"
)

// Repository persists the role table and the pause switch. A principal that
// was never assigned reads as RoleNone; revocation stores RoleNone rather
// than removing the row.
type Repository interface {
	GetRole(ctx context.Context, p Principal) (Role, error)
	SetRole(ctx context.Context, p Principal, r Role, at time.Time) error
	ListAssignments(ctx context.Context) ([]*Assignment, error)
	IsPaused(ctx context.Context) (bool, error)
	SetPaused(ctx context.Context, paused bool) error
}
