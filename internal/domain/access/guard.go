package access

import (
	"context"

	"github.com/ehr/medledger/internal/platform/apperror"
)

// Denial messages shared by every component that checks roles.
const (
	MsgNotAdmin    = "AccessControl: caller must be an admin"
	MsgNotPatient  = "AccessControl: caller must be a patient"
	MsgNotProvider = "AccessControl: caller must be a provider"
	MsgNoRole      = "caller has no role"
)

// Authorizer is the read-only view of the role table and pause switch that
// the other ledger components depend on.
type Authorizer interface {
	GetUserRole(ctx context.Context, p Principal) (Role, error)
	HasRole(ctx context.Context, p Principal, r Role) (bool, error)
	Paused(ctx context.Context) (bool, error)
}

// Guard is a precondition evaluated before a mutation.
type Guard func(ctx context.Context, auth Authorizer) error

// Check runs guards in order and returns the first failure.
func Check(ctx context.Context, auth Authorizer, guards ...Guard) error {
	for _, g := range guards {
		if err := g(ctx, auth); err != nil {
			return err
		}
	}
	return nil
}

// RequireNotPaused fails with Paused while the system is halted.
func RequireNotPaused() Guard {
	return func(ctx context.Context, auth Authorizer) error {
		paused, err := auth.Paused(ctx)
		if err != nil {
			return err
		}
		if paused {
			return apperror.Paused()
		}
		return nil
	}
}

// RequireRole fails with Unauthorized(msg) unless p holds role.
func RequireRole(p Principal, role Role, msg string) Guard {
	return func(ctx context.Context, auth Authorizer) error {
		ok, err := auth.HasRole(ctx, p, role)
		if err != nil {
			return err
		}
		if !ok {
			return apperror.Unauthorized(msg)
		}
		return nil
	}
}

// RequireAnyRole fails unless p holds some role other than RoleNone.
func RequireAnyRole(p Principal) Guard {
	return func(ctx context.Context, auth Authorizer) error {
		r, err := auth.GetUserRole(ctx, p)
		if err != nil {
			return err
		}
		if r == RoleNone {
			return apperror.Unauthorized(MsgNoRole)
		}
		return nil
	}
}

// RequireNotNull fails with InvalidArgument when p is the null principal.
func RequireNotNull(p Principal, what string) Guard {
	return func(context.Context, Authorizer) error {
		if p.IsNull() {
			return apperror.InvalidArgument(what + " must not be the null principal")
		}
		return nil
	}
}

// Require turns a plain condition into a guard failing with err.
func Require(cond bool, err error) Guard {
	return func(context.Context, Authorizer) error {
		if !cond {
			return err
		}
		return nil
	}
}
