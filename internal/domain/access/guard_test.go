package access

import (
	"context"
	"errors"
	"testing"

	"github.com/ehr/medledger/internal/platform/apperror"
)

type stubAuthorizer struct {
	roles  map[Principal]Role
	paused bool
}

func (s stubAuthorizer) GetUserRole(_ context.Context, p Principal) (Role, error) {
	return s.roles[p], nil
}

func (s stubAuthorizer) HasRole(_ context.Context, p Principal, r Role) (bool, error) {
	return s.roles[p] == r, nil
}

func (s stubAuthorizer) Paused(context.Context) (bool, error) { return s.paused, nil }

func TestCheck_FirstFailureWins(t *testing.T) {
	auth := stubAuthorizer{roles: map[Principal]Role{"p": RolePatient}, paused: true}
	calls := 0
	counting := func(context.Context, Authorizer) error {
		calls++
		return nil
	}

	err := Check(context.Background(), auth,
		counting,
		RequireNotPaused(),
		counting,
	)
	if !errors.Is(err, apperror.ErrPaused) {
		t.Fatalf("expected Paused, got %v", err)
	}
	if calls != 1 {
		t.Errorf("guards after the failing one must not run, ran %d", calls)
	}
}

func TestGuards(t *testing.T) {
	auth := stubAuthorizer{roles: map[Principal]Role{"p": RolePatient}}
	ctx := context.Background()

	tests := []struct {
		name  string
		guard Guard
		want  error
	}{
		{"role held", RequireRole("p", RolePatient, MsgNotPatient), nil},
		{"role missing", RequireRole("p", RoleProvider, MsgNotProvider), apperror.ErrUnauthorized},
		{"any role held", RequireAnyRole("p"), nil},
		{"no role", RequireAnyRole("q"), apperror.ErrUnauthorized},
		{"not paused", RequireNotPaused(), nil},
		{"null principal", RequireNotNull("", "provider"), apperror.ErrInvalidArgument},
		{"non-null principal", RequireNotNull("p", "provider"), nil},
		{"condition false", Require(false, apperror.InvalidArgument("x")), apperror.ErrInvalidArgument},
		{"condition true", Require(true, apperror.InvalidArgument("x")), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Check(ctx, auth, tt.guard)
			if tt.want == nil && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestRequireRole_Message(t *testing.T) {
	err := Check(context.Background(), stubAuthorizer{}, RequireRole("x", RoleAdmin, MsgNotAdmin))
	if err == nil || err.Error() != "AccessControl: caller must be an admin" {
		t.Errorf("unexpected error %v", err)
	}
}
