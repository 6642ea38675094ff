package access

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/medledger/internal/platform/apperror"
	"github.com/ehr/medledger/internal/platform/events"
	"github.com/ehr/medledger/internal/platform/keylock"
)

// roleTableKey serializes all role and pause mutations.
const roleTableKey = "access/roles"

type Service struct {
	repo   Repository
	locks  *keylock.Locker
	pub    events.Publisher
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		locks:  keylock.New(),
		pub:    events.Nop{},
		logger: logger.With().Str("component", "access").Logger(),
		now:    time.Now,
	}
}

func (s *Service) SetPublisher(p events.Publisher) { s.pub = p }

// Bootstrap assigns Admin to the genesis principal unless it already holds a
// role. It is safe to call on every start.
func (s *Service) Bootstrap(ctx context.Context, genesis Principal) error {
	if genesis.IsNull() {
		return apperror.InvalidArgument("genesis admin must not be the null principal")
	}
	unlock := s.locks.Lock(roleTableKey)
	defer unlock()

	role, err := s.repo.GetRole(ctx, genesis)
	if err != nil {
		return err
	}
	if role != RoleNone {
		return nil
	}
	if err := s.repo.SetRole(ctx, genesis, RoleAdmin, s.now()); err != nil {
		return err
	}
	s.logger.Info().Str("principal", genesis.String()).Msg("genesis admin assigned")
	return nil
}

func (s *Service) AssignRole(ctx context.Context, caller, target Principal, role Role) error {
	unlock := s.locks.Lock(roleTableKey)
	defer unlock()

	err := Check(ctx, s,
		RequireRole(caller, RoleAdmin, MsgNotAdmin),
		RequireNotPaused(),
		RequireNotNull(target, "target"),
		Require(role.Valid(), apperror.InvalidArgument("unknown role")),
	)
	if err != nil {
		s.deny(caller, "assign role", err)
		return err
	}
	if err := s.repo.SetRole(ctx, target, role, s.now()); err != nil {
		return err
	}
	s.logger.Info().Str("caller", caller.String()).Str("principal", target.String()).
		Str("role", role.String()).Msg("role assigned")
	s.publish(ctx, events.Event{Kind: events.RoleAssigned, Actor: caller.String(), Detail: target.String() + "=" + role.String()})
	return nil
}

func (s *Service) RevokeRole(ctx context.Context, caller, target Principal) error {
	unlock := s.locks.Lock(roleTableKey)
	defer unlock()

	err := Check(ctx, s,
		RequireRole(caller, RoleAdmin, MsgNotAdmin),
		RequireNotPaused(),
		RequireNotNull(target, "target"),
	)
	if err != nil {
		s.deny(caller, "revoke role", err)
		return err
	}
	if err := s.repo.SetRole(ctx, target, RoleNone, s.now()); err != nil {
		return err
	}
	s.logger.Info().Str("caller", caller.String()).Str("principal", target.String()).Msg("role revoked")
	s.publish(ctx, events.Event{Kind: events.RoleRevoked, Actor: caller.String(), Detail: target.String()})
	return nil
}

func (s *Service) GetUserRole(ctx context.Context, p Principal) (Role, error) {
	if p.IsNull() {
		return RoleNone, nil
	}
	return s.repo.GetRole(ctx, p)
}

func (s *Service) HasRole(ctx context.Context, p Principal, r Role) (bool, error) {
	got, err := s.GetUserRole(ctx, p)
	if err != nil {
		return false, err
	}
	return got == r, nil
}

func (s *Service) Paused(ctx context.Context) (bool, error) {
	return s.repo.IsPaused(ctx)
}

// Pause halts every mutating operation. Pausing twice is not an error.
func (s *Service) Pause(ctx context.Context, caller Principal) error {
	return s.setPaused(ctx, caller, true)
}

// Unpause is accepted while paused; it is the only mutation that is.
func (s *Service) Unpause(ctx context.Context, caller Principal) error {
	return s.setPaused(ctx, caller, false)
}

func (s *Service) setPaused(ctx context.Context, caller Principal, paused bool) error {
	unlock := s.locks.Lock(roleTableKey)
	defer unlock()

	if err := Check(ctx, s, RequireRole(caller, RoleAdmin, MsgNotAdmin)); err != nil {
		s.deny(caller, "set pause", err)
		return err
	}
	if err := s.repo.SetPaused(ctx, paused); err != nil {
		return err
	}
	kind := events.SystemUnpaused
	if paused {
		kind = events.SystemPaused
	}
	s.logger.Info().Str("caller", caller.String()).Bool("paused", paused).Msg("pause state changed")
	s.publish(ctx, events.Event{Kind: kind, Actor: caller.String()})
	return nil
}

func (s *Service) ListAssignments(ctx context.Context) ([]*Assignment, error) {
	return s.repo.ListAssignments(ctx)
}

func (s *Service) deny(caller Principal, op string, err error) {
	s.logger.Warn().Str("caller", caller.String()).Str("op", op).Err(err).Msg("mutation rejected")
}

func (s *Service) publish(ctx context.Context, ev events.Event) {
	ev.At = s.now().Unix()
	if err := s.pub.Publish(ctx, ev); err != nil {
		s.logger.Error().Err(err).Str("event", ev.Kind).Msg("event publish failed")
	}
}
