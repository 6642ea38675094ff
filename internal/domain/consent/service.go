package consent

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/medledger/internal/domain/access"
	"github.com/ehr/medledger/internal/platform/apperror"
	"github.com/ehr/medledger/internal/platform/events"
	"github.com/ehr/medledger/internal/platform/keylock"
)

const (
	MsgProviderRole    = "provider must have PROVIDER_ROLE"
	MsgConsentNotFound = "consent does not exist"
)

type Service struct {
	repo   Repository
	auth   access.Authorizer
	locks  *keylock.Locker
	pub    events.Publisher
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(repo Repository, auth access.Authorizer, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		auth:   auth,
		locks:  keylock.New(),
		pub:    events.Nop{},
		logger: logger.With().Str("component", "consent").Logger(),
		now:    time.Now,
	}
}

func (s *Service) SetPublisher(p events.Publisher) { s.pub = p }

func pairLockKey(patient, provider access.Principal) string {
	return "consent|" + string(patient) + "|" + string(provider)
}

// GrantConsent creates or fully replaces the caller's consent for provider.
func (s *Service) GrantConsent(ctx context.Context, caller, provider access.Principal, perms Permission, expiry int64) (*Record, error) {
	unlock := s.locks.Lock(pairLockKey(caller, provider))
	defer unlock()

	err := access.Check(ctx, s.auth,
		access.RequireNotPaused(),
		access.RequireRole(caller, access.RolePatient, access.MsgNotPatient),
		access.RequireNotNull(provider, "provider"),
		access.Require(provider != caller, apperror.InvalidArgument("cannot grant consent to self")),
		access.Require(perms != 0, apperror.InvalidArgument("permissions must not be zero")),
		access.Require(expiry >= 0, apperror.InvalidArgument("expiry must not be negative")),
		access.RequireRole(provider, access.RoleProvider, MsgProviderRole),
	)
	if err != nil {
		s.deny(caller, "grant consent", err)
		return nil, err
	}

	rec := &Record{
		Patient:     caller,
		Provider:    provider,
		Permissions: perms,
		Expiry:      expiry,
		Active:      true,
		GrantedAt:   s.now().Unix(),
	}
	if err := s.repo.Put(ctx, rec); err != nil {
		return nil, err
	}

	s.logger.Info().Str("patient", caller.String()).Str("provider", provider.String()).
		Uint32("permissions", uint32(perms)).Int64("expiry", expiry).Msg("consent granted")
	s.publish(ctx, events.Event{
		Kind:      events.ConsentGranted,
		Actor:     caller.String(),
		PatientID: caller.String(),
		Detail:    fmt.Sprintf("provider=%s permissions=%d expiry=%d", provider, perms, expiry),
	})
	return rec, nil
}

// RevokeConsent deactivates an existing record. Revoking an inactive record
// succeeds without change.
func (s *Service) RevokeConsent(ctx context.Context, caller, provider access.Principal) error {
	unlock := s.locks.Lock(pairLockKey(caller, provider))
	defer unlock()

	rec, err := s.existing(ctx, "revoke consent", caller, provider)
	if err != nil {
		return err
	}
	if !rec.Active {
		return nil
	}
	rec.Active = false
	if err := s.repo.Put(ctx, rec); err != nil {
		return err
	}

	s.logger.Info().Str("patient", caller.String()).Str("provider", provider.String()).Msg("consent revoked")
	s.publish(ctx, events.Event{
		Kind:      events.ConsentRevoked,
		Actor:     caller.String(),
		PatientID: caller.String(),
		Detail:    "provider=" + provider.String(),
	})
	return nil
}

// UpdatePermissions replaces the permission mask only; expiry and active
// state are kept.
func (s *Service) UpdatePermissions(ctx context.Context, caller, provider access.Principal, perms Permission) (*Record, error) {
	unlock := s.locks.Lock(pairLockKey(caller, provider))
	defer unlock()

	rec, err := s.existing(ctx, "update permissions", caller, provider)
	if err != nil {
		return nil, err
	}
	if perms == 0 {
		err := apperror.InvalidArgument("permissions must not be zero")
		s.deny(caller, "update permissions", err)
		return nil, err
	}
	rec.Permissions = perms
	if err := s.repo.Put(ctx, rec); err != nil {
		return nil, err
	}

	s.logger.Info().Str("patient", caller.String()).Str("provider", provider.String()).
		Uint32("permissions", uint32(perms)).Msg("consent permissions updated")
	s.publish(ctx, events.Event{
		Kind:      events.ConsentUpdated,
		Actor:     caller.String(),
		PatientID: caller.String(),
		Detail:    fmt.Sprintf("provider=%s permissions=%d", provider, perms),
	})
	return rec, nil
}

// existing runs the common revoke/update preconditions and loads the record.
func (s *Service) existing(ctx context.Context, op string, caller, provider access.Principal) (*Record, error) {
	err := access.Check(ctx, s.auth,
		access.RequireNotPaused(),
		access.RequireRole(caller, access.RolePatient, access.MsgNotPatient),
	)
	if err != nil {
		s.deny(caller, op, err)
		return nil, err
	}
	rec, err := s.repo.Get(ctx, caller, provider)
	if err != nil {
		return nil, err
	}
	if !rec.Exists() {
		err := apperror.NotFound(MsgConsentNotFound)
		s.deny(caller, op, err)
		return nil, err
	}
	return rec, nil
}

// CheckConsent reports whether provider's consent from patient is in force
// and grants any bit of perm.
func (s *Service) CheckConsent(ctx context.Context, patient, provider access.Principal, perm Permission) (bool, error) {
	rec, err := s.repo.Get(ctx, patient, provider)
	if err != nil {
		return false, err
	}
	if !rec.InForce(s.now().Unix()) {
		return false, nil
	}
	return rec.Permissions.Has(perm), nil
}

// GetConsent returns the stored record, or the zero record for the pair when
// none exists.
func (s *Service) GetConsent(ctx context.Context, patient, provider access.Principal) (*Record, error) {
	rec, err := s.repo.Get(ctx, patient, provider)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return &Record{Patient: patient, Provider: provider}, nil
	}
	return rec, nil
}

func (s *Service) ListByPatient(ctx context.Context, patient access.Principal) ([]*Record, error) {
	return s.repo.ListByPatient(ctx, patient)
}

func (s *Service) deny(caller access.Principal, op string, err error) {
	s.logger.Warn().Str("caller", caller.String()).Str("op", op).Err(err).Msg("mutation rejected")
}

func (s *Service) publish(ctx context.Context, ev events.Event) {
	ev.At = s.now().Unix()
	if err := s.pub.Publish(ctx, ev); err != nil {
		s.logger.Error().Err(err).Str("event", ev.Kind).Msg("event publish failed")
	}
}
