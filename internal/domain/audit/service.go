package audit

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/medledger/internal/domain/access"
	"github.com/ehr/medledger/internal/platform/apperror"
	"github.com/ehr/medledger/internal/platform/events"
	"github.com/ehr/medledger/internal/platform/keylock"
)

const MsgInvalidAction = "invalid action type"

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
		logger: logger.With().Str("component", "audit").Logger(),
		now:    time.Now,
	}
}

func (s *Service) SetPublisher(p events.Publisher) { s.pub = p }

// LogAccess appends an entry to the patient's trail. Any principal holding a
// role may log.
func (s *Service) LogAccess(ctx context.Context, caller access.Principal, patientID, dataHash string, action ActionType, description string) (*Entry, error) {
	if !action.Valid() {
		err := apperror.InvalidArgument(MsgInvalidAction)
		s.deny(caller, "log access", err)
		return nil, err
	}

	unlock := s.locks.Lock("audit|" + patientID)
	defer unlock()

	err := access.Check(ctx, s.auth,
		access.RequireNotPaused(),
		access.RequireAnyRole(caller),
		access.Require(strings.TrimSpace(patientID) != "", apperror.InvalidArgument("patient id is required")),
	)
	if err != nil {
		s.deny(caller, "log access", err)
		return nil, err
	}

	e := &Entry{
		ID:          uuid.New(),
		PatientID:   patientID,
		Accessor:    caller,
		DataHash:    dataHash,
		ActionType:  action,
		Description: description,
		Timestamp:   s.now().Unix(),
	}
	if err := s.repo.Append(ctx, e); err != nil {
		return nil, err
	}

	s.logger.Info().Str("patient_id", patientID).Int64("seq", e.Seq).
		Str("accessor", caller.String()).Str("action", action.String()).Msg("audit entry logged")
	ev := events.Event{
		Kind:      events.AuditEntryLogged,
		Actor:     caller.String(),
		PatientID: patientID,
		DataHash:  dataHash,
		Detail:    action.String(),
		At:        e.Timestamp,
	}
	if err := s.pub.Publish(ctx, ev); err != nil {
		s.logger.Error().Err(err).Str("event", ev.Kind).Msg("event publish failed")
	}
	return e, nil
}

// GetAuditTrail returns every entry for the patient in insertion order.
func (s *Service) GetAuditTrail(ctx context.Context, patientID string) ([]*Entry, error) {
	return s.repo.List(ctx, patientID, Filter{})
}

// GetAuditTrailByTimeRange returns the entries with start <= timestamp <= end.
func (s *Service) GetAuditTrailByTimeRange(ctx context.Context, patientID string, start, end int64) ([]*Entry, error) {
	return s.repo.List(ctx, patientID, Filter{Start: &start, End: &end})
}

func (s *Service) GetAuditTrailByActionType(ctx context.Context, patientID string, action ActionType) ([]*Entry, error) {
	if !action.Valid() {
		return nil, apperror.InvalidArgument(MsgInvalidAction)
	}
	return s.repo.List(ctx, patientID, Filter{Action: action})
}

// Search applies an arbitrary filter.
func (s *Service) Search(ctx context.Context, patientID string, f Filter) ([]*Entry, error) {
	if f.Action != 0 && !f.Action.Valid() {
		return nil, apperror.InvalidArgument(MsgInvalidAction)
	}
	return s.repo.List(ctx, patientID, f)
}

func (s *Service) GetAuditTrailCount(ctx context.Context, patientID string) (int, error) {
	return s.repo.Count(ctx, patientID)
}

func (s *Service) deny(caller access.Principal, op string, err error) {
	s.logger.Warn().Str("caller", caller.String()).Str("op", op).Err(err).Msg("mutation rejected")
}
