package registry

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
	MsgHashExists    = "hash already exists"
	MsgEntryNotFound = "data entry does not exist"
	MsgNotRegistrant = "caller is not the registrant"
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
		logger: logger.With().Str("component", "registry").Logger(),
		now:    time.Now,
	}
}

func (s *Service) SetPublisher(p events.Publisher) { s.pub = p }

func patientLockKey(patientID string) string { return "registry|patient|" + patientID }
func hashLockKey(hash string) string         { return "registry|hash|" + hash }

// RegisterData appends a new active entry for patientID. The content hash
// must not be registered anywhere, for any patient.
func (s *Service) RegisterData(ctx context.Context, caller access.Principal, contentHash, storagePointer, patientID string) (*Entry, error) {
	hash := NormalizeHash(contentHash)
	unlock := s.locks.Lock(patientLockKey(patientID), hashLockKey(hash))
	defer unlock()

	err := access.Check(ctx, s.auth,
		access.RequireNotPaused(),
		access.RequireRole(caller, access.RoleProvider, access.MsgNotProvider),
		access.Require(patientID != "", apperror.InvalidArgument("patient id is required")),
		access.Require(hash != "", apperror.InvalidArgument("content hash is required")),
	)
	if err != nil {
		s.deny(caller, "register data", err)
		return nil, err
	}
	ref, err := s.repo.LookupHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	if ref != nil {
		err := apperror.Conflict(MsgHashExists)
		s.deny(caller, "register data", err)
		return nil, err
	}

	e := &Entry{
		PatientID:      patientID,
		ContentHash:    hash,
		StoragePointer: storagePointer,
		Registrant:     caller,
		RegisteredAt:   s.now().Unix(),
		Active:         true,
	}
	if err := s.repo.Append(ctx, e); err != nil {
		return nil, err
	}

	s.logger.Info().Str("patient_id", patientID).Int("index", e.Index).
		Str("registrant", caller.String()).Str("hash", hash).Msg("data registered")
	s.publish(ctx, events.Event{
		Kind:      events.DataRegistered,
		Actor:     caller.String(),
		PatientID: patientID,
		DataHash:  hash,
		Detail:    fmt.Sprintf("index=%d pointer=%s", e.Index, storagePointer),
	})
	return e, nil
}

// DeactivateDataEntry marks an entry inactive. Its hash stays reserved.
// Deactivating an inactive entry succeeds without change.
func (s *Service) DeactivateDataEntry(ctx context.Context, caller access.Principal, patientID string, index int) error {
	unlock := s.locks.Lock(patientLockKey(patientID))
	defer unlock()

	if err := access.Check(ctx, s.auth, access.RequireNotPaused()); err != nil {
		s.deny(caller, "deactivate data", err)
		return err
	}
	e, err := s.repo.Get(ctx, patientID, index)
	if err != nil {
		return err
	}
	if e == nil {
		err := apperror.NotFound(MsgEntryNotFound)
		s.deny(caller, "deactivate data", err)
		return err
	}
	if e.Registrant != caller {
		err := apperror.Unauthorized(MsgNotRegistrant)
		s.deny(caller, "deactivate data", err)
		return err
	}
	if !e.Active {
		return nil
	}
	if err := s.repo.SetActive(ctx, patientID, index, false); err != nil {
		return err
	}

	s.logger.Info().Str("patient_id", patientID).Int("index", index).
		Str("caller", caller.String()).Msg("data entry deactivated")
	s.publish(ctx, events.Event{
		Kind:      events.DataDeactivated,
		Actor:     caller.String(),
		PatientID: patientID,
		DataHash:  e.ContentHash,
		Detail:    fmt.Sprintf("index=%d", index),
	})
	return nil
}

// GetDataEntries returns the patient's whole sequence, inactive entries included.
func (s *Service) GetDataEntries(ctx context.Context, patientID string) ([]*Entry, error) {
	return s.repo.List(ctx, patientID)
}

func (s *Service) GetDataEntry(ctx context.Context, patientID string, index int) (*Entry, error) {
	e, err := s.repo.Get(ctx, patientID, index)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, apperror.NotFound(MsgEntryNotFound)
	}
	return e, nil
}

func (s *Service) GetDataEntryCount(ctx context.Context, patientID string) (int, error) {
	return s.repo.Count(ctx, patientID)
}

// VerifyIntegrity reports whether an active entry of patientID carries contentHash.
func (s *Service) VerifyIntegrity(ctx context.Context, patientID, contentHash string) (bool, error) {
	ref, err := s.repo.LookupHash(ctx, NormalizeHash(contentHash))
	if err != nil || ref == nil || ref.PatientID != patientID {
		return false, err
	}
	e, err := s.repo.Get(ctx, ref.PatientID, ref.Index)
	if err != nil || e == nil {
		return false, err
	}
	return e.Active, nil
}

// LookupHash returns where contentHash is reserved.
func (s *Service) LookupHash(ctx context.Context, contentHash string) (*HashRef, error) {
	ref, err := s.repo.LookupHash(ctx, NormalizeHash(contentHash))
	if err != nil {
		return nil, err
	}
	if ref == nil {
		return nil, apperror.NotFound("hash is not registered")
	}
	return ref, nil
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
