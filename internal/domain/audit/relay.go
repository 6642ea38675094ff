package audit

import (
	"context"

	"github.com/ehr/medledger/internal/domain/access"
	"github.com/ehr/medledger/internal/platform/events"
)

var relayedKinds = map[string]ActionType{
	events.DataRegistered:  ActionRegister,
	events.DataDeactivated: ActionDeactivate,
	events.ConsentGranted:  ActionShare,
	events.ConsentRevoked:  ActionRevoke,
	events.ConsentUpdated:  ActionUpdate,
}

// Relay writes registry and consent events into the audit trail, logged as
// the principal that caused them. Other kinds are ignored.
type Relay struct {
	svc *Service
}

func NewRelay(svc *Service) *Relay {
	return &Relay{svc: svc}
}

func (r *Relay) Publish(ctx context.Context, ev events.Event) error {
	action, ok := relayedKinds[ev.Kind]
	if !ok || ev.PatientID == "" {
		return nil
	}
	_, err := r.svc.LogAccess(ctx, access.Principal(ev.Actor), ev.PatientID, ev.DataHash, action, ev.Detail)
	return err
}
