// Package events carries ledger state changes to interested consumers after
// they commit. Publishing is best effort: a failed publish never rolls back
// the mutation that produced the event.
package events

import (
	"context"
	"errors"
)

// Event kinds emitted by the ledger services.
const (
	RoleAssigned     = "role.assigned"
	RoleRevoked      = "role.revoked"
	SystemPaused     = "system.paused"
	SystemUnpaused   = "system.unpaused"
	ConsentGranted   = "consent.granted"
	ConsentRevoked   = "consent.revoked"
	ConsentUpdated   = "consent.updated"
	DataRegistered   = "data.registered"
	DataDeactivated  = "data.deactivated"
	AuditEntryLogged = "audit.logged"
)

// Event describes one committed state change.
type Event struct {
	Kind      string `json:"kind"`
	Actor     string `json:"actor"`
	PatientID string `json:"patient_id,omitempty"`
	DataHash  string `json:"data_hash,omitempty"`
	Detail    string `json:"detail,omitempty"`
	At        int64  `json:"at"`
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Multi fans an event out to every publisher. All publishers are tried; their
// errors are joined.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, ev Event) error

func (f PublisherFunc) Publish(ctx context.Context, ev Event) error { return f(ctx, ev) }
