package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/medledger/internal/domain/access"
	"github.com/ehr/medledger/internal/platform/apperror"
	"github.com/ehr/medledger/internal/platform/events"
)

const (
	admin     access.Principal = "0xadmin"
	patient   access.Principal = "0xpatient"
	provider  access.Principal = "0xprovider"
	provider2 access.Principal = "0xprovider2"

	hashA = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	hashB = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingPublisher) Publish(_ context.Context, ev events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func newACL(t *testing.T) *access.Service {
	t.Helper()
	ctx := context.Background()
	acl := access.NewService(access.NewMemRepo(), zerolog.Nop())
	if err := acl.Bootstrap(ctx, admin); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	acl.AssignRole(ctx, admin, patient, access.RolePatient)
	acl.AssignRole(ctx, admin, provider, access.RoleProvider)
	acl.AssignRole(ctx, admin, provider2, access.RoleProvider)
	return acl
}

func newTestService(t *testing.T, repo Repository) (*Service, *access.Service, *recordingPublisher) {
	t.Helper()
	acl := newACL(t)
	svc := NewService(repo, acl, zerolog.Nop())
	svc.now = func() time.Time { return time.Unix(1700000000, 0) }
	pub := &recordingPublisher{}
	svc.SetPublisher(pub)
	return svc, acl, pub
}

func TestRegisterData(t *testing.T) {
	ctx := context.Background()
	svc, _, pub := newTestService(t, NewMemRepo())

	e, err := svc.RegisterData(ctx, provider, hashA, "ipfs://a", "X1")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if e.Index != 0 || !e.Active || e.Registrant != provider || e.RegisteredAt != 1700000000 {
		t.Errorf("unexpected entry %+v", e)
	}
	e2, _ := svc.RegisterData(ctx, provider2, hashB, "ipfs://b", "X1")
	if e2.Index != 1 {
		t.Errorf("expected index 1, got %d", e2.Index)
	}

	n, _ := svc.GetDataEntryCount(ctx, "X1")
	if n != 2 {
		t.Errorf("expected 2 entries, got %d", n)
	}
	if len(pub.events) != 2 || pub.events[0].Kind != events.DataRegistered || pub.events[0].DataHash != hashA {
		t.Errorf("unexpected events %+v", pub.events)
	}
}

func TestRegisterData_Errors(t *testing.T) {
	tests := []struct {
		name    string
		caller  access.Principal
		hash    string
		patient string
		pause   bool
		want    error
		msg     string
	}{
		{"paused", provider, hashA, "X1", true, apperror.ErrPaused, "Pausable: paused"},
		{"patient caller", patient, hashA, "X1", false, apperror.ErrUnauthorized, access.MsgNotProvider},
		{"admin caller", admin, hashA, "X1", false, apperror.ErrUnauthorized, access.MsgNotProvider},
		{"empty patient", provider, hashA, "", false, apperror.ErrInvalidArgument, ""},
		{"empty hash", provider, " 0x ", "X1", false, apperror.ErrInvalidArgument, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			svc, acl, _ := newTestService(t, NewMemRepo())
			if tt.pause {
				acl.Pause(ctx, admin)
			}
			_, err := svc.RegisterData(ctx, tt.caller, tt.hash, "ipfs://a", tt.patient)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if tt.msg != "" && err.Error() != tt.msg {
				t.Errorf("expected %q, got %q", tt.msg, err.Error())
			}
			if n, _ := svc.GetDataEntryCount(ctx, "X1"); n != 0 {
				t.Errorf("rejected register changed state: %d entries", n)
			}
		})
	}
}

func TestRegisterData_DuplicateHashAcrossPatients(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t, NewMemRepo())

	if _, err := svc.RegisterData(ctx, provider, hashA, "ipfs://a", "X1"); err != nil {
		t.Fatalf("register: %v", err)
	}
	for _, h := range []string{hashA, "0x" + hashA, "  " + hashA + "\n", "0X" + hashA} {
		_, err := svc.RegisterData(ctx, provider2, h, "ipfs://dup", "X2")
		if !errors.Is(err, apperror.ErrConflict) || err.Error() != MsgHashExists {
			t.Errorf("hash %q: expected Conflict %q, got %v", h, MsgHashExists, err)
		}
	}
	if n, _ := svc.GetDataEntryCount(ctx, "X2"); n != 0 {
		t.Errorf("duplicate must not append, got %d", n)
	}
}

func TestRegisterData_HashStaysReservedAfterDeactivate(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t, NewMemRepo())

	svc.RegisterData(ctx, provider, hashA, "ipfs://a", "X1")
	if err := svc.DeactivateDataEntry(ctx, provider, "X1", 0); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := svc.RegisterData(ctx, provider, hashA, "ipfs://a2", "X1"); !errors.Is(err, apperror.ErrConflict) {
		t.Errorf("expected Conflict after deactivate, got %v", err)
	}
}

func TestRegisterData_ConcurrentSameHash(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t, NewMemRepo())

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.RegisterData(ctx, provider, hashA, "ipfs://a", fmt.Sprintf("X%d", i%3))
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	if wins != 1 {
		t.Errorf("expected exactly one registration to win, got %d", wins)
	}
}

func TestRegisterData_ConcurrentIndexesAreDense(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t, NewMemRepo())

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			svc.RegisterData(ctx, provider, fmt.Sprintf("%064x", i+1), "ipfs://x", "X1")
		}(i)
	}
	wg.Wait()

	entries, _ := svc.GetDataEntries(ctx, "X1")
	if len(entries) != 25 {
		t.Fatalf("expected 25 entries, got %d", len(entries))
	}
	for i, e := range entries {
		if e.Index != i {
			t.Errorf("position %d holds index %d", i, e.Index)
		}
	}
}

func TestDeactivateDataEntry(t *testing.T) {
	ctx := context.Background()
	svc, acl, pub := newTestService(t, NewMemRepo())
	svc.RegisterData(ctx, provider, hashA, "ipfs://a", "X1")

	if err := svc.DeactivateDataEntry(ctx, provider, "X1", 5); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
	if err := svc.DeactivateDataEntry(ctx, provider, "X1", -1); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("expected NotFound for negative index, got %v", err)
	}
	err := svc.DeactivateDataEntry(ctx, provider2, "X1", 0)
	if !errors.Is(err, apperror.ErrUnauthorized) || err.Error() != MsgNotRegistrant {
		t.Errorf("expected Unauthorized %q, got %v", MsgNotRegistrant, err)
	}

	acl.Pause(ctx, admin)
	if err := svc.DeactivateDataEntry(ctx, provider, "X1", 0); !errors.Is(err, apperror.ErrPaused) {
		t.Errorf("expected Paused, got %v", err)
	}
	acl.Unpause(ctx, admin)

	if err := svc.DeactivateDataEntry(ctx, provider, "X1", 0); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	e, _ := svc.GetDataEntry(ctx, "X1", 0)
	if e.Active {
		t.Error("expected inactive entry")
	}
	if err := svc.DeactivateDataEntry(ctx, provider, "X1", 0); err != nil {
		t.Errorf("deactivating twice must succeed, got %v", err)
	}
	if n := len(pub.events); n != 2 {
		t.Errorf("expected register and one deactivate event, got %d", n)
	}
	entries, _ := svc.GetDataEntries(ctx, "X1")
	if len(entries) != 1 {
		t.Error("inactive entries stay in the sequence")
	}
}

func TestVerifyIntegrity(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t, NewMemRepo())
	svc.RegisterData(ctx, provider, hashA, "ipfs://a", "X1")
	svc.RegisterData(ctx, provider, hashB, "ipfs://b", "X1")

	tests := []struct {
		name    string
		patient string
		hash    string
		want    bool
	}{
		{"registered", "X1", hashA, true},
		{"prefixed", "X1", "0x" + hashB, true},
		{"other patient", "X2", hashA, false},
		{"unknown hash", "X1", "cccc", false},
	}
	for _, tt := range tests {
		got, err := svc.VerifyIntegrity(ctx, tt.patient, tt.hash)
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if got != tt.want {
			t.Errorf("%s: VerifyIntegrity = %v, want %v", tt.name, got, tt.want)
		}
	}

	svc.DeactivateDataEntry(ctx, provider, "X1", 0)
	if ok, _ := svc.VerifyIntegrity(ctx, "X1", hashA); ok {
		t.Error("deactivated entry must not verify")
	}
}

func TestGetDataEntry_NotFound(t *testing.T) {
	svc, _, _ := newTestService(t, NewMemRepo())
	if _, err := svc.GetDataEntry(context.Background(), "X1", 0); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestLookupHash(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t, NewMemRepo())
	svc.RegisterData(ctx, provider, hashA, "ipfs://a", "X1")
	svc.RegisterData(ctx, provider, hashB, "ipfs://b", "X1")

	ref, err := svc.LookupHash(ctx, "0x"+hashB)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if ref.PatientID != "X1" || ref.Index != 1 {
		t.Errorf("unexpected ref %+v", ref)
	}
	if _, err := svc.LookupHash(ctx, "dead"); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestNormalizeHash(t *testing.T) {
	if got := NormalizeHash("  0xABCdef "); got != "abcdef" {
		t.Errorf("NormalizeHash = %q", got)
	}
}
