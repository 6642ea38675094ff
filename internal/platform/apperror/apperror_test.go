package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestIs_MatchesByKind(t *testing.T) {
	err := Conflict("hash already exists")
	if !errors.Is(err, ErrConflict) {
		t.Error("expected Conflict error to match ErrConflict")
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("Conflict error must not match ErrNotFound")
	}
}

func TestIs_ThroughWrapping(t *testing.T) {
	err := fmt.Errorf("register: %w", Unauthorized("AccessControl: caller must be a provider"))
	if !errors.Is(err, ErrUnauthorized) {
		t.Error("expected wrapped error to match ErrUnauthorized")
	}
	if KindOf(err) != KindUnauthorized {
		t.Errorf("expected KindUnauthorized, got %s", KindOf(err))
	}
}

func TestKindOf_Unclassified(t *testing.T) {
	if KindOf(errors.New("boom")) != KindInternal {
		t.Error("expected plain errors to be internal")
	}
}

func TestPaused_Message(t *testing.T) {
	if Paused().Error() != "Pausable: paused" {
		t.Errorf("unexpected message %q", Paused().Error())
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{Unauthorized("x"), http.StatusForbidden},
		{Paused(), http.StatusServiceUnavailable},
		{InvalidArgument("x"), http.StatusBadRequest},
		{Conflict("x"), http.StatusConflict},
		{NotFound("x"), http.StatusNotFound},
		{errors.New("x"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := HTTPStatus(tt.err); got != tt.want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestHTTPError_HidesInternalMessage(t *testing.T) {
	he := HTTPError(errors.New("pq: connection refused"))
	if he.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", he.Code)
	}
	if he.Message != "internal error" {
		t.Errorf("unexpected message %v", he.Message)
	}

	he = HTTPError(Conflict("hash already exists"))
	if he.Code != http.StatusConflict || he.Message != "hash already exists" {
		t.Errorf("unexpected conflict mapping: %d %v", he.Code, he.Message)
	}
}
