package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestTxFromContext_Nil(t *testing.T) {
	tx := TxFromContext(context.Background())
	if tx != nil {
		t.Error("expected nil tx from empty context")
	}
}

func TestTxFromContext_WithWrongType(t *testing.T) {
	ctx := context.WithValue(context.Background(), DBTxKey, "not-a-tx")
	tx := TxFromContext(ctx)
	if tx != nil {
		t.Error("expected nil when context value is wrong type")
	}
}

func TestRunInTx_NoPool(t *testing.T) {
	called := false
	err := RunInTx(context.Background(), nil, func(ctx context.Context) error {
		called = true
		return nil
	})
	if err == nil {
		t.Fatal("expected error when no pool is configured")
	}
	if err.Error() != "no database pool configured" {
		t.Errorf("unexpected error message: %s", err.Error())
	}
	if called {
		t.Error("fn must not run without a transaction")
	}
}

func TestIsUniqueViolation(t *testing.T) {
	uniq := &pgconn.PgError{Code: "23505"}
	if !IsUniqueViolation(fmt.Errorf("insert: %w", uniq)) {
		t.Error("expected wrapped 23505 to be a unique violation")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Error("foreign key violation is not a unique violation")
	}
	if IsUniqueViolation(errors.New("plain")) {
		t.Error("plain error is not a unique violation")
	}
}

func TestSchemaPattern(t *testing.T) {
	tests := []struct {
		input string
		valid bool
	}{
		{"medledger", true},
		{"ledger_2", true},
		{"_internal", true},
		{"2ledger", false},
		{"led-ger", false},
		{"a.b", false},
		{"drop;table", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := schemaPattern.MatchString(tt.input); got != tt.valid {
			t.Errorf("schemaPattern.MatchString(%q) = %v, want %v", tt.input, got, tt.valid)
		}
	}
}
