package consent

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/medledger/internal/domain/access"
	"github.com/ehr/medledger/internal/platform/db"
)

type consentRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &consentRepoPG{pool: pool}
}

func (r *consentRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const consentCols = `patient, provider, permissions, expiry, active, granted_at`

func (r *consentRepoPG) scanRow(row pgx.Row) (*Record, error) {
	var rec Record
	var patient, provider string
	var perms int64
	if err := row.Scan(&patient, &provider, &perms, &rec.Expiry, &rec.Active, &rec.GrantedAt); err != nil {
		return nil, err
	}
	rec.Patient = access.Principal(patient)
	rec.Provider = access.Principal(provider)
	rec.Permissions = Permission(perms)
	return &rec, nil
}

func (r *consentRepoPG) Get(ctx context.Context, patient, provider access.Principal) (*Record, error) {
	rec, err := r.scanRow(r.conn(ctx).QueryRow(ctx,
		`SELECT `+consentCols+` FROM consent_record WHERE patient = $1 AND provider = $2`,
		string(patient), string(provider)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get consent: %w", err)
	}
	return rec, nil
}

func (r *consentRepoPG) Put(ctx context.Context, rec *Record) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO consent_record (`+consentCols+`, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (patient, provider) DO UPDATE SET
			permissions = EXCLUDED.permissions,
			expiry = EXCLUDED.expiry,
			active = EXCLUDED.active,
			granted_at = EXCLUDED.granted_at,
			updated_at = NOW()`,
		string(rec.Patient), string(rec.Provider), int64(rec.Permissions),
		rec.Expiry, rec.Active, rec.GrantedAt)
	if err != nil {
		return fmt.Errorf("put consent: %w", err)
	}
	return nil
}

func (r *consentRepoPG) ListByPatient(ctx context.Context, patient access.Principal) ([]*Record, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+consentCols+` FROM consent_record WHERE patient = $1 ORDER BY provider`,
		string(patient))
	if err != nil {
		return nil, fmt.Errorf("list consents: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
