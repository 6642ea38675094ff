package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/medledger/internal/domain/access"
	"github.com/ehr/medledger/internal/platform/apperror"
	"github.com/ehr/medledger/internal/platform/db"
)

type registryRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &registryRepoPG{pool: pool}
}

func (r *registryRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const entryCols = `patient_id, idx, content_hash, storage_pointer, registrant, registered_at, active`

func (r *registryRepoPG) scanRow(row pgx.Row) (*Entry, error) {
	var e Entry
	var registrant string
	if err := row.Scan(&e.PatientID, &e.Index, &e.ContentHash, &e.StoragePointer,
		&registrant, &e.RegisteredAt, &e.Active); err != nil {
		return nil, err
	}
	e.Registrant = access.Principal(registrant)
	return &e, nil
}

// Append serializes writers of one patient with a transaction-scoped advisory
// lock; the UNIQUE constraint on content_hash guards the global index.
func (r *registryRepoPG) Append(ctx context.Context, e *Entry) error {
	err := db.RunInTx(ctx, r.pool, func(ctx context.Context) error {
		c := r.conn(ctx)
		if _, err := c.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('data_entry:' || $1))`, e.PatientID); err != nil {
			return fmt.Errorf("lock patient sequence: %w", err)
		}
		if err := c.QueryRow(ctx,
			`SELECT COUNT(*) FROM data_entry WHERE patient_id = $1`, e.PatientID).Scan(&e.Index); err != nil {
			return fmt.Errorf("count entries: %w", err)
		}
		_, err := c.Exec(ctx, `
			INSERT INTO data_entry (`+entryCols+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			e.PatientID, e.Index, e.ContentHash, e.StoragePointer,
			string(e.Registrant), e.RegisteredAt, e.Active)
		return err
	})
	if db.IsUniqueViolation(err) {
		return apperror.Conflict(MsgHashExists)
	}
	if err != nil {
		return fmt.Errorf("append entry: %w", err)
	}
	return nil
}

func (r *registryRepoPG) List(ctx context.Context, patientID string) ([]*Entry, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+entryCols+` FROM data_entry WHERE patient_id = $1 ORDER BY idx`, patientID)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *registryRepoPG) Get(ctx context.Context, patientID string, index int) (*Entry, error) {
	e, err := r.scanRow(r.conn(ctx).QueryRow(ctx,
		`SELECT `+entryCols+` FROM data_entry WHERE patient_id = $1 AND idx = $2`, patientID, index))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get entry: %w", err)
	}
	return e, nil
}

func (r *registryRepoPG) Count(ctx context.Context, patientID string) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM data_entry WHERE patient_id = $1`, patientID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}

func (r *registryRepoPG) SetActive(ctx context.Context, patientID string, index int, active bool) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE data_entry SET active = $3 WHERE patient_id = $1 AND idx = $2`, patientID, index, active)
	if err != nil {
		return fmt.Errorf("set active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set active: no entry %s/%d", patientID, index)
	}
	return nil
}

func (r *registryRepoPG) LookupHash(ctx context.Context, contentHash string) (*HashRef, error) {
	var ref HashRef
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT patient_id, idx FROM data_entry WHERE content_hash = $1`, contentHash).Scan(&ref.PatientID, &ref.Index)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup hash: %w", err)
	}
	return &ref, nil
}
