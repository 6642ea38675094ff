package audit

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/medledger/internal/domain/access"
	"github.com/ehr/medledger/internal/platform/db"
)

type auditRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &auditRepoPG{pool: pool}
}

func (r *auditRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const auditCols = `id, patient_id, seq, accessor, data_hash, action_type, description, ts`

func (r *auditRepoPG) scanRow(row pgx.Row) (*Entry, error) {
	var e Entry
	var accessor string
	var action int16
	if err := row.Scan(&e.ID, &e.PatientID, &e.Seq, &accessor, &e.DataHash,
		&action, &e.Description, &e.Timestamp); err != nil {
		return nil, err
	}
	e.Accessor = access.Principal(accessor)
	e.ActionType = ActionType(action)
	return &e, nil
}

// Append takes a per-patient advisory lock so sequence numbers are dense.
func (r *auditRepoPG) Append(ctx context.Context, e *Entry) error {
	return db.RunInTx(ctx, r.pool, func(ctx context.Context) error {
		c := r.conn(ctx)
		if _, err := c.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('audit_entry:' || $1))`, e.PatientID); err != nil {
			return fmt.Errorf("lock audit trail: %w", err)
		}
		err := c.QueryRow(ctx, `
			INSERT INTO audit_entry (`+auditCols+`)
			SELECT $1, $2, COALESCE(MAX(seq), 0) + 1, $3, $4, $5, $6, $7
			FROM audit_entry WHERE patient_id = $2
			RETURNING seq`,
			e.ID, e.PatientID, string(e.Accessor), e.DataHash,
			int16(e.ActionType), e.Description, e.Timestamp).Scan(&e.Seq)
		if err != nil {
			return fmt.Errorf("append audit entry: %w", err)
		}
		return nil
	})
}

func (r *auditRepoPG) List(ctx context.Context, patientID string, f Filter) ([]*Entry, error) {
	where := []string{"patient_id = $1"}
	args := []interface{}{patientID}
	if f.Start != nil {
		args = append(args, *f.Start)
		where = append(where, fmt.Sprintf("ts >= $%d", len(args)))
	}
	if f.End != nil {
		args = append(args, *f.End)
		where = append(where, fmt.Sprintf("ts <= $%d", len(args)))
	}
	if f.Action != 0 {
		args = append(args, int16(f.Action))
		where = append(where, fmt.Sprintf("action_type = $%d", len(args)))
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+auditCols+` FROM audit_entry WHERE `+strings.Join(where, " AND ")+` ORDER BY seq`, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
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

func (r *auditRepoPG) Count(ctx context.Context, patientID string) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM audit_entry WHERE patient_id = $1`, patientID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count audit entries: %w", err)
	}
	return n, nil
}
