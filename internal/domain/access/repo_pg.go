package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/medledger/internal/platform/db"
)

type accessRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &accessRepoPG{pool: pool}
}

func (r *accessRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

func (r *accessRepoPG) GetRole(ctx context.Context, p Principal) (Role, error) {
	var role int16
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT role FROM role_assignment WHERE principal = $1`, string(p)).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return RoleNone, nil
	}
	if err != nil {
		return RoleNone, fmt.Errorf("get role: %w", err)
	}
	return Role(role), nil
}

func (r *accessRepoPG) SetRole(ctx context.Context, p Principal, role Role, at time.Time) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO role_assignment (principal, role, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (principal) DO UPDATE SET role = EXCLUDED.role, updated_at = EXCLUDED.updated_at`,
		string(p), int16(role), at)
	if err != nil {
		return fmt.Errorf("set role: %w", err)
	}
	return nil
}

func (r *accessRepoPG) ListAssignments(ctx context.Context) ([]*Assignment, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT principal, role, updated_at FROM role_assignment
		WHERE role <> 0 ORDER BY principal`)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	defer rows.Close()

	var out []*Assignment
	for rows.Next() {
		var a Assignment
		var p string
		var role int16
		if err := rows.Scan(&p, &role, &a.UpdatedAt); err != nil {
			return nil, err
		}
		a.Principal = Principal(p)
		a.Role = Role(role)
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (r *accessRepoPG) IsPaused(ctx context.Context) (bool, error) {
	var paused bool
	err := r.conn(ctx).QueryRow(ctx, `SELECT paused FROM system_state WHERE id = 1`).Scan(&paused)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read pause state: %w", err)
	}
	return paused, nil
}

func (r *accessRepoPG) SetPaused(ctx context.Context, paused bool) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO system_state (id, paused, updated_at) VALUES (1, $1, NOW())
		ON CONFLICT (id) DO UPDATE SET paused = EXCLUDED.paused, updated_at = NOW()`, paused)
	if err != nil {
		return fmt.Errorf("set pause state: %w", err)
	}
	return nil
}
