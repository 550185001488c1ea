package leave

import (
	"context"
	"database/sql"
	"errors"

	"attendify/internal/store"
)

// Repository persists requests in Postgres.
type Repository struct {
	db store.DBTX
}

func NewRepository(db store.DBTX) *Repository {
	return &Repository{db: db}
}

const requestColumns = `id, user_id, user_name, type, to_char(start_date, 'YYYY-MM-DD'),
	to_char(end_date, 'YYYY-MM-DD'), reason, status, decided_by, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRequest(row scanner) (Request, error) {
	var (
		r         Request
		decidedBy sql.NullString
	)
	if err := row.Scan(&r.ID, &r.UserID, &r.UserName, &r.Type, &r.StartDate, &r.EndDate,
		&r.Reason, &r.Status, &decidedBy, &r.CreatedAt); err != nil {
		return Request{}, err
	}
	if decidedBy.Valid {
		v := decidedBy.String
		r.DecidedBy = &v
	}
	return r, nil
}

func (r *Repository) Insert(ctx context.Context, req Request) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO leave_requests (id, user_id, user_name, type, start_date, end_date, reason, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		req.ID, req.UserID, req.UserName, req.Type, req.StartDate, req.EndDate, req.Reason, req.Status, req.CreatedAt)
	return err
}

func (r *Repository) Get(ctx context.Context, id string) (Request, error) {
	req, err := scanRequest(r.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM leave_requests WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Request{}, ErrNotFound
	}
	return req, err
}

// List returns requests newest first. Empty userID or status means any.
func (r *Repository) List(ctx context.Context, userID string, status Status) ([]Request, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+requestColumns+` FROM leave_requests
		WHERE ($1 = '' OR user_id = $1) AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC`, userID, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// Decide moves a pending request to status. It reports false when the request
// was no longer pending.
func (r *Repository) Decide(ctx context.Context, id string, status Status, adminID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE leave_requests SET status = $2, decided_by = $3
		WHERE id = $1 AND status = 'PENDING'`, id, status, adminID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
