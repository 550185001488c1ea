package hardware

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"attendify/internal/store"
)

type Repository struct {
	db store.DBTX
}

func NewRepository(db store.DBTX) *Repository {
	return &Repository{db: db}
}

const nodeColumns = `id, name, type, ip_address, last_seen, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanNode(row scanner) (Node, error) {
	var (
		n        Node
		lastSeen sql.NullTime
	)
	if err := row.Scan(&n.ID, &n.Name, &n.Type, &n.IPAddress, &lastSeen, &n.CreatedAt); err != nil {
		return Node{}, err
	}
	if lastSeen.Valid {
		t := lastSeen.Time
		n.LastSeen = &t
	}
	return n, nil
}

func (r *Repository) Insert(ctx context.Context, n Node) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO hardware_nodes (id, name, type, ip_address, created_at)
		VALUES ($1,$2,$3,$4,$5)`, n.ID, n.Name, n.Type, n.IPAddress, n.CreatedAt)
	return err
}

func (r *Repository) Get(ctx context.Context, id string) (Node, error) {
	n, err := scanNode(r.db.QueryRowContext(ctx, `SELECT `+nodeColumns+` FROM hardware_nodes WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Node{}, ErrNotFound
	}
	return n, err
}

func (r *Repository) List(ctx context.Context) ([]Node, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+nodeColumns+` FROM hardware_nodes ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM hardware_nodes WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) Touch(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE hardware_nodes SET last_seen = $2 WHERE id = $1`, id, at)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
