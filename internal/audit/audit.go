// Package audit records administrator actions.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"attendify/internal/store"
)

// Actions written to the log.
const (
	ActionRoleChange    = "ROLE_CHANGE"
	ActionClassAssign   = "CLASS_ASSIGN"
	ActionOverride      = "ATTENDANCE_OVERRIDE"
	ActionLeaveDecision = "LEAVE_DECISION"
	ActionClassCreate   = "CLASS_CREATE"
	ActionClassUpdate   = "CLASS_UPDATE"
	ActionClassDelete   = "CLASS_DELETE"
	ActionNodeCreate    = "NODE_CREATE"
	ActionNodeDelete    = "NODE_DELETE"
	ActionUserCreate    = "USER_CREATE"
)

type Entry struct {
	ID        string    `json:"id"`
	AdminID   string    `json:"adminId"`
	AdminName string    `json:"adminName"`
	Action    string    `json:"action"`
	Details   string    `json:"details"`
	CreatedAt time.Time `json:"timestamp"`
}

// Log is an append-only audit trail in Postgres.
type Log struct {
	db  store.DBTX
	now func() time.Time
	log zerolog.Logger
}

func New(db store.DBTX, log zerolog.Logger) *Log {
	return &Log{db: db, now: time.Now, log: log}
}

// Append writes one entry. Failures are logged and returned; callers usually
// ignore them so the audited action itself still succeeds.
func (l *Log) Append(ctx context.Context, adminID, adminName, action, details string) error {
	e := Entry{
		ID:        uuid.NewString(),
		AdminID:   adminID,
		AdminName: adminName,
		Action:    action,
		Details:   details,
		CreatedAt: l.now().UTC(),
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, admin_id, admin_name, action, details, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`, e.ID, e.AdminID, e.AdminName, e.Action, e.Details, e.CreatedAt)
	if err != nil {
		l.log.Error().Err(err).Str("action", action).Str("admin_id", adminID).Msg("audit append failed")
		return err
	}
	return nil
}

// List returns the most recent entries first.
func (l *Log) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, admin_id, admin_name, action, details, created_at
		FROM audit_log ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.AdminID, &e.AdminName, &e.Action, &e.Details, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
