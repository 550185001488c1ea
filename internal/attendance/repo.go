package attendance

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	"attendify/internal/geo"
	"attendify/internal/store"
)

// Repository persists attendance records in Postgres. Records are insert-only.
type Repository struct {
	db store.DBTX
}

// NewRepository creates a repo.
func NewRepository(db store.DBTX) *Repository {
	return &Repository{db: db}
}

const recordColumns = `r.id, r.user_id, r.date, r.time, r.status, r.lat, r.lng, r.device,
	r.facial_match_score, r.recorded_at, e.left_at`

const recordFrom = ` FROM attendance_records r LEFT JOIN geofence_exits e ON e.record_id = r.id`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var (
		rec   Record
		score sql.NullFloat64
		left  sql.NullTime
	)
	if err := row.Scan(&rec.ID, &rec.UserID, &rec.Date, &rec.Time, &rec.Status,
		&rec.Location.Lat, &rec.Location.Lng, &rec.Device, &score, &rec.RecordedAt, &left); err != nil {
		return Record{}, err
	}
	if score.Valid {
		v := score.Float64
		rec.FacialMatchScore = &v
	}
	if left.Valid {
		v := left.Time
		rec.LeftGeofenceAt = &v
	}
	return rec, nil
}

// Insert writes a new record. A second positive record for the same user and
// day violates uq_attendance_positive_day and yields ErrAlreadyRecorded.
func (r *Repository) Insert(ctx context.Context, rec Record) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_records (id, user_id, date, time, status, lat, lng, device, facial_match_score, recorded_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, rec.ID, rec.UserID, rec.Date, rec.Time, rec.Status, rec.Location.Lat, rec.Location.Lng,
		rec.Device, rec.FacialMatchScore, rec.RecordedAt)
	if store.IsUniqueViolation(err) {
		return ErrAlreadyRecorded
	}
	return err
}

// ForDay returns a user's records for a wall-clock date, oldest first.
func (r *Repository) ForDay(ctx context.Context, userID, date string) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+recordColumns+recordFrom+`
		WHERE r.user_id = $1 AND r.date = $2
		ORDER BY r.recorded_at ASC`, userID, date)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// Filter narrows List results. Zero values mean no constraint.
type Filter struct {
	UserID  string
	UserIDs []string
	Date    string
	Limit   int
	Offset  int
}

// List returns records with basic filters, newest first.
func (r *Repository) List(ctx context.Context, f Filter) ([]Record, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	query := `SELECT ` + recordColumns + recordFrom
	args := []any{}
	clauses := []string{}
	next := func() string { return "$" + strconv.Itoa(len(args)+1) }

	if f.UserID != "" {
		clauses = append(clauses, "r.user_id = "+next())
		args = append(args, f.UserID)
	}
	if len(f.UserIDs) > 0 {
		clauses = append(clauses, "r.user_id = ANY("+next()+")")
		args = append(args, f.UserIDs)
	}
	if f.Date != "" {
		clauses = append(clauses, "r.date = "+next())
		args = append(args, f.Date)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY r.recorded_at DESC LIMIT " + next()
	args = append(args, f.Limit)
	query += " OFFSET " + next()
	args = append(args, f.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func collect(rows *sql.Rows) ([]Record, error) {
	defer rows.Close()
	var res []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// InsertExit stores the first out-of-fence observation for a record.
// It reports false when an exit was already recorded.
func (r *Repository) InsertExit(ctx context.Context, recordID string, at time.Time, p geo.Point) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO geofence_exits (record_id, left_at, lat, lng)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (record_id) DO NOTHING
	`, recordID, at, p.Lat, p.Lng)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CountByStatus tallies a user's records per status.
func (r *Repository) CountByStatus(ctx context.Context, userID string) (map[Status]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM attendance_records
		WHERE user_id = $1
		GROUP BY status
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[Status]int)
	for rows.Next() {
		var (
			st Status
			n  int
		)
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		out[st] = n
	}
	return out, rows.Err()
}
