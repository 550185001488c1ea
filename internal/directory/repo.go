package directory

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"

	"attendify/internal/geo"
	"attendify/internal/store"
)

// Repository persists users, templates and classes in Postgres.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const userColumns = `id, name, email, roll_number, role, class_id, phone, gender, dob, address,
	notifications_enabled, workday_start, workday_end, two_factor_enabled, face_sensitivity,
	require_2fa_before_scan, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (User, error) {
	var (
		u       User
		classID sql.NullString
	)
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.RollNumber, &u.Role, &classID,
		&u.Phone, &u.Gender, &u.DOB, &u.Address,
		&u.Settings.NotificationsEnabled, &u.Settings.WorkdayStart, &u.Settings.WorkdayEnd,
		&u.Settings.TwoFactorEnabled, &u.Settings.FaceSensitivity, &u.Settings.RequireTwoFactorBeforeScan,
		&u.CreatedAt)
	if err != nil {
		return User{}, err
	}
	if classID.Valid {
		v := classID.String
		u.ClassID = &v
	}
	return u, nil
}

func (r *Repository) CreateUser(ctx context.Context, u User) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, roll_number, role, class_id, phone, gender, dob, address,
			notifications_enabled, workday_start, workday_end, two_factor_enabled, face_sensitivity,
			require_2fa_before_scan, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`, u.ID, u.Name, u.Email, u.RollNumber, u.Role, u.ClassID, u.Phone, u.Gender, u.DOB, u.Address,
		u.Settings.NotificationsEnabled, u.Settings.WorkdayStart, u.Settings.WorkdayEnd,
		u.Settings.TwoFactorEnabled, u.Settings.FaceSensitivity, u.Settings.RequireTwoFactorBeforeScan,
		u.CreatedAt)
	if store.IsUniqueViolation(err) {
		return ErrEmailTaken
	}
	return err
}

func (r *Repository) CountUsers(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}

func (r *Repository) GetUser(ctx context.Context, id string) (User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	return u, err
}

func (r *Repository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email))
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	return u, err
}

// ListUsers searches name, email and roll number case-insensitively.
func (r *Repository) ListUsers(ctx context.Context, f UserFilter) ([]User, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, strings.ReplaceAll(cond, "?", "$"+strconv.Itoa(len(args))))
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		add(`(name ILIKE ? OR email ILIKE ? OR roll_number ILIKE ?)`, "%"+s+"%")
	}
	if f.ClassID != "" {
		add(`class_id = ?`, f.ClassID)
	}
	if f.Role != "" {
		add(`role = ?`, f.Role)
	}
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	q := `SELECT ` + userColumns + ` FROM users`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, f.Limit, f.Offset)
	q += ` ORDER BY name ASC LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (r *Repository) updateOne(ctx context.Context, q string, args ...any) error {
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *Repository) UpdateProfile(ctx context.Context, id string, p Profile) error {
	return r.updateOne(ctx, `
		UPDATE users SET name = $2, phone = $3, gender = $4, dob = $5, address = $6, updated_at = NOW()
		WHERE id = $1`, id, p.Name, p.Phone, p.Gender, p.DOB, p.Address)
}

func (r *Repository) UpdateSettings(ctx context.Context, id string, s Settings) error {
	return r.updateOne(ctx, `
		UPDATE users SET notifications_enabled = $2, workday_start = $3, workday_end = $4,
			two_factor_enabled = $5, face_sensitivity = $6, require_2fa_before_scan = $7, updated_at = NOW()
		WHERE id = $1`, id, s.NotificationsEnabled, s.WorkdayStart, s.WorkdayEnd,
		s.TwoFactorEnabled, s.FaceSensitivity, s.RequireTwoFactorBeforeScan)
}

func (r *Repository) SetRole(ctx context.Context, id string, role Role) error {
	return r.updateOne(ctx, `UPDATE users SET role = $2, updated_at = NOW() WHERE id = $1`, id, role)
}

// SetClass assigns a class; nil clears the assignment.
func (r *Repository) SetClass(ctx context.Context, id string, classID *string) error {
	return r.updateOne(ctx, `UPDATE users SET class_id = $2, updated_at = NOW() WHERE id = $1`, id, classID)
}

func (r *Repository) UserIDsInClass(ctx context.Context, classID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM users WHERE class_id = $1 ORDER BY id`, classID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (r *Repository) AddTemplate(ctx context.Context, t Template) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO face_templates (id, user_id, image, archive_url, created_at)
		VALUES ($1,$2,$3,$4,$5)`, t.ID, t.UserID, t.Image, t.ArchiveURL, t.CreatedAt)
	return err
}

// RecentTemplates returns up to limit templates, newest first.
func (r *Repository) RecentTemplates(ctx context.Context, userID string, limit int) ([]Template, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, image, archive_url, created_at FROM face_templates
		WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Template
	for rows.Next() {
		var t Template
		if err := rows.Scan(&t.ID, &t.UserID, &t.Image, &t.ArchiveURL, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *Repository) CountTemplates(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM face_templates WHERE user_id = $1`, userID).Scan(&n)
	return n, err
}

const classColumns = `id, name, description, lat, lng, geofence_radius, start_time, end_time`

func scanClass(row scanner) (Class, error) {
	var (
		c                 Class
		lat, lng, radius  sql.NullFloat64
		startAt, finishAt sql.NullString
	)
	if err := row.Scan(&c.ID, &c.Name, &c.Description, &lat, &lng, &radius, &startAt, &finishAt); err != nil {
		return Class{}, err
	}
	if lat.Valid && lng.Valid {
		c.Location = &geo.Point{Lat: lat.Float64, Lng: lng.Float64}
	}
	if radius.Valid {
		v := radius.Float64
		c.GeofenceRadius = &v
	}
	c.StartTime = startAt.String
	c.EndTime = finishAt.String
	return c, nil
}

func classArgs(c Class) []any {
	var lat, lng any
	if c.Location != nil {
		lat, lng = c.Location.Lat, c.Location.Lng
	}
	return []any{c.ID, c.Name, c.Description, lat, lng, c.GeofenceRadius, nullable(c.StartTime), nullable(c.EndTime)}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (r *Repository) CreateClass(ctx context.Context, c Class) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO classes (`+classColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`, classArgs(c)...)
	return err
}

func (r *Repository) UpdateClass(ctx context.Context, c Class) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE classes SET name = $2, description = $3, lat = $4, lng = $5, geofence_radius = $6,
			start_time = $7, end_time = $8
		WHERE id = $1`, classArgs(c)...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrClassNotFound
	}
	return nil
}

func (r *Repository) GetClass(ctx context.Context, id string) (Class, error) {
	c, err := scanClass(r.db.QueryRowContext(ctx, `SELECT `+classColumns+` FROM classes WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Class{}, ErrClassNotFound
	}
	return c, err
}

func (r *Repository) ListClasses(ctx context.Context) ([]Class, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+classColumns+` FROM classes ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Class
	for rows.Next() {
		c, err := scanClass(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteClass removes a class and unassigns its members in one transaction.
func (r *Repository) DeleteClass(ctx context.Context, id string) error {
	return store.WithTx(ctx, r.db, func(ctx context.Context, tx store.DBTX) error {
		if _, err := tx.ExecContext(ctx, `UPDATE users SET class_id = NULL, updated_at = NOW() WHERE class_id = $1`, id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM classes WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return ErrClassNotFound
		}
		return nil
	})
}
