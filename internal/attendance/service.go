package attendance

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"attendify/internal/geo"
)

// Store is the persistence the service needs. *Repository satisfies it.
type Store interface {
	Insert(ctx context.Context, rec Record) error
	ForDay(ctx context.Context, userID, date string) ([]Record, error)
	List(ctx context.Context, f Filter) ([]Record, error)
	InsertExit(ctx context.Context, recordID string, at time.Time, p geo.Point) (bool, error)
	CountByStatus(ctx context.Context, userID string) (map[Status]int, error)
}

// Service coordinates record commits, overrides and reporting.
type Service struct {
	repo Store
	loc  *time.Location
	now  func() time.Time
	log  zerolog.Logger
}

// NewService creates a service backed by a repository. Dates and times are
// rendered in loc.
func NewService(repo Store, loc *time.Location, log zerolog.Logger) *Service {
	if loc == nil {
		loc = time.Local
	}
	return &Service{repo: repo, loc: loc, now: time.Now, log: log}
}

// Now returns the current time in the service's zone.
func (s *Service) Now() time.Time { return s.now().In(s.loc) }

// Location returns the zone records are stamped in.
func (s *Service) Location() *time.Location { return s.loc }

// AddAttendance persists a freshly assembled record. A user gets at most one
// positive record per day; administrator overrides are exempt.
func (s *Service) AddAttendance(ctx context.Context, rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if rec.Status.Positive() && !IsOverride(rec.Device) {
		done, err := s.hasPositive(ctx, rec.UserID, rec.Date)
		if err != nil {
			return err
		}
		if done {
			return ErrAlreadyRecorded
		}
	}
	if err := s.repo.Insert(ctx, rec); err != nil {
		if errors.Is(err, ErrAlreadyRecorded) {
			return err
		}
		return fmt.Errorf("insert attendance: %w", err)
	}
	s.log.Info().
		Str("record_id", rec.ID).
		Str("user_id", rec.UserID).
		Str("status", string(rec.Status)).
		Str("device", rec.Device).
		Msg("attendance committed")
	return nil
}

// CheckedInToday reports whether the user already has a positive record today.
func (s *Service) CheckedInToday(ctx context.Context, userID string) (bool, error) {
	return s.hasPositive(ctx, userID, s.Now().Format(DateLayout))
}

func (s *Service) hasPositive(ctx context.Context, userID, date string) (bool, error) {
	recs, err := s.repo.ForDay(ctx, userID, date)
	if err != nil {
		return false, fmt.Errorf("load day records: %w", err)
	}
	for _, r := range recs {
		if r.Status.Positive() {
			return true, nil
		}
	}
	return false, nil
}

// Actor identifies the administrator performing an action.
type Actor struct {
	ID   string
	Name string
}

// ManualOverride commits a distinct record on a user's behalf. It never
// touches existing records.
func (s *Service) ManualOverride(ctx context.Context, admin Actor, userID string, status Status) (Record, error) {
	if admin.ID == userID {
		return Record{}, ErrSelfOverride
	}
	if status == "" {
		status = StatusPresent
	}
	rec := NewRecord(userID, s.Now(), status, geo.Point{}, OverrideDevice(admin.Name), nil)
	if err := rec.Validate(); err != nil {
		return Record{}, err
	}
	if err := s.repo.Insert(ctx, rec); err != nil {
		return Record{}, fmt.Errorf("insert override: %w", err)
	}
	s.log.Warn().
		Str("admin_id", admin.ID).
		Str("user_id", userID).
		Str("status", string(status)).
		Msg("manual attendance override")
	return rec, nil
}

// List returns records matching f.
func (s *Service) List(ctx context.Context, f Filter) ([]Record, error) {
	return s.repo.List(ctx, f)
}

// Summary is a user's attendance ratio.
type Summary struct {
	Total    int     `json:"total"`
	Positive int     `json:"positive"`
	Percent  float64 `json:"percent"`
}

// Summary counts PRESENT and OD records against all records.
func (s *Service) Summary(ctx context.Context, userID string) (Summary, error) {
	counts, err := s.repo.CountByStatus(ctx, userID)
	if err != nil {
		return Summary{}, err
	}
	var sum Summary
	for st, n := range counts {
		sum.Total += n
		if st.Positive() {
			sum.Positive += n
		}
	}
	if sum.Total > 0 {
		sum.Percent = math.Round(float64(sum.Positive)/float64(sum.Total)*1000) / 10
	}
	return sum, nil
}

// ObservePosition records the first time a checked-in user is seen outside
// their fence today. It reports whether a new exit was stored.
func (s *Service) ObservePosition(ctx context.Context, userID string, p geo.Point, at time.Time, fence geo.Fence) (bool, error) {
	at = at.In(s.loc)
	if fence.Contains(p) {
		return false, nil
	}
	recs, err := s.repo.ForDay(ctx, userID, at.Format(DateLayout))
	if err != nil {
		return false, fmt.Errorf("load day records: %w", err)
	}
	var target *Record
	for i := range recs {
		r := recs[i]
		if !r.Status.Positive() || IsOverride(r.Device) || r.RecordedAt.After(at) {
			continue
		}
		target = &recs[i]
	}
	if target == nil || target.LeftGeofenceAt != nil {
		return false, nil
	}
	stored, err := s.repo.InsertExit(ctx, target.ID, at, p)
	if err != nil {
		return false, fmt.Errorf("insert exit: %w", err)
	}
	if stored {
		s.log.Info().
			Str("user_id", userID).
			Str("record_id", target.ID).
			Time("left_at", at).
			Msg("geofence exit observed")
	}
	return stored, nil
}
