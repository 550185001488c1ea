package attendance

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"attendify/internal/geo"
)

// Status is the outcome stored on an attendance record.
type Status string

const (
	StatusPresent  Status = "PRESENT"
	StatusAbsent   Status = "ABSENT"
	StatusOD       Status = "OD"
	StatusPending  Status = "PENDING"
	StatusRejected Status = "REJECTED"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPresent, StatusAbsent, StatusOD, StatusPending, StatusRejected:
		return true
	}
	return false
}

// Positive reports whether s counts as an attended day.
func (s Status) Positive() bool {
	return s == StatusPresent || s == StatusOD
}

// Device tags describing how a record was captured.
const (
	DeviceBiometric = "App Biometric Check-in"
	DeviceBypass    = "Manual Bypass"
	overridePrefix  = "Admin Override ("
)

// OverrideDevice tags a record committed by an administrator on a user's behalf.
func OverrideDevice(adminName string) string {
	return overridePrefix + adminName + ")"
}

// IsOverride reports whether device marks an administrator override.
func IsOverride(device string) bool {
	return strings.HasPrefix(device, overridePrefix)
}

// Located reports whether rec carries a real position fix. Overrides, and
// bypasses committed before a fix was acquired, are stored at 0,0.
func (r Record) Located() bool {
	if IsOverride(r.Device) {
		return false
	}
	return r.Device != DeviceBypass || r.Location != (geo.Point{})
}

// Wall-clock layouts for Record.Date and Record.Time.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

var (
	ErrAlreadyRecorded = errors.New("attendance already recorded for this day")
	ErrSelfOverride    = errors.New("administrators cannot override their own attendance")
	ErrInvalidRecord   = errors.New("invalid attendance record")
)

// Record is a single committed attendance entry. Records are never updated;
// LeftGeofenceAt is joined from the append-only exits table.
type Record struct {
	ID               string     `json:"id"`
	UserID           string     `json:"userId"`
	Date             string     `json:"date"`
	Time             string     `json:"time"`
	Status           Status     `json:"status"`
	Location         geo.Point  `json:"location"`
	Device           string     `json:"device"`
	FacialMatchScore *float64   `json:"facialMatchScore,omitempty"`
	LeftGeofenceAt   *time.Time `json:"leftGeofenceAt,omitempty"`
	RecordedAt       time.Time  `json:"recordedAt"`
}

// NewRecord assembles a record stamped with the wall-clock date and time of at.
// at should already be in the deployment's zone.
func NewRecord(userID string, at time.Time, status Status, loc geo.Point, device string, score *float64) Record {
	return Record{
		ID:               uuid.NewString(),
		UserID:           userID,
		Date:             at.Format(DateLayout),
		Time:             at.Format(TimeLayout),
		Status:           status,
		Location:         loc,
		Device:           device,
		FacialMatchScore: score,
		RecordedAt:       at,
	}
}

// Validate checks the fields every stored record must carry.
func (r Record) Validate() error {
	switch {
	case r.ID == "":
		return fmt.Errorf("%w: id required", ErrInvalidRecord)
	case r.UserID == "":
		return fmt.Errorf("%w: user id required", ErrInvalidRecord)
	case !r.Status.Valid():
		return fmt.Errorf("%w: unknown status %q", ErrInvalidRecord, r.Status)
	case r.Device == "":
		return fmt.Errorf("%w: device tag required", ErrInvalidRecord)
	case r.FacialMatchScore != nil && !(*r.FacialMatchScore >= 0 && *r.FacialMatchScore <= 100):
		return fmt.Errorf("%w: match score %.1f out of range", ErrInvalidRecord, *r.FacialMatchScore)
	}
	if _, err := time.Parse(DateLayout, r.Date); err != nil {
		return fmt.Errorf("%w: date %q", ErrInvalidRecord, r.Date)
	}
	if _, err := time.Parse(TimeLayout, r.Time); err != nil {
		return fmt.Errorf("%w: time %q", ErrInvalidRecord, r.Time)
	}
	return nil
}

// WallClock returns the record's local date and time in loc.
func (r Record) WallClock(loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(DateLayout+" "+TimeLayout, r.Date+" "+r.Time, loc)
}
