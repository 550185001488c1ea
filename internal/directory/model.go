// Package directory manages users, their verification settings and face
// templates, and the classes they belong to.
package directory

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"attendify/internal/geo"
	"attendify/internal/verification"
)

type Role string

const (
	RoleStudent Role = "STUDENT"
	RoleStaff   Role = "STAFF"
	RoleAdmin   Role = "ADMIN"
)

func (r Role) Valid() bool {
	return r == RoleStudent || r == RoleStaff || r == RoleAdmin
}

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrClassNotFound     = errors.New("class not found")
	ErrEmailTaken        = errors.New("email already registered")
	ErrInvalidUser       = errors.New("invalid user")
	ErrInvalidRole       = errors.New("unknown role")
	ErrRoleNotAssignable = errors.New("the ADMIN role cannot be assigned")
	ErrSelfRoleChange    = errors.New("administrators cannot change their own role")
	ErrAdminImmutable    = errors.New("administrator roles cannot be changed")
	ErrInvalidSettings   = errors.New("invalid settings")
	ErrInvalidClass      = errors.New("invalid class")
	ErrEmptyTemplate     = errors.New("template image required")
)

// Settings are a user's preferences. The JSON names match the client.
type Settings struct {
	NotificationsEnabled       bool   `json:"notificationsEnabled"`
	WorkdayStart               string `json:"workdayStart"`
	WorkdayEnd                 string `json:"workdayEnd"`
	TwoFactorEnabled           bool   `json:"twoFactorEnabled"`
	FaceSensitivity            int    `json:"faceRecognitionSensitivity"`
	RequireTwoFactorBeforeScan bool   `json:"require2FABeforeFaceScan"`
}

func DefaultSettings(sensitivity int) Settings {
	if sensitivity < 0 || sensitivity > 100 {
		sensitivity = verification.DefaultSensitivity
	}
	return Settings{
		NotificationsEnabled: true,
		WorkdayStart:         "09:00",
		WorkdayEnd:           "17:00",
		FaceSensitivity:      sensitivity,
	}
}

func (s Settings) Validate() error {
	if s.FaceSensitivity < 0 || s.FaceSensitivity > 100 {
		return fmt.Errorf("%w: sensitivity must be between 0 and 100", ErrInvalidSettings)
	}
	if _, err := geo.ParseWindow(s.WorkdayStart, s.WorkdayEnd); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	return nil
}

// Verification maps the settings onto what a verification session needs.
func (s Settings) Verification() verification.Settings {
	sens := s.FaceSensitivity
	return verification.Settings{Sensitivity: &sens, RequireTwoFactor: s.RequireTwoFactorBeforeScan}
}

type User struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	RollNumber string    `json:"rollNumber"`
	Role       Role      `json:"role"`
	ClassID    *string   `json:"classId,omitempty"`
	Phone      string    `json:"phone,omitempty"`
	Gender     string    `json:"gender,omitempty"`
	DOB        string    `json:"dob,omitempty"`
	Address    string    `json:"address,omitempty"`
	Settings   Settings  `json:"settings"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Profile holds the fields a user may edit about themselves.
type Profile struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Gender  string `json:"gender"`
	DOB     string `json:"dob"`
	Address string `json:"address"`
}

func (p Profile) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: name required", ErrInvalidUser)
	}
	if p.DOB != "" {
		if _, err := time.Parse("2006-01-02", p.DOB); err != nil {
			return fmt.Errorf("%w: dob must be YYYY-MM-DD", ErrInvalidUser)
		}
	}
	return nil
}

// Template is one enrolled face image.
type Template struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	Image      []byte    `json:"-"`
	ArchiveURL string    `json:"archiveUrl,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Class groups users under a shared location and schedule.
type Class struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Description    string     `json:"description,omitempty"`
	Location       *geo.Point `json:"location,omitempty"`
	GeofenceRadius *float64   `json:"geofenceRadius,omitempty"`
	StartTime      string     `json:"startTime,omitempty"`
	EndTime        string     `json:"endTime,omitempty"`
}

func (c Class) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: name required", ErrInvalidClass)
	}
	if c.Location != nil && !c.Location.Valid() {
		return fmt.Errorf("%w: location out of range", ErrInvalidClass)
	}
	if c.GeofenceRadius != nil {
		if c.Location == nil {
			return fmt.Errorf("%w: geofence radius needs a location", ErrInvalidClass)
		}
		if r := *c.GeofenceRadius; r <= 0 || math.IsNaN(r) || math.IsInf(r, 0) {
			return fmt.Errorf("%w: geofence radius must be positive", ErrInvalidClass)
		}
	}
	if (c.StartTime == "") != (c.EndTime == "") {
		return fmt.Errorf("%w: start and end time go together", ErrInvalidClass)
	}
	if c.StartTime != "" {
		if _, err := geo.ParseWindow(c.StartTime, c.EndTime); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidClass, err)
		}
	}
	return nil
}

// Fence returns the class geofence, or nil when none is configured.
func (c Class) Fence() *geo.Fence {
	if c.Location == nil || c.GeofenceRadius == nil {
		return nil
	}
	return &geo.Fence{Center: *c.Location, Radius: *c.GeofenceRadius}
}

// Window returns the class schedule, or nil when none is configured.
func (c Class) Window() *geo.Window {
	if c.StartTime == "" || c.EndTime == "" {
		return nil
	}
	w, err := geo.ParseWindow(c.StartTime, c.EndTime)
	if err != nil {
		return nil
	}
	return &w
}

// UserFilter narrows ListUsers.
type UserFilter struct {
	Search  string
	ClassID string
	Role    Role
	Limit   int
	Offset  int
}
