// Package leave tracks leave and on-duty requests and their approval.
package leave

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeLeave Type = "LEAVE"
	TypeOD    Type = "OD"
)

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

// DateLayout is the calendar format for StartDate and EndDate.
const DateLayout = "2006-01-02"

var (
	ErrNotFound       = errors.New("leave request not found")
	ErrInvalid        = errors.New("invalid leave request")
	ErrAlreadyDecided = errors.New("leave request already decided")
	ErrBadDecision    = errors.New("decision must be APPROVED or REJECTED")
	ErrSelfDecision   = errors.New("cannot decide your own request")
)

// Request is one leave or on-duty application.
type Request struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	Type      Type      `json:"type"`
	StartDate string    `json:"startDate"`
	EndDate   string    `json:"endDate"`
	Reason    string    `json:"reason"`
	Status    Status    `json:"status"`
	DecidedBy *string   `json:"decidedBy,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Application is what a user submits.
type Application struct {
	Type      Type   `json:"type"`
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
	Reason    string `json:"reason"`
}

func (a Application) Validate() error {
	if a.Type != TypeLeave && a.Type != TypeOD {
		return fmt.Errorf("%w: type must be LEAVE or OD", ErrInvalid)
	}
	start, err := time.Parse(DateLayout, a.StartDate)
	if err != nil {
		return fmt.Errorf("%w: start date must be YYYY-MM-DD", ErrInvalid)
	}
	end, err := time.Parse(DateLayout, a.EndDate)
	if err != nil {
		return fmt.Errorf("%w: end date must be YYYY-MM-DD", ErrInvalid)
	}
	if end.Before(start) {
		return fmt.Errorf("%w: end date before start date", ErrInvalid)
	}
	if strings.TrimSpace(a.Reason) == "" {
		return fmt.Errorf("%w: reason required", ErrInvalid)
	}
	return nil
}

func newRequest(userID, userName string, a Application, now time.Time) Request {
	return Request{
		ID:        uuid.NewString(),
		UserID:    userID,
		UserName:  userName,
		Type:      a.Type,
		StartDate: a.StartDate,
		EndDate:   a.EndDate,
		Reason:    strings.TrimSpace(a.Reason),
		Status:    StatusPending,
		CreatedAt: now.UTC(),
	}
}

// Days is the inclusive length of the request in calendar days.
func (r Request) Days() int {
	start, err1 := time.Parse(DateLayout, r.StartDate)
	end, err2 := time.Parse(DateLayout, r.EndDate)
	if err1 != nil || err2 != nil || end.Before(start) {
		return 0
	}
	return int(end.Sub(start).Hours()/24) + 1
}

// Covers reports whether date falls inside an approved request.
func (r Request) Covers(date string) bool {
	return r.Status == StatusApproved && r.StartDate <= date && date <= r.EndDate
}
