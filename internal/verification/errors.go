package verification

import (
	"errors"
	"fmt"
)

// Every failure a session reports unwraps to one of these.
var (
	ErrLocationUnavailable  = errors.New("location unavailable")
	ErrCameraUnavailable    = errors.New("camera unavailable")
	ErrComparator           = errors.New("face comparison failed")
	ErrComparatorTimeout    = errors.New("face comparison timed out")
	ErrPersistence          = errors.New("attendance record could not be saved")
	ErrInvalidTwoFactorCode = errors.New("invalid two-factor code")
	ErrTwoFactorUnavailable = errors.New("two-factor challenge unavailable")
	ErrNotEnrolled          = errors.New("no facial templates enrolled")
	ErrPrecondition         = errors.New("verification precondition not met")
	ErrInvalidTransition    = errors.New("action not allowed in current state")
	ErrBusy                 = errors.New("face comparison in progress")
	ErrSessionClosed        = errors.New("verification session already completed or closed")
	ErrOutsideGeofence      = errors.New("location is outside the class geofence")
	ErrCancelled            = errors.New("verification cancelled")
	ErrInvalidBypassStatus  = errors.New("bypass status must be PRESENT or OD")
)

// Precondition names reported by PreconditionError.
const (
	MissingLocation = "location"
	MissingFrame    = "frame"
)

// PreconditionError refuses Confirm when a capture input is missing.
type PreconditionError struct {
	Missing string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("cannot confirm identity: no %s acquired yet", e.Missing)
}

func (e *PreconditionError) Unwrap() error { return ErrPrecondition }

// RejectedError is a comparator answer that did not clear the threshold.
type RejectedError struct {
	IsMatch    bool
	Confidence float64
	Threshold  int
	Reason     string
}

func (e *RejectedError) Error() string {
	msg := "face not matched"
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return fmt.Sprintf("%s (confidence %.0f, required %d)", msg, e.Confidence, e.Threshold)
}

func (e *RejectedError) Unwrap() error { return ErrComparator }

// TransitionError names the action a state refused.
type TransitionError struct {
	From   State
	Action string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s while %s", e.Action, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }
