// Package verification runs a single attendance verification attempt:
// optional second factor, camera capture, face comparison against enrolled
// templates and commit of the resulting record.
package verification

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"attendify/internal/attendance"
	"attendify/internal/geo"
)

// State is the phase a session is in.
type State string

const (
	StateIdle      State = "IDLE"
	StateTwoFactor State = "TWO_FACTOR"
	StateCapturing State = "CAPTURING"
	StateMatching  State = "MATCHING"
	StateSuccess   State = "SUCCESS"
)

const (
	DefaultSensitivity       = 75
	DefaultMaxTemplates      = 3
	DefaultComparatorTimeout = 20 * time.Second
)

// Locator acquires the current device position.
type Locator interface {
	Locate(ctx context.Context) (geo.Point, error)
}

// Camera opens a live capture stream. The stream must be closed on every
// path out of capture.
type Camera interface {
	Open(ctx context.Context) (Stream, error)
}

type Stream interface {
	Frame(ctx context.Context) ([]byte, error)
	Close() error
}

// Match is a comparator verdict. Confidence is on a 0-100 scale.
type Match struct {
	IsMatch    bool
	Confidence float64
	Reason     string
}

// Comparator decides whether a live frame shows the person in the templates.
type Comparator interface {
	CompareFaces(ctx context.Context, live []byte, templates [][]byte, threshold int) (Match, error)
}

// RecordStore commits attendance records.
type RecordStore interface {
	AddAttendance(ctx context.Context, rec attendance.Record) error
}

// SecondFactor issues and checks one-time codes.
type SecondFactor interface {
	Issue(ctx context.Context, userID string) error
	Check(ctx context.Context, userID, code string) (bool, error)
}

// Settings are the user's verification preferences.
type Settings struct {
	// Sensitivity is the minimum accepted confidence. Nil means DefaultSensitivity.
	Sensitivity      *int
	RequireTwoFactor bool
}

// Threshold resolves the effective acceptance threshold.
func (s Settings) Threshold() int {
	if s.Sensitivity == nil {
		return DefaultSensitivity
	}
	return *s.Sensitivity
}

// Subject is the identity being verified, snapshotted when the session is
// created. Templates are ordered newest first.
type Subject struct {
	UserID    string
	Templates [][]byte
	Settings  Settings
	Fence     *geo.Fence
	Window    *geo.Window
}

type Deps struct {
	Locator      Locator
	Camera       Camera
	Comparator   Comparator
	Records      RecordStore
	SecondFactor SecondFactor
}

type Options struct {
	MaxTemplates      int
	ComparatorTimeout time.Duration
	// EnforceGeofence refuses a match whose location lies outside Subject.Fence.
	EnforceGeofence bool
	Location        *time.Location
	Logger          zerolog.Logger
}

// Session is one verification attempt. All methods are safe for concurrent use.
type Session struct {
	id      string
	subject Subject
	deps    Deps
	opts    Options
	now     func() time.Time

	mu           sync.Mutex
	state        State
	stream       Stream
	location     *geo.Point
	frame        []byte
	matchStarted time.Time
	cancelMatch  context.CancelFunc
	attempt      int
	record       *attendance.Record
	late         bool
	closed       bool
	lastErr      error
	lastActive   time.Time
	log          zerolog.Logger
}

// New snapshots subject and returns an idle session.
func New(subject Subject, deps Deps, opts Options) (*Session, error) {
	if subject.UserID == "" {
		return nil, errors.New("verification: user id required")
	}
	if deps.Locator == nil || deps.Camera == nil || deps.Comparator == nil || deps.Records == nil {
		return nil, errors.New("verification: locator, camera, comparator and record store are required")
	}
	if subject.Settings.RequireTwoFactor && deps.SecondFactor == nil {
		return nil, errors.New("verification: second factor required by settings but not configured")
	}
	if t := subject.Settings.Threshold(); t < 0 || t > 100 {
		return nil, fmt.Errorf("verification: sensitivity %d out of range", t)
	}
	if opts.MaxTemplates <= 0 {
		opts.MaxTemplates = DefaultMaxTemplates
	}
	if opts.ComparatorTimeout <= 0 {
		opts.ComparatorTimeout = DefaultComparatorTimeout
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}

	templates := subject.Templates
	if len(templates) > opts.MaxTemplates {
		templates = templates[:opts.MaxTemplates]
	}
	subject.Templates = append([][]byte(nil), templates...)

	id := uuid.NewString()
	s := &Session{
		id:      id,
		subject: subject,
		deps:    deps,
		opts:    opts,
		now:     time.Now,
		state:   StateIdle,
		log:     opts.Logger.With().Str("session", id).Str("user_id", subject.UserID).Logger(),
	}
	s.lastActive = s.now()
	return s, nil
}

func (s *Session) ID() string     { return s.id }
func (s *Session) UserID() string { return s.subject.UserID }

// Deps exposes the collaborators the session was built with.
func (s *Session) Deps() Deps { return s.deps }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Begin starts the attempt. From TWO_FACTOR or CAPTURING it restarts,
// releasing the open stream first.
func (s *Session) Begin(ctx context.Context) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	switch {
	case s.closed, s.state == StateSuccess:
		return s.state, ErrSessionClosed
	case s.state == StateMatching:
		return s.state, ErrBusy
	case s.state == StateTwoFactor, s.state == StateCapturing:
		s.log.Debug().Str("from", string(s.state)).Msg("verification restarted")
		s.resetLocked()
	}
	s.lastErr = nil

	if len(s.subject.Templates) == 0 {
		err := s.failLocked(ErrNotEnrolled, "")
		return s.state, err
	}

	if s.subject.Settings.RequireTwoFactor {
		if err := s.deps.SecondFactor.Issue(ctx, s.subject.UserID); err != nil {
			err = s.failLocked(fmt.Errorf("%w: %w", ErrTwoFactorUnavailable, err), outcomeTwoFactor)
			return s.state, err
		}
		s.state = StateTwoFactor
		return s.state, nil
	}
	err := s.openLocked(ctx)
	return s.state, err
}

// SubmitCode checks a second-factor code. A wrong code leaves the session in
// TWO_FACTOR so the user can retry.
func (s *Session) SubmitCode(ctx context.Context, code string) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	if s.state != StateTwoFactor {
		return s.state, &TransitionError{From: s.state, Action: "submit code"}
	}
	ok, err := s.deps.SecondFactor.Check(ctx, s.subject.UserID, code)
	if err != nil {
		s.lastErr = fmt.Errorf("%w: %w", ErrTwoFactorUnavailable, err)
		return s.state, s.lastErr
	}
	if !ok {
		s.lastErr = ErrInvalidTwoFactorCode
		return s.state, ErrInvalidTwoFactorCode
	}
	s.lastErr = nil
	err = s.openLocked(ctx)
	return s.state, err
}

// Locate acquires the device position for the pending match.
func (s *Session) Locate(ctx context.Context) (geo.Point, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	if s.state != StateCapturing {
		return geo.Point{}, &TransitionError{From: s.state, Action: "acquire location"}
	}
	p, err := s.deps.Locator.Locate(ctx)
	if err == nil && !p.Valid() {
		err = fmt.Errorf("coordinates %v out of range", p)
	}
	if err != nil {
		return geo.Point{}, s.failLocked(fmt.Errorf("%w: %w", ErrLocationUnavailable, err), outcomeLocation)
	}
	s.location = &p
	return p, nil
}

// Capture grabs a frame from the open stream. A later capture replaces an
// earlier one.
func (s *Session) Capture(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	if s.state != StateCapturing {
		return &TransitionError{From: s.state, Action: "capture"}
	}
	frame, err := s.stream.Frame(ctx)
	if err == nil && len(frame) == 0 {
		err = errors.New("empty frame")
	}
	if err != nil {
		return s.failLocked(fmt.Errorf("%w: %w", ErrCameraUnavailable, err), outcomeCamera)
	}
	s.frame = frame
	return nil
}

// Confirm compares the captured frame against the enrolled templates and, on
// a match, commits a PRESENT record before reporting success. The lock is not
// held while the comparator runs so Snapshot and Cancel stay responsive.
func (s *Session) Confirm(ctx context.Context) (attendance.Record, error) {
	s.mu.Lock()
	s.touch()
	if s.closed {
		s.mu.Unlock()
		return attendance.Record{}, ErrSessionClosed
	}
	if s.state != StateCapturing {
		defer s.mu.Unlock()
		return attendance.Record{}, &TransitionError{From: s.state, Action: "confirm"}
	}
	if s.location == nil {
		s.mu.Unlock()
		return attendance.Record{}, &PreconditionError{Missing: MissingLocation}
	}
	if s.frame == nil {
		s.mu.Unlock()
		return attendance.Record{}, &PreconditionError{Missing: MissingFrame}
	}

	mctx, cancel := context.WithTimeout(ctx, s.opts.ComparatorTimeout)
	defer cancel()
	s.state = StateMatching
	s.matchStarted = s.now()
	s.cancelMatch = cancel
	s.attempt++
	s.lastErr = nil
	attempt := s.attempt
	live, loc, threshold := s.frame, *s.location, s.subject.Settings.Threshold()
	s.mu.Unlock()

	start := time.Now()
	m, err := s.deps.Comparator.CompareFaces(mctx, live, s.subject.Templates, threshold)
	comparatorSeconds.Observe(time.Since(start).Seconds())
	timedOut := errors.Is(mctx.Err(), context.DeadlineExceeded)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	if s.closed || s.state != StateMatching || s.attempt != attempt {
		return attendance.Record{}, ErrCancelled
	}
	s.cancelMatch = nil
	switch {
	case timedOut:
		return attendance.Record{}, s.failLocked(fmt.Errorf("%w: %w", ErrComparatorTimeout, ErrComparator), outcomeTimeout)
	case err != nil:
		return attendance.Record{}, s.failLocked(fmt.Errorf("%w: %w", ErrComparator, err), outcomeComparator)
	case !(m.Confidence >= 0 && m.Confidence <= 100):
		return attendance.Record{}, s.failLocked(fmt.Errorf("%w: confidence %.1f out of range", ErrComparator, m.Confidence), outcomeComparator)
	}
	if !m.IsMatch || !(m.Confidence >= float64(threshold)) {
		rej := &RejectedError{IsMatch: m.IsMatch, Confidence: m.Confidence, Threshold: threshold, Reason: m.Reason}
		return attendance.Record{}, s.failLocked(rej, outcomeRejected)
	}
	if s.opts.EnforceGeofence && s.subject.Fence != nil && !s.subject.Fence.Contains(loc) {
		return attendance.Record{}, s.failLocked(ErrOutsideGeofence, outcomeGeofence)
	}

	score := m.Confidence
	rec := attendance.NewRecord(s.subject.UserID, s.now().In(s.opts.Location), attendance.StatusPresent, loc, attendance.DeviceBiometric, &score)
	s.releaseLocked()
	if err := s.deps.Records.AddAttendance(ctx, rec); err != nil {
		return attendance.Record{}, s.failLocked(fmt.Errorf("%w: %w", ErrPersistence, err), outcomePersistence)
	}
	s.succeedLocked(rec, outcomeSuccess)
	s.log.Info().
		Str("record", rec.ID).
		Float64("confidence", score).
		Int("threshold", threshold).
		Bool("late", s.late).
		Msg("identity verified")
	return rec, nil
}

// Skip commits an unverified record with the bypass device tag. Allowed from
// IDLE or CAPTURING only.
func (s *Session) Skip(ctx context.Context, status attendance.Status) (attendance.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	if s.closed {
		return attendance.Record{}, ErrSessionClosed
	}
	if s.state != StateIdle && s.state != StateCapturing {
		return attendance.Record{}, &TransitionError{From: s.state, Action: "skip verification"}
	}
	if status != attendance.StatusPresent && status != attendance.StatusOD {
		return attendance.Record{}, ErrInvalidBypassStatus
	}
	var loc geo.Point
	if s.location != nil {
		loc = *s.location
	}
	rec := attendance.NewRecord(s.subject.UserID, s.now().In(s.opts.Location), status, loc, attendance.DeviceBypass, nil)
	s.releaseLocked()
	if err := s.deps.Records.AddAttendance(ctx, rec); err != nil {
		return attendance.Record{}, s.failLocked(fmt.Errorf("%w: %w", ErrPersistence, err), outcomePersistence)
	}
	s.succeedLocked(rec, outcomeBypass)
	s.log.Info().Str("record", rec.ID).Str("status", string(status)).Bool("late", s.late).Msg("verification skipped")
	return rec, nil
}

// Cancel abandons the attempt and returns to IDLE. An in-flight comparison
// is cancelled and its answer discarded. A completed session is left as is.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	if s.state == StateSuccess || s.state == StateIdle {
		return
	}
	if s.cancelMatch != nil {
		s.cancelMatch()
		s.cancelMatch = nil
	}
	outcomes.WithLabelValues(outcomeCancelled).Inc()
	s.resetLocked()
	s.lastErr = ErrCancelled
}

// Close releases any held resources. The session should not be used after.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

// closeUnlessMatching closes the session unless a comparison is in flight.
func (s *Session) closeUnlessMatching() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateMatching {
		return false
	}
	s.closeLocked()
	return true
}

// closeIfIdle closes the session when it is not matching and was last
// touched before cutoff.
func (s *Session) closeIfIdle(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateMatching || s.lastActive.After(cutoff) {
		return false
	}
	s.closeLocked()
	return true
}

// closeLocked cancels any comparison and releases the stream. A comparator
// answer arriving afterwards is discarded.
func (s *Session) closeLocked() {
	if s.cancelMatch != nil {
		s.cancelMatch()
		s.cancelMatch = nil
	}
	s.releaseLocked()
	s.closed = true
}

// Snapshot is the externally visible view of a session.
type Snapshot struct {
	ID          string             `json:"id"`
	UserID      string             `json:"userId"`
	State       State              `json:"state"`
	Progress    int                `json:"progress"`
	HasLocation bool               `json:"hasLocation"`
	HasFrame    bool               `json:"hasFrame"`
	Location    *geo.Point         `json:"location,omitempty"`
	Record      *attendance.Record `json:"record,omitempty"`
	Late        bool               `json:"late,omitempty"`
	Error       string             `json:"error,omitempty"`
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ID:          s.id,
		UserID:      s.subject.UserID,
		State:       s.state,
		HasLocation: s.location != nil,
		HasFrame:    s.frame != nil,
		Record:      s.record,
		Late:        s.late,
	}
	if s.location != nil {
		p := *s.location
		snap.Location = &p
	}
	switch s.state {
	case StateMatching:
		snap.Progress = Progress(s.now().Sub(s.matchStarted), s.opts.ComparatorTimeout/4)
	case StateSuccess:
		snap.Progress = 100
	}
	if s.lastErr != nil {
		snap.Error = s.lastErr.Error()
	}
	return snap
}

// Err returns the failure that last sent the session back to IDLE, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Session) touch() { s.lastActive = s.now() }

func (s *Session) openLocked(ctx context.Context) error {
	stream, err := s.deps.Camera.Open(ctx)
	if err != nil {
		return s.failLocked(fmt.Errorf("%w: %w", ErrCameraUnavailable, err), outcomeCamera)
	}
	s.stream = stream
	s.state = StateCapturing
	return nil
}

func (s *Session) releaseLocked() {
	if s.stream == nil {
		return
	}
	if err := s.stream.Close(); err != nil {
		s.log.Warn().Err(err).Msg("camera release failed")
	}
	s.stream = nil
}

// resetLocked drops every capture input and returns to IDLE.
func (s *Session) resetLocked() {
	s.releaseLocked()
	s.location = nil
	s.frame = nil
	s.state = StateIdle
}

func (s *Session) failLocked(err error, outcome string) error {
	s.resetLocked()
	s.lastErr = err
	if outcome == "" {
		outcome = outcomeUnclassified
	}
	outcomes.WithLabelValues(outcome).Inc()
	s.log.Warn().Err(err).Str("outcome", outcome).Msg("verification failed")
	return err
}

func (s *Session) succeedLocked(rec attendance.Record, outcome string) {
	s.location = nil
	s.frame = nil
	s.record = &rec
	s.late = s.subject.Window != nil && s.subject.Window.Late(rec.RecordedAt.In(s.opts.Location))
	s.state = StateSuccess
	s.lastErr = nil
	outcomes.WithLabelValues(outcome).Inc()
}
