package attendance

import (
	"context"
	"time"

	"attendify/internal/geo"
)

// Compliance is the derived geofence/time view of one record. Nil flags mean
// the class has no corresponding rule configured.
type Compliance struct {
	Record    Record `json:"record"`
	InBounds  *bool  `json:"inBounds,omitempty"`
	Late      *bool  `json:"late,omitempty"`
	EarlyExit *bool  `json:"earlyExit,omitempty"`
}

// Evaluate derives compliance flags for rec.
func Evaluate(rec Record, fence *geo.Fence, window *geo.Window, loc *time.Location) Compliance {
	c := Compliance{Record: rec}
	if fence != nil && rec.Located() {
		in := fence.Contains(rec.Location)
		c.InBounds = &in
	}
	if window != nil {
		if at, err := rec.WallClock(loc); err == nil {
			late := window.Late(at)
			c.Late = &late
		}
		if rec.LeftGeofenceAt != nil {
			early := window.EarlyExit(rec.LeftGeofenceAt.In(loc))
			c.EarlyExit = &early
		}
	}
	return c
}

// ReportQuery selects the records of a class for one day.
type ReportQuery struct {
	UserIDs []string
	Date    string
	Fence   *geo.Fence
	Window  *geo.Window
}

// Report evaluates every record of the given users on the given day.
func (s *Service) Report(ctx context.Context, q ReportQuery) ([]Compliance, error) {
	if len(q.UserIDs) == 0 {
		return []Compliance{}, nil
	}
	if q.Date == "" {
		q.Date = s.Now().Format(DateLayout)
	}
	recs, err := s.repo.List(ctx, Filter{UserIDs: q.UserIDs, Date: q.Date, Limit: 1000})
	if err != nil {
		return nil, err
	}
	out := make([]Compliance, 0, len(recs))
	for _, r := range recs {
		out = append(out, Evaluate(r, q.Fence, q.Window, s.loc))
	}
	return out, nil
}

// ReminderSettings are the user preferences reminders depend on.
type ReminderSettings struct {
	Enabled      bool
	WorkdayStart string
	WorkdayEnd   string
}

const (
	MorningReminder  = "Good morning! Don't forget to mark your attendance for today."
	EndOfDayReminder = "End of workday reached! Please ensure your attendance is logged."
	morningCutoff    = "11:00"
	defaultDayStart  = "09:00"
	defaultDayEnd    = "17:00"
)

// Reminder returns the nudge to show a user at now, or "" for none.
func Reminder(now time.Time, rs ReminderSettings, checkedIn bool) string {
	if !rs.Enabled || checkedIn {
		return ""
	}
	start, err := geo.ParseClock(orDefault(rs.WorkdayStart, defaultDayStart))
	if err != nil {
		return ""
	}
	end, err := geo.ParseClock(orDefault(rs.WorkdayEnd, defaultDayEnd))
	if err != nil {
		return ""
	}
	cutoff, _ := geo.ParseClock(morningCutoff)

	cur := geo.Clock(time.Duration(geo.ClockOf(now)).Truncate(time.Minute))
	switch {
	case cur >= start && cur <= cutoff:
		return MorningReminder
	case cur >= end:
		return EndOfDayReminder
	}
	return ""
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// ReminderFor loads today's state for userID and returns its reminder.
func (s *Service) ReminderFor(ctx context.Context, userID string, rs ReminderSettings) (string, error) {
	done, err := s.CheckedInToday(ctx, userID)
	if err != nil {
		return "", err
	}
	return Reminder(s.Now(), rs, done), nil
}
