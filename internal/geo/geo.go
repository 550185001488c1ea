// Package geo holds the distance, geofence and workday-window arithmetic used
// when gating check-ins and when building compliance reports.
package geo

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// EarthRadiusMeters is the mean Earth radius used by Distance.
const EarthRadiusMeters = 6371008.8

// Point is a WGS84 coordinate in decimal degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the point lies within the coordinate ranges.
func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// Distance returns the great-circle distance between a and b in meters.
func Distance(a, b Point) float64 {
	lat1 := radians(a.Lat)
	lat2 := radians(b.Lat)
	dLat := radians(b.Lat - a.Lat)
	dLng := radians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	if h > 1 {
		h = 1
	}
	return 2 * EarthRadiusMeters * math.Asin(math.Sqrt(h))
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

// Fence is a circular zone.
type Fence struct {
	Center Point   `json:"center"`
	Radius float64 `json:"radius"`
}

// Contains reports whether p is within the fence. The boundary is inside.
func (f Fence) Contains(p Point) bool {
	return Distance(f.Center, p) <= f.Radius
}

// Validate checks the fence has a usable center and a positive radius.
func (f Fence) Validate() error {
	if !f.Center.Valid() {
		return errors.New("geofence center out of range")
	}
	if f.Radius <= 0 || math.IsNaN(f.Radius) || math.IsInf(f.Radius, 0) {
		return errors.New("geofence radius must be positive")
	}
	return nil
}

// ClockLayout is the wall-clock format used for workday boundaries.
const ClockLayout = "15:04"

// Clock is a time of day expressed as the offset from midnight.
type Clock time.Duration

// ParseClock parses an HH:mm string.
func ParseClock(s string) (Clock, error) {
	t, err := time.Parse(ClockLayout, s)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	return Clock(time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute), nil
}

// ClockOf returns the time of day of t in t's own location.
func ClockOf(t time.Time) Clock {
	return Clock(time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second)
}

func (c Clock) String() string {
	d := time.Duration(c)
	return fmt.Sprintf("%02d:%02d", int(d.Hours()), int(d.Minutes())%60)
}

// Window is a workday bounded by Start and End.
type Window struct {
	Start Clock
	End   Clock
}

// ParseWindow parses HH:mm start and end boundaries.
func ParseWindow(start, end string) (Window, error) {
	s, err := ParseClock(start)
	if err != nil {
		return Window{}, err
	}
	e, err := ParseClock(end)
	if err != nil {
		return Window{}, err
	}
	w := Window{Start: s, End: e}
	return w, w.Validate()
}

// Validate requires End to come after Start.
func (w Window) Validate() error {
	if w.End <= w.Start {
		return fmt.Errorf("workday end %s must be after start %s", w.End, w.Start)
	}
	return nil
}

// Late reports whether a check-in at t strictly exceeds the start boundary.
func (w Window) Late(t time.Time) bool {
	return ClockOf(t) > w.Start
}

// EarlyExit reports whether an exit at t is strictly before the end boundary.
func (w Window) EarlyExit(t time.Time) bool {
	return ClockOf(t) < w.End
}
