package domain

import (
	"errors"
	"fmt"
	"time"

	"school-transit/pkg/geo"
)

// Domain errors
var (
	ErrUnknownTrip          = errors.New("trip not found")
	ErrUnknownStop          = errors.New("stop not found on trip")
	ErrUnknownStudent       = errors.New("student not found at stop")
	ErrInvalidStatus        = errors.New("invalid status value")
	ErrStatusLengthMismatch = errors.New("per-student status array does not match students array")
	ErrScalarStopHasStudent = errors.New("student id given for a stop without students")
)

// Trip is one scheduled run of a route on a given date and direction. It
// owns an ordered set of stops and is the unit the store tracks.
type Trip struct {
	ID         string     `json:"tripId"`
	RouteID    string     `json:"routeId"`
	RouteName  string     `json:"routeName,omitempty"`
	DriverID   string     `json:"driverId"`
	DriverName string     `json:"driverName,omitempty"`
	Date       string     `json:"date"`
	Direction  Direction  `json:"direction"`
	Status     TripStatus `json:"status"`
	School     *geo.LatLng `json:"school,omitempty"`
	Stops      []Stop     `json:"stops"`
}

// Stop is a waypoint on the trip's route, ordered by Sequence. It always
// owns zero or more student tuples; a school or otherwise student-less stop
// carries its own scalar status instead.
type Stop struct {
	StopID      string         `json:"stopId"`
	Sequence    int            `json:"sequence"`
	Type        string         `json:"type,omitempty"`
	PlannedTime string         `json:"plannedTime"`
	ActualTime  string         `json:"actualTime,omitempty"`
	Status      StopStatus     `json:"status"`
	Location    *geo.LatLng    `json:"location,omitempty"`
	Students    []StudentTuple `json:"students"`

	// PendingConfirm mirrors StudentTuple.PendingConfirm for the scalar
	// status of a student-less stop. Remote merges always clear it.
	PendingConfirm bool `json:"pendingConfirm,omitempty"`
}

// StudentTuple is the canonical unit of status tracking: one student's state
// at one stop. Tuples are owned by their stop and keyed by student id, never
// by array position (the positional form only exists in raw payloads).
type StudentTuple struct {
	StudentID  string     `json:"studentId"`
	Name       string     `json:"name,omitempty"`
	Class      string     `json:"class,omitempty"`
	Status     StopStatus `json:"status"`
	ActualTime string     `json:"actualTime,omitempty"`

	// PendingConfirm marks a locally applied optimistic value that the
	// server has not echoed back yet. Remote merges always clear it.
	PendingConfirm bool `json:"pendingConfirm,omitempty"`
}

// IsResolved reports whether every tuple at the stop (or the scalar status
// for a student-less stop) is terminal.
func (s Stop) IsResolved() bool {
	if len(s.Students) == 0 {
		return s.Status.IsResolved()
	}
	for _, t := range s.Students {
		if !t.Status.IsResolved() {
			return false
		}
	}
	return true
}

// FindStudent returns the index of the tuple for the given student id, or -1.
func (s Stop) FindStudent(studentID string) int {
	for i, t := range s.Students {
		if t.StudentID == studentID {
			return i
		}
	}
	return -1
}

// IsAutoCompletable reports whether every stop on the trip is resolved, the
// condition for offering trip auto-completion to the driver.
func (t Trip) IsAutoCompletable() bool {
	if len(t.Stops) == 0 {
		return false
	}
	for _, s := range t.Stops {
		if !s.IsResolved() {
			return false
		}
	}
	return true
}

// FindStop returns the index of the stop with the given id, or -1.
func (t Trip) FindStop(stopID string) int {
	for i, s := range t.Stops {
		if s.StopID == stopID {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy so snapshots handed to callers cannot alias the
// store's state.
func (t Trip) Clone() Trip {
	out := t
	if t.School != nil {
		school := *t.School
		out.School = &school
	}
	out.Stops = make([]Stop, len(t.Stops))
	for i, s := range t.Stops {
		cs := s
		if s.Location != nil {
			loc := *s.Location
			cs.Location = &loc
		}
		cs.Students = append([]StudentTuple(nil), s.Students...)
		out.Stops[i] = cs
	}
	return out
}

// ParsePlannedTime parses an HH:mm planned time onto today's date in the
// given location.
func ParsePlannedTime(planned string, now time.Time) (time.Time, error) {
	parsed, err := time.ParseInLocation("15:04", planned, now.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid planned time %q: %w", planned, err)
	}
	return time.Date(now.Year(), now.Month(), now.Day(),
		parsed.Hour(), parsed.Minute(), 0, 0, now.Location()), nil
}

// EstimateArrival renders a human-readable ETA for a pending stop of an
// in-progress trip, or "" when no estimate applies.
func EstimateArrival(planned string, tripStatus TripStatus, now time.Time) string {
	if tripStatus != TripInProgress {
		return ""
	}
	at, err := ParsePlannedTime(planned, now)
	if err != nil {
		return ""
	}
	// A planned time far in the past means the HH:mm rolled over midnight.
	if at.Before(now.Add(-12 * time.Hour)) {
		at = at.Add(24 * time.Hour)
	}

	diff := int(at.Sub(now).Minutes())
	switch {
	case diff <= 0:
		return "due now"
	case diff <= 60:
		return fmt.Sprintf("in %d min", diff)
	default:
		return fmt.Sprintf("in %d hr %d min", diff/60, diff%60)
	}
}
