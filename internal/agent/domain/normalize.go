package domain

import (
	"fmt"
	"sort"
)

// Warning is a non-fatal data problem found while normalizing a raw trip.
// The offending record is dropped or defaulted; the rest of the trip still
// renders.
type Warning struct {
	StopID string `json:"stopId,omitempty"`
	Reason string `json:"reason"`
}

func (w Warning) String() string {
	if w.StopID == "" {
		return w.Reason
	}
	return fmt.Sprintf("stop %s: %s", w.StopID, w.Reason)
}

// Normalize folds a raw trip payload into the canonical model: exactly one
// tuple per (stop, student) pair, keyed by student id, plus a scalar status
// for school/student-less stops.
//
// A scalar raw status on a multi-student stop is broadcast to every
// occupant. A per-student array is assigned positionally, which requires the
// two arrays to agree in length; a mismatch fails closed with
// ErrStatusLengthMismatch so the caller keeps its prior canonical state.
// Stops missing stopId or sequence are dropped with a warning.
func Normalize(raw RawTrip) (Trip, []Warning, error) {
	trip := Trip{
		ID:         raw.ID,
		RouteID:    raw.RouteID.ID,
		RouteName:  raw.RouteID.Name,
		DriverID:   raw.DriverID.ID,
		DriverName: raw.DriverID.Name,
		Date:       raw.Date,
		Direction:  raw.Direction,
		Status:     raw.Status,
	}
	if !trip.Status.IsValid() {
		trip.Status = TripScheduled
	}
	if raw.RouteID.SchoolID != nil && raw.RouteID.SchoolID.Location != nil {
		if err := raw.RouteID.SchoolID.Location.Validate(); err == nil {
			loc := raw.RouteID.SchoolID.Location.LatLng()
			trip.School = &loc
		}
	}

	var warnings []Warning

	for _, rs := range raw.Stops {
		if rs.StopID == "" {
			warnings = append(warnings, Warning{Reason: "missing stopId, stop dropped"})
			continue
		}
		if rs.Sequence == nil {
			warnings = append(warnings, Warning{StopID: rs.StopID, Reason: "missing sequence, stop dropped"})
			continue
		}

		stop, stopWarnings, err := normalizeStop(rs)
		if err != nil {
			return Trip{}, warnings, fmt.Errorf("stop %s: %w", rs.StopID, err)
		}
		warnings = append(warnings, stopWarnings...)
		trip.Stops = append(trip.Stops, stop)
	}

	sort.SliceStable(trip.Stops, func(i, j int) bool {
		return trip.Stops[i].Sequence < trip.Stops[j].Sequence
	})

	return trip, warnings, nil
}

func normalizeStop(rs RawStop) (Stop, []Warning, error) {
	stop := Stop{
		StopID:      rs.StopID,
		Sequence:    *rs.Sequence,
		Type:        rs.Type,
		PlannedTime: rs.PlannedTime,
		ActualTime:  rs.ActualTime,
	}

	occupants := rs.Students
	if len(occupants) == 0 && rs.StudentID != nil {
		occupants = []RawStudent{*rs.StudentID}
	}

	var warnings []Warning

	if len(occupants) == 0 {
		// School or otherwise student-less stop: scalar status only.
		status, w := scalarStatus(rs)
		stop.Status = status
		if w != nil {
			w.StopID = rs.StopID
			warnings = append(warnings, *w)
		}
		return stop, warnings, nil
	}

	if rs.Status.IsList && len(rs.Status.List) != len(occupants) {
		return Stop{}, nil, fmt.Errorf("%w: %d statuses for %d students",
			ErrStatusLengthMismatch, len(rs.Status.List), len(occupants))
	}

	stop.Students = make([]StudentTuple, len(occupants))
	for i, occ := range occupants {
		status := StopPending
		if rs.Status.IsList {
			status = StopStatus(rs.Status.List[i])
		} else if rs.Status.Scalar != "" {
			// Scalar broadcast to every occupant. The upstream data does
			// not say which student it belonged to.
			status = StopStatus(rs.Status.Scalar)
		}
		if !status.IsValid() {
			warnings = append(warnings, Warning{
				StopID: rs.StopID,
				Reason: fmt.Sprintf("unknown status %q for student %s, defaulted to pending", status, occ.ID),
			})
			status = StopPending
		}

		tuple := StudentTuple{
			StudentID: occ.ID,
			Name:      occ.Name,
			Class:     occ.Class,
			Status:    status,
		}
		if status.IsResolved() {
			tuple.ActualTime = rs.ActualTime
		}
		stop.Students[i] = tuple

		if stop.Location == nil && occ.Parent != nil && occ.Parent.Location != nil {
			if err := occ.Parent.Location.Validate(); err == nil {
				loc := occ.Parent.Location.LatLng()
				stop.Location = &loc
			} else {
				warnings = append(warnings, Warning{
					StopID: rs.StopID,
					Reason: fmt.Sprintf("invalid pickup location: %v", err),
				})
			}
		}
	}

	return stop, warnings, nil
}

func scalarStatus(rs RawStop) (StopStatus, *Warning) {
	raw := rs.Status.Scalar
	if rs.Status.IsList {
		// An array on a student-less stop is a shape anomaly; take the
		// first entry rather than losing the stop.
		if len(rs.Status.List) > 0 {
			raw = rs.Status.List[0]
		}
		return coerceStatus(raw, &Warning{Reason: "array status on student-less stop"})
	}
	return coerceStatus(raw, nil)
}

func coerceStatus(raw string, w *Warning) (StopStatus, *Warning) {
	if raw == "" {
		return StopPending, w
	}
	status := StopStatus(raw)
	if !status.IsValid() {
		return StopPending, &Warning{Reason: fmt.Sprintf("unknown status %q, defaulted to pending", raw)}
	}
	return status, w
}
