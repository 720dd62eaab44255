package domain

import (
	"encoding/json"
	"fmt"

	"school-transit/pkg/geo"
)

// Raw payload shapes as the backend sends them. Two API surfaces produce
// trips with slightly different stop shapes (single annotated student vs. a
// students array with a parallel status array); Normalize folds both into
// the canonical model.

type RawTrip struct {
	ID        string     `json:"_id"`
	RouteID   RawRoute   `json:"routeId"`
	DriverID  RawDriver  `json:"driverId"`
	Date      string     `json:"date"`
	Direction Direction  `json:"direction"`
	Status    TripStatus `json:"status"`
	Stops     []RawStop  `json:"stops"`
}

type RawRoute struct {
	ID        string     `json:"_id"`
	Name      string     `json:"name"`
	Direction Direction  `json:"direction"`
	SchoolID  *RawSchool `json:"schoolId,omitempty"`
}

type RawSchool struct {
	ID       string     `json:"_id"`
	Name     string     `json:"name"`
	Location *geo.Point `json:"location,omitempty"`
}

// RawDriver tolerates both the populated object form and a bare id string.
type RawDriver struct {
	ID       string
	Name     string
	Phone    string
	Location *geo.Point
}

func (d *RawDriver) UnmarshalJSON(data []byte) error {
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		d.ID = id
		return nil
	}

	var obj struct {
		ID              string     `json:"_id"`
		Name            string     `json:"name"`
		Phone           string     `json:"phone"`
		CurrentLocation *geo.Point `json:"currentLocation"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("driver field is neither id nor object: %w", err)
	}
	d.ID = obj.ID
	d.Name = obj.Name
	d.Phone = obj.Phone
	d.Location = obj.CurrentLocation
	return nil
}

type RawStop struct {
	StopID      string      `json:"stopId"`
	Sequence    *int        `json:"sequence"` // pointer: absence is a data error
	Type        string      `json:"type,omitempty"`
	PlannedTime string      `json:"plannedTime"`
	ActualTime  string      `json:"actualTime,omitempty"`
	Status      RawStatus   `json:"status"`
	StudentID   *RawStudent `json:"studentId,omitempty"`
	Students    []RawStudent `json:"students,omitempty"`
}

type RawStudent struct {
	ID     string     `json:"_id"`
	Name   string     `json:"name"`
	Class  string     `json:"class"`
	Parent *RawParent `json:"parent,omitempty"`
}

type RawParent struct {
	ID       string     `json:"_id"`
	Name     string     `json:"name"`
	Phone    string     `json:"phone"`
	Location *geo.Point `json:"location,omitempty"`
}

// RawStatus is the heterogeneous status field: either a single string or an
// array aligned positionally to the students array.
type RawStatus struct {
	Scalar string
	List   []string
	IsList bool
}

func (r *RawStatus) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		r.Scalar = s
		return nil
	}

	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("status is neither string nor string array: %w", err)
	}
	r.List = list
	r.IsList = true
	return nil
}

func (r RawStatus) MarshalJSON() ([]byte, error) {
	if r.IsList {
		return json.Marshal(r.List)
	}
	return json.Marshal(r.Scalar)
}
