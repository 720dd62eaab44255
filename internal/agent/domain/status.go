package domain

// TripStatus represents the lifecycle state of a trip.
type TripStatus string

const (
	TripScheduled  TripStatus = "scheduled"
	TripInProgress TripStatus = "in_progress"
	TripCompleted  TripStatus = "completed"
	TripCancelled  TripStatus = "cancelled"
)

// IsValid checks if the trip status is one of the known values.
func (s TripStatus) IsValid() bool {
	switch s {
	case TripScheduled, TripInProgress, TripCompleted, TripCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether the trip can no longer change state.
func (s TripStatus) IsTerminal() bool {
	return s == TripCompleted || s == TripCancelled
}

func (s TripStatus) String() string {
	return string(s)
}

// StopStatus represents the state of a stop or of one student at a stop.
type StopStatus string

const (
	StopPending   StopStatus = "pending"
	StopCompleted StopStatus = "completed"
	StopMissed    StopStatus = "missed"
	StopCancelled StopStatus = "cancelled"
)

// IsValid checks if the stop status is one of the known values.
func (s StopStatus) IsValid() bool {
	switch s {
	case StopPending, StopCompleted, StopMissed, StopCancelled:
		return true
	}
	return false
}

// IsResolved reports whether the status counts toward trip completion.
// A stop is resolved once every tuple is completed, missed or cancelled.
func (s StopStatus) IsResolved() bool {
	return s == StopCompleted || s == StopMissed || s == StopCancelled
}

func (s StopStatus) String() string {
	return string(s)
}

// Direction is the run direction of a trip.
type Direction string

const (
	DirectionMorning   Direction = "morning"
	DirectionAfternoon Direction = "afternoon"
)

// IsValid checks if the direction is known.
func (d Direction) IsValid() bool {
	return d == DirectionMorning || d == DirectionAfternoon
}

// Role identifies the kind of user the agent acts for. The values match the
// backend's socket room naming.
type Role string

const (
	RoleDriver Role = "Driver"
	RoleParent Role = "Parent"
)
