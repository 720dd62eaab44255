package api

import (
	"context"
	"net/http"

	"school-transit/internal/agent/domain"
)

// DriverTripsToday lists the driver's trips for the current day.
func (c *Client) DriverTripsToday(ctx context.Context, driverID string) ([]domain.RawTrip, error) {
	var trips []domain.RawTrip
	err := c.do(ctx, http.MethodGet, "/trip/driver/"+driverID+"/today", nil, &trips)
	return trips, err
}

// ParentTrips lists the trips carrying the parent's students.
func (c *Client) ParentTrips(ctx context.Context, parentID string) ([]domain.RawTrip, error) {
	var trips []domain.RawTrip
	err := c.do(ctx, http.MethodGet, "/trip/parent/"+parentID, nil, &trips)
	return trips, err
}

// Trip fetches one trip by id.
func (c *Client) Trip(ctx context.Context, tripID string) (domain.RawTrip, error) {
	var trip domain.RawTrip
	err := c.do(ctx, http.MethodGet, "/trip/"+tripID, nil, &trip)
	return trip, err
}

// UpdateTripStatus pushes a trip status transition.
func (c *Client) UpdateTripStatus(ctx context.Context, tripID string, status domain.TripStatus) error {
	return c.do(ctx, http.MethodPut, "/trip/status/"+tripID,
		map[string]string{"status": string(status)}, nil)
}

// StopStatusRequest is the body of the stop status update. StudentID is empty
// for stops without annotated students; ActualTime is set when the status is
// a resolution.
type StopStatusRequest struct {
	Status     domain.StopStatus `json:"status"`
	StopID     string            `json:"stopId"`
	ActualTime string            `json:"actualTime,omitempty"`
	StudentID  string            `json:"studentId,omitempty"`
}

// UpdateStopStatus pushes a stop/student status change. The server echoes the
// accepted value back over the socket.
func (c *Client) UpdateStopStatus(ctx context.Context, tripID string, req StopStatusRequest) error {
	return c.do(ctx, http.MethodPut, "/trip/stop/"+tripID, req, nil)
}

// Routes lists the configured routes.
func (c *Client) Routes(ctx context.Context) ([]domain.RawRoute, error) {
	var routes []domain.RawRoute
	err := c.do(ctx, http.MethodGet, "/route", nil, &routes)
	return routes, err
}

// StudentsByParent lists a parent's students.
func (c *Client) StudentsByParent(ctx context.Context, parentID string) ([]domain.RawStudent, error) {
	var students []domain.RawStudent
	err := c.do(ctx, http.MethodGet, "/student/by-parent/"+parentID, nil, &students)
	return students, err
}

// MapKey fetches the maps provider key.
func (c *Client) MapKey(ctx context.Context) (string, error) {
	var out struct {
		Key string `json:"key"`
	}
	err := c.do(ctx, http.MethodGet, "/common/map-key", nil, &out)
	return out.Key, err
}

// MapRadius fetches the configured geofence radius in meters.
func (c *Client) MapRadius(ctx context.Context) (float64, error) {
	var out struct {
		Radius float64 `json:"radius"`
	}
	err := c.do(ctx, http.MethodGet, "/common/map-radius", nil, &out)
	return out.Radius, err
}
