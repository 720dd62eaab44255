package realtime

import (
	"encoding/json"
	"strings"

	"school-transit/internal/agent/domain"
	"school-transit/pkg/geo"
)

// Message is the socket envelope. Every frame in both directions is one of
// these, with Data holding the event-specific payload.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

const (
	EventDriverConnect  = "driver-connect"
	EventParentConnect  = "parent-connect"
	EventTripUpdate     = "trip-update"
	EventStopUpdate     = "stop-update"
	EventLocationUpdate = "location-update"
)

// ConnectPayload announces the local user to the server so it joins the
// socket to the relevant trip rooms.
type ConnectPayload struct {
	ID string `json:"id"`
}

// TripUpdatePayload is the inbound trip status echo.
type TripUpdatePayload struct {
	TripID  string `json:"tripId"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// StopUpdatePayload is the inbound stop/student status echo. StudentID is
// empty for stops without annotated students.
type StopUpdatePayload struct {
	TripID      string `json:"tripId"`
	StopID      string `json:"stopId"`
	StudentID   string `json:"studentId,omitempty"`
	StudentName string `json:"studentName,omitempty"`
	Status      string `json:"status"`
	ActualTime  string `json:"actualTime,omitempty"`
	Message     string `json:"message,omitempty"`
}

// LocationUpdatePayload carries a driver position. Outbound frames fill every
// field; the parent-side echo carries only tripId and location.
type LocationUpdatePayload struct {
	TripID   string      `json:"tripId"`
	UserID   string      `json:"userId,omitempty"`
	UserType domain.Role `json:"userType,omitempty"`
	Status   string      `json:"status,omitempty"`
	Location geo.Point   `json:"location"`
}

func encodeMessage(event string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{Event: event, Data: data})
}

func connectEvent(role domain.Role) string {
	if role == domain.RoleParent {
		return EventParentConnect
	}
	return EventDriverConnect
}

// SocketURL derives the socket host from the REST base URL. The socket server
// listens on the bare host, so the API path prefix is stripped.
func SocketURL(apiBaseURL string) string {
	u := strings.TrimSuffix(apiBaseURL, "/")
	u = strings.TrimSuffix(u, "/api/v1")
	if strings.HasPrefix(u, "https://") {
		return "wss://" + strings.TrimPrefix(u, "https://")
	}
	if strings.HasPrefix(u, "http://") {
		return "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u
}
