package control

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"

	"school-transit/internal/agent/api"
	"school-transit/internal/agent/domain"
	"school-transit/internal/agent/planner"
	"school-transit/internal/agent/realtime"
	"school-transit/internal/agent/store"
	"school-transit/pkg/geo"
	"school-transit/pkg/logger"
)

// Backend is the slice of the REST client the control surface forwards to.
type Backend interface {
	UpdateTripStatus(ctx context.Context, tripID string, status domain.TripStatus) error
	UpdateStopStatus(ctx context.Context, tripID string, req api.StopStatusRequest) error
}

// Socket is the slice of the realtime channel the control surface drives.
type Socket interface {
	State() realtime.State
	Reconnect()
	Suspend()
	Resume()
	EmitLocationStatus(tripID string, loc geo.Point, status string) error
}

// RoutePlanner produces route alternatives for a set of stop points.
type RoutePlanner interface {
	Alternatives(ctx context.Context, points []geo.LatLng) (planner.Plan, error)
}

// Handler is the local control API: the surface a cab display or companion
// UI calls into. It owns per-trip route plans; everything else is delegated.
type Handler struct {
	store     *store.TripStore
	locations *store.LocationCache
	backend   Backend
	socket    Socket
	planner   RoutePlanner
	logger    logger.Logger
	now       func() time.Time

	mu    sync.Mutex
	plans map[string]*planner.Plan
}

type HandlerConfig struct {
	Store     *store.TripStore
	Locations *store.LocationCache
	Backend   Backend
	Socket    Socket
	Planner   RoutePlanner
	Logger    logger.Logger
}

func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		store:     cfg.Store,
		locations: cfg.Locations,
		backend:   cfg.Backend,
		socket:    cfg.Socket,
		planner:   cfg.Planner,
		logger:    cfg.Logger,
		now:       time.Now,
		plans:     make(map[string]*planner.Plan),
	}
}

// Router wires up the control routes.
func (h *Handler) Router() *httprouter.Router {
	r := httprouter.New()
	r.GET("/health", h.HealthCheck)
	r.GET("/trips", h.ListTrips)
	r.GET("/trips/:id", h.GetTrip)
	r.PUT("/trips/:id/status", h.UpdateTripStatus)
	r.PUT("/trips/:id/stops", h.UpdateStopStatus)
	r.GET("/trips/:id/routes", h.GetRouteAlternatives)
	r.POST("/trips/:id/routes/select", h.SelectRoute)
	r.GET("/trips/:id/driver-location", h.GetDriverLocation)
	r.POST("/socket/reconnect", h.SocketReconnect)
	r.POST("/socket/suspend", h.SocketSuspend)
	r.POST("/socket/resume", h.SocketResume)
	return r
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	socketState := realtime.StateDisconnected
	if h.socket != nil {
		socketState = h.socket.State()
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"socket": socketState,
		"time":   time.Now().Format(time.RFC3339),
	})
}

func (h *Handler) ListTrips(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	h.respondJSON(w, http.StatusOK, h.store.Trips())
}

func (h *Handler) GetTrip(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	trip := h.store.Snapshot(ps.ByName("id"))
	if trip.ID == "" {
		h.respondError(w, http.StatusNotFound, "unknown trip")
		return
	}
	h.respondJSON(w, http.StatusOK, newTripView(trip, h.now()))
}

// stopView decorates a stop with the arrival estimate shown to parents.
type stopView struct {
	domain.Stop
	ETA string `json:"eta,omitempty"`
}

type tripView struct {
	domain.Trip
	Stops []stopView `json:"stops"`
}

func newTripView(trip domain.Trip, now time.Time) tripView {
	out := tripView{Trip: trip, Stops: make([]stopView, len(trip.Stops))}
	for i, stop := range trip.Stops {
		view := stopView{Stop: stop}
		if !stop.IsResolved() {
			view.ETA = domain.EstimateArrival(stop.PlannedTime, trip.Status, now)
		}
		out.Stops[i] = view
	}
	return out
}

type tripStatusRequest struct {
	Status domain.TripStatus `json:"status"`
}

// UpdateTripStatus forwards a trip transition to the backend and, on
// success, echoes it to parents through the socket alongside the last known
// position.
func (h *Handler) UpdateTripStatus(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	tripID := ps.ByName("id")
	log := h.logger.WithFields(map[string]interface{}{"trip_id": tripID})

	var req tripStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !req.Status.IsValid() {
		h.respondError(w, http.StatusBadRequest, "invalid trip status")
		return
	}

	if err := h.backend.UpdateTripStatus(r.Context(), tripID, req.Status); err != nil {
		log.Error("control.trip_status.backend", err)
		h.respondBackendError(w, err)
		return
	}

	trip, err := h.store.MergeRemoteTripUpdate(tripID, req.Status)
	if err != nil {
		log.Error("control.trip_status.merge", err)
		h.respondError(w, http.StatusNotFound, err.Error())
		return
	}

	if h.socket != nil && h.locations != nil {
		if loc, ok := h.locations.Get(tripID); ok {
			if err := h.socket.EmitLocationStatus(tripID, loc.Location, string(req.Status)); err != nil {
				log.Error("control.trip_status.emit", err)
			}
		}
	}

	h.respondJSON(w, http.StatusOK, trip)
}

type stopStatusRequest struct {
	StopID     string            `json:"stopId"`
	StudentID  string            `json:"studentId,omitempty"`
	Status     domain.StopStatus `json:"status"`
	ActualTime string            `json:"actualTime,omitempty"`
}

// UpdateStopStatus applies the change optimistically, forwards it to the
// backend, and rolls the local value back if the backend rejects it. The
// socket echo later confirms (and clears the pending marker) either way.
func (h *Handler) UpdateStopStatus(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	tripID := ps.ByName("id")
	log := h.logger.WithFields(map[string]interface{}{"trip_id": tripID})

	var req stopStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.StopID == "" {
		h.respondError(w, http.StatusBadRequest, "stopId is required")
		return
	}
	if !req.Status.IsValid() {
		h.respondError(w, http.StatusBadRequest, "invalid stop status")
		return
	}
	if req.ActualTime == "" && req.Status.IsResolved() {
		req.ActualTime = time.Now().Format("15:04")
	}

	prior, priorActual, ok := h.priorStatus(tripID, req.StopID, req.StudentID)
	if !ok {
		h.respondError(w, http.StatusNotFound, "unknown trip, stop or student")
		return
	}

	trip, err := h.store.ApplyLocalStatusChange(tripID, req.StopID, req.StudentID, req.Status, req.ActualTime)
	if err != nil {
		log.Error("control.stop_status.apply", err)
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.backend.UpdateStopStatus(r.Context(), tripID, api.StopStatusRequest{
		Status:     req.Status,
		StopID:     req.StopID,
		ActualTime: req.ActualTime,
		StudentID:  req.StudentID,
	}); err != nil {
		log.Error("control.stop_status.backend", err)
		if rbErr := h.store.RollbackLocalStatusChange(tripID, req.StopID, req.StudentID, prior, priorActual); rbErr != nil {
			log.Error("control.stop_status.rollback", rbErr)
		}
		h.respondBackendError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, trip)
}

// priorStatus captures the pre-change value so a backend failure can be
// rolled back.
func (h *Handler) priorStatus(tripID, stopID, studentID string) (domain.StopStatus, string, bool) {
	trip := h.store.Snapshot(tripID)
	if trip.ID == "" {
		return "", "", false
	}
	si := trip.FindStop(stopID)
	if si < 0 {
		return "", "", false
	}
	stop := trip.Stops[si]
	if studentID == "" {
		if len(stop.Students) > 0 {
			return "", "", false
		}
		return stop.Status, stop.ActualTime, true
	}
	ti := stop.FindStudent(studentID)
	if ti < 0 {
		return "", "", false
	}
	return stop.Students[ti].Status, stop.Students[ti].ActualTime, true
}

// GetRouteAlternatives computes (or returns the cached) route plan for the
// trip's stop points.
func (h *Handler) GetRouteAlternatives(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	tripID := ps.ByName("id")

	h.mu.Lock()
	plan, ok := h.plans[tripID]
	h.mu.Unlock()
	if ok && r.URL.Query().Get("refresh") == "" {
		h.respondJSON(w, http.StatusOK, plan)
		return
	}

	trip := h.store.Snapshot(tripID)
	if trip.ID == "" {
		h.respondError(w, http.StatusNotFound, "unknown trip")
		return
	}

	points := tripStopPoints(trip)
	if len(points) < 2 {
		h.respondError(w, http.StatusUnprocessableEntity, "trip has too few located stops for routing")
		return
	}

	fresh, err := h.planner.Alternatives(r.Context(), points)
	if err != nil {
		h.logger.WithFields(map[string]interface{}{"trip_id": tripID}).
			Error("control.routes.plan", err)
		h.respondError(w, http.StatusBadGateway, err.Error())
		return
	}

	h.mu.Lock()
	h.plans[tripID] = &fresh
	h.mu.Unlock()
	h.respondJSON(w, http.StatusOK, &fresh)
}

type selectRouteRequest struct {
	RouteID string `json:"routeId"`
}

// SelectRoute switches the selected alternative. Pure state change, no
// provider call.
func (h *Handler) SelectRoute(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	tripID := ps.ByName("id")

	var req selectRouteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	h.mu.Lock()
	plan, ok := h.plans[tripID]
	h.mu.Unlock()
	if !ok {
		h.respondError(w, http.StatusNotFound, "no route plan for trip")
		return
	}

	if err := plan.Select(req.RouteID); err != nil {
		h.respondError(w, http.StatusNotFound, err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, plan)
}

func (h *Handler) GetDriverLocation(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	loc, ok := h.locations.Get(ps.ByName("id"))
	if !ok {
		h.respondError(w, http.StatusNotFound, "no location for trip")
		return
	}
	h.respondJSON(w, http.StatusOK, loc)
}

func (h *Handler) SocketReconnect(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	h.socket.Reconnect()
	h.respondJSON(w, http.StatusAccepted, map[string]string{"status": "reconnecting"})
}

func (h *Handler) SocketSuspend(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	h.socket.Suspend()
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "suspended"})
}

func (h *Handler) SocketResume(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	h.socket.Resume()
	h.respondJSON(w, http.StatusAccepted, map[string]string{"status": "resuming"})
}

// tripStopPoints collects the routable points in visit order: stop pickup
// locations by sequence, the school last.
func tripStopPoints(trip domain.Trip) []geo.LatLng {
	points := make([]geo.LatLng, 0, len(trip.Stops)+1)
	for _, stop := range trip.Stops {
		if stop.Location != nil {
			points = append(points, *stop.Location)
		}
	}
	if trip.School != nil {
		points = append(points, *trip.School)
	}
	return points
}

func (h *Handler) respondBackendError(w http.ResponseWriter, err error) {
	if errors.Is(err, api.ErrRequiresLogin) {
		h.respondError(w, http.StatusUnauthorized, err.Error())
		return
	}
	h.respondError(w, http.StatusBadGateway, err.Error())
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("control.respond_json", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, errorResponse{Error: message})
}
