package store

import (
	"fmt"
	"sync"

	"school-transit/internal/agent/domain"
	"school-transit/pkg/logger"
)

// TripStore is the single source of truth for trip/stop/student status. Its
// three writers — the initial REST fetch, local optimistic user actions, and
// inbound socket events — all go through the methods here, so no divergent
// shadow copy of a trip can exist.
//
// Ordering rule: any remote value is newer than any local optimistic value
// for the same tuple, regardless of arrival order. The server is the only
// authority on persisted state, so local writes are provisional and must
// never block a remote overwrite.
type TripStore struct {
	mu     sync.RWMutex
	trips  map[string]*domain.Trip
	gens   map[string]uint64
	logger logger.Logger
}

func NewTripStore(log logger.Logger) *TripStore {
	return &TripStore{
		trips:  make(map[string]*domain.Trip),
		gens:   make(map[string]uint64),
		logger: log,
	}
}

// BeginFetch bumps the fetch generation for a trip and returns it. A fetch
// result is only applied if its generation is still current, so a response
// that resolves after the owner moved on is discarded instead of clobbering
// newer state.
func (s *TripStore) BeginFetch(tripID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gens[tripID]++
	return s.gens[tripID]
}

// CompleteFetch normalizes the raw payload and installs it as the canonical
// trip, unless the generation is stale or normalization fails closed. On a
// normalization error the prior canonical state is kept.
func (s *TripStore) CompleteFetch(gen uint64, raw domain.RawTrip) (domain.Trip, []domain.Warning, error) {
	trip, warnings, err := domain.Normalize(raw)
	for _, w := range warnings {
		s.logger.WithFields(logger.LogFields{"trip_id": raw.ID, "stop_id": w.StopID}).
			Info("store.normalize_warning", w.Reason)
	}
	if err != nil {
		s.logger.WithFields(logger.LogFields{"trip_id": raw.ID}).
			Error("store.normalize_failed", err)
		return s.Snapshot(raw.ID), warnings, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != 0 && gen != s.gens[trip.ID] {
		s.logger.WithFields(logger.LogFields{"trip_id": trip.ID}).
			Debug("store.fetch_stale", fmt.Sprintf("discarding fetch generation %d (current %d)", gen, s.gens[trip.ID]))
		if prior, ok := s.trips[trip.ID]; ok {
			return prior.Clone(), warnings, nil
		}
		return domain.Trip{}, warnings, domain.ErrUnknownTrip
	}

	s.trips[trip.ID] = &trip
	return trip.Clone(), warnings, nil
}

// Load installs a raw trip without generation tracking (startup path).
func (s *TripStore) Load(raw domain.RawTrip) (domain.Trip, []domain.Warning, error) {
	return s.CompleteFetch(0, raw)
}

// Snapshot returns a deep copy of the canonical trip, or the zero Trip if
// unknown.
func (s *TripStore) Snapshot(tripID string) domain.Trip {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if trip, ok := s.trips[tripID]; ok {
		return trip.Clone()
	}
	return domain.Trip{}
}

// Trips returns snapshots of every tracked trip.
func (s *TripStore) Trips() []domain.Trip {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Trip, 0, len(s.trips))
	for _, trip := range s.trips {
		out = append(out, trip.Clone())
	}
	return out
}

// ApplyLocalStatusChange optimistically mutates the single matching tuple
// (or the scalar status for a student-less stop when studentID is empty) and
// returns the updated snapshot synchronously, so the UI reflects the change
// before the REST round-trip resolves. The tuple is marked
// pending-confirmation until a remote merge overwrites it.
func (s *TripStore) ApplyLocalStatusChange(tripID, stopID, studentID string, status domain.StopStatus, actualTime string) (domain.Trip, error) {
	if !status.IsValid() {
		return domain.Trip{}, domain.ErrInvalidStatus
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	trip, stop, err := s.findStop(tripID, stopID)
	if err != nil {
		return domain.Trip{}, err
	}

	if studentID == "" {
		if len(stop.Students) > 0 {
			// A multi-student stop needs an explicit student target.
			return domain.Trip{}, domain.ErrUnknownStudent
		}
		stop.Status = status
		stop.ActualTime = actualTime
		stop.PendingConfirm = true
		return trip.Clone(), nil
	}
	if len(stop.Students) == 0 {
		return domain.Trip{}, domain.ErrScalarStopHasStudent
	}

	idx := stop.FindStudent(studentID)
	if idx < 0 {
		return domain.Trip{}, domain.ErrUnknownStudent
	}
	stop.Students[idx].Status = status
	stop.Students[idx].ActualTime = actualTime
	stop.Students[idx].PendingConfirm = true

	return trip.Clone(), nil
}

// RollbackLocalStatusChange restores a tuple to the given prior value after
// a failed REST confirmation. The rollback only applies while the tuple is
// still pending-confirmation: if a remote merge landed in the meantime the
// server's value stands.
func (s *TripStore) RollbackLocalStatusChange(tripID, stopID, studentID string, prior domain.StopStatus, priorActual string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	trip, stop, err := s.findStop(tripID, stopID)
	if err != nil {
		return err
	}
	_ = trip

	if studentID == "" {
		if !stop.PendingConfirm {
			// Server already spoke; its value wins over the rollback.
			return nil
		}
		stop.Status = prior
		stop.ActualTime = priorActual
		stop.PendingConfirm = false
		return nil
	}
	if len(stop.Students) == 0 {
		return domain.ErrScalarStopHasStudent
	}

	idx := stop.FindStudent(studentID)
	if idx < 0 {
		return domain.ErrUnknownStudent
	}
	if !stop.Students[idx].PendingConfirm {
		// Server already spoke; its value wins over the rollback.
		return nil
	}
	stop.Students[idx].Status = prior
	stop.Students[idx].ActualTime = priorActual
	stop.Students[idx].PendingConfirm = false
	return nil
}

// MergeRemoteStopUpdate applies a server-originated stop-update. The tuple
// is overwritten unconditionally and its pending-confirmation marker is
// cleared, even if a local optimistic value differs — last writer wins with
// the server always winning over the client.
func (s *TripStore) MergeRemoteStopUpdate(tripID, stopID, studentID string, status domain.StopStatus, actualTime string) (domain.Trip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	trip, stop, err := s.findStop(tripID, stopID)
	if err != nil {
		return domain.Trip{}, err
	}

	if studentID != "" && len(stop.Students) == 0 {
		return domain.Trip{}, domain.ErrScalarStopHasStudent
	}
	if studentID == "" {
		stop.Status = status
		if actualTime != "" {
			stop.ActualTime = actualTime
		}
		stop.PendingConfirm = false
		return trip.Clone(), nil
	}

	idx := stop.FindStudent(studentID)
	if idx < 0 {
		return domain.Trip{}, domain.ErrUnknownStudent
	}
	stop.Students[idx].Status = status
	if actualTime != "" {
		stop.Students[idx].ActualTime = actualTime
	}
	stop.Students[idx].PendingConfirm = false

	return trip.Clone(), nil
}

// MergeRemoteTripUpdate overwrites trip-level status only. It never
// implicitly resolves stops.
func (s *TripStore) MergeRemoteTripUpdate(tripID string, status domain.TripStatus) (domain.Trip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	trip, ok := s.trips[tripID]
	if !ok {
		return domain.Trip{}, domain.ErrUnknownTrip
	}
	trip.Status = status
	return trip.Clone(), nil
}

// IsTripAutoCompletable reports whether every stop on the trip is resolved.
func (s *TripStore) IsTripAutoCompletable(tripID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	trip, ok := s.trips[tripID]
	if !ok {
		return false
	}
	return trip.IsAutoCompletable()
}

// findStop locates a trip and stop under the write lock.
func (s *TripStore) findStop(tripID, stopID string) (*domain.Trip, *domain.Stop, error) {
	trip, ok := s.trips[tripID]
	if !ok {
		return nil, nil, domain.ErrUnknownTrip
	}
	idx := trip.FindStop(stopID)
	if idx < 0 {
		return nil, nil, domain.ErrUnknownStop
	}
	return trip, &trip.Stops[idx], nil
}
