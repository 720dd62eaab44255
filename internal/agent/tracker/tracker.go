package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"school-transit/internal/agent/store"
	"school-transit/pkg/geo"
	"school-transit/pkg/logger"
)

var ErrPermissionDenied = errors.New("location permission denied")

// State is the tracker's session state.
type State string

const (
	StateIdle       State = "idle"
	StateRequesting State = "requesting_permission"
	StateWatching   State = "watching"
	StateDenied     State = "denied"
)

// Sample is one raw device position reading.
type Sample struct {
	Position geo.LatLng
	Time     time.Time
}

// Source produces raw position samples. The channel closes when the context
// is cancelled or the underlying stream ends.
type Source interface {
	Watch(ctx context.Context) (<-chan Sample, error)
}

// PermissionStatus is the outcome of a location permission request.
type PermissionStatus string

const (
	PermissionGranted PermissionStatus = "granted"
	PermissionDenied  PermissionStatus = "denied"
)

// PermissionGate asks the platform for location access.
type PermissionGate interface {
	Request(ctx context.Context) (PermissionStatus, error)
}

// Geocoder resolves a coordinate to a place string. Failures degrade
// gracefully: the coordinate update proceeds with a blank place.
type Geocoder interface {
	ReverseGeocode(ctx context.Context, pos geo.LatLng) (string, error)
}

// Emitter receives accepted location updates (the realtime channel).
type Emitter interface {
	EmitLocation(tripID string, loc geo.Point) error
}

// Feedback gives the driver a short physical confirmation of an accepted
// movement (haptic pulse on the device head unit).
type Feedback interface {
	Pulse(d time.Duration)
}

// NopFeedback ignores pulses.
type NopFeedback struct{}

func (NopFeedback) Pulse(time.Duration) {}

// Config holds the gate thresholds and collaborators for one tracking
// session.
type Config struct {
	TripID string
	UserID string

	// MinInterval rejects samples arriving sooner than this after the last
	// ACCEPTED sample, independent of how fast the sensor fires.
	MinInterval time.Duration
	// MinMovement rejects samples closer than this (meters) to the last
	// accepted position. This is a second layer over whatever distance
	// filtering the sensor itself does.
	MinMovement float64
	// GeocodeDistance is the accumulated movement (meters) since the last
	// geocoded point required before another reverse-geocode call.
	GeocodeDistance float64

	Source      Source
	Permissions PermissionGate
	Geocoder    Geocoder
	Emitter     Emitter
	Locations   *store.LocationCache
	Feedback    Feedback
	Logger      logger.Logger
	Observer    Observer

	// OnDenied runs once when the permission request is refused, so the
	// host can offer settings / manual entry. No automatic retry.
	OnDenied func()

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

// Observer receives gate outcomes for instrumentation.
type Observer interface {
	SampleAccepted()
	SampleRejected(gate string)
	GeocodeCall(err error)
}

type nopObserver struct{}

func (nopObserver) SampleAccepted()        {}
func (nopObserver) SampleRejected(string)  {}
func (nopObserver) GeocodeCall(error)      {}

// Tracker converts the raw, frequent sample stream into a rate-limited
// stream of meaningful location updates. Gates are evaluated against the
// last ACCEPTED sample, so bursts collapse deterministically regardless of
// sensor rate. Rejected samples have no side effect at all.
type Tracker struct {
	cfg Config

	mu           sync.Mutex
	state        State
	lastAccepted *Sample
	sinceGeocode float64
	place        string
}

func New(cfg Config) (*Tracker, error) {
	if cfg.Source == nil {
		return nil, errors.New("tracker: source is required")
	}
	if cfg.Emitter == nil {
		return nil, errors.New("tracker: emitter is required")
	}
	if cfg.Logger == nil {
		return nil, errors.New("tracker: logger is required")
	}
	if cfg.Feedback == nil {
		cfg.Feedback = NopFeedback{}
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = time.Second
	}
	if cfg.MinMovement <= 0 {
		cfg.MinMovement = 1.5
	}
	if cfg.GeocodeDistance <= 0 {
		cfg.GeocodeDistance = 50
	}
	return &Tracker{cfg: cfg, state: StateIdle}, nil
}

// State returns the current session state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Run drives one tracking session: permission request, then the watch loop.
// It returns when the context is cancelled, the source closes, or the
// permission is denied.
func (t *Tracker) Run(ctx context.Context) error {
	t.setState(StateRequesting)

	if t.cfg.Permissions != nil {
		status, err := t.cfg.Permissions.Request(ctx)
		if err != nil {
			t.setState(StateIdle)
			return fmt.Errorf("permission request: %w", err)
		}
		if status != PermissionGranted {
			t.setState(StateDenied)
			t.cfg.Logger.Info("tracker.permission_denied", "location permission refused, tracking disabled")
			if t.cfg.OnDenied != nil {
				t.cfg.OnDenied()
			}
			return ErrPermissionDenied
		}
	}

	samples, err := t.cfg.Source.Watch(ctx)
	if err != nil {
		t.setState(StateIdle)
		return fmt.Errorf("watch position: %w", err)
	}
	t.setState(StateWatching)
	defer t.setState(StateIdle)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sample, ok := <-samples:
			if !ok {
				return nil
			}
			t.Offer(ctx, sample)
		}
	}
}

// Offer runs one sample through the gates. Exported so hosts that own their
// own read loop (or tests) can feed samples directly.
func (t *Tracker) Offer(ctx context.Context, sample Sample) {
	if sample.Time.IsZero() {
		sample.Time = t.cfg.Now()
	}

	t.mu.Lock()
	last := t.lastAccepted
	if last != nil {
		// Gate 1: minimum interval between accepted samples.
		if sample.Time.Sub(last.Time) < t.cfg.MinInterval {
			t.mu.Unlock()
			t.cfg.Observer.SampleRejected("time")
			return
		}
		// Gate 2: minimum movement from the last accepted position.
		moved := geo.Distance(last.Position, sample.Position)
		if moved < t.cfg.MinMovement {
			t.mu.Unlock()
			t.cfg.Observer.SampleRejected("distance")
			return
		}
		t.sinceGeocode += moved
	}

	t.lastAccepted = &sample

	// Gate 3: reverse-geocode only after enough accumulated movement, or on
	// the very first accepted sample of the session.
	shouldGeocode := t.cfg.Geocoder != nil &&
		(last == nil || t.sinceGeocode >= t.cfg.GeocodeDistance)
	place := t.place
	t.mu.Unlock()

	if shouldGeocode {
		resolved, err := t.cfg.Geocoder.ReverseGeocode(ctx, sample.Position)
		t.cfg.Observer.GeocodeCall(err)
		if err != nil {
			// Degrade gracefully: coordinates still go out, place is blank.
			t.cfg.Logger.Error("tracker.geocode_failed", err)
			resolved = ""
		}
		t.mu.Lock()
		t.place = resolved
		t.sinceGeocode = 0
		place = resolved
		t.mu.Unlock()
	}

	t.accept(sample, place)
}

func (t *Tracker) accept(sample Sample, place string) {
	t.cfg.Observer.SampleAccepted()

	point := geo.NewPoint(sample.Position, place)

	if err := t.cfg.Emitter.EmitLocation(t.cfg.TripID, point); err != nil {
		t.cfg.Logger.Error("tracker.emit_failed", err)
	}

	if t.cfg.Locations != nil {
		t.cfg.Locations.Set(store.DriverLocation{
			TripID:    t.cfg.TripID,
			UserID:    t.cfg.UserID,
			Location:  point,
			UpdatedAt: sample.Time,
		})
	}

	t.cfg.Feedback.Pulse(200 * time.Millisecond)

	t.cfg.Logger.Debug("tracker.sample_accepted",
		fmt.Sprintf("lat=%.6f lng=%.6f place=%q", sample.Position.Latitude, sample.Position.Longitude, place))
}

func (t *Tracker) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}
