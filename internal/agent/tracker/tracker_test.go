package tracker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"school-transit/internal/agent/store"
	"school-transit/pkg/geo"
	"school-transit/pkg/logger"
)

type fakeEmitter struct {
	mu      sync.Mutex
	updates []geo.Point
}

func (f *fakeEmitter) EmitLocation(tripID string, loc geo.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, loc)
	return nil
}

func (f *fakeEmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.updates)
}

type fakeGeocoder struct {
	mu    sync.Mutex
	calls int
	place string
	err   error
}

func (f *fakeGeocoder) ReverseGeocode(ctx context.Context, pos geo.LatLng) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.place, f.err
}

func (f *fakeGeocoder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestTracker(t *testing.T, emitter *fakeEmitter, gc *fakeGeocoder) *Tracker {
	t.Helper()
	var geocoder Geocoder
	if gc != nil {
		geocoder = gc
	}
	tr, err := New(Config{
		TripID:          "trip-1",
		UserID:          "driver-1",
		MinInterval:     time.Second,
		MinMovement:     1.5,
		GeocodeDistance: 50,
		Source:          ChanSource(make(chan Sample)),
		Geocoder:        geocoder,
		Emitter:         emitter,
		Locations:       store.NewLocationCache(),
		Logger:          logger.NewLogger("tracker-test"),
	})
	require.NoError(t, err)
	return tr
}

func at(base time.Time, d time.Duration) time.Time { return base.Add(d) }

func TestFirstSampleAlwaysAccepted(t *testing.T) {
	emitter := &fakeEmitter{}
	gc := &fakeGeocoder{place: "Carrer de Mallorca"}
	tr := newTestTracker(t, emitter, gc)

	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	tr.Offer(context.Background(), Sample{Position: geo.LatLng{Latitude: 41.39, Longitude: 2.17}, Time: base})

	assert.Equal(t, 1, emitter.count())
	// First accepted sample of a session geocodes immediately.
	assert.Equal(t, 1, gc.callCount())
	assert.Equal(t, "Carrer de Mallorca", emitter.updates[0].Place)
}

func TestSamplesWithinDistanceThresholdRejected(t *testing.T) {
	emitter := &fakeEmitter{}
	tr := newTestTracker(t, emitter, nil)

	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	origin := geo.LatLng{Latitude: 41.39, Longitude: 2.17}

	tr.Offer(context.Background(), Sample{Position: origin, Time: base})
	// ~1.1m north: under the 1.5m gate.
	near := geo.LatLng{Latitude: 41.39001, Longitude: 2.17}
	tr.Offer(context.Background(), Sample{Position: near, Time: at(base, 2*time.Second)})
	tr.Offer(context.Background(), Sample{Position: near, Time: at(base, 4*time.Second)})

	assert.Equal(t, 1, emitter.count())

	// Beyond the threshold: accepted, and becomes the new reference point.
	far := geo.LatLng{Latitude: 41.39005, Longitude: 2.17}
	tr.Offer(context.Background(), Sample{Position: far, Time: at(base, 6*time.Second)})
	assert.Equal(t, 2, emitter.count())

	// Near the NEW reference: rejected again.
	tr.Offer(context.Background(), Sample{Position: geo.LatLng{Latitude: 41.390051, Longitude: 2.17}, Time: at(base, 8*time.Second)})
	assert.Equal(t, 2, emitter.count())
}

func TestTimeGateRejectsFastSamples(t *testing.T) {
	emitter := &fakeEmitter{}
	tr := newTestTracker(t, emitter, nil)

	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	tr.Offer(context.Background(), Sample{Position: geo.LatLng{Latitude: 41.39, Longitude: 2.17}, Time: base})

	// 500ms later and 10m away: passes distance, fails the time gate.
	tr.Offer(context.Background(), Sample{Position: geo.LatLng{Latitude: 41.39009, Longitude: 2.17}, Time: at(base, 500*time.Millisecond)})
	assert.Equal(t, 1, emitter.count())

	// Same position 1s later: time gate passes, distance accepts.
	tr.Offer(context.Background(), Sample{Position: geo.LatLng{Latitude: 41.39009, Longitude: 2.17}, Time: at(base, 1500*time.Millisecond)})
	assert.Equal(t, 2, emitter.count())
}

func TestBurstCollapsesToSingleAcceptance(t *testing.T) {
	// Driver at P1 moves 1m; three samples inside 1s. Only the first
	// emission happens.
	emitter := &fakeEmitter{}
	tr := newTestTracker(t, emitter, nil)

	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	p1 := geo.LatLng{Latitude: 41.39, Longitude: 2.17}
	moved := geo.LatLng{Latitude: 41.390009, Longitude: 2.17} // ~1m

	tr.Offer(context.Background(), Sample{Position: p1, Time: base})
	tr.Offer(context.Background(), Sample{Position: moved, Time: at(base, 300*time.Millisecond)})
	tr.Offer(context.Background(), Sample{Position: moved, Time: at(base, 600*time.Millisecond)})
	tr.Offer(context.Background(), Sample{Position: moved, Time: at(base, 900*time.Millisecond)})

	assert.Equal(t, 1, emitter.count())
}

func TestGeocodeGateRequiresAccumulatedMovement(t *testing.T) {
	emitter := &fakeEmitter{}
	gc := &fakeGeocoder{place: "Avinguda Diagonal"}
	tr := newTestTracker(t, emitter, gc)

	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	tr.Offer(context.Background(), Sample{Position: geo.LatLng{Latitude: 41.39, Longitude: 2.17}, Time: base})
	require.Equal(t, 1, gc.callCount())

	// Three ~10m accepted moves: still under 50m accumulated, no geocode.
	lat := 41.39
	for i := 1; i <= 3; i++ {
		lat += 0.00009
		tr.Offer(context.Background(), Sample{Position: geo.LatLng{Latitude: lat, Longitude: 2.17}, Time: at(base, time.Duration(i)*2*time.Second)})
	}
	assert.Equal(t, 1, gc.callCount())
	assert.Equal(t, 4, emitter.count())

	// Two more pushes the accumulation past 50m: one geocode call.
	for i := 4; i <= 6; i++ {
		lat += 0.00009
		tr.Offer(context.Background(), Sample{Position: geo.LatLng{Latitude: lat, Longitude: 2.17}, Time: at(base, time.Duration(i)*2*time.Second)})
	}
	assert.Equal(t, 2, gc.callCount())
}

func TestGeocodeFailureDegradesGracefully(t *testing.T) {
	emitter := &fakeEmitter{}
	gc := &fakeGeocoder{err: errors.New("quota exceeded")}
	tr := newTestTracker(t, emitter, gc)

	tr.Offer(context.Background(), Sample{
		Position: geo.LatLng{Latitude: 41.39, Longitude: 2.17},
		Time:     time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC),
	})

	// Coordinate update still emitted, place blank.
	require.Equal(t, 1, emitter.count())
	assert.Equal(t, "", emitter.updates[0].Place)
}

func TestAcceptedSampleUpdatesLocationCache(t *testing.T) {
	emitter := &fakeEmitter{}
	cache := store.NewLocationCache()
	tr, err := New(Config{
		TripID:    "trip-1",
		UserID:    "driver-1",
		Source:    ChanSource(make(chan Sample)),
		Emitter:   emitter,
		Locations: cache,
		Logger:    logger.NewLogger("tracker-test"),
	})
	require.NoError(t, err)

	tr.Offer(context.Background(), Sample{
		Position: geo.LatLng{Latitude: 41.39, Longitude: 2.17},
		Time:     time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC),
	})

	loc, ok := cache.Get("trip-1")
	require.True(t, ok)
	assert.Equal(t, "driver-1", loc.UserID)
	// Cache stores the wire shape: [lon, lat].
	assert.Equal(t, 2.17, loc.Location.Coordinates[0])
	assert.Equal(t, 41.39, loc.Location.Coordinates[1])
}

func TestPermissionDeniedRoutesToHandler(t *testing.T) {
	emitter := &fakeEmitter{}
	denied := false
	tr, err := New(Config{
		TripID:      "trip-1",
		Source:      ChanSource(make(chan Sample)),
		Permissions: StaticPermission(PermissionDenied),
		Emitter:     emitter,
		Logger:      logger.NewLogger("tracker-test"),
		OnDenied:    func() { denied = true },
	})
	require.NoError(t, err)

	err = tr.Run(context.Background())
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.True(t, denied)
	assert.Equal(t, StateDenied, tr.State())
	assert.Equal(t, 0, emitter.count())
}

func TestRunConsumesSourceUntilClosed(t *testing.T) {
	emitter := &fakeEmitter{}
	samples := make(chan Sample, 2)
	tr, err := New(Config{
		TripID:      "trip-1",
		Source:      ChanSource(samples),
		Permissions: StaticPermission(PermissionGranted),
		Emitter:     emitter,
		Logger:      logger.NewLogger("tracker-test"),
	})
	require.NoError(t, err)

	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	samples <- Sample{Position: geo.LatLng{Latitude: 41.39, Longitude: 2.17}, Time: base}
	samples <- Sample{Position: geo.LatLng{Latitude: 41.391, Longitude: 2.17}, Time: at(base, 2*time.Second)}
	close(samples)

	require.NoError(t, tr.Run(context.Background()))
	assert.Equal(t, 2, emitter.count())
	assert.Equal(t, StateIdle, tr.State())
}

func TestJSONLinesSource(t *testing.T) {
	input := strings.Join([]string{
		`{"latitude":41.39,"longitude":2.17,"time":"2026-03-02T08:00:00Z"}`,
		`not json`,
		`{"latitude":191.0,"longitude":2.17}`,
		`{"latitude":41.40,"longitude":2.18,"time":"2026-03-02T08:00:05Z"}`,
	}, "\n")

	src := NewJSONLinesSource(strings.NewReader(input), logger.NewLogger("tracker-test"))
	samples, err := src.Watch(context.Background())
	require.NoError(t, err)

	var got []Sample
	for s := range samples {
		got = append(got, s)
	}

	// Malformed and out-of-range lines are skipped.
	require.Len(t, got, 2)
	assert.Equal(t, 41.39, got[0].Position.Latitude)
	assert.Equal(t, 2.18, got[1].Position.Longitude)
}
