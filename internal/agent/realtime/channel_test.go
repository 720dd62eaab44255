package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"school-transit/internal/agent/domain"
	"school-transit/internal/agent/store"
	"school-transit/pkg/geo"
	"school-transit/pkg/logger"
)

type mergeCall struct {
	tripID, stopID, studentID string
	stopStatus                domain.StopStatus
	tripStatus                domain.TripStatus
	actualTime                string
}

type fakeSink struct {
	mu    sync.Mutex
	trips []mergeCall
	stops []mergeCall
}

func (f *fakeSink) MergeRemoteTripUpdate(tripID string, status domain.TripStatus) (domain.Trip, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trips = append(f.trips, mergeCall{tripID: tripID, tripStatus: status})
	return domain.Trip{}, nil
}

func (f *fakeSink) MergeRemoteStopUpdate(tripID, stopID, studentID string, status domain.StopStatus, actualTime string) (domain.Trip, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops = append(f.stops, mergeCall{
		tripID: tripID, stopID: stopID, studentID: studentID,
		stopStatus: status, actualTime: actualTime,
	})
	return domain.Trip{}, nil
}

func (f *fakeSink) stopCalls() []mergeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]mergeCall(nil), f.stops...)
}

func (f *fakeSink) tripCalls() []mergeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]mergeCall(nil), f.trips...)
}

// wsServer accepts socket connections and exposes inbound frames and live
// connections to the test.
type wsServer struct {
	srv    *httptest.Server
	conns  chan *websocket.Conn
	frames chan Message
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	s := &wsServer{
		conns:  make(chan *websocket.Conn, 8),
		frames: make(chan Message, 64),
	}
	upgrader := websocket.Upgrader{}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.conns <- conn
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var m Message
			if err := json.Unmarshal(raw, &m); err == nil {
				s.frames <- m
			}
		}
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *wsServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *wsServer) waitConn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-s.conns:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for connection")
		return nil
	}
}

func (s *wsServer) waitFrame(t *testing.T) Message {
	t.Helper()
	select {
	case m := <-s.frames:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return Message{}
	}
}

func (s *wsServer) push(t *testing.T, conn *websocket.Conn, event string, payload interface{}) {
	t.Helper()
	frame, err := encodeMessage(event, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
}

func startChannel(t *testing.T, cfg Config) *Channel {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = logger.NewLogger("realtime-test")
	}
	if cfg.Store == nil {
		cfg.Store = &fakeSink{}
	}
	ch, err := New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		ch.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("channel did not shut down")
		}
	})
	return ch
}

func TestAnnouncesRoleOncePerConnection(t *testing.T) {
	srv := newWSServer(t)
	startChannel(t, Config{
		URL:    srv.url(),
		Role:   domain.RoleDriver,
		UserID: "driver-1",
	})

	srv.waitConn(t)
	m := srv.waitFrame(t)
	assert.Equal(t, EventDriverConnect, m.Event)

	var p ConnectPayload
	require.NoError(t, json.Unmarshal(m.Data, &p))
	assert.Equal(t, "driver-1", p.ID)

	// No second announcement on the same connection.
	select {
	case extra := <-srv.frames:
		t.Fatalf("unexpected frame %q", extra.Event)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestParentRoleAnnouncement(t *testing.T) {
	srv := newWSServer(t)
	startChannel(t, Config{
		URL:    srv.url(),
		Role:   domain.RoleParent,
		UserID: "parent-1",
	})

	srv.waitConn(t)
	m := srv.waitFrame(t)
	assert.Equal(t, EventParentConnect, m.Event)
}

func TestInboundStopUpdateReachesStore(t *testing.T) {
	srv := newWSServer(t)
	sink := &fakeSink{}
	startChannel(t, Config{
		URL:    srv.url(),
		Role:   domain.RoleDriver,
		UserID: "driver-1",
		Store:  sink,
	})

	conn := srv.waitConn(t)
	srv.waitFrame(t) // role announcement

	srv.push(t, conn, EventStopUpdate, StopUpdatePayload{
		TripID:     "trip-1",
		StopID:     "stop-1",
		StudentID:  "student-b",
		Status:     "completed",
		ActualTime: "08:15",
	})

	require.Eventually(t, func() bool {
		return len(sink.stopCalls()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	call := sink.stopCalls()[0]
	assert.Equal(t, "trip-1", call.tripID)
	assert.Equal(t, "stop-1", call.stopID)
	assert.Equal(t, "student-b", call.studentID)
	assert.Equal(t, domain.StopCompleted, call.stopStatus)
	assert.Equal(t, "08:15", call.actualTime)
}

func TestInboundTripUpdateReachesStore(t *testing.T) {
	srv := newWSServer(t)
	sink := &fakeSink{}
	startChannel(t, Config{
		URL:    srv.url(),
		Role:   domain.RoleParent,
		UserID: "parent-1",
		Store:  sink,
	})

	conn := srv.waitConn(t)
	srv.waitFrame(t)

	srv.push(t, conn, EventTripUpdate, TripUpdatePayload{TripID: "trip-1", Status: "in_progress"})

	require.Eventually(t, func() bool {
		return len(sink.tripCalls()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, domain.TripInProgress, sink.tripCalls()[0].tripStatus)
}

func TestInboundLocationUpdateFillsCache(t *testing.T) {
	srv := newWSServer(t)
	cache := store.NewLocationCache()
	startChannel(t, Config{
		URL:       srv.url(),
		Role:      domain.RoleParent,
		UserID:    "parent-1",
		Locations: cache,
	})

	conn := srv.waitConn(t)
	srv.waitFrame(t)

	srv.push(t, conn, EventLocationUpdate, LocationUpdatePayload{
		TripID:   "trip-1",
		Location: geo.NewPoint(geo.LatLng{Latitude: 41.39, Longitude: 2.17}, "Gran Via"),
	})

	require.Eventually(t, func() bool {
		_, ok := cache.Get("trip-1")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	loc, _ := cache.Get("trip-1")
	assert.Equal(t, 2.17, loc.Location.Coordinates[0])
	assert.Equal(t, 41.39, loc.Location.Coordinates[1])
	assert.Equal(t, "Gran Via", loc.Location.Place)
}

func TestEmitLocationWireShape(t *testing.T) {
	srv := newWSServer(t)
	ch := startChannel(t, Config{
		URL:    srv.url(),
		Role:   domain.RoleDriver,
		UserID: "driver-1",
	})

	srv.waitConn(t)
	srv.waitFrame(t)

	point := geo.NewPoint(geo.LatLng{Latitude: 41.39, Longitude: 2.17}, "Gran Via")
	require.NoError(t, ch.EmitLocation("trip-1", point))

	m := srv.waitFrame(t)
	require.Equal(t, EventLocationUpdate, m.Event)

	var p LocationUpdatePayload
	require.NoError(t, json.Unmarshal(m.Data, &p))
	assert.Equal(t, "trip-1", p.TripID)
	assert.Equal(t, "driver-1", p.UserID)
	assert.Equal(t, domain.RoleDriver, p.UserType)
	// GeoJSON order on the wire: [lon, lat].
	assert.Equal(t, [2]float64{2.17, 41.39}, p.Location.Coordinates)
}

func TestEmitWhileDisconnectedErrors(t *testing.T) {
	ch, err := New(Config{
		URL:    "ws://127.0.0.1:1/socket",
		UserID: "driver-1",
		Store:  &fakeSink{},
		Logger: logger.NewLogger("realtime-test"),
	})
	require.NoError(t, err)

	err = ch.EmitLocation("trip-1", geo.NewPoint(geo.LatLng{Latitude: 1, Longitude: 1}, ""))
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestReconnectsAfterDrop(t *testing.T) {
	srv := newWSServer(t)
	startChannel(t, Config{
		URL:    srv.url(),
		Role:   domain.RoleDriver,
		UserID: "driver-1",
		Retry:  &ExponentialBackoff{Initial: 10 * time.Millisecond, Max: 50 * time.Millisecond},
	})

	conn := srv.waitConn(t)
	first := srv.waitFrame(t)
	assert.Equal(t, EventDriverConnect, first.Event)

	// Server drops the connection; the policy brings it back and the role is
	// announced again on the new connection.
	conn.Close()
	srv.waitConn(t)
	second := srv.waitFrame(t)
	assert.Equal(t, EventDriverConnect, second.Event)
}

func TestNoRetryWaitsForManualReconnect(t *testing.T) {
	srv := newWSServer(t)
	ch := startChannel(t, Config{
		URL:    srv.url(),
		Role:   domain.RoleDriver,
		UserID: "driver-1",
		Retry:  NoRetry{},
	})

	conn := srv.waitConn(t)
	srv.waitFrame(t)
	conn.Close()

	// No automatic reconnection.
	select {
	case <-srv.conns:
		t.Fatal("reconnected without manual trigger")
	case <-time.After(300 * time.Millisecond):
	}

	ch.Reconnect()
	srv.waitConn(t)
	m := srv.waitFrame(t)
	assert.Equal(t, EventDriverConnect, m.Event)
}

func TestSuspendResume(t *testing.T) {
	srv := newWSServer(t)
	ch := startChannel(t, Config{
		URL:    srv.url(),
		Role:   domain.RoleDriver,
		UserID: "driver-1",
		Retry:  &ExponentialBackoff{Initial: 10 * time.Millisecond},
	})

	srv.waitConn(t)
	srv.waitFrame(t)

	ch.Suspend()
	require.Eventually(t, func() bool {
		return ch.State() == StateDisconnected
	}, 2*time.Second, 10*time.Millisecond)

	// While suspended the retry policy must not reconnect.
	select {
	case <-srv.conns:
		t.Fatal("reconnected while suspended")
	case <-time.After(300 * time.Millisecond):
	}

	ch.Resume()
	srv.waitConn(t)
	m := srv.waitFrame(t)
	assert.Equal(t, EventDriverConnect, m.Event)
	require.Eventually(t, func() bool {
		return ch.State() == StateConnected
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMalformedFramesIgnored(t *testing.T) {
	srv := newWSServer(t)
	sink := &fakeSink{}
	startChannel(t, Config{
		URL:    srv.url(),
		Role:   domain.RoleDriver,
		UserID: "driver-1",
		Store:  sink,
	})

	conn := srv.waitConn(t)
	srv.waitFrame(t)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	srv.push(t, conn, EventStopUpdate, StopUpdatePayload{TripID: "trip-1", StopID: "stop-1", Status: "completed"})

	require.Eventually(t, func() bool {
		return len(sink.stopCalls()) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSocketURL(t *testing.T) {
	assert.Equal(t, "ws://api.example.com", SocketURL("http://api.example.com/api/v1"))
	assert.Equal(t, "wss://api.example.com", SocketURL("https://api.example.com/api/v1/"))
	assert.Equal(t, "ws://localhost:3000", SocketURL("http://localhost:3000"))
}

func TestExponentialBackoff(t *testing.T) {
	b := &ExponentialBackoff{Initial: time.Second, Max: 30 * time.Second}

	d1, ok := b.NextDelay(1)
	require.True(t, ok)
	assert.Equal(t, time.Second, d1)

	d3, _ := b.NextDelay(3)
	assert.Equal(t, 4*time.Second, d3)

	d10, _ := b.NextDelay(10)
	assert.Equal(t, 30*time.Second, d10)

	limited := &ExponentialBackoff{Initial: time.Second, MaxRetries: 2}
	_, ok = limited.NextDelay(3)
	assert.False(t, ok)
}
