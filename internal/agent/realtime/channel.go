package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"school-transit/internal/agent/domain"
	"school-transit/internal/agent/store"
	"school-transit/pkg/geo"
	"school-transit/pkg/logger"
)

const (
	writeWait    = 5 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	readLimit    = 64_000
	sendBuffer   = 64
)

var ErrNotConnected = errors.New("realtime: socket not connected")

// State of the channel connection.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// TripSink receives the inbound status echoes. *store.TripStore satisfies it.
type TripSink interface {
	MergeRemoteTripUpdate(tripID string, status domain.TripStatus) (domain.Trip, error)
	MergeRemoteStopUpdate(tripID, stopID, studentID string, status domain.StopStatus, actualTime string) (domain.Trip, error)
}

// Notifier surfaces server-sent messages to whatever UI the host has.
type Notifier interface {
	Notify(message string)
}

type NopNotifier struct{}

func (NopNotifier) Notify(string) {}

// Observer is the metrics hook.
type Observer interface {
	SocketEvent(event string)
	SocketConnected(connected bool)
}

type nopObserver struct{}

func (nopObserver) SocketEvent(string)   {}
func (nopObserver) SocketConnected(bool) {}

type Config struct {
	// URL is the socket endpoint (ws:// or wss://), typically derived from
	// the REST base with SocketURL.
	URL    string
	Role   domain.Role
	UserID string

	Store     TripSink
	Locations *store.LocationCache
	Notifier  Notifier
	Retry     RetryPolicy
	Logger    logger.Logger
	Observer  Observer
	Dialer    *websocket.Dialer
}

// Channel owns exactly one socket connection at a time: it announces the
// local user on connect, bridges inbound events into the trip store and the
// location cache, and carries outbound location updates. Reconnection after a
// drop is governed by the configured RetryPolicy; Reconnect and Suspend/Resume
// override it manually.
type Channel struct {
	cfg Config

	mu        sync.Mutex
	state     State
	sessionID string
	conn      *websocket.Conn
	send      chan []byte
	suspended bool
	resetWant bool

	wake chan struct{}
}

func New(cfg Config) (*Channel, error) {
	if cfg.URL == "" {
		return nil, errors.New("realtime: url is required")
	}
	if cfg.UserID == "" {
		return nil, errors.New("realtime: user id is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("realtime: store is required")
	}
	if cfg.Logger == nil {
		return nil, errors.New("realtime: logger is required")
	}
	if cfg.Role == "" {
		cfg.Role = domain.RoleDriver
	}
	if cfg.Notifier == nil {
		cfg.Notifier = NopNotifier{}
	}
	if cfg.Retry == nil {
		cfg.Retry = &ExponentialBackoff{Initial: time.Second, Max: 30 * time.Second}
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	return &Channel{
		cfg:   cfg,
		state: StateDisconnected,
		wake:  make(chan struct{}, 1),
	}, nil
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Run connects and keeps the channel alive until the context is cancelled.
// Dropped connections are retried per the policy; while suspended it waits
// for Resume.
func (c *Channel) Run(ctx context.Context) error {
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if c.takeReset() {
			attempt = 0
		}
		if c.isSuspended() {
			if err := c.await(ctx, nil); err != nil {
				return err
			}
			continue
		}

		err := c.runSession(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			// Clean teardown (suspend); loop back to the suspension wait.
			continue
		}

		c.cfg.Logger.Error("socket.disconnected", err)
		attempt++
		delay, ok := c.cfg.Retry.NextDelay(attempt)
		if !ok {
			c.cfg.Logger.Info("socket.retry_exhausted", "waiting for manual reconnect")
			c.cfg.Notifier.Notify("Connection lost. Tap reconnect to retry.")
			if err := c.await(ctx, nil); err != nil {
				return err
			}
			continue
		}
		c.cfg.Logger.Debug("socket.retry_wait", fmt.Sprintf("attempt=%d delay=%s", attempt, delay))
		timer := time.NewTimer(delay)
		if err := c.await(ctx, timer.C); err != nil {
			timer.Stop()
			return err
		}
		timer.Stop()
	}
}

// runSession dials, announces the role, and pumps until the connection drops.
// A nil return means the session ended on purpose (suspend).
func (c *Channel) runSession(ctx context.Context) error {
	c.setState(StateConnecting)

	conn, _, err := c.cfg.Dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}

	session := uuid.NewString()
	send := make(chan []byte, sendBuffer)

	c.mu.Lock()
	c.conn = conn
	c.send = send
	c.sessionID = session
	c.state = StateConnected
	c.mu.Unlock()
	c.cfg.Observer.SocketConnected(true)
	c.cfg.Retry.Reset()

	log := c.cfg.Logger.WithFields(map[string]interface{}{"user_id": c.cfg.UserID})
	log.Info("socket.connected", fmt.Sprintf("session=%s role=%s", session, c.cfg.Role))

	// Role announcement: exactly once, before anything else goes out.
	frame, err := encodeMessage(connectEvent(c.cfg.Role), ConnectPayload{ID: c.cfg.UserID})
	if err == nil {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		err = conn.WriteMessage(websocket.TextMessage, frame)
	}
	if err != nil {
		c.teardown(conn)
		return fmt.Errorf("announce role: %w", err)
	}

	done := make(chan struct{})
	go c.writeLoop(conn, send, done)

	readErr := c.readLoop(ctx, conn)

	close(done)
	c.teardown(conn)

	if c.isSuspended() || ctx.Err() != nil {
		return nil
	}
	return readErr
}

func (c *Channel) readLoop(ctx context.Context, conn *websocket.Conn) error {
	conn.SetReadLimit(readLimit)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.dispatch(raw)
	}
}

func (c *Channel) writeLoop(conn *websocket.Conn, send <-chan []byte, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case frame := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				conn.Close()
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}
		}
	}
}

func (c *Channel) dispatch(raw []byte) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		c.cfg.Logger.Error("socket.bad_frame", err)
		return
	}
	c.cfg.Observer.SocketEvent(m.Event)

	switch m.Event {
	case EventTripUpdate:
		var p TripUpdatePayload
		if err := json.Unmarshal(m.Data, &p); err != nil {
			c.cfg.Logger.Error("socket.bad_payload", err)
			return
		}
		if _, err := c.cfg.Store.MergeRemoteTripUpdate(p.TripID, domain.TripStatus(p.Status)); err != nil {
			c.cfg.Logger.WithFields(map[string]interface{}{"trip_id": p.TripID}).
				Error("socket.trip_merge_failed", err)
		}
		if p.Message != "" {
			c.cfg.Notifier.Notify(p.Message)
		}

	case EventStopUpdate:
		var p StopUpdatePayload
		if err := json.Unmarshal(m.Data, &p); err != nil {
			c.cfg.Logger.Error("socket.bad_payload", err)
			return
		}
		_, err := c.cfg.Store.MergeRemoteStopUpdate(p.TripID, p.StopID, p.StudentID, domain.StopStatus(p.Status), p.ActualTime)
		if err != nil {
			c.cfg.Logger.WithFields(map[string]interface{}{"trip_id": p.TripID, "stop_id": p.StopID}).
				Error("socket.stop_merge_failed", err)
		}
		if p.Message != "" {
			c.cfg.Notifier.Notify(p.Message)
		}

	case EventLocationUpdate:
		var p LocationUpdatePayload
		if err := json.Unmarshal(m.Data, &p); err != nil {
			c.cfg.Logger.Error("socket.bad_payload", err)
			return
		}
		if c.cfg.Locations != nil {
			c.cfg.Locations.Set(store.DriverLocation{
				TripID:   p.TripID,
				UserID:   p.UserID,
				Location: p.Location,
			})
		}

	default:
		c.cfg.Logger.Debug("socket.unknown_event", m.Event)
	}
}

// EmitLocation sends a location-update for the trip. It satisfies the
// tracker's emitter contract.
func (c *Channel) EmitLocation(tripID string, loc geo.Point) error {
	return c.EmitLocationStatus(tripID, loc, "")
}

// EmitLocationStatus is EmitLocation with a trip status piggybacked, used
// when a driver status change should reach parents in the same frame.
func (c *Channel) EmitLocationStatus(tripID string, loc geo.Point, status string) error {
	frame, err := encodeMessage(EventLocationUpdate, LocationUpdatePayload{
		TripID:   tripID,
		UserID:   c.cfg.UserID,
		UserType: c.cfg.Role,
		Status:   status,
		Location: loc,
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	send := c.send
	connected := c.state == StateConnected
	c.mu.Unlock()
	if !connected || send == nil {
		return ErrNotConnected
	}

	select {
	case send <- frame:
		return nil
	default:
		// Buffer full: location updates supersede each other, drop this one.
		c.cfg.Logger.Debug("socket.send_buffer_full", "location update dropped")
		return nil
	}
}

// Reconnect resets the backoff and forces an immediate connection attempt.
func (c *Channel) Reconnect() {
	c.mu.Lock()
	c.resetWant = true
	c.suspended = false
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	c.signal()
}

// Suspend tears the connection down until Resume, mirroring the app moving
// to the background.
func (c *Channel) Suspend() {
	c.mu.Lock()
	c.suspended = true
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	c.cfg.Logger.Info("socket.suspended", "connection torn down")
}

// Resume re-establishes the connection after Suspend.
func (c *Channel) Resume() {
	c.mu.Lock()
	c.suspended = false
	c.resetWant = true
	c.mu.Unlock()
	c.signal()
}

func (c *Channel) teardown(conn *websocket.Conn) {
	conn.Close()
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		c.send = nil
	}
	c.state = StateDisconnected
	c.mu.Unlock()
	c.cfg.Observer.SocketConnected(false)
}

func (c *Channel) isSuspended() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.suspended
}

func (c *Channel) takeReset() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	want := c.resetWant
	c.resetWant = false
	return want
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Channel) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// await blocks until a wake signal, the optional timer, or cancellation.
func (c *Channel) await(ctx context.Context, timer <-chan time.Time) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.wake:
		return nil
	case <-timer:
		return nil
	}
}
