package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"school-transit/internal/agent/api"
	"school-transit/internal/agent/planner"
	"school-transit/internal/agent/realtime"
	"school-transit/internal/agent/tracker"
)

// The adapters must keep satisfying the hooks they are wired into.
var (
	_ tracker.Observer  = TrackerObserver{}
	_ realtime.Observer = SocketObserver{}
	_ api.Observer      = APIObserver{}
	_ planner.Observer  = PlannerObserver{}
)

func TestTrackerObserverCounts(t *testing.T) {
	c := NewCollector()
	o := TrackerObserver{C: c}

	o.SampleAccepted()
	o.SampleAccepted()
	o.SampleRejected("time")
	o.SampleRejected("distance")
	o.SampleRejected("distance")
	o.GeocodeCall(nil)
	o.GeocodeCall(errors.New("quota"))

	assert.Equal(t, 2.0, testutil.ToFloat64(c.SamplesAccepted))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.SamplesRejected.WithLabelValues("time")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.SamplesRejected.WithLabelValues("distance")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.GeocodeCalls))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.GeocodeErrors))
}

func TestSocketObserverCounts(t *testing.T) {
	c := NewCollector()
	o := SocketObserver{C: c}

	o.SocketConnected(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.SocketConnected))

	o.SocketEvent(realtime.EventStopUpdate)
	o.SocketEvent(realtime.EventTripUpdate)
	o.SocketEvent(realtime.EventLocationUpdate)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.MergesApplied.WithLabelValues("stop")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.MergesApplied.WithLabelValues("trip")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.SocketEvents.WithLabelValues(realtime.EventLocationUpdate)))

	o.SocketConnected(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(c.SocketConnected))
}
