package metrics

import (
	"school-transit/internal/agent/realtime"
)

// Adapters binding the collector to the observer hooks the other packages
// expose. Each is a value type so call sites can pass them directly.

type TrackerObserver struct{ C *Collector }

func (o TrackerObserver) SampleAccepted() { o.C.SamplesAccepted.Inc() }

func (o TrackerObserver) SampleRejected(gate string) {
	o.C.SamplesRejected.WithLabelValues(gate).Inc()
}

func (o TrackerObserver) GeocodeCall(err error) {
	o.C.GeocodeCalls.Inc()
	if err != nil {
		o.C.GeocodeErrors.Inc()
	}
}

type SocketObserver struct{ C *Collector }

func (o SocketObserver) SocketEvent(event string) {
	o.C.SocketEvents.WithLabelValues(event).Inc()
	switch event {
	case realtime.EventTripUpdate:
		o.C.MergesApplied.WithLabelValues("trip").Inc()
	case realtime.EventStopUpdate:
		o.C.MergesApplied.WithLabelValues("stop").Inc()
	}
}

func (o SocketObserver) SocketConnected(connected bool) {
	if connected {
		o.C.SocketConnected.Set(1)
		return
	}
	o.C.SocketConnected.Set(0)
}

type APIObserver struct{ C *Collector }

func (o APIObserver) RequestRetried() { o.C.RESTRetries.Inc() }

type PlannerObserver struct{ C *Collector }

func (o PlannerObserver) RouteRequest()       { o.C.RouteRequests.Inc() }
func (o PlannerObserver) RouteRequestFailed() { o.C.RouteRequestErrors.Inc() }
