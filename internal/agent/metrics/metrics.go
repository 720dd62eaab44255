package metrics

import (
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	SamplesAccepted prometheus.Counter
	SamplesRejected *prometheus.CounterVec // gate label: time|distance
	GeocodeCalls    prometheus.Counter
	GeocodeErrors   prometheus.Counter

	SocketEvents    *prometheus.CounterVec // event label
	SocketConnected prometheus.Gauge

	MergesApplied *prometheus.CounterVec // kind label: trip|stop
	RESTRetries   prometheus.Counter

	RouteRequests      prometheus.Counter
	RouteRequestErrors prometheus.Counter
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		SamplesAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agent_location_samples_accepted_total",
			Help: "Total position samples that passed every gate.",
		}),
		SamplesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_location_samples_rejected_total",
			Help: "Total position samples rejected, by gate.",
		}, []string{"gate"}),
		GeocodeCalls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agent_geocode_calls_total",
			Help: "Total reverse geocode lookups.",
		}),
		GeocodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agent_geocode_errors_total",
			Help: "Total reverse geocode lookups that failed.",
		}),
		SocketEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_socket_events_total",
			Help: "Total inbound socket events, by event name.",
		}, []string{"event"}),
		SocketConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agent_socket_connected",
			Help: "1 if the realtime socket is connected, 0 otherwise.",
		}),
		MergesApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_merges_applied_total",
			Help: "Total remote merge events received, by kind.",
		}, []string{"kind"}),
		RESTRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agent_rest_retries_total",
			Help: "Total REST requests retried after a token refresh.",
		}),
		RouteRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agent_route_requests_total",
			Help: "Total directions provider requests.",
		}),
		RouteRequestErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agent_route_request_errors_total",
			Help: "Total directions provider requests that failed.",
		}),
	}

	reg.MustRegister(
		c.SamplesAccepted, c.SamplesRejected,
		c.GeocodeCalls, c.GeocodeErrors,
		c.SocketEvents, c.SocketConnected,
		c.MergesApplied, c.RESTRetries,
		c.RouteRequests, c.RouteRequestErrors,
	)

	return c
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()
	return srv
}
