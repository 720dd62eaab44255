package planner

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"

	"school-transit/pkg/geo"
	"school-transit/pkg/logger"
)

// Dedup thresholds: a candidate is a duplicate of an accepted route when
// their total distances are this close. Distance comparison only, not path
// geometry, so near-equal-length but different routes are collapsed.
const (
	reversedDedupKm  = 0.5
	optimizedDedupKm = 0.3
)

var ErrUnknownRoute = errors.New("planner: unknown route id")

// Route is one displayable alternative.
type Route struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Path        []geo.LatLng `json:"path"`
	DistanceKm  float64      `json:"distanceKm"`
	DurationMin float64      `json:"durationMin"`
	Summary     string       `json:"summary,omitempty"`
	Selected    bool         `json:"selected"`
	// Dashed routes carry no provider geometry, only straight segments
	// between the stops.
	Dashed bool `json:"dashed,omitempty"`
}

// Plan is a set of alternatives with exactly one selected (when non-empty).
type Plan struct {
	Routes []Route `json:"routes"`
}

// Select flags the given route and clears every other one.
func (p *Plan) Select(id string) error {
	found := false
	for i := range p.Routes {
		if p.Routes[i].ID == id {
			found = true
		}
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrUnknownRoute, id)
	}
	for i := range p.Routes {
		p.Routes[i].Selected = p.Routes[i].ID == id
	}
	return nil
}

// Selected returns the currently selected route.
func (p *Plan) Selected() (Route, bool) {
	for _, r := range p.Routes {
		if r.Selected {
			return r, true
		}
	}
	return Route{}, false
}

// Observer is the metrics hook.
type Observer interface {
	RouteRequest()
	RouteRequestFailed()
}

type nopObserver struct{}

func (nopObserver) RouteRequest()       {}
func (nopObserver) RouteRequestFailed() {}

// Planner produces ranked route alternatives between an ordered list of stop
// coordinates. Directions may be nil (no provider key): the plan then falls
// back to dashed straight lines between stops.
type Planner struct {
	directions Directions
	logger     logger.Logger
	observer   Observer
}

func New(directions Directions, log logger.Logger, obs Observer) *Planner {
	if obs == nil {
		obs = nopObserver{}
	}
	return &Planner{directions: directions, logger: log, observer: obs}
}

// Alternatives builds 1-3 alternatives for the given stop points, first one
// selected. Individual provider failures are non-fatal and just yield fewer
// alternatives.
func (p *Planner) Alternatives(ctx context.Context, points []geo.LatLng) (Plan, error) {
	if len(points) < 2 {
		return Plan{}, nil
	}
	if p.directions == nil {
		return p.dashedFallback(points), nil
	}

	origin := points[0]
	destination := points[len(points)-1]
	intermediates := points[1 : len(points)-1]

	var plan Plan

	standard, err := p.request(ctx, origin, destination, intermediates, false)
	if err == nil {
		plan.Routes = append(plan.Routes, routeFrom(standard, "Route 1"))
	} else {
		p.logger.Error("planner.standard_failed", err)
	}

	// Reversing the intermediate order is the cheapest structurally
	// different request.
	if len(intermediates) > 1 {
		reversed, err := p.request(ctx, origin, destination, reverse(intermediates), false)
		if err != nil {
			p.logger.Error("planner.reversed_failed", err)
		} else if plan.distinct(reversed.DistanceKm, reversedDedupKm) {
			plan.Routes = append(plan.Routes, routeFrom(reversed, fmt.Sprintf("Route %d", len(plan.Routes)+1)))
		}
	}

	// Fewer than two distinct alternatives so far: let the provider reorder
	// the waypoints itself.
	if len(plan.Routes) < 2 && len(intermediates) > 1 {
		optimized, err := p.request(ctx, origin, destination, intermediates, true)
		if err != nil {
			p.logger.Error("planner.optimized_failed", err)
		} else if plan.distinct(optimized.DistanceKm, optimizedDedupKm) {
			plan.Routes = append(plan.Routes, routeFrom(optimized, fmt.Sprintf("Route %d", len(plan.Routes)+1)))
		}
	}

	if len(plan.Routes) == 0 {
		// Every request failed or deduped away. One more plain attempt; a
		// single undifferentiated route is better than nothing.
		all, err := p.request(ctx, origin, destination, intermediates, false)
		if err != nil {
			p.logger.Error("planner.fallback_failed", err)
			return p.dashedFallback(points), nil
		}
		plan.Routes = append(plan.Routes, routeFrom(all, "All Stops"))
	}

	plan.Routes[0].Selected = true
	return plan, nil
}

func (p *Planner) request(ctx context.Context, origin, destination geo.LatLng, waypoints []geo.LatLng, optimize bool) (DirectionsRoute, error) {
	p.observer.RouteRequest()
	route, err := p.directions.Route(ctx, origin, destination, waypoints, optimize)
	if err != nil {
		p.observer.RouteRequestFailed()
	}
	return route, err
}

// dashedFallback draws straight segments between the stops.
func (p *Planner) dashedFallback(points []geo.LatLng) Plan {
	path := append([]geo.LatLng(nil), points...)
	return Plan{Routes: []Route{{
		ID:         uuid.NewString(),
		Name:       "All Stops",
		Path:       path,
		DistanceKm: geo.PathDistance(path) / 1000,
		Selected:   true,
		Dashed:     true,
	}}}
}

// distinct reports whether a candidate distance differs from every accepted
// route by more than the threshold.
func (p *Plan) distinct(distanceKm, thresholdKm float64) bool {
	for _, r := range p.Routes {
		if math.Abs(r.DistanceKm-distanceKm) <= thresholdKm {
			return false
		}
	}
	return true
}

func routeFrom(d DirectionsRoute, name string) Route {
	return Route{
		ID:          uuid.NewString(),
		Name:        name,
		Path:        d.Path,
		DistanceKm:  d.DistanceKm,
		DurationMin: d.DurationMin,
		Summary:     d.Summary,
	}
}

func reverse(points []geo.LatLng) []geo.LatLng {
	out := make([]geo.LatLng, len(points))
	for i, p := range points {
		out[len(points)-1-i] = p
	}
	return out
}
