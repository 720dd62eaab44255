package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"school-transit/pkg/geo"
)

const googleDirectionsURL = "https://maps.googleapis.com/maps/api/directions/json"

var ErrNoRoute = errors.New("planner: provider returned no route")

// DirectionsRoute is one provider route, decoded.
type DirectionsRoute struct {
	Path        []geo.LatLng
	DistanceKm  float64
	DurationMin float64
	Summary     string
}

// Directions is the route provider boundary.
type Directions interface {
	// Route requests a path from origin to destination through the waypoints
	// in order. With optimize set the provider may reorder the waypoints.
	Route(ctx context.Context, origin, destination geo.LatLng, waypoints []geo.LatLng, optimize bool) (DirectionsRoute, error)
}

// GoogleDirections calls the Google Directions JSON API.
type GoogleDirections struct {
	baseURL    string
	key        string
	httpClient *http.Client
}

func NewGoogleDirections(key string) *GoogleDirections {
	return &GoogleDirections{
		baseURL:    googleDirectionsURL,
		key:        key,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type directionsResponse struct {
	Status string `json:"status"`
	Routes []struct {
		Summary          string `json:"summary"`
		OverviewPolyline struct {
			Points string `json:"points"`
		} `json:"overview_polyline"`
		Legs []struct {
			Distance struct {
				Value float64 `json:"value"` // meters
			} `json:"distance"`
			Duration struct {
				Value float64 `json:"value"` // seconds
			} `json:"duration"`
		} `json:"legs"`
	} `json:"routes"`
}

func (g *GoogleDirections) Route(ctx context.Context, origin, destination geo.LatLng, waypoints []geo.LatLng, optimize bool) (DirectionsRoute, error) {
	q := url.Values{}
	q.Set("origin", formatLatLng(origin))
	q.Set("destination", formatLatLng(destination))
	if len(waypoints) > 0 {
		parts := make([]string, 0, len(waypoints))
		for _, w := range waypoints {
			parts = append(parts, formatLatLng(w))
		}
		joined := strings.Join(parts, "|")
		if optimize {
			joined = "optimize:true|" + joined
		}
		q.Set("waypoints", joined)
	}
	q.Set("key", g.key)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return DirectionsRoute{}, err
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return DirectionsRoute{}, fmt.Errorf("directions request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return DirectionsRoute{}, fmt.Errorf("directions request: unexpected status %d", resp.StatusCode)
	}

	var body directionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return DirectionsRoute{}, fmt.Errorf("decode directions response: %w", err)
	}
	if body.Status != "OK" || len(body.Routes) == 0 {
		return DirectionsRoute{}, fmt.Errorf("%w: status %s", ErrNoRoute, body.Status)
	}

	r := body.Routes[0]
	out := DirectionsRoute{
		Path:    geo.DecodePolyline(r.OverviewPolyline.Points),
		Summary: r.Summary,
	}
	for _, leg := range r.Legs {
		out.DistanceKm += leg.Distance.Value / 1000
		out.DurationMin += leg.Duration.Value / 60
	}
	return out, nil
}

func formatLatLng(p geo.LatLng) string {
	return fmt.Sprintf("%f,%f", p.Latitude, p.Longitude)
}
