package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"school-transit/pkg/geo"
)

const googleGeocodeURL = "https://maps.googleapis.com/maps/api/geocode/json"

// GoogleGeocoder resolves coordinates to formatted addresses through the
// Google Geocoding API.
type GoogleGeocoder struct {
	baseURL    string
	key        string
	httpClient *http.Client
}

func NewGoogleGeocoder(key string) *GoogleGeocoder {
	return &GoogleGeocoder{
		baseURL:    googleGeocodeURL,
		key:        key,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

func (g *GoogleGeocoder) ReverseGeocode(ctx context.Context, pos geo.LatLng) (string, error) {
	params := url.Values{}
	params.Set("latlng", fmt.Sprintf("%f,%f", pos.Latitude, pos.Longitude))
	params.Set("key", g.key)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return "", err
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("geocode request: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		Status  string `json:"status"`
		Results []struct {
			FormattedAddress string `json:"formatted_address"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("geocode decode: %w", err)
	}

	if body.Status != "OK" || len(body.Results) == 0 {
		return "", fmt.Errorf("geocode status %s", body.Status)
	}
	return body.Results[0].FormattedAddress, nil
}
