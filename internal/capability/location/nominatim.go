package location

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// DefaultNominatimURL is the public OSM Nominatim instance. Deployments
// should point NOMINATIM_URL at their own instance to respect the public
// server's usage policy.
const DefaultNominatimURL = "https://nominatim.openstreetmap.org"

const userAgent = "roamfit/1.0 (fitness location lookup)"

// place is a single Nominatim search result.
type place struct {
	DisplayName string `json:"display_name"`
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	Type        string `json:"type"`
	Class       string `json:"class"`
}

// nominatimClient performs bounded searches against a Nominatim instance.
type nominatimClient struct {
	baseURL string
	http    *http.Client
}

func newNominatimClient(baseURL string, client *http.Client) *nominatimClient {
	if baseURL == "" {
		baseURL = DefaultNominatimURL
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &nominatimClient{baseURL: baseURL, http: client}
}

// search runs a free-text query bounded to a box of radiusKm around the
// given point.
func (c *nominatimClient) search(ctx context.Context, query string, lat, lon, radiusKm float64, limit int) ([]place, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("limit", strconv.Itoa(limit))
	q.Set("viewbox", viewbox(lat, lon, radiusKm))
	q.Set("bounded", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("nominatim: build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("nominatim: search %q: %w", query, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("nominatim: search %q: unexpected status %d", query, resp.StatusCode)
	}

	var places []place
	if err := json.NewDecoder(resp.Body).Decode(&places); err != nil {
		return nil, fmt.Errorf("nominatim: decode response: %w", err)
	}
	return places, nil
}

// viewbox returns the left,top,right,bottom bounding box for a radius in km
// around a point. Longitude degrees shrink with latitude; near the poles they
// vanish entirely, so the span is capped at the full circle to keep the query
// finite.
func viewbox(lat, lon, radiusKm float64) string {
	latDelta := radiusKm / 111.0
	lonDelta := radiusKm / (111.0 * math.Cos(lat*math.Pi/180))
	if !(lonDelta < 360) {
		lonDelta = 360
	}
	return fmt.Sprintf("%f,%f,%f,%f", lon-lonDelta, lat+latDelta, lon+lonDelta, lat-latDelta)
}

// haversineKm returns the great-circle distance between two points in km.
func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKm = 6371.0
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }

	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}
