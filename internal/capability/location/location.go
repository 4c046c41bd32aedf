// Package location implements the location-lookup capability service.
//
// It resolves nearby gyms and running spots through an OpenStreetMap
// Nominatim instance, filtering and ranking results by great-circle distance.
package location

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	defaultRadiusKm = 2.0
	defaultLimit    = 10
	maxLimit        = 25

	// searchFetchLimit over-fetches per query so distance filtering still has
	// enough candidates after discarding out-of-radius hits.
	searchFetchLimit = 50
)

// trackQueries are the searches unioned for find_running_tracks.
var trackQueries = []string{"park", "running track", "trail"}

// Service is the location-lookup capability.
type Service struct {
	nominatim *nominatimClient
}

// New creates the service. baseURL and client may be zero values, in which
// case the public Nominatim instance and a default HTTP client are used.
func New(baseURL string, client *http.Client) *Service {
	return &Service{nominatim: newNominatimClient(baseURL, client)}
}

type searchIn struct {
	Latitude  float64 `json:"latitude" jsonschema:"latitude of the search origin"`
	Longitude float64 `json:"longitude" jsonschema:"longitude of the search origin"`
	RadiusKm  float64 `json:"radius_km,omitempty" jsonschema:"search radius in kilometres (default 2.0)"`
	Limit     int     `json:"limit,omitempty" jsonschema:"maximum results to return (default 10, max 25)"`
}

type searchOut struct {
	Results []Place `json:"results"`
}

// Place is a resolved location, nearest first.
type Place struct {
	Name       string  `json:"name"`
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	DistanceKm float64 `json:"distance_km"`
	Kind       string  `json:"kind,omitempty"`
}

// Register implements capability.Registrar.
func (s *Service) Register(server *mcpsdk.Server) {
	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        "find_nearby_gyms",
		Description: "Find gyms and fitness centres near a coordinate, nearest first.",
	}, s.findGyms)

	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        "find_running_tracks",
		Description: "Find parks, running tracks, and trails near a coordinate, nearest first.",
	}, s.findTracks)
}

func (s *Service) findGyms(ctx context.Context, _ *mcpsdk.CallToolRequest, in searchIn) (*mcpsdk.CallToolResult, searchOut, error) {
	in = in.withDefaults()
	if err := in.validate(); err != nil {
		return nil, searchOut{}, fmt.Errorf("find_nearby_gyms: %w", err)
	}

	places, err := s.nominatim.search(ctx, "gym", in.Latitude, in.Longitude, in.RadiusKm, searchFetchLimit)
	if err != nil {
		return nil, searchOut{}, fmt.Errorf("find_nearby_gyms: %w", err)
	}
	return nil, searchOut{Results: rank(places, in)}, nil
}

func (s *Service) findTracks(ctx context.Context, _ *mcpsdk.CallToolRequest, in searchIn) (*mcpsdk.CallToolResult, searchOut, error) {
	in = in.withDefaults()
	if err := in.validate(); err != nil {
		return nil, searchOut{}, fmt.Errorf("find_running_tracks: %w", err)
	}

	// Union of all track-like queries, deduplicated by address.
	seen := make(map[string]struct{})
	var union []place
	for _, query := range trackQueries {
		places, err := s.nominatim.search(ctx, query, in.Latitude, in.Longitude, in.RadiusKm, searchFetchLimit)
		if err != nil {
			return nil, searchOut{}, fmt.Errorf("find_running_tracks: %w", err)
		}
		for _, p := range places {
			if _, dup := seen[p.DisplayName]; dup {
				continue
			}
			seen[p.DisplayName] = struct{}{}
			union = append(union, p)
		}
	}
	return nil, searchOut{Results: rank(union, in)}, nil
}

func (in searchIn) withDefaults() searchIn {
	if in.RadiusKm <= 0 {
		in.RadiusKm = defaultRadiusKm
	}
	if in.Limit <= 0 {
		in.Limit = defaultLimit
	}
	if in.Limit > maxLimit {
		in.Limit = maxLimit
	}
	return in
}

func (in searchIn) validate() error {
	if in.Latitude < -90 || in.Latitude > 90 {
		return fmt.Errorf("latitude %v out of range", in.Latitude)
	}
	if in.Longitude < -180 || in.Longitude > 180 {
		return fmt.Errorf("longitude %v out of range", in.Longitude)
	}
	return nil
}

// rank converts raw places into distance-filtered results, nearest first.
func rank(places []place, in searchIn) []Place {
	out := make([]Place, 0, len(places))
	for _, p := range places {
		lat, err1 := strconv.ParseFloat(p.Lat, 64)
		lon, err2 := strconv.ParseFloat(p.Lon, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		dist := haversineKm(in.Latitude, in.Longitude, lat, lon)
		if dist > in.RadiusKm {
			continue
		}
		out = append(out, Place{
			Name:       p.DisplayName,
			Latitude:   lat,
			Longitude:  lon,
			DistanceKm: dist,
			Kind:       p.Type,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DistanceKm < out[j].DistanceKm })
	if len(out) > in.Limit {
		out = out[:in.Limit]
	}
	return out
}
