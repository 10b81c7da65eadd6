// README: Google Directions API provider.
package directions

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"googlemaps.github.io/maps"

	"ridepulse/internal/types"
)

const googleTimeout = 10 * time.Second

// GoogleProvider implements Provider using the Google Maps Directions API.
type GoogleProvider struct {
	client *maps.Client
}

// NewGoogleProvider creates a provider with the given API key.
func NewGoogleProvider(apiKey string) (*GoogleProvider, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &GoogleProvider{client: client}, nil
}

// Route fetches the primary driving route between origin and destination.
// Any transport or decode failure maps to ErrUnavailable so callers treat
// the provider as best-effort.
func (p *GoogleProvider) Route(ctx context.Context, origin, destination types.Point) (*Route, error) {
	reqCtx, cancel := context.WithTimeout(ctx, googleTimeout)
	defer cancel()

	r := &maps.DirectionsRequest{
		Origin:      latLngString(origin),
		Destination: latLngString(destination),
		Mode:        maps.TravelModeDriving,
	}

	routes, _, err := p.client.Directions(reqCtx, r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return nil, fmt.Errorf("%w: no route found", ErrUnavailable)
	}

	route := routes[0]
	leg := route.Legs[0]

	geometry, err := decodePolyline(route.OverviewPolyline)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	instructions := make([]Instruction, 0, len(leg.Steps))
	for _, step := range leg.Steps {
		instructions = append(instructions, Instruction{
			Instruction: stripHTML(step.HTMLInstructions),
			Target:      types.Point{Lat: step.EndLocation.Lat, Lng: step.EndLocation.Lng},
			DistanceM:   float64(step.Distance.Meters),
			Type:        strings.ToLower(step.TravelMode),
		})
	}

	return &Route{
		Geometry:        geometry,
		Instructions:    instructions,
		TotalDistanceKm: float64(leg.Distance.Meters) / 1000.0,
		Duration:        leg.Duration,
	}, nil
}

func decodePolyline(p maps.Polyline) ([]types.Point, error) {
	latLngs, err := p.Decode()
	if err != nil {
		return nil, err
	}
	pts := make([]types.Point, len(latLngs))
	for i, ll := range latLngs {
		pts[i] = types.Point{Lat: ll.Lat, Lng: ll.Lng}
	}
	return pts, nil
}

func latLngString(p types.Point) string {
	return fmt.Sprintf("%f,%f", p.Lat, p.Lng)
}

var (
	htmlTagRe = regexp.MustCompile(`<[^>]*>`)
	spacesRe  = regexp.MustCompile(`\s+`)
)

// stripHTML flattens Google's html_instructions into announcement-friendly text.
func stripHTML(s string) string {
	return strings.TrimSpace(spacesRe.ReplaceAllString(htmlTagRe.ReplaceAllString(s, " "), " "))
}
