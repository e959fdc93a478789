// Package routingclient adapts the external HTTP trip-optimizer (the
// routing engine) into a visit-ordered sequence the Plan Assembler and
// Execution Supervisor can consume directly.
package routingclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"routeplan/internal/domain"
	"routeplan/pkg/apperror"
	"routeplan/pkg/config"
	"routeplan/pkg/metrics"
)

// Visit is one stop in the routing engine's optimized visit order.
type Visit struct {
	// InputIndex is the position of this stop in the Points slice passed to Trip.
	InputIndex int
	Snapped    domain.Coordinate
	// LegDurationS is the inbound leg duration from the previous visit, in
	// seconds. Zero for the first visit.
	LegDurationS float64
}

// TripResult is the routing engine's response, re-keyed to visit order.
type TripResult struct {
	Visits []Visit
	// ClosingLegDurationS is the duration of the leg that closes the loop
	// from the last visit back to the start.
	ClosingLegDurationS float64
	// Geometry is the full loop polyline, returned verbatim for client-side
	// rendering. Not interpreted by the core.
	Geometry []domain.Coordinate
}

// Client adapts an ordered set of stops into an optimized visit sequence.
type Client interface {
	// Trip requests an optimized, round-trip visit order over points, with
	// points[0] fixed as the start. A single point bypasses the engine
	// entirely (see Trip's implementation).
	Trip(ctx context.Context, points []domain.Coordinate) (*TripResult, error)
}

// HTTPClient implements Client against an OSRM-compatible /trip endpoint.
type HTTPClient struct {
	baseURL    string
	profile    string
	httpClient *http.Client
	maxRetries int
}

// NewHTTPClient builds a routing-engine client from configuration.
func NewHTTPClient(cfg config.RoutingEngineConfig) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		profile: cfg.Profile,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		maxRetries: cfg.MaxRetries,
	}
}

// Trip requests an optimized visit order over points. A single-point input
// is synthesized locally at zero duration without calling the engine, per
// the routing-engine contract's single-point exemption.
func (c *HTTPClient) Trip(ctx context.Context, points []domain.Coordinate) (*TripResult, error) {
	if len(points) == 0 {
		return nil, apperror.New(apperror.CodeInvalidArgument, "trip requires at least one point")
	}
	if len(points) == 1 {
		return &TripResult{
			Visits: []Visit{{InputIndex: 0, Snapped: points[0], LegDurationS: 0}},
			Geometry: []domain.Coordinate{points[0]},
		}, nil
	}

	start := time.Now()
	result, err := c.trip(ctx, points)
	metrics.Get().RecordRoutingEngineCall(err == nil, time.Since(start))
	return result, err
}

func (c *HTTPClient) trip(ctx context.Context, points []domain.Coordinate) (*TripResult, error) {
	url := fmt.Sprintf("%s/trip/v1/%s/%s?source=first&roundtrip=true&steps=true&geometries=geojson&overview=full",
		c.baseURL, c.profile, encodeCoordinates(points))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInternal, "failed to build routing-engine request")
	}
	req.Header.Set("X-Request-Id", uuid.NewString())

	resp, err := c.doWithRetry(req)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeRoutingEngineUnavailable, "routing engine unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperror.New(apperror.CodeRoutingEngineNonOK,
			fmt.Sprintf("routing engine returned HTTP %d", resp.StatusCode))
	}

	var wire tripResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, apperror.Wrap(err, apperror.CodeRoutingEngineDecode, "failed to decode routing-engine response")
	}
	if wire.Code != "Ok" {
		return nil, apperror.New(apperror.CodeRoutingEngineNonOK,
			fmt.Sprintf("routing engine reported code %q", wire.Code))
	}
	if len(wire.Trips) == 0 {
		return nil, apperror.New(apperror.CodeRoutingEngineDecode, "routing engine returned no trips")
	}

	return buildTripResult(wire, points)
}

// doWithRetry executes req, retrying server errors and network failures
// with exponential backoff. 4xx responses are returned immediately since a
// retry would not change the outcome.
func (c *HTTPClient) doWithRetry(req *http.Request) (*http.Response, error) {
	maxRetries := c.maxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		resp, err := c.httpClient.Do(req)
		if err == nil {
			if resp.StatusCode < 500 {
				return resp, nil
			}
			resp.Body.Close()
			lastErr = fmt.Errorf("routing engine returned status %d", resp.StatusCode)
		} else {
			lastErr = err
		}

		if attempt < maxRetries {
			backoff := time.Duration(100*(1<<attempt)) * time.Millisecond
			select {
			case <-req.Context().Done():
				return nil, req.Context().Err()
			case <-time.After(backoff):
			}
		}
	}
	return nil, fmt.Errorf("request failed after %d retries: %w", maxRetries, lastErr)
}

// tripResponse mirrors the OSRM-compatible /trip/v1 response shape.
type tripResponse struct {
	Code  string `json:"code"`
	Trips []struct {
		Geometry struct {
			Coordinates [][2]float64 `json:"coordinates"`
		} `json:"geometry"`
		Legs []struct {
			Duration float64 `json:"duration"`
		} `json:"legs"`
	} `json:"trips"`
	Waypoints []struct {
		WaypointIndex int        `json:"waypoint_index"`
		TripsIndex    int        `json:"trips_index"`
		Location      [2]float64 `json:"location"`
	} `json:"waypoints"`
}

// buildTripResult re-keys the engine's response to visit order: waypoints
// are emitted in input order but each carries its position in the
// optimized trip (waypoint_index); legs are keyed by trip position and
// must be re-associated with the visit that follows them.
func buildTripResult(wire tripResponse, points []domain.Coordinate) (*TripResult, error) {
	trip := wire.Trips[0]

	if len(wire.Waypoints) != len(points) {
		return nil, apperror.New(apperror.CodeRoutingEngineDecode,
			fmt.Sprintf("routing engine returned %d waypoints for %d input points", len(wire.Waypoints), len(points)))
	}

	type indexed struct {
		visitIndex int
		inputIndex int
		location   [2]float64
	}
	ordered := make([]indexed, len(wire.Waypoints))
	for inputIndex, wp := range wire.Waypoints {
		ordered[inputIndex] = indexed{
			visitIndex: wp.WaypointIndex,
			inputIndex: inputIndex,
			location:   wp.Location,
		}
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].visitIndex < ordered[j].visitIndex })

	if len(trip.Legs) != len(ordered) {
		return nil, apperror.New(apperror.CodeRoutingEngineDecode,
			fmt.Sprintf("routing engine returned %d legs for %d waypoints", len(trip.Legs), len(ordered)))
	}

	visits := make([]Visit, len(ordered))
	for pos, o := range ordered {
		leg := 0.0
		if pos > 0 {
			leg = trip.Legs[pos-1].Duration
		}
		visits[pos] = Visit{
			InputIndex:   o.inputIndex,
			Snapped:      domain.Coordinate{Lon: o.location[0], Lat: o.location[1]},
			LegDurationS: leg,
		}
	}

	geometry := make([]domain.Coordinate, len(trip.Geometry.Coordinates))
	for i, c := range trip.Geometry.Coordinates {
		geometry[i] = domain.Coordinate{Lon: c[0], Lat: c[1]}
	}

	return &TripResult{
		Visits:              visits,
		ClosingLegDurationS: trip.Legs[len(trip.Legs)-1].Duration,
		Geometry:            geometry,
	}, nil
}

// encodeCoordinates renders points as the OSRM "lon,lat;lon,lat;..." path segment.
func encodeCoordinates(points []domain.Coordinate) string {
	var b strings.Builder
	for i, p := range points {
		if i > 0 {
			b.WriteByte(';')
		}
		fmt.Fprintf(&b, "%f,%f", p.Lon, p.Lat)
	}
	return b.String()
}
