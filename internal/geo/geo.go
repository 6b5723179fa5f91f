package geo

import (
	"context"
	"math"
	"time"

	"presence/internal/fault"
)

// earthRadiusMeters is the mean Earth radius used by the haversine formula.
const earthRadiusMeters = 6371000

// FixTimeout bounds how long a location source may take to produce a fix.
const FixTimeout = 10 * time.Second

// Coordinates is a latitude/longitude pair in decimal degrees. It is
// ephemeral: evaluated once, never persisted.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Verdict is the outcome of a geofence evaluation.
type Verdict struct {
	DistanceMeters float64 `json:"distance_meters"`
	WithinRadius   bool    `json:"within_radius"`
}

// Distance returns the great-circle distance between two points in meters.
func Distance(a, b Coordinates) float64 {
	phi1 := a.Latitude * math.Pi / 180
	phi2 := b.Latitude * math.Pi / 180
	dPhi := (b.Latitude - a.Latitude) * math.Pi / 180
	dLambda := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusMeters * c
}

// Evaluate computes the distance from cur to ref and whether it falls
// inside maxRadius meters. The boundary itself counts as inside.
func Evaluate(cur, ref Coordinates, maxRadius float64) Verdict {
	d := Distance(cur, ref)
	return Verdict{DistanceMeters: d, WithinRadius: d <= maxRadius}
}

// ParseFix validates a device-reported fix where each coordinate is
// optional. A missing coordinate means the sensor produced no fix within
// its window: the result is indeterminate, not out of range, and the
// gated action must stay blocked.
func ParseFix(lat, lng *float64) (Coordinates, error) {
	if lat == nil || lng == nil {
		return Coordinates{}, fault.New(fault.Unavailable, "location unavailable")
	}
	return Coordinates{Latitude: *lat, Longitude: *lng}, nil
}

// Source produces a current location fix, typically from a device sensor.
type Source interface {
	Fix(ctx context.Context) (Coordinates, error)
}

// EvaluateSource fetches a fix from src and evaluates it against ref.
// The fetch is bounded by FixTimeout; a timeout or sensor error yields an
// Unavailable fault, which callers must treat as indeterminate rather
// than out of range.
func EvaluateSource(ctx context.Context, src Source, ref Coordinates, maxRadius float64) (Verdict, error) {
	ctx, cancel := context.WithTimeout(ctx, FixTimeout)
	defer cancel()

	cur, err := src.Fix(ctx)
	if err != nil {
		return Verdict{}, fault.Wrap(err, fault.Unavailable, "location unavailable")
	}
	return Evaluate(cur, ref, maxRadius), nil
}
