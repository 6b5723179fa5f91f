package geo

import (
	"context"
	"errors"
	"math"
	"testing"

	"presence/internal/fault"
)

// offsetNorth returns a point the given number of meters due north of p.
func offsetNorth(p Coordinates, meters float64) Coordinates {
	dLat := meters / earthRadiusMeters * 180 / math.Pi
	return Coordinates{Latitude: p.Latitude + dLat, Longitude: p.Longitude}
}

func TestDistance_Symmetric(t *testing.T) {
	a := Coordinates{Latitude: -6.2088, Longitude: 106.8456}
	b := Coordinates{Latitude: -6.1751, Longitude: 106.8650}

	dab := Distance(a, b)
	dba := Distance(b, a)

	if math.Abs(dab-dba) > 1e-9 {
		t.Errorf("distance not symmetric: %f vs %f", dab, dba)
	}
	if dab <= 0 {
		t.Errorf("expected positive distance, got %f", dab)
	}
}

func TestDistance_SamePointIsZero(t *testing.T) {
	p := Coordinates{Latitude: 35.6762, Longitude: 139.6503}
	if d := Distance(p, p); d != 0 {
		t.Errorf("expected zero distance, got %f", d)
	}
}

func TestEvaluate_RadiusBoundary(t *testing.T) {
	ref := Coordinates{Latitude: -6.2088, Longitude: 106.8456}

	inside := Evaluate(offsetNorth(ref, 249), ref, 250)
	if !inside.WithinRadius {
		t.Errorf("249m from reference should be within 250m radius (got %f m)", inside.DistanceMeters)
	}

	outside := Evaluate(offsetNorth(ref, 251), ref, 250)
	if outside.WithinRadius {
		t.Errorf("251m from reference should be outside 250m radius (got %f m)", outside.DistanceMeters)
	}
}

func TestParseFix_MissingCoordinateIsIndeterminate(t *testing.T) {
	lat := -6.2
	cases := []struct {
		name     string
		lat, lng *float64
	}{
		{"no coordinates", nil, nil},
		{"latitude only", &lat, nil},
		{"longitude only", nil, &lat},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseFix(tc.lat, tc.lng)
			if !fault.Is(err, fault.Unavailable) {
				t.Errorf("missing coordinate must be unavailable, got %v", err)
			}
		})
	}
}

func TestParseFix_CompleteFixPassesThrough(t *testing.T) {
	lat, lng := -6.2088, 106.8456
	c, err := ParseFix(&lat, &lng)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Latitude != lat || c.Longitude != lng {
		t.Errorf("coordinates not passed through: %+v", c)
	}
}

type fixedSource struct {
	c   Coordinates
	err error
}

func (s fixedSource) Fix(ctx context.Context) (Coordinates, error) { return s.c, s.err }

func TestEvaluateSource_SensorErrorIsIndeterminate(t *testing.T) {
	ref := Coordinates{Latitude: 1, Longitude: 1}
	src := fixedSource{err: errors.New("no gps fix")}

	_, err := EvaluateSource(context.Background(), src, ref, 100)

	if err == nil {
		t.Fatal("expected error from failing source, got nil")
	}
	if !fault.Is(err, fault.Unavailable) {
		t.Errorf("expected unavailable fault, got %v", err)
	}
}

func TestEvaluateSource_PassesVerdictThrough(t *testing.T) {
	ref := Coordinates{Latitude: 1, Longitude: 1}
	src := fixedSource{c: ref}

	v, err := EvaluateSource(context.Background(), src, ref, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v.WithinRadius || v.DistanceMeters != 0 {
		t.Errorf("expected zero-distance within verdict, got %+v", v)
	}
}
