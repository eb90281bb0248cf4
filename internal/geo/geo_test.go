package geo

import (
	"errors"
	"math"
	"testing"

	"github.com/fieldsync/anchor/pkg/core"
)

func TestParseCoordinate_LatLong(t *testing.T) {
	c, err := ParseCoordinate("48.85837,2.294481")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Latitude != 48.85837 {
		t.Errorf("expected latitude=48.85837, got %f", c.Latitude)
	}
	if c.Longitude != 2.294481 {
		t.Errorf("expected longitude=2.294481, got %f", c.Longitude)
	}
	if c.Accuracy != nil {
		t.Errorf("expected nil accuracy, got %v", *c.Accuracy)
	}
}

func TestParseCoordinate_WithAccuracy(t *testing.T) {
	c, err := ParseCoordinate(" -33.8568, 151.2153 , 12.5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Latitude != -33.8568 || c.Longitude != 151.2153 {
		t.Errorf("unexpected position %f,%f", c.Latitude, c.Longitude)
	}
	if c.Accuracy == nil || *c.Accuracy != 12.5 {
		t.Errorf("expected accuracy=12.5, got %v", c.Accuracy)
	}
}

func TestParseCoordinate_Invalid(t *testing.T) {
	tests := []string{
		"",
		"1",
		"1,2,3,4",
		"abc,2",
		"1,abc",
		"1,2,abc",
		"91,0",
		"0,181",
		"0,0,-1",
	}
	for _, in := range tests {
		t.Run(in, func(t *testing.T) {
			_, err := ParseCoordinate(in)
			if !errors.Is(err, ErrInvalidCoordinates) {
				t.Errorf("expected ErrInvalidCoordinates for %q, got %v", in, err)
			}
		})
	}
}

func TestValidate_NaN(t *testing.T) {
	err := Validate(core.Coordinate{Latitude: math.NaN()})
	if !errors.Is(err, ErrInvalidCoordinates) {
		t.Errorf("expected ErrInvalidCoordinates, got %v", err)
	}
}

func TestPoint3857_Origin(t *testing.T) {
	point := Point3857(&core.Coordinate{})

	coords, ok := point.Coordinates()
	if !ok {
		t.Fatal("expected valid coordinates")
	}
	if math.Abs(coords.X) > 1e-6 || math.Abs(coords.Y) > 1e-6 {
		t.Errorf("expected origin, got %f,%f", coords.X, coords.Y)
	}
}

func TestPoint3857_Projects(t *testing.T) {
	point := Point3857(&core.Coordinate{Latitude: 45, Longitude: 90})

	coords, ok := point.Coordinates()
	if !ok {
		t.Fatal("expected valid coordinates")
	}
	// 90°E is a quarter of the Web Mercator circumference.
	if math.Abs(coords.X-10018754.17) > 1 {
		t.Errorf("expected X≈10018754.17, got %f", coords.X)
	}
	if coords.Y <= 0 {
		t.Errorf("expected positive Y for northern hemisphere, got %f", coords.Y)
	}
}

func TestPoint3857_Nil(t *testing.T) {
	point := Point3857(nil)
	if !point.IsEmpty() {
		t.Error("expected empty point for nil coordinate")
	}
}

func TestPoint3857_NonFiniteIsEmpty(t *testing.T) {
	point := Point3857(&core.Coordinate{Latitude: math.NaN(), Longitude: 10})
	if !point.IsEmpty() {
		t.Error("expected empty point for a coordinate that does not project")
	}
}

func TestFormatCoordinate(t *testing.T) {
	tests := []struct {
		value float64
		axis  Axis
		want  string
	}{
		{48.858370, Latitude, "48.85837° N"},
		{-33.8568, Latitude, "33.85680° S"},
		{2.294481, Longitude, "2.29448° E"},
		{-122.4194, Longitude, "122.41940° W"},
		{0, Latitude, "0.00000° N"},
		{math.Inf(1), Longitude, "—"},
	}
	for _, tt := range tests {
		if got := FormatCoordinate(tt.value, tt.axis); got != tt.want {
			t.Errorf("FormatCoordinate(%v) = %q, want %q", tt.value, got, tt.want)
		}
	}
}

func TestFormatPosition(t *testing.T) {
	if got := FormatPosition(nil); got != "Location unavailable" {
		t.Errorf("unexpected %q", got)
	}

	got := FormatPosition(&core.Coordinate{Latitude: 1, Longitude: -2, Accuracy: core.Float64(4.6)})
	want := "1.00000° N · 2.00000° W (±5 m)"
	if got != want {
		t.Errorf("FormatPosition = %q, want %q", got, want)
	}
}
