package geo

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/fieldsync/anchor/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/wroge/wgs84"
)

// GEO POINTS
// Fixes arrive as EPSG:4326 (lat/long). Stores keep the raw lat/long columns as
// the source of truth and a derived EPSG:3857 point for map use. The derived
// point is WKB so SQLite can hold it without spatial awareness.

// ErrInvalidCoordinates is returned when the coordinates are invalid
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

// ParseCoordinate parses "lat,long" or "lat,long,accuracy" into a coordinate.
func ParseCoordinate(coords string) (core.Coordinate, error) {
	parts := strings.Split(coords, ",")
	if len(parts) < 2 || len(parts) > 3 {
		return core.Coordinate{}, ErrInvalidCoordinates
	}

	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return core.Coordinate{}, ErrInvalidCoordinates
	}
	long, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return core.Coordinate{}, ErrInvalidCoordinates
	}

	c := core.Coordinate{Latitude: lat, Longitude: long}
	if len(parts) == 3 {
		acc, err := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
		if err != nil {
			return core.Coordinate{}, ErrInvalidCoordinates
		}
		c.Accuracy = &acc
	}

	if err := Validate(c); err != nil {
		return core.Coordinate{}, err
	}
	return c, nil
}

// Validate checks that a coordinate is a finite WGS84 position with a
// non-negative accuracy.
func Validate(c core.Coordinate) error {
	if !finite(c.Latitude) || c.Latitude < -90 || c.Latitude > 90 {
		return fmt.Errorf("%w: latitude %v", ErrInvalidCoordinates, c.Latitude)
	}
	if !finite(c.Longitude) || c.Longitude < -180 || c.Longitude > 180 {
		return fmt.Errorf("%w: longitude %v", ErrInvalidCoordinates, c.Longitude)
	}
	if c.Accuracy != nil && (!finite(*c.Accuracy) || *c.Accuracy < 0) {
		return fmt.Errorf("%w: accuracy %v", ErrInvalidCoordinates, *c.Accuracy)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Point3857 projects a coordinate to a Web Mercator point. A nil coordinate,
// or one that does not project to a finite point, yields an empty point.
func Point3857(c *core.Coordinate) geom.Point {
	if c == nil {
		return geom.NewEmptyPoint(geom.DimXY)
	}
	epsg := wgs84.EPSG()
	f := epsg.Transform(4326, 3857)
	x, y, _ := f(c.Longitude, c.Latitude, 0)
	point, err := geom.NewPoint(
		geom.Coordinates{
			XY: geom.XY{X: x, Y: y},
		},
	)
	if err != nil {
		return geom.NewEmptyPoint(geom.DimXY)
	}
	return point
}

// Axis selects the hemisphere suffix used by FormatCoordinate.
type Axis int

const (
	Latitude Axis = iota
	Longitude
)

// FormatCoordinate renders a single axis value as "12.34567° N".
func FormatCoordinate(value float64, axis Axis) string {
	if !finite(value) {
		return "—"
	}
	var suffix string
	switch axis {
	case Latitude:
		suffix = "N"
		if value < 0 {
			suffix = "S"
		}
	default:
		suffix = "E"
		if value < 0 {
			suffix = "W"
		}
	}
	return fmt.Sprintf("%.5f° %s", math.Abs(value), suffix)
}

// FormatPosition renders a coordinate as "lat · long", with the rounded
// accuracy appended when known. Nil renders as "Location unavailable".
func FormatPosition(c *core.Coordinate) string {
	if c == nil {
		return "Location unavailable"
	}
	s := FormatCoordinate(c.Latitude, Latitude) + " · " + FormatCoordinate(c.Longitude, Longitude)
	if c.Accuracy != nil {
		s += fmt.Sprintf(" (±%d m)", int(math.Round(*c.Accuracy)))
	}
	return s
}
