// Package mercator converts geodetic coordinates and slippy-map tiles into
// spherical Web Mercator (EPSG:3857) envelopes.
package mercator

import (
	"math"

	"github.com/paulmach/orb"
)

const (
	// EarthRadius is the WGS84 semi-major axis in metres.
	EarthRadius = 6378137.0

	// HalfCircumference is the projected distance from the origin to the antimeridian.
	HalfCircumference = EarthRadius * math.Pi

	// MapWidthMeters is the full projected width of the planet.
	MapWidthMeters = 40075016.68557849

	// MaxLatitude is the latitude at which the projection becomes square.
	MaxLatitude = 85.0511287798066
)

// Project converts lon/lat degrees (EPSG:4326) to EPSG:3857 metres.
// lat must stay within ±MaxLatitude; the result is undefined outside it.
func Project(lon, lat float64) (x, y float64) {
	y = math.Log(math.Tan((90+lat)*math.Pi/360)) / (math.Pi / 180)
	return lon * HalfCircumference / 180, y * HalfCircumference / 180
}

func ProjectPoint(p orb.Point) orb.Point {
	x, y := Project(p.Lon(), p.Lat())
	return orb.Point{x, y}
}
