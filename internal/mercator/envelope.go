package mercator

import (
	"fmt"
	"math"

	"github.com/paulmach/orb/maptile"
)

// Envelope is an axis aligned box in EPSG:3857 metres.
type Envelope struct {
	North float64
	South float64
	East  float64
	West  float64
}

func (e Envelope) Width() float64  { return e.East - e.West }
func (e Envelope) Height() float64 { return e.North - e.South }

// Expand grows the envelope by amt metres on every side.
func (e Envelope) Expand(amt float64) Envelope {
	return Envelope{
		North: e.North + amt,
		South: e.South - amt,
		East:  e.East + amt,
		West:  e.West - amt,
	}
}

// Args returns the envelope in ST_MakeEnvelope order.
func (e Envelope) Args() [4]float64 {
	return [4]float64{e.West, e.South, e.East, e.North}
}

func (e Envelope) String() string {
	return fmt.Sprintf("%.4f,%.4f,%.4f,%.4f", e.West, e.South, e.East, e.North)
}

// BufferMeters converts a pixel buffer into metres for a tile of pixelWidth
// pixels at zoom z.
func BufferMeters(pixelWidth int, z maptile.Zoom, buffer int) float64 {
	if buffer == 0 || pixelWidth <= 0 {
		return 0
	}
	mapWidthPx := float64(pixelWidth) * math.Pow(2, float64(z))
	return float64(buffer) / mapWidthPx * MapWidthMeters
}

// TileEnvelope returns the projected bounds of t, grown by buffer pixels.
// A zero buffer yields the exact tile bounds.
func TileEnvelope(pixelWidth int, t maptile.Tile, buffer int) Envelope {
	b := t.Bound()
	// Bound is south-west/north-east; project the NW and SE corners.
	west, north := Project(b.Min.Lon(), b.Max.Lat())
	east, south := Project(b.Max.Lon(), b.Min.Lat())

	env := Envelope{North: north, South: south, East: east, West: west}
	if amt := BufferMeters(pixelWidth, t.Z, buffer); amt != 0 {
		env = env.Expand(amt)
	}
	return env
}
