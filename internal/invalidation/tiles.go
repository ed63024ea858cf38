package invalidation

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"

	"github.com/mohammed-shakir/mvt-compose/internal/mercator"
)

var ErrTooManyTiles = errors.New("invalidation: too many tiles")

// Tiles lists every tile in zooms [minZ, maxZ] that intersects bb, widened by
// pad tiles on each side so neighbours holding buffered geometry go too. It
// fails with ErrTooManyTiles before allocating when more than limit tiles
// would be produced; limit <= 0 means no limit.
func Tiles(bb BBox, minZ, maxZ, pad, limit int) ([]maptile.Tile, error) {
	if minZ > maxZ {
		return nil, nil
	}
	type span struct{ x0, y0, x1, y1 uint32 }
	spans := make([]span, 0, maxZ-minZ+1)
	total := 0
	for z := minZ; z <= maxZ; z++ {
		zoom := maptile.Zoom(z)
		nw := maptile.At(orb.Point{bb.X1, clampLat(bb.Y2)}, zoom)
		se := maptile.At(orb.Point{bb.X2, clampLat(bb.Y1)}, zoom)
		last := uint32(1)<<uint(z) - 1
		s := span{
			x0: widen(nw.X, -pad, last), y0: widen(nw.Y, -pad, last),
			x1: widen(min(se.X, last), pad, last), y1: widen(min(se.Y, last), pad, last),
		}
		spans = append(spans, s)
		total += int(s.x1-s.x0+1) * int(s.y1-s.y0+1)
		if limit > 0 && total > limit {
			return nil, fmt.Errorf("%w: more than %d for bbox %s zooms %d-%d", ErrTooManyTiles, limit, bb, minZ, maxZ)
		}
	}

	out := make([]maptile.Tile, 0, total)
	for i, s := range spans {
		zoom := maptile.Zoom(minZ + i)
		for x := s.x0; x <= s.x1; x++ {
			for y := s.y0; y <= s.y1; y++ {
				out = append(out, maptile.New(x, y, zoom))
			}
		}
	}
	return out, nil
}

func clampLat(lat float64) float64 {
	return max(-mercator.MaxLatitude, min(mercator.MaxLatitude, lat))
}

func widen(v uint32, by int, last uint32) uint32 {
	n := int64(v) + int64(by)
	switch {
	case n < 0:
		return 0
	case n > int64(last):
		return last
	default:
		return uint32(n)
	}
}
