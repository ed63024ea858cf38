package invalidation

import (
	"errors"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

func TestTiles_SingleTilePerZoom(t *testing.T) {
	// a small box well inside one z6 tile
	bb := BBox{X1: 7.6, Y1: 44.8, X2: 7.7, Y2: 44.9}
	got, err := Tiles(bb, 6, 6, 0, 0)
	if err != nil {
		t.Fatalf("Tiles: %v", err)
	}
	if len(got) != 1 || got[0] != maptile.At(pointOf(7.65, 44.85), 6) {
		t.Fatalf("tiles=%v", got)
	}
}

func TestTiles_PadAddsNeighbours(t *testing.T) {
	bb := BBox{X1: 7.6, Y1: 44.8, X2: 7.7, Y2: 44.9}
	got, err := Tiles(bb, 6, 6, 1, 0)
	if err != nil {
		t.Fatalf("Tiles: %v", err)
	}
	if len(got) != 9 {
		t.Fatalf("len=%d want 9", len(got))
	}
}

func TestTiles_WorldAtLowZooms(t *testing.T) {
	bb := BBox{X1: -180, Y1: -90, X2: 180, Y2: 90}
	got, err := Tiles(bb, 0, 2, 0, 0)
	if err != nil {
		t.Fatalf("Tiles: %v", err)
	}
	// 1 + 4 + 16
	if len(got) != 21 {
		t.Fatalf("len=%d want 21", len(got))
	}
	for _, tl := range got {
		n := uint32(1) << uint(tl.Z)
		if tl.X >= n || tl.Y >= n {
			t.Fatalf("tile %v outside grid", tl)
		}
	}
}

func TestTiles_Limit(t *testing.T) {
	bb := BBox{X1: -180, Y1: -90, X2: 180, Y2: 90}
	if _, err := Tiles(bb, 0, 10, 0, 1000); !errors.Is(err, ErrTooManyTiles) {
		t.Fatalf("err=%v want ErrTooManyTiles", err)
	}
	if got, err := Tiles(bb, 3, 2, 0, 0); err != nil || len(got) != 0 {
		t.Fatalf("empty range got=%v err=%v", got, err)
	}
}

func TestTiles_PadClampsAtGridEdge(t *testing.T) {
	bb := BBox{X1: -180, Y1: 80, X2: -179.9, Y2: 85}
	got, err := Tiles(bb, 1, 1, 1, 0)
	if err != nil {
		t.Fatalf("Tiles: %v", err)
	}
	// corner tile 1/0/0 plus its two in-grid neighbours and the diagonal
	if len(got) != 4 {
		t.Fatalf("len=%d want 4: %v", len(got), got)
	}
}

func pointOf(lon, lat float64) orb.Point { return orb.Point{lon, lat} }
