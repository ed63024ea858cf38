package tm2

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad_Fixture(t *testing.T) {
	src, err := Load(filepath.Join("testdata", "data.yml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if src.Name != "OpenMapTiles" {
		t.Fatalf("name=%q", src.Name)
	}
	if src.PixelScale != 256 {
		t.Fatalf("pixel_scale=%d want 256", src.PixelScale)
	}
	if src.MinZoom != 0 || src.MaxZoom != 14 {
		t.Fatalf("zoom=[%d,%d]", src.MinZoom, src.MaxZoom)
	}
	if src.Center != [3]float64{-12.2168, 28.6135, 4} {
		t.Fatalf("center=%v", src.Center)
	}
	if len(src.Layers) != 4 {
		t.Fatalf("layers=%d want 4", len(src.Layers))
	}

	water := src.Layers[0]
	if got := water.Table(); got != "SELECT geometry, class FROM layer_water(!bbox!, z(!scale_denominator!))" {
		t.Fatalf("water table not unwrapped: %q", got)
	}
	if water.BufferSize() != 4 || water.KeyField() != "" {
		t.Fatalf("water props: buffer=%d key=%q", water.BufferSize(), water.KeyField())
	}

	lc := src.Layers[1].Table()
	if strings.HasPrefix(lc, "(") || strings.HasSuffix(lc, "AS t") {
		t.Fatalf("multi-line table not unwrapped: %q", lc)
	}

	poi := src.Layers[3]
	if poi.KeyField() != "osm_id" || poi.BufferSize() != 64 {
		t.Fatalf("poi props: buffer=%d key=%q", poi.BufferSize(), poi.KeyField())
	}
	if poi.Fields["name"] == "" {
		t.Fatalf("expected poi fields to be decoded")
	}
	if got := src.BufferSizes(); len(got) != 4 || got[0] != 4 || got[2] != 8 || got[3] != 64 {
		t.Fatalf("buffer sizes=%v", got)
	}
}

func TestParse_Invalid(t *testing.T) {
	cases := map[string]string{
		"bad yaml":   "name: [unterminated",
		"no name":    "Layer:\n  - id: a\n    Datasource: {table: '(SELECT geometry FROM t) AS x'}\n",
		"no layers":  "name: x\n",
		"dup layer":  "name: x\nLayer:\n  - id: a\n    Datasource: {table: '(SELECT geometry FROM t)'}\n  - id: a\n    Datasource: {table: '(SELECT geometry FROM t)'}\n",
		"neg buffer": "name: x\nLayer:\n  - id: a\n    properties: {buffer-size: -1}\n    Datasource: {table: '(SELECT geometry FROM t)'}\n",
		"bare table": "name: x\nLayer:\n  - id: a\n    Datasource: {table: 'planet_osm_point'}\n",
		"zoom range": "name: x\nminzoom: 10\nmaxzoom: 4\nLayer:\n  - id: a\n    Datasource: {table: '(SELECT geometry FROM t)'}\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			if err == nil {
				t.Fatalf("expected error")
			}
			if !errors.Is(err, ErrInvalidSource) {
				t.Fatalf("error %v is not ErrInvalidSource", err)
			}
		})
	}
}

func TestParse_Defaults(t *testing.T) {
	src, err := Parse([]byte("name: x\nLayer:\n  - id: a\n    Datasource: {table: '(SELECT geometry FROM t) AS data'}\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if src.PixelScale != DefaultPixelScale {
		t.Fatalf("pixel scale default=%d", src.PixelScale)
	}
	if src.MaxZoom != MaxZoom {
		t.Fatalf("maxzoom default=%d", src.MaxZoom)
	}
	if !src.HasZoom(0) || !src.HasZoom(30) || src.HasZoom(31) {
		t.Fatalf("HasZoom wrong for default range")
	}
}

func TestParse_ExplicitZoomRangeKept(t *testing.T) {
	const table = "Layer:\n  - id: a\n    Datasource: {table: '(SELECT geometry FROM t) AS data'}\n"
	for doc, want := range map[string][2]int{
		"name: x\nminzoom: 0\nmaxzoom: 0\n" + table: {0, 0},
		"name: x\nmaxzoom: 0\n" + table:             {0, 0},
		"name: x\nminzoom: 5\n" + table:             {5, MaxZoom},
	} {
		src, err := Parse([]byte(doc))
		if err != nil {
			t.Fatalf("Parse(%q): %v", doc, err)
		}
		if src.MinZoom != want[0] || src.MaxZoom != want[1] {
			t.Fatalf("zoom=[%d,%d] want %v for %q", src.MinZoom, src.MaxZoom, want, doc)
		}
	}

	src, _ := Parse([]byte("name: x\nminzoom: 0\nmaxzoom: 0\n" + table))
	if !src.HasZoom(0) || src.HasZoom(1) {
		t.Fatalf("z0-only source should serve only zoom 0")
	}
}

func TestFingerprint_StableAndSensitive(t *testing.T) {
	doc := "name: x\nLayer:\n  - id: a\n    properties: {buffer-size: 4}\n    Datasource: {table: '(SELECT geometry FROM t) AS data'}\n"
	a, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	b, _ := Parse([]byte(doc))
	if a.Fingerprint() != b.Fingerprint() {
		t.Fatalf("fingerprint not stable")
	}
	b.Layers[0].Properties.BufferSize = 8
	if a.Fingerprint() == b.Fingerprint() {
		t.Fatalf("fingerprint ignores buffer size")
	}
}
