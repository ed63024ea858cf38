package keys

import (
	"regexp"
	"strings"
	"testing"

	"github.com/paulmach/orb/maptile"
)

func TestTileKey_Format(t *testing.T) {
	k := TileKey("openmaptiles", 0xabc, maptile.New(33, 22, 6))
	want := "tile:openmaptiles:0000000000000abc:6/33/22"
	if k != want {
		t.Fatalf("key=%q want %q", k, want)
	}
}

func TestDeterminism_SameInputsSameKey(t *testing.T) {
	tl := maptile.New(1, 2, 3)
	if TileKey("osm", 7, tl) != TileKey("osm", 7, tl) {
		t.Fatalf("determinism failed")
	}
	if TileKey(" osm ", 7, tl) != TileKey("osm", 7, tl) {
		t.Fatalf("surrounding space must not change the key")
	}
}

func TestDifference_FingerprintAndTile(t *testing.T) {
	tl := maptile.New(1, 2, 3)
	if TileKey("osm", 1, tl) == TileKey("osm", 2, tl) {
		t.Fatalf("different fingerprints must produce different keys")
	}
	if TileKey("osm", 1, tl) == TileKey("osm", 1, maptile.New(2, 1, 3)) {
		t.Fatalf("different tiles must produce different keys")
	}
}

func TestSanitize_SourceNames(t *testing.T) {
	cases := map[string]string{
		"my source":    "my_source",
		"a:b":          "a-b",
		"a::b":         "a-b",
		"v1.2":         "v1.2",
		"":             "_",
		"stöckholm":    "st-ckholm",
		"tabs\t\tname": "tabs_name",
	}
	for in, want := range cases {
		if got := sanitizeSource(in); got != want {
			t.Fatalf("sanitizeSource(%q)=%q want %q", in, got, want)
		}
	}

	k := TileKey("we:ird name!", 1, maptile.New(0, 0, 0))
	if !regexp.MustCompile(`^tile:[A-Za-z0-9_.\-]+:[0-9a-f]{16}:\d+/\d+/\d+$`).MatchString(k) {
		t.Fatalf("key has unexpected shape: %s", k)
	}
	if strings.Count(k, ":") != 3 {
		t.Fatalf("key=%q want exactly three separators", k)
	}
}

func TestSourcePrefix_IsKeyPrefix(t *testing.T) {
	p := SourcePrefix("osm", 9)
	if !strings.HasPrefix(TileKey("osm", 9, maptile.New(5, 5, 4)), p+":") {
		t.Fatalf("prefix %q not a prefix of tile key", p)
	}
}
