// Package keys builds the cache keys under which rendered tiles are stored.
package keys

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/paulmach/orb/maptile"
)

const prefix = "tile"

// TileKey names one rendered tile. The plan fingerprint is part of the key,
// so a changed source never serves tiles rendered by its previous plan.
func TileKey(source string, fingerprint uint64, t maptile.Tile) string {
	return fmt.Sprintf("%s:%d/%d/%d", SourcePrefix(source, fingerprint), t.Z, t.X, t.Y)
}

// SourcePrefix is the key prefix shared by every tile of one compiled source.
func SourcePrefix(source string, fingerprint uint64) string {
	return fmt.Sprintf("%s:%s:%016x", prefix, sanitizeSource(strings.TrimSpace(source)), fingerprint)
}

func sanitizeSource(s string) string {
	if s == "" {
		return "_"
	}
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case unicode.IsSpace(r):
			out = '_'
		case isAlphaNum(r) || r == '_' || r == '-' || r == '.':
			out = r
		default:
			// ':' is the key separator
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9')
}
