// Package invalidation describes data-change events and the tiles they make
// stale.
package invalidation

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mohammed-shakir/mvt-compose/internal/tm2"
)

var ErrInvalidEvent = errors.New("invalidation: invalid event")

// Event announces that features of a source changed inside BBox.
type Event struct {
	Version int       `json:"version"`
	Op      string    `json:"op"`
	Source  string    `json:"source"`
	Layer   string    `json:"layer,omitempty"`
	TS      time.Time `json:"ts"`
	BBox    *BBox     `json:"bbox"`
	MinZoom *int      `json:"min_zoom,omitempty"`
	MaxZoom *int      `json:"max_zoom,omitempty"`
}

type BBox struct {
	X1   float64 `json:"x1"`
	Y1   float64 `json:"y1"`
	X2   float64 `json:"x2"`
	Y2   float64 `json:"y2"`
	SRID string  `json:"srid"`
}

func (b BBox) String() string {
	return fmt.Sprintf("%g,%g,%g,%g", b.X1, b.Y1, b.X2, b.Y2)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidEvent, fmt.Sprintf(format, args...))
}

func (e Event) Validate() error {
	if e.Version != 1 {
		return invalid("version must be 1")
	}
	switch e.Op {
	case "insert", "update", "delete":
	default:
		return invalid("op must be insert|update|delete")
	}
	if strings.TrimSpace(e.Source) == "" {
		return invalid("source is required")
	}
	if e.TS.IsZero() {
		return invalid("ts is required")
	}
	if e.BBox == nil {
		return invalid("bbox is required")
	}
	bb := *e.BBox
	switch strings.ToUpper(bb.SRID) {
	case "EPSG:4326", "4326", "":
	default:
		return invalid("bbox.srid must be EPSG:4326")
	}
	if !(bb.X1 >= -180 && bb.X1 <= 180 && bb.X2 >= -180 && bb.X2 <= 180) {
		return invalid("bbox longitude out of range")
	}
	if !(bb.Y1 >= -90 && bb.Y1 <= 90 && bb.Y2 >= -90 && bb.Y2 <= 90) {
		return invalid("bbox latitude out of range")
	}
	if bb.X2 < bb.X1 || bb.Y2 < bb.Y1 {
		return invalid("bbox must satisfy x2>=x1 and y2>=y1")
	}
	for _, z := range []*int{e.MinZoom, e.MaxZoom} {
		if z != nil && (*z < 0 || *z > tm2.MaxZoom) {
			return invalid("zoom %d outside [0,%d]", *z, tm2.MaxZoom)
		}
	}
	if e.MinZoom != nil && e.MaxZoom != nil && *e.MinZoom > *e.MaxZoom {
		return invalid("min_zoom above max_zoom")
	}
	return nil
}

// ZoomRange clips the event's zoom bounds to [lo, hi].
func (e Event) ZoomRange(lo, hi int) (int, int) {
	if e.MinZoom != nil && *e.MinZoom > lo {
		lo = *e.MinZoom
	}
	if e.MaxZoom != nil && *e.MaxZoom < hi {
		hi = *e.MaxZoom
	}
	return lo, hi
}

// Key identifies the changed area; redeliveries of one event share it.
func (e Event) Key() string {
	var b strings.Builder
	b.WriteString(e.Source)
	b.WriteByte('|')
	b.WriteString(e.Layer)
	b.WriteByte('|')
	if e.BBox != nil {
		b.WriteString(e.BBox.String())
	}
	lo, hi := e.ZoomRange(0, tm2.MaxZoom)
	fmt.Fprintf(&b, "|%d-%d", lo, hi)
	return b.String()
}
