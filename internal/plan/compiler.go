// Package plan compiles tm2 sources into a single parameterised PostGIS
// statement that renders every layer of a tile in one round trip.
package plan

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/mohammed-shakir/mvt-compose/internal/tm2"
)

const (
	// Extent is the integer tile coordinate resolution of every layer.
	Extent = 4096

	// SRID of all envelopes.
	SRID = 3857

	// GeomColumn is the name given to the encoded geometry.
	GeomColumn = "geom"

	defaultGeometryColumn = "geometry"
)

var ErrTemplate = errors.New("plan: template error")

// TemplateError reports a layer template the compiler could not rewrite.
type TemplateError struct {
	Layer  string
	Token  string
	Reason string
}

func (e *TemplateError) Error() string {
	if e.Token != "" {
		return fmt.Sprintf("layer %q: %s: %s", e.Layer, e.Token, e.Reason)
	}
	return fmt.Sprintf("layer %q: %s", e.Layer, e.Reason)
}

func (e *TemplateError) Unwrap() error { return ErrTemplate }

// Plan is a compiled statement. It depends on the source alone and is safe
// for concurrent use.
type Plan struct {
	Source      string
	SQL         string
	Slots       SlotTable
	Params      []Param
	Layers      []LayerPlan
	PixelScale  int
	Fingerprint uint64
}

// LayerPlan records how one layer was rewritten.
type LayerPlan struct {
	ID           string
	Buffer       int
	Slot         int
	BufferExtent int
	Tokens       map[string]int
	Geometry     bool
	Unknown      []string
}

type options struct {
	lenient bool
}

type Option func(*options)

// Lenient keeps malformed templates instead of failing: unknown tokens stay
// verbatim and a missing geometry column is left unencoded.
func Lenient() Option {
	return func(o *options) { o.lenient = true }
}

// Compile rewrites every layer of src and unions them into one statement.
func Compile(src *tm2.Source, opts ...Option) (*Plan, error) {
	if src == nil {
		return nil, errors.New("plan: nil source")
	}
	var o options
	for _, f := range opts {
		f(&o)
	}

	pixelScale := src.PixelScale
	if pixelScale <= 0 {
		pixelScale = tm2.DefaultPixelScale
	}

	slots := ResolveBuffers(src.BufferSizes())
	p := &Plan{
		Source:     src.Name,
		Slots:      slots,
		Params:     layoutParams(slots),
		Layers:     make([]LayerPlan, 0, len(src.Layers)),
		PixelScale: pixelScale,
	}

	stmts := make([]string, 0, len(src.Layers))
	for _, l := range src.Layers {
		lp, stmt, err := compileLayer(l, slots, pixelScale, o)
		if err != nil {
			return nil, err
		}
		p.Layers = append(p.Layers, lp)
		stmts = append(stmts, stmt)
	}

	p.SQL = declareParams(p.Params) + strings.Join(stmts, " UNION ALL ")
	p.Fingerprint = xxhash.Sum64String(p.SQL)
	return p, nil
}

func compileLayer(l tm2.Layer, slots SlotTable, pixelScale int, o options) (LayerPlan, string, error) {
	slot, ok := slots.Slot(l.BufferSize())
	if !ok {
		// slots are built from the same layers
		return LayerPlan{}, "", fmt.Errorf("plan: no slot for buffer %d of layer %q", l.BufferSize(), l.ID)
	}
	lp := LayerPlan{
		ID:           l.ID,
		Buffer:       l.BufferSize(),
		Slot:         slot,
		BufferExtent: BufferExtent(l.BufferSize(), pixelScale),
	}

	column := strings.TrimSpace(l.Datasource.GeometryField)
	if column == "" {
		column = defaultGeometryColumn
	}
	query, found := encodeGeometry(l.Table(), column, lp.BufferExtent)
	lp.Geometry = found
	if !found && !o.lenient {
		return LayerPlan{}, "", &TemplateError{Layer: l.ID, Token: column, Reason: "geometry column not found in template"}
	}

	sub := substitute(query, layerContext{slot: slot, buffer: lp.Buffer})
	lp.Tokens = sub.counts
	lp.Unknown = sub.unknown
	if len(sub.unknown) > 0 && !o.lenient {
		return LayerPlan{}, "", &TemplateError{Layer: l.ID, Token: sub.unknown[0], Reason: "unrecognised placeholder"}
	}

	args := []string{"t.*", quoteLiteral(l.ID), fmt.Sprint(Extent), quoteLiteral(GeomColumn)}
	if kf := l.KeyField(); kf != "" {
		args = append(args, quoteLiteral(kf))
	}
	stmt := fmt.Sprintf(
		"SELECT ST_AsMVT(%s) AS mvt FROM (SELECT * FROM (%s) AS q WHERE q.%s IS NOT NULL) AS t",
		strings.Join(args, ", "), sub.text, GeomColumn)
	return lp, stmt, nil
}

// BufferExtent expresses a pixel buffer in tile extent units.
func BufferExtent(buffer, pixelScale int) int {
	if pixelScale <= 0 {
		pixelScale = tm2.DefaultPixelScale
	}
	return int(math.Round(float64(buffer) * Extent / float64(pixelScale)))
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
