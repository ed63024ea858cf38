package plan

import (
	"fmt"
	"strings"

	"github.com/paulmach/orb/maptile"

	"github.com/mohammed-shakir/mvt-compose/internal/mercator"
)

// Positional parameter layout shared by every compiled statement:
// $1-$4 unbuffered envelope, $5 zoom, $6 pixel scale, then four
// parameters per buffer slot.
const (
	paramUnbuffered = 1
	paramZoom       = 5
	paramPixelScale = 6
	paramFirstSlot  = 7
	slotStride      = 4

	paramsCTE = "tile_params"
	typeFloat = "float8"
	typeInt   = "integer"
)

var envelopeSides = [4]string{"west", "south", "east", "north"}

// Param describes one positional parameter of a compiled statement.
type Param struct {
	Pos  int
	Name string
	Type string
}

func slotParam(slot int) int { return paramFirstSlot + slot*slotStride }

func envelopeRef(first int) string {
	return fmt.Sprintf("ST_MakeEnvelope($%d, $%d, $%d, $%d, %d)", first, first+1, first+2, first+3, SRID)
}

func layoutParams(slots SlotTable) []Param {
	params := make([]Param, 0, paramFirstSlot-1+slots.Len()*slotStride)
	for i, side := range envelopeSides {
		params = append(params, Param{Pos: paramUnbuffered + i, Name: "bbox_nobuffer." + side, Type: typeFloat})
	}
	params = append(params,
		Param{Pos: paramZoom, Name: "zoom", Type: typeInt},
		Param{Pos: paramPixelScale, Name: "pixel_scale", Type: typeInt},
	)
	for slot, size := range slots.sizes {
		for i, side := range envelopeSides {
			params = append(params, Param{
				Pos:  slotParam(slot) + i,
				Name: fmt.Sprintf("bbox_%d.%s", size, side),
				Type: typeFloat,
			})
		}
	}
	return params
}

// declareParams types every positional parameter in a leading CTE. The
// server infers parameter types from the whole statement, so zoom, pixel
// scale and slots no template mentions still bind.
func declareParams(params []Param) string {
	cols := make([]string, len(params))
	for i, p := range params {
		cols[i] = fmt.Sprintf("$%d::%s AS %s", p.Pos, p.Type, strings.ReplaceAll(p.Name, ".", "_"))
	}
	return fmt.Sprintf("WITH %s AS (SELECT %s) ", paramsCTE, strings.Join(cols, ", "))
}

// Args binds a tile to the statement's positional parameters.
func (p *Plan) Args(t maptile.Tile) []any {
	args := make([]any, 0, len(p.Params))

	for _, v := range mercator.TileEnvelope(p.PixelScale, t, 0).Args() {
		args = append(args, v)
	}
	args = append(args, int(t.Z), p.PixelScale)

	for _, size := range p.Slots.sizes {
		for _, v := range mercator.TileEnvelope(p.PixelScale, t, size).Args() {
			args = append(args, v)
		}
	}
	return args
}
