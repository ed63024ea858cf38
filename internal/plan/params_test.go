package plan

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/paulmach/orb/maptile"

	"github.com/mohammed-shakir/mvt-compose/internal/mercator"
	"github.com/mohammed-shakir/mvt-compose/internal/tm2"
)

func TestPlan_ArgsOrder(t *testing.T) {
	p, err := Compile(testSource())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	tile := maptile.New(33, 22, 6)
	args := p.Args(tile)

	if len(args) != len(p.Params) {
		t.Fatalf("args=%d params=%d", len(args), len(p.Params))
	}
	if len(args) != 14 {
		t.Fatalf("args=%d want 14 (6 shared + 2 slots)", len(args))
	}

	unbuf := mercator.TileEnvelope(256, tile, 0)
	for i, want := range unbuf.Args() {
		if args[i].(float64) != want {
			t.Fatalf("arg $%d=%v want %v", i+1, args[i], want)
		}
	}
	if z, ok := args[4].(int); !ok || z != 6 {
		t.Fatalf("zoom arg=%v", args[4])
	}
	if ps, ok := args[5].(int); !ok || ps != 256 {
		t.Fatalf("pixel scale arg=%v", args[5])
	}

	for slot, size := range p.Slots.Sizes() {
		env := mercator.TileEnvelope(256, tile, size)
		for i, want := range env.Args() {
			pos := slotParam(slot) + i
			if got := args[pos-1].(float64); got != want {
				t.Fatalf("slot %d arg $%d=%v want %v", slot, pos, got, want)
			}
		}
	}
}

func TestPlan_ParamNames(t *testing.T) {
	p, err := Compile(testSource())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	want := map[int]string{
		1:  "bbox_nobuffer.west",
		4:  "bbox_nobuffer.north",
		5:  "zoom",
		6:  "pixel_scale",
		7:  "bbox_4.west",
		14: "bbox_32.north",
	}
	for i, prm := range p.Params {
		if prm.Pos != i+1 {
			t.Fatalf("param %d has position %d", i, prm.Pos)
		}
		if name, ok := want[prm.Pos]; ok && prm.Name != name {
			t.Fatalf("param $%d=%q want %q", prm.Pos, prm.Name, name)
		}
	}
}

var paramRef = regexp.MustCompile(`\$(\d+)`)

// Templates here use neither zoom nor pixel tokens and only the first layer
// filters by its envelope, so most positions are reached only through the
// typed declaration.
func TestPlan_EveryBoundParamIsTyped(t *testing.T) {
	src := &tm2.Source{
		Name:       "sparse",
		PixelScale: 256,
		Layers: []tm2.Layer{
			layer("water", 4, "SELECT geometry FROM water WHERE geometry && !bbox!", ""),
			layer("poi", 64, "SELECT geometry, osm_id FROM poi", "osm_id"),
		},
	}
	p, err := Compile(src)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	args := p.Args(maptile.New(33, 22, 6))
	if len(args) != 14 {
		t.Fatalf("args=%d want 14", len(args))
	}

	for _, prm := range p.Params {
		cast := fmt.Sprintf("$%d::%s AS ", prm.Pos, prm.Type)
		if prm.Type == "" || !strings.Contains(p.SQL, cast) {
			t.Fatalf("param $%d (%s) is bound but not typed in:\n%s", prm.Pos, prm.Name, p.SQL)
		}
	}

	// no reference beyond the bound arguments
	for _, m := range paramRef.FindAllStringSubmatch(p.SQL, -1) {
		n, _ := strconv.Atoi(m[1])
		if n < 1 || n > len(args) {
			t.Fatalf("statement references $%d with %d args bound", n, len(args))
		}
	}

	types := map[string]string{"zoom": "integer", "pixel_scale": "integer", "bbox_64.east": "float8"}
	for _, prm := range p.Params {
		if want, ok := types[prm.Name]; ok && prm.Type != want {
			t.Fatalf("param %s type=%s want %s", prm.Name, prm.Type, want)
		}
	}
}
