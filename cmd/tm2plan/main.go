// Command tm2plan compiles a tm2 source and prints the resulting statement,
// its parameter layout and per-layer rewrite details.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/paulmach/orb/maptile"

	"github.com/mohammed-shakir/mvt-compose/internal/plan"
	"github.com/mohammed-shakir/mvt-compose/internal/render"
	"github.com/mohammed-shakir/mvt-compose/internal/tm2"
)

type layerReport struct {
	ID           string         `json:"id"`
	Buffer       int            `json:"buffer"`
	Slot         int            `json:"slot"`
	BufferExtent int            `json:"buffer_extent"`
	Geometry     bool           `json:"geometry"`
	Tokens       map[string]int `json:"tokens,omitempty"`
	Unknown      []string       `json:"unknown,omitempty"`
}

type report struct {
	Source      string        `json:"source"`
	Fingerprint string        `json:"fingerprint"`
	PixelScale  int           `json:"pixel_scale"`
	Buffers     []int         `json:"buffers"`
	Params      []plan.Param  `json:"params"`
	Layers      []layerReport `json:"layers"`
	SQL         string        `json:"sql"`
	Args        []any         `json:"args,omitempty"`
}

func main() {
	lenient := flag.Bool("lenient", false, "keep unknown tokens and unencoded geometry instead of failing")
	tileArg := flag.String("tile", "", "bind the statement to a tile given as z/x/y")
	asJSON := flag.Bool("json", false, "print a JSON report")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] source.yml\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	src, err := tm2.Load(flag.Arg(0))
	if err != nil {
		log.Fatalf("load: %v", err)
	}
	var opts []plan.Option
	if *lenient {
		opts = append(opts, plan.Lenient())
	}
	p, err := plan.Compile(src, opts...)
	if err != nil {
		log.Fatalf("compile: %v", err)
	}

	rep := newReport(p)
	if *tileArg != "" {
		t, err := parseTile(*tileArg)
		if err != nil {
			log.Fatalf("tile: %v", err)
		}
		rep.Args = p.Args(t)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rep); err != nil {
			log.Fatalf("encode: %v", err)
		}
		return
	}
	writeText(os.Stdout, rep)
}

func newReport(p *plan.Plan) report {
	rep := report{
		Source:      p.Source,
		Fingerprint: fmt.Sprintf("%016x", p.Fingerprint),
		PixelScale:  p.PixelScale,
		Buffers:     p.Slots.Sizes(),
		Params:      p.Params,
		SQL:         p.SQL,
	}
	for _, l := range p.Layers {
		rep.Layers = append(rep.Layers, layerReport{
			ID:           l.ID,
			Buffer:       l.Buffer,
			Slot:         l.Slot,
			BufferExtent: l.BufferExtent,
			Geometry:     l.Geometry,
			Tokens:       l.Tokens,
			Unknown:      l.Unknown,
		})
	}
	return rep
}

func writeText(w io.Writer, rep report) {
	fmt.Fprintf(w, "source      %s\n", rep.Source)
	fmt.Fprintf(w, "fingerprint %s\n", rep.Fingerprint)
	fmt.Fprintf(w, "pixel scale %d\n", rep.PixelScale)
	fmt.Fprintf(w, "buffers     %v\n\n", rep.Buffers)

	fmt.Fprintln(w, "params:")
	for i, prm := range rep.Params {
		if rep.Args != nil && i < len(rep.Args) {
			fmt.Fprintf(w, "  $%-3d %-22s %-7s = %v\n", prm.Pos, prm.Name, prm.Type, rep.Args[i])
			continue
		}
		fmt.Fprintf(w, "  $%-3d %-22s %s\n", prm.Pos, prm.Name, prm.Type)
	}

	fmt.Fprintln(w, "\nlayers:")
	for _, l := range rep.Layers {
		fmt.Fprintf(w, "  %-20s buffer=%d slot=%d extent=%d geom=%t tokens=%s",
			l.ID, l.Buffer, l.Slot, l.BufferExtent, l.Geometry, formatCounts(l.Tokens))
		if len(l.Unknown) > 0 {
			fmt.Fprintf(w, " unknown=%s", strings.Join(l.Unknown, ","))
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, "\nsql:")
	for stmt := range strings.SplitSeq(rep.SQL, " UNION ALL ") {
		fmt.Fprintf(w, "  %s\n", stmt)
	}
}

func formatCounts(m map[string]int) string {
	if len(m) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s:%d", k, m[k]))
	}
	return strings.Join(parts, ",")
}

func parseTile(s string) (maptile.Tile, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return maptile.Tile{}, fmt.Errorf("want z/x/y, got %q", s)
	}
	var v [3]uint64
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return maptile.Tile{}, fmt.Errorf("bad component %q: %w", p, err)
		}
		v[i] = n
	}
	t := maptile.New(uint32(v[1]), uint32(v[2]), maptile.Zoom(v[0]))
	if err := render.ValidateTile(t); err != nil {
		return maptile.Tile{}, err
	}
	return t, nil
}
