package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/paulmach/orb/maptile"

	"github.com/mohammed-shakir/mvt-compose/internal/plan"
	"github.com/mohammed-shakir/mvt-compose/internal/tm2"
)

func TestParseTile(t *testing.T) {
	tests := []struct {
		in      string
		want    maptile.Tile
		wantErr bool
	}{
		{"0/0/0", maptile.New(0, 0, 0), false},
		{"14/8529/5975", maptile.New(8529, 5975, 14), false},
		{"1/2/0", maptile.Tile{}, true},
		{"31/0/0", maptile.Tile{}, true},
		{"1/0", maptile.Tile{}, true},
		{"a/0/0", maptile.Tile{}, true},
	}
	for _, tt := range tests {
		got, err := parseTile(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseTile(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("parseTile(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("parseTile(%q)=%v want %v", tt.in, got, tt.want)
		}
	}
}

func TestWriteText_BindsArgs(t *testing.T) {
	src, err := tm2.Load("../../internal/tm2/testdata/data.yml")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	p, err := plan.Compile(src, plan.Lenient())
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	rep := newReport(p)
	rep.Args = p.Args(maptile.New(0, 0, 0))
	if len(rep.Args) != len(rep.Params) {
		t.Fatalf("args=%d params=%d", len(rep.Args), len(rep.Params))
	}

	var buf bytes.Buffer
	writeText(&buf, rep)
	out := buf.String()
	for _, want := range []string{"source      " + src.Name, "$5   zoom", "= 0\n", "sql:", "ST_AsMVT("} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
	if got := strings.Count(out, "ST_AsMVT("); got != len(src.Layers) {
		t.Fatalf("statements=%d layers=%d", got, len(src.Layers))
	}
}
