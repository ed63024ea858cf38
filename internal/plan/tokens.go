package plan

import (
	"fmt"
	"regexp"
	"strings"
)

// scaleDenominatorZ0 is the OGC scale denominator of a 256px zoom 0 tile.
const scaleDenominatorZ0 = 559082264.0287178

// layerContext is what a token producer may consult.
type layerContext struct {
	slot   int
	buffer int
}

type producer func(layerContext) string

// tokens is the substitution grammar: every recognised placeholder and the
// SQL fragment it expands to. z(!scale_denominator!) is matched before the
// bare !scale_denominator! token.
var tokens = map[string]producer{
	"!bbox_nobuffer!": func(layerContext) string {
		return envelopeRef(paramUnbuffered)
	},
	"!bbox!": func(c layerContext) string {
		return envelopeRef(slotParam(c.slot))
	},
	"z(!scale_denominator!)": func(layerContext) string {
		return fmt.Sprintf("$%d::integer", paramZoom)
	},
	"!scale_denominator!": func(layerContext) string {
		return fmt.Sprintf("(%.7f * 256 / $%d::integer::float8 / 2 ^ $%d::integer)",
			scaleDenominatorZ0, paramPixelScale, paramZoom)
	},
	"!pixel_width!": func(layerContext) string {
		return fmt.Sprintf("$%d::integer", paramPixelScale)
	},
}

var tokenPattern = regexp.MustCompile(`z\(!scale_denominator!\)|![A-Za-z_][A-Za-z0-9_]*!`)

type substitution struct {
	text    string
	counts  map[string]int
	unknown []string
}

// substitute expands every recognised token in tmpl. Unrecognised tokens are
// left in place and reported.
func substitute(tmpl string, c layerContext) substitution {
	res := substitution{counts: map[string]int{}}
	res.text = tokenPattern.ReplaceAllStringFunc(tmpl, func(tok string) string {
		p, ok := tokens[tok]
		if !ok {
			res.unknown = append(res.unknown, tok)
			return tok
		}
		res.counts[tok]++
		return p(c)
	})
	return res
}

// geometryPattern matches the first, optionally qualified, reference to column.
func geometryPattern(column string) *regexp.Regexp {
	return regexp.MustCompile(`\b(?:[A-Za-z_][A-Za-z0-9_]*\.)?` + regexp.QuoteMeta(column) + `\b`)
}

// encodeGeometry wraps the first reference to the geometry column in the
// tile-space geometry encoder. It reports false when the column is absent.
func encodeGeometry(tmpl, column string, bufferExtent int) (string, bool) {
	loc := geometryPattern(column).FindStringIndex(tmpl)
	if loc == nil {
		return tmpl, false
	}
	ref := tmpl[loc[0]:loc[1]]
	enc := fmt.Sprintf("ST_AsMVTGeom(%s, %s, %d, %d, true) AS %s",
		ref, envelopeRef(paramUnbuffered), Extent, bufferExtent, GeomColumn)

	var b strings.Builder
	b.Grow(len(tmpl) + len(enc))
	b.WriteString(tmpl[:loc[0]])
	b.WriteString(enc)
	b.WriteString(tmpl[loc[1]:])
	return b.String(), true
}
