// Package tm2 models TileMill 2 (.tm2source) vector tile sources.
package tm2

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/cespare/xxhash/v2"
	"gopkg.in/yaml.v2"
)

// ErrInvalidSource marks a source description that cannot be used.
var ErrInvalidSource = errors.New("tm2: invalid source")

const (
	DefaultPixelScale = 256
	MaxZoom           = 30
)

// Source is a parsed tm2source. It is never mutated after Parse returns and
// may be shared between goroutines.
type Source struct {
	Name        string     `yaml:"name"`
	Description string     `yaml:"description"`
	Attribution string     `yaml:"attribution"`
	PixelScale  int        `yaml:"pixel_scale"`
	MinZoom     int        `yaml:"minzoom"`
	MaxZoom     int        `yaml:"maxzoom"`
	Center      [3]float64 `yaml:"center"`
	Bounds      [4]float64 `yaml:"bounds"`
	Layers      []Layer    `yaml:"Layer"`
}

type Layer struct {
	ID          string            `yaml:"id"`
	Description string            `yaml:"description"`
	Fields      map[string]string `yaml:"fields"`
	Properties  Properties        `yaml:"properties"`
	Datasource  Datasource        `yaml:"Datasource"`
}

type Properties struct {
	BufferSize int `yaml:"buffer-size"`
}

type Datasource struct {
	Table         string `yaml:"table"`
	KeyField      string `yaml:"key_field"`
	GeometryField string `yaml:"geometry_field"`
	Type          string `yaml:"type"`
}

func (l Layer) BufferSize() int  { return l.Properties.BufferSize }
func (l Layer) KeyField() string { return strings.TrimSpace(l.Datasource.KeyField) }

// Table is the geometry source template with its "( ... ) AS alias" wrapper removed.
func (l Layer) Table() string { return l.Datasource.Table }

// Parse decodes and validates a tm2source YAML document. Layer tables are
// unwrapped in the returned source.
func Parse(data []byte) (*Source, error) {
	var src Source
	if err := yaml.Unmarshal(data, &src); err != nil {
		return nil, fmt.Errorf("%w: yaml: %w", ErrInvalidSource, err)
	}
	if src.PixelScale == 0 {
		src.PixelScale = DefaultPixelScale
	}
	var zooms struct {
		MaxZoom *int `yaml:"maxzoom"`
	}
	if err := yaml.Unmarshal(data, &zooms); err != nil {
		return nil, fmt.Errorf("%w: yaml: %w", ErrInvalidSource, err)
	}
	if zooms.MaxZoom == nil {
		src.MaxZoom = MaxZoom
	}
	for i := range src.Layers {
		ds := &src.Layers[i].Datasource
		inner, err := UnwrapTable(ds.Table)
		if err != nil {
			return nil, fmt.Errorf("%w: layer %q: %w", ErrInvalidSource, src.Layers[i].ID, err)
		}
		ds.Table = inner
	}
	if err := src.Validate(); err != nil {
		return nil, err
	}
	return &src, nil
}

func Load(path string) (*Source, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tm2source %s: %w", path, err)
	}
	src, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return src, nil
}

// Validate checks the structural invariants the plan compiler relies on.
func (s *Source) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidSource)
	}
	if s.PixelScale <= 0 {
		return fmt.Errorf("%w: pixel_scale must be positive (got %d)", ErrInvalidSource, s.PixelScale)
	}
	if s.MinZoom < 0 || s.MaxZoom > MaxZoom || s.MinZoom > s.MaxZoom {
		return fmt.Errorf("%w: zoom range [%d,%d] outside [0,%d]", ErrInvalidSource, s.MinZoom, s.MaxZoom, MaxZoom)
	}
	if len(s.Layers) == 0 {
		return fmt.Errorf("%w: at least one layer is required", ErrInvalidSource)
	}
	seen := make(map[string]struct{}, len(s.Layers))
	for i, l := range s.Layers {
		if strings.TrimSpace(l.ID) == "" {
			return fmt.Errorf("%w: layer %d has no id", ErrInvalidSource, i)
		}
		if _, dup := seen[l.ID]; dup {
			return fmt.Errorf("%w: duplicate layer id %q", ErrInvalidSource, l.ID)
		}
		seen[l.ID] = struct{}{}
		if l.BufferSize() < 0 {
			return fmt.Errorf("%w: layer %q: negative buffer-size %d", ErrInvalidSource, l.ID, l.BufferSize())
		}
		if strings.TrimSpace(l.Table()) == "" {
			return fmt.Errorf("%w: layer %q: empty table", ErrInvalidSource, l.ID)
		}
	}
	return nil
}

// BufferSizes lists each layer's buffer in layer order, duplicates included.
func (s *Source) BufferSizes() []int {
	out := make([]int, len(s.Layers))
	for i, l := range s.Layers {
		out[i] = l.BufferSize()
	}
	return out
}

// Fingerprint identifies everything that affects the compiled statement.
func (s *Source) Fingerprint() uint64 {
	d := xxhash.New()
	var n [8]byte
	writeStr := func(v string) {
		binary.LittleEndian.PutUint64(n[:], uint64(len(v)))
		_, _ = d.Write(n[:])
		_, _ = d.WriteString(v)
	}
	writeInt := func(v int) {
		binary.LittleEndian.PutUint64(n[:], uint64(v))
		_, _ = d.Write(n[:])
	}

	writeStr(s.Name)
	writeInt(s.PixelScale)
	writeInt(len(s.Layers))
	for _, l := range s.Layers {
		writeStr(l.ID)
		writeInt(l.BufferSize())
		writeStr(l.Table())
		writeStr(l.KeyField())
		writeStr(strings.TrimSpace(l.Datasource.GeometryField))
	}
	return d.Sum64()
}

// HasZoom reports whether z is within the source's zoom range.
func (s *Source) HasZoom(z int) bool {
	return z >= s.MinZoom && z <= s.MaxZoom
}

// ValidBounds reports whether Bounds holds a usable west,south,east,north box.
func (s *Source) ValidBounds() bool {
	b := s.Bounds
	for _, v := range b {
		if math.IsNaN(v) {
			return false
		}
	}
	return b[2] > b[0] && b[3] > b[1]
}
