package tiles

import (
	"maps"
	"strings"

	"github.com/mohammed-shakir/mvt-compose/internal/mercator"
)

const TileJSONVersion = "3.0.0"

// TileJSON is the metadata document clients use to discover a source.
type TileJSON struct {
	TileJSON     string        `json:"tilejson"`
	Name         string        `json:"name"`
	Description  string        `json:"description,omitempty"`
	Attribution  string        `json:"attribution,omitempty"`
	Scheme       string        `json:"scheme"`
	Format       string        `json:"format"`
	Tiles        []string      `json:"tiles"`
	MinZoom      int           `json:"minzoom"`
	MaxZoom      int           `json:"maxzoom"`
	Bounds       [4]float64    `json:"bounds"`
	Center       *[3]float64   `json:"center,omitempty"`
	VectorLayers []VectorLayer `json:"vector_layers"`
}

type VectorLayer struct {
	ID          string            `json:"id"`
	Description string            `json:"description,omitempty"`
	Fields      map[string]string `json:"fields"`
	MinZoom     int               `json:"minzoom"`
	MaxZoom     int               `json:"maxzoom"`
}

var worldBounds = [4]float64{-180, -mercator.MaxLatitude, 180, mercator.MaxLatitude}

// TileJSON describes source name with tile URLs rooted at baseURL.
func (s *Service) TileJSON(name, baseURL string) (*TileJSON, error) {
	e, err := s.lookup(name)
	if err != nil {
		return nil, err
	}
	src := e.src

	doc := &TileJSON{
		TileJSON:    TileJSONVersion,
		Name:        src.Name,
		Description: src.Description,
		Attribution: src.Attribution,
		Scheme:      "xyz",
		Format:      "pbf",
		Tiles:       []string{strings.TrimRight(baseURL, "/") + "/" + src.Name + "/{z}/{x}/{y}.pbf"},
		MinZoom:     src.MinZoom,
		MaxZoom:     src.MaxZoom,
		Bounds:      worldBounds,
	}
	if src.ValidBounds() {
		doc.Bounds = src.Bounds
	}
	if src.Center != [3]float64{} {
		c := src.Center
		doc.Center = &c
	}

	doc.VectorLayers = make([]VectorLayer, 0, len(src.Layers))
	for _, l := range src.Layers {
		fields := maps.Clone(l.Fields)
		if fields == nil {
			fields = map[string]string{}
		}
		doc.VectorLayers = append(doc.VectorLayers, VectorLayer{
			ID:          l.ID,
			Description: l.Description,
			Fields:      fields,
			MinZoom:     src.MinZoom,
			MaxZoom:     src.MaxZoom,
		})
	}
	return doc, nil
}
