package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// Point is a lon/lat anchor that hot tiles cluster around.
type Point struct {
	ID  string
	Lon float64
	Lat float64
}

var defaultCenters = []Point{
	{"stockholm", 18.0686, 59.3293},
	{"goteborg", 11.9746, 57.7089},
	{"malmo", 13.0038, 55.6050},
	{"lulea", 22.1547, 65.5848},
}

// makeTiles returns count distinct tiles. The first quarter (at least 8) sit
// around centers and are hit most by the zipf draw; the rest are spread over
// the bounding box of all centers.
func makeTiles(count, minZ, maxZ int, centers []Point, r *rand.Rand) []maptile.Tile {
	if count <= 0 || len(centers) == 0 || maxZ < minZ {
		return nil
	}
	seen := make(map[maptile.Tile]struct{}, count)
	out := make([]maptile.Tile, 0, count)
	add := func(t maptile.Tile) {
		if _, ok := seen[t]; ok {
			return
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	zoom := func() maptile.Zoom {
		return maptile.Zoom(minZ + r.Intn(maxZ-minZ+1))
	}

	hot := max(8, count/4)
	for i := 0; len(out) < min(hot, count) && i < hot*16; i++ {
		c := centers[i%len(centers)]
		dx, dy := (r.Float64()-0.5)*0.2, (r.Float64()-0.5)*0.2
		add(maptile.At(orb.Point{c.Lon + dx, c.Lat + dy}, zoom()))
	}

	bound := orb.MultiPoint{}
	for _, c := range centers {
		bound = append(bound, orb.Point{c.Lon, c.Lat})
	}
	b := bound.Bound().Pad(1)
	for i := 0; len(out) < count && i < count*16; i++ {
		lon := b.Min.Lon() + r.Float64()*(b.Max.Lon()-b.Min.Lon())
		lat := b.Min.Lat() + r.Float64()*(b.Max.Lat()-b.Min.Lat())
		add(maptile.At(orb.Point{lon, lat}, zoom()))
	}
	return out
}

func tilePath(t maptile.Tile) string {
	return fmt.Sprintf("%d/%d/%d", t.Z, t.X, t.Y)
}

// tileBound is the lon/lat extent of t shrunk slightly so it stays inside the tile.
func tileBound(t maptile.Tile) orb.Bound {
	b := t.Bound()
	dx := (b.Max.Lon() - b.Min.Lon()) * 0.1
	dy := (b.Max.Lat() - b.Min.Lat()) * 0.1
	return orb.Bound{
		Min: orb.Point{b.Min.Lon() + dx, b.Min.Lat() + dy},
		Max: orb.Point{b.Max.Lon() - dx, b.Max.Lat() - dy},
	}
}

func loadCentersCSV(path string) ([]Point, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("open centers: %w", err)
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	colIdx := map[string]int{}
	for i, h := range header {
		colIdx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	idIdx, okID := colIdx["id"]
	lonIdx, okLon := colIdx["lon"]
	latIdx, okLat := colIdx["lat"]
	if !okID || !okLon || !okLat {
		return nil, fmt.Errorf("centers csv: expected columns id,lon,lat; got %v", header)
	}

	var out []Point
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		id := strings.TrimSpace(rec[idIdx])
		lonStr := strings.TrimSpace(rec[lonIdx])
		latStr := strings.TrimSpace(rec[latIdx])
		if id == "" || lonStr == "" || latStr == "" {
			continue
		}
		lon, err := strconv.ParseFloat(lonStr, 64)
		if err != nil {
			return nil, fmt.Errorf("parse lon %q: %w", lonStr, err)
		}
		lat, err := strconv.ParseFloat(latStr, 64)
		if err != nil {
			return nil, fmt.Errorf("parse lat %q: %w", latStr, err)
		}
		out = append(out, Point{ID: id, Lon: lon, Lat: lat})
	}
	return out, nil
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return math.NaN()
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}
	k := (p / 100.0) * float64(len(sorted)-1)
	f := math.Floor(k)
	i := int(f)
	if i >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	d := k - f
	return sorted[i]*(1-d) + sorted[i+1]*d
}
