// Package render executes compiled plans and assembles the resulting tiles.
package render

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/paulmach/orb/maptile"

	"github.com/mohammed-shakir/mvt-compose/internal/core/observability"
	"github.com/mohammed-shakir/mvt-compose/internal/plan"
	"github.com/mohammed-shakir/mvt-compose/internal/tm2"
)

var ErrInvalidTile = errors.New("render: invalid tile")

// TileSource produces the encoded vector tile for a tile address.
type TileSource interface {
	Render(ctx context.Context, t maptile.Tile) ([]byte, error)
}

// Querier is the part of a pgx pool the assembler needs.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Assembler runs one compiled plan and concatenates the per-layer blobs.
type Assembler struct {
	plan *plan.Plan
	db   Querier
}

func NewAssembler(p *plan.Plan, db Querier) *Assembler {
	return &Assembler{plan: p, db: db}
}

func (a *Assembler) Plan() *plan.Plan { return a.plan }

// Render executes the plan for t. A failed query, scan or row iteration
// yields no tile at all; layers that produced nothing contribute no bytes.
func (a *Assembler) Render(ctx context.Context, t maptile.Tile) ([]byte, error) {
	if err := ValidateTile(t); err != nil {
		return nil, err
	}

	start := time.Now()
	tile, err := a.collect(ctx, t)
	observability.ObserveUpstreamLatency("postgis", time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("render tile %d/%d/%d: %w", t.Z, t.X, t.Y, err)
	}
	return tile, nil
}

func (a *Assembler) collect(ctx context.Context, t maptile.Tile) ([]byte, error) {
	rows, err := a.db.Query(ctx, a.plan.SQL, a.plan.Args(t)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tile []byte
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, err
		}
		tile = append(tile, blob...)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tile, nil
}

// ValidateTile checks that t addresses a real tile.
func ValidateTile(t maptile.Tile) error {
	if t.Z > tm2.MaxZoom {
		return fmt.Errorf("%w: zoom %d above %d", ErrInvalidTile, t.Z, tm2.MaxZoom)
	}
	n := uint64(1) << uint(t.Z)
	if uint64(t.X) >= n || uint64(t.Y) >= n {
		return fmt.Errorf("%w: %d/%d/%d outside grid", ErrInvalidTile, t.Z, t.X, t.Y)
	}
	return nil
}
