package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/IBM/sarama"
	"github.com/paulmach/orb/maptile"

	"github.com/mohammed-shakir/mvt-compose/internal/invalidation"
)

// newEvent builds an update event covering the interior of t.
func newEvent(source string, t maptile.Tile, now time.Time) invalidation.Event {
	b := tileBound(t)
	z := int(t.Z)
	return invalidation.Event{
		Version: 1,
		Op:      "update",
		Source:  source,
		TS:      now.UTC(),
		BBox: &invalidation.BBox{
			X1: b.Min.Lon(), Y1: b.Min.Lat(),
			X2: b.Max.Lon(), Y2: b.Max.Lat(),
			SRID: "EPSG:4326",
		},
		MinZoom: &z,
		MaxZoom: &z,
	}
}

// publishInvalidations sends one event for a random pooled tile every
// interval until ctx is done and returns how many were produced.
func publishInvalidations(ctx context.Context, brokers []string, topic, source string,
	every time.Duration, pool []maptile.Tile, r *rand.Rand,
) (int, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Version = sarama.V3_6_0_0
	prod, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return 0, fmt.Errorf("producer create: %w", err)
	}
	defer func() { _ = prod.Close() }()

	tick := time.NewTicker(every)
	defer tick.Stop()

	sent := 0
	for {
		select {
		case <-ctx.Done():
			return sent, nil
		case now := <-tick.C:
			t := pool[r.Intn(len(pool))]
			ev := newEvent(source, t, now)
			msg, err := json.Marshal(ev)
			if err != nil {
				return sent, fmt.Errorf("encode event: %w", err)
			}
			_, _, err = prod.SendMessage(&sarama.ProducerMessage{
				Topic: topic,
				Key:   sarama.StringEncoder(source),
				Value: sarama.ByteEncoder(msg),
			})
			if err != nil {
				log.Printf("invalidate %s: %v", tilePath(t), err)
				continue
			}
			sent++
		}
	}
}
