// Package kafkaconsumer applies tile invalidation events read from Kafka.
package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	"github.com/paulmach/orb/maptile"

	obs "github.com/mohammed-shakir/mvt-compose/internal/core/observability"
	"github.com/mohammed-shakir/mvt-compose/internal/invalidation"
	mylog "github.com/mohammed-shakir/mvt-compose/internal/logger"
	"github.com/mohammed-shakir/mvt-compose/internal/tm2"
)

// Purger resolves sources and drops their cached tiles; tiles.Service
// implements it.
type Purger interface {
	Source(name string) (*tm2.Source, bool)
	Purge(ctx context.Context, source string, tiles []maptile.Tile) (int, error)
}

type Consumer struct {
	cfg    Config
	logger *slog.Logger
	purger Purger
	dedupe *versionDedupe
}

func New(cfg Config, logger *slog.Logger, p Purger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		cfg:    cfg,
		logger: logger,
		purger: p,
		dedupe: newVersionDedupe(cfg.DedupeSize),
	}
}

// consumes invalidation events from kafka until ctx is done
func (c *Consumer) Start(ctx context.Context) error {
	if c.purger == nil {
		return errors.New("kafkaconsumer: missing purger")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	ctx = mylog.WithComponent(ctx, "kafka_consumer")
	handler := &groupHandler{process: c.ProcessOne}

	c.logger.InfoContext(ctx, "kafka invalidation consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	for {
		select {
		case <-ctx.Done():
			c.logger.InfoContext(ctx, "kafka invalidation consumer shutting down")
			return nil
		default:
			if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil {
				obs.IncKafkaConsumerError("consume")
				c.logger.ErrorContext(ctx, "kafka consumer error",
					"err", err, "brokers", c.cfg.Brokers, "topic", c.cfg.Topic)
				select {
				case <-ctx.Done():
				case <-time.After(c.cfg.RetryBackoff):
				}
			}
		}
	}
}

// ProcessOne applies a single message. Undecodable, invalid, stale and
// unknown-source events are dropped; only cache failures are returned so the
// message is retried.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	start := time.Now()
	log := c.logger.With("topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)

	var ev invalidation.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		obs.IncKafkaConsumerError("decode")
		log.WarnContext(ctx, "dropping undecodable invalidation event", "err", err)
		return nil
	}
	if err := ev.Validate(); err != nil {
		obs.IncKafkaConsumerError("invalid")
		log.WarnContext(ctx, "dropping invalid invalidation event", "err", err)
		return nil
	}
	ctx = mylog.WithSource(ctx, ev.Source)

	key, version := ev.Key(), ev.TS.UnixNano()
	if c.dedupe.stale(key, version) {
		obs.ObserveInvalidation(ev.Op, ev.Source, 0, time.Since(start).Seconds(), nil)
		log.DebugContext(ctx, "skipping already applied event", "key", key)
		return nil
	}

	src, ok := c.purger.Source(ev.Source)
	if !ok {
		obs.IncKafkaConsumerError("unknown_source")
		log.WarnContext(ctx, "dropping event for unknown source")
		return nil
	}

	lo, hi := ev.ZoomRange(src.MinZoom, src.MaxZoom)
	tiles, err := invalidation.Tiles(*ev.BBox, lo, hi, padFor(src), c.cfg.MaxTiles)
	if err != nil {
		obs.IncKafkaConsumerError("too_many_tiles")
		obs.ObserveInvalidation(ev.Op, ev.Source, 0, time.Since(start).Seconds(), err)
		log.WarnContext(ctx, "invalidation area too large; cached tiles will expire by ttl",
			"bbox", ev.BBox.String(), "min_zoom", lo, "max_zoom", hi, "err", err)
		return nil
	}

	n, err := c.purger.Purge(ctx, ev.Source, tiles)
	if err != nil {
		obs.IncKafkaConsumerError("cache_del")
		obs.ObserveInvalidation(ev.Op, ev.Source, 0, time.Since(start).Seconds(), err)
		log.ErrorContext(ctx, "tile purge failed", "tiles", len(tiles), "err", err)
		return fmt.Errorf("purge %d tiles: %w", len(tiles), err)
	}
	c.dedupe.applied(key, version)

	obs.ObserveInvalidation(ev.Op, ev.Source, n, time.Since(start).Seconds(), nil)
	log.InfoContext(ctx, "invalidated tiles",
		"op", ev.Op, "layer", ev.Layer, "bbox", ev.BBox.String(),
		"min_zoom", lo, "max_zoom", hi, "tiles", len(tiles), "removed", n)
	return nil
}

// buffered layers draw into neighbouring tiles
func padFor(src *tm2.Source) int {
	for _, b := range src.BufferSizes() {
		if b > 0 {
			return 1
		}
	}
	return 0
}
