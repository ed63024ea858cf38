package kafkaconsumer

import (
	"strings"
	"time"

	"github.com/mohammed-shakir/mvt-compose/internal/core/config"
)

type Config struct {
	Brokers             []string
	Topic               string
	GroupID             string
	MaxTiles            int
	DedupeSize          int
	SessionTimeout      time.Duration
	Heartbeat           time.Duration
	RebalanceTimeout    time.Duration
	RetryBackoff        time.Duration
	InitialOffsetOldest bool
}

// FromConfig builds the consumer settings. With per-instance groups each
// replica gets its own group starting at the newest offset: its local tier
// is empty at startup, so older events have nothing to purge there.
func FromConfig(c config.InvalidationCfg) Config {
	groupID, oldest := c.GroupID, true
	if id := strings.TrimSpace(c.InstanceID); c.GroupPerInstance && id != "" {
		groupID, oldest = groupID+"."+id, false
	}
	return Config{
		Brokers:             splitCSV(c.Brokers),
		Topic:               c.Topic,
		GroupID:             groupID,
		MaxTiles:            c.MaxTiles,
		DedupeSize:          4096,
		SessionTimeout:      30 * time.Second,
		Heartbeat:           3 * time.Second,
		RebalanceTimeout:    30 * time.Second,
		RetryBackoff:        2 * time.Second,
		InitialOffsetOldest: oldest,
	}
}

func splitCSV(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
