package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type InvalidationCfg struct {
	Enabled  bool
	Topic    string
	Brokers  string
	GroupID  string
	MaxTiles int

	// GroupPerInstance suffixes GroupID with InstanceID so every replica sees
	// every event and can purge its own in-process tier.
	GroupPerInstance bool
	InstanceID       string
}

type MetricsCfg struct {
	Enabled bool
	Addr    string
	Path    string
}

type Config struct {
	Addr      string
	LogLevel  string
	LogJSON   bool
	LogSample int
	PublicURL string

	DatabaseURL string
	DBMaxConns  int
	DBMinConns  int

	Sources        []string
	TemplateStrict bool
	RenderTimeout  time.Duration

	TileCacheEnabled   bool
	RedisAddr          string
	TileCacheTTL       time.Duration
	TileCacheTTLOvr    map[string]time.Duration
	TileCacheLocalSize int
	CacheOpTimeout     time.Duration

	Invalidation InvalidationCfg
	Metrics      MetricsCfg
}

func FromEnv() Config {
	return Config{
		Addr:      getenv("ADDR", ":8090"),
		LogLevel:  getenv("LOG_LEVEL", "info"),
		LogJSON:   !getbool("LOG_CONSOLE", false),
		LogSample: getint("LOG_SAMPLE_N", 0),
		PublicURL: strings.TrimRight(getenv("PUBLIC_URL", ""), "/"),

		DatabaseURL: getenv("DATABASE_URL", "postgres://postgres@localhost:5432/openmaptiles?sslmode=disable"),
		DBMaxConns:  getint("DB_MAX_CONNS", 16),
		DBMinConns:  getint("DB_MIN_CONNS", 2),

		Sources:        getlist("TM2_SOURCES", "data.yml"),
		TemplateStrict: getbool("TEMPLATE_STRICT", true),
		RenderTimeout:  getduration("RENDER_TIMEOUT", 10*time.Second),

		TileCacheEnabled:   getbool("TILE_CACHE_ENABLED", false),
		RedisAddr:          getenv("REDIS_ADDR", "localhost:6379"),
		TileCacheTTL:       getduration("TILE_CACHE_TTL", time.Hour),
		TileCacheTTLOvr:    parseDurationMap(getenv("TILE_CACHE_TTL_OVERRIDES", "")),
		TileCacheLocalSize: getint("TILE_CACHE_LOCAL_SIZE", 4096),
		CacheOpTimeout:     getduration("CACHE_OP_TIMEOUT", 250*time.Millisecond),

		Invalidation: InvalidationCfg{
			Enabled:  getbool("INVALIDATION_ENABLED", false),
			Topic:    getenv("KAFKA_TOPIC", "tile-invalidation"),
			Brokers:  getenv("KAFKA_BROKERS", "localhost:9092"),
			GroupID:  getenv("KAFKA_GROUP_ID", "tile-invalidator"),
			MaxTiles: getint("INVALIDATION_MAX_TILES", 100000),

			GroupPerInstance: getbool("INVALIDATION_GROUP_PER_INSTANCE", true),
			InstanceID:       getenv("INSTANCE_ID", hostname()),
		},
		Metrics: MetricsCfg{
			Enabled: getbool("METRICS_ENABLED", false),
			Addr:    getenv("METRICS_ADDR", ":9090"),
			Path:    getenv("METRICS_PATH", "/metrics"),
		},
	}
}

// TTLFor returns the cache lifetime for tiles of source.
func (c Config) TTLFor(source string) time.Duration {
	if d, ok := c.TileCacheTTLOvr[source]; ok {
		return d
	}
	return c.TileCacheTTL
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return ""
	}
	return h
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// comma separated, blanks dropped
func getlist(k, def string) []string {
	var out []string
	for p := range strings.SplitSeq(getenv(k, def), ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parse "source=5m,other=30s" into map
func parseDurationMap(s string) map[string]time.Duration {
	out := map[string]time.Duration{}
	s = strings.TrimSpace(s)
	if s == "" {
		return out
	}
	for p := range strings.SplitSeq(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		k := strings.TrimSpace(kv[0])
		v := strings.TrimSpace(kv[1])
		if k == "" {
			continue
		}
		if d, err := time.ParseDuration(v); err == nil {
			out[k] = d
		}
	}
	return out
}
