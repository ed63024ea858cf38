// Command loadgen drives a tile server with a zipf-skewed tile workload and
// optionally publishes invalidation events while it runs.
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

type Config struct {
	BaseURL         string
	Source          string
	Concurrency     int
	Duration        time.Duration
	ZipfS           float64
	ZipfV           float64
	TileCount       int
	MinZoom         int
	MaxZoom         int
	OutputPrefix    string
	RequestTimeout  time.Duration
	AppendTimestamp bool
	TimestampFormat string
	CenterFile      string
	KafkaBrokers    string
	KafkaTopic      string
	InvalidateEvery time.Duration
}

func loadConfig() Config {
	var cfg Config
	flag.StringVar(&cfg.BaseURL, "target", "http://localhost:8090", "Tile server base URL")
	flag.StringVar(&cfg.Source, "source", "openmaptiles", "Source name")
	flag.IntVar(&cfg.Concurrency, "concurrency", 32, "Concurrent workers")
	flag.DurationVar(&cfg.Duration, "duration", 60*time.Second, "Test duration")
	flag.Float64Var(&cfg.ZipfS, "zipf-s", 1.3, "Zipf parameter s (>1)")
	flag.Float64Var(&cfg.ZipfV, "zipf-v", 1.0, "Zipf parameter v (>=1)")
	flag.IntVar(&cfg.TileCount, "tiles", 256, "Distinct tiles in pool")
	flag.IntVar(&cfg.MinZoom, "minzoom", 8, "Lowest zoom requested")
	flag.IntVar(&cfg.MaxZoom, "maxzoom", 14, "Highest zoom requested")
	flag.StringVar(&cfg.OutputPrefix, "out", "results/tiles", "Output file prefix (JSON/CSV)")
	flag.DurationVar(&cfg.RequestTimeout, "timeout", 10*time.Second, "Per-request timeout")
	flag.BoolVar(&cfg.AppendTimestamp, "append-ts", true, "Append timestamp to output prefix")
	flag.StringVar(&cfg.TimestampFormat, "ts-format", "iso", "Timestamp format: iso|unix|none")
	flag.StringVar(&cfg.CenterFile, "centers", "", "Optional CSV file (id,lon,lat) of hot spots")
	flag.StringVar(&cfg.KafkaBrokers, "kafka-brokers", "", "Comma separated brokers; enables invalidation events")
	flag.StringVar(&cfg.KafkaTopic, "kafka-topic", "tile-invalidation", "Invalidation topic")
	flag.DurationVar(&cfg.InvalidateEvery, "invalidate-every", time.Second, "Interval between invalidation events")
	flag.Parse()
	return cfg
}

// one sample per request
type sample struct {
	Timestamp time.Time
	Latency   time.Duration
	Status    int
	Bytes     int64
	ErrorMsg  string
	Tile      string
}

type summary struct {
	StartTime     time.Time `json:"start"`
	EndTime       time.Time `json:"end"`
	DurationSec   float64   `json:"duration_sec"`
	TotalRequests int64     `json:"total"`
	SuccessCount  int64     `json:"success"`
	EmptyCount    int64     `json:"empty"`
	ErrorCount    int64     `json:"errors"`
	ThroughputRPS float64   `json:"throughput_rps"`
	P50Ms         float64   `json:"p50_ms"`
	P95Ms         float64   `json:"p95_ms"`
	P99Ms         float64   `json:"p99_ms"`
	Concurrency   int       `json:"concurrency"`
	ZipfS         float64   `json:"zipf_s"`
	ZipfV         float64   `json:"zipf_v"`
	Tiles         int       `json:"tiles"`
	Invalidations int       `json:"invalidations"`
	TargetURL     string    `json:"target"`
	Source        string    `json:"source"`
}

type aggregatedResult struct {
	total   int64
	success int64
	empty   int64
	errors  int64
	latMs   []float64
}

func main() {
	cfg := loadConfig()
	if err := os.MkdirAll(filepath.Dir(cfg.OutputPrefix), 0o750); err != nil {
		log.Fatalf("mkdir results: %v", err)
	}

	prefix := cfg.OutputPrefix
	if cfg.AppendTimestamp {
		switch strings.ToLower(cfg.TimestampFormat) {
		case "none":
		case "unix":
			prefix = fmt.Sprintf("%s_%d", prefix, time.Now().Unix())
		default: // "iso"
			prefix = fmt.Sprintf("%s_%s", prefix, time.Now().UTC().Format("20060102_150405Z"))
		}
	}

	seed := time.Now().UnixNano()
	r := rand.New(rand.NewSource(seed))

	centers := defaultCenters
	if strings.TrimSpace(cfg.CenterFile) != "" {
		cs, err := loadCentersCSV(cfg.CenterFile)
		switch {
		case err != nil:
			log.Printf("WARN: failed to load centers from %q: %v; using defaults", cfg.CenterFile, err)
		case len(cs) > 0:
			centers = cs
		}
	}

	pool := makeTiles(cfg.TileCount, cfg.MinZoom, cfg.MaxZoom, centers, r)
	if len(pool) == 0 {
		log.Fatalf("no tiles generated")
	}
	log.Printf("using %d tiles around %d centers", len(pool), len(centers))
	imax := uint64(len(pool)) - 1

	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: 4 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
			MaxIdleConns:          1024,
			MaxIdleConnsPerHost:   256,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   4 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
		Timeout: cfg.RequestTimeout,
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	invalidations := make(chan int, 1)
	if brokers := splitCSV(cfg.KafkaBrokers); len(brokers) > 0 {
		pr := rand.New(rand.NewSource(seed - 1))
		go func() {
			n, err := publishInvalidations(ctx, brokers, cfg.KafkaTopic, cfg.Source, cfg.InvalidateEvery, pool, pr)
			if err != nil {
				log.Printf("invalidation publisher: %v", err)
			}
			invalidations <- n
		}()
	} else {
		invalidations <- 0
	}

	csvPath := prefix + "_samples.csv"
	jsonPath := prefix + "_summary.json"
	csvFile, err := os.Create(filepath.Clean(csvPath))
	if err != nil {
		log.Printf("open csv: %v", err)
		return
	}
	defer func() { _ = csvFile.Close() }()
	csvWriter := csv.NewWriter(csvFile)

	samplesChan := make(chan sample, 4096)
	resultsChan := make(chan aggregatedResult, 1)
	go func() {
		_ = csvWriter.Write([]string{"timestamp", "latency_ms", "status", "bytes", "error", "tile"})
		var agg aggregatedResult
		agg.latMs = make([]float64, 0, 1<<20)
		for s := range samplesChan {
			agg.total++
			ms := float64(s.Latency.Microseconds()) / 1000.0
			switch {
			case s.ErrorMsg != "":
				agg.errors++
			case s.Status == http.StatusNoContent:
				agg.empty++
				agg.latMs = append(agg.latMs, ms)
			default:
				agg.success++
				agg.latMs = append(agg.latMs, ms)
			}
			_ = csvWriter.Write([]string{
				s.Timestamp.UTC().Format(time.RFC3339Nano),
				fmt.Sprintf("%.3f", ms),
				fmt.Sprintf("%d", s.Status),
				fmt.Sprintf("%d", s.Bytes),
				s.ErrorMsg,
				s.Tile,
			})
		}
		csvWriter.Flush()
		if err := csvWriter.Error(); err != nil {
			log.Printf("csv flush error: %v", err)
		}
		resultsChan <- agg
	}()

	startTime := time.Now()
	log.Printf("loadgen start target=%s source=%s dur=%s conc=%d zipf(s=%.2f,v=%.2f) tiles=%d z=%d-%d",
		cfg.BaseURL, cfg.Source, cfg.Duration, cfg.Concurrency, cfg.ZipfS, cfg.ZipfV, len(pool), cfg.MinZoom, cfg.MaxZoom)

	base := strings.TrimRight(cfg.BaseURL, "/") + "/" + cfg.Source + "/"

	var wg sync.WaitGroup
	wg.Add(cfg.Concurrency)
	for workerID := range cfg.Concurrency {
		go func(id int) {
			defer wg.Done()

			rWorker := rand.New(rand.NewSource(seed + int64(id) + 1))
			zipfDist := rand.NewZipf(rWorker, cfg.ZipfS, cfg.ZipfV, imax)
			for {
				select {
				case <-ctx.Done():
					return
				default:
				}

				v := zipfDist.Uint64()
				if v > uint64(math.MaxInt) || int(v) >= len(pool) {
					continue
				}
				path := tilePath(pool[v])

				startReq := time.Now()
				req, _ := http.NewRequestWithContext(ctx, http.MethodGet, base+path+".pbf", nil)
				req.Header.Set("Accept-Encoding", "gzip")
				resp, err := httpClient.Do(req)
				res := sample{Timestamp: startReq, Tile: path}
				if err != nil {
					res.Latency = time.Since(startReq)
					res.ErrorMsg = err.Error()
				} else {
					res.Status = resp.StatusCode
					res.Bytes, _ = io.Copy(io.Discard, resp.Body)
					_ = resp.Body.Close()
					res.Latency = time.Since(startReq)
					if resp.StatusCode < 200 || resp.StatusCode >= 300 {
						res.ErrorMsg = fmt.Sprintf("status=%d", resp.StatusCode)
					}
				}

				select {
				case samplesChan <- res:
				case <-ctx.Done():
					return
				}
			}
		}(workerID)
	}

	go func() {
		<-ctx.Done()
		wg.Wait()
		close(samplesChan)
	}()

	agg := <-resultsChan
	endTime := time.Now()
	elapsed := endTime.Sub(startTime).Seconds()

	sort.Float64s(agg.latMs)
	p50 := percentile(agg.latMs, 50)
	p95 := percentile(agg.latMs, 95)
	p99 := percentile(agg.latMs, 99)

	runSummary := summary{
		StartTime:     startTime.UTC(),
		EndTime:       endTime.UTC(),
		DurationSec:   elapsed,
		TotalRequests: agg.total,
		SuccessCount:  agg.success,
		EmptyCount:    agg.empty,
		ErrorCount:    agg.errors,
		ThroughputRPS: float64(agg.total) / elapsed,
		P50Ms:         p50,
		P95Ms:         p95,
		P99Ms:         p99,
		Concurrency:   cfg.Concurrency,
		ZipfS:         cfg.ZipfS,
		ZipfV:         cfg.ZipfV,
		Tiles:         len(pool),
		Invalidations: <-invalidations,
		TargetURL:     cfg.BaseURL,
		Source:        cfg.Source,
	}

	jsonFile, err := os.Create(filepath.Clean(jsonPath))
	if err == nil {
		enc := json.NewEncoder(jsonFile)
		enc.SetIndent("", "  ")
		_ = enc.Encode(runSummary)
		_ = jsonFile.Close()
	}

	log.Printf("done: total=%d ok=%d empty=%d err=%d thr=%.2f rps p50=%.1fms p95=%.1fms p99=%.1fms invalidations=%d",
		agg.total, agg.success, agg.empty, agg.errors, runSummary.ThroughputRPS, p50, p95, p99, runSummary.Invalidations)
	log.Printf("wrote %s and %s", jsonPath, csvPath)
}

func splitCSV(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
