// Command loadtest publishes synthetic documents through the dispatch and
// publish path at a configurable rate and reports throughput and latency.
// It exercises the real broker topology, so point it at a disposable queue.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/docsink/docsink/internal/sink"
	"github.com/docsink/docsink/pkg/config"
	"github.com/docsink/docsink/pkg/metrics"
	"github.com/docsink/docsink/pkg/rabbit"
)

type Config struct {
	Concurrency int
	Duration    time.Duration
	Rate        float64
}

type Stats struct {
	totalDocs   atomic.Int64
	published   atomic.Int64
	skipped     atomic.Int64
	errorCount  atomic.Int64
	latencies   []time.Duration
	latenciesMu sync.Mutex
}

func NewStats() *Stats {
	return &Stats{
		latencies: make([]time.Duration, 0, 100000),
	}
}

func (s *Stats) Record(duration time.Duration, routed bool, err error) {
	s.totalDocs.Add(1)

	if err != nil {
		s.errorCount.Add(1)
		return
	}
	if routed {
		s.published.Add(1)
	} else {
		s.skipped.Add(1)
	}

	s.latenciesMu.Lock()
	s.latencies = append(s.latencies, duration)
	s.latenciesMu.Unlock()
}

type routingBlock struct {
	Tenant  string   `json:"tenant"`
	Pattern string   `json:"pattern"`
	Sinks   []string `json:"sinks,omitempty"`
}

type syntheticDoc struct {
	Routing   routingBlock `json:"routing"`
	Message   string       `json:"message"`
	Sequence  int          `json:"sequence"`
	Timestamp string       `json:"timestamp"`
}

var tenants = []string{"acme", "globex", "initech", "umbrella", "wayne"}

var patterns = []string{
	"syslog",
	"nginx-access",
	"nginx-error",
	"app-json",
	"audit-trail",
}

var messages = []string{
	"connection accepted from upstream",
	"request completed with status 200",
	"cache miss, falling back to origin",
	"user session refreshed",
	"batch checkpoint written",
	"retrying transient failure",
	"configuration reloaded",
	"worker heartbeat emitted",
	"slow query logged",
	"disk usage above threshold",
}

func main() {
	configPath := flag.String("config", "", "path to config file")
	concurrency := flag.Int("concurrency", 10, "number of concurrent publishers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	rate := flag.Float64("rate", 0, "target documents/sec across all publishers (0 = unthrottled)")
	flag.Parse()

	appCfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	cfg := Config{
		Concurrency: *concurrency,
		Duration:    *duration,
		Rate:        *rate,
	}

	fmt.Println("=== Document Pipeline Load Test ===")
	fmt.Printf("Broker:      %v\n", appCfg.Broker.URLs)
	fmt.Printf("Queue:       %s\n", appCfg.Broker.Queue)
	fmt.Printf("Sink:        %s\n", appCfg.Sink.Name)
	fmt.Printf("Concurrency: %d\n", cfg.Concurrency)
	fmt.Printf("Duration:    %s\n", cfg.Duration)
	if cfg.Rate > 0 {
		fmt.Printf("Rate:        %.0f docs/sec\n", cfg.Rate)
	} else {
		fmt.Printf("Rate:        unthrottled\n")
	}
	fmt.Println()

	queue, err := rabbit.Dial(appCfg.Broker)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to broker: %v\n", err)
		os.Exit(1)
	}
	defer queue.Close()
	if err := queue.Declare(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to declare queue: %v\n", err)
		os.Exit(1)
	}

	m := metrics.New()
	publisher := sink.NewPublisher(queue, appCfg.Sink, m)
	dispatcher := sink.NewDispatcher(publisher, appCfg.Sink, m)

	stats := runLoadTest(cfg, appCfg.Sink.Name, dispatcher)
	printReport(stats, cfg.Duration)
}

func runLoadTest(cfg Config, sinkName string, dispatcher *sink.Dispatcher) *Stats {
	stats := NewStats()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	// Per-publisher pacing interval that adds up to the requested total rate.
	var interval time.Duration
	if cfg.Rate > 0 {
		interval = time.Duration(float64(cfg.Concurrency) / cfg.Rate * float64(time.Second))
	}

	var wg sync.WaitGroup
	fmt.Print("Running")

	for w := 0; w < cfg.Concurrency; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()

			var pace *time.Ticker
			if interval > 0 {
				pace = time.NewTicker(interval)
				defer pace.Stop()
			}

			seq := workerID
			for {
				select {
				case <-ctx.Done():
					return
				default:
				}

				doc := buildDocument(sinkName, seq)
				seq += cfg.Concurrency

				start := time.Now()
				_, routed, err := dispatcher.Route(ctx, doc)
				stats.Record(time.Since(start), routed, err)

				if pace != nil {
					select {
					case <-ctx.Done():
						return
					case <-pace.C:
					}
				}
			}
		}(w)
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fmt.Print(".")
			}
		}
	}()

	wg.Wait()
	fmt.Println(" done!")
	fmt.Println()
	return stats
}

// buildDocument rotates tenants, patterns, and sink targeting: most
// documents name no sinks, every third names this sink explicitly, and
// every tenth names only a foreign sink to exercise the skip path.
func buildDocument(sinkName string, seq int) []byte {
	var sinks []string
	switch {
	case seq%10 == 0:
		sinks = []string{"cold-archive"}
	case seq%3 == 0:
		sinks = []string{sinkName}
	}

	doc := syntheticDoc{
		Routing: routingBlock{
			Tenant:  tenants[seq%len(tenants)],
			Pattern: patterns[seq%len(patterns)],
			Sinks:   sinks,
		},
		Message:   messages[seq%len(messages)],
		Sequence:  seq,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	data, err := json.Marshal(doc)
	if err != nil {
		panic(fmt.Sprintf("marshaling synthetic document: %v", err))
	}
	return data
}

func printReport(stats *Stats, duration time.Duration) {
	total := stats.totalDocs.Load()
	published := stats.published.Load()
	skipped := stats.skipped.Load()
	errors := stats.errorCount.Load()

	fmt.Println("=== Results ===")
	fmt.Printf("Total Documents: %d\n", total)
	fmt.Printf("Published:       %d\n", published)
	fmt.Printf("Skipped:         %d\n", skipped)
	fmt.Printf("Errors:          %d\n", errors)

	if total > 0 {
		errorRate := float64(errors) / float64(total) * 100
		fmt.Printf("Error Rate:      %.2f%%\n", errorRate)
		dps := float64(total) / duration.Seconds()
		fmt.Printf("Documents/sec:   %.2f\n", dps)
	}

	stats.latenciesMu.Lock()
	latencies := make([]time.Duration, len(stats.latencies))
	copy(latencies, stats.latencies)
	stats.latenciesMu.Unlock()

	if len(latencies) > 0 {
		sort.Slice(latencies, func(i, j int) bool {
			return latencies[i] < latencies[j]
		})

		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		avg := sum / time.Duration(len(latencies))

		fmt.Println()
		fmt.Println("=== Publish Latency ===")
		fmt.Printf("Min:    %s\n", latencies[0])
		fmt.Printf("Avg:    %s\n", avg)
		fmt.Printf("P50:    %s\n", percentile(latencies, 50))
		fmt.Printf("P90:    %s\n", percentile(latencies, 90))
		fmt.Printf("P95:    %s\n", percentile(latencies, 95))
		fmt.Printf("P99:    %s\n", percentile(latencies, 99))
		fmt.Printf("Max:    %s\n", latencies[len(latencies)-1])

		var sumSquared float64
		avgFloat := float64(avg)
		for _, l := range latencies {
			diff := float64(l) - avgFloat
			sumSquared += diff * diff
		}
		stddev := time.Duration(math.Sqrt(sumSquared / float64(len(latencies))))
		fmt.Printf("StdDev: %s\n", stddev)
	}

	if total == 0 {
		fmt.Println()
		fmt.Println("WARNING: No documents published. Is the broker running?")
		os.Exit(1)
	}
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
