// Package main provides a load generator for the aggregator service.
//
// It publishes synthetic events with a configurable duplicate rate against
// any of the three publish endpoints, then prints a delivery summary. Useful
// for exercising the dedup path and sizing worker pools.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/aggregator-io/aggregator/internal/config"
)

const (
	version = "1.0.0-dev"
	name    = "publisher"

	healthPollInterval = 500 * time.Millisecond
	requestTimeout     = 10 * time.Second
)

var (
	defaultTopics  = []string{"application-logs", "security-logs", "metrics"}
	defaultSources = []string{"service-a", "service-b", "service-c"}
)

type options struct {
	baseURL       string
	mode          string
	count         int
	batchSize     int
	concurrency   int
	rps           float64
	duplicateRate float64
	topics        []string
	sources       []string
	waitTimeout   time.Duration
}

type counters struct {
	mu         sync.Mutex
	sent       int
	duplicates int
	failed     int
}

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	mode := flag.String("mode", "single", "publish mode: single, batch, or queue")
	count := flag.Int("count", 1000, "total number of events to publish")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	opts := &options{
		baseURL:       config.GetEnvStr("PUBLISHER_TARGET_URL", "http://localhost:8080"),
		mode:          *mode,
		count:         *count,
		batchSize:     config.GetEnvInt("PUBLISHER_BATCH_SIZE", 100),
		concurrency:   config.GetEnvInt("PUBLISHER_CONCURRENCY", 4),
		rps:           config.GetEnvFloat("PUBLISHER_RPS", 200),
		duplicateRate: config.GetEnvFloat("PUBLISHER_DUPLICATE_RATE", 0.2),
		topics:        listOrDefault("PUBLISHER_TOPICS", defaultTopics),
		sources:       listOrDefault("PUBLISHER_SOURCES", defaultSources),
		waitTimeout:   config.GetEnvDuration("PUBLISHER_WAIT_TIMEOUT", 30*time.Second),
	}

	client := &http.Client{Timeout: requestTimeout}

	if err := waitForHealthy(client, opts); err != nil {
		log.Fatalf("target never became healthy: %v", err)
	}

	start := time.Now()

	var stats counters

	switch opts.mode {
	case "batch":
		runBatch(client, opts, &stats)
	case "single", "queue":
		runSingle(client, opts, &stats)
	default:
		log.Fatalf("unknown mode %q (want single, batch, or queue)", opts.mode)
	}

	elapsed := time.Since(start)

	fmt.Printf("mode=%s sent=%d duplicates=%d failed=%d elapsed=%s rate=%.1f/s\n",
		opts.mode, stats.sent, stats.duplicates, stats.failed,
		elapsed.Round(time.Millisecond), float64(stats.sent)/elapsed.Seconds(),
	)

	printAggregatorStats(client, opts)
}

// printAggregatorStats fetches the aggregator's own counters so the run's
// dedup outcome can be read next to the send summary. Queue mode counts are
// eventually consistent while workers drain the backlog.
func printAggregatorStats(client *http.Client, opts *options) {
	resp, err := client.Get(opts.baseURL + "/stats")
	if err != nil {
		log.Printf("could not fetch aggregator stats: %v", err)
		return
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	var decoded struct {
		Received         int64 `json:"received"`
		UniqueProcessed  int64 `json:"unique_processed"`
		DuplicateDropped int64 `json:"duplicate_dropped"`
		QueueSize        int64 `json:"queue_size"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		log.Printf("could not decode aggregator stats: %v", err)
		return
	}

	fmt.Printf("aggregator: received=%d unique=%d duplicates=%d queued=%d\n",
		decoded.Received, decoded.UniqueProcessed, decoded.DuplicateDropped, decoded.QueueSize)
}

func listOrDefault(key string, fallback []string) []string {
	if raw := config.GetEnvStr(key, ""); raw != "" {
		if parsed := config.ParseCommaSeparatedList(raw); len(parsed) > 0 {
			return parsed
		}
	}

	return fallback
}

// waitForHealthy polls the health endpoint until it reports a usable service.
func waitForHealthy(client *http.Client, opts *options) error {
	deadline := time.Now().Add(opts.waitTimeout)

	for {
		resp, err := client.Get(opts.baseURL + "/health")
		if err == nil {
			_ = resp.Body.Close()

			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}

		if time.Now().After(deadline) {
			if err != nil {
				return err
			}

			return fmt.Errorf("health endpoint returned %d", resp.StatusCode)
		}

		time.Sleep(healthPollInterval)
	}
}

// newEvent builds one synthetic event. With probability duplicateRate the
// event reuses a previously generated ID, producing a genuine duplicate.
func newEvent(opts *options, rng *rand.Rand, seen []string) (map[string]interface{}, string, bool) {
	var (
		eventID     string
		isDuplicate bool
	)

	if len(seen) > 0 && rng.Float64() < opts.duplicateRate {
		eventID = seen[rng.Intn(len(seen))]
		isDuplicate = true
	} else {
		eventID = "evt-" + uuid.NewString()
	}

	event := map[string]interface{}{
		"topic":     opts.topics[rng.Intn(len(opts.topics))],
		"event_id":  eventID,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"source":    opts.sources[rng.Intn(len(opts.sources))],
		"payload": map[string]interface{}{
			"sequence": len(seen),
		},
	}

	return event, eventID, isDuplicate
}

// runSingle publishes events one at a time from a fixed set of goroutines,
// paced by a shared token bucket.
func runSingle(client *http.Client, opts *options, stats *counters) {
	limiter := rate.NewLimiter(rate.Limit(opts.rps), int(opts.rps))

	path := "/publish"
	if opts.mode == "queue" {
		path = "/publish/queue"
	}

	jobs := make(chan map[string]interface{}, opts.concurrency)

	var wg sync.WaitGroup

	for i := 0; i < opts.concurrency; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for event := range jobs {
				_ = limiter.Wait(context.Background())

				ok, duplicate := postJSON(client, opts.baseURL+path, event)

				stats.mu.Lock()
				if ok {
					stats.sent++

					if duplicate {
						stats.duplicates++
					}
				} else {
					stats.failed++
				}
				stats.mu.Unlock()
			}
		}()
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	seen := make([]string, 0, opts.count)

	for i := 0; i < opts.count; i++ {
		event, eventID, isDuplicate := newEvent(opts, rng, seen)
		if !isDuplicate {
			seen = append(seen, eventID)
		}

		jobs <- event
	}

	close(jobs)
	wg.Wait()
}

// runBatch publishes events in fixed-size batches.
func runBatch(client *http.Client, opts *options, stats *counters) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	seen := make([]string, 0, opts.count)

	for sent := 0; sent < opts.count; {
		size := opts.batchSize
		if remaining := opts.count - sent; remaining < size {
			size = remaining
		}

		events := make([]map[string]interface{}, 0, size)

		for i := 0; i < size; i++ {
			event, eventID, isDuplicate := newEvent(opts, rng, seen)
			if !isDuplicate {
				seen = append(seen, eventID)
			}

			events = append(events, event)
		}

		ok, _ := postJSON(client, opts.baseURL+"/publish/batch", map[string]interface{}{
			"events": events,
		})

		stats.mu.Lock()
		if ok {
			stats.sent += size
		} else {
			stats.failed += size
		}
		stats.mu.Unlock()

		sent += size
	}
}

// postJSON posts a JSON body and reports success plus the server's duplicate
// classification when present.
func postJSON(client *http.Client, url string, body interface{}) (ok, duplicate bool) {
	data, err := json.Marshal(body)
	if err != nil {
		return false, false
	}

	resp, err := client.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		return false, false
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return false, false
	}

	var decoded struct {
		IsDuplicate bool `json:"is_duplicate"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return true, false
	}

	return true, decoded.IsDuplicate
}
