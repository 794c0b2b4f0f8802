package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"zashboard.app/internal/analytics"
	"zashboard.app/internal/analytics/sim"
	"zashboard.app/internal/obs"
)

type ingestResponse struct {
	Accepted int `json:"accepted"`
	Rejected []struct {
		Index int    `json:"index"`
		Error string `json:"error"`
	} `json:"rejected"`
}

func main() {
	var (
		baseURL  = flag.String("base-url", "http://localhost:8080", "API base URL")
		workers  = flag.Int("workers", 4, "Concurrent worker count")
		duration = flag.Duration("duration", 2*time.Minute, "Duration of the run")
		users    = flag.Int("users", 250, "Simulated installations")
		seed     = flag.Int64("seed", 0, "Generator seed (0 picks one)")
	)
	flag.Parse()

	log := obs.Logger("loadgen")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	scenario := sim.BrowserFleetScenario()
	scenario.Users = *users
	generator := sim.NewGenerator(scenario, *seed)

	log.Info().Str("base_url", *baseURL).Int("workers", *workers).Dur("duration", *duration).Int("users", *users).Msg("starting load run")

	client := &http.Client{Timeout: 10 * time.Second}
	var (
		counter      sim.Counter
		batches      int64
		failures     int64
		rejected     int64
		rateLimited  int64
		serverErrors int64
	)

	var wg sync.WaitGroup
	deadline := time.Now().Add(*duration)

	for i := 0; i < *workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			rnd := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id*9973)))
			for time.Now().Before(deadline) {
				select {
				case <-ctx.Done():
					return
				default:
				}
				events := generator.NextSession(time.Now())
				status, out, err := postBatch(ctx, client, *baseURL, events)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					log.Warn().Err(err).Int("worker", id).Msg("post batch")
					atomic.AddInt64(&failures, 1)
					continue
				}
				switch {
				case status == http.StatusAccepted:
					atomic.AddInt64(&batches, 1)
					atomic.AddInt64(&rejected, int64(len(out.Rejected)))
					counter.Add(events)
				case status == http.StatusTooManyRequests:
					atomic.AddInt64(&rateLimited, 1)
					time.Sleep(250 * time.Millisecond)
					continue
				default:
					atomic.AddInt64(&failures, 1)
					if status >= 500 {
						atomic.AddInt64(&serverErrors, 1)
					}
					log.Warn().Int("worker", id).Int("status", status).Msg("batch refused")
					time.Sleep(200 * time.Millisecond)
					continue
				}
				time.Sleep(time.Duration(50+rnd.Intn(120)) * time.Millisecond)
			}
		}(i)
	}

	wg.Wait()

	names, counts := counter.Names()
	byName := make(map[string]any, len(names))
	for _, name := range names {
		byName[name] = counts[name]
	}
	log.Info().
		Int64("batches", batches).
		Int("events", counter.Total()).
		Int64("rejected_events", rejected).
		Int64("failures", failures).
		Int64("rate_limited", rateLimited).
		Int64("server_errors", serverErrors).
		Fields(map[string]any{"by_event": byName}).
		Msg("run complete")
}

func postBatch(ctx context.Context, client *http.Client, baseURL string, events []analytics.Event) (int, ingestResponse, error) {
	var out ingestResponse
	body, err := json.Marshal(map[string]any{"events": events})
	if err != nil {
		return 0, out, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/v1/analytics/events", baseURL), bytes.NewReader(body))
	if err != nil {
		return 0, out, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := client.Do(req)
	if err != nil {
		return 0, out, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusAccepted {
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return resp.StatusCode, out, err
		}
	}
	return resp.StatusCode, out, nil
}
