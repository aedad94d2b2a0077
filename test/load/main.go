package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type accruePayload struct {
	ClientID  string `json:"client_id"`
	PartnerID string `json:"partner_id"`
	Amount    string `json:"amount"`
}

type redeemPayload struct {
	ClientID  string `json:"client_id"`
	PartnerID string `json:"partner_id"`
	Points    int64  `json:"points"`
}

type LoadTestConfig struct {
	BaseURL           string
	PartnerID         string
	Clients           int
	RequestsPerSecond int
	DurationSeconds   int
	ConcurrentWorkers int
	// one request in RedeemEvery is a redemption, the rest are accruals
	RedeemEvery int
}

type Stats struct {
	created      atomic.Int64
	replayed     atomic.Int64
	insufficient atomic.Int64
	inFlight     atomic.Int64
	errorCount   atomic.Int64

	mu            sync.Mutex
	responseTimes []float64
}

func (s *Stats) addResponseTime(d float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responseTimes = append(s.responseTimes, d)
}

func (s *Stats) getResponseTimes() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.responseTimes)
}

type job struct {
	path string
	key  string
	body []byte
}

func newJob(config LoadTestConfig, runID string, n int) job {
	client := strconv.Itoa(100000 + n%config.Clients)
	key := fmt.Sprintf("load-%s-%d", runID, n)
	if config.RedeemEvery > 0 && n%config.RedeemEvery == 0 {
		b, _ := json.Marshal(redeemPayload{ClientID: client, PartnerID: config.PartnerID, Points: 5})
		return job{path: "/ledger/redemptions", key: key, body: b}
	}
	b, _ := json.Marshal(accruePayload{ClientID: client, PartnerID: config.PartnerID, Amount: "120.00"})
	return job{path: "/ledger/accruals", key: key, body: b}
}

func sendRequest(client *http.Client, config LoadTestConfig, j job, stats *Stats) {
	start := time.Now()

	req, err := http.NewRequest(http.MethodPost, config.BaseURL+j.path, bytes.NewReader(j.body))
	if err != nil {
		stats.errorCount.Add(1)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", j.key)

	resp, err := client.Do(req)
	if err != nil {
		stats.errorCount.Add(1)
		stats.addResponseTime(time.Since(start).Seconds())
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	stats.addResponseTime(time.Since(start).Seconds())

	switch resp.StatusCode {
	case http.StatusCreated:
		stats.created.Add(1)
	case http.StatusOK:
		stats.replayed.Add(1)
	case http.StatusUnprocessableEntity:
		stats.insufficient.Add(1)
	case http.StatusConflict:
		stats.inFlight.Add(1)
	default:
		stats.errorCount.Add(1)
	}
}

// registerClients makes sure every synthetic client exists before the run.
func registerClients(client *http.Client, config LoadTestConfig) error {
	for i := 0; i < config.Clients; i++ {
		b, _ := json.Marshal(map[string]string{
			"chat_id":       strconv.Itoa(100000 + i),
			"start_payload": "/start partner_" + config.PartnerID,
		})
		resp, err := client.Post(config.BaseURL+"/clients", "application/json", bytes.NewReader(b))
		if err != nil {
			return err
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
			return fmt.Errorf("register client %d: status %d", i, resp.StatusCode)
		}
	}
	return nil
}

func worker(client *http.Client, config LoadTestConfig, stats *Stats, jobs <-chan job, wg *sync.WaitGroup) {
	defer wg.Done()
	for j := range jobs {
		sendRequest(client, config, j, stats)
	}
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	i := int(float64(len(sorted)) * p)
	if i >= len(sorted) {
		i = len(sorted) - 1
	}
	return sorted[i]
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func main() {
	config := LoadTestConfig{
		BaseURL:           getEnvOrDefault("TARGET_URL", "http://localhost:8080/api/v1"),
		PartnerID:         getEnvOrDefault("PARTNER_ID", "1001"),
		Clients:           getEnvIntOrDefault("CLIENTS", 50),
		RequestsPerSecond: getEnvIntOrDefault("REQUESTS_PER_SECOND", 1000),
		DurationSeconds:   getEnvIntOrDefault("DURATION_SECONDS", 30),
		ConcurrentWorkers: getEnvIntOrDefault("CONCURRENT_WORKERS", 200),
		RedeemEvery:       getEnvIntOrDefault("REDEEM_EVERY", 4),
	}
	if config.Clients < 1 {
		config.Clients = 1
	}

	fmt.Println("Starting ledger load test...")
	fmt.Printf("Target: %s (partner %s, %d clients)\n", config.BaseURL, config.PartnerID, config.Clients)
	fmt.Printf("Target RPS: %d for %d seconds, %d workers\n", config.RequestsPerSecond, config.DurationSeconds, config.ConcurrentWorkers)
	fmt.Println(strings.Repeat("-", 50))

	client := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        config.ConcurrentWorkers,
			MaxIdleConnsPerHost: config.ConcurrentWorkers,
			IdleConnTimeout:     90 * time.Second,
		},
		Timeout: 60 * time.Second,
	}

	if err := registerClients(client, config); err != nil {
		fmt.Fprintln(os.Stderr, "setup failed:", err)
		os.Exit(1)
	}

	stats := &Stats{}
	jobs := make(chan job, config.RequestsPerSecond)

	var wg sync.WaitGroup
	for i := 0; i < config.ConcurrentWorkers; i++ {
		wg.Add(1)
		go worker(client, config, stats, jobs, &wg)
	}

	runID := strconv.FormatInt(time.Now().UnixNano(), 36)
	startTime := time.Now()
	n := 0
	for sec := 0; sec < config.DurationSeconds; sec++ {
		batchStart := time.Now()
		for j := 0; j < config.RequestsPerSecond; j++ {
			jobs <- newJob(config, runID, n)
			n++
		}

		done := stats.created.Load() + stats.replayed.Load() + stats.insufficient.Load() + stats.inFlight.Load() + stats.errorCount.Load()
		fmt.Printf("[%ds] completed: %d | created: %d | insufficient: %d | errors: %d\n",
			sec+1, done, stats.created.Load(), stats.insufficient.Load(), stats.errorCount.Load())

		if elapsed := time.Since(batchStart); elapsed < time.Second {
			time.Sleep(time.Second - elapsed)
		}
	}

	close(jobs)
	wg.Wait()
	duration := time.Since(startTime).Seconds()

	times := stats.getResponseTimes()
	slices.Sort(times)
	var avg float64
	for _, t := range times {
		avg += t
	}
	if len(times) > 0 {
		avg /= float64(len(times))
	}

	fmt.Println("\n" + strings.Repeat("=", 50))
	fmt.Println("LOAD TEST RESULTS")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Printf("Duration: %.2f seconds\n", duration)
	fmt.Printf("Requests sent: %d\n", n)
	fmt.Printf("Created: %d\n", stats.created.Load())
	fmt.Printf("Replayed: %d\n", stats.replayed.Load())
	fmt.Printf("Insufficient balance: %d\n", stats.insufficient.Load())
	fmt.Printf("In flight / conflict: %d\n", stats.inFlight.Load())
	fmt.Printf("Errors: %d\n", stats.errorCount.Load())
	fmt.Printf("\nActual RPS: %.2f\n", float64(len(times))/duration)
	fmt.Printf("\nResponse times:\n")
	fmt.Printf("  Average: %.2f ms\n", avg*1000)
	fmt.Printf("  P50: %.2f ms\n", percentile(times, 0.50)*1000)
	fmt.Printf("  P95: %.2f ms\n", percentile(times, 0.95)*1000)
	fmt.Printf("  P99: %.2f ms\n", percentile(times, 0.99)*1000)
	if len(times) > 0 {
		fmt.Printf("  Min: %.2f ms\n", times[0]*1000)
		fmt.Printf("  Max: %.2f ms\n", times[len(times)-1]*1000)
	}
}
