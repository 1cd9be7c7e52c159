package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	Holders      int
	Providers    []string
	Days         int
	SlotLimit    int
	ConfirmRatio float64 // share of successful holds that get confirmed
	ReleaseRatio float64 // share of successful holds that get released
	HoldSeconds  int
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeConflict
	outcomeExpired
	outcomeError
)

type hold struct {
	SlotID   uuid.UUID
	HolderID string
}

type DataPool struct {
	Holders []string
	Slots   []uuid.UUID

	mu        sync.Mutex
	confirmed map[uuid.UUID]int // confirms the API acknowledged, per slot
}

func (dp *DataPool) RecordConfirm(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.confirmed[id]++
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Expired   int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, o outcome) {
	atomic.AddInt64(&om.Total, 1)
	switch o {
	case outcomeSuccess:
		atomic.AddInt64(&om.Success, 1)
	case outcomeConflict:
		atomic.AddInt64(&om.Conflict, 1)
	case outcomeExpired:
		atomic.AddInt64(&om.Expired, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)

	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[min2(len(latencies)*50/100, len(latencies)-1)]
	p95 = latencies[min2(len(latencies)*95/100, len(latencies)-1)]

	return avg, min, max, p50, p95
}

type Metrics struct {
	Reserve      OperationMetrics
	Confirm      OperationMetrics
	Release      OperationMetrics
	Availability OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	log.Printf("config: duration=%s workers=%d holders=%d providers=%d confirm=%.2f release=%.2f",
		cfg.Duration, cfg.Workers, cfg.Holders, len(cfg.Providers), cfg.ConfirmRatio, cfg.ReleaseRatio)

	sim := &Simulator{
		config: cfg,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	dataPool, err := sim.loadDataPool(ctx)
	if err != nil {
		log.Fatalf("load data pool: %v", err)
	}
	sim.pool = dataPool
	log.Printf("loaded: %d holders, %d slots", len(dataPool.Holders), len(dataPool.Slots))

	sim.Run()

	sim.PrintReport()

	if err := sim.VerifyCapacity(context.Background()); err != nil {
		log.Fatalf("capacity check failed: %v", err)
	}
	log.Println("capacity check passed: no slot is overbooked")
}

func loadConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 20),
		Holders:      getInt("SIM_HOLDERS", 500),
		Providers:    splitList(os.Getenv("SIM_PROVIDERS")),
		Days:         getInt("SIM_DAYS", 7),
		SlotLimit:    getInt("SIM_SLOT_LIMIT", 50),
		ConfirmRatio: getFloat("SIM_CONFIRM_RATIO", 0.6),
		ReleaseRatio: getFloat("SIM_RELEASE_RATIO", 0.2),
		HoldSeconds:  getInt("SIM_HOLD_SECONDS", 30),
	}

	if total := cfg.ConfirmRatio + cfg.ReleaseRatio; total > 1 {
		cfg.ConfirmRatio /= total
		cfg.ReleaseRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if len(cfg.Providers) == 0 {
		return fmt.Errorf("SIM_PROVIDERS is required (comma separated provider ids, e.g. from cmd/seed)")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.Holders <= 0 {
		return fmt.Errorf("SIM_HOLDERS must be > 0")
	}
	return nil
}

// loadDataPool pulls currently available slots for the configured providers.
// The slot list is capped so workers contend for the same few slots.
func (s *Simulator) loadDataPool(ctx context.Context) (*DataPool, error) {
	faker := gofakeit.New(0)
	dataPool := &DataPool{confirmed: make(map[uuid.UUID]int)}

	for i := 0; i < s.config.Holders; i++ {
		dataPool.Holders = append(dataPool.Holders, "patient-"+faker.UUID())
	}

	from := time.Now().UTC()
	to := from.AddDate(0, 0, s.config.Days)

	for _, p := range s.config.Providers {
		q := url.Values{}
		q.Set("providerId", p)
		q.Set("from", from.Format("2006-01-02"))
		q.Set("to", to.Format("2006-01-02"))

		var slots []struct {
			SlotID uuid.UUID `json:"slotId"`
		}
		status, err := s.doJSON(ctx, http.MethodGet, "/availability?"+q.Encode(), nil, &slots)
		if err != nil {
			return nil, fmt.Errorf("availability for %s: %w", p, err)
		}
		if status != http.StatusOK {
			return nil, fmt.Errorf("availability for %s: status %d", p, status)
		}
		for _, sl := range slots {
			dataPool.Slots = append(dataPool.Slots, sl.SlotID)
			if len(dataPool.Slots) >= s.config.SlotLimit {
				return dataPool, nil
			}
		}
	}

	if len(dataPool.Slots) == 0 {
		return nil, fmt.Errorf("no available slots loaded")
	}
	return dataPool, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	log.Printf("starting simulation for %s with %d workers", s.config.Duration, s.config.Workers)

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	log.Println("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if rng.Intn(5) == 0 {
			s.doAvailability(ctx, rng)
			continue
		}

		h, ok := s.doReserve(ctx, rng)
		if !ok {
			continue
		}

		r := rng.Float64()
		switch {
		case r < s.config.ConfirmRatio:
			s.doConfirm(ctx, h)
		case r < s.config.ConfirmRatio+s.config.ReleaseRatio:
			s.doRelease(ctx, h)
		default:
			// abandon the hold and let it expire
		}
	}
}

func (s *Simulator) doReserve(ctx context.Context, rng *rand.Rand) (hold, bool) {
	h := hold{
		SlotID:   s.pool.Slots[rng.Intn(len(s.pool.Slots))],
		HolderID: s.pool.Holders[rng.Intn(len(s.pool.Holders))],
	}

	start := time.Now()
	status, err := s.doJSON(ctx, http.MethodPost, "/reserve", map[string]any{
		"slotId":              h.SlotID,
		"holderId":            h.HolderID,
		"holdDurationSeconds": s.config.HoldSeconds,
	}, nil)
	o := classify(status, err, http.StatusCreated)
	s.metrics.Reserve.Record(time.Since(start), o)

	return h, o == outcomeSuccess
}

func (s *Simulator) doConfirm(ctx context.Context, h hold) {
	start := time.Now()
	status, err := s.doJSON(ctx, http.MethodPost, "/confirm", map[string]any{
		"slotId":   h.SlotID,
		"holderId": h.HolderID,
	}, nil)
	o := classify(status, err, http.StatusOK)
	s.metrics.Confirm.Record(time.Since(start), o)

	if o == outcomeSuccess {
		s.pool.RecordConfirm(h.SlotID)
	}
}

func (s *Simulator) doRelease(ctx context.Context, h hold) {
	start := time.Now()
	status, err := s.doJSON(ctx, http.MethodPost, "/release", map[string]any{
		"slotId":   h.SlotID,
		"holderId": h.HolderID,
	}, nil)
	s.metrics.Release.Record(time.Since(start), classify(status, err, http.StatusNoContent))
}

func (s *Simulator) doAvailability(ctx context.Context, rng *rand.Rand) {
	p := s.config.Providers[rng.Intn(len(s.config.Providers))]
	from := time.Now().UTC()

	q := url.Values{}
	q.Set("providerId", p)
	q.Set("from", from.Format("2006-01-02"))
	q.Set("to", from.AddDate(0, 0, s.config.Days).Format("2006-01-02"))

	start := time.Now()
	status, err := s.doJSON(ctx, http.MethodGet, "/availability?"+q.Encode(), nil, nil)
	s.metrics.Availability.Record(time.Since(start), classify(status, err, http.StatusOK))
}

// VerifyCapacity reads every slot back and checks that neither the stored
// booked count nor the confirms the API acknowledged exceed capacity.
func (s *Simulator) VerifyCapacity(ctx context.Context) error {
	var problems []string

	for _, id := range s.pool.Slots {
		var slot struct {
			MaxCapacity int    `json:"maxCapacity"`
			BookedCount int    `json:"bookedCount"`
			Status      string `json:"status"`
		}
		status, err := s.doJSON(ctx, http.MethodGet, "/slots/"+id.String(), nil, &slot)
		if err != nil || status != http.StatusOK {
			problems = append(problems, fmt.Sprintf("slot %s: read failed (status=%d err=%v)", id, status, err))
			continue
		}
		if slot.BookedCount > slot.MaxCapacity {
			problems = append(problems, fmt.Sprintf("slot %s: booked %d > capacity %d", id, slot.BookedCount, slot.MaxCapacity))
		}
		if n := s.pool.confirmed[id]; n > slot.MaxCapacity {
			problems = append(problems, fmt.Sprintf("slot %s: %d confirms acknowledged > capacity %d", id, n, slot.MaxCapacity))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%d problems:\n%s", len(problems), strings.Join(problems, "\n"))
	}
	return nil
}

func (s *Simulator) doJSON(ctx context.Context, method, path string, body any, out any) (int, error) {
	var rdr *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, rdr)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func classify(status int, err error, want int) outcome {
	switch {
	case err != nil:
		return outcomeError
	case status == want:
		return outcomeSuccess
	case status == http.StatusConflict || status == http.StatusForbidden:
		return outcomeConflict
	case status == http.StatusGone:
		return outcomeExpired
	default:
		return outcomeError
	}
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Slots under contention: %d\n", len(s.pool.Slots))
	fmt.Println()

	printOperationReport("Reserve", &s.metrics.Reserve)
	printOperationReport("Confirm", &s.metrics.Confirm)
	printOperationReport("Release", &s.metrics.Release)
	printOperationReport("Availability", &s.metrics.Availability)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	expired := atomic.LoadInt64(&om.Expired)
	errCount := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if expired > 0 {
		fmt.Printf("  Expired: %d (%.1f%%)\n", expired, float64(expired)/float64(total)*100)
	}
	if errCount > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", errCount, float64(errCount)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

// Helper functions

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func min2(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func repeat(s string, n int) string {
	return strings.Repeat(s, n)
}
