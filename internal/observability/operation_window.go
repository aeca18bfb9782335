package observability

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

type OperationStats struct {
	Operation string  `json:"operation"`
	Samples   int     `json:"samples"`
	LastMS    float64 `json:"last_ms"`
	AvgMS     float64 `json:"avg_ms"`
	P50MS     float64 `json:"p50_ms"`
	P95MS     float64 `json:"p95_ms"`
	P99MS     float64 `json:"p99_ms"`
}

type FailureCount struct {
	Kind  string `json:"kind"`
	Count int    `json:"count"`
}

type OperationSnapshot struct {
	GeneratedAt time.Time        `json:"generated_at"`
	WindowSize  int              `json:"window_size"`
	Operations  []OperationStats `json:"operations"`
	Failures    []FailureCount   `json:"failures,omitempty"`
}

// operationWindow keeps the last maxSamples latencies per operation.
type operationWindow struct {
	mu         sync.RWMutex
	maxSamples int
	ops        map[string]*sampleRing
	failures   map[string]int
}

type sampleRing struct {
	values []float64
	next   int
	filled bool
	last   float64
}

func newOperationWindow(maxSamples int) *operationWindow {
	if maxSamples <= 0 {
		maxSamples = 256
	}
	return &operationWindow{
		maxSamples: maxSamples,
		ops:        make(map[string]*sampleRing),
		failures:   make(map[string]int),
	}
}

func (w *operationWindow) Observe(op string, ms float64) {
	if op == "" || ms < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	ring, ok := w.ops[op]
	if !ok {
		ring = &sampleRing{values: make([]float64, w.maxSamples)}
		w.ops[op] = ring
	}
	ring.values[ring.next] = ms
	ring.last = ms
	ring.next++
	if ring.next >= len(ring.values) {
		ring.next = 0
		ring.filled = true
	}
}

func (w *operationWindow) ObserveFailure(kind string) {
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failures[kind]++
}

func (w *operationWindow) Snapshot() OperationSnapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()

	keys := make([]string, 0, len(w.ops))
	for op := range w.ops {
		keys = append(keys, op)
	}
	sort.Strings(keys)

	ops := make([]OperationStats, 0, len(keys))
	for _, op := range keys {
		ring := w.ops[op]
		n := ring.next
		if ring.filled {
			n = len(ring.values)
		}
		if n <= 0 {
			continue
		}
		samples := make([]float64, n)
		copy(samples, ring.values[:n])
		sort.Float64s(samples)

		sum := 0.0
		for _, v := range samples {
			sum += v
		}
		ops = append(ops, OperationStats{
			Operation: op,
			Samples:   n,
			LastMS:    round2(ring.last),
			AvgMS:     round2(sum / float64(n)),
			P50MS:     round2(quantile(samples, 0.50)),
			P95MS:     round2(quantile(samples, 0.95)),
			P99MS:     round2(quantile(samples, 0.99)),
		})
	}

	kinds := make([]string, 0, len(w.failures))
	for kind := range w.failures {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	failures := make([]FailureCount, 0, len(kinds))
	for _, kind := range kinds {
		failures = append(failures, FailureCount{Kind: kind, Count: w.failures[kind]})
	}

	return OperationSnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.maxSamples,
		Operations:  ops,
		Failures:    failures,
	}
}

func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	idx := q * float64(len(sorted)-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
