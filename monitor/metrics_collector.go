package monitor

import (
	"slices"
	"sync"
	"time"

	"github.com/glimte/mmate-scopebus/interceptors"
	"github.com/glimte/mmate-scopebus/messaging"
)

const maxSamples = 100

var (
	_ interceptors.MetricsCollector = (*SimpleMetricsCollector)(nil)
	_ messaging.MetricsCollector    = (*SimpleMetricsCollector)(nil)
)

// SimpleMetricsCollector is an in-memory collector for both dispatcher and
// invocation metrics. Dispatcher metrics are keyed by scope then contract
// name; invocation metrics by contract name.
type SimpleMetricsCollector struct {
	mu sync.RWMutex

	dispatches    map[string]map[string]int64
	subscriptions map[string]map[string]int64
	reclaimed     map[string]map[string]int64

	invocations     map[string]int64
	errorCounters   map[string]map[string]int64
	processingTimes map[string]*TimeStats
}

// TimeStats tracks timing statistics
type TimeStats struct {
	Count   int64
	Total   time.Duration
	Min     time.Duration
	Max     time.Duration
	samples []time.Duration // last maxSamples, for percentiles
}

// NewSimpleMetricsCollector creates a new in-memory metrics collector
func NewSimpleMetricsCollector() *SimpleMetricsCollector {
	c := &SimpleMetricsCollector{}
	c.reset()
	return c
}

func (c *SimpleMetricsCollector) reset() {
	c.dispatches = make(map[string]map[string]int64)
	c.subscriptions = make(map[string]map[string]int64)
	c.reclaimed = make(map[string]map[string]int64)
	c.invocations = make(map[string]int64)
	c.errorCounters = make(map[string]map[string]int64)
	c.processingTimes = make(map[string]*TimeStats)
}

func add(m map[string]map[string]int64, outer, inner string, delta int64) {
	if m[outer] == nil {
		m[outer] = make(map[string]int64)
	}
	m[outer][inner] += delta
}

// RecordDispatch implements messaging.MetricsCollector
func (c *SimpleMetricsCollector) RecordDispatch(scope, contract string, subscribers int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	add(c.dispatches, scope, contract, 1)
}

// RecordSubscription implements messaging.MetricsCollector
func (c *SimpleMetricsCollector) RecordSubscription(scope, contract string, delta int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.adjustSubscribers(scope, contract, int64(delta))
}

func (c *SimpleMetricsCollector) adjustSubscribers(scope, contract string, delta int64) {
	add(c.subscriptions, scope, contract, delta)
	if c.subscriptions[scope][contract] <= 0 {
		delete(c.subscriptions[scope], contract)
		if len(c.subscriptions[scope]) == 0 {
			delete(c.subscriptions, scope)
		}
	}
}

// RecordReclaimed implements messaging.MetricsCollector
func (c *SimpleMetricsCollector) RecordReclaimed(scope, contract string, count int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	add(c.reclaimed, scope, contract, int64(count))
	c.adjustSubscribers(scope, contract, -int64(count))
}

// IncrementInvocationCount implements interceptors.MetricsCollector
func (c *SimpleMetricsCollector) IncrementInvocationCount(contract string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invocations[contract]++
}

// RecordProcessingTime implements interceptors.MetricsCollector
func (c *SimpleMetricsCollector) RecordProcessingTime(contract string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, exists := c.processingTimes[contract]
	if !exists {
		stats = &TimeStats{
			Min:     duration,
			Max:     duration,
			samples: make([]time.Duration, 0, maxSamples),
		}
		c.processingTimes[contract] = stats
	}

	stats.Count++
	stats.Total += duration
	stats.Min = min(stats.Min, duration)
	stats.Max = max(stats.Max, duration)

	if len(stats.samples) >= maxSamples {
		stats.samples = stats.samples[1:]
	}
	stats.samples = append(stats.samples, duration)
}

// IncrementErrorCount implements interceptors.MetricsCollector
func (c *SimpleMetricsCollector) IncrementErrorCount(contract string, errorType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	add(c.errorCounters, contract, errorType, 1)
}

// GetMetricsSummary returns a summary of all collected metrics
func (c *SimpleMetricsCollector) GetMetricsSummary() MetricsSummary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	summary := MetricsSummary{
		DispatchCounts:    copyNested(c.dispatches),
		ActiveSubscribers: copyNested(c.subscriptions),
		ReclaimedCounts:   copyNested(c.reclaimed),
		InvocationCounts:  make(map[string]int64, len(c.invocations)),
		ErrorCounts:       copyNested(c.errorCounters),
		ProcessingStats:   make(map[string]ProcessingStats, len(c.processingTimes)),
	}

	for contract, count := range c.invocations {
		summary.InvocationCounts[contract] = count
	}

	for contract, stats := range c.processingTimes {
		procStats := ProcessingStats{
			Count: stats.Count,
			Min:   stats.Min,
			Max:   stats.Max,
		}
		if stats.Count > 0 {
			procStats.Avg = stats.Total / time.Duration(stats.Count)
		}
		if len(stats.samples) > 0 {
			sorted := slices.Clone(stats.samples)
			slices.Sort(sorted)
			procStats.P50 = percentile(sorted, 0.50)
			procStats.P95 = percentile(sorted, 0.95)
			procStats.P99 = percentile(sorted, 0.99)
		}
		summary.ProcessingStats[contract] = procStats
	}

	return summary
}

// GetLatencyPercentiles aggregates processing samples across all contracts
func (c *SimpleMetricsCollector) GetLatencyPercentiles() LatencyStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var all []time.Duration
	var total, lowest, highest time.Duration
	var count int64
	first := true
	for _, stats := range c.processingTimes {
		all = append(all, stats.samples...)
		total += stats.Total
		count += stats.Count
		if first || stats.Min < lowest {
			lowest = stats.Min
		}
		highest = max(highest, stats.Max)
		first = false
	}
	if len(all) == 0 {
		return LatencyStats{}
	}
	slices.Sort(all)

	return LatencyStats{
		P50:  percentile(all, 0.50),
		P90:  percentile(all, 0.90),
		P99:  percentile(all, 0.99),
		Min:  lowest,
		Max:  highest,
		Mean: total / time.Duration(count),
	}
}

// GetErrorAnalysis summarizes invocation failures
func (c *SimpleMetricsCollector) GetErrorAnalysis() ErrorAnalysis {
	c.mu.RLock()
	defer c.mu.RUnlock()

	analysis := ErrorAnalysis{
		ByErrorType: make(map[string]int64),
		ByContract:  make(map[string]int64),
	}

	var invocations int64
	for _, count := range c.invocations {
		invocations += count
	}

	for contract, byType := range c.errorCounters {
		for errorType, count := range byType {
			analysis.TotalErrors += count
			analysis.ByErrorType[errorType] += count
			analysis.ByContract[contract] += count
		}
	}

	if invocations > 0 {
		analysis.ErrorRate = float64(analysis.TotalErrors) / float64(invocations)
	}
	return analysis
}

// Reset clears all collected metrics
func (c *SimpleMetricsCollector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset()
}

// percentile picks the sample at p from an ascending slice
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	return sorted[int(float64(len(sorted)-1)*p)]
}

func copyNested(src map[string]map[string]int64) map[string]map[string]int64 {
	dst := make(map[string]map[string]int64, len(src))
	for outer, inner := range src {
		dst[outer] = make(map[string]int64, len(inner))
		for k, v := range inner {
			dst[outer][k] = v
		}
	}
	return dst
}

// MetricsSummary represents a snapshot of all metrics
type MetricsSummary struct {
	DispatchCounts    map[string]map[string]int64 `json:"dispatch_counts"`
	ActiveSubscribers map[string]map[string]int64 `json:"active_subscribers"`
	ReclaimedCounts   map[string]map[string]int64 `json:"reclaimed_counts"`
	InvocationCounts  map[string]int64            `json:"invocation_counts"`
	ErrorCounts       map[string]map[string]int64 `json:"error_counts"`
	ProcessingStats   map[string]ProcessingStats  `json:"processing_stats"`
}

// ProcessingStats represents processing time statistics for a contract.
// Durations keep full resolution; fast handlers report microseconds, not 0.
type ProcessingStats struct {
	Count int64         `json:"count"`
	Avg   time.Duration `json:"avg"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
	P50   time.Duration `json:"p50"`
	P95   time.Duration `json:"p95"`
	P99   time.Duration `json:"p99"`
}

// LatencyStats provides latency analysis across all contracts
type LatencyStats struct {
	P50  time.Duration `json:"p50"`
	P90  time.Duration `json:"p90"`
	P99  time.Duration `json:"p99"`
	Min  time.Duration `json:"min"`
	Max  time.Duration `json:"max"`
	Mean time.Duration `json:"mean"`
}

// ErrorAnalysis breaks invocation failures down by error type and contract
type ErrorAnalysis struct {
	TotalErrors int64            `json:"total_errors"`
	ErrorRate   float64          `json:"error_rate"`
	ByErrorType map[string]int64 `json:"by_error_type"`
	ByContract  map[string]int64 `json:"by_contract"`
}
