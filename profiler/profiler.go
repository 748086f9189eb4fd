// Package profiler - stage timings, custom metrics and runtime statistics for long-running
// pipelines, reported periodically through zap.
package profiler

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MetricsCollector defines the interface for collecting custom metrics.
type MetricsCollector interface {
	CollectMetrics() map[string]float64
}

// RuntimeProfiler tracks system resources, custom application metrics and operation
// timings, and emits a periodic report. All methods are safe for concurrent use.
type RuntimeProfiler struct {
	reportInterval time.Duration
	sampleInterval time.Duration
	maxSamples     int
	logger         *zap.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.RWMutex
	startTime time.Time
	running   bool

	memStats    runtime.MemStats
	goroutines  int
	lastGCCount uint32

	customMetrics  map[string]*MetricTracker
	collectors     []MetricsCollector
	operationTimes map[string]*TimeTracker
}

// MetricTracker tracks statistics for a custom metric over a sliding window.
type MetricTracker struct {
	values   []float64
	sum      float64
	min      float64
	max      float64
	count    int64
	lastTime time.Time
}

func newMetricTracker(value float64, capacity int) *MetricTracker {
	return &MetricTracker{
		values: make([]float64, 0, capacity),
		min:    value,
		max:    value,
	}
}

func (t *MetricTracker) add(value float64, maxSamples int) {
	t.values = append(t.values, value)
	if len(t.values) > maxSamples {
		t.sum -= t.values[0]
		t.values = t.values[1:]
	}

	t.sum += value
	t.count++
	t.lastTime = time.Now()

	if value < t.min {
		t.min = value
	}
	if value > t.max {
		t.max = value
	}
}

// TimeTracker tracks operation timing statistics over a sliding window.
type TimeTracker struct {
	durations []time.Duration
	totalTime time.Duration
	minTime   time.Duration
	maxTime   time.Duration
	count     int64
}

// ProfilingOptions configures the runtime profiler.
type ProfilingOptions struct {
	// ReportInterval specifies how often to emit status reports (default: 2s)
	ReportInterval time.Duration
	// SampleInterval specifies how often to collect samples (default: 100ms)
	SampleInterval time.Duration
	// MaxSamples specifies the sliding window size per metric (default: 600)
	MaxSamples int
	// Logger receives the status reports (default: no-op)
	Logger *zap.Logger
}

// NewRuntimeProfiler creates a new runtime profiler with the specified options.
//
// Arguments:
//   - opts: Configuration options for the profiler.
//
// Returns:
//   - *RuntimeProfiler: A profiler that records immediately and reports once started.
func NewRuntimeProfiler(opts ProfilingOptions) *RuntimeProfiler {
	if opts.ReportInterval <= 0 {
		opts.ReportInterval = 2 * time.Second
	}
	if opts.SampleInterval <= 0 {
		opts.SampleInterval = 100 * time.Millisecond
	}
	if opts.MaxSamples <= 0 {
		opts.MaxSamples = 600 // 1 minute of samples at 100ms intervals
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &RuntimeProfiler{
		reportInterval: opts.ReportInterval,
		sampleInterval: opts.SampleInterval,
		maxSamples:     opts.MaxSamples,
		logger:         opts.Logger,
		ctx:            ctx,
		cancel:         cancel,
		startTime:      time.Now(),
		customMetrics:  make(map[string]*MetricTracker),
		operationTimes: make(map[string]*TimeTracker),
	}
}

// Start begins sampling and periodic reporting. Calling it again while running is a no-op.
func (rp *RuntimeProfiler) Start() {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	if rp.running || rp.ctx.Err() != nil {
		return
	}

	rp.running = true
	rp.startTime = time.Now()

	rp.wg.Add(2)
	go rp.sampleLoop()
	go func() {
		defer rp.wg.Done()

		ticker := time.NewTicker(rp.reportInterval)
		defer ticker.Stop()

		for {
			select {
			case <-rp.ctx.Done():
				return
			case <-ticker.C:
				rp.emitStatusReport()
			}
		}
	}()
}

// Stop halts the background goroutines and waits for them. A stopped profiler cannot
// be restarted, but still records metrics and answers Report.
func (rp *RuntimeProfiler) Stop() {
	rp.mu.Lock()
	wasRunning := rp.running
	rp.running = false
	rp.mu.Unlock()

	rp.cancel()
	if wasRunning {
		rp.wg.Wait()
	}
}

// AddMetricsCollector registers a collector polled on every sample tick.
func (rp *RuntimeProfiler) AddMetricsCollector(collector MetricsCollector) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	rp.collectors = append(rp.collectors, collector)
}

// RecordMetric records a custom metric value.
//
// Arguments:
//   - name: The name of the metric.
//   - value: The metric value to record.
func (rp *RuntimeProfiler) RecordMetric(name string, value float64) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	rp.recordMetricLocked(name, value)
}

func (rp *RuntimeProfiler) recordMetricLocked(name string, value float64) {
	tracker, exists := rp.customMetrics[name]
	if !exists {
		tracker = newMetricTracker(value, rp.maxSamples)
		rp.customMetrics[name] = tracker
	}
	tracker.add(value, rp.maxSamples)
}

// StartOperation begins timing an operation.
//
// Arguments:
//   - name: The name of the operation to track.
//
// Returns:
//   - func(): Call it when the operation completes.
func (rp *RuntimeProfiler) StartOperation(name string) func() {
	start := time.Now()
	return func() {
		rp.recordOperationTime(name, time.Since(start))
	}
}

func (rp *RuntimeProfiler) recordOperationTime(name string, duration time.Duration) {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	tracker, exists := rp.operationTimes[name]
	if !exists {
		tracker = &TimeTracker{
			minTime: duration,
			maxTime: duration,
		}
		rp.operationTimes[name] = tracker
	}

	tracker.durations = append(tracker.durations, duration)
	if len(tracker.durations) > rp.maxSamples {
		tracker.totalTime -= tracker.durations[0]
		tracker.durations = tracker.durations[1:]
	}

	tracker.totalTime += duration
	tracker.count++

	if duration < tracker.minTime {
		tracker.minTime = duration
	}
	if duration > tracker.maxTime {
		tracker.maxTime = duration
	}
}

// sampleLoop collects runtime statistics and polls registered collectors.
func (rp *RuntimeProfiler) sampleLoop() {
	defer rp.wg.Done()

	ticker := time.NewTicker(rp.sampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rp.ctx.Done():
			return
		case <-ticker.C:
			rp.sample()
		}
	}
}

func (rp *RuntimeProfiler) sample() {
	rp.mu.RLock()
	collectors := append([]MetricsCollector(nil), rp.collectors...)
	rp.mu.RUnlock()

	// Collectors may take their own locks, so they run without holding ours.
	collected := make([]map[string]float64, 0, len(collectors))
	for _, c := range collectors {
		collected = append(collected, c.CollectMetrics())
	}

	rp.mu.Lock()
	defer rp.mu.Unlock()

	runtime.ReadMemStats(&rp.memStats)
	rp.goroutines = runtime.NumGoroutine()

	for _, metrics := range collected {
		for name, value := range metrics {
			rp.recordMetricLocked(name, value)
		}
	}
}

// MetricSummary summarizes a custom metric's sliding window.
type MetricSummary struct {
	Avg, Min, Max float64
	Samples       int
	Count         int64
}

// OperationSummary summarizes an operation's timings.
type OperationSummary struct {
	Avg, Min, Max time.Duration
	Samples       int
	Count         int64
}

// Report is a point-in-time copy of the profiler state.
type Report struct {
	Uptime     time.Duration
	Goroutines int
	HeapAlloc  uint64
	Sys        uint64
	NumGC      uint32
	Metrics    map[string]MetricSummary
	Operations map[string]OperationSummary
}

// Report returns the current statistics.
func (rp *RuntimeProfiler) Report() Report {
	rp.mu.RLock()
	defer rp.mu.RUnlock()

	r := Report{
		Uptime:     time.Since(rp.startTime),
		Goroutines: runtime.NumGoroutine(),
		HeapAlloc:  rp.memStats.HeapAlloc,
		Sys:        rp.memStats.Sys,
		NumGC:      rp.memStats.NumGC,
		Metrics:    make(map[string]MetricSummary, len(rp.customMetrics)),
		Operations: make(map[string]OperationSummary, len(rp.operationTimes)),
	}

	for name, t := range rp.customMetrics {
		if len(t.values) == 0 {
			continue
		}
		r.Metrics[name] = MetricSummary{
			Avg:     t.sum / float64(len(t.values)),
			Min:     t.min,
			Max:     t.max,
			Samples: len(t.values),
			Count:   t.count,
		}
	}

	for name, t := range rp.operationTimes {
		if len(t.durations) == 0 {
			continue
		}
		r.Operations[name] = OperationSummary{
			Avg:     t.totalTime / time.Duration(len(t.durations)),
			Min:     t.minTime,
			Max:     t.maxTime,
			Samples: len(t.durations),
			Count:   t.count,
		}
	}

	return r
}

// emitStatusReport logs the current report, one entry for the runtime and one per
// metric and operation.
func (rp *RuntimeProfiler) emitStatusReport() {
	r := rp.Report()

	rp.mu.Lock()
	newGC := r.NumGC - rp.lastGCCount
	rp.lastGCCount = r.NumGC
	rp.mu.Unlock()

	rp.logger.Info("runtime profiler status",
		zap.Duration("uptime", r.Uptime.Truncate(time.Millisecond)),
		zap.Int("goroutines", r.Goroutines),
		zap.String("heap_alloc", formatBytes(r.HeapAlloc)),
		zap.String("sys", formatBytes(r.Sys)),
		zap.Uint32("gc_cycles", r.NumGC),
		zap.Uint32("gc_new", newGC),
	)

	for _, name := range sortedKeys(r.Metrics) {
		m := r.Metrics[name]
		rp.logger.Info("metric",
			zap.String("name", name),
			zap.Float64("avg", m.Avg),
			zap.Float64("min", m.Min),
			zap.Float64("max", m.Max),
			zap.Int("samples", m.Samples),
		)
	}

	for _, name := range sortedKeys(r.Operations) {
		o := r.Operations[name]
		rp.logger.Info("operation",
			zap.String("name", name),
			zap.Duration("avg", o.Avg.Truncate(time.Microsecond)),
			zap.Duration("min", o.Min.Truncate(time.Microsecond)),
			zap.Duration("max", o.Max.Truncate(time.Microsecond)),
			zap.Int64("count", o.Count),
		)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// formatBytes formats byte counts in human-readable format.
func formatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
