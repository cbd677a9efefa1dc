// internal/utils/metrics.go
package utils

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// MetricsCollector holds named counters, gauges and histograms.
type MetricsCollector struct {
	counters   map[string]*int64
	gauges     map[string]*int64
	histograms map[string]*Histogram

	mu sync.RWMutex
}

// Histogram tracks count, sum, min and max of observed values.
type Histogram struct {
	count int64
	sum   int64
	min   int64
	max   int64
	mu    sync.Mutex
}

// HistogramSnapshot is the exported view of a Histogram.
type HistogramSnapshot struct {
	Count int64 `json:"count"`
	Sum   int64 `json:"sum"`
	Min   int64 `json:"min"`
	Max   int64 `json:"max"`
}

// MetricsSnapshot is a point-in-time copy of every metric.
type MetricsSnapshot struct {
	Counters   map[string]int64             `json:"counters"`
	Gauges     map[string]int64             `json:"gauges"`
	Histograms map[string]HistogramSnapshot `json:"histograms"`
}

func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		counters:   make(map[string]*int64),
		gauges:     make(map[string]*int64),
		histograms: make(map[string]*Histogram),
	}
}

// slot returns the atomic cell for name, creating it on first use.
func (m *MetricsCollector) slot(table map[string]*int64, name string) *int64 {
	m.mu.RLock()
	v, ok := table[name]
	m.mu.RUnlock()
	if ok {
		return v
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok = table[name]; !ok {
		v = new(int64)
		table[name] = v
	}
	return v
}

func (m *MetricsCollector) IncrementCounter(name string) {
	atomic.AddInt64(m.slot(m.counters, name), 1)
}

func (m *MetricsCollector) AddCounter(name string, value int64) {
	atomic.AddInt64(m.slot(m.counters, name), value)
}

func (m *MetricsCollector) GetCounterValue(name string) int64 {
	return atomic.LoadInt64(m.slot(m.counters, name))
}

func (m *MetricsCollector) SetGauge(name string, value int64) {
	atomic.StoreInt64(m.slot(m.gauges, name), value)
}

func (m *MetricsCollector) IncGauge(name string) {
	atomic.AddInt64(m.slot(m.gauges, name), 1)
}

func (m *MetricsCollector) DecGauge(name string) {
	atomic.AddInt64(m.slot(m.gauges, name), -1)
}

func (m *MetricsCollector) GetGauge(name string) int64 {
	return atomic.LoadInt64(m.slot(m.gauges, name))
}

func (m *MetricsCollector) RecordHistogram(name string, value int64) {
	m.mu.RLock()
	h, ok := m.histograms[name]
	m.mu.RUnlock()

	if !ok {
		m.mu.Lock()
		if h, ok = m.histograms[name]; !ok {
			h = &Histogram{min: value, max: value}
			m.histograms[name] = h
		}
		m.mu.Unlock()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	if value < h.min {
		h.min = value
	}
	if value > h.max {
		h.max = value
	}
}

// Snapshot copies every metric.
func (m *MetricsCollector) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := MetricsSnapshot{
		Counters:   make(map[string]int64, len(m.counters)),
		Gauges:     make(map[string]int64, len(m.gauges)),
		Histograms: make(map[string]HistogramSnapshot, len(m.histograms)),
	}
	for name, v := range m.counters {
		snap.Counters[name] = atomic.LoadInt64(v)
	}
	for name, v := range m.gauges {
		snap.Gauges[name] = atomic.LoadInt64(v)
	}
	for name, h := range m.histograms {
		h.mu.Lock()
		snap.Histograms[name] = HistogramSnapshot{Count: h.count, Sum: h.sum, Min: h.min, Max: h.max}
		h.mu.Unlock()
	}
	return snap
}

// GameMetrics names the metrics the game services report.
type GameMetrics struct {
	metrics *MetricsCollector
	logger  *Logger
}

func NewGameMetrics(collector *MetricsCollector, logger *Logger) *GameMetrics {
	if collector == nil {
		collector = NewMetricsCollector()
	}
	if logger == nil {
		logger = GetLogger()
	}
	return &GameMetrics{metrics: collector, logger: logger}
}

func (gm *GameMetrics) Collector() *MetricsCollector {
	return gm.metrics
}

// RecordCommand counts one session command and its latency.
func (gm *GameMetrics) RecordCommand(command string, duration time.Duration, err error) {
	gm.metrics.IncrementCounter("commands_total")
	gm.metrics.IncrementCounter("commands_" + command)
	gm.metrics.RecordHistogram("command_duration_ms", duration.Milliseconds())
	if err != nil {
		gm.metrics.IncrementCounter("commands_failed")
	}
}

func (gm *GameMetrics) RecordCombatAction(action string) {
	gm.metrics.IncrementCounter("combat_actions_total")
	gm.metrics.IncrementCounter("combat_actions_" + action)
}

func (gm *GameMetrics) RecordTriggerEvent(kind string) {
	gm.metrics.IncrementCounter("story_events_" + kind)
}

func (gm *GameMetrics) RecordNarration(fallback bool, duration time.Duration) {
	gm.metrics.IncrementCounter("narrations_total")
	gm.metrics.RecordHistogram("narration_duration_ms", duration.Milliseconds())
	if fallback {
		gm.metrics.IncrementCounter("narration_fallbacks")
	}
}

func (gm *GameMetrics) RecordAutosave(err error) {
	if err != nil {
		gm.metrics.IncrementCounter("autosave_failures")
		return
	}
	gm.metrics.IncrementCounter("autosaves_total")
}

// RecordHTTPRequest counts one transport request by status class.
func (gm *GameMetrics) RecordHTTPRequest(status int, duration time.Duration) {
	gm.metrics.IncrementCounter("http_requests_total")
	gm.metrics.IncrementCounter("http_responses_" + strconv.Itoa(status/100) + "xx")
	gm.metrics.RecordHistogram("http_response_time_ms", duration.Milliseconds())
}

func (gm *GameMetrics) SetActiveSessions(n int) {
	gm.metrics.SetGauge("sessions_active", int64(n))
}

// RunReporter logs a metrics summary every interval until ctx ends.
func (gm *GameMetrics) RunReporter(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			snap := gm.metrics.Snapshot()
			gm.logger.Info("periodic metrics report", map[string]interface{}{
				"counters": snap.Counters,
				"gauges":   snap.Gauges,
			})
		}
	}
}
