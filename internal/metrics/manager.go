// Package metrics collects lightweight in-process operational metrics,
// addressed as "topic.name" paths.
package metrics

import (
	"sort"
	"sync"
	"time"
)

// Manager owns all metrics. One global instance serves the process; tests
// create their own with NewManager.
type Manager struct {
	mu           sync.RWMutex
	timings      map[string]*TimingMetric
	counters     map[string]*CounterMetric
	gauges       map[string]*GaugeMetric
	successFails map[string]*SuccessFailMetric
}

var (
	instance *Manager
	once     sync.Once
)

// GetInstance returns the process-wide manager
func GetInstance() *Manager {
	once.Do(func() {
		instance = NewManager()
	})
	return instance
}

// NewManager creates an empty manager
func NewManager() *Manager {
	return &Manager{
		timings:      make(map[string]*TimingMetric),
		counters:     make(map[string]*CounterMetric),
		gauges:       make(map[string]*GaugeMetric),
		successFails: make(map[string]*SuccessFailMetric),
	}
}

func metricPath(topic, name string) string {
	return topic + "." + name
}

// RecordDuration records one timing observation
func (m *Manager) RecordDuration(topic, name string, d time.Duration) {
	path := metricPath(topic, name)

	m.mu.Lock()
	t, ok := m.timings[path]
	if !ok {
		t = &TimingMetric{}
		m.timings[path] = t
	}
	m.mu.Unlock()

	t.mu.Lock()
	t.Count++
	t.Total += d
	t.Last = d
	if t.Min == 0 || d < t.Min {
		t.Min = d
	}
	if d > t.Max {
		t.Max = d
	}
	t.mu.Unlock()
}

// IncrementCounter adds 1 to a counter
func (m *Manager) IncrementCounter(topic, name string) {
	m.AddCounter(topic, name, 1)
}

// AddCounter adds delta to a counter
func (m *Manager) AddCounter(topic, name string, delta int64) {
	path := metricPath(topic, name)

	m.mu.Lock()
	c, ok := m.counters[path]
	if !ok {
		c = &CounterMetric{}
		m.counters[path] = c
	}
	m.mu.Unlock()

	c.mu.Lock()
	c.Value += delta
	c.Last = time.Now()
	c.mu.Unlock()
}

// SetGauge sets a gauge value
func (m *Manager) SetGauge(topic, name string, value int64) {
	path := metricPath(topic, name)

	m.mu.Lock()
	g, ok := m.gauges[path]
	if !ok {
		g = &GaugeMetric{Min: value, Max: value}
		m.gauges[path] = g
	}
	m.mu.Unlock()

	g.mu.Lock()
	g.Value = value
	if value < g.Min {
		g.Min = value
	}
	if value > g.Max {
		g.Max = value
	}
	g.Last = time.Now()
	g.mu.Unlock()
}

// RecordSuccess records a successful operation
func (m *Manager) RecordSuccess(topic, name string) {
	sf := m.successFail(metricPath(topic, name))
	sf.mu.Lock()
	sf.Success++
	sf.LastSuccess = time.Now()
	sf.mu.Unlock()
}

// RecordFailure records a failed operation
func (m *Manager) RecordFailure(topic, name string) {
	sf := m.successFail(metricPath(topic, name))
	sf.mu.Lock()
	sf.Failures++
	sf.LastFailure = time.Now()
	sf.mu.Unlock()
}

func (m *Manager) successFail(path string) *SuccessFailMetric {
	m.mu.Lock()
	defer m.mu.Unlock()

	sf, ok := m.successFails[path]
	if !ok {
		sf = &SuccessFailMetric{}
		m.successFails[path] = sf
	}
	return sf
}

// Snapshot returns all metrics sorted by path
func (m *Manager) Snapshot() []MetricSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]MetricSnapshot, 0,
		len(m.timings)+len(m.counters)+len(m.gauges)+len(m.successFails))

	for path, t := range m.timings {
		t.mu.RLock()
		snap := TimingSnapshot{
			Count:  t.Count,
			MinMs:  float64(t.Min) / float64(time.Millisecond),
			MaxMs:  float64(t.Max) / float64(time.Millisecond),
			LastMs: float64(t.Last) / float64(time.Millisecond),
		}
		if t.Count > 0 {
			snap.AvgMs = float64(t.Total) / float64(t.Count) / float64(time.Millisecond)
		}
		t.mu.RUnlock()
		out = append(out, MetricSnapshot{Path: path, Type: TypeTiming, Data: snap})
	}

	for path, c := range m.counters {
		c.mu.RLock()
		snap := CounterSnapshot{Value: c.Value}
		c.mu.RUnlock()
		out = append(out, MetricSnapshot{Path: path, Type: TypeCounter, Data: snap})
	}

	for path, g := range m.gauges {
		g.mu.RLock()
		snap := GaugeSnapshot{Value: g.Value, Min: g.Min, Max: g.Max}
		g.mu.RUnlock()
		out = append(out, MetricSnapshot{Path: path, Type: TypeGauge, Data: snap})
	}

	for path, sf := range m.successFails {
		sf.mu.RLock()
		snap := SuccessFailSnapshot{Success: sf.Success, Failures: sf.Failures}
		if total := sf.Success + sf.Failures; total > 0 {
			snap.SuccessRate = float64(sf.Success) / float64(total)
		}
		sf.mu.RUnlock()
		out = append(out, MetricSnapshot{Path: path, Type: TypeSuccessFail, Data: snap})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Reset clears all metrics. Test use only.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.timings = make(map[string]*TimingMetric)
	m.counters = make(map[string]*CounterMetric)
	m.gauges = make(map[string]*GaugeMetric)
	m.successFails = make(map[string]*SuccessFailMetric)
}
