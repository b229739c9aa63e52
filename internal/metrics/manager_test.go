package metrics

import (
	"strings"
	"testing"
	"time"
)

func TestCounterAndGauge(t *testing.T) {
	m := NewManager()

	m.IncrementCounter("proxy", "requests")
	m.AddCounter("proxy", "requests", 4)
	m.SetGauge("pool", "size", 10)
	m.SetGauge("pool", "size", 3)

	var sawCounter, sawGauge bool
	for _, snap := range m.Snapshot() {
		switch snap.Path {
		case "proxy.requests":
			sawCounter = true
			if snap.Data.(CounterSnapshot).Value != 5 {
				t.Errorf("counter value %d", snap.Data.(CounterSnapshot).Value)
			}
		case "pool.size":
			sawGauge = true
			g := snap.Data.(GaugeSnapshot)
			if g.Value != 3 || g.Min != 3 || g.Max != 10 {
				t.Errorf("gauge snapshot wrong: %+v", g)
			}
		}
	}
	if !sawCounter || !sawGauge {
		t.Error("snapshot missing metrics")
	}
}

func TestTimingAggregation(t *testing.T) {
	m := NewManager()

	m.RecordDuration("upstream", "forward", 10*time.Millisecond)
	m.RecordDuration("upstream", "forward", 30*time.Millisecond)

	for _, snap := range m.Snapshot() {
		if snap.Path != "upstream.forward" {
			continue
		}
		ts := snap.Data.(TimingSnapshot)
		if ts.Count != 2 || ts.MinMs != 10 || ts.MaxMs != 30 || ts.AvgMs != 20 {
			t.Errorf("timing snapshot wrong: %+v", ts)
		}
		return
	}
	t.Fatal("timing metric missing from snapshot")
}

func TestSuccessFailRate(t *testing.T) {
	m := NewManager()

	m.RecordSuccess("proxy", "upstream")
	m.RecordSuccess("proxy", "upstream")
	m.RecordFailure("proxy", "upstream")

	for _, snap := range m.Snapshot() {
		if snap.Path != "proxy.upstream" {
			continue
		}
		sf := snap.Data.(SuccessFailSnapshot)
		if sf.Success != 2 || sf.Failures != 1 {
			t.Errorf("counts wrong: %+v", sf)
		}
		if sf.SuccessRate < 0.66 || sf.SuccessRate > 0.67 {
			t.Errorf("success rate %f", sf.SuccessRate)
		}
		return
	}
	t.Fatal("success/fail metric missing")
}

func TestPrometheusExposition(t *testing.T) {
	m := NewManager()
	m.IncrementCounter("proxy", "requests_total")
	m.SetGauge("pool", "size", 7)

	var sb strings.Builder
	m.WritePrometheus(&sb)
	out := sb.String()

	if !strings.Contains(out, "clawgate_proxy_requests_total 1") {
		t.Errorf("counter missing from exposition:\n%s", out)
	}
	if !strings.Contains(out, "clawgate_pool_size 7") {
		t.Errorf("gauge missing from exposition:\n%s", out)
	}
	if !strings.Contains(out, "# TYPE clawgate_proxy_requests_total counter") {
		t.Error("TYPE annotation missing")
	}
}
