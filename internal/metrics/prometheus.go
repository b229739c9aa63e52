package metrics

import (
	"fmt"
	"io"
	"strings"
)

// WritePrometheus renders the manager's metrics in Prometheus text exposition
// format. Paths like "proxy.requests_total" become "clawgate_proxy_requests_total".
func (m *Manager) WritePrometheus(w io.Writer) {
	for _, snap := range m.Snapshot() {
		name := promName(snap.Path)
		switch data := snap.Data.(type) {
		case CounterSnapshot:
			fmt.Fprintf(w, "# TYPE %s counter\n", name)
			fmt.Fprintf(w, "%s %d\n", name, data.Value)
		case GaugeSnapshot:
			fmt.Fprintf(w, "# TYPE %s gauge\n", name)
			fmt.Fprintf(w, "%s %d\n", name, data.Value)
		case TimingSnapshot:
			fmt.Fprintf(w, "# TYPE %s_count counter\n", name)
			fmt.Fprintf(w, "%s_count %d\n", name, data.Count)
			fmt.Fprintf(w, "# TYPE %s_avg_ms gauge\n", name)
			fmt.Fprintf(w, "%s_avg_ms %g\n", name, data.AvgMs)
			fmt.Fprintf(w, "# TYPE %s_max_ms gauge\n", name)
			fmt.Fprintf(w, "%s_max_ms %g\n", name, data.MaxMs)
		case SuccessFailSnapshot:
			fmt.Fprintf(w, "# TYPE %s_success counter\n", name)
			fmt.Fprintf(w, "%s_success %d\n", name, data.Success)
			fmt.Fprintf(w, "# TYPE %s_failures counter\n", name)
			fmt.Fprintf(w, "%s_failures %d\n", name, data.Failures)
		}
	}
}

func promName(path string) string {
	s := strings.NewReplacer(".", "_", "-", "_", " ", "_").Replace(path)
	return "clawgate_" + s
}
