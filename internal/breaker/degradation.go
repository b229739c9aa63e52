package breaker

import (
	"context"
	"sync"

	logging "github.com/roelfdiedericks/clawgate/internal/logging"
)

// Operation is a unit of work guarded by a degradation strategy.
type Operation func(ctx context.Context) (any, error)

// Strategy decides how an operation runs and what happens when it fails.
type Strategy interface {
	Execute(ctx context.Context, primary, fallback Operation, name string) (any, error)
}

// CircuitBreakerStrategy runs operations behind a breaker. When the breaker
// denies and FallbackOnOpen is set, the fallback runs instead; otherwise the
// result is nil without an error.
type CircuitBreakerStrategy struct {
	Breaker        *CircuitBreaker
	FallbackOnOpen bool
}

// Execute runs the primary operation under breaker protection. The breaker
// observes only the primary call, never the fallback.
func (s *CircuitBreakerStrategy) Execute(ctx context.Context, primary, fallback Operation, name string) (any, error) {
	if !s.Breaker.CanExecute() {
		logging.L_warn("degradation: circuit open",
			"operation", name, "breaker", s.Breaker.Name())
		if fallback != nil && s.FallbackOnOpen {
			return fallback(ctx)
		}
		return nil, nil
	}

	result, err := primary(ctx)
	if err == nil {
		s.Breaker.RecordSuccess()
		return result, nil
	}

	// Cancellation is neither a success nor a failure of the dependency.
	if ctx.Err() != nil {
		return nil, err
	}

	s.Breaker.RecordFailure()
	logging.L_error("degradation: operation failed",
		"operation", name,
		"error", err,
		"breaker_state", s.Breaker.State())

	if fallback != nil {
		return fallback(ctx)
	}
	return nil, err
}

// FeatureStatus is the degradation state of a registered feature.
type FeatureStatus struct {
	Enabled     bool   `json:"enabled"`
	Degraded    bool   `json:"degraded"`
	LastError   string `json:"last_error,omitempty"`
	Description string `json:"description,omitempty"`
}

// Degradation maps feature names to strategies and tracks their health.
type Degradation struct {
	mu       sync.Mutex
	features map[string]Strategy
	status   map[string]*FeatureStatus
}

// NewDegradation creates an empty feature manager.
func NewDegradation() *Degradation {
	return &Degradation{
		features: make(map[string]Strategy),
		status:   make(map[string]*FeatureStatus),
	}
}

// Register adds a feature with its strategy.
func (d *Degradation) Register(name string, strategy Strategy, description string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.features[name] = strategy
	d.status[name] = &FeatureStatus{Enabled: true, Description: description}
	logging.L_info("degradation: feature registered", "name", name)
}

// Execute runs a feature's operation. Disabled or unknown features go
// straight to the fallback (or nil).
func (d *Degradation) Execute(ctx context.Context, feature string, primary, fallback Operation) (any, error) {
	d.mu.Lock()
	status := d.status[feature]
	strategy := d.features[feature]
	d.mu.Unlock()

	if status == nil || !status.Enabled {
		logging.L_debug("degradation: feature disabled", "feature", feature)
		if fallback != nil {
			return fallback(ctx)
		}
		return nil, nil
	}

	if strategy == nil {
		result, err := primary(ctx)
		d.record(feature, err)
		if err != nil && fallback != nil {
			return fallback(ctx)
		}
		return result, err
	}

	result, err := strategy.Execute(ctx, primary, fallback, feature)
	d.record(feature, err)
	return result, err
}

func (d *Degradation) record(feature string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	status, ok := d.status[feature]
	if !ok {
		return
	}
	if err != nil {
		status.Degraded = true
		status.LastError = err.Error()
	} else {
		status.Degraded = false
		status.LastError = ""
	}
}

// Enable turns a feature on. Returns false for unknown features.
func (d *Degradation) Enable(name string) bool { return d.setEnabled(name, true) }

// Disable turns a feature off. Returns false for unknown features.
func (d *Degradation) Disable(name string) bool { return d.setEnabled(name, false) }

func (d *Degradation) setEnabled(name string, enabled bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	status, ok := d.status[name]
	if !ok {
		return false
	}
	status.Enabled = enabled
	logging.L_info("degradation: feature toggled", "name", name, "enabled", enabled)
	return true
}

// IsDegraded reports whether a feature is degraded or disabled. Unknown
// features count as degraded.
func (d *Degradation) IsDegraded(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	status, ok := d.status[name]
	if !ok {
		return true
	}
	return !status.Enabled || status.Degraded
}

// Status returns a snapshot of every feature's state.
func (d *Degradation) Status() map[string]FeatureStatus {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make(map[string]FeatureStatus, len(d.status))
	for name, status := range d.status {
		out[name] = *status
	}
	return out
}
