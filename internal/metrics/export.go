package metrics

import (
	"time"
)

// Global functions for dot-import usage

// MetricInc increments a counter by 1
func MetricInc(topic, name string) {
	GetInstance().IncrementCounter(topic, name)
}

// MetricAdd adds a value to a counter
func MetricAdd(topic, name string, delta int64) {
	GetInstance().AddCounter(topic, name, delta)
}

// MetricSet sets a gauge value
func MetricSet(topic, name string, value int64) {
	GetInstance().SetGauge(topic, name, value)
}

// MetricDuration records a duration directly
func MetricDuration(topic, name string, duration time.Duration) {
	GetInstance().RecordDuration(topic, name, duration)
}

// MetricSuccess records a successful operation
func MetricSuccess(topic, operation string) {
	GetInstance().RecordSuccess(topic, operation)
}

// MetricFail records a failed operation
func MetricFail(topic, operation string) {
	GetInstance().RecordFailure(topic, operation)
}
