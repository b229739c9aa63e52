// Package traffic records per-request optimization metrics and aggregates
// them for the stats endpoints.
package traffic

import (
	"sync"
	"time"

	. "github.com/roelfdiedericks/clawgate/internal/logging"
	"github.com/roelfdiedericks/clawgate/internal/tokens"
	"github.com/roelfdiedericks/clawgate/internal/types"
)

// historyLimit bounds the in-memory record; the oldest entry is evicted when
// a new one would exceed it.
const historyLimit = 1000

// RequestMetrics is the per-request accounting record.
type RequestMetrics struct {
	RequestID           string  `json:"request_id"`
	Timestamp           float64 `json:"timestamp"`
	Model               string  `json:"model"`
	Intent              string  `json:"intent"`
	OriginalMessages    int     `json:"original_messages"`
	OptimizedMessages   int     `json:"optimized_messages"`
	OriginalTokens      int     `json:"original_tokens"`
	OptimizedTokens     int     `json:"optimized_tokens"`
	TokensSaved         int     `json:"tokens_saved"`
	OptimizationApplied bool    `json:"optimization_applied"`
	ResponseTime        float64 `json:"response_time"`
	Streaming           bool    `json:"streaming"`
}

// Analyzer accumulates request metrics behind a single mutex.
type Analyzer struct {
	mu      sync.Mutex
	history []RequestMetrics
	counter tokens.Counter
}

// NewAnalyzer creates an analyzer using the approximate token counter, so
// accounting never depends on tokenizer availability.
func NewAnalyzer() *Analyzer {
	return &Analyzer{counter: tokens.ApproximateCounter{}}
}

// NewAnalyzerWithCounter creates an analyzer accounting with the given
// counter. A nil counter falls back to the approximate one.
func NewAnalyzerWithCounter(counter tokens.Counter) *Analyzer {
	if counter == nil {
		counter = tokens.ApproximateCounter{}
	}
	return &Analyzer{counter: counter}
}

// countMessages estimates total tokens for a message list: content estimate
// plus the fixed per-message overhead.
func (a *Analyzer) countMessages(messages []types.Message) int {
	total := 0
	for _, m := range messages {
		total += a.counter.Count(m.Text()) + tokens.MessageOverhead
	}
	return total
}

// AnalyzeRequest records one request's before/after accounting and returns
// the record.
func (a *Analyzer) AnalyzeRequest(requestID, model, intent string, original, optimized []types.Message, optimizationEnabled bool, responseTime float64, streaming bool) RequestMetrics {
	origTokens := a.countMessages(original)
	optTokens := a.countMessages(optimized)

	saved := origTokens - optTokens
	if saved < 0 {
		saved = 0
	}

	rec := RequestMetrics{
		RequestID:           requestID,
		Timestamp:           float64(time.Now().UnixNano()) / 1e9,
		Model:               model,
		Intent:              intent,
		OriginalMessages:    len(original),
		OptimizedMessages:   len(optimized),
		OriginalTokens:      origTokens,
		OptimizedTokens:     optTokens,
		TokensSaved:         saved,
		OptimizationApplied: optimizationEnabled && saved > 0,
		ResponseTime:        responseTime,
		Streaming:           streaming,
	}

	a.mu.Lock()
	a.history = append(a.history, rec)
	if len(a.history) > historyLimit {
		a.history = a.history[len(a.history)-historyLimit:]
	}
	a.mu.Unlock()

	L_debug("traffic: request recorded",
		"request_id", requestID,
		"intent", intent,
		"tokens_saved", saved,
		"response_time", responseTime)
	return rec
}

// Stats is the aggregate view over the retained history.
type Stats struct {
	TotalRequests      int            `json:"total_requests"`
	TotalTokensSaved   int            `json:"total_tokens_saved"`
	AvgSavingsPercent  float64        `json:"avg_savings_percent"`
	OptimizationRate   float64        `json:"optimization_rate"`
	AvgResponseTime    float64        `json:"avg_response_time"`
	IntentDistribution map[string]int `json:"intent_distribution"`
}

// GetStats aggregates the retained history.
func (a *Analyzer) GetStats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	stats := Stats{IntentDistribution: make(map[string]int)}
	if len(a.history) == 0 {
		return stats
	}

	var savingsPctSum, responseTimeSum float64
	optimized := 0
	for _, rec := range a.history {
		stats.TotalTokensSaved += rec.TokensSaved
		if rec.OriginalTokens > 0 {
			savingsPctSum += float64(rec.TokensSaved) / float64(rec.OriginalTokens) * 100
		}
		if rec.OptimizationApplied {
			optimized++
		}
		responseTimeSum += rec.ResponseTime
		stats.IntentDistribution[rec.Intent]++
	}

	n := len(a.history)
	stats.TotalRequests = n
	stats.AvgSavingsPercent = savingsPctSum / float64(n)
	stats.OptimizationRate = float64(optimized) / float64(n)
	stats.AvgResponseTime = responseTimeSum / float64(n)
	return stats
}

// Recent returns the n newest records, newest first. n <= 0 means all.
func (a *Analyzer) Recent(n int) []RequestMetrics {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n <= 0 || n > len(a.history) {
		n = len(a.history)
	}
	out := make([]RequestMetrics, 0, n)
	for i := len(a.history) - 1; i >= len(a.history)-n; i-- {
		out = append(out, a.history[i])
	}
	return out
}

// Reset discards all retained history.
func (a *Analyzer) Reset() {
	a.mu.Lock()
	a.history = nil
	a.mu.Unlock()
	L_info("traffic: history reset")
}
