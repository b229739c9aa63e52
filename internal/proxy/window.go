package proxy

import (
	"github.com/roelfdiedericks/clawgate/internal/tokens"
	"github.com/roelfdiedericks/clawgate/internal/types"
)

// AssemblyConfig controls the sliding window.
type AssemblyConfig struct {
	PreserveLastN       int
	MaxHistoryTokens    int
	EnableSystemCleanup bool
	MaxMessages         int
}

// DefaultAssemblyConfig returns the standard window parameters.
func DefaultAssemblyConfig() AssemblyConfig {
	return AssemblyConfig{
		PreserveLastN:       2,
		MaxHistoryTokens:    2000,
		EnableSystemCleanup: true,
		MaxMessages:         20,
	}
}

// SlidingWindow rewrites a message history down to a window of the system
// prompt, flagged middle messages, and the recent tail.
type SlidingWindow struct {
	config  AssemblyConfig
	counter tokens.Counter
}

// NewSlidingWindow creates a window with the given config.
func NewSlidingWindow(config AssemblyConfig) *SlidingWindow {
	return &SlidingWindow{config: config, counter: tokens.ApproximateCounter{}}
}

// Apply filters messages, preserving the system message, flagged middles,
// and the last N turns (scaled by windowMult). Order is never changed.
func (w *SlidingWindow) Apply(messages []types.Message, preserve map[int]bool, windowMult float64) []types.Message {
	if len(messages) <= w.config.PreserveLastN+1 {
		return messages
	}

	maxMsgs := int(float64(w.config.MaxMessages) * windowMult)

	var system []types.Message
	if messages[0].Role == "system" {
		system = messages[:1]
	}

	recentCount := int(float64(w.config.PreserveLastN) * windowMult)
	recentStart := len(messages) - recentCount
	if recentStart < 1 {
		recentStart = 1
	}

	var middle []types.Message
	for idx := 1; idx < recentStart; idx++ {
		if preserve[idx] {
			middle = append(middle, messages[idx])
		}
	}

	tail := messages[recentStart:]

	result := make([]types.Message, 0, len(system)+len(middle)+len(tail))
	result = append(result, system...)
	result = append(result, middle...)
	result = append(result, tail...)

	if len(result) > maxMsgs {
		result = w.truncate(result, maxMsgs)
	}

	return w.enforceTokenBudget(result, len(system), len(tail))
}

// truncate keeps the system message (if any) plus the most recent entries.
func (w *SlidingWindow) truncate(messages []types.Message, maxMsgs int) []types.Message {
	var system []types.Message
	if messages[0].Role == "system" {
		system = messages[:1]
	}

	keep := maxMsgs - len(system)
	if keep < 0 {
		keep = 0
	}
	recent := messages[len(messages)-keep:]

	out := make([]types.Message, 0, len(system)+len(recent))
	out = append(out, system...)
	out = append(out, recent...)
	return out
}

// enforceTokenBudget drops the oldest flagged middle messages until the
// estimated history fits MaxHistoryTokens. The system message and the recent
// tail are never dropped.
func (w *SlidingWindow) enforceTokenBudget(messages []types.Message, systemCount, tailCount int) []types.Message {
	budget := w.config.MaxHistoryTokens
	if budget <= 0 {
		return messages
	}

	for w.estimateTokens(messages) > budget {
		middleStart := systemCount
		middleEnd := len(messages) - tailCount
		if middleStart >= middleEnd {
			break
		}
		messages = append(messages[:middleStart:middleStart], messages[middleStart+1:]...)
	}
	return messages
}

func (w *SlidingWindow) estimateTokens(messages []types.Message) int {
	total := 0
	for _, m := range messages {
		total += w.counter.Count(m.Text()) + tokens.MessageOverhead
	}
	return total
}
