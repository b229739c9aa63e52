package proxy

import (
	. "github.com/roelfdiedericks/clawgate/internal/logging"
	"github.com/roelfdiedericks/clawgate/internal/types"
)

// Assembler rebuilds the message list under the window policy selected by
// intent. Tool-using requests pass through untouched; retrieval requests get
// an expanded window so backward-references keep their targets.
type Assembler struct {
	config AssemblyConfig
	window *SlidingWindow
}

// NewAssembler creates an assembler with the given config.
func NewAssembler(config AssemblyConfig) *Assembler {
	return &Assembler{
		config: config,
		window: NewSlidingWindow(config),
	}
}

// Assemble returns the optimized request. The input is never mutated.
func (a *Assembler) Assemble(req *types.ChatRequest, intent Intent, preserve map[int]bool) *types.ChatRequest {
	if intent == IntentToolUse {
		L_info("assembler: passthrough", "intent", intent)
		return req
	}

	mult := 1.0
	if intent == IntentRetrieval {
		mult = 1.5
	}

	messages := a.window.Apply(req.Messages, preserve, mult)
	optimized := req.WithMessages(messages)

	L_info("assembler: window applied",
		"original", len(req.Messages),
		"optimized", len(messages),
		"intent", intent)
	return optimized
}
