// Package proxy implements the request-processing pipeline: sanitization,
// intent classification, sliding-window context assembly, and orchestration.
package proxy

import (
	"strings"

	. "github.com/roelfdiedericks/clawgate/internal/logging"
	"github.com/roelfdiedericks/clawgate/internal/types"
)

// MessageFlags marks content in a message that must survive compression.
type MessageFlags struct {
	HasCodeBlock   bool `json:"has_code_block"`
	HasToolCall    bool `json:"has_tool_call"`
	HasAttachment  bool `json:"has_attachment"`
	IsSystemPrompt bool `json:"is_system_prompt"`
	ShouldPreserve bool `json:"should_preserve"`
}

// Long code blocks are preserved; short inline snippets are cheap to resend.
const preserveCodeMinLen = 500

// codeMarkers indicate code content: fenced or inline backticks, four-space
// indents, tabs.
var codeMarkers = []string{"```", "`", "    ", "\t"}

// attachmentMarkers are matched case-insensitively against content.
var attachmentMarkers = []string{
	"[attached file", "[file:", "<file>",
	"content-type:", "data:application",
}

// Sanitizer scans messages and emits preservation flags. It never mutates
// the request.
type Sanitizer struct{}

// NewSanitizer creates a sanitizer.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{}
}

// Sanitize analyzes every message and returns per-index flags.
func (s *Sanitizer) Sanitize(req *types.ChatRequest) map[int]MessageFlags {
	flags := make(map[int]MessageFlags, len(req.Messages))
	preserveCount := 0

	for idx, msg := range req.Messages {
		f := analyzeMessage(msg)
		flags[idx] = f
		if f.ShouldPreserve {
			preserveCount++
			L_debug("sanitizer: message marked preserve",
				"index", idx, "role", msg.Role, "reason", preserveReason(f))
		}
	}

	L_info("sanitizer: request scanned",
		"messages", len(req.Messages), "preserve_count", preserveCount)
	return flags
}

func analyzeMessage(msg types.Message) MessageFlags {
	content := msg.Text()
	lower := strings.ToLower(content)

	hasCode := false
	for _, marker := range codeMarkers {
		if strings.Contains(content, marker) {
			hasCode = true
			break
		}
	}

	hasAttachment := false
	for _, marker := range attachmentMarkers {
		if strings.Contains(lower, marker) {
			hasAttachment = true
			break
		}
	}

	hasTool := msg.ToolBearing()

	return MessageFlags{
		HasCodeBlock:   hasCode,
		HasToolCall:    hasTool,
		HasAttachment:  hasAttachment,
		IsSystemPrompt: msg.Role == "system",
		ShouldPreserve: hasTool || (hasCode && len(content) > preserveCodeMinLen),
	}
}

func preserveReason(f MessageFlags) string {
	switch {
	case f.HasToolCall:
		return "tool_call"
	case f.HasCodeBlock:
		return "code_block"
	case f.HasAttachment:
		return "attachment"
	}
	return "unknown"
}

// PreserveMap reduces a flag map to the should_preserve booleans the
// assembler consumes.
func PreserveMap(flags map[int]MessageFlags) map[int]bool {
	preserve := make(map[int]bool, len(flags))
	for idx, f := range flags {
		preserve[idx] = f.ShouldPreserve
	}
	return preserve
}
