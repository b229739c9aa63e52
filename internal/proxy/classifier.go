package proxy

import (
	"strings"

	. "github.com/roelfdiedericks/clawgate/internal/logging"
	"github.com/roelfdiedericks/clawgate/internal/types"
)

// Intent is the semantic category of a chat request, used to select an
// optimization policy.
type Intent string

const (
	IntentCasual    Intent = "casual"
	IntentCoding    Intent = "coding"
	IntentRetrieval Intent = "retrieval"
	IntentToolUse   Intent = "tool_use"
	IntentDocument  Intent = "document"
	IntentUnknown   Intent = "unknown"
)

// Classifier determines the intent of a request.
type Classifier interface {
	Classify(req *types.ChatRequest) Intent
}

// Keyword sets are matched case-insensitively against the last user message.
// Order matters: coding beats retrieval beats document.
var (
	codingKeywords = []string{
		"code", "编程", "函数", "class", "def", "import",
		"bug", "error", "exception", "debug", "fix",
		"python", "javascript", "typescript", "rust", "go",
		"implement", "write a script", "refactor",
	}

	retrievalKeywords = []string{
		"remember", "recall", "what did", "之前", "上次",
		"find", "search", "look up", "查询", "查找",
		"history", "past", "previous", "earlier",
	}

	documentKeywords = []string{
		"file", "document", "pdf", "markdown", "readme",
		"analyze this", "review the", "文档", "文件",
	}
)

// RuleBasedClassifier classifies with keyword matching. Lightweight and
// deterministic; no model call on the hot path.
type RuleBasedClassifier struct{}

// NewClassifier creates the classifier for the given method. Only "rule" is
// implemented; anything else falls back to it.
func NewClassifier(method string) Classifier {
	if method != "" && method != "rule" {
		L_warn("classifier: unknown method, using rule-based", "method", method)
	}
	return &RuleBasedClassifier{}
}

// Classify determines intent. Tool usage wins over everything; keyword sets
// are then checked in priority order against the last user message.
func (c *RuleBasedClassifier) Classify(req *types.ChatRequest) Intent {
	if len(req.Tools) > 0 || hasToolBearing(req) {
		L_debug("classifier: intent", "intent", IntentToolUse)
		return IntentToolUse
	}

	content := strings.ToLower(req.LastUserContent())
	if content == "" {
		return IntentUnknown
	}

	for _, set := range []struct {
		intent   Intent
		keywords []string
	}{
		{IntentCoding, codingKeywords},
		{IntentRetrieval, retrievalKeywords},
		{IntentDocument, documentKeywords},
	} {
		for _, kw := range set.keywords {
			if strings.Contains(content, kw) {
				L_debug("classifier: intent", "intent", set.intent, "keyword", kw)
				return set.intent
			}
		}
	}

	return IntentCasual
}

func hasToolBearing(req *types.ChatRequest) bool {
	for _, msg := range req.Messages {
		if msg.ToolBearing() {
			return true
		}
	}
	return false
}
