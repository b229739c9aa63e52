package proxy

import (
	"encoding/json"
	"testing"

	"github.com/roelfdiedericks/clawgate/internal/types"
)

func userReq(content string) *types.ChatRequest {
	return &types.ChatRequest{
		Model:    "gpt-4",
		Messages: []types.Message{{Role: "user", Content: strPtr(content)}},
	}
}

func TestClassifyIntents(t *testing.T) {
	c := NewClassifier("rule")

	cases := []struct {
		content string
		want    Intent
	}{
		{"help me fix this bug in my code", IntentCoding},
		{"what did we discuss earlier?", IntentRetrieval},
		{"please review the attached document", IntentDocument},
		{"nice weather today", IntentCasual},
		{"之前我们说过什么", IntentRetrieval},
		{"这个函数有问题", IntentCoding},
	}

	for _, tc := range cases {
		if got := c.Classify(userReq(tc.content)); got != tc.want {
			t.Errorf("Classify(%q) = %s, want %s", tc.content, got, tc.want)
		}
	}
}

func TestClassifyPriorityOrder(t *testing.T) {
	c := NewClassifier("rule")

	// "code" and "search" both present: coding wins.
	if got := c.Classify(userReq("search my code for the handler")); got != IntentCoding {
		t.Errorf("coding should outrank retrieval, got %s", got)
	}

	// "find" and "file" both present: retrieval wins over document.
	if got := c.Classify(userReq("find that file for me")); got != IntentRetrieval {
		t.Errorf("retrieval should outrank document, got %s", got)
	}
}

func TestClassifyToolUseWinsOverKeywords(t *testing.T) {
	c := NewClassifier("rule")

	req := userReq("fix this bug")
	req.Tools = []json.RawMessage{json.RawMessage(`{"type":"function"}`)}
	if got := c.Classify(req); got != IntentToolUse {
		t.Errorf("tools declaration should force tool_use, got %s", got)
	}

	req2 := &types.ChatRequest{
		Model: "gpt-4",
		Messages: []types.Message{
			{Role: "user", Content: strPtr("debug this")},
			{Role: "assistant", ToolCalls: []json.RawMessage{json.RawMessage(`{"id":"c1"}`)}},
		},
	}
	if got := c.Classify(req2); got != IntentToolUse {
		t.Errorf("tool-bearing history should force tool_use, got %s", got)
	}
}

func TestClassifyEmptyContent(t *testing.T) {
	c := NewClassifier("rule")

	req := &types.ChatRequest{
		Model:    "gpt-4",
		Messages: []types.Message{{Role: "assistant", Content: strPtr("hello")}},
	}
	if got := c.Classify(req); got != IntentUnknown {
		t.Errorf("no user message should classify unknown, got %s", got)
	}

	if got := c.Classify(userReq("")); got != IntentUnknown {
		t.Errorf("empty user content should classify unknown, got %s", got)
	}
}
