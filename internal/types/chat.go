// Package types holds the wire-level chat types shared across the proxy.
package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Message is a single OpenAI-wire chat message. Content is a pointer so a
// JSON null (assistant tool-call turns) survives the round trip. Tool calls
// pass through as raw JSON so upstream-specific fields are never dropped.
type Message struct {
	Role       string            `json:"role"`
	Content    *string           `json:"content"`
	Name       string            `json:"name,omitempty"`
	ToolCalls  []json.RawMessage `json:"tool_calls,omitempty"`
	ToolCallID string            `json:"tool_call_id,omitempty"`
}

// Text returns the message content, or "" for null content.
func (m Message) Text() string {
	if m.Content == nil {
		return ""
	}
	return *m.Content
}

// ToolBearing reports whether the message carries tool calls or a tool result.
func (m Message) ToolBearing() bool {
	return len(m.ToolCalls) > 0 || m.ToolCallID != ""
}

// ChatRequest is an OpenAI-compatible chat completion request. Fields
// outside the typed set (top_p, stop, penalties, vendor extensions) are
// captured in Extra on decode and carried through to the upstream payload.
type ChatRequest struct {
	Model       string            `json:"model"`
	Messages    []Message         `json:"messages"`
	Temperature *float64          `json:"temperature,omitempty"`
	MaxTokens   *int              `json:"max_tokens,omitempty"`
	Stream      bool              `json:"stream,omitempty"`
	Tools       []json.RawMessage `json:"tools,omitempty"`
	ToolChoice  json.RawMessage   `json:"tool_choice,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// chatRequestFields are the typed keys; anything else lands in Extra.
var chatRequestFields = map[string]bool{
	"model":       true,
	"messages":    true,
	"temperature": true,
	"max_tokens":  true,
	"stream":      true,
	"tools":       true,
	"tool_choice": true,
}

// UnmarshalJSON decodes the typed fields and stashes the remainder in Extra.
func (r *ChatRequest) UnmarshalJSON(data []byte) error {
	type plain ChatRequest
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	for key := range fields {
		if chatRequestFields[key] {
			delete(fields, key)
		}
	}
	if len(fields) == 0 {
		fields = nil
	}

	*r = ChatRequest(p)
	r.Extra = fields
	return nil
}

var validRoles = map[string]bool{
	"system":    true,
	"user":      true,
	"assistant": true,
	"tool":      true,
}

// Validate checks the structural invariants of a request. Violations are
// client errors and map to HTTP 400.
func (r *ChatRequest) Validate() error {
	if strings.TrimSpace(r.Model) == "" {
		return fmt.Errorf("missing model")
	}
	if len(r.Messages) == 0 {
		return fmt.Errorf("messages must not be empty")
	}
	for i, m := range r.Messages {
		if !validRoles[m.Role] {
			return fmt.Errorf("message %d: unknown role %q", i, m.Role)
		}
		if m.Role == "system" && i != 0 {
			return fmt.Errorf("message %d: system message only allowed at index 0", i)
		}
	}
	return nil
}

// LastUserContent returns the content of the last user-role message, or ""
// if there is none.
func (r *ChatRequest) LastUserContent() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == "user" {
			return r.Messages[i].Text()
		}
	}
	return ""
}

// WithMessages returns a shallow copy of the request carrying the given
// message list. All other fields are preserved.
func (r *ChatRequest) WithMessages(messages []Message) *ChatRequest {
	out := *r
	out.Messages = messages
	return &out
}

// Payload converts the request to a generic JSON object so provider
// extra_body fields can be merged before forwarding. Extra fields captured
// on decode are restored under their original keys.
func (r *ChatRequest) Payload() (map[string]any, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("unmarshal request: %w", err)
	}
	for key, value := range r.Extra {
		var v any
		if err := json.Unmarshal(value, &v); err != nil {
			return nil, fmt.Errorf("unmarshal field %s: %w", key, err)
		}
		payload[key] = v
	}
	return payload, nil
}
