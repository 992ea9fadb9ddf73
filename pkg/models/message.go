package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		return true
	}
	return false
}

// ErrMissingToolCallID is returned when a tool message does not reference the call it answers.
var ErrMissingToolCallID = errors.New("tool message requires tool_call_id")

// Message is one entry of a conversation transcript.
//
// A tool message always carries the ToolCallID of the call it answers. An
// assistant message that carries ToolCalls may have empty Content.
type Message struct {
	ID            string     `json:"id,omitempty"`
	Role          Role       `json:"role"`
	Content       string     `json:"content"`
	ImageData     []byte     `json:"image_data,omitempty"`
	ImageMimeType string     `json:"image_mime_type,omitempty"`
	ToolCalls     []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID    string     `json:"tool_call_id,omitempty"`
	// ToolName is the name of the tool a tool message answers. Some backends
	// correlate results by name instead of by call ID.
	ToolName string `json:"tool_name,omitempty"`
	// ToolFailed marks a tool message whose content describes a tool error.
	ToolFailed bool      `json:"tool_failed,omitempty"`
	AgentID    string    `json:"agent_id,omitempty"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
}

// Validate checks the structural invariants of a message.
func (m Message) Validate() error {
	if !m.Role.Valid() {
		return fmt.Errorf("invalid role %q", m.Role)
	}
	if m.Role == RoleTool && m.ToolCallID == "" {
		return ErrMissingToolCallID
	}
	if len(m.ToolCalls) > 0 && m.Role != RoleAssistant {
		return fmt.Errorf("%s message cannot carry tool calls", m.Role)
	}
	return nil
}

// HasImage reports whether the message carries inline image bytes.
func (m Message) HasImage() bool {
	return len(m.ImageData) > 0
}

// ImageMIME returns the image mime type, defaulting to PNG.
func (m Message) ImageMIME() string {
	if m.ImageMimeType == "" {
		return "image/png"
	}
	return m.ImageMimeType
}

// ToolCall represents a model's request to execute a tool.
//
// Arguments are flat and string keyed so every backend's argument format can
// be normalized to and from strings.
type ToolCall struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Arguments map[string]string `json:"arguments,omitempty"`
}

// ArgumentsJSON renders the arguments as a JSON object. Values holding a
// JSON object or array are emitted as nested JSON; everything else is a string.
func (c ToolCall) ArgumentsJSON() json.RawMessage {
	obj := ArgumentsObject(c.Arguments)
	data, err := json.Marshal(obj)
	if err != nil {
		return json.RawMessage("{}")
	}
	return data
}

// ArgumentsObject converts flat string arguments into a JSON-ready object.
func ArgumentsObject(args map[string]string) map[string]any {
	obj := make(map[string]any, len(args))
	for k, v := range args {
		obj[k] = decodeArgumentValue(v)
	}
	return obj
}

func decodeArgumentValue(v string) any {
	if v == "" {
		return v
	}
	switch v[0] {
	case '{', '[':
		var decoded any
		if err := json.Unmarshal([]byte(v), &decoded); err == nil {
			return decoded
		}
	}
	return v
}

// ArgumentsFromJSON normalizes a JSON object into flat string arguments.
// Strings are kept verbatim; every other value is stored as its JSON text.
// An empty payload yields an empty map.
func ArgumentsFromJSON(raw []byte) (map[string]string, error) {
	args := map[string]string{}
	if len(raw) == 0 || string(raw) == "null" {
		return args, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("decode tool arguments: %w", err)
	}
	for k, v := range obj {
		args[k] = argumentString(v)
	}
	return args, nil
}

// ArgumentsFromMap normalizes an already-decoded object.
func ArgumentsFromMap(obj map[string]any) map[string]string {
	args := make(map[string]string, len(obj))
	for k, v := range obj {
		if s, ok := v.(string); ok {
			args[k] = s
			continue
		}
		data, err := json.Marshal(v)
		if err != nil {
			args[k] = fmt.Sprint(v)
			continue
		}
		args[k] = string(data)
	}
	return args
}

func argumentString(v json.RawMessage) string {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	return string(v)
}

// SortedArgumentKeys returns argument keys in lexical order.
func SortedArgumentKeys(args map[string]string) []string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
