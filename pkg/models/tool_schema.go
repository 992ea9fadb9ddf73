package models

import "encoding/json"

// ToolSchema is the backend-neutral advertisement of a tool: name,
// description and parameters as a JSON schema object.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}
