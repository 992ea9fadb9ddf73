// Package toolconv converts backend-neutral tool schemas into each
// provider's tool declaration type.
package toolconv

import (
	"encoding/json"

	"github.com/haasonsaas/agentcore/pkg/models"
	openai "github.com/sashabaranov/go-openai"
)

// ToOpenAITools converts tool schemas to OpenAI function definitions. The
// same shape is accepted by Ollama's /api/chat endpoint.
func ToOpenAITools(tools []models.ToolSchema) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	result := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  schemaMap(tool.Parameters),
			},
		}
	}
	return result
}

// schemaMap decodes a parameter schema, falling back to an empty object schema.
func schemaMap(raw json.RawMessage) map[string]any {
	var m map[string]any
	if len(raw) == 0 || json.Unmarshal(raw, &m) != nil || m == nil {
		return map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		}
	}
	return m
}
