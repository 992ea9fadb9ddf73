package toolconv

import (
	"encoding/json"
	"testing"

	"github.com/haasonsaas/agentcore/pkg/models"
	"google.golang.org/genai"
)

var echoSchema = models.ToolSchema{
	Name:        "echo",
	Description: "Echo text back",
	Parameters:  json.RawMessage(`{"type":"object","properties":{"text":{"type":"string","description":"what to say"}},"required":["text"]}`),
}

func TestToOpenAITools(t *testing.T) {
	tools := ToOpenAITools([]models.ToolSchema{echoSchema, {Name: "bare"}})
	if len(tools) != 2 {
		t.Fatalf("len = %d, want 2", len(tools))
	}
	if tools[0].Function.Name != "echo" || tools[0].Function.Description != "Echo text back" {
		t.Errorf("unexpected function %+v", tools[0].Function)
	}
	params, ok := tools[1].Function.Parameters.(map[string]any)
	if !ok || params["type"] != "object" {
		t.Errorf("missing schema should default to empty object, got %#v", tools[1].Function.Parameters)
	}
	if ToOpenAITools(nil) != nil {
		t.Error("no tools should yield nil")
	}
}

func TestToAnthropicTools(t *testing.T) {
	tools, err := ToAnthropicTools([]models.ToolSchema{echoSchema})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tools) != 1 || tools[0].OfTool == nil {
		t.Fatalf("unexpected tools %+v", tools)
	}
	data, err := json.Marshal(tools[0])
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["name"] != "echo" || decoded["description"] != "Echo text back" {
		t.Errorf("unexpected wire tool %s", data)
	}
	schema, _ := decoded["input_schema"].(map[string]any)
	if schema["type"] != "object" {
		t.Errorf("input_schema.type = %v", schema["type"])
	}
}

func TestToGeminiTools(t *testing.T) {
	tools := ToGeminiTools([]models.ToolSchema{echoSchema})
	if len(tools) != 1 || len(tools[0].FunctionDeclarations) != 1 {
		t.Fatalf("unexpected tools %+v", tools)
	}
	decl := tools[0].FunctionDeclarations[0]
	if decl.Parameters.Type != genai.TypeObject {
		t.Errorf("type = %q, want OBJECT", decl.Parameters.Type)
	}
	if decl.Parameters.Properties["text"].Type != genai.TypeString {
		t.Errorf("text type = %q", decl.Parameters.Properties["text"].Type)
	}
	if len(decl.Parameters.Required) != 1 || decl.Parameters.Required[0] != "text" {
		t.Errorf("required = %v", decl.Parameters.Required)
	}
}
