package providers

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/haasonsaas/agentcore/internal/agent/toolconv"
	"github.com/haasonsaas/agentcore/pkg/models"
	openai "github.com/sashabaranov/go-openai"
)

const defaultOllamaBaseURL = "http://localhost:11434"

// OllamaAdapter speaks the Ollama /api/chat format. Streaming responses are
// newline-delimited JSON rather than SSE. No credential is required.
type OllamaAdapter struct {
	endpoint Endpoint
}

var _ Adapter = (*OllamaAdapter)(nil)

// NewOllamaAdapter creates an adapter for a local or remote Ollama server.
func NewOllamaAdapter(endpoint Endpoint) *OllamaAdapter {
	endpoint.BaseURL = strings.TrimRight(strings.TrimSpace(endpoint.BaseURL), "/")
	endpoint.BaseURL = strings.TrimSuffix(endpoint.BaseURL, "/api")
	if endpoint.BaseURL == "" {
		endpoint.BaseURL = defaultOllamaBaseURL
	}
	return &OllamaAdapter{endpoint: endpoint}
}

// Name returns "ollama".
func (a *OllamaAdapter) Name() string { return "ollama" }

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Tools    []openai.Tool       `json:"tools,omitempty"`
	Stream   bool                `json:"stream"`
	Options  map[string]any      `json:"options,omitempty"`
}

type ollamaChatMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	Images    []string         `json:"images,omitempty"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
	ToolName  string           `json:"tool_name,omitempty"`
}

type ollamaChatResponse struct {
	Model           string             `json:"model"`
	Message         *ollamaChatMessage `json:"message"`
	Done            bool               `json:"done"`
	DoneReason      string             `json:"done_reason"`
	Error           string             `json:"error"`
	EvalCount       int                `json:"eval_count"`
	PromptEvalCount int                `json:"prompt_eval_count"`
}

type ollamaToolCall struct {
	ID       string             `json:"id,omitempty"`
	Type     string             `json:"type,omitempty"`
	Function ollamaToolFunction `json:"function"`
}

// ollamaToolFunction arguments arrive either as an object or as a string
// holding JSON, depending on the model template.
type ollamaToolFunction struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// BuildRequest renders an /api/chat request.
func (a *OllamaAdapter) BuildRequest(req *Request) (*WireRequest, error) {
	payload := ollamaChatRequest{
		Model:    req.Model,
		Messages: toOllamaMessages(req.Messages, req.SystemPrompt),
		Tools:    toolconv.ToOpenAITools(req.Tools),
		Stream:   req.Stream,
		Options:  map[string]any{"num_predict": req.maxTokens()},
	}
	if req.Temperature != nil {
		payload.Options["temperature"] = *req.Temperature
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, NewProviderError(KindProvider, a.Name(), req.Model, err)
	}
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	if a.endpoint.APIKey != "" {
		header.Set("Authorization", "Bearer "+a.endpoint.APIKey)
	}
	return &WireRequest{
		Method: http.MethodPost,
		URL:    a.endpoint.BaseURL + "/api/chat",
		Header: header,
		Body:   body,
	}, nil
}

func toOllamaMessages(msgs []models.Message, system string) []ollamaChatMessage {
	messages := make([]ollamaChatMessage, 0, len(msgs)+1)
	toolNames := map[string]string{}
	for _, msg := range msgs {
		for _, tc := range msg.ToolCalls {
			if tc.ID != "" && tc.Name != "" {
				toolNames[tc.ID] = tc.Name
			}
		}
	}
	if system = strings.TrimSpace(system); system != "" {
		messages = append(messages, ollamaChatMessage{Role: "system", Content: system})
	}
	for _, msg := range msgs {
		role := string(msg.Role)
		if role == "" {
			role = string(models.RoleUser)
		}
		switch msg.Role {
		case models.RoleAssistant:
			out := ollamaChatMessage{Role: role, Content: msg.Content}
			for _, tc := range msg.ToolCalls {
				out.ToolCalls = append(out.ToolCalls, ollamaToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: ollamaToolFunction{
						Name:      tc.Name,
						Arguments: tc.ArgumentsJSON(),
					},
				})
			}
			messages = append(messages, out)
		case models.RoleTool:
			name := msg.ToolName
			if name == "" {
				name = toolNames[msg.ToolCallID]
			}
			messages = append(messages, ollamaChatMessage{Role: role, Content: msg.Content, ToolName: name})
		default:
			out := ollamaChatMessage{Role: role, Content: msg.Content}
			if msg.HasImage() {
				out.Images = []string{base64.StdEncoding.EncodeToString(msg.ImageData)}
			}
			messages = append(messages, out)
		}
	}
	return messages
}

// ParseResponse decodes a non-streaming /api/chat response.
func (a *OllamaAdapter) ParseResponse(body []byte) (*Response, error) {
	var resp ollamaChatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, invalidResponse(a.Name(), "", "decode response: %v", err)
	}
	if resp.Error != "" {
		return nil, NewProviderError(KindProvider, a.Name(), resp.Model, nil).WithDetail(resp.Error)
	}
	if resp.Message == nil {
		return nil, invalidResponse(a.Name(), resp.Model, "response has no message")
	}
	out := &Response{Content: resp.Message.Content, FinishReason: resp.DoneReason}
	calls, err := ollamaToolCalls(resp.Message.ToolCalls, map[string]struct{}{})
	if err != nil {
		return nil, invalidResponse(a.Name(), resp.Model, "%v", err)
	}
	out.ToolCalls = calls
	if resp.PromptEvalCount > 0 || resp.EvalCount > 0 {
		out.Usage = &Usage{InputTokens: resp.PromptEvalCount, OutputTokens: resp.EvalCount}
	}
	return out, nil
}

// ollamaToolCalls normalizes calls, skipping any already seen. Ollama does
// not always assign IDs, so a name and argument key stands in.
func ollamaToolCalls(calls []ollamaToolCall, seen map[string]struct{}) ([]models.ToolCall, error) {
	var out []models.ToolCall
	for _, tc := range calls {
		key := toolCallKey(tc)
		if key != "" {
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
		}
		args, err := ollamaArguments(tc.Function.Arguments)
		if err != nil {
			return nil, err
		}
		id := strings.TrimSpace(tc.ID)
		if id == "" {
			id = "call_" + uuid.NewString()
		}
		out = append(out, models.ToolCall{ID: id, Name: strings.TrimSpace(tc.Function.Name), Arguments: args})
	}
	return out, nil
}

func ollamaArguments(raw json.RawMessage) (map[string]string, error) {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		raw = json.RawMessage(asString)
	}
	return models.ArgumentsFromJSON(raw)
}

func toolCallKey(tc ollamaToolCall) string {
	if id := strings.TrimSpace(tc.ID); id != "" {
		return id
	}
	name := strings.TrimSpace(tc.Function.Name)
	args := strings.TrimSpace(string(tc.Function.Arguments))
	if name == "" && args == "" {
		return ""
	}
	return name + ":" + args
}

// NewStreamDecoder returns a decoder for an NDJSON /api/chat stream.
func (a *OllamaAdapter) NewStreamDecoder() StreamDecoder {
	return &ollamaStreamDecoder{seen: map[string]struct{}{}}
}

type ollamaStreamDecoder struct {
	resp Response
	seen map[string]struct{}
}

func (d *ollamaStreamDecoder) Decode(line []byte) (*StreamChunk, error) {
	line = []byte(strings.TrimSpace(string(line)))
	if len(line) == 0 {
		return nil, nil
	}
	var event ollamaChatResponse
	if err := json.Unmarshal(line, &event); err != nil {
		return nil, invalidResponse("ollama", "", "decode stream line: %v", err)
	}
	if event.Error != "" {
		return nil, NewProviderError(KindProvider, "ollama", event.Model, nil).WithDetail(event.Error)
	}

	chunk := &StreamChunk{}
	if event.Message != nil {
		chunk.ContentDelta = event.Message.Content
		d.resp.Content += event.Message.Content
		calls, err := ollamaToolCalls(event.Message.ToolCalls, d.seen)
		if err != nil {
			return nil, invalidResponse("ollama", event.Model, "%v", err)
		}
		d.resp.ToolCalls = append(d.resp.ToolCalls, calls...)
	}
	if event.Done {
		d.resp.FinishReason = event.DoneReason
		if event.PromptEvalCount > 0 || event.EvalCount > 0 {
			d.resp.Usage = &Usage{InputTokens: event.PromptEvalCount, OutputTokens: event.EvalCount}
		}
		chunk.FinishReason = event.DoneReason
		chunk.Done = true
	}
	if chunk.ContentDelta == "" && !chunk.Done {
		return nil, nil
	}
	return chunk, nil
}

func (d *ollamaStreamDecoder) Result() *Response {
	out := d.resp
	return &out
}
