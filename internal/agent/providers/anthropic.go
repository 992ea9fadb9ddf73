package providers

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/haasonsaas/agentcore/internal/agent/toolconv"
	"github.com/haasonsaas/agentcore/pkg/models"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com/v1"
	anthropicVersion        = "2023-06-01"
)

// AnthropicAdapter speaks the Anthropic messages format.
type AnthropicAdapter struct {
	endpoint Endpoint
}

var _ Adapter = (*AnthropicAdapter)(nil)

// NewAnthropicAdapter creates an adapter for the Anthropic messages API.
func NewAnthropicAdapter(endpoint Endpoint) *AnthropicAdapter {
	endpoint.BaseURL = strings.TrimRight(strings.TrimSpace(endpoint.BaseURL), "/")
	if endpoint.BaseURL == "" {
		endpoint.BaseURL = defaultAnthropicBaseURL
	}
	return &AnthropicAdapter{endpoint: endpoint}
}

// Name returns "anthropic".
func (a *AnthropicAdapter) Name() string { return "anthropic" }

// BuildRequest renders a messages API request. The system prompt and any
// system messages in the history travel in the top-level system field.
func (a *AnthropicAdapter) BuildRequest(req *Request) (*WireRequest, error) {
	if strings.TrimSpace(a.endpoint.APIKey) == "" {
		return nil, missingAPIKey(a.Name())
	}

	messages, history := toAnthropicMessages(req.Messages)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(req.maxTokens()),
		Messages:  messages,
	}
	system := strings.TrimSpace(strings.Join(append([]string{req.SystemPrompt}, history...), "\n\n"))
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	if len(req.Tools) > 0 {
		tools, err := toolconv.ToAnthropicTools(req.Tools)
		if err != nil {
			return nil, NewProviderError(KindProvider, a.Name(), req.Model, err)
		}
		params.Tools = tools
	}

	body, err := json.Marshal(params)
	if err != nil {
		return nil, NewProviderError(KindProvider, a.Name(), req.Model, err)
	}
	if req.Stream {
		if body, err = withStreamFlag(body); err != nil {
			return nil, NewProviderError(KindProvider, a.Name(), req.Model, err)
		}
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("x-api-key", a.endpoint.APIKey)
	header.Set("anthropic-version", anthropicVersion)
	if req.Stream {
		header.Set("Accept", "text/event-stream")
	}
	return &WireRequest{
		Method: http.MethodPost,
		URL:    a.endpoint.BaseURL + "/messages",
		Header: header,
		Body:   body,
	}, nil
}

// withStreamFlag adds "stream": true to an encoded request object.
func withStreamFlag(body []byte) ([]byte, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, err
	}
	obj["stream"] = json.RawMessage("true")
	return json.Marshal(obj)
}

// toAnthropicMessages converts the transcript into Anthropic turns and
// returns the contents of any system messages separately.
//
// Tool results are content blocks on a user turn; consecutive tool messages
// share one turn so a batch of calls is answered together.
func toAnthropicMessages(messages []models.Message) ([]anthropic.MessageParam, []string) {
	var (
		result []anthropic.MessageParam
		system []string
	)
	for _, msg := range messages {
		switch msg.Role {
		case models.RoleSystem:
			if msg.Content != "" {
				system = append(system, msg.Content)
			}

		case models.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, models.ArgumentsObject(tc.Arguments), tc.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			result = append(result, anthropic.NewAssistantMessage(blocks...))

		case models.RoleTool:
			block := anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, msg.ToolFailed)
			if n := len(result); n > 0 && isToolResultTurn(result[n-1]) {
				result[n-1].Content = append(result[n-1].Content, block)
				continue
			}
			result = append(result, anthropic.NewUserMessage(block))

		default:
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content != "" || !msg.HasImage() {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			if msg.HasImage() {
				blocks = append(blocks, anthropic.NewImageBlockBase64(msg.ImageMIME(), base64.StdEncoding.EncodeToString(msg.ImageData)))
			}
			result = append(result, anthropic.NewUserMessage(blocks...))
		}
	}
	return result, system
}

func isToolResultTurn(m anthropic.MessageParam) bool {
	if m.Role != anthropic.MessageParamRoleUser || len(m.Content) == 0 {
		return false
	}
	for _, block := range m.Content {
		if block.OfToolResult == nil {
			return false
		}
	}
	return true
}

// ParseResponse decodes a messages API response.
func (a *AnthropicAdapter) ParseResponse(body []byte) (*Response, error) {
	if detail, code := errorBodyDetail(body); detail != "" {
		return nil, NewProviderError(KindProvider, a.Name(), "", nil).WithDetail(detail).WithCode(code)
	}
	var msg anthropic.Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, invalidResponse(a.Name(), "", "decode response: %v", err)
	}
	if len(msg.Content) == 0 && msg.StopReason == "" {
		return nil, invalidResponse(a.Name(), string(msg.Model), "response has no content")
	}

	out := &Response{FinishReason: string(msg.StopReason)}
	var text strings.Builder
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			args, err := models.ArgumentsFromJSON(block.Input)
			if err != nil {
				return nil, invalidResponse(a.Name(), string(msg.Model), "tool call %s: %v", block.Name, err)
			}
			out.ToolCalls = append(out.ToolCalls, models.ToolCall{ID: block.ID, Name: block.Name, Arguments: args})
		}
	}
	out.Content = text.String()
	if msg.Usage.InputTokens > 0 || msg.Usage.OutputTokens > 0 {
		out.Usage = &Usage{InputTokens: int(msg.Usage.InputTokens), OutputTokens: int(msg.Usage.OutputTokens)}
	}
	return out, nil
}

// NewStreamDecoder returns a decoder for a messages API event stream.
func (a *AnthropicAdapter) NewStreamDecoder() StreamDecoder {
	return &anthropicStreamDecoder{calls: map[int]*partialCall{}}
}

type anthropicStreamDecoder struct {
	content strings.Builder
	calls   map[int]*partialCall
	finish  string
	usage   Usage
	done    bool
}

func (d *anthropicStreamDecoder) Decode(line []byte) (*StreamChunk, error) {
	payload, ok := sseData(line)
	if !ok || len(payload) == 0 {
		return nil, nil
	}

	if detail, code := errorBodyDetail(payload); detail != "" {
		return nil, NewProviderError(KindProvider, "anthropic", "", nil).WithDetail(detail).WithCode(code)
	}

	var event anthropic.MessageStreamEventUnion
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, invalidResponse("anthropic", "", "decode stream event: %v", err)
	}

	switch event.Type {
	case "message_start":
		d.usage.InputTokens = int(event.Message.Usage.InputTokens)
		d.usage.OutputTokens = int(event.Message.Usage.OutputTokens)

	case "content_block_start":
		if event.ContentBlock.Type == "tool_use" {
			d.calls[int(event.Index)] = &partialCall{id: event.ContentBlock.ID, name: event.ContentBlock.Name}
		}
		if event.ContentBlock.Text != "" {
			d.content.WriteString(event.ContentBlock.Text)
			return &StreamChunk{ContentDelta: event.ContentBlock.Text}, nil
		}

	case "content_block_delta":
		switch event.Delta.Type {
		case "text_delta":
			if event.Delta.Text == "" {
				return nil, nil
			}
			d.content.WriteString(event.Delta.Text)
			return &StreamChunk{ContentDelta: event.Delta.Text}, nil
		case "input_json_delta":
			if call := d.calls[int(event.Index)]; call != nil {
				call.args.WriteString(event.Delta.PartialJSON)
			}
		}

	case "message_delta":
		if event.Usage.OutputTokens > 0 {
			d.usage.OutputTokens = int(event.Usage.OutputTokens)
		}
		if event.Delta.StopReason != "" {
			d.finish = string(event.Delta.StopReason)
			return &StreamChunk{FinishReason: d.finish}, nil
		}

	case "message_stop":
		d.done = true
		return &StreamChunk{FinishReason: d.finish, Done: true}, nil
	}
	return nil, nil
}

func (d *anthropicStreamDecoder) Result() *Response {
	resp := &Response{
		Content:      d.content.String(),
		ToolCalls:    assembleCalls(d.calls),
		FinishReason: d.finish,
	}
	if d.usage.InputTokens > 0 || d.usage.OutputTokens > 0 {
		u := d.usage
		resp.Usage = &u
	}
	return resp
}
