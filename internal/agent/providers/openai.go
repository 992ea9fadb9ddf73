package providers

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"math"
	"net/http"
	"sort"
	"strings"

	"github.com/haasonsaas/agentcore/internal/agent/toolconv"
	"github.com/haasonsaas/agentcore/pkg/models"
	openai "github.com/sashabaranov/go-openai"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// reasoningModelPrefixes identifies model families that take
// max_completion_tokens and reject temperature.
var reasoningModelPrefixes = []string{"o1", "o3", "o4", "gpt-5"}

// OpenAIAdapter speaks the OpenAI chat completions format. It also serves
// OpenAI-compatible gateways when constructed with a different base URL.
type OpenAIAdapter struct {
	name     string
	endpoint Endpoint
}

var _ Adapter = (*OpenAIAdapter)(nil)

// NewOpenAIAdapter creates an adapter for api.openai.com or a compatible base URL.
func NewOpenAIAdapter(endpoint Endpoint) *OpenAIAdapter {
	return newOpenAICompatible("openai", endpoint, defaultOpenAIBaseURL)
}

func newOpenAICompatible(name string, endpoint Endpoint, defaultBase string) *OpenAIAdapter {
	endpoint.BaseURL = strings.TrimRight(strings.TrimSpace(endpoint.BaseURL), "/")
	if endpoint.BaseURL == "" {
		endpoint.BaseURL = defaultBase
	}
	return &OpenAIAdapter{name: name, endpoint: endpoint}
}

// Name returns the provider name.
func (a *OpenAIAdapter) Name() string { return a.name }

// UsesCompletionTokens reports whether model belongs to a reasoning family
// that takes max_completion_tokens and no temperature.
func UsesCompletionTokens(model string) bool {
	m := strings.ToLower(strings.TrimSpace(model))
	if i := strings.LastIndex(m, "/"); i >= 0 {
		m = m[i+1:]
	}
	for _, prefix := range reasoningModelPrefixes {
		if strings.HasPrefix(m, prefix) {
			return true
		}
	}
	return false
}

// BuildRequest renders a chat completions request.
func (a *OpenAIAdapter) BuildRequest(req *Request) (*WireRequest, error) {
	if strings.TrimSpace(a.endpoint.APIKey) == "" {
		return nil, missingAPIKey(a.name)
	}

	payload := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: toOpenAIMessages(req.Messages, req.SystemPrompt),
		Tools:    toolconv.ToOpenAITools(req.Tools),
		Stream:   req.Stream,
	}
	if UsesCompletionTokens(req.Model) {
		payload.MaxCompletionTokens = req.maxTokens()
	} else {
		payload.MaxTokens = req.maxTokens()
		if req.Temperature != nil {
			payload.Temperature = float32(*req.Temperature)
			// go-openai omits a zero temperature; send the smallest
			// positive value so the server default does not apply.
			if payload.Temperature == 0 {
				payload.Temperature = math.SmallestNonzeroFloat32
			}
		}
	}
	if req.Stream {
		payload.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, NewProviderError(KindProvider, a.name, req.Model, err)
	}
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("Authorization", "Bearer "+a.endpoint.APIKey)
	if req.Stream {
		header.Set("Accept", "text/event-stream")
	}
	return &WireRequest{
		Method: http.MethodPost,
		URL:    a.endpoint.BaseURL + "/chat/completions",
		Header: header,
		Body:   body,
	}, nil
}

// toOpenAIMessages converts the transcript to OpenAI messages.
//
// OpenAI specifics:
//   - the system prompt is the first message of the array
//   - a user message with an image becomes a content array holding a text
//     part and an image_url part with a base64 data URI
//   - assistant tool calls carry their arguments as a JSON string
//   - each tool result is its own role=tool message linked by tool_call_id
func toOpenAIMessages(messages []models.Message, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range messages {
		switch msg.Role {
		case models.RoleAssistant:
			oaiMsg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content,
			}
			if len(msg.ToolCalls) > 0 {
				oaiMsg.ToolCalls = make([]openai.ToolCall, len(msg.ToolCalls))
				for i, tc := range msg.ToolCalls {
					oaiMsg.ToolCalls[i] = openai.ToolCall{
						ID:   tc.ID,
						Type: openai.ToolTypeFunction,
						Function: openai.FunctionCall{
							Name:      tc.Name,
							Arguments: string(tc.ArgumentsJSON()),
						},
					}
				}
			}
			result = append(result, oaiMsg)

		case models.RoleTool:
			result = append(result, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    msg.Content,
				ToolCallID: msg.ToolCallID,
			})

		default:
			role := string(msg.Role)
			if role == "" {
				role = openai.ChatMessageRoleUser
			}
			oaiMsg := openai.ChatCompletionMessage{Role: role}
			if msg.HasImage() {
				oaiMsg.MultiContent = []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: msg.Content},
					{
						Type:     openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{URL: dataURI(msg.ImageMIME(), msg.ImageData)},
					},
				}
			} else {
				oaiMsg.Content = msg.Content
			}
			result = append(result, oaiMsg)
		}
	}
	return result
}

func dataURI(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// ParseResponse decodes a chat completions response.
func (a *OpenAIAdapter) ParseResponse(body []byte) (*Response, error) {
	var resp openai.ChatCompletionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, invalidResponse(a.name, "", "decode response: %v", err)
	}
	if len(resp.Choices) == 0 {
		if detail, code := errorBodyDetail(body); detail != "" {
			return nil, NewProviderError(KindProvider, a.name, resp.Model, nil).WithDetail(detail).WithCode(code)
		}
		return nil, invalidResponse(a.name, resp.Model, "response has no choices")
	}

	choice := resp.Choices[0]
	out := &Response{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
	}
	for _, tc := range choice.Message.ToolCalls {
		args, err := models.ArgumentsFromJSON([]byte(tc.Function.Arguments))
		if err != nil {
			return nil, invalidResponse(a.name, resp.Model, "tool call %s: %v", tc.Function.Name, err)
		}
		out.ToolCalls = append(out.ToolCalls, models.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args})
	}
	if resp.Usage.PromptTokens > 0 || resp.Usage.CompletionTokens > 0 {
		out.Usage = &Usage{InputTokens: resp.Usage.PromptTokens, OutputTokens: resp.Usage.CompletionTokens}
	}
	return out, nil
}

// NewStreamDecoder returns a decoder for an SSE chat completions stream.
func (a *OpenAIAdapter) NewStreamDecoder() StreamDecoder {
	return &openAIStreamDecoder{provider: a.name, calls: map[int]*partialCall{}}
}

// partialCall accumulates a tool call whose arguments arrive in fragments.
type partialCall struct {
	id   string
	name string
	args strings.Builder
}

type openAIStreamDecoder struct {
	provider string
	content  strings.Builder
	calls    map[int]*partialCall
	finish   string
	usage    *Usage
	done     bool
}

func (d *openAIStreamDecoder) Decode(line []byte) (*StreamChunk, error) {
	payload, ok := sseData(line)
	if !ok || len(payload) == 0 {
		return nil, nil
	}
	if bytes.Equal(payload, []byte("[DONE]")) {
		d.done = true
		return &StreamChunk{FinishReason: d.finish, Done: true}, nil
	}

	var event openai.ChatCompletionStreamResponse
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, invalidResponse(d.provider, "", "decode stream event: %v", err)
	}
	if event.Usage != nil {
		d.usage = &Usage{InputTokens: event.Usage.PromptTokens, OutputTokens: event.Usage.CompletionTokens}
	}
	if len(event.Choices) == 0 {
		if detail, code := errorBodyDetail(payload); detail != "" {
			return nil, NewProviderError(KindProvider, d.provider, event.Model, nil).WithDetail(detail).WithCode(code)
		}
		return nil, nil
	}

	choice := event.Choices[0]
	for _, tc := range choice.Delta.ToolCalls {
		index := 0
		if tc.Index != nil {
			index = *tc.Index
		}
		call := d.calls[index]
		if call == nil {
			call = &partialCall{}
			d.calls[index] = call
		}
		if tc.ID != "" {
			call.id = tc.ID
		}
		if tc.Function.Name != "" {
			call.name = tc.Function.Name
		}
		call.args.WriteString(tc.Function.Arguments)
	}

	chunk := &StreamChunk{ContentDelta: choice.Delta.Content}
	d.content.WriteString(choice.Delta.Content)
	if choice.FinishReason != "" {
		d.finish = string(choice.FinishReason)
		chunk.FinishReason = d.finish
	}
	if chunk.ContentDelta == "" && chunk.FinishReason == "" {
		return nil, nil
	}
	return chunk, nil
}

func (d *openAIStreamDecoder) Result() *Response {
	return &Response{
		Content:      d.content.String(),
		ToolCalls:    assembleCalls(d.calls),
		FinishReason: d.finish,
		Usage:        d.usage,
	}
}

// assembleCalls orders accumulated calls by stream index. Fragments that
// never formed valid JSON keep their raw text under the "input" key.
func assembleCalls(calls map[int]*partialCall) []models.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	indexes := make([]int, 0, len(calls))
	for i := range calls {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	out := make([]models.ToolCall, 0, len(calls))
	for _, i := range indexes {
		c := calls[i]
		if c.name == "" {
			continue
		}
		raw := c.args.String()
		args, err := models.ArgumentsFromJSON([]byte(raw))
		if err != nil {
			args = map[string]string{"input": raw}
		}
		out = append(out, models.ToolCall{ID: c.id, Name: c.name, Arguments: args})
	}
	return out
}
