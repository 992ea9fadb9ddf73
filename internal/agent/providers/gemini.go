package providers

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/haasonsaas/agentcore/internal/agent/toolconv"
	"github.com/haasonsaas/agentcore/pkg/models"
	"google.golang.org/genai"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiAdapter speaks the Gemini generateContent format.
type GeminiAdapter struct {
	endpoint Endpoint
}

var _ Adapter = (*GeminiAdapter)(nil)

// NewGeminiAdapter creates an adapter for the Gemini API.
func NewGeminiAdapter(endpoint Endpoint) *GeminiAdapter {
	endpoint.BaseURL = strings.TrimRight(strings.TrimSpace(endpoint.BaseURL), "/")
	if endpoint.BaseURL == "" {
		endpoint.BaseURL = defaultGeminiBaseURL
	}
	return &GeminiAdapter{endpoint: endpoint}
}

// Name returns "gemini".
func (a *GeminiAdapter) Name() string { return "gemini" }

type geminiRequest struct {
	Contents          []*genai.Content        `json:"contents"`
	SystemInstruction *genai.Content          `json:"systemInstruction,omitempty"`
	Tools             []*genai.Tool           `json:"tools,omitempty"`
	GenerationConfig  *genai.GenerationConfig `json:"generationConfig,omitempty"`
}

// BuildRequest renders a generateContent or streamGenerateContent request.
func (a *GeminiAdapter) BuildRequest(req *Request) (*WireRequest, error) {
	if strings.TrimSpace(a.endpoint.APIKey) == "" {
		return nil, missingAPIKey(a.Name())
	}

	contents, history := toGeminiContents(req.Messages)
	payload := geminiRequest{
		Contents:         contents,
		Tools:            toolconv.ToGeminiTools(req.Tools),
		GenerationConfig: &genai.GenerationConfig{MaxOutputTokens: int32(req.maxTokens())},
	}
	if req.Temperature != nil {
		t := float32(*req.Temperature)
		payload.GenerationConfig.Temperature = &t
	}
	system := strings.TrimSpace(strings.Join(append([]string{req.SystemPrompt}, history...), "\n\n"))
	if system != "" {
		payload.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, NewProviderError(KindProvider, a.Name(), req.Model, err)
	}

	model := strings.TrimPrefix(req.Model, "models/")
	target := a.endpoint.BaseURL + "/models/" + url.PathEscape(model)
	if req.Stream {
		target += ":streamGenerateContent?alt=sse"
	} else {
		target += ":generateContent"
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("x-goog-api-key", a.endpoint.APIKey)
	return &WireRequest{Method: http.MethodPost, URL: target, Header: header, Body: body}, nil
}

// toGeminiContents converts the transcript to Gemini contents. Gemini has no
// tool call IDs; results are matched to calls by function name.
func toGeminiContents(messages []models.Message) ([]*genai.Content, []string) {
	var (
		result []*genai.Content
		system []string
	)
	for _, msg := range messages {
		switch msg.Role {
		case models.RoleSystem:
			if msg.Content != "" {
				system = append(system, msg.Content)
			}

		case models.RoleAssistant:
			content := &genai.Content{Role: genai.RoleModel}
			if msg.Content != "" {
				content.Parts = append(content.Parts, &genai.Part{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				content.Parts = append(content.Parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{Name: tc.Name, Args: models.ArgumentsObject(tc.Arguments)},
				})
			}
			if len(content.Parts) == 0 {
				continue
			}
			result = append(result, content)

		case models.RoleTool:
			name := msg.ToolName
			if name == "" {
				name = msg.ToolCallID
			}
			key := "output"
			if msg.ToolFailed {
				key = "error"
			}
			part := &genai.Part{FunctionResponse: &genai.FunctionResponse{
				Name:     name,
				Response: map[string]any{key: msg.Content},
			}}
			if n := len(result); n > 0 && isFunctionResponseTurn(result[n-1]) {
				result[n-1].Parts = append(result[n-1].Parts, part)
				continue
			}
			result = append(result, &genai.Content{Role: genai.RoleUser, Parts: []*genai.Part{part}})

		default:
			content := &genai.Content{Role: genai.RoleUser}
			if msg.Content != "" || !msg.HasImage() {
				content.Parts = append(content.Parts, &genai.Part{Text: msg.Content})
			}
			if msg.HasImage() {
				content.Parts = append(content.Parts, &genai.Part{
					InlineData: &genai.Blob{MIMEType: msg.ImageMIME(), Data: msg.ImageData},
				})
			}
			result = append(result, content)
		}
	}
	return result, system
}

func isFunctionResponseTurn(c *genai.Content) bool {
	if c.Role != genai.RoleUser || len(c.Parts) == 0 {
		return false
	}
	for _, p := range c.Parts {
		if p.FunctionResponse == nil {
			return false
		}
	}
	return true
}

// ParseResponse decodes a generateContent response.
func (a *GeminiAdapter) ParseResponse(body []byte) (*Response, error) {
	if detail, code := errorBodyDetail(body); detail != "" {
		return nil, NewProviderError(KindProvider, a.Name(), "", nil).WithDetail(detail).WithCode(code)
	}
	var resp genai.GenerateContentResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, invalidResponse(a.Name(), "", "decode response: %v", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return nil, invalidResponse(a.Name(), resp.ModelVersion, "response has no candidates")
	}

	out := &Response{}
	accumulateGemini(out, &resp)
	return out, nil
}

// accumulateGemini folds one response (or stream chunk) into out.
func accumulateGemini(out *Response, resp *genai.GenerateContentResponse) string {
	var delta strings.Builder
	if len(resp.Candidates) > 0 && resp.Candidates[0] != nil {
		cand := resp.Candidates[0]
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				if part == nil {
					continue
				}
				if part.Text != "" && !part.Thought {
					delta.WriteString(part.Text)
				}
				if part.FunctionCall != nil {
					out.ToolCalls = append(out.ToolCalls, models.ToolCall{
						ID:        geminiCallID(part.FunctionCall),
						Name:      part.FunctionCall.Name,
						Arguments: models.ArgumentsFromMap(part.FunctionCall.Args),
					})
				}
			}
		}
		if cand.FinishReason != "" {
			out.FinishReason = string(cand.FinishReason)
		}
	}
	if u := resp.UsageMetadata; u != nil && (u.PromptTokenCount > 0 || u.CandidatesTokenCount > 0) {
		out.Usage = &Usage{InputTokens: int(u.PromptTokenCount), OutputTokens: int(u.CandidatesTokenCount)}
	}
	out.Content += delta.String()
	return delta.String()
}

// geminiCallID prefers a backend-assigned ID and falls back to the function
// name, which is what results are correlated by.
func geminiCallID(fc *genai.FunctionCall) string {
	if fc.ID != "" {
		return fc.ID
	}
	return fc.Name
}

// NewStreamDecoder returns a decoder for an SSE streamGenerateContent response.
func (a *GeminiAdapter) NewStreamDecoder() StreamDecoder {
	return &geminiStreamDecoder{}
}

type geminiStreamDecoder struct {
	resp Response
}

func (d *geminiStreamDecoder) Decode(line []byte) (*StreamChunk, error) {
	payload, ok := sseData(line)
	if !ok || len(payload) == 0 {
		return nil, nil
	}
	if detail, code := errorBodyDetail(payload); detail != "" {
		return nil, NewProviderError(KindProvider, "gemini", "", nil).WithDetail(detail).WithCode(code)
	}
	var event genai.GenerateContentResponse
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, invalidResponse("gemini", "", "decode stream event: %v", err)
	}

	delta := accumulateGemini(&d.resp, &event)
	chunk := &StreamChunk{ContentDelta: delta}
	if len(event.Candidates) > 0 && event.Candidates[0] != nil && event.Candidates[0].FinishReason != "" {
		chunk.FinishReason = d.resp.FinishReason
		chunk.Done = true
	}
	if chunk.ContentDelta == "" && !chunk.Done {
		return nil, nil
	}
	return chunk, nil
}

func (d *geminiStreamDecoder) Result() *Response {
	out := d.resp
	return &out
}
