// Package providers translates the runtime's message and tool representation
// to and from the wire formats of the supported LLM backends, and carries
// those requests over HTTP.
//
// Each backend family is an Adapter. Adapters are pure translation units:
// they build a WireRequest, parse a single-shot response body, and decode a
// streaming response one raw line at a time. The Client owns the network.
package providers

import (
	"bytes"
	"net/http"

	"github.com/haasonsaas/agentcore/pkg/models"
)

// DefaultMaxTokens is sent when neither the agent nor the request sets a limit.
const DefaultMaxTokens = 4096

// Request is a backend-neutral completion request.
type Request struct {
	Model        string
	Messages     []models.Message
	SystemPrompt string
	Tools        []models.ToolSchema
	Temperature  *float64
	MaxTokens    int
	Stream       bool
}

func (r *Request) maxTokens() int {
	if r.MaxTokens > 0 {
		return r.MaxTokens
	}
	return DefaultMaxTokens
}

// Usage reports token consumption for one call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response is the normalized result of one model turn.
type Response struct {
	Content   string
	ToolCalls []models.ToolCall
	// FinishReason is the backend's own value, passed through unchanged.
	FinishReason string
	Usage        *Usage
}

// StreamChunk is one decoded streaming event.
type StreamChunk struct {
	ContentDelta string
	FinishReason string
	Done         bool
}

// WireRequest is a fully built HTTP request for a backend.
type WireRequest struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// HTTPRequest converts the wire request into an *http.Request without a context.
func (w *WireRequest) HTTPRequest() (*http.Request, error) {
	method := w.Method
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequest(method, w.URL, bytes.NewReader(w.Body))
	if err != nil {
		return nil, err
	}
	for k, vs := range w.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return req, nil
}

// Adapter translates between the runtime and one backend family.
type Adapter interface {
	// Name returns the canonical provider name.
	Name() string
	// BuildRequest renders req into the backend's request. It fails with
	// ErrAPIKeyNotFound before any network activity when a required
	// credential is missing.
	BuildRequest(req *Request) (*WireRequest, error)
	// ParseResponse decodes a single-shot response body.
	ParseResponse(body []byte) (*Response, error)
	// NewStreamDecoder returns a decoder for one streaming response.
	NewStreamDecoder() StreamDecoder
}

// StreamDecoder consumes a line-oriented event stream. It is stateful,
// single-use and not safe for concurrent use.
type StreamDecoder interface {
	// Decode parses one raw line. It returns a nil chunk for lines that
	// carry nothing for the caller (comments, pings, tool-call fragments).
	Decode(line []byte) (*StreamChunk, error)
	// Result returns the response accumulated so far, including tool calls
	// assembled from fragments.
	Result() *Response
}

// Endpoint holds connection settings for one backend.
type Endpoint struct {
	BaseURL string
	APIKey  string
}

// sseData extracts the payload of an SSE "data:" line. Other SSE fields
// and comments report ok=false.
func sseData(line []byte) ([]byte, bool) {
	line = bytes.TrimSpace(line)
	if !bytes.HasPrefix(line, []byte("data:")) {
		return nil, false
	}
	return bytes.TrimSpace(line[len("data:"):]), true
}
