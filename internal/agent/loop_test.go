package agent

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/agentcore/internal/agent/providers"
	"github.com/haasonsaas/agentcore/internal/audit"
	"github.com/haasonsaas/agentcore/internal/media"
	"github.com/haasonsaas/agentcore/internal/screen"
	"github.com/haasonsaas/agentcore/internal/tools"
	"github.com/haasonsaas/agentcore/pkg/models"
)

// turn is one scripted model reply.
type turn struct {
	resp providers.Response
	err  error
}

// scriptedClient replays turns in order and repeats the last one.
type scriptedClient struct {
	mu       sync.Mutex
	turns    []turn
	requests []providers.Request
}

func (c *scriptedClient) next(req *providers.Request) (*providers.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	snapshot := *req
	snapshot.Messages = slices.Clone(req.Messages)
	c.requests = append(c.requests, snapshot)
	idx := min(len(c.requests)-1, len(c.turns)-1)
	t := c.turns[idx]
	resp := t.resp
	return &resp, t.err
}

func (c *scriptedClient) Complete(_ context.Context, _ string, req *providers.Request) (*providers.Response, error) {
	resp, err := c.next(req)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Stream splits the scripted content into two-byte deltas, then sends the
// final event.
func (c *scriptedClient) Stream(ctx context.Context, _ string, req *providers.Request) (<-chan providers.StreamEvent, error) {
	resp, err := c.next(req)
	out := make(chan providers.StreamEvent)
	go func() {
		defer close(out)
		content := resp.Content
		for i := 0; i < len(content); i += 2 {
			end := min(i+2, len(content))
			select {
			case out <- providers.StreamEvent{Chunk: &providers.StreamChunk{ContentDelta: content[i:end]}}:
			case <-ctx.Done():
				return
			}
		}
		select {
		case out <- providers.StreamEvent{Response: resp, Err: err}:
		case <-ctx.Done():
		}
	}()
	return out, nil
}

func (c *scriptedClient) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

type echoArgs struct {
	Text string `json:"text"`
}

type clickArgs struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func testCatalog(t *testing.T, extra ...tools.Definition) *tools.Catalog {
	t.Helper()
	c := tools.NewCatalog()
	c.MustRegister(
		tools.Definition{
			Name:       "echo",
			Parameters: tools.ReflectSchema(&echoArgs{}),
			Handler: tools.HandlerFunc(func(_ context.Context, args map[string]string) (string, error) {
				return args["text"], nil
			}),
		},
		tools.Definition{
			Name:       "boom",
			Parameters: tools.ReflectSchema(&echoArgs{}),
			Handler: tools.HandlerFunc(func(context.Context, map[string]string) (string, error) {
				return "", tools.CommandFailed("boom")
			}),
		},
		tools.Definition{
			Name:       "mouse_click",
			Parameters: tools.ReflectSchema(&clickArgs{}),
			Risk:       models.RiskHigh,
			Handler: tools.HandlerFunc(func(context.Context, map[string]string) (string, error) {
				return "clicked", nil
			}),
		},
	)
	c.MustRegister(extra...)
	return c
}

func testAgent() models.Agent {
	return models.Agent{
		ID:   "alice",
		Name: "Alice",
		Configuration: models.AgentConfiguration{
			Provider: "openai",
			Model:    "gpt-4o",
		},
	}
}

func userTurn(text string) []models.Message {
	return []models.Message{{ID: "u1", Role: models.RoleUser, Content: text}}
}

func call(id, name string, args map[string]string) models.ToolCall {
	return models.ToolCall{ID: id, Name: name, Arguments: args}
}

func toolTurn(calls ...models.ToolCall) turn {
	return turn{resp: providers.Response{ToolCalls: calls, FinishReason: "tool_calls"}}
}

func textTurn(text, finish string) turn {
	return turn{resp: providers.Response{Content: text, FinishReason: finish}}
}

func collectUpdates() (chan Update, func() []Update) {
	ch := make(chan Update, 256)
	return ch, func() []Update {
		var out []Update
		for {
			select {
			case u := <-ch:
				out = append(out, u)
			default:
				return out
			}
		}
	}
}

func TestRun_ScenarioA_SingleTurn(t *testing.T) {
	client := &scriptedClient{turns: []turn{{resp: providers.Response{
		Content:      "Hello! How can I help?",
		FinishReason: "end_turn",
		Usage:        &providers.Usage{InputTokens: 7, OutputTokens: 5},
	}}}}
	loop := NewExecutionLoop(client, testCatalog(t), nil, nil, LoopConfig{})
	updates, drain := collectUpdates()

	res, err := loop.Run(context.Background(), RunInput{Agent: testAgent(), Messages: userTurn("Hello")}, updates)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Iterations != 1 || client.calls() != 1 {
		t.Fatalf("iterations = %d, calls = %d", res.Iterations, client.calls())
	}
	if res.Content != "Hello! How can I help?" || res.FinishReason != "end_turn" {
		t.Fatalf("result = %q / %q", res.Content, res.FinishReason)
	}
	if res.Usage.InputTokens != 7 || res.Usage.OutputTokens != 5 {
		t.Errorf("usage = %+v", res.Usage)
	}
	if res.Session.Status != models.StatusCompleted || res.Session.Explanation == "" {
		t.Errorf("session = %+v", res.Session)
	}
	if len(res.Messages) != 1 || res.Messages[0].Role != models.RoleAssistant || res.Messages[0].AgentID != "alice" {
		t.Errorf("messages = %+v", res.Messages)
	}

	got := drain()
	if len(got) != 2 || got[0].Kind != UpdateContent || got[1].Kind != UpdateTerminal {
		t.Fatalf("updates = %+v", got)
	}
	if got[1].Status != models.StatusCompleted {
		t.Errorf("terminal status = %s", got[1].Status)
	}
}

func TestRun_ScenarioB_ToolThenAnswer(t *testing.T) {
	client := &scriptedClient{turns: []turn{
		toolTurn(call("call_1", "echo", map[string]string{"text": "hi"})),
		textTurn("done", "stop"),
	}}
	auditor := audit.NewAuditor(nil)
	loop := NewExecutionLoop(client, testCatalog(t), auditor, nil, LoopConfig{})

	res, err := loop.Run(context.Background(), RunInput{Agent: testAgent(), Messages: userTurn("say hi")}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Content != "done" || res.Iterations != 2 {
		t.Fatalf("content = %q, iterations = %d", res.Content, res.Iterations)
	}

	second := client.requests[1].Messages
	if len(second) != 3 {
		t.Fatalf("second request has %d messages", len(second))
	}
	toolMsg := second[2]
	if toolMsg.Role != models.RoleTool || toolMsg.ToolCallID != "call_1" || toolMsg.Content != "hi" || toolMsg.ToolFailed {
		t.Fatalf("tool message = %+v", toolMsg)
	}

	records := auditor.Records()
	if len(records) != 1 || !records[0].Success || records[0].ToolName != "echo" || records[0].AgentID != "alice" {
		t.Fatalf("records = %+v", records)
	}
	if records[0].SessionID != res.Session.ID {
		t.Errorf("record session = %q, want %q", records[0].SessionID, res.Session.ID)
	}

	kinds := make([]models.StepKind, len(res.Session.Steps))
	for i, s := range res.Session.Steps {
		kinds[i] = s.Kind
	}
	want := []models.StepKind{models.StepThinking, models.StepToolCall, models.StepToolResult, models.StepThinking}
	if !slices.Equal(kinds, want) {
		t.Errorf("steps = %v, want %v", kinds, want)
	}
}

func TestRun_ScenarioC_ToolFailureIsFedBack(t *testing.T) {
	client := &scriptedClient{turns: []turn{
		toolTurn(call("call_1", "boom", map[string]string{"text": "x"})),
		textTurn("recovered", "stop"),
	}}
	auditor := audit.NewAuditor(nil)
	loop := NewExecutionLoop(client, testCatalog(t), auditor, nil, LoopConfig{})

	res, err := loop.Run(context.Background(), RunInput{Agent: testAgent(), Messages: userTurn("go")}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Content != "recovered" || res.Session.Status != models.StatusCompleted {
		t.Fatalf("result = %q %s", res.Content, res.Session.Status)
	}
	toolMsg := res.Messages[1]
	if !toolMsg.ToolFailed || !strings.Contains(toolMsg.Content, "boom") || !strings.Contains(toolMsg.Content, "command_failed") {
		t.Fatalf("tool message = %+v", toolMsg)
	}
	records := auditor.Records()
	if len(records) != 1 || records[0].Success {
		t.Fatalf("records = %+v", records)
	}
}

func TestRun_UnknownToolAndBadArgumentsAreFedBack(t *testing.T) {
	client := &scriptedClient{turns: []turn{
		toolTurn(
			call("a", "missing_tool", nil),
			call("b", "echo", map[string]string{"wrong": "x"}),
		),
		textTurn("ok", "stop"),
	}}
	loop := NewExecutionLoop(client, testCatalog(t), nil, nil, LoopConfig{})

	res, err := loop.Run(context.Background(), RunInput{Agent: testAgent(), Messages: userTurn("go")}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(res.Messages[1].Content, "unknown_tool") {
		t.Errorf("unknown tool message = %q", res.Messages[1].Content)
	}
	if !strings.Contains(res.Messages[2].Content, "invalid_arguments") {
		t.Errorf("bad args message = %q", res.Messages[2].Content)
	}
}

func TestRun_ToolsRunSequentiallyInModelOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	running := 0
	overlap := false
	record := tools.Definition{
		Name:       "record",
		Parameters: tools.ReflectSchema(&echoArgs{}),
		Handler: tools.HandlerFunc(func(_ context.Context, args map[string]string) (string, error) {
			mu.Lock()
			running++
			if running > 1 {
				overlap = true
			}
			order = append(order, args["text"])
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			running--
			mu.Unlock()
			return args["text"], nil
		}),
	}
	client := &scriptedClient{turns: []turn{
		toolTurn(
			call("1", "record", map[string]string{"text": "first"}),
			call("2", "boom", map[string]string{"text": "x"}),
			call("3", "record", map[string]string{"text": "third"}),
		),
		textTurn("done", "stop"),
	}}
	auditor := audit.NewAuditor(nil)
	loop := NewExecutionLoop(client, testCatalog(t, record), auditor, nil, LoopConfig{})

	res, err := loop.Run(context.Background(), RunInput{Agent: testAgent(), Messages: userTurn("go")}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if overlap {
		t.Fatal("tool calls overlapped")
	}
	if !slices.Equal(order, []string{"first", "third"}) {
		t.Fatalf("order = %v", order)
	}
	var ids []string
	for _, m := range res.Messages[1:4] {
		ids = append(ids, m.ToolCallID)
	}
	if !slices.Equal(ids, []string{"1", "2", "3"}) {
		t.Fatalf("tool message ids = %v", ids)
	}
	if got := len(auditor.Records()); got != 3 {
		t.Fatalf("records = %d, want 3", got)
	}
}

func TestRun_IterationCapIsSoft(t *testing.T) {
	tests := []struct {
		name      string
		agentMode bool
		want      int
	}{
		{"default", false, DefaultMaxIterations},
		{"agent mode", true, AgentModeMaxIterations},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &scriptedClient{turns: []turn{{resp: providers.Response{
				Content:   "still working",
				ToolCalls: []models.ToolCall{call("c", "echo", map[string]string{"text": "again"})},
			}}}}
			loop := NewExecutionLoop(client, testCatalog(t), nil, nil, LoopConfig{})

			res, err := loop.Run(context.Background(), RunInput{Agent: testAgent(), Messages: userTurn("loop"), AgentMode: tt.agentMode}, nil)
			if err != nil {
				t.Fatalf("cap should not be an error, got %v", err)
			}
			if res.Iterations != tt.want || client.calls() != tt.want {
				t.Fatalf("iterations = %d, calls = %d, want %d", res.Iterations, client.calls(), tt.want)
			}
			if !res.Truncated || !errors.Is(res.Warning, ErrMaxIterationsReached) {
				t.Fatalf("truncated = %v, warning = %v", res.Truncated, res.Warning)
			}
			if res.Session.Status != models.StatusCompleted || !strings.Contains(res.Session.Explanation, "limit") {
				t.Fatalf("session = %s %q", res.Session.Status, res.Session.Explanation)
			}
			if res.Content != "still working" {
				t.Errorf("partial content lost: %q", res.Content)
			}
		})
	}
}

func TestRun_ProviderErrorFailsRun(t *testing.T) {
	rateLimited := providers.NewProviderError(providers.KindRateLimitExceeded, "openai", "gpt-4o", errors.New("slow down"))
	client := &scriptedClient{turns: []turn{{err: rateLimited}}}
	loop := NewExecutionLoop(client, testCatalog(t), nil, nil, LoopConfig{})
	updates, drain := collectUpdates()

	res, err := loop.Run(context.Background(), RunInput{Agent: testAgent(), Messages: userTurn("hi")}, updates)
	if !errors.Is(err, providers.ErrRateLimitExceeded) {
		t.Fatalf("error = %v, want rate limit", err)
	}
	if loopErr, ok := GetLoopError(err); !ok || loopErr.Phase != PhaseModel || loopErr.Iteration != 1 {
		t.Fatalf("loop error = %+v", loopErr)
	}
	if res == nil || res.Session.Status != models.StatusFailed || !strings.Contains(res.Session.Explanation, "slow down") {
		t.Fatalf("result = %+v", res)
	}
	got := drain()
	if len(got) != 1 || got[0].Kind != UpdateTerminal || got[0].Content != "" {
		t.Fatalf("updates = %+v", got)
	}
}

func TestRun_StreamingForwardsDeltasInOrder(t *testing.T) {
	client := &scriptedClient{turns: []turn{textTurn("Hello, streaming world", "stop")}}
	loop := NewExecutionLoop(client, testCatalog(t), nil, nil, LoopConfig{Stream: true})
	updates, drain := collectUpdates()

	res, err := loop.Run(context.Background(), RunInput{Agent: testAgent(), Messages: userTurn("hi")}, updates)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	var partial strings.Builder
	got := drain()
	for _, u := range got {
		if u.Kind == UpdatePartial {
			partial.WriteString(u.Content)
		}
	}
	if partial.String() != res.Content || res.Content != "Hello, streaming world" {
		t.Fatalf("deltas %q != content %q", partial.String(), res.Content)
	}
	last := got[len(got)-1]
	if last.Kind != UpdateTerminal || got[len(got)-2].Kind != UpdateContent {
		t.Fatalf("unexpected update tail %+v", got[len(got)-2:])
	}
}

func TestRun_StreamingFailureKeepsPartialContent(t *testing.T) {
	netErr := providers.NewProviderError(providers.KindNetwork, "openai", "gpt-4o", errors.New("connection reset"))
	client := &scriptedClient{turns: []turn{{resp: providers.Response{Content: "Hel"}, err: netErr}}}
	loop := NewExecutionLoop(client, testCatalog(t), nil, nil, LoopConfig{Stream: true})
	updates, drain := collectUpdates()

	res, err := loop.Run(context.Background(), RunInput{Agent: testAgent(), Messages: userTurn("hi")}, updates)
	if !errors.Is(err, providers.ErrNetwork) {
		t.Fatalf("error = %v", err)
	}
	if res.Content != "Hel" || res.Session.Result != "Hel" || res.Session.Status != models.StatusFailed {
		t.Fatalf("result = %q %q %s", res.Content, res.Session.Result, res.Session.Status)
	}
	got := drain()
	terminal := got[len(got)-1]
	if terminal.Kind != UpdateTerminal || !strings.Contains(terminal.Explanation, "connection reset") {
		t.Fatalf("terminal = %+v", terminal)
	}
	for _, u := range got[:len(got)-1] {
		if u.Kind != UpdatePartial || strings.Contains(u.Content, "connection") {
			t.Fatalf("error text leaked into content updates: %+v", u)
		}
	}
}

func TestRun_CancelDuringToolSkipsRest(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stopper := tools.Definition{
		Name:       "stop",
		Parameters: tools.ReflectSchema(&echoArgs{}),
		Handler: tools.HandlerFunc(func(context.Context, map[string]string) (string, error) {
			cancel()
			return "stopping", nil
		}),
	}
	client := &scriptedClient{turns: []turn{
		{resp: providers.Response{
			Content: "working on it",
			ToolCalls: []models.ToolCall{
				call("1", "stop", map[string]string{"text": "x"}),
				call("2", "echo", map[string]string{"text": "never"}),
			},
		}},
		textTurn("unreachable", "stop"),
	}}
	auditor := audit.NewAuditor(nil)
	loop := NewExecutionLoop(client, testCatalog(t, stopper), auditor, nil, LoopConfig{})
	updates, drain := collectUpdates()

	res, err := loop.Run(ctx, RunInput{Agent: testAgent(), Messages: userTurn("go")}, updates)
	if !errors.Is(err, ErrCancelled) || !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v", err)
	}
	if res.Session.Status != models.StatusCancelled || res.Session.Explanation == "" {
		t.Fatalf("session = %+v", res.Session)
	}
	if client.calls() != 1 {
		t.Fatalf("model called %d times after cancel", client.calls())
	}
	if res.Content != "working on it" {
		t.Errorf("partial content = %q", res.Content)
	}
	if len(auditor.Records()) != 1 {
		t.Errorf("only the first tool should run, got %d records", len(auditor.Records()))
	}
	skipped := res.Messages[len(res.Messages)-1]
	if skipped.ToolCallID != "2" || !skipped.ToolFailed {
		t.Errorf("skipped call message = %+v", skipped)
	}

	got := drain()
	if last := got[len(got)-1]; last.Kind != UpdateTerminal || last.Status != models.StatusCancelled {
		t.Errorf("last update = %+v", last)
	}
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	client := &scriptedClient{turns: []turn{textTurn("x", "stop")}}
	loop := NewExecutionLoop(client, testCatalog(t), nil, nil, LoopConfig{})

	res, err := loop.Run(ctx, RunInput{Agent: testAgent(), Messages: userTurn("hi")}, nil)
	if !errors.Is(err, ErrCancelled) || res.Session.Status != models.StatusCancelled || client.calls() != 0 {
		t.Fatalf("err = %v, status = %s, calls = %d", err, res.Session.Status, client.calls())
	}
}

func TestRun_CancelledTerminalReachesSlowConsumer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	client := &scriptedClient{turns: []turn{textTurn("x", "stop")}}
	loop := NewExecutionLoop(client, testCatalog(t), nil, nil, LoopConfig{})

	updates := make(chan Update)
	received := make(chan Update, 1)
	go func() {
		time.Sleep(100 * time.Millisecond)
		received <- <-updates
	}()

	if _, err := loop.Run(ctx, RunInput{Agent: testAgent(), Messages: userTurn("hi")}, updates); !errors.Is(err, ErrCancelled) {
		t.Fatalf("error = %v", err)
	}
	select {
	case u := <-received:
		if u.Kind != UpdateTerminal || u.Status != models.StatusCancelled || u.Explanation == "" {
			t.Fatalf("terminal update = %+v", u)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("terminal update was not delivered")
	}
}

func TestRun_AlreadyExecuting(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	block := tools.Definition{
		Name:       "block",
		Parameters: tools.ReflectSchema(&echoArgs{}),
		Handler: tools.HandlerFunc(func(context.Context, map[string]string) (string, error) {
			close(entered)
			<-release
			return "ok", nil
		}),
	}
	client := &scriptedClient{turns: []turn{
		toolTurn(call("1", "block", map[string]string{"text": "x"})),
		textTurn("done", "stop"),
	}}
	loop := NewExecutionLoop(client, testCatalog(t, block), nil, nil, LoopConfig{})
	in := RunInput{Agent: testAgent(), Messages: userTurn("go"), ConversationID: "conv-1"}

	done := make(chan error, 1)
	go func() {
		_, err := loop.Run(context.Background(), in, nil)
		done <- err
	}()
	<-entered

	if _, err := loop.Run(context.Background(), in, nil); !errors.Is(err, ErrAlreadyExecuting) {
		t.Fatalf("second run error = %v", err)
	}
	other := in
	other.ConversationID = "conv-2"
	other.Messages = userTurn("other")
	client2 := &scriptedClient{turns: []turn{textTurn("independent", "stop")}}
	loop2 := NewExecutionLoop(client2, testCatalog(t), nil, nil, LoopConfig{})
	if _, err := loop2.Run(context.Background(), other, nil); err != nil {
		t.Fatalf("independent conversation: %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first run: %v", err)
	}
	if loop.Active("conv-1") {
		t.Fatal("conversation still marked active")
	}
}

func TestRun_NoProvider(t *testing.T) {
	loop := NewExecutionLoop(&scriptedClient{}, testCatalog(t), nil, nil, LoopConfig{})
	a := testAgent()
	a.Configuration.Provider = ""
	if _, err := loop.Run(context.Background(), RunInput{Agent: a}, nil); !errors.Is(err, ErrNoProvider) {
		t.Fatalf("error = %v", err)
	}
}

func pngCapturer(t *testing.T) media.Capturer {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 64, 48))); err != nil {
		t.Fatal(err)
	}
	return media.CapturerFunc(func(context.Context) ([]byte, error) { return buf.Bytes(), nil })
}

func TestRun_ScreenRefreshAfterDesktopControl(t *testing.T) {
	var transitions []bool
	arbiter := screen.NewArbiter(screen.WithObserver(screen.ObserverFunc(func(active bool) {
		transitions = append(transitions, active)
	})))
	client := &scriptedClient{turns: []turn{
		toolTurn(call("1", "mouse_click", map[string]string{"x": "10", "y": "20"})),
		toolTurn(call("2", "mouse_click", map[string]string{"x": "30", "y": "40"})),
		textTurn("clicked twice", "stop"),
	}}
	loop := NewExecutionLoop(client, testCatalog(t), nil, arbiter, LoopConfig{
		Capturer:          pngCapturer(t),
		ScreenSettleDelay: time.Millisecond,
	})
	updates, drain := collectUpdates()

	res, err := loop.Run(context.Background(), RunInput{
		Agent:          testAgent(),
		Messages:       userTurn("click"),
		AgentMode:      true,
		DesktopControl: true,
	}, updates)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	second := client.requests[1].Messages
	img := second[len(second)-1]
	if img.Role != models.RoleUser || !img.HasImage() || img.ImageMIME() != "image/png" {
		t.Fatalf("expected injected screenshot, got %+v", img)
	}
	refreshes := 0
	for _, u := range drain() {
		if u.Kind == UpdateScreenRefresh {
			refreshes++
		}
	}
	if refreshes != 2 {
		t.Errorf("screen refresh updates = %d, want 2", refreshes)
	}
	if res.Content != "clicked twice" {
		t.Errorf("content = %q", res.Content)
	}
	if arbiter.Count() != 0 {
		t.Fatalf("arbiter count = %d after run", arbiter.Count())
	}
	if !slices.Equal(transitions, []bool{true, false}) {
		t.Fatalf("transitions = %v, want one acquire and one release", transitions)
	}
}

func TestRun_NoScreenRefreshWithoutDesktopControl(t *testing.T) {
	captured := false
	capturer := media.CapturerFunc(func(context.Context) ([]byte, error) {
		captured = true
		return nil, errors.New("should not be called")
	})
	arbiter := screen.NewArbiter()
	client := &scriptedClient{turns: []turn{
		toolTurn(call("1", "mouse_click", map[string]string{"x": "1", "y": "2"})),
		textTurn("done", "stop"),
	}}
	loop := NewExecutionLoop(client, testCatalog(t), nil, arbiter, LoopConfig{Capturer: capturer})

	res, err := loop.Run(context.Background(), RunInput{Agent: testAgent(), Messages: userTurn("x"), AgentMode: true}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if captured {
		t.Fatal("screen captured with desktop control disabled")
	}
	for _, m := range res.Messages {
		if m.HasImage() {
			t.Fatal("unexpected image message")
		}
	}
}

func TestRun_AgentIsCopiedAtEntry(t *testing.T) {
	client := &scriptedClient{turns: []turn{textTurn("ok", "stop")}}
	loop := NewExecutionLoop(client, testCatalog(t), nil, nil, LoopConfig{})
	a := testAgent()
	a.Configuration.SystemPrompt = "be brief"

	if _, err := loop.Run(context.Background(), RunInput{Agent: a, Messages: userTurn("hi")}, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := client.requests[0].SystemPrompt; got != "be brief" {
		t.Errorf("system prompt fallback = %q", got)
	}
	if _, err := loop.Run(context.Background(), RunInput{Agent: a, Messages: userTurn("hi"), SystemPrompt: "composed"}, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := client.requests[1].SystemPrompt; got != "composed" {
		t.Errorf("system prompt = %q", got)
	}
}
