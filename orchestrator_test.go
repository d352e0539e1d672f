package lolo

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"
)

type scriptProvider struct {
	model     string
	responses []*Response
	requests  []Request
}

func (p *scriptProvider) Create(_ context.Context, req Request) (*Response, error) {
	p.requests = append(p.requests, req)
	if len(p.responses) == 0 {
		return nil, fmt.Errorf("script exhausted")
	}
	resp := p.responses[0]
	p.responses = p.responses[1:]
	return resp, nil
}

func (p *scriptProvider) Model() string {
	if p.model == "" {
		return "gpt-5.2"
	}
	return p.model
}

type funcTool struct {
	name string
	fn   func(ctx context.Context, args json.RawMessage) (ToolResult, error)
}

func (t funcTool) Definitions() []ToolDefinition {
	return []ToolDefinition{FunctionDef(t.name, "test tool", `{"type":"object"}`)}
}

func (t funcTool) Execute(ctx context.Context, _ string, args json.RawMessage) (ToolResult, error) {
	return t.fn(ctx, args)
}

type stubStore struct {
	Store
	usage []UsageRecord
}

func (s *stubStore) LogUsage(_ context.Context, rec UsageRecord) error {
	s.usage = append(s.usage, rec)
	return nil
}

func message(text string, usage Usage, citations ...string) *Response {
	return &Response{
		ID:    NewID(),
		Usage: usage,
		Output: []OutputItem{
			{Type: ItemMessage, Text: text, Citations: citations},
		},
	}
}

func toolCall(name, callID, args string, usage Usage) *Response {
	return &Response{
		ID:    NewID(),
		Usage: usage,
		Output: []OutputItem{
			{Type: ItemFunctionCall, Name: name, CallID: callID, Arguments: args},
		},
	}
}

func collect(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var events []Event
	for ev := range ch {
		events = append(events, ev)
	}
	if len(events) == 0 {
		t.Fatal("no events emitted")
	}
	last := events[len(events)-1]
	if !last.Terminal() {
		t.Fatalf("stream ended without a terminal frame: %+v", last)
	}
	return events
}

func testRequest() MentionRequest {
	return MentionRequest{
		RequestID:       NewID(),
		Nick:            "alice",
		Channel:         "#test",
		Message:         "What is 2+2?",
		PermissionLevel: PermNormal,
	}
}

func TestStreamSimpleAnswer(t *testing.T) {
	provider := &scriptProvider{responses: []*Response{
		message("Four.", Usage{InputTokens: 100, CachedTokens: 20, OutputTokens: 10}),
	}}
	store := &stubStore{}
	o := NewOrchestrator(provider, NewRegistry(), NewPromptBuilder("system", ""), WithStore(store))

	events := collect(t, o.Stream(context.Background(), testRequest()))
	if len(events) != 1 || events[0].Status != EventSuccess {
		t.Fatalf("expected single success frame, got %+v", events)
	}
	if events[0].Message != "Four" { // trailing period trimmed
		t.Fatalf("message = %q", events[0].Message)
	}
	if len(store.usage) != 1 {
		t.Fatalf("usage records = %d", len(store.usage))
	}
	rec := store.usage[0]
	if rec.ToolCalls != 0 || rec.InputTokens != 100 || rec.CachedTokens != 20 || rec.OutputTokens != 10 {
		t.Fatalf("usage record = %+v", rec)
	}
	if rec.Model != "gpt-5.2" {
		t.Fatalf("model = %q", rec.Model)
	}
}

func TestStreamToolLoopChainsResponses(t *testing.T) {
	provider := &scriptProvider{responses: []*Response{
		toolCall("lookup", "call_1", `{"q":"x"}`, Usage{InputTokens: 50}),
		message("Answer from tool.", Usage{InputTokens: 60, OutputTokens: 5}),
	}}
	reg := NewRegistry()
	var gotCaller Caller
	if err := reg.Add(funcTool{name: "lookup", fn: func(ctx context.Context, _ json.RawMessage) (ToolResult, error) {
		gotCaller, _ = CallerFrom(ctx)
		return TextResult("result text"), nil
	}}); err != nil {
		t.Fatal(err)
	}
	store := &stubStore{}
	o := NewOrchestrator(provider, reg, NewPromptBuilder("system", ""), WithStore(store))

	events := collect(t, o.Stream(context.Background(), testRequest()))
	if events[len(events)-1].Status != EventSuccess {
		t.Fatalf("events = %+v", events)
	}
	if gotCaller.Nick != "alice" || gotCaller.Level != PermNormal {
		t.Fatalf("caller not injected: %+v", gotCaller)
	}

	if len(provider.requests) != 2 {
		t.Fatalf("provider calls = %d", len(provider.requests))
	}
	second := provider.requests[1]
	if second.Input != "" {
		t.Fatal("second turn resent the prompt")
	}
	if second.PreviousResponseID == "" {
		t.Fatal("second turn missing previous response id")
	}
	if len(second.FunctionOutputs) != 1 || second.FunctionOutputs[0].Output != "result text" {
		t.Fatalf("function outputs = %+v", second.FunctionOutputs)
	}

	rec := store.usage[0]
	if rec.ToolCalls != 1 || rec.InputTokens != 110 || rec.OutputTokens != 5 {
		t.Fatalf("usage record = %+v", rec)
	}
}

func TestStreamStatusUpdateForwarded(t *testing.T) {
	provider := &scriptProvider{responses: []*Response{
		toolCall("report_status", "call_1", `{"message":"Searching..."}`, Usage{}),
		message("Done.", Usage{}),
	}}
	reg := NewRegistry()
	_ = reg.Add(funcTool{name: "report_status", fn: func(_ context.Context, _ json.RawMessage) (ToolResult, error) {
		return StatusResult("Searching..."), nil
	}})
	o := NewOrchestrator(provider, reg, NewPromptBuilder("system", ""))

	events := collect(t, o.Stream(context.Background(), testRequest()))
	if len(events) != 2 {
		t.Fatalf("events = %+v", events)
	}
	if events[0].Status != EventProcessing || events[0].Message != "Searching..." {
		t.Fatalf("first frame = %+v", events[0])
	}
	if got := provider.requests[1].FunctionOutputs[0].Output; got != "Status reported to user." {
		t.Fatalf("model saw %q", got)
	}
}

func TestStreamNullSuppressesFinalText(t *testing.T) {
	provider := &scriptProvider{responses: []*Response{
		toolCall("null_response", "call_1", `{}`, Usage{InputTokens: 10}),
		message("This text must be suppressed.", Usage{OutputTokens: 3}),
	}}
	reg := NewRegistry()
	_ = reg.Add(funcTool{name: "null_response", fn: func(_ context.Context, _ json.RawMessage) (ToolResult, error) {
		return NullResult(), nil
	}})
	store := &stubStore{}
	o := NewOrchestrator(provider, reg, NewPromptBuilder("system", ""), WithStore(store))

	events := collect(t, o.Stream(context.Background(), testRequest()))
	last := events[len(events)-1]
	if last.Status != EventNull || last.Message != "" {
		t.Fatalf("terminal = %+v", last)
	}
	// Usage is still recorded for suppressed responses.
	if len(store.usage) != 1 || store.usage[0].InputTokens != 10 {
		t.Fatalf("usage = %+v", store.usage)
	}
}

func TestStreamMalformedArgumentsFailSingleCall(t *testing.T) {
	provider := &scriptProvider{responses: []*Response{
		toolCall("lookup", "call_1", `{not json`, Usage{}),
		message("Recovered.", Usage{}),
	}}
	reg := NewRegistry()
	called := false
	_ = reg.Add(funcTool{name: "lookup", fn: func(_ context.Context, _ json.RawMessage) (ToolResult, error) {
		called = true
		return TextResult("ok"), nil
	}})
	o := NewOrchestrator(provider, reg, NewPromptBuilder("system", ""))

	events := collect(t, o.Stream(context.Background(), testRequest()))
	if events[len(events)-1].Status != EventSuccess {
		t.Fatalf("events = %+v", events)
	}
	if called {
		t.Fatal("tool ran despite malformed arguments")
	}
	out := provider.requests[1].FunctionOutputs[0].Output
	if !strings.HasPrefix(out, "Error: invalid JSON arguments") {
		t.Fatalf("output = %q", out)
	}
}

func TestStreamToolErrorContained(t *testing.T) {
	provider := &scriptProvider{responses: []*Response{
		toolCall("lookup", "call_1", `{}`, Usage{}),
		message("Explained the failure.", Usage{}),
	}}
	reg := NewRegistry()
	_ = reg.Add(funcTool{name: "lookup", fn: func(_ context.Context, _ json.RawMessage) (ToolResult, error) {
		return ToolResult{}, fmt.Errorf("backend exploded")
	}})
	o := NewOrchestrator(provider, reg, NewPromptBuilder("system", ""))

	events := collect(t, o.Stream(context.Background(), testRequest()))
	if events[len(events)-1].Status != EventSuccess {
		t.Fatalf("tool error was not contained: %+v", events)
	}
	out := provider.requests[1].FunctionOutputs[0].Output
	if out != "Error executing tool: backend exploded" {
		t.Fatalf("output = %q", out)
	}
}

func TestStreamIterationCapReportsLastText(t *testing.T) {
	responses := make([]*Response, 0, DefaultMaxIterations+1)
	for i := 0; i <= DefaultMaxIterations; i++ {
		responses = append(responses, &Response{
			ID: NewID(),
			Output: []OutputItem{
				{Type: ItemMessage, Text: fmt.Sprintf("partial %d", i)},
				{Type: ItemFunctionCall, Name: "lookup", CallID: fmt.Sprintf("call_%d", i), Arguments: `{}`},
			},
		})
	}
	provider := &scriptProvider{responses: responses}
	reg := NewRegistry()
	_ = reg.Add(funcTool{name: "lookup", fn: func(_ context.Context, _ json.RawMessage) (ToolResult, error) {
		return TextResult("more"), nil
	}})
	o := NewOrchestrator(provider, reg, NewPromptBuilder("system", ""))

	events := collect(t, o.Stream(context.Background(), testRequest()))
	last := events[len(events)-1]
	if last.Status != EventSuccess {
		t.Fatalf("terminal = %+v", last)
	}
	if !strings.HasPrefix(last.Message, "partial") {
		t.Fatalf("message = %q", last.Message)
	}
}

func TestStreamDeepModeQuota(t *testing.T) {
	quota := NewUserWindow(3, 24*time.Hour)
	makeOrch := func(p *scriptProvider) *Orchestrator {
		return NewOrchestrator(p, NewRegistry(), NewPromptBuilder("system", "deep preamble"),
			WithDeepQuota(quota))
	}
	req := testRequest()
	req.DeepMode = true

	for i := 0; i < 3; i++ {
		p := &scriptProvider{responses: []*Response{message("ok", Usage{})}}
		events := collect(t, makeOrch(p).Stream(context.Background(), req))
		if events[len(events)-1].Status != EventSuccess {
			t.Fatalf("run %d: %+v", i, events)
		}
		if got := p.requests[0].ReasoningEffort; got != "high" {
			t.Fatalf("effort = %q", got)
		}
		if got := p.requests[0].MaxOutputTokens; got != DeepMaxOutputTokens {
			t.Fatalf("max tokens = %d", got)
		}
	}

	p := &scriptProvider{responses: []*Response{message("ok", Usage{})}}
	events := collect(t, makeOrch(p).Stream(context.Background(), req))
	if events[0].Status != EventError {
		t.Fatalf("fourth deep request not rejected: %+v", events)
	}
	if len(p.requests) != 0 {
		t.Fatal("provider called despite quota rejection")
	}

	// Staff bypass.
	staff := req
	staff.Nick = "root"
	staff.PermissionLevel = PermOwner
	p = &scriptProvider{responses: []*Response{message("ok", Usage{})}}
	events = collect(t, makeOrch(p).Stream(context.Background(), staff))
	if events[len(events)-1].Status != EventSuccess {
		t.Fatalf("staff deep request rejected: %+v", events)
	}
}

func TestStreamFailedDeepRunKeepsQuota(t *testing.T) {
	quota := NewUserWindow(3, 24*time.Hour)
	req := testRequest()
	req.DeepMode = true

	// Provider failure must not consume quota.
	p := &scriptProvider{}
	o := NewOrchestrator(p, NewRegistry(), NewPromptBuilder("s", "d"), WithDeepQuota(quota))
	events := collect(t, o.Stream(context.Background(), req))
	if events[0].Status != EventError {
		t.Fatalf("events = %+v", events)
	}
	if ok, _ := quota.Allow(req.Nick, req.PermissionLevel); !ok {
		t.Fatal("failed run consumed deep-mode quota")
	}
}

func TestStreamImageQuotaBlocksInsideLoop(t *testing.T) {
	window := NewSharedWindow(3, time.Hour)
	for i := 0; i < 3; i++ {
		window.Record(PermNormal)
	}
	provider := &scriptProvider{responses: []*Response{
		toolCall("flux_create", "call_1", `{"prompt":"a cat"}`, Usage{}),
		message("Told the user about the limit.", Usage{}),
	}}
	reg := NewRegistry()
	ran := false
	_ = reg.Add(funcTool{name: "flux_create", fn: func(_ context.Context, _ json.RawMessage) (ToolResult, error) {
		ran = true
		return TextResult("https://paste/img.png"), nil
	}})
	o := NewOrchestrator(provider, reg, NewPromptBuilder("system", ""), WithImageQuota(window))

	events := collect(t, o.Stream(context.Background(), testRequest()))
	if events[len(events)-1].Status != EventSuccess {
		t.Fatalf("events = %+v", events)
	}
	if ran {
		t.Fatal("image tool ran past the shared quota")
	}
	out := provider.requests[1].FunctionOutputs[0].Output
	if !strings.Contains(out, "Rate limit reached") {
		t.Fatalf("output = %q", out)
	}
}

func TestStreamCitationsAppendedAcrossTurns(t *testing.T) {
	provider := &scriptProvider{responses: []*Response{
		{
			ID: NewID(),
			Output: []OutputItem{
				{Type: ItemMessage, Text: "searching", Citations: []string{"https://a.example/p?utm_source=x"}},
				{Type: ItemFunctionCall, Name: "lookup", CallID: "c1", Arguments: `{}`},
				{Type: ItemWebSearchCall},
			},
		},
		message("Answer.", Usage{}, "https://a.example/p", "https://b.example/q"),
	}}
	reg := NewRegistry()
	_ = reg.Add(funcTool{name: "lookup", fn: func(_ context.Context, _ json.RawMessage) (ToolResult, error) {
		return TextResult("ok"), nil
	}})
	store := &stubStore{}
	o := NewOrchestrator(provider, reg, NewPromptBuilder("system", ""), WithStore(store))

	events := collect(t, o.Stream(context.Background(), testRequest()))
	msg := events[len(events)-1].Message
	want := "Answer | Sources: https://a.example/p , https://b.example/q"
	if msg != want {
		t.Fatalf("message = %q, want %q", msg, want)
	}
	if store.usage[0].WebSearchCalls != 1 {
		t.Fatalf("web search calls = %d", store.usage[0].WebSearchCalls)
	}
}

func TestStreamVisionSubCall(t *testing.T) {
	carrier := `{"prompt":"describe","image_url":"https://img.example/cat.png","mime_type":"image/png"}`
	provider := &scriptProvider{responses: []*Response{
		toolCall("analyze_image", "call_1", `{"url":"https://img.example/cat.png"}`, Usage{InputTokens: 10}),
		message("A cat sitting on a mat.", Usage{InputTokens: 200, OutputTokens: 40}), // vision sub-call
		message("It's a picture of a cat.", Usage{InputTokens: 20, OutputTokens: 8}),
	}}
	reg := NewRegistry()
	_ = reg.Add(funcTool{name: "analyze_image", fn: func(_ context.Context, _ json.RawMessage) (ToolResult, error) {
		return TextResult(carrier), nil
	}})
	store := &stubStore{}
	o := NewOrchestrator(provider, reg, NewPromptBuilder("system", ""), WithStore(store))

	events := collect(t, o.Stream(context.Background(), testRequest()))
	if events[len(events)-1].Status != EventSuccess {
		t.Fatalf("events = %+v", events)
	}

	vision := provider.requests[1]
	if vision.Vision == nil || vision.Vision.ImageURL != "https://img.example/cat.png" {
		t.Fatalf("vision request = %+v", vision)
	}
	if vision.MaxOutputTokens != VisionMaxOutputTokens {
		t.Fatalf("vision max tokens = %d", vision.MaxOutputTokens)
	}
	// The main chain sees the description, not the carrier.
	if got := provider.requests[2].FunctionOutputs[0].Output; got != "A cat sitting on a mat." {
		t.Fatalf("model saw %q", got)
	}
	// Vision usage counts toward the request total.
	if store.usage[0].InputTokens != 230 {
		t.Fatalf("input tokens = %d", store.usage[0].InputTokens)
	}
}
