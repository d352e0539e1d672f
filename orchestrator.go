package lolo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// Loop defaults. Deep mode raises effort, budget and patience.
const (
	DefaultMaxIterations = 18
	DeepMaxIterations    = 30

	DefaultMaxOutputTokens = 4000
	DeepMaxOutputTokens    = 16000

	DefaultRequestTimeout = 240 * time.Second
	DeepRequestTimeout    = 480 * time.Second

	// PromptCacheRetention asks the provider to keep the prompt-prefix
	// cache warm across the conversation.
	PromptCacheRetention = 24 * time.Hour

	// VisionMaxOutputTokens bounds the nested analyze_image sub-call.
	VisionMaxOutputTokens = 5000
)

// MemorySource supplies a user's enabled memory entries for the prompt.
type MemorySource interface {
	EnabledMemories(ctx context.Context, nick string) ([]string, error)
}

// imageQuotaTools share the global hourly image window.
var imageQuotaTools = map[string]bool{
	"flux_create":  true,
	"flux_edit":    true,
	"gpt_image":    true,
	"gemini_image": true,
}

// Orchestrator drives the multi-turn reasoning loop: provider calls,
// tool dispatch, status streaming, citation and usage accounting.
type Orchestrator struct {
	provider Provider
	registry *Registry
	prompts  *PromptBuilder
	store    Store
	prices   PriceTable
	memories MemorySource

	deepQuota  *UserWindow
	imageQuota *SharedWindow

	maxIterations int
	maxTokens     int
	timeout       time.Duration

	log *slog.Logger
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

func WithStore(s Store) OrchestratorOption       { return func(o *Orchestrator) { o.store = s } }
func WithPricing(t PriceTable) OrchestratorOption { return func(o *Orchestrator) { o.prices = t } }
func WithMemorySource(m MemorySource) OrchestratorOption {
	return func(o *Orchestrator) { o.memories = m }
}
func WithDeepQuota(w *UserWindow) OrchestratorOption {
	return func(o *Orchestrator) { o.deepQuota = w }
}
func WithImageQuota(w *SharedWindow) OrchestratorOption {
	return func(o *Orchestrator) { o.imageQuota = w }
}
func WithMaxIterations(n int) OrchestratorOption {
	return func(o *Orchestrator) { o.maxIterations = n }
}
func WithLogger(l *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.log = l }
}

// NewOrchestrator wires the loop around a provider, tool registry and
// prompt builder.
func NewOrchestrator(p Provider, reg *Registry, prompts *PromptBuilder, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		provider:      p,
		registry:      reg,
		prompts:       prompts,
		prices:        DefaultPricing,
		maxIterations: DefaultMaxIterations,
		maxTokens:     DefaultMaxOutputTokens,
		timeout:       DefaultRequestTimeout,
		log:           slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Stream runs one mention request and returns its event stream: zero or
// more processing frames, then exactly one terminal frame. The channel
// is bounded; a slow consumer backpressures the loop.
func (o *Orchestrator) Stream(ctx context.Context, req MentionRequest) <-chan Event {
	events := make(chan Event, 16)
	go func() {
		defer close(events)
		o.run(ctx, req, events)
	}()
	return events
}

// Respond runs the request to completion and returns the terminal event.
// Processing frames are dropped; used by the blocking /mention endpoint.
func (o *Orchestrator) Respond(ctx context.Context, req MentionRequest) Event {
	last := Errorf("no response produced")
	for ev := range o.Stream(ctx, req) {
		if ev.Terminal() {
			last = ev
		}
	}
	return last
}

func (o *Orchestrator) run(ctx context.Context, req MentionRequest, events chan<- Event) {
	log := o.log.With("request_id", req.RequestID, "nick", req.Nick, "channel", req.Channel)

	if req.DeepMode && o.deepQuota != nil {
		if ok, msg := o.deepQuota.Allow(req.Nick, req.PermissionLevel); !ok {
			events <- Errorf("%s", msg)
			return
		}
	}

	ctx = WithCaller(ctx, Caller{
		RequestID: req.RequestID,
		Nick:      req.Nick,
		Channel:   req.Channel,
		Level:     req.PermissionLevel,
	})

	builder := o.prompts
	if o.memories != nil {
		entries, err := o.memories.EnabledMemories(ctx, req.Nick)
		if err != nil {
			log.Warn("loading user memories failed", "error", err)
		} else if len(entries) > 0 {
			builder = builder.WithMemories(entries)
		}
	}
	prompt := builder.Build(PromptInput{
		Timestamp: NowUTC(),
		Channel:   req.Channel,
		Nick:      req.Nick,
		Message:   req.Message,
		History:   req.History,
		DeepMode:  req.DeepMode,
	})

	effort := "normal"
	maxIter := o.maxIterations
	maxTokens := o.maxTokens
	timeout := o.timeout
	if req.DeepMode {
		effort = "high"
		maxIter = DeepMaxIterations
		maxTokens = DeepMaxOutputTokens
		timeout = DeepRequestTimeout
	}

	base := Request{
		Tools:                o.registry.Definitions(),
		ReasoningEffort:      effort,
		MaxOutputTokens:      maxTokens,
		Timeout:              timeout,
		PromptCacheRetention: PromptCacheRetention,
	}

	first := base
	first.Input = prompt
	resp, err := o.provider.Create(ctx, first)
	if err != nil {
		log.Error("provider call failed", "error", err)
		events <- Errorf("The model is unavailable right now. Try again shortly.")
		return
	}

	var (
		total         Usage
		citations     []string
		toolCalls     int
		webSearches   int
		interpreters  int
		nullTriggered bool
		truncated     bool
	)

	for i := 0; ; i++ {
		total.Add(resp.Usage)
		citations = MergeCitations(citations, resp.Citations())
		_, ws, ci := resp.CountCalls()
		webSearches += ws
		interpreters += ci

		calls := resp.FunctionCalls()
		if len(calls) == 0 {
			break
		}
		if i >= maxIter {
			log.Warn("iteration cap reached", "iterations", i)
			truncated = true
			break
		}

		outputs := make([]FunctionOutput, 0, len(calls))
		for _, call := range calls {
			toolCalls++
			out := o.execCall(ctx, log, call, req.PermissionLevel, events, &nullTriggered, &total)
			outputs = append(outputs, FunctionOutput{CallID: call.CallID, Output: out})
		}

		next := base
		next.FunctionOutputs = outputs
		next.PreviousResponseID = resp.ID
		resp, err = o.provider.Create(ctx, next)
		if err != nil {
			log.Error("provider call failed", "iteration", i, "error", err)
			events <- Errorf("The model is unavailable right now. Try again shortly.")
			return
		}
	}

	o.recordUsage(ctx, log, req, total, toolCalls, webSearches, interpreters)

	if req.DeepMode && o.deepQuota != nil {
		o.deepQuota.Record(req.Nick, req.PermissionLevel)
	}

	if nullTriggered {
		log.Info("request finished with null response", "tool_calls", toolCalls)
		events <- NullEvent()
		return
	}

	text := PostProcess(resp.OutputText(), citations)
	if truncated {
		log.Warn("reporting truncated response as success")
	}
	log.Info("request finished",
		"tool_calls", toolCalls,
		"input_tokens", total.InputTokens,
		"cached_tokens", total.CachedTokens,
		"output_tokens", total.OutputTokens)
	events <- Success(text)
}

// execCall runs one function call and returns the output string the
// model will see. Tool failures are contained: the model gets an error
// string and the loop continues.
func (o *Orchestrator) execCall(ctx context.Context, log *slog.Logger, call OutputItem, level PermissionLevel, events chan<- Event, nullTriggered *bool, total *Usage) string {
	var args map[string]any
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
		log.Warn("malformed tool arguments", "tool", call.Name, "error", err)
		return fmt.Sprintf("Error: invalid JSON arguments for %s: %v", call.Name, err)
	}

	if imageQuotaTools[call.Name] && o.imageQuota != nil && !o.imageQuota.Allow(level) {
		return "Rate limit reached: image generation is limited to a few per hour across all users. Try again later."
	}

	result, err := o.registry.Execute(ctx, call.Name, json.RawMessage(call.Arguments))
	if err != nil {
		log.Error("tool execution failed", "tool", call.Name, "error", err)
		return fmt.Sprintf("Error executing tool: %v", err)
	}

	switch result.Kind {
	case ResultStatus:
		events <- Processing(result.Content)
	case ResultNull:
		*nullTriggered = true
	}

	if call.Name == "analyze_image" && result.Kind == ResultText {
		if desc, ok := o.describeImage(ctx, log, result.Content, total); ok {
			return desc
		}
	}
	return result.ModelText()
}

// describeImage runs the nested vision sub-call for analyze_image. The
// tool returns a JSON carrier with the validated image reference; only
// the textual description enters the main reasoning chain.
func (o *Orchestrator) describeImage(ctx context.Context, log *slog.Logger, carrier string, total *Usage) (string, bool) {
	var v struct {
		Prompt   string `json:"prompt"`
		ImageURL string `json:"image_url"`
		MimeType string `json:"mime_type"`
	}
	if err := json.Unmarshal([]byte(carrier), &v); err != nil || v.ImageURL == "" {
		return "", false
	}
	resp, err := o.provider.Create(ctx, Request{
		Vision: &VisionInput{
			Prompt:   v.Prompt,
			ImageURL: v.ImageURL,
			MimeType: v.MimeType,
		},
		ReasoningEffort: "medium",
		MaxOutputTokens: VisionMaxOutputTokens,
		Timeout:         DefaultRequestTimeout,
	})
	if err != nil {
		log.Warn("vision sub-call failed", "error", err)
		return fmt.Sprintf("Error analyzing image: %v", err), true
	}
	total.Add(resp.Usage)
	return resp.OutputText(), true
}

func (o *Orchestrator) recordUsage(ctx context.Context, log *slog.Logger, req MentionRequest, total Usage, toolCalls, webSearches, interpreters int) {
	if o.store == nil {
		return
	}
	rec := UsageRecord{
		Timestamp:            NowUTC(),
		RequestID:            req.RequestID,
		Nick:                 req.Nick,
		Channel:              req.Channel,
		Model:                o.provider.Model(),
		InputTokens:          total.InputTokens,
		CachedTokens:         total.CachedTokens,
		OutputTokens:         total.OutputTokens,
		CostUSD:              o.prices.Cost(o.provider.Model(), total, webSearches),
		ToolCalls:            toolCalls,
		WebSearchCalls:       webSearches,
		CodeInterpreterCalls: interpreters,
	}
	rec.Clamp()
	if err := o.store.LogUsage(ctx, rec); err != nil {
		log.Error("writing usage record failed", "error", err)
	}
}
