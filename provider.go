package lolo

import (
	"context"
	"time"
)

// Provider abstracts a responses-style language-model API: one create
// call that accepts either a prompt string or the function outputs of the
// previous turn, and returns typed output items.
type Provider interface {
	// Create runs one provider turn. Exactly one of req.Input or
	// req.FunctionOutputs must be set (Vision requests use req.Vision).
	Create(ctx context.Context, req Request) (*Response, error)
	// Model returns the model name used for usage accounting.
	Model() string
}

// Embedder abstracts text embedding for the vector index.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// Request is one provider turn.
type Request struct {
	// Input is the full prompt. Set on the first turn only; later turns
	// send FunctionOutputs with PreviousResponseID so the provider keeps
	// its prompt-prefix cache and hidden reasoning.
	Input string
	// FunctionOutputs carries tool results back to the model.
	FunctionOutputs []FunctionOutput
	// Vision, when set, makes this a nested vision call: Input and
	// FunctionOutputs are ignored.
	Vision *VisionInput

	Tools                []ToolDefinition
	ReasoningEffort      string // "normal", "medium", "high"
	Verbosity            string
	MaxOutputTokens      int
	Timeout              time.Duration
	PreviousResponseID   string
	PromptCacheRetention time.Duration // 0 = provider default
}

// FunctionOutput is one completed tool call fed back to the model.
type FunctionOutput struct {
	CallID string `json:"call_id"`
	Output string `json:"output"`
}

// VisionInput is the payload for an image-analysis sub-call. Image bytes
// never enter the main reasoning chain; the textual description does.
type VisionInput struct {
	Prompt   string
	ImageURL string // https URL or data: URL with base64 payload
	MimeType string
}

// Output item types returned by the provider.
const (
	ItemMessage             = "message"
	ItemFunctionCall        = "function_call"
	ItemWebSearchCall       = "web_search_call"
	ItemCodeInterpreterCall = "code_interpreter_call"
	ItemReasoning           = "reasoning"
)

// OutputItem is one element of a response. Type selects which fields are
// meaningful: function_call items carry Name/CallID/Arguments, message
// items carry Text and Citations.
type OutputItem struct {
	Type      string
	Name      string
	CallID    string
	Arguments string // raw JSON argument string for function_call items
	Text      string
	Citations []string // url_citation annotation URLs, in order
}

// Usage is the token accounting for one turn. CachedTokens is a subset
// of InputTokens, never an addition.
type Usage struct {
	InputTokens  int
	CachedTokens int
	OutputTokens int
}

// Add accumulates another turn's usage.
func (u *Usage) Add(o Usage) {
	u.InputTokens += o.InputTokens
	u.CachedTokens += o.CachedTokens
	u.OutputTokens += o.OutputTokens
}

// Response is one provider turn's result.
type Response struct {
	ID     string
	Output []OutputItem
	Usage  Usage
}

// OutputText returns the concatenated text of all message items.
func (r *Response) OutputText() string {
	var out string
	for _, item := range r.Output {
		if item.Type == ItemMessage {
			out += item.Text
		}
	}
	return out
}

// FunctionCalls returns the function_call items in output order.
func (r *Response) FunctionCalls() []OutputItem {
	var calls []OutputItem
	for _, item := range r.Output {
		if item.Type == ItemFunctionCall {
			calls = append(calls, item)
		}
	}
	return calls
}

// Citations returns all url_citation URLs across message items, in order
// of appearance. Duplicates are preserved; the orchestrator dedupes after
// URL cleanup.
func (r *Response) Citations() []string {
	var urls []string
	for _, item := range r.Output {
		if item.Type == ItemMessage {
			urls = append(urls, item.Citations...)
		}
	}
	return urls
}

// CountCalls tallies tool-call items by type for the usage ledger.
func (r *Response) CountCalls() (functionCalls, webSearch, codeInterpreter int) {
	for _, item := range r.Output {
		switch item.Type {
		case ItemFunctionCall:
			functionCalls++
		case ItemWebSearchCall:
			webSearch++
		case ItemCodeInterpreterCall:
			codeInterpreter++
		}
	}
	return
}
