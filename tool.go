package lolo

import (
	"context"
	"encoding/json"
	"fmt"
)

// Wire markers for the HTTP boundary. Internally tool results are typed;
// the markers exist so language-agnostic clients keep working.
const (
	NullMarker   = "<<NULL_RESPONSE>>"
	StatusMarker = "<<STATUS_UPDATE>>"
)

// ToolDefinition is the provider-facing schema of one tool function.
// Native provider-side tools (web search) set Type to the provider's tool
// type and leave Parameters empty; the registry never executes those.
type ToolDefinition struct {
	Type        string          `json:"type"` // "function" or a native type like "web_search"
	Name        string          `json:"name,omitempty"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"` // JSON Schema
}

// FunctionDef builds a function-type definition.
func FunctionDef(name, description string, parameters string) ToolDefinition {
	return ToolDefinition{
		Type:        "function",
		Name:        name,
		Description: description,
		Parameters:  json.RawMessage(parameters),
	}
}

// ResultKind is the tool-result variant tag.
type ResultKind int

const (
	// ResultText is a normal result fed back to the model verbatim.
	ResultText ResultKind = iota
	// ResultStatus requests a processing event upstream; the model sees
	// a brief acknowledgement instead of the status text.
	ResultStatus
	// ResultNull signals an explicit decision not to speak.
	ResultNull
	// ResultError carries a recoverable error string back to the model
	// verbatim (bad input, permission denied, rate limited).
	ResultError
)

// ToolResult is the typed outcome of one tool execution.
type ToolResult struct {
	Kind    ResultKind
	Content string
}

func TextResult(s string) ToolResult   { return ToolResult{Kind: ResultText, Content: s} }
func StatusResult(s string) ToolResult { return ToolResult{Kind: ResultStatus, Content: s} }
func NullResult() ToolResult           { return ToolResult{Kind: ResultNull} }
func ErrorResult(s string) ToolResult  { return ToolResult{Kind: ResultError, Content: s} }

// ErrorResultf builds an error result.
func ErrorResultf(format string, args ...any) ToolResult {
	return ErrorResult(fmt.Sprintf(format, args...))
}

// ModelText returns the string the reasoning chain sees for this result.
func (r ToolResult) ModelText() string {
	switch r.Kind {
	case ResultStatus:
		return "Status reported to user."
	case ResultNull:
		return NullMarker
	}
	return r.Content
}

// Tool is one assistant capability with one or more tool functions.
// Execute must never panic; recoverable problems (bad input, permission
// denied, rate limited) are returned as ErrorResult so the model can
// phrase a reply. The returned error is reserved for internal faults.
type Tool interface {
	Definitions() []ToolDefinition
	Execute(ctx context.Context, name string, args json.RawMessage) (ToolResult, error)
}

// Caller identifies the user behind the current request. The orchestrator
// places it on the context before dispatching tools; permission-gated
// tools read it back with CallerFrom.
type Caller struct {
	RequestID string
	Nick      string
	Channel   string
	Level     PermissionLevel
}

type callerKey struct{}

// WithCaller attaches the caller identity to ctx.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFrom extracts the caller identity. Tools that require one treat a
// missing caller as permission denied.
func CallerFrom(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	return c, ok
}

// Registry holds all registered tools and dispatches execution by name.
// It is populated at startup from the config enable-flags and read-only
// afterwards; names are unique.
type Registry struct {
	tools  []Tool
	byName map[string]Tool
	defs   []ToolDefinition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Tool)}
}

// Add registers a tool. Duplicate function names are rejected.
func (r *Registry) Add(t Tool) error {
	for _, d := range t.Definitions() {
		if d.Type != "function" {
			continue
		}
		if _, dup := r.byName[d.Name]; dup {
			return fmt.Errorf("duplicate tool name %q", d.Name)
		}
	}
	r.tools = append(r.tools, t)
	for _, d := range t.Definitions() {
		if d.Type == "function" {
			r.byName[d.Name] = t
		}
		r.defs = append(r.defs, d)
	}
	return nil
}

// Definitions returns every registered definition, native tools included,
// in registration order.
func (r *Registry) Definitions() []ToolDefinition {
	return r.defs
}

// Names returns the registered function names in registration order.
func (r *Registry) Names() []string {
	var names []string
	for _, d := range r.defs {
		if d.Type == "function" {
			names = append(names, d.Name)
		}
	}
	return names
}

// Execute dispatches a tool call by name. Unknown names come back as an
// ErrorResult so the model can recover.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) (ToolResult, error) {
	t, ok := r.byName[name]
	if !ok {
		return ErrorResultf("unknown tool %q", name), nil
	}
	return t.Execute(ctx, name, args)
}
