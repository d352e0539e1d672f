package lolo

import (
	"strings"
	"time"
)

// PromptBuilder assembles the provider prompt from ordered sections.
// The stable prefix (system prompt, deep preamble, user memories) comes
// first so the provider's prompt-prefix cache survives conversation
// churn; the volatile tail (current question, history) follows. The
// system prompt must never embed the current datetime for this reason;
// the timestamp lives in the question block.
type PromptBuilder struct {
	systemPrompt string
	deepPreamble string
	memories     []string
}

// NewPromptBuilder creates a builder with the static sections fixed.
func NewPromptBuilder(systemPrompt, deepPreamble string) *PromptBuilder {
	return &PromptBuilder{
		systemPrompt: strings.TrimRight(systemPrompt, "\n"),
		deepPreamble: strings.TrimRight(deepPreamble, "\n"),
	}
}

// WithMemories returns a copy carrying the user's enabled memory entries.
func (b *PromptBuilder) WithMemories(entries []string) *PromptBuilder {
	cp := *b
	cp.memories = entries
	return &cp
}

// PromptInput is the volatile per-request tail.
type PromptInput struct {
	Timestamp time.Time
	Channel   string
	Nick      string
	Message   string
	History   []HistoryMessage
	DeepMode  bool
}

// Prefix returns the stable leading sections for the given deep-mode
// flag. Two requests with the same flag and memory set share this byte
// for byte.
func (b *PromptBuilder) Prefix(deepMode bool) string {
	var sb strings.Builder
	sb.WriteString(b.systemPrompt)
	sb.WriteString("\n")
	if deepMode && b.deepPreamble != "" {
		sb.WriteString("\n")
		sb.WriteString(b.deepPreamble)
		sb.WriteString("\n")
	}
	if len(b.memories) > 0 {
		sb.WriteString("\nWhat you remember about this user:\n")
		for _, m := range b.memories {
			sb.WriteString("- ")
			sb.WriteString(m)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// Build assembles the full prompt: stable prefix, then the current
// question, recent history, and a closing focus instruction.
func (b *PromptBuilder) Build(in PromptInput) string {
	var sb strings.Builder
	sb.WriteString(b.Prefix(in.DeepMode))

	sb.WriteString("\n=== CURRENT QUESTION ===\n")
	sb.WriteString("Time: ")
	sb.WriteString(in.Timestamp.UTC().Format("2006-01-02 15:04:05 UTC"))
	sb.WriteString("\nChannel: ")
	sb.WriteString(in.Channel)
	sb.WriteString("\n")
	sb.WriteString(in.Nick)
	sb.WriteString(": ")
	sb.WriteString(in.Message)
	sb.WriteString("\n")

	if len(in.History) > 0 {
		sb.WriteString("\n=== RECENT CONVERSATION CONTEXT ===\n")
		for _, h := range in.History {
			sb.WriteString("[")
			sb.WriteString(h.Timestamp)
			sb.WriteString("] ")
			sb.WriteString(h.Nick)
			sb.WriteString(": ")
			sb.WriteString(h.Content)
			sb.WriteString("\n")
		}
	}

	sb.WriteString("\nAnswer the CURRENT QUESTION above. The conversation context is background only.\n")
	return sb.String()
}
