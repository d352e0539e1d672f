package lolo

import (
	"strings"
	"testing"
	"time"
)

func TestPromptPrefixStability(t *testing.T) {
	b := NewPromptBuilder("You are a helpful IRC assistant.", "Think deeply.")
	prefix := b.Prefix(false)

	mk := func(nick, msg string, history []HistoryMessage) string {
		return b.Build(PromptInput{
			Timestamp: time.Now().UTC(),
			Channel:   "#chan",
			Nick:      nick,
			Message:   msg,
			History:   history,
		})
	}

	a := mk("alice", "hello", nil)
	c := mk("bob", "completely different question", []HistoryMessage{
		{Timestamp: "2026-08-25 10:00:00", Nick: "eve", Content: "noise"},
	})

	if !strings.HasPrefix(a, prefix) || !strings.HasPrefix(c, prefix) {
		t.Fatal("prompts do not share the stable prefix")
	}
	if a[:len(prefix)] != c[:len(prefix)] {
		t.Fatal("prefix differs between requests")
	}
}

func TestPromptDeepPreambleChangesPrefixOnly(t *testing.T) {
	b := NewPromptBuilder("system", "deep preamble")
	normal := b.Prefix(false)
	deep := b.Prefix(true)
	if normal == deep {
		t.Fatal("deep preamble missing from deep prefix")
	}
	if !strings.Contains(deep, "deep preamble") {
		t.Fatalf("deep prefix = %q", deep)
	}
	if strings.Contains(normal, "deep preamble") {
		t.Fatal("deep preamble leaked into normal prefix")
	}
	// Stable per flag.
	if b.Prefix(true) != deep {
		t.Fatal("deep prefix not stable")
	}
}

func TestPromptSectionsInOrder(t *testing.T) {
	b := NewPromptBuilder("SYSTEM", "").WithMemories([]string{"likes go", "dislikes spam"})
	out := b.Build(PromptInput{
		Timestamp: time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC),
		Channel:   "#chan",
		Nick:      "alice",
		Message:   "what now?",
		History: []HistoryMessage{
			{Timestamp: "2026-08-25 11:59:00", Nick: "bob", Content: "earlier line"},
		},
	})

	order := []string{
		"SYSTEM",
		"- likes go",
		"- dislikes spam",
		"=== CURRENT QUESTION ===",
		"2026-08-25 12:00:00 UTC",
		"alice: what now?",
		"=== RECENT CONVERSATION CONTEXT ===",
		"[2026-08-25 11:59:00] bob: earlier line",
	}
	pos := -1
	for _, want := range order {
		i := strings.Index(out, want)
		if i < 0 {
			t.Fatalf("missing %q in prompt:\n%s", want, out)
		}
		if i < pos {
			t.Fatalf("%q out of order", want)
		}
		pos = i
	}
	// Datetime must not live in the stable prefix.
	if strings.Contains(b.Prefix(false), "2026") {
		t.Fatal("datetime leaked into stable prefix")
	}
}
