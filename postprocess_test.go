package lolo

import (
	"reflect"
	"strings"
	"testing"
)

func TestPostProcessFlattensMarkdown(t *testing.T) {
	raw := "Here is **bold** and a [link label](https://example.com/page).\n\n- item one\n- item two"
	out := PostProcess(raw, nil)
	if strings.ContainsAny(out, "\n*") {
		t.Fatalf("markdown survived: %q", out)
	}
	if !strings.Contains(out, "link label") || strings.Contains(out, "https://example.com/page") {
		t.Fatalf("link not reduced to its label: %q", out)
	}
	if !strings.Contains(out, "item one item two") {
		t.Fatalf("list not flattened: %q", out)
	}
}

func TestPostProcessStripsBareDomains(t *testing.T) {
	out := PostProcess("Reported by the Times (nytimes.com) yesterday.", nil)
	if strings.Contains(out, "nytimes.com") {
		t.Fatalf("bare domain survived: %q", out)
	}
	if out != "Reported by the Times yesterday" {
		t.Fatalf("out = %q", out)
	}
}

func TestPostProcessReplacesSourcesSection(t *testing.T) {
	raw := "The answer is 42.\n\nSources:\n- https://old.example/self-authored"
	out := PostProcess(raw, []string{"https://a.example/1", "https://b.example/2"})
	if strings.Contains(out, "old.example") {
		t.Fatalf("self-authored sources survived: %q", out)
	}
	want := "The answer is 42 | Sources: https://a.example/1 , https://b.example/2"
	if out != want {
		t.Fatalf("out = %q, want %q", out, want)
	}
}

func TestPostProcessSingleLine(t *testing.T) {
	out := PostProcess("line one\nline two\n\n\n   line   three.", nil)
	if out != "line one line two line three" {
		t.Fatalf("out = %q", out)
	}
}

func TestPostProcessTrimsSingleTrailingPeriod(t *testing.T) {
	if out := PostProcess("Done..", nil); out != "Done." {
		t.Fatalf("out = %q", out)
	}
}

func TestCleanCitationURL(t *testing.T) {
	cases := map[string]string{
		"https://a.example/p?utm_source=x&utm_medium=y&id=7": "https://a.example/p?id=7",
		"https://a.example/p?utm_campaign=c":                 "https://a.example/p",
		"https://a.example/p?id=7":                           "https://a.example/p?id=7",
		"https://a.example/plain":                            "https://a.example/plain",
	}
	for in, want := range cases {
		if got := CleanCitationURL(in); got != want {
			t.Errorf("CleanCitationURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMergeCitationsOrderAndDedup(t *testing.T) {
	acc := MergeCitations(nil, []string{
		"https://a.example/1?utm_source=feed",
		"https://b.example/2",
	})
	acc = MergeCitations(acc, []string{
		"https://a.example/1", // dup after cleanup
		"https://c.example/3",
		"https://b.example/2", // dup
	})
	want := []string{"https://a.example/1", "https://b.example/2", "https://c.example/3"}
	if !reflect.DeepEqual(acc, want) {
		t.Fatalf("merged = %v, want %v", acc, want)
	}
}
