package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func testFetcher() *Fetcher {
	return (&Fetcher{}).WithHTTPClient(http.DefaultClient)
}

func TestFetchHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>Test Page</title></head><body><article><p>Hello from the article body, long enough for extraction to keep it around. More words to look like prose.</p></article></body></html>`))
	}))
	defer srv.Close()

	page, err := testFetcher().Fetch(context.Background(), srv.URL, "")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(page.Content, "Hello from the article body") {
		t.Errorf("content = %q", page.Content)
	}
	if page.Truncated {
		t.Error("short page marked truncated")
	}
}

func TestFetchPlainPassthrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/x-go")
		w.Write([]byte("package main\n\nfunc main() {}\n"))
	}))
	defer srv.Close()

	page, err := testFetcher().Fetch(context.Background(), srv.URL, "")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(page.Content, "package main") {
		t.Errorf("code not passed through: %q", page.Content)
	}
}

func TestFetchHTMLLinksBecomeMarkdown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>Links</title></head><body><article><p>Read the release notes before upgrading, there were several breaking changes this cycle. The details live in <a href="/docs/changelog">the changelog</a> along with migration steps.</p></article></body></html>`))
	}))
	defer srv.Close()

	page, err := testFetcher().Fetch(context.Background(), srv.URL, "")
	if err != nil {
		t.Fatal(err)
	}
	want := "[the changelog](" + srv.URL + "/docs/changelog)"
	if !strings.Contains(page.Content, want) {
		t.Errorf("content %q missing markdown link %q", page.Content, want)
	}
}

func TestFetchDocumentUncapped(t *testing.T) {
	long := strings.Repeat("lorem ipsum dolor sit amet ", 2000) // ~54k chars
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(long))
	}))
	defer srv.Close()

	page, err := testFetcher().FetchDocument(context.Background(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Content) != len(long) {
		t.Fatalf("len = %d, want the full %d", len(page.Content), len(long))
	}
	if page.Truncated || strings.Contains(page.Content, TruncationMarker) {
		t.Fatal("document path truncated")
	}
}

func TestFetchRejectsScheme(t *testing.T) {
	if _, err := testFetcher().Fetch(context.Background(), "ftp://example.com/x", ""); err == nil {
		t.Fatal("ftp accepted")
	}
	if _, err := testFetcher().Fetch(context.Background(), "file:///etc/passwd", ""); err == nil {
		t.Fatal("file accepted")
	}
}

func TestFetchStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	if _, err := testFetcher().Fetch(context.Background(), srv.URL, ""); err == nil {
		t.Fatal("404 accepted")
	}
}

func TestWindowTruncates(t *testing.T) {
	p := &Page{Content: strings.Repeat("x", MaxContentChars+500)}
	p.window("")
	if !p.Truncated {
		t.Fatal("not marked truncated")
	}
	if len(p.Content) != MaxContentChars {
		t.Fatalf("len = %d, want %d", len(p.Content), MaxContentChars)
	}
	if !strings.HasSuffix(p.Content, TruncationMarker) {
		t.Fatal("marker missing")
	}
}

func TestWindowSearchTerm(t *testing.T) {
	content := strings.Repeat("a", 30_000) + "NEEDLE section text here" + strings.Repeat("b", 1000)
	p := &Page{Content: content}
	p.window("needle")
	if !strings.Contains(p.Content, "NEEDLE section text here") {
		t.Fatal("window missed the search term")
	}
	// Window starts shortly before the match, not at the document head.
	if strings.HasPrefix(p.Content, strings.Repeat("a", 600)) {
		t.Fatal("window anchored at document start")
	}
}

func TestDialGuardRejectsLoopback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("should not be reachable"))
	}))
	defer srv.Close()

	// The default transport carries the private-address dial guard.
	if _, err := New().Fetch(context.Background(), srv.URL, ""); err == nil {
		t.Fatal("loopback fetch succeeded")
	}
}
