package youtube

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/nevindra/lolo"
)

// roundTripFunc intercepts the outgoing request; the API endpoint is
// fixed, so tests stub the transport instead of the host.
type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestSearchFormatsResults(t *testing.T) {
	var seenQuery, seenMax string
	client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		seenQuery = r.URL.Query().Get("q")
		seenMax = r.URL.Query().Get("maxResults")
		return jsonResponse(http.StatusOK,
			`{"items":[{"id":{"videoId":"abc123"},"snippet":{"title":"Go Talk","channelTitle":"GopherCon"}}]}`), nil
	})}
	tool := New("key", WithHTTPClient(client))

	args, _ := json.Marshal(map[string]string{"query": "go concurrency"})
	result, err := tool.Execute(context.Background(), "youtube_search", args)
	if err != nil {
		t.Fatal(err)
	}
	if result.Kind != lolo.ResultText {
		t.Fatalf("result = %+v", result)
	}
	if want := "1. Go Talk (GopherCon) https://www.youtube.com/watch?v=abc123"; result.Content != want {
		t.Fatalf("content = %q", result.Content)
	}
	if seenQuery != "go concurrency" || seenMax != "3" {
		t.Fatalf("query = %q, maxResults = %q", seenQuery, seenMax)
	}
}

func TestSearchCapsMaxResults(t *testing.T) {
	var seenMax string
	client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		seenMax = r.URL.Query().Get("maxResults")
		return jsonResponse(http.StatusOK, `{"items":[]}`), nil
	})}
	tool := New("key", WithHTTPClient(client))

	if _, err := tool.Execute(context.Background(), "youtube_search",
		json.RawMessage(`{"query":"x","max_results":50}`)); err != nil {
		t.Fatal(err)
	}
	if seenMax != "10" {
		t.Fatalf("maxResults = %q", seenMax)
	}
}

func TestSearchUnconfigured(t *testing.T) {
	result, err := New("").Execute(context.Background(), "youtube_search",
		json.RawMessage(`{"query":"x"}`))
	if err != nil {
		t.Fatal(err)
	}
	if result.Kind != lolo.ResultError || !strings.Contains(result.Content, "not configured") {
		t.Fatalf("result = %+v", result)
	}
}

func TestSearchRequiresQuery(t *testing.T) {
	result, err := New("key").Execute(context.Background(), "youtube_search", json.RawMessage(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	if result.Kind != lolo.ResultError {
		t.Fatalf("result = %+v", result)
	}
}

func TestSearchNoResults(t *testing.T) {
	client := &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"items":[]}`), nil
	})}
	result, err := New("key", WithHTTPClient(client)).Execute(context.Background(),
		"youtube_search", json.RawMessage(`{"query":"nothing"}`))
	if err != nil {
		t.Fatal(err)
	}
	if result.Content != "No videos found." {
		t.Fatalf("content = %q", result.Content)
	}
}
