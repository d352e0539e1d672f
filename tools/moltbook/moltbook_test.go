package moltbook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nevindra/lolo"
)

func callerCtx(level lolo.PermissionLevel) context.Context {
	return lolo.WithCaller(context.Background(), lolo.Caller{Nick: "alice", Level: level})
}

func TestPostNeedsStaff(t *testing.T) {
	tool := New("http://unused", "key")
	args := json.RawMessage(`{"title":"t","content":"c"}`)

	result, err := tool.Execute(callerCtx(lolo.PermNormal), "moltbook_post", args)
	if err != nil {
		t.Fatal(err)
	}
	if result.Kind != lolo.ResultError || !strings.HasPrefix(result.Content, "Permission denied") {
		t.Fatalf("result = %+v", result)
	}
}

func TestPostPublishes(t *testing.T) {
	var seen map[string]string
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/posts" {
			t.Errorf("path = %s", r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&seen)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"url": "https://moltbook.example/p/1"})
	}))
	defer srv.Close()
	tool := New(srv.URL, "secret")

	args := json.RawMessage(`{"title":"Release notes","content":"body text"}`)
	result, err := tool.Execute(callerCtx(lolo.PermAdmin), "moltbook_post", args)
	if err != nil {
		t.Fatal(err)
	}
	if result.Kind != lolo.ResultText || result.Content != "Posted: https://moltbook.example/p/1" {
		t.Fatalf("result = %+v", result)
	}
	if auth != "Bearer secret" {
		t.Fatalf("auth = %q", auth)
	}
	if seen["submolt"] != "general" {
		t.Fatalf("submolt = %q", seen["submolt"])
	}
}

func TestPostServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()
	tool := New(srv.URL, "key")

	result, err := tool.Execute(callerCtx(lolo.PermOwner), "moltbook_post",
		json.RawMessage(`{"title":"t","content":"c"}`))
	if err != nil {
		t.Fatal(err)
	}
	if result.Kind != lolo.ResultError || !strings.Contains(result.Content, "502") {
		t.Fatalf("result = %+v", result)
	}
}

func TestPostUnconfigured(t *testing.T) {
	tool := New("", "")
	result, err := tool.Execute(callerCtx(lolo.PermAdmin), "moltbook_post",
		json.RawMessage(`{"title":"t","content":"c"}`))
	if err != nil {
		t.Fatal(err)
	}
	if result.Kind != lolo.ResultError || !strings.Contains(result.Content, "not configured") {
		t.Fatalf("result = %+v", result)
	}
}
