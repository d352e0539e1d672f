package history

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/nevindra/lolo"
)

type fakeStore struct {
	lolo.Store
	lastChannel string
	lastKeyword string
	msgs        []lolo.Message
}

func (s *fakeStore) SearchMessagesKeyword(_ context.Context, channel, keyword string, _, _ time.Time, _ int) ([]lolo.Message, error) {
	s.lastChannel = channel
	s.lastKeyword = keyword
	return s.msgs, nil
}

func (s *fakeStore) MessagesBetween(_ context.Context, channel string, _, _ time.Time, _ int) ([]lolo.Message, error) {
	s.lastChannel = channel
	return s.msgs, nil
}

func callerCtx(level lolo.PermissionLevel) context.Context {
	return lolo.WithCaller(context.Background(), lolo.Caller{
		Nick: "alice", Channel: "#home", Level: level,
	})
}

func TestKeywordSearchFormatsLines(t *testing.T) {
	store := &fakeStore{msgs: []lolo.Message{{
		Timestamp: time.Date(2026, 8, 25, 10, 30, 0, 0, time.UTC),
		Nick:      "bob", Content: "deploy went fine",
	}}}
	tool := New(store, nil)

	args, _ := json.Marshal(map[string]any{"search_type": "keyword", "query": "deploy"})
	result, err := tool.Execute(callerCtx(lolo.PermNormal), "query_chat_history", args)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(result.Content, "[2026-08-25 10:30] bob: deploy went fine") {
		t.Fatalf("content = %q", result.Content)
	}
	if store.lastKeyword != "deploy" || store.lastChannel != "#home" {
		t.Fatalf("query went to %q/%q", store.lastChannel, store.lastKeyword)
	}
}

func TestOtherChannelNeedsStaff(t *testing.T) {
	store := &fakeStore{}
	tool := New(store, nil)
	args, _ := json.Marshal(map[string]any{
		"search_type": "keyword", "query": "x", "channel": "#secret",
	})

	result, err := tool.Execute(callerCtx(lolo.PermNormal), "query_chat_history", args)
	if err != nil {
		t.Fatal(err)
	}
	if result.Kind != lolo.ResultError || !strings.HasPrefix(result.Content, "Permission denied") {
		t.Fatalf("result = %+v", result)
	}

	if result, _ = tool.Execute(callerCtx(lolo.PermAdmin), "query_chat_history", args); result.Kind == lolo.ResultError {
		t.Fatalf("admin blocked: %+v", result)
	}
	if store.lastChannel != "#secret" {
		t.Fatalf("channel = %q", store.lastChannel)
	}
}

func TestOwnChannelCaseInsensitive(t *testing.T) {
	store := &fakeStore{}
	tool := New(store, nil)
	args, _ := json.Marshal(map[string]any{
		"search_type": "keyword", "query": "x", "channel": "#HOME",
	})
	result, err := tool.Execute(callerCtx(lolo.PermNormal), "query_chat_history", args)
	if err != nil {
		t.Fatal(err)
	}
	if result.Kind == lolo.ResultError {
		t.Fatalf("own channel rejected: %+v", result)
	}
}

func TestWindowModes(t *testing.T) {
	from, to, err := window("2026-08-01 00:00", "2026-08-02 00:00", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if to.Sub(from) != 24*time.Hour {
		t.Fatalf("explicit window = %v", to.Sub(from))
	}

	from, to, err = window("", "", 2, 15)
	if err != nil {
		t.Fatal(err)
	}
	if to.Sub(from) != 30*time.Minute {
		t.Fatalf("hours_ago window = %v", to.Sub(from))
	}

	if _, _, err = window("2026-08-02 00:00", "2026-08-01 00:00", 0, 0); err == nil {
		t.Fatal("inverted window accepted")
	}
}

func TestEmptyResult(t *testing.T) {
	tool := New(&fakeStore{}, nil)
	args, _ := json.Marshal(map[string]any{"search_type": "keyword", "query": "nothing"})
	result, err := tool.Execute(callerCtx(lolo.PermNormal), "query_chat_history", args)
	if err != nil {
		t.Fatal(err)
	}
	if result.Content != "No matching messages." {
		t.Fatalf("content = %q", result.Content)
	}
}
