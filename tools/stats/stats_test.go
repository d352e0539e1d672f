package stats

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
	lastNick string
	summary  lolo.UsageSummary
}

func (s *fakeStore) UsageSince(_ context.Context, nick string, _ time.Time) (lolo.UsageSummary, error) {
	s.lastNick = nick
	return s.summary, nil
}

func exec(t *testing.T, tool *Tool, level lolo.PermissionLevel, args string) lolo.ToolResult {
	t.Helper()
	ctx := lolo.WithCaller(context.Background(), lolo.Caller{Nick: "alice", Level: level})
	result, err := tool.Execute(ctx, "usage_stats", json.RawMessage(args))
	if err != nil {
		t.Fatal(err)
	}
	return result
}

func TestOwnUsage(t *testing.T) {
	store := &fakeStore{summary: lolo.UsageSummary{
		Requests: 3, InputTokens: 1200, CachedTokens: 400,
		OutputTokens: 500, ToolCalls: 2, WebSearchCalls: 1, CostUSD: 0.0123,
	}}
	result := exec(t, New(store), lolo.PermNormal, `{}`)
	if result.Kind != lolo.ResultText {
		t.Fatalf("result = %+v", result)
	}
	if store.lastNick != "alice" {
		t.Fatalf("queried nick = %q", store.lastNick)
	}
	for _, want := range []string{"3 requests", "1200 input tokens (400 cached)", "$0.0123"} {
		if !strings.Contains(result.Content, want) {
			t.Errorf("content %q missing %q", result.Content, want)
		}
	}
}

func TestOtherUserNeedsStaff(t *testing.T) {
	store := &fakeStore{}
	result := exec(t, New(store), lolo.PermNormal, `{"nick":"bob"}`)
	if result.Kind != lolo.ResultError || !strings.HasPrefix(result.Content, "Permission denied") {
		t.Fatalf("result = %+v", result)
	}
	if result = exec(t, New(store), lolo.PermAdmin, `{"nick":"bob"}`); result.Kind == lolo.ResultError {
		t.Fatalf("admin blocked: %+v", result)
	}
	if store.lastNick != "bob" {
		t.Fatalf("queried nick = %q", store.lastNick)
	}
}

func TestEveryoneWildcard(t *testing.T) {
	store := &fakeStore{}
	if result := exec(t, New(store), lolo.PermNormal, `{"nick":"*"}`); result.Kind != lolo.ResultError {
		t.Fatalf("normal user got global stats: %+v", result)
	}

	result := exec(t, New(store), lolo.PermOwner, `{"nick":"*"}`)
	if result.Kind != lolo.ResultText || !strings.Contains(result.Content, "everyone") {
		t.Fatalf("result = %+v", result)
	}
	if store.lastNick != "" {
		t.Fatalf("queried nick = %q, want empty for everyone", store.lastNick)
	}
}

func TestNoUsage(t *testing.T) {
	result := exec(t, New(&fakeStore{}), lolo.PermNormal, `{}`)
	if !strings.Contains(result.Content, "No usage") {
		t.Fatalf("content = %q", result.Content)
	}
}
