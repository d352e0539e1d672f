package bugs

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/nevindra/lolo"
)

type memStore struct {
	lolo.Store
	bugs   map[int64]lolo.BugReport
	nextID int64
}

func newMemStore() *memStore {
	return &memStore{bugs: make(map[int64]lolo.BugReport), nextID: 1}
}

func (s *memStore) CreateBug(_ context.Context, b lolo.BugReport) (int64, error) {
	b.ID = s.nextID
	s.nextID++
	s.bugs[b.ID] = b
	return b.ID, nil
}

func (s *memStore) GetBug(_ context.Context, id int64) (lolo.BugReport, error) {
	b, ok := s.bugs[id]
	if !ok {
		return lolo.BugReport{}, fmt.Errorf("no bug %d", id)
	}
	return b, nil
}

func (s *memStore) ListBugs(_ context.Context, status string, _ int) ([]lolo.BugReport, error) {
	var out []lolo.BugReport
	for _, b := range s.bugs {
		if status == "" || b.Status == status {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *memStore) UpdateBug(_ context.Context, b lolo.BugReport) error {
	s.bugs[b.ID] = b
	return nil
}

func (s *memStore) DeleteBug(_ context.Context, id int64) error {
	delete(s.bugs, id)
	return nil
}

func exec(t *testing.T, tool *Tool, level lolo.PermissionLevel, args map[string]any) lolo.ToolResult {
	t.Helper()
	ctx := lolo.WithCaller(context.Background(), lolo.Caller{
		Nick: "alice", Channel: "#chan", Level: level,
	})
	raw, _ := json.Marshal(args)
	result, err := tool.Execute(ctx, "bug_report", raw)
	if err != nil {
		t.Fatal(err)
	}
	return result
}

func TestReportOpenToEveryone(t *testing.T) {
	store := newMemStore()
	tool := New(store)

	result := exec(t, tool, lolo.PermNormal, map[string]any{
		"action": "report", "description": "it crashed",
	})
	if result.Kind != lolo.ResultText || !strings.Contains(result.Content, "Bug #1") {
		t.Fatalf("result = %+v", result)
	}
	b := store.bugs[1]
	if b.Reporter != "alice" || b.Status != lolo.BugOpen || b.Priority != lolo.PriorityNormal {
		t.Fatalf("bug = %+v", b)
	}
}

func TestManagementNeedsStaff(t *testing.T) {
	tool := New(newMemStore())
	for _, action := range []string{"list", "update", "resolve", "delete"} {
		result := exec(t, tool, lolo.PermNormal, map[string]any{"action": action, "id": 1})
		if result.Kind != lolo.ResultError || !strings.HasPrefix(result.Content, "Permission denied") {
			t.Fatalf("%s: result = %+v", action, result)
		}
	}
}

func TestResolveRecordsResolver(t *testing.T) {
	store := newMemStore()
	tool := New(store)
	exec(t, tool, lolo.PermNormal, map[string]any{"action": "report", "description": "bad output"})

	result := exec(t, tool, lolo.PermAdmin, map[string]any{
		"action": "resolve", "id": 1, "note": "fixed upstream",
	})
	if result.Kind != lolo.ResultText {
		t.Fatalf("result = %+v", result)
	}
	b := store.bugs[1]
	if b.Status != lolo.BugResolved || b.ResolvedBy != "alice" || b.ResolutionNote != "fixed upstream" {
		t.Fatalf("bug = %+v", b)
	}
}

func TestListFiltersByStatus(t *testing.T) {
	store := newMemStore()
	tool := New(store)
	exec(t, tool, lolo.PermNormal, map[string]any{"action": "report", "description": "one"})
	exec(t, tool, lolo.PermNormal, map[string]any{"action": "report", "description": "two"})
	exec(t, tool, lolo.PermAdmin, map[string]any{"action": "resolve", "id": 2})

	result := exec(t, tool, lolo.PermAdmin, map[string]any{"action": "list", "status": "open"})
	if !strings.Contains(result.Content, "one") || strings.Contains(result.Content, "two") {
		t.Fatalf("list = %q", result.Content)
	}
}

func TestReportRequiresDescription(t *testing.T) {
	result := exec(t, New(newMemStore()), lolo.PermNormal, map[string]any{"action": "report"})
	if result.Kind != lolo.ResultError {
		t.Fatalf("result = %+v", result)
	}
}
