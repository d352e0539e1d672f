package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/nevindra/lolo"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s := New(filepath.Join(t.TempDir(), "test.db"))
	if err := s.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMessagesRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	for i, content := range []string{"hello world", "go question", "unrelated"} {
		_, err := s.StoreMessage(ctx, lolo.Message{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Channel:   "#go",
			Nick:      "alice",
			Content:   content,
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	_, err := s.StoreMessage(ctx, lolo.Message{
		Timestamp: base, Channel: "#other", Nick: "bob", Content: "go elsewhere",
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := s.SearchMessagesKeyword(ctx, "#go", "go", base.Add(-time.Hour), base.Add(time.Hour), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Content != "go question" {
		t.Fatalf("search = %+v", got)
	}

	window, err := s.MessagesBetween(ctx, "#go", base, base.Add(time.Minute), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(window) != 2 {
		t.Fatalf("window = %+v", window)
	}

	after, err := s.MessagesAfter(ctx, 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(after) != 3 || after[0].ID != 2 {
		t.Fatalf("after = %+v", after)
	}
}

func TestSearchEscapesLikeWildcards(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	s.StoreMessage(ctx, lolo.Message{Timestamp: now, Channel: "#c", Nick: "a", Content: "100% done"})
	s.StoreMessage(ctx, lolo.Message{Timestamp: now, Channel: "#c", Nick: "a", Content: "100 percent"})

	got, err := s.SearchMessagesKeyword(ctx, "#c", "100%", now.Add(-time.Minute), now.Add(time.Minute), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Content != "100% done" {
		t.Fatalf("search = %+v", got)
	}
}

func TestUsageLedger(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	recs := []lolo.UsageRecord{
		{Timestamp: now, RequestID: "r1", Nick: "alice", Channel: "#c", Model: "gpt-5.2",
			InputTokens: 100, CachedTokens: 40, OutputTokens: 10, CostUSD: 0.01, ToolCalls: 2, WebSearchCalls: 1},
		{Timestamp: now, RequestID: "r2", Nick: "bob", Channel: "#c", Model: "gpt-5.2",
			InputTokens: 50, OutputTokens: 5, CostUSD: 0.005},
		// cached > input must be clamped on write
		{Timestamp: now, RequestID: "r3", Nick: "alice", Channel: "#c", Model: "gpt-5.2",
			InputTokens: 10, CachedTokens: 99},
	}
	for _, r := range recs {
		if err := s.LogUsage(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	alice, err := s.UsageSince(ctx, "alice", now.Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if alice.Requests != 2 || alice.InputTokens != 110 || alice.CachedTokens != 50 {
		t.Fatalf("alice summary = %+v", alice)
	}

	all, err := s.UsageSince(ctx, "", now.Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if all.Requests != 3 || all.WebSearchCalls != 1 {
		t.Fatalf("all summary = %+v", all)
	}
}

func TestBugLifecycle(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	id, err := s.CreateBug(ctx, lolo.BugReport{
		Reporter: "alice", Channel: "#c", Description: "it broke",
		Status: lolo.BugOpen, Priority: lolo.PriorityNormal,
		CreatedAt: now, UpdatedAt: now,
	})
	if err != nil {
		t.Fatal(err)
	}

	b, err := s.GetBug(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	b.Status = lolo.BugResolved
	b.ResolvedBy = "root"
	b.ResolutionNote = "fixed"
	b.UpdatedAt = now.Add(time.Minute)
	if err := s.UpdateBug(ctx, b); err != nil {
		t.Fatal(err)
	}

	open, err := s.ListBugs(ctx, lolo.BugOpen, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 0 {
		t.Fatalf("open bugs = %+v", open)
	}
	resolved, err := s.ListBugs(ctx, lolo.BugResolved, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(resolved) != 1 || resolved[0].ResolvedBy != "root" {
		t.Fatalf("resolved = %+v", resolved)
	}

	if err := s.DeleteBug(ctx, id); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteBug(ctx, id); err == nil {
		t.Fatal("second delete succeeded")
	}
}

func TestTimeReminderFlow(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	due := now.Add(-time.Minute)

	id, err := s.CreateReminder(ctx, lolo.Reminder{
		CreatorNick: "alice", TargetNick: "alice", Channel: "#c", Message: "stretch",
		Type: lolo.ReminderTime, DeliverAt: &due, Status: lolo.ReminderPending, CreatedAt: now,
	})
	if err != nil {
		t.Fatal(err)
	}

	dueList, err := s.DueTimeReminders(ctx, now, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(dueList) != 1 || dueList[0].ID != id {
		t.Fatalf("due = %+v", dueList)
	}

	if n, err := s.IncrementDeliveryAttempts(ctx, id); err != nil || n != 1 {
		t.Fatalf("attempts = %d, err = %v", n, err)
	}

	next := due.Add(time.Hour)
	if err := s.RescheduleReminder(ctx, id, next, now); err != nil {
		t.Fatal(err)
	}
	r, err := s.GetReminder(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if r.DeliveryAttempts != 0 || r.DeliverAt == nil || !r.DeliverAt.Equal(next) {
		t.Fatalf("rescheduled = %+v", r)
	}

	if err := s.MarkReminderDelivered(ctx, id, now); err != nil {
		t.Fatal(err)
	}
	if n, _ := s.CountPendingByCreator(ctx, "alice"); n != 0 {
		t.Fatalf("pending = %d", n)
	}
}

func TestTakeJoinRemindersCaseInsensitiveAndExpiry(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	expired := now.Add(-time.Hour)

	mk := func(target string, expiresAt *time.Time) int64 {
		id, err := s.CreateReminder(ctx, lolo.Reminder{
			CreatorNick: "bob", TargetNick: target, Channel: "#c", Message: "hi",
			Type: lolo.ReminderJoin, Status: lolo.ReminderPending, CreatedAt: now,
			ExpiresAt: expiresAt,
		})
		if err != nil {
			t.Fatal(err)
		}
		return id
	}
	live := mk("Alice", nil)
	dead := mk("alice", &expired)
	mk("carol", nil)

	got, err := s.TakeJoinReminders(ctx, "ALICE", "#c", now)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != live {
		t.Fatalf("taken = %+v", got)
	}

	// Idempotent: already delivered.
	again, err := s.TakeJoinReminders(ctx, "alice", "#c", now)
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 0 {
		t.Fatalf("second take = %+v", again)
	}

	// Expired one was failed, not delivered.
	r, err := s.GetReminder(ctx, dead)
	if err != nil {
		t.Fatal(err)
	}
	if r.Status != lolo.ReminderFailed {
		t.Fatalf("expired status = %q", r.Status)
	}

	// Other users untouched.
	if n, _ := s.CountPendingByCreator(ctx, "bob"); n != 1 {
		t.Fatalf("pending = %d", n)
	}
}
