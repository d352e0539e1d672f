package reminder

import (
	"context"
	"testing"
	"time"

	"github.com/nevindra/lolo"
)

type memStore struct {
	lolo.Store
	reminders map[int64]*lolo.Reminder
}

func newMemStore() *memStore {
	return &memStore{reminders: make(map[int64]*lolo.Reminder)}
}

func (s *memStore) add(r lolo.Reminder) *lolo.Reminder {
	cp := r
	s.reminders[cp.ID] = &cp
	return &cp
}

func (s *memStore) DueTimeReminders(_ context.Context, now time.Time, _ int) ([]lolo.Reminder, error) {
	var due []lolo.Reminder
	for _, r := range s.reminders {
		if r.Status == lolo.ReminderPending && r.Type == lolo.ReminderTime &&
			r.DeliverAt != nil && !r.DeliverAt.After(now) {
			due = append(due, *r)
		}
	}
	return due, nil
}

func (s *memStore) IncrementDeliveryAttempts(_ context.Context, id int64) (int, error) {
	s.reminders[id].DeliveryAttempts++
	return s.reminders[id].DeliveryAttempts, nil
}

func (s *memStore) SetReminderStatus(_ context.Context, id int64, status string) error {
	s.reminders[id].Status = status
	return nil
}

func (s *memStore) MarkReminderDelivered(_ context.Context, id int64, at time.Time) error {
	r := s.reminders[id]
	r.Status = lolo.ReminderDelivered
	r.DeliveredAt = &at
	return nil
}

func (s *memStore) RescheduleReminder(_ context.Context, id int64, next, deliveredAt time.Time) error {
	r := s.reminders[id]
	r.DeliverAt = &next
	r.DeliveredAt = &deliveredAt
	r.DeliveryAttempts = 0
	return nil
}

type fakeNotifier struct {
	online bool
	sent   []string
}

func (n *fakeNotifier) UserStatus(_ context.Context, _, _ string) (bool, error) {
	return n.online, nil
}

func (n *fakeNotifier) SendMessage(_ context.Context, _ string, message string) error {
	n.sent = append(n.sent, message)
	return nil
}

func testScheduler(store *memStore, notifier *fakeNotifier, now time.Time) *Scheduler {
	s := New(store, notifier, nil)
	s.now = func() time.Time { return now }
	return s
}

func TestTickDeliversWhenOnline(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	due := now.Add(-time.Minute)
	store := newMemStore()
	store.add(lolo.Reminder{
		ID: 1, CreatorNick: "bob", TargetNick: "alice", Channel: "#c",
		Message: "meeting", Type: lolo.ReminderTime, DeliverAt: &due,
		Status: lolo.ReminderPending,
	})
	notifier := &fakeNotifier{online: true}

	if err := testScheduler(store, notifier, now).Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(notifier.sent) != 1 || notifier.sent[0] != "alice: Reminder from bob: meeting" {
		t.Fatalf("sent = %v", notifier.sent)
	}
	if store.reminders[1].Status != lolo.ReminderDelivered {
		t.Fatalf("status = %q", store.reminders[1].Status)
	}
}

func TestTickOfflineRetriesThenFails(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	due := now.Add(-time.Minute)
	store := newMemStore()
	store.add(lolo.Reminder{
		ID: 1, CreatorNick: "alice", TargetNick: "alice", Channel: "#c",
		Message: "hi", Type: lolo.ReminderTime, DeliverAt: &due,
		Status: lolo.ReminderPending,
	})
	notifier := &fakeNotifier{online: false}
	s := testScheduler(store, notifier, now)

	for i := 1; i < lolo.MaxDeliveryAttempts; i++ {
		if err := s.Tick(context.Background()); err != nil {
			t.Fatal(err)
		}
		if store.reminders[1].Status != lolo.ReminderPending {
			t.Fatalf("failed early at attempt %d", i)
		}
	}
	if err := s.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if store.reminders[1].Status != lolo.ReminderFailed {
		t.Fatalf("status = %q after %d attempts", store.reminders[1].Status, lolo.MaxDeliveryAttempts)
	}
	if len(notifier.sent) != 0 {
		t.Fatalf("sent while offline: %v", notifier.sent)
	}
}

func TestTickRecurringAdvancesFromScheduledTime(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 7, 0, 0, time.UTC)
	due := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	store := newMemStore()
	store.add(lolo.Reminder{
		ID: 1, CreatorNick: "alice", TargetNick: "alice", Channel: "#c",
		Message: "hourly check", Type: lolo.ReminderTime, DeliverAt: &due,
		Recurrence: lolo.RecurHourly, Status: lolo.ReminderPending,
		DeliveryAttempts: 3,
	})
	notifier := &fakeNotifier{online: true}

	if err := testScheduler(store, notifier, now).Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	r := store.reminders[1]
	if r.Status != lolo.ReminderPending {
		t.Fatalf("recurring reminder left pending loop: %q", r.Status)
	}
	// 13:00, not 13:07: the cadence anchors on the scheduled time.
	want := due.Add(time.Hour)
	if r.DeliverAt == nil || !r.DeliverAt.Equal(want) {
		t.Fatalf("next = %v, want %v", r.DeliverAt, want)
	}
	if r.DeliveryAttempts != 0 {
		t.Fatalf("attempts not reset: %d", r.DeliveryAttempts)
	}
}

func TestTickExpiredReminderFails(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	due := now.Add(-2 * time.Hour)
	expired := now.Add(-time.Hour)
	store := newMemStore()
	store.add(lolo.Reminder{
		ID: 1, CreatorNick: "a", TargetNick: "a", Channel: "#c", Message: "old",
		Type: lolo.ReminderTime, DeliverAt: &due, Status: lolo.ReminderPending,
		ExpiresAt: &expired,
	})
	notifier := &fakeNotifier{online: true}

	if err := testScheduler(store, notifier, now).Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if store.reminders[1].Status != lolo.ReminderFailed {
		t.Fatalf("status = %q", store.reminders[1].Status)
	}
	if len(notifier.sent) != 0 {
		t.Fatalf("expired reminder delivered: %v", notifier.sent)
	}
}
