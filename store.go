package lolo

import (
	"context"
	"time"
)

// UsageSummary aggregates ledger rows for the usage_stats tool.
type UsageSummary struct {
	Requests             int
	InputTokens          int64
	CachedTokens         int64
	OutputTokens         int64
	CostUSD              float64
	ToolCalls            int
	WebSearchCalls       int
	CodeInterpreterCalls int
}

// Store is the relational persistence contract: messages, the usage
// ledger, bug reports, and reminders. Implementations are single-writer
// with concurrent readers; Init is idempotent.
type Store interface {
	Init(ctx context.Context) error
	Close() error

	// --- Messages (immutable once written) ---
	StoreMessage(ctx context.Context, msg Message) (int64, error)
	// MessagesAfter returns messages with id > afterID, ascending, for
	// the embedding backfill job.
	MessagesAfter(ctx context.Context, afterID int64, limit int) ([]Message, error)
	// SearchMessagesKeyword finds messages by substring within a channel
	// and time window. Empty keyword matches everything in the window.
	SearchMessagesKeyword(ctx context.Context, channel, keyword string, from, to time.Time, limit int) ([]Message, error)
	MessagesBetween(ctx context.Context, channel string, from, to time.Time, limit int) ([]Message, error)

	// --- Usage ledger (append only) ---
	LogUsage(ctx context.Context, rec UsageRecord) error
	UsageSince(ctx context.Context, nick string, since time.Time) (UsageSummary, error)

	// --- Bug reports ---
	CreateBug(ctx context.Context, b BugReport) (int64, error)
	GetBug(ctx context.Context, id int64) (BugReport, error)
	ListBugs(ctx context.Context, status string, limit int) ([]BugReport, error)
	UpdateBug(ctx context.Context, b BugReport) error
	DeleteBug(ctx context.Context, id int64) error

	// --- Reminders ---
	CreateReminder(ctx context.Context, r Reminder) (int64, error)
	GetReminder(ctx context.Context, id int64) (Reminder, error)
	// DueTimeReminders returns pending time reminders with deliver_at <= now.
	DueTimeReminders(ctx context.Context, now time.Time, limit int) ([]Reminder, error)
	// TakeJoinReminders returns pending join reminders for nick in channel
	// (case-insensitive) and marks them delivered in the same transaction.
	TakeJoinReminders(ctx context.Context, nick, channel string, now time.Time) ([]Reminder, error)
	ListPendingReminders(ctx context.Context, nick string, all bool, limit int) ([]Reminder, error)
	CountPendingByCreator(ctx context.Context, creator string) (int, error)
	MarkReminderDelivered(ctx context.Context, id int64, at time.Time) error
	// RescheduleReminder advances deliver_at and resets delivery attempts,
	// preserving the id. Used for recurring deliveries.
	RescheduleReminder(ctx context.Context, id int64, next, deliveredAt time.Time) error
	// IncrementDeliveryAttempts bumps the counter and returns the new value.
	IncrementDeliveryAttempts(ctx context.Context, id int64) (int, error)
	SetReminderStatus(ctx context.Context, id int64, status string) error
}
