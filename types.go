package lolo

import (
	"strings"
	"time"
)

// --- Permission levels ---

// PermissionLevel orders users by privilege: owner > admin > normal > ignored.
type PermissionLevel string

const (
	PermOwner   PermissionLevel = "owner"
	PermAdmin   PermissionLevel = "admin"
	PermNormal  PermissionLevel = "normal"
	PermIgnored PermissionLevel = "ignored"
)

// IsStaff reports whether the level bypasses rate limits and admin gates.
func (p PermissionLevel) IsStaff() bool {
	return p == PermOwner || p == PermAdmin
}

// --- Domain records (database rows) ---

// Message is one persisted IRC line or event. Immutable once written.
type Message struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Channel   string    `json:"channel"`
	Nick      string    `json:"nick"`
	Content   string    `json:"content"`
	IsBot     bool      `json:"is_bot"`
	// EventType distinguishes IRC events (KICK, BAN, QUIT, NICK, JOIN,
	// PART, MODE, TOPIC) from normal messages. Empty for normal messages.
	EventType string `json:"event_type,omitempty"`
}

// UsageRecord is one append-only row in the usage ledger, written once per
// completed request with totals summed across all provider turns.
type UsageRecord struct {
	Timestamp            time.Time `json:"timestamp"`
	RequestID            string    `json:"request_id"`
	Nick                 string    `json:"nick"`
	Channel              string    `json:"channel"`
	Model                string    `json:"model"`
	InputTokens          int       `json:"input_tokens"`
	CachedTokens         int       `json:"cached_tokens"` // subset of InputTokens
	OutputTokens         int       `json:"output_tokens"`
	CostUSD              float64   `json:"cost_usd"`
	ToolCalls            int       `json:"tool_calls"`
	WebSearchCalls       int       `json:"web_search_calls"`
	CodeInterpreterCalls int       `json:"code_interpreter_calls"`
}

// Clamp enforces cached <= input. The provider contract says the inverse
// cannot happen; the ledger refuses to record it anyway.
func (u *UsageRecord) Clamp() {
	if u.CachedTokens > u.InputTokens {
		u.CachedTokens = u.InputTokens
	}
}

// Bug statuses and priorities.
const (
	BugOpen       = "open"
	BugInProgress = "in_progress"
	BugResolved   = "resolved"
	BugWontfix    = "wontfix"
	BugDuplicate  = "duplicate"
)

const (
	PriorityLow      = "low"
	PriorityNormal   = "normal"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

// BugReport is a user-filed ticket.
type BugReport struct {
	ID             int64     `json:"id"`
	Reporter       string    `json:"reporter"`
	Channel        string    `json:"channel"`
	Description    string    `json:"description"`
	Status         string    `json:"status"`
	Priority       string    `json:"priority"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	ResolvedBy     string    `json:"resolved_by,omitempty"`
	ResolutionNote string    `json:"resolution_note,omitempty"`
}

// Reminder types and statuses.
const (
	ReminderTime = "time"
	ReminderJoin = "join"
)

const (
	ReminderPending   = "pending"
	ReminderDelivered = "delivered"
	ReminderCancelled = "cancelled"
	ReminderFailed    = "failed"
)

// Recurrence intervals for time reminders.
const (
	RecurHourly = "hourly"
	RecurDaily  = "daily"
	RecurWeekly = "weekly"
)

// MaxPendingReminders caps pending reminders per creator.
const MaxPendingReminders = 20

// MaxDeliveryAttempts is the offline retry budget before a time reminder
// is marked failed.
const MaxDeliveryAttempts = 10

// Reminder is a persisted delivery request.
// Invariants: Type==ReminderTime implies DeliverAt != nil;
// Type==ReminderJoin implies DeliverAt == nil.
type Reminder struct {
	ID               int64      `json:"id"`
	CreatorNick      string     `json:"creator_nick"`
	TargetNick       string     `json:"target_nick"`
	Channel          string     `json:"channel"`
	Message          string     `json:"message"`
	Type             string     `json:"type"`
	DeliverAt        *time.Time `json:"deliver_at,omitempty"`
	Recurrence       string     `json:"recurrence,omitempty"`
	Status           string     `json:"status"`
	CreatedAt        time.Time  `json:"created_at"`
	DeliveredAt      *time.Time `json:"delivered_at,omitempty"`
	DeliveryAttempts int        `json:"delivery_attempts"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
}

// RecurrencePeriod returns the duration of one recurrence interval,
// or zero for non-recurring reminders.
func (r Reminder) RecurrencePeriod() time.Duration {
	switch r.Recurrence {
	case RecurHourly:
		return time.Hour
	case RecurDaily:
		return 24 * time.Hour
	case RecurWeekly:
		return 7 * 24 * time.Hour
	}
	return 0
}

// IRCLine formats the delivery line, prefixing the creator when the
// reminder was set by someone else.
func (r Reminder) IRCLine() string {
	if strings.EqualFold(r.CreatorNick, r.TargetNick) {
		return r.TargetNick + ": Reminder: " + r.Message
	}
	return r.TargetNick + ": Reminder from " + r.CreatorNick + ": " + r.Message
}

// --- Request DTOs (HTTP boundary wire format) ---

// HistoryMessage is one line of recent conversation context.
type HistoryMessage struct {
	Timestamp string `json:"timestamp"`
	Nick      string `json:"nick"`
	Content   string `json:"content"`
}

// MentionRequest is an inbound mention from the IRC client.
type MentionRequest struct {
	RequestID       string           `json:"request_id"`
	Nick            string           `json:"nick"`
	Hostmask        string           `json:"hostmask,omitempty"`
	Channel         string           `json:"channel"`
	Message         string           `json:"message"`
	PermissionLevel PermissionLevel  `json:"permission_level"`
	History         []HistoryMessage `json:"history,omitempty"`
	DeepMode        bool             `json:"deep_mode,omitempty"`
}

// MentionResponse is the blocking-endpoint reply.
type MentionResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"` // success, error, null
	Message   string `json:"message"`
}

// CommandRequest is an inbound direct command (bypasses the reasoning loop).
type CommandRequest struct {
	RequestID string          `json:"request_id"`
	Command   string          `json:"command"`
	Args      []string        `json:"args"`
	Nick      string          `json:"nick"`
	Hostmask  string          `json:"hostmask,omitempty"`
	Channel   string          `json:"channel"`
	IsPM      bool            `json:"is_pm"`
	Level     PermissionLevel `json:"permission_level"`
}

// CommandResponse is one command reply frame.
type CommandResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
	Message   string `json:"message"`
	Streaming bool   `json:"streaming"`
}

// JoinCheckRequest is posted by the IRC client when a user joins a channel.
type JoinCheckRequest struct {
	Nick    string `json:"nick"`
	Channel string `json:"channel"`
}

// JoinCheckResponse carries the reminder lines to deliver on join.
type JoinCheckResponse struct {
	Messages []string `json:"messages"`
}
