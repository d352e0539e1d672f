// Package remind exposes the reminder tool: create time or join
// reminders, list pending ones, cancel.
package remind

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nevindra/lolo"
)

const (
	// JoinExpiry bounds how long a join reminder waits for its target.
	JoinExpiry = 30 * 24 * time.Hour
	// RecurringExpiry bounds recurring reminders unless cancelled.
	RecurringExpiry = 365 * 24 * time.Hour
)

// Tool implements the reminder family.
type Tool struct {
	store lolo.Store
	now   func() time.Time
}

func New(store lolo.Store) *Tool {
	return &Tool{store: store, now: time.Now}
}

func (t *Tool) Definitions() []lolo.ToolDefinition {
	return []lolo.ToolDefinition{
		lolo.FunctionDef("reminder_create",
			"Create a reminder. type \"time\" fires at a given UTC time (optionally recurring); type \"join\" fires the next time the target joins this channel. Target defaults to the requester.",
			`{"type":"object","properties":{
				"type":{"type":"string","enum":["time","join"],"description":"When to deliver"},
				"message":{"type":"string","description":"What to say"},
				"target":{"type":"string","description":"Nick to remind; defaults to the requester"},
				"deliver_at":{"type":"string","description":"For time reminders: UTC time, format 2006-01-02 15:04"},
				"in_minutes":{"type":"integer","description":"For time reminders: alternative to deliver_at, minutes from now"},
				"recurrence":{"type":"string","enum":["hourly","daily","weekly"],"description":"Optional repeat cadence for time reminders"}
			},"required":["type","message"]}`),
		lolo.FunctionDef("reminder_list",
			"List pending reminders. Requesters see their own; admins may pass all=true.",
			`{"type":"object","properties":{
				"all":{"type":"boolean","description":"Admins: list everyone's pending reminders"}
			}}`),
		lolo.FunctionDef("reminder_cancel",
			"Cancel a pending reminder by id. Only the creator or an admin may cancel.",
			`{"type":"object","properties":{
				"id":{"type":"integer","description":"Reminder id as shown by reminder_list"}
			},"required":["id"]}`),
	}
}

func (t *Tool) Execute(ctx context.Context, name string, args json.RawMessage) (lolo.ToolResult, error) {
	caller, ok := lolo.CallerFrom(ctx)
	if !ok {
		return lolo.ErrorResult("Permission denied: no caller identity."), nil
	}
	switch name {
	case "reminder_create":
		return t.create(ctx, caller, args)
	case "reminder_list":
		return t.list(ctx, caller, args)
	case "reminder_cancel":
		return t.cancel(ctx, caller, args)
	}
	return lolo.ErrorResultf("unknown reminder tool: %s", name), nil
}

func (t *Tool) create(ctx context.Context, caller lolo.Caller, args json.RawMessage) (lolo.ToolResult, error) {
	var p struct {
		Type       string `json:"type"`
		Message    string `json:"message"`
		Target     string `json:"target"`
		DeliverAt  string `json:"deliver_at"`
		InMinutes  int    `json:"in_minutes"`
		Recurrence string `json:"recurrence"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return lolo.ErrorResultf("invalid args: %v", err), nil
	}
	if strings.TrimSpace(p.Message) == "" {
		return lolo.ErrorResult("Error: message is required"), nil
	}

	pending, err := t.store.CountPendingByCreator(ctx, caller.Nick)
	if err != nil {
		return lolo.ErrorResultf("Error checking reminders: %v", err), nil
	}
	if pending >= lolo.MaxPendingReminders {
		return lolo.ErrorResultf("Error: you already have %d pending reminders, cancel some first.", pending), nil
	}

	target := p.Target
	if target == "" {
		target = caller.Nick
	}
	now := t.now().UTC()
	r := lolo.Reminder{
		CreatorNick: caller.Nick,
		TargetNick:  target,
		Channel:     caller.Channel,
		Message:     p.Message,
		Status:      lolo.ReminderPending,
		CreatedAt:   now,
	}

	switch p.Type {
	case lolo.ReminderJoin:
		r.Type = lolo.ReminderJoin
		expires := now.Add(JoinExpiry)
		r.ExpiresAt = &expires

	case lolo.ReminderTime:
		r.Type = lolo.ReminderTime
		var at time.Time
		switch {
		case p.InMinutes > 0:
			at = now.Add(time.Duration(p.InMinutes) * time.Minute)
		case p.DeliverAt != "":
			at, err = parseTime(p.DeliverAt)
			if err != nil {
				return lolo.ErrorResultf("Error: %v", err), nil
			}
		default:
			return lolo.ErrorResult("Error: time reminders need deliver_at or in_minutes"), nil
		}
		if !at.After(now) {
			return lolo.ErrorResult("Error: delivery time is in the past"), nil
		}
		r.DeliverAt = &at
		switch p.Recurrence {
		case "", lolo.RecurHourly, lolo.RecurDaily, lolo.RecurWeekly:
			r.Recurrence = p.Recurrence
		default:
			return lolo.ErrorResultf("Error: unknown recurrence %q", p.Recurrence), nil
		}
		if r.Recurrence != "" {
			expires := now.Add(RecurringExpiry)
			r.ExpiresAt = &expires
		}

	default:
		return lolo.ErrorResultf("Error: unknown reminder type %q", p.Type), nil
	}

	id, err := t.store.CreateReminder(ctx, r)
	if err != nil {
		return lolo.ErrorResultf("Error creating reminder: %v", err), nil
	}
	return lolo.TextResult(describe(id, r)), nil
}

func (t *Tool) list(ctx context.Context, caller lolo.Caller, args json.RawMessage) (lolo.ToolResult, error) {
	var p struct {
		All bool `json:"all"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &p); err != nil {
			return lolo.ErrorResultf("invalid args: %v", err), nil
		}
	}
	if p.All && !caller.Level.IsStaff() {
		return lolo.ErrorResult("Permission denied: listing everyone's reminders needs admin."), nil
	}

	reminders, err := t.store.ListPendingReminders(ctx, caller.Nick, p.All, 50)
	if err != nil {
		return lolo.ErrorResultf("Error listing reminders: %v", err), nil
	}
	if len(reminders) == 0 {
		return lolo.TextResult("No pending reminders."), nil
	}
	var sb strings.Builder
	for _, r := range reminders {
		sb.WriteString(describe(r.ID, r))
		sb.WriteString("\n")
	}
	return lolo.TextResult(strings.TrimSpace(sb.String())), nil
}

func (t *Tool) cancel(ctx context.Context, caller lolo.Caller, args json.RawMessage) (lolo.ToolResult, error) {
	var p struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return lolo.ErrorResultf("invalid args: %v", err), nil
	}
	r, err := t.store.GetReminder(ctx, p.ID)
	if err != nil {
		return lolo.ErrorResultf("Error: reminder %d not found", p.ID), nil
	}
	if !strings.EqualFold(r.CreatorNick, caller.Nick) && !caller.Level.IsStaff() {
		return lolo.ErrorResult("Permission denied: only the creator or an admin can cancel a reminder."), nil
	}
	if r.Status != lolo.ReminderPending {
		return lolo.ErrorResultf("Error: reminder %d is %s, not pending", p.ID, r.Status), nil
	}
	if err := t.store.SetReminderStatus(ctx, p.ID, lolo.ReminderCancelled); err != nil {
		return lolo.ErrorResultf("Error cancelling reminder: %v", err), nil
	}
	return lolo.TextResult(fmt.Sprintf("Cancelled reminder %d.", p.ID)), nil
}

func describe(id int64, r lolo.Reminder) string {
	var when string
	switch r.Type {
	case lolo.ReminderJoin:
		when = "next join of " + r.TargetNick + " in " + r.Channel
	default:
		when = r.DeliverAt.UTC().Format("2006-01-02 15:04") + " UTC"
		if r.Recurrence != "" {
			when += ", repeats " + r.Recurrence
		}
	}
	return fmt.Sprintf("#%d for %s (%s): %s", id, r.TargetNick, when, r.Message)
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02 15:04", "2006-01-02 15:04:05", time.RFC3339} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q, use 2006-01-02 15:04 (UTC)", s)
}
