// Package bugs exposes bug_report: anyone can file a ticket, the
// management actions need admin.
package bugs

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nevindra/lolo"
)

// Tool implements bug_report.
type Tool struct {
	store lolo.Store
}

func New(store lolo.Store) *Tool {
	return &Tool{store: store}
}

func (t *Tool) Definitions() []lolo.ToolDefinition {
	return []lolo.ToolDefinition{
		lolo.FunctionDef("bug_report",
			"File and manage bug tickets about the bot. Action \"report\" is open to everyone; list, update, resolve and delete need admin.",
			`{"type":"object","properties":{
				"action":{"type":"string","enum":["report","list","update","resolve","delete"],"description":"What to do"},
				"description":{"type":"string","description":"For report: what went wrong"},
				"id":{"type":"integer","description":"Ticket id for update/resolve/delete"},
				"status":{"type":"string","enum":["open","in_progress","resolved","wontfix","duplicate"],"description":"For update: new status; for list: filter"},
				"priority":{"type":"string","enum":["low","normal","high","critical"],"description":"For report/update"},
				"note":{"type":"string","description":"For resolve: resolution note"}
			},"required":["action"]}`),
	}
}

func (t *Tool) Execute(ctx context.Context, _ string, args json.RawMessage) (lolo.ToolResult, error) {
	var p struct {
		Action      string `json:"action"`
		Description string `json:"description"`
		ID          int64  `json:"id"`
		Status      string `json:"status"`
		Priority    string `json:"priority"`
		Note        string `json:"note"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return lolo.ErrorResultf("invalid args: %v", err), nil
	}

	caller, ok := lolo.CallerFrom(ctx)
	if !ok {
		return lolo.ErrorResult("Permission denied: no caller identity."), nil
	}
	if p.Action != "report" && !caller.Level.IsStaff() {
		return lolo.ErrorResultf("Permission denied: bug %s needs admin.", p.Action), nil
	}

	switch p.Action {
	case "report":
		if strings.TrimSpace(p.Description) == "" {
			return lolo.ErrorResult("Error: description is required"), nil
		}
		priority := p.Priority
		if priority == "" {
			priority = lolo.PriorityNormal
		}
		now := lolo.NowUTC()
		id, err := t.store.CreateBug(ctx, lolo.BugReport{
			Reporter:    caller.Nick,
			Channel:     caller.Channel,
			Description: p.Description,
			Status:      lolo.BugOpen,
			Priority:    priority,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		if err != nil {
			return lolo.ErrorResultf("Error filing bug: %v", err), nil
		}
		return lolo.TextResult(fmt.Sprintf("Bug #%d filed. Thanks!", id)), nil

	case "list":
		bugsList, err := t.store.ListBugs(ctx, p.Status, 20)
		if err != nil {
			return lolo.ErrorResultf("Error listing bugs: %v", err), nil
		}
		if len(bugsList) == 0 {
			return lolo.TextResult("No bugs found."), nil
		}
		var sb strings.Builder
		for _, b := range bugsList {
			fmt.Fprintf(&sb, "#%d [%s/%s] %s (by %s, %s)\n",
				b.ID, b.Status, b.Priority, b.Description, b.Reporter,
				b.CreatedAt.UTC().Format("2006-01-02"))
		}
		return lolo.TextResult(strings.TrimSpace(sb.String())), nil

	case "update":
		b, err := t.store.GetBug(ctx, p.ID)
		if err != nil {
			return lolo.ErrorResultf("Error: bug #%d not found", p.ID), nil
		}
		if p.Status != "" {
			b.Status = p.Status
		}
		if p.Priority != "" {
			b.Priority = p.Priority
		}
		b.UpdatedAt = lolo.NowUTC()
		if err := t.store.UpdateBug(ctx, b); err != nil {
			return lolo.ErrorResultf("Error updating bug #%d: %v", p.ID, err), nil
		}
		return lolo.TextResult(fmt.Sprintf("Bug #%d updated.", p.ID)), nil

	case "resolve":
		b, err := t.store.GetBug(ctx, p.ID)
		if err != nil {
			return lolo.ErrorResultf("Error: bug #%d not found", p.ID), nil
		}
		b.Status = lolo.BugResolved
		b.ResolvedBy = caller.Nick
		b.ResolutionNote = p.Note
		b.UpdatedAt = lolo.NowUTC()
		if err := t.store.UpdateBug(ctx, b); err != nil {
			return lolo.ErrorResultf("Error resolving bug #%d: %v", p.ID, err), nil
		}
		return lolo.TextResult(fmt.Sprintf("Bug #%d resolved.", p.ID)), nil

	case "delete":
		if err := t.store.DeleteBug(ctx, p.ID); err != nil {
			return lolo.ErrorResultf("Error deleting bug #%d: %v", p.ID, err), nil
		}
		return lolo.TextResult(fmt.Sprintf("Bug #%d deleted.", p.ID)), nil
	}
	return lolo.ErrorResultf("unknown action %q", p.Action), nil
}
