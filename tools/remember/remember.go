// Package remember exposes manage_user_rules, the multi-entry per-user
// memory the prompt assembler renders as "What you remember about this
// user".
package remember

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nevindra/lolo"
	"github.com/nevindra/lolo/rules"
)

// Tool implements manage_user_rules.
type Tool struct {
	store *rules.Store
}

func New(store *rules.Store) *Tool {
	return &Tool{store: store}
}

func (t *Tool) Definitions() []lolo.ToolDefinition {
	return []lolo.ToolDefinition{
		lolo.FunctionDef("manage_user_rules",
			"Manage what you remember about a user: standing preferences, facts, instructions. Actions: list, add, update, delete, enable, disable, clear. Only admins may target another user.",
			`{"type":"object","properties":{
				"action":{"type":"string","enum":["list","add","update","delete","enable","disable","clear"],"description":"What to do"},
				"content":{"type":"string","description":"Entry text for add/update"},
				"id":{"type":"integer","description":"Entry id for update/delete/enable/disable"},
				"nick":{"type":"string","description":"Target user; defaults to the requester"}
			},"required":["action"]}`),
	}
}

func (t *Tool) Execute(ctx context.Context, _ string, args json.RawMessage) (lolo.ToolResult, error) {
	var p struct {
		Action  string `json:"action"`
		Content string `json:"content"`
		ID      int    `json:"id"`
		Nick    string `json:"nick"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return lolo.ErrorResultf("invalid args: %v", err), nil
	}

	caller, ok := lolo.CallerFrom(ctx)
	if !ok {
		return lolo.ErrorResult("Permission denied: no caller identity."), nil
	}
	nick := p.Nick
	if nick == "" {
		nick = caller.Nick
	}
	if !strings.EqualFold(nick, caller.Nick) && !caller.Level.IsStaff() {
		return lolo.ErrorResult("Permission denied: only admins can manage another user's memories."), nil
	}

	switch p.Action {
	case "list":
		entries := t.store.List(nick)
		if len(entries) == 0 {
			return lolo.TextResult(fmt.Sprintf("No memories for %s.", nick)), nil
		}
		var sb strings.Builder
		for _, e := range entries {
			state := ""
			if !e.Enabled {
				state = " (disabled)"
			}
			fmt.Fprintf(&sb, "%d. %s%s\n", e.ID, e.Content, state)
		}
		return lolo.TextResult(strings.TrimSpace(sb.String())), nil

	case "add":
		if strings.TrimSpace(p.Content) == "" {
			return lolo.ErrorResult("Error: content is required for add"), nil
		}
		entry, err := t.store.Add(nick, p.Content)
		if err != nil {
			return lolo.ErrorResultf("Error adding memory: %v", err), nil
		}
		return lolo.TextResult(fmt.Sprintf("Remembered (id %d): %s", entry.ID, entry.Content)), nil

	case "update":
		if strings.TrimSpace(p.Content) == "" {
			return lolo.ErrorResult("Error: content is required for update"), nil
		}
		if err := t.store.Update(nick, p.ID, p.Content); err != nil {
			return lolo.ErrorResultf("Error updating memory %d: %v", p.ID, err), nil
		}
		return lolo.TextResult(fmt.Sprintf("Updated memory %d.", p.ID)), nil

	case "delete":
		if err := t.store.Delete(nick, p.ID); err != nil {
			return lolo.ErrorResultf("Error deleting memory %d: %v", p.ID, err), nil
		}
		return lolo.TextResult(fmt.Sprintf("Deleted memory %d.", p.ID)), nil

	case "enable", "disable":
		enabled := p.Action == "enable"
		if err := t.store.SetEnabled(nick, p.ID, enabled); err != nil {
			return lolo.ErrorResultf("Error on memory %d: %v", p.ID, err), nil
		}
		return lolo.TextResult(fmt.Sprintf("Memory %d %sd.", p.ID, p.Action)), nil

	case "clear":
		if err := t.store.Clear(nick); err != nil {
			return lolo.ErrorResultf("Error clearing memories: %v", err), nil
		}
		return lolo.TextResult(fmt.Sprintf("Cleared all memories for %s.", nick)), nil
	}
	return lolo.ErrorResultf("unknown action %q", p.Action), nil
}
