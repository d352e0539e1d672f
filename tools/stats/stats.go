// Package stats exposes usage_stats over the usage ledger.
package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nevindra/lolo"
)

// Tool implements usage_stats.
type Tool struct {
	store lolo.Store
}

func New(store lolo.Store) *Tool {
	return &Tool{store: store}
}

func (t *Tool) Definitions() []lolo.ToolDefinition {
	return []lolo.ToolDefinition{
		lolo.FunctionDef("usage_stats",
			"Show token and cost usage. Users see their own numbers; admins may pass nick=\"\" (everyone) or another nick.",
			`{"type":"object","properties":{
				"nick":{"type":"string","description":"Whose usage; defaults to the requester. Admins may query others or pass \"*\" for everyone."},
				"days":{"type":"integer","description":"Window in days, default 1"}
			}}`),
	}
}

func (t *Tool) Execute(ctx context.Context, _ string, args json.RawMessage) (lolo.ToolResult, error) {
	var p struct {
		Nick string `json:"nick"`
		Days int    `json:"days"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &p); err != nil {
			return lolo.ErrorResultf("invalid args: %v", err), nil
		}
	}

	caller, ok := lolo.CallerFrom(ctx)
	if !ok {
		return lolo.ErrorResult("Permission denied: no caller identity."), nil
	}
	nick := p.Nick
	if nick == "" {
		nick = caller.Nick
	}
	if nick == "*" {
		nick = ""
	}
	if (nick == "" || !strings.EqualFold(nick, caller.Nick)) && !caller.Level.IsStaff() {
		return lolo.ErrorResult("Permission denied: only admins can view other users' usage."), nil
	}

	days := p.Days
	if days <= 0 {
		days = 1
	}
	since := time.Now().UTC().AddDate(0, 0, -days)
	sum, err := t.store.UsageSince(ctx, nick, since)
	if err != nil {
		return lolo.ErrorResultf("Error reading usage: %v", err), nil
	}

	who := nick
	if who == "" {
		who = "everyone"
	}
	if sum.Requests == 0 {
		return lolo.TextResult(fmt.Sprintf("No usage for %s in the last %dd.", who, days)), nil
	}
	return lolo.TextResult(fmt.Sprintf(
		"%s, last %dd: %d requests, %d input tokens (%d cached), %d output tokens, %d tool calls, %d web searches, $%.4f",
		who, days, sum.Requests, sum.InputTokens, sum.CachedTokens,
		sum.OutputTokens, sum.ToolCalls, sum.WebSearchCalls, sum.CostUSD)), nil
}
