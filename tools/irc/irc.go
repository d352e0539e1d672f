// Package irc exposes irc_command, proxying operator actions to the IRC
// frontend. Normal users get the informational subset; moderation
// commands need admin.
package irc

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/nevindra/lolo"
	"github.com/nevindra/lolo/ircx"
)

// informational commands are open to everyone.
var informational = map[string]bool{
	"whois":    true,
	"names":    true,
	"topic":    true,
	"channels": true,
	"uptime":   true,
}

// moderation commands need admin or owner.
var moderation = map[string]bool{
	"kick":      true,
	"ban":       true,
	"unban":     true,
	"mute":      true,
	"unmute":    true,
	"mode":      true,
	"set_topic": true,
	"invite":    true,
}

// Tool implements irc_command.
type Tool struct {
	client *ircx.Client
}

func New(client *ircx.Client) *Tool {
	return &Tool{client: client}
}

func (t *Tool) Definitions() []lolo.ToolDefinition {
	return []lolo.ToolDefinition{
		lolo.FunctionDef("irc_command",
			"Run an IRC command through the bot. Informational commands (whois, names, topic, channels, uptime) are open to everyone; moderation commands (kick, ban, unban, mute, unmute, mode, set_topic, invite) need admin.",
			`{"type":"object","properties":{
				"command":{"type":"string","description":"Command name"},
				"args":{"type":"string","description":"Arguments as one string, e.g. the target nick and reason"},
				"channel":{"type":"string","description":"Channel to act in; defaults to the current one"}
			},"required":["command"]}`),
	}
}

func (t *Tool) Execute(ctx context.Context, _ string, args json.RawMessage) (lolo.ToolResult, error) {
	var p struct {
		Command string `json:"command"`
		Args    string `json:"args"`
		Channel string `json:"channel"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return lolo.ErrorResultf("invalid args: %v", err), nil
	}

	caller, ok := lolo.CallerFrom(ctx)
	if !ok {
		return lolo.ErrorResult("Permission denied: no caller identity."), nil
	}
	cmd := strings.ToLower(strings.TrimSpace(p.Command))
	switch {
	case informational[cmd]:
		// open to everyone
	case moderation[cmd]:
		if !caller.Level.IsStaff() {
			return lolo.ErrorResultf("Permission denied: %s needs admin.", cmd), nil
		}
	default:
		return lolo.ErrorResultf("Error: unknown IRC command %q", cmd), nil
	}

	channel := p.Channel
	if channel == "" {
		channel = caller.Channel
	}
	out, err := t.client.Command(ctx, channel, cmd, p.Args)
	if err != nil {
		return lolo.ErrorResultf("Error running %s: %v", cmd, err), nil
	}
	if out == "" {
		out = "Done."
	}
	return lolo.TextResult(out), nil
}
