// Package control holds the flow-control tools: report_status streams a
// progress line to the user mid-request, null_response declines to answer.
package control

import (
	"context"
	"encoding/json"

	"github.com/nevindra/lolo"
)

// Tool implements report_status and null_response.
type Tool struct{}

func New() *Tool { return &Tool{} }

func (t *Tool) Definitions() []lolo.ToolDefinition {
	return []lolo.ToolDefinition{
		lolo.FunctionDef("report_status",
			"Send a short progress update to the user while you keep working. Use before long operations (searches, code runs, image jobs) so the user knows what is happening.",
			`{"type":"object","properties":{"message":{"type":"string","description":"One short line describing what you are doing right now"}},"required":["message"]}`),
		lolo.FunctionDef("null_response",
			"Decline to reply. Use when the message is not addressed to you, is part of a conversation between other users, or genuinely needs no answer. The user receives nothing.",
			`{"type":"object","properties":{}}`),
	}
}

func (t *Tool) Execute(_ context.Context, name string, args json.RawMessage) (lolo.ToolResult, error) {
	switch name {
	case "report_status":
		var p struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(args, &p); err != nil {
			return lolo.ErrorResultf("invalid args: %v", err), nil
		}
		if p.Message == "" {
			return lolo.ErrorResult("Error: empty status message"), nil
		}
		return lolo.StatusResult(p.Message), nil
	case "null_response":
		return lolo.NullResult(), nil
	}
	return lolo.ErrorResultf("unknown control tool: %s", name), nil
}
