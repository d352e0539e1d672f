// Package pastebin exposes create_paste for sharing text and code that
// would not fit in an IRC line.
package pastebin

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nevindra/lolo"
	"github.com/nevindra/lolo/paste"
)

// Tool implements create_paste.
type Tool struct {
	client *paste.Client
}

func New(client *paste.Client) *Tool {
	return &Tool{client: client}
}

func (t *Tool) Definitions() []lolo.ToolDefinition {
	return []lolo.ToolDefinition{
		lolo.FunctionDef("create_paste",
			"Upload text or code to the paste service and get a shareable URL. Use for anything longer than a couple of IRC lines.",
			`{"type":"object","properties":{
				"content":{"type":"string","description":"Text to upload"},
				"syntax":{"type":"string","description":"Optional syntax highlight hint, e.g. go, python, text"},
				"expiry_hours":{"type":"integer","description":"Optional expiry in hours; 0 means the service default"}
			},"required":["content"]}`),
	}
}

func (t *Tool) Execute(ctx context.Context, _ string, args json.RawMessage) (lolo.ToolResult, error) {
	var p struct {
		Content     string `json:"content"`
		Syntax      string `json:"syntax"`
		ExpiryHours int    `json:"expiry_hours"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return lolo.ErrorResultf("invalid args: %v", err), nil
	}
	if len(p.Content) == 0 {
		return lolo.ErrorResult("Error: content is empty"), nil
	}

	url, err := t.client.Create(ctx, p.Content, p.Syntax, time.Duration(p.ExpiryHours)*time.Hour)
	if err != nil {
		return lolo.ErrorResultf("Error creating paste: %v", err), nil
	}
	return lolo.TextResult(url), nil
}
