// Package code exposes the sandboxed execution tools. python_exec is
// open to everyone; shell_exec is owner-only. Both run inside the
// sandbox container, never on the host.
package code

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nevindra/lolo"
	"github.com/nevindra/lolo/paste"
	"github.com/nevindra/lolo/sandbox"
)

// ShellTimeout is the default for shell_exec.
const ShellTimeout = 30 * time.Second

// Uploader is the slice of the paste client the tools need for files
// produced by executions.
type Uploader interface {
	Upload(ctx context.Context, data []byte, contentType string) (string, error)
}

// Tool implements python_exec and shell_exec.
type Tool struct {
	runner *sandbox.Runner
	paste  Uploader
}

// New creates the code tool. paste may be nil; produced files are then
// reported but not linkable.
func New(runner *sandbox.Runner, uploader Uploader) *Tool {
	return &Tool{runner: runner, paste: uploader}
}

var _ Uploader = (*paste.Client)(nil)

func (t *Tool) Definitions() []lolo.ToolDefinition {
	return []lolo.ToolDefinition{
		lolo.FunctionDef("python_exec",
			"Execute Python code in an isolated sandbox. numpy, matplotlib and requests are available. Plots are saved and returned as URLs. Use for calculations, data processing, or anything a quick script solves.",
			`{"type":"object","properties":{
				"code":{"type":"string","description":"Python source to run"},
				"timeout_seconds":{"type":"integer","description":"Optional timeout, max 180"}
			},"required":["code"]}`),
		lolo.FunctionDef("shell_exec",
			"Execute a shell command in the sandbox (bash, pipes allowed). Owner only.",
			`{"type":"object","properties":{
				"command":{"type":"string","description":"Command line to run"},
				"timeout_seconds":{"type":"integer","description":"Optional timeout, default 30"}
			},"required":["command"]}`),
	}
}

func (t *Tool) Execute(ctx context.Context, name string, args json.RawMessage) (lolo.ToolResult, error) {
	switch name {
	case "python_exec":
		return t.execPython(ctx, args)
	case "shell_exec":
		return t.execShell(ctx, args)
	}
	return lolo.ErrorResultf("unknown code tool: %s", name), nil
}

func (t *Tool) execPython(ctx context.Context, args json.RawMessage) (lolo.ToolResult, error) {
	var p struct {
		Code           string `json:"code"`
		TimeoutSeconds int    `json:"timeout_seconds"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return lolo.ErrorResultf("invalid args: %v", err), nil
	}
	if strings.TrimSpace(p.Code) == "" {
		return lolo.ErrorResult("Error: code is empty"), nil
	}

	result, err := t.runner.RunPython(ctx, p.Code, time.Duration(p.TimeoutSeconds)*time.Second)
	if err != nil {
		return lolo.ErrorResultf("Error running code: %v", err), nil
	}
	return lolo.TextResult(t.render(ctx, result)), nil
}

func (t *Tool) execShell(ctx context.Context, args json.RawMessage) (lolo.ToolResult, error) {
	caller, ok := lolo.CallerFrom(ctx)
	if !ok || caller.Level != lolo.PermOwner {
		return lolo.ErrorResult("Permission denied: shell_exec is owner-only."), nil
	}

	var p struct {
		Command        string `json:"command"`
		TimeoutSeconds int    `json:"timeout_seconds"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return lolo.ErrorResultf("invalid args: %v", err), nil
	}
	if strings.TrimSpace(p.Command) == "" {
		return lolo.ErrorResult("Error: command is empty"), nil
	}
	timeout := ShellTimeout
	if p.TimeoutSeconds > 0 {
		timeout = time.Duration(p.TimeoutSeconds) * time.Second
	}

	result, err := t.runner.RunShell(ctx, p.Command, timeout)
	if err != nil {
		return lolo.ErrorResultf("Error running command: %v", err), nil
	}
	return lolo.TextResult(t.render(ctx, result)), nil
}

// render flattens one execution result for the model. Images are pushed
// to the paste store so only URLs travel through the reasoning chain.
func (t *Tool) render(ctx context.Context, r *sandbox.Result) string {
	var sb strings.Builder
	if r.Stdout != "" {
		sb.WriteString(r.Stdout)
	}
	if r.Stderr != "" {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("stderr:\n")
		sb.WriteString(r.Stderr)
	}
	if r.ExitCode != 0 {
		fmt.Fprintf(&sb, "\n(exit code %d)", r.ExitCode)
	}
	for i, img := range r.Images {
		url := t.uploadImage(ctx, img)
		if url == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "Image %d: %s", i+1, url)
	}
	if sb.Len() == 0 {
		return "(no output)"
	}
	return sb.String()
}

func (t *Tool) uploadImage(ctx context.Context, b64 string) string {
	if t.paste == nil {
		return ""
	}
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return ""
	}
	url, err := t.paste.Upload(ctx, data, "image/png")
	if err != nil {
		return ""
	}
	return url
}
