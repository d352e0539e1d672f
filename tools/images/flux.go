package images

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nevindra/lolo"
)

const (
	fluxBaseURL    = "https://api.bfl.ai/v1"
	fluxJobTimeout = 120 * time.Second
)

// FluxTool implements flux_create and flux_edit against the BFL API.
// Jobs are async: submit, then poll the returned polling URL.
type FluxTool struct {
	apiKey string
	base   string
	http   *http.Client
	quota  Quota
	paste  Uploader
}

// FluxOption configures the tool.
type FluxOption func(*FluxTool)

// WithFluxHTTPClient replaces the transport (tests).
func WithFluxHTTPClient(h *http.Client) FluxOption {
	return func(t *FluxTool) { t.http = h }
}

// WithFluxBaseURL points the tool at a different API host (tests).
func WithFluxBaseURL(base string) FluxOption {
	return func(t *FluxTool) { t.base = strings.TrimRight(base, "/") }
}

func NewFlux(apiKey string, quota Quota, paste Uploader, opts ...FluxOption) *FluxTool {
	t := &FluxTool{
		apiKey: apiKey,
		base:   fluxBaseURL,
		http:   &http.Client{Timeout: 30 * time.Second},
		quota:  quota,
		paste:  paste,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *FluxTool) Definitions() []lolo.ToolDefinition {
	return []lolo.ToolDefinition{
		lolo.FunctionDef("flux_create",
			"Generate an image from a text prompt with Flux. Returns a URL. Shares the hourly image quota.",
			`{"type":"object","properties":{
				"prompt":{"type":"string","description":"What to draw"},
				"width":{"type":"integer","description":"Optional width, multiple of 16, max 2048"},
				"height":{"type":"integer","description":"Optional height, multiple of 16, max 2048"}
			},"required":["prompt"]}`),
		lolo.FunctionDef("flux_edit",
			"Edit an existing image with a text instruction using Flux. The aspect ratio of the input is preserved. Returns a URL. Shares the hourly image quota.",
			`{"type":"object","properties":{
				"prompt":{"type":"string","description":"The edit to apply"},
				"image_url":{"type":"string","description":"URL of the image to edit"}
			},"required":["prompt","image_url"]}`),
	}
}

func (t *FluxTool) Execute(ctx context.Context, name string, args json.RawMessage) (lolo.ToolResult, error) {
	if t.apiKey == "" {
		return lolo.ErrorResult("Error: Flux is not configured."), nil
	}
	switch name {
	case "flux_create":
		return t.create(ctx, args)
	case "flux_edit":
		return t.edit(ctx, args)
	}
	return lolo.ErrorResultf("unknown flux tool: %s", name), nil
}

func (t *FluxTool) create(ctx context.Context, args json.RawMessage) (lolo.ToolResult, error) {
	var p struct {
		Prompt string `json:"prompt"`
		Width  int    `json:"width"`
		Height int    `json:"height"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return lolo.ErrorResultf("invalid args: %v", err), nil
	}
	if p.Prompt == "" {
		return lolo.ErrorResult("Error: prompt is required"), nil
	}
	if err := validDimensions(p.Width, p.Height); err != nil {
		return lolo.ErrorResultf("Error: %v", err), nil
	}

	body := map[string]any{"prompt": p.Prompt}
	if p.Width > 0 {
		body["width"] = p.Width
	}
	if p.Height > 0 {
		body["height"] = p.Height
	}
	return t.generate(ctx, "/flux-pro-1.1", body)
}

func (t *FluxTool) edit(ctx context.Context, args json.RawMessage) (lolo.ToolResult, error) {
	var p struct {
		Prompt   string `json:"prompt"`
		ImageURL string `json:"image_url"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return lolo.ErrorResultf("invalid args: %v", err), nil
	}
	if p.Prompt == "" || p.ImageURL == "" {
		return lolo.ErrorResult("Error: prompt and image_url are required"), nil
	}

	img, _, err := download(ctx, t.http, p.ImageURL, 50<<20)
	if err != nil {
		return lolo.ErrorResultf("Error fetching input image: %v", err), nil
	}
	body := map[string]any{
		"prompt":      p.Prompt,
		"input_image": base64.StdEncoding.EncodeToString(img),
	}
	return t.generate(ctx, "/flux-kontext-pro", body)
}

// generate submits one job and polls it to completion.
func (t *FluxTool) generate(ctx context.Context, path string, body map[string]any) (lolo.ToolResult, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return lolo.ToolResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.base+path, bytes.NewReader(payload))
	if err != nil {
		return lolo.ToolResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-key", t.apiKey)

	resp, err := t.http.Do(req)
	if err != nil {
		return lolo.ErrorResultf("Error submitting Flux job: %v", err), nil
	}
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return lolo.ErrorResultf("Error reading Flux response: %v", err), nil
	}
	if resp.StatusCode != http.StatusOK {
		return lolo.ErrorResultf("Error: Flux returned %d: %s", resp.StatusCode, string(data)), nil
	}

	var job struct {
		ID         string `json:"id"`
		PollingURL string `json:"polling_url"`
	}
	if err := json.Unmarshal(data, &job); err != nil || job.PollingURL == "" {
		return lolo.ErrorResultf("Error: unexpected Flux response %q", string(data)), nil
	}

	sample, err := t.poll(ctx, job.PollingURL)
	if err != nil {
		return lolo.ErrorResultf("Error: %v", err), nil
	}

	img, contentType, err := download(ctx, t.http, sample, 50<<20)
	if err != nil {
		return lolo.ErrorResultf("Error downloading result: %v", err), nil
	}
	if contentType == "" {
		contentType = "image/jpeg"
	}
	url, err := t.paste.Upload(ctx, img, contentType)
	if err != nil {
		return lolo.ErrorResultf("Error uploading result: %v", err), nil
	}
	t.quota.Record(callerLevel(ctx))
	return lolo.TextResult(url), nil
}

func (t *FluxTool) poll(ctx context.Context, pollingURL string) (string, error) {
	deadline := time.Now().Add(fluxJobTimeout)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(PollInterval):
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pollingURL, nil)
		if err != nil {
			return "", err
		}
		req.Header.Set("x-key", t.apiKey)
		resp, err := t.http.Do(req)
		if err != nil {
			return "", err
		}
		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return "", err
		}

		var status struct {
			Status string `json:"status"`
			Result struct {
				Sample string `json:"sample"`
			} `json:"result"`
		}
		if err := json.Unmarshal(data, &status); err != nil {
			return "", fmt.Errorf("bad poll response: %v", err)
		}
		switch status.Status {
		case "Ready":
			if status.Result.Sample == "" {
				return "", fmt.Errorf("Flux job finished without a result")
			}
			return status.Result.Sample, nil
		case "Error", "Content Moderated", "Request Moderated":
			return "", fmt.Errorf("Flux job failed: %s", status.Status)
		}
	}
	return "", fmt.Errorf("Flux job timed out after %s", fluxJobTimeout)
}
