package images

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nevindra/lolo"
)

// GPTImageTool implements gpt_image against the OpenAI images API.
type GPTImageTool struct {
	apiKey string
	model  string
	base   string
	http   *http.Client
	quota  Quota
	paste  Uploader
}

// GPTImageOption configures the tool.
type GPTImageOption func(*GPTImageTool)

// WithGPTImageHTTPClient replaces the transport (tests).
func WithGPTImageHTTPClient(h *http.Client) GPTImageOption {
	return func(t *GPTImageTool) { t.http = h }
}

// WithGPTImageBaseURL points the tool at a different API host (tests).
func WithGPTImageBaseURL(base string) GPTImageOption {
	return func(t *GPTImageTool) { t.base = strings.TrimRight(base, "/") }
}

func NewGPTImage(apiKey, model string, quota Quota, paste Uploader, opts ...GPTImageOption) *GPTImageTool {
	if model == "" {
		model = "gpt-image-1.5"
	}
	t := &GPTImageTool{
		apiKey: apiKey,
		model:  model,
		base:   "https://api.openai.com/v1",
		http:   &http.Client{Timeout: 120 * time.Second},
		quota:  quota,
		paste:  paste,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *GPTImageTool) Definitions() []lolo.ToolDefinition {
	return []lolo.ToolDefinition{
		lolo.FunctionDef("gpt_image",
			"Generate one or more images from a text prompt with the OpenAI image model. Returns URLs joined with |. Shares the hourly image quota.",
			`{"type":"object","properties":{
				"prompt":{"type":"string","description":"What to draw"},
				"size":{"type":"string","enum":["1024x1024","1536x1024","1024x1536"],"description":"Optional size, default 1024x1024"},
				"n":{"type":"integer","description":"Number of images, default 1, max 4"}
			},"required":["prompt"]}`),
	}
}

func (t *GPTImageTool) Execute(ctx context.Context, _ string, args json.RawMessage) (lolo.ToolResult, error) {
	if t.apiKey == "" {
		return lolo.ErrorResult("Error: image generation is not configured."), nil
	}
	var p struct {
		Prompt string `json:"prompt"`
		Size   string `json:"size"`
		N      int    `json:"n"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return lolo.ErrorResultf("invalid args: %v", err), nil
	}
	if p.Prompt == "" {
		return lolo.ErrorResult("Error: prompt is required"), nil
	}
	if p.N <= 0 {
		p.N = 1
	}
	if p.N > 4 {
		p.N = 4
	}

	body := map[string]any{"model": t.model, "prompt": p.Prompt, "n": p.N}
	if p.Size != "" {
		body["size"] = p.Size
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return lolo.ToolResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.base+"/images/generations", bytes.NewReader(payload))
	if err != nil {
		return lolo.ToolResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := t.http.Do(req)
	if err != nil {
		return lolo.ErrorResultf("Error generating image: %v", err), nil
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return lolo.ErrorResultf("Error reading image response: %v", err), nil
	}
	if resp.StatusCode != http.StatusOK {
		return lolo.ErrorResultf("Error: image API returned %d: %s", resp.StatusCode, string(data)), nil
	}

	var out struct {
		Data []struct {
			B64JSON string `json:"b64_json"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &out); err != nil || len(out.Data) == 0 {
		return lolo.ErrorResult("Error: image API returned no images"), nil
	}

	var urls []string
	for _, d := range out.Data {
		img, err := base64.StdEncoding.DecodeString(d.B64JSON)
		if err != nil {
			continue
		}
		url, err := t.paste.Upload(ctx, img, "image/png")
		if err != nil {
			return lolo.ErrorResultf("Error uploading image: %v", err), nil
		}
		urls = append(urls, url)
	}
	if len(urls) == 0 {
		return lolo.ErrorResult("Error: no decodable images in response"), nil
	}
	t.quota.Record(callerLevel(ctx))
	return lolo.TextResult(strings.Join(urls, "|")), nil
}
