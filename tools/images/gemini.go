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

const geminiImageModel = "gemini-2.5-flash-image"

// GeminiTool implements gemini_image against the Gemini generateContent
// API, which returns images inline as base64.
type GeminiTool struct {
	apiKey string
	base   string
	http   *http.Client
	quota  Quota
	paste  Uploader
}

// GeminiOption configures the tool.
type GeminiOption func(*GeminiTool)

// WithGeminiHTTPClient replaces the transport (tests).
func WithGeminiHTTPClient(h *http.Client) GeminiOption {
	return func(t *GeminiTool) { t.http = h }
}

// WithGeminiBaseURL points the tool at a different API host (tests).
func WithGeminiBaseURL(base string) GeminiOption {
	return func(t *GeminiTool) { t.base = strings.TrimRight(base, "/") }
}

func NewGemini(apiKey string, quota Quota, paste Uploader, opts ...GeminiOption) *GeminiTool {
	t := &GeminiTool{
		apiKey: apiKey,
		base:   "https://generativelanguage.googleapis.com/v1beta",
		http:   &http.Client{Timeout: 120 * time.Second},
		quota:  quota,
		paste:  paste,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *GeminiTool) Definitions() []lolo.ToolDefinition {
	return []lolo.ToolDefinition{
		lolo.FunctionDef("gemini_image",
			"Generate an image from a text prompt with Gemini. Good at text rendering and photorealism. Returns a URL. Shares the hourly image quota.",
			`{"type":"object","properties":{
				"prompt":{"type":"string","description":"What to draw"}
			},"required":["prompt"]}`),
	}
}

func (t *GeminiTool) Execute(ctx context.Context, _ string, args json.RawMessage) (lolo.ToolResult, error) {
	if t.apiKey == "" {
		return lolo.ErrorResult("Error: Gemini is not configured."), nil
	}
	var p struct {
		Prompt string `json:"prompt"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return lolo.ErrorResultf("invalid args: %v", err), nil
	}
	if p.Prompt == "" {
		return lolo.ErrorResult("Error: prompt is required"), nil
	}

	payload, err := json.Marshal(map[string]any{
		"contents": []map[string]any{{
			"parts": []map[string]string{{"text": p.Prompt}},
		}},
	})
	if err != nil {
		return lolo.ToolResult{}, err
	}
	url := t.base + "/models/" + geminiImageModel + ":generateContent"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return lolo.ToolResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", t.apiKey)

	resp, err := t.http.Do(req)
	if err != nil {
		return lolo.ErrorResultf("Error generating image: %v", err), nil
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return lolo.ErrorResultf("Error reading Gemini response: %v", err), nil
	}
	if resp.StatusCode != http.StatusOK {
		return lolo.ErrorResultf("Error: Gemini returned %d: %s", resp.StatusCode, string(data)), nil
	}

	var out struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					InlineData *struct {
						MimeType string `json:"mimeType"`
						Data     string `json:"data"`
					} `json:"inlineData"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return lolo.ErrorResultf("Error decoding Gemini response: %v", err), nil
	}
	for _, c := range out.Candidates {
		for _, part := range c.Content.Parts {
			if part.InlineData == nil {
				continue
			}
			img, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil {
				continue
			}
			mime := part.InlineData.MimeType
			if mime == "" {
				mime = "image/png"
			}
			pasteURL, err := t.paste.Upload(ctx, img, mime)
			if err != nil {
				return lolo.ErrorResultf("Error uploading image: %v", err), nil
			}
			t.quota.Record(callerLevel(ctx))
			return lolo.TextResult(pasteURL), nil
		}
	}
	return lolo.ErrorResult("Error: Gemini returned no image"), nil
}
