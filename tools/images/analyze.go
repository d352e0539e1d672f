package images

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"strings"
	"time"

	"github.com/nevindra/lolo"
)

// MaxImageBytes caps analyze_image downloads.
const MaxImageBytes = 50 << 20

// AnalyzeTool implements analyze_image. It validates the image and
// returns a JSON carrier; the orchestrator runs the vision sub-call so
// image bytes never enter the main reasoning chain.
type AnalyzeTool struct {
	http *http.Client
}

// AnalyzeOption configures the tool.
type AnalyzeOption func(*AnalyzeTool)

// WithAnalyzeHTTPClient replaces the transport (tests).
func WithAnalyzeHTTPClient(h *http.Client) AnalyzeOption {
	return func(t *AnalyzeTool) { t.http = h }
}

func NewAnalyze(opts ...AnalyzeOption) *AnalyzeTool {
	t := &AnalyzeTool{http: &http.Client{Timeout: 30 * time.Second}}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *AnalyzeTool) Definitions() []lolo.ToolDefinition {
	return []lolo.ToolDefinition{
		lolo.FunctionDef("analyze_image",
			"Look at an image and describe it or answer a question about it. Supports png, jpeg, webp and non-animated gif up to 50 MB.",
			`{"type":"object","properties":{
				"image_url":{"type":"string","description":"URL of the image"},
				"prompt":{"type":"string","description":"What to look for; defaults to a general description"}
			},"required":["image_url"]}`),
	}
}

func (t *AnalyzeTool) Execute(ctx context.Context, _ string, args json.RawMessage) (lolo.ToolResult, error) {
	var p struct {
		ImageURL string `json:"image_url"`
		Prompt   string `json:"prompt"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return lolo.ErrorResultf("invalid args: %v", err), nil
	}
	if p.ImageURL == "" {
		return lolo.ErrorResult("Error: image_url is required"), nil
	}
	if p.Prompt == "" {
		p.Prompt = "Describe this image in detail."
	}

	data, contentType, err := download(ctx, t.http, p.ImageURL, MaxImageBytes)
	if err != nil {
		return lolo.ErrorResultf("Error fetching image: %v", err), nil
	}
	mime, err := validateImage(data, contentType)
	if err != nil {
		return lolo.ErrorResultf("Error: %v", err), nil
	}

	// estimated_tokens rides along for logging; the orchestrator only
	// reads the first three fields.
	carrier, err := json.Marshal(struct {
		Prompt          string `json:"prompt"`
		ImageURL        string `json:"image_url"`
		MimeType        string `json:"mime_type"`
		EstimatedTokens int    `json:"estimated_tokens"`
	}{Prompt: p.Prompt, ImageURL: p.ImageURL, MimeType: mime, EstimatedTokens: EstimateVisionTokens(data)})
	if err != nil {
		return lolo.ToolResult{}, err
	}
	return lolo.TextResult(string(carrier)), nil
}

// validateImage checks the sniffed type against the supported set and
// rejects animated gifs. Returns the normalized mime type.
func validateImage(data []byte, headerType string) (string, error) {
	mime := http.DetectContentType(data)
	if mime == "application/octet-stream" && headerType != "" {
		mime = headerType
	}
	switch {
	case mime == "image/png", mime == "image/jpeg", mime == "image/webp":
		return mime, nil
	case mime == "image/gif":
		if animatedGIF(data) {
			return "", fmt.Errorf("animated gifs are not supported")
		}
		return mime, nil
	case strings.HasPrefix(mime, "image/"):
		return "", fmt.Errorf("unsupported image format %s, use png, jpeg, webp or gif", mime)
	}
	return "", fmt.Errorf("not an image (%s)", mime)
}

// animatedGIF reports whether the gif holds more than one graphic
// control extension, i.e. more than one frame.
func animatedGIF(data []byte) bool {
	return bytes.Count(data, []byte{0x21, 0xF9, 0x04}) > 1
}

// EstimateVisionTokens approximates the vision token cost of an image
// from its pixel dimensions: one base charge plus one per 512px tile.
// Undecodable dimensions get a flat high estimate.
func EstimateVisionTokens(data []byte) int {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 1105 // 85 + 6 tiles, the provider's large-image default
	}
	tilesX := (cfg.Width + 511) / 512
	tilesY := (cfg.Height + 511) / 512
	return 85 + 170*tilesX*tilesY
}
