package images

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/nevindra/lolo"
)

const soraJobTimeout = 8 * time.Minute

// SoraTool implements sora_video against the OpenAI video API. Video
// generation has its own shared hourly quota, separate from images,
// which this tool checks itself since jobs run for minutes.
type SoraTool struct {
	apiKey string
	base   string
	http   *http.Client
	quota  Quota
	paste  Uploader
	poll   time.Duration
}

// SoraOption configures the tool.
type SoraOption func(*SoraTool)

// WithSoraHTTPClient replaces the transport (tests).
func WithSoraHTTPClient(h *http.Client) SoraOption {
	return func(t *SoraTool) { t.http = h }
}

// WithSoraBaseURL points the tool at a different API host (tests).
func WithSoraBaseURL(base string) SoraOption {
	return func(t *SoraTool) { t.base = strings.TrimRight(base, "/") }
}

// WithSoraPollInterval shortens polling (tests).
func WithSoraPollInterval(d time.Duration) SoraOption {
	return func(t *SoraTool) { t.poll = d }
}

func NewSora(apiKey string, quota Quota, paste Uploader, opts ...SoraOption) *SoraTool {
	t := &SoraTool{
		apiKey: apiKey,
		base:   "https://api.openai.com/v1",
		http:   &http.Client{Timeout: 60 * time.Second},
		quota:  quota,
		paste:  paste,
		poll:   5 * time.Second,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *SoraTool) Definitions() []lolo.ToolDefinition {
	return []lolo.ToolDefinition{
		lolo.FunctionDef("sora_video",
			"Generate a short video from a text prompt. Takes minutes; report_status first. Returns a URL. Limited to a few per hour across all users.",
			`{"type":"object","properties":{
				"prompt":{"type":"string","description":"What happens in the video"},
				"seconds":{"type":"integer","enum":[4,8,12],"description":"Clip length, default 4"}
			},"required":["prompt"]}`),
	}
}

func (t *SoraTool) Execute(ctx context.Context, _ string, args json.RawMessage) (lolo.ToolResult, error) {
	if t.apiKey == "" {
		return lolo.ErrorResult("Error: video generation is not configured."), nil
	}
	level := callerLevel(ctx)
	if !t.quota.Allow(level) {
		return lolo.ErrorResult("Rate limit reached: video generation is limited to a few per hour across all users. Try again later."), nil
	}

	var p struct {
		Prompt  string `json:"prompt"`
		Seconds int    `json:"seconds"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return lolo.ErrorResultf("invalid args: %v", err), nil
	}
	if p.Prompt == "" {
		return lolo.ErrorResult("Error: prompt is required"), nil
	}
	if p.Seconds == 0 {
		p.Seconds = 4
	}

	payload, err := json.Marshal(map[string]any{
		"model":   "sora-2",
		"prompt":  p.Prompt,
		"seconds": fmt.Sprintf("%d", p.Seconds),
	})
	if err != nil {
		return lolo.ToolResult{}, err
	}
	var job struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if msg := t.doJSON(ctx, http.MethodPost, "/videos", payload, &job); msg != "" {
		return lolo.ErrorResult(msg), nil
	}

	deadline := time.Now().Add(soraJobTimeout)
	for job.Status != "completed" {
		if time.Now().After(deadline) {
			return lolo.ErrorResultf("Error: video job timed out after %s", soraJobTimeout), nil
		}
		select {
		case <-ctx.Done():
			return lolo.ToolResult{}, ctx.Err()
		case <-time.After(t.poll):
		}
		if msg := t.doJSON(ctx, http.MethodGet, "/videos/"+job.ID, nil, &job); msg != "" {
			return lolo.ErrorResult(msg), nil
		}
		if job.Status == "failed" {
			return lolo.ErrorResult("Error: video generation failed"), nil
		}
	}

	video, _, err := download(ctx, t.http, t.base+"/videos/"+job.ID+"/content", 200<<20)
	if err != nil {
		return lolo.ErrorResultf("Error downloading video: %v", err), nil
	}
	url, err := t.paste.Upload(ctx, video, "video/mp4")
	if err != nil {
		return lolo.ErrorResultf("Error uploading video: %v", err), nil
	}
	t.quota.Record(level)
	return lolo.TextResult(url), nil
}

// doJSON runs one API call, decoding into out. Returns a user-facing
// error string on failure, empty on success.
func (t *SoraTool) doJSON(ctx context.Context, method, path string, payload []byte, out any) string {
	var body *bytes.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	} else {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, t.base+path, body)
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+t.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.http.Do(req)
	if err != nil {
		return fmt.Sprintf("Error calling video API: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Sprintf("Error: video API returned %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Sprintf("Error decoding video API response: %v", err)
	}
	return ""
}
