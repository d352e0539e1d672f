// Package openai implements the responses-style provider protocol over
// plain HTTP. No vendor SDK: the wire surface the core needs is small
// and a hand-rolled client keeps the dependency out.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/nevindra/lolo"
)

// Provider talks to an OpenAI Responses API endpoint.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

var _ lolo.Provider = (*Provider)(nil)

// Option configures the Provider.
type Option func(*Provider)

// WithHTTPClient replaces the underlying HTTP client (tests).
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) { p.logger = l }
}

// New creates a provider. baseURL is the API base, e.g.
// "https://api.openai.com/v1"; the /responses path is appended.
func New(apiKey, model, baseURL string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
		client:  &http.Client{},
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Model returns the configured model name.
func (p *Provider) Model() string { return p.model }

// --- wire types ---

type createBody struct {
	Model                string          `json:"model"`
	Input                any             `json:"input"`
	Tools                []wireTool      `json:"tools,omitempty"`
	Reasoning            *reasoningBody  `json:"reasoning,omitempty"`
	Text                 *textBody       `json:"text,omitempty"`
	MaxOutputTokens      int             `json:"max_output_tokens,omitempty"`
	PreviousResponseID   string          `json:"previous_response_id,omitempty"`
	PromptCacheRetention string          `json:"prompt_cache_retention,omitempty"`
}

type wireTool struct {
	Type        string          `json:"type"`
	Name        string          `json:"name,omitempty"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type reasoningBody struct {
	Effort string `json:"effort"`
}

type textBody struct {
	Verbosity string `json:"verbosity"`
}

type functionCallOutput struct {
	Type   string `json:"type"` // "function_call_output"
	CallID string `json:"call_id"`
	Output string `json:"output"`
}

type visionMessage struct {
	Role    string          `json:"role"`
	Content []visionContent `json:"content"`
}

type visionContent struct {
	Type     string `json:"type"` // "input_text" or "input_image"
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

type wireResponse struct {
	ID     string     `json:"id"`
	Status string     `json:"status"`
	Output []wireItem `json:"output"`
	Usage  struct {
		InputTokens        int `json:"input_tokens"`
		InputTokensDetails struct {
			CachedTokens int `json:"cached_tokens"`
		} `json:"input_tokens_details"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type wireItem struct {
	Type      string        `json:"type"`
	Name      string        `json:"name"`
	CallID    string        `json:"call_id"`
	Arguments string        `json:"arguments"`
	Content   []wireContent `json:"content"`
}

type wireContent struct {
	Type        string `json:"type"`
	Text        string `json:"text"`
	Annotations []struct {
		Type string `json:"type"`
		URL  string `json:"url"`
	} `json:"annotations"`
}

// Create runs one provider turn.
func (p *Provider) Create(ctx context.Context, req lolo.Request) (*lolo.Response, error) {
	body := createBody{
		Model:              p.model,
		PreviousResponseID: req.PreviousResponseID,
	}
	switch {
	case req.Vision != nil:
		body.Input = []visionMessage{{
			Role: "user",
			Content: []visionContent{
				{Type: "input_text", Text: req.Vision.Prompt},
				{Type: "input_image", ImageURL: req.Vision.ImageURL},
			},
		}}
	case len(req.FunctionOutputs) > 0:
		outs := make([]functionCallOutput, len(req.FunctionOutputs))
		for i, fo := range req.FunctionOutputs {
			outs[i] = functionCallOutput{Type: "function_call_output", CallID: fo.CallID, Output: fo.Output}
		}
		body.Input = outs
	default:
		body.Input = req.Input
	}
	for _, t := range req.Tools {
		body.Tools = append(body.Tools, wireTool{
			Type:        t.Type,
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	if req.ReasoningEffort != "" && req.ReasoningEffort != "normal" {
		body.Reasoning = &reasoningBody{Effort: req.ReasoningEffort}
	}
	if req.Verbosity != "" {
		body.Text = &textBody{Verbosity: req.Verbosity}
	}
	body.MaxOutputTokens = req.MaxOutputTokens
	if req.PromptCacheRetention > 0 {
		body.PromptCacheRetention = fmt.Sprintf("%dh", int(req.PromptCacheRetention.Hours()))
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	wire, err := p.do(ctx, "/responses", body)
	if err != nil {
		return nil, err
	}
	var resp wireResponse
	if err := json.Unmarshal(wire, &resp); err != nil {
		return nil, &lolo.ErrProvider{Provider: "openai", Message: fmt.Sprintf("decode response: %v", err)}
	}
	if resp.Error != nil {
		return nil, &lolo.ErrProvider{Provider: "openai", Message: resp.Error.Message}
	}
	return convert(&resp), nil
}

func convert(w *wireResponse) *lolo.Response {
	out := &lolo.Response{ID: w.ID}
	out.Usage = lolo.Usage{
		InputTokens:  w.Usage.InputTokens,
		CachedTokens: w.Usage.InputTokensDetails.CachedTokens,
		OutputTokens: w.Usage.OutputTokens,
	}
	for _, item := range w.Output {
		conv := lolo.OutputItem{
			Type:      item.Type,
			Name:      item.Name,
			CallID:    item.CallID,
			Arguments: item.Arguments,
		}
		for _, c := range item.Content {
			if c.Type != "output_text" {
				continue
			}
			conv.Text += c.Text
			for _, a := range c.Annotations {
				if a.Type == "url_citation" && a.URL != "" {
					conv.Citations = append(conv.Citations, a.URL)
				}
			}
		}
		out.Output = append(out.Output, conv)
	}
	return out
}

func (p *Provider) do(ctx context.Context, path string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &lolo.ErrProvider{Provider: "openai", Message: fmt.Sprintf("marshal request: %v", err)}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &lolo.ErrProvider{Provider: "openai", Message: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &lolo.ErrProvider{Provider: "openai", Message: fmt.Sprintf("read response: %v", err)}
	}
	p.logger.Debug("provider call", "path", path, "status", resp.StatusCode, "elapsed", time.Since(start))
	if resp.StatusCode != http.StatusOK {
		return nil, &lolo.ErrHTTP{Status: resp.StatusCode, Body: string(data)}
	}
	return data, nil
}
