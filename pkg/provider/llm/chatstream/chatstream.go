// Package chatstream implements llm.Provider over the OpenAI-compatible
// chat-completions HTTP endpoint using raw server-sent events.
//
// It deliberately speaks the wire protocol directly instead of going through a
// vendor SDK: the request is one POST with "stream": true and the response is
// parsed line by line from the response body. Cancelling the request context
// aborts the in-flight body read immediately, which is what lets the
// orchestrator cut off a superseded generation mid-token.
//
// The endpoint shape is served by OpenAI, Groq, Mistral, llama.cpp, Ollama and
// most other inference servers, so one provider covers many backends.
package chatstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/verbalis/verbalis/pkg/provider/llm"
)

// Compile-time assertion.
var _ llm.Provider = (*Provider)(nil)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	ssePrefix      = "data: "
	sseDone        = "[DONE]"
)

// config holds optional configuration for the provider.
type config struct {
	baseURL    string
	httpClient *http.Client
	vision     bool
	maxContext int
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default API base URL. Use this to point the
// provider at Groq, a local llama.cpp server, or any other compatible host.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = strings.TrimRight(url, "/") }
}

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(client *http.Client) Option {
	return func(c *config) { c.httpClient = client }
}

// WithVision declares that the configured model accepts image inputs.
func WithVision(supported bool) Option {
	return func(c *config) { c.vision = supported }
}

// WithMaxContextTokens records the model's context window size.
func WithMaxContextTokens(n int) Option {
	return func(c *config) { c.maxContext = n }
}

// Provider implements llm.Provider over the chat-completions SSE protocol.
type Provider struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	caps       llm.ModelCapabilities
}

// New constructs a chat-completions streaming Provider.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if model == "" {
		return nil, errors.New("chatstream: model must not be empty")
	}

	cfg := &config{baseURL: defaultBaseURL, httpClient: http.DefaultClient}
	for _, o := range opts {
		o(cfg)
	}

	return &Provider{
		apiKey:     apiKey,
		model:      model,
		baseURL:    cfg.baseURL,
		httpClient: cfg.httpClient,
		caps: llm.ModelCapabilities{
			SupportsStreaming: true,
			SupportsVision:    cfg.vision,
			MaxContextTokens:  cfg.maxContext,
		},
	}, nil
}

// ── Wire types ─────────────────────────────────────────────────────────────────

type wireRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type wireMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string, or []contentPart for multimodal
	Name    string `json:"name,omitempty"`
}

type contentPart struct {
	Type     string        `json:"type"` // "text" or "image_url"
	Text     string        `json:"text,omitempty"`
	ImageURL *imageURLPart `json:"image_url,omitempty"`
}

type imageURLPart struct {
	URL string `json:"url"` // data URL for inline images
}

type streamEvent struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *wireError `json:"error"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *wireError `json:"error"`
}

type wireError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// ── Provider methods ───────────────────────────────────────────────────────────

// StreamCompletion implements llm.Provider.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	resp, err := p.post(ctx, req, true)
	if err != nil {
		return nil, err
	}

	ch := make(chan llm.Chunk, 32)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, ssePrefix) {
				continue
			}
			payload := strings.TrimPrefix(line, ssePrefix)
			if payload == sseDone {
				return
			}

			var ev streamEvent
			if err := json.Unmarshal([]byte(payload), &ev); err != nil {
				continue // skip malformed keep-alives
			}
			if ev.Error != nil {
				emit(ctx, ch, llm.Chunk{FinishReason: "error", Text: ev.Error.Message})
				return
			}
			if len(ev.Choices) == 0 {
				continue
			}
			choice := ev.Choices[0]
			if !emit(ctx, ch, llm.Chunk{Text: choice.Delta.Content, FinishReason: choice.FinishReason}) {
				return
			}
			if choice.FinishReason != "" {
				return
			}
		}

		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			emit(ctx, ch, llm.Chunk{FinishReason: "error", Text: err.Error()})
		}
	}()

	return ch, nil
}

// emit delivers one chunk, aborting on context cancellation. Reports whether
// the chunk was delivered.
func emit(ctx context.Context, ch chan<- llm.Chunk, c llm.Chunk) bool {
	select {
	case ch <- c:
		return true
	case <-ctx.Done():
		return false
	}
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, err := p.post(ctx, req, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("chatstream: read response: %w", err)
	}

	var cr completionResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return nil, fmt.Errorf("chatstream: decode response: %w", err)
	}
	if cr.Error != nil {
		return nil, fmt.Errorf("chatstream: api error: %s", cr.Error.Message)
	}
	if len(cr.Choices) == 0 {
		return nil, errors.New("chatstream: empty choices in response")
	}

	return &llm.CompletionResponse{
		Content: cr.Choices[0].Message.Content,
		Usage: llm.Usage{
			PromptTokens:     cr.Usage.PromptTokens,
			CompletionTokens: cr.Usage.CompletionTokens,
			TotalTokens:      cr.Usage.TotalTokens,
		},
	}, nil
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() llm.ModelCapabilities { return p.caps }

// post builds and sends the chat-completions request.
func (p *Provider) post(ctx context.Context, req llm.CompletionRequest, stream bool) (*http.Response, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("chatstream: messages must not be empty")
	}

	wr := wireRequest{
		Model:       p.model,
		Stream:      stream,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.SystemPrompt != "" {
		wr.Messages = append(wr.Messages, wireMessage{Role: llm.RoleSystem, Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		wr.Messages = append(wr.Messages, convertMessage(m))
	}

	body, err := json.Marshal(wr)
	if err != nil {
		return nil, fmt.Errorf("chatstream: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("chatstream: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("chatstream: request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("chatstream: status %d: %s", resp.StatusCode, apiErrorMessage(msg))
	}

	return resp, nil
}

// convertMessage maps an llm.Message to the wire shape, switching to the
// content-parts form when an image attachment is present.
func convertMessage(m llm.Message) wireMessage {
	if !m.HasImage() {
		return wireMessage{Role: m.Role, Content: m.Content, Name: m.Name}
	}

	dataURL := fmt.Sprintf("data:%s;base64,%s", m.ImageMIME, base64.StdEncoding.EncodeToString(m.ImageData))
	parts := []contentPart{}
	if m.Content != "" {
		parts = append(parts, contentPart{Type: "text", Text: m.Content})
	}
	parts = append(parts, contentPart{Type: "image_url", ImageURL: &imageURLPart{URL: dataURL}})

	return wireMessage{Role: m.Role, Content: parts, Name: m.Name}
}

// apiErrorMessage extracts the error message from an API error body, falling
// back to the raw body when it is not the standard envelope.
func apiErrorMessage(body []byte) string {
	var env struct {
		Error wireError `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err == nil && env.Error.Message != "" {
		return env.Error.Message
	}
	return strings.TrimSpace(string(body))
}
