package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPConfig configures an OpenRouter-compatible chat-completions endpoint.
type HTTPConfig struct {
	BaseURL string // e.g. "https://openrouter.ai/api/v1"
	APIKey  string
	Model   string
	Client  *http.Client
}

func (c HTTPConfig) client() *http.Client {
	if c.Client != nil {
		return c.Client
	}
	return http.DefaultClient
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens"`
	Stream         bool            `json:"stream"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error,omitempty"`
}

func (c HTTPConfig) complete(ctx context.Context, system, user string, jsonMode bool) (string, error) {
	messages := make([]chatMessage, 0, 2)
	if system != "" {
		messages = append(messages, chatMessage{Role: "system", Content: system})
	}
	messages = append(messages, chatMessage{Role: "user", Content: user})

	req := chatRequest{
		Model:       c.Model,
		Messages:    messages,
		Temperature: 0.3,
		MaxTokens:   4096,
		Stream:      false,
	}
	if jsonMode {
		req.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("provider: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("provider: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.client().Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("provider: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("provider: read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("provider: HTTP %d: %s", resp.StatusCode, string(raw))
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("provider: parse response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("provider: API error %d: %s", parsed.Error.Code, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("provider: empty response")
	}
	return parsed.Choices[0].Message.Content, nil
}

// HTTPJudge is an optional Judge implementation that delegates comparisons
// to an OpenRouter-compatible chat model. Absence of this type (a nil
// Judge, or the HeuristicJudge default) is always tolerated by MergeEngine.
type HTTPJudge struct {
	cfg HTTPConfig
}

// NewHTTPJudge builds a judge backed by an OpenRouter-compatible endpoint.
func NewHTTPJudge(cfg HTTPConfig) *HTTPJudge { return &HTTPJudge{cfg: cfg} }

const judgeSystemPrompt = `You compare two candidate statements and decide which one a knowledge base should keep, or whether both should be kept.
Return strict JSON: {"winner":"a"|"b"|"tie","score":0.0-1.0,"explanation":"..."}`

func (j *HTTPJudge) Compare(ctx context.Context, a, b, criteria string) (*Verdict, error) {
	user := fmt.Sprintf("Criteria: %s\n\nCandidate A: %s\n\nCandidate B: %s", criteria, a, b)
	raw, err := j.cfg.complete(ctx, judgeSystemPrompt, user, true)
	if err != nil {
		return nil, fmt.Errorf("provider: judge compare: %w", err)
	}
	var v Verdict
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("provider: judge response parse: %w", err)
	}
	return &v, nil
}

// HTTPEmbedder is an optional Embedder backed by an OpenAI-compatible
// embeddings endpoint. Separate base URL from HTTPJudge since embedding
// and chat-completion endpoints commonly differ.
type HTTPEmbedder struct {
	cfg  HTTPConfig
	dims int
}

// NewHTTPEmbedder builds an embedder backed by an OpenAI-compatible
// /embeddings endpoint. dims must match the configured model's output size.
func NewHTTPEmbedder(cfg HTTPConfig, dims int) *HTTPEmbedder {
	return &HTTPEmbedder{cfg: cfg, dims: dims}
}

func (e *HTTPEmbedder) Dimensions() int { return e.dims }

type embeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	req := embeddingRequest{Model: e.cfg.Model, Input: text}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("provider: marshal embedding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.BaseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("provider: build embedding request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)

	client := e.cfg.client()
	if client.Timeout == 0 {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("provider: embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("provider: read embedding response: %w", err)
	}
	var parsed embeddingResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("provider: parse embedding response: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("provider: embedding API error: %s", parsed.Error.Message)
	}
	if len(parsed.Data) == 0 {
		return nil, fmt.Errorf("provider: empty embedding response")
	}
	return parsed.Data[0].Embedding, nil
}

// HTTPExtractor delegates consolidation extraction to a chat model and
// repairs its response with ParseExtraction (see parser.go).
type HTTPExtractor struct {
	cfg HTTPConfig
}

// NewHTTPExtractor builds a judge-backed extractor for ConsolidationEngine.
func NewHTTPExtractor(cfg HTTPConfig) *HTTPExtractor { return &HTTPExtractor{cfg: cfg} }

const extractionSystemPrompt = `You are a memory extraction system. Extract factual observations from the given tool-call summaries.
Return strict JSON: {"items":[{"text":"...","category":"fact|preference|decision","confidence":0.0-1.0}]}
Extract only explicit information. Ignore greetings and meta-conversation. If nothing qualifies, return {"items":[]}.`

func (e *HTTPExtractor) Extract(ctx context.Context, summaries []string) ([]ExtractedItem, error) {
	var user bytes.Buffer
	user.WriteString("Summaries:\n")
	for _, s := range summaries {
		user.WriteString("- ")
		user.WriteString(s)
		user.WriteString("\n")
	}

	raw, err := e.cfg.complete(ctx, extractionSystemPrompt, user.String(), true)
	if err != nil {
		return nil, fmt.Errorf("provider: extraction call: %w", err)
	}

	parsed, err := ParseExtraction(raw)
	if err != nil {
		return nil, err
	}
	return parsed, nil
}
