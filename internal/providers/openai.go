package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/roadmate/roadmate/internal/schema"
)

var (
	_ schema.LLMProvider       = (*OpenAIProvider)(nil)
	_ schema.Completer         = (*OpenAIProvider)(nil)
	_ schema.EmbeddingProvider = (*OpenAIProvider)(nil)
)

const (
	defaultEmbeddingModel = "text-embedding-3-small"
	defaultMaxTokens      = 4096
)

// OpenAIProvider talks to any OpenAI-compatible endpoint. It serves chat with
// tools, JSON-mode completion and embeddings.
type OpenAIProvider struct {
	client         *openai.Client
	res            resolved
	defaultModel   string
	embeddingModel string
	limiter        *rate.Limiter // nil means unthrottled
}

// NewOpenAIProvider builds a provider from resolved parameters.
func NewOpenAIProvider(p Params) *OpenAIProvider {
	res := resolve(p.ProviderName, p.APIKey, p.APIBase, p.DefaultModel)

	cfg := openai.DefaultConfig(p.APIKey)
	cfg.BaseURL = res.apiBase
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	cfg.HTTPClient = &http.Client{
		Timeout:   timeout,
		Transport: headerTransport{base: http.DefaultTransport, headers: p.ExtraHeaders},
	}

	prov := &OpenAIProvider{
		client:         openai.NewClientWithConfig(cfg),
		res:            res,
		defaultModel:   p.DefaultModel,
		embeddingModel: p.EmbeddingModel,
	}
	if prov.embeddingModel == "" {
		prov.embeddingModel = defaultEmbeddingModel
	}
	if p.RequestsPerMinute > 0 {
		prov.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(p.RequestsPerMinute)), 1)
	}
	return prov
}

func (p *OpenAIProvider) DefaultModel() string { return p.defaultModel }

// APIBase returns the endpoint the provider sends requests to.
func (p *OpenAIProvider) APIBase() string { return p.res.apiBase }

// Chat implements schema.LLMProvider.
func (p *OpenAIProvider) Chat(
	ctx context.Context,
	messages schema.Messages,
	tools []schema.ToolDefinition,
	opts schema.ChatOptions,
) (schema.LLMResponse, error) {
	model := opts.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	req := openai.ChatCompletionRequest{
		Model:       p.res.model(model),
		Messages:    toWireMessages(messages),
		MaxTokens:   maxTokens,
		Temperature: float32(opts.Temperature),
	}
	if len(tools) > 0 {
		req.Tools = toWireTools(tools)
		req.ToolChoice = "auto"
	}
	if opts.JSONMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	if err := p.wait(ctx); err != nil {
		return schema.LLMResponse{}, err
	}
	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return schema.LLMResponse{}, fmt.Errorf("chat completion (%s): %s", req.Model, friendlyError(err))
	}
	return parseChatResponse(resp)
}

// Complete implements schema.Completer with a single user prompt and the
// JSON-object response format.
func (p *OpenAIProvider) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	var msgs schema.Messages
	msgs.AddUser(prompt)
	resp, err := p.Chat(ctx, msgs, nil, schema.ChatOptions{
		Model:     p.defaultModel,
		MaxTokens: maxTokens,
		JSONMode:  true,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// Embed implements schema.EmbeddingProvider.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(p.embeddingModel),
	})
	if err != nil {
		return nil, fmt.Errorf("embedding (%s): %s", p.embeddingModel, friendlyError(err))
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, errors.New("embedding: empty response")
	}
	return resp.Data[0].Embedding, nil
}

func (p *OpenAIProvider) wait(ctx context.Context) error {
	if p.limiter == nil {
		return nil
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Wire conversion
// ---------------------------------------------------------------------------

func toWireMessages(messages schema.Messages) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages.Messages))
	for _, m := range messages.Messages {
		wire := openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
		switch m.Role {
		case schema.RoleAssistant:
			for _, tc := range m.ToolCalls {
				args, _ := json.Marshal(tc.Arguments)
				wire.ToolCalls = append(wire.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(args),
					},
				})
			}
		case schema.RoleTool:
			wire.ToolCallID = m.ToolCallID
			wire.Name = m.ToolName
		}
		out = append(out, wire)
	}
	return out
}

func toWireTools(tools []schema.ToolDefinition) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		var params any = t.Parameters
		if len(t.Parameters) == 0 {
			params = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

func parseChatResponse(resp openai.ChatCompletionResponse) (schema.LLMResponse, error) {
	if len(resp.Choices) == 0 {
		return schema.LLMResponse{}, errors.New("chat completion: no choices in response")
	}
	choice := resp.Choices[0]

	out := schema.LLMResponse{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Usage: schema.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		args, err := repairJSON(tc.Function.Arguments)
		if err != nil {
			slog.Warn("tool arguments unparsable", "tool", tc.Function.Name, "err", err)
		}
		out.ToolCalls = append(out.ToolCalls, schema.ToolCallRequest{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// JSON repair
// ---------------------------------------------------------------------------

// repairJSON unmarshals tool arguments, retrying after stripping trailing
// garbage. Some models emit truncated arguments.
func repairJSON(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}, nil
	}

	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err == nil {
		return out, nil
	}

	stripped := strings.TrimRight(raw, " \t\n\r}]")
	if !strings.HasSuffix(stripped, "}") {
		stripped += "}"
	}
	if err := json.Unmarshal([]byte(stripped), &out); err == nil {
		return out, nil
	}

	if i := strings.LastIndex(raw, "}"); i >= 0 {
		if err := json.Unmarshal([]byte(raw[:i+1]), &out); err == nil {
			return out, nil
		}
	}
	return map[string]any{}, fmt.Errorf("cannot repair JSON: %s", raw)
}

// ---------------------------------------------------------------------------
// Utilities
// ---------------------------------------------------------------------------

func friendlyError(err error) string {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusTooManyRequests {
			return "rate limit exceeded"
		}
		return fmt.Sprintf("HTTP %d: %s", apiErr.HTTPStatusCode, truncateMessage(apiErr.Message))
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.HTTPStatusCode == http.StatusTooManyRequests {
			return "rate limit exceeded"
		}
		return fmt.Sprintf("HTTP %d: %s", reqErr.HTTPStatusCode, truncateMessage(reqErr.Error()))
	}
	return err.Error()
}

func truncateMessage(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 300 {
		s = s[:300]
	}
	return s
}

// headerTransport adds configured headers to every request.
type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if len(t.headers) == 0 {
		return t.base.RoundTrip(req)
	}
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	return t.base.RoundTrip(req)
}
