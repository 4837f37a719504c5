package llmclient

import (
	"context"
	stdjson "encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	json "github.com/json-iterator/go"
	"github.com/ollama/ollama/api"
	"go.uber.org/zap"

	"github.com/xkilldash9x/balatro-agent/api/schemas"
	"github.com/xkilldash9x/balatro-agent/internal/config"
)

const defaultOllamaEndpoint = "http://localhost:11434"

// OllamaClient implements schemas.LLMClient against a local Ollama server.
// Vision models receive screenshots through the message Images field.
type OllamaClient struct {
	client *api.Client
	logger *zap.Logger
	config config.LLMModelConfig
}

var _ schemas.LLMClient = (*OllamaClient)(nil)

// NewOllamaClient creates a client for the configured endpoint, falling back
// to the default local address.
func NewOllamaClient(cfg config.LLMModelConfig, logger *zap.Logger) (*OllamaClient, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("Ollama model name is required")
	}
	host := cfg.Endpoint
	if host == "" {
		host = defaultOllamaEndpoint
	}
	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("ollama: bad host %q: %w", host, err)
	}

	return &OllamaClient{
		client: api.NewClient(u, &http.Client{}),
		config: cfg,
		logger: logger.Named("llm_client.ollama").With(zap.String("model", cfg.Model)),
	}, nil
}

// Generate runs a non-streaming chat completion.
func (c *OllamaClient) Generate(ctx context.Context, req schemas.GenerationRequest) (*schemas.GenerationResponse, error) {
	chatReq, err := c.buildRequest(req)
	if err != nil {
		return nil, err
	}

	var out *schemas.GenerationResponse
	operation := func() error {
		callCtx, cancel := withOptionalTimeout(ctx, c.config.APITimeout)
		defer cancel()

		start := time.Now()
		var content strings.Builder
		var final api.ChatResponse
		var toolCalls []api.ToolCall
		err := c.client.Chat(callCtx, chatReq, func(resp api.ChatResponse) error {
			content.WriteString(resp.Message.Content)
			toolCalls = append(toolCalls, resp.Message.ToolCalls...)
			if resp.Done {
				final = resp
			}
			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			var statusErr api.StatusError
			if errors.As(err, &statusErr) && statusErr.StatusCode >= 400 && statusErr.StatusCode < 500 {
				return backoff.Permanent(fmt.Errorf("ollama chat: %w", err))
			}
			return fmt.Errorf("ollama chat: %w", err)
		}

		parsed := &schemas.GenerationResponse{
			Content:   content.String(),
			ToolCalls: fromOllamaToolCalls(toolCalls),
			Usage: schemas.TokenUsage{
				PromptTokens:     final.PromptEvalCount,
				CompletionTokens: final.EvalCount,
				TotalTokens:      final.PromptEvalCount + final.EvalCount,
			},
		}
		c.logger.Debug("LLM generation complete (Ollama)",
			zap.Duration("duration", time.Since(start)),
			zap.Int("tool_calls", len(parsed.ToolCalls)),
		)
		out = parsed
		return nil
	}

	if err := retry(ctx, c.config.MaxRetries, c.logger, operation); err != nil {
		return nil, err
	}
	return out, nil
}

// Close is a no-op for the HTTP based client.
func (c *OllamaClient) Close() error {
	return nil
}

func (c *OllamaClient) buildRequest(req schemas.GenerationRequest) (*api.ChatRequest, error) {
	stream := false
	chatReq := &api.ChatRequest{
		Model:    c.config.Model,
		Messages: toOllamaMessages(req.SystemPrompt, req.Messages),
		Stream:   &stream,
		Options:  c.options(req.Options),
	}
	if len(chatReq.Messages) == 0 {
		return nil, fmt.Errorf("generation request has no messages")
	}
	if req.Options.ForceJSONFormat && len(req.Tools) == 0 {
		chatReq.Format = stdjson.RawMessage(`"json"`)
	}
	if len(req.Tools) > 0 {
		tools, err := toOllamaTools(req.Tools)
		if err != nil {
			return nil, err
		}
		chatReq.Tools = tools
	}
	return chatReq, nil
}

func (c *OllamaClient) options(opts schemas.GenerationOptions) map[string]any {
	out := map[string]any{}
	temperature := float64(c.config.Temperature)
	if opts.Temperature > 0 {
		temperature = opts.Temperature
	}
	out["temperature"] = temperature
	if c.config.TopP > 0 {
		out["top_p"] = c.config.TopP
	}
	if c.config.TopK > 0 {
		out["top_k"] = c.config.TopK
	}
	if c.config.MaxTokens > 0 {
		out["num_predict"] = c.config.MaxTokens
	}
	return out
}

func toOllamaMessages(system string, msgs []schemas.Message) []api.Message {
	out := make([]api.Message, 0, len(msgs)+1)
	if system != "" {
		out = append(out, api.Message{Role: "system", Content: system})
	}
	for _, m := range msgs {
		var text []string
		var images []api.ImageData
		for _, p := range m.Parts {
			if p.Image != nil {
				images = append(images, api.ImageData(p.Image.Data))
				continue
			}
			if p.Text != "" {
				text = append(text, p.Text)
			}
		}
		for _, tc := range m.ToolCalls {
			text = append(text, describeToolCall(tc))
		}

		role := string(m.Role)
		if m.ToolResult != nil {
			role = "tool"
			if m.ToolResult.Error != "" {
				text = append(text, "error: "+m.ToolResult.Error)
			} else {
				text = append(text, m.ToolResult.Content)
			}
		}
		if len(text) == 0 && len(images) == 0 {
			continue
		}
		out = append(out, api.Message{Role: role, Content: strings.Join(text, "\n"), Images: images})
	}
	return out
}

// toOllamaTools goes through JSON so the property type field is decoded by
// the SDK's own unmarshaler.
func toOllamaTools(defs []schemas.ToolDefinition) (api.Tools, error) {
	raw := make([]map[string]any, 0, len(defs))
	for _, d := range defs {
		props := map[string]any{}
		required := []string{}
		for _, p := range d.Parameters {
			prop := map[string]any{"type": string(p.Type), "description": p.Description}
			if len(p.Enum) > 0 {
				prop["enum"] = p.Enum
			}
			props[p.Name] = prop
			if p.Required {
				required = append(required, p.Name)
			}
		}
		raw = append(raw, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        d.Name,
				"description": d.Description,
				"parameters": map[string]any{
					"type":       "object",
					"properties": props,
					"required":   required,
				},
			},
		})
	}

	b, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("ollama marshal tools: %w", err)
	}
	var tools api.Tools
	if err := json.Unmarshal(b, &tools); err != nil {
		return nil, fmt.Errorf("ollama decode tools: %w", err)
	}
	return tools, nil
}

func fromOllamaToolCalls(calls []api.ToolCall) []schemas.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]schemas.ToolCall, 0, len(calls))
	for i, tc := range calls {
		args := map[string]interface{}{}
		if b, err := json.Marshal(tc.Function.Arguments); err == nil {
			_ = json.Unmarshal(b, &args)
		}
		out = append(out, schemas.ToolCall{
			ID:        fmt.Sprintf("call_%d", i),
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	return out
}
