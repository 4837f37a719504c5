// internal/llmclient/gemini_client.go
package llmclient

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/xkilldash9x/balatro-agent/api/schemas"
	"github.com/xkilldash9x/balatro-agent/internal/config"
)

// GoogleClient implements schemas.LLMClient on top of the Gemini SDK. It
// supports inline screenshots and function calling.
type GoogleClient struct {
	client *genai.Client
	logger *zap.Logger
	config config.LLMModelConfig
}

var _ schemas.LLMClient = (*GoogleClient)(nil)

// NewGoogleClient initializes the SDK client for a single model configuration.
func NewGoogleClient(ctx context.Context, cfg config.LLMModelConfig, logger *zap.Logger) (*GoogleClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Gemini API Key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("Gemini model name is required")
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.Endpoint != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.Endpoint}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Gemini SDK client: %w", err)
	}

	return &GoogleClient{
		client: client,
		config: cfg,
		logger: logger.Named("llm_client.gemini").With(zap.String("model", cfg.Model)),
	}, nil
}

// Generate sends the conversation to Gemini and returns text and tool calls.
// Transient failures are retried with exponential backoff up to MaxRetries.
func (c *GoogleClient) Generate(ctx context.Context, req schemas.GenerationRequest) (*schemas.GenerationResponse, error) {
	contents := toGenaiContents(req.Messages)
	if len(contents) == 0 {
		return nil, fmt.Errorf("generation request has no messages")
	}
	genCfg := c.buildConfig(req)

	var out *schemas.GenerationResponse
	operation := func() error {
		callCtx, cancel := withOptionalTimeout(ctx, c.config.APITimeout)
		defer cancel()

		start := time.Now()
		resp, err := c.client.Models.GenerateContent(callCtx, c.config.Model, contents, genCfg)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("gemini generate: %w", err)
		}

		parsed, err := fromGenaiResponse(resp)
		if err != nil {
			return err
		}

		c.logger.Debug("LLM generation complete (Gemini)",
			zap.Duration("duration", time.Since(start)),
			zap.Int("prompt_tokens", parsed.Usage.PromptTokens),
			zap.Int("completion_tokens", parsed.Usage.CompletionTokens),
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

// Close is a no-op; the SDK client holds no resources that need releasing.
func (c *GoogleClient) Close() error {
	return nil
}

func (c *GoogleClient) buildConfig(req schemas.GenerationRequest) *genai.GenerateContentConfig {
	temperature := c.config.Temperature
	if req.Options.Temperature > 0 {
		temperature = float32(req.Options.Temperature)
	}

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(temperature),
	}
	if c.config.TopP > 0 {
		cfg.TopP = genai.Ptr(c.config.TopP)
	}
	if c.config.TopK > 0 {
		cfg.TopK = genai.Ptr(float32(c.config.TopK))
	}
	if c.config.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(c.config.MaxTokens)
	}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.SystemPrompt}}}
	}
	if req.Options.ForceJSONFormat && len(req.Tools) == 0 {
		cfg.ResponseMIMEType = "application/json"
	}
	if len(req.Tools) > 0 {
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: toFunctionDeclarations(req.Tools)}}
	}
	return cfg
}

// toGenaiContents maps the provider-neutral conversation to Gemini contents.
// Tool traffic is replayed as plain text: compaction may drop the assistant
// call that a result belongs to, and Gemini rejects orphaned function responses.
func toGenaiContents(msgs []schemas.Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		var parts []*genai.Part
		for _, p := range m.Parts {
			switch {
			case p.Image != nil:
				parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: p.Image.MIMEType, Data: p.Image.Data}})
			case p.Text != "":
				parts = append(parts, &genai.Part{Text: p.Text})
			}
		}
		for _, tc := range m.ToolCalls {
			parts = append(parts, &genai.Part{Text: describeToolCall(tc)})
		}
		if m.ToolResult != nil {
			parts = append(parts, &genai.Part{Text: describeToolResult(*m.ToolResult)})
		}
		if len(parts) == 0 {
			continue
		}

		role := "user"
		if m.Role == schemas.RoleAssistant {
			role = "model"
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}
	return contents
}

func toFunctionDeclarations(tools []schemas.ToolDefinition) []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decl := &genai.FunctionDeclaration{Name: t.Name, Description: t.Description}
		if len(t.Parameters) > 0 {
			schema := &genai.Schema{Type: genai.TypeObject, Properties: map[string]*genai.Schema{}}
			for _, p := range t.Parameters {
				schema.Properties[p.Name] = &genai.Schema{
					Type:        genaiType(p.Type),
					Description: p.Description,
					Enum:        p.Enum,
				}
				if p.Required {
					schema.Required = append(schema.Required, p.Name)
				}
			}
			decl.Parameters = schema
		}
		decls = append(decls, decl)
	}
	return decls
}

func genaiType(t schemas.ParamType) genai.Type {
	switch t {
	case schemas.ParamNumber:
		return genai.TypeNumber
	case schemas.ParamInteger:
		return genai.TypeInteger
	default:
		return genai.TypeString
	}
}

func fromGenaiResponse(resp *genai.GenerateContentResponse) (*schemas.GenerationResponse, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, backoff.Permanent(fmt.Errorf("gemini API returned no candidates"))
	}

	candidate := resp.Candidates[0]
	out := &schemas.GenerationResponse{}
	if resp.UsageMetadata != nil {
		out.Usage = schemas.TokenUsage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}

	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		reason := string(candidate.FinishReason)
		if reason == "SAFETY" || reason == "BLOCKLIST" || reason == "PROHIBITED_CONTENT" {
			return nil, backoff.Permanent(fmt.Errorf("gemini API blocked the request (Reason: %s)", reason))
		}
		return nil, fmt.Errorf("gemini API returned empty content parts (Reason: %s)", reason)
	}

	var text []string
	for i, part := range candidate.Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		if part.FunctionCall != nil {
			id := part.FunctionCall.ID
			if id == "" {
				id = fmt.Sprintf("call_%d", i)
			}
			out.ToolCalls = append(out.ToolCalls, schemas.ToolCall{
				ID:        id,
				Name:      part.FunctionCall.Name,
				Arguments: part.FunctionCall.Args,
			})
			continue
		}
		if part.Text != "" {
			text = append(text, part.Text)
		}
	}
	out.Content = strings.Join(text, "")
	return out, nil
}

func withOptionalTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
