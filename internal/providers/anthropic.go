// Package providers wires the router's provider-agnostic interface to
// concrete LLM SDKs: Anthropic, OpenAI, AWS Bedrock and Google Gemini.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/relaymesh/core/internal/router"
	"github.com/relaymesh/core/pkg/models"
)

// AnthropicProvider adapts router.Provider to the Anthropic Messages API.
type AnthropicProvider struct {
	client       anthropic.Client
	maxRetries   int
	retryDelay   time.Duration
	defaultModel string
}

// AnthropicConfig configures an AnthropicProvider.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	MaxRetries   int
	RetryDelay   time.Duration
	DefaultModel string
}

// NewAnthropicProvider builds a provider from an API key with sane
// defaults (3 retries, 1s base delay, sonnet-4 default model).
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(opts...),
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
		defaultModel: cfg.DefaultModel,
	}, nil
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) model(req router.Request) string {
	if req.Model != "" {
		return req.Model
	}
	return p.defaultModel
}

func (p *AnthropicProvider) buildParams(req router.Request) (anthropic.MessageNewParams, error) {
	messages, err := convertAnthropicMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, fmt.Errorf("anthropic: convert messages: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model(req)),
		Messages:  messages,
		MaxTokens: int64(maxTokensOrDefault(req.MaxTokens, 4096)),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if len(req.Tools) > 0 {
		params.Tools = convertAnthropicTools(req.Tools)
	}
	return params, nil
}

// Chat performs a unary completion with retry on 429/5xx/timeout, per the
// router's retryable-error contract: returned errors are ProviderError so
// router.classifyError's substring match (embedding the status code in the
// error string) recognizes them without any import coupling.
func (p *AnthropicProvider) Chat(ctx context.Context, req router.Request) (router.Response, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return router.Response{}, err
	}

	var msg *anthropic.Message
	var lastErr error
	backoff := p.retryDelay
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		msg, err = p.client.Messages.New(ctx, params)
		if err == nil {
			lastErr = nil
			break
		}
		lastErr = wrapError("anthropic", p.model(req), statusFromErr(err), err)
		if !lastErr.(*ProviderError).Reason.IsRetryable() || attempt >= p.maxRetries {
			return router.Response{}, lastErr
		}
		select {
		case <-ctx.Done():
			return router.Response{}, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	if lastErr != nil {
		return router.Response{}, lastErr
	}

	return anthropicResponse(msg), nil
}

// Stream performs a streaming completion, forwarding SSE deltas as they
// arrive; the terminal chunk carries accumulated content blocks and totals.
func (p *AnthropicProvider) Stream(ctx context.Context, req router.Request) (<-chan router.StreamChunk, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	out := make(chan router.StreamChunk)

	go func() {
		defer close(out)
		acc := anthropic.Message{}
		for stream.Next() {
			event := stream.Current()
			if err := acc.Accumulate(event); err != nil {
				out <- router.StreamChunk{IsFinal: true, StopReason: router.StopSafety}
				return
			}
			if delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
				if text := delta.Delta.Text; text != "" {
					out <- router.StreamChunk{Delta: text}
				}
			}
		}
		if err := stream.Err(); err != nil {
			out <- router.StreamChunk{IsFinal: true, StopReason: router.StopSafety}
			return
		}
		final := anthropicResponse(&acc)
		out <- router.StreamChunk{
			IsFinal:      true,
			InputTokens:  final.InputTokens,
			OutputTokens: final.OutputTokens,
			StopReason:   final.StopReason,
			Content:      final.Content,
		}
	}()
	return out, nil
}

func anthropicResponse(msg *anthropic.Message) router.Response {
	var blocks []models.ContentBlock
	var text string
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			text += variant.Text
			blocks = append(blocks, models.TextBlock(variant.Text))
		case anthropic.ToolUseBlock:
			input, _ := json.Marshal(variant.Input)
			blocks = append(blocks, models.ToolUseBlock(variant.ID, variant.Name, input))
		}
	}
	return router.Response{
		Text:         text,
		Content:      blocks,
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
		StopReason:   router.StopReason(string(msg.StopReason)),
	}
}

func convertAnthropicMessages(messages []models.LlmMessage) ([]anthropic.MessageParam, error) {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		var blocks []anthropic.ContentBlockParamUnion
		for _, block := range msg.Content {
			switch block.Type {
			case models.BlockText:
				blocks = append(blocks, anthropic.NewTextBlock(block.Text))
			case models.BlockImage:
				blocks = append(blocks, anthropic.NewImageBlockBase64(block.ImageMime, encodeBase64(block.ImageData)))
			case models.BlockToolUse:
				var input any
				_ = json.Unmarshal(block.ToolUseInput, &input)
				blocks = append(blocks, anthropic.NewToolUseBlock(block.ToolUseID, input, block.ToolName))
			case models.BlockToolResult:
				blocks = append(blocks, anthropic.NewToolResultBlock(block.ToolResultForID, block.ToolResultText, block.ToolResultError))
			}
		}
		switch msg.Role {
		case models.RoleUser:
			out = append(out, anthropic.NewUserMessage(blocks...))
		case models.RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		default:
			return nil, fmt.Errorf("anthropic: unsupported role %q", msg.Role)
		}
	}
	return out, nil
}

func convertAnthropicTools(tools []models.ToolDef) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		_ = json.Unmarshal(tool.InputSchema, &schema)
		param := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if param.OfTool != nil {
			param.OfTool.Description = anthropic.String(tool.Description)
		}
		out = append(out, param)
	}
	return out
}
