package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/relaymesh/core/internal/router"
	"github.com/relaymesh/core/pkg/models"
	"google.golang.org/genai"
)

// GeminiProvider adapts router.Provider to Google's Gen AI SDK.
type GeminiProvider struct {
	client       *genai.Client
	maxRetries   int
	retryDelay   time.Duration
	defaultModel string
}

// GeminiConfig configures a GeminiProvider.
type GeminiConfig struct {
	APIKey       string
	MaxRetries   int
	RetryDelay   time.Duration
	DefaultModel string
}

func NewGeminiProvider(ctx context.Context, cfg GeminiConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: API key is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}

	return &GeminiProvider{
		client:       client,
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
		defaultModel: cfg.DefaultModel,
	}, nil
}

func (p *GeminiProvider) Name() string { return "gemini" }

func (p *GeminiProvider) model(req router.Request) string {
	if req.Model != "" {
		return req.Model
	}
	return p.defaultModel
}

func (p *GeminiProvider) buildConfig(req router.Request) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(maxTokensOrDefault(req.MaxTokens, 4096)),
	}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}
	if len(req.Tools) > 0 {
		config.Tools = convertGeminiTools(req.Tools)
	}
	return config
}

func (p *GeminiProvider) Chat(ctx context.Context, req router.Request) (router.Response, error) {
	contents, err := convertGeminiMessages(req.Messages)
	if err != nil {
		return router.Response{}, err
	}
	config := p.buildConfig(req)

	var resp *genai.GenerateContentResponse
	var lastErr error
	backoff := p.retryDelay
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		resp, err = p.client.Models.GenerateContent(ctx, p.model(req), contents, config)
		if err == nil {
			lastErr = nil
			break
		}
		lastErr = wrapError("gemini", p.model(req), statusFromErr(err), err)
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
	if len(resp.Candidates) == 0 {
		return router.Response{}, fmt.Errorf("gemini: empty candidates")
	}

	return geminiResponse(resp), nil
}

func (p *GeminiProvider) Stream(ctx context.Context, req router.Request) (<-chan router.StreamChunk, error) {
	contents, err := convertGeminiMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	config := p.buildConfig(req)

	out := make(chan router.StreamChunk)
	go func() {
		defer close(out)
		var lastResp *genai.GenerateContentResponse
		for resp, err := range p.client.Models.GenerateContentStream(ctx, p.model(req), contents, config) {
			if err != nil {
				out <- router.StreamChunk{IsFinal: true, StopReason: router.StopSafety}
				return
			}
			lastResp = resp
			if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
				continue
			}
			for _, part := range resp.Candidates[0].Content.Parts {
				if part.Text != "" {
					out <- router.StreamChunk{Delta: part.Text}
				}
			}
		}
		if lastResp != nil {
			final := geminiResponse(lastResp)
			out <- router.StreamChunk{
				IsFinal:      true,
				InputTokens:  final.InputTokens,
				OutputTokens: final.OutputTokens,
				StopReason:   final.StopReason,
				Content:      final.Content,
			}
		}
	}()
	return out, nil
}

func geminiResponse(resp *genai.GenerateContentResponse) router.Response {
	var text string
	var blocks []models.ContentBlock
	candidate := resp.Candidates[0]
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				text += part.Text
				blocks = append(blocks, models.TextBlock(part.Text))
			}
			if part.FunctionCall != nil {
				input, _ := json.Marshal(part.FunctionCall.Args)
				blocks = append(blocks, models.ToolUseBlock(part.FunctionCall.Name, part.FunctionCall.Name, input))
			}
		}
	}
	var inputTokens, outputTokens int
	if resp.UsageMetadata != nil {
		inputTokens = int(resp.UsageMetadata.PromptTokenCount)
		outputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return router.Response{
		Text:         text,
		Content:      blocks,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		StopReason:   router.StopReason(string(candidate.FinishReason)),
	}
}

func convertGeminiMessages(messages []models.LlmMessage) ([]*genai.Content, error) {
	out := make([]*genai.Content, 0, len(messages))
	for _, msg := range messages {
		content := &genai.Content{Role: geminiRole(msg.Role)}
		for _, block := range msg.Content {
			switch block.Type {
			case models.BlockText:
				content.Parts = append(content.Parts, &genai.Part{Text: block.Text})
			case models.BlockImage:
				content.Parts = append(content.Parts, &genai.Part{
					InlineData: &genai.Blob{MIMEType: block.ImageMime, Data: block.ImageData},
				})
			case models.BlockToolUse:
				var args map[string]any
				_ = json.Unmarshal(block.ToolUseInput, &args)
				content.Parts = append(content.Parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{Name: block.ToolName, Args: args},
				})
			case models.BlockToolResult:
				content.Parts = append(content.Parts, &genai.Part{
					FunctionResponse: &genai.FunctionResponse{
						Name:     block.ToolResultForID,
						Response: map[string]any{"content": block.ToolResultText, "is_error": block.ToolResultError},
					},
				})
			default:
				return nil, fmt.Errorf("gemini: unsupported block type %q", block.Type)
			}
		}
		out = append(out, content)
	}
	return out, nil
}

func geminiRole(role models.Role) string {
	if role == models.RoleAssistant {
		return "model"
	}
	return "user"
}

func convertGeminiTools(tools []models.ToolDef) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, tool := range tools {
		var schema *genai.Schema
		_ = json.Unmarshal(tool.InputSchema, &schema)
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  schema,
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}
