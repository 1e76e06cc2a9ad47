package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/relaymesh/core/internal/router"
	"github.com/relaymesh/core/pkg/models"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider adapts router.Provider to the Chat Completions API.
type OpenAIProvider struct {
	client       *openai.Client
	maxRetries   int
	retryDelay   time.Duration
	defaultModel string
}

// OpenAIConfig configures an OpenAIProvider.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	MaxRetries   int
	RetryDelay   time.Duration
	DefaultModel string
}

func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gpt-4o"
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIProvider{
		client:       openai.NewClientWithConfig(clientCfg),
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
		defaultModel: cfg.DefaultModel,
	}, nil
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) model(req router.Request) string {
	if req.Model != "" {
		return req.Model
	}
	return p.defaultModel
}

func (p *OpenAIProvider) buildRequest(req router.Request, stream bool) openai.ChatCompletionRequest {
	messages := convertOpenAIMessages(req.System, req.Messages)
	chatReq := openai.ChatCompletionRequest{
		Model:     p.model(req),
		Messages:  messages,
		MaxTokens: maxTokensOrDefault(req.MaxTokens, 4096),
		Stream:    stream,
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertOpenAITools(req.Tools)
	}
	return chatReq
}

func (p *OpenAIProvider) Chat(ctx context.Context, req router.Request) (router.Response, error) {
	chatReq := p.buildRequest(req, false)

	var resp openai.ChatCompletionResponse
	var lastErr error
	backoff := p.retryDelay
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		var err error
		resp, err = p.client.CreateChatCompletion(ctx, chatReq)
		if err == nil {
			lastErr = nil
			break
		}
		lastErr = wrapError("openai", p.model(req), statusFromErr(err), err)
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
	if len(resp.Choices) == 0 {
		return router.Response{}, fmt.Errorf("openai: empty choices")
	}

	return openaiResponse(resp), nil
}

func (p *OpenAIProvider) Stream(ctx context.Context, req router.Request) (<-chan router.StreamChunk, error) {
	chatReq := p.buildRequest(req, true)

	stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, wrapError("openai", p.model(req), statusFromErr(err), err)
	}

	out := make(chan router.StreamChunk)
	go func() {
		defer close(out)
		defer stream.Close()
		var text string
		var toolCalls []openai.ToolCall
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				out <- router.StreamChunk{IsFinal: true, StopReason: router.StopSafety}
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			choice := resp.Choices[0]
			if delta := choice.Delta.Content; delta != "" {
				text += delta
				out <- router.StreamChunk{Delta: delta}
			}
			toolCalls = append(toolCalls, choice.Delta.ToolCalls...)
			if choice.FinishReason != "" {
				blocks := []models.ContentBlock{models.TextBlock(text)}
				for _, tc := range toolCalls {
					blocks = append(blocks, models.ToolUseBlock(tc.ID, tc.Function.Name, json.RawMessage(tc.Function.Arguments)))
				}
				out <- router.StreamChunk{
					IsFinal:    true,
					StopReason: router.StopReason(string(choice.FinishReason)),
					Content:    blocks,
				}
			}
		}
	}()
	return out, nil
}

func openaiResponse(resp openai.ChatCompletionResponse) router.Response {
	choice := resp.Choices[0]
	blocks := []models.ContentBlock{models.TextBlock(choice.Message.Content)}
	for _, tc := range choice.Message.ToolCalls {
		blocks = append(blocks, models.ToolUseBlock(tc.ID, tc.Function.Name, json.RawMessage(tc.Function.Arguments)))
	}
	return router.Response{
		Text:         choice.Message.Content,
		Content:      blocks,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		StopReason:   router.StopReason(string(choice.FinishReason)),
	}
}

func convertOpenAIMessages(system string, messages []models.LlmMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, msg := range messages {
		for _, block := range msg.Content {
			switch block.Type {
			case models.BlockText:
				out = append(out, openai.ChatCompletionMessage{Role: openaiRole(msg.Role), Content: block.Text})
			case models.BlockImage:
				out = append(out, openai.ChatCompletionMessage{
					Role: openaiRole(msg.Role),
					MultiContent: []openai.ChatMessagePart{{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL: "data:" + block.ImageMime + ";base64," + base64.StdEncoding.EncodeToString(block.ImageData),
						},
					}},
				})
			case models.BlockToolUse:
				out = append(out, openai.ChatCompletionMessage{
					Role: openai.ChatMessageRoleAssistant,
					ToolCalls: []openai.ToolCall{{
						ID:   block.ToolUseID,
						Type: openai.ToolTypeFunction,
						Function: openai.FunctionCall{
							Name:      block.ToolName,
							Arguments: string(block.ToolUseInput),
						},
					}},
				})
			case models.BlockToolResult:
				out = append(out, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    block.ToolResultText,
					ToolCallID: block.ToolResultForID,
				})
			}
		}
	}
	return out
}

func openaiRole(role models.Role) string {
	switch role {
	case models.RoleAssistant:
		return openai.ChatMessageRoleAssistant
	case models.RoleSystem:
		return openai.ChatMessageRoleSystem
	default:
		return openai.ChatMessageRoleUser
	}
}

func convertOpenAITools(tools []models.ToolDef) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, tool := range tools {
		var schema map[string]any
		_ = json.Unmarshal(tool.InputSchema, &schema)
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  schema,
			},
		})
	}
	return out
}
