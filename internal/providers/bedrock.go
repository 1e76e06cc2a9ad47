package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/relaymesh/core/internal/router"
	"github.com/relaymesh/core/pkg/models"
)

// BedrockProvider adapts router.Provider to AWS Bedrock's Converse API,
// the unified entry point across Claude/Titan/Llama models hosted there.
type BedrockProvider struct {
	client       *bedrockruntime.Client
	maxRetries   int
	retryDelay   time.Duration
	defaultModel string
}

// BedrockConfig configures a BedrockProvider.
type BedrockConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	DefaultModel    string
	MaxRetries      int
	RetryDelay      time.Duration
}

func NewBedrockProvider(ctx context.Context, cfg BedrockConfig) (*BedrockProvider, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "anthropic.claude-3-sonnet-20240229-v1:0"
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("bedrock: load AWS config: %w", err)
	}

	return &BedrockProvider{
		client:       bedrockruntime.NewFromConfig(awsCfg),
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
		defaultModel: cfg.DefaultModel,
	}, nil
}

func (p *BedrockProvider) Name() string { return "bedrock" }

func (p *BedrockProvider) model(req router.Request) string {
	if req.Model != "" {
		return req.Model
	}
	return p.defaultModel
}

func (p *BedrockProvider) buildInput(req router.Request) (*bedrockruntime.ConverseInput, error) {
	messages, err := convertBedrockMessages(req.Messages)
	if err != nil {
		return nil, err
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:  awsString(p.model(req)),
		Messages: messages,
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens: awsInt32(int32(maxTokensOrDefault(req.MaxTokens, 4096))),
		},
	}
	if req.System != "" {
		input.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: req.System}}
	}
	if len(req.Tools) > 0 {
		input.ToolConfig = &types.ToolConfiguration{Tools: convertBedrockTools(req.Tools)}
	}
	return input, nil
}

func (p *BedrockProvider) Chat(ctx context.Context, req router.Request) (router.Response, error) {
	input, err := p.buildInput(req)
	if err != nil {
		return router.Response{}, err
	}

	var out *bedrockruntime.ConverseOutput
	var lastErr error
	backoff := p.retryDelay
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		out, err = p.client.Converse(ctx, input)
		if err == nil {
			lastErr = nil
			break
		}
		lastErr = wrapError("bedrock", p.model(req), statusFromErr(err), err)
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

	return bedrockResponse(out), nil
}

// Stream uses ConverseStream; deltas arrive as ContentBlockDelta events.
func (p *BedrockProvider) Stream(ctx context.Context, req router.Request) (<-chan router.StreamChunk, error) {
	input, err := p.buildInput(req)
	if err != nil {
		return nil, err
	}
	streamInput := &bedrockruntime.ConverseStreamInput{
		ModelId:         input.ModelId,
		Messages:        input.Messages,
		System:          input.System,
		InferenceConfig: input.InferenceConfig,
		ToolConfig:      input.ToolConfig,
	}

	resp, err := p.client.ConverseStream(ctx, streamInput)
	if err != nil {
		return nil, wrapError("bedrock", p.model(req), statusFromErr(err), err)
	}

	out := make(chan router.StreamChunk)
	go func() {
		defer close(out)
		stream := resp.GetStream()
		defer stream.Close()
		var text string
		var stopReason router.StopReason
		var inputTokens, outputTokens int
		for event := range stream.Events() {
			switch v := event.(type) {
			case *types.ConverseStreamOutputMemberContentBlockDelta:
				if textDelta, ok := v.Value.Delta.(*types.ContentBlockDeltaMemberText); ok {
					text += textDelta.Value
					out <- router.StreamChunk{Delta: textDelta.Value}
				}
			case *types.ConverseStreamOutputMemberMessageStop:
				stopReason = router.StopReason(string(v.Value.StopReason))
			case *types.ConverseStreamOutputMemberMetadata:
				if v.Value.Usage != nil {
					inputTokens = int(derefInt32(v.Value.Usage.InputTokens))
					outputTokens = int(derefInt32(v.Value.Usage.OutputTokens))
				}
			}
		}
		if err := stream.Err(); err != nil {
			out <- router.StreamChunk{IsFinal: true, StopReason: router.StopSafety}
			return
		}
		out <- router.StreamChunk{
			IsFinal:      true,
			InputTokens:  inputTokens,
			OutputTokens: outputTokens,
			StopReason:   stopReason,
			Content:      []models.ContentBlock{models.TextBlock(text)},
		}
	}()
	return out, nil
}

func bedrockResponse(out *bedrockruntime.ConverseOutput) router.Response {
	var text string
	var blocks []models.ContentBlock
	var inputTokens, outputTokens int
	if out.Usage != nil {
		inputTokens = int(derefInt32(out.Usage.InputTokens))
		outputTokens = int(derefInt32(out.Usage.OutputTokens))
	}
	if msg, ok := out.Output.(*types.ConverseOutputMemberMessage); ok {
		for _, block := range msg.Value.Content {
			switch v := block.(type) {
			case *types.ContentBlockMemberText:
				text += v.Value
				blocks = append(blocks, models.TextBlock(v.Value))
			case *types.ContentBlockMemberToolUse:
				var raw any
				if v.Value.Input != nil {
					_ = v.Value.Input.UnmarshalSmithyDocument(&raw)
				}
				input, _ := json.Marshal(raw)
				blocks = append(blocks, models.ToolUseBlock(derefString(v.Value.ToolUseId), derefString(v.Value.Name), input))
			}
		}
	}
	return router.Response{
		Text:         text,
		Content:      blocks,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		StopReason:   router.StopReason(string(out.StopReason)),
	}
}

func convertBedrockMessages(messages []models.LlmMessage) ([]types.Message, error) {
	out := make([]types.Message, 0, len(messages))
	for _, msg := range messages {
		var blocks []types.ContentBlock
		for _, block := range msg.Content {
			switch block.Type {
			case models.BlockText:
				blocks = append(blocks, &types.ContentBlockMemberText{Value: block.Text})
			case models.BlockImage:
				blocks = append(blocks, &types.ContentBlockMemberImage{Value: types.ImageBlock{
					Format: bedrockImageFormat(block.ImageMime),
					Source: &types.ImageSourceMemberBytes{Value: block.ImageData},
				}})
			case models.BlockToolUse:
				var input any
				_ = json.Unmarshal(block.ToolUseInput, &input)
				blocks = append(blocks, &types.ContentBlockMemberToolUse{Value: types.ToolUseBlock{
					ToolUseId: awsString(block.ToolUseID),
					Name:      awsString(block.ToolName),
					Input:     document.NewLazyDocument(input),
				}})
			case models.BlockToolResult:
				blocks = append(blocks, &types.ContentBlockMemberToolResult{Value: types.ToolResultBlock{
					ToolUseId: awsString(block.ToolResultForID),
					Content:   []types.ToolResultContentBlock{&types.ToolResultContentBlockMemberText{Value: block.ToolResultText}},
					Status:    bedrockToolStatus(block.ToolResultError),
				}})
			}
		}
		role := types.ConversationRoleUser
		if msg.Role == models.RoleAssistant {
			role = types.ConversationRoleAssistant
		}
		out = append(out, types.Message{Role: role, Content: blocks})
	}
	return out, nil
}

func convertBedrockTools(tools []models.ToolDef) []types.Tool {
	out := make([]types.Tool, 0, len(tools))
	for _, tool := range tools {
		var schema map[string]any
		_ = json.Unmarshal(tool.InputSchema, &schema)
		out = append(out, &types.ToolMemberToolSpec{Value: types.ToolSpecification{
			Name:        awsString(tool.Name),
			Description: awsString(tool.Description),
			InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schema)},
		}})
	}
	return out
}

func bedrockImageFormat(mime string) types.ImageFormat {
	switch mime {
	case "image/png":
		return types.ImageFormatPng
	case "image/gif":
		return types.ImageFormatGif
	case "image/webp":
		return types.ImageFormatWebp
	default:
		return types.ImageFormatJpeg
	}
}

func bedrockToolStatus(isError bool) types.ToolResultStatus {
	if isError {
		return types.ToolResultStatusError
	}
	return types.ToolResultStatusSuccess
}

func awsString(s string) *string { return &s }
func awsInt32(i int32) *int32    { return &i }
func derefInt32(i *int32) int32 {
	if i == nil {
		return 0
	}
	return *i
}
func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
