package contextmgr

import (
	"context"
	"fmt"
	"strings"

	"github.com/relaymesh/core/pkg/models"
)

// maxCompactionSummaryTokens bounds the compaction LLM call's response.
const maxCompactionSummaryTokens = 2048

// summaryPrefix marks the synthetic message that replaces a compacted
// history prefix. Its presence is also what makes compaction idempotent:
// a history whose first message already starts with this prefix has
// already had its old turns folded away, so its token count sits well
// under TargetTokens and a second pass finds nothing left to compact.
const summaryPrefix = "[Previous conversation summary]\n"

// FlushSignal is emitted when history is approaching the point where
// compaction would discard context the agent has not had a chance to
// persist to durable memory yet.
type FlushSignal struct {
	SystemPrompt string
	Prompt       string
}

// CheckMemoryFlush reports whether a memory-flush turn should run before
// this turn proceeds. The signal fires once estimated usage enters the
// band
// [available-soft_threshold, available): below that band there is no
// pressure yet; at or above "available" the turn is already over budget
// and heads straight to compaction instead.
func (c Config) CheckMemoryFlush(estimatedTokens int) (FlushSignal, bool) {
	if !c.MemoryFlush.Enabled {
		return FlushSignal{}, false
	}
	available := c.Available()
	low := available - c.MemoryFlush.SoftThresholdTokens
	if estimatedTokens >= low && estimatedTokens < available {
		return FlushSignal{
			SystemPrompt: c.MemoryFlush.SystemPrompt,
			Prompt:       c.MemoryFlush.Prompt,
		}, true
	}
	return FlushSignal{}, false
}

// Summarizer performs the compaction LLM call: given the fixed
// compaction system prompt and the rendered transcript of messages to
// fold away, it returns the summary text.
type Summarizer interface {
	Summarize(ctx context.Context, systemPrompt, transcript string, maxTokens int) (string, error)
}

// CompactionResult reports what a Compact call did.
type CompactionResult struct {
	Summary        string
	CompactedCount int
	TokensSaved    int
}

// Compact folds the oldest history into a summary. If estimated usage does not
// exceed the available budget, or keeping at least MinMessages in the
// kept suffix leaves nothing to compact, messages is returned unchanged and result is
// nil. Otherwise the oldest messages up to the split point are replaced
// by a single synthetic user message carrying the LLM-generated summary.
func (c Config) Compact(ctx context.Context, messages []models.LlmMessage, summarizer Summarizer) ([]models.LlmMessage, *CompactionResult, error) {
	available := c.Available()
	total := EstimateTokens(messages)
	if total <= available {
		return messages, nil, nil
	}

	splitIndex := c.compactionSplitIndex(messages)
	if splitIndex <= 0 {
		return messages, nil, nil
	}

	toCompact := messages[:splitIndex]
	kept := messages[splitIndex:]

	compactTokens := EstimateTokens(toCompact)
	transcript := renderTranscript(toCompact)

	summary, err := summarizer.Summarize(ctx, compactionSystemPrompt, transcript, maxCompactionSummaryTokens)
	if err != nil {
		return nil, nil, fmt.Errorf("contextmgr: compaction summarize: %w", err)
	}

	summaryMsg := models.LlmMessage{
		Role:    models.RoleUser,
		Content: []models.ContentBlock{models.TextBlock(summaryPrefix + summary)},
	}
	summaryTokens := EstimateMessageTokens(summaryMsg)

	out := make([]models.LlmMessage, 0, len(kept)+1)
	out = append(out, summaryMsg)
	out = append(out, kept...)

	result := &CompactionResult{
		Summary:        summary,
		CompactedCount: len(toCompact),
		TokensSaved:    compactTokens - summaryTokens,
	}
	return out, result, nil
}

// compactionSplitIndex walks messages newest-to-oldest accumulating
// estimated tokens until target/2 is reached; everything before that
// point is the "compact" prefix. The split is floored so at least
// MinMessages remain in the kept suffix; if that floor consumes the
// entire history, there is nothing safe to compact and 0 is returned.
func (c Config) compactionSplitIndex(messages []models.LlmMessage) int {
	keepBudget := c.TargetTokens / 2
	accumulated := 0
	splitIndex := len(messages)
	for i := len(messages) - 1; i >= 0; i-- {
		accumulated += EstimateMessageTokens(messages[i])
		if accumulated >= keepBudget {
			splitIndex = i
			break
		}
		splitIndex = i
	}

	maxSplit := len(messages) - c.MinMessages
	if maxSplit < 0 {
		maxSplit = 0
	}
	if splitIndex > maxSplit {
		splitIndex = maxSplit
	}
	if splitIndex < 0 {
		splitIndex = 0
	}
	return splitIndex
}

// renderTranscript concatenates messages as "role: text\n\n...",
// flattening tool-use/tool-result blocks to their
// text content so the summarizer sees a readable conversation.
func renderTranscript(messages []models.LlmMessage) string {
	var sb strings.Builder
	for _, msg := range messages {
		sb.WriteString(string(msg.Role))
		sb.WriteString(": ")
		sb.WriteString(flattenText(msg))
		sb.WriteString("\n\n")
	}
	return sb.String()
}

func flattenText(msg models.LlmMessage) string {
	var sb strings.Builder
	for i, block := range msg.Content {
		if i > 0 {
			sb.WriteString(" ")
		}
		switch block.Type {
		case models.BlockText:
			sb.WriteString(block.Text)
		case models.BlockToolUse:
			sb.WriteString(fmt.Sprintf("[called tool %s]", block.ToolName))
		case models.BlockToolResult:
			sb.WriteString(fmt.Sprintf("[tool result: %s]", block.ToolResultText))
		case models.BlockImage:
			sb.WriteString("[image]")
		}
	}
	return sb.String()
}
