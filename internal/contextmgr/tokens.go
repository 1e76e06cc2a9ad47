// Package contextmgr prunes, flushes, and compacts conversation history
// so a turn's request stays within a model's token budget. Token
// accounting is a deliberate heuristic, not a real tokenizer: chars/4 for
// text, bytes/12 for inline image data, plus 10 per-message overhead.
package contextmgr

import (
	"github.com/relaymesh/core/pkg/models"
)

const (
	charsPerToken      = 4
	imageBytesPerToken = 12
	perMessageOverhead = 10
)

// EstimateTokens approximates the token count of a full message history.
func EstimateTokens(messages []models.LlmMessage) int {
	total := 0
	for _, msg := range messages {
		total += EstimateMessageTokens(msg)
	}
	return total
}

// EstimateMessageTokens approximates a single message's token count.
func EstimateMessageTokens(msg models.LlmMessage) int {
	total := perMessageOverhead
	for _, block := range msg.Content {
		total += estimateBlockTokens(block)
	}
	return total
}

func estimateBlockTokens(block models.ContentBlock) int {
	switch block.Type {
	case models.BlockText:
		return len(block.Text) / charsPerToken
	case models.BlockImage:
		return len(block.ImageData) / imageBytesPerToken
	case models.BlockToolUse:
		return len(block.ToolUseInput) / charsPerToken
	case models.BlockToolResult:
		return len(block.ToolResultText) / charsPerToken
	default:
		return 0
	}
}
