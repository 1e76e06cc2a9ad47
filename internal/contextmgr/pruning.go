package contextmgr

import (
	"fmt"

	"github.com/relaymesh/core/pkg/models"
)

// keepLastAssistants is how many trailing messages are exempt from tool
// result pruning.
const keepLastAssistants = 3

// PruneToolResults truncates ToolResult content in every message older
// than the last keepLastAssistants messages to MaxToolResultChars,
// replacing the dropped middle with a "<N chars truncated>" marker
// between the head and tail. Messages within the protected window, and
// any ToolResult already under the limit, are returned unchanged.
func (c Config) PruneToolResults(messages []models.LlmMessage) []models.LlmMessage {
	if len(messages) <= keepLastAssistants {
		return messages
	}
	cutoff := len(messages) - keepLastAssistants

	out := make([]models.LlmMessage, len(messages))
	copy(out, messages)

	for i := 0; i < cutoff; i++ {
		out[i] = c.pruneMessage(out[i])
	}
	return out
}

func (c Config) pruneMessage(msg models.LlmMessage) models.LlmMessage {
	changed := false
	content := make([]models.ContentBlock, len(msg.Content))
	for i, block := range msg.Content {
		if block.Type == models.BlockToolResult && len(block.ToolResultText) > c.MaxToolResultChars {
			block.ToolResultText = truncateMiddle(block.ToolResultText, c.MaxToolResultChars)
			changed = true
		}
		content[i] = block
	}
	if !changed {
		return msg
	}
	msg.Content = content
	return msg
}

// truncateMiddle keeps half of limit from the head and half from the
// tail of s, replacing the dropped middle with a marker naming how many
// characters were removed, in the "<head><N chars truncated><tail>"
// shape.
func truncateMiddle(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	half := limit / 2
	head := s[:half]
	tail := s[len(s)-half:]
	dropped := len(s) - 2*half
	return fmt.Sprintf("%s<%d chars truncated>%s", head, dropped, tail)
}
