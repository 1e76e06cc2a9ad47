package contextmgr

import (
	"strings"
	"testing"

	"github.com/relaymesh/core/pkg/models"
)

func userMsg(text string) models.LlmMessage {
	return models.LlmMessage{Role: models.RoleUser, Content: []models.ContentBlock{models.TextBlock(text)}}
}

func toolResultMsg(content string) models.LlmMessage {
	return models.LlmMessage{Role: models.RoleUser, Content: []models.ContentBlock{models.ToolResultBlock("t1", content, false)}}
}

func TestPruneToolResultsLeavesRecentWindowUntouched(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxToolResultChars = 10

	long := strings.Repeat("x", 100)
	messages := []models.LlmMessage{
		toolResultMsg(long), // index 0, outside window of last 3 -> pruned
		userMsg("a"),
		toolResultMsg(long), // index 2, within last 3 -> untouched
		userMsg("b"),
		toolResultMsg(long), // index 4, within last 3 -> untouched
	}

	out := cfg.PruneToolResults(messages)

	if got := out[0].Content[0].ToolResultText; len(got) >= len(long) {
		t.Fatalf("expected message 0 pruned, got length %d", len(got))
	}
	if got := out[2].Content[0].ToolResultText; got != long {
		t.Fatalf("expected message 2 untouched (within last 3), got %q", got)
	}
	if got := out[4].Content[0].ToolResultText; got != long {
		t.Fatalf("expected message 4 untouched (within last 3), got %q", got)
	}
}

func TestPruneToolResultsMarksDroppedCount(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxToolResultChars = 20

	long := strings.Repeat("y", 200)
	messages := []models.LlmMessage{
		toolResultMsg(long),
		userMsg("a"),
		userMsg("b"),
		userMsg("c"),
		userMsg("d"),
	}

	out := cfg.PruneToolResults(messages)
	pruned := out[0].Content[0].ToolResultText
	if !strings.Contains(pruned, "chars truncated") {
		t.Fatalf("expected truncation marker, got %q", pruned)
	}
	if len(pruned) >= len(long) {
		t.Fatalf("expected shorter content, got length %d", len(pruned))
	}
}

func TestPruneToolResultsNoopUnderShortHistory(t *testing.T) {
	cfg := DefaultConfig()
	messages := []models.LlmMessage{userMsg("a"), userMsg("b")}
	out := cfg.PruneToolResults(messages)
	if len(out) != len(messages) {
		t.Fatalf("expected unchanged slice length")
	}
}
