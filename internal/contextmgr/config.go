package contextmgr

// MemoryFlushConfig controls the memory-flush signal that asks the agent
// to write memory files before a turn's history grows too large to
// compact gracefully.
type MemoryFlushConfig struct {
	Enabled             bool   `yaml:"enabled"`
	SoftThresholdTokens int    `yaml:"soft_threshold_tokens"`
	SystemPrompt        string `yaml:"system_prompt"`
	Prompt              string `yaml:"prompt"`
}

// Config holds the per-agent (or global default) context-budget
// tunables.
type Config struct {
	MaxTokens          int               `yaml:"max_tokens"`
	TargetTokens       int               `yaml:"target_tokens"`
	ReserveTokens      int               `yaml:"reserve_tokens"`
	MinMessages        int               `yaml:"min_messages"`
	MaxToolResultChars int               `yaml:"max_tool_result_chars"`
	MemoryFlush        MemoryFlushConfig `yaml:"memory_flush"`
}

// DefaultConfig returns the standard budget: 128k max tokens,
// target = max/2, 4096 reserved, 4 minimum kept messages, 4000-char
// tool-result truncation, and memory-flush armed at an 8000-token soft
// threshold.
func DefaultConfig() Config {
	const maxTokens = 128_000
	return Config{
		MaxTokens:          maxTokens,
		TargetTokens:       maxTokens / 2,
		ReserveTokens:      4096,
		MinMessages:        4,
		MaxToolResultChars: 4000,
		MemoryFlush: MemoryFlushConfig{
			Enabled:             true,
			SoftThresholdTokens: 8000,
			SystemPrompt:        defaultMemorySystemPrompt,
			Prompt:              defaultMemoryPrompt,
		},
	}
}

// Available returns the token budget left for conversation history once
// the reserve is set aside.
func (c Config) Available() int {
	return c.MaxTokens - c.ReserveTokens
}

const defaultMemorySystemPrompt = "You are about to lose access to the earlier part of this conversation. " +
	"Write down anything you'll need to remember before it's gone."

const defaultMemoryPrompt = "Please write any important facts, decisions, or context from this conversation " +
	"to your memory files now."

const compactionSystemPrompt = "You are a conversation summarizer. Condense the following conversation into a " +
	"concise summary that preserves all decisions, facts, and open threads a continuing assistant would need."
