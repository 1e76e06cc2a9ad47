package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/relaymesh/core/pkg/models"
)

type stubProvider struct {
	name      string
	calls     int
	lastModel string
	errs      []error // consumed in order, one per Chat call; nil means success
	resp      Response
}

func (p *stubProvider) Chat(ctx context.Context, req Request) (Response, error) {
	p.calls++
	p.lastModel = req.Model
	if len(p.errs) > 0 {
		err := p.errs[0]
		p.errs = p.errs[1:]
		if err != nil {
			return Response{}, err
		}
	}
	return p.resp, nil
}

func (p *stubProvider) Stream(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	p.calls++
	p.lastModel = req.Model
	if len(p.errs) > 0 {
		err := p.errs[0]
		p.errs = p.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	ch := make(chan StreamChunk, 1)
	ch <- StreamChunk{IsFinal: true, StopReason: p.resp.StopReason}
	close(ch)
	return ch, nil
}

func (p *stubProvider) Name() string { return p.name }

func noSleep(time.Duration) {}

func TestResolveAliasPassthrough(t *testing.T) {
	r := New(nil, Config{})
	c, err := r.ResolveAlias("anthropic/claude-sonnet-4")
	if err != nil {
		t.Fatalf("ResolveAlias() error: %v", err)
	}
	if c.Provider != "anthropic" || c.Model != "claude-sonnet-4" {
		t.Fatalf("unexpected candidate: %+v", c)
	}
}

func TestResolveAliasTable(t *testing.T) {
	r := New(nil, Config{Aliases: map[string]Candidate{
		"fast": {Provider: "openai", Model: "gpt-4o-mini"},
	}})
	c, err := r.ResolveAlias("fast")
	if err != nil {
		t.Fatalf("ResolveAlias() error: %v", err)
	}
	if c.Provider != "openai" || c.Model != "gpt-4o-mini" {
		t.Fatalf("unexpected candidate: %+v", c)
	}
}

func TestResolveAliasUnknownFailsImmediately(t *testing.T) {
	r := New(nil, Config{})
	if _, err := r.ResolveAlias("nonexistent"); !errors.Is(err, ErrUnknownAlias) {
		t.Fatalf("expected ErrUnknownAlias, got %v", err)
	}
}

func TestChatUsesPrimaryOnSuccess(t *testing.T) {
	primary := &stubProvider{name: "anthropic", resp: Response{Text: "hi", StopReason: "end_turn"}}
	r := New(map[string]Provider{"anthropic": primary}, Config{})
	r.sleep = noSleep

	resp, err := r.Chat(context.Background(), "anthropic/claude-sonnet-4", nil, Request{})
	if err != nil {
		t.Fatalf("Chat() error: %v", err)
	}
	if resp.Text != "hi" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if primary.calls != 1 {
		t.Fatalf("expected exactly one call, got %d", primary.calls)
	}
}

func TestChatFailsOverToAgentFallback(t *testing.T) {
	primary := &stubProvider{name: "anthropic", errs: []error{Retryable(errors.New("503 server error")), Retryable(errors.New("503 server error")), Retryable(errors.New("503 server error"))}}
	fallback := &stubProvider{name: "openai", resp: Response{Text: "fallback reply", StopReason: "end_turn"}}
	r := New(map[string]Provider{"anthropic": primary, "openai": fallback}, Config{})
	r.sleep = noSleep

	resp, err := r.Chat(context.Background(), "anthropic/claude-sonnet-4", []string{"openai/gpt-4o"}, Request{})
	if err != nil {
		t.Fatalf("Chat() error: %v", err)
	}
	if resp.Text != "fallback reply" {
		t.Fatalf("expected fallback response, got %+v", resp)
	}
	if primary.calls != MaxRetries+1 {
		t.Fatalf("expected primary retried MaxRetries+1=%d times, got %d", MaxRetries+1, primary.calls)
	}
	if fallback.calls != 1 {
		t.Fatalf("expected fallback called once, got %d", fallback.calls)
	}
}

func TestChatRetriesThenSucceedsOnSameCandidate(t *testing.T) {
	primary := &stubProvider{
		name: "anthropic",
		errs: []error{Retryable(errors.New("429 rate limit")), Retryable(errors.New("429 rate limit")), nil},
		resp: Response{Text: "ok", StopReason: "end_turn"},
	}
	var slept []time.Duration
	r := New(map[string]Provider{"anthropic": primary}, Config{})
	r.sleep = func(d time.Duration) { slept = append(slept, d) }

	resp, err := r.Chat(context.Background(), "anthropic/claude-sonnet-4", nil, Request{})
	if err != nil {
		t.Fatalf("Chat() error: %v", err)
	}
	if resp.Text != "ok" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if primary.calls != 3 {
		t.Fatalf("expected exactly N+1=3 attempts, got %d", primary.calls)
	}
	want := []time.Duration{1000 * time.Millisecond, 2000 * time.Millisecond}
	if len(slept) != len(want) || slept[0] != want[0] || slept[1] != want[1] {
		t.Fatalf("backoffs = %v, want %v", slept, want)
	}
}

func TestChatNonRetryableSkipsToNextCandidateWithoutRetry(t *testing.T) {
	primary := &stubProvider{name: "anthropic", errs: []error{errors.New("401 unauthorized")}}
	fallback := &stubProvider{name: "openai", resp: Response{Text: "ok", StopReason: "end_turn"}}
	r := New(map[string]Provider{"anthropic": primary, "openai": fallback}, Config{})
	r.sleep = noSleep

	resp, err := r.Chat(context.Background(), "anthropic/claude-sonnet-4", []string{"openai/gpt-4o"}, Request{})
	if err != nil {
		t.Fatalf("Chat() error: %v", err)
	}
	if resp.Text != "ok" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if primary.calls != 1 {
		t.Fatalf("expected primary tried exactly once (no retry on non-retryable), got %d", primary.calls)
	}
}

func TestChatUsesGlobalFallbacksAfterAgentFallbacks(t *testing.T) {
	primary := &stubProvider{name: "anthropic", errs: []error{errors.New("400 bad request")}}
	agentFallback := &stubProvider{name: "openai", errs: []error{errors.New("400 bad request")}}
	globalFallback := &stubProvider{name: "bedrock", resp: Response{Text: "global", StopReason: "end_turn"}}
	r := New(map[string]Provider{
		"anthropic": primary,
		"openai":    agentFallback,
		"bedrock":   globalFallback,
	}, Config{
		GlobalFallbacks: []Candidate{{Provider: "bedrock", Model: "claude-v2"}},
	})
	r.sleep = noSleep

	resp, err := r.Chat(context.Background(), "anthropic/claude-sonnet-4", []string{"openai/gpt-4o"}, Request{})
	if err != nil {
		t.Fatalf("Chat() error: %v", err)
	}
	if resp.Text != "global" {
		t.Fatalf("expected global fallback response, got %+v", resp)
	}
}

func TestChatExhaustsAllCandidatesReturnsLastError(t *testing.T) {
	primary := &stubProvider{name: "anthropic", errs: []error{errors.New("400 bad request")}}
	r := New(map[string]Provider{"anthropic": primary}, Config{})
	r.sleep = noSleep

	_, err := r.Chat(context.Background(), "anthropic/claude-sonnet-4", nil, Request{})
	if err == nil {
		t.Fatalf("expected error when all candidates exhausted")
	}
}

func TestChatDedupesIdenticalFallbacks(t *testing.T) {
	primary := &stubProvider{name: "anthropic", resp: Response{Text: "hi", StopReason: "end_turn"}}
	r := New(map[string]Provider{"anthropic": primary}, Config{
		GlobalFallbacks: []Candidate{{Provider: "anthropic", Model: "claude-sonnet-4"}},
	})
	r.sleep = noSleep

	chain, err := r.chain("anthropic/claude-sonnet-4", nil)
	if err != nil {
		t.Fatalf("chain() error: %v", err)
	}
	if len(chain) != 1 {
		t.Fatalf("expected duplicate candidate collapsed, got %d entries: %+v", len(chain), chain)
	}
}

func TestNormalizeStopReason(t *testing.T) {
	cases := map[string]StopReason{
		"end_turn":        StopEndTurn,
		"stop":            StopEndTurn,
		"tool_use":        StopToolUse,
		"function_call":   StopToolUse,
		"max_tokens":      StopMaxTokens,
		"length":          StopMaxTokens,
		"safety":          StopSafety,
		"content_filter":  StopSafety,
		"something_weird": StopEndTurn,
	}
	for raw, want := range cases {
		if got := normalizeStopReason(raw); got != want {
			t.Errorf("normalizeStopReason(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestStreamReturnsDirectlyOnHandshakeSuccess(t *testing.T) {
	primary := &stubProvider{name: "anthropic", resp: Response{StopReason: "tool_use"}}
	r := New(map[string]Provider{"anthropic": primary}, Config{})
	r.sleep = noSleep

	stream, err := r.Stream(context.Background(), "anthropic/claude-sonnet-4", nil, Request{})
	if err != nil {
		t.Fatalf("Stream() error: %v", err)
	}
	chunk := <-stream
	if !chunk.IsFinal {
		t.Fatalf("expected final chunk")
	}
	if chunk.StopReason != StopToolUse {
		t.Fatalf("expected normalized stop reason, got %q", chunk.StopReason)
	}
}

func TestChatRequestCarriesModelOverride(t *testing.T) {
	primary := &stubProvider{name: "anthropic", resp: Response{StopReason: "end_turn"}}
	r := New(map[string]Provider{"anthropic": primary}, Config{})
	r.sleep = noSleep

	_, err := r.Chat(context.Background(), "anthropic/claude-sonnet-4", nil, Request{
		Messages: []models.LlmMessage{{Role: models.RoleUser, Content: []models.ContentBlock{models.TextBlock("hi")}}},
	})
	if err != nil {
		t.Fatalf("Chat() error: %v", err)
	}
	if primary.lastModel != "claude-sonnet-4" {
		t.Fatalf("expected candidate model passed through, got %q", primary.lastModel)
	}
}
