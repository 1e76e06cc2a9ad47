// Package router abstracts over LLM provider backends, resolving a model
// alias or passthrough spec to an ordered candidate chain and retrying each
// candidate with bounded backoff before failing over to the next.
package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/relaymesh/core/pkg/models"
)

// StopReason is the normalized terminal condition of a completion, common
// across every provider's own stop-reason vocabulary.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
	StopSafety    StopReason = "safety"
)

// Request is a provider-agnostic completion request.
type Request struct {
	Model     string
	System    string
	Messages  []models.LlmMessage
	Tools     []models.ToolDef
	MaxTokens int
}

// Response is a unary completion result.
type Response struct {
	Text         string
	Content      []models.ContentBlock
	InputTokens  int
	OutputTokens int
	StopReason   StopReason
}

// StreamChunk is one element of a streaming completion. The terminal chunk
// has IsFinal=true and carries the accumulated totals and content blocks.
type StreamChunk struct {
	Delta        string
	IsFinal      bool
	InputTokens  int
	OutputTokens int
	StopReason   StopReason
	Content      []models.ContentBlock
}

// Provider is the interface every concrete LLM backend implements.
type Provider interface {
	Name() string
	Chat(ctx context.Context, req Request) (Response, error)
	Stream(ctx context.Context, req Request) (<-chan StreamChunk, error)
}

// RetryableError marks an error as safe to retry against the same
// candidate's provider (429, 5xx, timeout, connect error).
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// Retryable wraps err so the router retries it against the same candidate
// before moving on, up to MaxRetries.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

func isRetryable(err error) bool {
	var re *RetryableError
	if errors.As(err, &re) {
		return true
	}
	return classifyError(err) != ""
}

// classifyError falls back to substring matching for providers that
// return plain errors instead of wrapping them in RetryableError.
func classifyError(err error) string {
	if err == nil {
		return ""
	}
	s := strings.ToLower(err.Error())
	switch {
	case strings.Contains(s, "429"), strings.Contains(s, "rate limit"), strings.Contains(s, "too many requests"):
		return "rate_limit"
	case strings.Contains(s, "timeout"), strings.Contains(s, "deadline exceeded"):
		return "timeout"
	case strings.Contains(s, "connect"), strings.Contains(s, "connection refused"), strings.Contains(s, "eof"):
		return "connect_error"
	case strings.Contains(s, "500"), strings.Contains(s, "502"), strings.Contains(s, "503"), strings.Contains(s, "504"),
		strings.Contains(s, "internal server"), strings.Contains(s, "server error"):
		return "server_error"
	default:
		return ""
	}
}

const (
	// MaxRetries is the per-candidate retry budget, per spec.
	MaxRetries = 2
	// BaseBackoffMs is the first retry's backoff; it doubles each attempt.
	BaseBackoffMs = 1000
)

// Candidate names a provider/model pair the router may try.
type Candidate struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// Config configures a Router.
type Config struct {
	// Aliases maps a bare model alias to a concrete provider/model target.
	// A spec already in "provider/model" form bypasses this table.
	Aliases map[string]Candidate `yaml:"aliases"`

	// GlobalFallbacks is appended to every candidate chain after an
	// agent's own fallbacks, tried in order.
	GlobalFallbacks []Candidate `yaml:"global_fallbacks"`
}

// ErrUnknownAlias is returned when a bare alias has no entry in the Config's
// alias table.
var ErrUnknownAlias = errors.New("router: unknown model alias")

// Hooks lets an external observer (metrics) learn about retry/failover
// events without the router importing any metrics library directly.
// Both fields may be nil.
type Hooks struct {
	OnRetry    func(provider, model string)
	OnFailover func(provider, model string)
}

// Router resolves aliases, builds candidate chains and retries/fails over
// across providers.
type Router struct {
	providers map[string]Provider
	config    Config
	sleep     func(time.Duration)
	hooks     Hooks
}

// Option configures a Router at construction time.
type Option func(*Router)

// WithHooks attaches retry/failover observers, typically backed by
// internal/metrics counters.
func WithHooks(h Hooks) Option {
	return func(r *Router) { r.hooks = h }
}

// New creates a Router over the given named providers.
func New(providers map[string]Provider, config Config, opts ...Option) *Router {
	r := &Router{
		providers: providers,
		config:    config,
		sleep:     time.Sleep,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveAlias turns a model spec into a concrete candidate: a spec of the form
// "provider/model" passes through unchanged; anything else is looked up in
// the alias table, failing immediately if absent.
func (r *Router) ResolveAlias(spec string) (Candidate, error) {
	if provider, model, ok := strings.Cut(spec, "/"); ok && provider != "" && model != "" {
		return Candidate{Provider: provider, Model: model}, nil
	}
	if target, ok := r.config.Aliases[spec]; ok {
		return target, nil
	}
	return Candidate{}, fmt.Errorf("%w: %q", ErrUnknownAlias, spec)
}

// chain builds the full candidate list for a turn: the resolved primary,
// then the agent's own fallback aliases, then the router's global
// fallbacks, each resolved and deduplicated by provider+model.
func (r *Router) chain(primary string, agentFallbacks []string) ([]Candidate, error) {
	first, err := r.ResolveAlias(primary)
	if err != nil {
		return nil, err
	}

	seen := map[string]struct{}{key(first): {}}
	chain := []Candidate{first}

	for _, alias := range agentFallbacks {
		c, err := r.ResolveAlias(alias)
		if err != nil {
			continue
		}
		if _, ok := seen[key(c)]; ok {
			continue
		}
		seen[key(c)] = struct{}{}
		chain = append(chain, c)
	}

	for _, c := range r.config.GlobalFallbacks {
		if _, ok := seen[key(c)]; ok {
			continue
		}
		seen[key(c)] = struct{}{}
		chain = append(chain, c)
	}

	return chain, nil
}

func key(c Candidate) string { return c.Provider + "/" + c.Model }

// Chat builds the candidate chain for
// primary + fallbacks, tries each in order with bounded retry, and returns
// the first success.
func (r *Router) Chat(ctx context.Context, primary string, agentFallbacks []string, req Request) (Response, error) {
	candidates, err := r.chain(primary, agentFallbacks)
	if err != nil {
		return Response{}, err
	}

	var lastErr error
	for _, c := range candidates {
		provider, ok := r.providers[c.Provider]
		if !ok {
			lastErr = fmt.Errorf("router: unknown provider %q", c.Provider)
			continue
		}
		candReq := req
		candReq.Model = c.Model

		resp, err := r.tryChat(ctx, provider, candReq)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !isRetryable(err) {
			// Non-retryable error (401/403/400): skip straight to the
			// next candidate without retrying this one.
			r.failover(c)
			continue
		}
		r.failover(c)
	}
	if lastErr == nil {
		lastErr = errors.New("router: no candidates configured")
	}
	return Response{}, lastErr
}

func (r *Router) failover(c Candidate) {
	if r.hooks.OnFailover != nil {
		r.hooks.OnFailover(c.Provider, c.Model)
	}
}

func (r *Router) retry(c Candidate) {
	if r.hooks.OnRetry != nil {
		r.hooks.OnRetry(c.Provider, c.Model)
	}
}

// tryChat retries a single candidate up to MaxRetries times with doubling
// backoff.
func (r *Router) tryChat(ctx context.Context, provider Provider, req Request) (Response, error) {
	backoff := time.Duration(BaseBackoffMs) * time.Millisecond
	var lastErr error

	for attempt := 0; attempt <= MaxRetries; attempt++ {
		resp, err := provider.Chat(ctx, req)
		if err == nil {
			resp.StopReason = normalizeStopReason(string(resp.StopReason))
			return resp, nil
		}
		lastErr = err

		if !isRetryable(err) {
			return Response{}, err
		}
		if ctx.Err() != nil {
			return Response{}, ctx.Err()
		}
		if attempt >= MaxRetries {
			break
		}

		r.retry(Candidate{Provider: provider.Name(), Model: req.Model})
		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		case <-after(r.sleep, backoff):
		}
		backoff *= 2
	}
	return Response{}, lastErr
}

// after returns a channel that fires once sleep(d) completes, letting
// tryChat's select also observe ctx.Done() concurrently.
func after(sleep func(time.Duration), d time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		sleep(d)
		close(done)
	}()
	return done
}

// Stream performs the same candidate traversal as
// Chat, but once a candidate's stream handshake succeeds the stream is
// returned directly with no per-chunk fallback; mid-stream errors surface to
// the caller as stream errors.
func (r *Router) Stream(ctx context.Context, primary string, agentFallbacks []string, req Request) (<-chan StreamChunk, error) {
	candidates, err := r.chain(primary, agentFallbacks)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, c := range candidates {
		provider, ok := r.providers[c.Provider]
		if !ok {
			lastErr = fmt.Errorf("router: unknown provider %q", c.Provider)
			continue
		}
		candReq := req
		candReq.Model = c.Model

		stream, err := provider.Stream(ctx, candReq)
		if err == nil {
			return normalizeStream(stream), nil
		}
		lastErr = err
		r.failover(c)
		if !isRetryable(err) {
			continue
		}
	}
	if lastErr == nil {
		lastErr = errors.New("router: no candidates configured")
	}
	return nil, lastErr
}

func normalizeStream(in <-chan StreamChunk) <-chan StreamChunk {
	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		for chunk := range in {
			if chunk.IsFinal {
				chunk.StopReason = normalizeStopReason(string(chunk.StopReason))
			}
			out <- chunk
		}
	}()
	return out
}

// normalizeStopReason maps provider-specific stop-reason vocabularies onto
// the fixed set {end_turn, tool_use, max_tokens, safety}. Anything
// unrecognized defaults to end_turn.
func normalizeStopReason(raw string) StopReason {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "end_turn", "stop", "stop_sequence", "":
		return StopEndTurn
	case "tool_use", "tool_calls", "function_call":
		return StopToolUse
	case "max_tokens", "length":
		return StopMaxTokens
	case "safety", "content_filter", "refusal":
		return StopSafety
	default:
		return StopEndTurn
	}
}
