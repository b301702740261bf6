// Package provider defines the language-model client contract used by the
// tutor, the evaluator and the tangent detector, plus a role-based failover
// chain with health tracking.
package provider

import "context"

// Provider is the interface for communicating with an LLM.
// Concrete implementations live in subpackages (anthropic, openai).
type Provider interface {
	// Complete sends a completion request and returns the full response.
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)

	// Stream sends a completion request and returns a channel of chunks.
	// Initial connection errors are returned directly. Mid-stream errors
	// are delivered via StreamChunk.Err.
	Stream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error)

	// ContextWindowSize returns the maximum context window in tokens.
	ContextWindowSize() int

	// ModelName returns the identifier of the underlying model.
	ModelName() string
}

// HealthChecker is an optional interface that providers may implement
// to support active health probing while in cooldown.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Collect drains a stream into a single response. onChunk, when non-nil,
// sees every non-empty content delta in order.
func Collect(ch <-chan StreamChunk, onChunk func(string)) (CompletionResponse, error) {
	var resp CompletionResponse
	var content []byte
	for chunk := range ch {
		if chunk.Err != nil {
			return resp, chunk.Err
		}
		if chunk.Content != "" {
			content = append(content, chunk.Content...)
			if onChunk != nil {
				onChunk(chunk.Content)
			}
		}
		if chunk.FinishReason != "" {
			resp.FinishReason = chunk.FinishReason
		}
		if chunk.Usage != nil {
			resp.Usage = *chunk.Usage
		}
	}
	resp.Content = string(content)
	return resp, nil
}
