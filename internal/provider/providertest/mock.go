// Package providertest provides test helpers for the provider package.
package providertest

import (
	"context"
	"sync"

	"github.com/Jmemon/contextual-clarity-sub001/internal/provider"
)

// MockProvider is a configurable test double for provider.Provider.
// Set the Func fields to control behavior. Unset Complete/Stream funcs panic
// on call; unset metadata funcs return zero values.
// All methods are safe for concurrent use.
type MockProvider struct {
	CompleteFunc          func(ctx context.Context, req provider.CompletionRequest) (provider.CompletionResponse, error)
	StreamFunc            func(ctx context.Context, req provider.CompletionRequest) (<-chan provider.StreamChunk, error)
	ContextWindowSizeFunc func() int
	ModelNameFunc         func() string
	HealthCheckFunc       func(ctx context.Context) error

	mu            sync.Mutex
	CompleteCalls int
	StreamCalls   int
	HealthCalls   int
	Requests      []provider.CompletionRequest
}

// Complete delegates to CompleteFunc and records the request.
func (m *MockProvider) Complete(ctx context.Context, req provider.CompletionRequest) (provider.CompletionResponse, error) {
	m.mu.Lock()
	m.CompleteCalls++
	m.Requests = append(m.Requests, req)
	m.mu.Unlock()
	return m.CompleteFunc(ctx, req)
}

// Stream delegates to StreamFunc and records the request.
func (m *MockProvider) Stream(ctx context.Context, req provider.CompletionRequest) (<-chan provider.StreamChunk, error) {
	m.mu.Lock()
	m.StreamCalls++
	m.Requests = append(m.Requests, req)
	m.mu.Unlock()
	return m.StreamFunc(ctx, req)
}

// ContextWindowSize delegates to ContextWindowSizeFunc.
func (m *MockProvider) ContextWindowSize() int {
	if m.ContextWindowSizeFunc == nil {
		return 0
	}
	return m.ContextWindowSizeFunc()
}

// ModelName delegates to ModelNameFunc.
func (m *MockProvider) ModelName() string {
	if m.ModelNameFunc == nil {
		return "mock"
	}
	return m.ModelNameFunc()
}

// HealthCheck delegates to HealthCheckFunc and tracks call count.
func (m *MockProvider) HealthCheck(ctx context.Context) error {
	m.mu.Lock()
	m.HealthCalls++
	m.mu.Unlock()
	if m.HealthCheckFunc == nil {
		return nil
	}
	return m.HealthCheckFunc(ctx)
}

// Calls returns the number of Complete and Stream calls so far.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CompleteCalls + m.StreamCalls
}

// Reply returns a MockProvider whose Complete and Stream always answer with
// content.
func Reply(content string) *MockProvider {
	return &MockProvider{
		CompleteFunc: func(context.Context, provider.CompletionRequest) (provider.CompletionResponse, error) {
			return provider.CompletionResponse{
				Content:      content,
				FinishReason: provider.FinishReasonStop,
				Usage:        provider.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
			}, nil
		},
		StreamFunc: func(context.Context, provider.CompletionRequest) (<-chan provider.StreamChunk, error) {
			return StreamOf(content), nil
		},
	}
}

// Fail returns a MockProvider whose calls always fail with err.
func Fail(err error) *MockProvider {
	return &MockProvider{
		CompleteFunc: func(context.Context, provider.CompletionRequest) (provider.CompletionResponse, error) {
			return provider.CompletionResponse{}, err
		},
		StreamFunc: func(context.Context, provider.CompletionRequest) (<-chan provider.StreamChunk, error) {
			return nil, err
		},
		HealthCheckFunc: func(context.Context) error { return err },
	}
}

// StreamOf returns a closed channel that yields content split on spaces,
// followed by a final chunk carrying usage.
func StreamOf(content string) <-chan provider.StreamChunk {
	parts := splitKeep(content)
	ch := make(chan provider.StreamChunk, len(parts)+1)
	for _, p := range parts {
		ch <- provider.StreamChunk{Content: p}
	}
	ch <- provider.StreamChunk{
		FinishReason: provider.FinishReasonStop,
		Usage:        &provider.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}
	close(ch)
	return ch
}

// splitKeep splits s after each space so the parts concatenate back to s.
func splitKeep(s string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ' ' {
			parts = append(parts, s[start:i+1])
			start = i + 1
		}
	}
	if start < len(s) {
		parts = append(parts, s[start:])
	}
	return parts
}

// Interface guards.
var (
	_ provider.Provider      = (*MockProvider)(nil)
	_ provider.HealthChecker = (*MockProvider)(nil)
)
