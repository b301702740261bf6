package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Jmemon/contextual-clarity-sub001/internal/provider"
)

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := New(Config{APIKey: "test-key", BaseURL: url, Model: "gpt-test"}, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func userRequest(text string) provider.CompletionRequest {
	return provider.CompletionRequest{
		Messages: []provider.LLMMessage{
			{Role: provider.MessageRoleSystem, Content: "You are an evaluator."},
			{Role: provider.MessageRoleAssistant, Content: "Tell me what you recall."},
			{Role: provider.MessageRoleUser, Content: text},
		},
		Temperature: provider.Float(0),
	}
}

func TestComplete_Success(t *testing.T) {
	t.Parallel()

	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1700000000,
			"model": "gpt-test",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "{\"success\": true}"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 20, "completion_tokens": 6, "total_tokens": 26}
		}`))
	}))
	defer srv.Close()

	resp, err := newTestClient(t, srv.URL).Complete(context.Background(), userRequest("the powerhouse of the cell"))
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != `{"success": true}` {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.FinishReason != provider.FinishReasonStop {
		t.Errorf("finish reason = %q, want stop", resp.FinishReason)
	}
	if resp.Usage.TotalTokens != 26 {
		t.Errorf("total tokens = %d, want 26", resp.Usage.TotalTokens)
	}
	if body["model"] != "gpt-test" {
		t.Errorf("request model = %v", body["model"])
	}
	msgs, _ := body["messages"].([]any)
	if len(msgs) != 3 {
		t.Fatalf("request messages = %d, want 3", len(msgs))
	}
	if first, _ := msgs[0].(map[string]any); first["role"] != "system" {
		t.Errorf("first message role = %v, want system", first["role"])
	}
}

func TestComplete_EmptyChoices(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"chatcmpl-2","object":"chat.completion","created":1,"model":"gpt-test","choices":[],"usage":{"prompt_tokens":1,"completion_tokens":0,"total_tokens":1}}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Complete(context.Background(), userRequest("hi"))
	if !errors.Is(err, provider.ErrEmptyResponse) {
		t.Fatalf("err = %v, want ErrEmptyResponse", err)
	}
}

func TestComplete_ErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"rate limit", http.StatusTooManyRequests, `{"error":{"message":"slow down","type":"requests","code":"rate_limit_exceeded"}}`, provider.ErrRateLimit},
		{"unavailable", http.StatusServiceUnavailable, `{"error":{"message":"overloaded","type":"server_error"}}`, provider.ErrProviderDown},
		{"gateway timeout", http.StatusGatewayTimeout, `{"error":{"message":"timeout","type":"server_error"}}`, provider.ErrTimeout},
		{"context length", http.StatusBadRequest, `{"error":{"message":"This model's maximum context length is 128000 tokens","type":"invalid_request_error","code":"context_length_exceeded"}}`, provider.ErrContextLength},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := newTestClient(t, srv.URL).Complete(context.Background(), userRequest("hi"))
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestStream_TextAndUsage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, ok := w.(http.Flusher)
		if !ok {
			t.Error("expected http.Flusher")
			return
		}
		events := []string{
			`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-test","choices":[{"index":0,"delta":{"role":"assistant","content":"Nice"},"finish_reason":null}]}`,
			`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-test","choices":[{"index":0,"delta":{"content":" recall."},"finish_reason":null}]}`,
			`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-test","choices":[{"index":0,"delta":{},"finish_reason":"length"}]}`,
			`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-test","choices":[],"usage":{"prompt_tokens":9,"completion_tokens":3,"total_tokens":12}}`,
		}
		for _, ev := range events {
			_, _ = w.Write([]byte("data: " + ev + "\n\n"))
			flusher.Flush()
		}
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
		flusher.Flush()
	}))
	defer srv.Close()

	ch, err := newTestClient(t, srv.URL).Stream(context.Background(), userRequest("mitochondria"))
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	var chunks []string
	resp, err := provider.Collect(ch, func(s string) { chunks = append(chunks, s) })
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if resp.Content != "Nice recall." {
		t.Errorf("content = %q", resp.Content)
	}
	if strings.Join(chunks, "|") != "Nice| recall." {
		t.Errorf("chunks = %q", chunks)
	}
	if resp.FinishReason != provider.FinishReasonLength {
		t.Errorf("finish reason = %q, want length", resp.FinishReason)
	}
	if resp.Usage.TotalTokens != 12 {
		t.Errorf("total tokens = %d, want 12", resp.Usage.TotalTokens)
	}
}

func TestStream_InitialError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"requests"}}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Stream(context.Background(), userRequest("hi"))
	if !errors.Is(err, provider.ErrRateLimit) {
		t.Fatalf("err = %v, want ErrRateLimit", err)
	}
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, "http://127.0.0.1:0")
	if c.ModelName() != "gpt-test" {
		t.Errorf("ModelName() = %q", c.ModelName())
	}
	if c.ContextWindowSize() != defaultContextWindow {
		t.Errorf("ContextWindowSize() = %d, want %d", c.ContextWindowSize(), defaultContextWindow)
	}
}
