package anthropic

import (
	"context"

	sdkanthropic "github.com/anthropics/anthropic-sdk-go"

	"github.com/Jmemon/contextual-clarity-sub001/internal/provider"
)

const streamBufferSize = 16

// Stream opens a streaming completion. The first event is read synchronously
// so connection and auth failures are returned directly and the chain can
// fail over.
func (c *Client) Stream(ctx context.Context, req provider.CompletionRequest) (<-chan provider.StreamChunk, error) {
	stream := c.client.Messages.NewStreaming(ctx, convertRequest(req, &c.config, c.logger))

	if !stream.Next() {
		err := stream.Err()
		_ = stream.Close()
		if err != nil {
			return nil, mapError(err)
		}
		return nil, provider.ErrEmptyResponse
	}
	first := stream.Current()

	ch := make(chan provider.StreamChunk, streamBufferSize)
	go func() {
		defer close(ch)
		defer func() { _ = stream.Close() }()

		var inputTokens int64
		handle := func(event sdkanthropic.MessageStreamEventUnion) {
			switch ev := event.AsAny().(type) {
			case sdkanthropic.MessageStartEvent:
				inputTokens = ev.Message.Usage.InputTokens
			case sdkanthropic.ContentBlockDeltaEvent:
				if delta, ok := ev.Delta.AsAny().(sdkanthropic.TextDelta); ok && delta.Text != "" {
					emit(ctx, ch, provider.StreamChunk{Content: delta.Text})
				}
			case sdkanthropic.MessageDeltaEvent:
				out := ev.Usage.OutputTokens
				emit(ctx, ch, provider.StreamChunk{
					FinishReason: convertStopReason(ev.Delta.StopReason),
					Usage: &provider.TokenUsage{
						PromptTokens:     int(inputTokens),
						CompletionTokens: int(out),
						TotalTokens:      int(inputTokens + out),
					},
				})
			}
		}

		handle(first)
		for stream.Next() {
			if ctx.Err() != nil {
				return
			}
			handle(stream.Current())
		}
		if err := stream.Err(); err != nil {
			emit(ctx, ch, provider.StreamChunk{Err: mapError(err)})
		}
	}()

	return ch, nil
}

// emit sends chunk unless ctx is done first.
func emit(ctx context.Context, ch chan<- provider.StreamChunk, chunk provider.StreamChunk) {
	select {
	case ch <- chunk:
	case <-ctx.Done():
	}
}
