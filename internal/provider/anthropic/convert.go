package anthropic

import (
	"log/slog"
	"strings"

	sdkanthropic "github.com/anthropics/anthropic-sdk-go"

	"github.com/Jmemon/contextual-clarity-sub001/internal/provider"
)

// convertRequest maps a CompletionRequest onto Messages API parameters.
// System messages are lifted into the dedicated System field.
func convertRequest(req provider.CompletionRequest, cfg *Config, logger *slog.Logger) sdkanthropic.MessageNewParams {
	var system []sdkanthropic.TextBlockParam
	var messages []sdkanthropic.MessageParam

	for i, msg := range req.Messages {
		switch msg.Role {
		case provider.MessageRoleSystem:
			if len(messages) > 0 {
				logger.Warn("anthropic: system message after conversation start folded into system prompt", "index", i)
			}
			system = append(system, sdkanthropic.TextBlockParam{Text: msg.Content})
		case provider.MessageRoleAssistant:
			messages = append(messages, sdkanthropic.NewAssistantMessage(sdkanthropic.NewTextBlock(msg.Content)))
		default:
			messages = append(messages, sdkanthropic.NewUserMessage(sdkanthropic.NewTextBlock(msg.Content)))
		}
	}

	params := sdkanthropic.MessageNewParams{
		Model:     sdkanthropic.Model(cfg.Model),
		Messages:  messages,
		System:    system,
		MaxTokens: int64(cfg.MaxTokens),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = int64(req.MaxTokens)
	}
	if req.Temperature != nil {
		params.Temperature = sdkanthropic.Float(*req.Temperature)
	}
	if len(req.Stop) > 0 {
		params.StopSequences = req.Stop
	}
	return params
}

// convertResponse joins the text blocks of msg.
func convertResponse(msg *sdkanthropic.Message) provider.CompletionResponse {
	var parts []string
	for _, block := range msg.Content {
		if v, ok := block.AsAny().(sdkanthropic.TextBlock); ok {
			parts = append(parts, v.Text)
		}
	}

	return provider.CompletionResponse{
		Content:      strings.Join(parts, "\n"),
		FinishReason: convertStopReason(msg.StopReason),
		Usage: provider.TokenUsage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}
}

func convertStopReason(reason sdkanthropic.StopReason) provider.FinishReason {
	switch reason {
	case sdkanthropic.StopReasonMaxTokens:
		return provider.FinishReasonLength
	case sdkanthropic.StopReasonRefusal:
		return provider.FinishReasonFiltering
	default:
		return provider.FinishReasonStop
	}
}
