package prompt

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/Jmemon/contextual-clarity-sub001/internal/model"
	"github.com/Jmemon/contextual-clarity-sub001/internal/provider"
)

// DefaultHistoryWindow is the number of trailing messages the tutor sees.
const DefaultHistoryWindow = 20

// TemplateBuilder is the text/template implementation of Builder.
type TemplateBuilder struct {
	historyWindow int
}

var _ Builder = (*TemplateBuilder)(nil)

// NewTemplateBuilder creates a TemplateBuilder. A historyWindow <= 0 uses
// DefaultHistoryWindow.
func NewTemplateBuilder(historyWindow int) *TemplateBuilder {
	if historyWindow <= 0 {
		historyWindow = DefaultHistoryWindow
	}
	return &TemplateBuilder{historyWindow: historyWindow}
}

// Opening builds the first tutor message request.
func (b *TemplateBuilder) Opening(in OpeningInput) ([]provider.LLMMessage, error) {
	sys, err := render(openingTmpl, in)
	if err != nil {
		return nil, err
	}
	return []provider.LLMMessage{
		{Role: provider.MessageRoleSystem, Content: sys},
		{Role: provider.MessageRoleUser, Content: "Start the session."},
	}, nil
}

// Resume builds the welcome-back request. The prior conversation is
// replayed so the tutor can recap it.
func (b *TemplateBuilder) Resume(in ResumeInput) ([]provider.LLMMessage, error) {
	sys, err := render(resumeTmpl, in)
	if err != nil {
		return nil, err
	}
	msgs := []provider.LLMMessage{{Role: provider.MessageRoleSystem, Content: sys}}
	msgs = append(msgs, b.history(in.History)...)
	return append(msgs, provider.LLMMessage{Role: provider.MessageRoleUser, Content: "I'm back."}), nil
}

// Tutor builds the reply request for a regular turn.
func (b *TemplateBuilder) Tutor(in TutorInput) ([]provider.LLMMessage, error) {
	if in.Advanced && in.Previous == nil {
		return nil, fmt.Errorf("prompt: tutor: advanced turn without previous point")
	}
	sys, err := render(tutorSystemTmpl, in)
	if err != nil {
		return nil, err
	}
	msgs := []provider.LLMMessage{{Role: provider.MessageRoleSystem, Content: sys}}
	return append(msgs, b.history(in.History)...), nil
}

// Evaluation builds the recall judgment request over recent.
func (b *TemplateBuilder) Evaluation(point model.RecallPoint, recent []model.Message) ([]provider.LLMMessage, error) {
	return single(evaluationTmpl, transcript{Point: point, Messages: recent})
}

// TangentDetection builds the drift detection request over window.
func (b *TemplateBuilder) TangentDetection(point model.RecallPoint, window []model.Message) ([]provider.LLMMessage, error) {
	return single(tangentDetectTmpl, transcript{Point: point, Messages: window})
}

// TangentReturn builds the return detection request for an active tangent.
func (b *TemplateBuilder) TangentReturn(point model.RecallPoint, topic string, window []model.Message) ([]provider.LLMMessage, error) {
	return single(tangentReturnTmpl, transcript{Point: point, Topic: topic, Messages: window})
}

// history converts the trailing window of stored messages into model
// messages. System messages are dropped; the builder owns the system prompt.
func (b *TemplateBuilder) history(msgs []model.Message) []provider.LLMMessage {
	msgs = Tail(msgs, b.historyWindow)
	out := make([]provider.LLMMessage, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case model.RoleUser:
			out = append(out, provider.LLMMessage{Role: provider.MessageRoleUser, Content: m.Content})
		case model.RoleAssistant:
			out = append(out, provider.LLMMessage{Role: provider.MessageRoleAssistant, Content: m.Content})
		}
	}
	return out
}

// Tail returns at most the last n messages.
func Tail(msgs []model.Message, n int) []model.Message {
	if n <= 0 || len(msgs) <= n {
		return msgs
	}
	return msgs[len(msgs)-n:]
}

type transcript struct {
	Point    model.RecallPoint
	Topic    string
	Messages []model.Message
}

func single(tmpl *template.Template, data any) ([]provider.LLMMessage, error) {
	text, err := render(tmpl, data)
	if err != nil {
		return nil, err
	}
	return []provider.LLMMessage{{Role: provider.MessageRoleUser, Content: text}}, nil
}

func render(tmpl *template.Template, data any) (string, error) {
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("prompt: render %s: %w", tmpl.Name(), err)
	}
	return sb.String(), nil
}
