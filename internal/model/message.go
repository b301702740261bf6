package model

import "time"

// MessageRole identifies the author of a session message.
type MessageRole string

// MessageRole constants.
const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// Message is one immutable utterance in a session transcript.
type Message struct {
	ID         string      `json:"id"`
	SessionID  string      `json:"session_id"`
	Role       MessageRole `json:"role"`
	Content    string      `json:"content"`
	Timestamp  time.Time   `json:"timestamp"`
	TokenCount int         `json:"token_count"`
}
