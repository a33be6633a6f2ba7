// Package domain defines the conversation data model shared by the feedback engine.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// MessageType classifies what a message is: the user's submitted answer, a
// follow-up question, an explanation request, streamed feedback, or anything
// else (error notices, system text).
type MessageType string

const (
	TypeAnswer      MessageType = "answer"
	TypeQuestion    MessageType = "question"
	TypeExplanation MessageType = "explanation"
	TypeFeedback    MessageType = "feedback"
	TypeOther       MessageType = "other"
)

// ConversationID is the opaque identifier of a conversation record.
type ConversationID string

// Message is one immutable entry in a conversation. Timestamps are assigned
// at creation and are the sole ordering key for display.
type Message struct {
	ID        string      `json:"id"`
	Role      Role        `json:"role"`
	Type      MessageType `json:"type"`
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewMessage creates a message stamped with a fresh id and the current time.
// The id travels with every append so the backend can de-duplicate retries.
func NewMessage(role Role, typ MessageType, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Type:      typ,
		Content:   content,
		Timestamp: time.Now(),
	}
}
