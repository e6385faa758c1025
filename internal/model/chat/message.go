package chat

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Direction tells who authored a message.
type Direction string

const (
	Outgoing Direction = "outgoing"
	Incoming Direction = "incoming"
)

// Valid reports whether d is one of the known directions.
func (d Direction) Valid() bool {
	return d == Outgoing || d == Incoming
}

// Message is a single immutable entry of a conversation.
type Message struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Direction Direction `json:"direction"`
	CreatedAt time.Time `json:"createdAt"`
}

// IsOutgoing reports whether the user wrote the message.
func (m Message) IsOutgoing() bool {
	return m.Direction == Outgoing
}

// NewMessage stamps a message with a fresh id and the supplied creation time.
func NewMessage(text string, direction Direction, now time.Time) Message {
	return Message{
		ID:        NewMessageID(now),
		Text:      text,
		Direction: direction,
		CreatedAt: now,
	}
}

// NewMessageID builds "<unix millis>-<9 chars>". Uniqueness is best effort.
func NewMessageID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("%d-%s", now.UnixMilli(), suffix[:9])
}

// CloneMessages returns an independent copy; a nil input yields an empty slice.
func CloneMessages(messages []Message) []Message {
	copied := make([]Message, len(messages))
	copy(copied, messages)
	return copied
}
