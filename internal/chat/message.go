package chat

import (
	"time"

	"github.com/google/uuid"
)

// Sender identifies which side of the conversation produced a message
type Sender string

const (
	SenderUser      Sender = "user"
	SenderTherapist Sender = "therapist"
)

// InputType identifies the modality a message originated from
type InputType string

const (
	InputText   InputType = "text"
	InputVoice  InputType = "voice"
	InputFacial InputType = "facial"
)

// Message is a single immutable chat turn.
type Message struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Sender    Sender    `json:"sender"`
	Timestamp string    `json:"timestamp"` // RFC3339, UTC
	InputType InputType `json:"input_type"`
}

// NewMessage creates a timestamped message for the given turn.
func NewMessage(content string, sender Sender, inputType InputType) Message {
	return Message{
		ID:        uuid.NewString(),
		Content:   content,
		Sender:    sender,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		InputType: inputType,
	}
}
