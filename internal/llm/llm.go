package llm

import (
	"context"
	"errors"

	"meal-plan-service/internal/shared"
)

var (
	// ErrNoContent is returned when the provider answers without any text.
	ErrNoContent = errors.New("no content generated")
	// ErrUnavailable is returned while the circuit breaker is open.
	ErrUnavailable = errors.New("llm provider temporarily unavailable")
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
)

// Message is a single chat message sent to the model.
type Message struct {
	Role    Role
	Content string
}

// System returns a system message.
func System(content string) Message { return Message{Role: RoleSystem, Content: content} }

// User returns a user message.
func User(content string) Message { return Message{Role: RoleUser, Content: content} }

// ContentResponse contains the generated text and metadata like token usage.
type ContentResponse struct {
	Content string
	Usage   shared.TokenUsage
}

// TextGenerator is an interface for generating text from a conversation.
type TextGenerator interface {
	GenerateContent(ctx context.Context, messages ...Message) (ContentResponse, error)
}

// Closer is an interface for closing resources.
type Closer interface {
	Close() error
}
