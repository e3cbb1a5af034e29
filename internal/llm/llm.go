// Package llm abstracts the model provider behind a small streaming
// interface so the chat pipeline can be exercised without a live
// provider.
package llm

import "context"

// Role identifies a message author in provider-neutral terms.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Image is an inline image handed to the model alongside a message.
type Image struct {
	MimeType string
	Data     []byte
}

// Message is one turn of provider-neutral conversation context.
// Images are only meaningful on user messages.
type Message struct {
	Role    Role
	Content string
	Images  []Image
}

// ChunkFunc receives each partial text fragment as the model produces
// it. Returning an error aborts generation.
type ChunkFunc func(ctx context.Context, text string) error

// Streamer generates a model response for a message list, invoking
// onChunk for every fragment, and returns the complete response text.
// Implementations must honor ctx cancellation between chunks.
type Streamer interface {
	Stream(ctx context.Context, model string, messages []Message, onChunk ChunkFunc) (string, error)
}
