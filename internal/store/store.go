package store

import (
	"context"
	"time"

	"rag-client/internal/models"
)

// Store is the client's local cache. The backend stays the source of truth;
// everything here can be rebuilt from it.
type Store interface {
	// SaveTranscript caches the messages of a conversation
	SaveTranscript(ctx context.Context, conversationID string, messages []models.ChatMessage) error

	// LoadTranscript returns the cached messages, or ok=false when none are cached
	LoadTranscript(ctx context.Context, conversationID string) (messages []models.ChatMessage, ok bool, err error)

	// DeleteTranscript drops a cached conversation
	DeleteTranscript(ctx context.Context, conversationID string) error

	// SetLastConversation remembers the selected conversation ("" for a new chat)
	SetLastConversation(ctx context.Context, conversationID string) error

	// LastConversation returns the remembered selection, "" if none
	LastConversation(ctx context.Context) (string, error)

	// Close closes the database
	Close() error
}

type transcript struct {
	ConversationID string               `json:"conversation_id"`
	Messages       []models.ChatMessage `json:"messages"`
	SavedAt        time.Time            `json:"saved_at"`
}
