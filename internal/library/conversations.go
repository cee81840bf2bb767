package library

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"rag-client/internal/logging"
	"rag-client/internal/models"
)

// PlaceholderTitle is shown for a conversation the backend has created but
// not yet listed
const PlaceholderTitle = "New conversation"

var ErrEmptyTitle = errors.New("title must not be empty")

// ConversationAPI is the conversations resource of the backend
type ConversationAPI interface {
	ListConversations(ctx context.Context) ([]models.Conversation, error)
	RenameConversation(ctx context.Context, id, title string) error
	DeleteConversation(ctx context.Context, id string) error
}

// Conversations is the client-side list of the user's conversations.
// Rename and Delete are applied locally first and then committed; a failed
// commit refetches the list so the view never drifts from the backend.
type Conversations struct {
	api ConversationAPI

	mu          sync.RWMutex
	items       []models.Conversation
	highlighted string
}

func NewConversations(api ConversationAPI) *Conversations {
	return &Conversations{api: api}
}

// Refresh replaces the list with the backend's. On error the list is kept.
func (c *Conversations) Refresh(ctx context.Context) error {
	items, err := c.api.ListConversations(ctx)
	if err != nil {
		logging.Error("Failed to list conversations: %v", err)
		return err
	}

	c.mu.Lock()
	c.items = items
	c.mu.Unlock()
	return nil
}

// Items returns a copy of the list
func (c *Conversations) Items() []models.Conversation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]models.Conversation(nil), c.items...)
}

// Highlighted returns the conversation most recently created by a turn
func (c *Conversations) Highlighted() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.highlighted
}

// ConversationCreated lists a conversation the backend created mid-turn.
// It only touches local state; call Refresh once the turn is over to pick up
// the generated title.
func (c *Conversations) ConversationCreated(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.highlighted = id
	for _, item := range c.items {
		if item.ID == id {
			return
		}
	}
	placeholder := models.Conversation{
		ID:        id,
		Title:     PlaceholderTitle,
		CreatedAt: models.Timestamp{Time: time.Now()},
	}
	c.items = append([]models.Conversation{placeholder}, c.items...)
}

// Rename retitles a conversation
func (c *Conversations) Rename(ctx context.Context, id, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return ErrEmptyTitle
	}

	c.mu.Lock()
	for i := range c.items {
		if c.items[i].ID == id {
			c.items[i].Title = title
		}
	}
	c.mu.Unlock()

	if err := c.api.RenameConversation(ctx, id, title); err != nil {
		logging.Error("Failed to rename conversation %s: %v", id, err)
		c.resync(ctx)
		return err
	}
	logging.Info("Renamed conversation %s", id)
	return nil
}

// Delete removes a conversation
func (c *Conversations) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	kept := c.items[:0:0]
	for _, item := range c.items {
		if item.ID != id {
			kept = append(kept, item)
		}
	}
	c.items = kept
	if c.highlighted == id {
		c.highlighted = ""
	}
	c.mu.Unlock()

	if err := c.api.DeleteConversation(ctx, id); err != nil {
		logging.Error("Failed to delete conversation %s: %v", id, err)
		c.resync(ctx)
		return err
	}
	logging.Info("Deleted conversation %s", id)
	return nil
}

func (c *Conversations) resync(ctx context.Context) {
	if err := c.Refresh(ctx); err != nil {
		logging.Warn("Conversation list may be out of date: %v", err)
	}
}
