package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"rag-client/internal/models"
)

// ListConversations returns the user's conversations, newest first
func (c *Client) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	var raw json.RawMessage
	if err := c.doJSON(ctx, http.MethodGet, c.endpoint("/api/conversations", c.userQuery()), nil, &raw); err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	// Accept both a bare array and {"conversations": [...]}
	var convs []models.Conversation
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &convs); err != nil {
			return nil, fmt.Errorf("failed to decode conversations: %w", err)
		}
		return convs, nil
	}

	var wrapped struct {
		Conversations []models.Conversation `json:"conversations"`
	}
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return nil, fmt.Errorf("failed to decode conversations: %w", err)
	}
	return wrapped.Conversations, nil
}

// GetConversation returns the full message history of a conversation
func (c *Client) GetConversation(ctx context.Context, id string) ([]models.ChatMessage, error) {
	var resp struct {
		Messages []models.ChatMessage `json:"messages"`
	}
	if err := c.doJSON(ctx, http.MethodGet, c.endpoint("/api/conversations/"+url.PathEscape(id), nil), nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to load conversation %s: %w", id, err)
	}
	if resp.Messages == nil {
		resp.Messages = []models.ChatMessage{}
	}
	return resp.Messages, nil
}

// RenameConversation sets a conversation's title
func (c *Client) RenameConversation(ctx context.Context, id, title string) error {
	body := map[string]string{"title": title}
	if err := c.doJSON(ctx, http.MethodPut, c.endpoint("/api/conversations/"+url.PathEscape(id), nil), body, nil); err != nil {
		return fmt.Errorf("failed to rename conversation %s: %w", id, err)
	}
	return nil
}

// DeleteConversation removes a conversation and its messages
func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	if err := c.doJSON(ctx, http.MethodDelete, c.endpoint("/api/conversations/"+url.PathEscape(id), c.userQuery()), nil, nil); err != nil {
		return fmt.Errorf("failed to delete conversation %s: %w", id, err)
	}
	return nil
}
