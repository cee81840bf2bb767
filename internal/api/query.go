package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// ErrNoBody is returned when the backend accepts a query but sends no stream
var ErrNoBody = errors.New("response has no body")

// QueryRequest is the body of POST /api/query/stream. A nil ConversationID
// asks the backend to create a new conversation.
type QueryRequest struct {
	Query          string  `json:"query"`
	UserID         string  `json:"user_id"`
	ConversationID *string `json:"conversation_id"`
	TopK           int     `json:"top_k"`
}

// QueryStream opens the streamed answer for req. The caller owns the returned
// body and must close it. Cancel ctx to abort the stream.
func (c *Client) QueryStream(ctx context.Context, req QueryRequest, requestID string) (io.ReadCloser, error) {
	if req.UserID == "" {
		req.UserID = c.userID
	}

	// Streaming must not be cut off by the client-wide timeout
	streamClient := *c.httpClient
	streamClient.Timeout = 0

	resp, err := c.doRequest(ctx, &streamClient, http.MethodPost, c.endpoint("/api/query/stream", nil), req, map[string]string{
		"Accept":       "text/event-stream",
		"X-Request-ID": requestID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open query stream: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, newError(resp)
	}

	if resp.Body == nil || resp.Body == http.NoBody {
		return nil, ErrNoBody
	}

	return resp.Body, nil
}
