package session

import (
	"context"
	"fmt"

	"rag-client/internal/logging"
	"rag-client/internal/models"
)

// HistoryFetcher returns the persisted transcript of a conversation
type HistoryFetcher interface {
	GetConversation(ctx context.Context, id string) ([]models.ChatMessage, error)
}

// TranscriptStore is the local transcript cache consulted before the backend
type TranscriptStore interface {
	TranscriptCache
	LoadTranscript(ctx context.Context, conversationID string) ([]models.ChatMessage, bool, error)
}

// HistoryLoader seeds the accumulator with the transcript of the selected
// conversation
type HistoryLoader struct {
	fetcher HistoryFetcher
	cache   TranscriptStore
	acc     *Accumulator
}

func NewHistoryLoader(fetcher HistoryFetcher, cache TranscriptStore, acc *Accumulator) *HistoryLoader {
	return &HistoryLoader{fetcher: fetcher, cache: cache, acc: acc}
}

// Load replaces the message list with the transcript of id. An empty id
// starts a blank conversation. The cached copy, if any, is shown at once and
// then replaced by the backend's version. A fetch that loses the race with a
// newer turn or reset is dropped. On fetch failure without a cached copy the
// previous messages stay on screen, though no turn can write to them.
func (h *HistoryLoader) Load(ctx context.Context, id string) error {
	_, err := h.load(ctx, id)
	return err
}

// load reports whether the list ended up holding the transcript of id
func (h *HistoryLoader) load(ctx context.Context, id string) (bool, error) {
	if id == "" {
		h.acc.ResetFor(nil)
		return true, nil
	}

	var seeded bool
	var gen uint64
	if h.cache != nil {
		cached, ok, err := h.cache.LoadTranscript(ctx, id)
		switch {
		case err != nil:
			logging.Warn("Failed to read cached transcript for %s: %v", id, err)
		case ok:
			logging.Debug("Seeding %s from cache (%d messages)", id, len(cached))
			gen = h.acc.ResetFor(cached)
			seeded = true
		}
	}
	if !seeded {
		gen = h.acc.Invalidate()
	}

	messages, err := h.fetcher.GetConversation(ctx, id)
	if err != nil {
		logging.Error("Failed to load history for %s: %v", id, err)
		return seeded, fmt.Errorf("failed to load conversation %s: %w", id, err)
	}

	if !h.acc.ResetIfCurrent(gen, messages) {
		logging.Debug("Discarding stale history for %s", id)
		return false, nil
	}

	if h.cache != nil {
		if err := h.cache.SaveTranscript(ctx, id, messages); err != nil {
			logging.Warn("Failed to cache transcript for %s: %v", id, err)
		}
	}
	return true, nil
}
