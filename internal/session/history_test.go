package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-client/internal/models"
	"rag-client/internal/store"
	"rag-client/internal/stream"
)

type fakeFetcher struct {
	mu      sync.Mutex
	history map[string][]models.ChatMessage
	err     error
	calls   int
	during  func()
}

func (f *fakeFetcher) GetConversation(_ context.Context, id string) ([]models.ChatMessage, error) {
	f.mu.Lock()
	f.calls++
	during := f.during
	f.mu.Unlock()
	if during != nil {
		during()
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.history[id], nil
}

func newMemStore(t *testing.T) *store.BadgerStore {
	t.Helper()
	s, err := store.NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

var refundHistory = []models.ChatMessage{
	{Role: models.RoleUser, Content: "What is the refund policy?"},
	{Role: models.RoleAssistant, Content: "Refunds are allowed within 30 days.", Sources: []models.Source{{Filename: "policy.pdf", Similarity: 0.91}}},
}

func TestHistoryLoadFromBackend(t *testing.T) {
	fetcher := &fakeFetcher{history: map[string][]models.ChatMessage{"c1": refundHistory}}
	st := newMemStore(t)
	acc := NewAccumulator()

	require.NoError(t, NewHistoryLoader(fetcher, st, acc).Load(context.Background(), "c1"))
	assert.Equal(t, refundHistory, acc.Messages())

	cached, ok, err := st.LoadTranscript(context.Background(), "c1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, refundHistory, cached)
}

func TestHistoryEmptyIDClears(t *testing.T) {
	fetcher := &fakeFetcher{}
	acc := NewAccumulator()
	acc.StartTurn("q")

	require.NoError(t, NewHistoryLoader(fetcher, nil, acc).Load(context.Background(), ""))
	assert.Empty(t, acc.Messages())
	assert.Zero(t, fetcher.calls)
}

func TestHistoryFailureKeepsCachedCopy(t *testing.T) {
	st := newMemStore(t)
	require.NoError(t, st.SaveTranscript(context.Background(), "c1", refundHistory))

	fetcher := &fakeFetcher{err: errors.New("503")}
	acc := NewAccumulator()

	err := NewHistoryLoader(fetcher, st, acc).Load(context.Background(), "c1")
	assert.Error(t, err)
	assert.Equal(t, refundHistory, acc.Messages())
}

func TestHistoryFailureLeavesPreviousMessages(t *testing.T) {
	acc := NewAccumulator()
	turn := acc.StartTurn("from another conversation")
	before := acc.Messages()

	err := NewHistoryLoader(&fakeFetcher{err: errors.New("down")}, nil, acc).Load(context.Background(), "c2")
	assert.Error(t, err)
	assert.Equal(t, before, acc.Messages())

	// The old turn can no longer write into the list
	assert.False(t, acc.Streaming())
	assert.False(t, acc.ApplyEvent(turn, stream.TokenEvent{Text: "late"}))
}

func TestHistoryStaleFetchIsDropped(t *testing.T) {
	acc := NewAccumulator()
	fetcher := &fakeFetcher{history: map[string][]models.ChatMessage{"c1": refundHistory}}
	// A turn starts while the fetch is outstanding
	fetcher.during = func() { acc.StartTurn("typed quickly") }

	require.NoError(t, NewHistoryLoader(fetcher, nil, acc).Load(context.Background(), "c1"))

	msgs := acc.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "typed quickly", msgs[0].Content)
}
