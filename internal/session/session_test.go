package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-client/internal/api"
	"rag-client/internal/models"
)

type fakeBackend struct {
	*fakeStreamer
	*fakeFetcher
}

func newFakeBackend(history map[string][]models.ChatMessage, chunks ...string) *fakeBackend {
	return &fakeBackend{
		fakeStreamer: replay(io.EOF, chunks...),
		fakeFetcher:  &fakeFetcher{history: history},
	}
}

func TestSessionNewConversationFlow(t *testing.T) {
	backend := newFakeBackend(nil,
		"data: {\"type\":\"meta\",\"conversation_id\":\"c1\"}\n",
		token("Hi there"),
	)
	st := newMemStore(t)
	notifier := &recordingNotifier{}
	s := New(backend, st, Options{UserID: "admin", Notifier: notifier})
	sub := s.Selection().Subscribe()

	res, err := s.Submit(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, res.State)

	assert.Equal(t, "c1", s.ConversationID())
	assert.Equal(t, "c1", s.Selection().Current())
	assert.Equal(t, "c1", <-sub)
	assert.Equal(t, []string{"c1"}, notifier.seen())

	last, err := st.LastConversation(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "c1", last)

	// Reacting to the selection must not reload or cancel anything
	require.NoError(t, s.Activate(context.Background(), "c1"))
	assert.Zero(t, backend.fakeFetcher.calls)
	assert.Len(t, s.Messages(), 2)

	cached, ok, err := st.LoadTranscript(context.Background(), "c1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, s.Messages(), cached)
}

func TestSessionActivateLoadsHistory(t *testing.T) {
	backend := newFakeBackend(map[string][]models.ChatMessage{"c7": refundHistory})
	s := New(backend, nil, Options{})

	require.NoError(t, s.Activate(context.Background(), "c7"))
	assert.Equal(t, refundHistory, s.Messages())
	assert.Equal(t, "c7", s.ConversationID())

	require.NoError(t, s.NewChat(context.Background()))
	assert.Empty(t, s.Messages())
	assert.Equal(t, "", s.ConversationID())
	assert.Equal(t, "", s.Selection().Current())
}

func TestSessionSwitchDuringTurnDiscardsLateTokens(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	backend := &fakeBackend{
		fakeStreamer: &fakeStreamer{open: func(context.Context) (io.ReadCloser, error) { return pr, nil }},
		fakeFetcher:  &fakeFetcher{history: map[string][]models.ChatMessage{"c2": refundHistory}},
	}
	s := New(backend, nil, Options{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		res, err := s.Submit(context.Background(), "q")
		assert.NoError(t, err)
		assert.True(t, res.Cancelled)
	}()

	_, err := pw.Write([]byte(token("early")))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		msgs := s.Messages()
		return len(msgs) == 2 && msgs[1].Content == "early"
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Activate(context.Background(), "c2"))
	wg.Wait()

	assert.Equal(t, refundHistory, s.Messages())
	assert.False(t, s.InFlight())
	assert.False(t, s.Streaming())
}

func TestSessionRestoreAndForget(t *testing.T) {
	st := newMemStore(t)
	ctx := context.Background()
	require.NoError(t, st.SaveTranscript(ctx, "c3", refundHistory))
	require.NoError(t, st.SetLastConversation(ctx, "c3"))

	backend := newFakeBackend(map[string][]models.ChatMessage{"c3": refundHistory})
	s := New(backend, st, Options{})

	require.NoError(t, s.Restore(ctx))
	assert.Equal(t, "c3", s.ConversationID())
	assert.Equal(t, refundHistory, s.Messages())

	require.NoError(t, s.Forget(ctx, "c3"))
	assert.Equal(t, "", s.ConversationID())
	assert.Empty(t, s.Messages())

	_, ok, err := st.LoadTranscript(ctx, "c3")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSessionRestoreWithoutStore(t *testing.T) {
	s := New(newFakeBackend(nil), nil, Options{})
	assert.NoError(t, s.Restore(context.Background()))
	assert.Equal(t, "", s.ConversationID())
}

var _ Backend = (*api.Client)(nil)

func TestSessionSubmitWaitsForHistory(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend(map[string][]models.ChatMessage{"c7": refundHistory}, token("fresh"))
	st := newMemStore(t)
	s := New(backend, st, Options{})

	var submitErr error
	backend.fakeFetcher.during = func() {
		assert.True(t, s.Loading())
		_, submitErr = s.Submit(ctx, "follow-up")
	}

	require.NoError(t, s.Activate(ctx, "c7"))
	assert.ErrorIs(t, submitErr, ErrHistoryLoading)
	assert.False(t, s.Loading())
	assert.Equal(t, refundHistory, s.Messages())
	assert.Empty(t, backend.fakeStreamer.requests)

	cached, ok, err := st.LoadTranscript(ctx, "c7")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, refundHistory, cached)

	// Once loaded, the turn continues the conversation
	res, err := s.Submit(ctx, "follow-up")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, res.State)
	require.Len(t, s.Messages(), 4)
	assert.Equal(t, "fresh", s.Messages()[3].Content)
	require.NotNil(t, backend.lastRequest().ConversationID)
	assert.Equal(t, "c7", *backend.lastRequest().ConversationID)

	cached, _, err = st.LoadTranscript(ctx, "c7")
	require.NoError(t, err)
	assert.Len(t, cached, 4)
}

func TestSessionTurnAfterFailedHistoryIsNotCached(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend(nil, token("answer"))
	backend.fakeFetcher.err = errors.New("503")
	st := newMemStore(t)
	s := New(backend, st, Options{})

	assert.Error(t, s.Activate(ctx, "c8"))
	assert.False(t, s.Loading())

	res, err := s.Submit(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, "c8", res.ConversationID)

	_, ok, err := st.LoadTranscript(ctx, "c8")
	require.NoError(t, err)
	assert.False(t, ok, "a list missing the conversation's history must not be cached")
}
