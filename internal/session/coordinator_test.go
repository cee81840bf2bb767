package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-client/internal/api"
	"rag-client/internal/models"
)

// chunkedBody replays fixed chunks, then returns end.
type chunkedBody struct {
	mu     sync.Mutex
	chunks []string
	end    error
	closed bool
}

func (b *chunkedBody) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, io.ErrClosedPipe
	}
	if len(b.chunks) == 0 {
		return 0, b.end
	}
	n := copy(p, b.chunks[0])
	if n < len(b.chunks[0]) {
		b.chunks[0] = b.chunks[0][n:]
	} else {
		b.chunks = b.chunks[1:]
	}
	return n, nil
}

func (b *chunkedBody) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}

type fakeStreamer struct {
	mu       sync.Mutex
	requests []api.QueryRequest
	open     func(ctx context.Context) (io.ReadCloser, error)
}

func (f *fakeStreamer) QueryStream(ctx context.Context, req api.QueryRequest, requestID string) (io.ReadCloser, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.open(ctx)
}

func (f *fakeStreamer) lastRequest() api.QueryRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func replay(end error, chunks ...string) *fakeStreamer {
	return &fakeStreamer{open: func(context.Context) (io.ReadCloser, error) {
		return &chunkedBody{chunks: append([]string(nil), chunks...), end: end}, nil
	}}
}

type recordingNotifier struct {
	mu  sync.Mutex
	ids []string
}

func (n *recordingNotifier) ConversationCreated(id string) {
	n.mu.Lock()
	n.ids = append(n.ids, id)
	n.mu.Unlock()
}

func (n *recordingNotifier) seen() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.ids...)
}

type memCache struct {
	mu    sync.Mutex
	saved map[string][]models.ChatMessage
}

func (m *memCache) SaveTranscript(_ context.Context, id string, msgs []models.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saved == nil {
		m.saved = map[string][]models.ChatMessage{}
	}
	m.saved[id] = msgs
	return nil
}

func token(s string) string {
	return fmt.Sprintf("data: {\"type\":\"token\",\"data\":%q}\n\n", s)
}

func TestRefundScenario(t *testing.T) {
	stream := "data: {\"type\":\"meta\",\"conversation_id\":\"c1\"}\n\n" +
		"data: {\"type\":\"sources\",\"data\":[{\"filename\":\"policy.pdf\",\"content_preview\":\"Refunds are allowed...\",\"similarity\":0.91}]}\n\n" +
		token("Refunds") +
		token(" are allowed within 30 days.")

	// Deliver it in awkward pieces
	var chunks []string
	for i := 0; i < len(stream); i += 7 {
		end := i + 7
		if end > len(stream) {
			end = len(stream)
		}
		chunks = append(chunks, stream[i:end])
	}

	streamer := replay(io.EOF, chunks...)
	notifier := &recordingNotifier{}
	cache := &memCache{}
	acc := NewAccumulator()
	coord := NewCoordinator(streamer, acc, CoordinatorOptions{UserID: "admin", TopK: 5, Notifier: notifier, Cache: cache})

	res, err := coord.Submit(context.Background(), "What is the refund policy?")
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, res.State)
	assert.False(t, res.Cancelled)
	assert.Equal(t, "c1", res.ConversationID)
	assert.Equal(t, "c1", coord.ConversationID())
	assert.False(t, coord.InFlight())
	assert.Equal(t, []string{"c1"}, notifier.seen())

	req := streamer.lastRequest()
	assert.Nil(t, req.ConversationID)
	assert.Equal(t, "admin", req.UserID)
	assert.Equal(t, 5, req.TopK)

	msgs := acc.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, models.RoleUser, msgs[0].Role)
	assert.Equal(t, "What is the refund policy?", msgs[0].Content)
	assert.Equal(t, models.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "Refunds are allowed within 30 days.", msgs[1].Content)
	require.Len(t, msgs[1].Sources, 1)
	assert.Equal(t, "policy.pdf", msgs[1].Sources[0].Filename)
	assert.Equal(t, 91, msgs[1].Sources[0].Percent())

	assert.Equal(t, msgs, cache.saved["c1"])
}

func TestSecondMetaIsIgnored(t *testing.T) {
	streamer := replay(io.EOF,
		"data: {\"type\":\"meta\",\"conversation_id\":\"c1\"}\n",
		"data: {\"type\":\"meta\",\"conversation_id\":\"c2\"}\n",
		token("ok"),
	)
	notifier := &recordingNotifier{}
	coord := NewCoordinator(streamer, NewAccumulator(), CoordinatorOptions{Notifier: notifier})

	_, err := coord.Submit(context.Background(), "q")
	require.NoError(t, err)

	assert.Equal(t, "c1", coord.ConversationID())
	assert.Equal(t, []string{"c1"}, notifier.seen())
}

func TestMetaIgnoredWhenAlreadyBound(t *testing.T) {
	streamer := replay(io.EOF, "data: {\"type\":\"meta\",\"conversation_id\":\"c9\"}\n", token("x"))
	notifier := &recordingNotifier{}
	coord := NewCoordinator(streamer, NewAccumulator(), CoordinatorOptions{Notifier: notifier})
	coord.Switch("c1")

	_, err := coord.Submit(context.Background(), "q")
	require.NoError(t, err)

	require.NotNil(t, streamer.lastRequest().ConversationID)
	assert.Equal(t, "c1", *streamer.lastRequest().ConversationID)
	assert.Equal(t, "c1", coord.ConversationID())
	assert.Empty(t, notifier.seen())
}

func TestGarbageBetweenTokens(t *testing.T) {
	streamer := replay(io.EOF,
		token("A"),
		"data: {not json\n",
		"data: {\"type\":\"reasoning\",\"data\":\"hmm\"}\n",
		": keep-alive\n",
		token("B"),
	)
	acc := NewAccumulator()
	coord := NewCoordinator(streamer, acc, CoordinatorOptions{})

	res, err := coord.Submit(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, "AB", acc.Messages()[1].Content)
}

func TestInBandErrorEvent(t *testing.T) {
	streamer := replay(io.EOF, token("Partial"), "data: {\"type\":\"error\",\"data\":\"LLM timeout\"}\n")
	acc := NewAccumulator()
	coord := NewCoordinator(streamer, acc, CoordinatorOptions{})

	res, err := coord.Submit(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, "Partial\n\n**Error:** LLM timeout", acc.Messages()[1].Content)
}

func TestTruncatedTailIsDiscarded(t *testing.T) {
	streamer := replay(io.EOF, token("kept"), "data: {\"type\":\"token\",\"data\":\"lost\"}")
	acc := NewAccumulator()
	coord := NewCoordinator(streamer, acc, CoordinatorOptions{})

	_, err := coord.Submit(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "kept", acc.Messages()[1].Content)
}

func TestTransportFaultMidStream(t *testing.T) {
	reset := errors.New("connection reset by peer")
	streamer := replay(reset, token("Hel"), token("lo"))
	acc := NewAccumulator()
	coord := NewCoordinator(streamer, acc, CoordinatorOptions{})

	res, err := coord.Submit(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, res.State)
	assert.ErrorIs(t, res.Err, reset)
	assert.False(t, coord.InFlight())
	assert.Equal(t, StateFailed, coord.State())
	assert.Equal(t, "Hello"+TransportFailureNote, acc.Messages()[1].Content)
	assert.False(t, acc.Streaming())

	// A new submission is accepted afterwards
	coord.streamer = replay(io.EOF, token("again"))
	res, err = coord.Submit(context.Background(), "retry")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, res.State)
	assert.Len(t, acc.Messages(), 4)
	assert.Equal(t, "again", acc.Messages()[3].Content)
}

func TestOpenFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "no body", err: api.ErrNoBody},
		{name: "status", err: &api.Error{Method: "POST", Path: "/api/query/stream", Status: 500, Detail: "boom"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			streamer := &fakeStreamer{open: func(context.Context) (io.ReadCloser, error) { return nil, tt.err }}
			acc := NewAccumulator()
			coord := NewCoordinator(streamer, acc, CoordinatorOptions{})

			res, err := coord.Submit(context.Background(), "q")
			require.NoError(t, err)
			assert.Equal(t, StateFailed, res.State)
			assert.ErrorIs(t, res.Err, tt.err)
			assert.False(t, coord.InFlight())

			msgs := acc.Messages()
			require.Len(t, msgs, 2)
			assert.Equal(t, TransportFailureNote, msgs[1].Content)
		})
	}
}

func TestSubmitRejections(t *testing.T) {
	coord := NewCoordinator(replay(io.EOF), NewAccumulator(), CoordinatorOptions{})

	_, err := coord.Submit(context.Background(), "   \n\t")
	assert.ErrorIs(t, err, ErrEmptyQuery)

	pr, pw := io.Pipe()
	defer pw.Close()
	coord.streamer = &fakeStreamer{open: func(context.Context) (io.ReadCloser, error) { return pr, nil }}

	done := make(chan TurnResult, 1)
	go func() {
		res, _ := coord.Submit(context.Background(), "first")
		done <- res
	}()

	require.Eventually(t, func() bool { return coord.State() == StateStreaming }, time.Second, 5*time.Millisecond)
	assert.True(t, coord.InFlight())

	_, err = coord.Submit(context.Background(), "second")
	assert.ErrorIs(t, err, ErrTurnInFlight)

	pw.Close()
	res := <-done
	assert.Equal(t, StateCompleted, res.State)
}

func TestSwitchCancelsInFlightTurn(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	streamer := &fakeStreamer{open: func(context.Context) (io.ReadCloser, error) { return pr, nil }}
	acc := NewAccumulator()
	coord := NewCoordinator(streamer, acc, CoordinatorOptions{})

	done := make(chan TurnResult, 1)
	go func() {
		res, _ := coord.Submit(context.Background(), "q")
		done <- res
	}()

	_, err := pw.Write([]byte(token("A")))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		msgs := acc.Messages()
		return len(msgs) == 2 && msgs[1].Content == "A"
	}, time.Second, 5*time.Millisecond)

	assert.True(t, coord.Switch("c2"))
	assert.False(t, coord.InFlight())
	assert.Equal(t, "c2", coord.ConversationID())

	select {
	case res := <-done:
		assert.True(t, res.Cancelled)
	case <-time.After(2 * time.Second):
		t.Fatal("turn did not stop after switch")
	}

	// The cancelled turn adds no failure note
	assert.Equal(t, "A", acc.Messages()[1].Content)

	_, err = pw.Write([]byte(token("B")))
	assert.Error(t, err)
}

func TestSwitchToSameConversationIsNoop(t *testing.T) {
	coord := NewCoordinator(replay(io.EOF), NewAccumulator(), CoordinatorOptions{})
	assert.True(t, coord.Switch("c1"))
	assert.False(t, coord.Switch("c1"))
	assert.True(t, coord.Switch(""))
	assert.Equal(t, "", coord.ConversationID())
}

func TestParentContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pr, pw := io.Pipe()
	defer pw.Close()
	streamer := &fakeStreamer{open: func(context.Context) (io.ReadCloser, error) { return pr, nil }}
	acc := NewAccumulator()
	coord := NewCoordinator(streamer, acc, CoordinatorOptions{})

	done := make(chan TurnResult, 1)
	go func() {
		res, _ := coord.Submit(ctx, "q")
		done <- res
	}()

	require.Eventually(t, func() bool { return coord.State() == StateStreaming }, time.Second, 5*time.Millisecond)
	cancel()

	res := <-done
	assert.False(t, res.Cancelled)
	assert.Equal(t, StateFailed, res.State)
	assert.False(t, coord.InFlight())
	assert.Equal(t, TransportFailureNote, acc.Messages()[1].Content)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "streaming", StateStreaming.String())
	assert.Equal(t, "unknown", State(42).String())
}

func TestSubmitRejectedWhileHistoryLoads(t *testing.T) {
	acc := NewAccumulator()
	coord := NewCoordinator(replay(io.EOF, token("ok")), acc, CoordinatorOptions{})

	first, ok := coord.switchTo("a", true)
	require.True(t, ok)
	second, ok := coord.switchTo("b", true)
	require.True(t, ok)
	assert.True(t, coord.Loading())

	_, err := coord.Submit(context.Background(), "q")
	assert.ErrorIs(t, err, ErrHistoryLoading)
	assert.Empty(t, acc.Messages())

	// The superseded load does not release the newer one
	coord.finishLoad(first, true)
	assert.True(t, coord.Loading())

	coord.finishLoad(second, true)
	assert.False(t, coord.Loading())

	res, err := coord.Submit(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, res.State)
}

func TestSwitchMidChunkDropsRemainingRecords(t *testing.T) {
	acc := NewAccumulator()
	var coord *Coordinator
	// Switching away from inside the notifier lands between two records of
	// the same chunk
	notifier := NotifierFunc(func(id string) { coord.Switch("elsewhere") })
	cache := &memCache{}
	coord = NewCoordinator(
		replay(io.EOF, "data: {\"type\":\"meta\",\"conversation_id\":\"c1\"}\n\n"+token("late")),
		acc, CoordinatorOptions{Notifier: notifier, Cache: cache},
	)

	res, err := coord.Submit(context.Background(), "q")
	require.NoError(t, err)
	assert.True(t, res.Cancelled)

	msgs := acc.Messages()
	require.Len(t, msgs, 2)
	assert.Empty(t, msgs[1].Content)
	assert.Equal(t, "elsewhere", coord.ConversationID())
	assert.Empty(t, cache.saved)
}
