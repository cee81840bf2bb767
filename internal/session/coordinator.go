package session

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"

	"rag-client/internal/api"
	"rag-client/internal/logging"
	"rag-client/internal/models"
	"rag-client/internal/stream"
)

// TransportFailureNote is appended to the answer when the stream cannot be
// opened or breaks off
const TransportFailureNote = "\n\n**Error:** connection to the server failed. The answer may be incomplete."

var (
	ErrEmptyQuery     = errors.New("query is empty")
	ErrTurnInFlight   = errors.New("a query is already in progress")
	ErrHistoryLoading = errors.New("conversation history is still loading")
)

type State int

const (
	StateIdle State = iota
	StateSending
	StateStreaming
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// QueryStreamer opens the streamed answer for a query
type QueryStreamer interface {
	QueryStream(ctx context.Context, req api.QueryRequest, requestID string) (io.ReadCloser, error)
}

// ConversationNotifier learns about conversations the server creates mid-turn.
// It is called from the turn's goroutine and must not block.
type ConversationNotifier interface {
	ConversationCreated(id string)
}

// NotifierFunc adapts a function to ConversationNotifier
type NotifierFunc func(id string)

func (f NotifierFunc) ConversationCreated(id string) { f(id) }

// TranscriptCache receives the transcript of every completed turn
type TranscriptCache interface {
	SaveTranscript(ctx context.Context, conversationID string, messages []models.ChatMessage) error
}

type CoordinatorOptions struct {
	UserID         string
	TopK           int
	ReadBufferSize int
	Notifier       ConversationNotifier
	Cache          TranscriptCache
}

// TurnResult describes how a turn ended
type TurnResult struct {
	RequestID      string
	State          State
	ConversationID string
	Cancelled      bool
	Err            error
}

// Coordinator runs one query turn at a time against the backend, feeding the
// streamed records through the decoder and interpreter into the accumulator.
type Coordinator struct {
	streamer QueryStreamer
	acc      *Accumulator
	opts     CoordinatorOptions

	mu             sync.Mutex
	state          State
	inFlight       bool
	conversationID string
	cancel         context.CancelFunc
	seq            uint64

	// loading is the token of the history load submissions wait for, 0 if none
	loads   uint64
	loading uint64
	// cacheable is false while the list may not hold the bound conversation's
	// full transcript
	cacheable bool
}

func NewCoordinator(streamer QueryStreamer, acc *Accumulator, opts CoordinatorOptions) *Coordinator {
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if opts.ReadBufferSize <= 0 {
		opts.ReadBufferSize = 4096
	}
	return &Coordinator{
		streamer:  streamer,
		acc:       acc,
		opts:      opts,
		cacheable: true,
	}
}

// State returns the state of the current or most recent turn
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// InFlight reports whether a turn is running. New submissions are rejected
// while it is.
func (c *Coordinator) InFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

// ConversationID returns the bound conversation, "" while unbound
func (c *Coordinator) ConversationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conversationID
}

// Switch points the coordinator at another conversation ("" for a new chat).
// An in-flight turn is cancelled and its remaining events are discarded.
// Switching to the already bound conversation is a no-op.
func (c *Coordinator) Switch(conversationID string) bool {
	_, ok := c.switchTo(conversationID, false)
	return ok
}

// Loading reports whether submissions are held back by a history load
func (c *Coordinator) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading != 0
}

// switchTo is Switch for callers that reload the message list afterwards.
// With load set, submissions are rejected until finishLoad is called with the
// returned token.
func (c *Coordinator) switchTo(conversationID string, load bool) (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if conversationID == c.conversationID {
		return 0, false
	}

	if c.cancel != nil {
		logging.Info("Cancelling in-flight turn: switching conversation %q -> %q", c.conversationID, conversationID)
		c.cancel()
		c.cancel = nil
	}
	c.seq++
	c.inFlight = false
	c.state = StateIdle
	c.conversationID = conversationID
	c.cacheable = !load
	c.loading = 0
	if load {
		c.loads++
		c.loading = c.loads
	}
	return c.loading, true
}

// finishLoad releases submissions held back by the load with token.
// complete reports whether the list now holds the conversation's transcript;
// if not, turns in this conversation are not cached.
func (c *Coordinator) finishLoad(token uint64, complete bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if token == 0 || token != c.loading {
		return
	}
	c.loading = 0
	c.cacheable = complete
}

// Submit runs one turn to completion and blocks until the stream ends. It
// returns an error only when the submission is rejected; stream and transport
// failures are reported in the TurnResult and in the answer text.
func (c *Coordinator) Submit(ctx context.Context, text string) (TurnResult, error) {
	query := strings.TrimSpace(text)
	if query == "" {
		return TurnResult{}, ErrEmptyQuery
	}

	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		return TurnResult{}, ErrTurnInFlight
	}
	if c.loading != 0 {
		c.mu.Unlock()
		return TurnResult{}, ErrHistoryLoading
	}
	turnCtx, cancel := context.WithCancel(ctx)
	c.seq++
	seq := c.seq
	c.inFlight = true
	c.state = StateSending
	c.cancel = cancel
	req := api.QueryRequest{
		Query:  query,
		UserID: c.opts.UserID,
		TopK:   c.opts.TopK,
	}
	if c.conversationID != "" {
		id := c.conversationID
		req.ConversationID = &id
	}
	turn := c.acc.StartTurn(query)
	c.mu.Unlock()
	defer cancel()

	requestID := uuid.NewString()
	logging.Info("Turn %s started: conversation=%q top_k=%d", requestID, c.ConversationID(), req.TopK)

	state, err := c.run(turnCtx, seq, turn, req, requestID)

	result := TurnResult{RequestID: requestID, State: state, Err: err}
	if turnCtx.Err() != nil && ctx.Err() == nil && !c.current(seq) {
		result.Cancelled = true
	}
	var cacheable bool
	result.ConversationID, cacheable = c.finish(seq, turn, state)

	if result.Cancelled {
		logging.Info("Turn %s cancelled", requestID)
		return result, nil
	}

	if state == StateCompleted && cacheable && result.ConversationID != "" && c.opts.Cache != nil {
		if err := c.opts.Cache.SaveTranscript(ctx, result.ConversationID, c.acc.Messages()); err != nil {
			logging.Warn("Failed to cache transcript for %s: %v", result.ConversationID, err)
		}
	}

	logging.Info("Turn %s %s", requestID, state)
	return result, nil
}

func (c *Coordinator) run(ctx context.Context, seq uint64, turn Turn, req api.QueryRequest, requestID string) (State, error) {
	body, err := c.streamer.QueryStream(ctx, req, requestID)
	if err != nil {
		if ctx.Err() == nil {
			logging.Error("Turn %s: failed to open stream: %v", requestID, err)
		}
		return c.fail(seq, turn, err)
	}
	defer body.Close()

	// Unblock a pending Read as soon as the turn is cancelled
	stop := context.AfterFunc(ctx, func() { body.Close() })
	defer stop()

	c.setState(seq, StateStreaming)

	dec := stream.NewDecoder()
	buf := make([]byte, c.opts.ReadBufferSize)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if ctx.Err() != nil {
				return c.fail(seq, turn, ctx.Err())
			}
			for _, payload := range dec.Feed(buf[:n]) {
				if !c.current(seq) {
					return c.fail(seq, turn, context.Canceled)
				}
				c.dispatch(seq, turn, payload, requestID)
			}
		}

		if readErr == io.EOF {
			if pending := dec.Close(); pending > 0 {
				logging.Warn("Turn %s: discarding %d bytes of unterminated record", requestID, pending)
			}
			return StateCompleted, nil
		}
		if readErr != nil {
			if ctx.Err() == nil {
				logging.Error("Turn %s: stream read failed: %v", requestID, readErr)
			}
			return c.fail(seq, turn, readErr)
		}
	}
}

// fail appends the failure note, unless the turn was superseded and its
// output no longer matters
func (c *Coordinator) fail(seq uint64, turn Turn, err error) (State, error) {
	if c.current(seq) {
		c.acc.AppendNote(turn, TransportFailureNote)
	}
	return StateFailed, err
}

// dispatch interprets one record and applies it. Bad records are dropped.
func (c *Coordinator) dispatch(seq uint64, turn Turn, payload []byte, requestID string) {
	ev, err := stream.Interpret(payload)
	if err != nil {
		if errors.Is(err, stream.ErrUnknownEvent) {
			logging.Debug("Turn %s: ignoring %v", requestID, err)
		} else {
			logging.Warn("Turn %s: dropping record %q: %v", requestID, truncate(payload, 120), err)
		}
		return
	}

	if meta, ok := ev.(stream.MetaEvent); ok {
		c.bind(seq, meta.ConversationID)
	}
	c.acc.ApplyEvent(turn, ev)
}

// bind records a server-assigned conversation id. Only the first meta event
// of an unbound conversation is honoured.
func (c *Coordinator) bind(seq uint64, id string) {
	c.mu.Lock()
	if seq != c.seq || c.conversationID != "" {
		c.mu.Unlock()
		return
	}
	c.conversationID = id
	c.mu.Unlock()

	logging.Info("Bound new conversation %s", id)
	if c.opts.Notifier != nil {
		c.opts.Notifier.ConversationCreated(id)
	}
}

func (c *Coordinator) setState(seq uint64, s State) {
	c.mu.Lock()
	if seq == c.seq {
		c.state = s
	}
	c.mu.Unlock()
}

func (c *Coordinator) current(seq uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return seq == c.seq
}

// finish clears the in-flight flag unless the turn was superseded by Switch
// and reports whether the list may be cached
func (c *Coordinator) finish(seq uint64, turn Turn, s State) (string, bool) {
	c.acc.EndTurn(turn)

	c.mu.Lock()
	defer c.mu.Unlock()
	if seq == c.seq {
		c.state = s
		c.inFlight = false
		c.cancel = nil
	}
	return c.conversationID, c.cacheable
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
