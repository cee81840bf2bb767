package session

import (
	"context"

	"rag-client/internal/logging"
	"rag-client/internal/models"
	"rag-client/internal/store"
)

// Backend is the part of the API client a session talks to
type Backend interface {
	QueryStreamer
	HistoryFetcher
}

type Options struct {
	UserID         string
	TopK           int
	ReadBufferSize int

	// Notifier is told about conversations created by the backend mid-turn
	Notifier ConversationNotifier
}

// Session is one chat view: the message list, the coordinator that streams
// answers into it and the shared conversation selection.
type Session struct {
	acc       *Accumulator
	coord     *Coordinator
	history   *HistoryLoader
	selection *Selection
	store     store.Store
	notifier  ConversationNotifier
}

// New wires a session. st may be nil, in which case nothing is cached.
func New(backend Backend, st store.Store, opts Options) *Session {
	s := &Session{
		acc:       NewAccumulator(),
		selection: NewSelection(),
		store:     st,
		notifier:  opts.Notifier,
	}

	coordOpts := CoordinatorOptions{
		UserID:         opts.UserID,
		TopK:           opts.TopK,
		ReadBufferSize: opts.ReadBufferSize,
		Notifier:       NotifierFunc(s.conversationCreated),
	}
	var cache TranscriptStore
	if st != nil {
		coordOpts.Cache = st
		cache = st
	}

	s.coord = NewCoordinator(backend, s.acc, coordOpts)
	s.history = NewHistoryLoader(backend, cache, s.acc)
	return s
}

func (s *Session) conversationCreated(id string) {
	s.selection.Select(id)
	s.remember(context.Background(), id)
	if s.notifier != nil {
		s.notifier.ConversationCreated(id)
	}
}

func (s *Session) remember(ctx context.Context, id string) {
	if s.store == nil {
		return
	}
	if err := s.store.SetLastConversation(ctx, id); err != nil {
		logging.Warn("Failed to remember conversation %q: %v", id, err)
	}
}

// Submit runs one turn. See Coordinator.Submit. It fails with
// ErrHistoryLoading while Activate is still fetching the transcript.
func (s *Session) Submit(ctx context.Context, text string) (TurnResult, error) {
	return s.coord.Submit(ctx, text)
}

// Activate shows conversation id ("" for a new chat). Any turn still
// streaming into the previous conversation is cancelled first.
func (s *Session) Activate(ctx context.Context, id string) error {
	s.selection.Select(id)
	token, ok := s.coord.switchTo(id, id != "")
	if !ok {
		return nil
	}
	logging.Info("Activating conversation %q", id)
	s.remember(ctx, id)
	complete, err := s.history.load(ctx, id)
	s.coord.finishLoad(token, complete)
	return err
}

// NewChat clears the view and unbinds the coordinator
func (s *Session) NewChat(ctx context.Context) error {
	return s.Activate(ctx, "")
}

// Restore reopens the conversation selected when the client last ran
func (s *Session) Restore(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	id, err := s.store.LastConversation(ctx)
	if err != nil {
		logging.Warn("Failed to read last conversation: %v", err)
		return nil
	}
	if id == "" {
		return nil
	}
	return s.Activate(ctx, id)
}

// Forget drops local state for a deleted conversation, resetting the view if
// it was showing it
func (s *Session) Forget(ctx context.Context, id string) error {
	if s.store != nil {
		if err := s.store.DeleteTranscript(ctx, id); err != nil {
			logging.Warn("Failed to drop cached transcript for %s: %v", id, err)
		}
	}
	if s.coord.ConversationID() == id {
		return s.NewChat(ctx)
	}
	return nil
}

func (s *Session) Messages() []models.ChatMessage { return s.acc.Messages() }
func (s *Session) Updates() <-chan struct{}       { return s.acc.Updates() }
func (s *Session) Streaming() bool                { return s.acc.Streaming() }
func (s *Session) InFlight() bool                 { return s.coord.InFlight() }
func (s *Session) Loading() bool                  { return s.coord.Loading() }
func (s *Session) State() State                   { return s.coord.State() }
func (s *Session) ConversationID() string         { return s.coord.ConversationID() }
func (s *Session) Selection() *Selection          { return s.selection }
