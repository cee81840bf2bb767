package session

import (
	"fmt"
	"sync"

	"rag-client/internal/models"
	"rag-client/internal/stream"
)

// ErrorFragmentFormat renders a backend error event inside the answer text
const ErrorFragmentFormat = "\n\n**Error:** %s"

// Turn is the handle a session turn uses to write into its placeholder
// message. It goes stale as soon as the message list is replaced or another
// turn starts, after which every write through it is ignored.
type Turn struct {
	generation uint64
}

// Accumulator owns the message list of the active conversation view. All
// mutations go through StartTurn, ApplyEvent, AppendNote and ResetFor, each of
// which is applied atomically with respect to Messages.
type Accumulator struct {
	mu         sync.RWMutex
	messages   []models.ChatMessage
	generation uint64
	streaming  bool

	updates chan struct{}
}

func NewAccumulator() *Accumulator {
	return &Accumulator{
		messages: []models.ChatMessage{},
		updates:  make(chan struct{}, 1),
	}
}

// Updates signals after every state change. Signals coalesce: a slow reader
// sees one pending signal, then reads the latest state with Messages.
func (a *Accumulator) Updates() <-chan struct{} {
	return a.updates
}

func (a *Accumulator) notify() {
	select {
	case a.updates <- struct{}{}:
	default:
	}
}

// StartTurn appends the user's message and an empty assistant placeholder
// in one step and returns the handle for the placeholder.
func (a *Accumulator) StartTurn(userText string) Turn {
	a.mu.Lock()
	a.generation++
	a.messages = append(a.messages,
		models.ChatMessage{Role: models.RoleUser, Content: userText},
		models.ChatMessage{Role: models.RoleAssistant, Content: ""},
	)
	a.streaming = true
	t := Turn{generation: a.generation}
	a.mu.Unlock()

	a.notify()
	return t
}

// ApplyEvent mutates the placeholder of turn t. It reports false when the
// turn is stale and the event was discarded.
func (a *Accumulator) ApplyEvent(t Turn, ev stream.Event) bool {
	a.mu.Lock()
	last, ok := a.placeholder(t)
	if !ok {
		a.mu.Unlock()
		return false
	}

	switch e := ev.(type) {
	case stream.SourcesEvent:
		// Whole-array replace, never merged
		last.Sources = append([]models.Source{}, e.Sources...)
	case stream.TokenEvent:
		last.Content += e.Text
	case stream.ErrorEvent:
		last.Content += fmt.Sprintf(ErrorFragmentFormat, e.Message)
	case stream.MetaEvent:
		// Identity binding belongs to the coordinator
		a.mu.Unlock()
		return true
	}
	a.mu.Unlock()

	a.notify()
	return true
}

// AppendNote appends text synthesised outside the event vocabulary, such as a
// transport failure note.
func (a *Accumulator) AppendNote(t Turn, note string) bool {
	a.mu.Lock()
	last, ok := a.placeholder(t)
	if ok {
		last.Content += note
	}
	a.mu.Unlock()

	if ok {
		a.notify()
	}
	return ok
}

// EndTurn marks the placeholder as final
func (a *Accumulator) EndTurn(t Turn) {
	a.mu.Lock()
	ended := t.generation == a.generation && a.streaming
	if ended {
		a.streaming = false
	}
	a.mu.Unlock()

	if ended {
		a.notify()
	}
}

// placeholder returns the message turn t may write to. Caller holds a.mu.
func (a *Accumulator) placeholder(t Turn) (*models.ChatMessage, bool) {
	if t.generation != a.generation || !a.streaming || len(a.messages) == 0 {
		return nil, false
	}
	last := &a.messages[len(a.messages)-1]
	if last.Role != models.RoleAssistant {
		return nil, false
	}
	return last, true
}

// ResetFor replaces the whole message list, invalidating any in-flight turn.
// It returns the new generation for use with ResetIfCurrent.
func (a *Accumulator) ResetFor(messages []models.ChatMessage) uint64 {
	a.mu.Lock()
	a.generation++
	a.messages = models.CloneMessages(messages)
	if a.messages == nil {
		a.messages = []models.ChatMessage{}
	}
	a.streaming = false
	gen := a.generation
	a.mu.Unlock()

	a.notify()
	return gen
}

// Invalidate ends any in-flight turn without touching the messages. It
// returns the new generation for use with ResetIfCurrent.
func (a *Accumulator) Invalidate() uint64 {
	a.mu.Lock()
	a.generation++
	a.streaming = false
	gen := a.generation
	a.mu.Unlock()

	a.notify()
	return gen
}

// ResetIfCurrent replaces the message list only if nothing has changed it
// since generation gen was observed. It reports whether the reset happened.
func (a *Accumulator) ResetIfCurrent(gen uint64, messages []models.ChatMessage) bool {
	a.mu.Lock()
	if a.generation != gen {
		a.mu.Unlock()
		return false
	}
	a.generation++
	a.messages = models.CloneMessages(messages)
	if a.messages == nil {
		a.messages = []models.ChatMessage{}
	}
	a.streaming = false
	a.mu.Unlock()

	a.notify()
	return true
}

// Generation returns the current generation counter
func (a *Accumulator) Generation() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.generation
}

// Messages returns a consistent copy of the message list
func (a *Accumulator) Messages() []models.ChatMessage {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return models.CloneMessages(a.messages)
}

// Streaming reports whether the last message is still being written
func (a *Accumulator) Streaming() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.streaming
}
