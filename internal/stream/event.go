package stream

import (
	"encoding/json"
	"errors"
	"fmt"

	"rag-client/internal/models"
)

var (
	// ErrMalformedRecord is returned for payloads that are not a valid event object
	ErrMalformedRecord = errors.New("malformed stream record")

	// ErrUnknownEvent is returned for well-formed payloads with an unrecognised type
	ErrUnknownEvent = errors.New("unknown stream event")
)

type EventType string

const (
	EventMeta    EventType = "meta"
	EventSources EventType = "sources"
	EventToken   EventType = "token"
	EventError   EventType = "error"
)

// Event is one interpreted stream record. The set of implementations is closed.
type Event interface {
	Type() EventType
	isEvent()
}

// MetaEvent carries the identity of a conversation the server just created
type MetaEvent struct {
	ConversationID string
}

// SourcesEvent replaces the source list of the in-progress answer
type SourcesEvent struct {
	Sources []models.Source
}

// TokenEvent is the next fragment of answer text
type TokenEvent struct {
	Text string
}

// ErrorEvent is an application error reported in-band by the backend
type ErrorEvent struct {
	Message string
}

func (MetaEvent) Type() EventType    { return EventMeta }
func (SourcesEvent) Type() EventType { return EventSources }
func (TokenEvent) Type() EventType   { return EventToken }
func (ErrorEvent) Type() EventType   { return EventError }

func (MetaEvent) isEvent()    {}
func (SourcesEvent) isEvent() {}
func (TokenEvent) isEvent()   {}
func (ErrorEvent) isEvent()   {}

// envelope is the wire shape: {"type": ..., "data": ..., "conversation_id": ...}
type envelope struct {
	Type           EventType       `json:"type"`
	Data           json.RawMessage `json:"data"`
	ConversationID *string         `json:"conversation_id"`
}

// Interpret parses one record payload. Errors wrap ErrMalformedRecord or
// ErrUnknownEvent; either way the record should be dropped and the stream
// continued.
func Interpret(payload []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}

	switch env.Type {
	case EventMeta:
		if env.ConversationID == nil || *env.ConversationID == "" {
			return nil, fmt.Errorf("%w: meta event without conversation_id", ErrMalformedRecord)
		}
		return MetaEvent{ConversationID: *env.ConversationID}, nil

	case EventSources:
		var sources []models.Source
		if err := decodeData(env.Data, &sources); err != nil {
			return nil, fmt.Errorf("%w: sources: %v", ErrMalformedRecord, err)
		}
		if sources == nil {
			sources = []models.Source{}
		}
		return SourcesEvent{Sources: sources}, nil

	case EventToken:
		var text string
		if err := decodeData(env.Data, &text); err != nil {
			return nil, fmt.Errorf("%w: token: %v", ErrMalformedRecord, err)
		}
		return TokenEvent{Text: text}, nil

	case EventError:
		var msg string
		if err := decodeData(env.Data, &msg); err != nil {
			return nil, fmt.Errorf("%w: error: %v", ErrMalformedRecord, err)
		}
		return ErrorEvent{Message: msg}, nil

	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformedRecord)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}
}

func decodeData(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		return errors.New("missing data")
	}
	return json.Unmarshal(raw, v)
}
