package models

import (
	"math"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Source is a retrieved passage the backend used to ground an answer
type Source struct {
	Filename       string  `json:"filename"`
	ContentPreview string  `json:"content_preview"`
	Similarity     float64 `json:"similarity"`
}

// Percent returns the similarity as a rounded percentage for display.
// The producer does not strictly bound similarity to [0,1], so neither do we.
func (s Source) Percent() int {
	return int(math.Round(s.Similarity * 100))
}

// ChatMessage is one entry of a conversation transcript. While a turn is
// streaming, the last assistant message is mutated in place.
type ChatMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Sources []Source `json:"sources,omitempty"`
}

// Clone returns a copy that shares no slice storage with m
func (m ChatMessage) Clone() ChatMessage {
	if m.Sources != nil {
		sources := make([]Source, len(m.Sources))
		copy(sources, m.Sources)
		m.Sources = sources
	}
	return m
}

// CloneMessages deep-copies a transcript
func CloneMessages(msgs []ChatMessage) []ChatMessage {
	if msgs == nil {
		return nil
	}
	out := make([]ChatMessage, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}
