package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-client/internal/models"
)

func TestInterpret(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    Event
	}{
		{
			name:    "meta",
			payload: `{"type":"meta","conversation_id":"c1"}`,
			want:    MetaEvent{ConversationID: "c1"},
		},
		{
			name:    "sources",
			payload: `{"type":"sources","data":[{"filename":"policy.pdf","content_preview":"Refunds...","similarity":0.91}]}`,
			want: SourcesEvent{Sources: []models.Source{
				{Filename: "policy.pdf", ContentPreview: "Refunds...", Similarity: 0.91},
			}},
		},
		{
			name:    "empty sources",
			payload: `{"type":"sources","data":[]}`,
			want:    SourcesEvent{Sources: []models.Source{}},
		},
		{
			name:    "token",
			payload: `{"type":"token","data":"Hel"}`,
			want:    TokenEvent{Text: "Hel"},
		},
		{
			name:    "empty token",
			payload: `{"type":"token","data":""}`,
			want:    TokenEvent{Text: ""},
		},
		{
			name:    "error",
			payload: `{"type":"error","data":"LLM unavailable"}`,
			want:    ErrorEvent{Message: "LLM unavailable"},
		},
		{
			name:    "extra fields ignored",
			payload: `{"type":"token","data":"x","seq":4}`,
			want:    TokenEvent{Text: "x"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Interpret([]byte(tt.payload))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want.Type(), got.Type())
		})
	}
}

func TestInterpretRejects(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr error
	}{
		{"not json", `garbage`, ErrMalformedRecord},
		{"truncated", `{"type":"token","data":"ab`, ErrMalformedRecord},
		{"json array", `[1,2]`, ErrMalformedRecord},
		{"missing type", `{"data":"x"}`, ErrMalformedRecord},
		{"meta without id", `{"type":"meta"}`, ErrMalformedRecord},
		{"meta empty id", `{"type":"meta","conversation_id":""}`, ErrMalformedRecord},
		{"token not string", `{"type":"token","data":42}`, ErrMalformedRecord},
		{"token missing data", `{"type":"token"}`, ErrMalformedRecord},
		{"sources not array", `{"type":"sources","data":"policy.pdf"}`, ErrMalformedRecord},
		{"sources null", `{"type":"sources","data":null}`, ErrMalformedRecord},
		{"error not string", `{"type":"error","data":{"msg":"x"}}`, ErrMalformedRecord},
		{"unknown type", `{"type":"usage","data":{"tokens":12}}`, ErrUnknownEvent},
		{"done marker", `{"type":"done"}`, ErrUnknownEvent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := Interpret([]byte(tt.payload))
			assert.Nil(t, ev)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
