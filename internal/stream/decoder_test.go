package stream

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleStream = "data: {\"type\":\"meta\",\"conversation_id\":\"c1\"}\n" +
	": keepalive\n" +
	"\n" +
	"data: {\"type\":\"token\",\"data\":\"Réponse\"}\n" +
	"event: ignored\n" +
	"data: {\"type\":\"token\",\"data\":\" 🚀 done\"}\n"

func decodeAll(chunks [][]byte) []string {
	d := NewDecoder()
	var out []string
	for _, c := range chunks {
		for _, p := range d.Feed(c) {
			out = append(out, string(p))
		}
	}
	d.Close()
	return out
}

func TestDecoderFiltersByPrefix(t *testing.T) {
	got := decodeAll([][]byte{[]byte(sampleStream)})
	assert.Equal(t, []string{
		`{"type":"meta","conversation_id":"c1"}`,
		`{"type":"token","data":"Réponse"}`,
		`{"type":"token","data":" 🚀 done"}`,
	}, got)
}

func TestDecoderChunkBoundaryIndependence(t *testing.T) {
	raw := []byte(sampleStream)
	want := decodeAll([][]byte{raw})

	t.Run("every two-way split", func(t *testing.T) {
		for i := 0; i <= len(raw); i++ {
			got := decodeAll([][]byte{raw[:i], raw[i:]})
			require.Equal(t, want, got, "split at %d", i)
		}
	})

	t.Run("byte at a time", func(t *testing.T) {
		chunks := make([][]byte, len(raw))
		for i := range raw {
			chunks[i] = raw[i : i+1]
		}
		assert.Equal(t, want, decodeAll(chunks))
	})

	t.Run("random rechunking", func(t *testing.T) {
		rng := rand.New(rand.NewSource(42))
		for iter := 0; iter < 200; iter++ {
			var chunks [][]byte
			for start := 0; start < len(raw); {
				n := 1 + rng.Intn(17)
				end := min(start+n, len(raw))
				chunks = append(chunks, raw[start:end])
				start = end
			}
			require.Equal(t, want, decodeAll(chunks), "iteration %d", iter)
		}
	})
}

func TestDecoderCarriesPartialRecord(t *testing.T) {
	d := NewDecoder()

	assert.Empty(t, d.Feed([]byte(`data: {"type":"tok`)))
	assert.Equal(t, 18, d.Pending())

	got := d.Feed([]byte("en\",\"data\":\"x\"}\ndata: "))
	require.Len(t, got, 1)
	assert.Equal(t, `{"type":"token","data":"x"}`, string(got[0]))
	assert.Equal(t, len("data: "), d.Pending())
}

func TestDecoderDiscardsUnterminatedTail(t *testing.T) {
	d := NewDecoder()
	got := d.Feed([]byte("data: {\"type\":\"token\",\"data\":\"a\"}\ndata: {\"type\":\"token\""))
	assert.Len(t, got, 1)
	assert.Equal(t, len(`data: {"type":"token"`), d.Close())
	assert.Zero(t, d.Pending())
}

func TestDecoderStripsCarriageReturn(t *testing.T) {
	d := NewDecoder()
	got := d.Feed([]byte("data: {\"type\":\"token\",\"data\":\"a\"}\r\n"))
	require.Len(t, got, 1)
	assert.Equal(t, `{"type":"token","data":"a"}`, string(got[0]))
}

func TestDecoderPayloadsSurviveLaterFeeds(t *testing.T) {
	d := NewDecoder()
	first := d.Feed([]byte("data: AAAA\n"))
	d.Feed([]byte("data: BBBB\ndata: CCCC\n"))
	assert.Equal(t, "AAAA", string(first[0]))
}

func TestDecoderEmptyChunk(t *testing.T) {
	d := NewDecoder()
	assert.Nil(t, d.Feed(nil))
	assert.Nil(t, d.Feed([]byte{}))
}
