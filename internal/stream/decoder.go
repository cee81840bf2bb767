package stream

import (
	"bytes"
)

// RecordPrefix marks a line that carries an event payload
const RecordPrefix = "data: "

// Decoder splits an arbitrarily chunked byte stream into newline-terminated
// records. Bytes after the last newline are carried over to the next Feed.
// Only lines starting with RecordPrefix are returned, with the prefix removed.
type Decoder struct {
	prefix []byte
	carry  []byte
}

func NewDecoder() *Decoder {
	return &Decoder{prefix: []byte(RecordPrefix)}
}

// Feed appends chunk to the carry-over buffer and returns the payloads of every
// record completed by it, in arrival order. The returned slices are copies and
// remain valid after later calls.
func (d *Decoder) Feed(chunk []byte) [][]byte {
	if len(chunk) == 0 {
		return nil
	}
	d.carry = append(d.carry, chunk...)

	var payloads [][]byte
	for {
		i := bytes.IndexByte(d.carry, '\n')
		if i < 0 {
			break
		}
		line := d.carry[:i]
		d.carry = d.carry[i+1:]

		if !bytes.HasPrefix(line, d.prefix) {
			continue
		}
		payload := bytes.Clone(line[len(d.prefix):])
		payloads = append(payloads, bytes.TrimSuffix(payload, []byte("\r")))
	}

	if len(d.carry) == 0 {
		d.carry = nil
	}

	return payloads
}

// Pending reports how many unterminated bytes are buffered
func (d *Decoder) Pending() int {
	return len(d.carry)
}

// Close ends the stream. An unterminated trailing record is discarded and its
// size returned so callers can log it.
func (d *Decoder) Close() int {
	n := len(d.carry)
	d.carry = nil
	return n
}
