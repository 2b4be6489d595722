// Package stream implements the transport adapter for run event streams: it
// opens a streaming HTTP connection, decodes the line-oriented
// event:/data: record encoding, and pushes typed protocol events to a sink.
package stream

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

// DoneSentinel is the data payload that signals normal end of stream.
const DoneSentinel = "[DONE]"

// Record is one decoded event:/data: record. Event may be empty when the
// server omits the event: line; Data is the concatenation of all data:
// lines joined by newlines, per the SSE framing rules.
type Record struct {
	Event string
	Data  []byte
}

// IsDone reports whether the record carries the end-of-stream sentinel.
func (r Record) IsDone() bool {
	return string(r.Data) == DoneSentinel
}

// Decoder incrementally decodes records from a byte stream. Partial records
// split across transport chunks are buffered until the terminating blank
// line arrives; the caller never sees a half-assembled record.
type Decoder struct {
	r *bufio.Reader
}

// NewDecoder wraps a reader in a record decoder.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Next returns the next complete record, or io.EOF at end of stream. A
// record buffered when the stream closes without a trailing blank line is
// still returned before EOF, so a clean close mid-record loses nothing.
func (d *Decoder) Next() (Record, error) {
	var rec Record
	var data [][]byte
	started := false

	for {
		// ReadString can return a final unterminated line together with
		// io.EOF, so the line is processed before the error is inspected.
		line, err := d.r.ReadString('\n')
		trimmed := strings.TrimRight(line, "\r\n")

		if line != "" {
			switch {
			case trimmed == "":
				if started {
					rec.Data = bytes.Join(data, []byte("\n"))
					return rec, nil
				}
				// Leading blank lines between records.

			case strings.HasPrefix(trimmed, ":"):
				// Comment / keep-alive line.

			case strings.HasPrefix(trimmed, "event:"):
				rec.Event = strings.TrimSpace(strings.TrimPrefix(trimmed, "event:"))
				started = true

			case strings.HasPrefix(trimmed, "data:"):
				field := strings.TrimPrefix(trimmed, "data:")
				field = strings.TrimPrefix(field, " ")
				data = append(data, []byte(field))
				started = true

			default:
				// Unknown field name: ignore, per the framing rules.
			}
		}

		if err != nil {
			if err == io.EOF && started {
				rec.Data = bytes.Join(data, []byte("\n"))
				return rec, nil
			}
			return Record{}, err
		}
	}
}
