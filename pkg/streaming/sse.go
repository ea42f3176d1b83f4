package streaming

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// UpstreamEvent is one parsed Server-Sent Event read from an upstream
// OpenAI-compatible stream.
type UpstreamEvent struct {
	Event string
	Data  string
}

// UpstreamParser reads Server-Sent Events from an upstream response body.
// Adapted from the wire-level SSE framing the core already carried: field
// parsing (event/data/id/retry, data lines joined by newline, comment lines
// starting with ':' ignored) is unchanged, trimmed to the two fields the
// engine actually consumes.
type UpstreamParser struct {
	scanner *bufio.Scanner
	err     error
}

// NewUpstreamParser wraps r for event-at-a-time consumption.
func NewUpstreamParser(r io.Reader) *UpstreamParser {
	return &UpstreamParser{scanner: bufio.NewScanner(r)}
}

// Next returns the next event, or io.EOF once the stream is exhausted.
func (p *UpstreamParser) Next() (*UpstreamEvent, error) {
	if p.err != nil {
		return nil, p.err
	}

	event := &UpstreamEvent{}
	var dataLines []string

	for p.scanner.Scan() {
		line := p.scanner.Text()
		if line == "" {
			if len(dataLines) > 0 || event.Event != "" {
				event.Data = strings.Join(dataLines, "\n")
				return event, nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		colonIdx := strings.Index(line, ":")
		if colonIdx == -1 {
			continue
		}
		field, value := line[:colonIdx], line[colonIdx+1:]
		if len(value) > 0 && value[0] == ' ' {
			value = value[1:]
		}
		switch field {
		case "event":
			event.Event = value
		case "data":
			dataLines = append(dataLines, value)
		}
	}

	if err := p.scanner.Err(); err != nil {
		p.err = err
		return nil, err
	}
	if len(dataLines) > 0 || event.Event != "" {
		event.Data = strings.Join(dataLines, "\n")
		return event, nil
	}
	p.err = io.EOF
	return nil, io.EOF
}

// IsStreamDone reports whether an upstream event is the OpenAI-dialect
// terminal sentinel.
func IsStreamDone(event *UpstreamEvent) bool {
	return event != nil && strings.TrimSpace(event.Data) == "[DONE]"
}

// Event is one Anthropic-dialect SSE event the engine emits.
type Event struct {
	Type    string
	Payload any
}

// Sink accepts emitted events one at a time. *Writer satisfies it directly;
// the streaming cache wraps one in a tee that also accumulates events for a
// miss-path build.
type Sink interface {
	Write(ev Event) error
}

// Writer serializes Events to the Anthropic wire format: an `event:` line
// naming the type (duplicated inside the JSON payload's own "type" field,
// per Anthropic's convention), a `data:` line carrying the JSON payload, and
// a blank line terminating the event.
type Writer struct {
	w       io.Writer
	flusher func()
}

// NewWriter builds a Writer over w. flush, if non-nil, is called after every
// event so the caller's HTTP handler can push bytes to the client
// immediately instead of buffering.
func NewWriter(w io.Writer, flush func()) *Writer {
	return &Writer{w: w, flusher: flush}
}

// Write encodes and emits one event.
func (sw *Writer) Write(ev Event) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("encode sse event %s: %w", ev.Type, err)
	}
	if _, err := fmt.Fprintf(sw.w, "event: %s\ndata: %s\n\n", ev.Type, payload); err != nil {
		return err
	}
	if sw.flusher != nil {
		sw.flusher()
	}
	return nil
}
