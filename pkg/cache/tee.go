package cache

import "github.com/daoch4n/claude-any-router-proxy/pkg/streaming"

// TeeWriter forwards every event to an underlying streaming.Sink
// immediately, as the miss path requires, while also accumulating them so
// the build's owner can hand the full sequence to FinishBuild once the
// upstream stream ends. The accumulated slice holds onto the exact event
// values written, the live real-time Anthropic translation, so what gets
// cached is byte-for-byte what the first caller actually saw.
type TeeWriter struct {
	out      streaming.Sink
	recorded []streaming.Event
}

// NewTeeWriter wraps out for recording.
func NewTeeWriter(out streaming.Sink) *TeeWriter {
	return &TeeWriter{out: out}
}

// Write satisfies the same shape streaming.Run expects from its output
// sink: it writes through and records in the same call.
func (t *TeeWriter) Write(ev streaming.Event) error {
	t.recorded = append(t.recorded, ev)
	return t.out.Write(ev)
}

// Recorded returns every event written so far, in order.
func (t *TeeWriter) Recorded() []streaming.Event {
	return t.recorded
}
