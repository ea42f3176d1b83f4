package streaming

import (
	"encoding/json"
	"strings"
)

// toolArgAccumulator accumulates a tool-use block's incremental JSON
// argument fragments and can report whether the text collected so far
// parses, without ever erroring on an incomplete fragment. This is
// deliberately separate from C2/C5's final parse-or-degrade step, which
// runs once over the fully accumulated text when the block closes.
type toolArgAccumulator struct {
	buffer strings.Builder
}

func (a *toolArgAccumulator) append(fragment string) {
	a.buffer.WriteString(fragment)
}

func (a *toolArgAccumulator) text() string {
	return a.buffer.String()
}

// valid reports whether the text accumulated so far is valid JSON. A
// streaming tool call is typically invalid JSON until its final fragment
// arrives; callers use this only for diagnostics, never to gate whether a
// fragment is forwarded to the client.
func (a *toolArgAccumulator) valid() bool {
	var v any
	return json.Unmarshal([]byte(a.buffer.String()), &v) == nil
}
