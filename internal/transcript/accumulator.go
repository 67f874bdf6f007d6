package transcript

import "strings"

// Accumulator coalesces streamed transcript deltas into one utterance.
//
// The voice-AI side streams the agent's speech text in fragments; the
// recorder wants exactly one line per utterance. Deltas are added as they
// arrive and the whole utterance is taken on the "done" event.
type Accumulator struct {
	b strings.Builder
}

// Add appends a text fragment to the current utterance.
func (a *Accumulator) Add(delta string) {
	a.b.WriteString(delta)
}

// Empty reports whether no fragments are pending.
func (a *Accumulator) Empty() bool {
	return a.b.Len() == 0
}

// Take returns the accumulated utterance and resets the accumulator.
func (a *Accumulator) Take() string {
	s := a.b.String()
	a.b.Reset()
	return s
}
