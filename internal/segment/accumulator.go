// Package segment buffers captured audio between utterance boundaries and
// decides when a pause has persisted long enough to auto-send the buffer.
package segment

import (
	"time"

	"github.com/leafline/voicecapture/internal/vad"
)

type state int

const (
	stateCollecting state = iota
	stateArmed            // silence reached the threshold, confirmation pending
	stateFlushed          // flushed for this silence run, waiting for speech
)

// Accumulator gathers audio between "send" triggers. When silence persists
// past the threshold it arms a short confirmation delay and re-checks once
// more before committing, so brief pauses don't split an utterance. At most
// one flush happens per contiguous silence run.
type Accumulator struct {
	threshold time.Duration
	confirm   time.Duration

	state   state
	armedAt time.Time
	buf     []byte
}

// NewAccumulator creates an accumulator with the given silence threshold and
// confirmation delay.
func NewAccumulator(threshold, confirm time.Duration) *Accumulator {
	return &Accumulator{
		threshold: threshold,
		confirm:   confirm,
	}
}

// Push appends captured audio to the current utterance buffer.
func (a *Accumulator) Push(data []byte) {
	a.buf = append(a.buf, data...)
}

// Observe feeds one activity classification. It returns a payload exactly
// once per silence run: when silence has lasted at least the threshold and
// still persists after the confirmation delay while the buffer is non-empty.
func (a *Accumulator) Observe(act vad.Activity, now time.Time) ([]byte, bool) {
	if act.Speaking {
		a.state = stateCollecting
		return nil, false
	}

	switch a.state {
	case stateCollecting:
		if len(a.buf) > 0 && act.Silence >= a.threshold {
			a.state = stateArmed
			a.armedAt = now
			if a.confirm == 0 {
				return a.commit()
			}
		}
	case stateArmed:
		// Silence must persist through the confirmation delay; any speech
		// in between resets the state above.
		if now.Sub(a.armedAt) >= a.confirm {
			return a.commit()
		}
	case stateFlushed:
		// Already flushed this run; nothing more until speech resumes.
	}
	return nil, false
}

func (a *Accumulator) commit() ([]byte, bool) {
	payload := a.buf
	a.buf = nil
	a.state = stateFlushed
	if len(payload) == 0 {
		return nil, false
	}
	return payload, true
}

// Drain returns the buffered audio and clears the accumulator.
func (a *Accumulator) Drain() []byte {
	payload := a.buf
	a.buf = nil
	a.state = stateCollecting
	return payload
}

// Len returns the number of buffered bytes.
func (a *Accumulator) Len() int {
	return len(a.buf)
}

// Reset clears the buffer and state for a new session.
func (a *Accumulator) Reset() {
	a.buf = nil
	a.state = stateCollecting
	a.armedAt = time.Time{}
}
