package session

import (
	"sort"
	"strings"
	"sync"

	"github.com/leafline/voicecapture/internal/transport"
)

// Transcript accumulates the segments of one session. Finals are kept in
// sequence order; at most one provisional partial is held, and a final
// with an equal or higher sequence number supersedes it.
type Transcript struct {
	mu         sync.Mutex
	finals     []transport.Segment
	partial    string
	partialSeq uint64
	hasPartial bool
}

// NewTranscript creates an empty transcript log.
func NewTranscript() *Transcript {
	return &Transcript{}
}

// Apply folds one segment into the log and reports whether the visible
// text changed.
func (t *Transcript) Apply(seg transport.Segment) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch seg.Kind {
	case transport.KindPartial:
		// A partial older than an already-committed final is stale.
		if n := len(t.finals); n > 0 && seg.Seq <= t.finals[n-1].Seq {
			return false
		}
		t.partial = seg.Text
		t.partialSeq = seg.Seq
		t.hasPartial = true
		return true
	case transport.KindFinal:
		t.finals = append(t.finals, seg)
		sort.SliceStable(t.finals, func(i, j int) bool {
			return t.finals[i].Seq < t.finals[j].Seq
		})
		if t.hasPartial && t.partialSeq <= seg.Seq {
			t.partial = ""
			t.hasPartial = false
		}
		return true
	default:
		return false
	}
}

// Partial returns the current provisional text, empty if none.
func (t *Transcript) Partial() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.partial
}

// Text returns the committed transcript: every final in order, followed
// by the live partial if one is outstanding.
func (t *Transcript) Text() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	parts := make([]string, 0, len(t.finals)+1)
	for _, seg := range t.finals {
		if seg.Text != "" {
			parts = append(parts, seg.Text)
		}
	}
	if t.hasPartial && t.partial != "" {
		parts = append(parts, t.partial)
	}
	return strings.Join(parts, " ")
}

// FinalText returns only the committed finals, no provisional text.
func (t *Transcript) FinalText() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	parts := make([]string, 0, len(t.finals))
	for _, seg := range t.finals {
		if seg.Text != "" {
			parts = append(parts, seg.Text)
		}
	}
	return strings.Join(parts, " ")
}

// Finals returns a copy of the committed segments in order.
func (t *Transcript) Finals() []transport.Segment {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]transport.Segment, len(t.finals))
	copy(out, t.finals)
	return out
}
