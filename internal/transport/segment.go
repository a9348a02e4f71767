// Package transport implements the batch and streaming clients for the
// transcription backend.
package transport

import (
	"errors"
	"time"
)

// Kind distinguishes provisional from committed transcript segments.
type Kind string

const (
	KindPartial Kind = "partial"
	KindFinal   Kind = "final"
)

// Segment is one transcript fragment received over the streaming channel.
// Seq orders segments within a session; a final segment supersedes every
// partial with an equal or lower Seq.
type Segment struct {
	Kind       Kind      `json:"kind"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	SessionID  string    `json:"session_id"`
	Seq        uint64    `json:"seq"`
	Received   time.Time `json:"received"`
}

// Result is the outcome of a batch transcription request. NoSpeech is set
// when the backend detected no speech in the submitted audio.
type Result struct {
	Text           string
	Confidence     float64
	NoSpeech       bool
	ProcessingTime time.Duration
}

var (
	// ErrTransportClosed is returned on operations against a closed stream.
	ErrTransportClosed = errors.New("transport: connection closed")
)
