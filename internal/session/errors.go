package session

import (
	"errors"

	"github.com/leafline/voicecapture/internal/audio"
)

var (
	// ErrAlreadyRecording is returned by Start while a session is active.
	ErrAlreadyRecording = errors.New("session: recording already in progress")
	// ErrEmptyAudio is returned when a stopped recording contains no
	// usable audio.
	ErrEmptyAudio = errors.New("session: no audio captured")
	// ErrNoSpeech marks a recording the backend classified as silence.
	ErrNoSpeech = errors.New("session: no speech detected")
	// ErrNotRecording is returned by Stop when no session is active.
	ErrNotRecording = errors.New("session: no recording in progress")
)

// Reason classifies why a session ended in the error state. The UI keys
// its messaging off these values, so they are stable strings.
type Reason string

const (
	ReasonNone                Reason = ""
	ReasonPermissionDenied    Reason = "permission_denied"
	ReasonDeviceUnavailable   Reason = "device_unavailable"
	ReasonEmptyAudio          Reason = "empty_audio"
	ReasonNoSpeechDetected    Reason = "no_speech_detected"
	ReasonTranscriptionFailed Reason = "transcription_failed"
	ReasonReconnectExhausted  Reason = "reconnect_exhausted"
	ReasonCaptureFailed       Reason = "capture_failed"
)

// reasonFor maps an error to its terminal reason code.
func reasonFor(err error) Reason {
	switch {
	case errors.Is(err, audio.ErrPermissionDenied):
		return ReasonPermissionDenied
	case errors.Is(err, audio.ErrDeviceUnavailable):
		return ReasonDeviceUnavailable
	case errors.Is(err, ErrEmptyAudio):
		return ReasonEmptyAudio
	case errors.Is(err, ErrNoSpeech):
		return ReasonNoSpeechDetected
	default:
		return ReasonTranscriptionFailed
	}
}
