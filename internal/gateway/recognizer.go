// Package gateway serves the transcription backend endpoints, the
// dashboard event feed, and the session control API.
package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/leafline/voicecapture/internal/audio"
)

// Recognition is the outcome of recognizing one stretch of audio.
type Recognition struct {
	Text       string
	Confidence float64
	HasSpeech  bool
}

// Recognizer turns PCM audio into text. The production deployment plugs
// a real speech model in here; EnergyRecognizer serves development and
// tests.
type Recognizer interface {
	Recognize(ctx context.Context, pcm []byte, sampleRate int) (Recognition, error)
}

// EnergyRecognizer is a deterministic stand-in for a speech model. It
// finds speech by windowed signal energy and reports what it heard
// rather than producing words, which is enough to exercise the full
// capture and transport path locally.
type EnergyRecognizer struct {
	threshold    float64
	utteranceGap time.Duration
	windowMs     int
}

// NewEnergyRecognizer creates a recognizer with the given normalized
// energy threshold and the silence gap that separates utterances.
func NewEnergyRecognizer(threshold float64, utteranceGap time.Duration) *EnergyRecognizer {
	if threshold <= 0 {
		threshold = 0.015
	}
	if utteranceGap <= 0 {
		utteranceGap = 600 * time.Millisecond
	}
	return &EnergyRecognizer{
		threshold:    threshold,
		utteranceGap: utteranceGap,
		windowMs:     20,
	}
}

// Recognize scans the audio in fixed windows and summarizes the speech
// it contains. Audio with no window above the threshold reports
// HasSpeech false.
func (r *EnergyRecognizer) Recognize(ctx context.Context, pcm []byte, sampleRate int) (Recognition, error) {
	if sampleRate <= 0 {
		return Recognition{}, fmt.Errorf("invalid sample rate %d", sampleRate)
	}

	windowBytes := sampleRate * 2 * r.windowMs / 1000
	if windowBytes < 2 {
		windowBytes = 2
	}
	gapWindows := int(r.utteranceGap.Milliseconds()) / r.windowMs

	var speechWindows, totalWindows, utterances, silenceRun int
	inUtterance := false
	for off := 0; off+windowBytes <= len(pcm); off += windowBytes {
		totalWindows++
		if audio.RMSLevel(pcm[off:off+windowBytes]) >= r.threshold {
			speechWindows++
			silenceRun = 0
			if !inUtterance {
				inUtterance = true
				utterances++
			}
		} else if inUtterance {
			silenceRun++
			if silenceRun >= gapWindows {
				inUtterance = false
			}
		}
	}

	if speechWindows == 0 {
		return Recognition{HasSpeech: false}, nil
	}

	speechMs := speechWindows * r.windowMs
	confidence := float64(speechWindows) / float64(totalWindows)
	if confidence > 0.99 {
		confidence = 0.99
	}
	return Recognition{
		Text:       fmt.Sprintf("heard %d utterance(s), %dms of speech", utterances, speechMs),
		Confidence: confidence,
		HasSpeech:  true,
	}, nil
}
