// Package vad classifies level samples as speech or silence from signal
// energy and tracks how long the current silence has lasted.
package vad

import (
	"time"

	"github.com/leafline/voicecapture/internal/audio"
)

// Activity is the classification of the most recent level sample.
type Activity struct {
	Speaking bool
	// Silence is the elapsed silence since the last speech sample. Zero
	// while speaking.
	Silence time.Duration
}

// Detector implements energy-threshold voice activity detection. The only
// mutable state is the timestamp silence is measured from; no audio is
// buffered here.
type Detector struct {
	threshold  float64
	sinceStart bool
	mark       time.Time // last speech sample, or first sample of the session
}

// NewDetector creates a detector with the given normalized energy threshold.
func NewDetector(threshold float64) *Detector {
	return &Detector{threshold: threshold}
}

// Observe classifies one level sample. A sample at or above the threshold
// resets the silence clock; a sample below it accumulates silence measured
// from the last speech sample. The first sample of a session starts the
// silence clock rather than counting as speech, so the detector never fires
// before any audio exists.
func (d *Detector) Observe(sample audio.LevelSample) Activity {
	if !d.sinceStart {
		d.sinceStart = true
		d.mark = sample.Timestamp
		if sample.Level >= d.threshold {
			return Activity{Speaking: true}
		}
		return Activity{Silence: 0}
	}

	if sample.Level >= d.threshold {
		d.mark = sample.Timestamp
		return Activity{Speaking: true}
	}

	silence := sample.Timestamp.Sub(d.mark)
	if silence < 0 {
		silence = 0
	}
	return Activity{Silence: silence}
}

// Threshold returns the configured energy threshold.
func (d *Detector) Threshold() float64 {
	return d.threshold
}

// Reset clears detector state for a new session.
func (d *Detector) Reset() {
	d.sinceStart = false
	d.mark = time.Time{}
}
