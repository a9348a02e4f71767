package audio

import (
	"math"
	"time"
)

// LevelSample is a normalized amplitude reading used by the VAD and the
// UI level meter. Level is in [0,1].
type LevelSample struct {
	Level     float64
	Timestamp time.Time
}

// RMSLevel computes the normalized RMS amplitude of mono 16-bit
// little-endian PCM. An odd trailing byte is ignored.
func RMSLevel(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}

	var energy float64
	for i := 0; i < n; i++ {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		energy += float64(s) * float64(s)
	}
	rms := math.Sqrt(energy / float64(n))

	// Normalize against full-scale 16-bit amplitude
	level := rms / 32768.0
	if level > 1 {
		level = 1
	}
	return level
}
