package audio

import (
	"bytes"
	"testing"
	"time"
)

func TestEncodeWAVHeader(t *testing.T) {
	pcm := make([]byte, 3200) // 100ms at 16kHz
	wav, err := EncodeWAV(pcm, 16000)
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}
	if len(wav) != 44+len(pcm) {
		t.Fatalf("length: got %d, want %d", len(wav), 44+len(pcm))
	}
	if err := ValidateWAV(wav); err != nil {
		t.Fatalf("ValidateWAV: %v", err)
	}

	decoded, rate, err := DecodeWAV(wav)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if rate != 16000 {
		t.Errorf("sample rate: got %d", rate)
	}
	if !bytes.Equal(decoded, pcm) {
		t.Error("payload mismatch")
	}
}

func TestEncodeWAVRejectsBadInput(t *testing.T) {
	if _, err := EncodeWAV(nil, 16000); err == nil {
		t.Error("empty PCM accepted")
	}
	if _, err := EncodeWAV([]byte{1, 2, 3}, 16000); err == nil {
		t.Error("odd byte count accepted")
	}
	if _, err := EncodeWAV([]byte{1, 2}, 0); err == nil {
		t.Error("zero sample rate accepted")
	}
}

func TestDecodeWAVRejectsNonPCM(t *testing.T) {
	wav, err := EncodeWAV(make([]byte, 320), 8000)
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}

	// Flip the audio format field to something other than PCM.
	mangled := append([]byte(nil), wav...)
	mangled[20] = 3
	if _, _, err := DecodeWAV(mangled); err == nil {
		t.Error("non-PCM format accepted")
	}

	// Stereo is not supported either.
	mangled = append([]byte(nil), wav...)
	mangled[22] = 2
	if _, _, err := DecodeWAV(mangled); err == nil {
		t.Error("stereo accepted")
	}
}

func TestValidateWAVRejectsGarbage(t *testing.T) {
	if err := ValidateWAV([]byte("too short")); err == nil {
		t.Error("short input accepted")
	}
	garbage := make([]byte, 64)
	copy(garbage, "JUNKdata")
	if err := ValidateWAV(garbage); err == nil {
		t.Error("garbage header accepted")
	}
}

func TestPCMDuration(t *testing.T) {
	// 16000 samples at 16kHz is exactly one second.
	if got := PCMDuration(make([]byte, 32000), 16000); got != time.Second {
		t.Errorf("duration: got %v, want 1s", got)
	}
	if got := PCMDuration(make([]byte, 3200), 16000); got != 100*time.Millisecond {
		t.Errorf("duration: got %v, want 100ms", got)
	}
	if got := PCMDuration(nil, 16000); got != 0 {
		t.Errorf("empty duration: got %v", got)
	}
}
