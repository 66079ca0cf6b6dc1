package audio

import "time"

// Audio format constants for synthesized speech. The synthesis backend emits
// raw little-endian signed 16-bit mono PCM at 24kHz.
const (
	// SampleRate is the audio sample rate in Hz.
	SampleRate = 24000
	// Channels is the number of audio channels (1 = mono).
	Channels = 1
	// BitDepth is the bit depth per sample (16-bit).
	BitDepth = 16
	// BytesPerSample is the number of bytes per sample frame.
	BytesPerSample = BitDepth / 8 * Channels
)

// Format describes raw PCM audio parameters.
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

// DefaultFormat returns the synthesis backend's PCM format.
func DefaultFormat() Format {
	return Format{
		SampleRate: SampleRate,
		Channels:   Channels,
		BitDepth:   BitDepth,
	}
}

// BytesPerFrame returns the number of bytes per sample frame.
func (f Format) BytesPerFrame() int {
	return f.BitDepth / 8 * f.Channels
}

// PCMDuration calculates the playback duration of n bytes of raw PCM.
func PCMDuration(n int, format Format) time.Duration {
	frame := format.BytesPerFrame()
	if format.SampleRate == 0 || frame == 0 {
		return 0
	}
	frames := n / frame
	return time.Duration(float64(frames) / float64(format.SampleRate) * float64(time.Second))
}
