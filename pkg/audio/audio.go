// Package audio provides the audio format math, mu-law codec, and
// fixed-size frame chunking used on the carrier media path.
package audio

// Carrier media format. Twilio-style media streams carry 8-bit mu-law
// at 8 kHz mono, delivered as 160-byte frames (20 ms of playback).
const (
	CarrierSampleRate = 8000
	CarrierFrameBytes = 160
	// MulawSilence is the mu-law encoding of a zero-amplitude sample,
	// used to pad the final frame of a reply.
	MulawSilence byte = 0xFF
)

// Config specifies audio format parameters.
type Config struct {
	// SampleRate in Hz. Common values: 8000, 16000, 24000.
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int

	// BitsPerSample: 8 for mu-law, 16 for linear PCM.
	BitsPerSample int
}

// CarrierConfig returns the carrier's required audio format.
func CarrierConfig() Config {
	return Config{
		SampleRate:    CarrierSampleRate,
		Channels:      1,
		BitsPerSample: 8,
	}
}

// BytesPerSecond returns the audio byte rate.
func (c Config) BytesPerSecond() int {
	return c.SampleRate * c.Channels * (c.BitsPerSample / 8)
}

// DurationMs returns the playback duration in milliseconds for the given byte count.
func (c Config) DurationMs(bytes int) int {
	if c.BytesPerSecond() == 0 {
		return 0
	}
	return (bytes * 1000) / c.BytesPerSecond()
}

// BytesForDurationMs returns the byte count for the given duration in milliseconds.
func (c Config) BytesForDurationMs(ms int) int {
	return (c.BytesPerSecond() * ms) / 1000
}
