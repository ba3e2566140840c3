// Package tts provides text-to-speech synthesis.
package tts

import "context"

// SynthesizeOptions configures synthesis.
type SynthesizeOptions struct {
	Voice      string // voice identifier
	Model      string // synthesis model identifier
	Format     string // output format, e.g. "ulaw_8000", "pcm_24000"
	SampleRate int    // sample rate of the output format, for conversion math
}

// Synthesis is the result of one synthesis call.
type Synthesis struct {
	Audio      []byte // raw audio in the requested format
	Format     string
	SampleRate int
}

// Provider is the interface for text-to-speech services.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// Synthesize converts text to audio.
	Synthesize(ctx context.Context, text string, opts SynthesizeOptions) (*Synthesis, error)
}
