// Package stt provides streaming speech-to-text over WebSocket.
package stt

import "context"

// TranscriptDelta is one streamed transcription event.
type TranscriptDelta struct {
	Text    string
	IsFinal bool
}

// TranscribeOptions configures a streaming transcription session.
type TranscribeOptions struct {
	Model      string // recognition model identifier
	Language   string // language code, default "en"
	Encoding   string // audio encoding, default "mulaw"
	SampleRate int    // sample rate in Hz, default 8000
}

// Provider opens streaming transcription sessions.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// NewStream opens a streaming transcription session. Audio is sent
	// incrementally via SendAudio and results received via Deltas.
	NewStream(ctx context.Context, opts TranscribeOptions) (Stream, error)
}

// Stream is one live transcription connection.
type Stream interface {
	// SendAudio forwards raw audio bytes in the session's configured encoding.
	SendAudio(data []byte) error

	// Deltas returns the channel of transcript events. It is closed when
	// the session ends.
	Deltas() <-chan TranscriptDelta

	// Done returns a channel closed when the session ends.
	Done() <-chan struct{}

	// Close ends the session. Safe to call more than once.
	Close() error
}
