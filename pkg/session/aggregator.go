package session

import (
	"strings"
	"time"
)

// DefaultDebounceWindow is how long duplicate final transcripts for the
// same speech segment are collapsed into one utterance.
const DefaultDebounceWindow = 900 * time.Millisecond

// Utterance is one finalized unit of caller speech.
type Utterance struct {
	Text       string
	ReceivedAt time.Time
}

// Aggregator turns streaming transcript deltas into discrete utterances.
// Partial deltas and whitespace-only text are ignored; final deltas that
// repeat the previous utterance's text inside the debounce window are
// suppressed, since some transcription services emit several "final"
// events for the same speech segment.
//
// Not safe for concurrent use; the session processes deltas in order.
type Aggregator struct {
	window time.Duration
	now    func() time.Time

	lastText string
	lastAt   time.Time
}

// NewAggregator creates an aggregator with the given debounce window.
// A zero or negative window falls back to DefaultDebounceWindow.
func NewAggregator(window time.Duration) *Aggregator {
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	return &Aggregator{window: window, now: time.Now}
}

// Observe processes one transcript delta. The returned bool reports
// whether a completed utterance was produced.
func (a *Aggregator) Observe(text string, isFinal bool) (Utterance, bool) {
	if !isFinal {
		return Utterance{}, false
	}
	norm := normalizeTranscript(text)
	if norm == "" {
		return Utterance{}, false
	}

	now := a.now()
	if norm == a.lastText && now.Sub(a.lastAt) < a.window {
		return Utterance{}, false
	}

	a.lastText = norm
	a.lastAt = now
	return Utterance{Text: strings.TrimSpace(text), ReceivedAt: now}, true
}

// normalizeTranscript lowercases and collapses whitespace so that trivially
// different duplicates ("Hello " vs "hello") compare equal.
func normalizeTranscript(text string) string {
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}
