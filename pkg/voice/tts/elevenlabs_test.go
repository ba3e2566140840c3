package tts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestElevenLabs_Synthesize(t *testing.T) {
	var gotPath, gotFormat, gotKey string
	var gotBody elevenLabsRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotFormat = r.URL.Query().Get("output_format")
		gotKey = r.Header.Get("xi-api-key")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatal(err)
		}
		w.Write([]byte{0xFF, 0x7F, 0x00})
	}))
	defer srv.Close()

	p := NewElevenLabs("xi-key").WithBaseURL(srv.URL)
	syn, err := p.Synthesize(context.Background(), "Hi there", SynthesizeOptions{Voice: "v123"})
	if err != nil {
		t.Fatal(err)
	}

	if gotPath != "/v1/text-to-speech/v123" {
		t.Errorf("path = %q", gotPath)
	}
	if gotFormat != "ulaw_8000" {
		t.Errorf("output_format = %q, want ulaw_8000", gotFormat)
	}
	if gotKey != "xi-key" {
		t.Errorf("api key header = %q", gotKey)
	}
	if gotBody.Text != "Hi there" {
		t.Errorf("text = %q", gotBody.Text)
	}
	if gotBody.ModelID == "" {
		t.Error("model_id should default")
	}
	if len(syn.Audio) != 3 {
		t.Errorf("audio len = %d, want 3", len(syn.Audio))
	}
	if syn.SampleRate != 8000 {
		t.Errorf("sample rate = %d, want 8000", syn.SampleRate)
	}
}

func TestElevenLabs_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"quota exceeded"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewElevenLabs("xi-key").WithBaseURL(srv.URL)
	_, err := p.Synthesize(context.Background(), "Hi", SynthesizeOptions{Voice: "v123"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "429") {
		t.Errorf("error = %v, want status included", err)
	}
}

func TestElevenLabs_Validation(t *testing.T) {
	p := NewElevenLabs("xi-key")
	if _, err := p.Synthesize(context.Background(), "Hi", SynthesizeOptions{}); err == nil {
		t.Error("expected error for missing voice")
	}
	if _, err := p.Synthesize(context.Background(), "  ", SynthesizeOptions{Voice: "v"}); err == nil {
		t.Error("expected error for empty text")
	}
	empty := NewElevenLabs("")
	if _, err := empty.Synthesize(context.Background(), "Hi", SynthesizeOptions{Voice: "v"}); err == nil {
		t.Error("expected error for missing api key")
	}
}

func TestSampleRateForFormat(t *testing.T) {
	tests := []struct {
		format   string
		fallback int
		want     int
	}{
		{"ulaw_8000", 0, 8000},
		{"pcm_24000", 0, 24000},
		{"mp3", 22050, 22050},
		{"mp3", 0, 8000},
	}
	for _, tc := range tests {
		if got := sampleRateForFormat(tc.format, tc.fallback); got != tc.want {
			t.Errorf("sampleRateForFormat(%q, %d) = %d, want %d", tc.format, tc.fallback, got, tc.want)
		}
	}
}
