package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/PPASSD/ai-call-server/pkg/carrier"
	"github.com/PPASSD/ai-call-server/pkg/config"
	"github.com/PPASSD/ai-call-server/pkg/reply"
	"github.com/PPASSD/ai-call-server/pkg/session"
	"github.com/PPASSD/ai-call-server/pkg/voice/stt"
	"github.com/PPASSD/ai-call-server/pkg/voice/tts"
)

type fakePlacer struct {
	mu    sync.Mutex
	calls []carrier.PlaceCallParams
	sid   string
	err   error
}

func (f *fakePlacer) PlaceCall(ctx context.Context, params carrier.PlaceCallParams) (*carrier.Call, error) {
	f.mu.Lock()
	f.calls = append(f.calls, params)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &carrier.Call{
		SID:    f.sid,
		To:     params.To,
		From:   params.From,
		Status: "queued",
	}, nil
}

type fakeSTTStream struct {
	deltas chan stt.TranscriptDelta
	done   chan struct{}
	once   sync.Once
}

func newFakeSTTStream() *fakeSTTStream {
	return &fakeSTTStream{
		deltas: make(chan stt.TranscriptDelta, 1),
		done:   make(chan struct{}),
	}
}

func (f *fakeSTTStream) SendAudio(data []byte) error        { return nil }
func (f *fakeSTTStream) Deltas() <-chan stt.TranscriptDelta { return f.deltas }
func (f *fakeSTTStream) Done() <-chan struct{}              { return f.done }

func (f *fakeSTTStream) Close() error {
	f.once.Do(func() { close(f.done) })
	return nil
}

type fakeSTTProvider struct {
	mu   sync.Mutex
	last *fakeSTTStream
}

func (p *fakeSTTProvider) Name() string { return "fake-stt" }

func (p *fakeSTTProvider) NewStream(ctx context.Context, opts stt.TranscribeOptions) (stt.Stream, error) {
	stream := newFakeSTTStream()
	p.mu.Lock()
	p.last = stream
	p.mu.Unlock()
	return stream, nil
}

func (p *fakeSTTProvider) lastStream() *fakeSTTStream {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

type fakeTTSProvider struct{}

func (fakeTTSProvider) Name() string { return "fake-tts" }
func (fakeTTSProvider) Synthesize(ctx context.Context, text string, opts tts.SynthesizeOptions) (*tts.Synthesis, error) {
	return &tts.Synthesis{Audio: make([]byte, 160), Format: "ulaw_8000", SampleRate: 8000}, nil
}

type fakeGenerator struct {
	mu      sync.Mutex
	prompts []reply.Prompt
}

func (f *fakeGenerator) Generate(ctx context.Context, p reply.Prompt) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, p)
	f.mu.Unlock()
	return "Hello!", nil
}

func (f *fakeGenerator) promptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

func (f *fakeGenerator) firstPrompt() reply.Prompt {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return reply.Prompt{}
	}
	return f.prompts[0]
}

func testServerConfig() config.Config {
	return config.Config{
		Addr:                ":0",
		PublicHost:          "calls.example.com",
		TwilioAccountSID:    "AC1",
		TwilioAuthToken:     "tok",
		TwilioFromNumber:    "+15550001111",
		DeepgramModel:       "nova-2",
		DeepgramLanguage:    "en",
		ElevenLabsVoice:     "v1",
		ElevenLabsModel:     "eleven_flash_v2_5",
		DebounceWindow:      900 * time.Millisecond,
		FrameInterval:       time.Millisecond,
		MaxCallDuration:     time.Minute,
		PendingCallTTL:      time.Minute,
		ReadHeaderTimeout:   5 * time.Second,
		ShutdownGracePeriod: 5 * time.Second,
	}
}

func newTestServer(t *testing.T, placer *fakePlacer) (*Server, *fakeSTTProvider, *fakeGenerator) {
	t.Helper()
	sttProv := &fakeSTTProvider{}
	gen := &fakeGenerator{}
	s, err := New(Options{
		Config:    testServerConfig(),
		Calls:     placer,
		STT:       sttProv,
		TTS:       fakeTTSProvider{},
		Generator: gen,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, sttProv, gen
}

func TestPlaceCall(t *testing.T) {
	placer := &fakePlacer{sid: "CA900"}
	s, _, _ := newTestServer(t, placer)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/calls", "application/json",
		strings.NewReader(`{"to":"+15557654321","context":"confirm the 2pm appointment"}`))
	if err != nil {
		t.Fatalf("POST /v1/calls: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	var got placeCallResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.CallSID != "CA900" {
		t.Errorf("call_sid = %q, want CA900", got.CallSID)
	}
	if got.From != "+15550001111" {
		t.Errorf("from = %q, want configured number", got.From)
	}

	placer.mu.Lock()
	params := placer.calls[0]
	placer.mu.Unlock()
	if !strings.Contains(params.TwiML, "wss://calls.example.com/media") {
		t.Errorf("twiml = %q, missing media stream url", params.TwiML)
	}

	// The placed call is registered for the media stream to claim, with
	// its opening context.
	lead, ok := s.pending.Claim("CA900")
	if !ok {
		t.Fatal("placed call not in pending registry")
	}
	if lead.Context != "confirm the 2pm appointment" {
		t.Errorf("pending context = %q, want request context", lead.Context)
	}
}

func TestPlaceCallValidation(t *testing.T) {
	s, _, _ := newTestServer(t, &fakePlacer{sid: "CA1"})
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	tests := []struct {
		name string
		body string
	}{
		{name: "missing to", body: `{}`},
		{name: "blank to", body: `{"to":"  "}`},
		{name: "bad json", body: `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+"/v1/calls", "application/json", strings.NewReader(tt.body))
			if err != nil {
				t.Fatalf("POST: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestPlaceCallCarrierFailure(t *testing.T) {
	s, _, _ := newTestServer(t, &fakePlacer{err: fmt.Errorf("carrier down")})
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/calls", "application/json",
		strings.NewReader(`{"to":"+15557654321"}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", resp.StatusCode)
	}
}

func TestTwiMLEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t, &fakePlacer{sid: "CA1"})
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/twiml", "application/x-www-form-urlencoded", nil)
	if err != nil {
		t.Fatalf("POST /twiml: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/xml" {
		t.Errorf("content type = %q, want text/xml", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `<Stream url="wss://calls.example.com/media"`) {
		t.Errorf("twiml = %q, missing stream element", body)
	}
}

func TestHealthz(t *testing.T) {
	s, _, _ := newTestServer(t, &fakePlacer{sid: "CA1"})
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestMediaStreamClaimsPendingCall(t *testing.T) {
	s, sttProv, gen := newTestServer(t, &fakePlacer{sid: "CA42"})
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	s.pending.Put("CA42", session.PendingCall{
		To:       "+15557654321",
		Context:  "ask about the missing invoice",
		PlacedAt: time.Now(),
	})

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/media"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial media socket: %v", err)
	}
	defer conn.Close()

	start := carrier.Message{
		Event: carrier.EventStart,
		Start: &carrier.StartPayload{StreamSID: "MZ1", CallSID: "CA42"},
	}
	if err := conn.WriteJSON(start); err != nil {
		t.Fatalf("write start: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && s.pending.Len() != 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if s.pending.Len() != 0 {
		t.Error("pending call not claimed by media stream")
	}

	// The claimed context travels with the session into generation.
	stream := sttProv.lastStream()
	if stream == nil {
		t.Fatal("no transcription stream opened")
	}
	stream.deltas <- stt.TranscriptDelta{Text: "hello", IsFinal: true}

	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) && gen.promptCount() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if got := gen.firstPrompt().CallContext; got != "ask about the missing invoice" {
		t.Errorf("generation call context = %q, want the claimed metadata", got)
	}

	stop := carrier.Message{Event: carrier.EventStop}
	if err := conn.WriteJSON(stop); err != nil {
		t.Fatalf("write stop: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) && s.ActiveCalls() != 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if got := s.ActiveCalls(); got != 0 {
		t.Errorf("active calls = %d after stop, want 0", got)
	}
}
