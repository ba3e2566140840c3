// Package session implements the per-call orchestration core: one
// CallSession per carrier media-stream connection, relaying caller audio
// to transcription and synthesized replies back to the carrier under
// strict turn-taking.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PPASSD/ai-call-server/pkg/audio"
	"github.com/PPASSD/ai-call-server/pkg/carrier"
	"github.com/PPASSD/ai-call-server/pkg/reply"
	"github.com/PPASSD/ai-call-server/pkg/voice/stt"
	"github.com/PPASSD/ai-call-server/pkg/voice/tts"
)

// CarrierConn is the subset of the carrier websocket a session uses.
// *websocket.Conn satisfies it.
type CarrierConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v any) error
	Close() error
}

// Config holds per-call behavior knobs.
type Config struct {
	// BargeIn controls whether caller audio received while the agent is
	// speaking is still forwarded to transcription, letting a new
	// utterance interrupt the reply mid-send. When false such audio is
	// discarded.
	BargeIn bool

	// MemoryEnabled controls whether prior utterance/reply pairs are
	// passed to reply generation on each turn.
	MemoryEnabled bool

	// DebounceWindow collapses duplicate final transcripts, see Aggregator.
	DebounceWindow time.Duration

	// FrameInterval is the pacing delay between outbound frames. It must
	// match the frame's real playback duration (20 ms for 160 bytes of
	// 8 kHz mulaw).
	FrameInterval time.Duration

	// MaxCallDuration ends the session when exceeded.
	MaxCallDuration time.Duration

	// STT configures the transcription stream opened per call.
	STT stt.TranscribeOptions

	// TTS configures speech synthesis per reply.
	TTS tts.SynthesizeOptions
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		BargeIn:         false,
		MemoryEnabled:   true,
		DebounceWindow:  DefaultDebounceWindow,
		FrameInterval:   20 * time.Millisecond,
		MaxCallDuration: 10 * time.Minute,
	}
}

// Deps are the collaborators a session needs.
type Deps struct {
	Conn      CarrierConn
	STT       stt.Provider
	TTS       tts.Provider
	Generator reply.Generator
	Logger    *slog.Logger
	Metrics   *Metrics

	// OnActive, when set, is invoked from the event loop once the start
	// message arrives and the call SID is known. The returned string is
	// the call's opening context (claimed lead metadata) and is passed to
	// reply generation on every turn; return "" when there is none.
	OnActive func(callSID string) (callContext string)
}

// CallSession owns one phone call's lifecycle. All session state is
// mutated from a single event loop (Run); the reply pipeline runs in a
// per-utterance goroutine cancelled whenever a newer utterance arrives.
type CallSession struct {
	cfg     Config
	metrics *Metrics

	conn        CarrierConn
	sttProvider stt.Provider
	ttsProvider tts.Provider
	generator   reply.Generator

	agg      *Aggregator
	onActive func(callSID string) string

	// mu guards everything below. The log field is re-scoped with call
	// identifiers once the start message arrives while the read loop and
	// reply goroutine are already logging, so reads go through logger().
	mu          sync.Mutex
	log         *slog.Logger
	state       State
	turn        TurnState
	streamSID   string
	callSID     string
	callContext string
	memory      []reply.Exchange

	// Owned by the event loop.
	sttStream stt.Stream
	sttDeltas <-chan stt.TranscriptDelta

	// replySeq and replyCancel track the single in-flight reply; both
	// are touched only by the event loop.
	replySeq    uint64
	replyCancel context.CancelFunc

	carrierCh chan carrier.Message
	replyDone chan replyResult

	writeMu   sync.Mutex
	closed    atomic.Bool
	done      chan struct{}
	startedAt time.Time
}

type replyResult struct {
	seq        uint64
	outcome    string
	utterance  string
	text       string
	framesSent int
	err        error
}

// New creates a session for one accepted carrier connection. Run must be
// called to start processing.
func New(cfg Config, deps Deps) (*CallSession, error) {
	if deps.Conn == nil {
		return nil, fmt.Errorf("carrier connection is required")
	}
	if deps.STT == nil {
		return nil, fmt.Errorf("stt provider is required")
	}
	if deps.TTS == nil {
		return nil, fmt.Errorf("tts provider is required")
	}
	if deps.Generator == nil {
		return nil, fmt.Errorf("reply generator is required")
	}
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = 20 * time.Millisecond
	}
	if cfg.MaxCallDuration <= 0 {
		cfg.MaxCallDuration = 10 * time.Minute
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &CallSession{
		cfg:         cfg,
		log:         logger,
		metrics:     deps.Metrics,
		conn:        deps.Conn,
		sttProvider: deps.STT,
		ttsProvider: deps.TTS,
		generator:   deps.Generator,
		agg:         NewAggregator(cfg.DebounceWindow),
		onActive:    deps.OnActive,
		state:       StateConnecting,
		turn:        TurnIdle,
		carrierCh:   make(chan carrier.Message, 64),
		replyDone:   make(chan replyResult, 4),
		done:        make(chan struct{}),
	}, nil
}

// State returns the session lifecycle state.
func (s *CallSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Turn returns the current turn-taking state.
func (s *CallSession) Turn() TurnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turn
}

// CallSID returns the carrier call identifier, empty until the start
// message arrives.
func (s *CallSession) CallSID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callSID
}

// Done returns a channel closed when the session has fully torn down.
func (s *CallSession) Done() <-chan struct{} {
	return s.done
}

func (s *CallSession) logger() *slog.Logger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log
}

// Run processes the call until the carrier disconnects, the context is
// cancelled, or the maximum call duration elapses. It always tears the
// session down before returning: the transcription stream is closed and
// any in-flight reply cancelled, regardless of which side ended first.
func (s *CallSession) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.startedAt = time.Now()
	s.metrics.CallStarted()
	defer func() { s.metrics.CallEnded(time.Since(s.startedAt).Seconds()) }()
	defer s.teardown()

	go s.readLoop()

	maxCall := time.NewTimer(s.cfg.MaxCallDuration)
	defer maxCall.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger().Info("session context cancelled")
			return nil

		case <-maxCall.C:
			s.logger().Info("max call duration reached",
				"max_duration", s.cfg.MaxCallDuration)
			return nil

		case msg, ok := <-s.carrierCh:
			if !ok {
				s.logger().Info("carrier disconnected")
				return nil
			}
			if ended := s.handleCarrier(ctx, msg); ended {
				return nil
			}

		case delta, ok := <-s.sttDeltas:
			if !ok {
				// Losing transcription mid-call is session-fatal; the
				// caller would otherwise talk into the void.
				s.logger().Warn("transcription stream closed, ending call")
				return fmt.Errorf("transcription stream closed")
			}
			s.handleDelta(ctx, delta)

		case res := <-s.replyDone:
			s.handleReplyDone(res)
		}
	}
}

// readLoop pumps carrier frames into the event loop. Malformed frames
// are logged and dropped; a read error ends the loop, which the event
// loop observes as a closed channel.
func (s *CallSession) readLoop() {
	defer close(s.carrierCh)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := carrier.DecodeMessage(data)
		if err != nil {
			s.logger().Warn("dropping malformed carrier message", "error", err)
			continue
		}
		select {
		case s.carrierCh <- msg:
		case <-s.done:
			return
		}
	}
}

// handleCarrier processes one carrier control or media message. It
// reports whether the session should end.
func (s *CallSession) handleCarrier(ctx context.Context, msg carrier.Message) (ended bool) {
	switch msg.Event {
	case carrier.EventConnected:
		return false

	case carrier.EventStart:
		return s.handleStart(ctx, msg)

	case carrier.EventMedia:
		s.handleMedia(msg)
		return false

	case carrier.EventMark:
		if msg.Mark != nil {
			s.logger().Debug("playback mark acknowledged", "mark", msg.Mark.Name)
		}
		return false

	case carrier.EventStop:
		s.logger().Info("carrier stream stopped")
		return true

	default:
		s.logger().Warn("dropping unexpected carrier event", "event", msg.Event)
		return false
	}
}

func (s *CallSession) handleStart(ctx context.Context, msg carrier.Message) (ended bool) {
	if s.State() != StateConnecting {
		s.logger().Warn("duplicate start message ignored")
		return false
	}
	if msg.Start == nil || msg.Start.StreamSID == "" {
		s.logger().Warn("start message missing stream sid, ending call")
		return true
	}

	stream, err := s.sttProvider.NewStream(ctx, s.cfg.STT)
	if err != nil {
		s.logger().Error("open transcription stream", "error", err)
		return true
	}
	s.sttStream = stream
	s.sttDeltas = stream.Deltas()

	logger := s.logger().With("call_sid", msg.Start.CallSID, "stream_sid", msg.Start.StreamSID)

	s.mu.Lock()
	s.log = logger
	s.streamSID = msg.Start.StreamSID
	s.callSID = msg.Start.CallSID
	s.state = StateActive
	s.turn = TurnListening
	s.mu.Unlock()

	if s.onActive != nil {
		callCtx := s.onActive(msg.Start.CallSID)
		s.mu.Lock()
		s.callContext = callCtx
		s.mu.Unlock()
	}

	s.logger().Info("call active",
		"stt_provider", s.sttProvider.Name(),
		"barge_in", s.cfg.BargeIn)
	return false
}

// handleMedia gates inbound caller audio on the turn state before
// forwarding it to transcription.
func (s *CallSession) handleMedia(msg carrier.Message) {
	if s.sttStream == nil {
		return
	}
	switch s.Turn() {
	case TurnListening:
	case TurnAgentSpeaking:
		if !s.cfg.BargeIn {
			return
		}
	default:
		return
	}

	data, err := msg.Audio()
	if err != nil {
		s.logger().Warn("dropping malformed media payload", "error", err)
		return
	}
	if err := s.sttStream.SendAudio(data); err != nil {
		s.logger().Debug("forward audio to transcription", "error", err)
	}
}

// handleDelta feeds a transcript delta through the aggregator and starts
// the reply pipeline when a completed utterance emerges.
func (s *CallSession) handleDelta(ctx context.Context, delta stt.TranscriptDelta) {
	utt, ok := s.agg.Observe(delta.Text, delta.IsFinal)
	if !ok {
		return
	}
	s.metrics.UtteranceAccepted()
	s.logger().Info("utterance accepted", "text", utt.Text)
	s.startReply(ctx, utt)
}

// startReply cancels any in-flight reply, then launches the pipeline for
// the new utterance. At most one reply is ever in flight.
func (s *CallSession) startReply(ctx context.Context, utt Utterance) {
	if s.replyCancel != nil {
		s.replyCancel()
		s.replyCancel = nil
		if s.Turn() == TurnAgentSpeaking {
			// Tell the carrier to drop buffered audio so the stale reply
			// stops audibly, not just at our send loop.
			s.sendClear()
			s.setTurn(TurnListening)
		}
	}

	s.replySeq++
	seq := s.replySeq
	replyCtx, cancel := context.WithCancel(ctx)
	s.replyCancel = cancel

	prompt := reply.Prompt{Utterance: utt.Text}
	s.mu.Lock()
	prompt.CallContext = s.callContext
	if s.cfg.MemoryEnabled {
		prompt.Memory = append(prompt.Memory, s.memory...)
	}
	s.mu.Unlock()

	go s.runReply(replyCtx, seq, utt, prompt)
}

// runReply executes one utterance's pipeline: generate, synthesize,
// recode, reframe, paced send. Cancellation is observed at every network
// await and at each frame boundary, never mid-frame.
func (s *CallSession) runReply(ctx context.Context, seq uint64, utt Utterance, prompt reply.Prompt) {
	text, err := s.generator.Generate(ctx, prompt)
	if err != nil {
		if ctx.Err() != nil {
			s.finishReply(ctx, replyResult{seq: seq, utterance: utt.Text, outcome: ReplyOutcomeCancelled})
			return
		}
		s.finishReply(ctx, replyResult{seq: seq, utterance: utt.Text, outcome: ReplyOutcomeError, err: fmt.Errorf("generate reply: %w", err)})
		return
	}
	if strings.TrimSpace(text) == "" {
		s.finishReply(ctx, replyResult{seq: seq, utterance: utt.Text, outcome: ReplyOutcomeEmpty})
		return
	}

	syn, err := s.ttsProvider.Synthesize(ctx, text, s.cfg.TTS)
	if err != nil {
		if ctx.Err() != nil {
			s.finishReply(ctx, replyResult{seq: seq, utterance: utt.Text, text: text, outcome: ReplyOutcomeCancelled})
			return
		}
		s.finishReply(ctx, replyResult{seq: seq, utterance: utt.Text, text: text, outcome: ReplyOutcomeError, err: fmt.Errorf("synthesize reply: %w", err)})
		return
	}

	frames, err := s.carrierFrames(syn)
	if err != nil {
		s.finishReply(ctx, replyResult{seq: seq, utterance: utt.Text, text: text, outcome: ReplyOutcomeError, err: err})
		return
	}
	if len(frames) == 0 {
		s.finishReply(ctx, replyResult{seq: seq, utterance: utt.Text, text: text, outcome: ReplyOutcomeEmpty})
		return
	}

	// A newer utterance may have arrived while generation or synthesis
	// was in flight; its result is stale and must not be sent.
	if ctx.Err() != nil {
		s.finishReply(ctx, replyResult{seq: seq, utterance: utt.Text, text: text, outcome: ReplyOutcomeCancelled})
		return
	}

	s.setTurn(TurnAgentSpeaking)
	s.metrics.ObserveReplyLatency(time.Since(utt.ReceivedAt).Seconds())

	pace := time.NewTicker(s.cfg.FrameInterval)
	defer pace.Stop()

	sent := 0
	for i, frame := range frames {
		if i > 0 {
			select {
			case <-ctx.Done():
				s.finishReply(ctx, replyResult{seq: seq, utterance: utt.Text, text: text, outcome: ReplyOutcomeCancelled, framesSent: sent})
				return
			case <-pace.C:
			}
		}
		// The tick and the cancellation can be ready together; never
		// send a frame once cancelled.
		if ctx.Err() != nil {
			s.finishReply(ctx, replyResult{seq: seq, utterance: utt.Text, text: text, outcome: ReplyOutcomeCancelled, framesSent: sent})
			return
		}
		if err := s.sendMedia(frame); err != nil {
			// A write rejected because the pipeline was cancelled or the
			// session is tearing down is not a carrier failure.
			if ctx.Err() != nil || s.closed.Load() {
				s.finishReply(ctx, replyResult{seq: seq, utterance: utt.Text, text: text, outcome: ReplyOutcomeCancelled, framesSent: sent})
				return
			}
			s.finishReply(ctx, replyResult{seq: seq, utterance: utt.Text, text: text, outcome: ReplyOutcomeError, framesSent: sent, err: fmt.Errorf("send reply frame %d: %w", i, err)})
			return
		}
		sent++
	}

	s.sendMark(fmt.Sprintf("reply-%d", seq))
	s.finishReply(ctx, replyResult{seq: seq, utterance: utt.Text, text: text, outcome: ReplyOutcomeSent, framesSent: sent})
}

// finishReply hands the pipeline outcome back to the event loop.
func (s *CallSession) finishReply(ctx context.Context, res replyResult) {
	select {
	case s.replyDone <- res:
	case <-s.done:
	case <-ctx.Done():
		// Loop no longer draining; record the outcome directly.
		s.metrics.ReplyFinished(res.outcome)
	}
}

// handleReplyDone runs on the event loop once a reply pipeline finishes.
func (s *CallSession) handleReplyDone(res replyResult) {
	s.metrics.ReplyFinished(res.outcome)
	s.metrics.FramesSent(res.framesSent)

	if res.err != nil && res.outcome == ReplyOutcomeError {
		s.logger().Warn("reply failed, staying silent this turn", "error", res.err)
	}

	if res.seq != s.replySeq {
		// Superseded by a newer utterance; its pipeline owns the turn now.
		return
	}

	if s.replyCancel != nil {
		s.replyCancel()
		s.replyCancel = nil
	}
	if s.Turn() == TurnAgentSpeaking {
		s.setTurn(TurnListening)
	}

	if res.outcome == ReplyOutcomeSent {
		s.mu.Lock()
		s.memory = append(s.memory, reply.Exchange{Utterance: res.utterance, Reply: res.text})
		s.mu.Unlock()
		s.logger().Info("reply sent", "text", res.text, "frames", res.framesSent)
	}
}

// carrierFrames recodes synthesized audio to the carrier codec and chunks
// it into fixed-size frames.
func (s *CallSession) carrierFrames(syn *tts.Synthesis) ([][]byte, error) {
	encoded, err := carrierEncode(syn)
	if err != nil {
		return nil, err
	}
	return audio.Reframe(encoded, audio.CarrierFrameBytes, audio.MulawSilence), nil
}

func carrierEncode(syn *tts.Synthesis) ([]byte, error) {
	format := strings.ToLower(syn.Format)
	switch {
	case strings.HasPrefix(format, "ulaw"), strings.HasPrefix(format, "mulaw"):
		if syn.SampleRate != 0 && syn.SampleRate != audio.CarrierSampleRate {
			return nil, fmt.Errorf("mulaw synthesis at %d Hz, carrier needs %d Hz", syn.SampleRate, audio.CarrierSampleRate)
		}
		return syn.Audio, nil

	case strings.HasPrefix(format, "pcm"):
		pcm := syn.Audio
		rate := syn.SampleRate
		if rate == 0 {
			rate = audio.CarrierSampleRate
		}
		if rate != audio.CarrierSampleRate {
			var err error
			pcm, err = audio.DownsamplePCM16(pcm, rate, audio.CarrierSampleRate)
			if err != nil {
				return nil, fmt.Errorf("downsample synthesis: %w", err)
			}
		}
		return audio.EncodeMulaw(pcm), nil

	default:
		return nil, fmt.Errorf("unsupported synthesis format %q", syn.Format)
	}
}

// sendMedia writes one outbound frame. Frames are never sent before the
// stream SID is known or after the session closed.
func (s *CallSession) sendMedia(frame []byte) error {
	if s.closed.Load() {
		return fmt.Errorf("session closed")
	}
	s.mu.Lock()
	sid := s.streamSID
	s.mu.Unlock()
	if sid == "" {
		return fmt.Errorf("stream sid not known yet")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(carrier.OutboundMedia(sid, frame))
}

func (s *CallSession) sendMark(name string) {
	s.mu.Lock()
	sid := s.streamSID
	s.mu.Unlock()
	if sid == "" || s.closed.Load() {
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteJSON(carrier.OutboundMark(sid, name)); err != nil {
		s.logger().Debug("send mark", "error", err)
	}
}

func (s *CallSession) sendClear() {
	s.mu.Lock()
	sid := s.streamSID
	s.mu.Unlock()
	if sid == "" || s.closed.Load() {
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteJSON(carrier.OutboundClear(sid)); err != nil {
		s.logger().Debug("send clear", "error", err)
	}
}

func (s *CallSession) setTurn(turn TurnState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.turn == TurnClosed {
		return
	}
	s.turn = turn
}

// teardown releases everything the session owns, exactly once. The reply
// cancellation and the transcription close both happen regardless of the
// other's outcome.
func (s *CallSession) teardown() {
	if s.closed.Swap(true) {
		return
	}

	if s.replyCancel != nil {
		s.replyCancel()
		s.replyCancel = nil
	}
	if s.sttStream != nil {
		_ = s.sttStream.Close()
	}
	_ = s.conn.Close()

	s.mu.Lock()
	s.state = StateClosed
	s.turn = TurnClosed
	s.mu.Unlock()

	close(s.done)
	s.logger().Info("call session closed", "duration", time.Since(s.startedAt))
}
