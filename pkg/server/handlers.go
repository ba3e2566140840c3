package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/PPASSD/ai-call-server/pkg/carrier"
	"github.com/PPASSD/ai-call-server/pkg/session"
)

type placeCallRequest struct {
	To      string `json:"to"`
	Context string `json:"context,omitempty"`
}

type placeCallResponse struct {
	CallSID string `json:"call_sid"`
	To      string `json:"to"`
	From    string `json:"from"`
	Status  string `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// handlePlaceCall places an outbound call whose TwiML connects the
// answered leg straight to the media-stream socket, and records the call
// in the pending registry for the stream to claim.
func (s *Server) handlePlaceCall(w http.ResponseWriter, r *http.Request) {
	var req placeCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if strings.TrimSpace(req.To) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "to is required"})
		return
	}

	call, err := s.calls.PlaceCall(r.Context(), carrier.PlaceCallParams{
		To:    req.To,
		From:  s.cfg.TwilioFromNumber,
		TwiML: carrier.StreamTwiML(s.cfg.MediaStreamURL()),
	})
	if err != nil {
		s.log.Error("place call", "to", req.To, "error", err)
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "carrier rejected the call"})
		return
	}

	s.pending.Put(call.SID, session.PendingCall{
		To:       call.To,
		From:     call.From,
		Context:  strings.TrimSpace(req.Context),
		PlacedAt: time.Now(),
	})
	s.log.Info("call placed", "call_sid", call.SID, "to", call.To)

	writeJSON(w, http.StatusCreated, placeCallResponse{
		CallSID: call.SID,
		To:      call.To,
		From:    call.From,
		Status:  call.Status,
	})
}

// handleTwiML answers the carrier's call webhook with the document that
// starts streaming to the media socket.
func (s *Server) handleTwiML(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/xml")
	_, _ = w.Write([]byte(carrier.StreamTwiML(s.cfg.MediaStreamURL())))
}

// handleMedia upgrades the carrier's media-stream connection and runs a
// call session on it until either side hangs up.
func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("media upgrade failed", "error", err)
		return
	}

	connID := uuid.NewString()
	log := s.log.With("conn_id", connID)

	sess, err := session.New(s.sessionConfig(), session.Deps{
		Conn:      conn,
		STT:       s.stt,
		TTS:       s.tts,
		Generator: s.gen,
		Logger:    log,
		Metrics:   s.metrics,
		OnActive: func(callSID string) string {
			lead, ok := s.pending.Claim(callSID)
			if !ok {
				log.Warn("media stream for unknown call", "call_sid", callSID)
				return ""
			}
			log.Info("media stream attached", "call_sid", callSID, "to", lead.To)
			return lead.Context
		},
	})
	if err != nil {
		log.Error("create session", "error", err)
		_ = conn.Close()
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	unregister := s.tracker.Register(connID, cancel)
	defer unregister()

	if err := sess.Run(ctx); err != nil {
		log.Warn("session ended with error", "error", err)
	}
}

func (s *Server) sessionConfig() session.Config {
	cfg := session.DefaultConfig()
	cfg.BargeIn = s.cfg.BargeIn
	cfg.MemoryEnabled = s.cfg.MemoryEnabled
	cfg.DebounceWindow = s.cfg.DebounceWindow
	cfg.FrameInterval = s.cfg.FrameInterval
	cfg.MaxCallDuration = s.cfg.MaxCallDuration
	cfg.STT.Model = s.cfg.DeepgramModel
	cfg.STT.Language = s.cfg.DeepgramLanguage
	cfg.TTS.Voice = s.cfg.ElevenLabsVoice
	cfg.TTS.Model = s.cfg.ElevenLabsModel
	return cfg
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"active_calls": s.tracker.Count(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
