// Package carrier implements the telephony carrier's media-stream wire
// protocol and the REST client used to place outbound calls.
package carrier

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Media-stream control events, Twilio Media Streams compatible.
const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventStop      = "stop"
	EventMark      = "mark"
	EventClear     = "clear"
)

// Message is the envelope for every frame on the media-stream socket.
type Message struct {
	Event          string        `json:"event"`
	SequenceNumber string        `json:"sequenceNumber,omitempty"`
	StreamSID      string        `json:"streamSid,omitempty"`
	Start          *StartPayload `json:"start,omitempty"`
	Media          *MediaPayload `json:"media,omitempty"`
	Mark           *MarkPayload  `json:"mark,omitempty"`
	Stop           *StopPayload  `json:"stop,omitempty"`
}

// StartPayload carries the stream identity delivered with the start event.
// StreamSID is what outbound media frames must be addressed with.
type StartPayload struct {
	StreamSID    string            `json:"streamSid"`
	AccountSID   string            `json:"accountSid"`
	CallSID      string            `json:"callSid"`
	Tracks       []string          `json:"tracks"`
	MediaFormat  MediaFormat       `json:"mediaFormat"`
	CustomParams map[string]string `json:"customParameters,omitempty"`
}

// MediaFormat describes the codec of the stream's media payloads.
type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// MediaPayload carries one base64-encoded audio chunk.
type MediaPayload struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

// MarkPayload names a playback checkpoint.
type MarkPayload struct {
	Name string `json:"name"`
}

// StopPayload identifies the call whose media stream ended.
type StopPayload struct {
	AccountSID string `json:"accountSid"`
	CallSID    string `json:"callSid"`
}

// DecodeMessage parses one inbound media-stream frame.
func DecodeMessage(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("decode carrier message: %w", err)
	}
	if strings.TrimSpace(msg.Event) == "" {
		return Message{}, fmt.Errorf("carrier message missing event")
	}
	return msg, nil
}

// Audio returns the decoded audio bytes of a media message.
func (m Message) Audio() ([]byte, error) {
	if m.Media == nil || m.Media.Payload == "" {
		return nil, fmt.Errorf("message has no media payload")
	}
	audio, err := base64.StdEncoding.DecodeString(m.Media.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode media payload: %w", err)
	}
	return audio, nil
}

// OutboundMedia builds the frame that carries one fixed-size audio frame
// back to the caller. The stream SID must be the one received in the start
// event; the outbound track tag tells the carrier which leg to play it on.
func OutboundMedia(streamSID string, frame []byte) Message {
	return Message{
		Event:     EventMedia,
		StreamSID: streamSID,
		Media: &MediaPayload{
			Track:   "outbound",
			Payload: base64.StdEncoding.EncodeToString(frame),
		},
	}
}

// OutboundMark builds a playback checkpoint frame, sent after a reply's
// final media frame.
func OutboundMark(streamSID, name string) Message {
	return Message{
		Event:     EventMark,
		StreamSID: streamSID,
		Mark:      &MarkPayload{Name: name},
	}
}

// OutboundClear builds the frame that tells the carrier to drop any audio
// it has buffered but not yet played, used when a reply is cancelled.
func OutboundClear(streamSID string) Message {
	return Message{
		Event:     EventClear,
		StreamSID: streamSID,
	}
}
