package carrier

import (
	"encoding/base64"
	"encoding/json"
	"testing"
)

func TestDecodeMessage_Start(t *testing.T) {
	raw := `{
		"event": "start",
		"sequenceNumber": "1",
		"start": {
			"streamSid": "MZxxxx",
			"accountSid": "ACxxxx",
			"callSid": "CAxxxx",
			"tracks": ["inbound"],
			"mediaFormat": {"encoding": "audio/x-mulaw", "sampleRate": 8000, "channels": 1},
			"customParameters": {"token": "abc"}
		}
	}`
	msg, err := DecodeMessage([]byte(raw))
	if err != nil {
		t.Fatal(err)
	}
	if msg.Event != EventStart {
		t.Errorf("event = %q, want start", msg.Event)
	}
	if msg.Start == nil || msg.Start.StreamSID != "MZxxxx" || msg.Start.CallSID != "CAxxxx" {
		t.Errorf("start payload not decoded: %+v", msg.Start)
	}
	if msg.Start.MediaFormat.SampleRate != 8000 {
		t.Errorf("sample rate = %d, want 8000", msg.Start.MediaFormat.SampleRate)
	}
	if msg.Start.CustomParams["token"] != "abc" {
		t.Errorf("custom parameters not decoded: %v", msg.Start.CustomParams)
	}
}

func TestDecodeMessage_MediaAudio(t *testing.T) {
	audio := []byte{0x01, 0x02, 0x03}
	raw := `{"event":"media","media":{"track":"inbound","payload":"` +
		base64.StdEncoding.EncodeToString(audio) + `"}}`

	msg, err := DecodeMessage([]byte(raw))
	if err != nil {
		t.Fatal(err)
	}
	got, err := msg.Audio()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[0] != 0x01 || got[2] != 0x03 {
		t.Errorf("audio = %v, want %v", got, audio)
	}
}

func TestDecodeMessage_Errors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `{{{`},
		{"missing event", `{"streamSid":"MZ1"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeMessage([]byte(tt.raw)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestMessage_AudioErrors(t *testing.T) {
	if _, err := (Message{Event: EventMedia}).Audio(); err == nil {
		t.Error("expected error for missing payload")
	}
	bad := Message{Event: EventMedia, Media: &MediaPayload{Payload: "!!!"}}
	if _, err := bad.Audio(); err == nil {
		t.Error("expected error for invalid base64")
	}
}

func TestOutboundMedia(t *testing.T) {
	frame := []byte{0xFF, 0x00, 0x7F}
	msg := OutboundMedia("MZ123", frame)

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	round, err := DecodeMessage(data)
	if err != nil {
		t.Fatal(err)
	}
	if round.Event != EventMedia || round.StreamSID != "MZ123" {
		t.Errorf("envelope = %+v", round)
	}
	if round.Media.Track != "outbound" {
		t.Errorf("track = %q, want outbound", round.Media.Track)
	}
	audio, err := round.Audio()
	if err != nil {
		t.Fatal(err)
	}
	if len(audio) != 3 || audio[0] != 0xFF {
		t.Errorf("audio = %v, want %v", audio, frame)
	}
}

func TestOutboundClearAndMark(t *testing.T) {
	clear := OutboundClear("MZ1")
	if clear.Event != EventClear || clear.StreamSID != "MZ1" {
		t.Errorf("clear = %+v", clear)
	}
	mark := OutboundMark("MZ1", "reply-end")
	if mark.Event != EventMark || mark.Mark == nil || mark.Mark.Name != "reply-end" {
		t.Errorf("mark = %+v", mark)
	}
}
