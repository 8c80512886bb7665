package protocol

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseStartRecording(t *testing.T) {
	data := []byte(`{"type":"start-recording","sessionId":"sess-1","userId":"user-1","mimeType":"audio/webm"}`)

	msg, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if msg.Type != TypeStartRecording {
		t.Errorf("Expected type %s, got %s", TypeStartRecording, msg.Type)
	}
	if msg.Start == nil {
		t.Fatal("Expected Start payload")
	}
	if msg.Start.SessionID != "sess-1" || msg.Start.UserID != "user-1" {
		t.Errorf("Unexpected payload: %+v", msg.Start)
	}
	if msg.Start.MimeType != "audio/webm" {
		t.Errorf("Expected mimeType audio/webm, got %s", msg.Start.MimeType)
	}
}

func TestParseAudioChunk(t *testing.T) {
	data := []byte(`{"type":"audio-chunk","sessionId":"sess-1","audioData":"aGVsbG8=","mimeType":"audio/webm","audioLevel":0.42,"chunkId":"c-7"}`)

	msg, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if msg.Audio == nil {
		t.Fatal("Expected Audio payload")
	}
	if msg.Audio.AudioData != "aGVsbG8=" {
		t.Errorf("Unexpected audioData: %s", msg.Audio.AudioData)
	}
	if msg.Audio.AudioLevel == nil || *msg.Audio.AudioLevel != 0.42 {
		t.Errorf("Unexpected audioLevel: %v", msg.Audio.AudioLevel)
	}
	if msg.Audio.ChunkID != "c-7" {
		t.Errorf("Unexpected chunkId: %s", msg.Audio.ChunkID)
	}
}

func TestParseControlMessages(t *testing.T) {
	types := []MessageType{
		TypePauseRecording,
		TypeResumeRecording,
		TypeStopRecording,
		TypeCancelRecording,
		TypeJoinSession,
	}

	for _, mt := range types {
		t.Run(string(mt), func(t *testing.T) {
			data := []byte(`{"type":"` + string(mt) + `","sessionId":"sess-1"}`)

			msg, err := Parse(data)
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			if msg.Control == nil || msg.Control.SessionID != "sess-1" {
				t.Errorf("Unexpected control payload: %+v", msg.Control)
			}
		})
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `{{{`},
		{"missing type", `{"sessionId":"x"}`},
		{"unknown type", `{"type":"self-destruct","sessionId":"x"}`},
		{"start without session", `{"type":"start-recording","userId":"u"}`},
		{"start without user", `{"type":"start-recording","sessionId":"s"}`},
		{"chunk without audio", `{"type":"audio-chunk","sessionId":"s","mimeType":"audio/webm"}`},
		{"chunk without mime", `{"type":"audio-chunk","sessionId":"s","audioData":"aGk="}`},
		{"chunk with bad level", `{"type":"audio-chunk","sessionId":"s","audioData":"aGk=","mimeType":"audio/webm","audioLevel":1.5}`},
		{"pause without session", `{"type":"pause-recording"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.data)); err == nil {
				t.Errorf("Expected parse error for %s", tt.name)
			}
		})
	}
}

func TestParsePong(t *testing.T) {
	msg, err := Parse([]byte(`{"type":"pong"}`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if msg.Type != TypePong {
		t.Errorf("Expected pong, got %s", msg.Type)
	}
}

func TestLiveTranscriptUpdateWireFormat(t *testing.T) {
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	update := NewLiveTranscriptUpdate("sess-1", 3, "[Speaker 1]: hello", ts)

	data, err := json.Marshal(update)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if decoded["type"] != "live-transcript-update" {
		t.Errorf("Unexpected type: %v", decoded["type"])
	}
	if decoded["sessionId"] != "sess-1" {
		t.Errorf("Unexpected sessionId: %v", decoded["sessionId"])
	}

	newChunk, ok := decoded["newChunk"].(map[string]interface{})
	if !ok {
		t.Fatal("Expected newChunk object")
	}
	if newChunk["chunkIndex"] != float64(3) {
		t.Errorf("Unexpected chunkIndex: %v", newChunk["chunkIndex"])
	}
	if newChunk["text"] != "[Speaker 1]: hello" {
		t.Errorf("Unexpected text: %v", newChunk["text"])
	}
}

func TestErrorWireFormat(t *testing.T) {
	data, err := json.Marshal(NewError("Buffer overflow: Session exceeds maximum size"))
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded ErrorMessage
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if decoded.Type != TypeError {
		t.Errorf("Unexpected type: %s", decoded.Type)
	}
	if decoded.Message != "Buffer overflow: Session exceeds maximum size" {
		t.Errorf("Unexpected message: %s", decoded.Message)
	}
}

func TestAckOmitsEmptyChunkID(t *testing.T) {
	data, err := json.Marshal(NewAck(TypeChunkReceived, "sess-1", ""))
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if _, present := decoded["chunkId"]; present {
		t.Error("Expected chunkId to be omitted when empty")
	}
}
