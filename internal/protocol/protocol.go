package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies a duplex-channel message
type MessageType string

// Inbound message types
const (
	TypeStartRecording  MessageType = "start-recording"
	TypeAudioChunk      MessageType = "audio-chunk"
	TypePauseRecording  MessageType = "pause-recording"
	TypeResumeRecording MessageType = "resume-recording"
	TypeStopRecording   MessageType = "stop-recording"
	TypeCancelRecording MessageType = "cancel-recording"
	TypeJoinSession     MessageType = "join-session"
	TypePong            MessageType = "pong"
)

// Outbound message types
const (
	TypeRecordingStarted     MessageType = "recording-started"
	TypeChunkReceived        MessageType = "chunk-received"
	TypeRecordingPaused      MessageType = "recording-paused"
	TypeRecordingResumed     MessageType = "recording-resumed"
	TypeRecordingCompleted   MessageType = "recording-completed"
	TypeRecordingCancelled   MessageType = "recording-cancelled"
	TypeLiveTranscriptUpdate MessageType = "live-transcript-update"
	TypeStatusUpdate         MessageType = "status-update"
	TypeError                MessageType = "error"
	TypePing                 MessageType = "ping"
)

// Envelope is the type-discriminated wire frame. Payload fields live
// beside the type, so inbound parsing decodes the full frame per type.
type Envelope struct {
	Type MessageType `json:"type"`
}

// StartRecording begins a new session
type StartRecording struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"sessionId"`
	UserID    string      `json:"userId"`
	MimeType  string      `json:"mimeType,omitempty"`
}

// AudioChunk carries one base64 audio fragment
type AudioChunk struct {
	Type       MessageType `json:"type"`
	SessionID  string      `json:"sessionId"`
	AudioData  string      `json:"audioData"`
	MimeType   string      `json:"mimeType"`
	AudioLevel *float64    `json:"audioLevel,omitempty"`
	ChunkID    string      `json:"chunkId,omitempty"`
}

// SessionControl covers pause/stop/cancel/join, which carry only a session
// reference, and resume, which may carry an updated MIME type.
type SessionControl struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"sessionId"`
	MimeType  string      `json:"mimeType,omitempty"`
}

// Inbound is a parsed client message; exactly one payload field is set
type Inbound struct {
	Type    MessageType
	Start   *StartRecording
	Audio   *AudioChunk
	Control *SessionControl
}

// Parse decodes and validates one inbound frame
func Parse(data []byte) (*Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed message frame: %w", err)
	}

	switch env.Type {
	case TypeStartRecording:
		var msg StartRecording
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("malformed %s: %w", env.Type, err)
		}
		if msg.SessionID == "" {
			return nil, fmt.Errorf("%s requires sessionId", env.Type)
		}
		if msg.UserID == "" {
			return nil, fmt.Errorf("%s requires userId", env.Type)
		}
		return &Inbound{Type: env.Type, Start: &msg}, nil

	case TypeAudioChunk:
		var msg AudioChunk
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("malformed %s: %w", env.Type, err)
		}
		if msg.SessionID == "" {
			return nil, fmt.Errorf("%s requires sessionId", env.Type)
		}
		if msg.AudioData == "" {
			return nil, fmt.Errorf("%s requires audioData", env.Type)
		}
		if msg.MimeType == "" {
			return nil, fmt.Errorf("%s requires mimeType", env.Type)
		}
		if msg.AudioLevel != nil && (*msg.AudioLevel < 0 || *msg.AudioLevel > 1) {
			return nil, fmt.Errorf("%s audioLevel must be in [0,1], got %f", env.Type, *msg.AudioLevel)
		}
		return &Inbound{Type: env.Type, Audio: &msg}, nil

	case TypePauseRecording, TypeResumeRecording, TypeStopRecording,
		TypeCancelRecording, TypeJoinSession:
		var msg SessionControl
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("malformed %s: %w", env.Type, err)
		}
		if msg.SessionID == "" {
			return nil, fmt.Errorf("%s requires sessionId", env.Type)
		}
		return &Inbound{Type: env.Type, Control: &msg}, nil

	case TypePong:
		return &Inbound{Type: env.Type}, nil

	case "":
		return nil, fmt.Errorf("message missing type field")

	default:
		return nil, fmt.Errorf("unknown message type %q", env.Type)
	}
}

// Ack is a simple outbound acknowledgement
type Ack struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"sessionId"`
	ChunkID   string      `json:"chunkId,omitempty"`
}

// NewChunk is the payload of a live transcript update
type NewChunk struct {
	ChunkIndex int       `json:"chunkIndex"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
}

// LiveTranscriptUpdate broadcasts one transcribed chunk to subscribers
type LiveTranscriptUpdate struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"sessionId"`
	NewChunk  NewChunk    `json:"newChunk"`
}

// StatusUpdate broadcasts a session state transition
type StatusUpdate struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"sessionId"`
	Status    string      `json:"status"`
}

// RecordingCompleted carries the final transcript and summary
type RecordingCompleted struct {
	Type       MessageType `json:"type"`
	SessionID  string      `json:"sessionId"`
	Transcript string      `json:"transcript"`
	Summary    string      `json:"summary"`
}

// ErrorMessage reports a failure to the client
type ErrorMessage struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

// Ping is the liveness probe frame
type Ping struct {
	Type MessageType `json:"type"`
}

// NewAck builds an acknowledgement for the given inbound type
func NewAck(ackType MessageType, sessionID, chunkID string) Ack {
	return Ack{Type: ackType, SessionID: sessionID, ChunkID: chunkID}
}

// NewLiveTranscriptUpdate builds a transcript broadcast frame
func NewLiveTranscriptUpdate(sessionID string, chunkIndex int, text string, timestamp time.Time) LiveTranscriptUpdate {
	return LiveTranscriptUpdate{
		Type:      TypeLiveTranscriptUpdate,
		SessionID: sessionID,
		NewChunk: NewChunk{
			ChunkIndex: chunkIndex,
			Text:       text,
			Timestamp:  timestamp,
		},
	}
}

// NewStatusUpdate builds a state transition broadcast frame
func NewStatusUpdate(sessionID, status string) StatusUpdate {
	return StatusUpdate{Type: TypeStatusUpdate, SessionID: sessionID, Status: status}
}

// NewRecordingCompleted builds the final transcript frame
func NewRecordingCompleted(sessionID, transcript, summary string) RecordingCompleted {
	return RecordingCompleted{
		Type:       TypeRecordingCompleted,
		SessionID:  sessionID,
		Transcript: transcript,
		Summary:    summary,
	}
}

// NewError builds an error frame
func NewError(message string) ErrorMessage {
	return ErrorMessage{Type: TypeError, Message: message}
}

// NewPing builds a liveness probe frame
func NewPing() Ping {
	return Ping{Type: TypePing}
}
