package store

import (
	"time"
)

// RecordingSession represents one recording lifecycle row
type RecordingSession struct {
	ID             string    `gorm:"primaryKey" json:"id"`
	UserID         string    `gorm:"index;not null" json:"user_id"`
	Title          string    `json:"title"`
	Status         string    `gorm:"not null;index" json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	TranscriptText *string   `json:"transcript_text,omitempty"`
	Summary        *string   `json:"summary,omitempty"`
	Duration       *float64  `json:"duration,omitempty"` // seconds
}

// TableName overrides the gorm default
func (RecordingSession) TableName() string {
	return "recording_session"
}

// TranscriptChunk represents one transcribed chunk row. Chunk indices for
// a session form the sequence 0, 1, 2, ... with no gaps.
type TranscriptChunk struct {
	ID         string    `gorm:"primaryKey" json:"id"`
	SessionID  string    `gorm:"index:idx_chunk_session_index,unique;not null" json:"session_id"`
	ChunkIndex int       `gorm:"index:idx_chunk_session_index,unique;not null" json:"chunk_index"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence *float64  `json:"confidence,omitempty"`
}

// TableName overrides the gorm default
func (TranscriptChunk) TableName() string {
	return "transcript_chunk"
}
