package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned when a session row does not exist
var ErrNotFound = errors.New("session not found")

// ErrDuplicateSession is returned when a session ID collides
var ErrDuplicateSession = errors.New("session already exists")

// Store wraps the relational persistence used by the pipeline: one table
// of session rows and one of transcript chunks.
type Store struct {
	db *gorm.DB
}

// Open connects to the configured database and migrates the schema
func Open(driver, dsn string) (*Store, error) {
	var db *gorm.DB
	var err error

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), gormConfig)
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(dsn), gormConfig)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&RecordingSession{}, &TranscriptChunk{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &Store{db: db}, nil
}

// NewWithDB wraps an existing gorm handle and migrates its schema
func NewWithDB(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&RecordingSession{}, &TranscriptChunk{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &Store{db: db}, nil
}

// CreateSession inserts a session row. Fails with ErrDuplicateSession on
// an ID collision.
func (s *Store) CreateSession(id, userID, title, status string) (*RecordingSession, error) {
	session := &RecordingSession{
		ID:     id,
		UserID: userID,
		Title:  title,
		Status: status,
	}

	var count int64
	if err := s.db.Model(&RecordingSession{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("checking session existence: %w", err)
	}
	if count > 0 {
		return nil, ErrDuplicateSession
	}

	if err := s.db.Create(session).Error; err != nil {
		return nil, fmt.Errorf("creating session row: %w", err)
	}

	return session, nil
}

// GetSession loads one session row
func (s *Store) GetSession(id string) (*RecordingSession, error) {
	var session RecordingSession
	err := s.db.First(&session, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading session row: %w", err)
	}
	return &session, nil
}

// UpdateSessionStatus flips the persisted lifecycle state
func (s *Store) UpdateSessionStatus(id, status string) error {
	result := s.db.Model(&RecordingSession{}).Where("id = ?", id).Update("status", status)
	if result.Error != nil {
		return fmt.Errorf("updating session status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// FinalizeSession writes the final transcript, summary, duration, and
// terminal status in one update.
func (s *Store) FinalizeSession(id, status, transcript, summary string, duration time.Duration) error {
	seconds := duration.Seconds()
	result := s.db.Model(&RecordingSession{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":          status,
		"transcript_text": transcript,
		"summary":         summary,
		"duration":        seconds,
	})
	if result.Error != nil {
		return fmt.Errorf("finalizing session: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListSessionsByStatus returns session rows in the given states.
func (s *Store) ListSessionsByStatus(statuses ...string) ([]RecordingSession, error) {
	var sessions []RecordingSession
	if err := s.db.Where("status IN ?", statuses).Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	return sessions, nil
}

// CreateChunk appends a transcript chunk row with the given index
func (s *Store) CreateChunk(sessionID string, chunkIndex int, text string, timestamp time.Time, confidence float64) (*TranscriptChunk, error) {
	chunk := &TranscriptChunk{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		ChunkIndex: chunkIndex,
		Text:       text,
		Timestamp:  timestamp,
		Confidence: &confidence,
	}

	if err := s.db.Create(chunk).Error; err != nil {
		return nil, fmt.Errorf("creating chunk row: %w", err)
	}

	return chunk, nil
}

// ListChunks returns all chunk rows for a session ordered by index
func (s *Store) ListChunks(sessionID string) ([]TranscriptChunk, error) {
	var chunks []TranscriptChunk
	if err := s.db.Where("session_id = ?", sessionID).Order("chunk_index ASC").Find(&chunks).Error; err != nil {
		return nil, fmt.Errorf("listing chunks: %w", err)
	}
	return chunks, nil
}

// ChunkCount returns the number of chunk rows for a session, which is
// also the next chunk index.
func (s *Store) ChunkCount(sessionID string) (int, error) {
	var count int64
	if err := s.db.Model(&TranscriptChunk{}).Where("session_id = ?", sessionID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting chunks: %w", err)
	}
	return int(count), nil
}

// LastChunkTexts returns the most recent n chunk texts, oldest first;
// the transcription gateway turns them into rolling context.
func (s *Store) LastChunkTexts(sessionID string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}

	var chunks []TranscriptChunk
	if err := s.db.Where("session_id = ?", sessionID).
		Order("chunk_index DESC").Limit(n).Find(&chunks).Error; err != nil {
		return nil, fmt.Errorf("loading recent chunks: %w", err)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[len(chunks)-1-i] = c.Text
	}

	return texts, nil
}
