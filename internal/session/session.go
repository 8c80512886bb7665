package session

import (
	"errors"
	"sync"
	"time"

	"github.com/agnij-dutta/attack-capital/internal/audio"
)

// ErrNotFound is returned when a session is unknown to the registry
var ErrNotFound = errors.New("session not found")

// ErrBadState is returned when an operation is illegal for the session's
// current lifecycle state
var ErrBadState = errors.New("operation not allowed in current session state")

// State is the session lifecycle state
type State int

const (
	StateRecording State = iota
	StatePaused
	StateProcessing
	StateCompleted
	StateCancelled
)

// String returns the persisted/broadcast form of the state
func (s State) String() string {
	switch s {
	case StateRecording:
		return "recording"
	case StatePaused:
		return "paused"
	case StateProcessing:
		return "processing"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// StateFromString parses a persisted state
func StateFromString(s string) (State, bool) {
	switch s {
	case "recording":
		return StateRecording, true
	case "paused":
		return StatePaused, true
	case "processing":
		return StateProcessing, true
	case "completed":
		return StateCompleted, true
	case "cancelled":
		return StateCancelled, true
	}
	return 0, false
}

// Terminal reports whether no further transitions are legal
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled
}

// Session is the runtime registry entry for one recording. Two locks with
// distinct jobs: pipeMu serializes ingest against pipeline ticks so
// neither observes partial state; stateMu guards the lifecycle fields and
// is never held across I/O, which keeps Pause/Cancel responsive while a
// tick is mid-flight.
type Session struct {
	ID        string
	UserID    string
	StartTime time.Time

	pipeMu sync.Mutex

	stateMu  sync.RWMutex
	state    State
	timer    *time.Timer
	armed    bool
	lastHash string

	buffer *audio.Buffer

	// Counters surfaced via the ops API
	chunksTranscribed uint64
	ticksSkipped      uint64
}

// State returns the current lifecycle state
func (s *Session) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// setState flips the lifecycle state
func (s *Session) setState(state State) {
	s.stateMu.Lock()
	s.state = state
	s.stateMu.Unlock()
}

// LastHash returns the content hash of the last transcribed batch
func (s *Session) LastHash() string {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.lastHash
}

func (s *Session) setLastHash(hash string) {
	s.stateMu.Lock()
	s.lastHash = hash
	s.stateMu.Unlock()
}

// arm schedules the next pipeline tick if none is armed. Returns true
// when a new timer was set.
func (s *Session) arm(period time.Duration, tick func()) bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	if s.armed || s.state != StateRecording {
		return false
	}

	s.armed = true
	s.timer = time.AfterFunc(period, tick)
	return true
}

// disarm stops any pending tick
func (s *Session) disarm() {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.armed = false
}

// rearm marks the fired timer as consumed and schedules the next tick
// when the session is still recording.
func (s *Session) rearm(period time.Duration, tick func()) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	if s.state != StateRecording {
		s.armed = false
		s.timer = nil
		return
	}

	s.armed = true
	s.timer = time.AfterFunc(period, tick)
}

// Info is a monitoring snapshot of one session
type Info struct {
	SessionID         string    `json:"session_id"`
	UserID            string    `json:"user_id"`
	State             string    `json:"state"`
	StartTime         time.Time `json:"start_time"`
	Duration          float64   `json:"duration_seconds"`
	PendingFragments  int       `json:"pending_fragments"`
	PendingBytes      int64     `json:"pending_bytes"`
	LifetimeBytes     int64     `json:"lifetime_bytes"`
	ChunksTranscribed uint64    `json:"chunks_transcribed"`
	TicksSkipped      uint64    `json:"ticks_skipped"`
}

// GetInfo returns a monitoring snapshot
func (s *Session) GetInfo() Info {
	s.stateMu.RLock()
	state := s.state
	chunks := s.chunksTranscribed
	skipped := s.ticksSkipped
	s.stateMu.RUnlock()

	stats := s.buffer.GetStats()

	return Info{
		SessionID:         s.ID,
		UserID:            s.UserID,
		State:             state.String(),
		StartTime:         s.StartTime,
		Duration:          time.Since(s.StartTime).Seconds(),
		PendingFragments:  stats.Pending,
		PendingBytes:      stats.PendingBytes,
		LifetimeBytes:     stats.LifetimeBytes,
		ChunksTranscribed: chunks,
		TicksSkipped:      skipped,
	}
}

func (s *Session) noteChunk() {
	s.stateMu.Lock()
	s.chunksTranscribed++
	s.stateMu.Unlock()
}

func (s *Session) noteSkip() {
	s.stateMu.Lock()
	s.ticksSkipped++
	s.stateMu.Unlock()
}
