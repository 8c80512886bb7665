package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agnij-dutta/attack-capital/internal/audio"
	"github.com/agnij-dutta/attack-capital/internal/fanout"
	"github.com/agnij-dutta/attack-capital/internal/fragstore"
	"github.com/agnij-dutta/attack-capital/internal/metrics"
	"github.com/agnij-dutta/attack-capital/internal/protocol"
	"github.com/agnij-dutta/attack-capital/internal/stitch"
	"github.com/agnij-dutta/attack-capital/internal/store"
	"github.com/agnij-dutta/attack-capital/internal/transcription"
)

// Config contains the registry's pipeline parameters
type Config struct {
	ChunkPeriod      time.Duration
	MinFragmentBytes int
	MinStitchBytes   int
	MaxSessionBytes  int64
	SilenceEnergy    float64
	SilenceMaxBytes  int
	DebugSave        bool
}

// Registry tracks every live session and drives its pipeline. The map is
// guarded by a short-lived lock for add/remove/lookup only; each entry
// serializes its own ingest and tick work. The registry never holds its
// lock across I/O.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	config     Config
	frags      *fragstore.Store
	db         *store.Store
	stitcher   *stitch.Stitcher
	gateway    *transcription.Gateway
	summarizer transcription.Summarizer
	hub        *fanout.Hub
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewRegistry creates the session registry
func NewRegistry(config Config, frags *fragstore.Store, db *store.Store,
	stitcher *stitch.Stitcher, gateway *transcription.Gateway,
	summarizer transcription.Summarizer, hub *fanout.Hub,
	m *metrics.Metrics, logger *slog.Logger) *Registry {

	if config.ChunkPeriod <= 0 {
		config.ChunkPeriod = 30 * time.Second
	}

	return &Registry{
		sessions:   make(map[string]*Session),
		config:     config,
		frags:      frags,
		db:         db,
		stitcher:   stitcher,
		gateway:    gateway,
		summarizer: summarizer,
		hub:        hub,
		metrics:    m,
		logger:     logger,
	}
}

// InitializeSession persists a session row in Recording state and creates
// the in-memory entry. Fails when the ID collides.
func (r *Registry) InitializeSession(sessionID, userID, title string) error {
	if sessionID == "" || userID == "" {
		return fmt.Errorf("%w: session and user IDs are required", ErrBadState)
	}

	if _, err := r.db.CreateSession(sessionID, userID, title, StateRecording.String()); err != nil {
		if errors.Is(err, store.ErrDuplicateSession) {
			return fmt.Errorf("%w: session %s already exists", ErrBadState, sessionID)
		}
		return err
	}

	s := &Session{
		ID:        sessionID,
		UserID:    userID,
		StartTime: time.Now(),
		state:     StateRecording,
		buffer:    audio.NewBuffer(sessionID, r.config.MaxSessionBytes, r.config.MinFragmentBytes),
	}

	r.mu.Lock()
	if _, exists := r.sessions[sessionID]; exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: session %s already exists", ErrBadState, sessionID)
	}
	r.sessions[sessionID] = s
	count := len(r.sessions)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.RecordSessionCreated()
		r.metrics.SetActiveSessions(count)
	}

	r.logger.Info("Session initialized",
		slog.String("session_id", sessionID),
		slog.String("user_id", userID),
	)

	return nil
}

// get looks up a live session
func (r *Registry) get(sessionID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	return s, ok
}

// remove drops a session from the registry
func (r *Registry) remove(sessionID string) {
	r.mu.Lock()
	delete(r.sessions, sessionID)
	count := len(r.sessions)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.SetActiveSessions(count)
	}
}

// GetSessionInfo returns a monitoring snapshot for one session
func (r *Registry) GetSessionInfo(sessionID string) (Info, error) {
	s, ok := r.get(sessionID)
	if !ok {
		return Info{}, ErrNotFound
	}
	return s.GetInfo(), nil
}

// GetAllSessionInfos returns snapshots of every live session
func (r *Registry) GetAllSessionInfos() []Info {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	infos := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.GetInfo())
	}
	return infos
}

// ActiveCount returns the number of live sessions
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// AddFragment ingests one audio payload for a session. Fragments below
// the size gate are dropped silently; payloads that would exceed the
// session cap fail with audio.ErrBufferOverflow. Ingest is legal while
// Recording or Paused. The first accepted fragment arms the scheduler.
func (r *Registry) AddFragment(sessionID string, payload []byte, mimeType string, energy *float64, fragmentID string) error {
	s, ok := r.get(sessionID)
	if !ok {
		return ErrNotFound
	}

	switch s.State() {
	case StateRecording, StatePaused:
	default:
		return fmt.Errorf("%w: cannot ingest in state %s", ErrBadState, s.State())
	}

	frag := &audio.Fragment{
		Data:       payload,
		Container:  audio.ContainerFromMIME(mimeType),
		FragmentID: fragmentID,
		ReceivedAt: time.Now(),
	}
	if energy != nil {
		frag.Energy = *energy
		frag.HasEnergy = true
	}

	s.pipeMu.Lock()
	defer s.pipeMu.Unlock()

	// The state may have flipped while we waited for the pipeline lock;
	// a fragment racing a cancel is dropped, not an error.
	if s.State().Terminal() {
		return nil
	}

	accepted, err := s.buffer.Add(frag)
	if err != nil {
		if r.metrics != nil {
			r.metrics.RecordBufferOverflow()
		}
		return err
	}

	if !accepted {
		if r.metrics != nil {
			r.metrics.RecordFragmentDropped()
		}
		return nil
	}

	path, err := r.frags.Append(sessionID, payload, frag.Container.Ext())
	if err != nil {
		s.buffer.DropLast(frag)
		return err
	}
	frag.Path = path

	if r.metrics != nil {
		r.metrics.RecordFragmentAccepted(len(payload))
	}

	s.arm(r.config.ChunkPeriod, func() { r.onTick(sessionID) })

	return nil
}

// Pause stops the scheduler tick and flips the persisted state. Ingest
// keeps accepting fragments while paused; they are consumed after resume.
func (r *Registry) Pause(sessionID string) error {
	s, ok := r.get(sessionID)
	if !ok {
		return ErrNotFound
	}

	if s.State() != StateRecording {
		return fmt.Errorf("%w: cannot pause in state %s", ErrBadState, s.State())
	}

	s.setState(StatePaused)
	s.disarm()

	if err := r.db.UpdateSessionStatus(sessionID, StatePaused.String()); err != nil {
		return err
	}

	r.publishStatus(sessionID, StatePaused)

	r.logger.Info("Session paused", slog.String("session_id", sessionID))
	return nil
}

// Resume restarts the scheduler and flips the persisted state
func (r *Registry) Resume(sessionID string) error {
	s, ok := r.get(sessionID)
	if !ok {
		return ErrNotFound
	}

	if s.State() != StatePaused {
		return fmt.Errorf("%w: cannot resume in state %s", ErrBadState, s.State())
	}

	s.setState(StateRecording)

	if err := r.db.UpdateSessionStatus(sessionID, StateRecording.String()); err != nil {
		return err
	}

	// Fragments buffered during the pause are waiting; arm immediately.
	if s.buffer.Pending() > 0 {
		s.arm(r.config.ChunkPeriod, func() { r.onTick(sessionID) })
	}

	r.publishStatus(sessionID, StateRecording)

	r.logger.Info("Session resumed", slog.String("session_id", sessionID))
	return nil
}

// Cancel tears down the session: the scheduler is disarmed, buffered and
// persisted fragments are discarded, and the state flips to Cancelled.
// Safe from any non-terminal state and idempotent. An in-flight tick is
// not aborted; its result is discarded by the post-flight state check.
func (r *Registry) Cancel(sessionID string) error {
	s, ok := r.get(sessionID)
	if !ok {
		// Idempotence: a second Cancel sees only the persisted row.
		row, err := r.db.GetSession(sessionID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrNotFound
			}
			return err
		}
		if row.Status == StateCancelled.String() {
			return nil
		}
		return fmt.Errorf("%w: cannot cancel in state %s", ErrBadState, row.Status)
	}

	if s.State().Terminal() {
		return nil
	}

	s.setState(StateCancelled)
	s.disarm()

	if err := r.db.UpdateSessionStatus(sessionID, StateCancelled.String()); err != nil {
		r.logger.Error("Failed to persist cancelled state",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
	}

	if err := r.frags.PurgeSession(sessionID, r.config.DebugSave); err != nil {
		r.logger.Warn("Failed to purge session fragments",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
	}

	s.buffer.Swap()
	r.remove(sessionID)

	if r.metrics != nil {
		r.metrics.RecordSessionCancelled()
	}

	r.publishStatus(sessionID, StateCancelled)

	r.logger.Info("Session cancelled",
		slog.String("session_id", sessionID),
		slog.Duration("duration", time.Since(s.StartTime)),
	)

	return nil
}

// publishStatus broadcasts a state transition to subscribers
func (r *Registry) publishStatus(sessionID string, state State) {
	r.hub.Publish(sessionID, protocol.NewStatusUpdate(sessionID, state.String()))
	if r.metrics != nil {
		r.metrics.RecordEventPublished()
	}
}

// Shutdown disarms every scheduler so no tick fires during process exit.
// Buffered fragments stay on disk for recovery.
func (r *Registry) Shutdown() {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	for _, s := range sessions {
		s.disarm()
	}

	r.logger.Info("Session registry shut down",
		slog.Int("live_sessions", len(sessions)),
	)
}
