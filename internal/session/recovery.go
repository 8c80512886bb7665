package session

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/agnij-dutta/attack-capital/internal/audio"
	"github.com/agnij-dutta/attack-capital/internal/store"
)

// Recover re-attaches in-flight sessions after a process restart. For
// each directory under the fragment root it looks up the session row,
// rebuilds the in-memory fragment list from the on-disk files, and either
// re-arms the scheduler (Recording) or runs one synchronous pipeline
// cycle immediately (Processing). Sessions in any other state, and
// directories without a session row, are left for the retention sweep.
func (r *Registry) Recover() error {
	entries, err := os.ReadDir(r.frags.Root())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	recovered := 0

	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), "_") {
			continue
		}

		sessionID := entry.Name()

		row, err := r.db.GetSession(sessionID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				r.logger.Warn("Fragment directory without session row, skipping",
					slog.String("session_id", sessionID),
				)
				continue
			}
			return err
		}

		state, ok := StateFromString(row.Status)
		if !ok || (state != StateRecording && state != StateProcessing) {
			continue
		}

		if err := r.recoverSession(sessionID, row, state); err != nil {
			r.logger.Error("Failed to recover session",
				slog.String("session_id", sessionID),
				slog.String("error", err.Error()),
			)
			continue
		}

		recovered++
	}

	if recovered > 0 {
		r.logger.Info("Recovered in-flight sessions", slog.Int("count", recovered))
	}

	return nil
}

// recoverSession rebuilds one session's runtime state from disk
func (r *Registry) recoverSession(sessionID string, row *store.RecordingSession, state State) error {
	paths, err := r.frags.List(sessionID)
	if err != nil {
		return err
	}

	buffer := audio.NewBuffer(sessionID, r.config.MaxSessionBytes, r.config.MinFragmentBytes)

	// Rebuild fragments and the durable queue together so they stay
	// aligned index-for-index. Energy levels are runtime-only and gone;
	// the silence gate does not apply to recovered batches.
	goodPaths := make([]string, 0, len(paths))
	var totalBytes int64

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			r.logger.Warn("Skipping unreadable fragment",
				slog.String("session_id", sessionID),
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			continue
		}

		frag := &audio.Fragment{
			Data:      data,
			Container: audio.ContainerFromExt(filepath.Ext(path)),
			Path:      path,
		}
		if info, err := os.Stat(path); err == nil {
			frag.ReceivedAt = info.ModTime()
		}

		accepted, err := buffer.Add(frag)
		if err != nil || !accepted {
			continue
		}

		goodPaths = append(goodPaths, path)
		totalBytes += int64(len(data))
	}

	r.frags.Adopt(sessionID, goodPaths)

	s := &Session{
		ID:        sessionID,
		UserID:    row.UserID,
		StartTime: row.CreatedAt,
		state:     state,
		buffer:    buffer,
	}

	r.mu.Lock()
	r.sessions[sessionID] = s
	count := len(r.sessions)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.RecordSessionRecovered()
		r.metrics.SetActiveSessions(count)
	}

	r.logger.Info("Session re-attached from disk",
		slog.String("session_id", sessionID),
		slog.String("state", state.String()),
		slog.Int("fragments", len(goodPaths)),
		slog.Int64("bytes", totalBytes),
	)

	switch state {
	case StateProcessing:
		s.pipeMu.Lock()
		r.processBatch(s)
		s.pipeMu.Unlock()
	case StateRecording:
		if buffer.Pending() > 0 {
			s.arm(r.config.ChunkPeriod, func() { r.onTick(sessionID) })
		}
	}

	return nil
}
