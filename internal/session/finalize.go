package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/agnij-dutta/attack-capital/internal/protocol"
	"github.com/agnij-dutta/attack-capital/internal/store"
	"github.com/agnij-dutta/attack-capital/internal/transcription"
)

// summaryFallback is persisted when the summarizer fails after the
// transcript itself completed.
const summaryFallback = "Summary could not be generated from the transcript."

// Stop finalizes a session: any buffered fragments are drained through
// one synchronous pipeline cycle, the scheduler is disarmed, all chunk
// texts are combined into the final transcript, the summarizer runs, and
// the session row is completed. Returns the final transcript and summary.
//
// Stop after Stop is idempotent: the stored results are returned.
func (r *Registry) Stop(sessionID string) (string, string, error) {
	s, ok := r.get(sessionID)
	if !ok {
		row, err := r.db.GetSession(sessionID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return "", "", ErrNotFound
			}
			return "", "", err
		}
		if row.Status == StateCompleted.String() {
			return derefOr(row.TranscriptText, ""), derefOr(row.Summary, ""), nil
		}
		return "", "", fmt.Errorf("%w: cannot stop in state %s", ErrBadState, row.Status)
	}

	switch s.State() {
	case StateRecording, StatePaused, StateProcessing:
	default:
		return "", "", fmt.Errorf("%w: cannot stop in state %s", ErrBadState, s.State())
	}

	// Drain: one final cycle over whatever is still buffered.
	s.pipeMu.Lock()
	if s.buffer.Pending() > 0 {
		r.processBatch(s)
	}
	s.pipeMu.Unlock()

	s.disarm()
	s.setState(StateProcessing)

	if err := r.db.UpdateSessionStatus(sessionID, StateProcessing.String()); err != nil {
		r.logger.Error("Failed to persist processing state",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
	}
	r.publishStatus(sessionID, StateProcessing)

	transcript, err := r.buildTranscript(sessionID)
	if err != nil {
		return "", "", err
	}

	summary := r.summarize(sessionID, transcript)

	duration := time.Since(s.StartTime)
	if err := r.db.FinalizeSession(sessionID, StateCompleted.String(), transcript, summary, duration); err != nil {
		return "", "", err
	}

	s.setState(StateCompleted)

	if err := r.frags.PurgeSession(sessionID, r.config.DebugSave); err != nil {
		r.logger.Warn("Failed to purge session fragments",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
	}

	r.remove(sessionID)

	if r.metrics != nil {
		r.metrics.RecordSessionCompleted(duration.Seconds())
	}

	r.publishStatus(sessionID, StateCompleted)
	r.hub.Publish(sessionID, protocol.NewRecordingCompleted(sessionID, transcript, summary))
	if r.metrics != nil {
		r.metrics.RecordEventPublished()
	}

	r.logger.Info("Session finalized",
		slog.String("session_id", sessionID),
		slog.Duration("duration", duration),
		slog.Int("transcript_length", len(transcript)),
	)

	return transcript, summary, nil
}

// buildTranscript loads all chunk rows in index order, drops refusal and
// silence boilerplate, and joins the rest with blank lines.
func (r *Registry) buildTranscript(sessionID string) (string, error) {
	chunks, err := r.db.ListChunks(sessionID)
	if err != nil {
		return "", err
	}

	texts := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		if transcription.IsRefusalChunk(chunk.Text) {
			continue
		}
		texts = append(texts, strings.TrimSpace(chunk.Text))
	}

	return strings.Join(texts, "\n\n"), nil
}

// summarize invokes the summarizer and scrubs its output. A summarizer
// failure never fails finalization; the fallback text is persisted.
func (r *Registry) summarize(sessionID, transcript string) string {
	if strings.TrimSpace(transcript) == "" {
		return summaryFallback
	}

	raw, err := r.summarizer.Summarize(context.Background(), transcript)
	if err != nil {
		err = fmt.Errorf("%w: %v", transcription.ErrSummarize, err)
		r.logger.Error("Summarization failed",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
		return summaryFallback
	}

	summary := transcription.CleanSummary(raw, transcript)
	if summary == "" {
		return summaryFallback
	}

	return summary
}

func derefOr(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	return *s
}
