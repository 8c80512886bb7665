package session

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/agnij-dutta/attack-capital/internal/audio"
	"github.com/agnij-dutta/attack-capital/internal/protocol"
	"github.com/agnij-dutta/attack-capital/internal/stitch"
)

// onTick is the scheduler entry point. Ticks for one session never
// overlap: the pipeline lock serializes them against each other and
// against ingest. A straggler firing after Stop or Cancel observes a
// non-Recording state and returns without work.
func (r *Registry) onTick(sessionID string) {
	s, ok := r.get(sessionID)
	if !ok {
		return
	}

	if s.State() != StateRecording {
		s.disarm()
		return
	}

	s.pipeMu.Lock()
	r.processBatch(s)
	s.pipeMu.Unlock()

	s.rearm(r.config.ChunkPeriod, func() { r.onTick(sessionID) })
}

// processBatch runs one stitch-and-transcribe cycle over everything
// buffered since the last tick. Caller holds the session's pipeline lock.
//
// Failure never advances the chunk index: fragments and their on-disk
// paths are restored so the next tick (or a recovery pass) retries them.
// Gated batches are consumed, not restored.
func (r *Registry) processBatch(s *Session) {
	frags := s.buffer.Swap()
	paths := r.frags.TakeBatch(s.ID, len(frags))

	if len(frags) == 0 {
		return
	}

	combined := audio.CombinedSize(frags)

	if combined < r.config.MinStitchBytes {
		r.skipBatch(s, paths, "too_small", combined)
		return
	}

	avgEnergy, hasEnergy := audio.AverageEnergy(frags)
	if hasEnergy && avgEnergy < r.config.SilenceEnergy && combined < r.config.SilenceMaxBytes {
		r.skipBatch(s, paths, "silence", combined)
		return
	}

	hash := stitch.HashFragments(frags)
	if hash == s.LastHash() {
		r.skipBatch(s, paths, "duplicate", combined)
		return
	}

	ctx := context.Background()

	stitchStart := time.Now()
	result, err := r.stitcher.Stitch(ctx, s.ID, frags, r.config.ChunkPeriod, r.frags.DebugDir(s.ID))
	if err != nil {
		r.logger.Error("Stitch failed, restoring fragments",
			slog.String("session_id", s.ID),
			slog.Int("fragments", len(frags)),
			slog.String("error", err.Error()),
		)
		if r.metrics != nil {
			r.metrics.RecordStitchFailure()
		}
		r.restoreBatch(s, frags, paths)
		return
	}

	if r.metrics != nil {
		r.metrics.RecordStitch(string(result.Strategy), time.Since(stitchStart).Seconds(), combined)
	}

	previousTexts, err := r.db.LastChunkTexts(s.ID, r.gateway.ContextChunks())
	if err != nil {
		r.logger.Warn("Failed to load context chunks, transcribing without context",
			slog.String("session_id", s.ID),
			slog.String("error", err.Error()),
		)
		previousTexts = nil
	}

	transcribeStart := time.Now()
	text, err := r.gateway.Transcribe(ctx, s.ID, result.Audio, result.MIME, previousTexts)
	if err != nil {
		r.logger.Error("Transcription failed, restoring fragments",
			slog.String("session_id", s.ID),
			slog.String("error", err.Error()),
		)
		if r.metrics != nil {
			r.metrics.RecordTranscriptionFailure()
		}
		r.restoreBatch(s, frags, paths)
		return
	}

	// Post-flight check: a cancel issued while the stitch or the upstream
	// call was in flight discards the result. Cancel already purged the
	// fragment files.
	if s.State() == StateCancelled {
		r.logger.Info("Discarding chunk result for cancelled session",
			slog.String("session_id", s.ID),
		)
		return
	}

	chunkIndex, err := r.db.ChunkCount(s.ID)
	if err != nil {
		r.logger.Error("Failed to determine chunk index, restoring fragments",
			slog.String("session_id", s.ID),
			slog.String("error", err.Error()),
		)
		r.restoreBatch(s, frags, paths)
		return
	}

	confidence := avgEnergy

	chunk, err := r.db.CreateChunk(s.ID, chunkIndex, text, time.Now(), confidence)
	if err != nil {
		r.logger.Error("Failed to persist chunk row, restoring fragments",
			slog.String("session_id", s.ID),
			slog.Int("chunk_index", chunkIndex),
			slog.String("error", err.Error()),
		)
		r.restoreBatch(s, frags, paths)
		return
	}

	s.setLastHash(hash)
	s.noteChunk()
	r.frags.Remove(paths)

	if r.metrics != nil {
		r.metrics.RecordChunkTranscribed(time.Since(transcribeStart).Seconds(), confidence)
	}

	r.logger.Info("Chunk transcribed",
		slog.String("session_id", s.ID),
		slog.Int("chunk_index", chunkIndex),
		slog.Int("fragments", len(frags)),
		slog.Int("input_bytes", combined),
		slog.String("strategy", string(result.Strategy)),
		slog.Float64("confidence", confidence),
		slog.Int("text_length", len(text)),
	)

	if strings.TrimSpace(text) != "" {
		r.hub.Publish(s.ID, protocol.NewLiveTranscriptUpdate(s.ID, chunkIndex, text, chunk.Timestamp))
		if r.metrics != nil {
			r.metrics.RecordEventPublished()
		}
	}
}

// skipBatch consumes a gated batch without producing a chunk row
func (r *Registry) skipBatch(s *Session, paths []string, reason string, combined int) {
	s.noteSkip()
	r.frags.Remove(paths)

	if r.metrics != nil {
		r.metrics.RecordStitchSkip(reason)
	}

	r.logger.Debug("Batch skipped",
		slog.String("session_id", s.ID),
		slog.String("reason", reason),
		slog.Int("combined_bytes", combined),
	)
}

// restoreBatch pushes a failed batch back to the head of the buffer and
// the durable queue so the next tick retries it
func (r *Registry) restoreBatch(s *Session, frags []*audio.Fragment, paths []string) {
	s.buffer.Restore(frags)
	r.frags.Restore(s.ID, paths)
}
