package transcription

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// transcribeInstruction is the bare prompt sent with every chunk
const transcribeInstruction = "Transcribe this audio literally. " +
	"Label each utterance as [Speaker N]: followed by the words spoken. " +
	"If there is no speech, respond with [silence]. " +
	"If speech is present but unintelligible, respond with [inaudible]."

// GatewayConfig contains transcription gateway configuration
type GatewayConfig struct {
	MaxAttempts   int
	RetryBase     time.Duration
	ContextChunks int
	ContextChars  int

	// OnRetry, when set, is invoked once per retry attempt
	OnRetry func()
}

// Gateway wraps the upstream transcriber with rolling-context prompt
// assembly, bounded retry, and output scrubbing. One Transcribe call per
// stitched chunk.
type Gateway struct {
	transcriber Transcriber
	config      GatewayConfig
	logger      *slog.Logger
}

// NewGateway creates a transcription gateway
func NewGateway(transcriber Transcriber, config GatewayConfig, logger *slog.Logger) *Gateway {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 3
	}
	if config.RetryBase <= 0 {
		config.RetryBase = 2 * time.Second
	}

	return &Gateway{
		transcriber: transcriber,
		config:      config,
		logger:      logger,
	}
}

// Transcribe sends one stitched chunk upstream and returns the scrubbed
// transcript. previousTexts are the most recent persisted chunk texts for
// the session, oldest first; substantive ones become rolling context.
func (g *Gateway) Transcribe(ctx context.Context, sessionID string, stitchedAudio []byte, mimeType string, previousTexts []string) (string, error) {
	prompt := g.buildPrompt(previousTexts)
	audioBase64 := base64.StdEncoding.EncodeToString(stitchedAudio)

	var lastErr error
	attempts := 0

	for attempt := 1; attempt <= g.config.MaxAttempts; attempt++ {
		if attempt > 1 {
			if g.config.OnRetry != nil {
				g.config.OnRetry()
			}
			delay := g.backoffDelay(attempt, lastErr)

			g.logger.Info("Retrying transcription",
				slog.String("session_id", sessionID),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
			)

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", fmt.Errorf("%w: %v", ErrTranscribe, ctx.Err())
			}
		}

		raw, err := g.transcriber.Transcribe(ctx, audioBase64, mimeType, prompt)
		attempts = attempt
		if err == nil {
			return CleanTranscript(prompt, raw), nil
		}

		lastErr = err

		var ce *CallError
		if !errors.As(err, &ce) || !ce.Retryable() {
			break
		}
	}

	return "", fmt.Errorf("%w after %d attempts: %v", ErrTranscribe, attempts, lastErr)
}

// ContextChunks returns how many previous chunk texts the gateway wants
func (g *Gateway) ContextChunks() int {
	return g.config.ContextChunks
}

// backoffDelay computes the exponential backoff for the given attempt. A
// server-suggested retry delay on the previous failure overrides it.
func (g *Gateway) backoffDelay(attempt int, lastErr error) time.Duration {
	var ce *CallError
	if errors.As(lastErr, &ce) && ce.RetryAfter > 0 {
		return ce.RetryAfter
	}

	delay := g.config.RetryBase
	for i := 2; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

// buildPrompt assembles the transcriber prompt, prepending rolling context
// with a do-not-repeat instruction when at least one substantive previous
// line exists.
func (g *Gateway) buildPrompt(previousTexts []string) string {
	context := BuildContext(previousTexts, g.config.ContextChunks, g.config.ContextChars)
	if context == "" {
		return transcribeInstruction
	}

	return fmt.Sprintf(
		"Previous transcript context (do NOT repeat any of this text in your output):\n%s\n\n%s",
		context, transcribeInstruction,
	)
}

// BuildContext selects the rolling context window: the last maxChunks
// texts minus silence markers and trivially short lines, joined and
// cropped to the final maxChars characters.
func BuildContext(previousTexts []string, maxChunks, maxChars int) string {
	if maxChunks <= 0 || maxChars <= 0 {
		return ""
	}

	if len(previousTexts) > maxChunks {
		previousTexts = previousTexts[len(previousTexts)-maxChunks:]
	}

	kept := make([]string, 0, len(previousTexts))
	for _, text := range previousTexts {
		t := strings.TrimSpace(text)
		if len(t) < 15 || isSilenceMarker(t) {
			continue
		}
		kept = append(kept, t)
	}

	if len(kept) == 0 {
		return ""
	}

	joined := strings.Join(kept, "\n")
	if len(joined) > maxChars {
		joined = joined[len(joined)-maxChars:]
	}

	return joined
}

// isSilenceMarker reports whether the whole text is a no-speech marker
func isSilenceMarker(text string) bool {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "[silence]", "[inaudible]", "[unclear]", "[no speech]", "[music]", "[noise]":
		return true
	}
	return false
}
