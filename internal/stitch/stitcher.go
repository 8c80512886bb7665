package stitch

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/agnij-dutta/attack-capital/internal/audio"
)

// ErrStitchFailed is returned when every strategy, including passthrough
// preparation, failed to produce forwardable audio.
var ErrStitchFailed = errors.New("all stitch strategies failed")

// Strategy identifies how a fragment batch was turned into decodable audio
type Strategy string

const (
	StrategyFilterGraph     Strategy = "filter_graph"
	StrategyTranscodeConcat Strategy = "transcode_concat"
	StrategyPipe            Strategy = "pipe"
	StrategyPassthrough     Strategy = "passthrough"
)

// Config contains stitcher configuration
type Config struct {
	FFmpegPath       string
	FFprobePath      string
	ToolTimeout      time.Duration // single-input invocations
	GraphToolTimeout time.Duration // filter-graph invocations
	StdoutMaxBytes   int
	DebugSave        bool
}

// Result is the stitched output handed to the transcription gateway
type Result struct {
	Audio    []byte
	MIME     string
	Hash     string // sha256 of the combined input bytes
	Strategy Strategy
	Duration time.Duration // probed output duration, 0 when unknown
}

// Stitcher turns a batch of received fragments into a single decodable
// audio payload. Browser-emitted WebM fragments share an EBML header that
// only appears in the first fragment, so naive byte concatenation of a
// mid-session batch is undecodable; the stitcher works through a strategy
// ladder instead and falls back to forwarding the raw bytes as a last
// resort.
type Stitcher struct {
	config Config
	logger *slog.Logger
}

// New creates a stitcher
func New(config Config, logger *slog.Logger) *Stitcher {
	if config.ToolTimeout <= 0 {
		config.ToolTimeout = 30 * time.Second
	}
	if config.GraphToolTimeout < config.ToolTimeout {
		config.GraphToolTimeout = 2 * config.ToolTimeout
	}
	if config.StdoutMaxBytes <= 0 {
		config.StdoutMaxBytes = 10 << 20
	}

	return &Stitcher{config: config, logger: logger}
}

// HashFragments returns the sha256 hex digest of the concatenated fragment
// payloads. The pipeline uses it for duplicate suppression before any
// transcode work is spent.
func HashFragments(frags []*audio.Fragment) string {
	h := sha256.New()
	for _, f := range frags {
		h.Write(f.Data)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Stitch produces a single audio payload from the batch. expectedDuration
// is the nominal batch length (the chunk period) used only for probe
// verification. debugDir, when non-empty and debug saving is enabled,
// receives a copy of the stitched output.
func (s *Stitcher) Stitch(ctx context.Context, sessionID string, frags []*audio.Fragment, expectedDuration time.Duration, debugDir string) (*Result, error) {
	if len(frags) == 0 {
		return nil, fmt.Errorf("%w: empty fragment batch", ErrStitchFailed)
	}

	hash := HashFragments(frags)

	var out []byte
	var strategy Strategy
	var err error

	if len(frags) > 1 && hasFragmentedContainer(frags) {
		out, err = s.filterGraphConcat(ctx, frags)
		strategy = StrategyFilterGraph
		if err != nil {
			s.logger.Warn("Filter-graph concat failed, trying transcode-then-concat",
				slog.String("session_id", sessionID),
				slog.Int("fragments", len(frags)),
				slog.String("error", err.Error()),
			)
			out, err = s.transcodeConcat(ctx, frags)
			strategy = StrategyTranscodeConcat
		}
		if err != nil {
			out, err = s.pipeTranscode(ctx, frags)
			strategy = StrategyPipe
		}
	} else {
		out, err = s.pipeTranscode(ctx, frags)
		strategy = StrategyPipe
		if err != nil {
			s.logger.Warn("Pipe transcode failed, trying transcode-then-concat",
				slog.String("session_id", sessionID),
				slog.String("error", err.Error()),
			)
			out, err = s.transcodeConcat(ctx, frags)
			strategy = StrategyTranscodeConcat
		}
	}

	if err != nil {
		// Last resort: forward the combined original bytes under their
		// original container hint. The transcriber may reject them; that
		// is reported upstream, not retried here.
		s.logger.Error("All transcode strategies failed, forwarding raw bytes",
			slog.String("session_id", sessionID),
			slog.Int("fragments", len(frags)),
			slog.String("error", err.Error()),
		)

		combined := combineBytes(frags)
		if len(combined) == 0 {
			return nil, fmt.Errorf("%w: nothing to forward", ErrStitchFailed)
		}

		return &Result{
			Audio:    combined,
			MIME:     frags[0].Container.MIME(),
			Hash:     hash,
			Strategy: StrategyPassthrough,
		}, nil
	}

	result := &Result{
		Audio:    out,
		MIME:     "audio/mpeg",
		Hash:     hash,
		Strategy: strategy,
	}

	result.Duration = s.verify(ctx, sessionID, out, expectedDuration)

	if s.config.DebugSave && debugDir != "" {
		s.saveDebugArtifact(sessionID, debugDir, out)
	}

	return result, nil
}

// hasFragmentedContainer reports whether any fragment uses a container
// whose header state spans fragment boundaries
func hasFragmentedContainer(frags []*audio.Fragment) bool {
	for _, f := range frags {
		if f.Container.IsFragmented() {
			return true
		}
	}
	return false
}

func combineBytes(frags []*audio.Fragment) []byte {
	combined := make([]byte, 0, audio.CombinedSize(frags))
	for _, f := range frags {
		combined = append(combined, f.Data...)
	}
	return combined
}

// filterGraphConcat invokes ffmpeg once with every fragment as a separate
// input and a concat filter graph. Each input gets permissive error flags
// and timestamp regeneration because mid-session WebM fragments lack their
// own headers and carry recorder-relative timestamps.
func (s *Stitcher) filterGraphConcat(ctx context.Context, frags []*audio.Fragment) ([]byte, error) {
	tmpDir, err := os.MkdirTemp("", "stitch-graph-")
	if err != nil {
		return nil, fmt.Errorf("creating temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	args := []string{"-hide_banner", "-loglevel", "error", "-y"}

	for i, f := range frags {
		path := f.Path
		if path == "" {
			path = filepath.Join(tmpDir, fmt.Sprintf("in-%04d.%s", i, f.Container.Ext()))
			if err := os.WriteFile(path, f.Data, 0o644); err != nil {
				return nil, fmt.Errorf("staging fragment: %w", err)
			}
		}
		args = append(args,
			"-err_detect", "ignore_err",
			"-fflags", "+genpts+igndts",
			"-f", f.Container.DemuxerName(),
			"-i", path,
		)
	}

	var graph strings.Builder
	for i := range frags {
		fmt.Fprintf(&graph, "[%d:a]", i)
	}
	fmt.Fprintf(&graph, "concat=n=%d:v=0:a=1[out]", len(frags))

	outPath := filepath.Join(tmpDir, "combined.mp3")
	args = append(args,
		"-filter_complex", graph.String(),
		"-map", "[out]",
		"-ar", "16000", "-ac", "1", "-b:a", "64k",
		"-f", "mp3", outPath,
	)

	if err := s.runTool(ctx, s.config.GraphToolTimeout, nil, nil, args...); err != nil {
		return nil, err
	}

	return s.readOutput(outPath)
}

// transcodeConcat transcodes each fragment to an intermediate MP3 and then
// concatenates the intermediates with the concat demuxer using stream
// copy. Per-fragment failures are skipped; the strategy fails only when no
// fragment survives.
func (s *Stitcher) transcodeConcat(ctx context.Context, frags []*audio.Fragment) ([]byte, error) {
	tmpDir, err := os.MkdirTemp("", "stitch-parts-")
	if err != nil {
		return nil, fmt.Errorf("creating temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	parts := make([]string, 0, len(frags))
	for i, f := range frags {
		part := filepath.Join(tmpDir, fmt.Sprintf("part-%04d.mp3", i))

		args := []string{
			"-hide_banner", "-loglevel", "error", "-y",
			"-err_detect", "ignore_err",
			"-fflags", "+genpts+igndts",
			"-f", f.Container.DemuxerName(),
			"-i", "pipe:0",
			"-ar", "16000", "-ac", "1", "-b:a", "64k",
			"-f", "mp3", part,
		}

		if err := s.runTool(ctx, s.config.ToolTimeout, bytes.NewReader(f.Data), nil, args...); err != nil {
			s.logger.Warn("Fragment transcode failed, skipping",
				slog.Int("fragment_index", i),
				slog.String("container", string(f.Container)),
				slog.String("error", err.Error()),
			)
			continue
		}

		if info, err := os.Stat(part); err != nil || info.Size() == 0 {
			continue
		}

		parts = append(parts, part)
	}

	if len(parts) == 0 {
		return nil, fmt.Errorf("no fragment survived individual transcode")
	}

	if len(parts) == 1 {
		return s.readOutput(parts[0])
	}

	listPath := filepath.Join(tmpDir, "concat.txt")
	var list strings.Builder
	for _, p := range parts {
		fmt.Fprintf(&list, "file '%s'\n", p)
	}
	if err := os.WriteFile(listPath, []byte(list.String()), 0o644); err != nil {
		return nil, fmt.Errorf("writing concat list: %w", err)
	}

	outPath := filepath.Join(tmpDir, "combined.mp3")
	args := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-f", "concat", "-safe", "0",
		"-i", listPath,
		"-c", "copy",
		"-f", "mp3", outPath,
	}

	if err := s.runTool(ctx, s.config.ToolTimeout, nil, nil, args...); err != nil {
		return nil, err
	}

	return s.readOutput(outPath)
}

// pipeTranscode spawns the tool once, feeds the combined bytes on stdin
// and reads MP3 from stdout. Suited to single fragments and self-contained
// containers. A broken pipe on early tool exit is tolerated as long as
// output was produced.
func (s *Stitcher) pipeTranscode(ctx context.Context, frags []*audio.Fragment) ([]byte, error) {
	combined := combineBytes(frags)
	if len(combined) == 0 {
		return nil, fmt.Errorf("empty input")
	}

	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-err_detect", "ignore_err",
		"-fflags", "+genpts+igndts",
		"-f", frags[0].Container.DemuxerName(),
		"-i", "pipe:0",
		"-ar", "16000", "-ac", "1", "-b:a", "64k",
		"-f", "mp3", "pipe:1",
	}

	var out cappedBuffer
	out.max = s.config.StdoutMaxBytes

	err := s.runTool(ctx, s.config.ToolTimeout, bytes.NewReader(combined), &out, args...)
	if err != nil && out.Len() == 0 {
		return nil, err
	}

	if out.Len() == 0 {
		return nil, fmt.Errorf("tool produced no output")
	}

	return out.Bytes(), nil
}

// runTool executes the external audio tool with a timeout. stderr is
// captured and folded into the returned error.
func (s *Stitcher) runTool(ctx context.Context, timeout time.Duration, stdin *bytes.Reader, stdout *cappedBuffer, args ...string) error {
	toolCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(toolCtx, s.config.FFmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if stdin != nil {
		cmd.Stdin = stdin
	}
	if stdout != nil {
		cmd.Stdout = stdout
	}

	err := cmd.Run()
	if err != nil {
		if toolCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("tool timed out after %s", timeout)
		}
		// EPIPE from the tool exiting before consuming all input still
		// counts as success when it produced output; the caller checks.
		if stdout != nil && stdout.Len() > 0 && isBrokenPipe(err) {
			return nil
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return fmt.Errorf("tool failed: %s", msg)
	}

	return nil
}

func isBrokenPipe(err error) bool {
	return strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "EPIPE")
}

// readOutput loads and sanity-checks a tool output file
func (s *Stitcher) readOutput(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("output missing: %w", err)
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("output is empty")
	}
	if info.Size() > int64(s.config.StdoutMaxBytes) {
		return nil, fmt.Errorf("output exceeds %d byte cap", s.config.StdoutMaxBytes)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading output: %w", err)
	}

	return data, nil
}

// verify probes the stitched output duration when a probe tool is
// configured. Deviations are logged, never fatal: short output usually
// means the recorder paused, and the bytes are still worth transcribing.
func (s *Stitcher) verify(ctx context.Context, sessionID string, out []byte, expected time.Duration) time.Duration {
	if s.config.FFprobePath == "" {
		return 0
	}

	tmp, err := os.CreateTemp("", "stitch-probe-*.mp3")
	if err != nil {
		return 0
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		return 0
	}
	tmp.Close()

	probeCtx, cancel := context.WithTimeout(ctx, s.config.ToolTimeout)
	defer cancel()

	cmd := exec.CommandContext(probeCtx, s.config.FFprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		tmp.Name(),
	)

	raw, err := cmd.Output()
	if err != nil {
		s.logger.Warn("Probe of stitched output failed",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
		return 0
	}

	var seconds float64
	if _, err := fmt.Sscanf(strings.TrimSpace(string(raw)), "%f", &seconds); err != nil {
		return 0
	}

	duration := time.Duration(seconds * float64(time.Second))

	if expected > 0 {
		diff := duration - expected
		if diff < 0 {
			diff = -diff
		}
		if diff > 5*time.Second {
			s.logger.Warn("Stitched duration deviates from expected",
				slog.String("session_id", sessionID),
				slog.Duration("duration", duration),
				slog.Duration("expected", expected),
			)
		}
	}

	if duration < 5*time.Second {
		s.logger.Warn("Stitched output is very short, forwarding anyway",
			slog.String("session_id", sessionID),
			slog.Duration("duration", duration),
		)
	}

	return duration
}

// saveDebugArtifact writes a copy of the stitched output for diagnosis
func (s *Stitcher) saveDebugArtifact(sessionID, debugDir string, out []byte) {
	if err := os.MkdirAll(debugDir, 0o755); err != nil {
		s.logger.Warn("Failed to create debug dir",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
		return
	}

	path := filepath.Join(debugDir, fmt.Sprintf("combined-%d.mp3", time.Now().UnixMilli()))
	if err := os.WriteFile(path, out, 0o644); err != nil {
		s.logger.Warn("Failed to write debug artifact",
			slog.String("session_id", sessionID),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return
	}

	s.logger.Debug("Saved stitched debug artifact",
		slog.String("session_id", sessionID),
		slog.String("path", path),
	)
}

// cappedBuffer is a bytes.Buffer that refuses writes past a byte cap
type cappedBuffer struct {
	bytes.Buffer
	max int
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if b.Len()+len(p) > b.max {
		return 0, fmt.Errorf("output exceeds %d byte cap", b.max)
	}
	return b.Buffer.Write(p)
}
