package session

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/agnij-dutta/attack-capital/internal/audio"
	"github.com/agnij-dutta/attack-capital/internal/fanout"
	"github.com/agnij-dutta/attack-capital/internal/fragstore"
	"github.com/agnij-dutta/attack-capital/internal/stitch"
	"github.com/agnij-dutta/attack-capital/internal/store"
	"github.com/agnij-dutta/attack-capital/internal/transcription"
)

// countingTranscriber returns a distinct line per call. An optional gate
// channel makes a call block until released, for in-flight cancel tests.
type countingTranscriber struct {
	mu    sync.Mutex
	calls int
	gate  chan struct{}
}

func (c *countingTranscriber) Transcribe(ctx context.Context, audioBase64, mimeType, prompt string) (string, error) {
	c.mu.Lock()
	c.calls++
	n := c.calls
	gate := c.gate
	c.mu.Unlock()

	if gate != nil {
		<-gate
	}

	return "[Speaker 1]: This is transcribed chunk number " + string(rune('0'+n)) + " of the session.", nil
}

func (c *countingTranscriber) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type stubSummarizer struct {
	mu     sync.Mutex
	called bool
	fail   bool
}

func (s *stubSummarizer) Summarize(ctx context.Context, transcript string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.called = true
	if s.fail {
		return "", errors.New("summarizer unavailable")
	}
	return "A short meeting about the transcribed chunks.", nil
}

func (s *stubSummarizer) Called() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.called
}

type testEnv struct {
	registry    *Registry
	frags       *fragstore.Store
	db          *store.Store
	transcriber *countingTranscriber
	summarizer  *stubSummarizer
	hub         *fanout.Hub
	fragRoot    string
	dbPath      string
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// createTestEnv wires a registry against a temp fragment root, a sqlite
// file, a stitcher whose tool binary does not exist (every batch falls
// back to passthrough), and stub upstream clients.
func createTestEnv(t *testing.T, chunkPeriod time.Duration) *testEnv {
	t.Helper()

	fragRoot := filepath.Join(t.TempDir(), "sessions")
	dbPath := filepath.Join(t.TempDir(), "test.db")

	return createTestEnvAt(t, chunkPeriod, fragRoot, dbPath)
}

func createTestEnvAt(t *testing.T, chunkPeriod time.Duration, fragRoot, dbPath string) *testEnv {
	t.Helper()

	logger := testLogger()

	frags, err := fragstore.New(fragRoot, 7*24*time.Hour, time.Hour, logger)
	if err != nil {
		t.Fatalf("Failed to create fragment store: %v", err)
	}
	t.Cleanup(frags.Close)

	db, err := store.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}

	stitcher := stitch.New(stitch.Config{
		FFmpegPath:       "/nonexistent/ffmpeg",
		ToolTimeout:      time.Second,
		GraphToolTimeout: 2 * time.Second,
		StdoutMaxBytes:   10 << 20,
	}, logger)

	transcriber := &countingTranscriber{}
	gateway := transcription.NewGateway(transcriber, transcription.GatewayConfig{
		MaxAttempts:   3,
		RetryBase:     time.Millisecond,
		ContextChunks: 5,
		ContextChars:  500,
	}, logger)

	summarizer := &stubSummarizer{}
	hub := fanout.NewHub(logger)

	registry := NewRegistry(Config{
		ChunkPeriod:      chunkPeriod,
		MinFragmentBytes: 1024,
		MinStitchBytes:   4096,
		MaxSessionBytes:  1 << 20,
		SilenceEnergy:    0.02,
		SilenceMaxBytes:  40960,
	}, frags, db, stitcher, gateway, summarizer, hub, nil, logger)

	return &testEnv{
		registry:    registry,
		frags:       frags,
		db:          db,
		transcriber: transcriber,
		summarizer:  summarizer,
		hub:         hub,
		fragRoot:    fragRoot,
		dbPath:      dbPath,
	}
}

func energyOf(v float64) *float64 {
	return &v
}

// feedFragments pushes n fragments of the given size and energy
func feedFragments(t *testing.T, env *testEnv, sessionID string, n, size int, energy float64) {
	t.Helper()

	payload := bytes.Repeat([]byte{0xC3}, size)
	for i := 0; i < n; i++ {
		if err := env.registry.AddFragment(sessionID, payload, "audio/webm;codecs=opus", energyOf(energy), ""); err != nil {
			t.Fatalf("AddFragment %d failed: %v", i, err)
		}
	}
}

// tick runs one pipeline cycle synchronously
func tick(t *testing.T, env *testEnv, sessionID string) {
	t.Helper()

	s, ok := env.registry.get(sessionID)
	if !ok {
		t.Fatalf("Session %s not in registry", sessionID)
	}
	s.pipeMu.Lock()
	env.registry.processBatch(s)
	s.pipeMu.Unlock()
}

func TestInitializeSession(t *testing.T) {
	env := createTestEnv(t, time.Hour)

	if err := env.registry.InitializeSession("sess-1", "user-1", "Test"); err != nil {
		t.Fatalf("InitializeSession failed: %v", err)
	}

	if env.registry.ActiveCount() != 1 {
		t.Errorf("Expected 1 active session, got %d", env.registry.ActiveCount())
	}

	row, err := env.db.GetSession("sess-1")
	if err != nil {
		t.Fatalf("Session row missing: %v", err)
	}
	if row.Status != "recording" {
		t.Errorf("Expected recording status, got %s", row.Status)
	}
}

func TestInitializeSessionRejectsCollision(t *testing.T) {
	env := createTestEnv(t, time.Hour)

	env.registry.InitializeSession("sess-1", "user-1", "")
	err := env.registry.InitializeSession("sess-1", "user-2", "")
	if !errors.Is(err, ErrBadState) {
		t.Fatalf("Expected ErrBadState for colliding ID, got %v", err)
	}
}

func TestAddFragmentUnknownSession(t *testing.T) {
	env := createTestEnv(t, time.Hour)

	err := env.registry.AddFragment("ghost", []byte("data"), "audio/webm", nil, "")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func TestAddFragmentDropsSmallPayloads(t *testing.T) {
	env := createTestEnv(t, time.Hour)
	env.registry.InitializeSession("sess-1", "user-1", "")

	if err := env.registry.AddFragment("sess-1", []byte("tiny"), "audio/webm", nil, ""); err != nil {
		t.Fatalf("Small fragment must be dropped silently: %v", err)
	}

	info, _ := env.registry.GetSessionInfo("sess-1")
	if info.PendingFragments != 0 {
		t.Errorf("Expected 0 pending fragments, got %d", info.PendingFragments)
	}
	if info.LifetimeBytes != 0 {
		t.Errorf("Dropped fragment must not count against the cap, got %d", info.LifetimeBytes)
	}
}

func TestAddFragmentEnforcesCap(t *testing.T) {
	env := createTestEnv(t, time.Hour)
	env.registry.InitializeSession("sess-1", "user-1", "")

	// Cap is 1 MiB; feed 256 KiB fragments until rejection.
	payload := bytes.Repeat([]byte{1}, 256<<10)
	var overflowed bool
	for i := 0; i < 8; i++ {
		err := env.registry.AddFragment("sess-1", payload, "audio/webm", nil, "")
		if errors.Is(err, audio.ErrBufferOverflow) {
			overflowed = true
			break
		}
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
	}
	if !overflowed {
		t.Fatal("Expected ErrBufferOverflow before 2 MiB was accepted")
	}

	// The session survives the overflow: earlier fragments still stitch.
	tick(t, env, "sess-1")
	count, _ := env.db.ChunkCount("sess-1")
	if count != 1 {
		t.Errorf("Expected 1 chunk from pre-overflow fragments, got %d", count)
	}
}

func TestTickProducesChunkAndFanout(t *testing.T) {
	env := createTestEnv(t, time.Hour)
	env.registry.InitializeSession("sess-1", "user-1", "")

	sub := &recordingSubscriber{}
	env.hub.Subscribe("sess-1", "viewer", sub)

	feedFragments(t, env, "sess-1", 4, 4096, 0.3)
	tick(t, env, "sess-1")

	chunks, err := env.db.ListChunks("sess-1")
	if err != nil {
		t.Fatalf("ListChunks failed: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("Expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].ChunkIndex != 0 {
		t.Errorf("Expected chunk index 0, got %d", chunks[0].ChunkIndex)
	}
	if chunks[0].Confidence == nil || *chunks[0].Confidence < 0.299 || *chunks[0].Confidence > 0.301 {
		t.Errorf("Expected confidence about 0.3, got %v", chunks[0].Confidence)
	}

	updates := sub.liveUpdates()
	if len(updates) != 1 {
		t.Fatalf("Expected 1 live update, got %d", len(updates))
	}
	if updates[0].NewChunk.ChunkIndex != 0 || updates[0].NewChunk.Text != chunks[0].Text {
		t.Error("Live update must match the persisted chunk row")
	}

	// Consumed fragment files are removed.
	listed, _ := env.frags.List("sess-1")
	if len(listed) != 0 {
		t.Errorf("Expected fragment files removed after stitch, got %d", len(listed))
	}
}

func TestSchedulerTickFires(t *testing.T) {
	env := createTestEnv(t, 100*time.Millisecond)
	env.registry.InitializeSession("sess-1", "user-1", "")

	feedFragments(t, env, "sess-1", 4, 4096, 0.3)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if count, _ := env.db.ChunkCount("sess-1"); count == 1 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}

	t.Fatal("Timer-driven tick did not produce a chunk in time")
}

func TestSilenceGateSkipsBatch(t *testing.T) {
	env := createTestEnv(t, time.Hour)
	env.registry.InitializeSession("sess-1", "user-1", "")

	feedFragments(t, env, "sess-1", 4, 4096, 0.005)
	tick(t, env, "sess-1")

	count, _ := env.db.ChunkCount("sess-1")
	if count != 0 {
		t.Errorf("Expected no chunks for silent batch, got %d", count)
	}
	if env.transcriber.Calls() != 0 {
		t.Errorf("Transcriber must not be called for silent batch, calls=%d", env.transcriber.Calls())
	}

	info, _ := env.registry.GetSessionInfo("sess-1")
	if info.PendingFragments != 0 {
		t.Errorf("Expected buffer drained, pending=%d", info.PendingFragments)
	}
}

func TestTooSmallBatchSkipped(t *testing.T) {
	env := createTestEnv(t, time.Hour)
	env.registry.InitializeSession("sess-1", "user-1", "")

	// One 2 KiB fragment passes the fragment gate but not the stitch gate.
	feedFragments(t, env, "sess-1", 1, 2048, 0.5)
	tick(t, env, "sess-1")

	count, _ := env.db.ChunkCount("sess-1")
	if count != 0 {
		t.Errorf("Expected no chunks below the stitch size gate, got %d", count)
	}
}

func TestDuplicateBatchSuppressed(t *testing.T) {
	env := createTestEnv(t, time.Hour)
	env.registry.InitializeSession("sess-1", "user-1", "")

	feedFragments(t, env, "sess-1", 4, 4096, 0.3)
	tick(t, env, "sess-1")

	// The exact same payload bytes again: same content hash.
	feedFragments(t, env, "sess-1", 4, 4096, 0.3)
	tick(t, env, "sess-1")

	chunks, _ := env.db.ListChunks("sess-1")
	if len(chunks) != 1 {
		t.Fatalf("Expected duplicate batch suppressed, got %d chunks", len(chunks))
	}
	if chunks[0].ChunkIndex != 0 {
		t.Errorf("Chunk indices must remain 0..0, got %d", chunks[0].ChunkIndex)
	}
}

func TestPauseBlocksTicksIngestContinues(t *testing.T) {
	env := createTestEnv(t, time.Hour)
	env.registry.InitializeSession("sess-1", "user-1", "")

	if err := env.registry.Pause("sess-1"); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}

	row, _ := env.db.GetSession("sess-1")
	if row.Status != "paused" {
		t.Errorf("Expected persisted paused state, got %s", row.Status)
	}

	// Ingest keeps working while paused.
	feedFragments(t, env, "sess-1", 4, 4096, 0.3)

	// A stray scheduler tick observes the paused state and does nothing.
	env.registry.onTick("sess-1")

	count, _ := env.db.ChunkCount("sess-1")
	if count != 0 {
		t.Errorf("Expected no chunks while paused, got %d", count)
	}

	info, _ := env.registry.GetSessionInfo("sess-1")
	if info.PendingFragments != 4 {
		t.Errorf("Expected 4 buffered fragments, got %d", info.PendingFragments)
	}

	if err := env.registry.Resume("sess-1"); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	tick(t, env, "sess-1")

	count, _ = env.db.ChunkCount("sess-1")
	if count != 1 {
		t.Errorf("Expected buffered fragments consumed after resume, got %d chunks", count)
	}
}

func TestPauseResumeStateChecks(t *testing.T) {
	env := createTestEnv(t, time.Hour)
	env.registry.InitializeSession("sess-1", "user-1", "")

	if err := env.registry.Resume("sess-1"); !errors.Is(err, ErrBadState) {
		t.Errorf("Resume while recording must fail, got %v", err)
	}

	env.registry.Pause("sess-1")
	if err := env.registry.Pause("sess-1"); !errors.Is(err, ErrBadState) {
		t.Errorf("Pause while paused must fail, got %v", err)
	}
}
