package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Audio         AudioConfig         `yaml:"audio"`
	Stitcher      StitcherConfig      `yaml:"stitcher"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Summary       SummaryConfig       `yaml:"summary"`
	Storage       StorageConfig       `yaml:"storage"`
	Database      DatabaseConfig      `yaml:"database"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ServerConfig contains websocket and ops HTTP server configuration
type ServerConfig struct {
	WSPort       int    `yaml:"ws_port"`
	HTTPPort     int    `yaml:"http_port"`
	BindAddress  string `yaml:"bind_address"`
	PingInterval int    `yaml:"ping_interval"` // seconds
	HTTPEnabled  bool   `yaml:"http_enabled"`
}

// AudioConfig contains ingest and chunking parameters
type AudioConfig struct {
	ChunkPeriod      float64 `yaml:"chunk_period"`       // seconds between pipeline ticks
	MinFragmentBytes int     `yaml:"min_fragment_bytes"` // fragments below this are dropped
	MinStitchBytes   int     `yaml:"min_stitch_bytes"`   // batches below this are skipped
	MaxSessionBytes  int64   `yaml:"max_session_bytes"`  // hard per-session buffer cap
	SilenceEnergy    float64 `yaml:"silence_energy"`     // average energy below this is silence
	SilenceMaxBytes  int     `yaml:"silence_max_bytes"`  // silence gate applies only under this size
}

// StitcherConfig contains external audio tool configuration
type StitcherConfig struct {
	FFmpegPath        string `yaml:"ffmpeg_path"`
	FFprobePath       string `yaml:"ffprobe_path"`
	ToolTimeout       int    `yaml:"tool_timeout"`       // seconds, single-input invocations
	GraphToolTimeout  int    `yaml:"graph_tool_timeout"` // seconds, filter-graph invocations
	StdoutMaxBytes    int    `yaml:"stdout_max_bytes"`
	DebugSaveStitched bool   `yaml:"debug_save_stitched"`
}

// TranscriptionConfig contains transcription gateway configuration
type TranscriptionConfig struct {
	Endpoint      string  `yaml:"endpoint"`
	APIKey        string  `yaml:"api_key"`
	Model         string  `yaml:"model"`
	Timeout       int     `yaml:"timeout"` // seconds
	MaxAttempts   int     `yaml:"max_attempts"`
	RetryBase     float64 `yaml:"retry_base"` // seconds
	ContextChunks int     `yaml:"context_chunks"`
	ContextChars  int     `yaml:"context_chars"`
}

// SummaryConfig contains summarizer configuration
type SummaryConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	Timeout  int    `yaml:"timeout"` // seconds
}

// StorageConfig contains durable fragment store configuration
type StorageConfig struct {
	FragmentRoot  string `yaml:"fragment_root"`
	RetentionDays int    `yaml:"retention_days"`
	SweepInterval int    `yaml:"sweep_interval"` // seconds
}

// DatabaseConfig contains persistent store configuration
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "postgres"
	DSN    string `yaml:"dsn"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Stitcher.Validate(); err != nil {
		return fmt.Errorf("stitcher config: %w", err)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if err := c.Summary.Validate(); err != nil {
		return fmt.Errorf("summary config: %w", err)
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage config: %w", err)
	}

	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.WSPort < 1 || s.WSPort > 65535 {
		return fmt.Errorf("ws_port must be between 1 and 65535, got %d", s.WSPort)
	}

	if s.HTTPEnabled {
		if s.HTTPPort < 1 || s.HTTPPort > 65535 {
			return fmt.Errorf("http_port must be between 1 and 65535, got %d", s.HTTPPort)
		}
	}

	if s.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	if s.PingInterval < 1 {
		return fmt.Errorf("ping_interval must be at least 1 second, got %d", s.PingInterval)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.ChunkPeriod <= 0 {
		return fmt.Errorf("chunk_period must be positive, got %f", a.ChunkPeriod)
	}

	if a.MinFragmentBytes < 0 {
		return fmt.Errorf("min_fragment_bytes cannot be negative, got %d", a.MinFragmentBytes)
	}

	if a.MinStitchBytes < a.MinFragmentBytes {
		return fmt.Errorf("min_stitch_bytes (%d) must be at least min_fragment_bytes (%d)",
			a.MinStitchBytes, a.MinFragmentBytes)
	}

	if a.MaxSessionBytes < int64(a.MinStitchBytes) {
		return fmt.Errorf("max_session_bytes (%d) must be at least min_stitch_bytes (%d)",
			a.MaxSessionBytes, a.MinStitchBytes)
	}

	if a.SilenceEnergy < 0 || a.SilenceEnergy > 1 {
		return fmt.Errorf("silence_energy must be between 0 and 1, got %f", a.SilenceEnergy)
	}

	if a.SilenceMaxBytes < 0 {
		return fmt.Errorf("silence_max_bytes cannot be negative, got %d", a.SilenceMaxBytes)
	}

	return nil
}

// Validate validates stitcher configuration
func (s *StitcherConfig) Validate() error {
	if s.FFmpegPath == "" {
		return fmt.Errorf("ffmpeg_path cannot be empty")
	}

	if s.ToolTimeout < 1 {
		return fmt.Errorf("tool_timeout must be at least 1 second, got %d", s.ToolTimeout)
	}

	if s.GraphToolTimeout < s.ToolTimeout {
		return fmt.Errorf("graph_tool_timeout (%d) must be at least tool_timeout (%d)",
			s.GraphToolTimeout, s.ToolTimeout)
	}

	if s.StdoutMaxBytes < 1024 {
		return fmt.Errorf("stdout_max_bytes must be at least 1024, got %d", s.StdoutMaxBytes)
	}

	return nil
}

// Validate validates transcription configuration
func (t *TranscriptionConfig) Validate() error {
	if t.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if t.APIKey == "" {
		return fmt.Errorf("api_key cannot be empty")
	}

	if t.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
	}

	if t.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1, got %d", t.MaxAttempts)
	}

	if t.RetryBase <= 0 {
		return fmt.Errorf("retry_base must be positive, got %f", t.RetryBase)
	}

	if t.ContextChunks < 0 {
		return fmt.Errorf("context_chunks cannot be negative, got %d", t.ContextChunks)
	}

	if t.ContextChars < 0 {
		return fmt.Errorf("context_chars cannot be negative, got %d", t.ContextChars)
	}

	return nil
}

// Validate validates summary configuration
func (s *SummaryConfig) Validate() error {
	if s.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if s.APIKey == "" {
		return fmt.Errorf("api_key cannot be empty")
	}

	if s.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", s.Timeout)
	}

	return nil
}

// Validate validates storage configuration
func (s *StorageConfig) Validate() error {
	if s.FragmentRoot == "" {
		return fmt.Errorf("fragment_root cannot be empty")
	}

	if s.RetentionDays < 1 {
		return fmt.Errorf("retention_days must be at least 1, got %d", s.RetentionDays)
	}

	if s.SweepInterval < 1 {
		return fmt.Errorf("sweep_interval must be at least 1 second, got %d", s.SweepInterval)
	}

	return nil
}

// Validate validates database configuration
func (d *DatabaseConfig) Validate() error {
	validDrivers := map[string]bool{"sqlite": true, "postgres": true}
	if !validDrivers[d.Driver] {
		return fmt.Errorf("driver must be 'sqlite' or 'postgres', got '%s'", d.Driver)
	}

	if d.DSN == "" {
		return fmt.Errorf("dsn cannot be empty")
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetChunkPeriod returns the pipeline tick period as a time.Duration
func (a *AudioConfig) GetChunkPeriod() time.Duration {
	return time.Duration(a.ChunkPeriod * float64(time.Second))
}

// GetPingInterval returns the websocket ping interval as a time.Duration
func (s *ServerConfig) GetPingInterval() time.Duration {
	return time.Duration(s.PingInterval) * time.Second
}

// GetToolTimeout returns the single-input tool timeout as a time.Duration
func (s *StitcherConfig) GetToolTimeout() time.Duration {
	return time.Duration(s.ToolTimeout) * time.Second
}

// GetGraphToolTimeout returns the filter-graph tool timeout as a time.Duration
func (s *StitcherConfig) GetGraphToolTimeout() time.Duration {
	return time.Duration(s.GraphToolTimeout) * time.Second
}

// GetTimeoutDuration returns the transcription timeout as a time.Duration
func (t *TranscriptionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

// GetRetryBase returns the retry base delay as a time.Duration
func (t *TranscriptionConfig) GetRetryBase() time.Duration {
	return time.Duration(t.RetryBase * float64(time.Second))
}

// GetTimeoutDuration returns the summarizer timeout as a time.Duration
func (s *SummaryConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(s.Timeout) * time.Second
}

// GetRetention returns the on-disk retention window as a time.Duration
func (s *StorageConfig) GetRetention() time.Duration {
	return time.Duration(s.RetentionDays) * 24 * time.Hour
}

// GetSweepInterval returns the retention sweep interval as a time.Duration
func (s *StorageConfig) GetSweepInterval() time.Duration {
	return time.Duration(s.SweepInterval) * time.Second
}
