package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Queue    QueueConfig    `yaml:"queue"`
	Telegram TelegramConfig `yaml:"telegram"`
	Audio    AudioConfig    `yaml:"audio"`
	ASR      ASRConfig      `yaml:"asr"`
	Expense  ExpenseConfig  `yaml:"expense"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// WebhookMode selects how the webhook endpoint answers.
const (
	// WebhookModeAck acknowledges immediately; the transcript arrives
	// asynchronously via the reply dispatcher.
	WebhookModeAck = "ack"
	// WebhookModeSync blocks (up to sync_timeout) until the job
	// finishes and returns the transcript in the HTTP response.
	WebhookModeSync = "sync"
)

// Transcription backends.
const (
	ASREngineLocal  = "local"
	ASREngineRemote = "remote"
)

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port        int    `yaml:"port"`
	Address     string `yaml:"address"`
	WebhookPath string `yaml:"webhook_path"`
	WebhookMode string `yaml:"webhook_mode"`
	SyncTimeout int    `yaml:"sync_timeout"` // seconds, sync mode only
}

// QueueConfig contains job scheduler configuration
type QueueConfig struct {
	Capacity          int `yaml:"capacity"`
	Workers           int `yaml:"workers"`
	FetchTimeout      int `yaml:"fetch_timeout"`      // seconds
	DecodeTimeout     int `yaml:"decode_timeout"`     // seconds
	TranscribeTimeout int `yaml:"transcribe_timeout"` // seconds
	DeliverTimeout    int `yaml:"deliver_timeout"`    // seconds
	JobRetention      int `yaml:"job_retention"`      // seconds
}

// TelegramConfig contains messaging platform configuration. The bot
// token is never read from the YAML file; it comes from the
// TELEGRAM_BOT_TOKEN environment variable.
type TelegramConfig struct {
	Token          string `yaml:"-"`
	APIEndpoint    string `yaml:"api_endpoint"`
	FileEndpoint   string `yaml:"file_endpoint"`
	RequestTimeout int    `yaml:"request_timeout"` // seconds
	FetchRetries   int    `yaml:"fetch_retries"`
	DeliverRetries int    `yaml:"deliver_retries"`
}

// AudioConfig contains format normalization parameters
type AudioConfig struct {
	FFmpegPath     string `yaml:"ffmpeg_path"`
	SampleRate     int    `yaml:"sample_rate"`
	Channels       int    `yaml:"channels"`
	BitDepth       int    `yaml:"bit_depth"`
	MaxDurationSec int    `yaml:"max_duration"` // seconds of decoded audio accepted
}

// ASRConfig contains speech recognition engine configuration
type ASRConfig struct {
	Engine   string          `yaml:"engine"` // "local" or "remote"
	Language string          `yaml:"language"`
	Local    LocalASRConfig  `yaml:"local"`
	Remote   RemoteASRConfig `yaml:"remote"`
}

// LocalASRConfig configures the whisper.cpp subprocess engine
type LocalASRConfig struct {
	BinaryPath string `yaml:"binary_path"`
	ModelPath  string `yaml:"model_path"`
}

// RemoteASRConfig configures the HTTP transcription API engine
type RemoteASRConfig struct {
	Endpoint      string `yaml:"endpoint"`
	APIKey        string `yaml:"-"`       // ASR_API_KEY environment variable
	Timeout       int    `yaml:"timeout"` // seconds
	MaxRetries    int    `yaml:"max_retries"`
	MaxConcurrent int    `yaml:"max_concurrent"`
}

// ExpenseConfig controls parsing of transcripts into expense entries
type ExpenseConfig struct {
	Enabled    bool   `yaml:"enabled"`
	LedgerPath string `yaml:"ledger_path"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file, then applies
// environment overrides: TELEGRAM_BOT_TOKEN (required), ASR_API_KEY
// (remote engine only), and PORT (the hosting environment assigns the
// listen port at startup).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config.Telegram.Token = os.Getenv("TELEGRAM_BOT_TOKEN")
	config.ASR.Remote.APIKey = os.Getenv("ASR_API_KEY")

	if portEnv := os.Getenv("PORT"); portEnv != "" {
		port, err := strconv.Atoi(portEnv)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT environment variable %q: %w", portEnv, err)
		}
		config.Server.Port = port
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

	if err := c.Queue.Validate(); err != nil {
		return fmt.Errorf("queue config: %w", err)
	}

	if err := c.Telegram.Validate(); err != nil {
		return fmt.Errorf("telegram config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.ASR.Validate(); err != nil {
		return fmt.Errorf("asr config: %w", err)
	}

	if err := c.Expense.Validate(); err != nil {
		return fmt.Errorf("expense config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}

	if s.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	if s.WebhookPath == "" || s.WebhookPath[0] != '/' {
		return fmt.Errorf("webhook_path must start with '/', got %q", s.WebhookPath)
	}

	if s.WebhookMode != WebhookModeAck && s.WebhookMode != WebhookModeSync {
		return fmt.Errorf("webhook_mode must be '%s' or '%s', got '%s'", WebhookModeAck, WebhookModeSync, s.WebhookMode)
	}

	if s.WebhookMode == WebhookModeSync && s.SyncTimeout < 1 {
		return fmt.Errorf("sync_timeout must be at least 1 second in sync mode, got %d", s.SyncTimeout)
	}

	return nil
}

// Validate validates queue configuration
func (q *QueueConfig) Validate() error {
	if q.Capacity < 1 {
		return fmt.Errorf("capacity must be at least 1, got %d", q.Capacity)
	}

	if q.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", q.Workers)
	}

	for name, v := range map[string]int{
		"fetch_timeout":      q.FetchTimeout,
		"decode_timeout":     q.DecodeTimeout,
		"transcribe_timeout": q.TranscribeTimeout,
		"deliver_timeout":    q.DeliverTimeout,
	} {
		if v < 1 {
			return fmt.Errorf("%s must be at least 1 second, got %d", name, v)
		}
	}

	if q.JobRetention < 1 {
		return fmt.Errorf("job_retention must be at least 1 second, got %d", q.JobRetention)
	}

	return nil
}

// Validate validates telegram configuration
func (t *TelegramConfig) Validate() error {
	if t.Token == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN environment variable is not set")
	}

	if t.APIEndpoint == "" {
		return fmt.Errorf("api_endpoint cannot be empty")
	}

	if t.FileEndpoint == "" {
		return fmt.Errorf("file_endpoint cannot be empty")
	}

	if t.RequestTimeout < 1 {
		return fmt.Errorf("request_timeout must be at least 1 second, got %d", t.RequestTimeout)
	}

	if t.FetchRetries < 0 || t.FetchRetries > 5 {
		return fmt.Errorf("fetch_retries must be between 0 and 5, got %d", t.FetchRetries)
	}

	if t.DeliverRetries < 0 || t.DeliverRetries > 5 {
		return fmt.Errorf("deliver_retries must be between 0 and 5, got %d", t.DeliverRetries)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.FFmpegPath == "" {
		return fmt.Errorf("ffmpeg_path cannot be empty")
	}

	if a.SampleRate != 16000 {
		return fmt.Errorf("sample_rate must be 16000 Hz for the speech model, got %d", a.SampleRate)
	}

	if a.Channels != 1 {
		return fmt.Errorf("channels must be 1 (mono) for the speech model, got %d", a.Channels)
	}

	if a.BitDepth != 16 {
		return fmt.Errorf("bit_depth must be 16, got %d", a.BitDepth)
	}

	if a.MaxDurationSec < 1 {
		return fmt.Errorf("max_duration must be at least 1 second, got %d", a.MaxDurationSec)
	}

	return nil
}

// Validate validates ASR configuration
func (a *ASRConfig) Validate() error {
	switch a.Engine {
	case ASREngineLocal:
		if a.Local.BinaryPath == "" {
			return fmt.Errorf("local.binary_path cannot be empty")
		}
		if a.Local.ModelPath == "" {
			return fmt.Errorf("local.model_path cannot be empty")
		}
	case ASREngineRemote:
		if a.Remote.Endpoint == "" {
			return fmt.Errorf("remote.endpoint cannot be empty")
		}
		if a.Remote.APIKey == "" {
			return fmt.Errorf("ASR_API_KEY environment variable is not set")
		}
		if a.Remote.Timeout < 1 {
			return fmt.Errorf("remote.timeout must be at least 1 second, got %d", a.Remote.Timeout)
		}
		if a.Remote.MaxRetries < 0 {
			return fmt.Errorf("remote.max_retries cannot be negative, got %d", a.Remote.MaxRetries)
		}
		if a.Remote.MaxConcurrent < 1 {
			return fmt.Errorf("remote.max_concurrent must be at least 1, got %d", a.Remote.MaxConcurrent)
		}
	default:
		return fmt.Errorf("engine must be 'local' or 'remote', got '%s'", a.Engine)
	}

	return nil
}

// Validate validates expense configuration
func (e *ExpenseConfig) Validate() error {
	if e.Enabled && e.LedgerPath == "" {
		return fmt.Errorf("ledger_path cannot be empty when expense parsing is enabled")
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

// GetSyncTimeout returns the sync-mode wait budget as a time.Duration
func (s *ServerConfig) GetSyncTimeout() time.Duration {
	return time.Duration(s.SyncTimeout) * time.Second
}

// GetFetchTimeout returns the fetch stage budget as a time.Duration
func (q *QueueConfig) GetFetchTimeout() time.Duration {
	return time.Duration(q.FetchTimeout) * time.Second
}

// GetDecodeTimeout returns the decode stage budget as a time.Duration
func (q *QueueConfig) GetDecodeTimeout() time.Duration {
	return time.Duration(q.DecodeTimeout) * time.Second
}

// GetTranscribeTimeout returns the transcribe stage budget as a time.Duration
func (q *QueueConfig) GetTranscribeTimeout() time.Duration {
	return time.Duration(q.TranscribeTimeout) * time.Second
}

// GetDeliverTimeout returns the deliver stage budget as a time.Duration
func (q *QueueConfig) GetDeliverTimeout() time.Duration {
	return time.Duration(q.DeliverTimeout) * time.Second
}

// GetJobRetention returns the finished-job retention window as a time.Duration
func (q *QueueConfig) GetJobRetention() time.Duration {
	return time.Duration(q.JobRetention) * time.Second
}

// GetRequestTimeout returns the per-request timeout as a time.Duration
func (t *TelegramConfig) GetRequestTimeout() time.Duration {
	return time.Duration(t.RequestTimeout) * time.Second
}

// GetMaxDuration returns the accepted audio length as a time.Duration
func (a *AudioConfig) GetMaxDuration() time.Duration {
	return time.Duration(a.MaxDurationSec) * time.Second
}

// GetTimeout returns the remote engine request timeout as a time.Duration
func (r *RemoteASRConfig) GetTimeout() time.Duration {
	return time.Duration(r.Timeout) * time.Second
}
