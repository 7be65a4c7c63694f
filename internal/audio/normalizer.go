package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/atcovolan/gastos-telegram-bot/internal/pipeline"
)

// commandRunner abstracts subprocess execution so tests can fake ffmpeg.
type commandRunner interface {
	Run(ctx context.Context, stdin []byte, name string, args ...string) (stdout, stderr []byte, err error)
}

// execRunner executes commands via os/exec.
type execRunner struct{}

func (execRunner) Run(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = bytes.NewReader(stdin)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// NormalizerConfig contains format normalization parameters
type NormalizerConfig struct {
	FFmpegPath  string
	SampleRate  int
	Channels    int
	MaxDuration time.Duration
}

// Normalizer converts arbitrary input audio (Telegram voice notes are
// usually OGG/Opus) into the canonical PCM representation the inference
// engine expects: 16 kHz mono signed 16-bit little-endian.
type Normalizer struct {
	config NormalizerConfig
	logger *slog.Logger
	runner commandRunner
}

// NewNormalizer creates a normalizer using the configured ffmpeg binary.
func NewNormalizer(config NormalizerConfig, logger *slog.Logger) *Normalizer {
	return &Normalizer{
		config: config,
		logger: logger,
		runner: execRunner{},
	}
}

// Normalize decodes raw audio bytes into canonical PCM. Failures are
// deterministic for a given input and are never retried.
func (n *Normalizer) Normalize(ctx context.Context, raw []byte) ([]byte, error) {
	if len(raw) == 0 {
		return nil, pipeline.Errorf(pipeline.StageDecode, pipeline.KindCorruptStream, "empty audio input")
	}

	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-i", "pipe:0",
		"-vn",
		"-ac", strconv.Itoa(n.config.Channels),
		"-ar", strconv.Itoa(n.config.SampleRate),
		"-f", "s16le",
		"pipe:1",
	}

	start := time.Now()
	pcm, stderr, err := n.runner.Run(ctx, raw, n.config.FFmpegPath, args...)
	if err != nil {
		return nil, n.classify(ctx, err, stderr)
	}

	if len(pcm) == 0 {
		return nil, pipeline.Errorf(pipeline.StageDecode, pipeline.KindCorruptStream,
			"decoder produced no audio data")
	}

	duration := PCMDuration(pcm, n.config.SampleRate, n.config.Channels)
	if n.config.MaxDuration > 0 && duration > n.config.MaxDuration {
		return nil, pipeline.Errorf(pipeline.StageDecode, pipeline.KindCorruptStream,
			"audio too long: %s exceeds the %s limit", duration.Round(time.Second), n.config.MaxDuration)
	}

	n.logger.Debug("Audio normalized",
		slog.Int("input_bytes", len(raw)),
		slog.Int("pcm_bytes", len(pcm)),
		slog.Duration("audio_duration", duration),
		slog.Duration("decode_time", time.Since(start)),
	)

	return pcm, nil
}

// classify maps an ffmpeg failure onto the decode error taxonomy using
// the exit state and stderr text.
func (n *Normalizer) classify(ctx context.Context, err error, stderr []byte) error {
	if errors.Is(err, exec.ErrNotFound) {
		return pipeline.Wrap(pipeline.StageDecode, pipeline.KindToolUnavailable, err,
			fmt.Sprintf("transcoder binary %q not found", n.config.FFmpegPath))
	}

	if ctx.Err() != nil {
		return pipeline.Wrap(pipeline.StageDecode, pipeline.KindTimeout, ctx.Err(),
			"transcoding exceeded its time budget")
	}

	msg := strings.ToLower(string(stderr))
	switch {
	case strings.Contains(msg, "decoder") && strings.Contains(msg, "not found"),
		strings.Contains(msg, "unknown format"),
		strings.Contains(msg, "invalid data found") && strings.Contains(msg, "header"):
		return pipeline.Wrap(pipeline.StageDecode, pipeline.KindUnsupportedCodec, err,
			firstStderrLine(stderr))
	case strings.Contains(msg, "invalid data"),
		strings.Contains(msg, "corrupt"),
		strings.Contains(msg, "truncat"),
		strings.Contains(msg, "end of file"):
		return pipeline.Wrap(pipeline.StageDecode, pipeline.KindCorruptStream, err,
			firstStderrLine(stderr))
	}

	return pipeline.Wrap(pipeline.StageDecode, pipeline.KindCorruptStream, err,
		"transcoding failed: "+firstStderrLine(stderr))
}

func firstStderrLine(stderr []byte) string {
	line := strings.TrimSpace(string(stderr))
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	if line == "" {
		line = "no decoder diagnostics"
	}
	return line
}
