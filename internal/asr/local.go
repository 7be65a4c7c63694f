package asr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/atcovolan/gastos-telegram-bot/internal/audio"
	"github.com/atcovolan/gastos-telegram-bot/internal/pipeline"
)

// commandRunner abstracts subprocess execution for testability.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// LocalConfig configures the whisper.cpp subprocess engine
type LocalConfig struct {
	BinaryPath string
	ModelPath  string
	SampleRate int
}

// LocalEngine runs whisper.cpp against one shared model. The model file
// is verified exactly once on first use; inference runs are serialized
// because a single model instance is not assumed safe for overlapping
// calls.
type LocalEngine struct {
	config   LocalConfig
	logger   *slog.Logger
	runner   commandRunner
	lookPath func(file string) (string, error)

	loadOnce sync.Once
	loadErr  error

	mu sync.Mutex
}

// NewLocalEngine creates a local engine. The model is not touched until
// the first Transcribe call, so process start stays cheap.
func NewLocalEngine(config LocalConfig, logger *slog.Logger) *LocalEngine {
	return &LocalEngine{
		config:   config,
		logger:   logger,
		runner:   execRunner{},
		lookPath: exec.LookPath,
	}
}

// ensureModel performs the at-most-once model availability check.
func (e *LocalEngine) ensureModel() error {
	e.loadOnce.Do(func() {
		start := time.Now()

		info, err := os.Stat(e.config.ModelPath)
		if err != nil {
			e.loadErr = fmt.Errorf("cannot access model file %s: %w", e.config.ModelPath, err)
			return
		}
		if info.IsDir() {
			e.loadErr = fmt.Errorf("model path %s is a directory", e.config.ModelPath)
			return
		}

		if _, err := e.lookPath(e.config.BinaryPath); err != nil {
			e.loadErr = fmt.Errorf("cannot find inference binary %s: %w", e.config.BinaryPath, err)
			return
		}

		e.logger.Info("Speech model ready",
			slog.String("model_path", e.config.ModelPath),
			slog.Int64("model_bytes", info.Size()),
			slog.Duration("warmup", time.Since(start)),
		)
	})

	return e.loadErr
}

// Transcribe converts PCM audio to text through the whisper.cpp CLI.
func (e *LocalEngine) Transcribe(ctx context.Context, pcm []byte, language string) (string, error) {
	if err := e.ensureModel(); err != nil {
		return "", pipeline.Wrap(pipeline.StageTranscribe, pipeline.KindModelNotLoaded, err,
			"speech model unavailable")
	}

	wav, err := audio.EncodeWAV(pcm, e.config.SampleRate, 1)
	if err != nil {
		return "", pipeline.Wrap(pipeline.StageTranscribe, pipeline.KindInternal, err,
			"failed to stage audio for inference")
	}

	// One model instance, one inference at a time.
	e.mu.Lock()
	defer e.mu.Unlock()

	tempDir, err := os.MkdirTemp("", "gastos-asr-*")
	if err != nil {
		return "", pipeline.Wrap(pipeline.StageTranscribe, pipeline.KindInternal, err,
			"failed to create inference workspace")
	}
	defer os.RemoveAll(tempDir)

	wavPath := filepath.Join(tempDir, "input.wav")
	if err := os.WriteFile(wavPath, wav, 0600); err != nil {
		return "", pipeline.Wrap(pipeline.StageTranscribe, pipeline.KindInternal, err,
			"failed to write inference input")
	}

	outBase := filepath.Join(tempDir, "transcript")
	args := buildWhisperArgs(e.config.ModelPath, wavPath, outBase, language)

	start := time.Now()
	_, stderr, runErr := e.runner.Run(ctx, e.config.BinaryPath, args...)
	if runErr != nil {
		return "", e.classify(ctx, runErr, stderr)
	}

	text, err := os.ReadFile(outBase + ".txt")
	if err != nil {
		return "", pipeline.Wrap(pipeline.StageTranscribe, pipeline.KindInternal, err,
			"inference finished but produced no transcript file")
	}

	transcript := strings.TrimSpace(string(text))
	e.logger.Debug("Inference finished",
		slog.Int("pcm_bytes", len(pcm)),
		slog.Int("transcript_chars", len(transcript)),
		slog.Duration("inference_time", time.Since(start)),
	)

	return transcript, nil
}

func (e *LocalEngine) classify(ctx context.Context, err error, stderr []byte) error {
	if ctx.Err() != nil {
		return pipeline.Wrap(pipeline.StageTranscribe, pipeline.KindTimeout, ctx.Err(),
			"inference exceeded its time budget")
	}

	if errors.Is(err, exec.ErrNotFound) {
		return pipeline.Wrap(pipeline.StageTranscribe, pipeline.KindModelNotLoaded, err,
			fmt.Sprintf("inference binary %q not found", e.config.BinaryPath))
	}

	msg := strings.ToLower(string(stderr))
	if strings.Contains(msg, "out of memory") || strings.Contains(msg, "failed to allocate") {
		return pipeline.Wrap(pipeline.StageTranscribe, pipeline.KindOutOfMemory, err,
			"inference ran out of memory")
	}
	if strings.Contains(msg, "failed to load model") || strings.Contains(msg, "invalid model") {
		return pipeline.Wrap(pipeline.StageTranscribe, pipeline.KindModelNotLoaded, err,
			"inference binary rejected the model file")
	}

	return pipeline.Wrap(pipeline.StageTranscribe, pipeline.KindInternal, err,
		"inference failed")
}

// buildWhisperArgs builds whisper.cpp args for txt transcript export.
func buildWhisperArgs(modelPath, audioPath, outBase, language string) []string {
	args := []string{
		"-m", modelPath,
		"-f", audioPath,
		"-of", outBase,
		"-otxt",
		"-np",
	}

	if lang := strings.TrimSpace(strings.ToLower(language)); lang != "" {
		args = append(args, "-l", lang)
	}

	return args
}
