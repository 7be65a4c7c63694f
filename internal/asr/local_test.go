package asr

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/atcovolan/gastos-telegram-bot/internal/pipeline"
)

// fakeWhisper pretends to be the whisper.cpp binary: it writes the
// transcript file named by the -of argument.
type fakeWhisper struct {
	transcript string
	stderr     string
	err        error

	calls    int
	gotArgs  []string
	skipFile bool
}

func (f *fakeWhisper) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	f.calls++
	f.gotArgs = args

	if f.err != nil {
		return nil, []byte(f.stderr), f.err
	}

	if !f.skipFile {
		for i := 0; i < len(args)-1; i++ {
			if args[i] == "-of" {
				if err := os.WriteFile(args[i+1]+".txt", []byte(f.transcript), 0600); err != nil {
					return nil, nil, err
				}
			}
		}
	}

	return nil, nil, nil
}

func testLocalEngine(t *testing.T, runner commandRunner) *LocalEngine {
	t.Helper()

	modelPath := filepath.Join(t.TempDir(), "ggml-tiny.bin")
	if err := os.WriteFile(modelPath, []byte("model weights"), 0600); err != nil {
		t.Fatalf("failed to create model file: %v", err)
	}

	e := NewLocalEngine(LocalConfig{
		BinaryPath: "whisper.cpp",
		ModelPath:  modelPath,
		SampleRate: 16000,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	e.runner = runner
	e.lookPath = func(string) (string, error) { return "/usr/local/bin/whisper.cpp", nil }
	return e
}

func TestLocalTranscribe(t *testing.T) {
	runner := &fakeWhisper{transcript: "  quinhentos reais padaria nubank \n"}
	e := testLocalEngine(t, runner)

	pcm := make([]byte, 32000)
	text, err := e.Transcribe(context.Background(), pcm, "pt")
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}

	if text != "quinhentos reais padaria nubank" {
		t.Errorf("transcript = %q, want trimmed text", text)
	}

	// Language hint must reach the CLI.
	found := false
	for i := 0; i < len(runner.gotArgs)-1; i++ {
		if runner.gotArgs[i] == "-l" && runner.gotArgs[i+1] == "pt" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected -l pt in args, got %v", runner.gotArgs)
	}
}

func TestLocalModelMissing(t *testing.T) {
	e := NewLocalEngine(LocalConfig{
		BinaryPath: "whisper.cpp",
		ModelPath:  filepath.Join(t.TempDir(), "does-not-exist.bin"),
		SampleRate: 16000,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	e.runner = &fakeWhisper{}
	e.lookPath = func(string) (string, error) { return "", nil }

	_, err := e.Transcribe(context.Background(), make([]byte, 320), "pt")
	if pipeline.KindOf(err) != pipeline.KindModelNotLoaded {
		t.Errorf("expected model_not_loaded, got %v", err)
	}

	// The failed check must stick: the model is probed at most once.
	_, err2 := e.Transcribe(context.Background(), make([]byte, 320), "pt")
	if pipeline.KindOf(err2) != pipeline.KindModelNotLoaded {
		t.Errorf("expected sticky model_not_loaded, got %v", err2)
	}
}

func TestLocalTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := &fakeWhisper{err: errors.New("signal: killed")}
	e := testLocalEngine(t, runner)

	_, err := e.Transcribe(ctx, make([]byte, 320), "pt")
	if pipeline.KindOf(err) != pipeline.KindTimeout {
		t.Errorf("expected timeout, got %v", err)
	}
}

func TestLocalOutOfMemory(t *testing.T) {
	runner := &fakeWhisper{err: errors.New("exit status 1"), stderr: "ggml_aligned_malloc: failed to allocate 4096 MB"}
	e := testLocalEngine(t, runner)

	_, err := e.Transcribe(context.Background(), make([]byte, 320), "pt")
	if pipeline.KindOf(err) != pipeline.KindOutOfMemory {
		t.Errorf("expected out_of_memory, got %v", err)
	}
}

func TestLocalMissingTranscriptFile(t *testing.T) {
	runner := &fakeWhisper{skipFile: true}
	e := testLocalEngine(t, runner)

	_, err := e.Transcribe(context.Background(), make([]byte, 320), "pt")
	if err == nil {
		t.Fatal("expected error when transcript file is missing")
	}
	if pipeline.StageOf(err) != pipeline.StageTranscribe {
		t.Errorf("expected transcribe stage error, got %v", err)
	}
}

func TestLocalEmptyPCMRejected(t *testing.T) {
	e := testLocalEngine(t, &fakeWhisper{})

	_, err := e.Transcribe(context.Background(), nil, "pt")
	if err == nil {
		t.Fatal("expected error for empty PCM input")
	}
}
