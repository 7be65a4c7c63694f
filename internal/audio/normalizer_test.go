package audio

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"testing"
	"time"

	"github.com/atcovolan/gastos-telegram-bot/internal/pipeline"
)

type fakeRunner struct {
	stdout []byte
	stderr []byte
	err    error

	gotArgs []string
	gotIn   []byte
}

func (f *fakeRunner) Run(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, []byte, error) {
	f.gotArgs = append([]string{name}, args...)
	f.gotIn = stdin
	return f.stdout, f.stderr, f.err
}

func testNormalizer(runner commandRunner) *Normalizer {
	n := NewNormalizer(NormalizerConfig{
		FFmpegPath:  "ffmpeg",
		SampleRate:  16000,
		Channels:    1,
		MaxDuration: 2 * time.Minute,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	n.runner = runner
	return n
}

func TestNormalizeSuccess(t *testing.T) {
	pcm := make([]byte, 32000) // one second at 16 kHz mono
	runner := &fakeRunner{stdout: pcm}
	n := testNormalizer(runner)

	out, err := n.Normalize(context.Background(), []byte("ogg-bytes"))
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if len(out) != len(pcm) {
		t.Errorf("got %d PCM bytes, want %d", len(out), len(pcm))
	}

	if string(runner.gotIn) != "ogg-bytes" {
		t.Error("input bytes were not piped to the transcoder")
	}

	// The conversion must pin the canonical format.
	want := map[string]bool{"-ar": false, "-ac": false, "s16le": false}
	for _, arg := range runner.gotArgs {
		if _, ok := want[arg]; ok {
			want[arg] = true
		}
	}
	for arg, seen := range want {
		if !seen {
			t.Errorf("expected transcoder argument %q", arg)
		}
	}
}

func TestNormalizeEmptyInput(t *testing.T) {
	n := testNormalizer(&fakeRunner{})

	_, err := n.Normalize(context.Background(), nil)
	if pipeline.KindOf(err) != pipeline.KindCorruptStream {
		t.Errorf("expected corrupt_stream for empty input, got %v", err)
	}
}

func TestNormalizeToolUnavailable(t *testing.T) {
	runner := &fakeRunner{err: exec.ErrNotFound}
	n := testNormalizer(runner)

	_, err := n.Normalize(context.Background(), []byte("x"))
	if pipeline.KindOf(err) != pipeline.KindToolUnavailable {
		t.Errorf("expected tool_unavailable, got %v", err)
	}
	if pipeline.StageOf(err) != pipeline.StageDecode {
		t.Errorf("expected decode stage, got %v", pipeline.StageOf(err))
	}
}

func TestNormalizeClassification(t *testing.T) {
	tests := []struct {
		name   string
		stderr string
		want   pipeline.ErrorKind
	}{
		{"unknown container", "pipe:0: Unknown format", pipeline.KindUnsupportedCodec},
		{"missing decoder", "Decoder (codec opus) not found for input stream", pipeline.KindUnsupportedCodec},
		{"corrupt payload", "Invalid data found when processing input", pipeline.KindCorruptStream},
		{"truncated stream", "Truncating packet of size 412", pipeline.KindCorruptStream},
		{"unclassified", "some other failure", pipeline.KindCorruptStream},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{err: errors.New("exit status 1"), stderr: []byte(tt.stderr)}
			n := testNormalizer(runner)

			_, err := n.Normalize(context.Background(), []byte("x"))
			if pipeline.KindOf(err) != tt.want {
				t.Errorf("kind = %v, want %v (err: %v)", pipeline.KindOf(err), tt.want, err)
			}
		})
	}
}

func TestNormalizeTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := &fakeRunner{err: errors.New("signal: killed")}
	n := testNormalizer(runner)

	_, err := n.Normalize(ctx, []byte("x"))
	if pipeline.KindOf(err) != pipeline.KindTimeout {
		t.Errorf("expected timeout kind, got %v", err)
	}
}

func TestNormalizeTooLong(t *testing.T) {
	// Ten seconds of audio through a normalizer capped at five.
	runner := &fakeRunner{stdout: make([]byte, 320000)}
	n := NewNormalizer(NormalizerConfig{
		FFmpegPath:  "ffmpeg",
		SampleRate:  16000,
		Channels:    1,
		MaxDuration: 5 * time.Second,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	n.runner = runner

	_, err := n.Normalize(context.Background(), []byte("x"))
	if pipeline.KindOf(err) != pipeline.KindCorruptStream {
		t.Errorf("expected rejection of overlong audio, got %v", err)
	}
}
