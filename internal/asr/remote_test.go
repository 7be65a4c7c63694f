package asr

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/atcovolan/gastos-telegram-bot/internal/pipeline"
)

func testRemoteEngine(t *testing.T, endpoint string, maxRetries int) *RemoteEngine {
	t.Helper()

	e, err := NewRemoteEngine(RemoteConfig{
		Endpoint:      endpoint,
		APIKey:        "test-key",
		Timeout:       5 * time.Second,
		MaxRetries:    maxRetries,
		MaxConcurrent: 2,
		SampleRate:    16000,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewRemoteEngine failed: %v", err)
	}
	e.backoffUnit = time.Millisecond
	return e
}

func TestRemoteTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}

		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("failed to parse multipart form: %v", err)
		}

		if got := r.FormValue("language"); got != "pt" {
			t.Errorf("language field = %q, want pt", got)
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("missing file field: %v", err)
		}
		defer file.Close()

		if header.Filename != "audio.wav" {
			t.Errorf("filename = %q", header.Filename)
		}

		wav, _ := io.ReadAll(file)
		if len(wav) < 44 || string(wav[0:4]) != "RIFF" {
			t.Error("uploaded payload is not a WAV container")
		}

		json.NewEncoder(w).Encode(map[string]string{"text": " padaria quinhentos "})
	}))
	defer srv.Close()

	e := testRemoteEngine(t, srv.URL, 0)

	text, err := e.Transcribe(context.Background(), make([]byte, 32000), "pt")
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if text != "padaria quinhentos" {
		t.Errorf("text = %q", text)
	}
}

func TestRemoteRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "upstream overloaded", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"text": "ok"})
	}))
	defer srv.Close()

	e := testRemoteEngine(t, srv.URL, 3)

	text, err := e.Transcribe(context.Background(), make([]byte, 320), "")
	if err != nil {
		t.Fatalf("Transcribe failed after retries: %v", err)
	}
	if text != "ok" {
		t.Errorf("text = %q", text)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestRemoteDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad audio", http.StatusBadRequest)
	}))
	defer srv.Close()

	e := testRemoteEngine(t, srv.URL, 3)

	_, err := e.Transcribe(context.Background(), make([]byte, 320), "")
	if err == nil {
		t.Fatal("expected error for 400 response")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("expected exactly 1 attempt, got %d", got)
	}
}

func TestRemoteUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	e := testRemoteEngine(t, srv.URL, 0)

	_, err := e.Transcribe(context.Background(), make([]byte, 320), "")
	if pipeline.KindOf(err) != pipeline.KindModelNotLoaded {
		t.Errorf("expected model_not_loaded for credential failure, got %v", err)
	}
}

func TestRemoteTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		json.NewEncoder(w).Encode(map[string]string{"text": "late"})
	}))
	defer srv.Close()

	e := testRemoteEngine(t, srv.URL, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := e.Transcribe(ctx, make([]byte, 320), "")
	if pipeline.KindOf(err) != pipeline.KindTimeout {
		t.Errorf("expected timeout kind, got %v", err)
	}
}

func TestNewRemoteEngineValidation(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	if _, err := NewRemoteEngine(RemoteConfig{APIKey: "k"}, logger); err == nil {
		t.Error("expected error for missing endpoint")
	}
	if _, err := NewRemoteEngine(RemoteConfig{Endpoint: "https://x"}, logger); err == nil {
		t.Error("expected error for missing API key")
	}
}
