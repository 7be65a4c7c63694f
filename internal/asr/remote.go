package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/atcovolan/gastos-telegram-bot/internal/audio"
	"github.com/atcovolan/gastos-telegram-bot/internal/pipeline"
)

// RemoteConfig configures the HTTP transcription API engine
type RemoteConfig struct {
	Endpoint      string
	APIKey        string
	Timeout       time.Duration
	MaxRetries    int
	MaxConcurrent int
	SampleRate    int
	Model         string
}

// RemoteEngine sends audio to an external transcription API. In-flight
// requests are capped by a semaphore; transient failures are retried
// with exponential backoff.
type RemoteEngine struct {
	config     RemoteConfig
	logger     *slog.Logger
	httpClient *http.Client
	semaphore  chan struct{}

	// Retry backoff base, shortened in tests.
	backoffUnit time.Duration
}

// remoteResponse is the subset of the API response the pipeline needs.
type remoteResponse struct {
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
}

// httpStatusError keeps the status code available to the retry policy.
type httpStatusError struct {
	status int
	body   string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("HTTP error %d: %s", e.status, e.body)
}

// NewRemoteEngine creates a remote transcription engine
func NewRemoteEngine(config RemoteConfig, logger *slog.Logger) (*RemoteEngine, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.APIKey == "" {
		return nil, fmt.Errorf("API key cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	if config.MaxRetries < 0 {
		config.MaxRetries = 3
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 2
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &RemoteEngine{
		config:      config,
		logger:      logger,
		httpClient:  httpClient,
		semaphore:   make(chan struct{}, config.MaxConcurrent),
		backoffUnit: time.Second,
	}, nil
}

// Transcribe uploads the audio and returns the recognized text.
func (e *RemoteEngine) Transcribe(ctx context.Context, pcm []byte, language string) (string, error) {
	wav, err := audio.EncodeWAV(pcm, e.config.SampleRate, 1)
	if err != nil {
		return "", pipeline.Wrap(pipeline.StageTranscribe, pipeline.KindInternal, err,
			"failed to stage audio for upload")
	}

	// Bounded concurrency toward the API.
	select {
	case e.semaphore <- struct{}{}:
		defer func() { <-e.semaphore }()
	case <-ctx.Done():
		return "", pipeline.Wrap(pipeline.StageTranscribe, pipeline.KindTimeout, ctx.Err(),
			"gave up waiting for an inference slot")
	}

	var lastErr error

	for attempt := 0; attempt <= e.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * e.backoffUnit
			if backoff > 30*time.Second {
				backoff = 30 * time.Second
			}

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", pipeline.Wrap(pipeline.StageTranscribe, pipeline.KindTimeout, ctx.Err(),
					"inference exceeded its time budget")
			}

			e.logger.Debug("Retrying transcription request", slog.Int("attempt", attempt))
		}

		text, err := e.doRequest(ctx, wav, language)
		if err == nil {
			return text, nil
		}

		lastErr = err
		if !isRetryable(err) {
			break
		}
	}

	return "", e.classify(ctx, lastErr)
}

// doRequest performs a single multipart upload to the transcription API.
func (e *RemoteEngine) doRequest(ctx context.Context, wav []byte, language string) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fileWriter, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := fileWriter.Write(wav); err != nil {
		return "", fmt.Errorf("failed to write audio data: %w", err)
	}

	fields := map[string]string{
		"response_format": "json",
	}
	if language != "" {
		fields["language"] = language
	}
	if e.config.Model != "" {
		fields["model"] = e.config.Model
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return "", fmt.Errorf("failed to write field %s: %w", key, err)
		}
	}

	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.Endpoint, &buf)
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	httpReq.Header.Set("Authorization", "Bearer "+e.config.APIKey)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &httpStatusError{status: resp.StatusCode, body: string(respBody)}
	}

	var parsed remoteResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse response JSON: %w", err)
	}

	return strings.TrimSpace(parsed.Text), nil
}

// isRetryable reports whether a failed attempt is worth repeating.
// Server-side trouble and network hiccups are; client errors are not.
func isRetryable(err error) bool {
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		return statusErr.status >= 500 || statusErr.status == http.StatusTooManyRequests
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}

	// Transport-level failures (connection refused, resets, DNS).
	return strings.Contains(err.Error(), "HTTP request failed")
}

func (e *RemoteEngine) classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return pipeline.Wrap(pipeline.StageTranscribe, pipeline.KindTimeout, ctx.Err(),
			"inference exceeded its time budget")
	}

	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		switch statusErr.status {
		case http.StatusUnauthorized, http.StatusForbidden:
			return pipeline.Wrap(pipeline.StageTranscribe, pipeline.KindModelNotLoaded, err,
				"transcription API rejected our credentials")
		case http.StatusInsufficientStorage:
			return pipeline.Wrap(pipeline.StageTranscribe, pipeline.KindOutOfMemory, err,
				"transcription API is out of capacity")
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return pipeline.Wrap(pipeline.StageTranscribe, pipeline.KindTimeout, err,
			"inference exceeded its time budget")
	}

	return pipeline.Wrap(pipeline.StageTranscribe, pipeline.KindInternal, err,
		"remote transcription failed")
}
