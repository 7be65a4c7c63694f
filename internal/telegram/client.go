package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/atcovolan/gastos-telegram-bot/internal/metrics"
	"github.com/atcovolan/gastos-telegram-bot/internal/pipeline"
)

// Config contains the platform client configuration
type Config struct {
	Token          string
	APIEndpoint    string
	FileEndpoint   string
	RequestTimeout time.Duration
	FetchRetries   int
	DeliverRetries int
}

// Client talks to the Telegram Bot API: it resolves file references to
// audio bytes (fetcher) and posts replies (dispatcher). Both sides
// retry transient network failures with exponential backoff; everything
// else fails fast.
type Client struct {
	bot        *tgbotapi.BotAPI
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
	config     Config

	// Retry backoff base, shortened in tests.
	backoffUnit time.Duration
}

// New creates a platform client. The underlying library validates the
// token against the API during construction.
func New(config Config, logger *slog.Logger, m *metrics.Metrics) (*Client, error) {
	if config.Token == "" {
		return nil, fmt.Errorf("bot token cannot be empty")
	}

	httpClient := &http.Client{Timeout: config.RequestTimeout}

	bot, err := tgbotapi.NewBotAPIWithClient(config.Token, config.APIEndpoint, httpClient)
	if err != nil {
		return nil, fmt.Errorf("failed to init bot: %w", err)
	}

	logger.Info("Connected to messaging platform",
		slog.String("bot_username", bot.Self.UserName),
	)

	return &Client{
		bot:         bot,
		httpClient:  httpClient,
		logger:      logger,
		metrics:     m,
		config:      config,
		backoffUnit: time.Second,
	}, nil
}

// Fetch resolves a platform file reference to raw audio bytes. Only
// transient network failures are retried.
func (c *Client) Fetch(ctx context.Context, fileID string) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= c.config.FetchRetries; attempt++ {
		if attempt > 0 {
			if c.metrics != nil {
				c.metrics.RecordFetchRetry()
			}
			if err := c.backoff(ctx, attempt); err != nil {
				return nil, pipeline.Wrap(pipeline.StageFetch, pipeline.KindTimeout, err,
					"fetch exceeded its time budget")
			}
		}

		data, err := c.fetchOnce(ctx, fileID)
		if err == nil {
			return data, nil
		}

		lastErr = err

		var se *pipeline.StageError
		if !errors.As(err, &se) || !se.Retryable() {
			break
		}

		c.logger.Warn("Audio fetch failed, will retry",
			slog.String("file_id", fileID),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}

	return nil, lastErr
}

func (c *Client) fetchOnce(ctx context.Context, fileID string) ([]byte, error) {
	file, err := c.bot.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, c.classifyAPIError(ctx, pipeline.StageFetch, err, "file lookup failed")
	}

	if file.FilePath == "" {
		return nil, pipeline.Errorf(pipeline.StageFetch, pipeline.KindNotFound,
			"platform returned no path for file %s", fileID)
	}

	url := fmt.Sprintf(c.config.FileEndpoint, c.config.Token, file.FilePath)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, pipeline.Wrap(pipeline.StageFetch, pipeline.KindInternal, err,
			"failed to build download request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.classifyTransportError(ctx, pipeline.StageFetch, err, "file download failed")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, pipeline.Errorf(pipeline.StageFetch, pipeline.KindNotFound,
			"file %s is gone from the platform", fileID)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, pipeline.Errorf(pipeline.StageFetch, pipeline.KindUnauthorized,
			"platform refused the download (status %d)", resp.StatusCode)
	case resp.StatusCode >= 500:
		return nil, pipeline.Errorf(pipeline.StageFetch, pipeline.KindTransientNetwork,
			"platform file server error (status %d)", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, pipeline.Errorf(pipeline.StageFetch, pipeline.KindInternal,
			"unexpected download status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.classifyTransportError(ctx, pipeline.StageFetch, err, "file download interrupted")
	}

	if len(data) == 0 {
		return nil, pipeline.Errorf(pipeline.StageFetch, pipeline.KindNotFound,
			"platform returned an empty file for %s", fileID)
	}

	return data, nil
}

// Deliver posts a reply envelope back to its chat. Transient failures
// are retried a bounded number of times; exhausting them reports the
// loss without resurrecting the job.
func (c *Client) Deliver(ctx context.Context, env pipeline.ReplyEnvelope) error {
	msg := tgbotapi.NewMessage(env.ChatID, env.Text)
	msg.ReplyToMessageID = env.ReplyToMessageID
	// Transcripts are wrapped in backticks, Markdown renders them as code.
	msg.ParseMode = tgbotapi.ModeMarkdown

	var lastErr error

	for attempt := 0; attempt <= c.config.DeliverRetries; attempt++ {
		if attempt > 0 {
			if c.metrics != nil {
				c.metrics.RecordDeliveryRetry()
			}
			if err := c.backoff(ctx, attempt); err != nil {
				return pipeline.Wrap(pipeline.StageDeliver, pipeline.KindTimeout, err,
					"delivery exceeded its time budget")
			}
		}

		_, err := c.bot.Send(msg)
		if err == nil {
			if c.metrics != nil {
				c.metrics.RecordReplyDelivered()
			}
			return nil
		}

		lastErr = c.classifyAPIError(ctx, pipeline.StageDeliver, err, "reply delivery failed")

		var se *pipeline.StageError
		if !errors.As(lastErr, &se) || !se.Retryable() {
			break
		}
	}

	if c.metrics != nil {
		c.metrics.RecordReplyDropped()
	}

	return lastErr
}

// backoff sleeps for the exponential delay of the given attempt, or
// returns early if the context is done.
func (c *Client) backoff(ctx context.Context, attempt int) error {
	delay := time.Duration(math.Pow(2, float64(attempt-1))) * c.backoffUnit
	if delay > 30*time.Second {
		delay = 30 * time.Second
	}

	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// classifyAPIError maps Bot API failures onto the error taxonomy for
// the given stage.
func (c *Client) classifyAPIError(ctx context.Context, stage pipeline.Stage, err error, msg string) error {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		lower := strings.ToLower(apiErr.Message)
		switch {
		case apiErr.Code == http.StatusNotFound,
			strings.Contains(lower, "not found"),
			strings.Contains(lower, "invalid file"):
			return pipeline.Wrap(stage, pipeline.KindNotFound, err, msg)
		case apiErr.Code == http.StatusUnauthorized, apiErr.Code == http.StatusForbidden:
			return pipeline.Wrap(stage, pipeline.KindUnauthorized, err, msg)
		case apiErr.Code == http.StatusTooManyRequests, apiErr.Code >= 500:
			return pipeline.Wrap(stage, pipeline.KindTransientNetwork, err, msg)
		default:
			return pipeline.Wrap(stage, pipeline.KindInternal, err, msg)
		}
	}

	return c.classifyTransportError(ctx, stage, err, msg)
}

// classifyTransportError maps low-level HTTP transport failures.
func (c *Client) classifyTransportError(ctx context.Context, stage pipeline.Stage, err error, msg string) error {
	if ctx.Err() != nil {
		return pipeline.Wrap(stage, pipeline.KindTimeout, ctx.Err(), msg)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return pipeline.Wrap(stage, pipeline.KindTimeout, err, msg)
	}

	return pipeline.Wrap(stage, pipeline.KindTransientNetwork, err, msg)
}
