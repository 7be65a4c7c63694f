package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/atcovolan/gastos-telegram-bot/internal/asr"
	"github.com/atcovolan/gastos-telegram-bot/internal/config"
	"github.com/atcovolan/gastos-telegram-bot/internal/expense"
	"github.com/atcovolan/gastos-telegram-bot/internal/job"
	"github.com/atcovolan/gastos-telegram-bot/internal/metrics"
	"github.com/atcovolan/gastos-telegram-bot/internal/pipeline"
)

// ErrQueueFull is returned by Submit when the bounded queue has no room.
// The caller should surface backpressure instead of blocking the webhook.
var ErrQueueFull = errors.New("transcription queue is full")

// Fetcher resolves a platform file reference to raw audio bytes.
type Fetcher interface {
	Fetch(ctx context.Context, fileID string) ([]byte, error)
}

// Normalizer converts arbitrary compressed audio into canonical PCM.
type Normalizer interface {
	Normalize(ctx context.Context, raw []byte) ([]byte, error)
}

// Dispatcher posts reply envelopes back to their chat.
type Dispatcher interface {
	Deliver(ctx context.Context, env pipeline.ReplyEnvelope) error
}

// Scheduler owns the bounded job queue and the worker pool that drives
// each job through fetch, decode, transcribe and deliver. One job
// occupies one worker for its whole lifetime, so the pool size caps
// pipeline concurrency.
type Scheduler struct {
	config     *config.QueueConfig
	language   string
	logger     *slog.Logger
	metrics    *metrics.Metrics
	registry   *job.Registry
	fetcher    Fetcher
	normalizer Normalizer
	engine     asr.Engine
	dispatcher Dispatcher
	recorder   expense.Recorder

	// Concurrency management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	jobChan chan *job.Job

	// Basic counters for the stats endpoint
	jobsProcessed uint64
	jobsFailed    uint64
	jobsRejected  uint64
	mu            sync.RWMutex
}

// Dependencies bundles the pipeline stages the scheduler drives.
// Recorder may be nil when expense tracking is disabled.
type Dependencies struct {
	Registry   *job.Registry
	Fetcher    Fetcher
	Normalizer Normalizer
	Engine     asr.Engine
	Dispatcher Dispatcher
	Recorder   expense.Recorder
}

// New creates a scheduler. Start must be called before Submit.
func New(cfg *config.QueueConfig, language string, deps Dependencies, logger *slog.Logger, m *metrics.Metrics) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		config:     cfg,
		language:   language,
		logger:     logger,
		metrics:    m,
		registry:   deps.Registry,
		fetcher:    deps.Fetcher,
		normalizer: deps.Normalizer,
		engine:     deps.Engine,
		dispatcher: deps.Dispatcher,
		recorder:   deps.Recorder,
		ctx:        ctx,
		cancel:     cancel,
		jobChan:    make(chan *job.Job, cfg.Capacity),
	}
}

// Start launches the worker pool.
func (s *Scheduler) Start() {
	for i := 0; i < s.config.Workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.logger.Info("Scheduler started",
		slog.Int("workers", s.config.Workers),
		slog.Int("queue_capacity", s.config.Capacity),
	)
}

// Stop drains the queue and waits for in-flight jobs to finish. Stage
// contexts are cancelled so a stuck subprocess cannot hold shutdown
// hostage.
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping scheduler...")

	s.cancel()
	close(s.jobChan)
	s.wg.Wait()

	s.mu.RLock()
	processed := s.jobsProcessed
	failed := s.jobsFailed
	rejected := s.jobsRejected
	s.mu.RUnlock()

	s.logger.Info("Scheduler stopped",
		slog.Uint64("jobs_processed", processed),
		slog.Uint64("jobs_failed", failed),
		slog.Uint64("jobs_rejected", rejected),
	)
}

// Submit enqueues a job without blocking. A full queue returns
// ErrQueueFull so the webhook can answer with backpressure.
func (s *Scheduler) Submit(j *job.Job) error {
	select {
	case s.jobChan <- j:
		if s.metrics != nil {
			s.metrics.RecordJobSubmitted()
			s.metrics.SetQueueSize(len(s.jobChan))
		}
		return nil
	default:
		s.mu.Lock()
		s.jobsRejected++
		s.mu.Unlock()

		if s.metrics != nil {
			s.metrics.RecordJobRejected()
		}
		s.logger.Warn("Job queue full, rejecting job",
			slog.String("job_id", j.ID),
			slog.Int64("chat_id", j.ChatID),
		)
		return ErrQueueFull
	}
}

// worker pulls jobs off the queue until it is closed.
func (s *Scheduler) worker(workerID int) {
	defer s.wg.Done()

	s.logger.Debug("Worker started", slog.Int("worker_id", workerID))

	for j := range s.jobChan {
		if s.metrics != nil {
			s.metrics.SetQueueSize(len(s.jobChan))
		}
		s.process(j, workerID)
	}

	s.logger.Debug("Worker stopped", slog.Int("worker_id", workerID))
}

// process drives one job through the pipeline. Any stage failure moves
// the job to failed and sends a best-effort error reply.
func (s *Scheduler) process(j *job.Job, workerID int) {
	s.logger.Info("Processing job",
		slog.String("job_id", j.ID),
		slog.Int64("chat_id", j.ChatID),
		slog.Int("declared_duration", j.DurationSec),
		slog.Int("worker_id", workerID),
	)

	raw, err := s.runFetch(j)
	if err != nil {
		s.fail(j, err)
		return
	}

	pcm, err := s.runDecode(j, raw)
	if err != nil {
		s.fail(j, err)
		return
	}

	text, err := s.runTranscribe(j, pcm)
	if err != nil {
		s.fail(j, err)
		return
	}

	if text == "" {
		s.failEmptyTranscript(j)
		return
	}

	if err := s.runDeliver(j, s.composeReply(j, text)); err != nil {
		s.fail(j, err)
		return
	}

	if err := s.registry.Complete(j.ID, text); err != nil {
		s.logger.Error("Failed to finalize job",
			slog.String("job_id", j.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	s.mu.Lock()
	s.jobsProcessed++
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordJobCompleted()
	}

	s.logger.Info("Job completed",
		slog.String("job_id", j.ID),
		slog.Int("transcript_chars", len(text)),
		slog.Int("worker_id", workerID),
	)
}

func (s *Scheduler) runFetch(j *job.Job) ([]byte, error) {
	if err := s.registry.Transition(j.ID, job.StatusFetching); err != nil {
		return nil, pipeline.Wrap(pipeline.StageFetch, pipeline.KindInternal, err, "job left the queue in a bad state")
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.config.GetFetchTimeout())
	defer cancel()

	start := time.Now()
	raw, err := s.fetcher.Fetch(ctx, j.FileID)
	s.observeStage(pipeline.StageFetch, start)
	if err != nil {
		return nil, s.ensureStageError(pipeline.StageFetch, ctx, err)
	}

	j.RawAudio = raw
	return raw, nil
}

func (s *Scheduler) runDecode(j *job.Job, raw []byte) ([]byte, error) {
	if err := s.registry.Transition(j.ID, job.StatusDecoding); err != nil {
		return nil, pipeline.Wrap(pipeline.StageDecode, pipeline.KindInternal, err, "job state diverged before decode")
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.config.GetDecodeTimeout())
	defer cancel()

	start := time.Now()
	pcm, err := s.normalizer.Normalize(ctx, raw)
	s.observeStage(pipeline.StageDecode, start)

	// The compressed source is no longer needed once PCM exists, and
	// audio payloads dominate the registry's memory footprint.
	s.registry.ReleaseAudio(j.ID)

	if err != nil {
		return nil, s.ensureStageError(pipeline.StageDecode, ctx, err)
	}
	return pcm, nil
}

func (s *Scheduler) runTranscribe(j *job.Job, pcm []byte) (string, error) {
	if err := s.registry.Transition(j.ID, job.StatusTranscribing); err != nil {
		return "", pipeline.Wrap(pipeline.StageTranscribe, pipeline.KindInternal, err, "job state diverged before transcription")
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.config.GetTranscribeTimeout())
	defer cancel()

	start := time.Now()
	text, err := s.engine.Transcribe(ctx, pcm, s.language)
	elapsed := time.Since(start)
	s.observeStage(pipeline.StageTranscribe, start)

	if err != nil {
		return "", s.ensureStageError(pipeline.StageTranscribe, ctx, err)
	}

	text = strings.TrimSpace(text)
	if s.metrics != nil {
		s.metrics.RecordTranscription(elapsed.Seconds(), len(text))
	}
	return text, nil
}

func (s *Scheduler) runDeliver(j *job.Job, text string) error {
	if err := s.registry.Transition(j.ID, job.StatusDelivering); err != nil {
		return pipeline.Wrap(pipeline.StageDeliver, pipeline.KindInternal, err, "job state diverged before delivery")
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.config.GetDeliverTimeout())
	defer cancel()

	env := pipeline.ReplyEnvelope{
		ChatID:           j.ChatID,
		ReplyToMessageID: j.MessageID,
		Text:             text,
	}
	if err := s.dispatcher.Deliver(ctx, env); err != nil {
		return s.ensureStageError(pipeline.StageDeliver, ctx, err)
	}
	return nil
}

// composeReply turns a transcript into the reply text. With expense
// tracking enabled the transcript is parsed as an expense phrase and
// recorded when it fits the format.
func (s *Scheduler) composeReply(j *job.Job, text string) string {
	transcript := fmt.Sprintf("Transcrição: `%s`", text)
	if s.recorder == nil {
		return transcript
	}

	entry, ok := expense.Parse(text)
	if !ok {
		return transcript + "\nNão entendi o formato. Exemplo: `500 padaria nubank`"
	}

	if err := s.recorder.Record(entry); err != nil {
		s.logger.Error("Failed to record expense",
			slog.String("job_id", j.ID),
			slog.String("error", err.Error()),
		)
		return transcript + "\nNão consegui salvar o gasto 😕"
	}

	return transcript + "\n" + entry.Confirmation()
}

// fail marks the job failed and sends the user-facing error reply. The
// reply is best effort: a job that already failed is never retried
// because its reply could not be sent.
func (s *Scheduler) fail(j *job.Job, err error) {
	s.logger.Error("Job failed",
		slog.String("job_id", j.ID),
		slog.Int64("chat_id", j.ChatID),
		slog.String("stage", string(pipeline.StageOf(err))),
		slog.String("kind", string(pipeline.KindOf(err))),
		slog.String("error", err.Error()),
	)

	if regErr := s.registry.Fail(j.ID, err.Error()); regErr != nil {
		s.logger.Error("Failed to mark job failed",
			slog.String("job_id", j.ID),
			slog.String("error", regErr.Error()),
		)
	}

	s.mu.Lock()
	s.jobsFailed++
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordJobFailed(string(pipeline.StageOf(err)), string(pipeline.KindOf(err)))
	}

	s.sendErrorReply(j, pipeline.UserMessage(err))
}

// failEmptyTranscript handles audio that decoded fine but produced no
// words. The job still fails (a done job always carries a transcript)
// but the reply explains what happened.
func (s *Scheduler) failEmptyTranscript(j *job.Job) {
	if err := s.registry.Fail(j.ID, "empty transcript"); err != nil {
		s.logger.Error("Failed to mark job failed",
			slog.String("job_id", j.ID),
			slog.String("error", err.Error()),
		)
	}

	s.mu.Lock()
	s.jobsFailed++
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordJobFailed(string(pipeline.StageTranscribe), "empty_transcript")
	}

	s.sendErrorReply(j, "Transcrevi vazio 😅 Tenta falar mais perto do microfone?")
}

func (s *Scheduler) sendErrorReply(j *job.Job, text string) {
	ctx, cancel := context.WithTimeout(s.ctx, s.config.GetDeliverTimeout())
	defer cancel()

	env := pipeline.ReplyEnvelope{
		ChatID:           j.ChatID,
		ReplyToMessageID: j.MessageID,
		Text:             text,
		IsError:          true,
	}
	if err := s.dispatcher.Deliver(ctx, env); err != nil {
		s.logger.Warn("Failed to deliver error reply",
			slog.String("job_id", j.ID),
			slog.Int64("chat_id", j.ChatID),
			slog.String("error", err.Error()),
		)
	}
}

// ensureStageError guarantees stage failures carry the taxonomy even
// when a dependency returns a plain error. A cancelled stage context
// maps to the timeout kind.
func (s *Scheduler) ensureStageError(stage pipeline.Stage, ctx context.Context, err error) error {
	var se *pipeline.StageError
	if errors.As(err, &se) {
		return err
	}
	if ctx.Err() != nil {
		return pipeline.Wrap(stage, pipeline.KindTimeout, err, "stage exceeded its time budget")
	}
	return pipeline.Wrap(stage, pipeline.KindInternal, err, "stage failed")
}

func (s *Scheduler) observeStage(stage pipeline.Stage, start time.Time) {
	if s.metrics != nil {
		s.metrics.RecordStageDuration(string(stage), time.Since(start).Seconds())
	}
}

// GetStatistics returns current scheduler statistics.
func (s *Scheduler) GetStatistics() Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Statistics{
		QueueSize:     uint64(len(s.jobChan)),
		QueueCapacity: uint64(cap(s.jobChan)),
		Workers:       uint64(s.config.Workers),
		JobsProcessed: s.jobsProcessed,
		JobsFailed:    s.jobsFailed,
		JobsRejected:  s.jobsRejected,
		JobsTracked:   uint64(s.registry.Count()),
	}
}

// Statistics represents scheduler performance metrics.
type Statistics struct {
	QueueSize     uint64 `json:"queue_size"`
	QueueCapacity uint64 `json:"queue_capacity"`
	Workers       uint64 `json:"workers"`
	JobsProcessed uint64 `json:"jobs_processed"`
	JobsFailed    uint64 `json:"jobs_failed"`
	JobsRejected  uint64 `json:"jobs_rejected"`
	JobsTracked   uint64 `json:"jobs_tracked"`
}
