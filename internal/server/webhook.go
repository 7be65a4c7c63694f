package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/atcovolan/gastos-telegram-bot/internal/config"
	"github.com/atcovolan/gastos-telegram-bot/internal/expense"
	"github.com/atcovolan/gastos-telegram-bot/internal/job"
	"github.com/atcovolan/gastos-telegram-bot/internal/pipeline"
	"github.com/atcovolan/gastos-telegram-bot/internal/scheduler"
	"github.com/atcovolan/gastos-telegram-bot/internal/telegram"
)

// webhookResponse is the JSON body returned to the platform. Telegram
// only checks the status code, the body helps operators and tests.
type webhookResponse struct {
	OK     bool       `json:"ok"`
	JobID  string     `json:"job_id,omitempty"`
	Status job.Status `json:"status,omitempty"`
	Error  string     `json:"error,omitempty"`
}

// handleWebhook ingests one platform update. Voice and audio messages
// become queued jobs, plain text goes through the expense path
// synchronously, everything else is acknowledged and ignored so the
// platform does not redeliver it.
func (h *HTTPServer) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var update tgbotapi.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		h.logger.Warn("Malformed webhook payload", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadRequest, webhookResponse{Error: "malformed update"})
		return
	}

	inbound, err := telegram.ParseUpdate(&update)
	if err != nil {
		if errors.Is(err, telegram.ErrNoMessage) {
			// Service messages, channel posts and the like.
			writeJSON(w, http.StatusOK, webhookResponse{OK: true})
			return
		}
		writeJSON(w, http.StatusBadRequest, webhookResponse{Error: "unsupported update"})
		return
	}

	if !inbound.HasAudio() {
		h.handleTextMessage(w, r, inbound)
		return
	}

	if max := h.config.Audio.MaxDurationSec; max > 0 && inbound.DurationSec > max {
		h.logger.Info("Rejecting over-long voice message",
			slog.Int64("chat_id", inbound.ChatID),
			slog.Int("duration", inbound.DurationSec),
		)
		h.reply(r.Context(), inbound, "Áudio muito longo 😅 Manda um mais curto?", true)
		writeJSON(w, http.StatusOK, webhookResponse{OK: true})
		return
	}

	j := job.New(inbound.ChatID, inbound.MessageID, inbound.FileID)
	j.MIMEType = inbound.MIMEType
	j.DurationSec = inbound.DurationSec

	h.registry.Add(j)

	if err := h.submitter.Submit(j); err != nil {
		// The job never entered the pipeline, drop it so rejected
		// submissions do not pile up in the registry.
		h.registry.Remove(j.ID)
		if errors.Is(err, scheduler.ErrQueueFull) {
			// 503 makes the platform redeliver the update later, which
			// doubles as a retry once the queue drains.
			writeJSON(w, http.StatusServiceUnavailable, webhookResponse{Error: "queue full"})
			return
		}
		h.logger.Error("Failed to submit job",
			slog.String("job_id", j.ID),
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusInternalServerError, webhookResponse{Error: "submit failed"})
		return
	}

	h.logger.Info("Job queued",
		slog.String("job_id", j.ID),
		slog.Int64("chat_id", j.ChatID),
		slog.Int("declared_duration", j.DurationSec),
	)

	if h.config.Server.WebhookMode == config.WebhookModeSync {
		h.respondSync(w, r, j)
		return
	}

	writeJSON(w, http.StatusOK, webhookResponse{OK: true, JobID: j.ID, Status: job.StatusQueued})
}

// respondSync holds the webhook connection open until the job reaches a
// terminal state or the sync budget runs out.
func (h *HTTPServer) respondSync(w http.ResponseWriter, r *http.Request, j *job.Job) {
	ctx, cancel := context.WithTimeout(r.Context(), h.config.Server.GetSyncTimeout())
	defer cancel()

	snap, err := h.registry.Wait(ctx, j.ID)
	if err != nil {
		// Still processing, hand back the ID so the job endpoint can
		// be polled.
		writeJSON(w, http.StatusAccepted, webhookResponse{OK: true, JobID: j.ID, Status: job.StatusQueued})
		return
	}

	writeJSON(w, http.StatusOK, webhookResponse{OK: true, JobID: snap.ID, Status: snap.Status})
}

// handleTextMessage runs the synchronous expense path. Text messages
// skip the queue entirely, parsing and recording are fast enough to do
// inline.
func (h *HTTPServer) handleTextMessage(w http.ResponseWriter, r *http.Request, inbound *telegram.Inbound) {
	if h.recorder == nil || inbound.Text == "" {
		writeJSON(w, http.StatusOK, webhookResponse{OK: true})
		return
	}

	entry, ok := expense.Parse(inbound.Text)
	if !ok {
		h.reply(r.Context(), inbound, expense.HelpMessage, true)
		writeJSON(w, http.StatusOK, webhookResponse{OK: true})
		return
	}

	if err := h.recorder.Record(entry); err != nil {
		h.logger.Error("Failed to record expense",
			slog.Int64("chat_id", inbound.ChatID),
			slog.String("error", err.Error()),
		)
		h.reply(r.Context(), inbound, "Não consegui salvar o gasto 😕 Tenta de novo?", true)
		writeJSON(w, http.StatusOK, webhookResponse{OK: true})
		return
	}

	h.reply(r.Context(), inbound, entry.Confirmation(), false)
	writeJSON(w, http.StatusOK, webhookResponse{OK: true})
}

// reply sends a best-effort direct reply outside the job pipeline.
func (h *HTTPServer) reply(ctx context.Context, inbound *telegram.Inbound, text string, isError bool) {
	env := pipeline.ReplyEnvelope{
		ChatID:           inbound.ChatID,
		ReplyToMessageID: inbound.MessageID,
		Text:             text,
		IsError:          isError,
	}
	if err := h.dispatcher.Deliver(ctx, env); err != nil {
		h.logger.Warn("Failed to deliver direct reply",
			slog.Int64("chat_id", inbound.ChatID),
			slog.String("error", err.Error()),
		)
	}
}
