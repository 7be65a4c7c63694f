package job

import (
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of a transcription job.
type Status string

const (
	StatusQueued       Status = "queued"
	StatusFetching     Status = "fetching"
	StatusDecoding     Status = "decoding"
	StatusTranscribing Status = "transcribing"
	StatusDelivering   Status = "delivering"
	StatusDone         Status = "done"
	StatusFailed       Status = "failed"
)

// IsTerminal reports whether a status ends the job lifecycle.
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusFailed
}

// Job is one voice message moving through the pipeline. Stage fields are
// mutated exclusively through the Registry, which owns the locking.
type Job struct {
	ID        string
	ChatID    int64
	MessageID int
	FileID    string

	// Declared by the platform, best effort.
	MIMEType    string
	DurationSec int

	Status     Status
	CreatedAt  time.Time
	UpdatedAt  time.Time
	ResultText string
	FailReason string

	// RawAudio holds the fetched bytes between fetch and decode. The
	// worker releases it once the normalizer has produced PCM.
	RawAudio []byte

	done chan struct{}
}

// New builds a queued job for a voice message reference.
func New(chatID int64, messageID int, fileID string) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		MessageID: messageID,
		FileID:    fileID,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
		done:      make(chan struct{}),
	}
}

// Snapshot is a read-only copy of job state safe to hand to HTTP handlers.
type Snapshot struct {
	ID         string    `json:"id"`
	ChatID     int64     `json:"chat_id"`
	MessageID  int       `json:"message_id"`
	Status     Status    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	ResultText string    `json:"result_text,omitempty"`
	FailReason string    `json:"fail_reason,omitempty"`
}

func (j *Job) snapshot() Snapshot {
	return Snapshot{
		ID:         j.ID,
		ChatID:     j.ChatID,
		MessageID:  j.MessageID,
		Status:     j.Status,
		CreatedAt:  j.CreatedAt,
		UpdatedAt:  j.UpdatedAt,
		ResultText: j.ResultText,
		FailReason: j.FailReason,
	}
}

// canTransition enforces the job state machine: statuses advance strictly
// in pipeline order, with Failed reachable from any non-terminal state.
// No edge re-enters Queued.
func canTransition(from, to Status) bool {
	if from.IsTerminal() {
		return false
	}
	if to == StatusFailed {
		return true
	}

	switch from {
	case StatusQueued:
		return to == StatusFetching
	case StatusFetching:
		return to == StatusDecoding
	case StatusDecoding:
		return to == StatusTranscribing
	case StatusTranscribing:
		return to == StatusDelivering
	case StatusDelivering:
		return to == StatusDone
	default:
		return false
	}
}
