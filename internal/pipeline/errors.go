package pipeline

import (
	"errors"
	"fmt"
)

// Stage identifies one step of the fetch→decode→transcribe→deliver chain.
type Stage string

const (
	StageFetch      Stage = "fetch"
	StageDecode     Stage = "decode"
	StageTranscribe Stage = "transcribe"
	StageDeliver    Stage = "deliver"
)

// ErrorKind classifies a stage failure. The kind decides whether a retry
// is worth attempting and which reply the end user receives.
type ErrorKind string

const (
	// Fetch failures
	KindNotFound         ErrorKind = "not_found"
	KindUnauthorized     ErrorKind = "unauthorized"
	KindTransientNetwork ErrorKind = "transient_network"

	// Decode failures
	KindUnsupportedCodec ErrorKind = "unsupported_codec"
	KindCorruptStream    ErrorKind = "corrupt_stream"
	KindToolUnavailable  ErrorKind = "tool_unavailable"

	// Inference failures
	KindModelNotLoaded ErrorKind = "model_not_loaded"
	KindOutOfMemory    ErrorKind = "out_of_memory"

	// Shared across stages: the per-stage timeout budget was exceeded.
	KindTimeout ErrorKind = "timeout"

	// KindInternal covers failures the classifiers could not place.
	KindInternal ErrorKind = "internal"
)

// StageError is a classified failure of one pipeline stage.
type StageError struct {
	Stage   Stage
	Kind    ErrorKind
	Message string
	Err     error
}

// Errorf builds a StageError with a formatted message.
func Errorf(stage Stage, kind ErrorKind, format string, args ...interface{}) *StageError {
	return &StageError{
		Stage:   stage,
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap builds a StageError that keeps the underlying error for errors.Is/As.
func Wrap(stage Stage, kind ErrorKind, err error, message string) *StageError {
	return &StageError{
		Stage:   stage,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

func (e *StageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%s): %v", e.Stage, e.Message, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Stage, e.Message, e.Kind)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Retryable reports whether retrying the same stage may succeed.
// Deterministic failures (decode, model errors, missing files) never are.
func (e *StageError) Retryable() bool {
	return e.Kind == KindTransientNetwork
}

// KindOf extracts the error kind from an arbitrary error chain.
func KindOf(err error) ErrorKind {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}

// StageOf extracts the failing stage from an arbitrary error chain.
func StageOf(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

// UserMessage converts a pipeline failure into the human-readable reply
// sent back to the chat. It never exposes internal error text.
func UserMessage(err error) string {
	var se *StageError
	if !errors.As(err, &se) {
		return "Não consegui processar sua mensagem 😕 Tenta de novo?"
	}

	switch se.Stage {
	case StageFetch:
		return "Não consegui pegar o áudio 😕 Tenta enviar de novo?"
	case StageDecode:
		return "Não consegui ler esse formato de áudio 😕"
	case StageTranscribe:
		if se.Kind == KindTimeout {
			return "O áudio demorou demais pra transcrever 😅 Tenta um mais curto?"
		}
		return "Não consegui transcrever o áudio 😕 Tenta falar um pouco mais alto?"
	default:
		return "Não consegui processar sua mensagem 😕 Tenta de novo?"
	}
}
