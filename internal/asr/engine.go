package asr

import "context"

// Engine converts canonical PCM-16 audio into text. Implementations
// must be safe for concurrent use; how much actual parallelism happens
// behind the call is the engine's own business.
type Engine interface {
	Transcribe(ctx context.Context, pcm []byte, language string) (string, error)
}
