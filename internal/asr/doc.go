// Package asr wraps the speech recognition engine behind a single
// interface. Two implementations exist: a local whisper.cpp subprocess
// that owns one shared model instance, and a remote HTTP transcription
// API client with bounded concurrency and retries.
package asr
