// Package pipeline defines the stage and error taxonomy shared by the
// transcription pipeline: which stage a job is in, how failures are
// classified, and the reply envelope carried back to the originating chat.
package pipeline
