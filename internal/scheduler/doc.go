// Package scheduler runs the transcription pipeline behind a bounded
// queue and a fixed worker pool.
//
// Jobs arrive from the webhook through Submit, which never blocks: a
// full queue is reported immediately so the HTTP layer can answer with
// backpressure. Each worker owns one job at a time and walks it through
// the four stages in order, fetching the audio, normalizing it to PCM,
// running inference and delivering the reply. Every stage runs under
// its own timeout so a slow dependency cannot pin a worker forever.
//
// Failures are terminal. The job moves to the failed state, the reason
// is recorded, and a friendly error reply is sent on a best-effort
// basis. There is no re-queueing of failed jobs.
package scheduler
