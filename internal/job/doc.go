// Package job holds the transcription job model: the per-job status
// machine and the in-memory registry that tracks jobs from webhook
// receipt until they are pruned after completion.
package job
