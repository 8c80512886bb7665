// Package session implements the session registry and lifecycle: per
// session ingest, the timer-driven stitch-and-transcribe pipeline,
// pause/resume/stop/cancel transitions, finalization with summary, and
// crash recovery from the durable fragment store.
package session
