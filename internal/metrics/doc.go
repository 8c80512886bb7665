// Package metrics defines the Prometheus instrumentation for the
// transcription pipeline, exposed on the ops HTTP server.
package metrics
