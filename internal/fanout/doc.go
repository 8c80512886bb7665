// Package fanout routes live transcript and status events to the
// subscribers of each session with best-effort, per-session-ordered
// delivery.
package fanout
