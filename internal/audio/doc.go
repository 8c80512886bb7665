// Package audio models received audio fragments and the per-session ingest
// buffer. It maps client MIME types to container hints, enforces the small
// fragment gate and the per-session byte cap, and tracks client-reported
// energy levels used for silence gating downstream.
package audio
