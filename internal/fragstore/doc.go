// Package fragstore implements the durable on-disk fragment store. Each
// session owns a directory of receive-ordered fragment files that are
// fsynced on write, drained in batches by the pipeline, restored on failed
// stitch attempts, and re-enumerated on crash recovery. A background sweep
// enforces the retention window.
package fragstore
