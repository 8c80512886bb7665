// Package stitch turns batches of received audio fragments into a single
// decodable payload via an external audio tool. It selects between a
// concat filter graph, per-fragment transcode followed by stream-copy
// concatenation, and a streaming pipe, verifies the output with a probe
// tool, and falls back to forwarding the raw bytes when every strategy
// fails.
package stitch
