// Package transcription implements the gateway to the upstream
// transcriber and summarizer. It assembles rolling-context prompts,
// retries with exponential backoff honoring server-suggested delays, and
// scrubs model output: refusal preambles, duplicate lines, looping
// phrases, and non-verbal-only responses.
package transcription
