package transcription

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"strconv"
	"time"
)

// ErrTranscribe is returned when transcription failed after all attempts
var ErrTranscribe = errors.New("transcription failed")

// ErrSummarize is returned when summarization failed
var ErrSummarize = errors.New("summarization failed")

// Transcriber is the upstream speech-to-text collaborator. Audio is
// base64-encoded; prompt optionally carries rolling context with a
// do-not-repeat instruction.
type Transcriber interface {
	Transcribe(ctx context.Context, audioBase64, mimeType, prompt string) (string, error)
}

// Summarizer is the upstream summarization collaborator
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (string, error)
}

// CallError describes an upstream call failure with the predicates the
// retry loop depends on. RetryAfter, when positive, is a server-suggested
// delay that overrides the computed backoff.
type CallError struct {
	Status        int
	IsTimeout     bool
	IsRateLimit   bool
	IsServerError bool
	RetryAfter    time.Duration
	Err           error
}

func (e *CallError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("upstream call failed with status %d", e.Status)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure is worth another attempt
func (e *CallError) Retryable() bool {
	return e.IsTimeout || e.IsRateLimit || e.IsServerError
}

// ClientConfig contains upstream HTTP client configuration
type ClientConfig struct {
	Endpoint string
	APIKey   string
	Model    string
	Timeout  time.Duration
}

// HTTPTranscriber implements Transcriber against an HTTP speech-to-text
// API accepting multipart uploads.
type HTTPTranscriber struct {
	config     ClientConfig
	httpClient *http.Client
}

// NewHTTPTranscriber creates an HTTP transcriber client
func NewHTTPTranscriber(config ClientConfig) (*HTTPTranscriber, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.APIKey == "" {
		return nil, fmt.Errorf("API key cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	return &HTTPTranscriber{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}, nil
}

// transcribeResponse is the upstream response body
type transcribeResponse struct {
	Text string `json:"text"`
}

// Transcribe uploads one stitched chunk and returns the raw transcript
func (t *HTTPTranscriber) Transcribe(ctx context.Context, audioBase64, mimeType, prompt string) (string, error) {
	audioData, err := base64.StdEncoding.DecodeString(audioBase64)
	if err != nil {
		return "", &CallError{Err: fmt.Errorf("decoding audio payload: %w", err)}
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fileWriter, err := writer.CreateFormFile("file", "chunk."+extForMIME(mimeType))
	if err != nil {
		return "", &CallError{Err: fmt.Errorf("creating form file: %w", err)}
	}
	if _, err := fileWriter.Write(audioData); err != nil {
		return "", &CallError{Err: fmt.Errorf("writing audio data: %w", err)}
	}

	fields := map[string]string{
		"model":           t.config.Model,
		"response_format": "json",
	}
	if prompt != "" {
		fields["prompt"] = prompt
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return "", &CallError{Err: fmt.Errorf("writing field %s: %w", key, err)}
		}
	}

	if err := writer.Close(); err != nil {
		return "", &CallError{Err: fmt.Errorf("closing multipart writer: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.config.Endpoint, &buf)
	if err != nil {
		return "", &CallError{Err: fmt.Errorf("creating request: %w", err)}
	}

	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	httpReq.Header.Set("Authorization", "Bearer "+t.config.APIKey)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return "", classifyTransportError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &CallError{Err: fmt.Errorf("reading response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", classifyStatusError(resp, respBody)
	}

	var parsed transcribeResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", &CallError{Err: fmt.Errorf("parsing response JSON: %w", err)}
	}

	return parsed.Text, nil
}

// HTTPSummarizer implements Summarizer against an HTTP completion API
type HTTPSummarizer struct {
	config     ClientConfig
	httpClient *http.Client
}

// NewHTTPSummarizer creates an HTTP summarizer client
func NewHTTPSummarizer(config ClientConfig) (*HTTPSummarizer, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.APIKey == "" {
		return nil, fmt.Errorf("API key cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}

	return &HTTPSummarizer{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}, nil
}

type summarizeRequest struct {
	Model      string `json:"model,omitempty"`
	Transcript string `json:"transcript"`
}

type summarizeResponse struct {
	Summary string `json:"summary"`
}

// Summarize requests a post-hoc summary of the full transcript
func (s *HTTPSummarizer) Summarize(ctx context.Context, transcript string) (string, error) {
	body, err := json.Marshal(summarizeRequest{
		Model:      s.config.Model,
		Transcript: transcript,
	})
	if err != nil {
		return "", &CallError{Err: fmt.Errorf("encoding request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", &CallError{Err: fmt.Errorf("creating request: %w", err)}
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+s.config.APIKey)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return "", classifyTransportError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &CallError{Err: fmt.Errorf("reading response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", classifyStatusError(resp, respBody)
	}

	var parsed summarizeResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", &CallError{Err: fmt.Errorf("parsing response JSON: %w", err)}
	}

	return parsed.Summary, nil
}

// classifyTransportError maps network failures onto CallError predicates
func classifyTransportError(err error) *CallError {
	ce := &CallError{Err: err}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		ce.IsTimeout = true
		return ce
	}

	if errors.Is(err, context.DeadlineExceeded) {
		ce.IsTimeout = true
		return ce
	}

	// Connection resets and refusals are transient from the pipeline's
	// point of view.
	ce.IsServerError = true
	return ce
}

// classifyStatusError maps HTTP status failures onto CallError predicates,
// capturing a server-suggested retry delay when present.
func classifyStatusError(resp *http.Response, body []byte) *CallError {
	ce := &CallError{
		Status: resp.StatusCode,
		Err:    fmt.Errorf("HTTP error %d: %s", resp.StatusCode, truncateBody(body)),
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		ce.IsRateLimit = true
		ce.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
	case resp.StatusCode >= 500:
		ce.IsServerError = true
	case resp.StatusCode == http.StatusRequestTimeout:
		ce.IsTimeout = true
	}

	return ce
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(header); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}

	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}

	return 0
}

func truncateBody(body []byte) string {
	const max = 256
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}

func extForMIME(mimeType string) string {
	switch mimeType {
	case "audio/mpeg", "audio/mp3":
		return "mp3"
	case "audio/webm", "video/webm":
		return "webm"
	case "audio/ogg":
		return "ogg"
	case "audio/wav":
		return "wav"
	case "audio/mp4":
		return "m4a"
	case "audio/flac":
		return "flac"
	case "audio/aac":
		return "aac"
	default:
		return "bin"
	}
}
