package transcription

import (
	"regexp"
	"strings"
)

// The upstream model sometimes answers with apologies, echoes of the
// prompt, or looping hallucinations instead of a transcription. These
// filters are part of the pipeline contract: every raw transcript passes
// through them before persistence.

var (
	speakerLineRe = regexp.MustCompile(`\[Speaker \d+\]:\s*\S.*`)

	// A speaker line whose entire content is a bracketed non-verbal marker
	nonVerbalLineRe = regexp.MustCompile(`^\[Speaker \d+\]:\s*\[[a-z '\-]+\]$`)

	// Apology/refusal phrasings: their presence marks the response as a
	// refusal rather than a transcription.
	refusalPreambleRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^i (?:cannot|can't|am unable to|'m unable to) (?:process|transcribe|hear|access)[^.\n]*[.:]?\s*`),
		regexp.MustCompile(`(?i)^i(?:'m| am) sorry[^.\n]*[.:]?\s*`),
		regexp.MustCompile(`(?i)^i apologize[^.\n]*[.:]?\s*`),
		regexp.MustCompile(`(?i)^unfortunately[^.\n]*[.:]?\s*`),
		regexp.MustCompile(`(?i)^as an ai[^.\n]*[.:]?\s*`),
	}

	// Harmless framing the model wraps real output in.
	framingPreambleRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^(?:here(?:'s| is) (?:the|a|your) transcri[^.:\n]*)[.:]?\s*`),
		regexp.MustCompile(`(?i)^(?:sure|certainly|of course)[,!.]?\s*(?:here(?:'s| is)[^.:\n]*[.:]?)?\s*`),
	}

	refusalMarkerRe = regexp.MustCompile(`(?i)\b(?:i cannot|i can't|i am unable|i'm unable|as an ai|i apologize|i'm sorry|i am sorry)\b`)
)

// CleanTranscript scrubs a raw transcriber response. The steps run in a
// fixed order: prompt echo strip, refusal preamble removal, refusal
// fallback extraction, consecutive duplicate line collapse, repeated
// phrase collapse, non-verbal-only detection, and empty fallback.
func CleanTranscript(prompt, raw string) string {
	text := strings.TrimSpace(raw)

	text = stripPromptEcho(prompt, text)

	var hadRefusal bool
	text, hadRefusal = stripRefusalPreambles(text)

	if hadRefusal || refusalMarkerRe.MatchString(text) {
		// A refusal with no speaker-labelled content is not a
		// transcription at all; with content, keep the labelled part.
		m := speakerLineRe.FindStringIndex(text)
		if m == nil {
			return "[unclear]"
		}
		text = strings.TrimSpace(text[m[0]:])
	}

	text = collapseDuplicateLines(text)
	text = collapseRepeatedPhrases(text)

	if isNonVerbalOnly(text) {
		return "[silence]"
	}

	if strings.TrimSpace(text) == "" {
		return "[silence]"
	}

	return text
}

// stripPromptEcho removes a leading echo of the prompt text. Some models
// repeat part of the instruction before transcribing.
func stripPromptEcho(prompt, text string) string {
	if prompt == "" || text == "" {
		return text
	}

	// Whole-prompt echo first, then line-by-line for partial echoes.
	if strings.HasPrefix(text, prompt) {
		return strings.TrimSpace(text[len(prompt):])
	}

	promptLines := make(map[string]bool)
	for _, line := range strings.Split(prompt, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			promptLines[line] = true
		}
	}

	lines := strings.Split(text, "\n")
	start := 0
	for start < len(lines) {
		trimmed := strings.TrimSpace(lines[start])
		if trimmed == "" || promptLines[trimmed] {
			start++
			continue
		}
		break
	}

	return strings.TrimSpace(strings.Join(lines[start:], "\n"))
}

// stripRefusalPreambles removes apology and framing phrasings from the
// head of the text, repeating until none match. The second return reports
// whether an apology-class preamble was seen.
func stripRefusalPreambles(text string) (string, bool) {
	hadRefusal := false

	for {
		stripped := text
		for _, re := range refusalPreambleRes {
			next := re.ReplaceAllString(stripped, "")
			if next != stripped {
				hadRefusal = true
				stripped = next
			}
		}
		for _, re := range framingPreambleRes {
			stripped = re.ReplaceAllString(stripped, "")
		}
		stripped = strings.TrimSpace(stripped)
		if stripped == text {
			return stripped, hadRefusal
		}
		text = stripped
	}
}

// collapseDuplicateLines drops immediately consecutive identical lines,
// keeping the first occurrence.
func collapseDuplicateLines(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))

	var prev string
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if i > 0 && trimmed != "" && trimmed == prev {
			continue
		}
		out = append(out, line)
		prev = trimmed
	}

	return strings.Join(out, "\n")
}

// collapseRepeatedPhrases detects phrase-level hallucination: a 5-word
// window immediately repeating itself 4 or more times collapses to its
// first instance. Looping phrases are a known transcriber failure mode on
// near-silent audio.
func collapseRepeatedPhrases(text string) string {
	const window = 5
	const minRepeats = 4

	words := strings.Fields(text)
	if len(words) < window*minRepeats {
		return text
	}

	out := make([]string, 0, len(words))
	i := 0
	for i < len(words) {
		if i+window <= len(words) {
			repeats := 1
			for {
				next := i + repeats*window
				if next+window > len(words) || !wordsEqual(words[i:i+window], words[next:next+window]) {
					break
				}
				repeats++
			}
			if repeats >= minRepeats {
				out = append(out, words[i:i+window]...)
				i += repeats * window
				continue
			}
		}
		out = append(out, words[i])
		i++
	}

	if len(out) == len(words) {
		return text
	}

	return strings.Join(out, " ")
}

func wordsEqual(a, b []string) bool {
	for i := range a {
		if !strings.EqualFold(a[i], b[i]) {
			return false
		}
	}
	return true
}

// isNonVerbalOnly reports whether every non-empty line is a speaker-
// labelled non-verbal marker and the whole text is short. Such output is
// silence wearing a costume.
func isNonVerbalOnly(text string) bool {
	if len(text) >= 200 {
		return false
	}

	sawLine := false
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if !nonVerbalLineRe.MatchString(trimmed) {
			return false
		}
		sawLine = true
	}

	return sawLine
}

// IsRefusalChunk reports whether a persisted chunk text is boilerplate
// rather than speech. The finalizer drops these before joining the final
// transcript.
func IsRefusalChunk(text string) bool {
	t := strings.TrimSpace(text)
	if t == "" {
		return true
	}

	if isSilenceMarker(t) {
		return true
	}

	if refusalMarkerRe.MatchString(t) && !speakerLineRe.MatchString(t) {
		return true
	}

	return false
}

// Summary hallucination patterns: phrasings the summarizer invents about
// content that is not in the transcript.
var summaryHallucinationPhrases = []string{
	"audiobook",
	"thanked the listener",
	"thanks for listening",
	"thank you for listening",
	"subscribe",
	"like and share",
}

var summaryPreambleRe = regexp.MustCompile(`(?i)^(?:here(?:'s| is) (?:a |the )?(?:brief |concise )?summary[^.:\n]*[.:]\s*|summary[.:]\s*)`)

var metaSentenceRe = regexp.MustCompile(`(?i)^(?:this (?:transcript|recording|audio|conversation) (?:appears to|seems to)|as a summary|in summary, this (?:audio|recording))`)

// CleanSummary scrubs the summarizer output: preambles go, and sentences
// built on hallucinated phrases are dropped unless the transcript really
// contains the phrase.
func CleanSummary(summary, transcript string) string {
	text := strings.TrimSpace(summary)
	text = summaryPreambleRe.ReplaceAllString(text, "")

	lowerTranscript := strings.ToLower(transcript)

	sentences := splitSentences(text)
	kept := make([]string, 0, len(sentences))

	for _, sentence := range sentences {
		lower := strings.ToLower(sentence)

		drop := false
		for _, phrase := range summaryHallucinationPhrases {
			if strings.Contains(lower, phrase) && !strings.Contains(lowerTranscript, phrase) {
				drop = true
				break
			}
		}

		if !drop && metaSentenceRe.MatchString(strings.TrimSpace(sentence)) {
			drop = true
		}

		if !drop {
			kept = append(kept, sentence)
		}
	}

	return strings.TrimSpace(strings.Join(kept, " "))
}

// splitSentences performs a rough sentence split, good enough for
// dropping whole hallucinated sentences.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	for _, r := range text {
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			s := strings.TrimSpace(current.String())
			if s != "" {
				sentences = append(sentences, s)
			}
			current.Reset()
		}
	}

	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}

	return sentences
}
