package transcription

import (
	"strings"
	"testing"
)

func TestCleanTranscriptPassesThroughNormalOutput(t *testing.T) {
	raw := "[Speaker 1]: Good morning everyone.\n[Speaker 2]: Morning, let's get started."

	got := CleanTranscript("", raw)
	if got != raw {
		t.Errorf("Expected unchanged output, got %q", got)
	}
}

func TestCleanTranscriptStripsPromptEcho(t *testing.T) {
	prompt := "Transcribe this audio literally."
	raw := prompt + "\n[Speaker 1]: Hello there."

	got := CleanTranscript(prompt, raw)
	if got != "[Speaker 1]: Hello there." {
		t.Errorf("Expected echo stripped, got %q", got)
	}
}

func TestCleanTranscriptStripsRefusalPreamble(t *testing.T) {
	raw := "Here's the transcription: [Speaker 1]: We shipped the release."

	got := CleanTranscript("", raw)
	if got != "[Speaker 1]: We shipped the release." {
		t.Errorf("Expected preamble stripped, got %q", got)
	}
}

func TestCleanTranscriptPureRefusalBecomesUnclear(t *testing.T) {
	raw := "I cannot process audio files directly. Please provide a transcript instead."

	got := CleanTranscript("", raw)
	if got != "[unclear]" {
		t.Errorf("Expected [unclear], got %q", got)
	}
}

func TestCleanTranscriptRefusalWithContentKeepsSpeakerPart(t *testing.T) {
	raw := "I'm sorry, the start was hard to hear.\n[Speaker 1]: The budget is approved."

	got := CleanTranscript("", raw)
	if !strings.Contains(got, "[Speaker 1]: The budget is approved.") {
		t.Errorf("Expected speaker-labelled content kept, got %q", got)
	}
	if strings.Contains(got, "sorry") {
		t.Errorf("Expected refusal text dropped, got %q", got)
	}
}

func TestCleanTranscriptCollapsesDuplicateLines(t *testing.T) {
	raw := "[Speaker 1]: Same line.\n[Speaker 1]: Same line.\n[Speaker 1]: Same line.\n[Speaker 2]: Different."

	got := CleanTranscript("", raw)
	if strings.Count(got, "Same line.") != 1 {
		t.Errorf("Expected duplicates collapsed, got %q", got)
	}
	if !strings.Contains(got, "[Speaker 2]: Different.") {
		t.Errorf("Expected distinct line kept, got %q", got)
	}
}

func TestCleanTranscriptCollapsesRepeatedPhrases(t *testing.T) {
	phrase := "thank you very much indeed"
	raw := "[Speaker 1]: " + strings.Repeat(phrase+" ", 6)

	got := CleanTranscript("", raw)
	if strings.Count(got, phrase) != 1 {
		t.Errorf("Expected looping phrase collapsed to one instance, got %q", got)
	}
}

func TestCleanTranscriptKeepsShortLegitimateRepetition(t *testing.T) {
	raw := "[Speaker 1]: no no no that is wrong"

	got := CleanTranscript("", raw)
	if got != raw {
		t.Errorf("Expected short repetition kept, got %q", got)
	}
}

func TestCleanTranscriptNonVerbalOnlyBecomesSilence(t *testing.T) {
	raw := "[Speaker 1]: [coughing]\n[Speaker 2]: [background noise]"

	got := CleanTranscript("", raw)
	if got != "[silence]" {
		t.Errorf("Expected [silence], got %q", got)
	}
}

func TestCleanTranscriptEmptyBecomesSilence(t *testing.T) {
	if got := CleanTranscript("", "   \n  "); got != "[silence]" {
		t.Errorf("Expected [silence], got %q", got)
	}
}

func TestIsRefusalChunk(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"[silence]", true},
		{"[inaudible]", true},
		{"[unclear]", true},
		{"", true},
		{"I cannot transcribe this audio.", true},
		{"[Speaker 1]: Real content here.", false},
		{"[Speaker 2]: I think we should ship it.", false},
	}

	for _, tt := range tests {
		if got := IsRefusalChunk(tt.text); got != tt.want {
			t.Errorf("IsRefusalChunk(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestCleanSummaryStripsPreamble(t *testing.T) {
	got := CleanSummary("Here is a summary: The team discussed the roadmap.", "roadmap talk")
	if got != "The team discussed the roadmap." {
		t.Errorf("Expected preamble stripped, got %q", got)
	}
}

func TestCleanSummaryDropsHallucinatedSentences(t *testing.T) {
	transcript := "[Speaker 1]: We reviewed the quarterly numbers."
	summary := "The team reviewed quarterly numbers. The speaker thanked the listener for tuning in."

	got := CleanSummary(summary, transcript)
	if strings.Contains(got, "thanked the listener") {
		t.Errorf("Expected hallucinated sentence dropped, got %q", got)
	}
	if !strings.Contains(got, "quarterly numbers") {
		t.Errorf("Expected real sentence kept, got %q", got)
	}
}

func TestCleanSummaryKeepsPhrasePresentInTranscript(t *testing.T) {
	transcript := "[Speaker 1]: This audiobook chapter covers whales."
	summary := "The recording discusses an audiobook chapter about whales."

	got := CleanSummary(summary, transcript)
	if !strings.Contains(got, "audiobook") {
		t.Errorf("Expected phrase kept when transcript contains it, got %q", got)
	}
}

func TestBuildContext(t *testing.T) {
	previous := []string{
		"[Speaker 1]: This is the first chunk with plenty of words.",
		"[silence]",
		"short",
		"[Speaker 2]: Second substantive chunk of the conversation.",
	}

	got := BuildContext(previous, 5, 500)
	if strings.Contains(got, "[silence]") {
		t.Errorf("Expected silence markers dropped, got %q", got)
	}
	if strings.Contains(got, "short") {
		t.Errorf("Expected trivially short lines dropped, got %q", got)
	}
	if !strings.Contains(got, "first chunk") || !strings.Contains(got, "Second substantive") {
		t.Errorf("Expected substantive chunks kept, got %q", got)
	}
}

func TestBuildContextTailCrop(t *testing.T) {
	long := strings.Repeat("word ", 200) // 1000 chars
	got := BuildContext([]string{long}, 5, 100)

	if len(got) != 100 {
		t.Errorf("Expected 100 character crop, got %d", len(got))
	}
	if !strings.HasSuffix(strings.TrimSpace(long), strings.TrimSpace(got)) {
		t.Error("Expected the tail of the context, not the head")
	}
}

func TestBuildContextWindowLimit(t *testing.T) {
	previous := []string{
		"[Speaker 1]: chunk zero is old enough to fall out of the window.",
		"[Speaker 1]: chunk one stays inside the rolling window here.",
		"[Speaker 1]: chunk two stays inside the rolling window here.",
	}

	got := BuildContext(previous, 2, 500)
	if strings.Contains(got, "chunk zero") {
		t.Errorf("Expected chunk outside the window dropped, got %q", got)
	}
}

func TestBuildContextEmpty(t *testing.T) {
	if got := BuildContext([]string{"[silence]", "tiny"}, 5, 500); got != "" {
		t.Errorf("Expected empty context, got %q", got)
	}
	if got := BuildContext(nil, 5, 500); got != "" {
		t.Errorf("Expected empty context for nil input, got %q", got)
	}
}
