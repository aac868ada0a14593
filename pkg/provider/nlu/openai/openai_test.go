package openai

import (
	"strings"
	"testing"

	"github.com/cadenza-ai/cadenza/pkg/provider/nlu"
)

func TestParseClassification(t *testing.T) {
	t.Parallel()

	intent, err := parseClassification(`{"tag": "timer.set", "slots": {"duration": "5", "unit": "minutes"}, "confidence": 0.92}`)
	if err != nil {
		t.Fatalf("parseClassification: %v", err)
	}
	if intent.Tag != "timer.set" {
		t.Errorf("Tag = %q, want timer.set", intent.Tag)
	}
	if intent.Slots["duration"] != "5" || intent.Slots["unit"] != "minutes" {
		t.Errorf("Slots = %v", intent.Slots)
	}
	if intent.Confidence != 0.92 {
		t.Errorf("Confidence = %v, want 0.92", intent.Confidence)
	}
}

func TestParseClassification_CodeFences(t *testing.T) {
	t.Parallel()

	fenced := "```json\n{\"tag\": \"lights.off\", \"confidence\": 0.8}\n```"
	intent, err := parseClassification(fenced)
	if err != nil {
		t.Fatalf("parseClassification: %v", err)
	}
	if intent.Tag != "lights.off" {
		t.Errorf("Tag = %q, want lights.off", intent.Tag)
	}

	bare := "```\n{\"tag\": \"lights.off\", \"confidence\": 0.8}\n```"
	if intent, err = parseClassification(bare); err != nil || intent.Tag != "lights.off" {
		t.Errorf("bare fence: intent = %+v, err = %v", intent, err)
	}
}

func TestParseClassification_EmptyTagBecomesUnknown(t *testing.T) {
	t.Parallel()

	intent, err := parseClassification(`{"confidence": 0.5}`)
	if err != nil {
		t.Fatalf("parseClassification: %v", err)
	}
	if intent.Tag != nlu.UnknownTag {
		t.Errorf("Tag = %q, want %q", intent.Tag, nlu.UnknownTag)
	}
}

func TestParseClassification_ConfidenceClamped(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want float64
	}{
		{`{"tag": "t", "confidence": 1.7}`, 1},
		{`{"tag": "t", "confidence": -0.3}`, 0},
	}
	for _, tt := range tests {
		intent, err := parseClassification(tt.in)
		if err != nil {
			t.Fatalf("parseClassification(%q): %v", tt.in, err)
		}
		if intent.Confidence != tt.want {
			t.Errorf("Confidence = %v, want %v", intent.Confidence, tt.want)
		}
	}
}

func TestParseClassification_InvalidJSON(t *testing.T) {
	t.Parallel()

	_, err := parseClassification("sorry, I cannot classify that")
	if err == nil {
		t.Fatal("expected error for non-JSON reply")
	}
	if !strings.Contains(err.Error(), "parse classification") {
		t.Errorf("err = %v", err)
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := New("", []string{"timer.set"}); err == nil {
		t.Error("expected error for empty api key")
	}
	if _, err := New("sk-test", nil); err == nil {
		t.Error("expected error for empty intent set")
	}
}
