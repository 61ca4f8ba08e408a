package flow

import (
	"context"
	"errors"
	"testing"
)

func TestKeywordClassifier(t *testing.T) {
	classifier := NewKeywordClassifier()
	ctx := context.Background()

	tests := []struct {
		name string
		text string
		want bool
	}{
		{"book keyword", "I want to book an appointment", true},
		{"weekday keyword", "can I come in on Friday?", true},
		{"next week phrase", "sometime next week works", true},
		{"case insensitive", "BOOK ME IN", true},
		{"keyword inside word", "I read a facebook post", true},
		{"no keyword", "what's the weather like?", false},
		{"empty input", "", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := classifier.IsSchedulingIntent(ctx, tc.text); got != tc.want {
				t.Errorf("IsSchedulingIntent(%q) = %v, want %v", tc.text, got, tc.want)
			}
		})
	}
}

func TestKeywordClassifierCustomKeywords(t *testing.T) {
	classifier := NewKeywordClassifierWithKeywords([]string{"termin"})
	ctx := context.Background()

	if !classifier.IsSchedulingIntent(ctx, "Ich brauche einen Termin") {
		t.Error("expected custom keyword to match")
	}
	if classifier.IsSchedulingIntent(ctx, "book an appointment") {
		t.Error("default keywords must not match with a custom set")
	}
}

// mockIntentGenerator implements intentGenerator for tests.
type mockIntentGenerator struct {
	answer string
	err    error
}

func (m *mockIntentGenerator) GeneratePrompt(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return m.answer, m.err
}

func TestGenAIClassifier(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		answer string
		err    error
		text   string
		want   bool
	}{
		{"model says yes", "yes", nil, "anything at all", true},
		{"model says no", "no", nil, "book an appointment", false},
		{"trims and lowercases", " Yes \n", nil, "anything", true},
		{"ambiguous falls back to keywords", "maybe", nil, "book a visit", true},
		{"ambiguous falls back negative", "maybe", nil, "hello there", false},
		{"error falls back to keywords", "", errors.New("api down"), "schedule me in", true},
		{"error falls back negative", "", errors.New("api down"), "hello there", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			classifier := NewGenAIClassifier(&mockIntentGenerator{answer: tc.answer, err: tc.err})
			if got := classifier.IsSchedulingIntent(ctx, tc.text); got != tc.want {
				t.Errorf("IsSchedulingIntent(%q) = %v, want %v", tc.text, got, tc.want)
			}
		})
	}
}
