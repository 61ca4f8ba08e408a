// Package flow implements the scheduling conversation state machine.
package flow

import (
	"context"
	"log/slog"
	"strings"
)

// IntentClassifier decides whether free-text input is a scheduling request.
// It is deliberately a single swap point so the keyword heuristic can be
// replaced with a real intent model without touching the state machine.
type IntentClassifier interface {
	IsSchedulingIntent(ctx context.Context, text string) bool
}

// defaultSchedulingKeywords is the fixed keyword set for the substring
// heuristic. A single case-insensitive match classifies the input as a
// scheduling request; false positives and negatives are expected and
// accepted.
var defaultSchedulingKeywords = []string{
	"appointment",
	"schedule",
	"book",
	"doctor",
	"visit",
	"see",
	"tomorrow",
	"next week",
	"monday",
	"tuesday",
	"wednesday",
	"thursday",
	"friday",
}

// KeywordClassifier is the pure substring/keyword intent heuristic.
type KeywordClassifier struct {
	keywords []string
}

// NewKeywordClassifier creates a classifier with the default keyword set.
func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{keywords: defaultSchedulingKeywords}
}

// NewKeywordClassifierWithKeywords creates a classifier with a custom keyword set.
func NewKeywordClassifierWithKeywords(keywords []string) *KeywordClassifier {
	return &KeywordClassifier{keywords: keywords}
}

// IsSchedulingIntent reports whether the text contains any configured keyword.
func (c *KeywordClassifier) IsSchedulingIntent(ctx context.Context, text string) bool {
	lowered := strings.ToLower(text)
	for _, keyword := range c.keywords {
		if strings.Contains(lowered, keyword) {
			return true
		}
	}
	return false
}

// intentGenerator is the minimal GenAI surface the model-backed classifier needs.
type intentGenerator interface {
	GeneratePrompt(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

const intentSystemPrompt = "You classify patient messages for a care-coordination assistant. " +
	"Answer with exactly 'yes' if the message asks to schedule, book, or change a medical appointment, and exactly 'no' otherwise."

// GenAIClassifier asks a chat model whether the input carries scheduling
// intent, falling back to the keyword heuristic whenever the model is
// unavailable or answers ambiguously.
type GenAIClassifier struct {
	generator intentGenerator
	fallback  IntentClassifier
}

// NewGenAIClassifier creates a model-backed classifier with the keyword
// heuristic as fallback.
func NewGenAIClassifier(generator intentGenerator) *GenAIClassifier {
	return &GenAIClassifier{generator: generator, fallback: NewKeywordClassifier()}
}

// IsSchedulingIntent classifies the text via the model, falling back to the
// keyword heuristic on any model failure.
func (c *GenAIClassifier) IsSchedulingIntent(ctx context.Context, text string) bool {
	answer, err := c.generator.GeneratePrompt(ctx, intentSystemPrompt, text)
	if err != nil {
		slog.Warn("GenAIClassifier falling back to keyword heuristic", "error", err)
		return c.fallback.IsSchedulingIntent(ctx, text)
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "yes":
		return true
	case "no":
		return false
	default:
		slog.Debug("GenAIClassifier ambiguous answer, using keyword heuristic", "answer", answer)
		return c.fallback.IsSchedulingIntent(ctx, text)
	}
}
