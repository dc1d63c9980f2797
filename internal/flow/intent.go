package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/leadflow/leadflow/internal/genai"
	"github.com/leadflow/leadflow/internal/models"
)

const intentSystemPrompt = `You are an intent classifier for a sales conversation.
Classify the lead's latest message into exactly one of these labels:
%s

Respond with a JSON object only, no other text:
{"intent": "<LABEL>", "confidence": <0-100>}`

// IntentResult is the outcome of one classification: a taxonomy label and the
// model's confidence in it.
type IntentResult struct {
	Intent     models.Intent
	Confidence int
}

// IntentClassifier labels inbound messages against the fixed taxonomy. It is
// pure with respect to conversation state: it never mutates anything.
type IntentClassifier struct {
	client genai.ClientInterface
}

// NewIntentClassifier creates an intent classifier backed by the given client.
func NewIntentClassifier(client genai.ClientInterface) *IntentClassifier {
	return &IntentClassifier{client: client}
}

// Classify returns the intent of the inbound text given the assembled context.
// Labels outside the taxonomy and unparseable output coerce to OTHER with zero
// confidence; only a failed completion call is returned as an error.
func (ic *IntentClassifier) Classify(ctx context.Context, inboundText, assembledContext string) (IntentResult, error) {
	labels := make([]string, len(models.AllIntents))
	for i, intent := range models.AllIntents {
		labels[i] = string(intent)
	}
	systemPrompt := fmt.Sprintf(intentSystemPrompt, strings.Join(labels, ", "))
	userPrompt := fmt.Sprintf("Conversation context:\n%s\n\nLatest message from the lead:\n%s", assembledContext, inboundText)

	ctx = genai.WithUsageKind(ctx, "classify_intent")
	raw, err := ic.client.Generate(ctx, systemPrompt, userPrompt)
	if err != nil {
		return IntentResult{}, fmt.Errorf("intent classification failed: %w", err)
	}

	var parsed struct {
		Intent     string `json:"intent"`
		Confidence int    `json:"confidence"`
	}
	if err := decodeModelJSON(raw, &parsed); err != nil {
		slog.Warn("IntentClassifier.Classify: unparseable classifier output, coercing to OTHER", "output", raw, "error", err)
		return IntentResult{Intent: models.IntentOther}, nil
	}

	intent, parseErr := models.ParseIntent(strings.ToUpper(strings.TrimSpace(parsed.Intent)))
	confidence := parsed.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 100 {
		confidence = 100
	}
	if errors.Is(parseErr, models.ErrUnknownIntent) {
		slog.Debug("IntentClassifier.Classify: label outside taxonomy coerced to OTHER", "label", parsed.Intent)
		confidence = 0
	}
	return IntentResult{Intent: intent, Confidence: confidence}, nil
}
