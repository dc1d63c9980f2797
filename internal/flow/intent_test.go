package flow

import (
	"context"
	"errors"
	"testing"

	"github.com/leadflow/leadflow/internal/models"
)

func TestClassifyParsesStructuredOutput(t *testing.T) {
	client := newScriptedClient()
	client.intentJSON = `{"intent": "PRICING", "confidence": 88}`

	ic := NewIntentClassifier(client)
	res, err := ic.Classify(context.Background(), "quanto custa?", noHistorySentinel)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Intent != models.IntentPricing {
		t.Errorf("expected PRICING, got %s", res.Intent)
	}
	if res.Confidence != 88 {
		t.Errorf("expected confidence 88, got %d", res.Confidence)
	}
}

func TestClassifyHandlesFencedOutput(t *testing.T) {
	client := newScriptedClient()
	client.intentJSON = "```json\n{\"intent\": \"scheduling\", \"confidence\": 70}\n```"

	ic := NewIntentClassifier(client)
	res, err := ic.Classify(context.Background(), "posso marcar amanhã?", noHistorySentinel)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Intent != models.IntentScheduling {
		t.Errorf("expected SCHEDULING, got %s", res.Intent)
	}
}

func TestClassifyCoercesUnknownLabelToOther(t *testing.T) {
	client := newScriptedClient()
	client.intentJSON = `{"intent": "BUY_NOW", "confidence": 95}`

	ic := NewIntentClassifier(client)
	res, err := ic.Classify(context.Background(), "vou comprar", noHistorySentinel)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Intent != models.IntentOther {
		t.Errorf("expected OTHER, got %s", res.Intent)
	}
	if res.Confidence != 0 {
		t.Errorf("coerced label should carry zero confidence, got %d", res.Confidence)
	}
}

func TestClassifyCoercesGarbageToOther(t *testing.T) {
	client := newScriptedClient()
	client.intentJSON = "the lead seems interested in pricing"

	ic := NewIntentClassifier(client)
	res, err := ic.Classify(context.Background(), "quanto custa?", noHistorySentinel)
	if err != nil {
		t.Fatalf("parse failure must not error: %v", err)
	}
	if res.Intent != models.IntentOther {
		t.Errorf("expected OTHER, got %s", res.Intent)
	}
}

func TestClassifyPropagatesCompletionFailure(t *testing.T) {
	client := newScriptedClient()
	client.generateErr = errors.New("upstream 500")

	ic := NewIntentClassifier(client)
	if _, err := ic.Classify(context.Background(), "oi", noHistorySentinel); err == nil {
		t.Fatal("expected error when completion fails")
	}
}
