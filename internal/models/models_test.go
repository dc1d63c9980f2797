package models

import (
	"errors"
	"testing"
)

func TestInboundMessageValidate(t *testing.T) {
	msg := InboundMessage{ChatID: "5511999@c.us", PhoneNumber: "5511999", Text: "oi"}
	if err := msg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cases := []struct {
		name string
		msg  InboundMessage
		want error
	}{
		{"missing chat id", InboundMessage{PhoneNumber: "5511999", Text: "oi"}, ErrEmptyChatID},
		{"missing phone", InboundMessage{ChatID: "x", Text: "oi"}, ErrEmptyPhoneNumber},
		{"missing text", InboundMessage{ChatID: "x", PhoneNumber: "5511999"}, ErrEmptyMessageBody},
	}
	for _, tc := range cases {
		if err := tc.msg.Validate(); err != tc.want {
			t.Errorf("%s: got %v, want %v", tc.name, err, tc.want)
		}
	}

	long := InboundMessage{ChatID: "x", PhoneNumber: "5511999"}
	for i := 0; i <= MaxMessageBodyLength; i++ {
		long.Text += "a"
	}
	if err := long.Validate(); err != ErrMessageBodyTooLong {
		t.Errorf("oversized body: got %v, want %v", err, ErrMessageBodyTooLong)
	}
}

func TestLeadHasName(t *testing.T) {
	lead := Lead{PhoneNumber: "5511988887777", DisplayName: "5511988887777"}
	if lead.HasName() {
		t.Error("lead with phone-number display name should not count as named")
	}
	lead.DisplayName = "Maria"
	if !lead.HasName() {
		t.Error("lead with a captured name should count as named")
	}
}

func TestCoerceIntent(t *testing.T) {
	if got := CoerceIntent("PRICING"); got != IntentPricing {
		t.Errorf("expected PRICING, got %s", got)
	}
	if got := CoerceIntent("BANANA"); got != IntentOther {
		t.Errorf("labels outside the taxonomy must coerce to OTHER, got %s", got)
	}
	if got := CoerceIntent(""); got != IntentOther {
		t.Errorf("empty label must coerce to OTHER, got %s", got)
	}
}

func TestParseIntent(t *testing.T) {
	if got, err := ParseIntent("SCHEDULING"); err != nil || got != IntentScheduling {
		t.Errorf("expected SCHEDULING with no error, got %s, %v", got, err)
	}
	if got, err := ParseIntent("OTHER"); err != nil || got != IntentOther {
		t.Errorf("a literal OTHER label is valid, got %s, %v", got, err)
	}
	if got, err := ParseIntent("BANANA"); !errors.Is(err, ErrUnknownIntent) || got != IntentOther {
		t.Errorf("labels outside the taxonomy must report ErrUnknownIntent, got %s, %v", got, err)
	}
}

func TestPlaybookStepValidate(t *testing.T) {
	step := PlaybookStep{Kind: PlaybookStepText, Body: "Nossa clínica fica na Av. Paulista, 1000", StepOrder: 0}
	if err := step.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	step = PlaybookStep{Kind: PlaybookStepImage, StepOrder: 1}
	if err := step.Validate(); err != ErrMissingStepMediaURL {
		t.Errorf("image without media URL: got %v, want %v", err, ErrMissingStepMediaURL)
	}

	step = PlaybookStep{Kind: PlaybookStepLocation, StepOrder: 2}
	if err := step.Validate(); err != ErrMissingStepLocation {
		t.Errorf("location without coordinates: got %v, want %v", err, ErrMissingStepLocation)
	}

	step = PlaybookStep{Kind: "audio", Body: "x"}
	if err := step.Validate(); err != ErrInvalidStepKind {
		t.Errorf("unknown kind: got %v, want %v", err, ErrInvalidStepKind)
	}

	step = PlaybookStep{Kind: PlaybookStepText, Body: "x", StepOrder: -1}
	if err := step.Validate(); err != ErrNegativeStepOrder {
		t.Errorf("negative order: got %v, want %v", err, ErrNegativeStepOrder)
	}
}

func TestToolParamsValidate(t *testing.T) {
	if err := (&SearchPlaybooksParams{Query: "tabela de preços"}).Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := (&SearchPlaybooksParams{}).Validate(); err == nil {
		t.Error("expected error for empty query")
	}
	if err := (&GetPlaybookMessagesParams{}).Validate(); err == nil {
		t.Error("expected error for missing playbook_id")
	}
	if err := (&SendPlaybookMessageParams{PlaybookID: "pb", StepOrder: -1}).Validate(); err == nil {
		t.Error("expected error for negative step_order")
	}
	if err := (&SendPlaybookMessageParams{PlaybookID: "pb", StepOrder: 0}).Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
