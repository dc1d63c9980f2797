package twiliowhatsapp

import (
	"context"
	"testing"
)

func TestNewClientRequiresCredentials(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_FROM_NUMBER", "")

	if _, err := NewClient(); err == nil {
		t.Fatal("expected error without credentials")
	}
	if _, err := NewClient(WithAccountSID("AC123"), WithAuthToken("tok")); err == nil {
		t.Fatal("expected error without from number")
	}
	if _, err := NewClient(WithAccountSID("AC123"), WithAuthToken("tok"), WithFromWhats("whatsapp:+15550001111")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMockClientRecordsSends(t *testing.T) {
	m := NewMockClient()
	ctx := context.Background()

	sid, err := m.SendText(ctx, "5511999990000", "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sid == "" {
		t.Error("expected a message SID")
	}
	if _, err := m.SendLocation(ctx, "5511999990000", -23.5, -46.6, "Clinic"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(m.SentMessages) != 2 || m.SentMessages[1].Kind != "location" {
		t.Errorf("unexpected recorded sends: %+v", m.SentMessages)
	}
}
