package whatsapp

import (
	"context"
	"testing"
)

func TestMockClientReturnsMessageIDs(t *testing.T) {
	m := NewMockClient()
	ctx := context.Background()

	id1, err := m.SendText(ctx, "5511999990000", "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id2, err := m.SendImage(ctx, "5511999990000", "https://example.com/a.jpg", "caption")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id1 == "" || id2 == "" || id1 == id2 {
		t.Errorf("expected distinct non-empty message IDs, got %q and %q", id1, id2)
	}
}

func TestClientSendRequiresInitialization(t *testing.T) {
	c := &Client{}
	if _, err := c.SendText(context.Background(), "5511999990000", "hi"); err == nil {
		t.Fatal("expected error for uninitialized client")
	}
	if _, err := c.SendText(context.Background(), "", "hi"); err == nil {
		t.Fatal("expected error for empty recipient")
	}
}
