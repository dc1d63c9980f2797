package genai

import (
	"context"
	"os"
	"testing"

	openai "github.com/openai/openai-go"
)

func TestNewClientRequiresAPIKey(t *testing.T) {
	old := os.Getenv("OPENAI_API_KEY")
	os.Unsetenv("OPENAI_API_KEY")
	defer os.Setenv("OPENAI_API_KEY", old)

	if _, err := NewClient(); err != ErrMissingAPIKey {
		t.Errorf("expected ErrMissingAPIKey, got %v", err)
	}
	if _, err := NewClient(WithAPIKey("sk-test")); err != nil {
		t.Errorf("explicit key should succeed: %v", err)
	}
}

func TestConversationIDContext(t *testing.T) {
	ctx := context.Background()
	if got := conversationIDFrom(ctx); got != "" {
		t.Errorf("expected empty conversation ID, got %q", got)
	}
	ctx = WithConversationID(ctx, "conv-123")
	if got := conversationIDFrom(ctx); got != "conv-123" {
		t.Errorf("expected conv-123, got %q", got)
	}
}

func TestUsageKindContext(t *testing.T) {
	ctx := context.Background()
	if got := usageKindFrom(ctx); got != "completion" {
		t.Errorf("expected default kind, got %q", got)
	}
	ctx = WithUsageKind(ctx, "classify_intent")
	if got := usageKindFrom(ctx); got != "classify_intent" {
		t.Errorf("expected classify_intent, got %q", got)
	}
}

func TestLastUserPrompt(t *testing.T) {
	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage("you are a sales assistant"),
		openai.UserMessage("first message"),
		openai.AssistantMessage("a reply"),
		openai.UserMessage("second message"),
	}
	if got := lastUserPrompt(messages); got != "second message" {
		t.Errorf("expected second message, got %q", got)
	}
	if got := lastUserPrompt(nil); got != "" {
		t.Errorf("expected empty prompt for no messages, got %q", got)
	}
}
