package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	openai "github.com/openai/openai-go"

	"github.com/leadflow/leadflow/internal/genai"
)

// scriptedClient is a test double for the GenAI client. Calls are routed by
// the system prompt: classification, name extraction, and solicitation each
// get their scripted output, and tool-mode calls walk toolScript in order.
type scriptedClient struct {
	mu sync.Mutex

	intentJSON   string
	nameJSON     string
	solicitation string
	reply        string

	generateErr error
	toolsErr    error

	// toolScript, when non-empty, supplies GenerateWithTools responses in
	// order; after it is exhausted the reply text is returned.
	toolScript []*genai.ToolCallResponse
	toolCalls  int

	generateCalls []string
}

func newScriptedClient() *scriptedClient {
	return &scriptedClient{
		intentJSON: `{"intent": "OTHER", "confidence": 50}`,
		nameJSON:   `{"name": null, "confidence": 0, "source": ""}`,
		reply:      "What brings you here today?",
	}
}

func (c *scriptedClient) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generateCalls = append(c.generateCalls, systemPrompt)
	if c.generateErr != nil {
		return "", c.generateErr
	}
	switch {
	case strings.Contains(systemPrompt, "intent classifier"):
		return c.intentJSON, nil
	case strings.Contains(systemPrompt, "discloses the sender's own name"):
		return c.nameJSON, nil
	case strings.Contains(systemPrompt, "asking for the lead's name"):
		if c.solicitation == "" {
			return "By the way, what's your name?", nil
		}
		return c.solicitation, nil
	default:
		return c.reply, nil
	}
}

func (c *scriptedClient) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generateErr != nil {
		return "", c.generateErr
	}
	return c.reply, nil
}

func (c *scriptedClient) GenerateWithTools(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, tools []openai.ChatCompletionToolParam) (*genai.ToolCallResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.toolsErr != nil {
		return nil, c.toolsErr
	}
	if c.toolCalls < len(c.toolScript) {
		resp := c.toolScript[c.toolCalls]
		c.toolCalls++
		return resp, nil
	}
	return &genai.ToolCallResponse{Content: c.reply}, nil
}

var errDeliveryDown = errors.New("delivery gateway unavailable")

type sentMessage struct {
	ChatID  string
	Kind    string
	Content string
}

// fakeDelivery records outbound sends and hands out sequential message IDs.
type fakeDelivery struct {
	mu     sync.Mutex
	sent   []sentMessage
	nextID int
	fail   bool
}

func (d *fakeDelivery) record(chatID, kind, content string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail {
		return "", errDeliveryDown
	}
	d.nextID++
	d.sent = append(d.sent, sentMessage{ChatID: chatID, Kind: kind, Content: content})
	return fmt.Sprintf("wamid-%d", d.nextID), nil
}

func (d *fakeDelivery) SendText(ctx context.Context, chatID, text string) (string, error) {
	return d.record(chatID, "text", text)
}

func (d *fakeDelivery) SendImage(ctx context.Context, chatID, mediaURL, caption string) (string, error) {
	return d.record(chatID, "image", mediaURL)
}

func (d *fakeDelivery) SendLocation(ctx context.Context, chatID string, latitude, longitude float64, name string) (string, error) {
	return d.record(chatID, "location", name)
}

func (d *fakeDelivery) sentMessages() []sentMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]sentMessage, len(d.sent))
	copy(out, d.sent)
	return out
}

// toolCall builds a tool call the way the completion API returns one.
func toolCall(id, name, arguments string) openai.ChatCompletionMessageToolCall {
	var tc openai.ChatCompletionMessageToolCall
	tc.ID = id
	tc.Function.Name = name
	tc.Function.Arguments = arguments
	return tc
}
