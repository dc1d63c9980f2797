// Package genai wraps the OpenAI chat-completions API for intent
// classification, name extraction, and phase-aware reply generation. Every
// call is recorded through an optional usage recorder so token spend stays
// auditable per conversation.
package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/leadflow/leadflow/internal/models"
	"github.com/leadflow/leadflow/internal/util"
)

// Errors returned by the client.
var (
	ErrMissingAPIKey = errors.New("genai: OPENAI_API_KEY not set")
	ErrNoChoices     = errors.New("genai: completion returned no choices")
)

const (
	// DefaultModel is used when no model override is configured.
	DefaultModel = openai.ChatModelGPT4oMini

	// maxAttempts bounds retries on transient completion failures.
	maxAttempts = 3

	retryBaseDelay = 500 * time.Millisecond
)

// ToolCallResponse carries the assistant message from a tool-enabled
// completion: any direct content plus the tool calls the model requested.
type ToolCallResponse struct {
	Content   string
	ToolCalls []openai.ChatCompletionMessageToolCall
}

// UsageRecorder persists per-call token usage. The store satisfies this.
type UsageRecorder interface {
	AddCompletionUsage(u models.CompletionUsage) error
}

// ClientInterface defines the completion operations consumed by the flow
// package. Tests substitute a mock implementation.
type ClientInterface interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error)
	GenerateWithTools(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, tools []openai.ChatCompletionToolParam) (*ToolCallResponse, error)
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey   string
	BaseURL  string
	Model    shared.ChatModel
	Recorder UsageRecorder
}

// Option defines a functional option for configuring the client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key, overriding OPENAI_API_KEY.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithBaseURL points the client at a different OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithModel overrides the default completion model.
func WithModel(model shared.ChatModel) Option {
	return func(o *Opts) { o.Model = model }
}

// WithUsageRecorder attaches a recorder that persists token usage per call.
func WithUsageRecorder(r UsageRecorder) Option {
	return func(o *Opts) { o.Recorder = r }
}

// Client wraps the OpenAI chat-completions service.
type Client struct {
	client   openai.Client
	model    shared.ChatModel
	recorder UsageRecorder
}

// NewClient initializes a GenAI client. The API key is taken from the
// OPENAI_API_KEY environment variable unless overridden with WithAPIKey.
func NewClient(options ...Option) (*Client, error) {
	var opts Opts
	for _, opt := range options {
		opt(&opts)
	}
	if opts.APIKey == "" {
		opts.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if opts.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if opts.Model == "" {
		opts.Model = DefaultModel
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}

	slog.Debug("genai.NewClient: client initialized", "model", opts.Model, "hasRecorder", opts.Recorder != nil)
	return &Client{
		client:   openai.NewClient(reqOpts...),
		model:    opts.Model,
		recorder: opts.Recorder,
	}, nil
}

// conversationKey is the context key carrying the conversation ID for usage
// attribution.
type conversationKey struct{}

// WithConversationID returns a context whose completion calls are attributed
// to the given conversation in the usage log.
func WithConversationID(ctx context.Context, conversationID string) context.Context {
	return context.WithValue(ctx, conversationKey{}, conversationID)
}

func conversationIDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(conversationKey{}).(string); ok {
		return v
	}
	return ""
}

// usageKindKey is the context key labeling the completion call kind
// (classify_intent, extract_name, generate_reply) in the usage log.
type usageKindKey struct{}

// WithUsageKind returns a context whose completion calls are labeled with the
// given kind in the usage log.
func WithUsageKind(ctx context.Context, kind string) context.Context {
	return context.WithValue(ctx, usageKindKey{}, kind)
}

func usageKindFrom(ctx context.Context) string {
	if v, ok := ctx.Value(usageKindKey{}).(string); ok {
		return v
	}
	return "completion"
}

// Generate produces a response from a system prompt and a user prompt.
func (c *Client) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(systemPrompt),
		openai.UserMessage(userPrompt),
	}
	return c.GenerateWithMessages(ctx, messages)
}

// GenerateWithMessages produces a response from a full message history.
func (c *Client) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	resp, err := c.complete(ctx, openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: messages,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoices
	}
	return resp.Choices[0].Message.Content, nil
}

// GenerateWithTools produces a response that may include tool calls.
func (c *Client) GenerateWithTools(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, tools []openai.ChatCompletionToolParam) (*ToolCallResponse, error) {
	resp, err := c.complete(ctx, openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: messages,
		Tools:    tools,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, ErrNoChoices
	}
	msg := resp.Choices[0].Message
	return &ToolCallResponse{
		Content:   msg.Content,
		ToolCalls: msg.ToolCalls,
	}, nil
}

// complete performs the completion with bounded retries on transient errors
// and records token usage when a recorder is attached.
func (c *Client) complete(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	var resp *openai.ChatCompletion
	var err error

	start := time.Now()
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err = c.client.Chat.Completions.New(ctx, params)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("genai: completion canceled: %w", ctx.Err())
		}
		if attempt < maxAttempts {
			delay := retryBaseDelay * time.Duration(1<<(attempt-1))
			slog.Warn("Client.complete: completion attempt failed, retrying", "attempt", attempt, "delay", delay, "error", err)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, fmt.Errorf("genai: completion canceled: %w", ctx.Err())
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("genai: completion failed after %d attempts: %w", maxAttempts, err)
	}

	c.recordUsage(ctx, params, resp, time.Since(start))
	return resp, nil
}

func (c *Client) recordUsage(ctx context.Context, params openai.ChatCompletionNewParams, resp *openai.ChatCompletion, latency time.Duration) {
	if c.recorder == nil {
		return
	}
	var response string
	if len(resp.Choices) > 0 {
		response = resp.Choices[0].Message.Content
	}
	rec := models.CompletionUsage{
		ID:               util.GenerateRandomID("usage_", 32),
		ConversationID:   conversationIDFrom(ctx),
		Kind:             usageKindFrom(ctx),
		Prompt:           lastUserPrompt(params.Messages),
		Response:         response,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		LatencyMS:        latency.Milliseconds(),
		CreatedAt:        time.Now(),
	}
	if err := c.recorder.AddCompletionUsage(rec); err != nil {
		slog.Warn("Client.recordUsage: failed to record completion usage", "conversationID", rec.ConversationID, "error", err)
	}
}

// lastUserPrompt extracts the most recent user message for the usage log.
func lastUserPrompt(messages []openai.ChatCompletionMessageParamUnion) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if u := messages[i].OfUser; u != nil {
			if u.Content.OfString.Valid() {
				return u.Content.OfString.Value
			}
		}
	}
	return ""
}
