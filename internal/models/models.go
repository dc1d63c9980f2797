// Package models defines the core data structures for LeadFlow.
//
// It includes leads, conversations, turns, audit records, and the job payload
// exchanged between the ingestion boundary and the orchestration workers.
package models

import (
	"errors"
	"time"
)

// ConversationStatus describes the lifecycle state of a conversation.
type ConversationStatus string

const (
	// ConversationStatusActive means the conversation is being handled by the bot.
	ConversationStatusActive ConversationStatus = "active"
	// ConversationStatusEscalated means the conversation was flagged for human handoff.
	ConversationStatusEscalated ConversationStatus = "escalated"
	// ConversationStatusClosed means the conversation was closed.
	ConversationStatusClosed ConversationStatus = "closed"
)

// TurnDirection distinguishes inbound lead messages from outbound replies.
type TurnDirection string

const (
	// TurnDirectionInbound marks a message received from the lead.
	TurnDirectionInbound TurnDirection = "inbound"
	// TurnDirectionOutbound marks a message sent to the lead.
	TurnDirectionOutbound TurnDirection = "outbound"
)

// Validation constants for input validation
const (
	// MaxMessageBodyLength defines the maximum allowed length for message content
	MaxMessageBodyLength = 4096
	// MaxLeadScore is the upper clamp for the maturity score
	MaxLeadScore = 100
	// MinLeadScore is the lower bound for the maturity score
	MinLeadScore = 0
	// MinPhoneNumberDigits is the minimum number of digits in a valid phone number
	MinPhoneNumberDigits = 6
)

// Error variables for better error handling and testability
var (
	ErrEmptyChatID          = errors.New("chat id cannot be empty")
	ErrEmptyPhoneNumber     = errors.New("phone number cannot be empty")
	ErrEmptyMessageBody     = errors.New("message body cannot be empty")
	ErrMessageBodyTooLong   = errors.New("message body exceeds maximum length")
	ErrUnknownIntent        = errors.New("intent label is not part of the taxonomy")
	ErrLeadNotFound         = errors.New("lead not found")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrPlaybookNotFound     = errors.New("playbook not found")
	ErrPlaybookStepNotFound = errors.New("playbook step not found")
)

// Lead is a prospective customer identified by phone number.
// DisplayName defaults to the phone number until a real name is extracted.
type Lead struct {
	ID            string    `json:"id"`
	PhoneNumber   string    `json:"phone_number"`
	DisplayName   string    `json:"display_name"`
	MaturityScore int       `json:"maturity_score"`
	Source        string    `json:"source"`
	CreatedAt     time.Time `json:"created_at"`
}

// HasName reports whether a real name was captured for the lead.
// Until then the display name equals the phone number.
func (l *Lead) HasName() bool {
	return l.DisplayName != "" && l.DisplayName != l.PhoneNumber
}

// Conversation is one ongoing dialogue tied to an external chat identifier.
type Conversation struct {
	ID            string             `json:"id"`
	ChatID        string             `json:"chat_id"`
	LeadID        string             `json:"lead_id"`
	Status        ConversationStatus `json:"status"`
	IsUrgent      bool               `json:"is_urgent"`
	CreatedAt     time.Time          `json:"created_at"`
	LastMessageAt time.Time          `json:"last_message_at"`
}

// Turn is an immutable record of one message exchanged in a conversation.
type Turn struct {
	ID                string        `json:"id"`
	ConversationID    string        `json:"conversation_id"`
	Direction         TurnDirection `json:"direction"`
	Content           string        `json:"content"`
	ExternalMessageID string        `json:"external_message_id,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
}

// InteractionLog is a business-level audit record of one orchestrator run:
// what happened and why, distinct from the raw turns.
type InteractionLog struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Intent         Intent    `json:"intent"`
	Summary        string    `json:"summary"`
	CreatedAt      time.Time `json:"created_at"`
}

// CompletionUsage records one LLM call for cost and observability purposes.
// It never feeds back into decision logic.
type CompletionUsage struct {
	ID               string    `json:"id"`
	ConversationID   string    `json:"conversation_id,omitempty"`
	Kind             string    `json:"kind"`
	Prompt           string    `json:"prompt"`
	Response         string    `json:"response"`
	PromptTokens     int64     `json:"prompt_tokens"`
	CompletionTokens int64     `json:"completion_tokens"`
	LatencyMS        int64     `json:"latency_ms"`
	CreatedAt        time.Time `json:"created_at"`
}

// InboundMessage is the job payload enqueued by the ingestion boundary and
// consumed by the orchestration worker.
type InboundMessage struct {
	ChatID            string `json:"chat_id"`
	PhoneNumber       string `json:"phone_number"`
	Text              string `json:"text"`
	ExternalMessageID string `json:"external_message_id,omitempty"`
}

// Validate checks that an inbound message carries everything the orchestrator needs.
func (m *InboundMessage) Validate() error {
	if m.ChatID == "" {
		return ErrEmptyChatID
	}
	if m.PhoneNumber == "" {
		return ErrEmptyPhoneNumber
	}
	if m.Text == "" {
		return ErrEmptyMessageBody
	}
	if len(m.Text) > MaxMessageBodyLength {
		return ErrMessageBodyTooLong
	}
	return nil
}

// InboundEvent is one message received from the messaging gateway, as emitted
// by the transport services before validation and enqueueing.
type InboundEvent struct {
	ChatID            string `json:"chat_id"`
	From              string `json:"from"`
	Body              string `json:"body"`
	ExternalMessageID string `json:"external_message_id,omitempty"`
	Timestamp         int64  `json:"timestamp"`
	HasMedia          bool   `json:"has_media"`
}

// ProcessingResult is returned by the orchestrator for downstream
// notification and escalation logic to act on.
type ProcessingResult struct {
	NewScore            int      `json:"new_score"`
	Phase               Phase    `json:"phase"`
	Intent              Intent   `json:"intent"`
	DeliveredMessageIDs []string `json:"delivered_message_ids"`
	FallbackUsed        bool     `json:"fallback_used"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
	// APIStatusQueued indicates the request was accepted for asynchronous processing.
	APIStatusQueued APIStatus = "queued"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Queued creates an API response for a request accepted onto the job queue.
func Queued(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusQueued), Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
