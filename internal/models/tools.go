// Package models defines tool structures for LLM function calling.
package models

import (
	"fmt"
)

// ToolName identifies a capability exposed to the LLM during response generation.
type ToolName string

const (
	// ToolSearchPlaybooks searches the playbook library by semantic similarity.
	ToolSearchPlaybooks ToolName = "search_playbooks"
	// ToolGetPlaybookMessages lists the ordered steps of one playbook.
	ToolGetPlaybookMessages ToolName = "get_playbook_messages"
	// ToolSendPlaybookMessage sends one pre-approved playbook step verbatim.
	ToolSendPlaybookMessage ToolName = "send_playbook_message"
)

// SearchPlaybooksParams defines the parameters for the search_playbooks tool call.
type SearchPlaybooksParams struct {
	Query string `json:"query"` // Free-text description of the content being looked for
	TopK  int    `json:"top_k,omitempty"`
}

// Validate ensures the search parameters are usable.
func (p *SearchPlaybooksParams) Validate() error {
	if p.Query == "" {
		return fmt.Errorf("query is required for %s", ToolSearchPlaybooks)
	}
	if p.TopK < 0 {
		return fmt.Errorf("top_k cannot be negative")
	}
	return nil
}

// GetPlaybookMessagesParams defines the parameters for the get_playbook_messages tool call.
type GetPlaybookMessagesParams struct {
	PlaybookID string `json:"playbook_id"`
}

// Validate ensures a playbook ID was provided.
func (p *GetPlaybookMessagesParams) Validate() error {
	if p.PlaybookID == "" {
		return fmt.Errorf("playbook_id is required for %s", ToolGetPlaybookMessages)
	}
	return nil
}

// SendPlaybookMessageParams defines the parameters for the send_playbook_message tool call.
type SendPlaybookMessageParams struct {
	PlaybookID string `json:"playbook_id"`
	StepOrder  int    `json:"step_order"`
}

// Validate ensures the send parameters identify exactly one step.
func (p *SendPlaybookMessageParams) Validate() error {
	if p.PlaybookID == "" {
		return fmt.Errorf("playbook_id is required for %s", ToolSendPlaybookMessage)
	}
	if p.StepOrder < 0 {
		return fmt.Errorf("step_order cannot be negative")
	}
	return nil
}

// PlaybookSearchHit is one ranked result returned to the model by search_playbooks.
type PlaybookSearchHit struct {
	PlaybookID  string  `json:"playbook_id"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Score       float32 `json:"score"`
}
