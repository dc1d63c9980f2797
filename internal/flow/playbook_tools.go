package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/shared"

	"github.com/leadflow/leadflow/internal/models"
	"github.com/leadflow/leadflow/internal/store"
)

// defaultSearchTopK bounds search_playbooks results when the model omits top_k.
const defaultSearchTopK = 3

// DeliveredStep records one playbook step that was sent during response
// generation, so the orchestrator can persist it as its own outbound turn.
type DeliveredStep struct {
	MessageID string
	Content   string
}

// PlaybookTools implements the three capabilities exposed to the model during
// response generation. Each has a narrow typed contract; dispatch happens in
// the responder's tool loop.
type PlaybookTools struct {
	repo     store.Repository
	index    ContextIndex
	delivery Delivery
}

// NewPlaybookTools creates the tool set over the given collaborators.
func NewPlaybookTools(repo store.Repository, index ContextIndex, delivery Delivery) *PlaybookTools {
	return &PlaybookTools{repo: repo, index: index, delivery: delivery}
}

// Definitions returns the OpenAI tool definitions for the playbook tools.
func (pt *PlaybookTools) Definitions() []openai.ChatCompletionToolParam {
	return []openai.ChatCompletionToolParam{
		{
			Type: "function",
			Function: shared.FunctionDefinitionParam{
				Name:        string(models.ToolSearchPlaybooks),
				Description: openai.String("Search the library of pre-approved message sequences (playbooks) by topic. Returns ranked playbook ids with titles."),
				Parameters: shared.FunctionParameters{
					"type": "object",
					"properties": map[string]interface{}{
						"query": map[string]interface{}{
							"type":        "string",
							"description": "Free-text description of the content being looked for, e.g. 'clinic location' or 'pricing sheet'",
						},
						"top_k": map[string]interface{}{
							"type":        "integer",
							"description": "Maximum number of results to return (default 3)",
						},
					},
					"required": []string{"query"},
				},
			},
		},
		{
			Type: "function",
			Function: shared.FunctionDefinitionParam{
				Name:        string(models.ToolGetPlaybookMessages),
				Description: openai.String("List the ordered message steps of one playbook, including each step's kind (text/image/video/location) and order index."),
				Parameters: shared.FunctionParameters{
					"type": "object",
					"properties": map[string]interface{}{
						"playbook_id": map[string]interface{}{
							"type":        "string",
							"description": "ID of the playbook, as returned by search_playbooks",
						},
					},
					"required": []string{"playbook_id"},
				},
			},
		},
		{
			Type: "function",
			Function: shared.FunctionDefinitionParam{
				Name:        string(models.ToolSendPlaybookMessage),
				Description: openai.String("Send one pre-approved playbook step to the lead verbatim. Use for compliance-checked content such as location pins or pricing sheets."),
				Parameters: shared.FunctionParameters{
					"type": "object",
					"properties": map[string]interface{}{
						"playbook_id": map[string]interface{}{
							"type":        "string",
							"description": "ID of the playbook containing the step",
						},
						"step_order": map[string]interface{}{
							"type":        "integer",
							"description": "Order index of the step to send, as returned by get_playbook_messages",
						},
					},
					"required": []string{"playbook_id", "step_order"},
				},
			},
		},
	}
}

// ExecuteSearch runs search_playbooks. When the semantic index is unavailable
// it falls back to listing the registered playbooks.
func (pt *PlaybookTools) ExecuteSearch(ctx context.Context, params models.SearchPlaybooksParams) (string, error) {
	if err := params.Validate(); err != nil {
		return "", err
	}
	topK := params.TopK
	if topK == 0 {
		topK = defaultSearchTopK
	}

	var hits []models.PlaybookSearchHit
	if pt.index != nil {
		indexHits, err := pt.index.SearchPlaybooks(ctx, params.Query, topK)
		if err != nil {
			slog.Warn("PlaybookTools.ExecuteSearch: index search failed, falling back to playbook listing", "query", params.Query, "error", err)
		}
		for _, h := range indexHits {
			hits = append(hits, models.PlaybookSearchHit{
				PlaybookID:  h.PlaybookID,
				Title:       h.Name,
				Description: h.Description,
				Score:       h.Score,
			})
		}
	}
	if len(hits) == 0 {
		playbooks, err := pt.repo.ListPlaybooks()
		if err != nil {
			return "", fmt.Errorf("failed to list playbooks: %w", err)
		}
		for i, p := range playbooks {
			if i >= topK {
				break
			}
			hits = append(hits, models.PlaybookSearchHit{PlaybookID: p.ID, Title: p.Title, Description: p.Description})
		}
	}
	if len(hits) == 0 {
		return "No playbooks matched the query.", nil
	}

	payload, err := json.Marshal(hits)
	if err != nil {
		return "", fmt.Errorf("failed to encode search results: %w", err)
	}
	return string(payload), nil
}

// ExecuteGetMessages runs get_playbook_messages.
func (pt *PlaybookTools) ExecuteGetMessages(ctx context.Context, params models.GetPlaybookMessagesParams) (string, error) {
	if err := params.Validate(); err != nil {
		return "", err
	}
	pb, err := pt.repo.GetPlaybook(params.PlaybookID)
	if err != nil {
		return "", fmt.Errorf("failed to load playbook: %w", err)
	}
	if pb == nil {
		return "", models.ErrPlaybookNotFound
	}
	steps, err := pt.repo.PlaybookSteps(params.PlaybookID)
	if err != nil {
		return "", fmt.Errorf("failed to load playbook steps: %w", err)
	}
	if len(steps) == 0 {
		return fmt.Sprintf("Playbook %s has no steps.", params.PlaybookID), nil
	}

	type stepView struct {
		StepOrder int                     `json:"step_order"`
		Kind      models.PlaybookStepKind `json:"kind"`
		Body      string                  `json:"body,omitempty"`
		DelayMS   int                     `json:"delay_ms,omitempty"`
	}
	views := make([]stepView, 0, len(steps))
	for _, s := range steps {
		views = append(views, stepView{StepOrder: s.StepOrder, Kind: s.Kind, Body: s.Body, DelayMS: s.DelayMS})
	}
	payload, err := json.Marshal(views)
	if err != nil {
		return "", fmt.Errorf("failed to encode playbook steps: %w", err)
	}
	return string(payload), nil
}

// ExecuteSend runs send_playbook_message: it loads the step and delivers it
// verbatim through the delivery adapter, honoring the step's optional delay.
func (pt *PlaybookTools) ExecuteSend(ctx context.Context, chatID string, params models.SendPlaybookMessageParams) (string, *DeliveredStep, error) {
	if err := params.Validate(); err != nil {
		return "", nil, err
	}
	step, err := pt.repo.GetPlaybookStep(params.PlaybookID, params.StepOrder)
	if err != nil {
		return "", nil, fmt.Errorf("failed to load playbook step: %w", err)
	}
	if step == nil {
		return "", nil, models.ErrPlaybookStepNotFound
	}

	if step.DelayMS > 0 {
		select {
		case <-time.After(time.Duration(step.DelayMS) * time.Millisecond):
		case <-ctx.Done():
			return "", nil, ctx.Err()
		}
	}

	var messageID string
	switch step.Kind {
	case models.PlaybookStepText:
		messageID, err = pt.delivery.SendText(ctx, chatID, step.Body)
	case models.PlaybookStepImage, models.PlaybookStepVideo:
		messageID, err = pt.delivery.SendImage(ctx, chatID, step.MediaURL, step.Body)
	case models.PlaybookStepLocation:
		messageID, err = pt.delivery.SendLocation(ctx, chatID, step.Latitude, step.Longitude, step.Body)
	default:
		return "", nil, models.ErrInvalidStepKind
	}
	if err != nil {
		return "", nil, fmt.Errorf("failed to deliver playbook step: %w", err)
	}

	slog.Info("PlaybookTools.ExecuteSend: delivered playbook step", "chatID", chatID, "playbookID", params.PlaybookID, "stepOrder", params.StepOrder, "kind", step.Kind, "messageID", messageID)
	delivered := &DeliveredStep{MessageID: messageID, Content: stepContent(step)}
	result := fmt.Sprintf("Step %d of playbook %s was sent to the lead.", params.StepOrder, params.PlaybookID)
	return result, delivered, nil
}

// stepContent is the turn content recorded for a delivered step.
func stepContent(step *models.PlaybookStep) string {
	switch step.Kind {
	case models.PlaybookStepText:
		return step.Body
	case models.PlaybookStepImage, models.PlaybookStepVideo:
		if step.Body != "" {
			return fmt.Sprintf("[%s] %s (%s)", step.Kind, step.Body, step.MediaURL)
		}
		return fmt.Sprintf("[%s] %s", step.Kind, step.MediaURL)
	case models.PlaybookStepLocation:
		return fmt.Sprintf("[location] %s (%.6f, %.6f)", step.Body, step.Latitude, step.Longitude)
	default:
		return step.Body
	}
}
