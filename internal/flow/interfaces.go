package flow

import (
	"context"

	"github.com/leadflow/leadflow/internal/vector"
)

// Delivery sends outbound messages through the messaging gateway. The
// messaging service implementations satisfy this.
type Delivery interface {
	SendText(ctx context.Context, chatID, text string) (string, error)
	SendImage(ctx context.Context, chatID, mediaURL, caption string) (string, error)
	SendLocation(ctx context.Context, chatID string, latitude, longitude float64, name string) (string, error)
}

// ContextIndex is the semantic similarity store over past turns and
// playbooks. All methods are best-effort from the orchestrator's point of
// view: a failing index degrades retrieval, it never aborts a run.
type ContextIndex interface {
	UpsertTurn(ctx context.Context, turnID, chatID, leadID, body string) error
	UpsertPlaybook(ctx context.Context, playbookID, name, description string) error
	SearchTurns(ctx context.Context, chatID, query string, k int) ([]vector.TurnHit, error)
	SearchPlaybooks(ctx context.Context, query string, k int) ([]vector.PlaybookHit, error)
}
