package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/leadflow/leadflow/internal/models"
	"github.com/leadflow/leadflow/internal/store"
)

const (
	// DefaultContextWindow is the number of recent turns included in the prompt.
	DefaultContextWindow = 5
	// DefaultSemanticK is the number of semantically retrieved items included.
	DefaultSemanticK = 3

	// noHistorySentinel keeps prompt templates well-formed on first contact.
	noHistorySentinel = "No prior conversation history."
)

// ContextAssembler builds the prompt context window from the turn history and
// the semantic index.
type ContextAssembler struct {
	repo      store.Repository
	index     ContextIndex
	window    int
	semanticK int
}

// NewContextAssembler creates a context assembler. index may be nil, in which
// case only the recency window is used.
func NewContextAssembler(repo store.Repository, index ContextIndex, window, semanticK int) *ContextAssembler {
	if window <= 0 {
		window = DefaultContextWindow
	}
	if semanticK <= 0 {
		semanticK = DefaultSemanticK
	}
	return &ContextAssembler{repo: repo, index: index, window: window, semanticK: semanticK}
}

// Assemble returns the context string for one inbound message: the last N
// turns chronologically, plus up to k semantically similar earlier turns.
// Semantic retrieval is best-effort; index failures degrade to the recency
// window only. A store failure is returned to the caller.
func (ca *ContextAssembler) Assemble(ctx context.Context, conversationID, chatID, inboundText string) (string, error) {
	turns, err := ca.repo.RecentTurns(conversationID, ca.window)
	if err != nil {
		return "", fmt.Errorf("failed to load recent turns: %w", err)
	}

	var b strings.Builder
	if len(turns) == 0 {
		b.WriteString(noHistorySentinel)
	} else {
		b.WriteString("Recent conversation:\n")
		for _, t := range turns {
			b.WriteString(formatTurn(t))
			b.WriteByte('\n')
		}
	}

	ca.appendSemanticHits(ctx, &b, chatID, inboundText, turns)
	return b.String(), nil
}

func (ca *ContextAssembler) appendSemanticHits(ctx context.Context, b *strings.Builder, chatID, inboundText string, window []models.Turn) {
	if ca.index == nil {
		return
	}

	hits, err := ca.index.SearchTurns(ctx, chatID, inboundText, ca.semanticK)
	if err != nil {
		slog.Warn("ContextAssembler.appendSemanticHits: semantic retrieval failed, degrading to window-only context", "chatID", chatID, "error", err)
		return
	}

	inWindow := make(map[string]bool, len(window))
	for _, t := range window {
		inWindow[t.ID] = true
	}

	var related []string
	for _, h := range hits {
		if inWindow[h.TurnID] {
			continue
		}
		related = append(related, "- "+h.Body)
	}
	if len(related) == 0 {
		return
	}
	b.WriteString("\nRelated earlier messages:\n")
	b.WriteString(strings.Join(related, "\n"))
	b.WriteByte('\n')
}

func formatTurn(t models.Turn) string {
	speaker := "Lead"
	if t.Direction == models.TurnDirectionOutbound {
		speaker = "Assistant"
	}
	return speaker + ": " + t.Content
}
