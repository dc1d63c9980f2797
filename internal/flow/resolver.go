package flow

import (
	"fmt"
	"log/slog"

	"github.com/leadflow/leadflow/internal/models"
	"github.com/leadflow/leadflow/internal/store"
)

// StateResolver maps an external chat identifier to its Conversation+Lead
// pair, creating both atomically on first contact.
type StateResolver struct {
	repo store.Repository
}

// NewStateResolver creates a resolver over the given repository.
func NewStateResolver(repo store.Repository) *StateResolver {
	return &StateResolver{repo: repo}
}

// Resolve loads the conversation and lead for chatID, creating both on first
// contact. Creation is race-safe: concurrent calls for the same unseen chatID
// yield the same single pair.
func (sr *StateResolver) Resolve(chatID, phoneNumber, source string) (models.Conversation, models.Lead, error) {
	conv, lead, created, err := sr.repo.ResolveConversation(chatID, phoneNumber, source)
	if err != nil {
		return models.Conversation{}, models.Lead{}, fmt.Errorf("failed to resolve conversation: %w", err)
	}
	if created {
		slog.Info("StateResolver.Resolve: first contact, created conversation and lead", "chatID", chatID, "conversationID", conv.ID, "leadID", lead.ID)
	}
	return conv, lead, nil
}
