// Package store provides storage backends for LeadFlow.
//
// It persists leads, conversations, turns, audit records, playbooks, and the
// durable job queue. SQLite is the default backend; PostgreSQL is available
// for production deployments, and an in-memory store backs the tests.
package store

import (
	"strings"
	"time"

	"github.com/leadflow/leadflow/internal/models"
)

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string // database connection string
}

// Option defines a configuration option for a store backend.
type Option func(*Opts)

// WithDSN sets the database connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithPostgresDSN sets a PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DetectDSNType inspects a DSN and reports "postgres" or "sqlite".
// Postgres DSNs use URL schemes or key=value connection strings; anything
// else is treated as a SQLite file path.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres"
	}
	if strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return "postgres"
	}
	return "sqlite"
}

// Repository defines the persistence operations the orchestration engine and
// the API depend on. All writes are durable before the call returns.
type Repository interface {
	// ResolveConversation looks up the conversation for chatID, creating the
	// lead and conversation atomically on first contact. Two concurrent calls
	// with the same unseen chatID must yield the same single pair; created
	// reports whether this call performed the creation.
	ResolveConversation(chatID, phoneNumber, source string) (models.Conversation, models.Lead, bool, error)

	GetConversation(id string) (*models.Conversation, error)
	GetConversationByChatID(chatID string) (*models.Conversation, error)
	ListConversations() ([]models.Conversation, error)
	TouchConversation(id string, lastMessageAt time.Time) error
	SetConversationStatus(id string, status models.ConversationStatus) error

	GetLead(id string) (*models.Lead, error)
	ListLeads() ([]models.Lead, error)
	UpdateLeadName(id, displayName string) error
	// RaiseLeadScore writes max(current, min(score, 100)) and returns the
	// stored value, so concurrent turns can never lose or regress a score.
	RaiseLeadScore(id string, score int) (int, error)

	AddTurn(t models.Turn) error
	// RecentTurns returns up to n most recent turns in chronological order.
	RecentTurns(conversationID string, n int) ([]models.Turn, error)

	AddInteractionLog(entry models.InteractionLog) error
	ListInteractionLogs(conversationID string) ([]models.InteractionLog, error)
	AddCompletionUsage(u models.CompletionUsage) error

	AddPlaybook(p models.Playbook) error
	AddPlaybookStep(s models.PlaybookStep) error
	GetPlaybook(id string) (*models.Playbook, error)
	ListPlaybooks() ([]models.Playbook, error)
	PlaybookSteps(playbookID string) ([]models.PlaybookStep, error)
	GetPlaybookStep(playbookID string, stepOrder int) (*models.PlaybookStep, error)
}
