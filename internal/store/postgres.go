// Package store provides storage backends for LeadFlow.
//
// This file implements the PostgreSQL-backed repository.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/google/uuid"
	"github.com/leadflow/leadflow/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// Compile-time check that PostgresStore implements Repository.
var _ Repository = (*PostgresStore)(nil)

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

// Close closes the underlying database handle.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// ResolveConversation implements the atomic create-if-absent contract; see the
// SQLite implementation for the race semantics.
func (s *PostgresStore) ResolveConversation(chatID, phoneNumber, source string) (models.Conversation, models.Lead, bool, error) {
	var conv models.Conversation
	var lead models.Lead

	if existing, err := s.GetConversationByChatID(chatID); err != nil {
		return conv, lead, false, err
	} else if existing != nil {
		l, err := s.GetLead(existing.LeadID)
		if err != nil {
			return conv, lead, false, err
		}
		if l == nil {
			return conv, lead, false, fmt.Errorf("conversation %s references missing lead %s", existing.ID, existing.LeadID)
		}
		return *existing, *l, false, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return conv, lead, false, fmt.Errorf("begin resolve transaction failed: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	created := false

	_, err = tx.Exec(
		`INSERT INTO leads (id, phone_number, display_name, maturity_score, source, created_at)
		 VALUES ($1, $2, $3, 0, $4, $5) ON CONFLICT (phone_number) DO NOTHING`,
		uuid.NewString(), phoneNumber, phoneNumber, nilIfEmpty(source), now,
	)
	if err != nil {
		return conv, lead, false, fmt.Errorf("insert lead failed: %w", err)
	}
	lead, err = scanLead(tx.QueryRow(
		`SELECT id, phone_number, display_name, maturity_score, source, created_at FROM leads WHERE phone_number = $1`,
		phoneNumber,
	))
	if err != nil {
		return conv, lead, false, fmt.Errorf("read lead back failed: %w", err)
	}

	res, err := tx.Exec(
		`INSERT INTO conversations (id, chat_id, lead_id, status, is_urgent, created_at, last_message_at)
		 VALUES ($1, $2, $3, 'active', FALSE, $4, $5) ON CONFLICT (chat_id) DO NOTHING`,
		uuid.NewString(), chatID, lead.ID, now, now,
	)
	if err != nil {
		return conv, lead, false, fmt.Errorf("insert conversation failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		created = true
	}
	conv, err = scanConversation(tx.QueryRow(
		`SELECT id, chat_id, lead_id, status, is_urgent, created_at, last_message_at FROM conversations WHERE chat_id = $1`,
		chatID,
	))
	if err != nil {
		return conv, lead, false, fmt.Errorf("read conversation back failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return conv, lead, false, fmt.Errorf("commit resolve transaction failed: %w", err)
	}
	slog.Debug("PostgresStore.ResolveConversation", "chatID", chatID, "created", created, "leadID", lead.ID)
	return conv, lead, created, nil
}

func (s *PostgresStore) GetConversation(id string) (*models.Conversation, error) {
	c, err := scanConversation(s.db.QueryRow(
		`SELECT id, chat_id, lead_id, status, is_urgent, created_at, last_message_at FROM conversations WHERE id = $1`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation failed: %w", err)
	}
	return &c, nil
}

func (s *PostgresStore) GetConversationByChatID(chatID string) (*models.Conversation, error) {
	c, err := scanConversation(s.db.QueryRow(
		`SELECT id, chat_id, lead_id, status, is_urgent, created_at, last_message_at FROM conversations WHERE chat_id = $1`, chatID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation by chat id failed: %w", err)
	}
	return &c, nil
}

func (s *PostgresStore) ListConversations() ([]models.Conversation, error) {
	rows, err := s.db.Query(
		`SELECT id, chat_id, lead_id, status, is_urgent, created_at, last_message_at FROM conversations ORDER BY last_message_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list conversations failed: %w", err)
	}
	defer rows.Close()

	var conversations []models.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation failed: %w", err)
		}
		conversations = append(conversations, c)
	}
	return conversations, rows.Err()
}

func (s *PostgresStore) TouchConversation(id string, lastMessageAt time.Time) error {
	_, err := s.db.Exec(`UPDATE conversations SET last_message_at = $1 WHERE id = $2`, lastMessageAt, id)
	if err != nil {
		return fmt.Errorf("touch conversation failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetConversationStatus(id string, status models.ConversationStatus) error {
	_, err := s.db.Exec(`UPDATE conversations SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("set conversation status failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetLead(id string) (*models.Lead, error) {
	l, err := scanLead(s.db.QueryRow(
		`SELECT id, phone_number, display_name, maturity_score, source, created_at FROM leads WHERE id = $1`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get lead failed: %w", err)
	}
	return &l, nil
}

func (s *PostgresStore) ListLeads() ([]models.Lead, error) {
	rows, err := s.db.Query(
		`SELECT id, phone_number, display_name, maturity_score, source, created_at FROM leads ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list leads failed: %w", err)
	}
	defer rows.Close()

	var leads []models.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lead failed: %w", err)
		}
		leads = append(leads, l)
	}
	return leads, rows.Err()
}

func (s *PostgresStore) UpdateLeadName(id, displayName string) error {
	_, err := s.db.Exec(`UPDATE leads SET display_name = $1 WHERE id = $2`, displayName, id)
	if err != nil {
		return fmt.Errorf("update lead name failed: %w", err)
	}
	slog.Debug("PostgresStore.UpdateLeadName", "leadID", id)
	return nil
}

// RaiseLeadScore writes greatest(current, least(score, 100)) atomically and
// returns the stored value.
func (s *PostgresStore) RaiseLeadScore(id string, score int) (int, error) {
	var stored int
	err := s.db.QueryRow(
		`UPDATE leads SET maturity_score = GREATEST(maturity_score, LEAST($1, 100)) WHERE id = $2 RETURNING maturity_score`,
		score, id,
	).Scan(&stored)
	if err == sql.ErrNoRows {
		return 0, models.ErrLeadNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("raise lead score failed: %w", err)
	}
	return stored, nil
}

func (s *PostgresStore) AddTurn(t models.Turn) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO turns (id, conversation_id, direction, content, external_message_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		t.ID, t.ConversationID, t.Direction, t.Content, nilIfEmpty(t.ExternalMessageID), t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert turn failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecentTurns(conversationID string, n int) ([]models.Turn, error) {
	rows, err := s.db.Query(
		`SELECT id, conversation_id, direction, content, external_message_id, created_at FROM (
		     SELECT * FROM turns WHERE conversation_id = $1 ORDER BY created_at DESC LIMIT $2
		 ) AS recent ORDER BY created_at ASC`,
		conversationID, n,
	)
	if err != nil {
		return nil, fmt.Errorf("recent turns query failed: %w", err)
	}
	defer rows.Close()

	var turns []models.Turn
	for rows.Next() {
		t, err := scanTurn(rows)
		if err != nil {
			return nil, fmt.Errorf("scan turn failed: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

func (s *PostgresStore) AddInteractionLog(entry models.InteractionLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO interaction_logs (id, conversation_id, intent, summary, created_at) VALUES ($1, $2, $3, $4, $5)`,
		entry.ID, entry.ConversationID, entry.Intent, entry.Summary, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert interaction log failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListInteractionLogs(conversationID string) ([]models.InteractionLog, error) {
	rows, err := s.db.Query(
		`SELECT id, conversation_id, intent, summary, created_at FROM interaction_logs WHERE conversation_id = $1 ORDER BY created_at ASC`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("list interaction logs failed: %w", err)
	}
	defer rows.Close()

	var entries []models.InteractionLog
	for rows.Next() {
		var e models.InteractionLog
		if err := rows.Scan(&e.ID, &e.ConversationID, &e.Intent, &e.Summary, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan interaction log failed: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) AddCompletionUsage(u models.CompletionUsage) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO completion_usage (id, conversation_id, kind, prompt, response, prompt_tokens, completion_tokens, latency_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		u.ID, nilIfEmpty(u.ConversationID), u.Kind, u.Prompt, u.Response, u.PromptTokens, u.CompletionTokens, u.LatencyMS, u.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert completion usage failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) AddPlaybook(p models.Playbook) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	if p.Title == "" {
		return models.ErrEmptyPlaybookTitle
	}
	_, err := s.db.Exec(
		`INSERT INTO playbooks (id, title, description, created_at) VALUES ($1, $2, $3, $4)`,
		p.ID, p.Title, nilIfEmpty(p.Description), p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert playbook failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) AddPlaybookStep(step models.PlaybookStep) error {
	if err := step.Validate(); err != nil {
		return err
	}
	if step.ID == "" {
		step.ID = uuid.NewString()
	}
	if step.CreatedAt.IsZero() {
		step.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO playbook_steps (id, playbook_id, step_order, kind, body, media_url, latitude, longitude, delay_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		step.ID, step.PlaybookID, step.StepOrder, step.Kind, nilIfEmpty(step.Body), nilIfEmpty(step.MediaURL),
		step.Latitude, step.Longitude, step.DelayMS, step.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert playbook step failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPlaybook(id string) (*models.Playbook, error) {
	var p models.Playbook
	var description sql.NullString
	err := s.db.QueryRow(
		`SELECT id, title, description, created_at FROM playbooks WHERE id = $1`, id,
	).Scan(&p.ID, &p.Title, &description, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get playbook failed: %w", err)
	}
	p.Description = description.String
	return &p, nil
}

func (s *PostgresStore) ListPlaybooks() ([]models.Playbook, error) {
	rows, err := s.db.Query(`SELECT id, title, description, created_at FROM playbooks ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list playbooks failed: %w", err)
	}
	defer rows.Close()

	var playbooks []models.Playbook
	for rows.Next() {
		var p models.Playbook
		var description sql.NullString
		if err := rows.Scan(&p.ID, &p.Title, &description, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan playbook failed: %w", err)
		}
		p.Description = description.String
		playbooks = append(playbooks, p)
	}
	return playbooks, rows.Err()
}

func (s *PostgresStore) PlaybookSteps(playbookID string) ([]models.PlaybookStep, error) {
	rows, err := s.db.Query(
		`SELECT id, playbook_id, step_order, kind, body, media_url, latitude, longitude, delay_ms, created_at
		 FROM playbook_steps WHERE playbook_id = $1 ORDER BY step_order ASC`,
		playbookID,
	)
	if err != nil {
		return nil, fmt.Errorf("playbook steps query failed: %w", err)
	}
	defer rows.Close()

	var steps []models.PlaybookStep
	for rows.Next() {
		step, err := scanPlaybookStep(rows)
		if err != nil {
			return nil, fmt.Errorf("scan playbook step failed: %w", err)
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

func (s *PostgresStore) GetPlaybookStep(playbookID string, stepOrder int) (*models.PlaybookStep, error) {
	step, err := scanPlaybookStep(s.db.QueryRow(
		`SELECT id, playbook_id, step_order, kind, body, media_url, latitude, longitude, delay_ms, created_at
		 FROM playbook_steps WHERE playbook_id = $1 AND step_order = $2`,
		playbookID, stepOrder,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get playbook step failed: %w", err)
	}
	return &step, nil
}
