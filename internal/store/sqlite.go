// Package store provides storage backends for LeadFlow.
//
// This file implements the SQLite-backed repository.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/google/uuid"
	"github.com/leadflow/leadflow/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// Compile-time check that SQLiteStore implements Repository.
var _ Repository = (*SQLiteStore)(nil)

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ResolveConversation implements the atomic create-if-absent contract.
// The UNIQUE constraints on leads.phone_number and conversations.chat_id make
// the insert race-safe across processes; losers of the race read the winner's
// rows back inside the same transaction.
func (s *SQLiteStore) ResolveConversation(chatID, phoneNumber, source string) (models.Conversation, models.Lead, bool, error) {
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
		 VALUES (?, ?, ?, 0, ?, ?) ON CONFLICT(phone_number) DO NOTHING`,
		uuid.NewString(), phoneNumber, phoneNumber, nilIfEmpty(source), now,
	)
	if err != nil {
		return conv, lead, false, fmt.Errorf("insert lead failed: %w", err)
	}
	lead, err = scanLead(tx.QueryRow(
		`SELECT id, phone_number, display_name, maturity_score, source, created_at FROM leads WHERE phone_number = ?`,
		phoneNumber,
	))
	if err != nil {
		return conv, lead, false, fmt.Errorf("read lead back failed: %w", err)
	}

	res, err := tx.Exec(
		`INSERT INTO conversations (id, chat_id, lead_id, status, is_urgent, created_at, last_message_at)
		 VALUES (?, ?, ?, 'active', 0, ?, ?) ON CONFLICT(chat_id) DO NOTHING`,
		uuid.NewString(), chatID, lead.ID, now, now,
	)
	if err != nil {
		return conv, lead, false, fmt.Errorf("insert conversation failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		created = true
	}
	conv, err = scanConversation(tx.QueryRow(
		`SELECT id, chat_id, lead_id, status, is_urgent, created_at, last_message_at FROM conversations WHERE chat_id = ?`,
		chatID,
	))
	if err != nil {
		return conv, lead, false, fmt.Errorf("read conversation back failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return conv, lead, false, fmt.Errorf("commit resolve transaction failed: %w", err)
	}
	slog.Debug("SQLiteStore.ResolveConversation", "chatID", chatID, "created", created, "leadID", lead.ID)
	return conv, lead, created, nil
}

func (s *SQLiteStore) GetConversation(id string) (*models.Conversation, error) {
	c, err := scanConversation(s.db.QueryRow(
		`SELECT id, chat_id, lead_id, status, is_urgent, created_at, last_message_at FROM conversations WHERE id = ?`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation failed: %w", err)
	}
	return &c, nil
}

func (s *SQLiteStore) GetConversationByChatID(chatID string) (*models.Conversation, error) {
	c, err := scanConversation(s.db.QueryRow(
		`SELECT id, chat_id, lead_id, status, is_urgent, created_at, last_message_at FROM conversations WHERE chat_id = ?`, chatID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation by chat id failed: %w", err)
	}
	return &c, nil
}

func (s *SQLiteStore) ListConversations() ([]models.Conversation, error) {
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

func (s *SQLiteStore) TouchConversation(id string, lastMessageAt time.Time) error {
	_, err := s.db.Exec(`UPDATE conversations SET last_message_at = ? WHERE id = ?`, lastMessageAt, id)
	if err != nil {
		return fmt.Errorf("touch conversation failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SetConversationStatus(id string, status models.ConversationStatus) error {
	_, err := s.db.Exec(`UPDATE conversations SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("set conversation status failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetLead(id string) (*models.Lead, error) {
	l, err := scanLead(s.db.QueryRow(
		`SELECT id, phone_number, display_name, maturity_score, source, created_at FROM leads WHERE id = ?`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get lead failed: %w", err)
	}
	return &l, nil
}

func (s *SQLiteStore) ListLeads() ([]models.Lead, error) {
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

func (s *SQLiteStore) UpdateLeadName(id, displayName string) error {
	_, err := s.db.Exec(`UPDATE leads SET display_name = ? WHERE id = ?`, displayName, id)
	if err != nil {
		return fmt.Errorf("update lead name failed: %w", err)
	}
	slog.Debug("SQLiteStore.UpdateLeadName", "leadID", id)
	return nil
}

// RaiseLeadScore writes max(current, min(score, 100)) in a single statement so
// concurrent turns cannot lose updates or regress the score.
func (s *SQLiteStore) RaiseLeadScore(id string, score int) (int, error) {
	_, err := s.db.Exec(
		`UPDATE leads SET maturity_score = MAX(maturity_score, MIN(?, 100)) WHERE id = ?`,
		score, id,
	)
	if err != nil {
		return 0, fmt.Errorf("raise lead score failed: %w", err)
	}
	var stored int
	err = s.db.QueryRow(`SELECT maturity_score FROM leads WHERE id = ?`, id).Scan(&stored)
	if err == sql.ErrNoRows {
		return 0, models.ErrLeadNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("read lead score back failed: %w", err)
	}
	return stored, nil
}

func (s *SQLiteStore) AddTurn(t models.Turn) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO turns (id, conversation_id, direction, content, external_message_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.ConversationID, t.Direction, t.Content, nilIfEmpty(t.ExternalMessageID), t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert turn failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RecentTurns(conversationID string, n int) ([]models.Turn, error) {
	rows, err := s.db.Query(
		`SELECT id, conversation_id, direction, content, external_message_id, created_at FROM (
		     SELECT * FROM turns WHERE conversation_id = ? ORDER BY created_at DESC LIMIT ?
		 ) ORDER BY created_at ASC`,
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

func (s *SQLiteStore) AddInteractionLog(entry models.InteractionLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO interaction_logs (id, conversation_id, intent, summary, created_at) VALUES (?, ?, ?, ?, ?)`,
		entry.ID, entry.ConversationID, entry.Intent, entry.Summary, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert interaction log failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListInteractionLogs(conversationID string) ([]models.InteractionLog, error) {
	rows, err := s.db.Query(
		`SELECT id, conversation_id, intent, summary, created_at FROM interaction_logs WHERE conversation_id = ? ORDER BY created_at ASC`,
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

func (s *SQLiteStore) AddCompletionUsage(u models.CompletionUsage) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO completion_usage (id, conversation_id, kind, prompt, response, prompt_tokens, completion_tokens, latency_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, nilIfEmpty(u.ConversationID), u.Kind, u.Prompt, u.Response, u.PromptTokens, u.CompletionTokens, u.LatencyMS, u.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert completion usage failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AddPlaybook(p models.Playbook) error {
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
		`INSERT INTO playbooks (id, title, description, created_at) VALUES (?, ?, ?, ?)`,
		p.ID, p.Title, nilIfEmpty(p.Description), p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert playbook failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AddPlaybookStep(step models.PlaybookStep) error {
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
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		step.ID, step.PlaybookID, step.StepOrder, step.Kind, nilIfEmpty(step.Body), nilIfEmpty(step.MediaURL),
		step.Latitude, step.Longitude, step.DelayMS, step.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert playbook step failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetPlaybook(id string) (*models.Playbook, error) {
	var p models.Playbook
	var description sql.NullString
	err := s.db.QueryRow(
		`SELECT id, title, description, created_at FROM playbooks WHERE id = ?`, id,
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

func (s *SQLiteStore) ListPlaybooks() ([]models.Playbook, error) {
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

func (s *SQLiteStore) PlaybookSteps(playbookID string) ([]models.PlaybookStep, error) {
	rows, err := s.db.Query(
		`SELECT id, playbook_id, step_order, kind, body, media_url, latitude, longitude, delay_ms, created_at
		 FROM playbook_steps WHERE playbook_id = ? ORDER BY step_order ASC`,
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

func (s *SQLiteStore) GetPlaybookStep(playbookID string, stepOrder int) (*models.PlaybookStep, error) {
	step, err := scanPlaybookStep(s.db.QueryRow(
		`SELECT id, playbook_id, step_order, kind, body, media_url, latitude, longitude, delay_ms, created_at
		 FROM playbook_steps WHERE playbook_id = ? AND step_order = ?`,
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
