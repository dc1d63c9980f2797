// Package store provides storage backends for LeadFlow.
//
// This file implements an in-memory repository used by tests and local
// development. It honors the same atomicity contracts as the SQL backends.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/leadflow/leadflow/internal/models"
	"github.com/leadflow/leadflow/internal/util"
)

// Compile-time checks that InMemoryStore implements Repository and JobRepo.
var (
	_ Repository = (*InMemoryStore)(nil)
	_ JobRepo    = (*InMemoryStore)(nil)
)

// InMemoryStore is a mutex-guarded in-memory repository.
type InMemoryStore struct {
	mu              sync.Mutex
	leads           map[string]models.Lead         // by lead ID
	leadsByPhone    map[string]string              // phone -> lead ID
	conversations   map[string]models.Conversation // by conversation ID
	convsByChatID   map[string]string              // chat ID -> conversation ID
	turns           []models.Turn
	interactionLogs []models.InteractionLog
	usage           []models.CompletionUsage
	playbooks       map[string]models.Playbook
	playbookSteps   []models.PlaybookStep
	jobs            map[string]Job
	jobsByDedupe    map[string]string
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		leads:         make(map[string]models.Lead),
		leadsByPhone:  make(map[string]string),
		conversations: make(map[string]models.Conversation),
		convsByChatID: make(map[string]string),
		playbooks:     make(map[string]models.Playbook),
		jobs:          make(map[string]Job),
		jobsByDedupe:  make(map[string]string),
	}
}

func (s *InMemoryStore) ResolveConversation(chatID, phoneNumber, source string) (models.Conversation, models.Lead, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if convID, ok := s.convsByChatID[chatID]; ok {
		conv := s.conversations[convID]
		return conv, s.leads[conv.LeadID], false, nil
	}

	now := time.Now()
	leadID, ok := s.leadsByPhone[phoneNumber]
	if !ok {
		lead := models.Lead{
			ID:          uuid.NewString(),
			PhoneNumber: phoneNumber,
			DisplayName: phoneNumber,
			Source:      source,
			CreatedAt:   now,
		}
		s.leads[lead.ID] = lead
		s.leadsByPhone[phoneNumber] = lead.ID
		leadID = lead.ID
	}

	conv := models.Conversation{
		ID:            uuid.NewString(),
		ChatID:        chatID,
		LeadID:        leadID,
		Status:        models.ConversationStatusActive,
		CreatedAt:     now,
		LastMessageAt: now,
	}
	s.conversations[conv.ID] = conv
	s.convsByChatID[chatID] = conv.ID
	return conv, s.leads[leadID], true, nil
}

func (s *InMemoryStore) GetConversation(id string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.conversations[id]; ok {
		return &c, nil
	}
	return nil, nil
}

func (s *InMemoryStore) GetConversationByChatID(chatID string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.convsByChatID[chatID]; ok {
		c := s.conversations[id]
		return &c, nil
	}
	return nil, nil
}

func (s *InMemoryStore) ListConversations() ([]models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastMessageAt.After(out[j].LastMessageAt) })
	return out, nil
}

func (s *InMemoryStore) TouchConversation(id string, lastMessageAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return models.ErrConversationNotFound
	}
	c.LastMessageAt = lastMessageAt
	s.conversations[id] = c
	return nil
}

func (s *InMemoryStore) SetConversationStatus(id string, status models.ConversationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return models.ErrConversationNotFound
	}
	c.Status = status
	s.conversations[id] = c
	return nil
}

func (s *InMemoryStore) GetLead(id string) (*models.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.leads[id]; ok {
		return &l, nil
	}
	return nil, nil
}

func (s *InMemoryStore) ListLeads() ([]models.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Lead, 0, len(s.leads))
	for _, l := range s.leads {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) UpdateLeadName(id, displayName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[id]
	if !ok {
		return models.ErrLeadNotFound
	}
	l.DisplayName = displayName
	s.leads[id] = l
	return nil
}

func (s *InMemoryStore) RaiseLeadScore(id string, score int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[id]
	if !ok {
		return 0, models.ErrLeadNotFound
	}
	if score > models.MaxLeadScore {
		score = models.MaxLeadScore
	}
	if score > l.MaturityScore {
		l.MaturityScore = score
		s.leads[id] = l
	}
	return l.MaturityScore, nil
}

func (s *InMemoryStore) AddTurn(t models.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	s.turns = append(s.turns, t)
	return nil
}

func (s *InMemoryStore) RecentTurns(conversationID string, n int) ([]models.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []models.Turn
	for _, t := range s.turns {
		if t.ConversationID == conversationID {
			all = append(all, t)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	if len(all) > n {
		all = all[len(all)-n:]
	}
	return all, nil
}

func (s *InMemoryStore) AddInteractionLog(entry models.InteractionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	s.interactionLogs = append(s.interactionLogs, entry)
	return nil
}

func (s *InMemoryStore) ListInteractionLogs(conversationID string) ([]models.InteractionLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.InteractionLog
	for _, e := range s.interactionLogs {
		if e.ConversationID == conversationID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *InMemoryStore) AddCompletionUsage(u models.CompletionUsage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	s.usage = append(s.usage, u)
	return nil
}

// CompletionUsageRecords returns all recorded usage rows (test helper).
func (s *InMemoryStore) CompletionUsageRecords() []models.CompletionUsage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.CompletionUsage, len(s.usage))
	copy(out, s.usage)
	return out
}

func (s *InMemoryStore) AddPlaybook(p models.Playbook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.Title == "" {
		return models.ErrEmptyPlaybookTitle
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	s.playbooks[p.ID] = p
	return nil
}

func (s *InMemoryStore) AddPlaybookStep(step models.PlaybookStep) error {
	if err := step.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if step.ID == "" {
		step.ID = uuid.NewString()
	}
	if step.CreatedAt.IsZero() {
		step.CreatedAt = time.Now()
	}
	s.playbookSteps = append(s.playbookSteps, step)
	return nil
}

func (s *InMemoryStore) GetPlaybook(id string) (*models.Playbook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.playbooks[id]; ok {
		return &p, nil
	}
	return nil, nil
}

func (s *InMemoryStore) ListPlaybooks() ([]models.Playbook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Playbook, 0, len(s.playbooks))
	for _, p := range s.playbooks {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) PlaybookSteps(playbookID string) ([]models.PlaybookStep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PlaybookStep
	for _, step := range s.playbookSteps {
		if step.PlaybookID == playbookID {
			out = append(out, step)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StepOrder < out[j].StepOrder })
	return out, nil
}

func (s *InMemoryStore) GetPlaybookStep(playbookID string, stepOrder int) (*models.PlaybookStep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, step := range s.playbookSteps {
		if step.PlaybookID == playbookID && step.StepOrder == stepOrder {
			return &step, nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) EnqueueJob(kind string, runAt time.Time, payloadJSON string, dedupeKey string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dedupeKey != "" {
		if existingID, ok := s.jobsByDedupe[dedupeKey]; ok {
			return existingID, nil
		}
	}
	now := time.Now()
	j := Job{
		ID:          util.GenerateJobID(),
		Kind:        kind,
		RunAt:       runAt,
		PayloadJSON: payloadJSON,
		Status:      JobStatusQueued,
		MaxAttempts: DefaultJobMaxAttempts,
		DedupeKey:   dedupeKey,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.jobs[j.ID] = j
	if dedupeKey != "" {
		s.jobsByDedupe[dedupeKey] = j.ID
	}
	return j.ID, nil
}

func (s *InMemoryStore) ClaimDueJobs(now time.Time, limit int) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []Job
	for _, j := range s.jobs {
		if j.Status == JobStatusQueued && !j.RunAt.After(now) {
			due = append(due, j)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].RunAt.Before(due[j].RunAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	for i := range due {
		due[i].Status = JobStatusRunning
		lockedAt := now
		due[i].LockedAt = &lockedAt
		due[i].UpdatedAt = now
		s.jobs[due[i].ID] = due[i]
	}
	return due, nil
}

func (s *InMemoryStore) CompleteJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil
	}
	j.Status = JobStatusDone
	j.LockedAt = nil
	j.UpdatedAt = time.Now()
	s.jobs[id] = j
	return nil
}

func (s *InMemoryStore) FailJob(id string, errMsg string, nextRunAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil
	}
	j.Attempt++
	j.LastError = errMsg
	j.LockedAt = nil
	j.UpdatedAt = time.Now()
	if j.Attempt >= j.MaxAttempts {
		j.Status = JobStatusFailed
	} else {
		j.Status = JobStatusQueued
		j.RunAt = nextRunAt
	}
	s.jobs[id] = j
	return nil
}

func (s *InMemoryStore) CancelJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil
	}
	j.Status = JobStatusCanceled
	j.LockedAt = nil
	j.UpdatedAt = time.Now()
	s.jobs[id] = j
	return nil
}

func (s *InMemoryStore) RequeueStaleRunningJobs(staleBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for id, j := range s.jobs {
		if j.Status == JobStatusRunning && j.LockedAt != nil && j.LockedAt.Before(staleBefore) {
			j.Status = JobStatusQueued
			j.LockedAt = nil
			j.UpdatedAt = time.Now()
			s.jobs[id] = j
			count++
		}
	}
	return count, nil
}

func (s *InMemoryStore) GetJob(id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		return &j, nil
	}
	return nil, nil
}

func (s *InMemoryStore) ListDeadLetterJobs(limit int) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Job
	for _, j := range s.jobs {
		if j.Status == JobStatusFailed {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
