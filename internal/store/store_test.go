package store

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/leadflow/leadflow/internal/models"
)

func getenvOrSkip(t *testing.T, key string) string {
	t.Helper()
	val := os.Getenv(key)
	if val == "" {
		t.Skipf("%s not set, skipping", key)
	}
	return val
}

func TestInMemoryResolveConversation(t *testing.T) {
	s := NewInMemoryStore()

	conv, lead, created, err := s.ResolveConversation("5511999@c.us", "5511999", "whatsapp")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created {
		t.Error("first contact should create the pair")
	}
	if lead.DisplayName != lead.PhoneNumber {
		t.Errorf("display name should default to phone number, got %s", lead.DisplayName)
	}
	if lead.MaturityScore != 0 {
		t.Errorf("new lead score should be 0, got %d", lead.MaturityScore)
	}
	if conv.Status != models.ConversationStatusActive {
		t.Errorf("new conversation should be active, got %s", conv.Status)
	}

	conv2, lead2, created2, err := s.ResolveConversation("5511999@c.us", "5511999", "whatsapp")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created2 {
		t.Error("second resolve must not create a new pair")
	}
	if conv2.ID != conv.ID || lead2.ID != lead.ID {
		t.Error("second resolve must return the same conversation and lead")
	}
}

func TestInMemoryResolveConversationConcurrent(t *testing.T) {
	s := NewInMemoryStore()

	const n = 20
	var wg sync.WaitGroup
	createdCount := make(chan bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, created, err := s.ResolveConversation("race@c.us", "5511888", "whatsapp")
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			createdCount <- created
		}()
	}
	wg.Wait()
	close(createdCount)

	creations := 0
	for c := range createdCount {
		if c {
			creations++
		}
	}
	if creations != 1 {
		t.Errorf("expected exactly 1 creation across %d concurrent resolves, got %d", n, creations)
	}
	leads, _ := s.ListLeads()
	if len(leads) != 1 {
		t.Errorf("expected exactly 1 lead, got %d", len(leads))
	}
	convs, _ := s.ListConversations()
	if len(convs) != 1 {
		t.Errorf("expected exactly 1 conversation, got %d", len(convs))
	}
}

func TestInMemoryRaiseLeadScore(t *testing.T) {
	s := NewInMemoryStore()
	_, lead, _, err := s.ResolveConversation("score@c.us", "5511777", "whatsapp")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := s.RaiseLeadScore(lead.ID, 40)
	if err != nil || got != 40 {
		t.Fatalf("expected 40, got %d (err=%v)", got, err)
	}
	// Lower values never regress the score.
	got, err = s.RaiseLeadScore(lead.ID, 10)
	if err != nil || got != 40 {
		t.Fatalf("expected score to stay at 40, got %d (err=%v)", got, err)
	}
	// Values above 100 clamp.
	got, err = s.RaiseLeadScore(lead.ID, 250)
	if err != nil || got != 100 {
		t.Fatalf("expected clamp at 100, got %d (err=%v)", got, err)
	}
	if _, err := s.RaiseLeadScore("missing", 10); err != models.ErrLeadNotFound {
		t.Errorf("expected ErrLeadNotFound, got %v", err)
	}
}

func TestInMemoryRecentTurnsOrderAndWindow(t *testing.T) {
	s := NewInMemoryStore()
	conv, _, _, _ := s.ResolveConversation("turns@c.us", "5511666", "whatsapp")

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 8; i++ {
		dir := models.TurnDirectionInbound
		if i%2 == 1 {
			dir = models.TurnDirectionOutbound
		}
		err := s.AddTurn(models.Turn{
			ConversationID: conv.ID,
			Direction:      dir,
			Content:        string(rune('a' + i)),
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	turns, err := s.RecentTurns(conv.ID, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(turns) != 5 {
		t.Fatalf("expected 5 turns, got %d", len(turns))
	}
	for i := 1; i < len(turns); i++ {
		if turns[i].CreatedAt.Before(turns[i-1].CreatedAt) {
			t.Error("turns must be in chronological order")
		}
	}
	if turns[len(turns)-1].Content != "h" {
		t.Errorf("window must keep the most recent turns, last content = %s", turns[len(turns)-1].Content)
	}
}

func TestInMemoryJobQueue(t *testing.T) {
	s := NewInMemoryStore()
	now := time.Now()

	id, err := s.EnqueueJob(JobKindInboundMessage, now, `{"chat_id":"x"}`, "msg-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Dedupe on the external message id.
	id2, err := s.EnqueueJob(JobKindInboundMessage, now, `{"chat_id":"x"}`, "msg-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id2 != id {
		t.Errorf("duplicate enqueue should return the existing job id, got %s vs %s", id2, id)
	}

	jobs, err := s.ClaimDueJobs(now.Add(time.Second), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected 1 claimed job, got %d", len(jobs))
	}
	if jobs[0].Status != JobStatusRunning {
		t.Errorf("claimed job should be running, got %s", jobs[0].Status)
	}

	// Fail twice, then the third failure dead-letters the job.
	for i := 0; i < DefaultJobMaxAttempts; i++ {
		if err := s.FailJob(id, "completion timeout", now.Add(time.Minute)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	j, _ := s.GetJob(id)
	if j.Status != JobStatusFailed {
		t.Errorf("job should be dead-lettered after %d attempts, got %s", DefaultJobMaxAttempts, j.Status)
	}
	dead, err := s.ListDeadLetterJobs(10)
	if err != nil || len(dead) != 1 {
		t.Errorf("expected 1 dead-letter job, got %d (err=%v)", len(dead), err)
	}
}

func TestInMemoryStaleJobRecovery(t *testing.T) {
	s := NewInMemoryStore()
	now := time.Now()
	id, _ := s.EnqueueJob(JobKindInboundMessage, now.Add(-time.Hour), "{}", "")
	if _, err := s.ClaimDueJobs(now.Add(-30*time.Minute), 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	n, err := s.RequeueStaleRunningJobs(now.Add(-5 * time.Minute))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 requeued job, got %d", n)
	}
	j, _ := s.GetJob(id)
	if j.Status != JobStatusQueued {
		t.Errorf("requeued job should be queued, got %s", j.Status)
	}
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSQLiteStore(WithDSN(filepath.Join(dir, "leadflow.db")))
	if err != nil {
		t.Skipf("SQLite not available: %v", err)
	}
	defer s.Close()

	conv, lead, created, err := s.ResolveConversation("5521888@c.us", "5521888", "whatsapp")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created {
		t.Error("first contact should create the pair")
	}

	conv2, lead2, created2, err := s.ResolveConversation("5521888@c.us", "5521888", "whatsapp")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created2 || conv2.ID != conv.ID || lead2.ID != lead.ID {
		t.Error("resolve must be idempotent for a known chat id")
	}

	got, err := s.RaiseLeadScore(lead.ID, 130)
	if err != nil || got != 100 {
		t.Fatalf("expected clamp at 100, got %d (err=%v)", got, err)
	}
	got, err = s.RaiseLeadScore(lead.ID, 50)
	if err != nil || got != 100 {
		t.Fatalf("score must never decrease, got %d (err=%v)", got, err)
	}

	if err := s.UpdateLeadName(lead.ID, "Maria"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	l, err := s.GetLead(lead.ID)
	if err != nil || l == nil || l.DisplayName != "Maria" {
		t.Fatalf("expected display name Maria, got %+v (err=%v)", l, err)
	}

	if err := s.AddTurn(models.Turn{ConversationID: conv.ID, Direction: models.TurnDirectionInbound, Content: "oi", ExternalMessageID: "wamid.1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	turns, err := s.RecentTurns(conv.ID, 5)
	if err != nil || len(turns) != 1 {
		t.Fatalf("expected 1 turn, got %d (err=%v)", len(turns), err)
	}

	pb := models.Playbook{Title: "Localização da clínica"}
	if err := s.AddPlaybook(pb); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	playbooks, err := s.ListPlaybooks()
	if err != nil || len(playbooks) != 1 {
		t.Fatalf("expected 1 playbook, got %d (err=%v)", len(playbooks), err)
	}
	step := models.PlaybookStep{PlaybookID: playbooks[0].ID, StepOrder: 0, Kind: models.PlaybookStepLocation, Latitude: -23.56, Longitude: -46.65}
	if err := s.AddPlaybookStep(step); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fetched, err := s.GetPlaybookStep(playbooks[0].ID, 0)
	if err != nil || fetched == nil || fetched.Kind != models.PlaybookStepLocation {
		t.Fatalf("expected location step back, got %+v (err=%v)", fetched, err)
	}
}

func TestSQLiteJobQueue(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSQLiteStore(WithDSN(filepath.Join(dir, "jobs.db")))
	if err != nil {
		t.Skipf("SQLite not available: %v", err)
	}
	defer s.Close()

	now := time.Now()
	id, err := s.EnqueueJob(JobKindInboundMessage, now, `{"chat_id":"a"}`, "wamid.42")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id2, err := s.EnqueueJob(JobKindInboundMessage, now, `{"chat_id":"a"}`, "wamid.42")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id2 != id {
		t.Errorf("dedupe key must return the existing job, got %s vs %s", id2, id)
	}

	jobs, err := s.ClaimDueJobs(now.Add(time.Second), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != id {
		t.Fatalf("expected to claim job %s, got %+v", id, jobs)
	}

	if err := s.CompleteJob(id); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	j, err := s.GetJob(id)
	if err != nil || j == nil || j.Status != JobStatusDone {
		t.Fatalf("expected done job, got %+v (err=%v)", j, err)
	}
}

func TestPostgresStoreRoundTrip(t *testing.T) {
	// Requires a running PostgreSQL instance; set DATABASE_URL to run.
	dsn := getenvOrSkip(t, "DATABASE_URL")
	s, err := NewPostgresStore(WithPostgresDSN(dsn))
	if err != nil {
		t.Skipf("Postgres not available: %v", err)
	}
	defer s.Close()

	s.db.Exec("DELETE FROM turns")
	s.db.Exec("DELETE FROM conversations")
	s.db.Exec("DELETE FROM leads")

	conv, lead, created, err := s.ResolveConversation("pg@c.us", "5531555", "whatsapp")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created {
		t.Error("first contact should create the pair")
	}
	got, err := s.RaiseLeadScore(lead.ID, 60)
	if err != nil || got != 60 {
		t.Fatalf("expected 60, got %d (err=%v)", got, err)
	}
	if err := s.TouchConversation(conv.ID, time.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDetectDSNType(t *testing.T) {
	cases := map[string]string{
		"postgres://u:p@localhost/db":    "postgres",
		"postgresql://u:p@localhost/db":  "postgres",
		"host=localhost dbname=leadflow": "postgres",
		"/var/lib/leadflow/leadflow.db":  "sqlite",
		"leadflow.db":                    "sqlite",
	}
	for dsn, want := range cases {
		if got := DetectDSNType(dsn); got != want {
			t.Errorf("DetectDSNType(%q) = %s, want %s", dsn, got, want)
		}
	}
}
