package flow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/leadflow/leadflow/internal/models"
	"github.com/leadflow/leadflow/internal/store"
	"github.com/leadflow/leadflow/internal/vector"
)

// stubIndex returns canned hits, or an error when broken.
type stubIndex struct {
	turnHits     []vector.TurnHit
	playbookHits []vector.PlaybookHit
	broken       bool
}

var errIndexDown = errors.New("index unavailable")

func (s *stubIndex) UpsertTurn(ctx context.Context, turnID, chatID, leadID, body string) error {
	if s.broken {
		return errIndexDown
	}
	return nil
}

func (s *stubIndex) UpsertPlaybook(ctx context.Context, playbookID, name, description string) error {
	if s.broken {
		return errIndexDown
	}
	return nil
}

func (s *stubIndex) SearchTurns(ctx context.Context, chatID, query string, k int) ([]vector.TurnHit, error) {
	if s.broken {
		return nil, errIndexDown
	}
	return s.turnHits, nil
}

func (s *stubIndex) SearchPlaybooks(ctx context.Context, query string, k int) ([]vector.PlaybookHit, error) {
	if s.broken {
		return nil, errIndexDown
	}
	return s.playbookHits, nil
}

func seedConversation(t *testing.T, repo store.Repository) (models.Conversation, models.Lead) {
	t.Helper()
	conv, lead, _, err := repo.ResolveConversation("chat-ctx", "5511999990000", "whatsapp")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return conv, lead
}

func TestAssembleNoHistorySentinel(t *testing.T) {
	repo := store.NewInMemoryStore()
	conv, _ := seedConversation(t, repo)

	ca := NewContextAssembler(repo, nil, 0, 0)
	out, err := ca.Assemble(context.Background(), conv.ID, conv.ChatID, "oi")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, noHistorySentinel) {
		t.Errorf("expected sentinel in context, got %q", out)
	}
}

func TestAssembleWindowFormatting(t *testing.T) {
	repo := store.NewInMemoryStore()
	conv, _ := seedConversation(t, repo)

	base := time.Now().Add(-time.Minute)
	turns := []models.Turn{
		{ID: "t1", ConversationID: conv.ID, Direction: models.TurnDirectionInbound, Content: "oi", CreatedAt: base},
		{ID: "t2", ConversationID: conv.ID, Direction: models.TurnDirectionOutbound, Content: "olá! como posso ajudar?", CreatedAt: base.Add(time.Second)},
		{ID: "t3", ConversationID: conv.ID, Direction: models.TurnDirectionInbound, Content: "quero saber mais", CreatedAt: base.Add(2 * time.Second)},
	}
	for _, tr := range turns {
		if err := repo.AddTurn(tr); err != nil {
			t.Fatalf("AddTurn: %v", err)
		}
	}

	ca := NewContextAssembler(repo, nil, 2, 3)
	out, err := ca.Assemble(context.Background(), conv.ID, conv.ChatID, "quanto custa?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(out, "Lead: oi\n") {
		t.Errorf("window of 2 should exclude the oldest turn, got %q", out)
	}
	if !strings.Contains(out, "Assistant: olá! como posso ajudar?") {
		t.Errorf("missing outbound turn, got %q", out)
	}
	if !strings.Contains(out, "Lead: quero saber mais") {
		t.Errorf("missing latest inbound turn, got %q", out)
	}
	if strings.Contains(out, noHistorySentinel) {
		t.Errorf("sentinel must not appear when history exists")
	}
}

func TestAssembleSemanticHits(t *testing.T) {
	repo := store.NewInMemoryStore()
	conv, _ := seedConversation(t, repo)

	inWindow := models.Turn{ID: "t-recent", ConversationID: conv.ID, Direction: models.TurnDirectionInbound, Content: "mensagem recente", CreatedAt: time.Now()}
	if err := repo.AddTurn(inWindow); err != nil {
		t.Fatalf("AddTurn: %v", err)
	}

	index := &stubIndex{turnHits: []vector.TurnHit{
		{TurnID: "t-old", Body: "pergunta antiga sobre preço", ChatID: conv.ChatID},
		{TurnID: "t-recent", Body: "mensagem recente", ChatID: conv.ChatID},
	}}
	ca := NewContextAssembler(repo, index, 5, 3)
	out, err := ca.Assemble(context.Background(), conv.ID, conv.ChatID, "preço")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "pergunta antiga sobre preço") {
		t.Errorf("expected semantic hit in context, got %q", out)
	}
	if strings.Count(out, "mensagem recente") != 1 {
		t.Errorf("in-window turn must not be duplicated by semantic section, got %q", out)
	}
}

func TestAssembleDegradesWhenIndexFails(t *testing.T) {
	repo := store.NewInMemoryStore()
	conv, _ := seedConversation(t, repo)
	if err := repo.AddTurn(models.Turn{ID: "t1", ConversationID: conv.ID, Direction: models.TurnDirectionInbound, Content: "oi", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("AddTurn: %v", err)
	}

	ca := NewContextAssembler(repo, &stubIndex{broken: true}, 5, 3)
	out, err := ca.Assemble(context.Background(), conv.ID, conv.ChatID, "oi")
	if err != nil {
		t.Fatalf("index failure must not fail assembly: %v", err)
	}
	if !strings.Contains(out, "Lead: oi") {
		t.Errorf("expected window-only context, got %q", out)
	}
}
