package vector

import (
	"context"
	"strings"
	"testing"

	chromem "github.com/philippgille/chromem-go"
)

// stubEmbedding maps text to a tiny deterministic vector so tests run without
// a real embeddings endpoint. Texts sharing a keyword land close together.
func stubEmbedding() chromem.EmbeddingFunc {
	keywords := []string{"preço", "agendar", "emagrecer", "treino"}
	return func(ctx context.Context, text string) ([]float32, error) {
		v := make([]float32, len(keywords)+1)
		lower := strings.ToLower(text)
		for i, kw := range keywords {
			if strings.Contains(lower, kw) {
				v[i] = 1
			}
		}
		v[len(keywords)] = 0.1
		return v, nil
	}
}

func TestIndexTurnRoundTrip(t *testing.T) {
	ix, err := New(t.TempDir(), stubEmbedding())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := context.Background()

	turns := []struct{ id, chat, body string }{
		{"t1", "chat-a", "quanto custa o plano, qual o preço"},
		{"t2", "chat-a", "quero agendar uma aula"},
		{"t3", "chat-b", "qual o preço do plano anual"},
	}
	for _, tr := range turns {
		if err := ix.UpsertTurn(ctx, tr.id, tr.chat, "lead-1", tr.body); err != nil {
			t.Fatalf("UpsertTurn(%s): %v", tr.id, err)
		}
	}

	hits, err := ix.SearchTurns(ctx, "chat-a", "qual o preço", 2)
	if err != nil {
		t.Fatalf("SearchTurns: %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("expected at least one hit")
	}
	for _, h := range hits {
		if h.ChatID != "chat-a" {
			t.Errorf("hit %s leaked from chat %s", h.TurnID, h.ChatID)
		}
	}
	if hits[0].TurnID != "t1" {
		t.Errorf("expected t1 as best match, got %s", hits[0].TurnID)
	}
}

func TestIndexEmptyCollection(t *testing.T) {
	ix, err := New(t.TempDir(), stubEmbedding())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	hits, err := ix.SearchTurns(context.Background(), "chat-a", "anything", 3)
	if err != nil {
		t.Fatalf("SearchTurns on empty index: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("expected no hits, got %d", len(hits))
	}
}

func TestIndexKClampedToCount(t *testing.T) {
	ix, err := New(t.TempDir(), stubEmbedding())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := context.Background()
	if err := ix.UpsertPlaybook(ctx, "pb1", "Plano de treino", "sequência de treino para iniciantes"); err != nil {
		t.Fatalf("UpsertPlaybook: %v", err)
	}

	hits, err := ix.SearchPlaybooks(ctx, "treino", 10)
	if err != nil {
		t.Fatalf("SearchPlaybooks: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
	if hits[0].PlaybookID != "pb1" || hits[0].Name != "Plano de treino" {
		t.Errorf("unexpected hit: %+v", hits[0])
	}
}

func TestIndexSkipsEmptyTurnBody(t *testing.T) {
	ix, err := New(t.TempDir(), stubEmbedding())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ix.UpsertTurn(context.Background(), "t1", "chat-a", "lead-1", ""); err != nil {
		t.Fatalf("empty body should be a no-op, got %v", err)
	}
}
