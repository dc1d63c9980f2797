// Package vector provides the semantic context index backing conversation
// replies and playbook discovery. It wraps chromem-go with disk persistence so
// embeddings survive restarts. All lookups are best-effort: callers degrade to
// recency-only context when the index is unavailable.
package vector

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

const (
	turnsCollection     = "turns"
	playbooksCollection = "playbooks"
)

// TurnHit is a single semantic-search result over past conversation turns.
type TurnHit struct {
	TurnID string
	Body   string
	Score  float32
	ChatID string
	LeadID string
}

// PlaybookHit is a single semantic-search result over registered playbooks.
type PlaybookHit struct {
	PlaybookID  string
	Name        string
	Description string
	Score       float32
}

// Index wraps chromem-go with fixed collections and disk persistence.
type Index struct {
	mu      sync.RWMutex
	db      *chromem.DB
	dataDir string
	embedFn chromem.EmbeddingFunc
}

// New creates (or opens) the persistent index at dataDir/vectorindex/.
// embedFunc is the embedding function to use — pass
// chromem.NewEmbeddingFuncOpenAI in production or a stub in tests.
func New(dataDir string, embedFunc chromem.EmbeddingFunc) (*Index, error) {
	dir := filepath.Join(dataDir, "vectorindex")
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create vectorindex dir: %w", err)
	}
	db, err := chromem.NewPersistentDB(dir, false)
	if err != nil {
		return nil, fmt.Errorf("open vectorindex: %w", err)
	}
	return &Index{db: db, dataDir: dir, embedFn: embedFunc}, nil
}

func (ix *Index) getOrCreateCollection(name string) *chromem.Collection {
	col := ix.db.GetCollection(name, ix.embedFn)
	if col == nil {
		var err error
		col, err = ix.db.CreateCollection(name, nil, ix.embedFn)
		if err != nil {
			slog.Error("Index.getOrCreateCollection: failed to create collection", "collection", name, "error", err)
			return nil
		}
	}
	return col
}

// UpsertTurn indexes (or re-indexes) a conversation turn.
func (ix *Index) UpsertTurn(ctx context.Context, turnID, chatID, leadID, body string) error {
	if body == "" {
		return nil
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()

	col := ix.getOrCreateCollection(turnsCollection)
	if col == nil {
		return fmt.Errorf("vector: nil turns collection")
	}
	doc := chromem.Document{
		ID:      turnID,
		Content: body,
		Metadata: map[string]string{
			"chat_id": chatID,
			"lead_id": leadID,
		},
	}
	return col.AddDocument(ctx, doc)
}

// UpsertPlaybook indexes (or re-indexes) a playbook by name and description.
func (ix *Index) UpsertPlaybook(ctx context.Context, playbookID, name, description string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	col := ix.getOrCreateCollection(playbooksCollection)
	if col == nil {
		return fmt.Errorf("vector: nil playbooks collection")
	}
	content := name
	if description != "" {
		content = name + "\n" + description
	}
	doc := chromem.Document{
		ID:      playbookID,
		Content: content,
		Metadata: map[string]string{
			"name": name,
		},
	}
	return col.AddDocument(ctx, doc)
}

// SearchTurns returns the top-k past turns for chatID most semantically
// similar to the query. Turns from other chats are filtered out.
func (ix *Index) SearchTurns(ctx context.Context, chatID, query string, k int) ([]TurnHit, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	results, err := ix.query(ctx, turnsCollection, query, k, map[string]string{"chat_id": chatID})
	if err != nil {
		return nil, err
	}
	out := make([]TurnHit, 0, len(results))
	for _, r := range results {
		out = append(out, TurnHit{
			TurnID: r.ID,
			Body:   r.Content,
			Score:  r.Similarity,
			ChatID: r.Metadata["chat_id"],
			LeadID: r.Metadata["lead_id"],
		})
	}
	return out, nil
}

// SearchPlaybooks returns the top-k playbooks most semantically similar to
// the query.
func (ix *Index) SearchPlaybooks(ctx context.Context, query string, k int) ([]PlaybookHit, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	results, err := ix.query(ctx, playbooksCollection, query, k, nil)
	if err != nil {
		return nil, err
	}
	out := make([]PlaybookHit, 0, len(results))
	for _, r := range results {
		out = append(out, PlaybookHit{
			PlaybookID:  r.ID,
			Name:        r.Metadata["name"],
			Description: r.Content,
			Score:       r.Similarity,
		})
	}
	return out, nil
}

func (ix *Index) query(ctx context.Context, collection, query string, k int, where map[string]string) ([]chromem.Result, error) {
	col := ix.getOrCreateCollection(collection)
	if col == nil {
		return nil, nil
	}
	count := col.Count()
	if count == 0 {
		return nil, nil
	}
	if k > count {
		k = count
	}

	var results []chromem.Result
	var err error

	// chromem-go sometimes throws "nResults must be <= number of documents"
	// despite the Count check. Step down k if it fails.
	for attemptK := k; attemptK > 0; attemptK-- {
		results, err = col.Query(ctx, query, attemptK, where, nil)
		if err == nil {
			break
		}
	}
	if err != nil {
		return nil, err
	}
	return results, nil
}
