package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/philippgille/chromem-go"

	"github.com/praxisworks/praxis/pkg/config"
)

// ChromemDB is the embedded vector backend used for development and tests.
// Namespaces map to chromem collections.
type ChromemDB struct {
	db         *chromem.DB
	collection string

	mu          sync.Mutex
	collections map[string]*chromem.Collection
}

// NewChromemDB opens an embedded store; an empty path means in-memory.
func NewChromemDB(cfg config.VectorConfig) (*ChromemDB, error) {
	var db *chromem.DB
	var err error
	if cfg.Path != "" {
		db, err = chromem.NewPersistentDB(cfg.Path, false)
		if err != nil {
			return nil, fmt.Errorf("failed to open chromem store at %s: %w", cfg.Path, err)
		}
	} else {
		db = chromem.NewDB()
	}
	return &ChromemDB{
		db:          db,
		collection:  cfg.Collection,
		collections: map[string]*chromem.Collection{},
	}, nil
}

// noEmbedding satisfies chromem's embedding hook; vectors are always supplied
// by the caller so it must never run.
func noEmbedding(_ context.Context, _ string) ([]float32, error) {
	return nil, fmt.Errorf("embedding is computed upstream")
}

func (db *ChromemDB) namespaceCollection(namespace string) (*chromem.Collection, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if c, ok := db.collections[namespace]; ok {
		return c, nil
	}
	c, err := db.db.GetOrCreateCollection(db.collection+"_"+namespace, nil, noEmbedding)
	if err != nil {
		return nil, fmt.Errorf("failed to open collection for namespace %s: %w", namespace, err)
	}
	db.collections[namespace] = c
	return c, nil
}

func (db *ChromemDB) EnsureNamespace(_ context.Context, namespace string) error {
	_, err := db.namespaceCollection(namespace)
	return err
}

func (db *ChromemDB) Upsert(ctx context.Context, namespace string, doc Document, vector []float32) error {
	c, err := db.namespaceCollection(namespace)
	if err != nil {
		return err
	}

	id := doc.ID
	if id == "" {
		id = uuid.New().String()
	}

	metadata := make(map[string]string, len(doc.Metadata))
	for k, v := range doc.Metadata {
		metadata[k] = fmt.Sprintf("%v", v)
	}

	return c.AddDocument(ctx, chromem.Document{
		ID:        id,
		Content:   doc.Text,
		Metadata:  metadata,
		Embedding: vector,
	})
}

func (db *ChromemDB) Search(ctx context.Context, namespace string, vector []float32, k int) ([]Hit, error) {
	c, err := db.namespaceCollection(namespace)
	if err != nil {
		return nil, err
	}

	// chromem rejects k larger than the collection; clamp.
	if count := c.Count(); k > count {
		k = count
	}
	if k == 0 {
		return nil, nil
	}

	results, err := c.QueryEmbedding(ctx, vector, k, nil, nil)
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		metadata := make(map[string]any, len(r.Metadata))
		for mk, mv := range r.Metadata {
			metadata[mk] = mv
		}
		hits = append(hits, Hit{
			Document: Document{ID: r.ID, Text: r.Content, Metadata: metadata},
			Score:    r.Similarity,
		})
	}
	return hits, nil
}

func (db *ChromemDB) Close() error { return nil }

var _ VectorDB = (*ChromemDB)(nil)
