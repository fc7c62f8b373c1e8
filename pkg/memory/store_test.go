package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/praxisworks/praxis/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmbedder struct {
	fail bool
}

func (e *fakeEmbedder) Dimension() int { return 3 }

func (e *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if e.fail {
		return nil, errors.New("embedder down")
	}
	return []float32{float32(len(text)), 1, 2}, nil
}

type fakeVectorDB struct {
	docs       map[string][]Document
	failSearch bool
	failUpsert bool
}

func newFakeVectorDB() *fakeVectorDB {
	return &fakeVectorDB{docs: map[string][]Document{}}
}

func (db *fakeVectorDB) EnsureNamespace(_ context.Context, _ string) error { return nil }

func (db *fakeVectorDB) Upsert(_ context.Context, namespace string, doc Document, _ []float32) error {
	if db.failUpsert {
		return errors.New("backend down")
	}
	db.docs[namespace] = append(db.docs[namespace], doc)
	return nil
}

func (db *fakeVectorDB) Search(_ context.Context, namespace string, _ []float32, k int) ([]Hit, error) {
	if db.failSearch {
		return nil, errors.New("backend down")
	}
	var hits []Hit
	for _, doc := range db.docs[namespace] {
		hits = append(hits, Hit{Document: doc, Score: 0.9})
		if len(hits) == k {
			break
		}
	}
	return hits, nil
}

func (db *fakeVectorDB) Close() error { return nil }

func TestStoreRequiresNamespace(t *testing.T) {
	_, err := NewStore(newFakeVectorDB(), &fakeEmbedder{}, "")
	assert.Error(t, err)

	_, err = NewStore(nil, &fakeEmbedder{}, "ctx-1")
	assert.Error(t, err)
}

func TestUpsertAndSearchStayInNamespace(t *testing.T) {
	db := newFakeVectorDB()
	embedder := &fakeEmbedder{}

	storeA, err := NewStore(db, embedder, "ctx-a")
	require.NoError(t, err)
	storeB, err := NewStore(db, embedder, "ctx-b")
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, storeA.Upsert(ctx, "tenant A fact", nil))
	require.NoError(t, storeB.Upsert(ctx, "tenant B fact", nil))

	hitsA := storeA.Search(ctx, "fact", 10)
	require.Len(t, hitsA, 1)
	assert.Equal(t, "tenant A fact", hitsA[0].Text)

	hitsB := storeB.Search(ctx, "fact", 10)
	require.Len(t, hitsB, 1)
	assert.Equal(t, "tenant B fact", hitsB[0].Text)
}

func TestUpsertSurfacesDegradedError(t *testing.T) {
	db := newFakeVectorDB()
	db.failUpsert = true

	store, err := NewStore(db, &fakeEmbedder{}, "ctx-a")
	require.NoError(t, err)

	err = store.Upsert(context.Background(), "fact", nil)
	require.Error(t, err)
	assert.Equal(t, protocol.ErrMemoryDegraded, protocol.KindOf(err))
}

func TestSearchDegradesToEmpty(t *testing.T) {
	db := newFakeVectorDB()
	db.failSearch = true

	store, err := NewStore(db, &fakeEmbedder{}, "ctx-a")
	require.NoError(t, err)

	hits := store.Search(context.Background(), "anything", 5)
	assert.Empty(t, hits, "backend failure must degrade to empty, not error")
}

func TestSearchDegradesOnEmbedderFailure(t *testing.T) {
	store, err := NewStore(newFakeVectorDB(), &fakeEmbedder{fail: true}, "ctx-a")
	require.NoError(t, err)

	hits := store.Search(context.Background(), "anything", 5)
	assert.Empty(t, hits)
}

func TestChromemNamespaceIsolation(t *testing.T) {
	cfgDB, err := NewChromemDB(testVectorConfig())
	require.NoError(t, err)

	ctx := context.Background()
	vec := []float32{1, 0, 0}

	require.NoError(t, cfgDB.Upsert(ctx, "a", Document{Text: "alpha doc"}, vec))
	require.NoError(t, cfgDB.Upsert(ctx, "b", Document{Text: "beta doc"}, vec))

	hits, err := cfgDB.Search(ctx, "a", vec, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "alpha doc", hits[0].Text)
}
