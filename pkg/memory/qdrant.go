package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/praxisworks/praxis/pkg/config"
)

// QdrantDB is the production vector backend. Each namespace maps to its own
// collection, so isolation holds even if a query forgets a filter.
type QdrantDB struct {
	client     *qdrant.Client
	collection string
	dim        int
}

// NewQdrantDB connects to the configured qdrant instance.
func NewQdrantDB(cfg config.VectorConfig) (*QdrantDB, error) {
	host := cfg.Host
	port := 6334
	if idx := strings.LastIndex(cfg.Host, ":"); idx > 0 {
		host = cfg.Host[:idx]
		if _, err := fmt.Sscanf(cfg.Host[idx+1:], "%d", &port); err != nil {
			return nil, fmt.Errorf("invalid qdrant host %q: %w", cfg.Host, err)
		}
	}

	client, err := qdrant.NewClient(&qdrant.Config{Host: host, Port: port})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client for %s: %w", cfg.Host, err)
	}

	return &QdrantDB{client: client, collection: cfg.Collection, dim: cfg.Dim}, nil
}

func (db *QdrantDB) collectionFor(namespace string) string {
	return db.collection + "_" + namespace
}

func (db *QdrantDB) EnsureNamespace(ctx context.Context, namespace string) error {
	collection := db.collectionFor(namespace)

	exists, err := db.client.CollectionExists(ctx, collection)
	if err != nil {
		return fmt.Errorf("failed to check collection %s: %w", collection, err)
	}
	if exists {
		return nil
	}

	err = db.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(db.dim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("failed to create collection %s: %w", collection, err)
	}
	return nil
}

func (db *QdrantDB) Upsert(ctx context.Context, namespace string, doc Document, vector []float32) error {
	if err := db.EnsureNamespace(ctx, namespace); err != nil {
		return err
	}

	id := doc.ID
	if id == "" {
		id = uuid.New().String()
	}

	payload := make(map[string]*qdrant.Value, len(doc.Metadata)+1)
	var err error
	if payload["text"], err = qdrant.NewValue(doc.Text); err != nil {
		return fmt.Errorf("failed to encode document text: %w", err)
	}
	for key, value := range doc.Metadata {
		val, err := qdrant.NewValue(value)
		if err != nil {
			return fmt.Errorf("failed to encode metadata %s: %w", key, err)
		}
		payload[key] = val
	}

	_, err = db.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: db.collectionFor(namespace),
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewID(id),
			Vectors: qdrant.NewVectors(vector...),
			Payload: payload,
		}},
	})
	if err != nil {
		return fmt.Errorf("failed to upsert point: %w", err)
	}
	return nil
}

func (db *QdrantDB) Search(ctx context.Context, namespace string, vector []float32, k int) ([]Hit, error) {
	searchResult, err := db.client.GetPointsClient().Search(ctx, &qdrant.SearchPoints{
		CollectionName: db.collectionFor(namespace),
		Vector:         vector,
		Limit:          uint64(k),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search points: %w", err)
	}

	hits := make([]Hit, 0, len(searchResult.Result))
	for _, point := range searchResult.Result {
		hit := Hit{Score: point.Score}

		if point.Id != nil {
			switch idType := point.Id.PointIdOptions.(type) {
			case *qdrant.PointId_Uuid:
				hit.ID = idType.Uuid
			case *qdrant.PointId_Num:
				hit.ID = fmt.Sprintf("%d", idType.Num)
			}
		}

		if point.Payload != nil {
			hit.Metadata = make(map[string]any, len(point.Payload))
			for key, value := range point.Payload {
				switch v := value.Kind.(type) {
				case *qdrant.Value_StringValue:
					if key == "text" {
						hit.Text = v.StringValue
					} else {
						hit.Metadata[key] = v.StringValue
					}
				case *qdrant.Value_IntegerValue:
					hit.Metadata[key] = v.IntegerValue
				case *qdrant.Value_DoubleValue:
					hit.Metadata[key] = v.DoubleValue
				case *qdrant.Value_BoolValue:
					hit.Metadata[key] = v.BoolValue
				}
			}
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

func (db *QdrantDB) Close() error {
	return db.client.Close()
}

var _ VectorDB = (*QdrantDB)(nil)
