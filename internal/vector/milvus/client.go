package milvus

import (
	"context"
	"fmt"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/Ajay6601/docuflow-ai/internal/search"
	"github.com/Ajay6601/docuflow-ai/pkg/logger"
)

// Client stores exactly one embedding per document and answers cosine
// nearest-neighbor queries for the search engine.
type Client struct {
	client         client.Client
	collectionName string
	vectorDim      int
}

func NewClient(endpoint, collectionName string, vectorDim int) (*Client, error) {
	c, err := client.NewGrpcClient(context.Background(), endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection", collectionName),
	)

	return &Client{
		client:         c,
		collectionName: collectionName,
		vectorDim:      vectorDim,
	}, nil
}

func (m *Client) Close() error {
	return m.client.Close()
}

func (m *Client) EnsureCollection(ctx context.Context) error {
	has, err := m.client.HasCollection(ctx, m.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if has {
		logger.Info("Collection already exists", zap.String("collection", m.collectionName))
		return nil
	}

	schema := &entity.Schema{
		CollectionName: m.collectionName,
		Description:    "Document embeddings",
		Fields: []*entity.Field{
			{
				Name:       "doc_id",
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{
					"max_length": "64",
				},
			},
			{
				Name:     "embedding",
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": fmt.Sprintf("%d", m.vectorDim),
				},
			},
			{
				Name:     "document_type",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "32",
				},
			},
			{
				Name:     "created_at",
				DataType: entity.FieldTypeInt64,
			},
		},
	}

	if err := m.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx, _ := entity.NewIndexIvfFlat(entity.COSINE, 1024)
	if err := m.client.CreateIndex(ctx, m.collectionName, "embedding", idx, false); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	if err := m.client.LoadCollection(ctx, m.collectionName, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	logger.Info("Collection created and loaded", zap.String("collection", m.collectionName))
	return nil
}

// Upsert replaces the stored embedding for a document. Delete-then-insert
// keeps reprocessed documents from accumulating stale vectors.
func (m *Client) Upsert(ctx context.Context, docID string, vector []float32, docType string, createdAt time.Time) error {
	if len(vector) != m.vectorDim {
		return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(vector), m.vectorDim)
	}

	expr := fmt.Sprintf(`doc_id == "%s"`, docID)
	if err := m.client.Delete(ctx, m.collectionName, "", expr); err != nil {
		return fmt.Errorf("failed to delete previous embedding: %w", err)
	}

	_, err := m.client.Insert(
		ctx,
		m.collectionName,
		"",
		entity.NewColumnVarChar("doc_id", []string{docID}),
		entity.NewColumnFloatVector("embedding", m.vectorDim, [][]float32{vector}),
		entity.NewColumnVarChar("document_type", []string{docType}),
		entity.NewColumnInt64("created_at", []int64{createdAt.Unix()}),
	)
	if err != nil {
		return fmt.Errorf("failed to insert embedding: %w", err)
	}

	if err := m.client.Flush(ctx, m.collectionName, false); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	logger.Debug("Embedding upserted", zap.String("document_id", docID))
	return nil
}

func (m *Client) Delete(ctx context.Context, docID string) error {
	expr := fmt.Sprintf(`doc_id == "%s"`, docID)
	if err := m.client.Delete(ctx, m.collectionName, "", expr); err != nil {
		return fmt.Errorf("failed to delete embedding: %w", err)
	}
	return nil
}

// Search returns the topK documents by cosine similarity, optionally
// restricted to one document type.
func (m *Client) Search(ctx context.Context, vector []float32, topK int, docType string) ([]search.VectorHit, error) {
	expr := ""
	if docType != "" {
		expr = fmt.Sprintf(`document_type == "%s"`, docType)
	}

	sp, _ := entity.NewIndexIvfFlatSearchParam(16)

	searchResult, err := m.client.Search(
		ctx,
		m.collectionName,
		[]string{},
		expr,
		[]string{"doc_id", "created_at"},
		[]entity.Vector{entity.FloatVector(vector)},
		"embedding",
		entity.COSINE,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	results := make([]search.VectorHit, 0)
	for _, sr := range searchResult {
		idCol := sr.Fields.GetColumn("doc_id")
		createdCol := sr.Fields.GetColumn("created_at")
		for i := 0; i < sr.ResultCount; i++ {
			id, err := idCol.Get(i)
			if err != nil {
				continue
			}
			var createdAt time.Time
			if createdCol != nil {
				if ts, err := createdCol.GetAsInt64(i); err == nil {
					createdAt = time.Unix(ts, 0).UTC()
				}
			}
			results = append(results, search.VectorHit{
				DocumentID: id.(string),
				Score:      float64(sr.Scores[i]),
				CreatedAt:  createdAt,
			})
		}
	}

	logger.Debug("Vector search completed",
		zap.Int("topK", topK),
		zap.Int("results", len(results)),
	)
	return results, nil
}
