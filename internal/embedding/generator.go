package embedding

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/Ajay6601/docuflow-ai/pkg/circuitbreaker"
	"github.com/Ajay6601/docuflow-ai/pkg/logger"
	"github.com/Ajay6601/docuflow-ai/pkg/retry"
)

const (
	// minTextChars below which an embedding is not worth generating.
	minTextChars = 10
	// chunkCharLimit approximates the embedding model's input bound.
	chunkCharLimit = 5000
)

// Generator produces one fixed-dimension vector per document. Long text is
// chunked on paragraph boundaries (fixed windows as a last resort) and the
// chunk vectors are mean-aggregated.
type Generator struct {
	client      *openai.Client
	model       string
	dimensions  int
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

func NewGenerator(apiKey, model string, dimensions int) *Generator {
	cb := circuitbreaker.New("embedding", circuitbreaker.Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      30 * time.Second,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	return &Generator{
		client:      openai.NewClient(apiKey),
		model:       model,
		dimensions:  dimensions,
		cb:          cb,
		retryConfig: retryConfig,
	}
}

func (g *Generator) Dimensions() int { return g.dimensions }

func (g *Generator) Embed(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if len(text) < minTextChars {
		return nil, fmt.Errorf("text too short for embedding (%d chars)", len(text))
	}

	chunks := Chunk(text, chunkCharLimit)
	vectors, err := g.embedBatch(ctx, chunks)
	if err != nil {
		return nil, err
	}

	vec := meanAggregate(vectors)
	if len(vec) != g.dimensions {
		return nil, fmt.Errorf("embedding dimension mismatch: got %d, expected %d", len(vec), g.dimensions)
	}

	logger.Debug("Embedding generated",
		zap.Int("chunks", len(chunks)),
		zap.Int("dimensions", len(vec)),
	)
	return vec, nil
}

func (g *Generator) embedBatch(ctx context.Context, chunks []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var vectors [][]float32

	err := g.cb.Execute(ctx, func() error {
		return retry.Do(ctx, g.retryConfig, func() error {
			resp, err := g.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
				Input: chunks,
				Model: openai.EmbeddingModel(g.model),
			})
			if err != nil {
				return fmt.Errorf("failed to generate embeddings: %w", err)
			}
			if len(resp.Data) != len(chunks) {
				return fmt.Errorf("embedding count mismatch: got %d, expected %d", len(resp.Data), len(chunks))
			}

			vectors = vectors[:0]
			for _, data := range resp.Data {
				vec := make([]float32, len(data.Embedding))
				copy(vec, data.Embedding)
				vectors = append(vectors, vec)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return vectors, nil
}

// Chunk splits text into pieces no longer than limit, preferring paragraph
// boundaries and falling back to fixed-size windows for oversized paragraphs.
func Chunk(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}

	var chunks []string
	var current strings.Builder

	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			chunks = append(chunks, s)
		}
		current.Reset()
	}

	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		if len(para) > limit {
			flush()
			for start := 0; start < len(para); start += limit {
				end := start + limit
				if end > len(para) {
					end = len(para)
				}
				chunks = append(chunks, para[start:end])
			}
			continue
		}

		if current.Len()+len(para)+2 > limit {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()

	if len(chunks) == 0 {
		chunks = []string{text[:limit]}
	}
	return chunks
}

func meanAggregate(vectors [][]float32) []float32 {
	if len(vectors) == 0 {
		return nil
	}
	if len(vectors) == 1 {
		return vectors[0]
	}

	dim := len(vectors[0])
	sum := make([]float64, dim)
	for _, vec := range vectors {
		for i, v := range vec {
			sum[i] += float64(v)
		}
	}

	mean := make([]float32, dim)
	n := float64(len(vectors))
	for i, v := range sum {
		mean[i] = float32(v / n)
	}
	return mean
}
