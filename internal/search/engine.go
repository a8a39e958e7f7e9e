package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/Ajay6601/docuflow-ai/internal/storage/models"
	"github.com/Ajay6601/docuflow-ai/pkg/logger"
)

type Mode string

const (
	ModeLexical Mode = "lexical"
	ModeVector  Mode = "vector"
	ModeHybrid  Mode = "hybrid"
)

var (
	ErrInvalidMode     = errors.New("invalid search mode")
	ErrInvalidPage     = errors.New("page must be >= 1")
	ErrInvalidPageSize = errors.New("page_size out of range")
)

// QueryEmbedder turns the query string into the same vector space the
// documents were embedded in.
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorHit is one nearest-neighbor match by cosine similarity.
type VectorHit struct {
	DocumentID string
	Score      float64
	CreatedAt  time.Time
}

type VectorSearcher interface {
	Search(ctx context.Context, vector []float32, topK int, docType string) ([]VectorHit, error)
}

type DocumentReader interface {
	GetDocuments(ctx context.Context, ids []string) (map[string]*models.Document, error)
}

type Request struct {
	Query         string
	Mode          Mode
	Page          int
	PageSize      int
	Type          models.DocumentType
	LexicalWeight float64
	VectorWeight  float64
}

type Result struct {
	Document *models.Document
	Score    float64
}

type Response struct {
	Results  []Result
	Total    int
	Page     int
	PageSize int
	Mode     Mode
}

type Config struct {
	LexicalWeight float64
	VectorWeight  float64
	MaxPageSize   int
	CandidatePool int
}

// Engine answers search queries in three modes: lexical over the in-memory
// index, vector over the Milvus collection, and a weighted hybrid of both.
type Engine struct {
	index    *Index
	embedder QueryEmbedder
	vectors  VectorSearcher
	store    DocumentReader
	cfg      Config
}

func NewEngine(index *Index, embedder QueryEmbedder, vectors VectorSearcher, store DocumentReader, cfg Config) *Engine {
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = 100
	}
	if cfg.CandidatePool <= 0 {
		cfg.CandidatePool = 256
	}
	if cfg.LexicalWeight == 0 && cfg.VectorWeight == 0 {
		cfg.LexicalWeight, cfg.VectorWeight = 0.5, 0.5
	}
	return &Engine{
		index:    index,
		embedder: embedder,
		vectors:  vectors,
		store:    store,
		cfg:      cfg,
	}
}

func (e *Engine) Index() *Index { return e.index }

// Search runs one query. Out-of-range pages yield an empty page with the
// true total rather than an error.
func (e *Engine) Search(ctx context.Context, req Request) (*Response, error) {
	if req.Page < 1 {
		return nil, ErrInvalidPage
	}
	if req.PageSize < 1 || req.PageSize > e.cfg.MaxPageSize {
		return nil, fmt.Errorf("%w: must be 1..%d", ErrInvalidPageSize, e.cfg.MaxPageSize)
	}

	var scored []scoredDoc
	var err error
	switch req.Mode {
	case ModeLexical:
		scored = e.lexical(req)
	case ModeVector:
		scored, err = e.vector(ctx, req)
	case ModeHybrid, "":
		scored, err = e.hybrid(ctx, req)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, req.Mode)
	}
	if err != nil {
		return nil, err
	}

	total := len(scored)
	page := paginate(scored, req.Page, req.PageSize)

	results, err := e.resolve(ctx, page)
	if err != nil {
		return nil, err
	}

	logger.Debug("Search executed",
		zap.String("mode", string(req.Mode)),
		zap.Int("total", total),
		zap.Int("page", req.Page),
	)

	return &Response{
		Results:  results,
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
		Mode:     req.Mode,
	}, nil
}

type scoredDoc struct {
	id        string
	score     float64
	createdAt time.Time
}

func (e *Engine) lexical(req Request) []scoredDoc {
	hits := e.index.Search(req.Query, req.Type, e.cfg.CandidatePool)
	scored := make([]scoredDoc, 0, len(hits))
	for _, h := range hits {
		scored = append(scored, scoredDoc{id: h.DocumentID, score: h.Score, createdAt: h.CreatedAt})
	}
	return scored
}

func (e *Engine) vector(ctx context.Context, req Request) ([]scoredDoc, error) {
	hits, err := e.vectorHits(ctx, req)
	if err != nil {
		return nil, err
	}
	scored := make([]scoredDoc, 0, len(hits))
	for _, h := range hits {
		scored = append(scored, scoredDoc{id: h.DocumentID, score: h.Score, createdAt: h.CreatedAt})
	}
	sortScored(scored)
	return scored, nil
}

func (e *Engine) vectorHits(ctx context.Context, req Request) ([]VectorHit, error) {
	queryVec, err := e.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	hits, err := e.vectors.Search(ctx, queryVec, e.cfg.CandidatePool, string(req.Type))
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	return hits, nil
}

// hybrid normalizes each ranking to [0,1] by its own maximum and combines
// per document with a weighted sum. A document present in only one ranking
// gets zero contribution from the other, so a strong lexical match without
// an embedding still surfaces.
func (e *Engine) hybrid(ctx context.Context, req Request) ([]scoredDoc, error) {
	lexHits := e.index.Search(req.Query, req.Type, e.cfg.CandidatePool)
	vecHits, err := e.vectorHits(ctx, req)
	if err != nil {
		return nil, err
	}

	wl, wv := req.LexicalWeight, req.VectorWeight
	if wl == 0 && wv == 0 {
		wl, wv = e.cfg.LexicalWeight, e.cfg.VectorWeight
	}

	var lexMax float64
	for _, h := range lexHits {
		if h.Score > lexMax {
			lexMax = h.Score
		}
	}
	var vecMax float64
	for _, h := range vecHits {
		if h.Score > vecMax {
			vecMax = h.Score
		}
	}

	combined := make(map[string]*scoredDoc)
	if lexMax > 0 {
		for _, h := range lexHits {
			combined[h.DocumentID] = &scoredDoc{
				id:        h.DocumentID,
				score:     wl * (h.Score / lexMax),
				createdAt: h.CreatedAt,
			}
		}
	}
	if vecMax > 0 {
		for _, h := range vecHits {
			contribution := wv * (h.Score / vecMax)
			if existing, ok := combined[h.DocumentID]; ok {
				existing.score += contribution
			} else {
				combined[h.DocumentID] = &scoredDoc{id: h.DocumentID, score: contribution, createdAt: h.CreatedAt}
			}
		}
	}

	scored := make([]scoredDoc, 0, len(combined))
	for _, s := range combined {
		if s.score > 0 {
			scored = append(scored, *s)
		}
	}
	sortScored(scored)
	return scored, nil
}

func sortScored(scored []scoredDoc) {
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		if !scored[i].createdAt.Equal(scored[j].createdAt) {
			return scored[i].createdAt.After(scored[j].createdAt)
		}
		return scored[i].id < scored[j].id
	})
}

func paginate(scored []scoredDoc, page, pageSize int) []scoredDoc {
	start := (page - 1) * pageSize
	if start >= len(scored) {
		return nil
	}
	end := start + pageSize
	if end > len(scored) {
		end = len(scored)
	}
	return scored[start:end]
}

// resolve hydrates scored ids into documents, preserving order. Ids that no
// longer resolve (deleted between rank and fetch) are dropped.
func (e *Engine) resolve(ctx context.Context, scored []scoredDoc) ([]Result, error) {
	if len(scored) == 0 {
		return []Result{}, nil
	}

	ids := make([]string, 0, len(scored))
	for _, s := range scored {
		ids = append(ids, s.id)
	}
	docs, err := e.store.GetDocuments(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load search results: %w", err)
	}

	results := make([]Result, 0, len(scored))
	for _, s := range scored {
		doc, ok := docs[s.id]
		if !ok {
			continue
		}
		results = append(results, Result{Document: doc, Score: s.score})
	}
	return results, nil
}
