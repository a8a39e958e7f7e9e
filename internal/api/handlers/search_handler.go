package handlers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/Ajay6601/docuflow-ai/internal/metrics"
	"github.com/Ajay6601/docuflow-ai/internal/search"
	"github.com/Ajay6601/docuflow-ai/internal/storage/models"
	"github.com/Ajay6601/docuflow-ai/pkg/logger"
)

type SearchHandler struct {
	engine *search.Engine
}

func NewSearchHandler(engine *search.Engine) *SearchHandler {
	return &SearchHandler{engine: engine}
}

type searchResult struct {
	Document documentResponse `json:"document"`
	Score    float64          `json:"score"`
}

func (h *SearchHandler) Search(c *fiber.Ctx) error {
	query := c.Query("q")
	if query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Query parameter q is required"})
	}

	mode := search.Mode(c.Query("mode", string(search.ModeHybrid)))

	req := search.Request{
		Query:         query,
		Mode:          mode,
		Page:          c.QueryInt("page", 1),
		PageSize:      c.QueryInt("page_size", 20),
		Type:          models.DocumentType(c.Query("type")),
		LexicalWeight: c.QueryFloat("lexical_weight", 0),
		VectorWeight:  c.QueryFloat("vector_weight", 0),
	}

	start := time.Now()
	resp, err := h.engine.Search(c.Context(), req)
	metrics.SearchDuration.WithLabelValues(string(mode)).Observe(time.Since(start).Seconds())
	if err != nil {
		switch {
		case errors.Is(err, search.ErrInvalidPage),
			errors.Is(err, search.ErrInvalidPageSize),
			errors.Is(err, search.ErrInvalidMode):
			metrics.SearchQueries.WithLabelValues(string(mode), "rejected").Inc()
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		default:
			metrics.SearchQueries.WithLabelValues(string(mode), "error").Inc()
			logger.Error("Search failed", zap.String("mode", string(mode)), zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Search failed"})
		}
	}

	metrics.SearchQueries.WithLabelValues(string(mode), "ok").Inc()

	results := make([]searchResult, 0, len(resp.Results))
	for _, r := range resp.Results {
		results = append(results, searchResult{
			Document: toResponse(r.Document),
			Score:    r.Score,
		})
	}
	return c.JSON(fiber.Map{
		"results":   results,
		"total":     resp.Total,
		"page":      resp.Page,
		"page_size": resp.PageSize,
		"mode":      string(resp.Mode),
	})
}
