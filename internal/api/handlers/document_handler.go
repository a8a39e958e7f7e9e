package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Ajay6601/docuflow-ai/internal/metrics"
	"github.com/Ajay6601/docuflow-ai/internal/objectstore"
	"github.com/Ajay6601/docuflow-ai/internal/pipeline"
	"github.com/Ajay6601/docuflow-ai/internal/search"
	"github.com/Ajay6601/docuflow-ai/internal/storage/models"
	"github.com/Ajay6601/docuflow-ai/internal/storage/sqlite"
	"github.com/Ajay6601/docuflow-ai/internal/vector/milvus"
	"github.com/Ajay6601/docuflow-ai/pkg/logger"
)

type DocumentHandler struct {
	store        *sqlite.Client
	blobs        *objectstore.Client
	orchestrator *pipeline.Orchestrator
	index        *search.Index
	vectors      *milvus.Client
	maxFileSize  int64
	allowedTypes map[string]struct{}
}

func NewDocumentHandler(
	store *sqlite.Client,
	blobs *objectstore.Client,
	orchestrator *pipeline.Orchestrator,
	index *search.Index,
	vectors *milvus.Client,
	maxFileSize int64,
	allowedTypes []string,
) *DocumentHandler {
	allowed := make(map[string]struct{}, len(allowedTypes))
	for _, t := range allowedTypes {
		allowed[t] = struct{}{}
	}
	return &DocumentHandler{
		store:        store,
		blobs:        blobs,
		orchestrator: orchestrator,
		index:        index,
		vectors:      vectors,
		maxFileSize:  maxFileSize,
		allowedTypes: allowed,
	}
}

type documentResponse struct {
	ID                     string         `json:"id"`
	Filename               string         `json:"filename"`
	OriginalFilename       string         `json:"original_filename"`
	FileSize               int64          `json:"file_size"`
	FileType               string         `json:"file_type"`
	Status                 string         `json:"status"`
	PageCount              *int           `json:"page_count,omitempty"`
	ExtractionMethod       string         `json:"extraction_method,omitempty"`
	ExtractionError        string         `json:"extraction_error,omitempty"`
	RetryCount             int            `json:"retry_count"`
	ProcessingTime         *float64       `json:"processing_time,omitempty"`
	DocumentType           string         `json:"document_type"`
	DocumentTypeConfidence *float64       `json:"document_type_confidence,omitempty"`
	ExtractedData          map[string]any `json:"extracted_data,omitempty"`
	Summary                string         `json:"summary,omitempty"`
	AIProcessingCost       float64        `json:"ai_processing_cost"`
	HasEmbedding           bool           `json:"has_embedding"`
	CreatedAt              time.Time      `json:"created_at"`
	UpdatedAt              time.Time      `json:"updated_at"`
}

func toResponse(doc *models.Document) documentResponse {
	return documentResponse{
		ID:                     doc.ID,
		Filename:               doc.Filename,
		OriginalFilename:       doc.OriginalFilename,
		FileSize:               doc.FileSize,
		FileType:               doc.FileType,
		Status:                 string(doc.Status),
		PageCount:              doc.PageCount,
		ExtractionMethod:       doc.ExtractionMethod,
		ExtractionError:        doc.ExtractionError,
		RetryCount:             doc.RetryCount,
		ProcessingTime:         doc.ProcessingTime,
		DocumentType:           string(doc.DocumentType),
		DocumentTypeConfidence: doc.DocumentTypeConfidence,
		ExtractedData:          doc.ExtractedData,
		Summary:                doc.Summary,
		AIProcessingCost:       doc.AIProcessingCost,
		HasEmbedding:           doc.HasEmbedding,
		CreatedAt:              doc.CreatedAt,
		UpdatedAt:              doc.UpdatedAt,
	}
}

func (h *DocumentHandler) Upload(c *fiber.Ctx) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "A file is required",
		})
	}

	if fileHeader.Size == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Empty files are not accepted",
		})
	}
	if fileHeader.Size > h.maxFileSize {
		return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
			"error": fmt.Sprintf("File exceeds the %d byte limit", h.maxFileSize),
		})
	}

	f, err := fileHeader.Open()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Could not read uploaded file",
		})
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Could not read uploaded file",
		})
	}

	contentType := detectContentType(fileHeader.Filename, data)
	if _, ok := h.allowedTypes[contentType]; !ok {
		return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
			"error": fmt.Sprintf("Unsupported file type %q", contentType),
		})
	}

	id := uuid.New().String()
	now := time.Now().UTC()
	ext := strings.ToLower(filepath.Ext(fileHeader.Filename))
	storageKey := fmt.Sprintf("uploads/%d/%02d/%d_%s%s", now.Year(), now.Month(), now.Unix(), id, ext)

	if err := h.blobs.Put(c.Context(), storageKey, data, contentType); err != nil {
		logger.Error("Failed to store upload", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to store file",
		})
	}

	doc := &models.Document{
		ID:               id,
		Filename:         filepath.Base(storageKey),
		OriginalFilename: fileHeader.Filename,
		FileSize:         fileHeader.Size,
		FileType:         contentType,
		StoragePath:      storageKey,
		Status:           models.StatusUploaded,
		DocumentType:     models.TypeUnknown,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := h.store.InsertDocument(c.Context(), doc); err != nil {
		logger.Error("Failed to insert document", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create document",
		})
	}

	if err := h.orchestrator.Submit(c.Context(), id); err != nil {
		logger.Error("Failed to submit document", zap.String("document_id", id), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to schedule processing",
		})
	}

	metrics.DocumentsUploaded.Inc()
	logger.Info("Document uploaded",
		zap.String("document_id", id),
		zap.String("filename", fileHeader.Filename),
		zap.Int64("size", fileHeader.Size),
	)

	doc.Status = models.StatusProcessing
	return c.Status(fiber.StatusCreated).JSON(toResponse(doc))
}

func (h *DocumentHandler) Get(c *fiber.Ctx) error {
	doc, err := h.store.GetDocument(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Document not found"})
		}
		logger.Error("Failed to load document", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to load document"})
	}
	return c.JSON(toResponse(doc))
}

func (h *DocumentHandler) List(c *fiber.Ctx) error {
	page := c.QueryInt("page", 1)
	pageSize := c.QueryInt("page_size", 20)
	if page < 1 || pageSize < 1 || pageSize > 100 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid pagination parameters"})
	}

	filter := sqlite.ListFilter{
		Status: models.DocumentStatus(c.Query("status")),
		Type:   models.DocumentType(c.Query("type")),
		Limit:  pageSize,
		Offset: (page - 1) * pageSize,
	}
	docs, total, err := h.store.ListDocuments(c.Context(), filter)
	if err != nil {
		logger.Error("Failed to list documents", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to list documents"})
	}

	out := make([]documentResponse, 0, len(docs))
	for _, d := range docs {
		out = append(out, toResponse(d))
	}
	return c.JSON(fiber.Map{
		"documents": out,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

func (h *DocumentHandler) Download(c *fiber.Ctx) error {
	doc, err := h.store.GetDocument(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Document not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to load document"})
	}

	data, err := h.blobs.Get(c.Context(), doc.StoragePath)
	if err != nil {
		logger.Error("Failed to read stored file", zap.String("document_id", doc.ID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to read file"})
	}

	c.Set("Content-Type", doc.FileType)
	c.Set("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, doc.OriginalFilename))
	return c.Send(data)
}

func (h *DocumentHandler) Delete(c *fiber.Ctx) error {
	id := c.Params("id")
	doc, err := h.store.GetDocument(c.Context(), id)
	if err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Document not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to load document"})
	}

	if err := h.store.DeleteDocument(c.Context(), id); err != nil {
		logger.Error("Failed to delete document", zap.String("document_id", id), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to delete document"})
	}

	// Best-effort cleanup of the secondary stores.
	h.index.Remove(id)
	if err := h.blobs.Delete(c.Context(), doc.StoragePath); err != nil {
		logger.Warn("Failed to delete stored file", zap.String("document_id", id), zap.Error(err))
	}
	if doc.HasEmbedding {
		if err := h.vectors.Delete(c.Context(), id); err != nil {
			logger.Warn("Failed to delete embedding", zap.String("document_id", id), zap.Error(err))
		}
	}

	logger.Info("Document deleted", zap.String("document_id", id))
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *DocumentHandler) Reprocess(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := h.orchestrator.Submit(c.Context(), id); err != nil {
		if errors.Is(err, pipeline.ErrAlreadyProcessing) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error":  "Document is already being processed",
				"status": string(models.StatusProcessing),
			})
		}
		if errors.Is(err, sqlite.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Document not found"})
		}
		logger.Error("Failed to reprocess document", zap.String("document_id", id), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to schedule reprocessing"})
	}

	return c.JSON(fiber.Map{
		"document_id": id,
		"status":      string(models.StatusProcessing),
	})
}

// detectContentType sniffs the payload and falls back to the file extension
// for the office and email formats the sniffer reports generically.
func detectContentType(filename string, data []byte) string {
	sniffed := http.DetectContentType(data)
	sniffed = strings.TrimSpace(strings.Split(sniffed, ";")[0])

	switch sniffed {
	case "application/pdf", "image/png", "image/jpeg":
		return sniffed
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return "application/pdf"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".eml":
		return "message/rfc822"
	}
	return sniffed
}
