package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/Ajay6601/docuflow-ai/internal/storage/models"
	"github.com/Ajay6601/docuflow-ai/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		filename TEXT NOT NULL,
		original_filename TEXT NOT NULL,
		file_size INTEGER NOT NULL,
		file_type TEXT NOT NULL,
		storage_path TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'uploaded',
		extracted_text TEXT,
		page_count INTEGER,
		extraction_method TEXT,
		extraction_error TEXT,
		retry_count INTEGER NOT NULL DEFAULT 0,
		processing_time REAL,
		document_type TEXT NOT NULL DEFAULT 'unknown',
		document_type_confidence REAL,
		extracted_data TEXT,
		summary TEXT,
		ai_processing_cost REAL NOT NULL DEFAULT 0,
		has_embedding INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
	CREATE INDEX IF NOT EXISTS idx_documents_type ON documents(document_type);
	CREATE INDEX IF NOT EXISTS idx_documents_created ON documents(created_at);
	`

	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) InsertDocument(ctx context.Context, doc *models.Document) error {
	query := `
		INSERT INTO documents (id, filename, original_filename, file_size, file_type,
			storage_path, status, document_type, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	now := time.Now()
	doc.CreatedAt = now
	doc.UpdatedAt = now

	_, err := c.db.ExecContext(ctx, query,
		doc.ID,
		doc.Filename,
		doc.OriginalFilename,
		doc.FileSize,
		doc.FileType,
		doc.StoragePath,
		string(doc.Status),
		string(doc.DocumentType),
		now.Unix(),
		now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}

	logger.Debug("Document inserted",
		zap.String("document_id", doc.ID),
		zap.String("filename", doc.OriginalFilename),
	)
	return nil
}

const documentColumns = `id, filename, original_filename, file_size, file_type, storage_path,
	status, extracted_text, page_count, extraction_method, extraction_error,
	retry_count, processing_time, document_type, document_type_confidence,
	extracted_data, summary, ai_processing_cost, has_embedding, created_at, updated_at`

func (c *Client) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	row := c.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM documents WHERE id = ?", documentColumns), id)

	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return doc, nil
}

var ErrNotFound = sql.ErrNoRows

// ErrConflict reports a guarded transition refused because the document was
// not in the state the transition requires.
var ErrConflict = errors.New("document state conflict")

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*models.Document, error) {
	var (
		doc            models.Document
		status         string
		docType        string
		text           sql.NullString
		pageCount      sql.NullInt64
		method         sql.NullString
		extractionErr  sql.NullString
		processingTime sql.NullFloat64
		confidence     sql.NullFloat64
		extractedData  sql.NullString
		summary        sql.NullString
		hasEmbedding   int
		createdAt      int64
		updatedAt      int64
	)

	err := row.Scan(
		&doc.ID, &doc.Filename, &doc.OriginalFilename, &doc.FileSize, &doc.FileType,
		&doc.StoragePath, &status, &text, &pageCount, &method, &extractionErr,
		&doc.RetryCount, &processingTime, &docType, &confidence,
		&extractedData, &summary, &doc.AIProcessingCost, &hasEmbedding,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	doc.Status = models.DocumentStatus(status)
	doc.DocumentType = models.DocumentType(docType)
	doc.ExtractedText = text.String
	doc.ExtractionMethod = method.String
	doc.ExtractionError = extractionErr.String
	doc.Summary = summary.String
	doc.HasEmbedding = hasEmbedding == 1
	doc.CreatedAt = time.Unix(createdAt, 0)
	doc.UpdatedAt = time.Unix(updatedAt, 0)

	if pageCount.Valid {
		pc := int(pageCount.Int64)
		doc.PageCount = &pc
	}
	if processingTime.Valid {
		pt := processingTime.Float64
		doc.ProcessingTime = &pt
	}
	if confidence.Valid {
		cf := confidence.Float64
		doc.DocumentTypeConfidence = &cf
	}
	if extractedData.Valid && extractedData.String != "" {
		_ = json.Unmarshal([]byte(extractedData.String), &doc.ExtractedData)
	}

	return &doc, nil
}

type ListFilter struct {
	Status models.DocumentStatus
	Type   models.DocumentType
	Limit  int
	Offset int
}

func (c *Client) ListDocuments(ctx context.Context, filter ListFilter) ([]*models.Document, int, error) {
	where := "WHERE 1=1"
	args := []any{}
	if filter.Status != "" {
		where += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if filter.Type != "" {
		where += " AND document_type = ?"
		args = append(args, string(filter.Type))
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM documents " + where
	if err := c.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count documents: %w", err)
	}

	query := fmt.Sprintf(
		"SELECT %s FROM documents %s ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?",
		documentColumns, where)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, doc)
	}

	return docs, total, rows.Err()
}

// GetDocuments loads the given ids, preserving nothing about order.
func (c *Client) GetDocuments(ctx context.Context, ids []string) (map[string]*models.Document, error) {
	result := make(map[string]*models.Document, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	placeholders := ""
	args := make([]any, len(ids))
	for i, id := range ids {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		args[i] = id
	}

	query := fmt.Sprintf("SELECT %s FROM documents WHERE id IN (%s)", documentColumns, placeholders)
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get documents: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		result[doc.ID] = doc
	}

	return result, rows.Err()
}

// ClaimForProcessing moves a document into processing unless it is already
// there. The status column acts as the compare-and-set guard: two racing
// claims can never both see a row affected.
func (c *Client) ClaimForProcessing(ctx context.Context, id string) (bool, models.DocumentStatus, error) {
	res, err := c.db.ExecContext(ctx, `
		UPDATE documents
		SET status = ?, extraction_error = NULL, updated_at = ?
		WHERE id = ? AND status != ?
	`, string(models.StatusProcessing), time.Now().Unix(), id, string(models.StatusProcessing))
	if err != nil {
		return false, "", fmt.Errorf("failed to claim document: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, "", err
	}
	if affected == 1 {
		return true, models.StatusProcessing, nil
	}

	var status string
	err = c.db.QueryRowContext(ctx, "SELECT status FROM documents WHERE id = ?", id).Scan(&status)
	if err == sql.ErrNoRows {
		return false, "", ErrNotFound
	}
	if err != nil {
		return false, "", fmt.Errorf("failed to read document status: %w", err)
	}
	return false, models.DocumentStatus(status), nil
}

func (c *Client) SaveExtraction(ctx context.Context, id, text string, pageCount *int, method string) error {
	var pages any
	if pageCount != nil {
		pages = *pageCount
	}
	_, err := c.db.ExecContext(ctx, `
		UPDATE documents
		SET extracted_text = ?, page_count = ?, extraction_method = ?, updated_at = ?
		WHERE id = ?
	`, text, pages, method, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to save extraction: %w", err)
	}
	return nil
}

func (c *Client) IncrementRetry(ctx context.Context, id string) (int, error) {
	_, err := c.db.ExecContext(ctx, `
		UPDATE documents SET retry_count = retry_count + 1, updated_at = ? WHERE id = ?
	`, time.Now().Unix(), id)
	if err != nil {
		return 0, fmt.Errorf("failed to increment retry count: %w", err)
	}

	var count int
	err = c.db.QueryRowContext(ctx, "SELECT retry_count FROM documents WHERE id = ?", id).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to read retry count: %w", err)
	}
	return count, nil
}

type CompletionRecord struct {
	DocumentType           models.DocumentType
	DocumentTypeConfidence *float64
	ExtractedData          map[string]any
	Summary                string
	AICost                 float64
	ProcessingTime         float64
	HasEmbedding           bool
}

// MarkCompleted commits the terminal completed transition and every field the
// pipeline produced in one statement, so readers never see a half-written row.
func (c *Client) MarkCompleted(ctx context.Context, id string, rec CompletionRecord) error {
	var dataJSON any
	if rec.ExtractedData != nil {
		b, err := json.Marshal(rec.ExtractedData)
		if err != nil {
			return fmt.Errorf("failed to marshal extracted data: %w", err)
		}
		dataJSON = string(b)
	}

	var confidence any
	if rec.DocumentTypeConfidence != nil {
		confidence = *rec.DocumentTypeConfidence
	}

	hasEmbedding := 0
	if rec.HasEmbedding {
		hasEmbedding = 1
	}

	res, err := c.db.ExecContext(ctx, `
		UPDATE documents
		SET status = ?, document_type = ?, document_type_confidence = ?,
			extracted_data = ?, summary = ?,
			ai_processing_cost = ai_processing_cost + ?,
			processing_time = ?, has_embedding = ?,
			extraction_error = NULL, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(models.StatusCompleted), string(rec.DocumentType), confidence,
		dataJSON, rec.Summary, rec.AICost, rec.ProcessingTime, hasEmbedding,
		time.Now().Unix(), id, string(models.StatusProcessing))
	if err != nil {
		return fmt.Errorf("failed to mark completed: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("document %s is not processing, completed transition refused: %w", id, ErrConflict)
	}
	return nil
}

func (c *Client) MarkFailed(ctx context.Context, id, errorMsg string, processingTime float64) error {
	res, err := c.db.ExecContext(ctx, `
		UPDATE documents
		SET status = ?, extraction_error = ?, processing_time = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(models.StatusFailed), errorMsg, processingTime,
		time.Now().Unix(), id, string(models.StatusProcessing))
	if err != nil {
		return fmt.Errorf("failed to mark failed: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("document %s is not processing, failed transition refused: %w", id, ErrConflict)
	}

	logger.Warn("Document failed",
		zap.String("document_id", id),
		zap.String("error", errorMsg),
	)
	return nil
}

// CompletedDocuments streams every completed document, used to rebuild the
// lexical index at startup.
func (c *Client) CompletedDocuments(ctx context.Context) ([]*models.Document, error) {
	query := fmt.Sprintf("SELECT %s FROM documents WHERE status = ?", documentColumns)
	rows, err := c.db.QueryContext(ctx, query, string(models.StatusCompleted))
	if err != nil {
		return nil, fmt.Errorf("failed to load completed documents: %w", err)
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (c *Client) DeleteDocument(ctx context.Context, id string) error {
	res, err := c.db.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
