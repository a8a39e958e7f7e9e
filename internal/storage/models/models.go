package models

import "time"

type DocumentStatus string

const (
	StatusUploaded   DocumentStatus = "uploaded"
	StatusProcessing DocumentStatus = "processing"
	StatusCompleted  DocumentStatus = "completed"
	StatusFailed     DocumentStatus = "failed"
)

func (s DocumentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type DocumentType string

const (
	TypeUnknown  DocumentType = "unknown"
	TypeInvoice  DocumentType = "invoice"
	TypeContract DocumentType = "contract"
	TypeResume   DocumentType = "resume"
	TypeReceipt  DocumentType = "receipt"
	TypeForm     DocumentType = "form"
	TypeLetter   DocumentType = "letter"
	TypeReport   DocumentType = "report"
	TypeOther    DocumentType = "other"
)

var DocumentTypes = []DocumentType{
	TypeUnknown, TypeInvoice, TypeContract, TypeResume, TypeReceipt,
	TypeForm, TypeLetter, TypeReport, TypeOther,
}

func ParseDocumentType(s string) DocumentType {
	for _, t := range DocumentTypes {
		if string(t) == s {
			return t
		}
	}
	return TypeOther
}

type Document struct {
	ID               string
	Filename         string
	OriginalFilename string
	FileSize         int64
	FileType         string
	StoragePath      string

	Status DocumentStatus

	ExtractedText    string
	PageCount        *int
	ExtractionMethod string
	// ExtractionError is non-empty exactly when Status is failed.
	ExtractionError string

	RetryCount     int
	ProcessingTime *float64

	DocumentType           DocumentType
	DocumentTypeConfidence *float64
	ExtractedData          map[string]any
	Summary                string
	AIProcessingCost       float64

	HasEmbedding bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ProcessingJob is the unit of work carried by the task queue. It is
// ephemeral: nothing outlives the queue's own bookkeeping.
type ProcessingJob struct {
	DocumentID string    `json:"document_id"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}
