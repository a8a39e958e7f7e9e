package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Ajay6601/docuflow-ai/internal/ai"
	"github.com/Ajay6601/docuflow-ai/internal/common"
	"github.com/Ajay6601/docuflow-ai/internal/events"
	"github.com/Ajay6601/docuflow-ai/internal/extraction"
	"github.com/Ajay6601/docuflow-ai/internal/metrics"
	"github.com/Ajay6601/docuflow-ai/internal/storage/models"
	"github.com/Ajay6601/docuflow-ai/internal/storage/sqlite"
	"github.com/Ajay6601/docuflow-ai/pkg/logger"
)

// ErrAlreadyProcessing is returned by Submit when the document is currently
// claimed by the pipeline.
var ErrAlreadyProcessing = errors.New("document is already being processed")

// DocumentStore is the slice of the storage layer the pipeline drives.
type DocumentStore interface {
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	ClaimForProcessing(ctx context.Context, id string) (bool, models.DocumentStatus, error)
	SaveExtraction(ctx context.Context, id, text string, pageCount *int, method string) error
	IncrementRetry(ctx context.Context, id string) (int, error)
	MarkCompleted(ctx context.Context, id string, rec sqlite.CompletionRecord) error
	MarkFailed(ctx context.Context, id, errorMsg string, processingTime float64) error
}

type BlobStore interface {
	Get(ctx context.Context, objectName string) ([]byte, error)
}

// Delivery is a claimed job plus its queue bookkeeping.
type Delivery interface {
	Job() models.ProcessingJob
	Ack(ctx context.Context) error
	Heartbeat(ctx context.Context) error
}

type JobQueue interface {
	Enqueue(ctx context.Context, job models.ProcessingJob) error
	EnqueueDelayed(ctx context.Context, job models.ProcessingJob, delay time.Duration) error
	Dequeue(ctx context.Context, timeout time.Duration) (Delivery, error)
}

type Extractor interface {
	Extract(ctx context.Context, data []byte, mimeType string) (extraction.Result, error)
}

type Classifier interface {
	Process(ctx context.Context, text string) (*ai.Result, error)
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type VectorStore interface {
	Upsert(ctx context.Context, docID string, vector []float32, docType string, createdAt time.Time) error
}

type Indexer interface {
	Add(doc *models.Document)
}

type EventSink interface {
	Emit(event events.Event)
}

type Config struct {
	Workers     int
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	JobTimeout  time.Duration
}

// Orchestrator owns document lifecycle transitions. Handlers submit work;
// workers pull jobs off the queue and run the extract -> classify -> embed
// sequence. Only the orchestrator moves a document into a terminal status.
type Orchestrator struct {
	store      DocumentStore
	blobs      BlobStore
	queue      JobQueue
	extractor  Extractor
	classifier Classifier
	embedder   Embedder
	vectors    VectorStore
	index      Indexer
	events     EventSink
	cfg        Config

	wg sync.WaitGroup
}

func NewOrchestrator(
	store DocumentStore,
	blobs BlobStore,
	queue JobQueue,
	extractor Extractor,
	classifier Classifier,
	embedder Embedder,
	vectors VectorStore,
	index Indexer,
	events EventSink,
	cfg Config,
) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 5 * time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 5 * time.Minute
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 5 * time.Minute
	}

	return &Orchestrator{
		store:      store,
		blobs:      blobs,
		queue:      queue,
		extractor:  extractor,
		classifier: classifier,
		embedder:   embedder,
		vectors:    vectors,
		index:      index,
		events:     events,
		cfg:        cfg,
	}
}

// Submit claims the document for processing and enqueues it. A document that
// is already processing is rejected; any other status (including terminal
// ones, for reprocessing) is claimed and its previous failure cleared.
func (o *Orchestrator) Submit(ctx context.Context, documentID string) error {
	claimed, status, err := o.store.ClaimForProcessing(ctx, documentID)
	if err != nil {
		return err
	}
	if !claimed {
		if status == models.StatusProcessing {
			return ErrAlreadyProcessing
		}
		return fmt.Errorf("document %s could not be claimed from status %s", documentID, status)
	}

	job := models.ProcessingJob{
		DocumentID: documentID,
		Attempt:    1,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := o.queue.Enqueue(ctx, job); err != nil {
		// The claim stands; the reaper cannot help here, so surface the error
		// and let the caller retry the submit.
		return fmt.Errorf("failed to enqueue document %s: %w", documentID, err)
	}

	o.events.Emit(events.Event{
		DocumentID: documentID,
		Status:     string(models.StatusProcessing),
		Progress:   0,
		Message:    "Queued for processing",
	})

	logger.Info("Document submitted for processing", zap.String("document_id", documentID))
	return nil
}

// Start launches the worker pool. Workers exit when ctx is cancelled; Wait
// blocks until they have all drained.
func (o *Orchestrator) Start(ctx context.Context) {
	for i := 0; i < o.cfg.Workers; i++ {
		o.wg.Add(1)
		go func(worker int) {
			defer o.wg.Done()
			o.runWorker(ctx, worker)
		}(i)
	}
	logger.Info("Pipeline workers started", zap.Int("workers", o.cfg.Workers))
}

func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) runWorker(ctx context.Context, worker int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		delivery, err := o.queue.Dequeue(ctx, 5*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("Failed to dequeue job", zap.Int("worker", worker), zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		if delivery == nil {
			continue
		}

		o.runJob(ctx, delivery)
	}
}

func (o *Orchestrator) runJob(ctx context.Context, delivery Delivery) {
	job := delivery.Job()
	start := time.Now()

	jobCtx, cancel := context.WithTimeout(ctx, o.cfg.JobTimeout)
	defer cancel()

	// Keep the queue lease alive while the job runs.
	heartbeatDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-heartbeatDone:
				return
			case <-ticker.C:
				if err := delivery.Heartbeat(jobCtx); err != nil {
					logger.Warn("Failed to extend job lease",
						zap.String("document_id", job.DocumentID),
						zap.Error(err),
					)
				}
			}
		}
	}()

	err := o.process(jobCtx, job)
	close(heartbeatDone)

	elapsed := time.Since(start).Seconds()

	var termErr error
	switch {
	case err == nil:
		metrics.DocumentsProcessed.WithLabelValues("completed").Inc()
		logger.Info("Document processed",
			zap.String("document_id", job.DocumentID),
			zap.Int("attempt", job.Attempt),
			zap.Float64("seconds", elapsed),
		)
	case common.IsPermanent(err):
		termErr = o.fail(ctx, job, err, elapsed)
	default:
		termErr = o.retryOrFail(ctx, job, err, elapsed)
	}

	if termErr != nil {
		// The terminal write did not commit. Withholding the ack keeps the
		// job inflight so the reaper re-delivers it once the lease expires,
		// instead of stranding the document in processing.
		logger.Error("Terminal transition failed, leaving job for redelivery",
			zap.String("document_id", job.DocumentID),
			zap.Error(termErr),
		)
		return
	}

	if ackErr := delivery.Ack(ctx); ackErr != nil {
		logger.Warn("Failed to ack job",
			zap.String("document_id", job.DocumentID),
			zap.Error(ackErr),
		)
	}
}

// retryOrFail handles a transient failure: re-enqueue with backoff while
// attempts remain, otherwise give up and fail the document. A non-nil return
// means the terminal write did not commit and the job must not be acked.
func (o *Orchestrator) retryOrFail(ctx context.Context, job models.ProcessingJob, cause error, elapsed float64) error {
	if job.Attempt >= o.cfg.MaxAttempts {
		return o.fail(ctx, job, fmt.Errorf("exhausted %d attempts: %w", job.Attempt, cause), elapsed)
	}

	if _, err := o.store.IncrementRetry(ctx, job.DocumentID); err != nil {
		logger.Error("Failed to record retry", zap.String("document_id", job.DocumentID), zap.Error(err))
	}

	next := models.ProcessingJob{
		DocumentID: job.DocumentID,
		Attempt:    job.Attempt + 1,
		EnqueuedAt: time.Now().UTC(),
	}
	delay := Backoff(job.Attempt, o.cfg.BaseDelay, o.cfg.MaxDelay)
	metrics.RetriesScheduled.Inc()
	if err := o.queue.EnqueueDelayed(ctx, next, delay); err != nil {
		logger.Error("Failed to schedule retry, failing document",
			zap.String("document_id", job.DocumentID),
			zap.Error(err),
		)
		return o.fail(ctx, job, fmt.Errorf("retry scheduling failed after: %w", cause), elapsed)
	}

	o.events.Emit(events.Event{
		DocumentID: job.DocumentID,
		Status:     string(models.StatusProcessing),
		Progress:   0,
		Message:    fmt.Sprintf("Retrying (attempt %d of %d) in %s", next.Attempt, o.cfg.MaxAttempts, delay),
	})

	logger.Warn("Transient failure, retry scheduled",
		zap.String("document_id", job.DocumentID),
		zap.Int("next_attempt", next.Attempt),
		zap.Duration("delay", delay),
		zap.Error(cause),
	)
	return nil
}

// fail records the terminal failure. A missing row or a state conflict means
// there is nothing left to transition and counts as handled; a storage error
// is returned so the delivery stays unacked and the reaper can re-deliver.
func (o *Orchestrator) fail(ctx context.Context, job models.ProcessingJob, cause error, elapsed float64) error {
	if err := o.store.MarkFailed(ctx, job.DocumentID, cause.Error(), elapsed); err != nil {
		if errors.Is(err, sqlite.ErrNotFound) || errors.Is(err, sqlite.ErrConflict) {
			logger.Warn("Failed transition refused",
				zap.String("document_id", job.DocumentID),
				zap.Error(err),
			)
			return nil
		}
		logger.Error("Failed to mark document failed",
			zap.String("document_id", job.DocumentID),
			zap.Error(err),
		)
		return err
	}

	metrics.DocumentsProcessed.WithLabelValues("failed").Inc()
	o.events.Emit(events.Event{
		DocumentID: job.DocumentID,
		Status:     string(models.StatusFailed),
		Progress:   100,
		Message:    cause.Error(),
	})
	return nil
}

// process runs one attempt end to end. Extraction errors keep their failure
// class; classification and embedding degrade rather than fail the document.
func (o *Orchestrator) process(ctx context.Context, job models.ProcessingJob) error {
	doc, err := o.store.GetDocument(ctx, job.DocumentID)
	if err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return common.Permanent("load", err)
		}
		return common.Transient("load", err)
	}

	o.emitProgress(doc.ID, 10, "Downloading document")
	data, err := o.blobs.Get(ctx, doc.StoragePath)
	if err != nil {
		return common.Transient("download", err)
	}

	o.emitProgress(doc.ID, 40, "Extracting text")
	extractStart := time.Now()
	extracted, err := o.extractor.Extract(ctx, data, doc.FileType)
	metrics.StageDuration.WithLabelValues("extract").Observe(time.Since(extractStart).Seconds())
	if err != nil {
		return err
	}
	metrics.ExtractionMethod.WithLabelValues(extracted.Method).Inc()
	if err := o.store.SaveExtraction(ctx, doc.ID, extracted.Text, extracted.PageCount, extracted.Method); err != nil {
		return common.Transient("persist", err)
	}

	o.emitProgress(doc.ID, 50, "Analyzing content")
	aiStart := time.Now()
	aiResult, err := o.classifier.Process(ctx, extracted.Text)
	metrics.StageDuration.WithLabelValues("classify").Observe(time.Since(aiStart).Seconds())
	if err != nil {
		logger.Warn("AI analysis failed, completing without classification",
			zap.String("document_id", doc.ID),
			zap.Error(err),
		)
		aiResult = &ai.Result{DocumentType: models.TypeUnknown}
	}

	metrics.AICost.Add(aiResult.Cost)

	o.emitProgress(doc.ID, 70, "Generating embedding")
	embedStart := time.Now()
	var vector []float32
	vec, embedErr := o.embedder.Embed(ctx, extracted.Text)
	metrics.StageDuration.WithLabelValues("embed").Observe(time.Since(embedStart).Seconds())
	if embedErr != nil {
		logger.Warn("Embedding generation failed, completing without embedding",
			zap.String("document_id", doc.ID),
			zap.Error(embedErr),
		)
	} else {
		vector = vec
	}

	rec := sqlite.CompletionRecord{
		DocumentType:   aiResult.DocumentType,
		ExtractedData:  aiResult.Fields,
		Summary:        aiResult.Summary,
		AICost:         aiResult.Cost,
		ProcessingTime: time.Since(job.EnqueuedAt).Seconds(),
		HasEmbedding:   vector != nil,
	}
	if aiResult.Confidence > 0 {
		confidence := aiResult.Confidence
		rec.DocumentTypeConfidence = &confidence
	}
	if err := o.store.MarkCompleted(ctx, doc.ID, rec); err != nil {
		return common.Transient("commit", err)
	}

	// Search surfaces update after the row commit so readers never see a
	// document that is completed but half-indexed against stale fields.
	if vector != nil {
		if err := o.vectors.Upsert(ctx, doc.ID, vector, string(rec.DocumentType), doc.CreatedAt); err != nil {
			logger.Warn("Vector upsert failed",
				zap.String("document_id", doc.ID),
				zap.Error(err),
			)
		}
	}
	if updated, err := o.store.GetDocument(ctx, doc.ID); err == nil {
		o.index.Add(updated)
	}

	o.events.Emit(events.Event{
		DocumentID: doc.ID,
		Status:     string(models.StatusCompleted),
		Progress:   100,
		Message:    "Processing completed",
		Metadata: map[string]any{
			"document_type": string(rec.DocumentType),
			"has_embedding": rec.HasEmbedding,
		},
	})
	return nil
}

func (o *Orchestrator) emitProgress(documentID string, progress int, message string) {
	o.events.Emit(events.Event{
		DocumentID: documentID,
		Status:     string(models.StatusProcessing),
		Progress:   progress,
		Message:    message,
	})
}
