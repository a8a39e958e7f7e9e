package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Ajay6601/docuflow-ai/internal/ai"
	"github.com/Ajay6601/docuflow-ai/internal/common"
	"github.com/Ajay6601/docuflow-ai/internal/events"
	"github.com/Ajay6601/docuflow-ai/internal/extraction"
	"github.com/Ajay6601/docuflow-ai/internal/storage/models"
	"github.com/Ajay6601/docuflow-ai/internal/storage/sqlite"
)

type fakeStore struct {
	mu      sync.Mutex
	docs    map[string]*models.Document
	failErr error // forced MarkFailed error
}

func newFakeStore(docs ...*models.Document) *fakeStore {
	s := &fakeStore{docs: make(map[string]*models.Document)}
	for _, d := range docs {
		s.docs[d.ID] = d
	}
	return s
}

func (s *fakeStore) GetDocument(_ context.Context, id string) (*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, sqlite.ErrNotFound
	}
	clone := *doc
	return &clone, nil
}

func (s *fakeStore) ClaimForProcessing(_ context.Context, id string) (bool, models.DocumentStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return false, "", sqlite.ErrNotFound
	}
	if doc.Status == models.StatusProcessing {
		return false, models.StatusProcessing, nil
	}
	doc.Status = models.StatusProcessing
	doc.ExtractionError = ""
	return true, models.StatusProcessing, nil
}

func (s *fakeStore) SaveExtraction(_ context.Context, id, text string, pageCount *int, method string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := s.docs[id]
	doc.ExtractedText = text
	doc.PageCount = pageCount
	doc.ExtractionMethod = method
	return nil
}

func (s *fakeStore) IncrementRetry(_ context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := s.docs[id]
	doc.RetryCount++
	return doc.RetryCount, nil
}

func (s *fakeStore) MarkCompleted(_ context.Context, id string, rec sqlite.CompletionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return sqlite.ErrNotFound
	}
	if doc.Status != models.StatusProcessing {
		return fmt.Errorf("document %s is not processing: %w", id, sqlite.ErrConflict)
	}
	doc.Status = models.StatusCompleted
	doc.DocumentType = rec.DocumentType
	doc.DocumentTypeConfidence = rec.DocumentTypeConfidence
	doc.ExtractedData = rec.ExtractedData
	doc.Summary = rec.Summary
	doc.AIProcessingCost += rec.AICost
	doc.ProcessingTime = &rec.ProcessingTime
	doc.HasEmbedding = rec.HasEmbedding
	doc.ExtractionError = ""
	return nil
}

func (s *fakeStore) MarkFailed(_ context.Context, id, errorMsg string, processingTime float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	doc, ok := s.docs[id]
	if !ok {
		return sqlite.ErrNotFound
	}
	if doc.Status != models.StatusProcessing {
		return fmt.Errorf("document %s is not processing: %w", id, sqlite.ErrConflict)
	}
	doc.Status = models.StatusFailed
	doc.ExtractionError = errorMsg
	doc.ProcessingTime = &processingTime
	return nil
}

func (s *fakeStore) get(id string) models.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.docs[id]
}

type fakeBlobs struct {
	objects map[string][]byte
	err     error
}

func (b *fakeBlobs) Get(_ context.Context, name string) ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	data, ok := b.objects[name]
	if !ok {
		return nil, errors.New("object not found")
	}
	return data, nil
}

type delayedJob struct {
	job   models.ProcessingJob
	delay time.Duration
}

type fakeQueue struct {
	mu      sync.Mutex
	pending []models.ProcessingJob
	delayed []delayedJob
}

func (q *fakeQueue) Enqueue(_ context.Context, job models.ProcessingJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, job)
	return nil
}

func (q *fakeQueue) EnqueueDelayed(_ context.Context, job models.ProcessingJob, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.delayed = append(q.delayed, delayedJob{job: job, delay: delay})
	return nil
}

func (q *fakeQueue) Dequeue(_ context.Context, _ time.Duration) (Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil, nil
	}
	job := q.pending[0]
	q.pending = q.pending[1:]
	return &fakeDelivery{j: job}, nil
}

type fakeDelivery struct {
	j     models.ProcessingJob
	acked bool
}

func (d *fakeDelivery) Job() models.ProcessingJob       { return d.j }
func (d *fakeDelivery) Ack(context.Context) error       { d.acked = true; return nil }
func (d *fakeDelivery) Heartbeat(context.Context) error { return nil }

type fakeExtractor struct {
	result extraction.Result
	err    error
	calls  int
}

func (e *fakeExtractor) Extract(context.Context, []byte, string) (extraction.Result, error) {
	e.calls++
	return e.result, e.err
}

type fakeClassifier struct {
	result *ai.Result
	err    error
}

func (c *fakeClassifier) Process(context.Context, string) (*ai.Result, error) {
	return c.result, c.err
}

type fakeEmbedder struct {
	vec []float32
	err error
}

func (e *fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	return e.vec, e.err
}

type fakeVectors struct {
	mu      sync.Mutex
	upserts []string
}

func (v *fakeVectors) Upsert(_ context.Context, docID string, _ []float32, _ string, _ time.Time) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.upserts = append(v.upserts, docID)
	return nil
}

type fakeIndex struct {
	mu    sync.Mutex
	added []string
}

func (i *fakeIndex) Add(doc *models.Document) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.added = append(i.added, doc.ID)
}

type eventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func (l *eventLog) Emit(e events.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) terminal() []events.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []events.Event
	for _, e := range l.events {
		if e.Status == string(models.StatusCompleted) || e.Status == string(models.StatusFailed) {
			out = append(out, e)
		}
	}
	return out
}

type harness struct {
	store      *fakeStore
	blobs      *fakeBlobs
	queue      *fakeQueue
	extractor  *fakeExtractor
	classifier *fakeClassifier
	embedder   *fakeEmbedder
	vectors    *fakeVectors
	index      *fakeIndex
	log        *eventLog
	orch       *Orchestrator
}

func newHarness(doc *models.Document) *harness {
	pages := 2
	h := &harness{
		store:      newFakeStore(doc),
		blobs:      &fakeBlobs{objects: map[string][]byte{doc.StoragePath: []byte("%PDF-")}},
		queue:      &fakeQueue{},
		extractor:  &fakeExtractor{result: extraction.Result{Text: "invoice total $42", PageCount: &pages, Method: extraction.MethodNative}},
		classifier: &fakeClassifier{result: &ai.Result{DocumentType: models.TypeInvoice, Confidence: 0.93, Summary: "An invoice.", Cost: 0.002}},
		embedder:   &fakeEmbedder{vec: []float32{0.1, 0.2}},
		vectors:    &fakeVectors{},
		index:      &fakeIndex{},
		log:        &eventLog{},
	}
	h.orch = NewOrchestrator(
		h.store, h.blobs, h.queue, h.extractor, h.classifier, h.embedder,
		h.vectors, h.index, h.log,
		Config{Workers: 1, MaxAttempts: 3, BaseDelay: 5 * time.Second, MaxDelay: 5 * time.Minute, JobTimeout: time.Minute},
	)
	return h
}

func testDocument(status models.DocumentStatus) *models.Document {
	return &models.Document{
		ID:               "doc-1",
		Filename:         "invoice.pdf",
		OriginalFilename: "invoice.pdf",
		FileType:         "application/pdf",
		StoragePath:      "uploads/2026/08/invoice.pdf",
		Status:           status,
		CreatedAt:        time.Now().UTC(),
	}
}

func (h *harness) runOnce(t *testing.T, attempt int) {
	t.Helper()
	d := &fakeDelivery{j: models.ProcessingJob{DocumentID: "doc-1", Attempt: attempt, EnqueuedAt: time.Now().UTC()}}
	h.orch.runJob(context.Background(), d)
	if !d.acked {
		t.Error("job was not acked")
	}
}

func TestSubmitClaimsAndEnqueues(t *testing.T) {
	h := newHarness(testDocument(models.StatusUploaded))

	if err := h.orch.Submit(context.Background(), "doc-1"); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if got := h.store.get("doc-1").Status; got != models.StatusProcessing {
		t.Errorf("status = %s, want processing", got)
	}
	if len(h.queue.pending) != 1 || h.queue.pending[0].Attempt != 1 {
		t.Fatalf("expected one first-attempt job, got %+v", h.queue.pending)
	}
}

func TestSubmitRejectedWhileProcessing(t *testing.T) {
	h := newHarness(testDocument(models.StatusProcessing))

	err := h.orch.Submit(context.Background(), "doc-1")
	if !errors.Is(err, ErrAlreadyProcessing) {
		t.Fatalf("expected ErrAlreadyProcessing, got %v", err)
	}
	if len(h.queue.pending) != 0 {
		t.Error("no job should be enqueued for a rejected submit")
	}
}

func TestSubmitAllowsReprocessingTerminalDocument(t *testing.T) {
	doc := testDocument(models.StatusFailed)
	doc.ExtractionError = "previous failure"
	h := newHarness(doc)

	if err := h.orch.Submit(context.Background(), "doc-1"); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	got := h.store.get("doc-1")
	if got.Status != models.StatusProcessing {
		t.Errorf("status = %s, want processing", got.Status)
	}
	if got.ExtractionError != "" {
		t.Error("reprocessing should clear the previous error")
	}
}

func TestSuccessfulRunCompletesDocument(t *testing.T) {
	h := newHarness(testDocument(models.StatusProcessing))

	h.runOnce(t, 1)

	doc := h.store.get("doc-1")
	if doc.Status != models.StatusCompleted {
		t.Fatalf("status = %s, want completed", doc.Status)
	}
	if doc.ExtractionError != "" {
		t.Errorf("completed document carries error %q", doc.ExtractionError)
	}
	if doc.DocumentType != models.TypeInvoice || doc.Summary != "An invoice." {
		t.Errorf("AI results not committed: type=%s summary=%q", doc.DocumentType, doc.Summary)
	}
	if !doc.HasEmbedding {
		t.Error("has_embedding not set")
	}
	if len(h.vectors.upserts) != 1 || h.vectors.upserts[0] != "doc-1" {
		t.Errorf("vector upserts = %v", h.vectors.upserts)
	}
	if len(h.index.added) != 1 {
		t.Errorf("index additions = %v", h.index.added)
	}

	terminal := h.log.terminal()
	if len(terminal) != 1 || terminal[0].Status != string(models.StatusCompleted) || terminal[0].Progress != 100 {
		t.Errorf("expected exactly one completed event at 100%%, got %+v", terminal)
	}
}

func TestPermanentFailureSkipsRetries(t *testing.T) {
	h := newHarness(testDocument(models.StatusProcessing))
	h.extractor.err = common.Permanent("extract", errors.New("unsupported file type"))

	h.runOnce(t, 1)

	doc := h.store.get("doc-1")
	if doc.Status != models.StatusFailed {
		t.Fatalf("status = %s, want failed", doc.Status)
	}
	if doc.ExtractionError == "" {
		t.Error("failed document must record its error")
	}
	if doc.RetryCount != 0 {
		t.Errorf("retry count = %d, want 0", doc.RetryCount)
	}
	if len(h.queue.delayed) != 0 {
		t.Error("permanent failure must not schedule a retry")
	}

	terminal := h.log.terminal()
	if len(terminal) != 1 || terminal[0].Status != string(models.StatusFailed) {
		t.Errorf("expected exactly one failed event, got %+v", terminal)
	}
}

func TestTransientFailureSchedulesBackoff(t *testing.T) {
	h := newHarness(testDocument(models.StatusProcessing))
	h.extractor.err = common.Transient("extract", errors.New("ocr service unavailable"))

	h.runOnce(t, 1)

	doc := h.store.get("doc-1")
	if doc.Status != models.StatusProcessing {
		t.Fatalf("status = %s, document should stay processing between attempts", doc.Status)
	}
	if doc.RetryCount != 1 {
		t.Errorf("retry count = %d, want 1", doc.RetryCount)
	}
	if len(h.queue.delayed) != 1 {
		t.Fatalf("expected one delayed retry, got %d", len(h.queue.delayed))
	}
	retry := h.queue.delayed[0]
	if retry.job.Attempt != 2 {
		t.Errorf("retry attempt = %d, want 2", retry.job.Attempt)
	}
	if retry.delay != 5*time.Second {
		t.Errorf("retry delay = %s, want base delay", retry.delay)
	}
	if len(h.log.terminal()) != 0 {
		t.Error("no terminal event before attempts are exhausted")
	}
}

func TestTransientFailureExhaustsAttempts(t *testing.T) {
	h := newHarness(testDocument(models.StatusProcessing))
	h.extractor.err = common.Transient("extract", errors.New("timeout"))

	h.runOnce(t, 3)

	doc := h.store.get("doc-1")
	if doc.Status != models.StatusFailed {
		t.Fatalf("status = %s, want failed after final attempt", doc.Status)
	}
	if len(h.queue.delayed) != 0 {
		t.Error("final attempt must not schedule another retry")
	}
	if len(h.log.terminal()) != 1 {
		t.Errorf("expected exactly one terminal event, got %d", len(h.log.terminal()))
	}
}

func TestClassifierFailureStillCompletes(t *testing.T) {
	h := newHarness(testDocument(models.StatusProcessing))
	h.classifier.err = errors.New("llm timeout")
	h.classifier.result = nil

	h.runOnce(t, 1)

	doc := h.store.get("doc-1")
	if doc.Status != models.StatusCompleted {
		t.Fatalf("status = %s, want completed despite AI failure", doc.Status)
	}
	if doc.DocumentType != models.TypeUnknown {
		t.Errorf("document type = %s, want unknown", doc.DocumentType)
	}
	if doc.ExtractionError != "" {
		t.Error("degraded completion must not set extraction_error")
	}
}

func TestEmbedderFailureCompletesWithoutVector(t *testing.T) {
	h := newHarness(testDocument(models.StatusProcessing))
	h.embedder.err = errors.New("embedding api down")
	h.embedder.vec = nil

	h.runOnce(t, 1)

	doc := h.store.get("doc-1")
	if doc.Status != models.StatusCompleted {
		t.Fatalf("status = %s, want completed", doc.Status)
	}
	if doc.HasEmbedding {
		t.Error("has_embedding set without a vector")
	}
	if len(h.vectors.upserts) != 0 {
		t.Error("no vector should be upserted")
	}
}

func TestTerminalWriteFailureLeavesJobUnacked(t *testing.T) {
	h := newHarness(testDocument(models.StatusProcessing))
	h.extractor.err = common.Permanent("extract", errors.New("unsupported file type"))
	h.store.failErr = errors.New("disk I/O error")

	d := &fakeDelivery{j: models.ProcessingJob{DocumentID: "doc-1", Attempt: 1, EnqueuedAt: time.Now().UTC()}}
	h.orch.runJob(context.Background(), d)

	if d.acked {
		t.Error("delivery must stay unacked when the failed transition cannot be recorded")
	}
	if got := h.store.get("doc-1").Status; got != models.StatusProcessing {
		t.Errorf("status = %s, want processing until the write lands", got)
	}
	if len(h.log.terminal()) != 0 {
		t.Error("no terminal event when the transition did not commit")
	}

	// Once the store recovers, the redelivered job reaches the failed state
	// and the delivery is acked.
	h.store.failErr = nil
	h.runOnce(t, 1)
	if got := h.store.get("doc-1").Status; got != models.StatusFailed {
		t.Errorf("status = %s, want failed after redelivery", got)
	}
}

func TestMissingDocumentFailsPermanently(t *testing.T) {
	h := newHarness(testDocument(models.StatusProcessing))

	d := &fakeDelivery{j: models.ProcessingJob{DocumentID: "ghost", Attempt: 1, EnqueuedAt: time.Now().UTC()}}
	h.orch.runJob(context.Background(), d)

	if !d.acked {
		t.Error("job for missing document must still be acked")
	}
	if len(h.queue.delayed) != 0 {
		t.Error("missing document must not be retried")
	}
}
