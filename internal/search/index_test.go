package search

import (
	"testing"
	"time"

	"github.com/Ajay6601/docuflow-ai/internal/storage/models"
)

func indexedDoc(id, filename, text string, docType models.DocumentType, age time.Duration) *models.Document {
	return &models.Document{
		ID:               id,
		OriginalFilename: filename,
		ExtractedText:    text,
		DocumentType:     docType,
		Status:           models.StatusCompleted,
		CreatedAt:        time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC).Add(-age),
	}
}

func TestIndexSearchRanksByFrequency(t *testing.T) {
	idx := NewIndex()
	idx.Add(indexedDoc("a", "notes.txt", "invoice invoice invoice total", models.TypeInvoice, 0))
	idx.Add(indexedDoc("b", "other.txt", "invoice once", models.TypeInvoice, 0))

	hits := idx.Search("invoice", "", 10)
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].DocumentID != "a" {
		t.Errorf("higher-frequency document should rank first, got %s", hits[0].DocumentID)
	}
}

func TestIndexFilenameMatchBoostsScore(t *testing.T) {
	idx := NewIndex()
	idx.Add(indexedDoc("body", "misc.pdf", "invoice mentioned once here", models.TypeInvoice, 0))
	idx.Add(indexedDoc("named", "invoice.pdf", "nothing relevant inside", models.TypeInvoice, 0))

	hits := idx.Search("invoice", "", 10)
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].DocumentID != "named" {
		t.Errorf("filename match should outrank a single body mention, got %s", hits[0].DocumentID)
	}
}

func TestIndexPrefixMatching(t *testing.T) {
	idx := NewIndex()
	idx.Add(indexedDoc("a", "doc.pdf", "the invoicing department sent it", models.TypeOther, 0))

	if hits := idx.Search("invoic", "", 10); len(hits) != 1 {
		t.Errorf("prefix query should match, got %d hits", len(hits))
	}
}

func TestIndexCoveragePenalizesPartialMatches(t *testing.T) {
	idx := NewIndex()
	idx.Add(indexedDoc("both", "a.pdf", "quarterly revenue report", models.TypeReport, 0))
	idx.Add(indexedDoc("one", "b.pdf", "revenue revenue revenue revenue revenue revenue revenue revenue", models.TypeReport, 0))

	hits := idx.Search("quarterly revenue", "", 10)
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].DocumentID != "both" {
		t.Errorf("document covering both terms should rank first, got %s", hits[0].DocumentID)
	}
}

func TestIndexTypeFilter(t *testing.T) {
	idx := NewIndex()
	idx.Add(indexedDoc("inv", "a.pdf", "payment terms", models.TypeInvoice, 0))
	idx.Add(indexedDoc("con", "b.pdf", "payment terms", models.TypeContract, 0))

	hits := idx.Search("payment", models.TypeContract, 10)
	if len(hits) != 1 || hits[0].DocumentID != "con" {
		t.Errorf("type filter not applied: %+v", hits)
	}
}

func TestIndexNoMatchReturnsNothing(t *testing.T) {
	idx := NewIndex()
	idx.Add(indexedDoc("a", "doc.pdf", "some text", models.TypeOther, 0))

	if hits := idx.Search("zzzzz", "", 10); len(hits) != 0 {
		t.Errorf("expected no hits, got %+v", hits)
	}
}

func TestIndexRemove(t *testing.T) {
	idx := NewIndex()
	idx.Add(indexedDoc("a", "doc.pdf", "searchable text", models.TypeOther, 0))
	idx.Remove("a")

	if idx.Size() != 0 {
		t.Errorf("index size = %d after remove", idx.Size())
	}
	if hits := idx.Search("searchable", "", 10); len(hits) != 0 {
		t.Errorf("removed document still matches: %+v", hits)
	}
}

func TestIndexReAddReplacesPostings(t *testing.T) {
	idx := NewIndex()
	idx.Add(indexedDoc("a", "doc.pdf", "alpha beta", models.TypeOther, 0))
	idx.Add(indexedDoc("a", "doc.pdf", "gamma delta", models.TypeOther, 0))

	if hits := idx.Search("alpha", "", 10); len(hits) != 0 {
		t.Errorf("stale postings survived re-add: %+v", hits)
	}
	if hits := idx.Search("gamma", "", 10); len(hits) != 1 {
		t.Errorf("re-added content not searchable: %+v", hits)
	}
}

func TestIndexDeterministicTiebreak(t *testing.T) {
	idx := NewIndex()
	idx.Add(indexedDoc("older", "x.pdf", "receipt", models.TypeReceipt, 48*time.Hour))
	idx.Add(indexedDoc("newer", "y.pdf", "receipt", models.TypeReceipt, 0))

	for i := 0; i < 5; i++ {
		hits := idx.Search("receipt", "", 10)
		if len(hits) != 2 || hits[0].DocumentID != "newer" {
			t.Fatalf("run %d: equal scores must order newest first, got %+v", i, hits)
		}
	}
}
