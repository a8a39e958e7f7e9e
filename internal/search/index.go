package search

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Ajay6601/docuflow-ai/internal/storage/models"
)

const filenameBonus = 5.0

type docEntry struct {
	id            string
	docType       models.DocumentType
	createdAt     time.Time
	filenameTerms map[string]struct{}
}

// Index is an in-memory inverted index over extracted text and filenames.
// It is rebuilt from completed documents at startup and updated on each
// terminal completed transition; reads dominate.
type Index struct {
	mu       sync.RWMutex
	docs     map[string]*docEntry
	postings map[string]map[string]int // term -> doc id -> frequency
}

func NewIndex() *Index {
	return &Index{
		docs:     make(map[string]*docEntry),
		postings: make(map[string]map[string]int),
	}
}

// Add indexes a document, replacing any previous entry for the same id.
func (idx *Index) Add(doc *models.Document) {
	textTerms := Tokenize(doc.ExtractedText)
	nameTerms := Tokenize(doc.OriginalFilename)

	entry := &docEntry{
		id:            doc.ID,
		docType:       doc.DocumentType,
		createdAt:     doc.CreatedAt,
		filenameTerms: make(map[string]struct{}, len(nameTerms)),
	}
	for _, t := range nameTerms {
		entry.filenameTerms[t] = struct{}{}
	}

	freqs := make(map[string]int, len(textTerms))
	for _, t := range textTerms {
		freqs[t]++
	}
	for _, t := range nameTerms {
		freqs[t]++
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.removeLocked(doc.ID)
	idx.docs[doc.ID] = entry
	for term, freq := range freqs {
		posting, ok := idx.postings[term]
		if !ok {
			posting = make(map[string]int)
			idx.postings[term] = posting
		}
		posting[doc.ID] = freq
	}
}

func (idx *Index) Remove(id string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(id)
}

func (idx *Index) removeLocked(id string) {
	if _, ok := idx.docs[id]; !ok {
		return
	}
	delete(idx.docs, id)
	for term, posting := range idx.postings {
		delete(posting, id)
		if len(posting) == 0 {
			delete(idx.postings, term)
		}
	}
}

func (idx *Index) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.docs)
}

// Hit is one lexical match with its unnormalized relevance score.
type Hit struct {
	DocumentID string
	Score      float64
	CreatedAt  time.Time
}

// Search scores documents by term frequency weighted by query-term coverage,
// with a flat bonus for filename matches. Query terms match exactly or as a
// prefix of an indexed term. Only documents with score > 0 are returned,
// ordered by score desc, creation time desc, then id.
func (idx *Index) Search(query string, docType models.DocumentType, limit int) []Hit {
	terms := Tokenize(query)
	if len(terms) == 0 {
		return nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	scores := make(map[string]float64)
	matched := make(map[string]map[string]struct{}) // doc id -> distinct query terms hit

	for _, qt := range terms {
		for term, posting := range idx.postings {
			if term != qt && !strings.HasPrefix(term, qt) {
				continue
			}
			for docID, freq := range posting {
				entry := idx.docs[docID]
				if docType != "" && entry.docType != docType {
					continue
				}

				score := 1 + math.Log(1+float64(freq))
				if _, inName := entry.filenameTerms[term]; inName {
					score += filenameBonus
				}
				scores[docID] += score

				hits, ok := matched[docID]
				if !ok {
					hits = make(map[string]struct{})
					matched[docID] = hits
				}
				hits[qt] = struct{}{}
			}
		}
	}

	results := make([]Hit, 0, len(scores))
	for docID, score := range scores {
		coverage := float64(len(matched[docID])) / float64(len(terms))
		final := score * coverage
		if final <= 0 {
			continue
		}
		results = append(results, Hit{
			DocumentID: docID,
			Score:      final,
			CreatedAt:  idx.docs[docID].createdAt,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if !results[i].CreatedAt.Equal(results[j].CreatedAt) {
			return results[i].CreatedAt.After(results[j].CreatedAt)
		}
		return results[i].DocumentID < results[j].DocumentID
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}
