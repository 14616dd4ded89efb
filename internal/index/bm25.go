// Package index implements the in-memory Okapi BM25 engine and its
// per-session on-disk persistence.
//
// Index lifecycle:
//  1. docs.load stores documents; no index is built.
//  2. The first bm25 search builds the index synchronously and caches it.
//  3. Subsequent bm25 searches reuse the cached index.
//  4. session.close persists the index with its fingerprint metadata.
package index

import (
	"math"
	"sort"
)

// Okapi BM25 parameters. Epsilon floors negative IDF values at
// epsilon * average IDF so very common terms still contribute.
const (
	bm25K1      = 1.5
	bm25B       = 0.75
	bm25Epsilon = 0.25
)

// ScoredDocument is a search hit. Scores may be negative and are never
// filtered on sign, only ranked.
type ScoredDocument struct {
	DocID   string
	Score   float64
	Content string
}

// DocEntry pairs a document id with its content. The content is kept
// alongside the inverted statistics so callers can derive match context
// without a separate blob lookup.
type DocEntry struct {
	ID      string
	Content string
}

// BM25 is an in-memory Okapi BM25 index over a tokenized corpus.
// Fields are exported for gob serialization.
type BM25 struct {
	Docs      []DocEntry
	TermFreqs []map[string]int
	DocLens   []int
	AvgDocLen float64
	IDF       map[string]float64
	Built     bool
}

// NewBM25 returns an empty index ready for AddDocument calls.
func NewBM25() *BM25 {
	return &BM25{}
}

// AddDocument queues a document for indexing. Call before Build.
func (idx *BM25) AddDocument(docID, content string) {
	idx.Docs = append(idx.Docs, DocEntry{ID: docID, Content: content})
}

// DocCount returns the number of documents in the index.
func (idx *BM25) DocCount() int {
	return len(idx.Docs)
}

// DocContent returns a document's content from the retained map.
func (idx *BM25) DocContent(docID string) (string, bool) {
	for _, doc := range idx.Docs {
		if doc.ID == docID {
			return doc.Content, true
		}
	}
	return "", false
}

// Build computes term statistics and IDF values for the added corpus.
func (idx *BM25) Build() {
	n := len(idx.Docs)
	idx.TermFreqs = make([]map[string]int, n)
	idx.DocLens = make([]int, n)
	idx.IDF = make(map[string]float64)
	idx.Built = true
	if n == 0 {
		return
	}

	docFreq := make(map[string]int)
	totalLen := 0
	for i, doc := range idx.Docs {
		tokens := Tokenize(doc.Content)
		freqs := make(map[string]int, len(tokens))
		for _, token := range tokens {
			freqs[token]++
		}
		idx.TermFreqs[i] = freqs
		idx.DocLens[i] = len(tokens)
		totalLen += len(tokens)
		for term := range freqs {
			docFreq[term]++
		}
	}
	idx.AvgDocLen = float64(totalLen) / float64(n)

	// Raw IDF goes negative for terms in more than half the corpus;
	// those are floored at epsilon times the average IDF magnitude so
	// a one-document corpus still scores its own terms positively.
	idfSum := 0.0
	var negative []string
	for term, df := range docFreq {
		idf := math.Log(float64(n)-float64(df)+0.5) - math.Log(float64(df)+0.5)
		idx.IDF[term] = idf
		idfSum += idf
		if idf < 0 {
			negative = append(negative, term)
		}
	}
	if len(negative) > 0 {
		avgIDF := math.Abs(idfSum / float64(len(idx.IDF)))
		for _, term := range negative {
			idx.IDF[term] = bm25Epsilon * avgIDF
		}
	}
}

// Search scores every document against the query and returns the top
// results sorted by score descending. Returns nil before Build or on an
// empty corpus.
func (idx *BM25) Search(query string, limit int) []ScoredDocument {
	if !idx.Built || len(idx.Docs) == 0 || limit <= 0 {
		return nil
	}

	queryTokens := Tokenize(query)
	scores := make([]float64, len(idx.Docs))
	for i := range idx.Docs {
		dl := float64(idx.DocLens[i])
		norm := bm25K1 * (1 - bm25B + bm25B*dl/idx.AvgDocLen)
		for _, term := range queryTokens {
			freq := float64(idx.TermFreqs[i][term])
			if freq == 0 {
				continue
			}
			scores[i] += idx.IDF[term] * freq * (bm25K1 + 1) / (freq + norm)
		}
	}

	order := make([]int, len(idx.Docs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})

	if limit > len(order) {
		limit = len(order)
	}
	results := make([]ScoredDocument, 0, limit)
	for _, i := range order[:limit] {
		results = append(results, ScoredDocument{
			DocID:   idx.Docs[i].ID,
			Score:   scores[i],
			Content: idx.Docs[i].Content,
		})
	}
	return results
}
