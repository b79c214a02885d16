// Package semdex provides the semantic document index: troubleshooting and
// installation text embedded once at ingest, queried by cosine similarity.
package semdex

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/RoseVZ/Instalily-casestudy/internal/llm"
	"github.com/RoseVZ/Instalily-casestudy/internal/model"
)

// ErrEmpty is returned by Query before any documents were ingested.
var ErrEmpty = errors.New("semantic index is empty")

// Index holds embedded documents in memory. The corpus is small (scraped
// guides and troubleshooting entries), so brute-force cosine scan is fine.
type Index struct {
	embedder llm.Embedder

	mu      sync.RWMutex
	docs    []model.ContextDoc
	vectors [][]float32
}

// New creates an empty index backed by the given embedder.
func New(embedder llm.Embedder) *Index {
	return &Index{embedder: embedder}
}

// Ingest embeds and stores documents. Documents with empty content are
// skipped.
func (x *Index) Ingest(ctx context.Context, docs []model.ContextDoc) error {
	var kept []model.ContextDoc
	var texts []string
	for _, d := range docs {
		if d.Content == "" {
			continue
		}
		kept = append(kept, d)
		texts = append(texts, d.Content)
	}
	if len(kept) == 0 {
		return nil
	}

	vectors, err := x.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed documents: %w", err)
	}
	if len(vectors) != len(kept) {
		return fmt.Errorf("embedder returned %d vectors for %d documents", len(vectors), len(kept))
	}

	x.mu.Lock()
	x.docs = append(x.docs, kept...)
	x.vectors = append(x.vectors, vectors...)
	x.mu.Unlock()

	return nil
}

// Len returns the number of indexed documents.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.docs)
}

// Query returns up to limit documents ranked by similarity to the text.
// An empty docType matches all document types.
func (x *Index) Query(ctx context.Context, text, docType string, limit int) ([]model.ContextDoc, error) {
	if limit <= 0 {
		limit = 5
	}

	x.mu.RLock()
	empty := len(x.docs) == 0
	x.mu.RUnlock()
	if empty {
		return nil, ErrEmpty
	}

	vectors, err := x.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for query", len(vectors))
	}
	q := vectors[0]

	x.mu.RLock()
	defer x.mu.RUnlock()

	type hit struct {
		doc model.ContextDoc
		sim float64
	}
	var hits []hit
	for i, d := range x.docs {
		if docType != "" && d.DocType != docType {
			continue
		}
		hits = append(hits, hit{doc: d, sim: cosine(q, x.vectors[i])})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].sim != hits[j].sim {
			return hits[i].sim > hits[j].sim
		}
		return hits[i].doc.ID < hits[j].doc.ID
	})

	if len(hits) > limit {
		hits = hits[:limit]
	}

	out := make([]model.ContextDoc, len(hits))
	for i, h := range hits {
		out[i] = h.doc
		out[i].Similarity = h.sim
	}
	return out, nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
