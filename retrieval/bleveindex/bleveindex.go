// Package bleveindex implements retrieval.Retriever on a bleve full-text
// index. Reference documents (workflow templates, integration notes, prior
// workflows) are indexed once and matched against free-text queries with
// BM25 scoring.
package bleveindex

import (
	"context"
	"fmt"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/flowsmith-ai/flowsmith/core"
	"github.com/flowsmith-ai/flowsmith/retrieval"
)

// Document is a unit of indexed reference material.
type Document struct {
	ID      string            `json:"id"`
	Title   string            `json:"title"`
	Content string            `json:"content"`
	Tags    map[string]string `json:"tags,omitempty"`
}

// Index is a bleve-backed retriever.
type Index struct {
	index bleve.Index
}

var _ retrieval.Retriever = (*Index)(nil)

// Open opens the index at path, creating it when it does not exist yet.
func Open(path string) (*Index, error) {
	index, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		index, err = bleve.New(path, buildIndexMapping())
	}
	if err != nil {
		return nil, fmt.Errorf("open retrieval index: %w", err)
	}
	return &Index{index: index}, nil
}

// OpenInMemory creates a non-persistent index, used in tests and demos.
func OpenInMemory() (*Index, error) {
	index, err := bleve.NewMemOnly(buildIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("open in-memory retrieval index: %w", err)
	}
	return &Index{index: index}, nil
}

func buildIndexMapping() mapping.IndexMapping {
	indexMapping := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()

	idField := bleve.NewTextFieldMapping()
	idField.Analyzer = keyword.Name
	idField.Store = true
	docMapping.AddFieldMappingsAt("id", idField)

	titleField := bleve.NewTextFieldMapping()
	titleField.Analyzer = standard.Name
	titleField.Store = true
	docMapping.AddFieldMappingsAt("title", titleField)

	contentField := bleve.NewTextFieldMapping()
	contentField.Analyzer = standard.Name
	contentField.Store = true
	docMapping.AddFieldMappingsAt("content", contentField)

	indexMapping.DefaultMapping = docMapping
	return indexMapping
}

// Add indexes a single document, replacing any document with the same id.
func (x *Index) Add(doc Document) error {
	if doc.ID == "" {
		return fmt.Errorf("document id is required")
	}
	if err := x.index.Index(doc.ID, doc); err != nil {
		return fmt.Errorf("index document %s: %w", doc.ID, err)
	}
	return nil
}

// AddBatch indexes documents in one batch.
func (x *Index) AddBatch(docs []Document) error {
	batch := x.index.NewBatch()
	for _, doc := range docs {
		if doc.ID == "" {
			return fmt.Errorf("document id is required")
		}
		if err := batch.Index(doc.ID, doc); err != nil {
			return fmt.Errorf("batch document %s: %w", doc.ID, err)
		}
	}
	return x.index.Batch(batch)
}

// Delete removes a document from the index.
func (x *Index) Delete(id string) error {
	return x.index.Delete(id)
}

// Retrieve matches query against title and content and returns the top
// scoring documents as knowledge hits. Scores are normalized against the
// best hit so Similarity stays in (0, 1].
func (x *Index) Retrieve(ctx context.Context, query string, limit int) ([]core.KnowledgeHit, error) {
	if limit <= 0 {
		limit = 5
	}

	matchQuery := bleve.NewMatchQuery(query)
	req := bleve.NewSearchRequest(matchQuery)
	req.Size = limit
	req.Fields = []string{"title", "content"}

	res, err := x.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("retrieval search failed: %w", err)
	}

	hits := make([]core.KnowledgeHit, 0, len(res.Hits))
	for _, hit := range res.Hits {
		kh := core.KnowledgeHit{ID: hit.ID, Similarity: hit.Score}
		if res.MaxScore > 0 {
			kh.Similarity = hit.Score / res.MaxScore
		}
		if title, ok := hit.Fields["title"].(string); ok {
			kh.Title = title
		}
		if content, ok := hit.Fields["content"].(string); ok {
			kh.Content = content
		}
		hits = append(hits, kh)
	}
	return hits, nil
}

// Count reports the number of indexed documents.
func (x *Index) Count() (uint64, error) {
	return x.index.DocCount()
}

// Close closes the underlying index.
func (x *Index) Close() error {
	return x.index.Close()
}
