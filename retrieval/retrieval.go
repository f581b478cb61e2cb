// Package retrieval defines the knowledge-retrieval collaborator contract.
// The orchestrator calls a Retriever to ground clarification questions and
// workflow drafts in previously indexed reference material. The bleveindex
// subpackage provides a full-text implementation.
package retrieval

import (
	"context"
	"sync"

	"github.com/flowsmith-ai/flowsmith/core"
)

// Retriever looks up reference material relevant to a free-text query.
// Implementations must be safe for concurrent use; the orchestrator may
// issue retrievals in parallel with generation calls.
type Retriever interface {
	Retrieve(ctx context.Context, query string, limit int) ([]core.KnowledgeHit, error)
}

// MockRetriever is a canned Retriever for tests. It returns Hits (or Err)
// for every query and records the queries it saw.
type MockRetriever struct {
	Hits []core.KnowledgeHit
	Err  error

	mu      sync.Mutex
	queries []string
}

var _ Retriever = (*MockRetriever)(nil)

// Retrieve returns the canned hits, truncated to limit.
func (m *MockRetriever) Retrieve(_ context.Context, query string, limit int) ([]core.KnowledgeHit, error) {
	m.mu.Lock()
	m.queries = append(m.queries, query)
	m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	hits := make([]core.KnowledgeHit, len(m.Hits))
	copy(hits, m.Hits)
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Queries returns the queries seen so far, in order.
func (m *MockRetriever) Queries() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.queries))
	copy(out, m.queries)
	return out
}
