package bleveindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedDocuments() []Document {
	return []Document{
		{ID: "tmpl-digest", Title: "Daily digest template", Content: "Collect open tickets every morning and send a summary notification."},
		{ID: "tmpl-alert", Title: "Alert escalation template", Content: "Escalate unanswered alerts to the on-call rotation after a timeout."},
		{ID: "note-slack", Title: "Slack integration notes", Content: "Sending notifications to Slack channels requires a webhook URL."},
	}
}

func newSeededIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	require.NoError(t, idx.AddBatch(seedDocuments()))
	return idx
}

func TestIndex_RetrieveRanksRelevantDocuments(t *testing.T) {
	idx := newSeededIndex(t)

	hits, err := idx.Retrieve(context.Background(), "morning digest of tickets", 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "tmpl-digest", hits[0].ID)
	assert.Equal(t, "Daily digest template", hits[0].Title)
	assert.NotEmpty(t, hits[0].Content)
}

func TestIndex_SimilarityNormalizedToBestHit(t *testing.T) {
	idx := newSeededIndex(t)

	hits, err := idx.Retrieve(context.Background(), "notification", 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)

	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-9)
	for _, h := range hits {
		assert.Greater(t, h.Similarity, 0.0)
		assert.LessOrEqual(t, h.Similarity, 1.0)
	}
}

func TestIndex_RetrieveHonorsLimit(t *testing.T) {
	idx := newSeededIndex(t)

	hits, err := idx.Retrieve(context.Background(), "notification template", 1)
	require.NoError(t, err)
	assert.Len(t, hits, 1)

	// A non-positive limit falls back to the default rather than zero.
	hits, err = idx.Retrieve(context.Background(), "notification template", 0)
	require.NoError(t, err)
	assert.NotEmpty(t, hits)
}

func TestIndex_NoMatches(t *testing.T) {
	idx := newSeededIndex(t)

	hits, err := idx.Retrieve(context.Background(), "quantum chromodynamics", 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestIndex_AddReplaceDelete(t *testing.T) {
	idx, err := OpenInMemory()
	require.NoError(t, err)
	defer idx.Close()

	require.NoError(t, idx.Add(Document{ID: "d1", Title: "first", Content: "billing workflow"}))
	count, err := idx.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)

	// Same id replaces, not duplicates.
	require.NoError(t, idx.Add(Document{ID: "d1", Title: "first revised", Content: "billing workflow revised"}))
	count, err = idx.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)

	require.NoError(t, idx.Delete("d1"))
	count, err = idx.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), count)
}

func TestIndex_RejectsDocumentsWithoutID(t *testing.T) {
	idx, err := OpenInMemory()
	require.NoError(t, err)
	defer idx.Close()

	assert.Error(t, idx.Add(Document{Title: "anonymous"}))
	assert.Error(t, idx.AddBatch([]Document{{ID: "ok", Content: "x"}, {Content: "missing"}}))
}

func TestOpen_CreatesAndReopens(t *testing.T) {
	path := t.TempDir() + "/index.bleve"

	idx, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, idx.Add(Document{ID: "d1", Title: "persisted", Content: "survives reopen"}))
	require.NoError(t, idx.Close())

	idx, err = Open(path)
	require.NoError(t, err)
	defer idx.Close()

	count, err := idx.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
}
