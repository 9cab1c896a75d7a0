package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/ragkb/internal/ai"
	"github.com/xxxsen/ragkb/internal/model"
	appErr "github.com/xxxsen/ragkb/internal/pkg/errors"
)

func newTestEmbeddingService(docs *fakeDocs, chunks *fakeChunks, resolver *fakeResolver) *EmbeddingService {
	s := NewEmbeddingService(docs, chunks, chunks, resolver)
	s.now = func() time.Time { return time.Unix(1000, 0) }
	return s
}

func longText() string {
	return strings.TrimSpace(strings.Repeat("alpha beta gamma delta. ", 30))
}

func TestEmbedDocumentWritesOrderedChunks(t *testing.T) {
	doc := liveDoc("d1", "c1", "Title", longText(), 10)
	chunks := newFakeChunks()
	emb := &fakeEmbedder{dims: 2}
	s := newTestEmbeddingService(newFakeDocs(doc), chunks, &fakeResolver{enabled: testProvider("p1"), adapter: emb})

	res := s.EmbedDocument(context.Background(), doc, nil)
	require.True(t, res.Success)
	require.NoError(t, res.Err)
	require.Equal(t, "p1", res.ProviderID)
	require.Greater(t, res.ChunkCount, 2)
	require.Equal(t, 1, emb.calls)

	stored := chunks.byDoc["d1"]
	require.Len(t, stored, res.ChunkCount)
	for i, c := range stored {
		require.Equal(t, i, c.ChunkIndex)
		require.Equal(t, "p1", c.ProviderID)
		require.Len(t, c.Embedding, 2)
		require.NotEmpty(t, c.ID)
		require.EqualValues(t, 1000, c.EmbeddedAt)
	}
	require.Equal(t, model.ChunkPositionStart, stored[0].Metadata.Position)
	require.Equal(t, model.ChunkPositionEnd, stored[len(stored)-1].Metadata.Position)
	require.True(t, strings.HasPrefix(stored[0].Content, "Title"))
	require.EqualValues(t, 1000, chunks.embeddedAt["d1"])
}

func TestEmbedDocumentAtomicOnAdapterFailure(t *testing.T) {
	doc := liveDoc("d1", "c1", "Title", longText(), 10)
	chunks := newFakeChunks()
	original := []model.Chunk{{ID: "old", DocumentID: "d1", ProviderID: "p1", Content: "old", Embedding: []float32{1, 1}}}
	chunks.byDoc["d1"] = original
	emb := &fakeEmbedder{dims: 2, failAt: 3, err: &ai.APIError{Provider: "fake", StatusCode: 502}}
	s := newTestEmbeddingService(newFakeDocs(doc), chunks, &fakeResolver{enabled: testProvider("p1"), adapter: emb})

	res := s.EmbedDocument(context.Background(), doc, nil)
	require.False(t, res.Success)
	require.True(t, ai.IsRetryable(res.Err))
	require.Equal(t, original, chunks.byDoc["d1"])
	require.NotContains(t, chunks.embeddedAt, "d1")
}

func TestEmbedDocumentWriterFailureKeepsOldChunks(t *testing.T) {
	doc := liveDoc("d1", "c1", "Title", longText(), 10)
	chunks := newFakeChunks()
	chunks.byDoc["d1"] = []model.Chunk{{ID: "old", DocumentID: "d1"}}
	chunks.replaceErr = errBoom
	s := newTestEmbeddingService(newFakeDocs(doc), chunks, &fakeResolver{enabled: testProvider("p1"), adapter: &fakeEmbedder{dims: 2}})

	res := s.EmbedDocument(context.Background(), doc, nil)
	require.ErrorIs(t, res.Err, errBoom)
	require.Len(t, chunks.byDoc["d1"], 1)
}

func TestEmbedDocumentProviderIsolation(t *testing.T) {
	doc := liveDoc("d1", "c1", "Title", longText(), 10)
	chunks := newFakeChunks()
	s := newTestEmbeddingService(newFakeDocs(doc), chunks, &fakeResolver{adapter: &fakeEmbedder{dims: 2}})

	a, b := testProvider("pa"), testProvider("pb")
	b.ChunkSize = 40
	require.True(t, s.EmbedDocument(context.Background(), doc, a).Success)
	require.True(t, s.EmbedDocument(context.Background(), doc, b).Success)
	for _, c := range chunks.byDoc["d1"] {
		require.Equal(t, "pb", c.ProviderID)
	}
}

func TestEmbedDocumentBlankContent(t *testing.T) {
	doc := liveDoc("d1", "c1", "", "   \n\t ", 10)
	chunks := newFakeChunks()
	chunks.byDoc["d1"] = []model.Chunk{{ID: "keep", DocumentID: "d1"}}
	emb := &fakeEmbedder{dims: 2}
	s := newTestEmbeddingService(newFakeDocs(doc), chunks, &fakeResolver{enabled: testProvider("p1"), adapter: emb})

	res := s.EmbedDocument(context.Background(), doc, nil)
	require.True(t, res.Success)
	require.Zero(t, res.ChunkCount)
	require.Zero(t, emb.calls)
	require.Equal(t, "keep", chunks.byDoc["d1"][0].ID)
}

func TestEmbedDocumentErrors(t *testing.T) {
	doc := liveDoc("d1", "c1", "Title", "body", 10)
	tests := []struct {
		name     string
		resolver *fakeResolver
		check    func(t *testing.T, err error)
	}{
		{
			name:     "no provider",
			resolver: &fakeResolver{},
			check:    func(t *testing.T, err error) { require.ErrorIs(t, err, ai.ErrNoProvider) },
		},
		{
			name: "configuration error is surfaced unchanged",
			resolver: &fakeResolver{enabled: testProvider("p1"), adapter: &fakeEmbedder{
				dims: 2,
				err:  &ai.ConfigurationError{Provider: "fake", Msg: "bad key"},
			}},
			check: func(t *testing.T, err error) {
				require.True(t, ai.IsConfiguration(err))
				require.False(t, ai.IsRetryable(err))
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestEmbeddingService(newFakeDocs(doc), newFakeChunks(), tt.resolver)
			res := s.EmbedDocument(context.Background(), doc, nil)
			require.False(t, res.Success)
			tt.check(t, res.Err)
		})
	}
}

func TestEmbedDocumentByID(t *testing.T) {
	current := liveDoc("current", "c1", "Title", "body text", 10)
	current.EmbeddedAt = 20
	deleted := liveDoc("deleted", "c1", "Title", "body", 10)
	deleted.State = model.DocumentStateDeleted
	docs := newFakeDocs(current, deleted)
	chunks := newFakeChunks()
	chunks.byDoc["current"] = []model.Chunk{{ID: "c", DocumentID: "current", ProviderID: "p1", Embedding: []float32{1, 0}}}
	emb := &fakeEmbedder{dims: 2}
	s := newTestEmbeddingService(docs, chunks, &fakeResolver{enabled: testProvider("p1"), adapter: emb})
	ctx := context.Background()

	res := s.EmbedDocumentByID(ctx, "current", false)
	require.True(t, res.Success)
	require.True(t, res.Skipped)
	require.Zero(t, emb.calls)

	res = s.EmbedDocumentByID(ctx, "current", true)
	require.True(t, res.Success)
	require.False(t, res.Skipped)
	require.Equal(t, 1, res.ChunkCount)

	res = s.EmbedDocumentByID(ctx, "deleted", false)
	require.ErrorIs(t, res.Err, appErr.ErrNotFound)

	res = s.EmbedDocumentByID(ctx, "missing", false)
	require.ErrorIs(t, res.Err, appErr.ErrNotFound)
}

func TestEmbedDocumentByIDReembedsForNewProvider(t *testing.T) {
	doc := liveDoc("d1", "c1", "Title", "body text", 10)
	doc.EmbeddedAt = 20
	chunks := newFakeChunks()
	chunks.byDoc["d1"] = []model.Chunk{{ID: "c", DocumentID: "d1", ProviderID: "old", Embedding: []float32{1, 0}}}
	s := newTestEmbeddingService(newFakeDocs(doc), chunks, &fakeResolver{enabled: testProvider("p2"), adapter: &fakeEmbedder{dims: 2}})

	res := s.EmbedDocumentByID(context.Background(), "d1", false)
	require.True(t, res.Success)
	require.False(t, res.Skipped)
	require.Equal(t, "p2", chunks.byDoc["d1"][0].ProviderID)
}
