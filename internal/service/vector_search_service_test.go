package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/ragkb/internal/ai"
	"github.com/xxxsen/ragkb/internal/model"
)

func newVectorFixture(neighbors ...model.ChunkNeighbor) (*VectorSearchService, *fakeChunks, *fakeDocs) {
	docs := newFakeDocs(
		liveDoc("d1", "c1", "one", "x", 1),
		liveDoc("d2", "c1", "two", "x", 1),
		liveDoc("d3", "c2", "three", "x", 1),
	)
	gone := liveDoc("d4", "c1", "four", "x", 1)
	gone.State = model.DocumentStateDeleted
	docs.items["d4"] = gone
	chunks := newFakeChunks()
	chunks.neighbors = neighbors
	resolver := &fakeResolver{enabled: testProvider("p1"), adapter: &fakeEmbedder{dims: 2}}
	return NewVectorSearchService(resolver, chunks, docs), chunks, docs
}

func hitIDs(res *model.SearchResult) []string {
	ids := make([]string, 0, len(res.Hits))
	for _, h := range res.Hits {
		ids = append(ids, h.ID)
	}
	return ids
}

func TestVectorSearchGroupsByDocument(t *testing.T) {
	s, chunks, _ := newVectorFixture(
		neighbor("d1", "d1-a", "p1", 0.1),
		neighbor("d2", "d2-a", "p1", 0.2),
		neighbor("d1", "d1-b", "p1", 0.3),
		neighbor("d2", "d2-b", "p1", 0.2),
	)
	res := s.Search(context.Background(), nil, VectorQuery{Text: "q", Limit: 10})
	require.Equal(t, model.SearchModeVector, res.Mode)
	require.Equal(t, []string{"d1", "d2"}, hitIDs(res))
	require.InDelta(t, 0.9, *res.Hits[0].Score, 1e-9)
	require.Equal(t, "d1-a", res.Hits[0].Chunk.ID)
	require.Equal(t, "d2-a", res.Hits[1].Chunk.ID, "first chunk wins a tie")
	require.Nil(t, res.Hits[0].Chunk.Embedding)
	require.Equal(t, 30, chunks.lastLimit)
}

func TestVectorSearchThresholdIsInclusive(t *testing.T) {
	s, _, _ := newVectorFixture(
		neighbor("d1", "a", "p1", 0.25),
		neighbor("d2", "b", "p1", 0.5),
		neighbor("d3", "c", "p1", 0.500001),
	)
	threshold := 0.5
	res := s.Search(context.Background(), nil, VectorQuery{Text: "q", Threshold: &threshold})
	require.Equal(t, []string{"d1", "d2"}, hitIDs(res))
	require.Equal(t, 0.5, res.Threshold)
}

func TestVectorSearchThresholdSources(t *testing.T) {
	explicit := 0.8
	tests := []struct {
		name      string
		explicit  *float64
		provider  float64
		threshold float64
	}{
		{name: "explicit wins", explicit: &explicit, provider: 0.5, threshold: 0.8},
		{name: "provider", provider: 0.5, threshold: 0.5},
		{name: "fallback", threshold: DefaultSimilarityThreshold},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testProvider("p1")
			p.SimilarityThreshold = tt.provider
			require.Equal(t, tt.threshold, effectiveThreshold(tt.explicit, p))
		})
	}
}

func TestVectorSearchScopeAndMissingParents(t *testing.T) {
	s, _, _ := newVectorFixture(
		neighbor("d4", "deleted", "p1", 0.05),
		neighbor("ghost", "orphan", "p1", 0.06),
		neighbor("d3", "other-collection", "p1", 0.1),
		neighbor("d2", "in-scope", "p1", 0.2),
	)
	res := s.Search(context.Background(), nil, VectorQuery{Text: "q", Scope: model.SearchScope{CollectionID: "c1"}})
	require.Equal(t, []string{"d2"}, hitIDs(res))
	require.Equal(t, 1, res.TotalCount)
}

func TestVectorSearchPagination(t *testing.T) {
	s, _, _ := newVectorFixture(
		neighbor("d1", "a", "p1", 0.1),
		neighbor("d2", "b", "p1", 0.2),
		neighbor("d3", "c", "p1", 0.3),
	)
	res := s.Search(context.Background(), nil, VectorQuery{Text: "q", Offset: 2, Limit: 2})
	require.Equal(t, []string{"d3"}, hitIDs(res))
	require.Equal(t, 2, res.Page)
	require.Equal(t, 3, res.TotalCount)
	require.Equal(t, 2, res.TotalPages)
}

func TestVectorSearchNoneAndDegraded(t *testing.T) {
	t.Run("blank query", func(t *testing.T) {
		s, _, _ := newVectorFixture()
		res := s.Search(context.Background(), nil, VectorQuery{Text: "   "})
		require.Equal(t, model.SearchModeNone, res.Mode)
		require.Empty(t, res.Hits)
	})
	t.Run("no provider", func(t *testing.T) {
		s := NewVectorSearchService(&fakeResolver{}, newFakeChunks(), newFakeDocs())
		res := s.Search(context.Background(), nil, VectorQuery{Text: "q"})
		require.Equal(t, model.SearchModeNone, res.Mode)
		require.NoError(t, res.Cause)
	})
	t.Run("embedding failure", func(t *testing.T) {
		apiErr := &ai.APIError{Provider: "fake", StatusCode: 503}
		resolver := &fakeResolver{enabled: testProvider("p1"), adapter: &fakeEmbedder{dims: 2, err: apiErr}}
		s := NewVectorSearchService(resolver, newFakeChunks(), newFakeDocs())
		res := s.Search(context.Background(), nil, VectorQuery{Text: "q"})
		require.Equal(t, model.SearchModeDegraded, res.Mode)
		require.ErrorIs(t, res.Cause, apiErr)
		require.Empty(t, res.Hits)
	})
	t.Run("store failure", func(t *testing.T) {
		s, chunks, _ := newVectorFixture()
		chunks.nearestErr = errBoom
		res := s.Search(context.Background(), nil, VectorQuery{Text: "q"})
		require.Equal(t, model.SearchModeDegraded, res.Mode)
		require.ErrorIs(t, res.Cause, errBoom)
	})
	t.Run("document lookup failure", func(t *testing.T) {
		s, _, docs := newVectorFixture(neighbor("d1", "a", "p1", 0.1))
		docs.err = errBoom
		res := s.Search(context.Background(), nil, VectorQuery{Text: "q"})
		require.Equal(t, model.SearchModeDegraded, res.Mode)
	})
}

func TestVectorSearchUsesSnapshotProvider(t *testing.T) {
	s, _, _ := newVectorFixture(
		neighbor("d1", "a", "p1", 0.1),
		neighbor("d2", "b", "p2", 0.1),
	)
	res := s.Search(context.Background(), testProvider("p2"), VectorQuery{Text: "q"})
	require.Equal(t, []string{"d2"}, hitIDs(res))
}

func TestSimilarExcludesSelf(t *testing.T) {
	s, chunks, _ := newVectorFixture(
		neighbor("d1", "self", "p1", 0),
		neighbor("d2", "b", "p1", 0.2),
		neighbor("d3", "c", "p1", 0.1),
	)
	chunks.byDoc["d1"] = []model.Chunk{{ID: "self", DocumentID: "d1", ProviderID: "p1", Embedding: []float32{1, 0}}}

	res := s.Similar(context.Background(), nil, "d1", 0)
	require.Equal(t, []string{"d3", "d2"}, hitIDs(res))
	require.Equal(t, 18, chunks.lastLimit)

	res = s.Similar(context.Background(), nil, "unembedded", 3)
	require.Equal(t, model.SearchModeNone, res.Mode)
}
