package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/xxxsen/ragkb/internal/ai"
	"github.com/xxxsen/ragkb/internal/model"
	appErr "github.com/xxxsen/ragkb/internal/pkg/errors"
)

type fakeDocs struct {
	items map[string]*model.Document
	err   error
}

func newFakeDocs(docs ...*model.Document) *fakeDocs {
	f := &fakeDocs{items: map[string]*model.Document{}}
	for _, d := range docs {
		f.items[d.ID] = d
	}
	return f
}

func (f *fakeDocs) GetByID(ctx context.Context, id string) (*model.Document, error) {
	if d, ok := f.items[id]; ok {
		cp := *d
		return &cp, nil
	}
	return nil, appErr.ErrNotFound
}

func (f *fakeDocs) ListByIDs(ctx context.Context, ids []string) (map[string]*model.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := map[string]*model.Document{}
	for _, id := range ids {
		if d, ok := f.items[id]; ok {
			cp := *d
			out[id] = &cp
		}
	}
	return out, nil
}

func (f *fakeDocs) ListLiveIDs(ctx context.Context, afterID string, limit uint) ([]string, error) {
	ids := make([]string, 0)
	for id, d := range f.items {
		if d.IsLive() && id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if uint(len(ids)) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// fakeChunks is an in-memory chunk table; Replace and Touch mirror the
// transactional writer.
type fakeChunks struct {
	mu         sync.Mutex
	byDoc      map[string][]model.Chunk
	embeddedAt map[string]int64
	neighbors  []model.ChunkNeighbor
	nearestErr error
	replaceErr error
	lastLimit  int
}

func newFakeChunks() *fakeChunks {
	return &fakeChunks{byDoc: map[string][]model.Chunk{}, embeddedAt: map[string]int64{}}
}

func (f *fakeChunks) ListByDocument(ctx context.Context, documentID string) ([]model.Chunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Chunk(nil), f.byDoc[documentID]...), nil
}

func (f *fakeChunks) FirstEmbedded(ctx context.Context, documentID, providerID string) (*model.Chunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.byDoc[documentID] {
		if c.ProviderID == providerID && len(c.Embedding) > 0 {
			cp := c
			return &cp, nil
		}
	}
	return nil, appErr.ErrNotFound
}

func (f *fakeChunks) Nearest(ctx context.Context, providerID string, vec []float32, limit int) ([]model.ChunkNeighbor, error) {
	f.lastLimit = limit
	if f.nearestErr != nil {
		return nil, f.nearestErr
	}
	out := make([]model.ChunkNeighbor, 0)
	for _, n := range f.neighbors {
		if n.Chunk.ProviderID == providerID {
			out = append(out, n)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeChunks) Replace(ctx context.Context, documentID string, chunks []model.Chunk, embeddedAt int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.replaceErr != nil {
		return f.replaceErr
	}
	f.byDoc[documentID] = append([]model.Chunk(nil), chunks...)
	f.embeddedAt[documentID] = embeddedAt
	return nil
}

func (f *fakeChunks) Touch(ctx context.Context, documentID string, embeddedAt int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.embeddedAt[documentID] = embeddedAt
	return nil
}

// fakeEmbedder returns a vector derived from the text and can fail on the
// n-th text it sees.
type fakeEmbedder struct {
	dims   int
	failAt int
	err    error
	seen   int
	calls  int
	vector func(text string) []float32
}

func (f *fakeEmbedder) Name() string       { return "fake" }
func (f *fakeEmbedder) Model() string      { return "fake-model" }
func (f *fakeEmbedder) Dimensions() int    { return f.dims }
func (f *fakeEmbedder) MaxInputChars() int { return 0 }

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		f.seen++
		if f.err != nil && (f.failAt == 0 || f.seen == f.failAt) {
			return nil, f.err
		}
		if f.vector != nil {
			out = append(out, f.vector(text))
			continue
		}
		v := make([]float32, f.dims)
		v[0] = float32(len(text))
		out = append(out, v)
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	v, err := f.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

type fakeResolver struct {
	enabled *model.Provider
	adapter ai.IEmbedProvider
	err     error
}

func (f *fakeResolver) Resolve(ctx context.Context, explicit *model.Provider) (*ai.EmbeddingClient, error) {
	if f.err != nil {
		return nil, f.err
	}
	p := explicit
	if p == nil {
		p = f.enabled
	}
	if p == nil {
		return nil, ai.ErrNoProvider
	}
	return ai.NewEmbeddingClient(p, f.adapter), nil
}

func (f *fakeResolver) GetEnabled(ctx context.Context) (*model.Provider, error) {
	return f.enabled, nil
}

type fakeLexical struct {
	hits    []model.LexicalHit
	total   int
	err     error
	queries []model.LexicalQuery
	panic   bool
}

func (f *fakeLexical) Search(ctx context.Context, q model.LexicalQuery) ([]model.LexicalHit, int, error) {
	if f.panic {
		panic("lexical store exploded")
	}
	f.queries = append(f.queries, q)
	if f.err != nil {
		return nil, 0, f.err
	}
	return f.hits, f.total, nil
}

func (f *fakeLexical) Suggest(ctx context.Context, prefix, collectionID string, limit uint) ([]model.Suggestion, error) {
	out := make([]model.Suggestion, 0)
	for _, h := range f.hits {
		if strings.HasPrefix(strings.ToLower(h.Document.Title), strings.ToLower(prefix)) &&
			(collectionID == "" || h.Document.CollectionID == collectionID) {
			out = append(out, model.Suggestion{DocumentID: h.Document.ID, Title: h.Document.Title})
		}
	}
	if uint(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func liveDoc(id, collection, title, content string, mtime int64) *model.Document {
	return &model.Document{
		ID:           id,
		CollectionID: collection,
		Kind:         model.DocumentKindArticle,
		Title:        title,
		Content:      content,
		State:        model.DocumentStateNormal,
		Ctime:        mtime,
		Mtime:        mtime,
		ActivityTime: mtime,
	}
}

func testProvider(id string) *model.Provider {
	return &model.Provider{
		ID:           id,
		Name:         id,
		Type:         model.ProviderTypeOllama,
		Model:        "m",
		Dimensions:   2,
		ChunkSize:    25,
		ChunkOverlap: 5,
		Enabled:      true,
		Mtime:        1,
	}
}

func neighbor(docID, chunkID, providerID string, distance float64) model.ChunkNeighbor {
	return model.ChunkNeighbor{
		Chunk: model.Chunk{
			ID:         chunkID,
			DocumentID: docID,
			ProviderID: providerID,
			Content:    chunkID,
			Embedding:  []float32{1, 0},
		},
		Distance: distance,
	}
}

var errBoom = errors.New("boom")
