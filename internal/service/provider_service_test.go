package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/ragkb/internal/ai"
	"github.com/xxxsen/ragkb/internal/job"
	"github.com/xxxsen/ragkb/internal/model"
	appErr "github.com/xxxsen/ragkb/internal/pkg/errors"
)

type fakeProviders struct {
	items map[string]*model.Provider
}

func (f *fakeProviders) GetEnabled(ctx context.Context) (*model.Provider, error) {
	for _, p := range f.items {
		if p.Enabled {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeProviders) Create(ctx context.Context, p *model.Provider) error {
	if _, ok := f.items[p.ID]; ok {
		return appErr.ErrConflict
	}
	cp := *p
	cp.Enabled = false
	f.items[p.ID] = &cp
	return nil
}

func (f *fakeProviders) GetByID(ctx context.Context, id string) (*model.Provider, error) {
	if p, ok := f.items[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, appErr.ErrNotFound
}

func (f *fakeProviders) List(ctx context.Context) ([]model.Provider, error) {
	out := make([]model.Provider, 0, len(f.items))
	for _, p := range f.items {
		out = append(out, *p)
	}
	return out, nil
}

func (f *fakeProviders) UpdatePolicy(ctx context.Context, id string, threshold float64, chunkSize, chunkOverlap int, mtime int64) error {
	p, ok := f.items[id]
	if !ok {
		return appErr.ErrNotFound
	}
	p.SimilarityThreshold, p.ChunkSize, p.ChunkOverlap, p.Mtime = threshold, chunkSize, chunkOverlap, mtime
	return nil
}

func (f *fakeProviders) Activate(ctx context.Context, id string, mtime int64) (int64, error) {
	if _, ok := f.items[id]; !ok {
		return 0, appErr.ErrNotFound
	}
	for pid, p := range f.items {
		p.Enabled = pid == id
	}
	return 7, nil
}

type fakeRegistry struct {
	invalidated []string
}

func (f *fakeRegistry) Build(p *model.Provider) (ai.IEmbedProvider, error) {
	return ai.NewEmbedProvider(p.Type, ai.ArgsFromProvider(p, ai.RuntimeOptions{}))
}

func (f *fakeRegistry) Invalidate(id string) {
	f.invalidated = append(f.invalidated, id)
}

type fakeQueue struct {
	ids []string
}

func (f *fakeQueue) EnqueueWait(ctx context.Context, documentID string, force bool) error {
	if !force {
		return fmt.Errorf("unexpected unforced task for %s", documentID)
	}
	f.ids = append(f.ids, documentID)
	return nil
}

func newProviderFixture() (*ProviderService, *fakeProviders, *fakeRegistry, *fakeQueue) {
	store := &fakeProviders{items: map[string]*model.Provider{}}
	registry := &fakeRegistry{}
	queue := &fakeQueue{}
	deleted := liveDoc("gone", "c1", "t", "x", 1)
	deleted.State = model.DocumentStateDeleted
	docs := newFakeDocs(liveDoc("a", "c1", "t", "x", 1), liveDoc("b", "c1", "t", "x", 1), deleted)
	s := NewProviderService(store, store, registry, docs, queue)
	s.now = func() time.Time { return time.Unix(500, 0) }
	return s, store, registry, queue
}

func TestProviderCreateValidation(t *testing.T) {
	tests := []struct {
		name string
		in   ProviderCreateInput
		ok   bool
	}{
		{name: "ollama", in: ProviderCreateInput{Name: "local", Type: "Ollama", Model: "nomic-embed-text", Dimensions: 768}, ok: true},
		{name: "missing name", in: ProviderCreateInput{Type: "ollama", Model: "m", Dimensions: 8}},
		{name: "unknown type", in: ProviderCreateInput{Name: "x", Type: "nope", Model: "m", Dimensions: 8}},
		{name: "missing key", in: ProviderCreateInput{Name: "x", Type: "openai", Model: "text-embedding-3-small", Dimensions: 8}},
		{name: "missing model", in: ProviderCreateInput{Name: "x", Type: "ollama", Dimensions: 8}},
		{name: "overlap too large", in: ProviderCreateInput{Name: "x", Type: "ollama", Model: "m", Dimensions: 8, ChunkSize: 10, ChunkOverlap: 10}},
		{name: "threshold out of range", in: ProviderCreateInput{Name: "x", Type: "ollama", Model: "m", Dimensions: 8, SimilarityThreshold: 1.5}},
		{name: "negative threshold", in: ProviderCreateInput{Name: "x", Type: "ollama", Model: "m", Dimensions: 8, SimilarityThreshold: -0.2}},
		{name: "explicit threshold", in: ProviderCreateInput{Name: "x", Type: "ollama", Model: "m", Dimensions: 8, SimilarityThreshold: 0.6}, ok: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, store, _, _ := newProviderFixture()
			p, err := s.Create(context.Background(), tt.in)
			if !tt.ok {
				require.ErrorIs(t, err, appErr.ErrInvalid)
				require.Empty(t, store.items)
				return
			}
			require.NoError(t, err)
			require.Equal(t, "ollama", p.Type)
			require.False(t, p.Enabled)
			require.EqualValues(t, 500, p.Ctime)
			require.Contains(t, store.items, p.ID)
		})
	}
}

func TestProviderCreateRedactsCredentials(t *testing.T) {
	s, store, _, _ := newProviderFixture()
	p, err := s.Create(context.Background(), ProviderCreateInput{Name: "oa", Type: "openai", Model: "text-embedding-3-small", Dimensions: 8, APIKey: "sk-live"})
	require.NoError(t, err)
	require.Equal(t, "***", p.APIKey)
	require.Equal(t, "sk-live", store.items[p.ID].APIKey)

	list, err := s.List(context.Background())
	require.NoError(t, err)
	require.Equal(t, "***", list[0].APIKey)
}

func TestProviderActivateAndRegenerate(t *testing.T) {
	s, store, registry, queue := newProviderFixture()
	store.items["p1"] = testProvider("p1")
	store.items["p2"] = testProvider("p2")
	store.items["p2"].Enabled = false

	res, err := s.Activate(context.Background(), "p2", false)
	require.NoError(t, err)
	require.Equal(t, "p2", res.Provider.ID)
	require.EqualValues(t, 7, res.Detached)
	require.Zero(t, res.Enqueued)
	require.Equal(t, []string{""}, registry.invalidated)
	require.False(t, store.items["p1"].Enabled)

	res, err = s.RegenerateAll(context.Background(), "p1")
	require.NoError(t, err)
	require.Equal(t, 2, res.Enqueued)
	require.Equal(t, []string{"a", "b"}, queue.ids)
	enabled, _ := store.GetEnabled(context.Background())
	require.Equal(t, "p1", enabled.ID)

	_, err = s.Activate(context.Background(), "missing", true)
	require.ErrorIs(t, err, appErr.ErrNotFound)
}

func TestRegenerateAllThroughSmallQueue(t *testing.T) {
	ctx := context.Background()
	docs := make([]*model.Document, 0, 10)
	for i := 0; i < 10; i++ {
		docs = append(docs, liveDoc(fmt.Sprintf("d%02d", i), "c1", "t", "x", 1))
	}
	var (
		mu   sync.Mutex
		seen = map[string]bool{}
	)
	queue := job.NewQueue(func(ctx context.Context, task job.Task) error {
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		seen[task.DocumentID] = task.Force
		mu.Unlock()
		return nil
	}, 2, job.WithWorkers(1))
	queue.Start(ctx)

	store := &fakeProviders{items: map[string]*model.Provider{"p1": testProvider("p1")}}
	s := NewProviderService(store, store, &fakeRegistry{}, newFakeDocs(docs...), queue)
	res, err := s.RegenerateAll(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, 10, res.Enqueued)

	queue.Close()
	require.Len(t, seen, 10)
	for id, force := range seen {
		require.True(t, force, id)
	}
}

func TestRegenerateAllStopsWhenContextEnds(t *testing.T) {
	queue := job.NewQueue(func(ctx context.Context, task job.Task) error { return nil }, 1)
	store := &fakeProviders{items: map[string]*model.Provider{"p1": testProvider("p1")}}
	docs := newFakeDocs(liveDoc("a", "c1", "t", "x", 1), liveDoc("b", "c1", "t", "x", 1))
	s := NewProviderService(store, store, &fakeRegistry{}, docs, queue)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := s.RegenerateAll(ctx, "p1")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 1, queue.Pending())
}

func TestProviderUpdatePolicy(t *testing.T) {
	s, store, registry, _ := newProviderFixture()
	store.items["p1"] = testProvider("p1")

	dims := 4
	_, err := s.UpdatePolicy(context.Background(), "p1", ProviderPolicyInput{Dimensions: &dims})
	require.ErrorIs(t, err, appErr.ErrImmutable)
	require.True(t, appErr.IsInvalid(err))

	same := 2
	threshold := 0.42
	size := 300
	p, err := s.UpdatePolicy(context.Background(), "p1", ProviderPolicyInput{Dimensions: &same, SimilarityThreshold: &threshold, ChunkSize: &size})
	require.NoError(t, err)
	require.Equal(t, 0.42, p.SimilarityThreshold)
	require.Equal(t, 300, store.items["p1"].ChunkSize)
	require.Equal(t, 5, store.items["p1"].ChunkOverlap)
	require.Equal(t, 2, store.items["p1"].Dimensions)
	require.Equal(t, []string{"p1"}, registry.invalidated)

	negative := -0.1
	_, err = s.UpdatePolicy(context.Background(), "p1", ProviderPolicyInput{SimilarityThreshold: &negative})
	require.True(t, appErr.IsInvalid(err))
	require.Equal(t, 0.42, store.items["p1"].SimilarityThreshold)

	reset := 0.0
	p, err = s.UpdatePolicy(context.Background(), "p1", ProviderPolicyInput{SimilarityThreshold: &reset})
	require.NoError(t, err)
	require.Zero(t, p.SimilarityThreshold)
	require.Equal(t, DefaultSimilarityThreshold, effectiveThreshold(nil, store.items["p1"]))

	_, err = s.UpdatePolicy(context.Background(), "missing", ProviderPolicyInput{})
	require.ErrorIs(t, err, appErr.ErrNotFound)
}
