package ai

import (
	"context"
	"strings"
	"sync"

	"github.com/xxxsen/ragkb/internal/model"
)

// ProviderSource returns the currently enabled provider, or nil when none is.
type ProviderSource interface {
	GetEnabled(ctx context.Context) (*model.Provider, error)
}

// Decorator wraps a built adapter, e.g. with an embedding cache.
type Decorator func(p *model.Provider, next IEmbedProvider) IEmbedProvider

// EmbeddingClient binds one provider record to its adapter. It does not retry;
// adapter errors are returned unchanged.
type EmbeddingClient struct {
	provider *model.Provider
	adapter  IEmbedProvider
}

func NewEmbeddingClient(p *model.Provider, adapter IEmbedProvider) *EmbeddingClient {
	return &EmbeddingClient{provider: p, adapter: adapter}
}

func (c *EmbeddingClient) Provider() *model.Provider {
	return c.provider
}

func (c *EmbeddingClient) Dimensions() int {
	return c.adapter.Dimensions()
}

func (c *EmbeddingClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return c.adapter.Embed(ctx, texts)
}

func (c *EmbeddingClient) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	return c.adapter.EmbedOne(ctx, text)
}

type cachedAdapter struct {
	mtime   int64
	adapter IEmbedProvider
}

// ClientFactory resolves providers into clients and keeps built adapters
// until the provider record changes.
type ClientFactory struct {
	source     ProviderSource
	rt         RuntimeOptions
	decorators []Decorator

	mu    sync.Mutex
	cache map[string]cachedAdapter
}

type FactoryOption func(f *ClientFactory)

func WithRuntimeOptions(rt RuntimeOptions) FactoryOption {
	return func(f *ClientFactory) {
		f.rt = rt
	}
}

func WithDecorators(ds ...Decorator) FactoryOption {
	return func(f *ClientFactory) {
		f.decorators = append(f.decorators, ds...)
	}
}

func NewClientFactory(source ProviderSource, opts ...FactoryOption) *ClientFactory {
	f := &ClientFactory{
		source: source,
		cache:  make(map[string]cachedAdapter),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Resolve returns a client for explicit, or for the enabled provider when
// explicit is nil. ErrNoProvider is returned when nothing is enabled.
func (f *ClientFactory) Resolve(ctx context.Context, explicit *model.Provider) (*EmbeddingClient, error) {
	p := explicit
	if p == nil {
		if f.source == nil {
			return nil, ErrNoProvider
		}
		enabled, err := f.source.GetEnabled(ctx)
		if err != nil {
			return nil, err
		}
		if enabled == nil {
			return nil, ErrNoProvider
		}
		p = enabled
	}
	adapter, err := f.adapterFor(p)
	if err != nil {
		return nil, err
	}
	return NewEmbeddingClient(p, adapter), nil
}

// Build constructs a fresh adapter without touching the cache. Used to
// validate a provider record before it is stored.
func (f *ClientFactory) Build(p *model.Provider) (IEmbedProvider, error) {
	return NewEmbedProvider(p.Type, ArgsFromProvider(p, f.rt))
}

func (f *ClientFactory) adapterFor(p *model.Provider) (IEmbedProvider, error) {
	key := strings.TrimSpace(p.ID)
	if key != "" {
		f.mu.Lock()
		hit, ok := f.cache[key]
		f.mu.Unlock()
		if ok && hit.mtime == p.Mtime {
			return hit.adapter, nil
		}
	}
	adapter, err := f.Build(p)
	if err != nil {
		return nil, err
	}
	for _, d := range f.decorators {
		adapter = d(p, adapter)
	}
	if key != "" {
		f.mu.Lock()
		f.cache[key] = cachedAdapter{mtime: p.Mtime, adapter: adapter}
		f.mu.Unlock()
	}
	return adapter, nil
}

// Invalidate drops the cached adapter of one provider, or all when id is empty.
func (f *ClientFactory) Invalidate(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id == "" {
		f.cache = make(map[string]cachedAdapter)
		return
	}
	delete(f.cache, id)
}
