package embedcache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/ragkb/internal/ai"
	"github.com/xxxsen/ragkb/internal/model"
	"go.uber.org/zap"
)

// LRUDecorator keeps recent vectors in memory. A zero size or ttl disables it.
func LRUDecorator(size int, ttl time.Duration) ai.Decorator {
	return func(p *model.Provider, next ai.IEmbedProvider) ai.IEmbedProvider {
		return WrapLRU(next, size, ttl)
	}
}

func WrapLRU(next ai.IEmbedProvider, size int, ttl time.Duration) ai.IEmbedProvider {
	if next == nil || size <= 0 || ttl <= 0 {
		return next
	}
	return &lruEmbedder{
		IEmbedProvider: next,
		cache:          expirable.NewLRU[string, []float32](size, nil, ttl),
	}
}

type lruEmbedder struct {
	ai.IEmbedProvider
	cache *expirable.LRU[string, []float32]
}

func (l *lruEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return cachedEmbed(ctx, l.IEmbedProvider, texts, l.lookup, l.store)
}

func (l *lruEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	return embedOne(ctx, l, text)
}

func (l *lruEmbedder) lookup(ctx context.Context, keys []cacheKey) [][]float32 {
	out := make([][]float32, len(keys))
	hits := 0
	for i, key := range keys {
		if cached, ok := l.cache.Get(key.full); ok {
			out[i] = cloneEmbedding(cached)
			hits++
		}
	}
	if hits > 0 {
		logutil.GetLogger(ctx).Debug("embedding cache hit (lru)", zap.Int("hits", hits), zap.Int("total", len(keys)))
	}
	return out
}

func (l *lruEmbedder) store(ctx context.Context, keys []cacheKey, values [][]float32) {
	for i, key := range keys {
		l.cache.Add(key.full, cloneEmbedding(values[i]))
	}
}
