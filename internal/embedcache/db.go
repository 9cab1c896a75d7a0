package embedcache

import (
	"context"
	"time"

	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/ragkb/internal/ai"
	"github.com/xxxsen/ragkb/internal/model"
	"go.uber.org/zap"
)

type Store interface {
	GetMany(ctx context.Context, modelName, taskType string, hashes []string) (map[string][]float32, error)
	SaveMany(ctx context.Context, items []model.EmbeddingCache) error
}

// DBDecorator persists vectors so re-embedding unchanged chunks costs nothing.
func DBDecorator(store Store) ai.Decorator {
	return func(p *model.Provider, next ai.IEmbedProvider) ai.IEmbedProvider {
		return WrapDB(next, store)
	}
}

func WrapDB(next ai.IEmbedProvider, store Store) ai.IEmbedProvider {
	if next == nil || store == nil {
		return next
	}
	return &dbEmbedder{IEmbedProvider: next, repo: store}
}

type dbEmbedder struct {
	ai.IEmbedProvider
	repo Store
}

func (d *dbEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return cachedEmbed(ctx, d.IEmbedProvider, texts, d.lookup, d.store)
}

func (d *dbEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	return embedOne(ctx, d, text)
}

// lookup treats read failures as misses; the cache never fails an embedding.
// All keys of one call share model and task type.
func (d *dbEmbedder) lookup(ctx context.Context, keys []cacheKey) [][]float32 {
	out := make([][]float32, len(keys))
	hashes := make([]string, len(keys))
	for i, key := range keys {
		hashes[i] = key.contentHash
	}
	found, err := d.repo.GetMany(ctx, keys[0].modelName, keys[0].taskType, hashes)
	if err != nil {
		logutil.GetLogger(ctx).Warn("read embedding cache failed", zap.Error(err))
		return out
	}
	for i, key := range keys {
		out[i] = found[key.contentHash]
	}
	if len(found) > 0 {
		logutil.GetLogger(ctx).Debug("embedding cache hit (db)", zap.Int("hits", len(found)), zap.String("task_type", keys[0].taskType))
	}
	return out
}

func (d *dbEmbedder) store(ctx context.Context, keys []cacheKey, values [][]float32) {
	now := time.Now().Unix()
	items := make([]model.EmbeddingCache, 0, len(keys))
	for i, key := range keys {
		items = append(items, model.EmbeddingCache{
			ModelName:   key.modelName,
			TaskType:    key.taskType,
			ContentHash: key.contentHash,
			Embedding:   values[i],
			Ctime:       now,
		})
	}
	if err := d.repo.SaveMany(ctx, items); err != nil {
		logutil.GetLogger(ctx).Warn("failed to cache embedding", zap.Error(err))
	}
}
