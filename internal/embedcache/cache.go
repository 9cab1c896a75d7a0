package embedcache

import (
	"context"
	"fmt"

	"github.com/xxxsen/ragkb/internal/ai"
	"github.com/xxxsen/ragkb/internal/model"
)

// lookupFunc returns one entry per key, nil for a miss.
type lookupFunc func(ctx context.Context, keys []cacheKey) [][]float32
type storeFunc func(ctx context.Context, keys []cacheKey, values [][]float32)

type cacheKey struct {
	full        string
	modelName   string
	taskType    string
	contentHash string
}

// buildCacheKey scopes entries by backend, model, output size and task type.
func buildCacheKey(next ai.IEmbedProvider, taskType ai.TaskType, text string) cacheKey {
	modelName := model.CacheModelName(next.Name(), next.Model(), next.Dimensions())
	contentHash := model.ContentHash(text)
	return cacheKey{
		full:        "embed:" + modelName + ":" + string(taskType) + ":" + contentHash,
		modelName:   modelName,
		taskType:    string(taskType),
		contentHash: contentHash,
	}
}

// cachedEmbed serves hits from lookup and sends only misses to next, in one
// batch, keeping input order.
func cachedEmbed(ctx context.Context, next ai.IEmbedProvider, texts []string, lookup lookupFunc, store storeFunc) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	taskType := ai.TaskTypeFrom(ctx)
	keys := make([]cacheKey, len(texts))
	for i, text := range texts {
		keys[i] = buildCacheKey(next, taskType, text)
	}
	out := lookup(ctx, keys)
	var (
		missIdx   []int
		missTexts []string
		missKeys  []cacheKey
	)
	for i := range texts {
		if len(out[i]) == next.Dimensions() {
			continue
		}
		out[i] = nil
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, texts[i])
		missKeys = append(missKeys, keys[i])
	}
	if len(missTexts) == 0 {
		return out, nil
	}
	vectors, err := next.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(missTexts) {
		return nil, fmt.Errorf("embed returned %d vectors for %d inputs", len(vectors), len(missTexts))
	}
	for j, idx := range missIdx {
		out[idx] = vectors[j]
	}
	store(ctx, missKeys, vectors)
	return out, nil
}

func embedOne(ctx context.Context, e ai.IEmbedProvider, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func cloneEmbedding(values []float32) []float32 {
	if len(values) == 0 {
		return nil
	}
	clone := make([]float32, len(values))
	copy(clone, values)
	return clone
}
