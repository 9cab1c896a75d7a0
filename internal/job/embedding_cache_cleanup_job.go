package job

import (
	"context"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/ragkb/internal/pkg/timeutil"
)

type cacheReaper interface {
	DeleteBefore(ctx context.Context, cutoff int64) (int64, error)
}

// EmbeddingCacheCleanupJob drops cached vectors older than the retention window.
type EmbeddingCacheCleanupJob struct {
	cache      cacheReaper
	retainDays int
}

func NewEmbeddingCacheCleanupJob(cache cacheReaper, retainDays int) *EmbeddingCacheCleanupJob {
	if retainDays <= 0 {
		retainDays = 30
	}
	return &EmbeddingCacheCleanupJob{cache: cache, retainDays: retainDays}
}

func (j *EmbeddingCacheCleanupJob) Name() string {
	return "embedding_cache_cleanup"
}

func (j *EmbeddingCacheCleanupJob) Run(ctx context.Context) error {
	if j.cache == nil {
		return nil
	}
	removed, err := j.cache.DeleteBefore(ctx, timeutil.DaysAgoUnix(j.retainDays))
	if err != nil {
		return err
	}
	if removed > 0 {
		logutil.GetLogger(ctx).Info("embedding cache pruned", zap.Int64("removed", removed), zap.Int("retain_days", j.retainDays))
	}
	return nil
}
