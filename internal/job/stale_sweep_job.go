package job

import (
	"context"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/ragkb/internal/model"
)

type staleLister interface {
	ListStale(ctx context.Context, limit uint) ([]model.Document, error)
}

type enqueuer interface {
	Enqueue(documentID string, force bool) bool
}

// StaleSweepJob queues documents whose content changed after their last
// embedding. Queue dedup makes overlapping sweeps harmless.
type StaleSweepJob struct {
	docs  staleLister
	queue enqueuer
	batch int
}

func NewStaleSweepJob(docs staleLister, queue enqueuer, batch int) *StaleSweepJob {
	if batch <= 0 {
		batch = 100
	}
	return &StaleSweepJob{docs: docs, queue: queue, batch: batch}
}

func (j *StaleSweepJob) Name() string {
	return "stale_embedding_sweep"
}

func (j *StaleSweepJob) Run(ctx context.Context) error {
	docs, err := j.docs.ListStale(ctx, uint(j.batch))
	if err != nil {
		return err
	}
	queued := 0
	for _, doc := range docs {
		if j.queue.Enqueue(doc.ID, false) {
			queued++
		}
	}
	if len(docs) > 0 {
		logutil.GetLogger(ctx).Info("stale documents queued", zap.Int("found", len(docs)), zap.Int("queued", queued))
	}
	return nil
}
