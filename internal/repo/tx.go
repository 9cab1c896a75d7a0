package repo

import (
	"context"
	"database/sql"

	"github.com/xxxsen/ragkb/internal/model"
	"github.com/xxxsen/ragkb/internal/pkg/dbutil"
)

// ChunkSetWriter replaces a document's chunk set in one transaction.
type ChunkSetWriter struct {
	db     *sql.DB
	docs   *DocumentRepo
	chunks *ChunkRepo
}

func NewChunkSetWriter(db *sql.DB, docs *DocumentRepo, chunks *ChunkRepo) *ChunkSetWriter {
	return &ChunkSetWriter{db: db, docs: docs, chunks: chunks}
}

// Replace deletes every chunk of documentID, inserts chunks and stamps
// embedded_at. Nothing is written when any step fails.
func (w *ChunkSetWriter) Replace(ctx context.Context, documentID string, chunks []model.Chunk, embeddedAt int64) error {
	return dbutil.WithTx(ctx, w.db, func(tx *sql.Tx) error {
		if _, err := w.chunks.DeleteByDocument(ctx, tx, documentID); err != nil {
			return err
		}
		if err := w.chunks.Insert(ctx, tx, chunks); err != nil {
			return err
		}
		return w.docs.MarkEmbedded(ctx, tx, documentID, embeddedAt)
	})
}

// Touch stamps embedded_at without touching the chunk set.
func (w *ChunkSetWriter) Touch(ctx context.Context, documentID string, embeddedAt int64) error {
	return w.docs.MarkEmbedded(ctx, w.db, documentID, embeddedAt)
}

// ProviderSwitcher enables one provider and detaches chunks of all others
// in the same transaction. Documents that owned detached chunks are marked
// stale so the sweep re-embeds them even when no regeneration was queued.
type ProviderSwitcher struct {
	db        *sql.DB
	providers *ProviderRepo
	docs      *DocumentRepo
	chunks    *ChunkRepo
}

func NewProviderSwitcher(db *sql.DB, providers *ProviderRepo, docs *DocumentRepo, chunks *ChunkRepo) *ProviderSwitcher {
	return &ProviderSwitcher{db: db, providers: providers, docs: docs, chunks: chunks}
}

func (s *ProviderSwitcher) Activate(ctx context.Context, id string, mtime int64) (int64, error) {
	var detached int64
	err := dbutil.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := s.providers.Activate(ctx, tx, id, mtime); err != nil {
			return err
		}
		// must run before the detach clears provider_id
		if _, err := s.docs.MarkStaleForOtherProviders(ctx, tx, id); err != nil {
			return err
		}
		n, err := s.chunks.DetachOtherProviders(ctx, tx, id)
		if err != nil {
			return err
		}
		detached = n
		return nil
	})
	if err != nil {
		return 0, err
	}
	return detached, nil
}
