package repo

import (
	"context"
	"database/sql"
	"strings"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/xxxsen/ragkb/internal/model"
	"github.com/xxxsen/ragkb/internal/pkg/dbutil"
)

// EmbeddingCacheRepo maps (model, task type, content hash) to a vector.
type EmbeddingCacheRepo struct {
	db *sql.DB
}

func NewEmbeddingCacheRepo(db *sql.DB) *EmbeddingCacheRepo {
	return &EmbeddingCacheRepo{db: db}
}

// GetMany returns the cached vectors for hashes, keyed by hash. Misses are absent.
func (r *EmbeddingCacheRepo) GetMany(ctx context.Context, modelName, taskType string, hashes []string) (map[string][]float32, error) {
	out := make(map[string][]float32, len(hashes))
	if len(hashes) == 0 {
		return out, nil
	}
	const query = `
		SELECT content_hash, embedding
		FROM embedding_cache
		WHERE model_name = $1 AND task_type = $2 AND content_hash = ANY($3)
	`
	rows, err := r.db.QueryContext(ctx, query, modelName, taskType, pq.Array(hashes))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			hash      string
			embedding pgvector.Vector
		)
		if err := rows.Scan(&hash, &embedding); err != nil {
			return nil, err
		}
		out[hash] = embedding.Slice()
	}
	return out, rows.Err()
}

// SaveMany upserts items in one statement; a newer ctime wins.
func (r *EmbeddingCacheRepo) SaveMany(ctx context.Context, items []model.EmbeddingCache) error {
	if len(items) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteString("INSERT INTO embedding_cache (model_name, task_type, content_hash, embedding, ctime) VALUES ")
	args := make([]interface{}, 0, len(items)*5)
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		key := item.ModelName + "\x00" + item.TaskType + "\x00" + item.ContentHash
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		if len(args) > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(?, ?, ?, ?, ?)")
		args = append(args, item.ModelName, item.TaskType, item.ContentHash, pgvector.NewVector(item.Embedding), item.Ctime)
	}
	sb.WriteString(` ON CONFLICT (model_name, task_type, content_hash) DO UPDATE SET
		embedding = EXCLUDED.embedding,
		ctime = EXCLUDED.ctime`)
	sqlStr, args := dbutil.Finalize(sb.String(), args)
	_, err := r.db.ExecContext(ctx, sqlStr, args...)
	return err
}

func (r *EmbeddingCacheRepo) DeleteBefore(ctx context.Context, cutoff int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM embedding_cache WHERE ctime < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
