package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/didi/gendry/builder"
	"github.com/pgvector/pgvector-go"

	"github.com/xxxsen/ragkb/internal/model"
	"github.com/xxxsen/ragkb/internal/pkg/dbutil"
	appErr "github.com/xxxsen/ragkb/internal/pkg/errors"
)

const chunkColumns = "id, document_id, provider_id, chunk_index, content, token_count, embedding, embedded_at, metadata"

type ChunkRepo struct {
	db *sql.DB
}

func NewChunkRepo(db *sql.DB) *ChunkRepo {
	return &ChunkRepo{db: db}
}

func (r *ChunkRepo) DeleteByDocument(ctx context.Context, exec dbutil.Executor, documentID string) (int64, error) {
	sqlStr, args, err := builder.BuildDelete("chunks", map[string]interface{}{"document_id": documentID})
	if err != nil {
		return 0, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	res, err := exec.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// chunkInsertBatch keeps each statement well under the 65535 bind
// parameter limit of the postgres wire protocol.
const chunkInsertBatch = 1000

// Insert writes chunks in order, one multi-row statement per batch. Callers
// pass a transaction when the set must land atomically.
func (r *ChunkRepo) Insert(ctx context.Context, exec dbutil.Executor, chunks []model.Chunk) error {
	for start := 0; start < len(chunks); start += chunkInsertBatch {
		end := start + chunkInsertBatch
		if end > len(chunks) {
			end = len(chunks)
		}
		if err := r.insertBatch(ctx, exec, chunks[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (r *ChunkRepo) insertBatch(ctx context.Context, exec dbutil.Executor, chunks []model.Chunk) error {
	var sb strings.Builder
	sb.WriteString("INSERT INTO chunks (" + chunkColumns + ") VALUES ")
	args := make([]interface{}, 0, len(chunks)*9)
	for i, c := range chunks {
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return err
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(?, ?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args,
			c.ID,
			c.DocumentID,
			nullString(c.ProviderID),
			c.ChunkIndex,
			c.Content,
			c.TokenCount,
			nullVector(c.Embedding),
			c.EmbeddedAt,
			string(meta),
		)
	}
	sqlStr, args := dbutil.Finalize(sb.String(), args)
	if _, err := exec.ExecContext(ctx, sqlStr, args...); err != nil {
		if dbutil.IsConflict(err) {
			return appErr.ErrConflict
		}
		return err
	}
	return nil
}

func (r *ChunkRepo) ListByDocument(ctx context.Context, documentID string) ([]model.Chunk, error) {
	query := "SELECT " + chunkColumns + " FROM chunks WHERE document_id = $1 ORDER BY chunk_index ASC"
	rows, err := r.db.QueryContext(ctx, query, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Chunk, 0)
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// FirstEmbedded returns the lowest-index chunk of a document embedded by providerID.
func (r *ChunkRepo) FirstEmbedded(ctx context.Context, documentID, providerID string) (*model.Chunk, error) {
	query := "SELECT " + chunkColumns + ` FROM chunks
		WHERE document_id = $1 AND provider_id = $2 AND embedding IS NOT NULL
		ORDER BY chunk_index ASC LIMIT 1`
	c, err := scanChunk(r.db.QueryRowContext(ctx, query, documentID, providerID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErr.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// Nearest returns up to limit chunks of providerID ordered by cosine
// distance to vec.
func (r *ChunkRepo) Nearest(ctx context.Context, providerID string, vec []float32, limit int) ([]model.ChunkNeighbor, error) {
	if limit <= 0 {
		return []model.ChunkNeighbor{}, nil
	}
	query := fmt.Sprintf(`SELECT %s, embedding <=> $1 AS distance
		FROM chunks
		WHERE provider_id = $2 AND embedding IS NOT NULL AND vector_dims(embedding) = $3
		ORDER BY embedding <=> $1 ASC, document_id ASC, chunk_index ASC
		LIMIT $4`, chunkColumns)
	rows, err := r.db.QueryContext(ctx, query, pgvector.NewVector(vec), providerID, len(vec), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.ChunkNeighbor, 0, limit)
	for rows.Next() {
		var distance float64
		c, err := scanChunk(rows, &distance)
		if err != nil {
			return nil, err
		}
		out = append(out, model.ChunkNeighbor{Chunk: c, Distance: distance})
	}
	return out, rows.Err()
}

// DetachOtherProviders nulls the vector and provider of every chunk not
// produced by keepProviderID.
func (r *ChunkRepo) DetachOtherProviders(ctx context.Context, exec dbutil.Executor, keepProviderID string) (int64, error) {
	const query = `UPDATE chunks SET embedding = NULL, provider_id = NULL, embedded_at = 0
		WHERE provider_id IS NOT NULL AND provider_id <> $1`
	res, err := exec.ExecContext(ctx, query, keepProviderID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanChunk(row rowScanner, extra ...interface{}) (model.Chunk, error) {
	var (
		c          model.Chunk
		providerID sql.NullString
		embedding  pgvector.Vector
		hasVector  bool
		meta       []byte
	)
	vec := &nullableVector{vec: &embedding, valid: &hasVector}
	dest := []interface{}{&c.ID, &c.DocumentID, &providerID, &c.ChunkIndex, &c.Content, &c.TokenCount, vec, &c.EmbeddedAt, &meta}
	dest = append(dest, extra...)
	if err := row.Scan(dest...); err != nil {
		return c, err
	}
	c.ProviderID = providerID.String
	if hasVector {
		c.Embedding = embedding.Slice()
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &c.Metadata); err != nil {
			return c, err
		}
	}
	return c, nil
}

// nullableVector scans a possibly NULL vector column.
type nullableVector struct {
	vec   *pgvector.Vector
	valid *bool
}

func (n *nullableVector) Scan(src interface{}) error {
	if src == nil {
		*n.valid = false
		return nil
	}
	*n.valid = true
	return n.vec.Scan(src)
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullVector(v []float32) interface{} {
	if len(v) == 0 {
		return nil
	}
	return pgvector.NewVector(v)
}
