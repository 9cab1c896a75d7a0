package repo

import (
	"context"
	"database/sql"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/ragkb/internal/model"
	"github.com/xxxsen/ragkb/internal/pkg/dbutil"
	appErr "github.com/xxxsen/ragkb/internal/pkg/errors"
	"github.com/xxxsen/ragkb/internal/pkg/secret"
)

var providerFields = []string{
	"id", "name", "type", "model", "dimensions", "similarity_threshold", "chunk_size", "chunk_overlap",
	"api_key", "api_secret", "endpoint", "region", "api_version", "deployment", "requests_per_second",
	"enabled", "ctime", "mtime",
}

// ProviderRepo stores provider records. Credentials are sealed on write and
// opened on read when a box is configured.
type ProviderRepo struct {
	db  *sql.DB
	box *secret.Box
}

func NewProviderRepo(db *sql.DB, box *secret.Box) *ProviderRepo {
	return &ProviderRepo{db: db, box: box}
}

func (r *ProviderRepo) DB() *sql.DB {
	return r.db
}

func (r *ProviderRepo) Create(ctx context.Context, p *model.Provider) error {
	apiKey, err := r.seal(p.APIKey)
	if err != nil {
		return err
	}
	apiSecret, err := r.seal(p.APISecret)
	if err != nil {
		return err
	}
	data := map[string]interface{}{
		"id":                   p.ID,
		"name":                 p.Name,
		"type":                 p.Type,
		"model":                p.Model,
		"dimensions":           p.Dimensions,
		"similarity_threshold": p.SimilarityThreshold,
		"chunk_size":           p.ChunkSize,
		"chunk_overlap":        p.ChunkOverlap,
		"api_key":              apiKey,
		"api_secret":           apiSecret,
		"endpoint":             p.Endpoint,
		"region":               p.Region,
		"api_version":          p.APIVersion,
		"deployment":           p.Deployment,
		"requests_per_second":  p.RequestsPerSecond,
		"enabled":              false,
		"ctime":                p.Ctime,
		"mtime":                p.Mtime,
	}
	sqlStr, args, err := builder.BuildInsert("providers", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	if _, err := r.db.ExecContext(ctx, sqlStr, args...); err != nil {
		if dbutil.IsConflict(err) {
			return appErr.ErrConflict
		}
		return err
	}
	return nil
}

func (r *ProviderRepo) GetByID(ctx context.Context, id string) (*model.Provider, error) {
	items, err := r.query(ctx, r.db, map[string]interface{}{"id": id})
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, appErr.ErrNotFound
	}
	return &items[0], nil
}

// GetEnabled returns nil, nil when no provider is enabled.
func (r *ProviderRepo) GetEnabled(ctx context.Context) (*model.Provider, error) {
	items, err := r.query(ctx, r.db, map[string]interface{}{"enabled": true, "_limit": []uint{0, 1}})
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}

func (r *ProviderRepo) List(ctx context.Context) ([]model.Provider, error) {
	return r.query(ctx, r.db, map[string]interface{}{"_orderby": "ctime asc"})
}

// UpdatePolicy changes retrieval and chunking knobs. Dimensions are not
// part of any update.
func (r *ProviderRepo) UpdatePolicy(ctx context.Context, id string, threshold float64, chunkSize, chunkOverlap int, mtime int64) error {
	where := map[string]interface{}{"id": id}
	update := map[string]interface{}{
		"similarity_threshold": threshold,
		"chunk_size":           chunkSize,
		"chunk_overlap":        chunkOverlap,
		"mtime":                mtime,
	}
	sqlStr, args, err := builder.BuildUpdate("providers", where, update)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	res, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErr.ErrNotFound
	}
	return nil
}

// Activate makes id the only enabled provider. It must run inside a
// transaction: every row is locked, the others are disabled first so the
// partial unique index never sees two enabled rows.
func (r *ProviderRepo) Activate(ctx context.Context, tx *sql.Tx, id string, mtime int64) error {
	rows, err := tx.QueryContext(ctx, "SELECT id FROM providers ORDER BY id FOR UPDATE")
	if err != nil {
		return err
	}
	found := false
	for rows.Next() {
		var rid string
		if err := rows.Scan(&rid); err != nil {
			rows.Close()
			return err
		}
		if rid == id {
			found = true
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	if !found {
		return appErr.ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, "UPDATE providers SET enabled = FALSE, mtime = $1 WHERE enabled AND id <> $2", mtime, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "UPDATE providers SET enabled = TRUE, mtime = $1 WHERE id = $2", mtime, id); err != nil {
		if dbutil.IsConflict(err) {
			return appErr.ErrConflict
		}
		return err
	}
	return nil
}

func (r *ProviderRepo) query(ctx context.Context, exec dbutil.Executor, where map[string]interface{}) ([]model.Provider, error) {
	sqlStr, args, err := builder.BuildSelect("providers", where, providerFields)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := exec.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := make([]model.Provider, 0)
	for rows.Next() {
		var p model.Provider
		if err := rows.Scan(
			&p.ID, &p.Name, &p.Type, &p.Model, &p.Dimensions, &p.SimilarityThreshold, &p.ChunkSize, &p.ChunkOverlap,
			&p.APIKey, &p.APISecret, &p.Endpoint, &p.Region, &p.APIVersion, &p.Deployment, &p.RequestsPerSecond,
			&p.Enabled, &p.Ctime, &p.Mtime,
		); err != nil {
			return nil, err
		}
		if p.APIKey, err = r.open(p.APIKey); err != nil {
			return nil, err
		}
		if p.APISecret, err = r.open(p.APISecret); err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

func (r *ProviderRepo) seal(v string) (string, error) {
	if r.box == nil {
		return v, nil
	}
	return r.box.Seal(v)
}

func (r *ProviderRepo) open(v string) (string, error) {
	if r.box == nil {
		return v, nil
	}
	return r.box.Open(v)
}
