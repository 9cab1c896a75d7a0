package repo

import (
	"context"
	"database/sql"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/ragkb/internal/model"
	"github.com/xxxsen/ragkb/internal/pkg/dbutil"
	appErr "github.com/xxxsen/ragkb/internal/pkg/errors"
)

var documentFields = []string{"id", "collection_id", "kind", "title", "content", "state", "vote_score", "ctime", "mtime", "activity_time", "embedded_at"}

type DocumentRepo struct {
	db *sql.DB
}

func NewDocumentRepo(db *sql.DB) *DocumentRepo {
	return &DocumentRepo{db: db}
}

func (r *DocumentRepo) Create(ctx context.Context, doc *model.Document) error {
	data := map[string]interface{}{
		"id":            doc.ID,
		"collection_id": doc.CollectionID,
		"kind":          doc.Kind,
		"title":         doc.Title,
		"content":       doc.Content,
		"state":         doc.State,
		"vote_score":    doc.VoteScore,
		"ctime":         doc.Ctime,
		"mtime":         doc.Mtime,
		"activity_time": doc.ActivityTime,
		"embedded_at":   doc.EmbeddedAt,
	}
	sqlStr, args, err := builder.BuildInsert("documents", []map[string]interface{}{data})
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

// UpdateContent changes the text of a live document and bumps mtime.
func (r *DocumentRepo) UpdateContent(ctx context.Context, id, title, content string, mtime int64) error {
	where := map[string]interface{}{
		"id":    id,
		"state": model.DocumentStateNormal,
	}
	update := map[string]interface{}{
		"title":         title,
		"content":       content,
		"mtime":         mtime,
		"activity_time": mtime,
	}
	return r.updateOne(ctx, r.db, where, update)
}

func (r *DocumentRepo) SoftDelete(ctx context.Context, id string, mtime int64) error {
	where := map[string]interface{}{"id": id}
	update := map[string]interface{}{
		"state": model.DocumentStateDeleted,
		"mtime": mtime,
	}
	return r.updateOne(ctx, r.db, where, update)
}

// MarkEmbedded stamps the last successful materialization.
func (r *DocumentRepo) MarkEmbedded(ctx context.Context, exec dbutil.Executor, id string, embeddedAt int64) error {
	where := map[string]interface{}{"id": id}
	update := map[string]interface{}{"embedded_at": embeddedAt}
	return r.updateOne(ctx, exec, where, update)
}

// MarkStaleForOtherProviders resets embedded_at on every document holding a
// chunk embedded by a provider other than keepProviderID.
func (r *DocumentRepo) MarkStaleForOtherProviders(ctx context.Context, exec dbutil.Executor, keepProviderID string) (int64, error) {
	const query = `UPDATE documents SET embedded_at = 0
		WHERE embedded_at <> 0 AND id IN (
			SELECT DISTINCT document_id FROM chunks
			WHERE provider_id IS NOT NULL AND provider_id <> $1)`
	res, err := exec.ExecContext(ctx, query, keepProviderID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *DocumentRepo) updateOne(ctx context.Context, exec dbutil.Executor, where, update map[string]interface{}) error {
	sqlStr, args, err := builder.BuildUpdate("documents", where, update)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	result, err := exec.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErr.ErrNotFound
	}
	return nil
}

// GetByID returns the document in any state; callers decide what a deleted
// document means for them.
func (r *DocumentRepo) GetByID(ctx context.Context, id string) (*model.Document, error) {
	where := map[string]interface{}{"id": id}
	docs, err := r.query(ctx, where)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, appErr.ErrNotFound
	}
	return &docs[0], nil
}

func (r *DocumentRepo) ListByIDs(ctx context.Context, ids []string) (map[string]*model.Document, error) {
	out := make(map[string]*model.Document, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	values := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		values = append(values, id)
	}
	docs, err := r.query(ctx, map[string]interface{}{"id in": values})
	if err != nil {
		return nil, err
	}
	for i := range docs {
		out[docs[i].ID] = &docs[i]
	}
	return out, nil
}

// ListStale returns live documents whose content changed after their last
// embedding, oldest change first.
func (r *DocumentRepo) ListStale(ctx context.Context, limit uint) ([]model.Document, error) {
	where := map[string]interface{}{
		"state":         model.DocumentStateNormal,
		"_custom_stale": builder.Custom("(embedded_at = 0 OR embedded_at < mtime)"),
		"_orderby":      "mtime asc",
		"_limit":        []uint{0, limit},
	}
	return r.query(ctx, where)
}

// ListLiveIDs pages through live document ids in id order, starting after afterID.
func (r *DocumentRepo) ListLiveIDs(ctx context.Context, afterID string, limit uint) ([]string, error) {
	where := map[string]interface{}{
		"state":    model.DocumentStateNormal,
		"id >":     afterID,
		"_orderby": "id asc",
		"_limit":   []uint{0, limit},
	}
	sqlStr, args, err := builder.BuildSelect("documents", where, []string{"id"})
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := make([]string, 0, limit)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *DocumentRepo) query(ctx context.Context, where map[string]interface{}) ([]model.Document, error) {
	sqlStr, args, err := builder.BuildSelect("documents", where, documentFields)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	docs := make([]model.Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDocument(row rowScanner, extra ...interface{}) (model.Document, error) {
	var doc model.Document
	dest := []interface{}{
		&doc.ID, &doc.CollectionID, &doc.Kind, &doc.Title, &doc.Content, &doc.State,
		&doc.VoteScore, &doc.Ctime, &doc.Mtime, &doc.ActivityTime, &doc.EmbeddedAt,
	}
	dest = append(dest, extra...)
	err := row.Scan(dest...)
	return doc, err
}
