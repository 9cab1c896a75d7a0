package repo

import (
	"context"
	"database/sql"
	"strings"
	"unicode"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/ragkb/internal/model"
	"github.com/xxxsen/ragkb/internal/pkg/dbutil"
)

const ftsConfig = "english"

var lexicalOrder = map[string]string{
	model.SortNewest:   "ctime DESC, id ASC",
	model.SortOldest:   "ctime ASC, id ASC",
	model.SortVotes:    "vote_score DESC, ctime DESC, id ASC",
	model.SortActivity: "activity_time DESC, id ASC",
}

// FTSRepo answers lexical queries from the generated search_vector column.
type FTSRepo struct {
	db *sql.DB
}

func NewFTSRepo(db *sql.DB) *FTSRepo {
	return &FTSRepo{db: db}
}

// Search ranks live documents by ts_rank, or orders them by q.Sort. A blank
// text is a filtered listing; a text without any searchable term matches
// nothing. Pagination happens in the store.
func (r *FTSRepo) Search(ctx context.Context, q model.LexicalQuery) ([]model.LexicalHit, int, error) {
	text := sanitizeFTSQuery(q.Text)
	if text == "" && strings.TrimSpace(q.Text) != "" {
		return []model.LexicalHit{}, 0, nil
	}
	conds := []string{"state = ?"}
	args := []interface{}{model.DocumentStateNormal}
	if text != "" {
		conds = append(conds, "search_vector @@ websearch_to_tsquery('"+ftsConfig+"', ?)")
		args = append(args, text)
	}
	if q.Scope.CollectionID != "" {
		conds = append(conds, "collection_id = ?")
		args = append(args, q.Scope.CollectionID)
	}
	if q.Scope.Kind != "" {
		conds = append(conds, "kind = ?")
		args = append(args, q.Scope.Kind)
	}
	where := strings.Join(conds, " AND ")

	var total int
	countSQL, countArgs := dbutil.Finalize("SELECT COUNT(1) FROM documents WHERE "+where, append([]interface{}(nil), args...))
	if err := r.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []model.LexicalHit{}, 0, nil
	}

	rankExpr := "0::float8"
	selectArgs := []interface{}{}
	if text != "" {
		rankExpr = "ts_rank(search_vector, websearch_to_tsquery('" + ftsConfig + "', ?))::float8"
		selectArgs = append(selectArgs, text)
	}
	selectArgs = append(selectArgs, args...)
	order, ok := lexicalOrder[q.Sort]
	if !ok {
		order = "rank DESC, ctime DESC, id ASC"
		if text == "" {
			order = lexicalOrder[model.SortNewest]
		}
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	query := "SELECT " + strings.Join(documentFields, ", ") + ", " + rankExpr + " AS rank FROM documents WHERE " +
		where + " ORDER BY " + order + " LIMIT ? OFFSET ?"
	selectArgs = append(selectArgs, limit, offset)
	sqlStr, selectArgs := dbutil.Finalize(query, selectArgs)
	rows, err := r.db.QueryContext(ctx, sqlStr, selectArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	hits := make([]model.LexicalHit, 0, limit)
	for rows.Next() {
		var rank float64
		doc, err := scanDocument(rows, &rank)
		if err != nil {
			return nil, 0, err
		}
		hits = append(hits, model.LexicalHit{Document: doc, Rank: rank})
	}
	return hits, total, rows.Err()
}

// Suggest returns titles of live documents starting with prefix, case-insensitively.
func (r *FTSRepo) Suggest(ctx context.Context, prefix, collectionID string, limit uint) ([]model.Suggestion, error) {
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	if prefix == "" || limit == 0 {
		return []model.Suggestion{}, nil
	}
	where := map[string]interface{}{
		"state":          model.DocumentStateNormal,
		"_custom_prefix": builder.Custom("lower(title) LIKE ?", escapeLike(prefix)+"%"),
		"_orderby":       "activity_time desc",
		"_limit":         []uint{0, limit},
	}
	if collectionID != "" {
		where["collection_id"] = collectionID
	}
	sqlStr, args, err := builder.BuildSelect("documents", where, []string{"id", "title"})
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Suggestion, 0, limit)
	for rows.Next() {
		var s model.Suggestion
		if err := rows.Scan(&s.DocumentID, &s.Title); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// sanitizeFTSQuery keeps letters, digits, quotes and a leading minus so
// websearch syntax still works, and folds everything else into spaces.
// Input without a letter or digit yields "".
func sanitizeFTSQuery(input string) string {
	if !model.HasSearchTerms(input) {
		return ""
	}
	var sb strings.Builder
	for _, r := range input {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			sb.WriteRune(r)
		case r == '"' || r == '-':
			sb.WriteRune(r)
		default:
			sb.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(sb.String()), " ")
}
