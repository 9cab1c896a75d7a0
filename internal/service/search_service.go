package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/ragkb/internal/ai"
	"github.com/xxxsen/ragkb/internal/model"
)

type SearchRequest struct {
	Query   string
	Scope   model.SearchScope
	Sort    string
	Page    int
	PerPage int
}

type SearchOptions struct {
	DefaultPerPage int
	MaxPerPage     int
	SuggestLimit   int
}

// SearchService answers queries with vector search first and falls back to
// lexical search when vector search is unavailable or finds nothing.
type SearchService struct {
	providers ai.ProviderSource
	vector    *VectorSearchService
	lexical   LexicalStore
	opts      SearchOptions
}

func NewSearchService(providers ai.ProviderSource, vector *VectorSearchService, lexical LexicalStore, opts SearchOptions) *SearchService {
	if opts.DefaultPerPage <= 0 {
		opts.DefaultPerPage = 20
	}
	if opts.MaxPerPage <= 0 {
		opts.MaxPerPage = 100
	}
	if opts.SuggestLimit <= 0 {
		opts.SuggestLimit = 8
	}
	return &SearchService{providers: providers, vector: vector, lexical: lexical, opts: opts}
}

// Search always returns a well-formed result; failures end in error mode.
func (s *SearchService) Search(ctx context.Context, req SearchRequest) (res *model.SearchResult) {
	page, perPage := s.normalizePage(req.Page, req.PerPage)
	sortBy := normalizeSort(req.Sort)
	query := strings.TrimSpace(req.Query)
	if !model.HasSearchTerms(query) {
		query = ""
	}
	logger := logutil.GetLogger(ctx).With(zap.String("query", query), zap.String("sort", sortBy))

	defer func() {
		if r := recover(); r != nil {
			logger.Error("search panicked", zap.Any("panic", r))
			res = model.EmptyResult(model.SearchModeError, page, perPage)
			res.Cause = fmt.Errorf("search panic: %v", r)
		}
	}()

	if query == "" && req.Scope.IsEmpty() {
		return model.EmptyResult(model.SearchModeNone, page, perPage)
	}
	var cause error
	if query != "" && sortBy == model.SortRelevance {
		provider, err := s.providers.GetEnabled(ctx)
		if err != nil {
			logger.Warn("read enabled provider failed", zap.Error(err))
			cause = err
		}
		if provider != nil {
			candidates := perPage * CandidateMultiplier
			if page*perPage > candidates {
				candidates = page * perPage
			}
			vr := s.vector.Search(ctx, provider, VectorQuery{Text: query, Scope: req.Scope, Limit: candidates})
			if len(vr.Hits) > 0 {
				out := paginate(vr.Hits, (page-1)*perPage, perPage)
				out.Page = page
				out.Threshold = vr.Threshold
				out.Mode = model.SearchModeVector
				return out
			}
			cause = vr.Cause
		}
	}
	return s.keyword(ctx, query, req.Scope, sortBy, page, perPage, cause)
}

func (s *SearchService) keyword(ctx context.Context, query string, scope model.SearchScope, sortBy string, page, perPage int, cause error) *model.SearchResult {
	hits, total, err := s.lexical.Search(ctx, model.LexicalQuery{
		Text:   query,
		Scope:  scope,
		Sort:   sortBy,
		Offset: (page - 1) * perPage,
		Limit:  perPage,
	})
	if err != nil {
		logutil.GetLogger(ctx).Error("keyword search failed", zap.Error(err))
		res := model.EmptyResult(model.SearchModeError, page, perPage)
		res.Cause = err
		return res
	}
	res := model.EmptyResult(model.SearchModeKeyword, page, perPage)
	res.TotalCount = total
	res.TotalPages = totalPages(total, perPage)
	res.Cause = cause
	for i := range hits {
		doc := hits[i].Document
		res.Hits = append(res.Hits, model.Hit{ID: doc.ID, Document: &doc})
	}
	return res
}

// Suggest completes a title prefix within an optional collection.
func (s *SearchService) Suggest(ctx context.Context, prefix, scopeID string) ([]model.Suggestion, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return []model.Suggestion{}, nil
	}
	return s.lexical.Suggest(ctx, prefix, strings.TrimSpace(scopeID), uint(s.opts.SuggestLimit))
}

func (s *SearchService) normalizePage(page, perPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	if perPage <= 0 {
		perPage = s.opts.DefaultPerPage
	}
	if perPage > s.opts.MaxPerPage {
		perPage = s.opts.MaxPerPage
	}
	return page, perPage
}

func normalizeSort(v string) string {
	switch v = strings.ToLower(strings.TrimSpace(v)); v {
	case model.SortNewest, model.SortOldest, model.SortVotes, model.SortActivity:
		return v
	default:
		return model.SortRelevance
	}
}
