package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/ragkb/internal/ai"
	"github.com/xxxsen/ragkb/internal/model"
	appErr "github.com/xxxsen/ragkb/internal/pkg/errors"
)

const (
	// CandidateMultiplier is the nearest-neighbour over-fetch factor; grouping
	// by document shrinks the candidate list.
	CandidateMultiplier = 3
	// DefaultSimilarityThreshold applies when neither the query nor the
	// provider sets one.
	DefaultSimilarityThreshold = 0.3
)

type VectorQuery struct {
	Text      string
	Scope     model.SearchScope
	Offset    int
	Limit     int
	Threshold *float64
}

type VectorSearchService struct {
	clients      ClientResolver
	chunks       ChunkStore
	docs         DocumentStore
	defaultLimit int
	similarLimit int
	timeout      time.Duration
}

type VectorOption func(s *VectorSearchService)

func WithDefaultLimits(chunkLimit, similarLimit int) VectorOption {
	return func(s *VectorSearchService) {
		if chunkLimit > 0 {
			s.defaultLimit = chunkLimit
		}
		if similarLimit > 0 {
			s.similarLimit = similarLimit
		}
	}
}

// WithQueryTimeout bounds each query; an expired budget degrades the result.
func WithQueryTimeout(d time.Duration) VectorOption {
	return func(s *VectorSearchService) {
		s.timeout = d
	}
}

func NewVectorSearchService(clients ClientResolver, chunks ChunkStore, docs DocumentStore, opts ...VectorOption) *VectorSearchService {
	s := &VectorSearchService{
		clients:      clients,
		chunks:       chunks,
		docs:         docs,
		defaultLimit: 10,
		similarLimit: 5,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Search embeds q.Text and returns the best chunk per document, thresholded
// and paginated. It never returns an error: failures yield an empty result in
// degraded mode carrying the cause.
func (s *VectorSearchService) Search(ctx context.Context, provider *model.Provider, q VectorQuery) *model.SearchResult {
	limit := q.Limit
	if limit <= 0 {
		limit = s.defaultLimit
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	page := offset/limit + 1
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return model.EmptyResult(model.SearchModeNone, page, limit)
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	logger := logutil.GetLogger(ctx).With(zap.String("query", text))

	client, err := s.clients.Resolve(ctx, provider)
	if err != nil {
		return s.fail(ctx, err, page, limit)
	}
	p := client.Provider()
	vec, err := client.EmbedOne(ai.WithTaskType(ctx, ai.TaskTypeQuery), text)
	if err != nil {
		return s.fail(ctx, err, page, limit)
	}
	neighbors, err := s.chunks.Nearest(ctx, p.ID, vec, (offset+limit)*CandidateMultiplier)
	if err != nil {
		return s.fail(ctx, err, page, limit)
	}
	threshold := effectiveThreshold(q.Threshold, p)
	hits, err := s.rank(ctx, neighbors, q.Scope, threshold, "")
	if err != nil {
		return s.fail(ctx, err, page, limit)
	}
	logger.Debug("vector search done",
		zap.String("provider_id", p.ID),
		zap.Int("candidates", len(neighbors)),
		zap.Int("hits", len(hits)),
		zap.Float64("threshold", threshold),
	)
	res := paginate(hits, offset, limit)
	res.Page = page
	res.Threshold = threshold
	res.Mode = model.SearchModeVector
	return res
}

// Similar returns documents close to the first embedded chunk of documentID,
// excluding the document itself.
func (s *VectorSearchService) Similar(ctx context.Context, provider *model.Provider, documentID string, limit int) *model.SearchResult {
	if limit <= 0 {
		limit = s.similarLimit
	}
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return model.EmptyResult(model.SearchModeNone, 1, limit)
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	client, err := s.clients.Resolve(ctx, provider)
	if err != nil {
		return s.fail(ctx, err, 1, limit)
	}
	p := client.Provider()
	anchor, err := s.chunks.FirstEmbedded(ctx, documentID, p.ID)
	if err != nil {
		if appErr.IsNotFound(err) {
			return model.EmptyResult(model.SearchModeNone, 1, limit)
		}
		return s.fail(ctx, err, 1, limit)
	}
	neighbors, err := s.chunks.Nearest(ctx, p.ID, anchor.Embedding, (limit+1)*CandidateMultiplier)
	if err != nil {
		return s.fail(ctx, err, 1, limit)
	}
	threshold := effectiveThreshold(nil, p)
	hits, err := s.rank(ctx, neighbors, model.SearchScope{}, threshold, documentID)
	if err != nil {
		return s.fail(ctx, err, 1, limit)
	}
	res := paginate(hits, 0, limit)
	res.Threshold = threshold
	res.Mode = model.SearchModeVector
	return res
}

// rank groups neighbours by document keeping the best chunk (first wins on
// ties), drops documents that are gone, out of scope or below threshold,
// and sorts by score descending.
func (s *VectorSearchService) rank(ctx context.Context, neighbors []model.ChunkNeighbor, scope model.SearchScope, threshold float64, exclude string) ([]model.Hit, error) {
	type candidate struct {
		chunk model.Chunk
		score float64
	}
	order := make([]string, 0, len(neighbors))
	best := make(map[string]*candidate, len(neighbors))
	for _, n := range neighbors {
		docID := n.Chunk.DocumentID
		if docID == exclude {
			continue
		}
		score := 1 - n.Distance
		if cur, ok := best[docID]; ok {
			if score > cur.score {
				cur.chunk, cur.score = n.Chunk, score
			}
			continue
		}
		best[docID] = &candidate{chunk: n.Chunk, score: score}
		order = append(order, docID)
	}
	if len(order) == 0 {
		return []model.Hit{}, nil
	}
	docs, err := s.docs.ListByIDs(ctx, order)
	if err != nil {
		return nil, err
	}
	hits := make([]model.Hit, 0, len(order))
	for _, docID := range order {
		doc, ok := docs[docID]
		if !ok || !doc.IsLive() || !scope.Contains(doc) {
			continue
		}
		c := best[docID]
		if c.score < threshold {
			continue
		}
		chunk := c.chunk
		chunk.Embedding = nil
		score := c.score
		hits = append(hits, model.Hit{ID: docID, Score: &score, Document: doc, Chunk: &chunk})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		return *hits[i].Score > *hits[j].Score
	})
	return hits, nil
}

func (s *VectorSearchService) fail(ctx context.Context, err error, page, perPage int) *model.SearchResult {
	if errors.Is(err, ai.ErrNoProvider) {
		logutil.GetLogger(ctx).Debug("vector search skipped, no provider enabled")
		return model.EmptyResult(model.SearchModeNone, page, perPage)
	}
	logutil.GetLogger(ctx).Warn("vector search degraded", zap.Error(err))
	res := model.EmptyResult(model.SearchModeDegraded, page, perPage)
	res.Cause = err
	return res
}

func (s *VectorSearchService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func effectiveThreshold(explicit *float64, p *model.Provider) float64 {
	if explicit != nil {
		return *explicit
	}
	if p != nil && p.SimilarityThreshold > 0 {
		return p.SimilarityThreshold
	}
	return DefaultSimilarityThreshold
}

// paginate slices an already ranked list. Page is left for the caller.
func paginate(hits []model.Hit, offset, limit int) *model.SearchResult {
	total := len(hits)
	res := &model.SearchResult{
		Hits:       []model.Hit{},
		Page:       1,
		PerPage:    limit,
		TotalCount: total,
		TotalPages: totalPages(total, limit),
	}
	if offset < total {
		end := offset + limit
		if end > total {
			end = total
		}
		res.Hits = hits[offset:end]
	}
	return res
}

func totalPages(total, perPage int) int {
	if total <= 0 || perPage <= 0 {
		return 0
	}
	return (total + perPage - 1) / perPage
}
