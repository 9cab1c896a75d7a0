package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/ragkb/internal/model"
	appErr "github.com/xxxsen/ragkb/internal/pkg/errors"
)

const regenerateBatch = 500

type ProviderCreateInput struct {
	Name                string  `json:"name"`
	Type                string  `json:"type"`
	Model               string  `json:"model"`
	Dimensions          int     `json:"dimensions"`
	SimilarityThreshold float64 `json:"similarity_threshold"`
	ChunkSize           int     `json:"chunk_size"`
	ChunkOverlap        int     `json:"chunk_overlap"`
	APIKey              string  `json:"api_key"`
	APISecret           string  `json:"api_secret"`
	Endpoint            string  `json:"endpoint"`
	Region              string  `json:"region"`
	APIVersion          string  `json:"api_version"`
	Deployment          string  `json:"deployment"`
	RequestsPerSecond   float64 `json:"requests_per_second"`
}

// ProviderPolicyInput changes retrieval and chunking knobs. A Dimensions
// value different from the stored one is rejected.
type ProviderPolicyInput struct {
	SimilarityThreshold *float64 `json:"similarity_threshold"`
	ChunkSize           *int     `json:"chunk_size"`
	ChunkOverlap        *int     `json:"chunk_overlap"`
	Dimensions          *int     `json:"dimensions"`
}

type ActivateResult struct {
	Provider model.Provider `json:"provider"`
	Detached int64          `json:"detached_chunks"`
	Enqueued int            `json:"enqueued"`
}

type ProviderService struct {
	store    ProviderStore
	switcher ProviderSwitcher
	adapters AdapterRegistry
	docs     DocumentStore
	queue    Enqueuer
	now      func() time.Time
}

func NewProviderService(store ProviderStore, switcher ProviderSwitcher, adapters AdapterRegistry, docs DocumentStore, queue Enqueuer) *ProviderService {
	return &ProviderService{
		store:    store,
		switcher: switcher,
		adapters: adapters,
		docs:     docs,
		queue:    queue,
		now:      time.Now,
	}
}

// Create validates the record by building its adapter offline, then stores
// it disabled.
func (s *ProviderService) Create(ctx context.Context, in ProviderCreateInput) (*model.Provider, error) {
	now := s.now().Unix()
	p := &model.Provider{
		ID:                  newID(),
		Name:                strings.TrimSpace(in.Name),
		Type:                strings.ToLower(strings.TrimSpace(in.Type)),
		Model:               strings.TrimSpace(in.Model),
		Dimensions:          in.Dimensions,
		SimilarityThreshold: in.SimilarityThreshold,
		ChunkSize:           in.ChunkSize,
		ChunkOverlap:        in.ChunkOverlap,
		APIKey:              strings.TrimSpace(in.APIKey),
		APISecret:           strings.TrimSpace(in.APISecret),
		Endpoint:            strings.TrimSpace(in.Endpoint),
		Region:              strings.TrimSpace(in.Region),
		APIVersion:          strings.TrimSpace(in.APIVersion),
		Deployment:          strings.TrimSpace(in.Deployment),
		RequestsPerSecond:   in.RequestsPerSecond,
		Ctime:               now,
		Mtime:               now,
	}
	if p.Name == "" {
		return nil, fmt.Errorf("%w: name is required", appErr.ErrInvalid)
	}
	if err := validatePolicy(p.SimilarityThreshold, p.ChunkSize, p.ChunkOverlap); err != nil {
		return nil, err
	}
	if _, err := s.adapters.Build(p); err != nil {
		return nil, fmt.Errorf("%w: %v", appErr.ErrInvalid, err)
	}
	if err := s.store.Create(ctx, p); err != nil {
		return nil, err
	}
	logutil.GetLogger(ctx).Info("provider created",
		zap.String("provider_id", p.ID),
		zap.String("type", p.Type),
		zap.String("model", p.Model),
		zap.Int("dimensions", p.Dimensions),
	)
	out := p.Redacted()
	return &out, nil
}

func (s *ProviderService) List(ctx context.Context) ([]model.Provider, error) {
	items, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range items {
		items[i] = items[i].Redacted()
	}
	return items, nil
}

// Activate makes id the only enabled provider and detaches every chunk
// produced by another one. With regenerate, every live document is queued.
func (s *ProviderService) Activate(ctx context.Context, id string, regenerate bool) (*ActivateResult, error) {
	logger := logutil.GetLogger(ctx).With(zap.String("provider_id", id))
	detached, err := s.switcher.Activate(ctx, id, s.now().Unix())
	if err != nil {
		logger.Error("activate provider failed", zap.Error(err))
		return nil, err
	}
	s.adapters.Invalidate("")
	p, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	res := &ActivateResult{Provider: p.Redacted(), Detached: detached}
	if regenerate {
		if res.Enqueued, err = s.enqueueAll(ctx); err != nil {
			logger.Error("queue regeneration failed, stale sweep will pick up the rest",
				zap.Int("enqueued", res.Enqueued), zap.Error(err))
			return nil, fmt.Errorf("queue regeneration after %d documents: %w", res.Enqueued, err)
		}
	}
	logger.Info("provider activated", zap.Int64("detached_chunks", detached), zap.Int("enqueued", res.Enqueued))
	return res, nil
}

// RegenerateAll switches to id when needed, invalidates chunks of other
// providers and queues a forced EmbedDocument for every live document.
func (s *ProviderService) RegenerateAll(ctx context.Context, id string) (*ActivateResult, error) {
	return s.Activate(ctx, id, true)
}

func (s *ProviderService) UpdatePolicy(ctx context.Context, id string, in ProviderPolicyInput) (*model.Provider, error) {
	p, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.Dimensions != nil && *in.Dimensions != p.Dimensions {
		return nil, fmt.Errorf("%w: dimensions cannot change, create a new provider", appErr.ErrImmutable)
	}
	threshold, size, overlap := p.SimilarityThreshold, p.ChunkSize, p.ChunkOverlap
	if in.SimilarityThreshold != nil {
		threshold = *in.SimilarityThreshold
	}
	if in.ChunkSize != nil {
		size = *in.ChunkSize
	}
	if in.ChunkOverlap != nil {
		overlap = *in.ChunkOverlap
	}
	if err := validatePolicy(threshold, size, overlap); err != nil {
		return nil, err
	}
	mtime := s.now().Unix()
	if err := s.store.UpdatePolicy(ctx, id, threshold, size, overlap, mtime); err != nil {
		return nil, err
	}
	s.adapters.Invalidate(id)
	p.SimilarityThreshold, p.ChunkSize, p.ChunkOverlap, p.Mtime = threshold, size, overlap, mtime
	out := p.Redacted()
	return &out, nil
}

func (s *ProviderService) enqueueAll(ctx context.Context) (int, error) {
	if s.queue == nil {
		return 0, nil
	}
	total, after := 0, ""
	for {
		ids, err := s.docs.ListLiveIDs(ctx, after, regenerateBatch)
		if err != nil {
			return total, err
		}
		for _, id := range ids {
			if err := s.queue.EnqueueWait(ctx, id, true); err != nil {
				return total, err
			}
			total++
		}
		if len(ids) < regenerateBatch {
			return total, nil
		}
		after = ids[len(ids)-1]
	}
}

// validatePolicy accepts a threshold in (0, 1]. Zero means unset and
// searches fall back to DefaultSimilarityThreshold.
func validatePolicy(threshold float64, size, overlap int) error {
	if threshold < 0 || threshold > 1 {
		return fmt.Errorf("%w: similarity_threshold must be within (0, 1], or 0 for the default", appErr.ErrInvalid)
	}
	if size < 0 || overlap < 0 {
		return fmt.Errorf("%w: chunk size and overlap must not be negative", appErr.ErrInvalid)
	}
	if size > 0 && overlap >= size {
		return fmt.Errorf("%w: chunk_overlap must be smaller than chunk_size", appErr.ErrInvalid)
	}
	return nil
}

