package service

import (
	"context"

	"github.com/xxxsen/ragkb/internal/ai"
	"github.com/xxxsen/ragkb/internal/model"
)

type DocumentStore interface {
	GetByID(ctx context.Context, id string) (*model.Document, error)
	ListByIDs(ctx context.Context, ids []string) (map[string]*model.Document, error)
	ListLiveIDs(ctx context.Context, afterID string, limit uint) ([]string, error)
}

type ChunkStore interface {
	ListByDocument(ctx context.Context, documentID string) ([]model.Chunk, error)
	FirstEmbedded(ctx context.Context, documentID, providerID string) (*model.Chunk, error)
	Nearest(ctx context.Context, providerID string, vec []float32, limit int) ([]model.ChunkNeighbor, error)
}

// ChunkSetWriter owns the transactional replace of a document's chunks.
type ChunkSetWriter interface {
	Replace(ctx context.Context, documentID string, chunks []model.Chunk, embeddedAt int64) error
	Touch(ctx context.Context, documentID string, embeddedAt int64) error
}

type LexicalStore interface {
	Search(ctx context.Context, q model.LexicalQuery) ([]model.LexicalHit, int, error)
	Suggest(ctx context.Context, prefix, collectionID string, limit uint) ([]model.Suggestion, error)
}

type ProviderStore interface {
	ai.ProviderSource
	Create(ctx context.Context, p *model.Provider) error
	GetByID(ctx context.Context, id string) (*model.Provider, error)
	List(ctx context.Context) ([]model.Provider, error)
	UpdatePolicy(ctx context.Context, id string, threshold float64, chunkSize, chunkOverlap int, mtime int64) error
}

// ProviderSwitcher enables one provider and detaches the chunks of every other.
type ProviderSwitcher interface {
	Activate(ctx context.Context, id string, mtime int64) (int64, error)
}

// ClientResolver turns a provider snapshot (or the enabled one, when nil)
// into an embedding client.
type ClientResolver interface {
	Resolve(ctx context.Context, explicit *model.Provider) (*ai.EmbeddingClient, error)
}

type AdapterRegistry interface {
	Build(p *model.Provider) (ai.IEmbedProvider, error)
	Invalidate(id string)
}

// Enqueuer schedules EmbedDocument work, waiting for room when the queue is full.
type Enqueuer interface {
	EnqueueWait(ctx context.Context, documentID string, force bool) error
}
