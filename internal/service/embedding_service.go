package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/ragkb/internal/ai"
	"github.com/xxxsen/ragkb/internal/model"
	appErr "github.com/xxxsen/ragkb/internal/pkg/errors"
)

// EmbedResult reports one pipeline run. Err is set exactly when Success is false.
type EmbedResult struct {
	DocumentID string `json:"document_id"`
	ProviderID string `json:"provider_id,omitempty"`
	Success    bool   `json:"success"`
	ChunkCount int    `json:"chunk_count"`
	Skipped    bool   `json:"skipped"`
	Err        error  `json:"-"`
}

func failed(docID string, err error) EmbedResult {
	return EmbedResult{DocumentID: docID, Err: err}
}

type EmbeddingService struct {
	docs    DocumentStore
	chunks  ChunkStore
	writer  ChunkSetWriter
	clients ClientResolver
	now     func() time.Time
}

func NewEmbeddingService(docs DocumentStore, chunks ChunkStore, writer ChunkSetWriter, clients ClientResolver) *EmbeddingService {
	return &EmbeddingService{
		docs:    docs,
		chunks:  chunks,
		writer:  writer,
		clients: clients,
		now:     time.Now,
	}
}

// EmbedDocument rebuilds the chunk set of doc with provider, or with the
// enabled provider when provider is nil. All vectors are computed before the
// store is touched, so an adapter failure leaves the old chunks in place.
func (s *EmbeddingService) EmbedDocument(ctx context.Context, doc *model.Document, provider *model.Provider) EmbedResult {
	if doc == nil {
		return failed("", appErr.ErrInvalid)
	}
	logger := logutil.GetLogger(ctx).With(zap.String("doc_id", doc.ID))
	client, err := s.clients.Resolve(ctx, provider)
	if err != nil {
		if errors.Is(err, ai.ErrNoProvider) {
			logger.Debug("skip embedding, no provider enabled")
		} else {
			logger.Error("resolve embedding client failed", zap.Error(err))
		}
		return failed(doc.ID, err)
	}
	p := client.Provider()
	logger = logger.With(zap.String("provider_id", p.ID), zap.String("provider_type", p.Type))
	now := s.now().Unix()

	specs := ai.NewChunkerForProvider(p).Chunk(ai.EmbeddingText(doc.Title, doc.Content))
	if len(specs) == 0 {
		if err := s.writer.Touch(ctx, doc.ID, now); err != nil {
			logger.Error("stamp blank document failed", zap.Error(err))
			return failed(doc.ID, err)
		}
		logger.Info("document has no text, chunks left untouched")
		return EmbedResult{DocumentID: doc.ID, ProviderID: p.ID, Success: true}
	}

	texts := make([]string, len(specs))
	for i, spec := range specs {
		texts[i] = spec.Content
	}
	vectors, err := client.Embed(ai.WithTaskType(ctx, ai.TaskTypeDocument), texts)
	if err != nil {
		logger.Error("embed chunks failed", zap.Int("chunks", len(specs)), zap.Error(err))
		return failed(doc.ID, err)
	}

	chunks := make([]model.Chunk, len(specs))
	for i, spec := range specs {
		chunks[i] = model.Chunk{
			ID:         newID(),
			DocumentID: doc.ID,
			ProviderID: p.ID,
			ChunkIndex: i,
			Content:    spec.Content,
			TokenCount: spec.TokenCount,
			Embedding:  vectors[i],
			EmbeddedAt: now,
			Metadata:   model.ChunkMetadata{Position: spec.Position},
		}
	}
	if err := s.writer.Replace(ctx, doc.ID, chunks, now); err != nil {
		logger.Error("replace chunks failed", zap.Error(err))
		return failed(doc.ID, err)
	}
	logger.Info("document embedded", zap.Int("chunks", len(chunks)))
	return EmbedResult{DocumentID: doc.ID, ProviderID: p.ID, Success: true, ChunkCount: len(chunks)}
}

// EmbedDocumentByID loads a live document and embeds it with the enabled
// provider. Without force, a document whose chunks are current for that
// provider is skipped.
func (s *EmbeddingService) EmbedDocumentByID(ctx context.Context, id string, force bool) EmbedResult {
	id = strings.TrimSpace(id)
	if id == "" {
		return failed(id, appErr.ErrInvalid)
	}
	doc, err := s.docs.GetByID(ctx, id)
	if err != nil {
		return failed(id, err)
	}
	if !doc.IsLive() {
		return failed(id, appErr.ErrNotFound)
	}
	client, err := s.clients.Resolve(ctx, nil)
	if err != nil {
		return failed(id, err)
	}
	p := client.Provider()
	if !force && !doc.NeedsEmbedding() {
		_, err := s.chunks.FirstEmbedded(ctx, id, p.ID)
		switch {
		case err == nil:
			return EmbedResult{DocumentID: id, ProviderID: p.ID, Success: true, Skipped: true}
		case !appErr.IsNotFound(err):
			return failed(id, err)
		}
	}
	return s.EmbedDocument(ctx, doc, p)
}
