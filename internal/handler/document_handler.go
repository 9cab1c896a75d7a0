package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/ragkb/internal/model"
	appErr "github.com/xxxsen/ragkb/internal/pkg/errors"
	"github.com/xxxsen/ragkb/internal/pkg/response"
	"github.com/xxxsen/ragkb/internal/service"
)

type DocumentEmbedder interface {
	EmbedDocumentByID(ctx context.Context, id string, force bool) service.EmbedResult
}

type SimilarFinder interface {
	Similar(ctx context.Context, provider *model.Provider, documentID string, limit int) *model.SearchResult
}

type DocumentHandler struct {
	embedder DocumentEmbedder
	similar  SimilarFinder
}

func NewDocumentHandler(embedder DocumentEmbedder, similar SimilarFinder) *DocumentHandler {
	return &DocumentHandler{embedder: embedder, similar: similar}
}

func (h *DocumentHandler) Embed(c *gin.Context) {
	res := h.embedder.EmbedDocumentByID(c.Request.Context(), c.Param("id"), boolQuery(c, "force"))
	if !res.Success {
		err := res.Err
		if err == nil {
			err = appErr.ErrInternal
		}
		handleError(c, err)
		return
	}
	response.Success(c, res)
}

func (h *DocumentHandler) Similar(c *gin.Context) {
	limit, ok := intQuery(c, "limit", 0)
	if !ok {
		badRequest(c, "invalid limit")
		return
	}
	res := h.similar.Similar(c.Request.Context(), nil, c.Param("id"), limit)
	response.Success(c, searchResponse{SearchResult: res})
}
