package handler

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/ragkb/internal/model"
	"github.com/xxxsen/ragkb/internal/pkg/response"
	"github.com/xxxsen/ragkb/internal/service"
)

type Searcher interface {
	Search(ctx context.Context, req service.SearchRequest) *model.SearchResult
	Suggest(ctx context.Context, prefix, scopeID string) ([]model.Suggestion, error)
}

type SearchHandler struct {
	search Searcher
}

func NewSearchHandler(search Searcher) *SearchHandler {
	return &SearchHandler{search: search}
}

type searchResponse struct {
	*model.SearchResult
	Error string `json:"error,omitempty"`
}

// Search never fails at the transport level: degraded and error modes are
// reported in the body with the cause as a message.
func (h *SearchHandler) Search(c *gin.Context) {
	page, ok := intQuery(c, "page", 1)
	if !ok {
		badRequest(c, "invalid page")
		return
	}
	perPage, ok := intQuery(c, "per_page", 0)
	if !ok {
		badRequest(c, "invalid per_page")
		return
	}
	res := h.search.Search(c.Request.Context(), service.SearchRequest{
		Query: c.Query("q"),
		Scope: model.SearchScope{
			CollectionID: strings.TrimSpace(c.Query("collection_id")),
			Kind:         strings.TrimSpace(c.Query("kind")),
		},
		Sort:    c.Query("sort"),
		Page:    page,
		PerPage: perPage,
	})
	out := searchResponse{SearchResult: res}
	if res.Cause != nil && res.Mode == model.SearchModeError {
		out.Error = "search failed"
	}
	response.Success(c, out)
}

func (h *SearchHandler) Suggest(c *gin.Context) {
	items, err := h.search.Suggest(c.Request.Context(), c.Query("prefix"), c.Query("scope_id"))
	if err != nil {
		handleError(c, err)
		return
	}
	if items == nil {
		items = []model.Suggestion{}
	}
	response.Success(c, gin.H{"suggestions": items})
}
