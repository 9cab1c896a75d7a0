package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/ragkb/internal/model"
	"github.com/xxxsen/ragkb/internal/pkg/response"
	"github.com/xxxsen/ragkb/internal/service"
)

type ProviderAdmin interface {
	Create(ctx context.Context, in service.ProviderCreateInput) (*model.Provider, error)
	List(ctx context.Context) ([]model.Provider, error)
	Activate(ctx context.Context, id string, regenerate bool) (*service.ActivateResult, error)
	RegenerateAll(ctx context.Context, id string) (*service.ActivateResult, error)
	UpdatePolicy(ctx context.Context, id string, in service.ProviderPolicyInput) (*model.Provider, error)
}

type ProviderHandler struct {
	providers ProviderAdmin
}

func NewProviderHandler(providers ProviderAdmin) *ProviderHandler {
	return &ProviderHandler{providers: providers}
}

func (h *ProviderHandler) Create(c *gin.Context) {
	var req service.ProviderCreateInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	p, err := h.providers.Create(c.Request.Context(), req)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, p)
}

func (h *ProviderHandler) List(c *gin.Context) {
	items, err := h.providers.List(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	if items == nil {
		items = []model.Provider{}
	}
	response.Success(c, gin.H{"providers": items})
}

func (h *ProviderHandler) Activate(c *gin.Context) {
	res, err := h.providers.Activate(c.Request.Context(), c.Param("id"), boolQuery(c, "regenerate"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, res)
}

func (h *ProviderHandler) Regenerate(c *gin.Context) {
	res, err := h.providers.RegenerateAll(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, res)
}

func (h *ProviderHandler) UpdatePolicy(c *gin.Context) {
	var req service.ProviderPolicyInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	p, err := h.providers.UpdatePolicy(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, p)
}
