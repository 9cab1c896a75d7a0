package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/xxxsen/ragkb/internal/middleware"
)

type RouterDeps struct {
	Search    *SearchHandler
	Documents *DocumentHandler
	Providers *ProviderHandler
	// SearchRPS and SearchBurst throttle the read endpoints per client.
	SearchRPS   float64
	SearchBurst int
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	read := api.Group("")
	read.Use(middleware.RateLimit(deps.SearchRPS, deps.SearchBurst))
	read.GET("/search", deps.Search.Search)
	read.GET("/search/suggest", deps.Search.Suggest)
	read.GET("/documents/:id/similar", deps.Documents.Similar)

	api.POST("/documents/:id/embed", deps.Documents.Embed)

	api.GET("/providers", deps.Providers.List)
	api.POST("/providers", deps.Providers.Create)
	api.POST("/providers/:id/activate", deps.Providers.Activate)
	api.POST("/providers/:id/regenerate", deps.Providers.Regenerate)
	api.PUT("/providers/:id/policy", deps.Providers.UpdatePolicy)
}
