package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"github.com/xxxsen/common/webapi"

	"github.com/xxxsen/ragkb/internal/handler"
	"github.com/xxxsen/ragkb/internal/middleware"
	"github.com/xxxsen/ragkb/internal/model"
	"github.com/xxxsen/ragkb/internal/service"
)

type fakeSearcher struct {
	last       service.SearchRequest
	result     *model.SearchResult
	suggest    []model.Suggestion
	suggestErr error
}

func (f *fakeSearcher) Search(ctx context.Context, req service.SearchRequest) *model.SearchResult {
	f.last = req
	if f.result != nil {
		return f.result
	}
	return model.EmptyResult(model.SearchModeNone, 1, 20)
}

func (f *fakeSearcher) Suggest(ctx context.Context, prefix, scopeID string) ([]model.Suggestion, error) {
	return f.suggest, f.suggestErr
}

type fakeEmbedder struct {
	force  bool
	result service.EmbedResult
}

func (f *fakeEmbedder) EmbedDocumentByID(ctx context.Context, id string, force bool) service.EmbedResult {
	f.force = force
	res := f.result
	res.DocumentID = id
	return res
}

type fakeSimilar struct {
	limit int
}

func (f *fakeSimilar) Similar(ctx context.Context, provider *model.Provider, documentID string, limit int) *model.SearchResult {
	f.limit = limit
	res := model.EmptyResult(model.SearchModeVector, 1, limit)
	score := 0.9
	res.Hits = []model.Hit{{ID: "other", Score: &score}}
	res.TotalCount = 1
	res.TotalPages = 1
	return res
}

type fakeAdmin struct {
	created    service.ProviderCreateInput
	regenerate bool
	policy     service.ProviderPolicyInput
	err        error
}

func (f *fakeAdmin) Create(ctx context.Context, in service.ProviderCreateInput) (*model.Provider, error) {
	f.created = in
	if f.err != nil {
		return nil, f.err
	}
	return &model.Provider{ID: "p1", Name: in.Name, Type: in.Type, Model: in.Model, Dimensions: in.Dimensions}, nil
}

func (f *fakeAdmin) List(ctx context.Context) ([]model.Provider, error) {
	return nil, f.err
}

func (f *fakeAdmin) Activate(ctx context.Context, id string, regenerate bool) (*service.ActivateResult, error) {
	f.regenerate = regenerate
	if f.err != nil {
		return nil, f.err
	}
	return &service.ActivateResult{Provider: model.Provider{ID: id, Enabled: true}, Detached: 4}, nil
}

func (f *fakeAdmin) RegenerateAll(ctx context.Context, id string) (*service.ActivateResult, error) {
	return f.Activate(ctx, id, true)
}

func (f *fakeAdmin) UpdatePolicy(ctx context.Context, id string, in service.ProviderPolicyInput) (*model.Provider, error) {
	f.policy = in
	if f.err != nil {
		return nil, f.err
	}
	return &model.Provider{ID: id}, nil
}

type fixture struct {
	search   *fakeSearcher
	embedder *fakeEmbedder
	similar  *fakeSimilar
	admin    *fakeAdmin
}

func setupRouter(t *testing.T) (http.Handler, *fixture) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	fx := &fixture{
		search:   &fakeSearcher{},
		embedder: &fakeEmbedder{},
		similar:  &fakeSimilar{},
		admin:    &fakeAdmin{},
	}
	deps := handler.RouterDeps{
		Search:    handler.NewSearchHandler(fx.search),
		Documents: handler.NewDocumentHandler(fx.embedder, fx.similar),
		Providers: handler.NewProviderHandler(fx.admin),
	}
	engine, err := webapi.NewEngine(
		"/api/v1",
		"",
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			middleware.CORS(nil),
		),
	)
	require.NoError(t, err)
	return engine, fx
}

type envelope struct {
	Code int                    `json:"code"`
	Data map[string]interface{} `json:"data"`
}

func doRequest(t *testing.T, router http.Handler, method, path, body string) envelope {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
	var out envelope
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	return out
}
