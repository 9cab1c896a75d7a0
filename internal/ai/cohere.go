package ai

import (
	"context"
	"strings"

	"github.com/xxxsen/ragkb/internal/model"
)

const (
	defaultCohereBaseURL = "https://api.cohere.com/v1"
	cohereBatchSize      = 96
	cohereMaxInputChars  = 512 * 4
)

type cohereEmbedRequest struct {
	Model     string   `json:"model"`
	Texts     []string `json:"texts"`
	InputType string   `json:"input_type"`
	Truncate  string   `json:"truncate"`
}

type cohereEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

type cohereEmbedProvider struct {
	*embedCore
	apiKey  string
	baseURL string
}

func (p *cohereEmbedProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return p.embed(ctx, texts, p.call)
}

func (p *cohereEmbedProvider) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	return p.embedOne(ctx, text, p.call)
}

func (p *cohereEmbedProvider) call(ctx context.Context, batch []string) ([][]float32, error) {
	req := cohereEmbedRequest{
		Model:     p.model,
		Texts:     batch,
		InputType: cohereInputType(TaskTypeFrom(ctx)),
		Truncate:  "END",
	}
	var out cohereEmbedResponse
	headers := map[string]string{"Authorization": "Bearer " + p.apiKey}
	if err := postJSON(ctx, p.httpClient(), p.name, p.baseURL+"/embed", headers, req, &out); err != nil {
		return nil, err
	}
	return out.Embeddings, nil
}

func cohereInputType(t TaskType) string {
	if t == TaskTypeQuery {
		return "search_query"
	}
	return "search_document"
}

func createCohereEmbedFactory(args interface{}) (IEmbedProvider, error) {
	cfg, err := decodeArgs(model.ProviderTypeCohere, args, true)
	if err != nil {
		return nil, err
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if baseURL == "" {
		baseURL = defaultCohereBaseURL
	}
	return &cohereEmbedProvider{
		embedCore: newEmbedCore(model.ProviderTypeCohere, cfg, cohereBatchSize, cohereMaxInputChars),
		apiKey:    cfg.APIKey,
		baseURL:   baseURL,
	}, nil
}

func init() {
	RegisterEmbed(model.ProviderTypeCohere, createCohereEmbedFactory)
}
