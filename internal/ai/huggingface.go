package ai

import (
	"context"
	"strings"

	"github.com/xxxsen/ragkb/internal/model"
)

const (
	defaultHuggingFaceBaseURL = "https://api-inference.huggingface.co/pipeline/feature-extraction"
	huggingFaceBatchSize      = 32
	huggingFaceMaxInputChars  = 512 * 4
)

type huggingFaceRequest struct {
	Inputs  []string           `json:"inputs"`
	Options huggingFaceOptions `json:"options"`
}

type huggingFaceOptions struct {
	WaitForModel bool `json:"wait_for_model"`
}

type huggingFaceEmbedProvider struct {
	*embedCore
	apiKey string
	url    string
}

func (p *huggingFaceEmbedProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return p.embed(ctx, texts, p.call)
}

func (p *huggingFaceEmbedProvider) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	return p.embedOne(ctx, text, p.call)
}

func (p *huggingFaceEmbedProvider) call(ctx context.Context, batch []string) ([][]float32, error) {
	var out [][]float32
	req := huggingFaceRequest{Inputs: batch, Options: huggingFaceOptions{WaitForModel: true}}
	headers := map[string]string{"Authorization": "Bearer " + p.apiKey}
	if err := postJSON(ctx, p.httpClient(), p.name, p.url, headers, req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// huggingFaceURL builds the feature-extraction URL. A custom endpoint
// (dedicated inference endpoint) is used as-is.
func huggingFaceURL(endpoint, modelName string) string {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if endpoint != "" {
		return endpoint
	}
	return defaultHuggingFaceBaseURL + "/" + modelName
}

func createHuggingFaceEmbedFactory(args interface{}) (IEmbedProvider, error) {
	cfg, err := decodeArgs(model.ProviderTypeHuggingFace, args, true)
	if err != nil {
		return nil, err
	}
	return &huggingFaceEmbedProvider{
		embedCore: newEmbedCore(model.ProviderTypeHuggingFace, cfg, huggingFaceBatchSize, huggingFaceMaxInputChars),
		apiKey:    cfg.APIKey,
		url:       huggingFaceURL(cfg.Endpoint, cfg.Model),
	}, nil
}

func init() {
	RegisterEmbed(model.ProviderTypeHuggingFace, createHuggingFaceEmbedFactory)
}
