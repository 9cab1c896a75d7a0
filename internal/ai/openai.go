package ai

import (
	"context"
	"errors"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"github.com/xxxsen/ragkb/internal/model"
)

const (
	openAIBatchSize     = 100
	openAIMaxInputChars = 8191 * 4
)

type openAIEmbedProvider struct {
	*embedCore
	client     *openai.Client
	sendDims   bool
	modelAlias openai.EmbeddingModel
}

func (p *openAIEmbedProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return p.embed(ctx, texts, p.call)
}

func (p *openAIEmbedProvider) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	return p.embedOne(ctx, text, p.call)
}

func (p *openAIEmbedProvider) call(ctx context.Context, batch []string) ([][]float32, error) {
	req := openai.EmbeddingRequestStrings{
		Input: batch,
		Model: p.modelAlias,
	}
	if p.sendDims {
		req.Dimensions = p.dimensions
	}
	resp, err := p.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, mapOpenAIError(p.name, err)
	}
	data := resp.Data
	sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })
	out := make([][]float32, 0, len(data))
	for _, item := range data {
		out = append(out, item.Embedding)
	}
	return out, nil
}

func mapOpenAIError(provider string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(provider, apiErr.HTTPStatusCode, nil, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return classifyStatus(provider, reqErr.HTTPStatusCode, nil, reqErr.Error())
	}
	return &APIError{Provider: provider, Msg: "request failed", Err: err}
}

// supportsDimensions reports whether the model accepts a reduced output size.
func supportsDimensions(model string) bool {
	return strings.HasPrefix(model, "text-embedding-3")
}

func createOpenAIEmbedFactory(args interface{}) (IEmbedProvider, error) {
	cfg, err := decodeArgs(model.ProviderTypeOpenAI, args, true)
	if err != nil {
		return nil, err
	}
	core := newEmbedCore(model.ProviderTypeOpenAI, cfg, openAIBatchSize, openAIMaxInputChars)
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if ep := strings.TrimSpace(cfg.Endpoint); ep != "" {
		clientCfg.BaseURL = strings.TrimRight(ep, "/")
	}
	clientCfg.HTTPClient = core.httpClient()
	return &openAIEmbedProvider{
		embedCore:  core,
		client:     openai.NewClientWithConfig(clientCfg),
		sendDims:   supportsDimensions(cfg.Model),
		modelAlias: openai.EmbeddingModel(cfg.Model),
	}, nil
}

func createAzureEmbedFactory(args interface{}) (IEmbedProvider, error) {
	cfg, err := decodeArgs(model.ProviderTypeAzure, args, true)
	if err != nil {
		return nil, err
	}
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		return nil, newConfigError(model.ProviderTypeAzure, "endpoint is required")
	}
	deployment := strings.TrimSpace(cfg.Deployment)
	if deployment == "" {
		deployment = cfg.Model
	}
	core := newEmbedCore(model.ProviderTypeAzure, cfg, openAIBatchSize, openAIMaxInputChars)
	clientCfg := openai.DefaultAzureConfig(cfg.APIKey, endpoint)
	if v := strings.TrimSpace(cfg.APIVersion); v != "" {
		clientCfg.APIVersion = v
	}
	clientCfg.AzureModelMapperFunc = func(string) string { return deployment }
	clientCfg.HTTPClient = core.httpClient()
	return &openAIEmbedProvider{
		embedCore:  core,
		client:     openai.NewClientWithConfig(clientCfg),
		sendDims:   supportsDimensions(cfg.Model),
		modelAlias: openai.EmbeddingModel(cfg.Model),
	}, nil
}

func init() {
	RegisterEmbed(model.ProviderTypeOpenAI, createOpenAIEmbedFactory)
	RegisterEmbed(model.ProviderTypeAzure, createAzureEmbedFactory)
}
