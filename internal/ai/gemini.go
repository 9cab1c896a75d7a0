package ai

import (
	"context"
	"errors"
	"strings"

	"github.com/xxxsen/ragkb/internal/model"
	"google.golang.org/genai"
)

const (
	geminiBatchSize     = 100
	geminiMaxInputChars = 2048 * 4
)

// geminiEmbedProvider uses the Gemini API with an API key, or Vertex AI when
// a region (location) is configured with the project id in Deployment.
type geminiEmbedProvider struct {
	*embedCore
	clientCfg *genai.ClientConfig
}

func (p *geminiEmbedProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return p.embed(ctx, texts, p.call)
}

func (p *geminiEmbedProvider) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	return p.embedOne(ctx, text, p.call)
}

func (p *geminiEmbedProvider) call(ctx context.Context, batch []string) ([][]float32, error) {
	client, err := genai.NewClient(ctx, p.clientCfg)
	if err != nil {
		return nil, &ConfigurationError{Provider: p.name, Msg: "create client", Err: err}
	}
	contents := make([]*genai.Content, 0, len(batch))
	for _, text := range batch {
		contents = append(contents, &genai.Content{Parts: []*genai.Part{{Text: text}}})
	}
	dims := int32(p.dimensions)
	resp, err := client.Models.EmbedContent(ctx, p.model, contents, &genai.EmbedContentConfig{
		TaskType:             string(TaskTypeFrom(ctx)),
		OutputDimensionality: &dims,
	})
	if err != nil {
		return nil, mapGeminiError(p.name, err)
	}
	out := make([][]float32, 0, len(resp.Embeddings))
	for _, item := range resp.Embeddings {
		if item == nil {
			return nil, &APIError{Provider: p.name, Msg: "empty embedding returned"}
		}
		out = append(out, item.Values)
	}
	return out, nil
}

func mapGeminiError(provider string, err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(provider, apiErr.Code, nil, apiErr.Message)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return classifyStatus(provider, apiErrPtr.Code, nil, apiErrPtr.Message)
	}
	return &APIError{Provider: provider, Msg: "request failed", Err: err}
}

func createGeminiEmbedFactory(args interface{}) (IEmbedProvider, error) {
	cfg, err := decodeArgs(model.ProviderTypeGemini, args, false)
	if err != nil {
		return nil, err
	}
	core := newEmbedCore(model.ProviderTypeGemini, cfg, geminiBatchSize, geminiMaxInputChars)
	clientCfg := &genai.ClientConfig{
		HTTPClient: core.httpClient(),
	}
	project := strings.TrimSpace(cfg.Deployment)
	location := strings.TrimSpace(cfg.Region)
	switch {
	case project != "" && location != "":
		clientCfg.Backend = genai.BackendVertexAI
		clientCfg.Project = project
		clientCfg.Location = location
	case cfg.APIKey != "":
		clientCfg.Backend = genai.BackendGeminiAPI
		clientCfg.APIKey = cfg.APIKey
	default:
		return nil, newConfigError(model.ProviderTypeGemini, "api key, or vertex project and region, is required")
	}
	if ep := strings.TrimSpace(cfg.Endpoint); ep != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: ep}
	}
	return &geminiEmbedProvider{
		embedCore: core,
		clientCfg: clientCfg,
	}, nil
}

func init() {
	RegisterEmbed(model.ProviderTypeGemini, createGeminiEmbedFactory)
}
