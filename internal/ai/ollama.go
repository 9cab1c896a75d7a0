package ai

import (
	"context"
	"strings"

	"github.com/xxxsen/ragkb/internal/model"
)

const (
	defaultOllamaBaseURL = "http://localhost:11434"
	ollamaBatchSize      = 32
	ollamaMaxInputChars  = 2048 * 4
)

type ollamaEmbedRequest struct {
	Model    string   `json:"model"`
	Input    []string `json:"input"`
	Truncate bool     `json:"truncate"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// ollamaEmbedProvider talks to a local Ollama server; no credential is needed.
type ollamaEmbedProvider struct {
	*embedCore
	baseURL string
}

func (p *ollamaEmbedProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return p.embed(ctx, texts, p.call)
}

func (p *ollamaEmbedProvider) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	return p.embedOne(ctx, text, p.call)
}

func (p *ollamaEmbedProvider) call(ctx context.Context, batch []string) ([][]float32, error) {
	var out ollamaEmbedResponse
	req := ollamaEmbedRequest{Model: p.model, Input: batch, Truncate: true}
	if err := postJSON(ctx, p.httpClient(), p.name, p.baseURL+"/api/embed", nil, req, &out); err != nil {
		return nil, err
	}
	return out.Embeddings, nil
}

func createOllamaEmbedFactory(args interface{}) (IEmbedProvider, error) {
	cfg, err := decodeArgs(model.ProviderTypeOllama, args, false)
	if err != nil {
		return nil, err
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}
	return &ollamaEmbedProvider{
		embedCore: newEmbedCore(model.ProviderTypeOllama, cfg, ollamaBatchSize, ollamaMaxInputChars),
		baseURL:   baseURL,
	}, nil
}

func init() {
	RegisterEmbed(model.ProviderTypeOllama, createOllamaEmbedFactory)
}
