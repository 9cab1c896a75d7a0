package ai

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/xxxsen/ragkb/internal/model"
)

const (
	defaultBedrockRegion = "us-east-1"
	bedrockMaxInputChars = 8192 * 4
	bedrockCohereBatch   = 96
)

type bedrockInvoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

type titanEmbedRequest struct {
	InputText  string `json:"inputText"`
	Dimensions int    `json:"dimensions,omitempty"`
	Normalize  bool   `json:"normalize"`
}

type titanEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

type bedrockCohereRequest struct {
	Texts     []string `json:"texts"`
	InputType string   `json:"input_type"`
	Truncate  string   `json:"truncate"`
}

type bedrockCohereResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// bedrockEmbedProvider supports the Titan and Cohere embedding families on
// Bedrock. Titan takes one text per call.
type bedrockEmbedProvider struct {
	*embedCore
	client bedrockInvoker
	cohere bool
}

func (p *bedrockEmbedProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return p.embed(ctx, texts, p.call)
}

func (p *bedrockEmbedProvider) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	return p.embedOne(ctx, text, p.call)
}

func (p *bedrockEmbedProvider) call(ctx context.Context, batch []string) ([][]float32, error) {
	if p.cohere {
		var out bedrockCohereResponse
		req := bedrockCohereRequest{Texts: batch, InputType: cohereInputType(TaskTypeFrom(ctx)), Truncate: "END"}
		if err := p.invoke(ctx, req, &out); err != nil {
			return nil, err
		}
		return out.Embeddings, nil
	}
	res := make([][]float32, 0, len(batch))
	for _, text := range batch {
		var out titanEmbedResponse
		if err := p.invoke(ctx, titanEmbedRequest{InputText: text, Dimensions: p.dimensions, Normalize: true}, &out); err != nil {
			return nil, err
		}
		res = append(res, out.Embedding)
	}
	return res, nil
}

func (p *bedrockEmbedProvider) invoke(ctx context.Context, body interface{}, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return &APIError{Provider: p.name, Msg: "encode request", Err: err}
	}
	resp, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(p.model),
		Body:        data,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return mapBedrockError(p.name, err)
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return &APIError{Provider: p.name, Msg: "decode response", Err: err}
	}
	return nil
}

func mapBedrockError(provider string, err error) error {
	var throttled *types.ThrottlingException
	if errors.As(err, &throttled) {
		return &RateLimitError{Provider: provider, Err: err}
	}
	var denied *types.AccessDeniedException
	if errors.As(err, &denied) {
		return &ConfigurationError{Provider: provider, Msg: "credential rejected", Err: err}
	}
	var notFound *types.ResourceNotFoundException
	if errors.As(err, &notFound) {
		return &ConfigurationError{Provider: provider, Msg: "model not found", Err: err}
	}
	var invalid *types.ValidationException
	if errors.As(err, &invalid) {
		return &ConfigurationError{Provider: provider, Msg: "request rejected", Err: err}
	}
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		return &APIError{Provider: provider, StatusCode: respErr.HTTPStatusCode(), Msg: "request failed", Err: err}
	}
	return &APIError{Provider: provider, Msg: "request failed", Err: err}
}

func createBedrockEmbedFactory(args interface{}) (IEmbedProvider, error) {
	cfg, err := decodeArgs(model.ProviderTypeBedrock, args, false)
	if err != nil {
		return nil, err
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = defaultBedrockRegion
	}
	cohere := strings.HasPrefix(cfg.Model, "cohere.")
	batch := 1
	if cohere {
		batch = bedrockCohereBatch
	}
	core := newEmbedCore(model.ProviderTypeBedrock, cfg, batch, bedrockMaxInputChars)
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
		awsconfig.WithHTTPClient(core.httpClient()),
	}
	if cfg.APIKey != "" || cfg.APISecret != "" {
		if cfg.APIKey == "" || cfg.APISecret == "" {
			return nil, newConfigError(model.ProviderTypeBedrock, "access key and secret must be set together")
		}
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.APIKey, cfg.APISecret, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, &ConfigurationError{Provider: model.ProviderTypeBedrock, Msg: "load aws config", Err: err}
	}
	endpoint := strings.TrimSpace(cfg.Endpoint)
	client := bedrockruntime.NewFromConfig(awsCfg, func(o *bedrockruntime.Options) {
		// retries are handled by embedCore
		o.RetryMaxAttempts = 1
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return &bedrockEmbedProvider{
		embedCore: core,
		client:    client,
		cohere:    cohere,
	}, nil
}

func init() {
	RegisterEmbed(model.ProviderTypeBedrock, createBedrockEmbedFactory)
}
