package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/xxxsen/ragkb/internal/model"
)

type TaskType string

const (
	TaskTypeDocument TaskType = "RETRIEVAL_DOCUMENT"
	TaskTypeQuery    TaskType = "RETRIEVAL_QUERY"
)

type taskTypeKey struct{}

// WithTaskType tags embedding calls made with ctx as document or query embeddings.
func WithTaskType(ctx context.Context, t TaskType) context.Context {
	return context.WithValue(ctx, taskTypeKey{}, t)
}

func TaskTypeFrom(ctx context.Context) TaskType {
	if t, ok := ctx.Value(taskTypeKey{}).(TaskType); ok && t != "" {
		return t
	}
	return TaskTypeDocument
}

// IEmbedProvider is the adapter contract every embedding backend implements.
// Embed preserves input order and returns one vector of Dimensions() per text.
type IEmbedProvider interface {
	Name() string
	Model() string
	Dimensions() int
	MaxInputChars() int
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// ProviderArgs is the generic adapter configuration, decoded by each factory.
type ProviderArgs struct {
	Model             string  `json:"model"`
	Dimensions        int     `json:"dimensions"`
	APIKey            string  `json:"api_key"`
	APISecret         string  `json:"api_secret"`
	Endpoint          string  `json:"endpoint"`
	Region            string  `json:"region"`
	APIVersion        string  `json:"api_version"`
	Deployment        string  `json:"deployment"`
	RequestsPerSecond float64 `json:"requests_per_second"`
	MaxInputChars     int     `json:"max_input_chars"`
	TimeoutSeconds    int     `json:"timeout_seconds"`
	MaxRetries        int     `json:"max_retries"`
	RetryDelayMillis  int     `json:"retry_delay_ms"`
}

// RuntimeOptions are process-wide adapter knobs that do not live on the provider record.
type RuntimeOptions struct {
	TimeoutSeconds   int
	MaxRetries       int
	RetryDelayMillis int
}

func ArgsFromProvider(p *model.Provider, rt RuntimeOptions) *ProviderArgs {
	return &ProviderArgs{
		Model:             strings.TrimSpace(p.Model),
		Dimensions:        p.Dimensions,
		APIKey:            strings.TrimSpace(p.APIKey),
		APISecret:         strings.TrimSpace(p.APISecret),
		Endpoint:          strings.TrimSpace(p.Endpoint),
		Region:            strings.TrimSpace(p.Region),
		APIVersion:        strings.TrimSpace(p.APIVersion),
		Deployment:        strings.TrimSpace(p.Deployment),
		RequestsPerSecond: p.RequestsPerSecond,
		TimeoutSeconds:    rt.TimeoutSeconds,
		MaxRetries:        rt.MaxRetries,
		RetryDelayMillis:  rt.RetryDelayMillis,
	}
}

type EmbedFactory func(args interface{}) (IEmbedProvider, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]EmbedFactory{}
)

func RegisterEmbed(name string, factory EmbedFactory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	registryMu.Lock()
	registry[key] = factory
	registryMu.Unlock()
}

// NewEmbedProvider builds the adapter registered for name. Unknown types and
// incomplete configuration fail here, before any network call.
func NewEmbedProvider(name string, args interface{}) (IEmbedProvider, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return nil, newConfigError("unknown", "provider type is required")
	}
	registryMu.RLock()
	factory := registry[key]
	registryMu.RUnlock()
	if factory == nil {
		return nil, newConfigError(key, "unsupported provider type")
	}
	return factory(args)
}

func RegisteredTypes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func decodeConfig(args interface{}, dst interface{}) error {
	if args == nil {
		return fmt.Errorf("embed provider config is required")
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode embed provider config: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode embed provider config: %w", err)
	}
	return nil
}

// decodeArgs decodes and checks the fields every adapter needs.
func decodeArgs(provider string, args interface{}, needKey bool) (*ProviderArgs, error) {
	cfg := &ProviderArgs{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, &ConfigurationError{Provider: provider, Msg: "invalid config", Err: err}
	}
	cfg.Model = strings.TrimSpace(cfg.Model)
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	if cfg.Model == "" {
		return nil, newConfigError(provider, "model is required")
	}
	if cfg.Dimensions <= 0 {
		return nil, newConfigError(provider, "dimensions must be positive")
	}
	if needKey && cfg.APIKey == "" {
		return nil, newConfigError(provider, "api key is required")
	}
	return cfg, nil
}
