package model

const (
	ProviderTypeOpenAI      = "openai"
	ProviderTypeAzure       = "azure"
	ProviderTypeCohere      = "cohere"
	ProviderTypeOllama      = "ollama"
	ProviderTypeHuggingFace = "huggingface"
	ProviderTypeBedrock     = "bedrock"
	ProviderTypeGemini      = "gemini"
)

const (
	DefaultChunkSize    = 500
	DefaultChunkOverlap = 50
)

// Provider is the configuration of one embedding backend. Dimensions never
// change once the record exists.
type Provider struct {
	ID                  string  `json:"id"`
	Name                string  `json:"name"`
	Type                string  `json:"type"`
	Model               string  `json:"model"`
	Dimensions          int     `json:"dimensions"`
	SimilarityThreshold float64 `json:"similarity_threshold"`
	ChunkSize           int     `json:"chunk_size"`
	ChunkOverlap        int     `json:"chunk_overlap"`
	APIKey              string  `json:"api_key,omitempty"`
	APISecret           string  `json:"api_secret,omitempty"`
	Endpoint            string  `json:"endpoint,omitempty"`
	Region              string  `json:"region,omitempty"`
	APIVersion          string  `json:"api_version,omitempty"`
	Deployment          string  `json:"deployment,omitempty"`
	RequestsPerSecond   float64 `json:"requests_per_second,omitempty"`
	Enabled             bool    `json:"enabled"`
	Ctime               int64   `json:"ctime"`
	Mtime               int64   `json:"mtime"`
}

func (p *Provider) EffectiveChunkSize() int {
	if p == nil || p.ChunkSize <= 0 {
		return DefaultChunkSize
	}
	return p.ChunkSize
}

func (p *Provider) EffectiveChunkOverlap() int {
	if p == nil || p.ChunkOverlap < 0 {
		return DefaultChunkOverlap
	}
	return p.ChunkOverlap
}

// Redacted returns a copy without credentials, safe to log or return over the API.
func (p Provider) Redacted() Provider {
	if p.APIKey != "" {
		p.APIKey = "***"
	}
	if p.APISecret != "" {
		p.APISecret = "***"
	}
	return p
}
