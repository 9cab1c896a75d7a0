package model

type ChunkPosition string

const (
	ChunkPositionStart  ChunkPosition = "start"
	ChunkPositionMiddle ChunkPosition = "middle"
	ChunkPositionEnd    ChunkPosition = "end"
	ChunkPositionOnly   ChunkPosition = "only"
)

type ChunkMetadata struct {
	Position ChunkPosition `json:"position"`
}

type Chunk struct {
	ID         string        `json:"id"`
	DocumentID string        `json:"document_id"`
	ProviderID string        `json:"provider_id"`
	ChunkIndex int           `json:"chunk_index"`
	Content    string        `json:"content"`
	TokenCount int           `json:"token_count"`
	Embedding  []float32     `json:"-"`
	EmbeddedAt int64         `json:"embedded_at"`
	Metadata   ChunkMetadata `json:"metadata"`
}

func (c *Chunk) IsEmbedded() bool {
	return c != nil && c.ProviderID != "" && len(c.Embedding) > 0
}

// ChunkNeighbor is a nearest-neighbour candidate returned by the vector store.
type ChunkNeighbor struct {
	Chunk    Chunk
	Distance float64
}
