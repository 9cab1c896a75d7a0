package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// EmbeddingCache is one stored vector. ModelName scopes rows by backend,
// model and output size, see CacheModelName.
type EmbeddingCache struct {
	ModelName   string    `json:"model_name"`
	TaskType    string    `json:"task_type"`
	ContentHash string    `json:"content_hash"`
	Embedding   []float32 `json:"embedding"`
	Ctime       int64     `json:"ctime"`
}

func CacheModelName(backend, modelName string, dims int) string {
	return fmt.Sprintf("%s/%s@%d", backend, modelName, dims)
}

// ContentHash is the hex sha256 of the exact text sent to the backend.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
