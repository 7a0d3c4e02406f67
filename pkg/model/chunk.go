package model

import (
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
)

type ChunkID string

// NewChunkID generates a new unique ChunkID
func NewChunkID() ChunkID {
	return ChunkID(uuid.New().String())
}

// Chunk is a bounded slice of ingested text stored in the vector index
type Chunk struct {
	ID            ChunkID            `json:"id" firestore:"id"`
	SourceID      string             `json:"source_id" firestore:"source_id"`
	Text          string             `json:"text" firestore:"text"`
	Embedding     firestore.Vector32 `json:"-" firestore:"embedding"`
	CreatedAt     time.Time          `json:"created_at" firestore:"created_at"`
	ContextPrefix string             `json:"context_prefix,omitempty" firestore:"context_prefix,omitempty"`
}

// ScoredChunk is a retrieval hit. Score is a similarity where higher is closer.
type ScoredChunk struct {
	*Chunk
	Score float64
}
