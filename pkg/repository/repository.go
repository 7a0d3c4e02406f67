package repository

import (
	"context"

	"github.com/m-mizutani/bizartvisor/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

// ErrCollectionExists is returned by CreateCollection when the collection
// (or its vector index) is already present
var ErrCollectionExists = goerr.New("collection already exists")

// VectorIndex persists embedded chunks and serves nearest-neighbour search
type VectorIndex interface {
	// CreateCollection creates the named collection. It returns
	// ErrCollectionExists if it is already there.
	CreateCollection(ctx context.Context, col model.Collection) error

	// Upsert writes chunks in one batch, replacing chunks with the same ID
	Upsert(ctx context.Context, collection string, chunks []*model.Chunk) error

	// Delete removes chunks by ID. Unknown IDs are ignored.
	Delete(ctx context.Context, collection string, ids []model.ChunkID) error

	// FindBySource returns IDs of chunks whose source ID contains sourceID
	FindBySource(ctx context.Context, collection, sourceID string) ([]model.ChunkID, error)

	// Search returns up to limit chunks ordered by descending similarity
	Search(ctx context.Context, collection string, vector []float32, limit int) ([]*model.ScoredChunk, error)
}

// HistoryStore keeps conversation turns per session
type HistoryStore interface {
	// Append adds turns to the end of the session, creating it when missing
	Append(ctx context.Context, sessionID model.SessionID, turns ...*model.Turn) error

	// List returns turns of the session in order. Unknown sessions return an empty slice.
	List(ctx context.Context, sessionID model.SessionID) ([]*model.Turn, error)

	// ListSessions returns session IDs, most recently updated first
	ListSessions(ctx context.Context) ([]model.SessionID, error)
}
