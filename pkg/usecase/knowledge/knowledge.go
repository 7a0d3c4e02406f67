// Package knowledge maintains the vector collection: chunking, embedding and
// replacing a source's chunks on ingest, and similarity retrieval.
package knowledge

import (
	"context"
	"errors"

	"github.com/m-mizutani/bizartvisor/pkg/adapter"
	"github.com/m-mizutani/bizartvisor/pkg/chunker"
	"github.com/m-mizutani/bizartvisor/pkg/model"
	"github.com/m-mizutani/bizartvisor/pkg/policy"
	"github.com/m-mizutani/bizartvisor/pkg/repository"
	"github.com/m-mizutani/bizartvisor/pkg/utils/keylock"
	"github.com/m-mizutani/bizartvisor/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

const defaultEmbedConcurrency = 4

// UseCase provides ingestion and retrieval over one collection
type UseCase struct {
	index      repository.VectorIndex
	embedder   adapter.Embedder
	chunker    *chunker.Chunker
	collection model.Collection

	uploadPolicy     *policy.Upload
	storage          adapter.Storage
	embedConcurrency int
	sourceLocks      *keylock.Locker
}

// Option is a functional option for UseCase
type Option func(*UseCase)

// WithUploadPolicy sets the policy evaluated by IngestFile
func WithUploadPolicy(p *policy.Upload) Option {
	return func(uc *UseCase) {
		uc.uploadPolicy = p
	}
}

// WithStorage archives raw uploaded files
func WithStorage(s adapter.Storage) Option {
	return func(uc *UseCase) {
		uc.storage = s
	}
}

// WithEmbedConcurrency bounds parallel embedding calls
func WithEmbedConcurrency(n int) Option {
	return func(uc *UseCase) {
		if n > 0 {
			uc.embedConcurrency = n
		}
	}
}

// New creates a knowledge UseCase instance
func New(
	index repository.VectorIndex,
	embedder adapter.Embedder,
	collection model.Collection,
	opts ...Option,
) *UseCase {
	uc := &UseCase{
		index:            index,
		embedder:         embedder,
		collection:       collection,
		embedConcurrency: defaultEmbedConcurrency,
		sourceLocks:      keylock.New(),
	}

	for _, opt := range opts {
		opt(uc)
	}
	uc.chunker = chunker.New(embedder, chunker.WithEmbedConcurrency(uc.embedConcurrency))

	return uc
}

// Collection returns the managed collection definition
func (uc *UseCase) Collection() model.Collection {
	return uc.collection
}

// EnsureCollection creates the collection when it does not exist yet. Any
// failure other than "already exists" is returned.
func (uc *UseCase) EnsureCollection(ctx context.Context) error {
	err := uc.index.CreateCollection(ctx, uc.collection)
	if errors.Is(err, repository.ErrCollectionExists) {
		logging.From(ctx).Debug("collection already exists", "collection", uc.collection.Name)
		return nil
	}
	if err != nil {
		return goerr.Wrap(err, "failed to ensure collection", goerr.V("collection", uc.collection.Name))
	}

	logging.From(ctx).Info("collection created", "collection", uc.collection.Name, "dimension", uc.collection.Dimension)
	return nil
}
