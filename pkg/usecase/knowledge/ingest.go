package knowledge

import (
	"context"
	"errors"
	"io"
	"maps"
	"slices"
	"time"
	"unicode/utf8"

	"github.com/m-mizutani/bizartvisor/pkg/model"
	"github.com/m-mizutani/bizartvisor/pkg/policy"
	"github.com/m-mizutani/bizartvisor/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/sync/errgroup"
)

// IngestInput is one source's full content
type IngestInput struct {
	Content       string
	SourceID      string
	ContextPrefix string
	Splitter      model.SplitterConfig
}

// IngestResult summarizes an ingest
type IngestResult struct {
	SourceID string `json:"source_id"`
	Chunks   int    `json:"chunks"`
	Deleted  int    `json:"deleted"`
}

// Ingest replaces all chunks of input.SourceID with chunks of input.Content.
//
// Embedding happens before the index is touched. The delete and the upsert
// are separate index calls, so a failure between them leaves the source
// without chunks until it is ingested again. Source matching is a substring
// match: ingesting "a.txt" also replaces chunks of "data.txt".
func (uc *UseCase) Ingest(ctx context.Context, input IngestInput) (*IngestResult, error) {
	if input.SourceID == "" {
		return nil, goerr.Wrap(model.ErrConfiguration, "source ID is required")
	}
	splitter := input.Splitter
	if splitter.Kind == "" {
		splitter = model.DefaultSplitter()
	}

	unlock, err := uc.sourceLocks.Lock(ctx, input.SourceID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to lock source", goerr.V("source_id", input.SourceID))
	}
	defer unlock()

	texts, err := uc.chunker.Split(ctx, input.Content, splitter)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to split content", goerr.V("source_id", input.SourceID))
	}

	now := time.Now()
	chunks := make([]*model.Chunk, len(texts))
	for i, text := range texts {
		if input.ContextPrefix != "" {
			text = input.ContextPrefix + "\n\n" + text
		}
		chunks[i] = &model.Chunk{
			ID:            model.NewChunkID(),
			SourceID:      input.SourceID,
			Text:          text,
			CreatedAt:     now,
			ContextPrefix: input.ContextPrefix,
		}
	}

	if err := uc.embedChunks(ctx, chunks); err != nil {
		return nil, err
	}

	stale, err := uc.index.FindBySource(ctx, uc.collection.Name, input.SourceID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to find existing chunks", goerr.V("source_id", input.SourceID))
	}
	if err := uc.index.Delete(ctx, uc.collection.Name, stale); err != nil {
		return nil, goerr.Wrap(err, "failed to delete existing chunks", goerr.V("source_id", input.SourceID))
	}
	if err := uc.index.Upsert(ctx, uc.collection.Name, chunks); err != nil {
		return nil, goerr.Wrap(err, "failed to upsert chunks", goerr.V("source_id", input.SourceID))
	}

	result := &IngestResult{
		SourceID: input.SourceID,
		Chunks:   len(chunks),
		Deleted:  len(stale),
	}
	logging.From(ctx).Info("ingested source", "source_id", result.SourceID, "chunks", result.Chunks, "deleted", result.Deleted)
	return result, nil
}

func (uc *UseCase) embedChunks(ctx context.Context, chunks []*model.Chunk) error {
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(uc.embedConcurrency)

	for _, c := range chunks {
		eg.Go(func() error {
			vec, err := uc.embedder.Embed(ctx, c.Text)
			if err != nil {
				return goerr.Wrap(err, "failed to embed chunk", goerr.V("source_id", c.SourceID))
			}
			if len(vec) != uc.collection.Dimension {
				return goerr.New("embedding dimension mismatch",
					goerr.V("expected", uc.collection.Dimension), goerr.V("actual", len(vec)))
			}
			c.Embedding = vec
			return nil
		})
	}
	return eg.Wait()
}

// FileInput is an uploaded file
type FileInput struct {
	Name          string
	Data          []byte
	ContextPrefix string
	Splitter      model.SplitterConfig
}

// IngestFile checks the upload policy, archives the raw bytes when storage is
// configured and ingests the content with the file name as source ID
func (uc *UseCase) IngestFile(ctx context.Context, input FileInput) (*IngestResult, error) {
	if input.Name == "" {
		return nil, goerr.Wrap(model.ErrConfiguration, "file name is required")
	}

	if uc.uploadPolicy != nil {
		if err := uc.uploadPolicy.Evaluate(ctx, policy.NewUploadInput(input.Name, len(input.Data))); err != nil {
			return nil, err
		}
	}
	if !utf8.Valid(input.Data) {
		return nil, goerr.Wrap(model.ErrDisallowedFileType, "file is not valid UTF-8 text", goerr.V("name", input.Name))
	}

	if uc.storage != nil {
		if err := uc.storage.Put(ctx, archiveKey(input.Name), input.Data, "text/plain; charset=utf-8"); err != nil {
			return nil, goerr.Wrap(err, "failed to archive uploaded file", goerr.V("name", input.Name))
		}
	}

	return uc.Ingest(ctx, IngestInput{
		Content:       string(input.Data),
		SourceID:      input.Name,
		ContextPrefix: input.ContextPrefix,
		Splitter:      input.Splitter,
	})
}

func archiveKey(name string) string {
	return "sources/" + name
}

// ReingestArchived ingests a previously uploaded file again from the archive,
// e.g. with another splitter. The upload policy was applied when it was archived.
func (uc *UseCase) ReingestArchived(ctx context.Context, input FileInput) (*IngestResult, error) {
	if input.Name == "" {
		return nil, goerr.Wrap(model.ErrConfiguration, "file name is required")
	}
	if uc.storage == nil {
		return nil, goerr.Wrap(model.ErrConfiguration, "no archive storage configured")
	}

	r, err := uc.storage.Get(ctx, archiveKey(input.Name))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open archived file", goerr.V("name", input.Name))
	}
	defer func() { _ = r.Close() }()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read archived file", goerr.V("name", input.Name))
	}

	return uc.Ingest(ctx, IngestInput{
		Content:       string(data),
		SourceID:      input.Name,
		ContextPrefix: input.ContextPrefix,
		Splitter:      input.Splitter,
	})
}

// IngestPages ingests crawled pages keyed by URL. A failing page does not
// stop the others; failures are returned joined.
func (uc *UseCase) IngestPages(ctx context.Context, pages map[string]string, splitter model.SplitterConfig) ([]*IngestResult, error) {
	var (
		results []*IngestResult
		errs    []error
	)

	for _, url := range slices.Sorted(maps.Keys(pages)) {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}

		result, err := uc.Ingest(ctx, IngestInput{
			Content:  pages[url],
			SourceID: url,
			Splitter: splitter,
		})
		if err != nil {
			logging.From(ctx).Warn("failed to ingest page", "url", url, "error", err)
			errs = append(errs, err)
			continue
		}
		results = append(results, result)
	}

	return results, errors.Join(errs...)
}
