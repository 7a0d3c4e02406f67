package repository_test

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/bizartvisor/pkg/model"
	"github.com/m-mizutani/bizartvisor/pkg/repository"
	"github.com/m-mizutani/gt"
)

func setupFirestore(t *testing.T) *repository.Firestore {
	projectID := os.Getenv("TEST_FIRESTORE_PROJECT_ID")
	databaseID := os.Getenv("TEST_FIRESTORE_DATABASE_ID")

	if projectID == "" || databaseID == "" {
		t.Skip("TEST_FIRESTORE_PROJECT_ID and TEST_FIRESTORE_DATABASE_ID must be set to run Firestore tests")
	}

	repo, err := repository.New(context.Background(), projectID, databaseID)
	gt.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	return repo
}

func TestFirestoreHistory(t *testing.T) {
	repo := setupFirestore(t)
	ctx := context.Background()
	sessionID := model.NewSessionID()

	gt.NoError(t, repo.Append(ctx, sessionID,
		&model.Turn{Role: model.RoleHuman, Content: "question", CreatedAt: time.Now()},
		&model.Turn{Role: model.RoleAssistant, Content: "answer", CreatedAt: time.Now()},
	))

	turns, err := repo.List(ctx, sessionID)
	gt.NoError(t, err)
	gt.A(t, turns).Length(2)
	gt.Equal(t, turns[1].Content, "answer")

	ids, err := repo.ListSessions(ctx)
	gt.NoError(t, err)
	gt.A(t, ids).Longer(0)
}

func TestFirestoreVectorIndex(t *testing.T) {
	repo := setupFirestore(t)
	ctx := context.Background()
	collection := "test_chunks"

	err := repo.CreateCollection(ctx, model.Collection{Name: collection, Dimension: 768, Metric: model.MetricCosine})
	if err != nil && !errors.Is(err, repository.ErrCollectionExists) {
		t.Fatal("failed to create collection", err)
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	source := "firestore-test-" + string(model.NewChunkID())
	var chunks []*model.Chunk
	for i := range 3 {
		vec := make(firestore.Vector32, 768)
		for j := range vec {
			vec[j] = float32(i)/10.0 + float32(rng.Float64()*0.01)
		}
		chunks = append(chunks, &model.Chunk{
			ID:        model.NewChunkID(),
			SourceID:  source,
			Text:      "chunk",
			Embedding: vec,
			CreatedAt: time.Now(),
		})
	}
	gt.NoError(t, repo.Upsert(ctx, collection, chunks))

	ids, err := repo.FindBySource(ctx, collection, source)
	gt.NoError(t, err)
	gt.A(t, ids).Length(3)

	results, err := repo.Search(ctx, collection, chunks[0].Embedding, 2)
	gt.NoError(t, err)
	if len(results) > 2 {
		t.Errorf("expected at most 2 results, got %d", len(results))
	}

	gt.NoError(t, repo.Delete(ctx, collection, ids))
}
