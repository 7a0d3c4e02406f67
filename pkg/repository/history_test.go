package repository_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/m-mizutani/bizartvisor/pkg/model"
	"github.com/m-mizutani/bizartvisor/pkg/repository"
	"github.com/m-mizutani/gt"
)

func testHistoryStore(t *testing.T, store repository.HistoryStore) {
	ctx := context.Background()
	s1 := model.NewSessionID()
	s2 := model.NewSessionID()

	t.Run("unknown session is empty", func(t *testing.T) {
		turns, err := store.List(ctx, "no-such-session")
		gt.NoError(t, err)
		gt.A(t, turns).Length(0)
	})

	t.Run("append keeps order", func(t *testing.T) {
		now := time.Now()
		gt.NoError(t, store.Append(ctx, s1,
			&model.Turn{Role: model.RoleHuman, Content: "hello", CreatedAt: now},
			&model.Turn{Role: model.RoleAssistant, Content: "hi there", CreatedAt: now},
		))
		gt.NoError(t, store.Append(ctx, s2,
			&model.Turn{Role: model.RoleHuman, Content: "other", CreatedAt: now},
		))
		gt.NoError(t, store.Append(ctx, s1,
			&model.Turn{Role: model.RoleHuman, Content: "again", CreatedAt: now},
		))

		turns, err := store.List(ctx, s1)
		gt.NoError(t, err)
		gt.A(t, turns).Length(3)
		gt.Equal(t, turns[0].Content, "hello")
		gt.Equal(t, turns[0].Role, model.RoleHuman)
		gt.Equal(t, turns[1].Role, model.RoleAssistant)
		gt.Equal(t, turns[2].Content, "again")
	})

	t.Run("sessions ordered by last update", func(t *testing.T) {
		ids, err := store.ListSessions(ctx)
		gt.NoError(t, err)
		gt.A(t, ids).Length(2)
		gt.Equal(t, ids[0], s1)
		gt.Equal(t, ids[1], s2)
	})
}

func TestMemoryHistory(t *testing.T) {
	testHistoryStore(t, repository.NewMemoryHistory())
}

func TestSQLiteHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	store, err := repository.NewSQLiteHistory(context.Background(), path)
	gt.NoError(t, err)
	defer store.Close()

	testHistoryStore(t, store)
}

func TestSQLiteHistoryPersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.db")

	store, err := repository.NewSQLiteHistory(ctx, path)
	gt.NoError(t, err)
	gt.NoError(t, store.Append(ctx, "s-1", &model.Turn{Role: model.RoleHuman, Content: "kept", CreatedAt: time.Now()}))
	gt.NoError(t, store.Close())

	reopened, err := repository.NewSQLiteHistory(ctx, path)
	gt.NoError(t, err)
	defer reopened.Close()

	turns, err := reopened.List(ctx, "s-1")
	gt.NoError(t, err)
	gt.A(t, turns).Length(1)
	gt.Equal(t, turns[0].Content, "kept")
}

func TestMemoryHistoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryHistory()
	gt.NoError(t, store.Append(ctx, "s", &model.Turn{Role: model.RoleHuman, Content: "original"}))

	turns, err := store.List(ctx, "s")
	gt.NoError(t, err)
	turns[0].Content = "mutated"

	again, err := store.List(ctx, "s")
	gt.NoError(t, err)
	gt.Equal(t, again[0].Content, "original")
}
