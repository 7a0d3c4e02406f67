package chat

import (
	"context"
	"errors"

	"github.com/m-mizutani/bizartvisor/pkg/adapter"
	"github.com/m-mizutani/bizartvisor/pkg/model"
	"github.com/m-mizutani/bizartvisor/pkg/repository"
	"github.com/m-mizutani/bizartvisor/pkg/tool"
	"github.com/m-mizutani/bizartvisor/pkg/utils/keylock"
	"github.com/m-mizutani/goerr/v2"
)

const defaultTopK = 5

// Retriever searches the knowledge collection. It never fails; an unavailable
// index yields no chunks.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) []*model.ScoredChunk
}

// Service holds dependencies shared by every Assistant. It is immutable after
// New and safe for concurrent use.
type Service struct {
	models    *adapter.Models
	history   repository.HistoryStore
	retriever Retriever
	registry  *tool.Registry
	locks     *keylock.Locker
	topK      int
}

type Option func(*Service)

func WithRetriever(r Retriever) Option {
	return func(s *Service) {
		s.retriever = r
	}
}

// WithRegistry sets tools offered to the model in agent mode. The registry
// must already be initialized.
func WithRegistry(r *tool.Registry) Option {
	return func(s *Service) {
		s.registry = r
	}
}

func WithTopK(k int) Option {
	return func(s *Service) {
		if k > 0 {
			s.topK = k
		}
	}
}

func New(models *adapter.Models, history repository.HistoryStore, opts ...Option) *Service {
	s := &Service{
		models:   models,
		history:  history,
		registry: tool.New(),
		locks:    keylock.New(),
		topK:     defaultTopK,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ModelNames returns selectable model names in configuration order
func (s *Service) ModelNames() []string {
	return s.models.Names()
}

// ListSessions returns stored session IDs, most recently updated first
func (s *Service) ListSessions(ctx context.Context) ([]model.SessionID, error) {
	ids, err := s.history.ListSessions(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list sessions")
	}
	return ids, nil
}

// GetSession returns the turns of a session. An unknown session is empty.
func (s *Service) GetSession(ctx context.Context, id model.SessionID) ([]*model.Turn, error) {
	turns, err := s.history.List(ctx, id)
	if err != nil {
		if errors.Is(err, model.ErrSessionNotFound) {
			return []*model.Turn{}, nil
		}
		return nil, goerr.Wrap(err, "failed to get session", goerr.V("session_id", id))
	}
	if turns == nil {
		turns = []*model.Turn{}
	}
	return turns, nil
}

// NewAssistant creates per-client conversation state. An empty modelName
// selects the default model; an empty or sentinel sessionID starts a new
// thread.
func (s *Service) NewAssistant(modelName string, sessionID model.SessionID) (*Assistant, error) {
	a := &Assistant{svc: s, modelName: s.models.Default()}
	if modelName != "" {
		if err := a.SelectModel(modelName); err != nil {
			return nil, err
		}
	}
	a.AssignSession(sessionID)
	return a, nil
}
