package chat

import (
	"context"
	"sync"
	"time"

	"github.com/m-mizutani/bizartvisor/pkg/model"
	"github.com/m-mizutani/bizartvisor/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

// Assistant is the conversation state of one client: the selected model and
// the bound session. Responses for the same session are serialized across all
// assistants of a Service.
type Assistant struct {
	svc *Service

	mu        sync.Mutex
	modelName string
	sessionID model.SessionID
}

// RespondOptions selects the response mode
type RespondOptions struct {
	UseRAG   bool
	UseTools bool
}

// SelectModel switches the model used by subsequent responses
func (a *Assistant) SelectModel(name string) error {
	if _, err := a.svc.models.Get(name); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.modelName = name
	return nil
}

func (a *Assistant) ModelName() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.modelName
}

// AssignSession binds the assistant to id. An empty id or the new session
// sentinel mints a fresh ID. The bound ID is returned.
func (a *Assistant) AssignSession(id model.SessionID) model.SessionID {
	if id == "" || id == model.NewSessionSentinel {
		id = model.NewSessionID()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessionID = id
	return id
}

func (a *Assistant) SessionID() model.SessionID {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionID
}

// Respond starts generating an answer to input and returns its Stream. It
// waits while another response of the same session is in flight. The human
// and assistant turns are appended to history only when generation succeeds
// and the stream is not cancelled.
func (a *Assistant) Respond(ctx context.Context, input string, opts RespondOptions) (*Stream, error) {
	a.mu.Lock()
	modelName, sessionID := a.modelName, a.sessionID
	a.mu.Unlock()

	llm, err := a.svc.models.Get(modelName)
	if err != nil {
		return nil, err
	}
	if opts.UseTools && !llm.SupportsTools() {
		return nil, goerr.Wrap(model.ErrConfiguration, "model does not support tools", goerr.V("model", modelName))
	}

	unlock, err := a.svc.locks.Lock(ctx, string(sessionID))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to acquire session", goerr.V("session_id", sessionID))
	}

	history, err := a.svc.GetSession(ctx, sessionID)
	if err != nil {
		unlock()
		return nil, err
	}

	ctx = logging.WithAttrs(ctx, "session_id", sessionID, "model", modelName)
	ctx, cancel := context.WithCancel(ctx)
	stream := newStream(sessionID, cancel)

	r := &responder{
		svc:     a.svc,
		llm:     llm,
		stream:  stream,
		history: history,
		input:   input,
		opts:    opts,
	}

	go func() {
		defer unlock()
		stream.finish(r.run(ctx, sessionID))
	}()

	return stream, nil
}

func (r *responder) run(ctx context.Context, sessionID model.SessionID) error {
	startedAt := time.Now()
	answer, err := r.respond(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logging.From(ctx).Error("failed to generate response", "error", err)
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	now := time.Now().UTC()
	turns := []*model.Turn{
		{Role: model.RoleHuman, Content: r.input, CreatedAt: now},
		{Role: model.RoleAssistant, Content: answer, CreatedAt: now},
	}
	if err := r.svc.history.Append(ctx, sessionID, turns...); err != nil {
		return goerr.Wrap(err, "failed to save conversation", goerr.V("session_id", sessionID))
	}

	logging.From(ctx).Info("response completed",
		"rag", r.opts.UseRAG,
		"tools", r.opts.UseTools,
		"answer_bytes", len(answer),
		"duration", time.Since(startedAt),
	)
	return nil
}
