package chat

import (
	"context"
	"strings"

	"github.com/m-mizutani/bizartvisor/pkg/model"
)

type EventType int

const (
	// EventToken carries a piece of the answer
	EventToken EventType = iota
	// EventProgress carries a notice such as a tool being executed. It is not
	// part of the answer.
	EventProgress
)

type Event struct {
	Type EventType
	Text string
}

// Stream delivers one response. Events is closed when the producer finishes;
// Wait and Err report how it finished.
type Stream struct {
	sessionID model.SessionID
	events    chan *Event
	done      chan struct{}
	cancel    context.CancelFunc
	err       error
}

func newStream(sessionID model.SessionID, cancel context.CancelFunc) *Stream {
	return &Stream{
		sessionID: sessionID,
		events:    make(chan *Event),
		done:      make(chan struct{}),
		cancel:    cancel,
	}
}

func (s *Stream) SessionID() model.SessionID {
	return s.sessionID
}

func (s *Stream) Events() <-chan *Event {
	return s.events
}

// Close cancels generation and waits for the producer to stop. A cancelled
// response is not persisted.
func (s *Stream) Close() {
	s.cancel()
	for range s.events {
	}
	<-s.done
}

// Wait blocks until the producer finishes and returns its error. Events must
// be drained concurrently or beforehand.
func (s *Stream) Wait() error {
	<-s.done
	return s.err
}

// Err returns the terminal error, or nil while the stream is still running
func (s *Stream) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// ReadAll drains the stream and returns the concatenated answer tokens
func (s *Stream) ReadAll() (string, error) {
	var b strings.Builder
	for ev := range s.events {
		if ev.Type == EventToken {
			b.WriteString(ev.Text)
		}
	}
	return b.String(), s.Wait()
}

func (s *Stream) emit(ctx context.Context, ev *Event) error {
	select {
	case s.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Stream) finish(err error) {
	s.err = err
	close(s.events)
	close(s.done)
	s.cancel()
}
