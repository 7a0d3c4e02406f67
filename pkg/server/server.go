// Package server exposes the chat, ingestion and crawl operations over HTTP
// for the web frontend.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/m-mizutani/bizartvisor/pkg/model"
	"github.com/m-mizutani/bizartvisor/pkg/usecase/chat"
	"github.com/m-mizutani/bizartvisor/pkg/usecase/knowledge"
	"github.com/m-mizutani/bizartvisor/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

const (
	defaultCrawlDepth    = 2
	defaultCrawlMaxLinks = 20
	maxUploadMemory      = 32 << 20
)

// Ingester stores uploaded files and crawled pages in the knowledge collection
type Ingester interface {
	IngestFile(ctx context.Context, input knowledge.FileInput) (*knowledge.IngestResult, error)
	IngestPages(ctx context.Context, pages map[string]string, splitter model.SplitterConfig) ([]*knowledge.IngestResult, error)
}

// Crawler collects text of a site
type Crawler interface {
	Crawl(ctx context.Context, startURL string, maxDepth, maxLinks int) (map[string]string, error)
}

type Server struct {
	chat          *chat.Service
	ingester      Ingester
	crawler       Crawler
	allowedOrigin string
	mux           *http.ServeMux
}

type Option func(*Server)

func WithIngester(i Ingester) Option {
	return func(s *Server) {
		s.ingester = i
	}
}

func WithCrawler(c Crawler) Option {
	return func(s *Server) {
		s.crawler = c
	}
}

// WithAllowedOrigin enables CORS for the given origin ("*" for any)
func WithAllowedOrigin(origin string) Option {
	return func(s *Server) {
		s.allowedOrigin = origin
	}
}

func New(chatSvc *chat.Service, opts ...Option) *Server {
	s := &Server{
		chat: chatSvc,
		mux:  http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mux.HandleFunc("GET /{$}", s.handleRoot)
	s.mux.HandleFunc("GET /get_conversation_history", s.handleConversationHistory)
	s.mux.HandleFunc("GET /change_message_thread", s.handleChangeThread)
	s.mux.HandleFunc("POST /stream_response", s.handleStreamResponse)
	s.mux.HandleFunc("GET /get_llm_names", s.handleLLMNames)
	s.mux.HandleFunc("GET /get_text_splitters", s.handleTextSplitters)
	s.mux.HandleFunc("POST /upload_file", s.handleUploadFile)
	s.mux.HandleFunc("POST /crawl", s.handleCrawl)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.allowedOrigin != "" {
		w.Header().Set("Access-Control-Allow-Origin", s.allowedOrigin)
		w.Header().Set("Access-Control-Expose-Headers", "X-Session-ID")
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}

	startedAt := time.Now()
	rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
	ctx := logging.WithAttrs(r.Context(), "method", r.Method, "path", r.URL.Path)
	s.mux.ServeHTTP(rw, r.WithContext(ctx))

	logging.From(ctx).Info("request handled",
		"status", rw.status,
		"duration", time.Since(startedAt),
	)
}

// Serve runs the HTTP server until ctx is cancelled
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		logging.From(ctx).Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return goerr.Wrap(err, "failed to serve HTTP", goerr.V("addr", addr))
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return goerr.Wrap(err, "failed to shutdown HTTP server")
		}
		return nil
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Unwrap lets http.ResponseController reach the Flusher
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.From(ctx).Warn("failed to write response", "error", err)
	}
}

// writeError maps caller mistakes to 400 and everything else to 500
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	msg := "internal server error"
	switch {
	case errors.Is(err, model.ErrConfiguration), errors.Is(err, model.ErrDisallowedFileType):
		status = http.StatusBadRequest
		msg = err.Error()
	default:
		logging.From(ctx).Error("request failed", "error", err)
	}
	writeJSON(ctx, w, status, map[string]string{"error": msg})
}

func badRequest(ctx context.Context, w http.ResponseWriter, msg string) {
	writeJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": msg})
}
