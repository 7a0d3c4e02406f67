package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/m-mizutani/bizartvisor/pkg/model"
	"github.com/m-mizutani/bizartvisor/pkg/usecase/chat"
	"github.com/m-mizutani/bizartvisor/pkg/usecase/knowledge"
	"github.com/m-mizutani/bizartvisor/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, "hello, you shouldn't be here")
}

func (s *Server) handleConversationHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ids, err := s.chat.ListSessions(ctx)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	if ids == nil {
		ids = []model.SessionID{}
	}
	writeJSON(ctx, w, http.StatusOK, ids)
}

type message struct {
	Content string `json:"content"`
	Type    string `json:"type"`
}

type conversation struct {
	SessionID model.SessionID `json:"session_id"`
	Messages  []message       `json:"messages"`
}

func (s *Server) handleChangeThread(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.URL.Query().Get("id")
	if id == "" {
		badRequest(ctx, w, "ID parameter is required.")
		return
	}

	turns, err := s.chat.GetSession(ctx, model.SessionID(id))
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	resp := conversation{SessionID: model.SessionID(id), Messages: make([]message, 0, len(turns))}
	for _, t := range turns {
		typ := "ai"
		if t.Role == model.RoleHuman {
			typ = "human"
		}
		resp.Messages = append(resp.Messages, message{Content: t.Content, Type: typ})
	}
	writeJSON(ctx, w, http.StatusOK, resp)
}

type streamRequest struct {
	Input     string          `json:"input"`
	SessionID model.SessionID `json:"session_id"`
	ModelName string          `json:"model_name"`
	UseRAG    bool            `json:"useRAG"`
	UseTools  bool            `json:"useTools"`
}

// handleStreamResponse writes answer tokens as they arrive. Progress notices
// are written on their own lines. A failure after streaming started is
// reported with a trailing "[error]" line since the status is already sent.
func (s *Server) handleStreamResponse(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req streamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(ctx, w, "invalid request body")
		return
	}
	if req.Input == "" {
		badRequest(ctx, w, "input is required")
		return
	}

	assistant, err := s.chat.NewAssistant(req.ModelName, req.SessionID)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	stream, err := assistant.Respond(ctx, req.Input, chat.RespondOptions{
		UseRAG:   req.UseRAG,
		UseTools: req.UseTools,
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Session-ID", string(stream.SessionID()))
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	for ev := range stream.Events() {
		text := ev.Text
		if ev.Type == chat.EventProgress {
			text = text + "\n"
		}
		if _, err := io.WriteString(w, text); err != nil {
			logging.From(ctx).Warn("client went away", "error", err)
			return
		}
		_ = rc.Flush()
	}

	if err := stream.Wait(); err != nil {
		if ctx.Err() != nil {
			return
		}
		_, _ = fmt.Fprintf(w, "\n[error] %s", err.Error())
		_ = rc.Flush()
	}
}

func (s *Server) handleLLMNames(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, s.chat.ModelNames())
}

func (s *Server) handleTextSplitters(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, model.SplitterKinds())
}

func (s *Server) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.ingester == nil {
		writeJSON(ctx, w, http.StatusServiceUnavailable, map[string]string{"error": "knowledge base is not configured"})
		return
	}

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		badRequest(ctx, w, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		badRequest(ctx, w, "No file part")
		return
	}
	defer file.Close()
	if header.Filename == "" {
		badRequest(ctx, w, "No selected file")
		return
	}

	var args map[string]any
	if raw := r.FormValue("splitter_args"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			badRequest(ctx, w, "Invalid splitter_args format, must be a valid JSON string")
			return
		}
	}
	splitter, err := model.ParseSplitter(r.FormValue("splitter"), args)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(ctx, w, goerr.Wrap(err, "failed to read uploaded file"))
		return
	}

	result, err := s.ingester.IngestFile(ctx, knowledge.FileInput{
		Name:          header.Filename,
		Data:          data,
		ContextPrefix: r.FormValue("context"),
		Splitter:      splitter,
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	writeJSON(ctx, w, http.StatusOK, map[string]any{
		"message": "File content processed and vectors stored",
		"result":  result,
	})
}

type crawlRequest struct {
	URL          string         `json:"url"`
	Depth        *int           `json:"depth"`
	MaxLinks     *int           `json:"max_links"`
	Splitter     string         `json:"splitter"`
	SplitterArgs map[string]any `json:"splitter_args"`
}

type crawlResponse struct {
	Pages   int                       `json:"pages"`
	Results []*knowledge.IngestResult `json:"results"`
	Error   string                    `json:"error,omitempty"`
}

func (s *Server) handleCrawl(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.ingester == nil || s.crawler == nil {
		writeJSON(ctx, w, http.StatusServiceUnavailable, map[string]string{"error": "crawling is not configured"})
		return
	}

	var req crawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(ctx, w, "invalid request body")
		return
	}
	depth, maxLinks := defaultCrawlDepth, defaultCrawlMaxLinks
	if req.Depth != nil {
		depth = *req.Depth
	}
	if req.MaxLinks != nil {
		maxLinks = *req.MaxLinks
	}

	splitter, err := model.ParseSplitter(req.Splitter, req.SplitterArgs)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	pages, err := s.crawler.Crawl(ctx, req.URL, depth, maxLinks)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	resp := crawlResponse{Pages: len(pages)}
	results, err := s.ingester.IngestPages(ctx, pages, splitter)
	resp.Results = results
	if resp.Results == nil {
		resp.Results = []*knowledge.IngestResult{}
	}
	if err != nil {
		// partial success: some pages are stored
		logging.From(ctx).Warn("some pages failed to ingest", "error", err)
		resp.Error = err.Error()
	}
	writeJSON(ctx, w, http.StatusOK, resp)
}
