package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/m-mizutani/bizartvisor/pkg/adapter"
	"github.com/m-mizutani/bizartvisor/pkg/adapter/adaptertest"
	"github.com/m-mizutani/bizartvisor/pkg/model"
	"github.com/m-mizutani/bizartvisor/pkg/policy"
	"github.com/m-mizutani/bizartvisor/pkg/repository"
	"github.com/m-mizutani/bizartvisor/pkg/server"
	"github.com/m-mizutani/bizartvisor/pkg/usecase/chat"
	"github.com/m-mizutani/bizartvisor/pkg/usecase/knowledge"
	"github.com/m-mizutani/gt"
	"google.golang.org/genai"
)

type fakeCrawler struct {
	pages map[string]string
	depth int
	links int
}

func (c *fakeCrawler) Crawl(ctx context.Context, startURL string, maxDepth, maxLinks int) (map[string]string, error) {
	if !strings.HasPrefix(startURL, "http") {
		return nil, model.ErrConfiguration
	}
	c.depth, c.links = maxDepth, maxLinks
	return c.pages, nil
}

type fixture struct {
	ts      *httptest.Server
	llm     *adaptertest.LLM
	history *repository.MemoryHistory
	index   *repository.Memory
	crawler *fakeCrawler
}

func setup(t *testing.T, llm *adaptertest.LLM) *fixture {
	t.Helper()
	ctx := context.Background()

	gemma := &adaptertest.LLM{ModelName: "gemma"}
	models, err := adapter.NewModels([]string{llm.Name(), "gemma"}, []adapter.LLM{llm, gemma}, llm.Name())
	gt.NoError(t, err)

	index := repository.NewMemory()
	uploadPolicy, err := policy.NewUpload(ctx, "")
	gt.NoError(t, err)
	uc := knowledge.New(index, &adaptertest.Embedder{}, model.Collection{Name: "docs", Dimension: 16, Metric: model.MetricCosine},
		knowledge.WithUploadPolicy(uploadPolicy))
	gt.NoError(t, uc.EnsureCollection(ctx))

	history := repository.NewMemoryHistory()
	svc := chat.New(models, history, chat.WithRetriever(uc))
	crawler := &fakeCrawler{pages: map[string]string{
		"https://example.com/":      "Welcome to the example site.",
		"https://example.com/about": "About the example team.",
	}}

	srv := server.New(svc, server.WithIngester(uc), server.WithCrawler(crawler), server.WithAllowedOrigin("*"))
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	return &fixture{ts: ts, llm: llm, history: history, index: index, crawler: crawler}
}

func textLLM(chunks ...string) *adaptertest.LLM {
	return &adaptertest.LLM{
		ModelName: "flash",
		Tools:     true,
		StreamFunc: func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error] {
			return adaptertest.StreamText(chunks...)
		},
	}
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	gt.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	gt.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	gt.NoError(t, err)
	return string(data)
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	gt.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestStreamResponse(t *testing.T) {
	f := setup(t, textLLM("Hello", ", ", "world"))

	resp := postJSON(t, f.ts.URL+"/stream_response", map[string]any{
		"input":      "hi",
		"session_id": "new_session_id",
		"model_name": "flash",
	})
	gt.Equal(t, resp.StatusCode, http.StatusOK)
	gt.S(t, resp.Header.Get("Content-Type")).Contains("text/plain")
	gt.Equal(t, resp.Header.Get("Access-Control-Expose-Headers"), "X-Session-ID")
	sessionID := resp.Header.Get("X-Session-ID")
	gt.NotEqual(t, sessionID, "")
	gt.NotEqual(t, sessionID, "new_session_id")
	gt.Equal(t, readBody(t, resp), "Hello, world")

	turns, err := f.history.List(context.Background(), model.SessionID(sessionID))
	gt.NoError(t, err)
	gt.A(t, turns).Length(2)

	t.Run("history endpoints", func(t *testing.T) {
		resp, err := http.Get(f.ts.URL + "/get_conversation_history")
		gt.NoError(t, err)
		defer resp.Body.Close()
		gt.Equal(t, decode[[]string](t, resp), []string{sessionID})

		resp, err = http.Get(f.ts.URL + "/change_message_thread?id=" + sessionID)
		gt.NoError(t, err)
		defer resp.Body.Close()
		thread := decode[struct {
			SessionID string `json:"session_id"`
			Messages  []struct {
				Content string `json:"content"`
				Type    string `json:"type"`
			} `json:"messages"`
		}](t, resp)
		gt.Equal(t, thread.SessionID, sessionID)
		gt.A(t, thread.Messages).Length(2)
		gt.Equal(t, thread.Messages[0].Type, "human")
		gt.Equal(t, thread.Messages[0].Content, "hi")
		gt.Equal(t, thread.Messages[1].Type, "ai")
		gt.Equal(t, thread.Messages[1].Content, "Hello, world")
	})
}

func TestStreamResponseErrors(t *testing.T) {
	t.Run("unknown model", func(t *testing.T) {
		f := setup(t, textLLM("x"))
		resp := postJSON(t, f.ts.URL+"/stream_response", map[string]any{"input": "hi", "model_name": "nope"})
		gt.Equal(t, resp.StatusCode, http.StatusBadRequest)
	})

	t.Run("tools on a model without function calling", func(t *testing.T) {
		f := setup(t, textLLM("x"))
		resp := postJSON(t, f.ts.URL+"/stream_response", map[string]any{"input": "hi", "model_name": "gemma", "useTools": true})
		gt.Equal(t, resp.StatusCode, http.StatusBadRequest)
		gt.S(t, readBody(t, resp)).Contains("does not support tools")
	})

	t.Run("empty input", func(t *testing.T) {
		f := setup(t, textLLM("x"))
		resp := postJSON(t, f.ts.URL+"/stream_response", map[string]any{"input": ""})
		gt.Equal(t, resp.StatusCode, http.StatusBadRequest)
	})

	t.Run("provider failure mid stream", func(t *testing.T) {
		llm := &adaptertest.LLM{
			ModelName: "flash",
			StreamFunc: func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error] {
				return func(yield func(*genai.GenerateContentResponse, error) bool) {
					if !yield(adaptertest.TextResponse("partial"), nil) {
						return
					}
					yield(nil, errors.New("quota exceeded"))
				}
			},
		}
		f := setup(t, llm)
		resp := postJSON(t, f.ts.URL+"/stream_response", map[string]any{"input": "hi"})
		gt.Equal(t, resp.StatusCode, http.StatusOK)
		body := readBody(t, resp)
		gt.True(t, strings.HasPrefix(body, "partial\n[error] "))
		gt.S(t, body).Contains("quota exceeded")

		sessions, err := f.history.ListSessions(context.Background())
		gt.NoError(t, err)
		gt.A(t, sessions).Length(0)
	})
}

func TestStreamResponseWithToolProgress(t *testing.T) {
	calls := 0
	llm := &adaptertest.LLM{
		ModelName: "flash",
		Tools:     true,
		GenerateFunc: func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			calls++
			if calls == 1 {
				return adaptertest.FunctionCallResponse("missing_tool", nil), nil
			}
			return adaptertest.TextResponse("final answer"), nil
		},
	}
	f := setup(t, llm)

	resp := postJSON(t, f.ts.URL+"/stream_response", map[string]any{"input": "hi", "useTools": true})
	gt.Equal(t, resp.StatusCode, http.StatusOK)
	gt.Equal(t, readBody(t, resp), "working: missing_tool...\nfinal answer")
}

func TestStaticLists(t *testing.T) {
	f := setup(t, textLLM())

	resp, err := http.Get(f.ts.URL + "/get_llm_names")
	gt.NoError(t, err)
	defer resp.Body.Close()
	gt.Equal(t, decode[[]string](t, resp), []string{"flash", "gemma"})

	resp, err = http.Get(f.ts.URL + "/get_text_splitters")
	gt.NoError(t, err)
	defer resp.Body.Close()
	gt.Equal(t, decode[[]string](t, resp), []string{"recursive_character", "semantic_chunker", "none"})
}

func uploadRequest(t *testing.T, url, filename, content string, fields map[string]string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		gt.NoError(t, err)
		_, err = io.WriteString(fw, content)
		gt.NoError(t, err)
	}
	for k, v := range fields {
		gt.NoError(t, mw.WriteField(k, v))
	}
	gt.NoError(t, mw.Close())

	resp, err := http.Post(url+"/upload_file", mw.FormDataContentType(), &buf)
	gt.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestUploadFile(t *testing.T) {
	f := setup(t, textLLM())

	t.Run("stores chunks", func(t *testing.T) {
		resp := uploadRequest(t, f.ts.URL, "notes.txt", "first paragraph about cats\n\nsecond paragraph about dogs", map[string]string{
			"context":       "Pet notes",
			"splitter":      "recursive_character",
			"splitter_args": `{"chunk_size": 30, "chunk_overlap": "0"}`,
		})
		gt.Equal(t, resp.StatusCode, http.StatusOK)
		body := decode[map[string]any](t, resp)
		gt.Equal(t, body["message"], any("File content processed and vectors stored"))
		gt.Equal(t, f.index.Len("docs"), 2)
	})

	t.Run("disallowed extension", func(t *testing.T) {
		resp := uploadRequest(t, f.ts.URL, "paper.pdf", "%PDF", nil)
		gt.Equal(t, resp.StatusCode, http.StatusBadRequest)
		gt.S(t, readBody(t, resp)).Contains("not allowed")
	})

	t.Run("invalid splitter args", func(t *testing.T) {
		resp := uploadRequest(t, f.ts.URL, "notes.txt", "text", map[string]string{"splitter_args": "{broken"})
		gt.Equal(t, resp.StatusCode, http.StatusBadRequest)
		gt.S(t, readBody(t, resp)).Contains("splitter_args")
	})

	t.Run("unknown splitter", func(t *testing.T) {
		resp := uploadRequest(t, f.ts.URL, "notes.txt", "text", map[string]string{"splitter": "magic"})
		gt.Equal(t, resp.StatusCode, http.StatusBadRequest)
	})

	t.Run("missing file", func(t *testing.T) {
		resp := uploadRequest(t, f.ts.URL, "", "", map[string]string{"context": "x"})
		gt.Equal(t, resp.StatusCode, http.StatusBadRequest)
		gt.S(t, readBody(t, resp)).Contains("No file part")
	})
}

func TestCrawl(t *testing.T) {
	f := setup(t, textLLM())

	resp := postJSON(t, f.ts.URL+"/crawl", map[string]any{"url": "https://example.com/", "depth": 1})
	gt.Equal(t, resp.StatusCode, http.StatusOK)
	body := decode[struct {
		Pages   int `json:"pages"`
		Results []struct {
			SourceID string `json:"source_id"`
			Chunks   int    `json:"chunks"`
		} `json:"results"`
	}](t, resp)
	gt.Equal(t, body.Pages, 2)
	gt.A(t, body.Results).Length(2)
	gt.Equal(t, body.Results[0].SourceID, "https://example.com/")
	gt.Equal(t, f.crawler.depth, 1)
	gt.Equal(t, f.crawler.links, 20)
	gt.Equal(t, f.index.Len("docs"), 2)

	resp = postJSON(t, f.ts.URL+"/crawl", map[string]any{"url": "ftp://example.com/"})
	gt.Equal(t, resp.StatusCode, http.StatusBadRequest)
}

func TestRAGUsesUploadedKnowledge(t *testing.T) {
	f := setup(t, textLLM("ok"))

	resp := uploadRequest(t, f.ts.URL, "faq.md", "The office opens at nine in Brussels.", nil)
	gt.Equal(t, resp.StatusCode, http.StatusOK)

	resp = postJSON(t, f.ts.URL+"/stream_response", map[string]any{"input": "When does the office open?", "useRAG": true})
	gt.Equal(t, resp.StatusCode, http.StatusOK)
	gt.Equal(t, readBody(t, resp), "ok")

	calls := f.llm.Calls()
	gt.A(t, calls).Length(1)
	gt.S(t, calls[0].SystemText()).Contains("Source: faq.md")
	gt.S(t, calls[0].SystemText()).Contains("opens at nine")
}

func TestCORSPreflight(t *testing.T) {
	f := setup(t, textLLM())
	req, err := http.NewRequest(http.MethodOptions, f.ts.URL+"/stream_response", nil)
	gt.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	gt.NoError(t, err)
	defer resp.Body.Close()
	gt.Equal(t, resp.StatusCode, http.StatusNoContent)
	gt.Equal(t, resp.Header.Get("Access-Control-Allow-Origin"), "*")
}
