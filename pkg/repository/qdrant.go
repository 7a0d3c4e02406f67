package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/m-mizutani/bizartvisor/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

const qdrantScrollPageSize = 256

// Qdrant is a VectorIndex backed by the Qdrant REST API
type Qdrant struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

type QdrantOption func(*Qdrant)

func WithQdrantAPIKey(key string) QdrantOption {
	return func(q *Qdrant) {
		q.apiKey = key
	}
}

func WithQdrantHTTPClient(client *http.Client) QdrantOption {
	return func(q *Qdrant) {
		q.client = client
	}
}

func NewQdrant(baseURL string, opts ...QdrantOption) *Qdrant {
	q := &Qdrant{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

type qdrantPayload struct {
	SourceID      string    `json:"source_id"`
	Text          string    `json:"text"`
	CreatedAt     time.Time `json:"created_at"`
	ContextPrefix string    `json:"context_prefix,omitempty"`
}

type qdrantPoint struct {
	ID      json.RawMessage `json:"id"`
	Score   float64         `json:"score"`
	Payload *qdrantPayload  `json:"payload"`
}

// qdrantError carries a non-2xx response
type qdrantError struct {
	status int
	body   string
}

func (e *qdrantError) Error() string {
	return fmt.Sprintf("qdrant responded %d: %s", e.status, e.body)
}

func qdrantDistance(m model.Metric) string {
	switch m {
	case model.MetricDot:
		return "Dot"
	case model.MetricEuclidean:
		return "Euclid"
	default:
		return "Cosine"
	}
}

func (q *Qdrant) CreateCollection(ctx context.Context, col model.Collection) error {
	if err := col.Validate(); err != nil {
		return err
	}

	body := map[string]any{
		"vectors": map[string]any{
			"size":     col.Dimension,
			"distance": qdrantDistance(col.Metric),
		},
	}
	err := q.do(ctx, http.MethodPut, "/collections/"+url.PathEscape(col.Name), body, nil)
	var qe *qdrantError
	if errors.As(err, &qe) {
		if qe.status == http.StatusConflict || strings.Contains(qe.body, "already exists") {
			return goerr.Wrap(ErrCollectionExists, "qdrant collection", goerr.V("collection", col.Name))
		}
	}
	return err
}

func (q *Qdrant) Upsert(ctx context.Context, collection string, chunks []*model.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	points := make([]map[string]any, len(chunks))
	for i, c := range chunks {
		points[i] = map[string]any{
			"id":     string(c.ID),
			"vector": []float32(c.Embedding),
			"payload": qdrantPayload{
				SourceID:      c.SourceID,
				Text:          c.Text,
				CreatedAt:     c.CreatedAt,
				ContextPrefix: c.ContextPrefix,
			},
		}
	}
	return q.do(ctx, http.MethodPut, q.pointsPath(collection, "?wait=true"), map[string]any{"points": points}, nil)
}

func (q *Qdrant) Delete(ctx context.Context, collection string, ids []model.ChunkID) error {
	if len(ids) == 0 {
		return nil
	}
	return q.do(ctx, http.MethodPost, q.pointsPath(collection, "/delete?wait=true"), map[string]any{"points": ids}, nil)
}

// FindBySource uses a match.text filter, which is a substring match on
// payload fields without a full-text index
func (q *Qdrant) FindBySource(ctx context.Context, collection, sourceID string) ([]model.ChunkID, error) {
	var ids []model.ChunkID
	var offset json.RawMessage

	for {
		req := map[string]any{
			"filter": map[string]any{
				"must": []map[string]any{
					{"key": "source_id", "match": map[string]any{"text": sourceID}},
				},
			},
			"limit":        qdrantScrollPageSize,
			"with_payload": false,
			"with_vector":  false,
		}
		if offset != nil {
			req["offset"] = offset
		}

		var resp struct {
			Result struct {
				Points         []qdrantPoint   `json:"points"`
				NextPageOffset json.RawMessage `json:"next_page_offset"`
			} `json:"result"`
		}
		if err := q.do(ctx, http.MethodPost, q.pointsPath(collection, "/scroll"), req, &resp); err != nil {
			return nil, err
		}

		for _, p := range resp.Result.Points {
			id, err := parseQdrantID(p.ID)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}

		next := resp.Result.NextPageOffset
		if len(next) == 0 || string(next) == "null" {
			return ids, nil
		}
		offset = next
	}
}

func (q *Qdrant) Search(ctx context.Context, collection string, vector []float32, limit int) ([]*model.ScoredChunk, error) {
	req := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
	}
	var resp struct {
		Result []qdrantPoint `json:"result"`
	}
	if err := q.do(ctx, http.MethodPost, q.pointsPath(collection, "/search"), req, &resp); err != nil {
		return nil, err
	}

	results := make([]*model.ScoredChunk, 0, len(resp.Result))
	for _, p := range resp.Result {
		id, err := parseQdrantID(p.ID)
		if err != nil {
			return nil, err
		}
		chunk := &model.Chunk{ID: id}
		if p.Payload != nil {
			chunk.SourceID = p.Payload.SourceID
			chunk.Text = p.Payload.Text
			chunk.CreatedAt = p.Payload.CreatedAt
			chunk.ContextPrefix = p.Payload.ContextPrefix
		}
		results = append(results, &model.ScoredChunk{Chunk: chunk, Score: p.Score})
	}
	return results, nil
}

func (q *Qdrant) pointsPath(collection, suffix string) string {
	return "/collections/" + url.PathEscape(collection) + "/points" + suffix
}

func parseQdrantID(raw json.RawMessage) (model.ChunkID, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return model.ChunkID(s), nil
	}
	var n uint64
	if err := json.Unmarshal(raw, &n); err == nil {
		return model.ChunkID(strconv.FormatUint(n, 10)), nil
	}
	return "", goerr.New("unexpected qdrant point id", goerr.V("id", string(raw)))
}

func (q *Qdrant) do(ctx context.Context, method, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return goerr.Wrap(err, "failed to marshal qdrant request", goerr.V("path", path))
	}

	req, err := http.NewRequestWithContext(ctx, method, q.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return goerr.Wrap(err, "failed to create qdrant request", goerr.V("path", path))
	}
	req.Header.Set("Content-Type", "application/json")
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}

	resp, err := q.client.Do(req)
	if err != nil {
		return goerr.Wrap(err, "qdrant request failed", goerr.V("method", method), goerr.V("path", path))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return goerr.Wrap(&qdrantError{status: resp.StatusCode, body: string(msg)}, "qdrant request rejected",
			goerr.V("method", method), goerr.V("path", path))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return goerr.Wrap(err, "failed to decode qdrant response", goerr.V("path", path))
		}
	}
	return nil
}
