package repository

import (
	"context"
	"math"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/m-mizutani/bizartvisor/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

type memoryCollection struct {
	def    model.Collection
	chunks map[model.ChunkID]*model.Chunk
}

// Memory is an in-process VectorIndex using brute-force similarity. It is
// used for tests and for running without a managed index.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]*memoryCollection
}

func NewMemory() *Memory {
	return &Memory{collections: make(map[string]*memoryCollection)}
}

func (m *Memory) CreateCollection(ctx context.Context, col model.Collection) error {
	if err := col.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[col.Name]; ok {
		return goerr.Wrap(ErrCollectionExists, "memory collection", goerr.V("collection", col.Name))
	}
	m.collections[col.Name] = &memoryCollection{def: col, chunks: make(map[model.ChunkID]*model.Chunk)}
	return nil
}

func (m *Memory) collection(name string) (*memoryCollection, error) {
	c, ok := m.collections[name]
	if !ok {
		return nil, goerr.New("collection not found", goerr.V("collection", name))
	}
	return c, nil
}

func (m *Memory) Upsert(ctx context.Context, collection string, chunks []*model.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := m.collection(collection)
	if err != nil {
		return err
	}
	for _, chunk := range chunks {
		if len(chunk.Embedding) != c.def.Dimension {
			return goerr.New("vector dimension mismatch",
				goerr.V("expected", c.def.Dimension), goerr.V("actual", len(chunk.Embedding)))
		}
	}
	for _, chunk := range chunks {
		copied := *chunk
		copied.Embedding = slices.Clone(chunk.Embedding)
		c.chunks[chunk.ID] = &copied
	}
	return nil
}

func (m *Memory) Delete(ctx context.Context, collection string, ids []model.ChunkID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := m.collection(collection)
	if err != nil {
		return err
	}
	for _, id := range ids {
		delete(c.chunks, id)
	}
	return nil
}

func (m *Memory) FindBySource(ctx context.Context, collection, sourceID string) ([]model.ChunkID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, err := m.collection(collection)
	if err != nil {
		return nil, err
	}
	var ids []model.ChunkID
	for id, chunk := range c.chunks {
		if strings.Contains(chunk.SourceID, sourceID) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (m *Memory) Search(ctx context.Context, collection string, vector []float32, limit int) ([]*model.ScoredChunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, err := m.collection(collection)
	if err != nil {
		return nil, err
	}
	if len(vector) != c.def.Dimension {
		return nil, goerr.New("query dimension mismatch",
			goerr.V("expected", c.def.Dimension), goerr.V("actual", len(vector)))
	}

	results := make([]*model.ScoredChunk, 0, len(c.chunks))
	for _, chunk := range c.chunks {
		copied := *chunk
		results = append(results, &model.ScoredChunk{
			Chunk: &copied,
			Score: similarity(c.def.Metric, chunk.Embedding, vector),
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Len returns the number of chunks in the collection
func (m *Memory) Len(collection string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.collections[collection]; ok {
		return len(c.chunks)
	}
	return 0
}

func similarity(metric model.Metric, a, b []float32) float64 {
	var dot, na, nb, sq float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
		sq += (x - y) * (x - y)
	}

	switch metric {
	case model.MetricDot:
		return dot
	case model.MetricEuclidean:
		return 1 / (1 + math.Sqrt(sq))
	default:
		if na == 0 || nb == 0 {
			return 0
		}
		return dot / (math.Sqrt(na) * math.Sqrt(nb))
	}
}

// MemoryHistory is an in-process HistoryStore
type MemoryHistory struct {
	mu       sync.RWMutex
	sessions map[model.SessionID][]*model.Turn
	updated  map[model.SessionID]time.Time
}

func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{
		sessions: make(map[model.SessionID][]*model.Turn),
		updated:  make(map[model.SessionID]time.Time),
	}
}

func (h *MemoryHistory) Append(ctx context.Context, sessionID model.SessionID, turns ...*model.Turn) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, t := range turns {
		copied := *t
		h.sessions[sessionID] = append(h.sessions[sessionID], &copied)
	}
	h.updated[sessionID] = time.Now()
	return nil
}

func (h *MemoryHistory) List(ctx context.Context, sessionID model.SessionID) ([]*model.Turn, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	turns := h.sessions[sessionID]
	out := make([]*model.Turn, len(turns))
	for i, t := range turns {
		copied := *t
		out[i] = &copied
	}
	return out, nil
}

func (h *MemoryHistory) ListSessions(ctx context.Context) ([]model.SessionID, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]model.SessionID, 0, len(h.updated))
	for id := range h.updated {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		ti, tj := h.updated[ids[i]], h.updated[ids[j]]
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return ids[i] > ids[j]
	})
	return ids, nil
}
