package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	admin "cloud.google.com/go/firestore/apiv1/admin"
	"cloud.google.com/go/firestore/apiv1/admin/adminpb"
	"github.com/m-mizutani/bizartvisor/pkg/model"
	"github.com/m-mizutani/bizartvisor/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	embeddingField      = "embedding"
	distanceResultField = "vector_distance"
)

// Firestore implements VectorIndex and HistoryStore on Cloud Firestore
type Firestore struct {
	projectID  string
	databaseID string
	client     *firestore.Client
}

// New creates a Firestore repository
func New(ctx context.Context, projectID, databaseID string) (*Firestore, error) {
	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("project", projectID), goerr.V("database", databaseID))
	}

	return &Firestore{
		projectID:  projectID,
		databaseID: databaseID,
		client:     client,
	}, nil
}

func (r *Firestore) Close() error {
	return r.client.Close()
}

// CreateCollection creates the vector index over the embedding field.
// Firestore collections exist implicitly, so the index is what is created.
func (r *Firestore) CreateCollection(ctx context.Context, col model.Collection) error {
	if err := col.Validate(); err != nil {
		return err
	}
	if col.Metric != model.MetricCosine {
		return goerr.Wrap(model.ErrConfiguration, "firestore index supports cosine metric only", goerr.V("metric", col.Metric))
	}

	client, err := admin.NewFirestoreAdminClient(ctx)
	if err != nil {
		return goerr.Wrap(err, "failed to create firestore admin client")
	}
	defer func() { _ = client.Close() }()

	parent := fmt.Sprintf("projects/%s/databases/%s/collectionGroups/%s", r.projectID, r.databaseID, col.Name)
	_, err = client.CreateIndex(ctx, &adminpb.CreateIndexRequest{
		Parent: parent,
		Index: &adminpb.Index{
			QueryScope: adminpb.Index_COLLECTION,
			Fields: []*adminpb.Index_IndexField{
				{
					FieldPath: embeddingField,
					ValueMode: &adminpb.Index_IndexField_VectorConfig_{
						VectorConfig: &adminpb.Index_IndexField_VectorConfig{
							Dimension: int32(col.Dimension),
							Type: &adminpb.Index_IndexField_VectorConfig_Flat{
								Flat: &adminpb.Index_IndexField_VectorConfig_FlatIndex{},
							},
						},
					},
				},
			},
		},
	})
	if status.Code(err) == codes.AlreadyExists {
		return goerr.Wrap(ErrCollectionExists, "firestore vector index", goerr.V("collection", col.Name))
	}
	if err != nil {
		return goerr.Wrap(err, "failed to create vector index", goerr.V("parent", parent))
	}

	logging.From(ctx).Info("vector index creation requested", "collection", col.Name, "dimension", col.Dimension)
	return nil
}

func (r *Firestore) Upsert(ctx context.Context, collection string, chunks []*model.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	bw := r.client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(chunks))
	for _, c := range chunks {
		job, err := bw.Set(r.client.Collection(collection).Doc(string(c.ID)), c)
		if err != nil {
			bw.End()
			return goerr.Wrap(err, "failed to enqueue chunk", goerr.V("chunk_id", c.ID))
		}
		jobs = append(jobs, job)
	}
	bw.End()

	for i, job := range jobs {
		if _, err := job.Results(); err != nil {
			return goerr.Wrap(err, "failed to write chunk", goerr.V("chunk_id", chunks[i].ID))
		}
	}
	return nil
}

func (r *Firestore) Delete(ctx context.Context, collection string, ids []model.ChunkID) error {
	if len(ids) == 0 {
		return nil
	}

	bw := r.client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(ids))
	for _, id := range ids {
		job, err := bw.Delete(r.client.Collection(collection).Doc(string(id)))
		if err != nil {
			bw.End()
			return goerr.Wrap(err, "failed to enqueue chunk deletion", goerr.V("chunk_id", id))
		}
		jobs = append(jobs, job)
	}
	bw.End()

	for i, job := range jobs {
		if _, err := job.Results(); err != nil && status.Code(err) != codes.NotFound {
			return goerr.Wrap(err, "failed to delete chunk", goerr.V("chunk_id", ids[i]))
		}
	}
	return nil
}

// FindBySource scans source_id of every chunk. Firestore has no substring
// operator, so matching happens client side.
func (r *Firestore) FindBySource(ctx context.Context, collection, sourceID string) ([]model.ChunkID, error) {
	iter := r.client.Collection(collection).Select("source_id").Documents(ctx)
	defer iter.Stop()

	var ids []model.ChunkID
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to scan chunks", goerr.V("collection", collection))
		}

		src, _ := doc.Data()["source_id"].(string)
		if strings.Contains(src, sourceID) {
			ids = append(ids, model.ChunkID(doc.Ref.ID))
		}
	}
	return ids, nil
}

func (r *Firestore) Search(ctx context.Context, collection string, vector []float32, limit int) ([]*model.ScoredChunk, error) {
	query := r.client.Collection(collection).FindNearest(
		embeddingField,
		firestore.Vector32(vector),
		limit,
		firestore.DistanceMeasureCosine,
		&firestore.FindNearestOptions{DistanceResultField: distanceResultField},
	)

	iter := query.Documents(ctx)
	defer iter.Stop()

	var results []*model.ScoredChunk
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to search vectors", goerr.V("collection", collection))
		}

		var chunk model.Chunk
		if err := doc.DataTo(&chunk); err != nil {
			return nil, goerr.Wrap(err, "failed to decode chunk", goerr.V("id", doc.Ref.ID))
		}
		distance, _ := doc.Data()[distanceResultField].(float64)
		results = append(results, &model.ScoredChunk{Chunk: &chunk, Score: 1 - distance})
	}
	return results, nil
}

const (
	sessionCollection = "sessions"
	turnCollection    = "turns"
)

type firestoreSession struct {
	ID        string    `firestore:"id"`
	Turns     int64     `firestore:"turns"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

type firestoreTurn struct {
	Seq       int64      `firestore:"seq"`
	Role      model.Role `firestore:"role"`
	Content   string     `firestore:"content"`
	CreatedAt time.Time  `firestore:"created_at"`
}

// Append writes turns in a transaction so sequence numbers stay contiguous
func (r *Firestore) Append(ctx context.Context, sessionID model.SessionID, turns ...*model.Turn) error {
	sessionRef := r.client.Collection(sessionCollection).Doc(string(sessionID))

	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var sess firestoreSession
		snap, err := tx.Get(sessionRef)
		switch {
		case status.Code(err) == codes.NotFound:
			sess = firestoreSession{ID: string(sessionID)}
		case err != nil:
			return goerr.Wrap(err, "failed to get session")
		default:
			if err := snap.DataTo(&sess); err != nil {
				return goerr.Wrap(err, "failed to decode session")
			}
		}

		for _, t := range turns {
			sess.Turns++
			ref := sessionRef.Collection(turnCollection).Doc(fmt.Sprintf("%08d", sess.Turns))
			if err := tx.Set(ref, &firestoreTurn{
				Seq:       sess.Turns,
				Role:      t.Role,
				Content:   t.Content,
				CreatedAt: t.CreatedAt,
			}); err != nil {
				return goerr.Wrap(err, "failed to set turn")
			}
		}

		sess.UpdatedAt = time.Now()
		return tx.Set(sessionRef, &sess)
	})
	if err != nil {
		return goerr.Wrap(err, "failed to append turns", goerr.V("session_id", sessionID))
	}
	return nil
}

func (r *Firestore) List(ctx context.Context, sessionID model.SessionID) ([]*model.Turn, error) {
	iter := r.client.Collection(sessionCollection).Doc(string(sessionID)).
		Collection(turnCollection).OrderBy("seq", firestore.Asc).Documents(ctx)
	defer iter.Stop()

	turns := []*model.Turn{}
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to list turns", goerr.V("session_id", sessionID))
		}

		var t firestoreTurn
		if err := doc.DataTo(&t); err != nil {
			return nil, goerr.Wrap(err, "failed to decode turn", goerr.V("id", doc.Ref.ID))
		}
		turns = append(turns, &model.Turn{Role: t.Role, Content: t.Content, CreatedAt: t.CreatedAt})
	}
	return turns, nil
}

func (r *Firestore) ListSessions(ctx context.Context) ([]model.SessionID, error) {
	iter := r.client.Collection(sessionCollection).OrderBy("updated_at", firestore.Desc).Documents(ctx)
	defer iter.Stop()

	var ids []model.SessionID
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to list sessions")
		}
		ids = append(ids, model.SessionID(doc.Ref.ID))
	}
	return ids, nil
}
