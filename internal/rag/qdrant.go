package rag

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// FieldChunkID is the payload key holding the original chunk identifier.
// Qdrant only accepts UUID or integer point ids, so the chunk id is mapped to
// a UUIDv5 and kept verbatim in the payload.
const FieldChunkID = "chunk_id"

// defaultQdrantBatchSize bounds the number of points sent per Upsert RPC.
const defaultQdrantBatchSize = 100

// chunkNamespace seeds the UUIDv5 point ids derived from chunk ids.
var chunkNamespace = uuid.MustParse("6f1c0b7e-2a4d-5c8e-9b3f-a1d2e3f4a5b6")

// pointsClient is the subset of *qdrant.Client used for point operations.
type pointsClient interface {
	Upsert(ctx context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Delete(ctx context.Context, req *qdrant.DeletePoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Count(ctx context.Context, req *qdrant.CountPoints) (uint64, error)
}

// QdrantConfig holds connection parameters for a Qdrant vector store instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection name to use.
	Collection string

	// VectorSize is the dimensionality of the embeddings stored in this collection.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// BatchSize is the maximum number of points per Upsert RPC (default: 100).
	BatchSize int

	// Logger receives lifecycle events. Defaults to slog.Default.
	Logger *slog.Logger
}

// QdrantStore implements VectorStore backed by a managed Qdrant instance.
// Scores are cosine similarities and range filters are evaluated natively.
type QdrantStore struct {
	// cfg holds the resolved configuration for this store.
	cfg *QdrantConfig

	// mu guards client, points and ready.
	mu sync.Mutex
	// client is created on the first EnsureReady call and kept for the
	// lifetime of the process.
	client *qdrant.Client
	// points serves point reads and writes; it is client outside tests.
	points pointsClient
	// ready is set once the collection is known to exist with the right size.
	ready bool
}

// NewQdrantStore returns an unconnected store. No network call is made until
// EnsureReady.
func NewQdrantStore(cfg *QdrantConfig) (*QdrantStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: qdrant: config must not be nil", ErrConfig)
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("%w: qdrant: collection name is required", ErrConfig)
	}
	if cfg.VectorSize == 0 {
		return nil, fmt.Errorf("%w: qdrant: vector size must be positive", ErrConfig)
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultQdrantBatchSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &QdrantStore{cfg: cfg}, nil
}

// EnsureReady connects to Qdrant and creates the collection with the
// configured dimension and cosine metric if it does not already exist. An
// existing collection with a different vector size is a fatal
// ErrDimensionMismatch. Safe to call repeatedly; a failed attempt is retried
// on the next call.
func (s *QdrantStore) EnsureReady(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ready {
		return nil
	}

	if s.client == nil {
		client, err := qdrant.NewClient(&qdrant.Config{
			Host:   s.cfg.Host,
			Port:   s.cfg.Port,
			APIKey: s.cfg.APIKey,
			UseTLS: s.cfg.UseTLS,
		})
		if err != nil {
			return fmt.Errorf("%w: qdrant: failed to create client: %w", ErrStore, err)
		}
		s.client = client
		s.points = client
	}

	if err := s.ensureCollection(ctx); err != nil {
		return err
	}
	s.ready = true
	return nil
}

// ensureCollection creates the Qdrant collection if it does not already
// exist and verifies the dimension of an existing one.
func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("%w: qdrant: failed to check collection existence: %w", ErrStore, err)
	}

	if exists {
		info, err := s.client.GetCollectionInfo(ctx, s.cfg.Collection)
		if err != nil {
			return fmt.Errorf("%w: qdrant: failed to describe collection %q: %w", ErrStore, s.cfg.Collection, err)
		}
		size := info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()
		if size != 0 && size != s.cfg.VectorSize {
			return fmt.Errorf("%w: qdrant collection %q has size %d, embedder produces %d",
				ErrDimensionMismatch, s.cfg.Collection, size, s.cfg.VectorSize)
		}
		return nil
	}

	s.cfg.Logger.Info("qdrant: creating collection",
		slog.String("collection", s.cfg.Collection),
		slog.Uint64("size", s.cfg.VectorSize),
	)
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("%w: qdrant: failed to create collection %q: %w", ErrStore, s.cfg.Collection, err)
	}

	return nil
}

// conn returns the live points client, failing if EnsureReady has not
// succeeded.
func (s *QdrantStore) conn() (pointsClient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready || s.points == nil {
		return nil, fmt.Errorf("%w: qdrant: store not ready, call EnsureReady first", ErrStore)
	}
	return s.points, nil
}

// Upsert stores entries in deterministic sub-batches of cfg.BatchSize. When a
// sub-batch fails, the ids of the sub-batches that already succeeded are
// deleted before the error is returned so no orphaned chunks remain.
func (s *QdrantStore) Upsert(ctx context.Context, entries []Entry) error {
	client, err := s.conn()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, 0, len(entries))
	for _, e := range entries {
		if uint64(len(e.Vector)) != s.cfg.VectorSize {
			return fmt.Errorf("%w: chunk %s has %d dimensions, collection expects %d",
				ErrDimensionMismatch, e.ID, len(e.Vector), s.cfg.VectorSize)
		}
		p, err := toPoint(e)
		if err != nil {
			return err
		}
		points = append(points, p)
	}

	var committed []string
	for start := 0; start < len(points); start += s.cfg.BatchSize {
		end := min(start+s.cfg.BatchSize, len(points))

		_, err := client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.cfg.Collection,
			Wait:           qdrant.PtrOf(true),
			Points:         points[start:end],
		})
		if err != nil {
			s.compensate(ctx, committed)
			return fmt.Errorf("%w: qdrant: upsert failed at points %d-%d: %w", ErrStore, start, end-1, err)
		}
		for _, e := range entries[start:end] {
			committed = append(committed, e.ID)
		}
	}

	return nil
}

// compensate deletes ids written by earlier sub-batches of a failed upsert.
// A failure here is logged; the original upsert error is what the caller sees.
func (s *QdrantStore) compensate(ctx context.Context, ids []string) {
	if len(ids) == 0 {
		return
	}
	if err := s.Delete(context.WithoutCancel(ctx), ids); err != nil {
		s.cfg.Logger.Error("qdrant: failed to remove partially upserted chunks",
			slog.Int("chunks", len(ids)),
			slog.Any("error", err),
		)
		return
	}
	s.cfg.Logger.Warn("qdrant: removed partially upserted chunks", slog.Int("chunks", len(ids)))
}

// toPoint converts an Entry into a Qdrant point. Chunk text is duplicated
// into the payload because Qdrant keeps no separate document text.
func toPoint(e Entry) (*qdrant.PointStruct, error) {
	payload := make(map[string]any, len(e.Metadata)+2)
	for k, v := range e.Metadata {
		payload[k] = payloadValue(v)
	}
	payload[FieldChunkID] = e.ID
	payload[FieldText] = e.Text

	values, err := qdrant.TryValueMap(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: qdrant: invalid payload for chunk %s: %w", ErrStore, e.ID, err)
	}

	return &qdrant.PointStruct{
		Id:      qdrant.NewIDUUID(PointID(e.ID)),
		Vectors: qdrant.NewVectors(e.Vector...),
		Payload: values,
	}, nil
}

// payloadValue narrows metadata values to the types Qdrant payloads accept.
func payloadValue(v any) any {
	switch x := v.(type) {
	case nil, string, bool, int64, float64:
		return x
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case float32:
		return float64(x)
	default:
		return fmt.Sprint(x)
	}
}

// PointID maps a chunk id onto the deterministic UUID used as Qdrant point id.
func PointID(chunkID string) string {
	return uuid.NewSHA1(chunkNamespace, []byte(chunkID)).String()
}

// Query performs a cosine similarity search and returns the top-k results.
// Equality filters become keyword matches; range filters become datetime
// ranges over RFC 3339 payload values.
func (s *QdrantStore) Query(ctx context.Context, vector []float32, topK int, filter Filter, includeMetadata bool) ([]Match, error) {
	client, err := s.conn()
	if err != nil {
		return nil, err
	}
	if uint64(len(vector)) != s.cfg.VectorSize {
		return nil, fmt.Errorf("%w: query vector has %d dimensions, collection expects %d",
			ErrDimensionMismatch, len(vector), s.cfg.VectorSize)
	}
	if topK <= 0 {
		return nil, nil
	}

	limit := uint64(topK)
	results, err := client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.cfg.Collection,
		Query:          qdrant.NewQuery(vector...),
		Filter:         qdrantFilter(filter),
		Limit:          &limit,
		// The payload carries the chunk id and text, so it is always fetched.
		WithPayload: qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: qdrant: search failed: %w", ErrStore, err)
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		md := make(map[string]any, len(r.GetPayload()))
		for k, v := range r.GetPayload() {
			md[k] = convertQdrantValue(v)
		}

		m := Match{
			ID:    MetaString(md, FieldChunkID),
			Text:  MetaString(md, FieldText),
			Score: r.GetScore(),
			Kind:  ScoreSimilarity,
		}
		if m.ID == "" {
			m.ID = r.GetId().GetUuid()
		}
		if includeMetadata {
			m.Metadata = md
		}
		matches = append(matches, m)
	}

	return matches, nil
}

// qdrantFilter translates a backend-neutral Filter. Returns nil when empty.
func qdrantFilter(f Filter) *qdrant.Filter {
	if f.IsEmpty() {
		return nil
	}

	must := make([]*qdrant.Condition, 0, len(f.Equals)+len(f.Ranges))
	for key, val := range f.Equals {
		must = append(must, qdrant.NewMatch(key, val))
	}
	for _, r := range f.Ranges {
		dr := &qdrant.DatetimeRange{}
		if r.From != nil {
			dr.Gte = timestamppb.New(*r.From)
		}
		if r.To != nil {
			dr.Lte = timestamppb.New(*r.To)
		}
		must = append(must, qdrant.NewDatetimeRange(r.Field, dr))
	}

	return &qdrant.Filter{Must: must}
}

// Delete removes chunks from the collection by their chunk ids.
func (s *QdrantStore) Delete(ctx context.Context, ids []string) error {
	client, err := s.conn()
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, qdrant.NewIDUUID(PointID(id)))
	}

	_, err = client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.cfg.Collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelector(pointIDs...),
	})
	if err != nil {
		return fmt.Errorf("%w: qdrant: delete failed: %w", ErrStore, err)
	}

	return nil
}

// Stats returns the exact point count of the collection.
func (s *QdrantStore) Stats(ctx context.Context) (Stats, error) {
	client, err := s.conn()
	if err != nil {
		return Stats{}, err
	}

	count, err := client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.cfg.Collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return Stats{}, fmt.Errorf("%w: qdrant: count failed: %w", ErrStore, err)
	}

	return Stats{
		Backend:    "qdrant",
		Collection: s.cfg.Collection,
		Count:      int64(count), //nolint:gosec // point counts fit in int64
		Dimension:  int(s.cfg.VectorSize),
	}, nil
}

// Capabilities reports native range filter support.
func (s *QdrantStore) Capabilities() Capabilities {
	return Capabilities{RangeFilters: true}
}

// Ping calls the Qdrant HealthCheck RPC. It satisfies the readiness probe
// contract used by the HTTP server.
func (s *QdrantStore) Ping(ctx context.Context) error {
	if err := s.EnsureReady(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil {
		return fmt.Errorf("%w: qdrant: no connection", ErrStore)
	}
	if _, err := client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// Name returns the dependency label used in readiness responses.
func (s *QdrantStore) Name() string { return "qdrant" }

// Close closes the underlying Qdrant gRPC connection if one was opened.
func (s *QdrantStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	s.points = nil
	s.ready = false
	return err
}

// convertQdrantValue unwraps a payload value into plain Go types.
func convertQdrantValue(v *qdrant.Value) any {
	switch val := v.GetKind().(type) {
	case *qdrant.Value_BoolValue:
		return val.BoolValue
	case *qdrant.Value_IntegerValue:
		return val.IntegerValue
	case *qdrant.Value_DoubleValue:
		return val.DoubleValue
	case *qdrant.Value_StringValue:
		return val.StringValue
	case *qdrant.Value_ListValue:
		out := make([]any, len(val.ListValue.GetValues()))
		for i, lv := range val.ListValue.GetValues() {
			out[i] = convertQdrantValue(lv)
		}
		return out
	case *qdrant.Value_StructValue:
		out := make(map[string]any, len(val.StructValue.GetFields()))
		for k, nv := range val.StructValue.GetFields() {
			out[k] = convertQdrantValue(nv)
		}
		return out
	}
	return nil
}
