package vectorstore

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// collectionNamePattern limits names to what qdrant accepts without
// escaping. The hash-derived names produced by the memory layer always
// fit.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// QdrantConfig configures the qdrant gRPC backend.
type QdrantConfig struct {
	// Host is the qdrant server hostname or IP address.
	Host string

	// Port is the qdrant gRPC port (6334 by default, not the 6333 REST
	// port).
	Port int

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// APIKey is the optional API key. Leave empty for local development.
	APIKey string

	// MaxMessageSize is the maximum gRPC message size in bytes.
	MaxMessageSize int

	// DialTimeout bounds connection establishment.
	DialTimeout time.Duration

	// RequestTimeout bounds individual requests.
	RequestTimeout time.Duration

	// RetryAttempts is the retry budget for transient failures.
	RetryAttempts int
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = 3
	}
}

// Validate checks the configuration.
func (c *QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port %d", ErrInvalidConfig, c.Port)
	}
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("%w: invalid max message size %d", ErrInvalidConfig, c.MaxMessageSize)
	}
	return nil
}

// QdrantStore is a Store backed by a remote qdrant server. Document IDs
// must be UUIDs. All collections use cosine distance, so scores match the
// chromem backend.
type QdrantStore struct {
	client *qdrant.Client
	config QdrantConfig
	logger *zap.Logger
}

var _ Store = (*QdrantStore)(nil)

// NewQdrantStore connects to qdrant and verifies the connection with a
// health check.
func NewQdrantStore(cfg QdrantConfig, logger *zap.Logger) (*QdrantStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	qdrantConfig := &qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		UseTLS: cfg.UseTLS,
		APIKey: cfg.APIKey,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(cfg.MaxMessageSize),
				grpc.MaxCallSendMsgSize(cfg.MaxMessageSize),
			),
		},
	}
	if !cfg.UseTLS {
		qdrantConfig.GrpcOptions = append(qdrantConfig.GrpcOptions,
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		)
	}

	client, err := qdrant.NewClient(qdrantConfig)
	if err != nil {
		return nil, fmt.Errorf("creating qdrant client: %w", err)
	}

	s := &QdrantStore{
		client: client,
		config: cfg,
		logger: logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if _, err := client.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("qdrant health check failed: %w", err)
	}

	logger.Info("qdrant connection established",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
	)
	return s, nil
}

// EnsureCollection creates the collection if it does not exist.
func (s *QdrantStore) EnsureCollection(ctx context.Context, name string, vectorSize int, metadata map[string]string) (err error) {
	start := time.Now()
	defer func() { observeOp("qdrant", "ensure_collection", start, err) }()

	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: invalid collection name %q", ErrInvalidConfig, name)
	}
	if vectorSize <= 0 {
		return fmt.Errorf("%w: vector size must be positive, got %d", ErrInvalidConfig, vectorSize)
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	exists, err := s.collectionExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	return s.retryOperation(ctx, func() error {
		return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(vectorSize),
				Distance: qdrant.Distance_Cosine,
			}),
		})
	})
}

// DeleteCollection removes the collection. Missing collections are a no-op.
func (s *QdrantStore) DeleteCollection(ctx context.Context, name string) (err error) {
	start := time.Now()
	defer func() { observeOp("qdrant", "delete_collection", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	err = s.retryOperation(ctx, func() error {
		return s.client.DeleteCollection(ctx, name)
	})
	if isNotFound(err) {
		return nil
	}
	return err
}

// ListCollections returns all collection names, sorted.
func (s *QdrantStore) ListCollections(ctx context.Context) (names []string, err error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	err = s.retryOperation(ctx, func() error {
		result, err := s.client.ListCollections(ctx)
		if err != nil {
			return err
		}
		names = result
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// Count returns the number of points in the collection.
func (s *QdrantStore) Count(ctx context.Context, name string) (n int, err error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	var count uint64
	err = s.retryOperation(ctx, func() error {
		result, err := s.client.Count(ctx, &qdrant.CountPoints{
			CollectionName: name,
			Exact:          qdrant.PtrOf(true),
		})
		if err != nil {
			return err
		}
		count = result
		return nil
	})
	if err != nil {
		if isNotFound(err) {
			return 0, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
		}
		return 0, err
	}
	return int(count), nil
}

// Upsert inserts or replaces points by ID.
func (s *QdrantStore) Upsert(ctx context.Context, name string, docs []Document) (err error) {
	start := time.Now()
	defer func() { observeOp("qdrant", "upsert", start, err) }()

	if len(docs) == 0 {
		return ErrEmptyDocuments
	}

	points := make([]*qdrant.PointStruct, len(docs))
	for i, doc := range docs {
		if doc.ID == "" {
			return ErrMissingID
		}
		if len(doc.Vector) == 0 {
			return fmt.Errorf("%w: %s", ErrMissingVector, doc.ID)
		}
		payload := make(map[string]*qdrant.Value, len(doc.Metadata)+1)
		for k, v := range doc.Metadata {
			payload[k] = payloadValue(v)
		}
		// Content travels in the payload; qdrant has no separate
		// document body.
		payload[contentPayloadKey] = payloadValue(doc.Content)

		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(doc.ID),
			Vectors: qdrant.NewVectors(doc.Vector...),
			Payload: payload,
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	err = s.retryOperation(ctx, func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: name,
			Points:         points,
			Wait:           qdrant.PtrOf(true),
		})
		return err
	})
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
		}
		return err
	}

	documentsUpserted.WithLabelValues("qdrant").Add(float64(len(docs)))
	return nil
}

// Get retrieves a single point by ID.
func (s *QdrantStore) Get(ctx context.Context, name string, id string) (*Document, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	var points []*qdrant.RetrievedPoint
	err := s.retryOperation(ctx, func() error {
		result, err := s.client.Get(ctx, &qdrant.GetPoints{
			CollectionName: name,
			Ids:            []*qdrant.PointId{qdrant.NewIDUUID(id)},
			WithPayload:    qdrant.NewWithPayload(true),
			WithVectors:    qdrant.NewWithVectors(true),
		})
		if err != nil {
			return err
		}
		points = result
		return nil
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
		}
		return nil, err
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}

	doc := documentFromPayload(pointID(points[0].Id), pointVector(points[0].Vectors), points[0].Payload)
	return &doc, nil
}

// Query returns the k most similar points matching the filter. The whole
// filter is pushed down; qdrant evaluates equality, set-membership and
// range conditions natively.
func (s *QdrantStore) Query(ctx context.Context, name string, vector []float32, k int, filter *Filter) (matches []Match, err error) {
	start := time.Now()
	defer func() { observeOp("qdrant", "query", start, err) }()

	if k <= 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	var results []*qdrant.ScoredPoint
	err = s.retryOperation(ctx, func() error {
		res, err := s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: name,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(k)),
			WithPayload:    qdrant.NewWithPayload(true),
			Filter:         qdrantFilter(filter),
		})
		if err != nil {
			return err
		}
		results = res
		return nil
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
		}
		return nil, err
	}

	matches = make([]Match, len(results))
	for i, res := range results {
		matches[i] = Match{
			Document: documentFromPayload(pointID(res.Id), pointVector(res.Vectors), res.Payload),
			Score:    res.Score,
		}
	}
	return matches, nil
}

// Scan returns points matching the filter without ranking.
func (s *QdrantStore) Scan(ctx context.Context, name string, filter *Filter, limit int) (docs []Document, err error) {
	start := time.Now()
	defer func() { observeOp("qdrant", "scan", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	// Size the scroll window from an exact count so a single page
	// covers the whole result set.
	var count uint64
	err = s.retryOperation(ctx, func() error {
		result, err := s.client.Count(ctx, &qdrant.CountPoints{
			CollectionName: name,
			Filter:         qdrantFilter(filter),
			Exact:          qdrant.PtrOf(true),
		})
		if err != nil {
			return err
		}
		count = result
		return nil
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
		}
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}

	window := int(count)
	if limit > 0 && limit < window {
		window = limit
	}

	var points []*qdrant.RetrievedPoint
	err = s.retryOperation(ctx, func() error {
		result, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: name,
			Filter:         qdrantFilter(filter),
			Limit:          qdrant.PtrOf(uint32(window)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return err
		}
		points = result
		return nil
	})
	if err != nil {
		return nil, err
	}

	docs = make([]Document, len(points))
	for i, p := range points {
		docs[i] = documentFromPayload(pointID(p.Id), pointVector(p.Vectors), p.Payload)
	}
	return docs, nil
}

// Delete removes points by ID or filter.
func (s *QdrantStore) Delete(ctx context.Context, name string, filter *Filter, ids ...string) (err error) {
	start := time.Now()
	defer func() { observeOp("qdrant", "delete", start, err) }()

	if filter == nil && len(ids) == 0 {
		return ErrEmptySelector
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	var selectors []*qdrant.PointsSelector
	if len(ids) > 0 {
		pointIDs := make([]*qdrant.PointId, len(ids))
		for i, id := range ids {
			pointIDs[i] = qdrant.NewIDUUID(id)
		}
		selectors = append(selectors, &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: pointIDs},
			},
		})
	}
	if filter != nil {
		selectors = append(selectors, &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: qdrantFilter(filter),
			},
		})
	}

	for _, selector := range selectors {
		err = s.retryOperation(ctx, func() error {
			_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
				CollectionName: name,
				Points:         selector,
				Wait:           qdrant.PtrOf(true),
			})
			return err
		})
		if err != nil {
			if isNotFound(err) {
				return fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
			}
			return err
		}
	}
	return nil
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func (s *QdrantStore) collectionExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := s.retryOperation(ctx, func() error {
		info, err := s.client.GetCollectionInfo(ctx, name)
		if err != nil {
			if isNotFound(err) {
				exists = false
				return nil
			}
			return err
		}
		exists = info != nil
		return nil
	})
	return exists, err
}

// retryOperation retries transient failures with exponential backoff.
func (s *QdrantStore) retryOperation(ctx context.Context, operation func() error) error {
	var lastErr error
	backoff := time.Second
	startTime := time.Now()

	for attempt := 0; attempt <= s.config.RetryAttempts; attempt++ {
		err := operation()
		if err == nil {
			if attempt > 0 {
				s.logger.Info("operation recovered after retries",
					zap.Int("attempts", attempt),
					zap.Duration("total_time", time.Since(startTime)),
				)
			}
			return nil
		}

		lastErr = err
		if !isTransientError(err) {
			return err
		}
		if attempt == s.config.RetryAttempts {
			break
		}

		s.logger.Debug("retrying after transient error",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", s.config.RetryAttempts),
			zap.Error(err),
			zap.Duration("backoff", backoff),
		)

		select {
		case <-ctx.Done():
			return fmt.Errorf("operation canceled: %w", ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}

	s.logger.Warn("operation failed after all retries",
		zap.Int("total_attempts", s.config.RetryAttempts+1),
		zap.Duration("total_time", time.Since(startTime)),
		zap.Error(lastErr),
	)
	return fmt.Errorf("operation failed after %d retries: %w", s.config.RetryAttempts, lastErr)
}

// isTransientError reports whether the gRPC error should be retried.
func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.ResourceExhausted:
		return true
	default:
		return false
	}
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	return ok && st.Code() == codes.NotFound
}

// contentPayloadKey stores the document body inside the qdrant payload.
const contentPayloadKey = "_content"

func payloadValue(v any) *qdrant.Value {
	switch val := v.(type) {
	case string:
		return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: val}}
	case int:
		return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(val)}}
	case int64:
		return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: val}}
	case float64:
		return &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: val}}
	case float32:
		return &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: float64(val)}}
	case bool:
		return &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: val}}
	default:
		return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: fmt.Sprintf("%v", val)}}
	}
}

func fromPayloadValue(v *qdrant.Value) any {
	if v == nil {
		return nil
	}
	switch val := v.Kind.(type) {
	case *qdrant.Value_StringValue:
		return val.StringValue
	case *qdrant.Value_IntegerValue:
		return val.IntegerValue
	case *qdrant.Value_DoubleValue:
		return val.DoubleValue
	case *qdrant.Value_BoolValue:
		return val.BoolValue
	default:
		return nil
	}
}

func documentFromPayload(id string, vector []float32, payload map[string]*qdrant.Value) Document {
	doc := Document{ID: id, Vector: vector}
	if len(payload) == 0 {
		return doc
	}
	doc.Metadata = make(map[string]any, len(payload))
	for k, v := range payload {
		if k == contentPayloadKey {
			if content, ok := fromPayloadValue(v).(string); ok {
				doc.Content = content
			}
			continue
		}
		doc.Metadata[k] = fromPayloadValue(v)
	}
	if len(doc.Metadata) == 0 {
		doc.Metadata = nil
	}
	return doc
}

func pointID(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if uuid := id.GetUuid(); uuid != "" {
		return uuid
	}
	if num := id.GetNum(); num != 0 {
		return fmt.Sprintf("%d", num)
	}
	return ""
}

func pointVector(vectors *qdrant.VectorsOutput) []float32 {
	if vectors == nil {
		return nil
	}
	if vec := vectors.GetVector(); vec != nil {
		if dense := vec.GetDense(); dense != nil {
			return dense.GetData()
		}
	}
	return nil
}

// qdrantFilter maps the generic filter onto qdrant's native conditions.
func qdrantFilter(f *Filter) *qdrant.Filter {
	if f == nil {
		return nil
	}
	filter := &qdrant.Filter{
		Must: make([]*qdrant.Condition, 0, len(f.Must)),
	}
	for _, c := range f.Must {
		filter.Must = append(filter.Must, qdrantCondition(c))
	}
	return filter
}

func qdrantCondition(c Condition) *qdrant.Condition {
	field := &qdrant.FieldCondition{Key: c.Field}

	switch {
	case c.Equals != nil:
		field.Match = qdrantMatch(c.Equals)
	case len(c.In) > 0:
		field.Match = &qdrant.Match{MatchValue: &qdrant.Match_Keywords{
			Keywords: &qdrant.RepeatedStrings{Strings: c.In},
		}}
	case c.Range != nil:
		field.Range = &qdrant.Range{
			Gte: c.Range.GTE,
			Gt:  c.Range.GT,
			Lte: c.Range.LTE,
			Lt:  c.Range.LT,
		}
	}

	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{Field: field},
	}
}

func qdrantMatch(value any) *qdrant.Match {
	switch v := value.(type) {
	case int:
		return &qdrant.Match{MatchValue: &qdrant.Match_Integer{Integer: int64(v)}}
	case int64:
		return &qdrant.Match{MatchValue: &qdrant.Match_Integer{Integer: v}}
	case bool:
		return &qdrant.Match{MatchValue: &qdrant.Match_Boolean{Boolean: v}}
	default:
		return &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: metadataString(value)}}
	}
}
