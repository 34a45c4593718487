package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const chromemTracerName = "github.com/fablesmith/storyd/internal/vectorstore"

// sizesFileName is the sidecar file recording each collection's vector
// size. chromem has no API to recover the dimensionality of a persisted
// collection, and metadata scans need a probe vector of the right size.
const sizesFileName = "vector-sizes.json"

// ChromemConfig configures the embedded chromem backend.
type ChromemConfig struct {
	// Path is the persistence directory. Empty keeps everything in
	// memory, which is only useful in tests.
	Path string

	// Compress enables gzip compression of persisted documents.
	Compress bool
}

// ChromemStore is an embedded, pure-Go Store backed by chromem-go.
//
// Vectors are L2-normalized on write and on query, so reported scores are
// plain cosine similarity in both backends.
type ChromemStore struct {
	db     *chromem.DB
	path   string
	logger *zap.Logger
	tracer trace.Tracer

	mu    sync.Mutex
	sizes map[string]int
}

var _ Store = (*ChromemStore)(nil)

// NewChromemStore opens or creates a chromem database.
func NewChromemStore(cfg ChromemConfig, logger *zap.Logger) (*ChromemStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		db  *chromem.DB
		err error
	)
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("opening chromem db at %s: %w", cfg.Path, err)
		}
	}

	s := &ChromemStore{
		db:     db,
		path:   cfg.Path,
		logger: logger,
		tracer: otel.Tracer(chromemTracerName),
		sizes:  make(map[string]int),
	}
	if err := s.loadSizes(); err != nil {
		return nil, err
	}
	return s, nil
}

// rejectEmbed is handed to chromem so a document that slips through
// without a vector fails loudly instead of calling out to OpenAI, which
// is chromem's default embedding function.
func rejectEmbed(context.Context, string) ([]float32, error) {
	return nil, errors.New("documents must carry precomputed vectors")
}

// EnsureCollection creates the collection if missing and records its
// vector size.
func (s *ChromemStore) EnsureCollection(ctx context.Context, name string, vectorSize int, metadata map[string]string) (err error) {
	ctx, span := s.startSpan(ctx, "EnsureCollection", name)
	defer func() { s.endSpan(span, err) }()

	if name == "" {
		return fmt.Errorf("%w: collection name is empty", ErrInvalidConfig)
	}
	if vectorSize <= 0 {
		return fmt.Errorf("%w: vector size must be positive, got %d", ErrInvalidConfig, vectorSize)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if known, ok := s.sizes[name]; ok && known != vectorSize {
		return fmt.Errorf("collection %s has vector size %d, requested %d", name, known, vectorSize)
	}

	if _, err := s.db.GetOrCreateCollection(name, metadata, rejectEmbed); err != nil {
		return fmt.Errorf("creating collection %s: %w", name, err)
	}
	return s.recordSizeLocked(name, vectorSize)
}

// DeleteCollection removes the collection. Missing collections are a no-op.
func (s *ChromemStore) DeleteCollection(ctx context.Context, name string) (err error) {
	start := time.Now()
	ctx, span := s.startSpan(ctx, "DeleteCollection", name)
	defer func() { s.endSpan(span, err) }()
	defer func() { observeOp("chromem", "delete_collection", start, err) }()

	if err := s.db.DeleteCollection(name); err != nil {
		return fmt.Errorf("deleting collection %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sizes, name)
	return s.saveSizesLocked()
}

// ListCollections returns all collection names, sorted.
func (s *ChromemStore) ListCollections(ctx context.Context) (names []string, err error) {
	ctx, span := s.startSpan(ctx, "ListCollections", "")
	defer func() { s.endSpan(span, err) }()

	for name := range s.db.ListCollections() {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Count returns the number of documents in the collection.
func (s *ChromemStore) Count(ctx context.Context, name string) (n int, err error) {
	ctx, span := s.startSpan(ctx, "Count", name)
	defer func() { s.endSpan(span, err) }()

	col := s.db.GetCollection(name, rejectEmbed)
	if col == nil {
		return 0, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	return col.Count(), nil
}

// Upsert inserts or replaces documents by ID.
func (s *ChromemStore) Upsert(ctx context.Context, name string, docs []Document) (err error) {
	start := time.Now()
	ctx, span := s.startSpan(ctx, "Upsert", name)
	span.SetAttributes(attribute.Int("documents", len(docs)))
	defer func() { s.endSpan(span, err) }()
	defer func() { observeOp("chromem", "upsert", start, err) }()

	if len(docs) == 0 {
		return ErrEmptyDocuments
	}

	col := s.db.GetCollection(name, rejectEmbed)
	if col == nil {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}

	size := s.knownSize(name)
	converted := make([]chromem.Document, 0, len(docs))
	for _, doc := range docs {
		if doc.ID == "" {
			return ErrMissingID
		}
		if len(doc.Vector) == 0 {
			return fmt.Errorf("%w: %s", ErrMissingVector, doc.ID)
		}
		if size > 0 && len(doc.Vector) != size {
			return fmt.Errorf("document %s has vector size %d, collection %s expects %d", doc.ID, len(doc.Vector), name, size)
		}
		converted = append(converted, chromem.Document{
			ID:        doc.ID,
			Content:   doc.Content,
			Metadata:  metadataToStrings(doc.Metadata),
			Embedding: normalize(doc.Vector),
		})
	}

	if err := col.AddDocuments(ctx, converted, 1); err != nil {
		return fmt.Errorf("adding documents to %s: %w", name, err)
	}

	// Self-heal the size registry from observed vectors; the sidecar may
	// be missing after a manual copy of the data directory.
	if size == 0 {
		s.mu.Lock()
		err = s.recordSizeLocked(name, len(docs[0].Vector))
		s.mu.Unlock()
		if err != nil {
			return err
		}
	}

	documentsUpserted.WithLabelValues("chromem").Add(float64(len(docs)))
	return nil
}

// Get retrieves a single document by ID.
func (s *ChromemStore) Get(ctx context.Context, name string, id string) (doc *Document, err error) {
	ctx, span := s.startSpan(ctx, "Get", name)
	defer func() { s.endSpan(span, err) }()

	col := s.db.GetCollection(name, rejectEmbed)
	if col == nil {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}

	found, err := col.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	return &Document{
		ID:       found.ID,
		Content:  found.Content,
		Vector:   found.Embedding,
		Metadata: metadataFromStrings(found.Metadata),
	}, nil
}

// Query returns the k most similar documents matching the filter.
func (s *ChromemStore) Query(ctx context.Context, name string, vector []float32, k int, filter *Filter) (matches []Match, err error) {
	start := time.Now()
	ctx, span := s.startSpan(ctx, "Query", name)
	span.SetAttributes(attribute.Int("k", k))
	defer func() { s.endSpan(span, err) }()
	defer func() { observeOp("chromem", "query", start, err) }()

	col := s.db.GetCollection(name, rejectEmbed)
	if col == nil {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	if k <= 0 {
		return nil, nil
	}

	total := col.Count()
	if total == 0 {
		return nil, nil
	}

	// chromem's where clause only supports string equality; range and
	// set-membership conditions are evaluated here after an over-fetch.
	where, residual := splitEqualityConditions(filter)
	fetch := k
	if residual {
		fetch = total
	}
	if fetch > total {
		fetch = total
	}

	results, err := col.QueryEmbedding(ctx, normalize(vector), fetch, where, nil)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", name, err)
	}

	for _, res := range results {
		metadata := metadataFromStrings(res.Metadata)
		if residual && !filter.Matches(metadata) {
			continue
		}
		matches = append(matches, Match{
			Document: Document{
				ID:       res.ID,
				Content:  res.Content,
				Vector:   res.Embedding,
				Metadata: metadata,
			},
			Score: res.Similarity,
		})
		if len(matches) == k {
			break
		}
	}
	return matches, nil
}

// Scan returns documents matching the filter without ranking. The scan
// runs a similarity query with a fixed probe vector, which requires the
// collection's vector size to be known.
func (s *ChromemStore) Scan(ctx context.Context, name string, filter *Filter, limit int) (docs []Document, err error) {
	start := time.Now()
	ctx, span := s.startSpan(ctx, "Scan", name)
	defer func() { s.endSpan(span, err) }()
	defer func() { observeOp("chromem", "scan", start, err) }()

	col := s.db.GetCollection(name, rejectEmbed)
	if col == nil {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}

	total := col.Count()
	if total == 0 {
		return nil, nil
	}

	size := s.knownSize(name)
	if size == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVectorSize, name)
	}
	probe := make([]float32, size)
	probe[0] = 1

	where, residual := splitEqualityConditions(filter)
	results, err := col.QueryEmbedding(ctx, probe, total, where, nil)
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", name, err)
	}

	for _, res := range results {
		metadata := metadataFromStrings(res.Metadata)
		if residual && !filter.Matches(metadata) {
			continue
		}
		docs = append(docs, Document{
			ID:       res.ID,
			Content:  res.Content,
			Vector:   res.Embedding,
			Metadata: metadata,
		})
		if limit > 0 && len(docs) == limit {
			break
		}
	}
	return docs, nil
}

// Delete removes documents by ID or filter.
func (s *ChromemStore) Delete(ctx context.Context, name string, filter *Filter, ids ...string) (err error) {
	start := time.Now()
	ctx, span := s.startSpan(ctx, "Delete", name)
	defer func() { s.endSpan(span, err) }()
	defer func() { observeOp("chromem", "delete", start, err) }()

	if filter == nil && len(ids) == 0 {
		return ErrEmptySelector
	}

	col := s.db.GetCollection(name, rejectEmbed)
	if col == nil {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}

	where, residual := splitEqualityConditions(filter)
	if residual {
		// Resolve non-equality conditions to explicit IDs first.
		matched, err := s.Scan(ctx, name, filter, 0)
		if err != nil {
			return err
		}
		for _, doc := range matched {
			ids = append(ids, doc.ID)
		}
		if len(ids) == 0 {
			return nil
		}
		where = nil
	}

	if err := col.Delete(ctx, where, nil, ids...); err != nil {
		return fmt.Errorf("deleting from %s: %w", name, err)
	}
	return nil
}

// Close is a no-op; chromem persists synchronously.
func (s *ChromemStore) Close() error {
	return nil
}

func (s *ChromemStore) startSpan(ctx context.Context, op, collection string) (context.Context, trace.Span) {
	ctx, span := s.tracer.Start(ctx, "vectorstore."+op)
	if collection != "" {
		span.SetAttributes(attribute.String("collection", collection))
	}
	return ctx, span
}

func (s *ChromemStore) endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (s *ChromemStore) knownSize(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sizes[name]
}

func (s *ChromemStore) recordSizeLocked(name string, size int) error {
	if s.sizes[name] == size {
		return nil
	}
	s.sizes[name] = size
	return s.saveSizesLocked()
}

func (s *ChromemStore) loadSizes() error {
	if s.path == "" {
		return nil
	}
	content, err := os.ReadFile(filepath.Join(s.path, sizesFileName))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", sizesFileName, err)
	}
	if err := json.Unmarshal(content, &s.sizes); err != nil {
		return fmt.Errorf("parsing %s: %w", sizesFileName, err)
	}
	return nil
}

func (s *ChromemStore) saveSizesLocked() error {
	if s.path == "" {
		return nil
	}
	content, err := json.Marshal(s.sizes)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", sizesFileName, err)
	}
	if err := os.WriteFile(filepath.Join(s.path, sizesFileName), content, 0600); err != nil {
		return fmt.Errorf("writing %s: %w", sizesFileName, err)
	}
	return nil
}

// splitEqualityConditions extracts the conditions chromem can evaluate
// natively. The bool reports whether any condition remains for
// client-side evaluation.
func splitEqualityConditions(f *Filter) (map[string]string, bool) {
	if f == nil {
		return nil, false
	}
	var where map[string]string
	residual := false
	for _, c := range f.Must {
		if c.Equals != nil {
			if where == nil {
				where = make(map[string]string)
			}
			where[c.Field] = metadataString(c.Equals)
			continue
		}
		residual = true
	}
	return where, residual
}

// metadataToStrings converts typed metadata to chromem's string-only form.
func metadataToStrings(metadata map[string]any) map[string]string {
	if len(metadata) == 0 {
		return nil
	}
	out := make(map[string]string, len(metadata))
	for k, v := range metadata {
		out[k] = metadataString(v)
	}
	return out
}

// metadataFromStrings lifts chromem metadata back into the generic form.
// Values stay strings; filters coerce them as needed.
func metadataFromStrings(metadata map[string]string) map[string]any {
	if len(metadata) == 0 {
		return nil
	}
	out := make(map[string]any, len(metadata))
	for k, v := range metadata {
		out[k] = v
	}
	return out
}

// normalize L2-normalizes a vector, returning it unchanged when already
// unit length.
func normalize(vector []float32) []float32 {
	var sum float64
	for _, v := range vector {
		sum += float64(v) * float64(v)
	}
	norm := math.Sqrt(sum)
	if norm == 0 || math.Abs(norm-1) < 1e-6 {
		return vector
	}
	out := make([]float32, len(vector))
	for i, v := range vector {
		out[i] = float32(float64(v) / norm)
	}
	return out
}
