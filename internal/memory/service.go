package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fablesmith/storyd/internal/embedding"
	"github.com/fablesmith/storyd/internal/vectorstore"
)

// Producer executes resolved embedding configurations.
type Producer interface {
	EmbedDocuments(ctx context.Context, cfg embedding.Config, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, cfg embedding.Config, text string) ([]float32, error)
}

var _ Producer = (*embedding.Producer)(nil)

// SettingsSource supplies a user's stored embedding settings, the
// middle layer of configuration resolution. Implementations may return
// (nil, nil) when the user has none stored.
type SettingsSource interface {
	EmbeddingSettings(ctx context.Context, userID string) (*embedding.Settings, error)
}

// Config holds the service dependencies.
type Config struct {
	Store    vectorstore.Store
	Producer Producer
	Resolver *embedding.Resolver

	// Settings is optional; without it resolution uses only process
	// defaults and per-call overrides.
	Settings SettingsSource

	Logger *zap.Logger
}

// Service stores and retrieves narrative memories over a vector store.
type Service struct {
	store    vectorstore.Store
	producer Producer
	resolver *embedding.Resolver
	settings SettingsSource
	logger   *zap.Logger
}

// New creates a memory service.
func New(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidConfig)
	}
	if cfg.Producer == nil {
		return nil, fmt.Errorf("%w: producer is required", ErrInvalidConfig)
	}
	if cfg.Resolver == nil {
		return nil, fmt.Errorf("%w: resolver is required", ErrInvalidConfig)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		store:    cfg.Store,
		producer: cfg.Producer,
		resolver: cfg.Resolver,
		settings: cfg.Settings,
		logger:   logger,
	}, nil
}

// resolve merges the user's stored settings and the per-call override
// into a complete embedding configuration. A failing settings read
// degrades to process defaults rather than failing the operation.
func (s *Service) resolve(ctx context.Context, userID string, override *embedding.Settings) embedding.Config {
	var stored *embedding.Settings
	if s.settings != nil {
		var err error
		stored, err = s.settings.EmbeddingSettings(ctx, userID)
		if err != nil {
			s.logger.Warn("reading stored embedding settings failed, using defaults",
				zap.String("user_id", userID),
				zap.Error(err))
			stored = nil
		}
	}
	return s.resolver.Resolve(stored, override)
}

// fatalEmbedError reports whether an embedding failure must propagate
// instead of degrading to an empty result: broken configuration, a
// miscounted batch or an unloadable model mean no later call will fare
// better.
func fatalEmbedError(err error) bool {
	return errors.Is(err, embedding.ErrMissingAPIKey) ||
		errors.Is(err, embedding.ErrMissingBaseURL) ||
		errors.Is(err, embedding.ErrVectorCountMismatch) ||
		errors.Is(err, embedding.ErrModelLoad) ||
		errors.Is(err, embedding.ErrLocalNotAvailable)
}

// collectionMetadata records how a collection came to be, for
// diagnostics only.
func collectionMetadata(cfg embedding.Config) map[string]string {
	return map[string]string{
		"embedding_mode":  cfg.Mode,
		"embedding_model": cfg.Model,
	}
}

// Add ingests one memory. Returns false on any failure; the diagnostic
// goes to the log, never to the caller.
func (s *Service) Add(ctx context.Context, scope Scope, rec NewMemory, override *embedding.Settings) bool {
	if strings.TrimSpace(rec.Content) == "" {
		s.logger.Warn("rejecting memory with empty content",
			zap.String("project_id", scope.ProjectID),
			zap.String("memory_type", rec.Type))
		return false
	}

	cfg := s.resolve(ctx, scope.UserID, override)
	vectors, err := s.producer.EmbedDocuments(ctx, cfg, []string{rec.Content})
	if err != nil {
		s.logger.Warn("embedding memory failed",
			zap.String("project_id", scope.ProjectID),
			zap.Error(err))
		return false
	}

	name := CollectionName(scope.UserID, scope.ProjectID, cfg)
	if err := s.store.EnsureCollection(ctx, name, len(vectors[0]), collectionMetadata(cfg)); err != nil {
		s.logger.Warn("ensuring memory collection failed",
			zap.String("collection", name),
			zap.Error(err))
		return false
	}

	id := rec.ID
	if id == "" {
		id = uuid.NewString()
	}
	doc := vectorstore.Document{
		ID:       id,
		Content:  rec.Content,
		Vector:   vectors[0],
		Metadata: recordMetadata(rec, cfg.Model, time.Now()),
	}
	if err := s.store.Upsert(ctx, name, []vectorstore.Document{doc}); err != nil {
		s.logger.Warn("storing memory failed",
			zap.String("collection", name),
			zap.String("id", id),
			zap.Error(err))
		return false
	}

	s.logger.Info("memory added",
		zap.String("id", id),
		zap.String("memory_type", rec.Type),
		zap.Int("chapter", rec.ChapterNumber),
		zap.Float64("importance", metaFloat(doc.Metadata, metaImportance)))
	return true
}

// BatchAdd ingests many memories with a single embedding call. Records
// with empty content are dropped before embedding. Returns the number
// written: all kept records, or zero when anything fails, so batch
// indices never desynchronize from records.
func (s *Service) BatchAdd(ctx context.Context, scope Scope, recs []NewMemory, override *embedding.Settings) int {
	if len(recs) == 0 {
		return 0
	}

	kept := make([]NewMemory, 0, len(recs))
	for _, rec := range recs {
		if strings.TrimSpace(rec.Content) != "" {
			kept = append(kept, rec)
		}
	}
	if len(kept) == 0 {
		s.logger.Warn("batch add rejected, every record has empty content",
			zap.String("project_id", scope.ProjectID),
			zap.Int("records", len(recs)))
		return 0
	}

	cfg := s.resolve(ctx, scope.UserID, override)
	texts := make([]string, len(kept))
	for i, rec := range kept {
		texts[i] = rec.Content
	}
	vectors, err := s.producer.EmbedDocuments(ctx, cfg, texts)
	if err != nil {
		s.logger.Warn("batch embedding failed",
			zap.String("project_id", scope.ProjectID),
			zap.Int("records", len(kept)),
			zap.Error(err))
		return 0
	}

	name := CollectionName(scope.UserID, scope.ProjectID, cfg)
	if err := s.store.EnsureCollection(ctx, name, len(vectors[0]), collectionMetadata(cfg)); err != nil {
		s.logger.Warn("ensuring memory collection failed",
			zap.String("collection", name),
			zap.Error(err))
		return 0
	}

	now := time.Now()
	docs := make([]vectorstore.Document, len(kept))
	for i, rec := range kept {
		id := rec.ID
		if id == "" {
			id = uuid.NewString()
		}
		docs[i] = vectorstore.Document{
			ID:       id,
			Content:  rec.Content,
			Vector:   vectors[i],
			Metadata: recordMetadata(rec, cfg.Model, now),
		}
	}
	if err := s.store.Upsert(ctx, name, docs); err != nil {
		s.logger.Warn("storing memory batch failed",
			zap.String("collection", name),
			zap.Int("records", len(docs)),
			zap.Error(err))
		return 0
	}

	s.logger.Info("memory batch added",
		zap.String("collection", name),
		zap.Int("records", len(docs)))
	return len(kept)
}

// SearchQuery describes a semantic search.
type SearchQuery struct {
	Query string

	// Types restricts results to the given memory types. Empty means
	// all types.
	Types []string

	// MinImportance filters out records below the floor when positive.
	MinImportance float64

	// ChapterMin and ChapterMax bound chapter_number inclusively when
	// set.
	ChapterMin *int
	ChapterMax *int

	// Limit caps results; non-positive means DefaultSearchLimit.
	Limit int
}

// searchFilter composes the query's predicates. Zero predicates yield
// nil (unfiltered); the store layer renders one versus many predicates
// in whatever shape its backend needs.
func searchFilter(q SearchQuery) *vectorstore.Filter {
	var conds []vectorstore.Condition
	switch len(q.Types) {
	case 0:
	case 1:
		conds = append(conds, vectorstore.Eq(metaType, q.Types[0]))
	default:
		conds = append(conds, vectorstore.In(metaType, q.Types...))
	}
	if q.MinImportance > 0 {
		conds = append(conds, vectorstore.GTE(metaImportance, q.MinImportance))
	}
	if q.ChapterMin != nil {
		conds = append(conds, vectorstore.GTE(metaChapterNumber, float64(*q.ChapterMin)))
	}
	if q.ChapterMax != nil {
		conds = append(conds, vectorstore.LTE(metaChapterNumber, float64(*q.ChapterMax)))
	}
	return vectorstore.NewFilter(conds...)
}

// Search returns memories semantically similar to the query, ordered by
// descending similarity. Store-level failures and missing collections
// come back as empty results with a logged diagnostic; configuration
// errors, count mismatches and model load failures propagate.
func (s *Service) Search(ctx context.Context, scope Scope, q SearchQuery, override *embedding.Settings) ([]SearchResult, error) {
	if strings.TrimSpace(q.Query) == "" {
		s.logger.Warn("rejecting empty search query",
			zap.String("project_id", scope.ProjectID))
		return []SearchResult{}, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	cfg := s.resolve(ctx, scope.UserID, override)
	vector, err := s.producer.EmbedQuery(ctx, cfg, q.Query)
	if err != nil {
		if fatalEmbedError(err) {
			return nil, err
		}
		s.logger.Warn("embedding search query failed",
			zap.String("project_id", scope.ProjectID),
			zap.Error(err))
		return []SearchResult{}, nil
	}

	name := CollectionName(scope.UserID, scope.ProjectID, cfg)
	matches, err := s.store.Query(ctx, name, vector, limit, searchFilter(q))
	if err != nil {
		if errors.Is(err, vectorstore.ErrCollectionNotFound) {
			s.logger.Debug("no memory collection yet",
				zap.String("collection", name))
			return []SearchResult{}, nil
		}
		s.logger.Warn("memory search failed",
			zap.String("collection", name),
			zap.Error(err))
		return []SearchResult{}, nil
	}

	results := make([]SearchResult, 0, len(matches))
	for _, m := range matches {
		results = append(results, SearchResult{
			Record:     recordFromDocument(m.Document),
			Similarity: m.Score,
		})
	}
	s.logger.Debug("memory search completed",
		zap.String("collection", name),
		zap.Int("results", len(results)))
	return results, nil
}

// Get fetches one memory from the active collection by ID.
func (s *Service) Get(ctx context.Context, scope Scope, id string, override *embedding.Settings) (*Record, bool) {
	if id == "" {
		return nil, false
	}
	cfg := s.resolve(ctx, scope.UserID, override)
	name := CollectionName(scope.UserID, scope.ProjectID, cfg)

	doc, err := s.store.Get(ctx, name, id)
	if err != nil {
		if !errors.Is(err, vectorstore.ErrDocumentNotFound) && !errors.Is(err, vectorstore.ErrCollectionNotFound) {
			s.logger.Warn("fetching memory failed",
				zap.String("collection", name),
				zap.String("id", id),
				zap.Error(err))
		}
		return nil, false
	}
	rec := recordFromDocument(*doc)
	return &rec, true
}

// Update mutates a stored memory in the active collection. The vector
// is regenerated only when the content actually changed; metadata-only
// updates keep it. Returns false when the record is missing, the update
// is empty, or anything fails.
func (s *Service) Update(ctx context.Context, scope Scope, id string, upd Update, override *embedding.Settings) bool {
	if id == "" || upd.empty() {
		s.logger.Warn("rejecting empty memory update", zap.String("id", id))
		return false
	}

	cfg := s.resolve(ctx, scope.UserID, override)
	name := CollectionName(scope.UserID, scope.ProjectID, cfg)

	doc, err := s.store.Get(ctx, name, id)
	if err != nil {
		s.logger.Warn("memory to update not found",
			zap.String("collection", name),
			zap.String("id", id),
			zap.Error(err))
		return false
	}
	existing := recordFromDocument(*doc)

	next := existing
	if upd.Type != nil {
		next.Type = *upd.Type
	}
	if upd.ChapterID != nil {
		next.ChapterID = *upd.ChapterID
	}
	if upd.ChapterNumber != nil {
		next.ChapterNumber = *upd.ChapterNumber
	}
	if upd.Importance != nil {
		next.Importance = clamp01(*upd.Importance)
	}
	if upd.IsForeshadow != nil {
		next.IsForeshadow = *upd.IsForeshadow
	}
	if upd.Tags != nil {
		next.Tags = *upd.Tags
	}
	if upd.RelatedCharacters != nil {
		next.RelatedCharacters = *upd.RelatedCharacters
	}
	if upd.Title != nil {
		next.Title = truncateRunes(*upd.Title, maxMetaRunes)
	}

	vector := doc.Vector
	reembedded := false
	if upd.Content != nil && strings.TrimSpace(*upd.Content) != "" && *upd.Content != existing.Content {
		next.Content = *upd.Content
		vectors, err := s.producer.EmbedDocuments(ctx, cfg, []string{next.Content})
		if err != nil {
			s.logger.Warn("re-embedding updated memory failed",
				zap.String("id", id),
				zap.Error(err))
			return false
		}
		vector = vectors[0]
		next.EmbeddingModel = truncateRunes(cfg.Model, maxMetaRunes)
		reembedded = true
	}

	md := map[string]any{
		metaType:          next.Type,
		metaChapterID:     next.ChapterID,
		metaChapterNumber: next.ChapterNumber,
		metaImportance:    next.Importance,
		metaTags:          marshalList(next.Tags),
		metaTitle:         next.Title,
		metaForeshadow:    next.IsForeshadow,
		metaModel:         next.EmbeddingModel,
		metaCreatedAt:     metaString(doc.Metadata, metaCreatedAt),
	}
	if len(next.RelatedCharacters) > 0 {
		md[metaCharacters] = marshalList(next.RelatedCharacters)
	}

	updated := vectorstore.Document{ID: id, Content: next.Content, Vector: vector, Metadata: md}
	if err := s.store.Upsert(ctx, name, []vectorstore.Document{updated}); err != nil {
		s.logger.Warn("storing updated memory failed",
			zap.String("collection", name),
			zap.String("id", id),
			zap.Error(err))
		return false
	}

	s.logger.Info("memory updated",
		zap.String("id", id),
		zap.Bool("reembedded", reembedded))
	return true
}

// GetRecent returns important memories from the chapters just before
// currentChapter, for continuity. Window and floor default when
// non-positive. Results are sorted by (importance, chapter) descending
// and capped; failures return empty.
func (s *Service) GetRecent(ctx context.Context, scope Scope, currentChapter, window int, minImportance float64) []Record {
	if window <= 0 {
		window = DefaultRecentWindow
	}
	startChapter := currentChapter - window
	if startChapter < 1 {
		startChapter = 1
	}

	cfg := s.resolve(ctx, scope.UserID, nil)
	name := CollectionName(scope.UserID, scope.ProjectID, cfg)

	filter := vectorstore.NewFilter(
		vectorstore.GTE(metaChapterNumber, float64(startChapter)),
		vectorstore.LT(metaChapterNumber, float64(currentChapter)),
		vectorstore.GTE(metaImportance, minImportance),
	)
	docs, err := s.store.Scan(ctx, name, filter, recentFetchLimit)
	if err != nil {
		if !errors.Is(err, vectorstore.ErrCollectionNotFound) {
			s.logger.Warn("recent memory scan failed",
				zap.String("collection", name),
				zap.Error(err))
		}
		return []Record{}
	}

	records := make([]Record, 0, len(docs))
	for _, doc := range docs {
		records = append(records, recordFromDocument(doc))
	}
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Importance != records[j].Importance {
			return records[i].Importance > records[j].Importance
		}
		return records[i].ChapterNumber > records[j].ChapterNumber
	})
	if len(records) > recentReturnLimit {
		records = records[:recentReturnLimit]
	}

	s.logger.Debug("recent memories fetched",
		zap.Int("from_chapter", startChapter),
		zap.Int("before_chapter", currentChapter),
		zap.Int("results", len(records)))
	return records
}

// UnresolvedForeshadows returns planted, unresolved foreshadows from
// chapters before currentChapter, most important first. Failures return
// empty.
func (s *Service) UnresolvedForeshadows(ctx context.Context, scope Scope, currentChapter int) []Record {
	cfg := s.resolve(ctx, scope.UserID, nil)
	name := CollectionName(scope.UserID, scope.ProjectID, cfg)

	filter := vectorstore.NewFilter(
		vectorstore.Eq(metaForeshadow, ForeshadowPlanted),
		vectorstore.LT(metaChapterNumber, float64(currentChapter)),
	)
	docs, err := s.store.Scan(ctx, name, filter, foreshadowScanLimit)
	if err != nil {
		if !errors.Is(err, vectorstore.ErrCollectionNotFound) {
			s.logger.Warn("foreshadow scan failed",
				zap.String("collection", name),
				zap.Error(err))
		}
		return []Record{}
	}

	records := make([]Record, 0, len(docs))
	for _, doc := range docs {
		records = append(records, recordFromDocument(doc))
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Importance > records[j].Importance
	})

	s.logger.Debug("unresolved foreshadows fetched",
		zap.Int("before_chapter", currentChapter),
		zap.Int("results", len(records)))
	return records
}

// deleteWhere removes matching documents from every collection in the
// project's family and returns how many went away.
func (s *Service) deleteWhere(ctx context.Context, scope Scope, filter *vectorstore.Filter) (int, bool) {
	names, ok := s.projectCollections(ctx, scope)
	if !ok {
		return 0, false
	}

	deleted := 0
	for _, name := range names {
		docs, err := s.store.Scan(ctx, name, filter, 0)
		if err != nil {
			s.logger.Warn("delete scan failed",
				zap.String("collection", name),
				zap.Error(err))
			return deleted, false
		}
		if len(docs) == 0 {
			continue
		}
		ids := make([]string, len(docs))
		for i, doc := range docs {
			ids[i] = doc.ID
		}
		if err := s.store.Delete(ctx, name, nil, ids...); err != nil {
			s.logger.Warn("deleting memories failed",
				zap.String("collection", name),
				zap.Error(err))
			return deleted, false
		}
		deleted += len(ids)
	}
	return deleted, true
}

// DeleteForChapter removes every memory for a chapter number across the
// whole collection family. Returns the number removed.
func (s *Service) DeleteForChapter(ctx context.Context, scope Scope, chapterNumber int) int {
	deleted, ok := s.deleteWhere(ctx, scope, vectorstore.NewFilter(
		vectorstore.Eq(metaChapterNumber, chapterNumber),
	))
	if ok {
		s.logger.Info("chapter memories deleted",
			zap.Int("chapter", chapterNumber),
			zap.Int("deleted", deleted))
	}
	return deleted
}

// DeleteForChapterID removes every memory carrying the given chapter ID
// across the whole collection family. Returns the number removed.
func (s *Service) DeleteForChapterID(ctx context.Context, scope Scope, chapterID string) int {
	if chapterID == "" {
		return 0
	}
	deleted, ok := s.deleteWhere(ctx, scope, vectorstore.NewFilter(
		vectorstore.Eq(metaChapterID, chapterID),
	))
	if ok {
		s.logger.Info("chapter memories deleted",
			zap.String("chapter_id", chapterID),
			zap.Int("deleted", deleted))
	}
	return deleted
}

// DeleteForProject drops every collection in the project's family,
// including generations created under embedding configurations no
// longer in use. Returns true when the project holds no memories
// afterwards.
func (s *Service) DeleteForProject(ctx context.Context, scope Scope) bool {
	names, ok := s.projectCollections(ctx, scope)
	if !ok {
		return false
	}
	for _, name := range names {
		if err := s.store.DeleteCollection(ctx, name); err != nil {
			s.logger.Warn("deleting memory collection failed",
				zap.String("collection", name),
				zap.Error(err))
			return false
		}
		s.logger.Info("memory collection deleted", zap.String("collection", name))
	}
	return true
}

// projectCollections lists the project's collection family.
func (s *Service) projectCollections(ctx context.Context, scope Scope) ([]string, bool) {
	all, err := s.store.ListCollections(ctx)
	if err != nil {
		s.logger.Warn("listing collections failed", zap.Error(err))
		return nil, false
	}
	return familyNames(all, scope.UserID, scope.ProjectID), true
}

// Stats aggregates the active collection by full scan. Failures return
// zeroed stats.
func (s *Service) Stats(ctx context.Context, scope Scope) Stats {
	stats := Stats{
		ByType:    map[string]int{},
		ByChapter: map[int]int{},
	}
	if names, ok := s.projectCollections(ctx, scope); ok {
		stats.Collections = names
	}

	cfg := s.resolve(ctx, scope.UserID, nil)
	name := CollectionName(scope.UserID, scope.ProjectID, cfg)

	docs, err := s.store.Scan(ctx, name, nil, 0)
	if err != nil {
		if !errors.Is(err, vectorstore.ErrCollectionNotFound) {
			s.logger.Warn("stats scan failed",
				zap.String("collection", name),
				zap.Error(err))
		}
		return stats
	}

	stats.TotalCount = len(docs)
	for _, doc := range docs {
		rec := recordFromDocument(doc)
		memType := rec.Type
		if memType == "" {
			memType = "unknown"
		}
		stats.ByType[memType]++
		stats.ByChapter[rec.ChapterNumber]++
		switch rec.IsForeshadow {
		case ForeshadowPlanted:
			stats.ForeshadowPlanted++
		case ForeshadowResolved:
			stats.ForeshadowResolved++
		}
	}
	return stats
}

// Rebuild drops the project's whole collection family and re-ingests
// the given records in batches. batchSize is clamped into sane bounds;
// a failing batch contributes zero and the rebuild continues. The purge
// failing is the only hard error, since rebuilding on top of stale
// generations would duplicate memories.
func (s *Service) Rebuild(ctx context.Context, scope Scope, recs []NewMemory, batchSize int, override *embedding.Settings) (int, error) {
	if batchSize <= 0 {
		batchSize = defaultRebuildBatch
	}
	if batchSize < minRebuildBatch {
		batchSize = minRebuildBatch
	}
	if batchSize > maxRebuildBatch {
		batchSize = maxRebuildBatch
	}

	if !s.DeleteForProject(ctx, scope) {
		return 0, fmt.Errorf("purging project collections before rebuild failed")
	}
	if len(recs) == 0 {
		return 0, nil
	}

	rebuilt := 0
	batches := (len(recs) + batchSize - 1) / batchSize
	for i := 0; i < len(recs); i += batchSize {
		end := i + batchSize
		if end > len(recs) {
			end = len(recs)
		}
		added := s.BatchAdd(ctx, scope, recs[i:end], override)
		rebuilt += added
		s.logger.Info("rebuild progress",
			zap.String("project_id", scope.ProjectID),
			zap.Int("batch", i/batchSize+1),
			zap.Int("batches", batches),
			zap.Int("added", added),
			zap.Int("total_added", rebuilt))
	}
	return rebuilt, nil
}
