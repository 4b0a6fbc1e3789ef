// Package kb is the knowledge-base store: it ties the scanner, chunker, and
// embedding service together over a vector collection, and owns the durable
// sidecar state (manifest, attribution index, event log, snapshots).
package kb

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mnemo/internal/chunker"
	"mnemo/internal/config"
	"mnemo/internal/scanner"
	"mnemo/internal/store"
)

// Metadata keys written on every chunk record.
const (
	metaSourcePath     = "source_path"
	metaSourceSHA      = "source_sha256"
	metaSummary        = "summary"
	metaKind           = "chunk_kind"
	metaLanguage       = "language"
	metaStartLine      = "start_line"
	metaEndLine        = "end_line"
	metaCreatedBy      = "created_by"
	metaModifiedBy     = "modified_by"
	metaRelatedChanges = "related_changes"
	metaRelatedTasks   = "related_tasks"
)

// Embedder is the slice of the embedding service manager the store needs.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	ActiveModel(ctx context.Context) (string, error)
}

// Store is the knowledge-base façade. It is not safe for concurrent use;
// one process updates a project at a time.
type Store struct {
	root     string
	cfg      *config.Config
	col      store.Collection
	chunker  *chunker.SmartChunker
	embedder Embedder
	log      *zap.Logger

	manifest *Manifest
	events   *EventLog
}

// UpdateStats summarizes one update cycle.
type UpdateStats struct {
	Report        scanner.Report
	FilesAdded    int
	FilesChanged  int
	FilesRemoved  int
	ChunksWritten int
	Fallbacks     int
}

// Open loads the durable state for a project and returns a ready store.
func Open(projectRoot string, cfg *config.Config, col store.Collection, ch *chunker.SmartChunker, emb Embedder, log *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(config.Dir(projectRoot), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	manifest, err := LoadManifest(ManifestPath(projectRoot))
	if err != nil {
		return nil, err
	}
	return &Store{
		root:     projectRoot,
		cfg:      cfg,
		col:      col,
		chunker:  ch,
		embedder: emb,
		log:      log,
		manifest: manifest,
		events:   NewEventLog(EventLogPath(projectRoot)),
	}, nil
}

// Manifest exposes the loaded manifest for status reporting.
func (s *Store) Manifest() *Manifest { return s.manifest }

// EventCount reports how many events are pending compaction.
func (s *Store) EventCount() (int, error) { return s.events.Count() }

// Close releases the vector collection.
func (s *Store) Close() error { return s.col.Close() }

// Update runs one full incremental cycle: scan, diff against the manifest,
// chunk and embed the added and changed files, drop removed ones, then
// persist the manifest. Fallback chunking degrades per file; scan or
// embedding failures abort the cycle before any state is written.
func (s *Store) Update(ctx context.Context, attr Attribution) (*UpdateStats, error) {
	files, report, err := scanner.Scan(s.root, scanner.Settings{
		MaxFileBytes:    s.cfg.Scanner.MaxFileBytes,
		ReferencePrefix: s.cfg.Scanner.ReferencePrefix,
	}, s.log)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}

	byPath := make(map[string]scanner.ScannedFile, len(files))
	for _, f := range files {
		byPath[f.RelPath] = f
	}

	current := scanner.BuildFileHashMap(files)
	added, changed, removed := scanner.DiffFileHashMap(s.manifest.Files, current)

	stats := &UpdateStats{
		Report:       report,
		FilesAdded:   len(added),
		FilesChanged: len(changed),
		FilesRemoved: len(removed),
	}
	s.log.Info("scan diff",
		zap.Int("added", len(added)),
		zap.Int("changed", len(changed)),
		zap.Int("removed", len(removed)))

	work := append(append([]string{}, added...), changed...)
	results, err := s.chunkAll(ctx, work, byPath)
	if err != nil {
		return nil, err
	}

	var chunks []chunker.Chunk
	for _, res := range results {
		if res.Status != chunker.StatusSuccess {
			stats.Fallbacks++
			s.log.Warn("chunking degraded",
				zap.String("path", res.SourcePath),
				zap.String("status", string(res.Status)),
				zap.String("err", res.Err))
		}
		chunks = append(chunks, res.Chunks...)
	}

	embeddings, err := s.embedAll(ctx, chunks)
	if err != nil {
		return nil, err
	}

	// A hand-deleted sidecar must not reset provenance: rebuild missing
	// entries from the collection's metadata before those records go away.
	if err := s.reconcileAttribution(changed); err != nil {
		return nil, err
	}

	// Changed paths are cleared too: a file may now produce fewer chunks
	// than it had, including none at all.
	if stale := append(append([]string{}, removed...), changed...); len(stale) > 0 {
		if err := s.col.Delete(store.Filter{SourcePaths: stale}); err != nil {
			return nil, fmt.Errorf("delete stale records: %w", err)
		}
		for _, path := range removed {
			if err := s.AppendEvent(Event{Type: EventFileRemove, Path: path, Writer: attr.Writer}); err != nil {
				return nil, err
			}
		}
	}

	if err := s.UpsertChunks(ctx, chunks, embeddings, attr); err != nil {
		return nil, err
	}
	stats.ChunksWritten = len(chunks)

	model, err := s.activeModel(ctx, len(chunks) > 0)
	if err != nil {
		return nil, err
	}
	if err := s.UpdateManifestFiles(added, changed, removed, current, model); err != nil {
		return nil, err
	}

	if err := s.AppendEvent(Event{
		Type:   EventScanComplete,
		Count:  report.Scanned,
		Writer: attr.Writer,
		Change: attr.Change,
		Task:   attr.Task,
	}); err != nil {
		return nil, err
	}
	return stats, nil
}

// chunkAll fans the files out over a bounded worker pool. Results come back
// in input order regardless of completion order.
func (s *Store) chunkAll(ctx context.Context, paths []string, byPath map[string]scanner.ScannedFile) ([]chunker.Result, error) {
	results := make([]chunker.Result, len(paths))

	workers := s.cfg.Chunking.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, path := range paths {
		g.Go(func() error {
			file := byPath[path]
			src, err := os.ReadFile(file.Path)
			if err != nil {
				// The file disappeared between scan and read; treat it
				// as empty rather than aborting the whole cycle.
				s.log.Warn("read failed after scan", zap.String("path", path), zap.Error(err))
				results[i] = chunker.Result{SourcePath: path, Status: chunker.StatusFallbackEmpty, Err: err.Error()}
				return nil
			}
			results[i] = s.chunker.ChunkFile(gctx, file, src)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// embedAll embeds chunk texts in batches, returning one vector per chunk
// in chunk order.
func (s *Store) embedAll(ctx context.Context, chunks []chunker.Chunk) ([][]float32, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	batchSize := s.cfg.Embedding.BatchSize
	if batchSize <= 0 {
		batchSize = 32
	}
	vectors := make([][]float32, 0, len(chunks))
	for start := 0; start < len(chunks); start += batchSize {
		end := min(start+batchSize, len(chunks))
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Text)
		}
		batch, err := s.embedder.EmbedTexts(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embed batch at %d: %w", start, err)
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

func (s *Store) activeModel(ctx context.Context, embedded bool) (string, error) {
	if !embedded {
		return "", nil
	}
	return s.embedder.ActiveModel(ctx)
}

// UpsertChunks writes chunks and their vectors into the collection, merging
// attribution with whatever provenance each source path already carries.
// Per path the old records are dropped first so a shrinking chunk count
// leaves no stale entries behind.
func (s *Store) UpsertChunks(ctx context.Context, chunks []chunker.Chunk, embeddings [][]float32, attr Attribution) error {
	if len(chunks) != len(embeddings) {
		return fmt.Errorf("have %d chunks but %d embeddings", len(chunks), len(embeddings))
	}
	if len(chunks) == 0 {
		return nil
	}

	idx, err := LoadAttributionIndex(AttributionPath(s.root))
	if err != nil {
		return err
	}

	order, grouped := groupByPath(chunks, embeddings)
	for _, path := range order {
		group := grouped[path]
		rec, ok := idx.Files[path]
		if !ok {
			if rec = s.priorAttribution(path); rec == nil {
				rec = &AttributionRecord{}
			}
			idx.Files[path] = rec
		}
		rec.Merge(attr)

		ids := make([]string, len(group.chunks))
		docs := make([]string, len(group.chunks))
		metas := make([]map[string]string, len(group.chunks))
		for i, c := range group.chunks {
			ids[i] = c.ID
			docs[i] = c.Text
			metas[i] = map[string]string{
				metaSourcePath:     c.SourcePath,
				metaSourceSHA:      c.SourceSHA256,
				metaSummary:        c.Summary,
				metaKind:           c.Kind,
				metaLanguage:       c.Language,
				metaStartLine:      strconv.Itoa(c.StartLine),
				metaEndLine:        strconv.Itoa(c.EndLine),
				metaCreatedBy:      rec.CreatedBy,
				metaModifiedBy:     encodeList(rec.ModifiedBy),
				metaRelatedChanges: encodeList(rec.RelatedChanges),
				metaRelatedTasks:   encodeList(rec.RelatedTasks),
			}
		}

		if err := s.col.Delete(store.Filter{SourcePath: path}); err != nil {
			return fmt.Errorf("clear %s: %w", path, err)
		}
		if err := s.col.Upsert(ids, docs, metas, group.embeddings); err != nil {
			return fmt.Errorf("upsert %s: %w", path, err)
		}
		if err := s.AppendEvent(Event{
			Type:   EventChunksUpsert,
			Path:   path,
			Count:  len(group.chunks),
			Writer: attr.Writer,
			Change: attr.Change,
			Task:   attr.Task,
		}); err != nil {
			return err
		}
	}
	return idx.Save(AttributionPath(s.root))
}

// priorAttribution rebuilds a provenance record for a path from the
// denormalized metadata already stored in the collection. Returns nil when
// the collection holds nothing usable for the path.
func (s *Store) priorAttribution(path string) *AttributionRecord {
	recs, err := s.col.Get(store.Filter{SourcePath: path}, []string{store.FieldMetadata})
	if err != nil || len(recs) == 0 {
		return nil
	}
	md := recs[0].Metadata
	if md[metaCreatedBy] == "" {
		return nil
	}
	return &AttributionRecord{
		CreatedBy:      md[metaCreatedBy],
		ModifiedBy:     decodeList(md[metaModifiedBy]),
		RelatedChanges: decodeList(md[metaRelatedChanges]),
		RelatedTasks:   decodeList(md[metaRelatedTasks]),
	}
}

// reconcileAttribution backfills sidecar entries for paths whose records are
// about to be cleared from the collection.
func (s *Store) reconcileAttribution(paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	idx, err := LoadAttributionIndex(AttributionPath(s.root))
	if err != nil {
		return err
	}
	dirty := false
	for _, path := range paths {
		if _, ok := idx.Files[path]; ok {
			continue
		}
		if prior := s.priorAttribution(path); prior != nil {
			idx.Files[path] = prior
			dirty = true
		}
	}
	if !dirty {
		return nil
	}
	return idx.Save(AttributionPath(s.root))
}

type pathGroup struct {
	chunks     []chunker.Chunk
	embeddings [][]float32
}

// groupByPath partitions parallel chunk and embedding slices by source
// path, preserving first-seen path order.
func groupByPath(chunks []chunker.Chunk, embeddings [][]float32) ([]string, map[string]*pathGroup) {
	var order []string
	grouped := make(map[string]*pathGroup)
	for i, c := range chunks {
		g, ok := grouped[c.SourcePath]
		if !ok {
			g = &pathGroup{}
			grouped[c.SourcePath] = g
			order = append(order, c.SourcePath)
		}
		g.chunks = append(g.chunks, c)
		g.embeddings = append(g.embeddings, embeddings[i])
	}
	return order, grouped
}

// UpdateManifestFiles merges a scan diff into the manifest file table,
// stamps the scan time, and persists the whole manifest atomically. An
// empty model leaves the recorded embedding info untouched.
func (s *Store) UpdateManifestFiles(added, changed, removed []string, current map[string]string, model string) error {
	for _, path := range removed {
		delete(s.manifest.Files, path)
	}
	for _, path := range added {
		s.manifest.Files[path] = current[path]
	}
	for _, path := range changed {
		s.manifest.Files[path] = current[path]
	}
	s.manifest.LastScanAt = time.Now().UTC()
	if model != "" {
		s.manifest.Embedding = EmbeddingInfo{Provider: "ollama", Model: model}
	}
	return s.manifest.Save(ManifestPath(s.root))
}

// AppendEvent records one event in the append-only log.
func (s *Store) AppendEvent(ev Event) error {
	return s.events.Append(ev)
}

// Search embeds the query through the running service and returns the k
// nearest chunks.
func (s *Store) Search(ctx context.Context, query string, k int) ([]store.ScoredRecord, error) {
	vectors, err := s.embedder.EmbedTexts(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("expected one query vector, got %d", len(vectors))
	}
	return s.col.Query(vectors[0], k)
}

// Compact snapshots the event log and truncates it. The snapshot is synced
// to disk before the live log is touched, so a crash in between leaves the
// events duplicated, never lost. An empty log still yields a meta-only
// snapshot recording the compaction.
func (s *Store) Compact() (string, error) {
	lines, err := s.events.ReadAll()
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	path, err := writeSnapshot(SnapshotsDir(s.root), snapshotMeta{
		TS:             now,
		EventsCount:    len(lines),
		EmbeddingModel: s.manifest.Embedding.Model,
	}, lines)
	if err != nil {
		return "", err
	}

	if err := s.events.Clear(); err != nil {
		return "", fmt.Errorf("truncate event log: %w", err)
	}
	s.manifest.LastCompactAt = now
	if err := s.manifest.Save(ManifestPath(s.root)); err != nil {
		return "", err
	}
	s.log.Info("compacted event log",
		zap.Int("events", len(lines)),
		zap.String("snapshot", path))
	return path, nil
}
