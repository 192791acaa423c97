// Package codelens is the top-level facade wiring the whole pipeline into
// a single engine: open a workspace, index it, watch it, and answer
// retrieval queries.
package codelens

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ferret-index/codelens/internal/apperr"
	"github.com/ferret-index/codelens/internal/chunk"
	"github.com/ferret-index/codelens/internal/config"
	"github.com/ferret-index/codelens/internal/embed"
	"github.com/ferret-index/codelens/internal/filter"
	"github.com/ferret-index/codelens/internal/graph"
	"github.com/ferret-index/codelens/internal/index"
	"github.com/ferret-index/codelens/internal/retrieve"
	"github.com/ferret-index/codelens/internal/scanner"
	"github.com/ferret-index/codelens/internal/store"
	"github.com/ferret-index/codelens/internal/watcher"
)

const (
	vectorsDBName   = "vectors.db"
	vectorsHNSWName = "vectors.hnsw"
	modelsDirName   = "models"
)

// Engine wires the full pipeline for one workspace.
type Engine struct {
	root     string
	stateDir string
	cfg      *config.Config

	chunks   store.ChunkStore
	vectors  store.VectorStore
	embedder embed.Embedder

	graph     *graph.Graph
	coord     *index.Coordinator
	retriever *retrieve.Engine

	watchMu sync.Mutex
	watch   *watcher.HybridWatcher

	// lastMigration holds the result of the legacy-state migration run
	// during Open, if a legacy blob was present. Nil when there was
	// nothing to migrate.
	lastMigration *MigrationResult
}

// Open loads (or initializes) a workspace's persisted state and returns a
// ready-to-use Engine. root is resolved to its project root via
// config.FindProjectRoot first.
func Open(ctx context.Context, root string) (*Engine, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, apperr.Wrap(apperr.IOFailure, err, "failed to resolve workspace path")
	}
	if projectRoot, err := config.FindProjectRoot(absRoot); err == nil {
		absRoot = projectRoot
	}

	stateDir := filepath.Join(absRoot, filter.StateDirName)
	if err := os.MkdirAll(filepath.Join(stateDir, modelsDirName), 0o755); err != nil {
		return nil, apperr.Wrap(apperr.IOFailure, err, "failed to create state directory")
	}

	cfg, err := config.Load(absRoot)
	if err != nil {
		return nil, apperr.Wrap(apperr.InvalidArgument, err, "failed to load configuration")
	}

	// SQLiteChunkStore manages its own cross-process advisory lock
	// (.codelens-context/codelens.lock) alongside the database file, so the
	// engine doesn't take a second, independent lock on the same path.
	chunks, err := store.NewSQLiteChunkStore(filepath.Join(stateDir, vectorsDBName), cfg.Embeddings.Dimensions)
	if err != nil {
		return nil, err
	}

	vcfg := store.DefaultVectorStoreConfig(cfg.Embeddings.Dimensions)
	if cfg.Performance.ANNMaxElements > 0 {
		vcfg.MaxElements = cfg.Performance.ANNMaxElements
	}
	vectors, err := store.NewHNSWStore(vcfg)
	if err != nil {
		_ = chunks.Close()
		return nil, err
	}
	hnswPath := filepath.Join(stateDir, vectorsHNSWName)
	if _, statErr := os.Stat(hnswPath); statErr == nil {
		if err := vectors.Load(hnswPath); err != nil {
			slog.Warn("failed to load ANN index, rebuilding it from the chunk store",
				slog.String("path", hnswPath), slog.String("error", err.Error()))
			if err := vectors.RebuildFrom(ctx, func(visit func(store.IndexedChunk) error) error {
				return chunks.IterateChunks(ctx, visit)
			}); err != nil {
				slog.Warn("ANN rebuild from the chunk store failed", slog.String("error", err.Error()))
			}
		}
	}

	base := embed.NewStaticEmbedderWithDimensions(cfg.Embeddings.Dimensions)
	cacheSize := cfg.Embeddings.QueryCacheSize
	var cached embed.Embedder
	if cacheSize > 0 {
		cached = embed.NewCachedEmbedder(base, cacheSize)
	} else {
		cached = embed.NewCachedEmbedderWithDefaults(base)
	}
	pool := embed.NewPool(cached, cfg.WorkerCount(), 0)

	// Model readiness is the one failure retried before being declared
	// fatal: five backoff attempts, then ModelInitFailure kills the open.
	if err := apperr.Retry(ctx, apperr.DefaultRetryConfig(), func() error {
		if !pool.Available(ctx) {
			return apperr.New(apperr.ModelInitFailure, "embedding model is not available")
		}
		return nil
	}); err != nil {
		_ = pool.Close()
		_ = vectors.Close()
		_ = chunks.Close()
		return nil, err
	}

	pathFilter := filter.New()
	if cfg.Performance.MaxFileSizeBytes > 0 {
		pathFilter.MaxFileSize = cfg.Performance.MaxFileSizeBytes
	}

	sc, err := scanner.NewWithFilter(pathFilter)
	if err != nil {
		_ = pool.Close()
		_ = vectors.Close()
		_ = chunks.Close()
		return nil, err
	}

	g := graph.New()

	coord := index.New(index.Config{
		RootPath:    absRoot,
		Store:       chunks,
		Vectors:     vectors,
		Embedder:    pool,
		CodeChunker: chunk.NewCodeChunker(),
		MDChunker:   chunk.NewMarkdownChunker(),
		Registry:    chunk.DefaultRegistry(),
		Filter:      pathFilter,
		Scanner:     sc,
		Settings:    cfg,
		Graph:       g,
	})

	retriever := retrieve.New(pool, vectors, chunks, g)

	e := &Engine{
		root:      absRoot,
		stateDir:  stateDir,
		cfg:       cfg,
		chunks:    chunks,
		vectors:   vectors,
		embedder:  pool,
		graph:     g,
		coord:     coord,
		retriever: retriever,
	}

	migrated, err := migrateLegacyState(ctx, absRoot, stateDir, chunks, vectors)
	if err != nil {
		slog.Warn("legacy state migration failed", slog.String("error", err.Error()))
	}
	e.lastMigration = migrated

	return e, nil
}

// LastMigration returns the result of the migration run performed when this
// Engine was opened, if any.
func (e *Engine) LastMigration() *MigrationResult {
	return e.lastMigration
}

// IndexWorkspace runs a full scan-and-index pass.
func (e *Engine) IndexWorkspace(ctx context.Context, force bool) (*index.Stats, error) {
	return e.coord.IndexWorkspace(ctx, force)
}

// IndexFiles re-indexes specific workspace-relative paths.
func (e *Engine) IndexFiles(ctx context.Context, paths []string) (*index.Stats, error) {
	return e.coord.IndexFiles(ctx, paths)
}

// RemoveFiles removes specific workspace-relative paths from the index.
func (e *Engine) RemoveFiles(ctx context.Context, paths []string) (*index.Stats, error) {
	return e.coord.RemoveFiles(ctx, paths)
}

// Clear drops all indexed state and rebuilds an empty ANN index.
func (e *Engine) Clear(ctx context.Context) error {
	return e.coord.Clear(ctx)
}

// Rebuild forces an ANN index rebuild, discarding tombstones.
func (e *Engine) Rebuild(ctx context.Context) error {
	return e.coord.Rebuild(ctx)
}

// Status reports the engine's current indexing state.
func (e *Engine) Status(ctx context.Context) index.Status {
	return e.coord.Status(ctx)
}

// IndexCheckpoint returns the checkpoint left behind by an interrupted
// indexing run, or nil when the last run completed.
func (e *Engine) IndexCheckpoint(ctx context.Context) (*store.IndexCheckpoint, error) {
	return e.chunks.LoadIndexCheckpoint(ctx)
}

// Dependencies resolves path's imports against the knowledge graph.
func (e *Engine) Dependencies(path string) []graph.Edge {
	return e.graph.Dependencies(path)
}

// Dependents returns every indexed path that imports path.
func (e *Engine) Dependents(path string) []string {
	return e.graph.Dependents(path)
}

// Related walks the knowledge graph's dependency and dependent edges up to
// maxDepth hops from path, excluding path itself.
func (e *Engine) Related(path string, maxDepth int) []string {
	return e.graph.Related(path, maxDepth)
}

// SymbolUsage reports observed call-site counts for a symbol name across
// indexed files, most-used first.
func (e *Engine) SymbolUsage(name string) []graph.PathCount {
	return e.graph.SymbolUsage(name)
}

// Retrieve runs a query against the retrieval engine.
func (e *Engine) Retrieve(ctx context.Context, query string, opts retrieve.Options) ([]retrieve.Result, error) {
	return e.retriever.Retrieve(ctx, query, opts)
}

// Watch starts the filesystem watcher and drains its batches into the
// coordinator until ctx is cancelled. It blocks until the watcher stops.
func (e *Engine) Watch(ctx context.Context) error {
	e.watchMu.Lock()
	if e.watch != nil {
		e.watchMu.Unlock()
		return apperr.New(apperr.InvalidArgument, "watch is already running")
	}

	opts := watcher.Options{
		DebounceWindow: 0,
		IgnorePatterns: e.cfg.Watcher.Ignored,
	}
	if e.cfg.Watcher.DebounceMS > 0 {
		opts.DebounceWindow = time.Duration(e.cfg.Watcher.DebounceMS) * time.Millisecond
	}
	if e.cfg.Watcher.MaxBatch > 0 {
		opts.MaxBatch = e.cfg.Watcher.MaxBatch
	}

	w, err := watcher.NewHybridWatcher(opts)
	if err != nil {
		e.watchMu.Unlock()
		return apperr.Wrap(apperr.WatcherFailure, err, "failed to start watcher")
	}
	e.watch = w
	e.watchMu.Unlock()

	if err := w.Start(ctx, e.root); err != nil {
		return apperr.Wrap(apperr.WatcherFailure, err, "failed to start watcher")
	}
	defer func() {
		_ = w.Stop()
		e.watchMu.Lock()
		e.watch = nil
		e.watchMu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case batch, ok := <-w.Events():
			if !ok {
				return nil
			}
			if err := e.coord.HandleBatch(ctx, batch); err != nil {
				slog.Error("failed to process watch batch", slog.String("error", err.Error()))
			}
		case err, ok := <-w.Errors():
			if !ok {
				continue
			}
			slog.Error("watcher error", slog.String("error", err.Error()))
		}
	}
}

// Close persists durable state and releases the workspace's resources,
// including the chunk store's cross-process lock.
func (e *Engine) Close() error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	record(e.vectors.Save(filepath.Join(e.stateDir, vectorsHNSWName)))
	record(e.chunks.Save())
	record(e.embedder.Close())
	record(e.vectors.Close())
	record(e.chunks.Close())
	return firstErr
}

// Root returns the resolved workspace root.
func (e *Engine) Root() string { return e.root }

// Config returns the workspace's loaded configuration.
func (e *Engine) Config() *config.Config { return e.cfg }
