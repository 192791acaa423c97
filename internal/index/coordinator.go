// Package index implements the indexer coordinator: it orchestrates
// file-level add/update/remove through the path filter, content hasher,
// chunker, embedding pool, chunk store, and ANN index with transactional
// per-file semantics.
package index

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ferret-index/codelens/internal/apperr"
	"github.com/ferret-index/codelens/internal/chunk"
	"github.com/ferret-index/codelens/internal/config"
	"github.com/ferret-index/codelens/internal/embed"
	"github.com/ferret-index/codelens/internal/filter"
	"github.com/ferret-index/codelens/internal/gitignore"
	"github.com/ferret-index/codelens/internal/graph"
	"github.com/ferret-index/codelens/internal/hash"
	"github.com/ferret-index/codelens/internal/scanner"
	"github.com/ferret-index/codelens/internal/store"
	"github.com/ferret-index/codelens/internal/watcher"
)

// State is the coordinator's externally-visible lifecycle state.
type State string

const (
	StateIdle     State = "idle"
	StateIndexing State = "indexing"
	StateError    State = "error"
)

// progressInterval is how often (in files processed) IndexWorkspace
// reports progress and refreshes its checkpoint.
const progressInterval = 50

// ProgressFunc is called periodically during a workspace scan with the
// number of files processed so far.
type ProgressFunc func(processed int)

// Config wires the coordinator to its collaborators.
type Config struct {
	RootPath string
	Store    store.ChunkStore
	Vectors  store.VectorStore
	Embedder embed.Embedder

	CodeChunker chunk.Chunker
	MDChunker   chunk.Chunker
	Registry    *chunk.LanguageRegistry

	Filter  *filter.Filter
	Scanner *scanner.Scanner

	// Graph, if set, is kept in sync with every indexed/removed file so
	// graph queries reflect the current index without a separate parse pass.
	Graph *graph.Graph

	Settings *config.Config

	// OnProgress, if set, is invoked every progressInterval files during
	// index_workspace.
	OnProgress ProgressFunc
}

// Stats summarizes the outcome of an index_workspace/index_files run.
type Stats struct {
	FilesIndexed  int
	FilesSkipped  int
	FilesRemoved  int
	ChunksWritten int
	Errors        int
}

// Status is the coordinator's externally-reported state.
type Status struct {
	Workspace   string
	State       State
	LastIndexed time.Time
	FileCount   int
	IsStale     bool
	LastError   string
}

// Coordinator sequences indexing work across the pipeline.
type Coordinator struct {
	cfg Config

	// writeMu serializes each file's commit step (ANN update, store write,
	// graph update) across files; reading, chunking and embedding run
	// outside it, so cross-file ordering is otherwise unconstrained. The
	// underlying store additionally serializes at the SQLite connection level.
	writeMu sync.Mutex

	statusMu  sync.Mutex
	state     State
	lastIndex time.Time
	lastErr   string
	stale     bool

	// gitignoreMu guards gitignoreContent, the last-seen text of every
	// .gitignore the watcher has reported a change for, keyed by its
	// workspace-relative path. Diffing against it lets a pure addition of
	// patterns be reconciled without a rescan.
	gitignoreMu      sync.Mutex
	gitignoreContent map[string]string
}

// New creates a Coordinator from cfg.
func New(cfg Config) *Coordinator {
	return &Coordinator{cfg: cfg, state: StateIdle}
}

// Status reports the coordinator's current state.
func (c *Coordinator) Status(ctx context.Context) Status {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()

	count := 0
	if c.cfg.Store != nil {
		if n, err := c.cfg.Store.FileCount(ctx); err == nil {
			count = n
		}
	}

	return Status{
		Workspace:   c.cfg.RootPath,
		State:       c.state,
		LastIndexed: c.lastIndex,
		FileCount:   count,
		IsStale:     c.stale,
		LastError:   c.lastErr,
	}
}

func (c *Coordinator) setState(s State) {
	c.statusMu.Lock()
	c.state = s
	c.statusMu.Unlock()
}

func (c *Coordinator) setError(err error) {
	c.statusMu.Lock()
	c.state = StateError
	c.lastErr = err.Error()
	c.statusMu.Unlock()
}

func (c *Coordinator) finishRun() {
	c.statusMu.Lock()
	if c.state != StateError {
		c.state = StateIdle
	}
	c.lastIndex = time.Now()
	c.statusMu.Unlock()
}

// SetStale marks the coordinator stale, meaning an incoming change batch
// has been received but not yet fully drained.
func (c *Coordinator) SetStale(stale bool) {
	c.statusMu.Lock()
	c.stale = stale
	c.statusMu.Unlock()
}

// IndexWorkspace scans the whole tree via the scanner and indexes every
// file whose content hash has changed (or every file, when force is set).
// Cooperatively cancellable between files: a cancel leaves all previously
// committed files intact.
func (c *Coordinator) IndexWorkspace(ctx context.Context, force bool) (*Stats, error) {
	c.setState(StateIndexing)

	// A checkpoint left behind by an earlier run means that run never
	// completed; the hash check per file makes the resume itself automatic,
	// so this is purely informational.
	if cp, err := c.cfg.Store.LoadIndexCheckpoint(ctx); err == nil && cp != nil && cp.Stage != store.CheckpointStageComplete {
		slog.Info("resuming interrupted indexing run",
			slog.String("stage", cp.Stage),
			slog.Int("processed", cp.Processed),
			slog.Int("total", cp.Total))
		if cp.Model != "" && cp.Model != c.cfg.Embedder.ModelName() {
			slog.Warn("embedding model changed since interrupted run, forcing full re-index",
				slog.String("was", cp.Model), slog.String("now", c.cfg.Embedder.ModelName()))
			force = true
		}
	}
	c.saveCheckpoint(ctx, store.CheckpointStageScanning, 0, 0)

	opts := &scanner.ScanOptions{
		RootDir:          c.cfg.RootPath,
		ExcludePatterns:  c.cfg.Settings.Paths.Exclude,
		RespectGitignore: true,
	}
	results, err := c.cfg.Scanner.Scan(ctx, opts)
	if err != nil {
		c.setError(err)
		return nil, apperr.Wrap(apperr.IOFailure, err, "failed to start workspace scan")
	}

	stats := &Stats{}
	var statsMu sync.Mutex
	processed := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Settings.WorkerCount())

scanLoop:
	for res := range results {
		select {
		case <-ctx.Done():
			break scanLoop
		default:
		}

		if res.Error != nil {
			statsMu.Lock()
			stats.Errors++
			statsMu.Unlock()
			continue
		}
		file := res.File

		g.Go(func() error {
			written, skipped, err := c.indexOneFile(gctx, file.Path, force)

			statsMu.Lock()
			defer statsMu.Unlock()
			processed++
			switch {
			case err != nil:
				stats.Errors++
				slog.Warn("failed to index file", slog.String("path", file.Path), slog.String("error", err.Error()))
			case skipped:
				stats.FilesSkipped++
			default:
				stats.FilesIndexed++
				stats.ChunksWritten += written
			}
			if processed%progressInterval == 0 {
				if c.cfg.OnProgress != nil {
					c.cfg.OnProgress(processed)
				}
				c.saveCheckpoint(ctx, store.CheckpointStageIndexing, 0, processed)
			}
			return nil
		})
	}

	_ = g.Wait()

	if err := c.rebuildIfNeeded(ctx); err != nil {
		slog.Warn("ANN rebuild after index_workspace failed", slog.String("error", err.Error()))
	}

	// A cancelled run keeps its checkpoint so the next run knows it is
	// resuming; a drained one clears it.
	if ctx.Err() == nil {
		if err := c.cfg.Store.ClearIndexCheckpoint(ctx); err != nil {
			slog.Warn("failed to clear indexing checkpoint", slog.String("error", err.Error()))
		}
	}

	c.finishRun()
	return stats, nil
}

// saveCheckpoint best-effort persists indexing progress to the store's
// state table. Checkpoint write failures never fail the run.
func (c *Coordinator) saveCheckpoint(ctx context.Context, stage string, total, processed int) {
	cp := store.IndexCheckpoint{
		Stage:     stage,
		Total:     total,
		Processed: processed,
		Timestamp: time.Now(),
		Model:     c.cfg.Embedder.ModelName(),
	}
	if err := c.cfg.Store.SaveIndexCheckpoint(ctx, cp); err != nil {
		slog.Warn("failed to save indexing checkpoint", slog.String("error", err.Error()))
	}
}

// IndexFiles indexes exactly the given workspace-relative paths, subject
// to the path filter.
func (c *Coordinator) IndexFiles(ctx context.Context, paths []string) (*Stats, error) {
	c.setState(StateIndexing)
	stats := &Stats{}

	for _, p := range paths {
		select {
		case <-ctx.Done():
			c.finishRun()
			return stats, ctx.Err()
		default:
		}

		written, skipped, err := c.indexOneFile(ctx, p, false)
		switch {
		case err != nil:
			stats.Errors++
			slog.Warn("failed to index file", slog.String("path", p), slog.String("error", err.Error()))
		case skipped:
			stats.FilesSkipped++
		default:
			stats.FilesIndexed++
			stats.ChunksWritten += written
		}
	}

	if err := c.rebuildIfNeeded(ctx); err != nil {
		slog.Warn("ANN rebuild after index_files failed", slog.String("error", err.Error()))
	}

	c.finishRun()
	return stats, nil
}

// RemoveFiles removes the given workspace-relative paths from the store
// and tombstones their ANN slots.
func (c *Coordinator) RemoveFiles(ctx context.Context, paths []string) (*Stats, error) {
	stats := &Stats{}
	for _, p := range paths {
		if err := c.removeOneFile(ctx, p); err != nil {
			stats.Errors++
			slog.Warn("failed to remove file", slog.String("path", p), slog.String("error", err.Error()))
			continue
		}
		stats.FilesRemoved++
	}
	if err := c.rebuildIfNeeded(ctx); err != nil {
		slog.Warn("ANN rebuild after remove_files failed", slog.String("error", err.Error()))
	}
	return stats, nil
}

// Clear drops every files/chunks/embeddings row and rebuilds an empty ANN
// index.
func (c *Coordinator) Clear(ctx context.Context) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.cfg.Store.Clear(ctx); err != nil {
		return err
	}
	return c.rebuildVectors(ctx)
}

// rebuildVectors feeds the store's chunk stream into the ANN index's
// RebuildFrom, binding the coordinator's context into the iteration.
func (c *Coordinator) rebuildVectors(ctx context.Context) error {
	return c.cfg.Vectors.RebuildFrom(ctx, func(visit func(store.IndexedChunk) error) error {
		return c.cfg.Store.IterateChunks(ctx, visit)
	})
}

// HandleBatch processes a debounced batch of watcher events,
// translating creates/modifies into IndexFiles and deletes into
// RemoveFiles, preserving per-path last-write-wins within the batch.
func (c *Coordinator) HandleBatch(ctx context.Context, events []watcher.FileEvent) error {
	c.SetStale(true)
	defer c.SetStale(false)

	var toIndex, toRemove, gitignoreChanged []string
	for _, ev := range events {
		if ev.Operation == watcher.OpGitignoreChange {
			gitignoreChanged = append(gitignoreChanged, ev.Path)
			continue
		}
		if ev.IsDir {
			continue
		}
		switch ev.Operation {
		case watcher.OpCreate, watcher.OpModify:
			toIndex = append(toIndex, ev.Path)
		case watcher.OpDelete, watcher.OpRename:
			// A rename event names the old path; the new path arrives as its
			// own create event.
			toRemove = append(toRemove, ev.Path)
		case watcher.OpConfigChange:
			// Config reload takes effect on the next engine open; the running
			// coordinator keeps its settings for the session.
			slog.Info("workspace config changed, restart watch to apply", slog.String("path", ev.Path))
		}
	}

	if len(toRemove) > 0 {
		if _, err := c.RemoveFiles(ctx, toRemove); err != nil {
			return err
		}
	}
	if len(toIndex) > 0 {
		if _, err := c.IndexFiles(ctx, toIndex); err != nil {
			return err
		}
	}
	for _, relPath := range gitignoreChanged {
		if err := c.reconcileGitignore(ctx, relPath); err != nil {
			slog.Warn("gitignore reconciliation failed",
				slog.String("path", relPath), slog.String("error", err.Error()))
		}
	}
	return nil
}

// reconcileGitignore handles a single OpGitignoreChange event for the
// .gitignore at relPath. A pure addition of patterns is reconciled by
// listing the store's own files and dropping whatever now matches, with no
// filesystem walk; anything else (the file's first sighting, a deletion, or
// any pattern removal, which can only ever un-ignore files) falls back to
// rescanning the affected scope so newly-visible files get indexed.
func (c *Coordinator) reconcileGitignore(ctx context.Context, relPath string) error {
	if c.cfg.Scanner != nil {
		c.cfg.Scanner.InvalidateGitignoreCache()
	}

	dir := filepath.Dir(filepath.ToSlash(relPath))
	if dir == "." {
		dir = ""
	}

	raw, readErr := os.ReadFile(filepath.Join(c.cfg.RootPath, relPath))
	deleted := readErr != nil
	newContent := string(raw)

	c.gitignoreMu.Lock()
	if c.gitignoreContent == nil {
		c.gitignoreContent = make(map[string]string)
	}
	oldContent, seen := c.gitignoreContent[relPath]
	if deleted {
		delete(c.gitignoreContent, relPath)
	} else {
		c.gitignoreContent[relPath] = newContent
	}
	c.gitignoreMu.Unlock()

	if deleted || !seen {
		return c.rescanGitignoreScope(ctx, dir)
	}

	added, removed := gitignore.DiffPatterns(oldContent, newContent)
	if len(removed) > 0 {
		return c.rescanGitignoreScope(ctx, dir)
	}
	if len(added) == 0 {
		return nil
	}

	paths, err := c.cfg.Store.AllFilePaths(ctx)
	if err != nil {
		return apperr.Wrap(apperr.IOFailure, err, "failed to list indexed files for gitignore reconciliation")
	}

	var toRemove []string
	for _, p := range paths {
		if dir != "" && !strings.HasPrefix(p, dir+"/") {
			continue
		}
		if gitignore.MatchesAnyPattern(p, added) {
			toRemove = append(toRemove, p)
		}
	}
	if len(toRemove) == 0 {
		return nil
	}
	_, err = c.RemoveFiles(ctx, toRemove)
	return err
}

// rescanGitignoreScope re-walks dir (the whole workspace when dir is empty)
// through the scanner so files a .gitignore edit newly un-ignores get
// indexed; files it no longer yields are left to the watcher's own delete
// events rather than reconciled here.
func (c *Coordinator) rescanGitignoreScope(ctx context.Context, dir string) error {
	if dir == "" {
		_, err := c.IndexWorkspace(ctx, false)
		return err
	}
	if c.cfg.Scanner == nil {
		return nil
	}

	results, err := c.cfg.Scanner.ScanSubtree(ctx, &scanner.ScanOptions{
		RootDir:          c.cfg.RootPath,
		ExcludePatterns:  c.cfg.Settings.Paths.Exclude,
		RespectGitignore: true,
	}, dir)
	if err != nil {
		return apperr.Wrap(apperr.IOFailure, err, "failed to rescan gitignore subtree")
	}

	var paths []string
	for res := range results {
		if res.Error != nil || res.File == nil {
			continue
		}
		paths = append(paths, res.File.Path)
	}
	if len(paths) == 0 {
		return nil
	}
	_, err = c.IndexFiles(ctx, paths)
	return err
}

// indexOneFile reads, hashes, chunks, embeds, and commits relPath. It
// returns (chunksWritten, skipped, err); a non-nil err means the file's
// own transaction was aborted and the prior state (if any) is preserved.
func (c *Coordinator) indexOneFile(ctx context.Context, relPath string, force bool) (int, bool, error) {
	absPath := filepath.Join(c.cfg.RootPath, relPath)

	info, err := os.Lstat(absPath)
	if err != nil {
		return 0, false, apperr.Wrap(apperr.IOFailure, err, "failed to stat file")
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return 0, true, nil
	}
	if !c.cfg.Filter.Indexable(relPath, info.Size()) {
		return 0, true, nil
	}

	content, err := os.ReadFile(absPath)
	if err != nil {
		return 0, false, apperr.Wrap(apperr.IOFailure, err, "failed to read file")
	}

	newHash := hash.File(content, c.cfg.Settings.Performance.NormalizeEOL)

	if !force {
		if oldHash, ok, err := c.cfg.Store.GetFileHash(ctx, relPath); err == nil && ok && oldHash == newHash {
			return 0, true, nil
		}
	}

	chunker, language := c.chunkerFor(relPath)
	if chunker == nil {
		return 0, true, nil
	}

	chunks, analysis, err := chunker.Chunk(ctx, &chunk.FileInput{Path: relPath, Content: content, Language: language})
	if err != nil {
		return 0, false, apperr.Wrap(apperr.IOFailure, err, "failed to chunk file")
	}
	if len(chunks) == 0 {
		return 0, true, nil
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Content
	}
	vectors, err := c.cfg.Embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, false, err
	}

	cwe := make([]store.ChunkWithEmbedding, len(chunks))
	ids := make([]string, len(chunks))
	for i, ch := range chunks {
		id := ch.ID()
		ids[i] = id
		cwe[i] = store.ChunkWithEmbedding{
			Chunk: store.ChunkRecord{
				ID:          id,
				Path:        relPath,
				Content:     ch.Content,
				StartLine:   ch.StartLine,
				EndLine:     ch.EndLine,
				Kind:        string(ch.Kind),
				SymbolName:  ch.SymbolName,
				ContentHash: hash.Chunk(ch.Content),
			},
			Embedding: vectors[i],
		}
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	// Removal happens before the add within the same update cycle:
	// tombstone the prior chunk set's ANN slots before inserting the new
	// set, so a stale slot never outlives its chunk's replacement.
	oldIDs, _ := c.cfg.Store.ChunkIDsForPath(ctx, relPath)
	if len(oldIDs) > 0 {
		_ = c.cfg.Vectors.Delete(ctx, oldIDs)
	}

	// ANN insert first: it validates capacity/dimension all-or-nothing
	// before mutating, so a CapacityExceeded here aborts the whole file
	// without ever touching the durable store.
	if err := c.cfg.Vectors.Add(ctx, ids, vectors); err != nil {
		if len(oldIDs) > 0 {
			// Bring the prior chunk set's slots back from the store.
			_ = c.rebuildVectors(ctx)
		}
		return 0, false, err
	}

	if err := c.cfg.Store.AddFile(ctx, relPath, cwe, newHash); err != nil {
		_ = c.cfg.Vectors.Delete(ctx, ids)
		if len(oldIDs) > 0 {
			_ = c.rebuildVectors(ctx)
		}
		return 0, false, err
	}

	if c.cfg.Graph != nil {
		c.cfg.Graph.Update(relPath, analysis, string(content))
	}

	return len(chunks), false, nil
}

func (c *Coordinator) removeOneFile(ctx context.Context, relPath string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	ids, err := c.cfg.Store.RemoveFile(ctx, relPath)
	if err != nil {
		return err
	}
	if c.cfg.Graph != nil {
		c.cfg.Graph.Remove(relPath)
	}
	if len(ids) > 0 {
		return c.cfg.Vectors.Delete(ctx, ids)
	}
	return nil
}

// rebuildIfNeeded rebuilds the ANN index when the tombstone ratio exceeds
// the configured threshold. Rebuild policy lives here, not in the index
// itself.
func (c *Coordinator) rebuildIfNeeded(ctx context.Context) error {
	hs, ok := c.cfg.Vectors.(interface {
		Stats() store.HNSWStats
	})
	if !ok {
		return nil
	}

	stats := hs.Stats()
	if stats.GraphNodes == 0 {
		return nil
	}

	threshold := c.cfg.Settings.Performance.TombstoneRebuildThreshold
	if threshold <= 0 {
		threshold = 0.2
	}
	ratio := float64(stats.Orphans) / float64(stats.GraphNodes)
	if ratio <= threshold {
		return nil
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.rebuildVectors(ctx)
}

// Rebuild forces an ANN rebuild regardless of tombstone ratio, for
// operator use.
func (c *Coordinator) Rebuild(ctx context.Context) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.rebuildVectors(ctx)
}

// chunkerFor selects the chunker and detected language for relPath's
// extension, falling back to the code chunker's generic sliding-window
// path for any recognized-but-not-tree-sitter-backed extension.
func (c *Coordinator) chunkerFor(relPath string) (chunk.Chunker, string) {
	ext := strings.ToLower(filepath.Ext(relPath))

	for _, e := range c.cfg.MDChunker.SupportedExtensions() {
		if e == ext {
			return c.cfg.MDChunker, ""
		}
	}

	if c.cfg.Registry != nil {
		if lang, ok := c.cfg.Registry.GetByExtension(ext); ok {
			return c.cfg.CodeChunker, lang.Name
		}
	}

	if c.cfg.Filter.AllowExtensions[ext] || filter.IsSpecialBasename(filepath.Base(relPath)) {
		return c.cfg.CodeChunker, ""
	}

	return nil, ""
}

// Close releases the coordinator's store and ANN index handles.
func (c *Coordinator) Close() error {
	var firstErr error
	if err := c.cfg.Vectors.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := c.cfg.Store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
