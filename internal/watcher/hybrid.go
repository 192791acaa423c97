package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ferret-index/codelens/internal/filter"
	"github.com/ferret-index/codelens/internal/gitignore"
)

// HybridWatcher is the workspace's change-event source. It prefers fsnotify
// and falls back to the polling watcher when fsnotify can't be set up.
// Whichever backend is active, raw events flow through one ingest funnel —
// ignore rules, then the .gitignore / workspace-config special cases — into
// the debouncer, whose coalesced batches surface on Events.
type HybridWatcher struct {
	opts      Options
	debouncer *Debouncer

	notify *fsnotify.Watcher // nil when the polling fallback is active
	poller *PollingWatcher

	mu          sync.RWMutex
	root        string
	ignoreRules *gitignore.Matcher
	stopped     bool

	events  chan []FileEvent
	errs    chan error
	quit    chan struct{}
	dropped atomic.Uint64
}

// NewHybridWatcher builds a watcher for the given options. The backend is
// chosen here; watching begins on Start.
func NewHybridWatcher(opts Options) (*HybridWatcher, error) {
	opts = opts.WithDefaults()

	h := &HybridWatcher{
		opts:        opts,
		debouncer:   NewDebouncer(opts.DebounceWindow, opts.MaxBatch),
		ignoreRules: baseIgnoreRules(opts.IgnorePatterns),
		events:      make(chan []FileEvent, opts.EventBufferSize),
		errs:        make(chan error, 10),
		quit:        make(chan struct{}),
	}

	if nw, err := fsnotify.NewWatcher(); err == nil {
		h.notify = nw
	} else {
		h.poller = NewPollingWatcher(opts.PollInterval)
	}
	return h, nil
}

// baseIgnoreRules compiles the caller's extra patterns plus the engine's
// own state directory, which is never watched.
func baseIgnoreRules(patterns []string) *gitignore.Matcher {
	rules := gitignore.New()
	for _, p := range patterns {
		rules.AddPattern(p)
	}
	rules.AddPattern(filter.StateDirName + "/")
	rules.AddPattern(filter.StateDirName + "/**")
	return rules
}

// Start watches path until ctx is cancelled or Stop is called. It blocks
// for the lifetime of the watch.
func (h *HybridWatcher) Start(ctx context.Context, path string) error {
	absRoot, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve watch root: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return fmt.Errorf("stat watch root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("watch root is not a directory: %s", absRoot)
	}

	h.mu.Lock()
	h.root = absRoot
	h.mu.Unlock()

	h.reloadIgnoreRules()

	go h.forwardBatches(ctx)

	if h.notify != nil {
		return h.runNotify(ctx)
	}
	return h.runPolling(ctx)
}

// runNotify drives the fsnotify backend's event loop.
func (h *HybridWatcher) runNotify(ctx context.Context) error {
	if err := h.watchTree(h.rootPath()); err != nil {
		return fmt.Errorf("watch workspace tree: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			_ = h.Stop()
			return ctx.Err()
		case <-h.quit:
			return nil
		case ev, ok := <-h.notify.Events:
			if !ok {
				return nil
			}
			h.handleNotify(ev)
		case err, ok := <-h.notify.Errors:
			if !ok {
				return nil
			}
			h.reportError(err)
		}
	}
}

// runPolling drives the polling backend: its per-file events are funneled
// through ingest on a side goroutine while the poller's own scan loop runs
// in the foreground.
func (h *HybridWatcher) runPolling(ctx context.Context) error {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-h.quit:
				return
			case ev, ok := <-h.poller.Events():
				if !ok {
					return
				}
				h.ingest(ev)
			case err, ok := <-h.poller.Errors():
				if !ok {
					return
				}
				h.reportError(err)
			}
		}
	}()

	return h.poller.Start(ctx, h.rootPath())
}

// handleNotify converts one raw fsnotify event and feeds it to ingest. A
// directory born after Start gets its subtree registered here, since
// inotify watches don't recurse on their own.
func (h *HybridWatcher) handleNotify(ev fsnotify.Event) {
	rel, err := filepath.Rel(h.rootPath(), ev.Name)
	if err != nil {
		rel = ev.Name
	}

	isDir := false
	if info, statErr := os.Stat(ev.Name); statErr == nil {
		isDir = info.IsDir()
	}

	op, ok := translateOp(ev.Op)
	if !ok {
		return
	}

	if op == OpCreate && isDir && !h.ignored(rel, true) {
		if err := h.watchTree(ev.Name); err != nil {
			h.reportError(err)
		}
	}

	h.ingest(FileEvent{Path: rel, Operation: op, IsDir: isDir, Timestamp: time.Now()})
}

// translateOp maps an fsnotify op onto the engine's operation set. Chmod
// (and anything else fsnotify may grow) is dropped.
func translateOp(op fsnotify.Op) (Operation, bool) {
	switch {
	case op&fsnotify.Create != 0:
		return OpCreate, true
	case op&fsnotify.Write != 0:
		return OpModify, true
	case op&fsnotify.Remove != 0:
		return OpDelete, true
	case op&fsnotify.Rename != 0:
		return OpRename, true
	default:
		return 0, false
	}
}

// ingest is the single funnel both backends feed: drop ignored paths,
// rewrite edits to .gitignore or the workspace config into their dedicated
// operations, and hand everything else to the debouncer as-is.
func (h *HybridWatcher) ingest(ev FileEvent) {
	if h.ignored(ev.Path, ev.IsDir) {
		return
	}

	switch filepath.Base(ev.Path) {
	case ".gitignore":
		// The rules themselves changed; recompile before the coordinator
		// reconciles so subsequent events are judged by the new patterns.
		h.reloadIgnoreRules()
		ev = FileEvent{Path: ev.Path, Operation: OpGitignoreChange, Timestamp: ev.Timestamp}
	case ".codelens.yaml", ".codelens.yml":
		ev = FileEvent{Path: ev.Path, Operation: OpConfigChange, Timestamp: ev.Timestamp}
	}

	h.debouncer.Add(ev)
}

// ignored reports whether relPath is outside the watch's interest: the
// workspace root itself, .git, the engine's state directory, or anything
// the compiled ignore rules match.
func (h *HybridWatcher) ignored(relPath string, isDir bool) bool {
	if relPath == "" || relPath == "." {
		return true
	}

	first, _, _ := strings.Cut(filepath.ToSlash(relPath), "/")
	if first == ".git" || first == filter.StateDirName {
		return true
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ignoreRules.Match(relPath, isDir)
}

// watchTree registers dir and every non-ignored directory beneath it with
// fsnotify. Directories that fail to register are reported on Errors and
// skipped rather than aborting the watch.
func (h *HybridWatcher) watchTree(dir string) error {
	root := h.rootPath()
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		if rel != "." && h.ignored(filepath.ToSlash(rel), true) {
			return filepath.SkipDir
		}

		if addErr := h.notify.Add(path); addErr != nil {
			h.reportError(fmt.Errorf("watch %s: %w", path, addErr))
		}
		return nil
	})
}

// reloadIgnoreRules recompiles the ignore matcher from the configured
// patterns plus every .gitignore currently in the tree. Runs at Start and
// again whenever a .gitignore edit passes through ingest.
func (h *HybridWatcher) reloadIgnoreRules() {
	root := h.rootPath()
	rules := baseIgnoreRules(h.opts.IgnorePatterns)

	rootIgnore := filepath.Join(root, ".gitignore")
	if err := rules.AddFromFile(rootIgnore, ""); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to read root .gitignore",
			slog.String("path", rootIgnore), slog.String("error", err.Error()))
	}

	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			slog.Warn("skipping unreadable entry while collecting ignore rules",
				slog.String("path", path), slog.String("error", err.Error()))
			return nil
		}
		if d.IsDir() || d.Name() != ".gitignore" || path == rootIgnore {
			return nil
		}
		base, relErr := filepath.Rel(root, filepath.Dir(path))
		if relErr != nil {
			return nil
		}
		if err := rules.AddFromFile(path, filepath.ToSlash(base)); err != nil {
			slog.Warn("failed to read nested .gitignore",
				slog.String("path", path), slog.String("error", err.Error()))
		}
		return nil
	})

	h.mu.Lock()
	h.ignoreRules = rules
	h.mu.Unlock()
}

// forwardBatches relays the debouncer's coalesced batches to the consumer
// until the watch winds down.
func (h *HybridWatcher) forwardBatches(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.quit:
			return
		case batch, ok := <-h.debouncer.Output():
			if !ok {
				return
			}
			if len(batch) > 0 {
				h.emitEvents(batch)
			}
		}
	}
}

// emitEvents delivers one batch to the consumer, dropping it (and counting
// the drop) when the consumer has fallen behind the buffer.
func (h *HybridWatcher) emitEvents(batch []FileEvent) {
	// The read lock is held across the send so Stop can't close the channel
	// between the stopped check and the (non-blocking) send.
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.stopped {
		return
	}

	select {
	case h.events <- batch:
	default:
		n := h.dropped.Add(1)
		slog.Warn("watch consumer is behind, dropping batch",
			slog.Int("batch_size", len(batch)),
			slog.Uint64("dropped_total", n))
	}
}

func (h *HybridWatcher) reportError(err error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.stopped {
		return
	}

	select {
	case h.errs <- err:
	default:
	}
}

func (h *HybridWatcher) rootPath() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.root
}

// Stop ends the watch cooperatively: the backend and debouncer wind down,
// then the event and error channels close. Safe to call more than once,
// including concurrently.
func (h *HybridWatcher) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped {
		return nil
	}
	h.stopped = true

	close(h.quit)
	h.debouncer.Stop()
	if h.notify != nil {
		_ = h.notify.Close()
	}
	if h.poller != nil {
		_ = h.poller.Stop()
	}

	close(h.events)
	close(h.errs)
	return nil
}

// Events returns the channel of debounced event batches. Closed on Stop.
func (h *HybridWatcher) Events() <-chan []FileEvent {
	return h.events
}

// Errors returns the channel of non-fatal watch errors. Closed on Stop.
func (h *HybridWatcher) Errors() <-chan error {
	return h.errs
}

// DroppedBatches reports how many batches were discarded because the
// consumer fell behind.
func (h *HybridWatcher) DroppedBatches() uint64 {
	return h.dropped.Load()
}
