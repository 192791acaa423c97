package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"
	"time"
)

// PollingWatcher watches a directory by periodically re-scanning it and
// diffing against the previous scan. HybridWatcher falls back to it when
// fsnotify can't be set up; network mounts and some Docker volume drivers
// don't deliver inotify events reliably.
type PollingWatcher struct {
	interval time.Duration
	snapshot map[string]fileSnapshot
	events   chan FileEvent
	errors   chan error
	stopCh   chan struct{}
	mu       sync.RWMutex
	stopped  bool
	rootPath string
}

// fileSnapshot is the subset of file metadata cheap enough to compare on
// every poll tick without re-reading file contents.
type fileSnapshot struct {
	modTime time.Time
	size    int64
	isDir   bool
}

// NewPollingWatcher builds a watcher that re-scans every interval.
func NewPollingWatcher(interval time.Duration) *PollingWatcher {
	return &PollingWatcher{
		interval: interval,
		snapshot: make(map[string]fileSnapshot),
		events:   make(chan FileEvent, 100),
		errors:   make(chan error, 10),
		stopCh:   make(chan struct{}),
	}
}

// Start takes a baseline snapshot of path and then polls it on interval
// until ctx is cancelled or Stop is called.
func (p *PollingWatcher) Start(ctx context.Context, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve absolute path: %w", err)
	}
	p.rootPath = absPath

	baseline, err := p.walk()
	if err != nil {
		return fmt.Errorf("perform initial scan: %w", err)
	}
	p.mu.Lock()
	p.snapshot = baseline
	p.mu.Unlock()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = p.Stop()
			return ctx.Err()
		case <-p.stopCh:
			return nil
		case <-ticker.C:
			if err := p.poll(); err != nil {
				select {
				case p.errors <- err:
				default:
				}
			}
		}
	}
}

// Stop halts polling and closes the event and error channels. Safe to call
// more than once.
func (p *PollingWatcher) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return nil
	}

	p.stopped = true
	close(p.stopCh)
	close(p.events)
	close(p.errors)
	return nil
}

// Events returns the channel of detected file events.
func (p *PollingWatcher) Events() <-chan FileEvent {
	return p.events
}

// Errors returns the channel of non-fatal polling errors.
func (p *PollingWatcher) Errors() <-chan error {
	return p.errors
}

// walk scans rootPath and returns a fresh snapshot keyed by workspace-relative
// path. It never returns a walk error for an individual entry — a file that
// disappears mid-walk or that we can't stat is just dropped from the result,
// and will surface as a delete on the next poll if it's really gone.
func (p *PollingWatcher) walk() (map[string]fileSnapshot, error) {
	snapshot := make(map[string]fileSnapshot)

	err := filepath.WalkDir(p.rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}

		relPath, relErr := filepath.Rel(p.rootPath, path)
		if relErr != nil || relPath == "." {
			return nil
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}

		snapshot[relPath] = fileSnapshot{
			modTime: info.ModTime(),
			size:    info.Size(),
			isDir:   d.IsDir(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// poll re-walks the tree and diffs it against the last snapshot, emitting a
// create/modify event for every path that's new or changed and a delete
// event for every path that's gone missing.
func (p *PollingWatcher) poll() error {
	current, err := p.walk()
	if err != nil {
		return fmt.Errorf("walk directory for changes: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for relPath, snap := range current {
		prev, existed := p.snapshot[relPath]
		switch {
		case !existed:
			p.emitEvent(FileEvent{Path: relPath, Operation: OpCreate, IsDir: snap.isDir, Timestamp: time.Now()})
		case prev.modTime != snap.modTime || prev.size != snap.size:
			p.emitEvent(FileEvent{Path: relPath, Operation: OpModify, IsDir: snap.isDir, Timestamp: time.Now()})
		}
	}

	for relPath, snap := range p.snapshot {
		if _, stillExists := current[relPath]; !stillExists {
			p.emitEvent(FileEvent{Path: relPath, Operation: OpDelete, IsDir: snap.isDir, Timestamp: time.Now()})
		}
	}

	p.snapshot = current
	return nil
}

// emitEvent pushes an event to the buffered channel, dropping and logging it
// if a slow consumer has let the buffer fill. Must be called with mu held.
func (p *PollingWatcher) emitEvent(event FileEvent) {
	if p.stopped {
		return
	}

	select {
	case p.events <- event:
	default:
		slog.Warn("polling watcher buffer full, dropping event",
			slog.String("path", event.Path),
			slog.String("op", event.Operation.String()),
		)
	}
}
