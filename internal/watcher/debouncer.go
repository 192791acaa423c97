package watcher

import (
	"log/slog"
	"sync"
	"time"
)

// Debouncer coalesces rapid file events to prevent index thrashing.
// Events for the same path within the debounce window are merged according
// to these rules:
//   - CREATE + MODIFY = CREATE (file is still new)
//   - CREATE + DELETE = nothing (file never really existed)
//   - MODIFY + DELETE = DELETE (file is gone)
//   - DELETE + CREATE = MODIFY (file was replaced)
type Debouncer struct {
	window   time.Duration
	maxBatch int
	pending  map[string]*pendingEvent
	order    []string // insertion order of pending paths, for stable per-path ordering
	mu       sync.Mutex
	output   chan []FileEvent
	timer    *time.Timer
	stopCh   chan struct{}
	stopped  bool
}

type pendingEvent struct {
	event    FileEvent
	firstOp  Operation // Track the first operation for coalescing
	lastSeen time.Time
}

// NewDebouncer creates a new debouncer with the given window duration.
// Events are coalesced within this window before being emitted. maxBatch
// bounds the size of a single emitted batch; a flush larger than maxBatch is
// split into consecutive batches, preserving the order paths first appeared.
// maxBatch <= 0 means unbounded.
func NewDebouncer(window time.Duration, maxBatch int) *Debouncer {
	d := &Debouncer{
		window:   window,
		maxBatch: maxBatch,
		pending:  make(map[string]*pendingEvent),
		output:   make(chan []FileEvent, 10),
		stopCh:   make(chan struct{}),
	}
	return d
}

// Add adds an event to be debounced.
// Events for the same path are coalesced according to the coalescing rules.
func (d *Debouncer) Add(event FileEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	path := event.Path
	now := time.Now()

	if existing, ok := d.pending[path]; ok {
		// Coalesce with existing event
		coalesced := d.coalesce(existing, event)
		if coalesced == nil {
			// Events cancelled each other out (CREATE + DELETE). Drop the
			// path from d.order too: a fresh event for the same path inside
			// the window would otherwise append a second order slot, and
			// flush would emit that event once per slot.
			delete(d.pending, path)
			d.dropFromOrder(path)
		} else {
			existing.event = *coalesced
			existing.lastSeen = now
		}
	} else {
		// New event for this path
		d.pending[path] = &pendingEvent{
			event:    event,
			firstOp:  event.Operation,
			lastSeen: now,
		}
		d.order = append(d.order, path)
	}

	d.scheduleFlush()
}

// coalesce merges two events according to the coalescing rules.
// Returns nil if the events cancel each other out.
func (d *Debouncer) coalesce(existing *pendingEvent, new FileEvent) *FileEvent {
	// Coalescing rules based on operation sequence
	switch existing.firstOp {
	case OpCreate:
		switch new.Operation {
		case OpModify:
			// CREATE + MODIFY = CREATE (keep original)
			return &existing.event
		case OpDelete:
			// CREATE + DELETE = nothing
			return nil
		default:
			// Keep the new operation
			return &new
		}

	case OpModify:
		switch new.Operation {
		case OpModify:
			// MODIFY + MODIFY = MODIFY (keep latest)
			return &new
		case OpDelete:
			// MODIFY + DELETE = DELETE
			return &new
		default:
			return &new
		}

	case OpDelete:
		switch new.Operation {
		case OpCreate:
			// DELETE + CREATE = MODIFY (file was replaced)
			result := new
			result.Operation = OpModify
			return &result
		default:
			return &new
		}

	default:
		// For unknown or rename operations, keep the latest
		return &new
	}
}

// dropFromOrder removes path's single slot from d.order. Must be called
// with mu held.
func (d *Debouncer) dropFromOrder(path string) {
	for i, p := range d.order {
		if p == path {
			d.order = append(d.order[:i], d.order[i+1:]...)
			return
		}
	}
}

// scheduleFlush schedules a flush after the debounce window.
func (d *Debouncer) scheduleFlush() {
	if d.timer != nil {
		d.timer.Stop()
	}

	d.timer = time.AfterFunc(d.window, func() {
		d.flush()
	})
}

// flush emits all pending events, split into batches of at most maxBatch,
// preserving the order paths first appeared within and across batches.
func (d *Debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || len(d.pending) == 0 {
		return
	}

	events := make([]FileEvent, 0, len(d.pending))
	for _, path := range d.order {
		events = append(events, d.pending[path].event)
	}
	d.pending = make(map[string]*pendingEvent)
	d.order = nil

	batchSize := d.maxBatch
	if batchSize <= 0 {
		batchSize = len(events)
	}
	for start := 0; start < len(events); start += batchSize {
		end := start + batchSize
		if end > len(events) {
			end = len(events)
		}
		batch := events[start:end]
		select {
		case d.output <- batch:
		default:
			slog.Warn("debouncer output full, dropping batch",
				slog.Int("batch_size", len(batch)),
			)
		}
	}
}

// Output returns the channel of debounced events.
// Events are emitted as batches after the debounce window.
func (d *Debouncer) Output() <-chan []FileEvent {
	return d.output
}

// Stop stops the debouncer and closes the output channel.
// Safe to call multiple times.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	close(d.stopCh)
	close(d.output)
}
