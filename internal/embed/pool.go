package embed

import (
	"context"
	"runtime"
	"sync"

	"github.com/ferret-index/codelens/internal/apperr"
)

// DefaultWorkerCount returns clamp(NumCPU-1, 1, 4), the pool's default
// worker count when none is configured.
func DefaultWorkerCount() int {
	n := runtime.NumCPU() - 1
	if n < 1 {
		return 1
	}
	if n > 4 {
		return 4
	}
	return n
}

// task is a unit of work submitted to the pool. A task embeds either a
// single text (Texts has length 1, used by Embed) or a batch (used by
// EmbedBatch); the result is always a slice of vectors in request order.
type task struct {
	id       int64
	ctx      context.Context
	texts    []string
	resultCh chan taskResult
}

type taskResult struct {
	vectors [][]float32
	err     error
}

// Pool is a fixed-size FIFO worker pool that turns chunk text into vectors
// using a single shared Embedder. Workers pull tasks from a buffered
// channel as they go idle; a slow or failing task only blocks the worker
// that picked it up.
type Pool struct {
	embedder Embedder
	tasks    chan task

	closeOnce sync.Once
	closed    chan struct{}
	wg        sync.WaitGroup

	nextID int64
	idMu   sync.Mutex
}

// NewPool starts a pool of workerCount goroutines (clamped to
// DefaultWorkerCount when <= 0) sharing the given embedder. queueSize
// bounds the number of pending tasks before submission blocks; 0 selects
// a small default.
func NewPool(embedder Embedder, workerCount, queueSize int) *Pool {
	if workerCount <= 0 {
		workerCount = DefaultWorkerCount()
	}
	if queueSize <= 0 {
		queueSize = workerCount * 4
	}

	p := &Pool{
		embedder: embedder,
		tasks:    make(chan task, queueSize),
		closed:   make(chan struct{}),
	}

	p.wg.Add(workerCount)
	for i := 0; i < workerCount; i++ {
		go p.work()
	}
	return p
}

// work is a single worker's main loop: pull a task, run it against the
// shared embedder, and report the result. A task's error never kills the
// worker; it just moves on to the next task. On close, any task still
// sitting in the queue is left unprocessed (dropped) rather than drained
// through the embedder.
func (p *Pool) work() {
	defer p.wg.Done()
	for {
		select {
		case <-p.closed:
			return
		case t := <-p.tasks:
			vectors, err := p.embedder.EmbedBatch(t.ctx, t.texts)
			t.resultCh <- taskResult{vectors: vectors, err: err}
		}
	}
}

func (p *Pool) nextTaskID() int64 {
	p.idMu.Lock()
	defer p.idMu.Unlock()
	p.nextID++
	return p.nextID
}

// submit enqueues texts as a single task and waits for its result,
// correlating on the task's id. Returns CapacityExceeded if the pool has
// been closed.
func (p *Pool) submit(ctx context.Context, texts []string) ([][]float32, error) {
	select {
	case <-p.closed:
		return nil, apperr.New(apperr.CapacityExceeded, "embedding pool is closed")
	default:
	}

	t := task{
		id:       p.nextTaskID(),
		ctx:      ctx,
		texts:    texts,
		resultCh: make(chan taskResult, 1),
	}

	select {
	case p.tasks <- t:
	case <-p.closed:
		return nil, apperr.New(apperr.CapacityExceeded, "embedding pool is closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case result := <-t.resultCh:
		return result.vectors, result.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Embed submits a single text and returns its vector.
func (p *Pool) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.submit(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch submits a batch of texts as one task, preserving order in
// the returned vectors.
func (p *Pool) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	return p.submit(ctx, texts)
}

// Dimensions returns the embedding dimension of the wrapped embedder.
func (p *Pool) Dimensions() int {
	return p.embedder.Dimensions()
}

// ModelName returns the wrapped embedder's model identifier.
func (p *Pool) ModelName() string {
	return p.embedder.ModelName()
}

// Available reports whether the pool is open and its embedder is ready.
func (p *Pool) Available(ctx context.Context) bool {
	select {
	case <-p.closed:
		return false
	default:
	}
	return p.embedder.Available(ctx)
}

// Close stops accepting new submissions and terminates workers once their
// current task (if any) finishes. Tasks still sitting in the queue are
// rejected rather than embedded, so their submitters unblock with an error
// instead of waiting on a result that will never come.
func (p *Pool) Close() error {
	p.closeOnce.Do(func() {
		close(p.closed)
	})
	p.wg.Wait()

	for {
		select {
		case t := <-p.tasks:
			t.resultCh <- taskResult{err: apperr.New(apperr.CapacityExceeded, "embedding pool is closed")}
		default:
			return p.embedder.Close()
		}
	}
}
