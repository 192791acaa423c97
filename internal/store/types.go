// Package store implements the durable chunk store and the in-memory ANN
// index that sit underneath the indexing coordinator and the retrieval
// engine.
package store

import (
	"context"
	"fmt"
	"time"
)

// ChunkRecord is a row of the chunks relation.
type ChunkRecord struct {
	ID          string // path:start-end, see chunk.Chunk.ID
	Path        string
	Content     string
	StartLine   int
	EndLine     int
	Kind        string
	SymbolName  string
	ContentHash string
}

// FileRecord is a row of the files relation.
type FileRecord struct {
	Path        string
	ContentHash string
	IndexedAt   time.Time
	ChunkCount  int
}

// ChunkWithEmbedding pairs a chunk with the vector produced for it by the
// embedding worker pool. AddFile commits both in one transaction.
type ChunkWithEmbedding struct {
	Chunk     ChunkRecord
	Embedding []float32
}

// IndexedChunk is one element of the iterate_chunks() stream consumed by
// the ANN index's rebuild_from.
type IndexedChunk struct {
	SlotOrder int
	ChunkID   string
	Embedding []float32
}

// ChunkStore is the durable, single-writer/multi-reader store behind the
// index: three relations (files, chunks, embeddings) keyed so that a
// file's chunk set can be replaced atomically.
type ChunkStore interface {
	// GetFileHash returns the stored content hash for path, or ok=false if
	// the file has never been indexed.
	GetFileHash(ctx context.Context, path string) (hash string, ok bool, err error)

	// AddFile transactionally replaces path's chunk set: removes the prior
	// chunks (cascading their embeddings), inserts chunksWithEmbeddings, and
	// upserts the files row. Idempotent when fileHash matches the stored
	// hash and the chunk set is unchanged.
	AddFile(ctx context.Context, path string, chunks []ChunkWithEmbedding, fileHash string) error

	// RemoveFile transactionally deletes path's chunks, embeddings, and
	// files row, returning the chunk-ids that were removed.
	RemoveFile(ctx context.Context, path string) ([]string, error)

	// GetChunk retrieves a single chunk record by id.
	GetChunk(ctx context.Context, chunkID string) (*ChunkRecord, error)

	// ChunkIDsForPath lists the chunk-ids currently live for path, so a
	// caller can tombstone the corresponding ANN slots before AddFile
	// replaces the row set underneath them.
	ChunkIDsForPath(ctx context.Context, path string) ([]string, error)

	// IterateChunks streams every (slot-order, chunk-id, embedding), for ANN
	// rebuild, ordered by slot-order (a chunk's position within its file)
	// and then chunk id. Iteration stops early if visit returns an error.
	IterateChunks(ctx context.Context, visit func(IndexedChunk) error) error

	// FileCount and ChunkCount report current relation sizes, for status().
	FileCount(ctx context.Context) (int, error)
	ChunkCount(ctx context.Context) (int, error)

	// AllFilePaths lists every tracked file path, for reconciling the store
	// against a fresh workspace scan.
	AllFilePaths(ctx context.Context) ([]string, error)

	// GetState and SetState read and write the store's key-value state
	// table, used for runtime state that must survive a crash (indexing
	// checkpoints). GetState returns "" for a missing key.
	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error

	// Checkpoint operations for resumable indexing. SaveIndexCheckpoint
	// overwrites the previous checkpoint; LoadIndexCheckpoint returns nil
	// when no checkpoint is recorded.
	SaveIndexCheckpoint(ctx context.Context, cp IndexCheckpoint) error
	LoadIndexCheckpoint(ctx context.Context) (*IndexCheckpoint, error)
	ClearIndexCheckpoint(ctx context.Context) error

	// Clear drops every files/chunks/embeddings row and any recorded
	// checkpoint.
	Clear(ctx context.Context) error

	// Save forces a durability barrier (WAL checkpoint).
	Save() error

	// Close releases the underlying database handle.
	Close() error
}

// Checkpoint stages recorded under StateKeyCheckpointStage.
const (
	CheckpointStageScanning = "scanning"
	CheckpointStageIndexing = "indexing"
	CheckpointStageComplete = "complete"
)

// State keys for resumable indexing checkpoints.
const (
	// StateKeyCheckpointStage stores the current indexing stage:
	// "scanning"|"indexing"|"complete".
	StateKeyCheckpointStage = "checkpoint_stage"
	// StateKeyCheckpointTotal stores the number of files the run intends to
	// visit, when known ("0" otherwise).
	StateKeyCheckpointTotal = "checkpoint_total"
	// StateKeyCheckpointProcessed stores how many files have been processed
	// so far.
	StateKeyCheckpointProcessed = "checkpoint_processed"
	// StateKeyCheckpointTimestamp stores when the checkpoint was last
	// updated (RFC 3339).
	StateKeyCheckpointTimestamp = "checkpoint_timestamp"
	// StateKeyCheckpointModel stores the embedding model the run was using,
	// so a resume under a different model re-indexes instead of mixing
	// embeddings.
	StateKeyCheckpointModel = "checkpoint_model"
)

// IndexCheckpoint is the saved state of an in-flight indexing run. A
// checkpoint left behind by a crashed or cancelled run tells the next
// index_workspace it is resuming rather than starting fresh; the per-file
// hash check makes the resume itself automatic.
type IndexCheckpoint struct {
	Stage     string
	Total     int
	Processed int
	Timestamp time.Time
	Model     string
}

// ErrDimensionMismatch indicates a vector whose length doesn't match the
// index's configured dimension.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (run 'codelens index --force')", e.Expected, e.Got)
}

// VectorResult represents a single vector search result.
type VectorResult struct {
	ID       string  // Chunk ID
	Distance float32 // Lower is more similar (0-2 for cosine)
	Score    float32 // Normalized similarity (0-1)
}

// VectorStoreConfig configures the ANN index.
type VectorStoreConfig struct {
	// Dimensions is the vector dimension D.
	Dimensions int

	// Metric is the distance metric: "cos" (cosine), "l2" (euclidean).
	Metric string

	// M is HNSW max connections per layer.
	M int

	// EfSearch is HNSW query-time search width.
	EfSearch int

	// MaxElements bounds the number of live vectors the index accepts;
	// exceeding it fails Add with CapacityExceeded. Default 100,000.
	MaxElements int
}

// DefaultVectorStoreConfig returns sensible defaults for the ANN index.
func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions:  dimensions,
		Metric:      "cos",
		M:           32,
		EfSearch:    64,
		MaxElements: 100000,
	}
}

// VectorStore provides approximate k-NN search over a set of vectors
// identified by chunk-id.
type VectorStore interface {
	// Add inserts vectors with their IDs. If an ID exists, it is replaced.
	// Fails with CapacityExceeded once MaxElements live vectors are held.
	Add(ctx context.Context, ids []string, vectors [][]float32) error

	// Search finds k nearest neighbors to query vector.
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)

	// Delete tombstones vectors by ID; the underlying graph nodes persist
	// until the next RebuildFrom.
	Delete(ctx context.Context, ids []string) error

	// RebuildFrom replaces the index wholesale from a sequential scan of
	// live chunks, resetting the slot table and tombstones.
	RebuildFrom(ctx context.Context, iterate func(visit func(IndexedChunk) error) error) error

	// AllIDs returns all live vector IDs in the store.
	AllIDs() []string

	// Contains checks if ID exists and is live.
	Contains(id string) bool

	// Count returns number of live vectors.
	Count() int

	// Persistence
	Save(path string) error
	Load(path string) error
	Close() error
}
