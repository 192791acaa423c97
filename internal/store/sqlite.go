package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver (no CGO)

	"github.com/ferret-index/codelens/internal/apperr"
	"github.com/ferret-index/codelens/internal/lock"
)

// SQLiteChunkStore implements ChunkStore on top of modernc.org/sqlite,
// opened in WAL mode with a single connection so SQLite itself serializes
// writers; a process-local flock additionally guards cross-process access,
// since WAL alone permits concurrent writers at the OS level.
type SQLiteChunkStore struct {
	mu   sync.RWMutex
	db   *sql.DB
	path string
	lock *lock.FileLock

	dimensions int
	closed     bool
}

var _ ChunkStore = (*SQLiteChunkStore)(nil)

// lockPath derives the cross-process advisory lock path from the store's
// context directory, mirroring the workspace's .codelens-context layout.
func lockPath(dbPath string) string {
	return filepath.Join(filepath.Dir(dbPath), "codelens.lock")
}

// NewSQLiteChunkStore opens (creating if necessary) the chunk store at
// path. An empty path opens an in-memory store, used by tests.
func NewSQLiteChunkStore(path string, dimensions int) (*SQLiteChunkStore, error) {
	var dsn string
	var fileLock *lock.FileLock

	if path == "" {
		dsn = ":memory:"
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, apperr.Wrap(apperr.IOFailure, err, "failed to create chunk store directory")
		}

		fileLock = lock.New(lockPath(path))
		if err := fileLock.Lock(); err != nil {
			return nil, apperr.Wrap(apperr.IOFailure, err, "failed to acquire chunk store lock")
		}

		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		if fileLock != nil {
			_ = fileLock.Unlock()
		}
		return nil, apperr.Wrap(apperr.IOFailure, err, "failed to open chunk store")
	}

	// Single connection: SQLite itself serializes writers behind it, and
	// it avoids modernc.org/sqlite's per-connection WAL quirks.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			if fileLock != nil {
				_ = fileLock.Unlock()
			}
			return nil, apperr.Wrap(apperr.IOFailure, err, "failed to set chunk store pragma")
		}
	}

	s := &SQLiteChunkStore{
		db:         db,
		path:       path,
		lock:       fileLock,
		dimensions: dimensions,
	}

	if err := s.initSchema(); err != nil {
		_ = db.Close()
		if fileLock != nil {
			_ = fileLock.Unlock()
		}
		return nil, apperr.Wrap(apperr.CorruptState, err, "failed to initialize chunk store schema")
	}

	return s, nil
}

func (s *SQLiteChunkStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS files (
		path        TEXT PRIMARY KEY,
		content_hash TEXT NOT NULL,
		indexed_at  INTEGER NOT NULL,
		chunk_count INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chunks (
		id           TEXT PRIMARY KEY,
		path         TEXT NOT NULL REFERENCES files(path) ON DELETE CASCADE,
		content      TEXT NOT NULL,
		start_line   INTEGER NOT NULL,
		end_line     INTEGER NOT NULL,
		kind         TEXT NOT NULL,
		symbol_name  TEXT,
		content_hash TEXT NOT NULL,
		slot_order   INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_path ON chunks(path);

	CREATE TABLE IF NOT EXISTS embeddings (
		chunk_id TEXT PRIMARY KEY REFERENCES chunks(id) ON DELETE CASCADE,
		vector   BLOB NOT NULL
	);

	CREATE TABLE IF NOT EXISTS state (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// GetFileHash returns the stored content hash for path.
func (s *SQLiteChunkStore) GetFileHash(ctx context.Context, path string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return "", false, apperr.New(apperr.IOFailure, "chunk store is closed")
	}

	var hash string
	err := s.db.QueryRowContext(ctx, `SELECT content_hash FROM files WHERE path = ?`, path).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperr.Wrap(apperr.IOFailure, err, "failed to read file hash")
	}
	return hash, true, nil
}

// AddFile transactionally replaces path's chunk set.
func (s *SQLiteChunkStore) AddFile(ctx context.Context, path string, chunks []ChunkWithEmbedding, fileHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return apperr.New(apperr.IOFailure, "chunk store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Wrap(apperr.IOFailure, err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	// Cascading delete of the prior chunk set for this path (foreign keys
	// cascade chunks -> embeddings).
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE path = ?`, path); err != nil {
		return apperr.Wrap(apperr.IOFailure, err, "failed to clear prior chunks")
	}

	now := time.Now()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO files (path, content_hash, indexed_at, chunk_count)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			content_hash = excluded.content_hash,
			indexed_at = excluded.indexed_at,
			chunk_count = excluded.chunk_count
	`, path, fileHash, now.Unix(), len(chunks))
	if err != nil {
		return apperr.Wrap(apperr.IOFailure, err, "failed to upsert file row")
	}

	chunkStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, path, content, start_line, end_line, kind, symbol_name, content_hash, slot_order)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return apperr.Wrap(apperr.IOFailure, err, "failed to prepare chunk insert")
	}
	defer chunkStmt.Close()

	embedStmt, err := tx.PrepareContext(ctx, `INSERT INTO embeddings (chunk_id, vector) VALUES (?, ?)`)
	if err != nil {
		return apperr.Wrap(apperr.IOFailure, err, "failed to prepare embedding insert")
	}
	defer embedStmt.Close()

	for order, cwe := range chunks {
		if s.dimensions > 0 && len(cwe.Embedding) != s.dimensions {
			return apperr.New(apperr.InvalidArgument, "embedding dimension mismatch on insert").
				WithDetail("chunk_id", cwe.Chunk.ID)
		}
		c := cwe.Chunk
		if _, err := chunkStmt.ExecContext(ctx, c.ID, path, c.Content, c.StartLine, c.EndLine, c.Kind, c.SymbolName, c.ContentHash, order); err != nil {
			return apperr.Wrap(apperr.IOFailure, err, "failed to insert chunk")
		}
		if _, err := embedStmt.ExecContext(ctx, c.ID, encodeVector(cwe.Embedding)); err != nil {
			return apperr.Wrap(apperr.IOFailure, err, "failed to insert embedding")
		}
	}

	if err := tx.Commit(); err != nil {
		return apperr.Wrap(apperr.IOFailure, err, "failed to commit file update")
	}
	return nil
}

// RemoveFile transactionally deletes path's chunks, embeddings, and files row.
func (s *SQLiteChunkStore) RemoveFile(ctx context.Context, path string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, apperr.New(apperr.IOFailure, "chunk store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.IOFailure, err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `SELECT id FROM chunks WHERE path = ?`, path)
	if err != nil {
		return nil, apperr.Wrap(apperr.IOFailure, err, "failed to list chunks for removal")
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, apperr.Wrap(apperr.IOFailure, err, "failed to scan chunk id")
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.IOFailure, err, "failed to iterate chunk ids")
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE path = ?`, path); err != nil {
		return nil, apperr.Wrap(apperr.IOFailure, err, "failed to delete chunks")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE path = ?`, path); err != nil {
		return nil, apperr.Wrap(apperr.IOFailure, err, "failed to delete file row")
	}

	if err := tx.Commit(); err != nil {
		return nil, apperr.Wrap(apperr.IOFailure, err, "failed to commit file removal")
	}
	return ids, nil
}

// GetChunk retrieves a single chunk record by id.
func (s *SQLiteChunkStore) GetChunk(ctx context.Context, chunkID string) (*ChunkRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, apperr.New(apperr.IOFailure, "chunk store is closed")
	}

	var c ChunkRecord
	var symbolName sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, path, content, start_line, end_line, kind, symbol_name, content_hash
		FROM chunks WHERE id = ?
	`, chunkID).Scan(&c.ID, &c.Path, &c.Content, &c.StartLine, &c.EndLine, &c.Kind, &symbolName, &c.ContentHash)
	if err == sql.ErrNoRows {
		return nil, apperr.New(apperr.NotFound, "chunk not found").WithDetail("chunk_id", chunkID)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.IOFailure, err, "failed to read chunk")
	}
	c.SymbolName = symbolName.String
	return &c, nil
}

// ChunkIDsForPath lists the chunk-ids currently stored for path.
func (s *SQLiteChunkStore) ChunkIDsForPath(ctx context.Context, path string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, apperr.New(apperr.IOFailure, "chunk store is closed")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id FROM chunks WHERE path = ?`, path)
	if err != nil {
		return nil, apperr.Wrap(apperr.IOFailure, err, "failed to list chunk ids for path")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Wrap(apperr.IOFailure, err, "failed to scan chunk id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// IterateChunks streams every (slot-order, chunk-id, embedding), ordered by
// slot-order (a chunk's position within its file) and then chunk id.
func (s *SQLiteChunkStore) IterateChunks(ctx context.Context, visit func(IndexedChunk) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return apperr.New(apperr.IOFailure, "chunk store is closed")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.slot_order, c.id, e.vector
		FROM chunks c JOIN embeddings e ON e.chunk_id = c.id
		ORDER BY c.slot_order, c.id
	`)
	if err != nil {
		return apperr.Wrap(apperr.IOFailure, err, "failed to iterate chunks")
	}
	defer rows.Close()

	for rows.Next() {
		var ic IndexedChunk
		var blob []byte
		if err := rows.Scan(&ic.SlotOrder, &ic.ChunkID, &blob); err != nil {
			return apperr.Wrap(apperr.IOFailure, err, "failed to scan chunk row")
		}
		ic.Embedding = decodeVector(blob)
		if err := visit(ic); err != nil {
			return err
		}
	}
	return rows.Err()
}

// FileCount reports the number of tracked files.
func (s *SQLiteChunkStore) FileCount(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, apperr.New(apperr.IOFailure, "chunk store is closed")
	}
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM files`).Scan(&count); err != nil {
		return 0, apperr.Wrap(apperr.IOFailure, err, "failed to count files")
	}
	return count, nil
}

// ChunkCount reports the number of tracked chunks.
func (s *SQLiteChunkStore) ChunkCount(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, apperr.New(apperr.IOFailure, "chunk store is closed")
	}
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&count); err != nil {
		return 0, apperr.Wrap(apperr.IOFailure, err, "failed to count chunks")
	}
	return count, nil
}

// AllFilePaths lists every tracked file path.
func (s *SQLiteChunkStore) AllFilePaths(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, apperr.New(apperr.IOFailure, "chunk store is closed")
	}
	rows, err := s.db.QueryContext(ctx, `SELECT path FROM files`)
	if err != nil {
		return nil, apperr.Wrap(apperr.IOFailure, err, "failed to list files")
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, apperr.Wrap(apperr.IOFailure, err, "failed to scan file path")
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// GetState reads a value from the state table, returning "" when the key
// has never been set.
func (s *SQLiteChunkStore) GetState(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", apperr.New(apperr.IOFailure, "chunk store is closed")
	}
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", apperr.Wrap(apperr.IOFailure, err, "failed to read state")
	}
	return value, nil
}

// SetState upserts a key in the state table.
func (s *SQLiteChunkStore) SetState(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return apperr.New(apperr.IOFailure, "chunk store is closed")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return apperr.Wrap(apperr.IOFailure, err, "failed to write state")
	}
	return nil
}

// SaveIndexCheckpoint records an in-flight indexing run's progress so a
// crashed or interrupted run can be observed and resumed.
func (s *SQLiteChunkStore) SaveIndexCheckpoint(ctx context.Context, cp IndexCheckpoint) error {
	pairs := map[string]string{
		StateKeyCheckpointStage:     cp.Stage,
		StateKeyCheckpointTotal:     strconv.Itoa(cp.Total),
		StateKeyCheckpointProcessed: strconv.Itoa(cp.Processed),
		StateKeyCheckpointTimestamp: cp.Timestamp.UTC().Format(time.RFC3339),
		StateKeyCheckpointModel:     cp.Model,
	}
	for key, value := range pairs {
		if err := s.SetState(ctx, key, value); err != nil {
			return err
		}
	}
	return nil
}

// LoadIndexCheckpoint returns the recorded checkpoint, or nil when no run
// has left one behind.
func (s *SQLiteChunkStore) LoadIndexCheckpoint(ctx context.Context) (*IndexCheckpoint, error) {
	stage, err := s.GetState(ctx, StateKeyCheckpointStage)
	if err != nil {
		return nil, err
	}
	if stage == "" {
		return nil, nil
	}

	cp := &IndexCheckpoint{Stage: stage}
	if v, err := s.GetState(ctx, StateKeyCheckpointTotal); err == nil && v != "" {
		cp.Total, _ = strconv.Atoi(v)
	}
	if v, err := s.GetState(ctx, StateKeyCheckpointProcessed); err == nil && v != "" {
		cp.Processed, _ = strconv.Atoi(v)
	}
	if v, err := s.GetState(ctx, StateKeyCheckpointTimestamp); err == nil && v != "" {
		cp.Timestamp, _ = time.Parse(time.RFC3339, v)
	}
	if v, err := s.GetState(ctx, StateKeyCheckpointModel); err == nil {
		cp.Model = v
	}
	return cp, nil
}

// ClearIndexCheckpoint removes the checkpoint keys, marking the last run
// complete.
func (s *SQLiteChunkStore) ClearIndexCheckpoint(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return apperr.New(apperr.IOFailure, "chunk store is closed")
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM state WHERE key LIKE 'checkpoint_%'`)
	if err != nil {
		return apperr.Wrap(apperr.IOFailure, err, "failed to clear checkpoint")
	}
	return nil
}

// Clear drops every files/chunks/embeddings row and any recorded
// checkpoint.
func (s *SQLiteChunkStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return apperr.New(apperr.IOFailure, "chunk store is closed")
	}
	// Deleting files cascades chunks and embeddings.
	if _, err := s.db.ExecContext(ctx, `DELETE FROM files`); err != nil {
		return apperr.Wrap(apperr.IOFailure, err, "failed to clear chunk store")
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM state`); err != nil {
		return apperr.Wrap(apperr.IOFailure, err, "failed to clear state")
	}
	return nil
}

// Save forces a WAL checkpoint, ensuring durability.
func (s *SQLiteChunkStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return apperr.New(apperr.IOFailure, "chunk store is closed")
	}
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return apperr.Wrap(apperr.IOFailure, err, "failed to checkpoint chunk store")
	}
	return nil
}

// Close checkpoints and closes the database, releasing the cross-process
// lock. Idempotent.
func (s *SQLiteChunkStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	err := s.db.Close()

	if s.lock != nil {
		if unlockErr := s.lock.Unlock(); unlockErr != nil && err == nil {
			err = unlockErr
		}
	}
	if err != nil {
		return apperr.Wrap(apperr.IOFailure, err, "failed to close chunk store")
	}
	return nil
}

// encodeVector serializes a float32 vector to its native-endianness byte
// representation: D × 4 bytes, native endianness.
func encodeVector(v []float32) []byte {
	buf := new(bytes.Buffer)
	buf.Grow(len(v) * 4)
	for _, f := range v {
		_ = binary.Write(buf, binary.NativeEndian, math.Float32bits(f))
	}
	return buf.Bytes()
}

func decodeVector(blob []byte) []float32 {
	n := len(blob) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := binary.NativeEndian.Uint32(blob[i*4 : i*4+4])
		out[i] = math.Float32frombits(bits)
	}
	return out
}
