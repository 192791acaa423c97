package codelens

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/ferret-index/codelens/internal/apperr"
	"github.com/ferret-index/codelens/internal/hash"
	"github.com/ferret-index/codelens/internal/store"
)

// legacyStateFile is the v1.2 single-blob index read and migrated on first
// run of the new store.
const legacyStateFile = ".codelens-context-state.json"

// legacyChunk is one chunk as it was serialized in the v1.2 blob: content
// plus its inline embedding and enough metadata to reconstruct a
// ChunkRecord.
type legacyChunk struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Embedding []float32 `json:"embedding"`
	Metadata  struct {
		Path      string `json:"path"`
		StartLine int    `json:"start_line"`
		EndLine   int    `json:"end_line"`
		Kind      string `json:"kind"`
		Symbol    string `json:"symbol"`
	} `json:"metadata"`
}

// legacyState is the top-level shape of the v1.2 blob.
type legacyState struct {
	Chunks     []legacyChunk     `json:"chunks"`
	FileHashes map[string]string `json:"file_hashes,omitempty"`
}

// unknownFileHash is the sentinel content_hash written for a migrated file
// whose source is no longer present on disk; the next workspace index
// naturally replaces or removes it.
const unknownFileHash = "unknown"

// MigrationResult summarizes a legacy migration run.
type MigrationResult struct {
	FilesMigrated  int
	ChunksMigrated int
	FilesSkipped   int // file hash could not be freshly computed (content missing on disk)
}

// migrateLegacyState reads legacyStateFile under stateDir (if present),
// groups its chunks by path, and writes each path's chunk set via
// chunkStore.AddFile + vectorStore.Add - the same commit path a normal
// indexing run uses. The original blob is preserved as a .bak sidecar
// rather than deleted.
//
// Legacy `type: "block"` chunks are not reclassified on migration (see
// DESIGN.md's Open Question decision); re-chunking is available afterward
// via index_workspace(force=true).
func migrateLegacyState(ctx context.Context, workspaceRoot, stateDir string, chunkStore store.ChunkStore, vectorStore store.VectorStore) (*MigrationResult, error) {
	blobPath := filepath.Join(stateDir, legacyStateFile)
	raw, err := os.ReadFile(blobPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.IOFailure, err, "failed to read legacy state file")
	}

	var legacy legacyState
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return nil, apperr.Wrap(apperr.CorruptState, err, "failed to parse legacy state file")
	}

	byPath := make(map[string][]legacyChunk)
	for _, c := range legacy.Chunks {
		byPath[c.Metadata.Path] = append(byPath[c.Metadata.Path], c)
	}

	result := &MigrationResult{}
	for path, chunks := range byPath {
		absPath := filepath.Join(workspaceRoot, path)
		content, err := os.ReadFile(absPath)
		fileHash := unknownFileHash
		if err != nil {
			// The file named in the legacy blob no longer exists on disk;
			// nothing to re-hash against. The chunks are still migrated
			// verbatim with a sentinel hash so no indexed content is
			// silently dropped; a later indexing run will naturally replace
			// or remove this path once it sees the file is actually missing.
			result.FilesSkipped++
		} else {
			fileHash = hash.File(content, false)
		}

		records := make([]store.ChunkWithEmbedding, 0, len(chunks))
		ids := make([]string, 0, len(chunks))
		vectors := make([][]float32, 0, len(chunks))
		for _, c := range chunks {
			rec := store.ChunkRecord{
				ID:          c.ID,
				Path:        path,
				Content:     c.Content,
				StartLine:   c.Metadata.StartLine,
				EndLine:     c.Metadata.EndLine,
				Kind:        c.Metadata.Kind,
				SymbolName:  c.Metadata.Symbol,
				ContentHash: hash.Chunk(c.Content),
			}
			records = append(records, store.ChunkWithEmbedding{Chunk: rec, Embedding: c.Embedding})
			ids = append(ids, c.ID)
			vectors = append(vectors, c.Embedding)
		}

		if err := vectorStore.Add(ctx, ids, vectors); err != nil {
			return result, err
		}
		if err := chunkStore.AddFile(ctx, path, records, fileHash); err != nil {
			_ = vectorStore.Delete(ctx, ids)
			return result, err
		}

		result.FilesMigrated++
		result.ChunksMigrated += len(records)
	}

	backupPath := blobPath + ".bak." + time.Now().UTC().Format("20060102150405")
	if err := os.Rename(blobPath, backupPath); err != nil {
		return result, apperr.Wrap(apperr.IOFailure, err, "failed to preserve legacy state backup")
	}

	return result, nil
}
