// Package retrieve implements the retrieval engine: embed the query,
// search the ANN index, shape the raw hits into one result per (path,
// kind), and optionally widen the result set with the knowledge graph's
// immediate neighbors.
package retrieve

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/ferret-index/codelens/internal/apperr"
	"github.com/ferret-index/codelens/internal/graph"
	"github.com/ferret-index/codelens/internal/store"
)

const (
	maxQueryRunes = 1000
	minTopK       = 1
	maxTopK       = 50
	defaultTopK   = 10
)

// Embedder is the subset of embed.Embedder the retrieval engine needs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Options controls one retrieve call.
type Options struct {
	// TopK bounds the number of results returned, in [1,50]; default 10.
	TopK int

	// PerQueryTopK bounds how many ANN hits are pulled before shaping;
	// defaults to TopK when unset.
	PerQueryTopK int

	// ExpandGraph widens results with each result path's immediate (depth
	// 1) knowledge-graph neighbors when there is room under TopK.
	ExpandGraph bool
}

// Result is one shaped retrieval hit.
type Result struct {
	Path    string
	Content string
	Score   float32
	Lines   string // "start-end"
	Reason  string // "vector_match" or "graph_expansion"
}

// Engine is the retrieval engine, composed over the already-built
// embedder, ANN index, chunk store, and knowledge graph.
type Engine struct {
	Embedder Embedder
	Vectors  store.VectorStore
	Store    store.ChunkStore
	Graph    *graph.Graph // optional; nil disables graph expansion

	queries singleflight.Group
}

// New builds a retrieval engine over the given subsystems. g may be nil.
func New(embedder Embedder, vectors store.VectorStore, chunkStore store.ChunkStore, g *graph.Graph) *Engine {
	return &Engine{Embedder: embedder, Vectors: vectors, Store: chunkStore, Graph: g}
}

// Retrieve runs one query: embed it, ANN search, skip tombstoned
// slots, dedup to one result per (path, kind) keeping the higher-scoring
// hit, optionally expand via the knowledge graph, and sort by descending
// score. Concurrent calls with identical query and options collapse onto a
// single underlying search via singleflight.
func (e *Engine) Retrieve(ctx context.Context, query string, opts Options) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, apperr.New(apperr.InvalidArgument, "query must not be empty")
	}
	if len([]rune(query)) > maxQueryRunes {
		return nil, apperr.New(apperr.InvalidArgument, fmt.Sprintf("query exceeds %d characters", maxQueryRunes))
	}

	topK := opts.TopK
	if topK == 0 {
		topK = defaultTopK
	}
	if topK < minTopK || topK > maxTopK {
		return nil, apperr.New(apperr.InvalidArgument, fmt.Sprintf("top_k must be in [%d,%d]", minTopK, maxTopK))
	}
	perQuery := opts.PerQueryTopK
	if perQuery <= 0 {
		perQuery = topK
	}

	key := fmt.Sprintf("%s\x00%d\x00%d\x00%v", query, topK, perQuery, opts.ExpandGraph)
	v, err, _ := e.queries.Do(key, func() (interface{}, error) {
		return e.retrieve(ctx, query, opts, topK, perQuery)
	})
	if err != nil {
		return nil, err
	}
	// Return a copy so concurrent callers sharing one singleflight result
	// don't alias the same backing array.
	results := v.([]Result)
	out := make([]Result, len(results))
	copy(out, results)
	return out, nil
}

func (e *Engine) retrieve(ctx context.Context, query string, opts Options, topK, perQuery int) ([]Result, error) {
	vec, err := e.Embedder.Embed(ctx, query)
	if err != nil {
		return nil, apperr.Wrap(apperr.ModelInitFailure, err, "failed to embed query")
	}

	hits, err := e.Vectors.Search(ctx, vec, perQuery)
	if err != nil {
		return nil, err
	}

	seenIDs := make(map[string]bool)
	seenPathKind := make(map[string]bool)
	var results []Result

	for _, h := range hits {
		if len(results) >= topK {
			break
		}
		rec, err := e.Store.GetChunk(ctx, h.ID)
		if err != nil {
			// The slot is a tombstone: live in the ANN index but already
			// removed from the store. Skip it rather than fail the query.
			continue
		}
		if !e.claim(seenIDs, seenPathKind, rec.ID, rec.Path, rec.Kind) {
			continue
		}
		results = append(results, Result{
			Path:    rec.Path,
			Content: rec.Content,
			Score:   h.Score,
			Lines:   fmt.Sprintf("%d-%d", rec.StartLine, rec.EndLine),
			Reason:  "vector_match",
		})
	}

	if opts.ExpandGraph && e.Graph != nil && len(results) < topK {
		results = e.expand(ctx, results, seenIDs, seenPathKind, topK)
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results, nil
}

// claim records (id, path, kind) as seen, returning false if the
// (path,kind) pair was already claimed by a higher-ranked hit.
func (e *Engine) claim(seenIDs, seenPathKind map[string]bool, id, path, kind string) bool {
	if seenIDs[id] {
		return false
	}
	key := path + "|" + kind
	if seenPathKind[key] {
		return false
	}
	seenIDs[id] = true
	seenPathKind[key] = true
	return true
}

// expand widens results with one chunk from each depth-1 graph neighbor of
// every current result's path, in deterministic (path, neighbor) order,
// stopping once topK is reached.
func (e *Engine) expand(ctx context.Context, results []Result, seenIDs, seenPathKind map[string]bool, topK int) []Result {
	seeds := make([]string, len(results))
	for i, r := range results {
		seeds[i] = r.Path
	}

	for _, seed := range seeds {
		for _, neighbor := range e.Graph.Related(seed, 1) {
			if len(results) >= topK {
				return results
			}
			ids, err := e.Store.ChunkIDsForPath(ctx, neighbor)
			if err != nil || len(ids) == 0 {
				continue
			}
			for _, id := range ids {
				rec, err := e.Store.GetChunk(ctx, id)
				if err != nil {
					continue
				}
				if !e.claim(seenIDs, seenPathKind, rec.ID, rec.Path, rec.Kind) {
					continue
				}
				results = append(results, Result{
					Path:    rec.Path,
					Content: rec.Content,
					Score:   0,
					Lines:   fmt.Sprintf("%d-%d", rec.StartLine, rec.EndLine),
					Reason:  "graph_expansion",
				})
				break
			}
		}
	}
	return results
}
