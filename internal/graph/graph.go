// Package graph implements the knowledge graph: a per-workspace, in-memory
// map of path to import/export/call-site information, built from the same
// tree-sitter parse the chunker already performs so the two stay consistent
// without a second pass over the file.
//
// Depth in Related is a pure hop count over the union of dependency and
// dependent edges, regardless of traversal direction.
package graph

import (
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/ferret-index/codelens/internal/chunk"
)

// sourceExtensions are appended, in order, when resolving a relative
// import source to a workspace path.
var sourceExtensions = []string{".ts", ".tsx", ".js", ".jsx", ".py", ".go"}

// Node is the per-file knowledge-graph record: exported symbol names, a
// symbol->import-source map, and observed call-site counts per symbol.
type Node struct {
	Path      string
	Exports   map[string]bool
	Imports   map[string]string // imported identifier -> raw import source
	CallSites map[string]int    // symbol name -> call-site count in this file
}

// Graph is the per-workspace knowledge graph.
type Graph struct {
	mu    sync.RWMutex
	nodes map[string]*Node
}

// New creates an empty Graph.
func New() *Graph {
	return &Graph{nodes: make(map[string]*Node)}
}

// Update replaces path's node from the chunker's FileAnalysis byproduct and
// the file's raw content (used for call-site counting). The chunker remains
// authoritative for chunk boundaries; the graph only records its own view
// of imports/exports/call sites from the same parse.
func (g *Graph) Update(path string, analysis *chunk.FileAnalysis, content string) {
	node := &Node{
		Path:      path,
		Exports:   make(map[string]bool),
		Imports:   make(map[string]string),
		CallSites: make(map[string]int),
	}
	if analysis != nil {
		for _, sym := range analysis.Symbols {
			if sym.Name == "" {
				continue
			}
			// Top-level (un-parented) symbols are treated as the file's
			// exported surface; this is an approximation where the
			// lightweight parser doesn't track per-language visibility
			// rules explicitly.
			if sym.Parent == "" {
				node.Exports[sym.Name] = true
			}
			node.CallSites[sym.Name] = countCallSites(content, sym.Name)
		}
		for _, src := range analysis.Imports {
			node.Imports[importIdentifier(src)] = src
		}
	}

	g.mu.Lock()
	g.nodes[path] = node
	g.mu.Unlock()
}

// Remove drops path's node, e.g. when the coordinator removes the file
// from the index.
func (g *Graph) Remove(path string) {
	g.mu.Lock()
	delete(g.nodes, path)
	g.mu.Unlock()
}

// Edge is one resolved dependency edge: the owning path imports symbols
// from To.
type Edge struct {
	To      string
	Symbols []string
}

// Dependencies resolves path's imports against the node index, appending
// common source extensions and /index.* the way a module resolver would.
// Imports that resolve to no known node (external packages) are dropped.
func (g *Graph) Dependencies(path string) []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.dependenciesLocked(path)
}

func (g *Graph) dependenciesLocked(path string) []Edge {
	node, ok := g.nodes[path]
	if !ok {
		return nil
	}

	bySource := make(map[string][]string)
	for symbol, source := range node.Imports {
		bySource[source] = append(bySource[source], symbol)
	}

	var edges []Edge
	for source, symbols := range bySource {
		if target, ok := g.resolveLocked(path, source); ok {
			sort.Strings(symbols)
			edges = append(edges, Edge{To: target, Symbols: symbols})
		}
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].To < edges[j].To })
	return edges
}

// resolveLocked resolves a (possibly relative) import source to a known
// node path. External (non-relative) imports never resolve; only
// workspace-local edges are kept.
func (g *Graph) resolveLocked(fromPath, source string) (string, bool) {
	if !strings.HasPrefix(source, ".") {
		return "", false
	}

	dir := filepath.Dir(fromPath)
	base := filepath.ToSlash(filepath.Join(dir, source))

	candidates := []string{base}
	for _, ext := range sourceExtensions {
		candidates = append(candidates, base+ext)
	}
	for _, ext := range sourceExtensions {
		candidates = append(candidates, filepath.ToSlash(filepath.Join(base, "index"+ext)))
	}

	for _, c := range candidates {
		if _, ok := g.nodes[c]; ok {
			return c, true
		}
	}
	return "", false
}

// Dependents returns every path that depends on path, computed via a scan
// of the current node set (cheap enough at this scale that no memoization
// is kept).
func (g *Graph) Dependents(path string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.dependentsLocked(path)
}

func (g *Graph) dependentsLocked(path string) []string {
	var result []string
	for p := range g.nodes {
		if p == path {
			continue
		}
		for _, e := range g.dependenciesLocked(p) {
			if e.To == path {
				result = append(result, p)
				break
			}
		}
	}
	sort.Strings(result)
	return result
}

// Related performs a breadth-first walk over dependencies union dependents
// up to maxDepth hops (default 2), excluding the seed path from the
// result.
func (g *Graph) Related(path string, maxDepth int) []string {
	if maxDepth <= 0 {
		maxDepth = 2
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	visited := map[string]bool{path: true}
	frontier := []string{path}

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, p := range frontier {
			for _, e := range g.dependenciesLocked(p) {
				if !visited[e.To] {
					visited[e.To] = true
					next = append(next, e.To)
				}
			}
			for _, dep := range g.dependentsLocked(p) {
				if !visited[dep] {
					visited[dep] = true
					next = append(next, dep)
				}
			}
		}
		frontier = next
	}

	delete(visited, path)
	out := make([]string, 0, len(visited))
	for p := range visited {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// PathCount pairs a path with an observed symbol call-site count.
type PathCount struct {
	Path  string
	Count int
}

// SymbolUsage returns every (path, count) where name has an observed
// call-site, sorted by count descending then path ascending.
func (g *Graph) SymbolUsage(name string) []PathCount {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []PathCount
	for path, node := range g.nodes {
		if count, ok := node.CallSites[name]; ok && count > 0 {
			out = append(out, PathCount{Path: path, Count: count})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Path < out[j].Path
	})
	return out
}

// NodeCount reports how many paths currently have a node, for status/debug
// surfaces.
func (g *Graph) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// importIdentifier derives a pseudo symbol name for an import source, used
// as the Imports map's key since the lightweight parser doesn't capture
// named bindings: the last path segment, stripped of its extension.
func importIdentifier(source string) string {
	base := filepath.Base(source)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func countCallSites(content, name string) int {
	if name == "" {
		return 0
	}
	pattern := regexp.MustCompile(regexp.QuoteMeta(name) + `\s*\(`)
	return len(pattern.FindAllStringIndex(content, -1))
}
