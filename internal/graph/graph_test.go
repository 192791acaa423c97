package graph_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ferret-index/codelens/internal/chunk"
	"github.com/ferret-index/codelens/internal/graph"
)

func analysis(imports []string, symbols ...string) *chunk.FileAnalysis {
	a := &chunk.FileAnalysis{Imports: imports}
	for _, s := range symbols {
		a.Symbols = append(a.Symbols, &chunk.Symbol{Name: s})
	}
	return a
}

func TestDependencies_ResolvesRelativeImport(t *testing.T) {
	g := graph.New()
	g.Update("src/b.ts", analysis(nil, "helper"), "export function helper() {}")
	g.Update("src/a.ts", analysis([]string{"./b"}, "main"), "import { helper } from './b'\nfunction main() { helper() }")

	deps := g.Dependencies("src/a.ts")
	require.Len(t, deps, 1)
	require.Equal(t, "src/b.ts", deps[0].To)
}

func TestDependencies_DropsExternalPackages(t *testing.T) {
	g := graph.New()
	g.Update("src/a.ts", analysis([]string{"lodash"}, "main"), "import _ from 'lodash'")

	require.Empty(t, g.Dependencies("src/a.ts"))
}

func TestDependents_IsInverseOfDependencies(t *testing.T) {
	g := graph.New()
	g.Update("src/b.ts", analysis(nil, "helper"), "")
	g.Update("src/a.ts", analysis([]string{"./b"}, "main"), "helper()")

	require.Equal(t, []string{"src/a.ts"}, g.Dependents("src/b.ts"))
}

func TestRelated_HopCountIgnoresDirection(t *testing.T) {
	g := graph.New()
	g.Update("src/c.ts", analysis(nil, "leaf"), "")
	g.Update("src/b.ts", analysis([]string{"./c"}, "mid"), "leaf()")
	g.Update("src/a.ts", analysis([]string{"./b"}, "main"), "mid()")

	// a -> b is one hop; b -> c is a second hop, reached as a's dependency's
	// dependency, so c appears at depth 2 but not at depth 1.
	related := g.Related("src/a.ts", 2)
	require.Contains(t, related, "src/b.ts")
	require.Contains(t, related, "src/c.ts")

	require.Equal(t, []string{"src/b.ts"}, g.Related("src/a.ts", 1))

	// From b, its dependent a and its dependency c are both one hop away.
	require.Equal(t, []string{"src/a.ts", "src/c.ts"}, g.Related("src/b.ts", 1))
}

func TestSymbolUsage_CountsCallSites(t *testing.T) {
	g := graph.New()
	g.Update("src/a.go", analysis(nil, "Foo"), "func Foo() {}\nfunc main() { Foo(); Foo() }")

	usage := g.SymbolUsage("Foo")
	require.Len(t, usage, 1)
	require.Equal(t, "src/a.go", usage[0].Path)
	require.Equal(t, 3, usage[0].Count) // definition + two call sites
}

func TestRemove_DropsNodeFromGraph(t *testing.T) {
	g := graph.New()
	g.Update("src/a.go", analysis(nil, "Foo"), "func Foo() {}")
	require.Equal(t, 1, g.NodeCount())

	g.Remove("src/a.go")
	require.Equal(t, 0, g.NodeCount())
	require.Empty(t, g.Dependents("src/a.go"))
}
