package chunk

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests exercise the Parser/LanguageRegistry building blocks directly;
// CodeChunker's own tests (code_chunker_test.go) run Go source, and the
// unsupported-language fallback, through the actual chunker entry point the
// coordinator calls.

func TestParser_ParseGoFile_FindsFunctionDeclarations(t *testing.T) {
	source := []byte(`package main

func hello() {
	fmt.Println("Hello")
}

func goodbye() {
	fmt.Println("Bye")
}
`)

	parser := NewParser()
	defer parser.Close()

	tree, err := parser.Parse(context.Background(), source, "go")
	require.NoError(t, err)
	require.NotNil(t, tree)
	assert.Equal(t, "go", tree.Language)

	funcNodes := tree.Root.FindAllByType("function_declaration")
	assert.Len(t, funcNodes, 2)
}

func TestParser_ParseTypeScriptFile_FindsInterfaceAndFunctions(t *testing.T) {
	source := []byte(`interface User {
	name: string;
	age: number;
}

function greet(user: User): string {
	return "Hello, " + user.name;
}

const add = (a: number, b: number): number => a + b;
`)

	parser := NewParser()
	defer parser.Close()

	tree, err := parser.Parse(context.Background(), source, "typescript")
	require.NoError(t, err)
	assert.Equal(t, "typescript", tree.Language)

	assert.Len(t, tree.Root.FindAllByType("interface_declaration"), 1)
	assert.Len(t, tree.Root.FindAllByType("function_declaration"), 1)
	assert.Len(t, tree.Root.FindAllByType("arrow_function"), 1)
}

func TestParser_ParseJavaScriptFile_FindsFunctionClassAndArrow(t *testing.T) {
	source := []byte(`function greet(name) {
	return "Hello, " + name;
}

class Person {
	constructor(name) {
		this.name = name;
	}

	sayHello() {
		return greet(this.name);
	}
}

const arrow = (x) => x * 2;
`)

	parser := NewParser()
	defer parser.Close()

	tree, err := parser.Parse(context.Background(), source, "javascript")
	require.NoError(t, err)
	assert.Equal(t, "javascript", tree.Language)

	assert.Len(t, tree.Root.FindAllByType("function_declaration"), 1)
	assert.Len(t, tree.Root.FindAllByType("class_declaration"), 1)
	assert.Len(t, tree.Root.FindAllByType("arrow_function"), 1)
}

func TestParser_SyntaxErrorStillReturnsAPartialTreeWithHasErrorSet(t *testing.T) {
	source := []byte(`package main

func broken( {
	// missing closing paren
}
`)

	parser := NewParser()
	defer parser.Close()

	tree, err := parser.Parse(context.Background(), source, "go")
	require.NoError(t, err)
	require.NotNil(t, tree)
	assert.True(t, tree.Root.HasError)
}

func TestParser_UnknownLanguageIsAnError(t *testing.T) {
	parser := NewParser()
	defer parser.Close()

	_, err := parser.Parse(context.Background(), []byte("whatever"), "cobol")
	assert.Error(t, err)
}

func TestParser_ReusedAcrossMultipleLanguages(t *testing.T) {
	parser := NewParser()
	defer parser.Close()

	for _, tt := range []struct {
		code     string
		language string
	}{
		{`package main`, "go"},
		{`def foo(): pass`, "python"},
		{`function bar() {}`, "javascript"},
	} {
		tree, err := parser.Parse(context.Background(), []byte(tt.code), tt.language)
		require.NoError(t, err)
		require.NotNil(t, tree)
		assert.Equal(t, tt.language, tree.Language)
	}
}

func TestParser_ClosingTwiceDoesNotPanic(t *testing.T) {
	parser := NewParser()
	_, err := parser.Parse(context.Background(), []byte(`package main`), "go")
	require.NoError(t, err)
	parser.Close()
	parser.Close()
}

func TestNode_ContentHelpersNavigateATree(t *testing.T) {
	parser := NewParser()
	defer parser.Close()

	source := []byte(`package main

import "fmt"

func main() {
	fmt.Println("hi")
}
`)
	tree, err := parser.Parse(context.Background(), source, "go")
	require.NoError(t, err)

	specs := tree.Root.FindAllByType("import_spec")
	require.Len(t, specs, 1)
	path := specs[0].FindChildByType("interpreted_string_literal")
	require.NotNil(t, path)
	assert.Equal(t, `"fmt"`, path.GetContent(source))

	funcs := tree.Root.FindChildrenByType("function_declaration")
	assert.Len(t, funcs, 1)

	var visited int
	tree.Root.Walk(func(n *Node) bool {
		visited++
		return true
	})
	assert.Greater(t, visited, len(specs)+len(funcs))
}

func TestSymbolExtractor_ExtractsAcrossLanguages(t *testing.T) {
	tests := []struct {
		name     string
		language string
		source   string
		want     map[string]SymbolType
	}{
		{
			name:     "go function, type, and method",
			language: "go",
			source: `package main

func Hello() {}

func Add(a, b int) int { return a + b }

type Calculator struct{ value int }

func (c *Calculator) Multiply(x int) int { return c.value * x }
`,
			want: map[string]SymbolType{
				"Hello":      SymbolTypeFunction,
				"Add":        SymbolTypeFunction,
				"Calculator": SymbolTypeType,
				"Multiply":   SymbolTypeMethod,
			},
		},
		{
			name:     "python classes and module function",
			language: "python",
			source: `class Dog:
    def bark(self):
        print("Woof!")

class Cat:
    def meow(self):
        print("Meow!")

def main():
    Dog().bark()
`,
			want: map[string]SymbolType{
				"Dog":  SymbolTypeClass,
				"Cat":  SymbolTypeClass,
				"main": SymbolTypeFunction,
			},
		},
		{
			name:     "typescript interface, class, and arrow const",
			language: "typescript",
			source: `interface User {
	name: string;
}

class UserService {
	addUser(user: User): void {}
}

function createUser(name: string): User {
	return { name };
}

const getUser = (id: number): User | undefined => undefined;
`,
			want: map[string]SymbolType{
				"UserService": SymbolTypeClass,
				"createUser":  SymbolTypeFunction,
			},
		},
	}

	parser := NewParser()
	defer parser.Close()
	extractor := NewSymbolExtractor()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := []byte(tt.source)
			tree, err := parser.Parse(context.Background(), source, tt.language)
			require.NoError(t, err)

			symbols := extractor.Extract(tree, source)
			byName := make(map[string]SymbolType, len(symbols))
			for _, s := range symbols {
				byName[s.Name] = s.Type
			}
			for name, wantType := range tt.want {
				gotType, ok := byName[name]
				assert.True(t, ok, "expected symbol %q to be extracted", name)
				assert.Equal(t, wantType, gotType, "symbol %q has the wrong type", name)
			}
		})
	}
}

func TestSymbolExtractor_EmptyOrUnknownInputsReturnEmptyNotNil(t *testing.T) {
	extractor := NewSymbolExtractor()

	t.Run("nil tree", func(t *testing.T) {
		result := extractor.Extract(nil, []byte("code"))
		assert.NotNil(t, result)
		assert.Empty(t, result)
	})

	t.Run("tree with nil root", func(t *testing.T) {
		result := extractor.Extract(&Tree{Root: nil, Language: "go"}, []byte("code"))
		assert.NotNil(t, result)
		assert.Empty(t, result)
	})

	t.Run("language with no registered config", func(t *testing.T) {
		parser := NewParser()
		defer parser.Close()
		tree, err := parser.Parse(context.Background(), []byte("package main"), "go")
		require.NoError(t, err)
		tree.Language = "unknown_language"

		result := extractor.Extract(tree, []byte("package main"))
		assert.NotNil(t, result)
		assert.Empty(t, result)
	})
}

func TestLanguageRegistry_GetByExtension(t *testing.T) {
	tests := []struct {
		extension string
		wantLang  string
		wantOK    bool
	}{
		{".go", "go", true},
		{".ts", "typescript", true},
		{".tsx", "tsx", true},
		{".js", "javascript", true},
		{".jsx", "jsx", true},
		{".mjs", "javascript", true},
		{".py", "python", true},
		{".ex", "", false},
	}

	registry := NewLanguageRegistry()
	for _, tt := range tests {
		t.Run(tt.extension, func(t *testing.T) {
			config, ok := registry.GetByExtension(tt.extension)
			assert.Equal(t, tt.wantOK, ok)
			if ok {
				assert.Equal(t, tt.wantLang, config.Name)
			} else {
				assert.Nil(t, config)
			}
		})
	}
}

func TestLanguageRegistry_ExtensionLookupIsCaseAndDotInsensitive(t *testing.T) {
	registry := NewLanguageRegistry()

	config, ok := registry.GetByExtension("GO")
	require.True(t, ok)
	assert.Equal(t, "go", config.Name)

	_, ok = registry.GetByExtension(".GO")
	assert.True(t, ok)
}

func TestParser_Parse100FunctionsStaysFast(t *testing.T) {
	var code string
	for i := 0; i < 100; i++ {
		code += `func function` + string(rune('A'+i%26)) + `() {
	x := 1
	y := 2
	fmt.Println(x + y)
}

`
	}
	source := []byte("package main\n\n" + code)

	parser := NewParser()
	defer parser.Close()

	start := time.Now()
	tree, err := parser.Parse(context.Background(), source, "go")
	elapsed := time.Since(start)

	require.NoError(t, err)
	require.NotNil(t, tree)
	assert.LessOrEqual(t, elapsed.Milliseconds(), int64(50), "parsing 100 small functions should stay well under 50ms")
}
