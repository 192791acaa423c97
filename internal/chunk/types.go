package chunk

import (
	"context"
	"fmt"
)

// BlockChunkLines is the sliding-window size (in source lines) used for
// kind=block fallback chunks.
const BlockChunkLines = 50

// Kind is the chunk's place in the three-level hierarchy the chunker always
// attempts to produce: one file-level chunk, one definition chunk per
// recognized top-level/class-nested symbol, and block chunks filling in
// whatever a definition chunk doesn't cover.
type Kind string

const (
	KindFile       Kind = "file"
	KindDefinition Kind = "definition"
	KindBlock      Kind = "block"
)

// Chunk is a retrievable, immutable unit of content. Its identity is
// path:start-end, derived rather than stored separately, so two chunks
// covering the same range always collide on ID instead of silently
// duplicating.
type Chunk struct {
	FilePath   string // workspace-relative path, slash-separated
	Content    string // exact source text for [StartLine, EndLine]
	Kind       Kind
	SymbolName string // set for Kind == KindDefinition (and markdown headings)
	ParentName string // enclosing symbol name, e.g. a method's class; used by the knowledge graph
	Language   string
	StartLine  int // 1-indexed, inclusive
	EndLine    int // 1-indexed, inclusive
}

// ID derives the chunk's identity as path:start-end, per the data model's
// chunk identity rule. Two chunks are the same chunk iff their ID matches.
func (c *Chunk) ID() string {
	return fmt.Sprintf("%s:%d-%d", c.FilePath, c.StartLine, c.EndLine)
}

// FileInput is input for the Chunker interface.
type FileInput struct {
	Path     string // workspace-relative path
	Content  []byte
	Language string // go, typescript, python, markdown, ... ("" if unrecognized)
}

// FileAnalysis is the byproduct of chunking a source file: the import
// statements and every symbol (nested ones included, each with its Parent)
// the chunker's parse already saw.
// The knowledge graph consumes this instead of re-parsing the file.
type FileAnalysis struct {
	Imports []string
	Symbols []*Symbol
}

// Chunker is the interface for splitting a file into chunks.
type Chunker interface {
	// Chunk splits a file into its chunk sequence and analysis byproduct.
	// The file-level chunk always comes first. CodeChunker then returns its
	// definition chunks ordered by StartLine, followed by its block chunks
	// ordered by StartLine; MarkdownChunker returns any block chunks for text
	// before the first heading, followed by the heading chunks in order.
	Chunk(ctx context.Context, file *FileInput) ([]*Chunk, *FileAnalysis, error)

	// SupportedExtensions returns file extensions this chunker handles.
	SupportedExtensions() []string
}

// SymbolType represents the kind of code symbol a definition chunk covers.
type SymbolType string

const (
	SymbolTypeFunction  SymbolType = "function"
	SymbolTypeClass     SymbolType = "class"
	SymbolTypeInterface SymbolType = "interface"
	SymbolTypeType      SymbolType = "type"
	SymbolTypeVariable  SymbolType = "variable"
	SymbolTypeConstant  SymbolType = "constant"
	SymbolTypeMethod    SymbolType = "method"
)

// Symbol is a recognized definition: a function, method, class, interface,
// type, or constant. Parent records the enclosing symbol (e.g. the class a
// method belongs to), consumed by the knowledge graph without a second
// parse.
type Symbol struct {
	Name       string
	Parent     string
	Type       SymbolType
	StartLine  int
	EndLine    int
	Signature  string
	DocComment string
}

// Tree represents a parsed AST.
type Tree struct {
	Root     *Node
	Source   []byte
	Language string
}

// Node represents a node in the AST.
type Node struct {
	Type       string
	StartByte  uint32
	EndByte    uint32
	StartPoint Point
	EndPoint   Point
	Children   []*Node
	HasError   bool
}

// Point represents a position in the source code.
type Point struct {
	Row    uint32 // 0-indexed line number
	Column uint32
}

// LanguageConfig holds configuration for a supported language.
type LanguageConfig struct {
	Name       string
	Extensions []string

	// Node types that indicate function declarations
	FunctionTypes []string

	// Node types that indicate class/struct definitions
	ClassTypes []string

	// Node types that indicate interface definitions
	InterfaceTypes []string

	// Node types that indicate method definitions
	MethodTypes []string

	// Node types that indicate type definitions
	TypeDefTypes []string

	// Node types that indicate constant declarations
	ConstantTypes []string

	// Node types that indicate variable declarations
	VariableTypes []string

	// Node type for name identifier
	NameField string
}
