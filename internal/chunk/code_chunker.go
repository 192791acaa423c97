package chunk

import (
	"context"
	"sort"
	"strings"
)

// CodeChunker implements the hierarchical chunker for tree-sitter
// supported languages: a file-level chunk, one definition chunk per
// top-level or class-nested symbol, and block chunks covering whatever a
// definition chunk doesn't.
type CodeChunker struct {
	parser    *Parser
	extractor *SymbolExtractor
	registry  *LanguageRegistry
}

// NewCodeChunker creates a chunker using the default language registry.
func NewCodeChunker() *CodeChunker {
	return NewCodeChunkerWithRegistry(DefaultRegistry())
}

// NewCodeChunkerWithRegistry creates a chunker against a custom registry.
func NewCodeChunkerWithRegistry(registry *LanguageRegistry) *CodeChunker {
	return &CodeChunker{
		parser:    NewParserWithRegistry(registry),
		extractor: NewSymbolExtractorWithRegistry(registry),
		registry:  registry,
	}
}

// Close releases the underlying tree-sitter parser.
func (c *CodeChunker) Close() {
	c.parser.Close()
}

// SupportedExtensions returns the extensions the wired grammars handle.
func (c *CodeChunker) SupportedExtensions() []string {
	return c.registry.SupportedExtensions()
}

// Chunk splits file into its three-level chunk sequence. Unsupported
// languages and parse failures fall back to the sliding-window block
// chunker over the whole file.
func (c *CodeChunker) Chunk(ctx context.Context, file *FileInput) ([]*Chunk, *FileAnalysis, error) {
	lines := splitLines(string(file.Content))
	if len(lines) == 0 {
		return []*Chunk{}, &FileAnalysis{}, nil
	}

	language := file.Language
	if language == "" {
		return c.fallback(file, lines), &FileAnalysis{}, nil
	}

	config, ok := c.registry.GetByName(language)
	if !ok {
		return c.fallback(file, lines), &FileAnalysis{}, nil
	}

	tree, err := c.parser.Parse(ctx, file.Content, language)
	if err != nil || tree == nil || tree.Root == nil {
		return c.fallback(file, lines), &FileAnalysis{}, nil
	}

	symbols := c.extractor.Extract(tree, file.Content)
	classLike := classLikeNames(symbols, config)

	// A Go method is declared at top level, so the extractor records no
	// parent for it; its chunk takes the receiver's type name instead.
	receivers := make(map[int]string)
	if language == "go" {
		for _, m := range tree.Root.FindAllByType("method_declaration") {
			if recv := m.FindChildByType("parameter_list"); recv != nil {
				if ids := recv.FindAllByType("type_identifier"); len(ids) > 0 {
					receivers[int(m.StartPoint.Row)+1] = ids[0].GetContent(file.Content)
				}
			}
		}
	}

	chunks := []*Chunk{newFileChunk(file, len(lines))}

	var defSymbols []*Symbol
	for _, sym := range symbols {
		if sym.Parent == "" || classLike[sym.Parent] {
			defSymbols = append(defSymbols, sym)
		}
	}
	sort.Slice(defSymbols, func(i, j int) bool { return defSymbols[i].StartLine < defSymbols[j].StartLine })

	covered := make([][2]int, 0, len(defSymbols))
	for _, sym := range defSymbols {
		parentName := sym.Parent
		if parentName == "" && sym.Type == SymbolTypeMethod {
			parentName = receivers[sym.StartLine]
		}
		chunks = append(chunks, &Chunk{
			FilePath:   file.Path,
			Content:    contentForLines(lines, sym.StartLine, sym.EndLine),
			Kind:       KindDefinition,
			SymbolName: sym.Name,
			ParentName: parentName,
			Language:   language,
			StartLine:  sym.StartLine,
			EndLine:    sym.EndLine,
		})
		covered = append(covered, [2]int{sym.StartLine, sym.EndLine})
	}

	chunks = append(chunks, blockChunksForGaps(file, lines, language, mergeRanges(covered))...)

	analysis := &FileAnalysis{
		Imports: extractImports(tree, file.Content, language),
		Symbols: symbols,
	}
	return chunks, analysis, nil
}

// fallback produces the file chunk plus sequential 50-line block chunks,
// used for languages the registry doesn't cover and for parse failures.
func (c *CodeChunker) fallback(file *FileInput, lines []string) []*Chunk {
	chunks := []*Chunk{newFileChunk(file, len(lines))}
	chunks = append(chunks, blockChunksForRange(file, lines, file.Language, 1, len(lines))...)
	return chunks
}

// newFileChunk builds the kind=file chunk spanning the whole file.
func newFileChunk(file *FileInput, lineCount int) *Chunk {
	return &Chunk{
		FilePath:  file.Path,
		Content:   string(file.Content),
		Kind:      KindFile,
		Language:  file.Language,
		StartLine: 1,
		EndLine:   lineCount,
	}
}

// classLikeNames returns the set of symbol names that are class/interface/
// type definitions, used to recognize "class-nested" definitions (methods
// directly inside a class) without re-walking the tree.
func classLikeNames(symbols []*Symbol, config *LanguageConfig) map[string]bool {
	names := make(map[string]bool)
	for _, sym := range symbols {
		switch sym.Type {
		case SymbolTypeClass, SymbolTypeInterface, SymbolTypeType:
			names[sym.Name] = true
		}
	}
	return names
}

// mergeRanges sorts and coalesces overlapping/adjacent [start,end] ranges.
func mergeRanges(ranges [][2]int) [][2]int {
	if len(ranges) == 0 {
		return nil
	}
	sort.Slice(ranges, func(i, j int) bool { return ranges[i][0] < ranges[j][0] })
	merged := [][2]int{ranges[0]}
	for _, r := range ranges[1:] {
		last := &merged[len(merged)-1]
		if r[0] <= last[1]+1 {
			if r[1] > last[1] {
				last[1] = r[1]
			}
			continue
		}
		merged = append(merged, r)
	}
	return merged
}

// blockChunksForGaps produces block chunks for every line range in [1,
// len(lines)] not covered by a definition chunk.
func blockChunksForGaps(file *FileInput, lines []string, language string, covered [][2]int) []*Chunk {
	total := len(lines)
	var chunks []*Chunk
	cursor := 1
	for _, r := range covered {
		if r[0] > cursor {
			chunks = append(chunks, blockChunksForRange(file, lines, language, cursor, r[0]-1)...)
		}
		if r[1]+1 > cursor {
			cursor = r[1] + 1
		}
	}
	if cursor <= total {
		chunks = append(chunks, blockChunksForRange(file, lines, language, cursor, total)...)
	}
	return chunks
}

// blockChunksForRange splits [start,end] (1-indexed, inclusive) into
// sequential windows of up to BlockChunkLines lines each.
func blockChunksForRange(file *FileInput, lines []string, language string, start, end int) []*Chunk {
	var chunks []*Chunk
	for windowStart := start; windowStart <= end; windowStart += BlockChunkLines {
		windowEnd := windowStart + BlockChunkLines - 1
		if windowEnd > end {
			windowEnd = end
		}
		chunks = append(chunks, &Chunk{
			FilePath:  file.Path,
			Content:   contentForLines(lines, windowStart, windowEnd),
			Kind:      KindBlock,
			Language:  language,
			StartLine: windowStart,
			EndLine:   windowEnd,
		})
	}
	return chunks
}

// splitLines splits text into lines without a trailing empty element for a
// final newline, keeping StartLine/EndLine 1-indexed and consistent with
// how editors report line numbers.
func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	if len(lines) > 1 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// contentForLines returns the verbatim text for 1-indexed inclusive
// [start,end], clamped to the available lines.
func contentForLines(lines []string, start, end int) string {
	if start < 1 {
		start = 1
	}
	if end > len(lines) {
		end = len(lines)
	}
	if start > end {
		return ""
	}
	return strings.Join(lines[start-1:end], "\n")
}

// extractImports pulls the file's import/package statements from the parse
// tree already produced for chunking, so the knowledge graph doesn't need
// to re-parse the file.
func extractImports(tree *Tree, source []byte, language string) []string {
	switch language {
	case "go":
		return extractGoImports(tree, source)
	case "typescript", "tsx", "javascript", "jsx":
		return extractJSImports(tree, source)
	case "python":
		return extractPythonImports(tree, source)
	default:
		return nil
	}
}

func extractGoImports(tree *Tree, source []byte) []string {
	var imports []string
	for _, spec := range tree.Root.FindAllByType("import_spec") {
		path := spec.FindChildByType("interpreted_string_literal")
		if path == nil {
			continue
		}
		imports = append(imports, strings.Trim(path.GetContent(source), "\""))
	}
	return imports
}

func extractJSImports(tree *Tree, source []byte) []string {
	var imports []string
	for _, stmt := range tree.Root.FindAllByType("import_statement") {
		for _, str := range stmt.FindAllByType("string") {
			imports = append(imports, strings.Trim(str.GetContent(source), "\"'`"))
			break
		}
	}
	for _, call := range tree.Root.FindAllByType("call_expression") {
		if fn := call.FindChildByType("identifier"); fn != nil && fn.GetContent(source) == "require" {
			if args := call.FindChildByType("arguments"); args != nil {
				for _, str := range args.FindAllByType("string") {
					imports = append(imports, strings.Trim(str.GetContent(source), "\"'`"))
					break
				}
			}
		}
	}
	return imports
}

func extractPythonImports(tree *Tree, source []byte) []string {
	var imports []string
	for _, stmt := range tree.Root.FindAllByType("import_statement") {
		for _, name := range stmt.FindAllByType("dotted_name") {
			imports = append(imports, name.GetContent(source))
		}
	}
	for _, stmt := range tree.Root.FindAllByType("import_from_statement") {
		for _, name := range stmt.FindChildrenByType("dotted_name") {
			imports = append(imports, name.GetContent(source))
			break
		}
	}
	return imports
}
