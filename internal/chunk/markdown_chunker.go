package chunk

import (
	"context"
	"regexp"
	"strings"
)

// MarkdownChunker gives markdown files a dedicated heading-aware definition
// level on top of the generic file/block levels: one definition chunk per
// heading section, symbol_name set to the heading text, with any content
// that precedes the first heading (or the whole file, when there are no
// headings) falling back to block chunks.
type MarkdownChunker struct{}

var headingPattern = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)

// NewMarkdownChunker creates a markdown chunker. It holds no state.
func NewMarkdownChunker() *MarkdownChunker {
	return &MarkdownChunker{}
}

// Close is a no-op; MarkdownChunker is stateless.
func (c *MarkdownChunker) Close() {}

// SupportedExtensions returns the extensions this chunker handles.
func (c *MarkdownChunker) SupportedExtensions() []string {
	return []string{".md", ".markdown", ".mdx"}
}

type heading struct {
	level int
	title string
	line  int // 1-indexed line the heading appears on
}

// Chunk splits file into a file-level chunk, one definition chunk per
// heading section, and block chunks for any remaining, non-heading content.
func (c *MarkdownChunker) Chunk(ctx context.Context, file *FileInput) ([]*Chunk, *FileAnalysis, error) {
	lines := splitLines(string(file.Content))
	if len(lines) == 0 {
		return []*Chunk{}, &FileAnalysis{}, nil
	}

	chunks := []*Chunk{newFileChunk(file, len(lines))}

	headings := parseHeadings(lines)
	if len(headings) == 0 {
		chunks = append(chunks, blockChunksForRange(file, lines, "markdown", 1, len(lines))...)
		return chunks, &FileAnalysis{}, nil
	}

	if headings[0].line > 1 {
		chunks = append(chunks, blockChunksForRange(file, lines, "markdown", 1, headings[0].line-1)...)
	}

	for i, h := range headings {
		end := len(lines)
		if i+1 < len(headings) {
			end = headings[i+1].line - 1
		}
		chunks = append(chunks, &Chunk{
			FilePath:   file.Path,
			Content:    contentForLines(lines, h.line, end),
			Kind:       KindDefinition,
			SymbolName: h.title,
			Language:   "markdown",
			StartLine:  h.line,
			EndLine:    end,
		})
	}

	return chunks, &FileAnalysis{}, nil
}

// parseHeadings finds ATX-style (#..######) headings, skipping any inside
// fenced code blocks so a commented-out "# foo" in a code sample isn't
// mistaken for a section boundary.
func parseHeadings(lines []string) []*heading {
	var headings []*heading
	inFence := false
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		if match := headingPattern.FindStringSubmatch(line); match != nil {
			headings = append(headings, &heading{
				level: len(match[1]),
				title: strings.TrimSpace(match[2]),
				line:  i + 1,
			})
		}
	}
	return headings
}
