package chunk

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const markdownSample = `# Title

Intro paragraph.

## Usage

Run the thing.

### Details

More words about the thing.
`

func TestMarkdownChunkerEmitsFileAndHeadingDefinitions(t *testing.T) {
	c := NewMarkdownChunker()
	defer c.Close()

	chunks, _, err := c.Chunk(context.Background(), &FileInput{
		Path:    "README.md",
		Content: []byte(markdownSample),
	})
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	assert.Equal(t, KindFile, chunks[0].Kind)
	assert.Equal(t, markdownSample, chunks[0].Content)

	var titles []string
	for _, ch := range chunks {
		if ch.Kind == KindDefinition {
			titles = append(titles, ch.SymbolName)
		}
	}
	assert.Equal(t, []string{"Title", "Usage", "Details"}, titles)
}

func TestMarkdownChunkerNestedHeadingSpansStopAtNextHeading(t *testing.T) {
	c := NewMarkdownChunker()
	defer c.Close()

	chunks, _, err := c.Chunk(context.Background(), &FileInput{
		Path:    "README.md",
		Content: []byte(markdownSample),
	})
	require.NoError(t, err)

	var usage *Chunk
	for _, ch := range chunks {
		if ch.SymbolName == "Usage" {
			usage = ch
		}
	}
	require.NotNil(t, usage)
	assert.Contains(t, usage.Content, "Run the thing.")
	assert.NotContains(t, usage.Content, "Intro paragraph.")
	assert.NotContains(t, usage.Content, "More words about the thing.")
}

func TestMarkdownChunkerPreambleBeforeFirstHeadingBecomesBlock(t *testing.T) {
	c := NewMarkdownChunker()
	defer c.Close()

	content := "Some preamble text.\n\n# First Heading\n\nBody.\n"
	chunks, _, err := c.Chunk(context.Background(), &FileInput{Path: "notes.md", Content: []byte(content)})
	require.NoError(t, err)

	var sawPreambleBlock bool
	for _, ch := range chunks {
		if ch.Kind == KindBlock && strings.Contains(ch.Content, "Some preamble text.") {
			sawPreambleBlock = true
		}
	}
	assert.True(t, sawPreambleBlock)
}

func TestMarkdownChunkerNoHeadingsFallsBackToBlocks(t *testing.T) {
	c := NewMarkdownChunker()
	defer c.Close()

	content := strings.Repeat("plain prose line\n", 120)
	chunks, _, err := c.Chunk(context.Background(), &FileInput{Path: "notes.md", Content: []byte(content)})
	require.NoError(t, err)

	require.Greater(t, len(chunks), 1)
	for _, ch := range chunks[1:] {
		assert.Equal(t, KindBlock, ch.Kind)
		assert.LessOrEqual(t, ch.EndLine-ch.StartLine+1, BlockChunkLines)
	}
}

func TestMarkdownChunkerIgnoresHeadingLikeLinesInsideFencedCode(t *testing.T) {
	c := NewMarkdownChunker()
	defer c.Close()

	content := "# Real Heading\n\n```\n# not a heading\n```\n\nbody\n"
	chunks, _, err := c.Chunk(context.Background(), &FileInput{Path: "notes.md", Content: []byte(content)})
	require.NoError(t, err)

	var titles []string
	for _, ch := range chunks {
		if ch.Kind == KindDefinition {
			titles = append(titles, ch.SymbolName)
		}
	}
	assert.Equal(t, []string{"Real Heading"}, titles)
}

func TestMarkdownChunkerEmptyFileProducesNoChunks(t *testing.T) {
	c := NewMarkdownChunker()
	defer c.Close()

	chunks, _, err := c.Chunk(context.Background(), &FileInput{Path: "empty.md", Content: []byte("")})
	require.NoError(t, err)
	assert.Empty(t, chunks)
}
