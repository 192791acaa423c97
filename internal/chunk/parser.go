package chunk

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
)

// Parser runs a registered grammar over source bytes and hands back the
// tree in codelens's own Node shape, so the extractor never touches
// the tree-sitter types directly.
type Parser struct {
	parser   *sitter.Parser
	registry *LanguageRegistry
}

// NewParser builds a Parser against the process-wide DefaultRegistry.
func NewParser() *Parser {
	return NewParserWithRegistry(DefaultRegistry())
}

// NewParserWithRegistry builds a Parser against a caller-supplied registry,
// e.g. one a test seeds with only the grammars it needs.
func NewParserWithRegistry(registry *LanguageRegistry) *Parser {
	return &Parser{parser: sitter.NewParser(), registry: registry}
}

// Parse runs the grammar registered for language over source and returns
// the resulting tree. Cancelling ctx aborts the underlying tree-sitter
// parse.
func (p *Parser) Parse(ctx context.Context, source []byte, language string) (*Tree, error) {
	tsLang, ok := p.registry.GetTreeSitterLanguage(language)
	if !ok {
		return nil, fmt.Errorf("unsupported language: %s", language)
	}
	p.parser.SetLanguage(tsLang)

	tsTree, err := p.parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, fmt.Errorf("parse source: %w", err)
	}
	if tsTree == nil {
		return nil, fmt.Errorf("parse source: tree-sitter returned a nil tree")
	}

	return &Tree{
		Root:     convertNode(tsTree.RootNode(), source),
		Source:   source,
		Language: language,
	}, nil
}

// Close releases the underlying tree-sitter parser.
func (p *Parser) Close() {
	if p.parser != nil {
		p.parser.Close()
	}
}

// convertNode walks a tree-sitter parse tree and copies it into our own
// Node shape; tree-sitter's *Node is only alive for the lifetime of the
// *sitter.Tree it came from, and chunks need to outlive that.
func convertNode(tsNode *sitter.Node, source []byte) *Node {
	if tsNode == nil {
		return nil
	}

	childCount := int(tsNode.ChildCount())
	node := &Node{
		Type:       tsNode.Type(),
		StartByte:  tsNode.StartByte(),
		EndByte:    tsNode.EndByte(),
		StartPoint: Point{Row: tsNode.StartPoint().Row, Column: tsNode.StartPoint().Column},
		EndPoint:   Point{Row: tsNode.EndPoint().Row, Column: tsNode.EndPoint().Column},
		HasError:   tsNode.HasError(),
		Children:   make([]*Node, 0, childCount),
	}

	for i := 0; i < childCount; i++ {
		if child := tsNode.Child(i); child != nil {
			node.Children = append(node.Children, convertNode(child, source))
		}
	}
	return node
}

// GetContent slices n's source text out of source.
func (n *Node) GetContent(source []byte) string {
	if n.StartByte >= n.EndByte || int(n.EndByte) > len(source) {
		return ""
	}
	return string(source[n.StartByte:n.EndByte])
}

// FindChildByType returns n's first direct child of nodeType, or nil.
func (n *Node) FindChildByType(nodeType string) *Node {
	for _, child := range n.Children {
		if child.Type == nodeType {
			return child
		}
	}
	return nil
}

// FindChildrenByType returns every direct child of n matching nodeType.
func (n *Node) FindChildrenByType(nodeType string) []*Node {
	var found []*Node
	for _, child := range n.Children {
		if child.Type == nodeType {
			found = append(found, child)
		}
	}
	return found
}

// FindAllByType recursively collects every node of nodeType in n's subtree,
// n included.
func (n *Node) FindAllByType(nodeType string) []*Node {
	var found []*Node
	if n.Type == nodeType {
		found = append(found, n)
	}
	for _, child := range n.Children {
		found = append(found, child.FindAllByType(nodeType)...)
	}
	return found
}

// Walk visits n and its descendants depth-first, stopping a subtree early
// when fn returns false for its root.
func (n *Node) Walk(fn func(*Node) bool) {
	if !fn(n) {
		return
	}
	for _, child := range n.Children {
		child.Walk(fn)
	}
}
