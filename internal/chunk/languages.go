package chunk

import (
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// LanguageRegistry maps file extensions and language names to the grammar
// (tree-sitter Language) and node-type configuration the code chunker
// needs to tell a function from a method from a class for that language.
type LanguageRegistry struct {
	mu          sync.RWMutex
	configs     map[string]*LanguageConfig // keyed by language name
	extToLang   map[string]string          // extension -> language name
	tsLanguages map[string]*sitter.Language
}

// grammar pairs a LanguageConfig with the tree-sitter grammar that parses
// it, so the registry's defaults can be built as one table instead of one
// method call per language.
type grammar struct {
	config *LanguageConfig
	lang   *sitter.Language
}

// NewLanguageRegistry builds a registry preloaded with every grammar
// codelens ships: Go, TypeScript/TSX, JavaScript/JSX, and Python.
func NewLanguageRegistry() *LanguageRegistry {
	r := &LanguageRegistry{
		configs:     make(map[string]*LanguageConfig),
		extToLang:   make(map[string]string),
		tsLanguages: make(map[string]*sitter.Language),
	}
	for _, g := range defaultGrammars() {
		r.registerLanguage(g.config, g.lang)
	}
	return r
}

// defaultGrammars describes the node-type vocabulary of each built-in
// grammar. TSX/JSX reuse their base language's node types (the JSX syntax
// extension doesn't rename the declarations), so they're derived from the
// TypeScript/JavaScript configs rather than repeated.
func defaultGrammars() []grammar {
	goConfig := &LanguageConfig{
		Name:          "go",
		Extensions:    []string{".go"},
		FunctionTypes: []string{"function_declaration"},
		MethodTypes:   []string{"method_declaration"},
		TypeDefTypes:  []string{"type_declaration"}, // Go interfaces are type declarations too
		ConstantTypes: []string{"const_declaration"},
		VariableTypes: []string{"var_declaration"},
		NameField:     "name",
	}

	tsConfig := &LanguageConfig{
		Name:           "typescript",
		Extensions:     []string{".ts"},
		FunctionTypes:  []string{"function_declaration"},
		MethodTypes:    []string{"method_definition"},
		ClassTypes:     []string{"class_declaration"},
		InterfaceTypes: []string{"interface_declaration"},
		TypeDefTypes:   []string{"type_alias_declaration"},
		ConstantTypes:  []string{"lexical_declaration"}, // const and let
		VariableTypes:  []string{"variable_declaration"},
		NameField:      "name",
	}
	tsxConfig := variantConfig(tsConfig, "tsx", ".tsx")

	jsConfig := &LanguageConfig{
		Name:          "javascript",
		Extensions:    []string{".js", ".mjs"},
		FunctionTypes: []string{"function_declaration", "function"},
		MethodTypes:   []string{"method_definition"},
		ClassTypes:    []string{"class_declaration"},
		ConstantTypes: []string{"lexical_declaration"},
		VariableTypes: []string{"variable_declaration"},
		NameField:     "name",
	}
	jsxConfig := variantConfig(jsConfig, "jsx", ".jsx")

	pyConfig := &LanguageConfig{
		Name:          "python",
		Extensions:    []string{".py"},
		FunctionTypes: []string{"function_definition"},
		ClassTypes:    []string{"class_definition"},
		VariableTypes: []string{"assignment"}, // module-level assignments
		NameField:     "name",
	}

	return []grammar{
		{goConfig, golang.GetLanguage()},
		{tsConfig, typescript.GetLanguage()},
		{tsxConfig, tsx.GetLanguage()},
		{jsConfig, javascript.GetLanguage()},
		{jsxConfig, javascript.GetLanguage()}, // JSX parses with the plain JS grammar
		{pyConfig, python.GetLanguage()},
	}
}

// variantConfig copies base's node-type vocabulary under a new name and
// extension set, for syntax extensions (TSX, JSX) that don't change which
// node types mean "function" or "class".
func variantConfig(base *LanguageConfig, name string, ext string) *LanguageConfig {
	return &LanguageConfig{
		Name:           name,
		Extensions:     []string{ext},
		FunctionTypes:  base.FunctionTypes,
		MethodTypes:    base.MethodTypes,
		ClassTypes:     base.ClassTypes,
		InterfaceTypes: base.InterfaceTypes,
		TypeDefTypes:   base.TypeDefTypes,
		ConstantTypes:  base.ConstantTypes,
		VariableTypes:  base.VariableTypes,
		NameField:      base.NameField,
	}
}

// registerLanguage adds one grammar to the registry, indexing its
// extensions for GetByExtension.
func (r *LanguageRegistry) registerLanguage(config *LanguageConfig, tsLang *sitter.Language) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.configs[config.Name] = config
	r.tsLanguages[config.Name] = tsLang
	for _, ext := range config.Extensions {
		r.extToLang[ext] = config.Name
	}
}

// GetByExtension looks up a language's config by file extension (with or
// without the leading dot; case-insensitive).
func (r *LanguageRegistry) GetByExtension(ext string) (*LanguageConfig, bool) {
	ext = strings.ToLower(ext)
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	langName, ok := r.extToLang[ext]
	if !ok {
		return nil, false
	}
	config, ok := r.configs[langName]
	return config, ok
}

// GetByName looks up a language's config by its registered name.
func (r *LanguageRegistry) GetByName(name string) (*LanguageConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	config, ok := r.configs[name]
	return config, ok
}

// GetTreeSitterLanguage returns the compiled grammar for a registered
// language name, for the Parser to hand to tree-sitter.
func (r *LanguageRegistry) GetTreeSitterLanguage(name string) (*sitter.Language, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	lang, ok := r.tsLanguages[name]
	return lang, ok
}

// SupportedExtensions lists every extension the registry can route to a
// grammar.
func (r *LanguageRegistry) SupportedExtensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	exts := make([]string, 0, len(r.extToLang))
	for ext := range r.extToLang {
		exts = append(exts, ext)
	}
	return exts
}

// defaultRegistry is shared by every CodeChunker built with DefaultRegistry.
var defaultRegistry = NewLanguageRegistry()

// DefaultRegistry returns the process-wide language registry.
func DefaultRegistry() *LanguageRegistry {
	return defaultRegistry
}
