// Package filter decides whether a discovered path is indexable. The
// decision is a pure function of (path, size): deny-listed directories,
// secret-file patterns, the extension/basename allow-list, and the size
// cap, applied in that order.
package filter

import (
	"path/filepath"
	"strings"
)

// StateDirName is the engine's own persisted-state directory; it is always
// rejected like any other deny-listed directory so the engine never indexes
// its own chunk store or ANN graph.
const StateDirName = ".codelens-context"

// MaxFileSizeBytes is the chunker budget cap (rule d). Overridable via
// config.PerformanceConfig.MaxFileSizeBytes.
const MaxFileSizeBytes = 500_000

// denyDirs are path segments that are always rejected (rule a).
var denyDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"dist":         true,
	"build":        true,
	"vendor":       true,
	".next":        true,
	"__pycache__":  true,
	"coverage":     true,
	StateDirName:   true,
}

// secretBasenamePatterns are glob patterns matched against the file
// basename (rule b). env.example / env.template are explicit exceptions.
var secretBasenamePatterns = []string{
	"*.env",
	"*.env.local",
	"*.env.production",
	"*.pem",
	"*.key",
	"*.p12",
	"*.pfx",
	"*credentials*",
	"*secrets*",
	".netrc",
	".npmrc",
	".pypirc",
	"id_rsa",
	"id_dsa",
	"id_ecdsa",
	"id_ed25519",
}

var secretExceptions = map[string]bool{
	"env.example":   true,
	"env.template":  true,
	".env.example":  true,
	".env.template": true,
}

// defaultAllowExtensions is the configured allow-list referenced by rule c.
// Callers may supply their own via Filter.AllowExtensions; this is the
// built-in default covering the languages the chunker handles plus
// prose/config formats.
var defaultAllowExtensions = map[string]bool{
	".go": true, ".ts": true, ".tsx": true, ".js": true, ".jsx": true, ".mjs": true,
	".py": true, ".pyi": true,
	".md": true, ".mdx": true, ".markdown": true, ".rst": true, ".txt": true,
	".json": true, ".yaml": true, ".yml": true, ".toml": true,
	".java": true, ".kt": true, ".rb": true, ".rs": true, ".c": true, ".h": true,
	".cpp": true, ".hpp": true, ".cc": true, ".cs": true, ".php": true, ".sh": true,
}

// specialFileBasenames is the basename allow-list for rule c's second arm.
// The env templates are here as well as in secretExceptions: passing rule b
// alone isn't enough to index them, since their extensions aren't on the
// allow-list.
var specialFileBasenames = map[string]bool{
	"Dockerfile":    true,
	"Makefile":      true,
	"makefile":      true,
	"GNUmakefile":   true,
	"env.example":   true,
	"env.template":  true,
	".env.example":  true,
	".env.template": true,
}

// Filter is the path filter. It holds the configurable parts (allow-list
// extensions, max file size); all four rules are applied as a pure function
// of (path, size) with no hidden state.
type Filter struct {
	AllowExtensions map[string]bool
	MaxFileSize     int64
}

// New returns a Filter using the engine's default allow-list and size cap.
func New() *Filter {
	return &Filter{
		AllowExtensions: defaultAllowExtensions,
		MaxFileSize:     MaxFileSizeBytes,
	}
}

// Indexable applies rules (a)-(d) in order to relPath (slash-separated,
// relative to the workspace root) and size in bytes.
func (f *Filter) Indexable(relPath string, size int64) bool {
	relPath = filepath.ToSlash(relPath)

	// (a) deny-list directories, matched against every path segment.
	for _, seg := range strings.Split(relPath, "/") {
		if denyDirs[seg] {
			return false
		}
	}

	base := filepath.Base(relPath)

	// (b) secret-path patterns, with explicit allowed exceptions.
	if !secretExceptions[base] {
		for _, pattern := range secretBasenamePatterns {
			if matched, _ := filepath.Match(pattern, base); matched {
				return false
			}
		}
	}

	// (c) extension allow-list OR special-file basename list.
	ext := strings.ToLower(filepath.Ext(base))
	allow := f.AllowExtensions
	if allow == nil {
		allow = defaultAllowExtensions
	}
	if !allow[ext] && !specialFileBasenames[base] {
		return false
	}

	// (d) size cap.
	maxSize := f.MaxFileSize
	if maxSize <= 0 {
		maxSize = MaxFileSizeBytes
	}
	if size > maxSize {
		return false
	}

	return true
}

// IsStateDir reports whether relPath's first segment is the engine's own
// state directory, so callers can skip descending into it entirely.
func IsStateDir(relPath string) bool {
	relPath = filepath.ToSlash(relPath)
	parts := strings.SplitN(relPath, "/", 2)
	return parts[0] == StateDirName
}

// IsSpecialBasename reports whether base is on rule (c)'s basename
// allow-list, for callers that route files to a chunker by name rather
// than extension.
func IsSpecialBasename(base string) bool {
	return specialFileBasenames[base]
}

// IsDeniedDir reports whether a single path segment (a directory's own
// name, not a full path) is on the rule-(a) deny-list. Directory walkers
// use this to prune a subtree without descending into it.
func IsDeniedDir(segment string) bool {
	return denyDirs[segment]
}
