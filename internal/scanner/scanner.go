package scanner

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ferret-index/codelens/internal/filter"
	"github.com/ferret-index/codelens/internal/gitignore"
)

// gitignoreCacheSize is the maximum number of gitignore matchers to cache.
// This prevents unbounded memory growth in long-running processes.
const gitignoreCacheSize = 1000

// Scanner discovers indexable files in a workspace, applying the path
// filter and .gitignore rules along the path.
type Scanner struct {
	filter *filter.Filter

	// gitignoreCache caches parsed gitignore matchers by directory, keyed
	// on the directory's absolute path.
	gitignoreCache *lru.Cache[string, *gitignore.Matcher]
	cacheMu        sync.RWMutex
}

// New creates a new Scanner using the engine's default path filter.
func New() (*Scanner, error) {
	cache, err := lru.New[string, *gitignore.Matcher](gitignoreCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create gitignore cache: %w", err)
	}
	return &Scanner{
		filter:         filter.New(),
		gitignoreCache: cache,
	}, nil
}

// NewWithFilter creates a Scanner using a caller-supplied path filter, e.g.
// one built from PathsConfig / PerformanceConfig overrides.
func NewWithFilter(f *filter.Filter) (*Scanner, error) {
	s, err := New()
	if err != nil {
		return nil, err
	}
	s.filter = f
	return s, nil
}

// ScanOptions configures a scan.
type ScanOptions struct {
	// RootDir is the workspace root directory to scan.
	RootDir string

	// ExcludePatterns are additional user-configured exclude globs
	// (PathsConfig.Exclude), checked in addition to the built-in deny-list.
	ExcludePatterns []string

	// RespectGitignore enables .gitignore parsing along the path.
	RespectGitignore bool

	// Workers sizes the result channel buffer (0 = NumCPU).
	Workers int

	// FollowSymlinks enables following symbolic links (default: false).
	FollowSymlinks bool
}

// FileInfo describes a file the scanner decided is indexable.
type FileInfo struct {
	Path    string // path relative to the workspace root, slash-separated
	AbsPath string
	Size    int64
}

// ScanResult is delivered on the Scan channel.
type ScanResult struct {
	File  *FileInfo
	Error error
}

// Scan walks RootDir and streams indexable files on the returned channel.
// The channel is closed when the walk completes.
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions) (<-chan ScanResult, error) {
	if opts == nil {
		opts = &ScanOptions{}
	}

	rootDir := opts.RootDir
	if rootDir == "" {
		rootDir = "."
	}

	absRoot, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to stat root directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root path is not a directory: %s", absRoot)
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	results := make(chan ScanResult, workers*10)

	go func() {
		defer close(results)
		s.scan(ctx, absRoot, absRoot, opts, results)
	}()

	return results, nil
}

// ScanSubtree scans only a subtree of the workspace, used by the watcher's
// .gitignore-change reconciliation to rescan an affected directory without
// a full reindex. Paths in results remain relative to the workspace root.
func (s *Scanner) ScanSubtree(ctx context.Context, opts *ScanOptions, subtreePath string) (<-chan ScanResult, error) {
	if opts == nil {
		opts = &ScanOptions{}
	}

	rootDir := opts.RootDir
	if rootDir == "" {
		rootDir = "."
	}

	absRoot, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	subtreePath = strings.Trim(subtreePath, "/")
	if subtreePath == "" {
		return s.Scan(ctx, opts)
	}

	absSubtree := filepath.Join(absRoot, subtreePath)
	if !strings.HasPrefix(absSubtree, absRoot) {
		return nil, fmt.Errorf("subtree path outside root: %s", subtreePath)
	}

	info, err := os.Stat(absSubtree)
	if err != nil {
		if os.IsNotExist(err) {
			results := make(chan ScanResult)
			close(results)
			return results, nil
		}
		return nil, fmt.Errorf("failed to stat subtree: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("subtree path is not a directory: %s", absSubtree)
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	results := make(chan ScanResult, workers*10)

	go func() {
		defer close(results)
		s.scan(ctx, absRoot, absSubtree, opts, results)
	}()

	return results, nil
}

// scan performs the directory walk starting at walkRoot, reporting paths
// relative to absRoot.
func (s *Scanner) scan(ctx context.Context, absRoot, walkRoot string, opts *ScanOptions, results chan<- ScanResult) {
	err := filepath.WalkDir(walkRoot, func(path string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil {
			return nil
		}

		relPath, err := filepath.Rel(absRoot, path)
		if err != nil {
			return nil
		}
		relPath = filepath.ToSlash(relPath)
		if relPath == "." {
			return nil
		}

		if d.IsDir() {
			if filter.IsDeniedDir(d.Name()) || matchesAnyDirPattern(relPath, opts.ExcludePatterns) {
				return filepath.SkipDir
			}
			return nil
		}

		if d.Type()&fs.ModeSymlink != 0 && !opts.FollowSymlinks {
			return nil
		}

		if matchesAnyFilePattern(relPath, opts.ExcludePatterns) {
			return nil
		}

		if opts.RespectGitignore && s.isGitignored(relPath, absRoot) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}

		if !s.filter.Indexable(relPath, info.Size()) {
			return nil
		}

		select {
		case results <- ScanResult{File: &FileInfo{Path: relPath, AbsPath: path, Size: info.Size()}}:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	})

	if err != nil && err != context.Canceled {
		select {
		case results <- ScanResult{Error: err}:
		case <-ctx.Done():
		}
	}
}

// matchesAnyDirPattern reports whether relPath is covered by a user
// "dir/**"-style exclude pattern.
func matchesAnyDirPattern(relPath string, patterns []string) bool {
	for _, pattern := range patterns {
		if strings.HasSuffix(pattern, "/**") {
			prefix := strings.TrimPrefix(pattern, "**/")
			prefix = strings.TrimSuffix(prefix, "/**")
			if relPath == prefix || strings.HasPrefix(relPath, prefix+"/") {
				return true
			}
		}
	}
	return false
}

// matchesAnyFilePattern reports whether relPath's basename matches a
// user-configured glob exclude pattern.
func matchesAnyFilePattern(relPath string, patterns []string) bool {
	base := filepath.Base(relPath)
	for _, pattern := range patterns {
		p := strings.TrimPrefix(pattern, "**/")
		if matched, _ := filepath.Match(p, base); matched {
			return true
		}
		if matched, _ := filepath.Match(p, relPath); matched {
			return true
		}
	}
	return false
}

// isGitignored checks relPath against every .gitignore found along the
// path from absRoot down to its containing directory.
func (s *Scanner) isGitignored(relPath, absRoot string) bool {
	if rootMatcher := s.getGitignoreMatcher(absRoot, ""); rootMatcher != nil && rootMatcher.Match(relPath, false) {
		return true
	}

	parts := strings.Split(filepath.Dir(relPath), "/")
	currentDir := absRoot
	currentBase := ""

	for _, part := range parts {
		if part == "." || part == "" {
			continue
		}
		currentDir = filepath.Join(currentDir, part)
		if currentBase == "" {
			currentBase = part
		} else {
			currentBase = currentBase + "/" + part
		}

		if matcher := s.getGitignoreMatcher(currentDir, currentBase); matcher != nil && matcher.Match(relPath, false) {
			return true
		}
	}

	return false
}

// getGitignoreMatcher gets or creates a gitignore matcher for a directory.
func (s *Scanner) getGitignoreMatcher(dir, base string) *gitignore.Matcher {
	s.cacheMu.RLock()
	matcher, ok := s.gitignoreCache.Get(dir)
	s.cacheMu.RUnlock()
	if ok {
		return matcher
	}

	gitignorePath := filepath.Join(dir, ".gitignore")
	if _, err := os.Stat(gitignorePath); os.IsNotExist(err) {
		return nil
	}

	matcher = gitignore.New()
	if err := matcher.AddFromFile(gitignorePath, base); err != nil {
		return nil
	}

	s.cacheMu.Lock()
	s.gitignoreCache.Add(dir, matcher)
	s.cacheMu.Unlock()

	return matcher
}

// InvalidateGitignoreCache clears the gitignore matcher cache. Call this
// when a .gitignore file changes so the reconciliation rescan sees fresh
// patterns.
func (s *Scanner) InvalidateGitignoreCache() {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.gitignoreCache.Purge()
}
