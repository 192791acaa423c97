package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIndexableAcceptsOrdinarySourceFile(t *testing.T) {
	f := New()
	assert.True(t, f.Indexable("internal/store/hnsw.go", 2048))
}

func TestIndexableRejectsDenyListedDirectory(t *testing.T) {
	f := New()
	assert.False(t, f.Indexable("vendor/github.com/foo/bar.go", 100))
	assert.False(t, f.Indexable("node_modules/left-pad/index.js", 100))
	assert.False(t, f.Indexable(".codelens-context/vectors.db", 100))
}

func TestIndexableRejectsSecretFiles(t *testing.T) {
	f := New()
	assert.False(t, f.Indexable(".env", 10))
	assert.False(t, f.Indexable("config/prod.env.local", 10))
	assert.False(t, f.Indexable("id_rsa", 10))
}

func TestIndexableAllowsEnvExamplesAndTemplates(t *testing.T) {
	f := New()
	assert.True(t, f.Indexable("env.example", 10))
	assert.True(t, f.Indexable(".env.example", 10))
}

func TestIndexableRejectsUnknownExtension(t *testing.T) {
	f := New()
	assert.False(t, f.Indexable("assets/logo.png", 10))
}

func TestIndexableAcceptsSpecialFileBasenames(t *testing.T) {
	f := New()
	assert.True(t, f.Indexable("Dockerfile", 100))
	assert.True(t, f.Indexable("cmd/tool/Makefile", 100))
}

func TestIndexableRejectsOversizeFiles(t *testing.T) {
	f := New()
	assert.False(t, f.Indexable("main.go", MaxFileSizeBytes+1))
	assert.True(t, f.Indexable("main.go", MaxFileSizeBytes))
}

func TestIsStateDir(t *testing.T) {
	assert.True(t, IsStateDir(".codelens-context/vectors.db"))
	assert.False(t, IsStateDir("internal/filter/filter.go"))
}
