package pricing

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePreservesDocumentOrder(t *testing.T) {
	tab, err := parse([]byte(`
models:
  my-model-large-v2: {input: 10, output: 20}
  my-model-large: {input: 1, output: 2}
  my-model: {input: 0.1, output: 0.2}
`))
	require.NoError(t, err)
	require.Equal(t, 3, tab.Len())

	// A dated id prefix-matches all three keys; the first declared wins.
	r, ok := tab.Lookup("my-model-large-v2-20250601")
	require.True(t, ok)
	assert.Equal(t, 10.0, r.Input)
}

func TestParseBareMapping(t *testing.T) {
	tab, err := parse([]byte(`
some-model: {input: 5, output: 25, cache_read: 0.5, cache_write: 6.25}
`))
	require.NoError(t, err)
	r, ok := tab.Lookup("some-model")
	require.True(t, ok)
	assert.Equal(t, Rates{Input: 5, Output: 25, CacheRead: 0.5, CacheWrite: 6.25}, r)
}

func TestParseRejectsNegativeRates(t *testing.T) {
	_, err := parse([]byte(`
models:
  bad-model: {input: -1, output: 2}
`))
	assert.Error(t, err)
}

func TestParseEmptyDocument(t *testing.T) {
	tab, err := parse(nil)
	require.NoError(t, err)
	assert.Zero(t, tab.Len())
}

func TestSourceReloadSwapsTable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pricing.yaml")
	require.NoError(t, os.WriteFile(path, []byte("models:\n  m1: {input: 1, output: 2}\n"), 0o644))

	src, err := NewSource(path)
	require.NoError(t, err)
	r, ok := src.Table().Lookup("m1")
	require.True(t, ok)
	assert.Equal(t, 1.0, r.Input)

	require.NoError(t, os.WriteFile(path, []byte("models:\n  m1: {input: 9, output: 2}\n"), 0o644))
	require.NoError(t, src.Reload())
	r, _ = src.Table().Lookup("m1")
	assert.Equal(t, 9.0, r.Input)
}

func TestSourceReloadKeepsPreviousOnError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pricing.yaml")
	require.NoError(t, os.WriteFile(path, []byte("models:\n  m1: {input: 1, output: 2}\n"), 0o644))

	src, err := NewSource(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(": not valid yaml ["), 0o644))
	assert.Error(t, src.Reload())
	_, ok := src.Table().Lookup("m1")
	assert.True(t, ok, "previous table must survive a failed reload")
}

func TestSourceWithoutPathUsesDefaults(t *testing.T) {
	src, err := NewSource("")
	require.NoError(t, err)
	_, ok := src.Table().Lookup("claude-sonnet-4")
	assert.True(t, ok)
}
