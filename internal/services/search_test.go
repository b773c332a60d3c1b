package services

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portside-dev/portside/internal/models"
)

func newSearchFixture(t *testing.T) *SearchService {
	t.Helper()
	root := t.TempDir()

	write := func(rel, content string) {
		t.Helper()
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	write("server.go", "package main\n\nfunc Listen(addr string) error {\n\treturn nil\n}\n")
	write("util/strings.go", "package util\n\n// listen is lowercase here\nvar listenCount int\n")
	write("docs/notes.md", "The server will Listen on port 8080.\nSecond listen mention.\n")
	write(".git/config", "[core]\n\tlisten = nonsense\n")
	write("node_modules/pkg/index.js", "function listen() {}\n")

	// A binary file that happens to contain the query.
	require.NoError(t, os.WriteFile(filepath.Join(root, "blob.bin"),
		append([]byte("Listen\x00"), make([]byte, 64)...), 0o644))

	return NewSearchService(NewFilesService(root))
}

func matchFiles(matches []models.SearchMatch) []string {
	files := make([]string, 0, len(matches))
	for _, m := range matches {
		files = append(files, m.File)
	}
	return files
}

func TestSearchLiteral(t *testing.T) {
	svc := newSearchFixture(t)

	matches, truncated, err := svc.Search("Listen", "", models.SearchOptions{})
	require.NoError(t, err)
	assert.False(t, truncated)

	files := matchFiles(matches)
	assert.Contains(t, files, "server.go")
	assert.Contains(t, files, "docs/notes.md")
	// Case-sensitive: lowercase-only files excluded.
	assert.NotContains(t, files, "util/strings.go")
	// Pruned and binary files never match.
	assert.NotContains(t, files, ".git/config")
	assert.NotContains(t, files, "node_modules/pkg/index.js")
	assert.NotContains(t, files, "blob.bin")
}

func TestSearchPositions(t *testing.T) {
	svc := newSearchFixture(t)

	matches, _, err := svc.Search("Listen(", "", models.SearchOptions{})
	require.NoError(t, err)
	require.Len(t, matches, 1)

	m := matches[0]
	assert.Equal(t, "server.go", m.File)
	assert.Equal(t, 3, m.Line)
	assert.Equal(t, 6, m.Column) // 1-based, after "func "
	assert.True(t, strings.HasPrefix(m.Text, "func Listen"))
}

func TestSearchCaseInsensitive(t *testing.T) {
	svc := newSearchFixture(t)

	matches, _, err := svc.Search("LISTEN", "", models.SearchOptions{CaseInsensitive: true})
	require.NoError(t, err)

	files := matchFiles(matches)
	assert.Contains(t, files, "server.go")
	assert.Contains(t, files, "util/strings.go")
	assert.Contains(t, files, "docs/notes.md")
}

func TestSearchRegex(t *testing.T) {
	svc := newSearchFixture(t)

	matches, _, err := svc.Search(`func \w+\(`, "", models.SearchOptions{Regex: true})
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Equal(t, "server.go", matches[0].File)

	_, _, err = svc.Search(`[unclosed`, "", models.SearchOptions{Regex: true})
	assert.Error(t, err)
}

func TestSearchIncludeGlob(t *testing.T) {
	svc := newSearchFixture(t)

	matches, _, err := svc.Search("listen", "", models.SearchOptions{
		CaseInsensitive: true,
		Include:         "**.go",
	})
	require.NoError(t, err)

	files := matchFiles(matches)
	assert.Contains(t, files, "server.go")
	assert.Contains(t, files, "util/strings.go")
	assert.NotContains(t, files, "docs/notes.md")

	_, _, err = svc.Search("listen", "", models.SearchOptions{Include: "[bad"})
	assert.Error(t, err)
}

func TestSearchScopedPath(t *testing.T) {
	svc := newSearchFixture(t)

	matches, _, err := svc.Search("listen", "docs", models.SearchOptions{CaseInsensitive: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"docs/notes.md", "docs/notes.md"}, matchFiles(matches))
}

func TestSearchMaxResults(t *testing.T) {
	svc := newSearchFixture(t)

	matches, truncated, err := svc.Search("listen", "", models.SearchOptions{
		CaseInsensitive: true,
		MaxResults:      2,
	})
	require.NoError(t, err)
	assert.Len(t, matches, 2)
	assert.True(t, truncated)
}

func TestSearchEmptyQuery(t *testing.T) {
	svc := newSearchFixture(t)

	_, _, err := svc.Search("", "", models.SearchOptions{})
	assert.Error(t, err)
}

func TestSearchNoMatches(t *testing.T) {
	svc := newSearchFixture(t)

	matches, truncated, err := svc.Search("definitely-not-present", "", models.SearchOptions{})
	require.NoError(t, err)
	assert.Empty(t, matches)
	assert.False(t, truncated)
}
