package notes

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kberrors "github.com/alexjbarnes/kbsync/internal/errors"
)

func testCorpus(t *testing.T) (*Corpus, string) {
	t.Helper()
	dir := t.TempDir()
	c, err := NewCorpus(dir)
	require.NoError(t, err)
	return c, dir
}

func writeNote(t *testing.T, dir, rel, content string) {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// --- List ---

func TestList_OnlyMarkdown(t *testing.T) {
	c, dir := testCorpus(t)
	writeNote(t, dir, "a.md", "# a")
	writeNote(t, dir, "sub/b.md", "# b")
	writeNote(t, dir, "image.png", "binary")
	writeNote(t, dir, "notes.txt", "text")

	docs, err := c.List(context.Background())
	require.NoError(t, err)

	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.Identity)
	}

	assert.ElementsMatch(t, []string{"a.md", "sub/b.md"}, ids)
}

func TestList_SkipsHiddenAndNodeModules(t *testing.T) {
	c, dir := testCorpus(t)
	writeNote(t, dir, "a.md", "# a")
	writeNote(t, dir, ".trash/gone.md", "# gone")
	writeNote(t, dir, ".hidden.md", "# hidden")
	writeNote(t, dir, "node_modules/pkg/readme.md", "# pkg")

	docs, err := c.List(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "a.md", docs[0].Identity)
}

func TestList_ReportsModTimeAndSize(t *testing.T) {
	c, dir := testCorpus(t)
	writeNote(t, dir, "a.md", "12345")

	docs, err := c.List(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, int64(5), docs[0].Size)
	assert.WithinDuration(t, time.Now().UTC(), docs[0].ModifiedAt, time.Minute)
}

func TestList_EmptyCorpus(t *testing.T) {
	c, _ := testCorpus(t)
	docs, err := c.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, docs)
}

// --- Read ---

func TestRead_Content(t *testing.T) {
	c, dir := testCorpus(t)
	writeNote(t, dir, "a.md", "# hello")

	text, err := c.Read("a.md")
	require.NoError(t, err)
	assert.Equal(t, "# hello", text)
}

func TestRead_Vanished(t *testing.T) {
	c, _ := testCorpus(t)
	_, err := c.Read("gone.md")
	require.Error(t, err)
	assert.ErrorIs(t, err, kberrors.ErrDocumentVanished)
}

// --- DeclaredMemberships ---

func TestDeclaredMemberships_Extracts(t *testing.T) {
	c, dir := testCorpus(t)
	writeNote(t, dir, "a.md", "#kb/projects notes #kb/ideas")

	names, err := c.DeclaredMemberships("a.md", time.Now())
	require.NoError(t, err)
	assert.Equal(t, []string{"Ideas", "Projects"}, names)
}

func TestDeclaredMemberships_CachedWhileMtimeUnchanged(t *testing.T) {
	c, dir := testCorpus(t)
	writeNote(t, dir, "a.md", "#kb/projects")

	mtime := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	names, err := c.DeclaredMemberships("a.md", mtime)
	require.NoError(t, err)
	assert.Equal(t, []string{"Projects"}, names)

	// Same mtime answers from cache even after the file is gone.
	require.NoError(t, os.Remove(filepath.Join(dir, "a.md")))

	names, err = c.DeclaredMemberships("a.md", mtime)
	require.NoError(t, err)
	assert.Equal(t, []string{"Projects"}, names)
}

func TestDeclaredMemberships_RescanOnMtimeChange(t *testing.T) {
	c, dir := testCorpus(t)
	writeNote(t, dir, "a.md", "#kb/projects")

	t1 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	_, err := c.DeclaredMemberships("a.md", t1)
	require.NoError(t, err)

	writeNote(t, dir, "a.md", "#kb/ideas")

	names, err := c.DeclaredMemberships("a.md", t1.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{"Ideas"}, names)
}
