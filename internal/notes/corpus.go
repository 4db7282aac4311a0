// Package notes is the local document source: it enumerates the markdown
// corpus, extracts declared collection memberships, and rewrites internal
// links into a portable form before upload.
package notes

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	kberrors "github.com/alexjbarnes/kbsync/internal/errors"
)

// extractionCacheSize bounds the per-document membership cache. Sized for
// corpora well beyond a typical personal notes directory.
const extractionCacheSize = 4096

// DocInfo identifies one local document and its modification time.
type DocInfo struct {
	// Identity is the corpus-relative slash path. Stable for the lifetime
	// of a sync relationship; renames are treated as identity changes.
	Identity   string
	ModifiedAt time.Time
	Size       int64
}

type extractionEntry struct {
	modifiedAtMilli int64
	names           []string
}

// Corpus reads documents from a directory tree of markdown files.
type Corpus struct {
	root string

	// extractions caches declared memberships per identity, valid while
	// the document's mtime is unchanged. Keeps the per-pass fresh scan
	// cheap for untouched documents.
	extractions *lru.Cache[string, extractionEntry]
}

// NewCorpus creates a corpus rooted at dir.
func NewCorpus(dir string) (*Corpus, error) {
	cache, err := lru.New[string, extractionEntry](extractionCacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating extraction cache: %w", err)
	}

	return &Corpus{root: dir, extractions: cache}, nil
}

// Root returns the corpus root directory.
func (c *Corpus) Root() string {
	return c.root
}

// List walks the corpus and returns every markdown document. Hidden
// directories and node_modules are skipped. Re-enumerated fresh every
// sync pass.
func (c *Corpus) List(ctx context.Context) ([]DocInfo, error) {
	var docs []DocInfo

	err := filepath.Walk(c.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		rel, err := filepath.Rel(c.root, path)
		if err != nil {
			return err
		}

		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}

		name := info.Name()
		if strings.HasPrefix(name, ".") {
			if info.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		if info.IsDir() {
			if name == "node_modules" {
				return filepath.SkipDir
			}

			return nil
		}

		if !isMarkdown(rel) {
			return nil
		}

		docs = append(docs, DocInfo{
			Identity:   rel,
			ModifiedAt: info.ModTime().UTC(),
			Size:       info.Size(),
		})

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking corpus: %w", err)
	}

	return docs, nil
}

// Read returns a document's raw text. A document that vanished between
// listing and reading surfaces as errors.ErrDocumentVanished.
func (c *Corpus) Read(identity string) (string, error) {
	data, err := os.ReadFile(filepath.Join(c.root, filepath.FromSlash(identity)))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%s: %w", identity, kberrors.ErrDocumentVanished)
		}

		return "", fmt.Errorf("reading %s: %w", identity, err)
	}

	return string(data), nil
}

// DeclaredMemberships returns the collection names a document currently
// declares, scanned fresh from its content. modifiedAt lets repeated scans
// of an untouched document answer from the extraction cache.
func (c *Corpus) DeclaredMemberships(identity string, modifiedAt time.Time) ([]string, error) {
	milli := modifiedAt.UnixMilli()

	if entry, ok := c.extractions.Get(identity); ok && entry.modifiedAtMilli == milli {
		return entry.names, nil
	}

	text, err := c.Read(identity)
	if err != nil {
		return nil, err
	}

	names := ExtractCollections(text)
	c.extractions.Add(identity, extractionEntry{modifiedAtMilli: milli, names: names})

	return names, nil
}

func isMarkdown(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".md")
}
