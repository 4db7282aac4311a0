package notes

import (
	"bytes"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// markerPattern matches inline membership markers: #kb/<token>.
// Tokens are letters, digits, underscores and dashes, case-insensitive.
var markerPattern = regexp.MustCompile(`(?i)#kb/([A-Za-z0-9_-]+)`)

var titleCaser = cases.Title(language.English)

// frontmatter holds the parsed YAML frontmatter fields we care about.
type frontmatter struct {
	Collections []string `yaml:"collections"`
}

// ExtractCollections scans document text for declared collection
// memberships: inline #kb/<name> markers plus a frontmatter
// "collections:" list. Names are canonicalized and returned sorted
// without duplicates.
func ExtractCollections(text string) []string {
	seen := make(map[string]struct{})

	for _, m := range markerPattern.FindAllStringSubmatch(text, -1) {
		name := CanonicalName(m[1])
		if name != "" {
			seen[name] = struct{}{}
		}
	}

	if fm := parseFrontmatter([]byte(text)); fm != nil {
		for _, raw := range fm.Collections {
			name := CanonicalName(raw)
			if name != "" {
				seen[name] = struct{}{}
			}
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// CanonicalName collapses a marker token to its display form: underscores
// and dashes become spaces, words are title-cased. "reading_list" and
// "Reading-List" both canonicalize to "Reading List".
func CanonicalName(token string) string {
	token = strings.TrimSpace(token)
	if token == "" {
		return ""
	}

	token = strings.NewReplacer("_", " ", "-", " ").Replace(token)
	token = strings.Join(strings.Fields(token), " ")

	return titleCaser.String(strings.ToLower(token))
}

// parseFrontmatter extracts YAML frontmatter from markdown content.
// Returns nil if no frontmatter is found.
func parseFrontmatter(content []byte) *frontmatter {
	if !bytes.HasPrefix(content, []byte("---")) {
		return nil
	}

	// Find the closing delimiter. It must be on its own line.
	rest := content[3:]
	// Skip the rest of the opening line (could be "---\n" or "---\r\n").
	idx := bytes.IndexByte(rest, '\n')
	if idx < 0 {
		return nil
	}
	rest = rest[idx+1:]

	end := bytes.Index(rest, []byte("\n---"))
	if end < 0 {
		return nil
	}

	block := rest[:end]

	var fm frontmatter
	if err := yaml.Unmarshal(block, &fm); err != nil {
		return nil
	}
	return &fm
}
