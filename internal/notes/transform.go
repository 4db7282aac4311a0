package notes

import (
	"net/url"
	"regexp"
	"strings"
)

// wikilinkPattern matches [[target]] and [[target|label]] links.
var wikilinkPattern = regexp.MustCompile(`\[\[([^\[\]|]+)(?:\|([^\[\]]+))?\]\]`)

// Transform rewrites internal cross-references into portable markdown
// links so uploaded documents render outside the local app. Pure function;
// the transformed text, not the raw source, is what gets fingerprinted
// and uploaded. contextName is the uploading document's own name, used to
// resolve self-references.
func Transform(text, contextName string) string {
	return wikilinkPattern.ReplaceAllStringFunc(text, func(match string) string {
		groups := wikilinkPattern.FindStringSubmatch(match)

		target := strings.TrimSpace(groups[1])

		label := target
		if groups[2] != "" {
			label = strings.TrimSpace(groups[2])
		}

		// Self-references become plain text; a document cannot usefully
		// link to itself once uploaded.
		if strings.EqualFold(target, contextName) {
			return label
		}

		href := target
		if !strings.Contains(href, ".") {
			href += ".md"
		}

		escaped := (&url.URL{Path: href}).EscapedPath()

		return "[" + label + "](" + escaped + ")"
	})
}
