package notes

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// --- CanonicalName ---

func TestCanonicalName(t *testing.T) {
	tests := []struct {
		token string
		want  string
	}{
		{"projects", "Projects"},
		{"reading_list", "Reading List"},
		{"Reading-List", "Reading List"},
		{"READING_LIST", "Reading List"},
		{"q3-planning", "Q3 Planning"},
		{"a__b", "A B"},
		{"", ""},
		{"   ", ""},
		{"-", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanonicalName(tt.token), "token %q", tt.token)
	}
}

// --- ExtractCollections ---

func TestExtractCollections_InlineMarkers(t *testing.T) {
	text := "Some notes.\n\n#kb/projects and also #kb/reading_list\n"
	assert.Equal(t, []string{"Projects", "Reading List"}, ExtractCollections(text))
}

func TestExtractCollections_CaseInsensitiveMarker(t *testing.T) {
	assert.Equal(t, []string{"Projects"}, ExtractCollections("#KB/Projects"))
	assert.Equal(t, []string{"Projects"}, ExtractCollections("#kb/PROJECTS"))
}

func TestExtractCollections_DuplicatesCollapse(t *testing.T) {
	text := "#kb/projects #kb/Projects #kb/PROJECTS"
	assert.Equal(t, []string{"Projects"}, ExtractCollections(text))
}

func TestExtractCollections_Frontmatter(t *testing.T) {
	text := "---\ncollections:\n  - reading_list\n  - ideas\n---\n\nBody text.\n"
	assert.Equal(t, []string{"Ideas", "Reading List"}, ExtractCollections(text))
}

func TestExtractCollections_FrontmatterAndMarkersMerge(t *testing.T) {
	text := "---\ncollections: [ideas]\n---\n\n#kb/projects\n"
	assert.Equal(t, []string{"Ideas", "Projects"}, ExtractCollections(text))
}

func TestExtractCollections_None(t *testing.T) {
	assert.Empty(t, ExtractCollections("No markers here. #other/tag #kb (not a marker)"))
}

func TestExtractCollections_InvalidTokenCharactersStop(t *testing.T) {
	// The marker token stops at the first character outside [A-Za-z0-9_-].
	assert.Equal(t, []string{"Projects"}, ExtractCollections("#kb/projects."))
}

func TestExtractCollections_Sorted(t *testing.T) {
	text := "#kb/zeta #kb/alpha #kb/mid"
	assert.Equal(t, []string{"Alpha", "Mid", "Zeta"}, ExtractCollections(text))
}

func TestExtractCollections_MalformedFrontmatterIgnored(t *testing.T) {
	text := "---\ncollections: [unclosed\n---\n#kb/projects\n"
	assert.Equal(t, []string{"Projects"}, ExtractCollections(text))
}
