package markdown

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	doc, err := Parse([]byte(`---
name: reviewer
description: Reviews diffs
tools: [read, grep]
---

# Reviewer

Look closely.
`))
	require.NoError(t, err)
	assert.Equal(t, "reviewer", doc.String("name"))
	assert.Equal(t, "Reviews diffs", doc.String("description"))
	assert.Equal(t, []any{"read", "grep"}, doc.Meta["tools"])
	assert.Equal(t, "# Reviewer\n\nLook closely.\n", doc.Body)
	assert.Empty(t, doc.String("missing"))
}

func TestParseWithoutFrontmatter(t *testing.T) {
	doc, err := Parse([]byte("# Plain\n\nNo metadata.\n"))
	assert.ErrorIs(t, err, ErrNoFrontmatter)
	require.NotNil(t, doc)
	assert.Equal(t, "# Plain\n\nNo metadata.\n", doc.Body)
}

func TestParseInvalidYAML(t *testing.T) {
	_, err := Parse([]byte("---\nname: [unclosed\n---\n\nbody\n"))
	assert.Error(t, err)
}

func TestBody(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "with frontmatter",
			input:    "---\nname: test\ndescription: desc\n---\n\n# Content\n\nBody text.",
			expected: "# Content\n\nBody text.",
		},
		{
			name:     "no frontmatter",
			input:    "# Just content\nNo frontmatter.",
			expected: "# Just content\nNo frontmatter.",
		},
		{
			name:     "incomplete frontmatter",
			input:    "---\nname: test\n# No closing ---",
			expected: "---\nname: test\n# No closing ---",
		},
		{
			name:     "crlf line endings",
			input:    "---\r\nname: test\r\n---\r\n\r\nBody",
			expected: "Body",
		},
		{
			name:     "byte order mark",
			input:    "\ufeff---\nname: test\n---\nBody",
			expected: "Body",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Body(tt.input))
		})
	}
}
