package segmenter

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// normalizeWS collapses all whitespace so reconstruction checks ignore the
// boundary newlines segmentation adds or removes.
func normalizeWS(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func TestSegmentSplitsOnHeadings(t *testing.T) {
	input := "# Install\n\nRun the installer.\n\n# Configure\n\nEdit the config file.\n"

	sections := Segment(input)
	require.Len(t, sections, 2)
	assert.True(t, strings.HasPrefix(sections[0].Content, "# Install"))
	assert.True(t, strings.HasPrefix(sections[1].Content, "# Configure"))
	assert.Equal(t, 0, sections[0].Position)
	assert.Equal(t, 1, sections[1].Position)
}

func TestSegmentPreambleBecomesSection(t *testing.T) {
	input := "Intro paragraph before any heading.\n\n# First\n\nBody.\n"

	sections := Segment(input)
	require.Len(t, sections, 2)
	assert.Equal(t, "Intro paragraph before any heading.", sections[0].Content)
}

func TestSegmentCoversInput(t *testing.T) {
	input := "Preamble text.\n\n# One\n\nAlpha beta.\n\n## Two\n\n- item a\n- item b\n\n```go\nfunc main() {}\n```\n\n# Three\n\nGamma.\n"

	sections := Segment(input)
	require.NotEmpty(t, sections)

	var rebuilt strings.Builder
	for _, sec := range sections {
		assert.NotEmpty(t, strings.TrimSpace(sec.Content), "no section may be empty")
		rebuilt.WriteString(sec.Content)
		rebuilt.WriteString("\n")
	}
	assert.Equal(t, normalizeWS(input), normalizeWS(rebuilt.String()))
}

func TestSegmentCodeFenceIsAtomic(t *testing.T) {
	input := "# Usage\n\n```\n# this is a comment, not a heading\n## neither is this\n```\n\n# Next\n\nText.\n"

	sections := Segment(input)
	require.Len(t, sections, 2)
	assert.Contains(t, sections[0].Content, "# this is a comment")
	assert.Contains(t, sections[0].Content, "## neither is this")
}

func TestSegmentUnterminatedFence(t *testing.T) {
	input := "# Title\n\n```\n# swallowed heading\nstill inside the fence\n"

	sections := Segment(input)
	require.Len(t, sections, 1)
	assert.Contains(t, sections[0].Content, "still inside the fence")
	assert.Equal(t, normalizeWS(input), normalizeWS(sections[0].Content))
}

func TestSegmentEmptyInput(t *testing.T) {
	assert.Empty(t, Segment(""))
	assert.Empty(t, Segment("   \n\n\t\n"))
}

func TestSegmentNoHeadings(t *testing.T) {
	input := "Just a paragraph.\n\nAnd another one.\n"

	sections := Segment(input)
	require.Len(t, sections, 1)
	assert.Equal(t, normalizeWS(input), normalizeWS(sections[0].Content))
}

func TestSegmentDeterministic(t *testing.T) {
	input := "# A\n\none\n\n# B\n\ntwo\n\n```\n# c\n```\n"

	first := Segment(input)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, Segment(input))
	}
}
