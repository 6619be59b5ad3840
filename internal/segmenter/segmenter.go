package segmenter

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"

	"docchat/internal/models"
)

// Segment splits raw markdown into ordered sections, one per top-level
// heading boundary. Boundaries come from the goldmark AST and sections are
// slices of the original source between them, so everything the author wrote
// ends up in exactly one section: a "#" inside a fenced code block is not a
// heading node and never opens a section, and an unterminated fence simply
// runs to the end of the document.
func Segment(rawText string) []models.Section {
	if strings.TrimSpace(rawText) == "" {
		return nil
	}

	source := []byte(rawText)
	boundaries := headingOffsets(source)

	// Offsets of the slices to cut: the document start, then every heading.
	starts := []int{0}
	for _, b := range boundaries {
		if b > 0 {
			starts = append(starts, b)
		}
	}
	starts = append(starts, len(source))

	var sections []models.Section
	for i := 0; i < len(starts)-1; i++ {
		content := strings.Trim(string(source[starts[i]:starts[i+1]]), "\n")
		if strings.TrimSpace(content) == "" {
			continue
		}
		sections = append(sections, models.Section{
			Position: len(sections),
			Content:  content,
		})
	}
	return sections
}

// headingOffsets returns the byte offset of the first character of each
// heading line at the top level of the document, in source order.
func headingOffsets(source []byte) []int {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	doc := md.Parser().Parse(text.NewReader(source))

	var offsets []int
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		h, ok := n.(*ast.Heading)
		if !ok || h.Lines().Len() == 0 {
			continue
		}
		offsets = append(offsets, lineStart(source, h.Lines().At(0).Start))
	}
	return offsets
}

// lineStart backs up from a position inside a line to the line's first byte,
// so ATX markers ("#", "##") stay with their section.
func lineStart(source []byte, pos int) int {
	if pos > len(source) {
		pos = len(source)
	}
	return bytes.LastIndexByte(source[:pos], '\n') + 1
}
