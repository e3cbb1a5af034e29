// Package splitter divides an assistant response into sections at
// markdown headings and lays the resulting child nodes out on the
// canvas.
package splitter

import (
	"strings"
	"unicode/utf8"

	"github.com/canvaschat/canvaschat/internal/canvas"
)

// SplitModePrompt is appended to the system prompt when a canvas has
// split mode enabled. It instructs the model to structure its answer
// with level-2 headings so the response can be divided into sections.
const SplitModePrompt = `
응답할 때 각 주요 주제나 개념을 ## 헤딩으로 구분해서 설명해주세요.
각 섹션은 독립적으로 이해할 수 있도록 작성해주세요.

예시 형식:
## 개요
간단한 소개...

## 주제 1
상세 설명...

## 주제 2
상세 설명...
`

// OverviewTitle names the synthetic section created for introductory
// text that precedes the first heading.
const OverviewTitle = "개요"

// minIntroLength is the minimum rune count for heading-less leading
// text to qualify as an overview section rather than noise.
const minIntroLength = 50

// Layout constants for split child placement.
const (
	// SplitSpacing is the horizontal distance between sibling
	// sections, and doubles as the assumed node width.
	SplitSpacing = 280
	// SplitTier is the vertical distance from the parent to its
	// section children.
	SplitTier = 150
)

// Section is one topic extracted from a response.
type Section struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// SplitByHeadings divides content at level-2 and level-3 markdown
// headings. The heading text becomes the section title; the body
// between it and the next heading becomes the content. Sections whose
// body is empty are discarded. Leading text before the first heading
// becomes an overview section when it is long enough to stand alone.
//
// Level-1 and level-4+ headings never split: level 1 is a document
// title, level 4 is sub-structure within a topic. Content with no
// splittable heading at all yields nil, which callers treat as "keep
// the response whole".
func SplitByHeadings(content string) []Section {
	if !strings.Contains(content, "## ") && !strings.Contains(content, "### ") {
		return nil
	}

	var result []Section
	for _, chunk := range splitAtHeadings(content) {
		trimmed := strings.TrimSpace(chunk)
		if trimmed == "" {
			continue
		}

		title, body, ok := parseHeading(trimmed)
		switch {
		case ok:
			if body != "" {
				result = append(result, Section{Title: title, Content: body})
			}
		case len(result) == 0 && utf8.RuneCountInString(trimmed) > minIntroLength:
			result = append(result, Section{Title: OverviewTitle, Content: trimmed})
		}
	}
	return result
}

// splitAtHeadings cuts content immediately before every line starting
// with exactly two or three '#' characters followed by whitespace.
// The heading line stays with its chunk.
func splitAtHeadings(content string) []string {
	var chunks []string
	start := 0
	pos := 0
	for pos < len(content) {
		lineEnd := strings.IndexByte(content[pos:], '\n')
		if lineEnd < 0 {
			lineEnd = len(content) - pos
		}
		line := content[pos : pos+lineEnd]
		if pos > start && isHeadingLine(line) {
			chunks = append(chunks, content[start:pos])
			start = pos
		}
		pos += lineEnd + 1
	}
	return append(chunks, content[start:])
}

// isHeadingLine reports whether line opens a level-2 or level-3
// heading: 2–3 '#' runes then a space or tab.
func isHeadingLine(line string) bool {
	hashes := 0
	for hashes < len(line) && line[hashes] == '#' {
		hashes++
	}
	if hashes < 2 || hashes > 3 {
		return false
	}
	return hashes < len(line) && (line[hashes] == ' ' || line[hashes] == '\t')
}

// parseHeading splits a trimmed chunk into its heading title and the
// trimmed body after the heading line. ok is false when the chunk has
// no heading line, or the heading has no line break after it (a bare
// trailing heading carries no body and is dropped by the caller).
func parseHeading(chunk string) (title, body string, ok bool) {
	if !isHeadingLine(chunk) {
		return "", "", false
	}
	nl := strings.IndexByte(chunk, '\n')
	if nl < 0 {
		return "", "", false
	}
	title = strings.TrimSpace(strings.TrimLeft(chunk[:nl], "#"))
	body = strings.TrimSpace(chunk[nl+1:])
	return title, body, true
}

// Positions lays out count section children in a horizontal row one
// tier below the parent, centered on the parent's x coordinate.
func Positions(parent canvas.Position, count int) []canvas.Position {
	startX := parent.X - float64((count-1)*SplitSpacing)/2
	positions := make([]canvas.Position, 0, count)
	for i := 0; i < count; i++ {
		positions = append(positions, canvas.Position{
			X: startX + float64(i*SplitSpacing),
			Y: parent.Y + SplitTier,
		})
	}
	return positions
}
