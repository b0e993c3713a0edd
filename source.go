package haku

import (
	"fmt"
	"sort"
	"unicode/utf8"
)

// Span is a byte-offset range into a SourceCode, end exclusive.
type Span struct {
	Start, End uint32
}

// NewSpan builds a Span from a start/end pair.
func NewSpan(start, end uint32) Span {
	return Span{Start: start, End: end}
}

func (s Span) String() string {
	if s.Start == s.End {
		return fmt.Sprintf("%d", s.Start)
	}
	return fmt.Sprintf("%d..%d", s.Start, s.End)
}

// Slice returns the substring of source covered by the span.
func (s Span) Slice(source string) string {
	return source[s.Start:s.End]
}

// Extend grows the span's end, used while closing AST nodes over their subtree.
func (s Span) Extend(end uint32) Span {
	if end > s.End {
		s.End = end
	}
	return s
}

// SourceCode is an immutable source string with a verified maximum length.
type SourceCode struct {
	code string
}

// ErrSourceTooLong is returned by NewSourceCode when the input exceeds maxLen.
type ErrSourceTooLong struct {
	Len, MaxLen int
}

func (e ErrSourceTooLong) Error() string {
	return fmt.Sprintf("source code is %d bytes, longer than the limit of %d bytes", e.Len, e.MaxLen)
}

// NewSourceCode verifies code is within maxLen bytes and wraps it.
func NewSourceCode(code string, maxLen uint32) (*SourceCode, error) {
	if len(code) > int(maxLen) {
		return nil, ErrSourceTooLong{Len: len(code), MaxLen: int(maxLen)}
	}
	return &SourceCode{code: code}, nil
}

// Text returns the underlying source string.
func (s *SourceCode) Text() string {
	return s.code
}

func (s *SourceCode) Len() int {
	return len(s.code)
}

// LineIndex maps byte cursor offsets to 1-based line/column locations, for
// reporting diagnostics and exceptions to a human. Construction is O(n) over
// the input; a lookup binary-searches the line starts, then counts runes
// from the start of the line to the cursor.
type LineIndex struct {
	input     string
	lineStart []int
}

func NewLineIndex(input string) *LineIndex {
	lineStart := make([]int, 1, 64)
	lineStart[0] = 0
	for i := 0; i < len(input); i++ {
		if input[i] == '\n' {
			lineStart = append(lineStart, i+1)
		}
	}
	return &LineIndex{input: input, lineStart: lineStart}
}

type Location struct {
	Line, Column int32
	Cursor       int
}

func (li *LineIndex) LocationAt(cursor int) Location {
	if cursor < 0 {
		cursor = 0
	}
	if cursor > len(li.input) {
		cursor = len(li.input)
	}

	lineIdx := sort.Search(len(li.lineStart), func(i int) bool {
		return li.lineStart[i] > cursor
	}) - 1
	if lineIdx < 0 {
		lineIdx = 0
	}

	lineStart := li.lineStart[lineIdx]
	col := int32(utf8.RuneCountInString(li.input[lineStart:cursor])) + 1

	return Location{
		Line:   int32(lineIdx + 1),
		Column: col,
		Cursor: cursor,
	}
}

func (li *LineIndex) Span(s Span) (Location, Location) {
	return li.LocationAt(int(s.Start)), li.LocationAt(int(s.End))
}
