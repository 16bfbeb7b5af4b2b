// Package lyrics holds the time-indexed lyric document model, the
// line matching rules used to follow a playback clock, and parsers
// for the raw lyric formats returned by lyric providers.
package lyrics

import (
	"slices"
	"strings"
)

// NoEnd marks a line or syllable whose end time is unknown.
const NoEnd = -1

type Kind int

const (
	// Plain lines only carry line-level timing.
	Plain Kind = iota
	// Syllabic lines carry per-syllable (word) timing.
	Syllabic
)

type Syllable struct {
	Text    string
	StartMs int
	EndMs   int
}

type Line struct {
	Text      string
	StartMs   int
	EndMs     int // NoEnd if unknown
	Kind      Kind
	Syllables []Syllable
}

// HasEnd reports whether the line has a known end time.
func (l *Line) HasEnd() bool {
	return l.EndMs != NoEnd
}

// Document is an ordered sequence of lyric lines.
// Lines are always sorted by StartMs ascending.
type Document struct {
	Lines  []Line
	Synced bool
}

// NewDocument builds a synced document from the given lines,
// sorting them by start time. The input slice is not modified.
func NewDocument(lines []Line) *Document {
	l := slices.Clone(lines)
	sortLines(l)
	return &Document{Lines: l, Synced: true}
}

// IsSyllabic reports whether any line carries syllable timing.
func (d *Document) IsSyllabic() bool {
	if d == nil {
		return false
	}
	for i := range d.Lines {
		if d.Lines[i].Kind == Syllabic {
			return true
		}
	}
	return false
}

// Len returns the number of lines in the document (0 for nil).
func (d *Document) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Lines)
}

// Text returns the document as newline-joined plain text.
func (d *Document) Text() string {
	if d == nil {
		return ""
	}
	var sb strings.Builder
	for i, l := range d.Lines {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(l.Text)
	}
	return sb.String()
}

// Set is a main lyric document together with its optional
// translation and transliteration tracks.
type Set struct {
	Main            *Document
	Translation     *Document
	Transliteration *Document

	// PureTimeline is set when the main document has only
	// line start timing (no reliable end or syllable timing).
	PureTimeline bool
}

func sortLines(lines []Line) {
	slices.SortStableFunc(lines, func(a, b Line) int {
		return a.StartMs - b.StartMs
	})
}
