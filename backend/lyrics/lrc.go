package lyrics

import (
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	ErrNoSyncedLines = errors.New("failed to parse synced lyrics")

	timeTagRegex = regexp.MustCompile(`^\[(\d+):(\d{1,2}(?:[.:]\d{1,3})?)\]`)
	metaTagRegex = regexp.MustCompile(`^\[([a-zA-Z#]+):(.*)\]$`)
	wordTagRegex = regexp.MustCompile(`<(\d+):(\d{1,2}(?:[.:]\d{1,3})?)>`)
)

// ParseLRC parses LRC lyrics, including the enhanced (word-timed) variant.
// Lines may carry several time tags; each tag yields one line.
// The returned document is sorted by start time, and plain lines
// end where the next line begins.
func ParseLRC(text string) (*Document, error) {
	var lines []Line
	offset := 0
	for _, raw := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if m := metaTagRegex.FindStringSubmatch(raw); m != nil && !timeTagRegex.MatchString(raw) {
			if strings.EqualFold(m[1], "offset") {
				if o, err := strconv.Atoi(strings.TrimSpace(m[2])); err == nil {
					offset = o
				}
			}
			continue
		}

		var starts []int
		rest := raw
		for {
			m := timeTagRegex.FindStringSubmatch(rest)
			if m == nil {
				break
			}
			starts = append(starts, parseTimestamp(m[1], m[2]))
			rest = rest[len(m[0]):]
		}
		if len(starts) == 0 {
			continue // malformed lyric line, attempt to continue
		}
		for _, start := range starts {
			lines = append(lines, parseLineBody(start, rest))
		}
	}
	if len(lines) == 0 {
		return nil, ErrNoSyncedLines
	}

	if offset != 0 {
		applyOffset(lines, offset)
	}
	sortLines(lines)
	fillLineEnds(lines)
	return &Document{Lines: lines, Synced: true}, nil
}

// ParsePlain builds an unsynced document, one line per input line.
func ParsePlain(text string) *Document {
	doc := &Document{}
	for _, l := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		doc.Lines = append(doc.Lines, Line{Text: l, EndMs: NoEnd})
	}
	return doc
}

func parseLineBody(start int, body string) Line {
	tags := wordTagRegex.FindAllStringSubmatchIndex(body, -1)
	if len(tags) == 0 {
		return Line{Text: strings.TrimSpace(body), StartMs: start, EndMs: NoEnd, Kind: Plain}
	}

	line := Line{StartMs: start, EndMs: NoEnd, Kind: Syllabic}
	var sb strings.Builder
	// text before the first word tag belongs to a syllable starting at the line start
	if lead := body[:tags[0][0]]; strings.TrimSpace(lead) != "" {
		line.Syllables = append(line.Syllables, Syllable{Text: lead, StartMs: start, EndMs: NoEnd})
		sb.WriteString(lead)
	}
	for i, t := range tags {
		ts := parseTimestamp(body[t[2]:t[3]], body[t[4]:t[5]])
		end := len(body)
		if i+1 < len(tags) {
			end = tags[i+1][0]
		}
		word := body[t[1]:end]
		if n := len(line.Syllables); n > 0 && line.Syllables[n-1].EndMs == NoEnd {
			line.Syllables[n-1].EndMs = ts
		}
		if word == "" {
			// trailing tag: marks the end of the last syllable
			line.EndMs = ts
			continue
		}
		line.Syllables = append(line.Syllables, Syllable{Text: word, StartMs: ts, EndMs: NoEnd})
		sb.WriteString(word)
	}
	line.Text = strings.TrimSpace(sb.String())
	if n := len(line.Syllables); n > 0 && line.EndMs == NoEnd && line.Syllables[n-1].EndMs != NoEnd {
		line.EndMs = line.Syllables[n-1].EndMs
	}
	return line
}

func fillLineEnds(lines []Line) {
	for i := range lines {
		if lines[i].HasEnd() {
			continue
		}
		if n := len(lines[i].Syllables); n > 0 && i+1 < len(lines) {
			lines[i].Syllables[n-1].EndMs = lines[i+1].StartMs
		}
		if i+1 < len(lines) {
			lines[i].EndMs = lines[i+1].StartMs
		}
	}
}

func applyOffset(lines []Line, offset int) {
	shift := func(ms int) int {
		if ms == NoEnd {
			return ms
		}
		return max(0, ms-offset)
	}
	for i := range lines {
		lines[i].StartMs = shift(lines[i].StartMs)
		lines[i].EndMs = shift(lines[i].EndMs)
		for j := range lines[i].Syllables {
			s := &lines[i].Syllables[j]
			s.StartMs = shift(s.StartMs)
			s.EndMs = shift(s.EndMs)
		}
	}
}

func parseTimestamp(min, sec string) int {
	m, _ := strconv.Atoi(min)
	s, _ := strconv.ParseFloat(strings.Replace(sec, ":", ".", 1), 64)
	return m*60_000 + int(math.Round(s*1000))
}
