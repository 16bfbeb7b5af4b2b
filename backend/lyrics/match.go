package lyrics

// PairTolerance compensates for independent rounding of the main,
// translation and transliteration tracks.
const PairTolerance = 10 // ms

// TranslationPlaceholder is used by providers for "no translation for this line".
const TranslationPlaceholder = "//"

// ActiveLine returns the index of the line active at time ms, or -1 if none.
//
// In syllable-timed mode a line is active from the end of the previous line
// (or its own start, for the first line) through its own end, so gaps
// between lines are covered by the upcoming line. In pure-timeline mode the
// active line is the last one whose start is <= ms.
func ActiveLine(doc *Document, ms int, pureTimeline bool) int {
	if doc == nil || !doc.Synced || len(doc.Lines) == 0 {
		return -1
	}
	if pureTimeline {
		return activePure(doc.Lines, ms)
	}
	return activeSegmented(doc.Lines, ms)
}

func activeSegmented(lines []Line, ms int) int {
	for i := range lines {
		from := lines[i].StartMs
		if i > 0 && lines[i-1].HasEnd() {
			from = lines[i-1].EndMs
		}
		if from <= ms && ms <= lineEnd(lines, i) {
			return i
		}
	}
	return -1
}

// lineEnd falls back to the next line's start when the end time is missing.
func lineEnd(lines []Line, i int) int {
	if lines[i].HasEnd() {
		return lines[i].EndMs
	}
	if i+1 < len(lines) {
		return lines[i+1].StartMs
	}
	return lines[i].StartMs
}

func activePure(lines []Line, ms int) int {
	idx := -1
	for i := range lines {
		if lines[i].StartMs > ms {
			break
		}
		idx = i
	}
	return idx
}

// PairedLine returns the index of the first line in doc starting no
// earlier than startMs-PairTolerance, or -1.
func PairedLine(doc *Document, startMs int) int {
	if doc == nil {
		return -1
	}
	for i := range doc.Lines {
		if doc.Lines[i].StartMs >= startMs-PairTolerance {
			return i
		}
	}
	return -1
}

// IsTranslationPlaceholder reports whether a translation line means "absent".
func IsTranslationPlaceholder(text string) bool {
	return text == TranslationPlaceholder
}
