package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/supersonic-app/lyricsync/backend"
	"github.com/supersonic-app/lyricsync/backend/lyrics"
	"golang.org/x/term"
	"golang.org/x/text/width"
)

const defaultColumns = 80

// ConsoleRenderer prints the lyrics of the followed track to a terminal.
// On a TTY the active line is redrawn in place; otherwise each line
// change is printed on its own line.
type ConsoleRenderer struct {
	ShowTranslation     bool
	ShowTransliteration bool

	mu       sync.Mutex
	out      io.Writer
	tty      bool
	columns  func() int
	liveLine bool // a line is drawn without a trailing newline
}

func NewConsoleRenderer(out *os.File) *ConsoleRenderer {
	fd := int(out.Fd())
	return newConsoleRenderer(out, term.IsTerminal(fd), func() int {
		if w, _, err := term.GetSize(fd); err == nil && w > 0 {
			return w
		}
		return defaultColumns
	})
}

func newConsoleRenderer(out io.Writer, tty bool, columns func() int) *ConsoleRenderer {
	return &ConsoleRenderer{out: out, tty: tty, columns: columns}
}

// Attach subscribes the renderer to the lyrics manager's events.
func (c *ConsoleRenderer) Attach(lm *backend.LyricsManager) {
	lm.OnMediaChanged(c.endLiveLine)
	lm.OnMetadataUpdated(c.showTrack)
	lm.OnLyricLoaded(c.showLyrics)
	lm.OnCurrentLineChanged(c.showLine)
}

func (c *ConsoleRenderer) showTrack(md *backend.TrackMetadata) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endLiveLineLocked()
	fmt.Fprintf(c.out, "♪ %s - %s\n", md.Title, md.ArtistString())
}

func (c *ConsoleRenderer) showLyrics(set *lyrics.Set) {
	if set.Main.Synced || set.Main.Len() == 0 {
		return // synced lines are shown as they become active
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endLiveLineLocked()
	fmt.Fprintln(c.out, set.Main.Text())
}

func (c *ConsoleRenderer) showLine(line *backend.LrcLine) {
	text := line.Line.Text
	if c.ShowTranslation && line.Translation != "" {
		text += "  |  " + line.Translation
	}
	if c.ShowTransliteration && line.Transliteration != nil && line.Transliteration.Text != "" {
		text += "  (" + line.Transliteration.Text + ")"
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.tty {
		fmt.Fprintln(c.out, text)
		return
	}
	// clear the line and redraw; leave the last column free so the
	// terminal does not wrap
	fmt.Fprint(c.out, "\r\033[K"+truncateToWidth(text, c.columns()-1))
	c.liveLine = true
}

func (c *ConsoleRenderer) endLiveLine() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endLiveLineLocked()
}

func (c *ConsoleRenderer) endLiveLineLocked() {
	if c.liveLine {
		fmt.Fprintln(c.out)
		c.liveLine = false
	}
}

// truncateToWidth cuts s to at most cols terminal columns,
// counting wide (e.g. CJK) characters as two columns.
func truncateToWidth(s string, cols int) string {
	if cols <= 0 {
		return ""
	}
	var b strings.Builder
	used := 0
	for _, r := range s {
		w := 1
		switch width.LookupRune(r).Kind() {
		case width.EastAsianWide, width.EastAsianFullwidth:
			w = 2
		}
		if used+w > cols {
			break
		}
		used += w
		b.WriteRune(r)
	}
	return b.String()
}
