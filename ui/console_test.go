package ui

import (
	"bytes"
	"testing"

	"github.com/supersonic-app/lyricsync/backend"
	"github.com/supersonic-app/lyricsync/backend/lyrics"
)

func TestTruncateToWidth(t *testing.T) {
	tests := []struct {
		in   string
		cols int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello world", 5, "hello"},
		{"日本語の歌詞", 5, "日本"},
		{"日本語", 6, "日本語"},
		{"anything", 0, ""},
	}
	for _, tt := range tests {
		if got := truncateToWidth(tt.in, tt.cols); got != tt.want {
			t.Errorf("truncateToWidth(%q, %d) = %q, want %q", tt.in, tt.cols, got, tt.want)
		}
	}
}

func line(text, translation string) *backend.LrcLine {
	return &backend.LrcLine{Line: lyrics.Line{Text: text}, Translation: translation}
}

func TestConsoleRenderer_Plain(t *testing.T) {
	var buf bytes.Buffer
	c := newConsoleRenderer(&buf, false, func() int { return 80 })
	c.ShowTranslation = true

	c.showTrack(&backend.TrackMetadata{Title: "Song", Artists: []string{"A", "B"}})
	c.showLine(line("first", "erste"))
	c.showLine(line("second", ""))

	want := "♪ Song - A, B\nfirst  |  erste\nsecond\n"
	if got := buf.String(); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestConsoleRenderer_TTY(t *testing.T) {
	var buf bytes.Buffer
	c := newConsoleRenderer(&buf, true, func() int { return 8 })

	c.showLine(line("a long lyric line", "ignored"))
	c.endLiveLine()
	c.endLiveLine()

	want := "\r\033[Ka long \n"
	if got := buf.String(); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestConsoleRenderer_UnsyncedLyrics(t *testing.T) {
	var buf bytes.Buffer
	c := newConsoleRenderer(&buf, false, func() int { return 80 })
	c.showLyrics(&lyrics.Set{Main: lyrics.ParsePlain("one\ntwo"), PureTimeline: true})
	if got, want := buf.String(), "one\ntwo\n"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}
