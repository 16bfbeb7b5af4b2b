package backend

import (
	"errors"
	"flag"
	"strconv"
	"strings"
	"time"
)

var (
	SeekToCLIArg int64 = -1 // milliseconds

	FlagPlayPause    = flag.Bool("play-pause", false, "toggle play/pause of the followed media session")
	FlagPrevious     = flag.Bool("previous", false, "skip to the previous track")
	FlagNext         = flag.Bool("next", false, "skip to the next track")
	FlagReloadLyrics = flag.Bool("reload-lyrics", false, "search for and load the lyrics of the current track again")
	FlagNowPlaying   = flag.Bool("now-playing", false, "print the current track and lyric line as JSON and exit")
	FlagQuit         = flag.Bool("quit", false, "quit the running instance")
	FlagVersion      = flag.Bool("version", false, "print app version and exit")
	FlagHelp         = flag.Bool("help", false, "print command line options and exit")
)

func init() {
	flag.Func("seek-to", "seeks to the given position in the current track (seconds, or a duration such as 1m30s)", func(s string) error {
		ms, err := parseSeekPosition(s)
		SeekToCLIArg = ms
		return err
	})
}

// parseSeekPosition accepts plain seconds ("90.5") or a Go duration ("1m30s").
func parseSeekPosition(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		if secs < 0 {
			return -1, errors.New("seek position must not be negative")
		}
		return int64(secs * 1000), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return -1, err
	}
	if d < 0 {
		return -1, errors.New("seek position must not be negative")
	}
	return d.Milliseconds(), nil
}

func HaveCommandLineOptions() bool {
	visitedAny := false
	flag.Visit(func(*flag.Flag) {
		visitedAny = true
	})
	return visitedAny
}
