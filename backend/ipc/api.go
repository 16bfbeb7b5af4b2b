package ipc

import "fmt"

const (
	PingPath         = "/ping"
	PlayPausePath    = "/transport/playpause"
	PreviousPath     = "/transport/previous"
	NextPath         = "/transport/next"
	TimePosPath      = "/transport/timepos" // ?ms=<milliseconds>
	ReloadLyricsPath = "/lyrics/reload"
	NowPlayingPath   = "/nowplaying"
	QuitPath         = "/window/quit"
)

type Response struct {
	Error string `json:"error"`
}

// NowPlaying describes the followed media session and the active lyric line.
type NowPlaying struct {
	SourceID    string  `json:"sourceId"`
	Title       string  `json:"title"`
	Artist      string  `json:"artist"`
	Album       string  `json:"album"`
	Playing     bool    `json:"playing"`
	PositionSec float64 `json:"position"`
	DurationSec float64 `json:"duration"`
	Line        string  `json:"line,omitempty"`
	Translation string  `json:"translation,omitempty"`
}

func SeekToMillisPath(ms int64) string {
	return fmt.Sprintf("%s?ms=%d", TimePosPath, ms)
}
