package mpris

import (
	"strings"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/supersonic-app/lyricsync/backend/mediasession"
)

// trackMetadata is the subset of MPRIS track metadata the app cares about.
type trackMetadata struct {
	info    mediasession.MediaInfo
	trackID dbus.ObjectPath
	length  time.Duration
}

func parseMetadata(m map[string]dbus.Variant) trackMetadata {
	md := trackMetadata{
		info: mediasession.MediaInfo{
			Title:        extractString(m, "xesam:title"),
			Artist:       strings.Join(extractStrings(m, "xesam:artist"), ", "),
			AlbumTitle:   extractString(m, "xesam:album"),
			AlbumArtist:  strings.Join(extractStrings(m, "xesam:albumArtist"), ", "),
			TrackNumber:  int(extractInt(m, "xesam:trackNumber")),
			Genres:       extractStrings(m, "xesam:genre"),
			PlaybackType: "Music",
		},
		trackID: dbus.ObjectPath(extractString(m, "mpris:trackid")),
	}
	if us := extractInt(m, "mpris:length"); us > 0 {
		md.length = time.Duration(us) * time.Microsecond
	}
	return md
}

func extractString(m map[string]dbus.Variant, key string) string {
	v, ok := m[key]
	if !ok {
		return ""
	}
	switch typed := v.Value().(type) {
	case string:
		return typed
	case dbus.ObjectPath:
		return string(typed)
	}
	return ""
}

// extractStrings accepts both the string list MPRIS defines and the single
// string some players send instead.
func extractStrings(m map[string]dbus.Variant, key string) []string {
	v, ok := m[key]
	if !ok {
		return nil
	}
	switch typed := v.Value().(type) {
	case []string:
		return typed
	case string:
		if typed == "" {
			return nil
		}
		return []string{typed}
	}
	return nil
}

// extractInt handles the assorted integer types players use for lengths and track numbers.
func extractInt(m map[string]dbus.Variant, key string) int64 {
	v, ok := m[key]
	if !ok {
		return 0
	}
	switch typed := v.Value().(type) {
	case int64:
		return typed
	case uint64:
		return int64(typed)
	case int32:
		return int64(typed)
	case uint32:
		return int64(typed)
	case float64:
		return int64(typed)
	}
	return 0
}

func parsePlaybackStatus(s string) mediasession.PlaybackStatus {
	switch s {
	case "Playing":
		return mediasession.Playing
	case "Paused":
		return mediasession.Paused
	case "Stopped":
		return mediasession.Stopped
	}
	return mediasession.Closed
}

func variantString(v dbus.Variant) string {
	s, _ := v.Value().(string)
	return s
}

func variantBool(v dbus.Variant) bool {
	b, _ := v.Value().(bool)
	return b
}

func variantFloat(v dbus.Variant) float64 {
	f, _ := v.Value().(float64)
	return f
}

func variantInt64(v dbus.Variant) int64 {
	i, _ := v.Value().(int64)
	return i
}
