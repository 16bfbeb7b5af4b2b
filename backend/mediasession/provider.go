// Package mediasession tracks the externally owned media sessions
// (one per playing application) and selects a single current session
// whose events are re-published to the rest of the app.
package mediasession

import (
	"context"
	"errors"
	"time"
)

// ErrSessionInvalid is returned by any Session call made after the
// provider has invalidated the underlying session.
var ErrSessionInvalid = errors.New("media session is no longer valid")

type PlaybackStatus int

const (
	Closed PlaybackStatus = iota
	Opened
	Changing
	Stopped
	Playing
	Paused
)

func (s PlaybackStatus) String() string {
	switch s {
	case Closed:
		return "Closed"
	case Opened:
		return "Opened"
	case Changing:
		return "Changing"
	case Stopped:
		return "Stopped"
	case Playing:
		return "Playing"
	case Paused:
		return "Paused"
	}
	return "Unknown"
}

type MediaInfo struct {
	Title        string
	Artist       string
	AlbumTitle   string
	AlbumArtist  string
	TrackNumber  int
	Genres       []string
	PlaybackType string
}

type PlaybackInfo struct {
	Status        PlaybackStatus
	Rate          float64
	CanSeek       bool
	CanPlay       bool
	CanPause      bool
	CanGoNext     bool
	CanGoPrevious bool
}

// Timeline is one position/duration report from a session.
// It is superseded by later reports, never mutated.
type Timeline struct {
	Start     time.Duration
	End       time.Duration
	Position  time.Duration
	SampledAt time.Time
}

// Valid reports whether the timeline describes a track with a known length.
func (t *Timeline) Valid() bool {
	return t != nil && t.End > t.Start
}

type EventKind int

const (
	MediaPropertiesChanged EventKind = iota
	PlaybackInfoChanged
	TimelinePropertiesChanged
)

type SessionEvent struct {
	Kind EventKind
}

// Session is a borrowed capability for one external media session.
// The provider may invalidate it at any time; every call must be
// prepared to get ErrSessionInvalid.
type Session interface {
	SourceID() (string, error)
	MediaProperties(ctx context.Context) (*MediaInfo, error)
	PlaybackInfo() (*PlaybackInfo, error)
	Timeline() (*Timeline, error)

	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Next(ctx context.Context) error
	Previous(ctx context.Context) error
	Seek(ctx context.Context, pos time.Duration) error

	// Subscribe registers cb for property, playback and timeline
	// changes of this session. cb may be invoked from any goroutine.
	Subscribe(cb func(SessionEvent)) (unsubscribe func(), err error)
}

// Provider exposes the OS-level pool of media sessions.
// Notification callbacks may be invoked from any goroutine.
type Provider interface {
	Sessions() ([]Session, error)
	// CurrentSession returns the provider's own notion of the
	// current session, or nil, nil if there is none.
	CurrentSession() (Session, error)
	OnSessionsChanged(cb func()) (unsubscribe func())
	OnCurrentSessionChanged(cb func()) (unsubscribe func())
}
