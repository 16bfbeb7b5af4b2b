package mpris

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/samber/lo"
	"github.com/supersonic-app/lyricsync/backend/mediasession"
)

const (
	busNamePrefix       = "org.mpris.MediaPlayer2."
	objectPath          = dbus.ObjectPath("/org/mpris/MediaPlayer2")
	playerInterface     = "org.mpris.MediaPlayer2.Player"
	propertiesInterface = "org.freedesktop.DBus.Properties"
)

var _ mediasession.Session = (*playerSession)(nil)

// playerSession is one MPRIS player on the session bus. Metadata and
// playback state are cached from PropertiesChanged signals; the
// position is the last sample taken by polling or a Seeked signal.
type playerSession struct {
	busName  string
	sourceID string
	obj      dbus.BusObject
	now      func() time.Time

	mu        sync.Mutex
	invalid   bool
	metadata  trackMetadata
	playback  mediasession.PlaybackInfo
	position  time.Duration
	sampledAt time.Time
	subs      map[int]func(mediasession.SessionEvent)
	nextSub   int
}

func newPlayerSession(obj dbus.BusObject, busName string, now func() time.Time) *playerSession {
	id, _ := sourceIDFromBusName(busName)
	return &playerSession{
		busName:  busName,
		sourceID: id,
		obj:      obj,
		now:      now,
		playback: mediasession.PlaybackInfo{Status: mediasession.Closed, Rate: 1},
		subs:     make(map[int]func(mediasession.SessionEvent)),
	}
}

func sourceIDFromBusName(name string) (string, bool) {
	id, ok := strings.CutPrefix(name, busNamePrefix)
	return id, ok && id != ""
}

// mapError converts "the player is gone" bus errors to ErrSessionInvalid.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, dbus.ErrClosed) {
		return fmt.Errorf("%w: %v", mediasession.ErrSessionInvalid, err)
	}
	var name string
	var dbusErr dbus.Error
	var dbusErrPtr *dbus.Error
	switch {
	case errors.As(err, &dbusErr):
		name = dbusErr.Name
	case errors.As(err, &dbusErrPtr):
		name = dbusErrPtr.Name
	}
	switch name {
	case "org.freedesktop.DBus.Error.ServiceUnknown",
		"org.freedesktop.DBus.Error.NameHasNoOwner",
		"org.freedesktop.DBus.Error.UnknownObject":
		return fmt.Errorf("%w: %s", mediasession.ErrSessionInvalid, name)
	}
	return err
}

func (s *playerSession) invalidate() {
	s.mu.Lock()
	s.invalid = true
	s.mu.Unlock()
}

func (s *playerSession) isInvalid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.invalid
}

// load fetches every player property and position from the bus.
func (s *playerSession) load(ctx context.Context) error {
	var props map[string]dbus.Variant
	err := s.obj.CallWithContext(ctx, propertiesInterface+".GetAll", 0, playerInterface).Store(&props)
	if err != nil {
		return mapError(err)
	}
	s.applyProperties(props)
	return nil
}

// applyProperties updates the cached state from a (possibly partial)
// property map and returns the events the change should raise.
func (s *playerSession) applyProperties(props map[string]dbus.Variant) []mediasession.EventKind {
	s.mu.Lock()
	defer s.mu.Unlock()

	var events []mediasession.EventKind
	if v, ok := props["Metadata"]; ok {
		if m, ok := v.Value().(map[string]dbus.Variant); ok {
			md := parseMetadata(m)
			if md.trackID != s.metadata.trackID || md.info.Title != s.metadata.info.Title {
				// new track; the player does not signal its position reset
				s.position = 0
				s.sampledAt = s.now()
			}
			s.metadata = md
			events = append(events, mediasession.MediaPropertiesChanged, mediasession.TimelinePropertiesChanged)
		}
	}
	pb := s.playback
	for name, v := range props {
		switch name {
		case "PlaybackStatus":
			pb.Status = parsePlaybackStatus(variantString(v))
		case "Rate":
			pb.Rate = variantFloat(v)
		case "CanSeek":
			pb.CanSeek = variantBool(v)
		case "CanPlay":
			pb.CanPlay = variantBool(v)
		case "CanPause":
			pb.CanPause = variantBool(v)
		case "CanGoNext":
			pb.CanGoNext = variantBool(v)
		case "CanGoPrevious":
			pb.CanGoPrevious = variantBool(v)
		case "Position":
			s.position = time.Duration(variantInt64(v)) * time.Microsecond
			s.sampledAt = s.now()
			events = append(events, mediasession.TimelinePropertiesChanged)
		}
	}
	if pb != s.playback {
		s.playback = pb
		events = append(events, mediasession.PlaybackInfoChanged)
	}
	return lo.Uniq(events)
}

func (s *playerSession) setPosition(pos time.Duration) {
	s.mu.Lock()
	s.position = max(0, pos)
	s.sampledAt = s.now()
	s.mu.Unlock()
}

// pollPosition samples the player's Position property.
func (s *playerSession) pollPosition(ctx context.Context) error {
	var v dbus.Variant
	err := s.obj.CallWithContext(ctx, propertiesInterface+".Get", 0, playerInterface, "Position").Store(&v)
	if err != nil {
		return mapError(err)
	}
	us, ok := v.Value().(int64)
	if !ok {
		return fmt.Errorf("unexpected position type %T", v.Value())
	}
	s.setPosition(time.Duration(us) * time.Microsecond)
	return nil
}

func (s *playerSession) status() mediasession.PlaybackStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playback.Status
}

func (s *playerSession) emit(kinds ...mediasession.EventKind) {
	s.mu.Lock()
	subs := lo.Values(s.subs)
	s.mu.Unlock()
	for _, k := range kinds {
		for _, cb := range subs {
			cb(mediasession.SessionEvent{Kind: k})
		}
	}
}

func (s *playerSession) SourceID() (string, error) {
	if s.isInvalid() {
		return "", mediasession.ErrSessionInvalid
	}
	return s.sourceID, nil
}

func (s *playerSession) MediaProperties(ctx context.Context) (*mediasession.MediaInfo, error) {
	if s.isInvalid() {
		return nil, mediasession.ErrSessionInvalid
	}
	var v dbus.Variant
	err := s.obj.CallWithContext(ctx, propertiesInterface+".Get", 0, playerInterface, "Metadata").Store(&v)
	if err != nil {
		return nil, mapError(err)
	}
	if _, ok := v.Value().(map[string]dbus.Variant); ok {
		s.applyProperties(map[string]dbus.Variant{"Metadata": v})
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	info := s.metadata.info
	return &info, nil
}

func (s *playerSession) PlaybackInfo() (*mediasession.PlaybackInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.invalid {
		return nil, mediasession.ErrSessionInvalid
	}
	pb := s.playback
	return &pb, nil
}

func (s *playerSession) Timeline() (*mediasession.Timeline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.invalid {
		return nil, mediasession.ErrSessionInvalid
	}
	return &mediasession.Timeline{
		End:       s.metadata.length,
		Position:  s.position,
		SampledAt: s.sampledAt,
	}, nil
}

func (s *playerSession) Play(ctx context.Context) error {
	return s.call(ctx, "Play")
}

func (s *playerSession) Pause(ctx context.Context) error {
	return s.call(ctx, "Pause")
}

func (s *playerSession) Next(ctx context.Context) error {
	return s.call(ctx, "Next")
}

func (s *playerSession) Previous(ctx context.Context) error {
	return s.call(ctx, "Previous")
}

// Seek uses SetPosition when the track has an ID, otherwise a
// relative Seek from the last known position.
func (s *playerSession) Seek(ctx context.Context, pos time.Duration) error {
	s.mu.Lock()
	trackID := s.metadata.trackID
	offset := pos - s.position
	s.mu.Unlock()

	if trackID.IsValid() && trackID != "" {
		return s.call(ctx, "SetPosition", trackID, pos.Microseconds())
	}
	return s.call(ctx, "Seek", offset.Microseconds())
}

func (s *playerSession) call(ctx context.Context, method string, args ...any) error {
	if s.isInvalid() {
		return mediasession.ErrSessionInvalid
	}
	return mapError(s.obj.CallWithContext(ctx, playerInterface+"."+method, 0, args...).Err)
}

func (s *playerSession) Subscribe(cb func(mediasession.SessionEvent)) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.invalid {
		return nil, mediasession.ErrSessionInvalid
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = cb
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}, nil
}
