// Package sessiontest provides in-memory media session fakes for tests.
package sessiontest

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/supersonic-app/lyricsync/backend/mediasession"
)

var (
	_ mediasession.Session  = (*Session)(nil)
	_ mediasession.Provider = (*Provider)(nil)
)

type Session struct {
	id string

	mu       sync.Mutex
	invalid  bool
	info     mediasession.MediaInfo
	playback mediasession.PlaybackInfo
	timeline *mediasession.Timeline
	subs     map[int]func(mediasession.SessionEvent)
	nextSub  int
	calls    []string
}

func NewSession(id string) *Session {
	return &Session{
		id:       id,
		playback: mediasession.PlaybackInfo{Status: mediasession.Stopped, Rate: 1, CanSeek: true},
		subs:     make(map[int]func(mediasession.SessionEvent)),
	}
}

// Invalidate makes every subsequent call fail with ErrSessionInvalid.
func (s *Session) Invalidate() {
	s.mu.Lock()
	s.invalid = true
	s.mu.Unlock()
}

// SetMedia updates the media properties and raises MediaPropertiesChanged.
func (s *Session) SetMedia(info mediasession.MediaInfo) {
	s.mu.Lock()
	s.info = info
	s.mu.Unlock()
	s.Emit(mediasession.MediaPropertiesChanged)
}

// SetStatus updates the playback status and raises PlaybackInfoChanged.
func (s *Session) SetStatus(status mediasession.PlaybackStatus) {
	s.mu.Lock()
	s.playback.Status = status
	s.mu.Unlock()
	s.Emit(mediasession.PlaybackInfoChanged)
}

// SetTimeline stores a timeline report and raises TimelinePropertiesChanged.
func (s *Session) SetTimeline(position, duration time.Duration) {
	s.mu.Lock()
	s.timeline = &mediasession.Timeline{End: duration, Position: position, SampledAt: time.Now()}
	s.mu.Unlock()
	s.Emit(mediasession.TimelinePropertiesChanged)
}

// Emit invokes every subscriber with an event of the given kind.
func (s *Session) Emit(kind mediasession.EventKind) {
	s.mu.Lock()
	subs := make([]func(mediasession.SessionEvent), 0, len(s.subs))
	for _, cb := range s.subs {
		subs = append(subs, cb)
	}
	s.mu.Unlock()
	for _, cb := range subs {
		cb(mediasession.SessionEvent{Kind: kind})
	}
}

func (s *Session) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Calls returns the transport commands received so far.
func (s *Session) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.calls)
}

func (s *Session) SourceID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.invalid {
		return "", mediasession.ErrSessionInvalid
	}
	return s.id, nil
}

func (s *Session) MediaProperties(context.Context) (*mediasession.MediaInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.invalid {
		return nil, mediasession.ErrSessionInvalid
	}
	info := s.info
	return &info, nil
}

func (s *Session) PlaybackInfo() (*mediasession.PlaybackInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.invalid {
		return nil, mediasession.ErrSessionInvalid
	}
	pb := s.playback
	return &pb, nil
}

func (s *Session) Timeline() (*mediasession.Timeline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.invalid {
		return nil, mediasession.ErrSessionInvalid
	}
	if s.timeline == nil {
		return nil, nil
	}
	tl := *s.timeline
	return &tl, nil
}

func (s *Session) Play(context.Context) error {
	return s.command("play", func() { s.playback.Status = mediasession.Playing })
}

func (s *Session) Pause(context.Context) error {
	return s.command("pause", func() { s.playback.Status = mediasession.Paused })
}

func (s *Session) Next(context.Context) error {
	return s.command("next", nil)
}

func (s *Session) Previous(context.Context) error {
	return s.command("previous", nil)
}

func (s *Session) Seek(_ context.Context, pos time.Duration) error {
	return s.command("seek", func() {
		if s.timeline != nil {
			s.timeline.Position = pos
		}
	})
}

func (s *Session) command(name string, apply func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.invalid {
		return mediasession.ErrSessionInvalid
	}
	s.calls = append(s.calls, name)
	if apply != nil {
		apply()
	}
	return nil
}

func (s *Session) Subscribe(cb func(mediasession.SessionEvent)) (func(), error) {
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

// Provider is a fake session pool. Mutations notify subscribers synchronously.
type Provider struct {
	mu        sync.Mutex
	sessions  []*Session
	current   *Session
	listErr   error
	onChanged map[int]func()
	onCurrent map[int]func()
	nextSub   int
}

func NewProvider() *Provider {
	return &Provider{
		onChanged: make(map[int]func()),
		onCurrent: make(map[int]func()),
	}
}

// Add adds sessions to the pool and raises SessionsChanged.
func (p *Provider) Add(sessions ...*Session) {
	p.mu.Lock()
	p.sessions = append(p.sessions, sessions...)
	p.mu.Unlock()
	p.notify(p.onChanged)
}

// Remove invalidates and removes the session with the given ID and raises SessionsChanged.
func (p *Provider) Remove(id string) {
	p.mu.Lock()
	p.sessions = slices.DeleteFunc(p.sessions, func(s *Session) bool {
		if s.id == id {
			s.Invalidate()
			return true
		}
		return false
	})
	if p.current != nil && p.current.id == id {
		p.current = nil
	}
	p.mu.Unlock()
	p.notify(p.onChanged)
}

// SetCurrent changes the provider's current session and raises CurrentSessionChanged.
func (p *Provider) SetCurrent(s *Session) {
	p.mu.Lock()
	p.current = s
	p.mu.Unlock()
	p.notify(p.onCurrent)
}

// SetListError makes Sessions fail with err until cleared with nil.
func (p *Provider) SetListError(err error) {
	p.mu.Lock()
	p.listErr = err
	p.mu.Unlock()
}

func (p *Provider) Sessions() ([]mediasession.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listErr != nil {
		return nil, p.listErr
	}
	out := make([]mediasession.Session, len(p.sessions))
	for i, s := range p.sessions {
		out[i] = s
	}
	return out, nil
}

func (p *Provider) CurrentSession() (mediasession.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return nil, nil
	}
	return p.current, nil
}

func (p *Provider) OnSessionsChanged(cb func()) func() {
	return p.register(p.onChanged, cb)
}

func (p *Provider) OnCurrentSessionChanged(cb func()) func() {
	return p.register(p.onCurrent, cb)
}

func (p *Provider) register(m map[int]func(), cb func()) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextSub
	p.nextSub++
	m[id] = cb
	return func() {
		p.mu.Lock()
		delete(m, id)
		p.mu.Unlock()
	}
}

func (p *Provider) notify(m map[int]func()) {
	p.mu.Lock()
	cbs := make([]func(), 0, len(m))
	for _, cb := range m {
		cbs = append(cbs, cb)
	}
	p.mu.Unlock()
	for _, cb := range cbs {
		cb()
	}
}
