// Package mpris implements a media session provider over the MPRIS
// D-Bus interface, used by media players on Linux and the BSDs.
package mpris

import (
	"context"
	"fmt"
	"log"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/samber/lo"
	"github.com/supersonic-app/lyricsync/backend/mediasession"
)

const (
	positionPollInterval = 1 * time.Second
	callTimeout          = 2 * time.Second
)

var _ mediasession.Provider = (*Provider)(nil)

// Provider watches the session bus for MPRIS players.
// The provider's current session is the player that most recently
// started playing, or the first player found while none has.
type Provider struct {
	conn    *dbus.Conn
	signals chan *dbus.Signal
	now     func() time.Time
	object  func(busName string) dbus.BusObject
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.Mutex
	players map[string]*playerSession // by well-known bus name
	owners  map[string]string         // unique name -> well-known bus name
	current string

	onSessionsChanged map[int]func()
	onCurrentChanged  map[int]func()
	nextSub           int
}

// NewProvider connects to the session bus and starts watching for players.
func NewProvider(ctx context.Context) (*Provider, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}
	p := &Provider{
		conn:              conn,
		signals:           make(chan *dbus.Signal, 32),
		now:               time.Now,
		object: func(busName string) dbus.BusObject {
			return conn.Object(busName, objectPath)
		},
		players:           make(map[string]*playerSession),
		owners:            make(map[string]string),
		onSessionsChanged: make(map[int]func()),
		onCurrentChanged:  make(map[int]func()),
	}
	if err := p.start(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return p, nil
}

func (p *Provider) start(ctx context.Context) error {
	matches := [][]dbus.MatchOption{
		{
			dbus.WithMatchInterface("org.freedesktop.DBus"),
			dbus.WithMatchMember("NameOwnerChanged"),
			dbus.WithMatchOption("arg0namespace", strings.TrimSuffix(busNamePrefix, ".")),
		},
		{
			dbus.WithMatchObjectPath(objectPath),
			dbus.WithMatchInterface(propertiesInterface),
			dbus.WithMatchMember("PropertiesChanged"),
		},
		{
			dbus.WithMatchObjectPath(objectPath),
			dbus.WithMatchInterface(playerInterface),
			dbus.WithMatchMember("Seeked"),
		},
	}
	for _, m := range matches {
		if err := p.conn.AddMatchSignal(m...); err != nil {
			return fmt.Errorf("failed to add signal match: %w", err)
		}
	}
	p.conn.Signal(p.signals)

	var names []string
	if err := p.conn.BusObject().CallWithContext(ctx, "org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
		return fmt.Errorf("failed to list bus names: %w", err)
	}
	for _, name := range names {
		if _, ok := sourceIDFromBusName(name); !ok {
			continue
		}
		var owner string
		if err := p.conn.BusObject().CallWithContext(ctx, "org.freedesktop.DBus.GetNameOwner", 0, name).Store(&owner); err != nil {
			continue
		}
		p.addPlayer(ctx, name, owner)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.wg.Add(2)
	go p.handleSignals(runCtx)
	go p.pollPositions(runCtx)
	return nil
}

// Close stops watching the bus and closes the connection.
func (p *Provider) Close() error {
	if p.cancel != nil {
		p.cancel()
	}
	p.conn.RemoveSignal(p.signals)
	p.wg.Wait()
	return p.conn.Close()
}

// addPlayer loads and adds a player. It returns whether the current
// session changed as a result.
func (p *Provider) addPlayer(ctx context.Context, busName, owner string) (currentChanged bool) {
	s := newPlayerSession(p.object(busName), busName, p.now)
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	if err := s.load(ctx); err != nil {
		log.Printf("failed to load MPRIS player %s: %v", busName, err)
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if old, ok := p.players[busName]; ok {
		old.invalidate()
		currentChanged = p.current == busName
	}
	p.players[busName] = s
	p.owners[owner] = busName
	cur, ok := p.players[p.current]
	if !ok || (p.current != busName && s.status() == mediasession.Playing && cur.status() != mediasession.Playing) {
		p.current = busName
		currentChanged = true
	}
	return currentChanged
}

// removePlayer returns whether the current session changed as a result.
func (p *Provider) removePlayer(busName string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.players[busName]
	if !ok {
		return false
	}
	s.invalidate()
	delete(p.players, busName)
	for unique, name := range p.owners {
		if name == busName {
			delete(p.owners, unique)
		}
	}
	if p.current != busName {
		return false
	}
	names := lo.Keys(p.players)
	slices.Sort(names)
	p.current = ""
	if len(names) > 0 {
		p.current = names[0]
	}
	for _, name := range names {
		if p.players[name].status() == mediasession.Playing {
			p.current = name
			break
		}
	}
	return true
}

func (p *Provider) handleSignals(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-p.signals:
			if !ok {
				return
			}
			p.handleSignal(ctx, sig)
		}
	}
}

func (p *Provider) handleSignal(ctx context.Context, sig *dbus.Signal) {
	switch sig.Name {
	case "org.freedesktop.DBus.NameOwnerChanged":
		var name, oldOwner, newOwner string
		if err := dbus.Store(sig.Body, &name, &oldOwner, &newOwner); err != nil {
			return
		}
		if _, ok := sourceIDFromBusName(name); !ok {
			return
		}
		currentChanged := false
		if oldOwner != "" {
			currentChanged = p.removePlayer(name)
		}
		if newOwner != "" {
			currentChanged = p.addPlayer(ctx, name, newOwner) || currentChanged
		}
		p.notify(p.onSessionsChanged)
		if currentChanged {
			p.notify(p.onCurrentChanged)
		}

	case propertiesInterface + ".PropertiesChanged":
		var iface string
		var changed map[string]dbus.Variant
		var invalidated []string
		if err := dbus.Store(sig.Body, &iface, &changed, &invalidated); err != nil || iface != playerInterface {
			return
		}
		s := p.playerForSender(sig.Sender)
		if s == nil {
			return
		}
		wasPlaying := s.status() == mediasession.Playing
		events := s.applyProperties(changed)
		if !wasPlaying && s.status() == mediasession.Playing && p.promote(s.busName) {
			p.notify(p.onCurrentChanged)
		}
		s.emit(events...)

	case playerInterface + ".Seeked":
		var us int64
		if err := dbus.Store(sig.Body, &us); err != nil {
			return
		}
		if s := p.playerForSender(sig.Sender); s != nil {
			s.setPosition(time.Duration(us) * time.Microsecond)
			s.emit(mediasession.TimelinePropertiesChanged)
		}
	}
}

func (p *Provider) playerForSender(sender string) *playerSession {
	p.mu.Lock()
	defer p.mu.Unlock()
	if name, ok := p.owners[sender]; ok {
		return p.players[name]
	}
	return p.players[sender]
}

func (p *Provider) promote(busName string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == busName {
		return false
	}
	p.current = busName
	return true
}

// pollPositions samples the position of playing players, since MPRIS
// players do not signal regular position changes.
func (p *Provider) pollPositions(ctx context.Context) {
	defer p.wg.Done()
	t := time.NewTicker(positionPollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			p.mu.Lock()
			playing := lo.Filter(lo.Values(p.players), func(s *playerSession, _ int) bool {
				return s.status() == mediasession.Playing
			})
			p.mu.Unlock()
			for _, s := range playing {
				callCtx, cancel := context.WithTimeout(ctx, callTimeout)
				err := s.pollPosition(callCtx)
				cancel()
				if err == nil {
					s.emit(mediasession.TimelinePropertiesChanged)
				}
			}
		}
	}
}

func (p *Provider) Sessions() ([]mediasession.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := lo.Keys(p.players)
	slices.Sort(names)
	return lo.Map(names, func(name string, _ int) mediasession.Session {
		return p.players[name]
	}), nil
}

func (p *Provider) CurrentSession() (mediasession.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.players[p.current]; ok {
		return s, nil
	}
	return nil, nil
}

func (p *Provider) OnSessionsChanged(cb func()) func() {
	return p.register(p.onSessionsChanged, cb)
}

func (p *Provider) OnCurrentSessionChanged(cb func()) func() {
	return p.register(p.onCurrentChanged, cb)
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
	cbs := lo.Values(m)
	p.mu.Unlock()
	for _, cb := range cbs {
		cb()
	}
}
