package mediasession

import (
	"context"
	"errors"
	"log"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

const notifyQueueSize = 64

type notifyKind int

const (
	notifySessionsChanged notifyKind = iota
	notifyCurrentChanged
	notifySessionEvent
)

type notification struct {
	kind  notifyKind
	token uuid.UUID // subscription token, for notifySessionEvent
	event SessionEvent
}

type trackedSession struct {
	id          string
	session     Session
	token       uuid.UUID
	unsubscribe func()
}

// Tracker keeps the set of allow-listed sessions in sync with the
// provider and selects one of them as current. Provider notifications
// are queued and handled serially by Run; registered callbacks are
// invoked from the Run goroutine (or from the caller of Refresh).
type Tracker struct {
	provider Provider
	notify   chan notification
	done     chan struct{}

	// serialises reconciliation, held across provider calls
	reconcileMu sync.Mutex

	// guards the fields below; never held across provider calls
	mu      sync.Mutex
	allow   func(string) bool
	tracked map[string]*trackedSession
	current *trackedSession

	providerUnsubs []func()

	// registered callbacks
	onMediaPropertiesChanged []func()
	onPlaybackInfoChanged    []func()
	onTimelineChanged        []func()
	onSessionChanged         []func()
	onSessionExited          []func()
}

// NewTracker creates a tracker over the given provider.
// A nil allow predicate accepts every session.
func NewTracker(p Provider, allow func(string) bool) *Tracker {
	if allow == nil {
		allow = AllowAll
	}
	t := &Tracker{
		provider: p,
		notify:   make(chan notification, notifyQueueSize),
		done:     make(chan struct{}),
		allow:    allow,
		tracked:  make(map[string]*trackedSession),
	}
	t.providerUnsubs = append(t.providerUnsubs,
		p.OnSessionsChanged(func() { t.enqueue(notification{kind: notifySessionsChanged}) }),
		p.OnCurrentSessionChanged(func() { t.enqueue(notification{kind: notifyCurrentChanged}) }),
	)
	return t
}

// Registers a callback that is notified when the current session's media properties change.
func (t *Tracker) OnMediaPropertiesChanged(cb func()) {
	t.onMediaPropertiesChanged = append(t.onMediaPropertiesChanged, cb)
}

// Registers a callback that is notified when the current session's playback info changes.
func (t *Tracker) OnPlaybackInfoChanged(cb func()) {
	t.onPlaybackInfoChanged = append(t.onPlaybackInfoChanged, cb)
}

// Registers a callback that is notified when the current session reports a new timeline.
func (t *Tracker) OnTimelinePropertiesChanged(cb func()) {
	t.onTimelineChanged = append(t.onTimelineChanged, cb)
}

// Registers a callback that is notified when a new session becomes current.
func (t *Tracker) OnSessionChanged(cb func()) {
	t.onSessionChanged = append(t.onSessionChanged, cb)
}

// Registers a callback that is notified when the last tracked session goes away.
func (t *Tracker) OnSessionExited(cb func()) {
	t.onSessionExited = append(t.onSessionExited, cb)
}

// SetAllowList replaces the allow-list predicate. The next Refresh
// re-evaluates both tracked and previously rejected sessions.
func (t *Tracker) SetAllowList(allow func(string) bool) {
	if allow == nil {
		allow = AllowAll
	}
	t.mu.Lock()
	t.allow = allow
	t.mu.Unlock()
}

// Run performs an initial Refresh and then handles provider
// notifications until ctx is cancelled. All subscriptions are
// released when Run returns.
func (t *Tracker) Run(ctx context.Context) {
	defer t.close()
	t.Refresh()
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-t.notify:
			t.handle(n)
		}
	}
}

// RequestRefresh queues a Refresh to be run on the Run goroutine.
func (t *Tracker) RequestRefresh() {
	t.enqueue(notification{kind: notifySessionsChanged})
}

// refreshIfInvalid queues a Refresh when a call on the current session
// failed because its handle is gone. It never blocks, since it may be
// called from the Run goroutine itself.
func (t *Tracker) refreshIfInvalid(err error) {
	if !errors.Is(err, ErrSessionInvalid) {
		return
	}
	select {
	case t.notify <- notification{kind: notifySessionsChanged}:
	default:
	}
}

func (t *Tracker) enqueue(n notification) {
	select {
	case t.notify <- n:
	case <-t.done:
	}
}

func (t *Tracker) handle(n notification) {
	switch n.kind {
	case notifySessionsChanged:
		t.Refresh()
	case notifyCurrentChanged:
		t.HandleCurrentSessionChanged()
	case notifySessionEvent:
		t.mu.Lock()
		selected := t.current != nil && t.current.token == n.token
		t.mu.Unlock()
		if !selected {
			return // event from a session that is not (or no longer) current
		}
		switch n.event.Kind {
		case MediaPropertiesChanged:
			invokeCallbacks(t.onMediaPropertiesChanged)
		case PlaybackInfoChanged:
			invokeCallbacks(t.onPlaybackInfoChanged)
		case TimelinePropertiesChanged:
			invokeCallbacks(t.onTimelineChanged)
		}
	}
}

type selectionChange int

const (
	selectionSame selectionChange = iota
	selectionChanged
	selectionExited
)

// Refresh reconciles the tracked sessions with the provider's session list
// and re-runs current session selection.
func (t *Tracker) Refresh() {
	t.emitSelection(t.reconcile())
}

func (t *Tracker) reconcile() selectionChange {
	t.reconcileMu.Lock()
	defer t.reconcileMu.Unlock()

	sessions, err := t.provider.Sessions()
	if err != nil {
		log.Printf("failed to list media sessions: %v", err)
		sessions = nil
	}
	live := make(map[string]Session, len(sessions))
	for _, s := range sessions {
		if id, err := s.SourceID(); err == nil && id != "" {
			live[id] = s
		}
	}
	providerCurrentID := t.providerCurrentID()

	t.mu.Lock()
	prev := t.current
	var removed []*trackedSession
	replacedCurrent := ""
	for id, ts := range t.tracked {
		s, ok := live[id]
		if ok && t.allow(id) && s == ts.session {
			continue
		}
		// a different handle under the same ID is a restarted session:
		// drop the old handle and track the new one below
		removed = append(removed, ts)
		delete(t.tracked, id)
		if t.current == ts {
			t.current = nil
			if ok {
				replacedCurrent = id
			}
		}
	}
	var added []string
	for id := range live {
		if _, ok := t.tracked[id]; !ok && t.allow(id) {
			added = append(added, id)
		}
	}
	t.mu.Unlock()

	for _, ts := range removed {
		ts.unsubscribe()
	}
	newTracked := make([]*trackedSession, 0, len(added))
	for _, id := range added {
		if ts := t.subscribe(id, live[id]); ts != nil {
			newTracked = append(newTracked, ts)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ts := range newTracked {
		t.tracked[ts.id] = ts
	}
	if ts, ok := t.tracked[replacedCurrent]; ok && t.current == nil {
		t.current = ts
	}
	if t.current == nil {
		t.current = t.pickCurrentLocked(providerCurrentID)
	}
	return selectionResult(prev, t.current)
}

// HandleCurrentSessionChanged promotes the provider's current session
// to the current selection if it passes the allow-list.
func (t *Tracker) HandleCurrentSessionChanged() {
	t.emitSelection(t.promoteProviderCurrent())
}

func (t *Tracker) promoteProviderCurrent() selectionChange {
	t.reconcileMu.Lock()
	defer t.reconcileMu.Unlock()

	s, err := t.provider.CurrentSession()
	if err != nil || s == nil {
		return selectionSame
	}
	id, err := s.SourceID()
	if err != nil || id == "" {
		return selectionSame
	}

	t.mu.Lock()
	if !t.allow(id) || (t.current != nil && t.current.id == id && t.current.session == s) {
		t.mu.Unlock()
		return selectionSame
	}
	ts, tracked := t.tracked[id]
	t.mu.Unlock()

	var stale *trackedSession
	if tracked && ts.session != s {
		stale, tracked = ts, false
	}
	if !tracked {
		if ts = t.subscribe(id, s); ts == nil {
			return selectionSame
		}
	}
	if stale != nil {
		stale.unsubscribe()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	prev := t.current
	t.tracked[id] = ts
	t.current = ts
	return selectionResult(prev, ts)
}

func (t *Tracker) subscribe(id string, s Session) *trackedSession {
	ts := &trackedSession{id: id, session: s, token: uuid.New()}
	unsub, err := s.Subscribe(func(ev SessionEvent) {
		t.enqueue(notification{kind: notifySessionEvent, token: ts.token, event: ev})
	})
	if err != nil {
		log.Printf("failed to subscribe to media session %s: %v", id, err)
		return nil
	}
	ts.unsubscribe = unsub
	return ts
}

func (t *Tracker) providerCurrentID() string {
	s, err := t.provider.CurrentSession()
	if err != nil || s == nil {
		return ""
	}
	id, _ := s.SourceID()
	return id
}

// pickCurrentLocked prefers the provider's current session, then
// falls back to the tracked session with the lowest source ID.
func (t *Tracker) pickCurrentLocked(providerCurrentID string) *trackedSession {
	if ts, ok := t.tracked[providerCurrentID]; ok {
		return ts
	}
	if len(t.tracked) == 0 {
		return nil
	}
	return t.tracked[lo.Min(lo.Keys(t.tracked))]
}

func selectionResult(prev, cur *trackedSession) selectionChange {
	switch {
	case prev == cur:
		return selectionSame
	case cur == nil:
		return selectionExited
	default:
		return selectionChanged
	}
}

func (t *Tracker) emitSelection(c selectionChange) {
	switch c {
	case selectionChanged:
		invokeCallbacks(t.onSessionChanged)
	case selectionExited:
		invokeCallbacks(t.onSessionExited)
	}
}

func (t *Tracker) close() {
	close(t.done)
	for _, unsub := range t.providerUnsubs {
		unsub()
	}
	t.providerUnsubs = nil

	t.reconcileMu.Lock()
	defer t.reconcileMu.Unlock()
	t.mu.Lock()
	tracked := lo.Values(t.tracked)
	clear(t.tracked)
	t.current = nil
	t.mu.Unlock()
	for _, ts := range tracked {
		ts.unsubscribe()
	}
}

func (t *Tracker) selected() Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return nil
	}
	return t.current.session
}

// HasSession reports whether a session is currently selected.
func (t *Tracker) HasSession() bool {
	return t.selected() != nil
}

// TrackedSourceIDs returns the source IDs of all tracked sessions, sorted.
func (t *Tracker) TrackedSourceIDs() []string {
	t.mu.Lock()
	ids := lo.Keys(t.tracked)
	t.mu.Unlock()
	slices.Sort(ids)
	return ids
}

// MediaInfo returns the current session's media properties,
// or nil if there is no session or it could not be queried.
func (t *Tracker) MediaInfo(ctx context.Context) *MediaInfo {
	s := t.selected()
	if s == nil {
		return nil
	}
	info, err := s.MediaProperties(ctx)
	if err != nil {
		t.refreshIfInvalid(err)
		return nil
	}
	return info
}

func (t *Tracker) PlaybackStatus() (PlaybackStatus, bool) {
	s := t.selected()
	if s == nil {
		return Closed, false
	}
	info, err := s.PlaybackInfo()
	if err != nil || info == nil {
		t.refreshIfInvalid(err)
		return Closed, false
	}
	return info.Status, true
}

func (t *Tracker) Timeline() *Timeline {
	s := t.selected()
	if s == nil {
		return nil
	}
	tl, err := s.Timeline()
	if err != nil {
		t.refreshIfInvalid(err)
		return nil
	}
	return tl
}

// SourceID returns the current session's source ID, or "" if none.
func (t *Tracker) SourceID() string {
	s := t.selected()
	if s == nil {
		return ""
	}
	id, err := s.SourceID()
	if err != nil {
		t.refreshIfInvalid(err)
		return ""
	}
	return id
}

// PlayPause toggles playback of the current session.
// It returns false if there is no session or the command failed.
func (t *Tracker) PlayPause(ctx context.Context) bool {
	s := t.selected()
	if s == nil {
		return false
	}
	info, err := s.PlaybackInfo()
	if err != nil || info == nil {
		t.refreshIfInvalid(err)
		return false
	}
	if info.Status == Playing {
		err = s.Pause(ctx)
	} else {
		err = s.Play(ctx)
	}
	t.refreshIfInvalid(err)
	return err == nil
}

func (t *Tracker) Next(ctx context.Context) bool {
	return t.command(func(s Session) error { return s.Next(ctx) })
}

func (t *Tracker) Previous(ctx context.Context) bool {
	return t.command(func(s Session) error { return s.Previous(ctx) })
}

// SetPosition seeks the current session to the given position in milliseconds.
func (t *Tracker) SetPosition(ctx context.Context, ms int64) bool {
	return t.command(func(s Session) error {
		return s.Seek(ctx, time.Duration(ms)*time.Millisecond)
	})
}

func (t *Tracker) command(f func(Session) error) bool {
	s := t.selected()
	if s == nil {
		return false
	}
	err := f(s)
	t.refreshIfInvalid(err)
	return err == nil
}

func invokeCallbacks(cbs []func()) {
	for _, cb := range cbs {
		cb()
	}
}
