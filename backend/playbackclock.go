package backend

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/supersonic-app/lyricsync/backend/mediasession"
	"github.com/supersonic-app/lyricsync/backend/util"
)

// SessionSource is the part of the session tracker the clock depends on.
type SessionSource interface {
	PlaybackStatus() (mediasession.PlaybackStatus, bool)
	Timeline() *mediasession.Timeline

	OnMediaPropertiesChanged(func())
	OnPlaybackInfoChanged(func())
	OnTimelinePropertiesChanged(func())
	OnSessionChanged(func())
	OnSessionExited(func())
}

var _ SessionSource = (*mediasession.Tracker)(nil)

// PlaybackClock derives a smoothly advancing playback position from the
// coarse timeline reports of the current media session. While playing,
// a local ticker advances the position by the elapsed wall-clock time;
// timeline reports are only accepted when they disagree enough with
// the local extrapolation.
type PlaybackClock struct {
	src SessionSource
	cfg ClockConfig

	// parent of the tick goroutine; nil until Start
	runCtx context.Context

	mu               sync.Mutex
	position         float64
	duration         float64
	isPlaying        bool
	hasValidTimeline bool
	syncPosition     float64
	sinceSync        util.Stopwatch // running iff a report has been accepted since reset
	sinceTick        util.Stopwatch
	cancelTick       context.CancelFunc
	positionSeq      uint64 // bumped whenever the position is set rather than ticked

	// serializes position events, so a late tick cannot follow a newer position
	emitMu sync.Mutex

	// registered callbacks
	onPositionChanged     []func(float64)
	onDurationChanged     []func(float64)
	onPlayingStateChanged []func(bool)
}

func NewPlaybackClock(src SessionSource, cfg *ClockConfig) *PlaybackClock {
	c := &PlaybackClock{src: src, cfg: cfg.normalized()}
	src.OnSessionChanged(c.resync)
	src.OnMediaPropertiesChanged(c.resync)
	src.OnSessionExited(c.Reset)
	src.OnPlaybackInfoChanged(c.updatePlayingState)
	src.OnTimelinePropertiesChanged(c.syncTimeline)
	return c
}

// Start enables the local ticker and synchronizes with the current session.
// The ticker stops when ctx is cancelled.
func (c *PlaybackClock) Start(ctx context.Context) {
	c.mu.Lock()
	c.runCtx = ctx
	c.mu.Unlock()
	c.updatePlayingState()
}

// Registers a callback that is notified with the position in seconds.
func (c *PlaybackClock) OnPositionChanged(cb func(float64)) {
	c.onPositionChanged = append(c.onPositionChanged, cb)
}

// Registers a callback that is notified when the duration changes.
func (c *PlaybackClock) OnDurationChanged(cb func(float64)) {
	c.onDurationChanged = append(c.onDurationChanged, cb)
}

// Registers a callback that is notified when playback starts or stops.
func (c *PlaybackClock) OnPlayingStateChanged(cb func(bool)) {
	c.onPlayingStateChanged = append(c.onPlayingStateChanged, cb)
}

func (c *PlaybackClock) Position() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.position
}

func (c *PlaybackClock) Duration() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.duration
}

func (c *PlaybackClock) IsPlaying() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isPlaying
}

func (c *PlaybackClock) HasValidTimeline() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasValidTimeline
}

// SetFallbackDuration sets the duration from another source (e.g. a
// lyrics search result). Ignored while the session reports a valid timeline.
func (c *PlaybackClock) SetFallbackDuration(seconds float64) {
	c.mu.Lock()
	var emit []func()
	if !c.hasValidTimeline && seconds > 0 {
		emit = c.updateDurationLocked(seconds, emit)
	}
	c.mu.Unlock()
	runAll(emit)
}

// Reset zeroes the playback state and stops the local ticker.
func (c *PlaybackClock) Reset() {
	c.mu.Lock()
	c.resetLocked()
	c.mu.Unlock()

	c.invokePlayingCallbacks(false)
	c.emitPosition(0)
	c.invokeDurationCallbacks(0)
}

func (c *PlaybackClock) resetLocked() {
	c.positionSeq++
	c.position = 0
	c.duration = 0
	c.isPlaying = false
	c.hasValidTimeline = false
	c.syncPosition = 0
	c.sinceSync.Reset()
	c.sinceTick.Reset()
	c.stopTickLocked()
}

// resync handles a session or track change: everything is
// re-read from the session.
func (c *PlaybackClock) resync() {
	c.Reset()
	c.updatePlayingState()
}

// updatePlayingState re-reads the playback status and force-accepts
// the session's timeline, since a state transition needs a precise sync.
func (c *PlaybackClock) updatePlayingState() {
	status, ok := c.src.PlaybackStatus()
	tl := c.src.Timeline()

	c.mu.Lock()
	var emit []func()
	wasPlaying := c.isPlaying
	c.isPlaying = ok && status == mediasession.Playing
	if wasPlaying != c.isPlaying {
		playing := c.isPlaying
		emit = append(emit, func() { c.invokePlayingCallbacks(playing) })
	}

	c.hasValidTimeline = tl.Valid()
	if c.hasValidTimeline {
		emit = c.updateDurationLocked(tl.End.Seconds(), emit)
		emit = c.acceptLocked(tl.Position.Seconds(), emit)
	}

	if c.isPlaying {
		c.sinceTick.Restart()
		c.startTickLocked()
	} else {
		c.stopTickLocked()
	}
	c.mu.Unlock()
	runAll(emit)
}

// syncTimeline reconciles a timeline report against the local extrapolation.
func (c *PlaybackClock) syncTimeline() {
	tl := c.src.Timeline()

	c.mu.Lock()
	if !tl.Valid() {
		c.hasValidTimeline = false
		c.mu.Unlock()
		return
	}
	c.hasValidTimeline = true
	emit := c.updateDurationLocked(tl.End.Seconds(), nil)

	reported := tl.Position.Seconds()
	synced := c.sinceSync.Running()
	sinceSync := c.sinceSync.Elapsed()

	expected := c.position
	if synced && c.isPlaying {
		expected = c.syncPosition + sinceSync.Seconds()
	}
	deviation := math.Abs(reported - expected)

	minInterval := time.Duration(c.cfg.MinSyncIntervalMs) * time.Millisecond
	switch {
	case deviation > c.cfg.SyncThresholdSecs:
		// seek or jump
		emit = c.acceptLocked(reported, emit)
	case (!synced || sinceSync > minInterval) && reported > expected && deviation > c.cfg.JitterFloorSecs:
		// the session is ahead of us: playback rate drift.
		// reports behind the extrapolation are coarse-precision noise
		emit = c.acceptLocked(reported, emit)
	}
	c.mu.Unlock()
	runAll(emit)
}

func (c *PlaybackClock) acceptLocked(position float64, emit []func()) []func() {
	position = max(position, 0)
	if c.duration > 0 {
		position = min(position, c.duration)
	}
	c.syncPosition = position
	c.sinceSync.Restart()
	c.position = position
	c.positionSeq++
	return append(emit, func() { c.emitPosition(position) })
}

func (c *PlaybackClock) updateDurationLocked(seconds float64, emit []func()) []func() {
	if math.Abs(c.duration-seconds) <= c.cfg.DurationEpsilonSecs {
		return emit
	}
	c.duration = seconds
	return append(emit, func() { c.invokeDurationCallbacks(seconds) })
}

// tick advances the position by the wall-clock time since the previous tick.
func (c *PlaybackClock) tick() {
	if pos, seq, ok := c.advance(); ok {
		c.emitTicked(pos, seq)
	}
}

func (c *PlaybackClock) advance() (pos float64, seq uint64, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.isPlaying {
		return 0, 0, false
	}
	elapsed := c.sinceTick.Elapsed()
	c.sinceTick.Restart()
	pos = c.position + elapsed.Seconds()
	if c.duration > 0 && pos >= c.duration {
		pos = c.duration
	}
	c.position = pos
	return pos, c.positionSeq, true
}

// emitTicked drops the ticked position if a reset or accepted report
// set a newer one after it was computed.
func (c *PlaybackClock) emitTicked(pos float64, seq uint64) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	c.mu.Lock()
	stale := c.positionSeq != seq
	c.mu.Unlock()
	if !stale {
		c.invokePositionCallbacks(pos)
	}
}

func (c *PlaybackClock) emitPosition(pos float64) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	c.invokePositionCallbacks(pos)
}

func (c *PlaybackClock) startTickLocked() {
	if c.cancelTick != nil || c.runCtx == nil {
		return
	}
	ctx, cancel := context.WithCancel(c.runCtx)
	c.cancelTick = cancel
	interval := time.Duration(c.cfg.TickIntervalMs) * time.Millisecond
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				c.tick()
			}
		}
	}()
}

func (c *PlaybackClock) stopTickLocked() {
	if c.cancelTick != nil {
		c.cancelTick()
		c.cancelTick = nil
	}
}

func (c *PlaybackClock) invokePositionCallbacks(pos float64) {
	for _, cb := range c.onPositionChanged {
		cb(pos)
	}
}

func (c *PlaybackClock) invokeDurationCallbacks(dur float64) {
	for _, cb := range c.onDurationChanged {
		cb(dur)
	}
}

func (c *PlaybackClock) invokePlayingCallbacks(playing bool) {
	for _, cb := range c.onPlayingStateChanged {
		cb(playing)
	}
}

func runAll(fns []func()) {
	for _, f := range fns {
		f()
	}
}
