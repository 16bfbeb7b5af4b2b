package backend

import (
	"math"
	"testing"
	"time"

	"github.com/supersonic-app/lyricsync/backend/mediasession"
)

type fakeSessionSource struct {
	status    mediasession.PlaybackStatus
	hasStatus bool
	timeline  *mediasession.Timeline

	onMedia, onPlayback, onTimeline, onChanged, onExited []func()
}

func (f *fakeSessionSource) PlaybackStatus() (mediasession.PlaybackStatus, bool) {
	return f.status, f.hasStatus
}

func (f *fakeSessionSource) Timeline() *mediasession.Timeline { return f.timeline }

func (f *fakeSessionSource) OnMediaPropertiesChanged(cb func())    { f.onMedia = append(f.onMedia, cb) }
func (f *fakeSessionSource) OnPlaybackInfoChanged(cb func())       { f.onPlayback = append(f.onPlayback, cb) }
func (f *fakeSessionSource) OnTimelinePropertiesChanged(cb func()) { f.onTimeline = append(f.onTimeline, cb) }
func (f *fakeSessionSource) OnSessionChanged(cb func())            { f.onChanged = append(f.onChanged, cb) }
func (f *fakeSessionSource) OnSessionExited(cb func())             { f.onExited = append(f.onExited, cb) }

func (f *fakeSessionSource) setTimeline(pos, dur float64) {
	f.timeline = &mediasession.Timeline{
		End:      time.Duration(dur * float64(time.Second)),
		Position: time.Duration(pos * float64(time.Second)),
	}
}

// report stores a timeline sample and raises TimelinePropertiesChanged.
func (f *fakeSessionSource) report(pos, dur float64) {
	f.setTimeline(pos, dur)
	invokeAll(f.onTimeline)
}

func (f *fakeSessionSource) setStatus(s mediasession.PlaybackStatus) {
	f.status, f.hasStatus = s, true
	invokeAll(f.onPlayback)
}

func invokeAll(cbs []func()) {
	for _, cb := range cbs {
		cb()
	}
}

type fakeNow struct{ t time.Time }

func (f *fakeNow) Now() time.Time          { return f.t }
func (f *fakeNow) Advance(d time.Duration) { f.t = f.t.Add(d) }

type clockRecorder struct {
	positions []float64
	durations []float64
	playing   []bool
}

// newTestClock returns a clock driven by manual ticks and a fake time source.
func newTestClock(src *fakeSessionSource) (*PlaybackClock, *fakeNow, *clockRecorder) {
	now := &fakeNow{t: time.Unix(1_700_000_000, 0)}
	c := NewPlaybackClock(src, nil)
	c.sinceSync.Now = now.Now
	c.sinceTick.Now = now.Now
	rec := &clockRecorder{}
	c.OnPositionChanged(func(p float64) { rec.positions = append(rec.positions, p) })
	c.OnDurationChanged(func(d float64) { rec.durations = append(rec.durations, d) })
	c.OnPlayingStateChanged(func(p bool) { rec.playing = append(rec.playing, p) })
	return c, now, rec
}

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func playingClockAt(t *testing.T, pos float64) (*PlaybackClock, *fakeSessionSource, *fakeNow, *clockRecorder) {
	t.Helper()
	src := &fakeSessionSource{}
	src.setTimeline(pos, 200)
	c, now, rec := newTestClock(src)
	src.setStatus(mediasession.Playing)
	if !c.IsPlaying() || !approxEqual(c.Position(), pos) {
		t.Fatalf("setup: playing=%v position=%v, want true and %v", c.IsPlaying(), c.Position(), pos)
	}
	return c, src, now, rec
}

func TestPlaybackClock_TickAdvancesWhilePlaying(t *testing.T) {
	c, _, now, _ := playingClockAt(t, 10)
	for i := 1; i <= 5; i++ {
		now.Advance(150 * time.Millisecond)
		c.tick()
		if want := 10 + 0.15*float64(i); !approxEqual(c.Position(), want) {
			t.Errorf("after tick %d: Position() = %v, want %v", i, c.Position(), want)
		}
	}
}

func TestPlaybackClock_IdleDoesNotAdvance(t *testing.T) {
	src := &fakeSessionSource{}
	src.setTimeline(42, 200)
	c, now, _ := newTestClock(src)
	src.setStatus(mediasession.Paused)

	for i := 0; i < 3; i++ {
		now.Advance(time.Second)
		c.tick()
	}
	if c.IsPlaying() || !approxEqual(c.Position(), 42) {
		t.Errorf("playing=%v position=%v, want false and 42", c.IsPlaying(), c.Position())
	}
}

func TestPlaybackClock_ClampsToDuration(t *testing.T) {
	c, _, now, _ := playingClockAt(t, 199.9)
	now.Advance(time.Second)
	c.tick()
	if got := c.Position(); !approxEqual(got, 200) {
		t.Errorf("Position() = %v, want 200", got)
	}
}

func TestPlaybackClock_ClampsReports(t *testing.T) {
	tests := []struct {
		reported float64
		want     float64
	}{
		{250, 200},
		{-3, 0},
		{150, 150},
	}
	for _, tt := range tests {
		c, src, _, rec := playingClockAt(t, 10)
		src.report(tt.reported, 200)
		if got := c.Position(); !approxEqual(got, tt.want) {
			t.Errorf("report %v: Position() = %v, want %v", tt.reported, got, tt.want)
		}
		if n := len(rec.positions); n == 0 || !approxEqual(rec.positions[n-1], tt.want) {
			t.Errorf("report %v: positions = %v, want last %v", tt.reported, rec.positions, tt.want)
		}
	}
}

func TestPlaybackClock_TickAfterResetIsDropped(t *testing.T) {
	c, src, now, rec := playingClockAt(t, 10)
	now.Advance(time.Second)
	pos, seq, ok := c.advance()
	if !ok {
		t.Fatal("advance() not ok while playing")
	}
	invokeAll(src.onExited)
	c.emitTicked(pos, seq)

	if n := len(rec.positions); n == 0 || rec.positions[n-1] != 0 {
		t.Errorf("positions = %v, want the reset's 0 last", rec.positions)
	}
}

func TestPlaybackClock_ForceAcceptsLargeDeviation(t *testing.T) {
	for _, reported := range []float64{60, 12.6, 0.5, 9.4} {
		c, src, now, _ := playingClockAt(t, 10)
		now.Advance(time.Second)
		c.tick()
		// extrapolated position is 11
		src.report(reported, 200)
		if got := c.Position(); !approxEqual(got, reported) {
			t.Errorf("report %v: Position() = %v, want it accepted", reported, got)
		}
	}
}

func TestPlaybackClock_IgnoresBackwardNoise(t *testing.T) {
	c, src, now, rec := playingClockAt(t, 10)
	now.Advance(2 * time.Second)
	c.tick()
	before := len(rec.positions)

	for _, reported := range []float64{11, 11.9, 10.6} {
		src.report(reported, 200)
		if got := c.Position(); !approxEqual(got, 12) {
			t.Errorf("report %v: Position() = %v, want 12", reported, got)
		}
	}
	if len(rec.positions) != before {
		t.Errorf("ignored reports raised %d position events", len(rec.positions)-before)
	}
}

func TestPlaybackClock_MinorForwardCorrection(t *testing.T) {
	c, src, now, _ := playingClockAt(t, 10)
	now.Advance(600 * time.Millisecond)
	c.tick()

	// ahead by 0.4s, 600ms after the last sync: accepted
	src.report(11, 200)
	if got := c.Position(); !approxEqual(got, 11) {
		t.Fatalf("Position() = %v, want 11", got)
	}

	// ahead again right after a sync: ignored
	src.report(11.3, 200)
	if got := c.Position(); !approxEqual(got, 11) {
		t.Errorf("Position() = %v, want 11 (too soon after last sync)", got)
	}

	// ahead but within the jitter floor: ignored
	now.Advance(600 * time.Millisecond)
	c.tick()
	src.report(11.65, 200)
	if got := c.Position(); !approxEqual(got, 11.6) {
		t.Errorf("Position() = %v, want 11.6 (within jitter floor)", got)
	}
}

func TestPlaybackClock_DurationEpsilon(t *testing.T) {
	c, src, _, rec := playingClockAt(t, 10)
	if len(rec.durations) != 1 || rec.durations[0] != 200 {
		t.Fatalf("durations = %v, want [200]", rec.durations)
	}
	src.report(10, 200.005)
	if len(rec.durations) != 1 {
		t.Errorf("durations = %v, want no event for a change within epsilon", rec.durations)
	}
	src.report(10, 201)
	if len(rec.durations) != 2 || c.Duration() != 201 {
		t.Errorf("durations = %v, want a second event for 201", rec.durations)
	}
}

func TestPlaybackClock_FallbackDuration(t *testing.T) {
	src := &fakeSessionSource{}
	c, _, _ := newTestClock(src)
	src.setStatus(mediasession.Playing)
	if c.HasValidTimeline() {
		t.Fatal("HasValidTimeline() = true without a timeline")
	}
	c.SetFallbackDuration(180)
	if got := c.Duration(); got != 180 {
		t.Errorf("Duration() = %v, want 180", got)
	}

	src.report(5, 200)
	c.SetFallbackDuration(180)
	if got := c.Duration(); got != 200 {
		t.Errorf("Duration() = %v, want session duration 200 to win", got)
	}
}

func TestPlaybackClock_Reset(t *testing.T) {
	c, src, _, rec := playingClockAt(t, 10)
	*rec = clockRecorder{}

	invokeAll(src.onExited)
	if c.IsPlaying() || c.Position() != 0 || c.Duration() != 0 || c.HasValidTimeline() {
		t.Errorf("after reset: playing=%v position=%v duration=%v valid=%v",
			c.IsPlaying(), c.Position(), c.Duration(), c.HasValidTimeline())
	}
	if len(rec.playing) != 1 || rec.playing[0] || len(rec.positions) != 1 || rec.positions[0] != 0 ||
		len(rec.durations) != 1 || rec.durations[0] != 0 {
		t.Errorf("reset events = %+v, want one zero of each", *rec)
	}
}

func TestPlaybackClock_SessionChangeForcesSync(t *testing.T) {
	c, src, now, _ := playingClockAt(t, 10)
	now.Advance(2 * time.Second)
	c.tick()

	// new session reports a position behind the extrapolation; still accepted
	src.setTimeline(3, 150)
	invokeAll(src.onChanged)
	if got := c.Position(); !approxEqual(got, 3) {
		t.Errorf("Position() = %v, want 3", got)
	}
	if got := c.Duration(); got != 150 {
		t.Errorf("Duration() = %v, want 150", got)
	}
	if !c.IsPlaying() {
		t.Error("IsPlaying() = false after session change to a playing session")
	}
}

func TestPlaybackClock_ResumeForcesSync(t *testing.T) {
	c, src, now, _ := playingClockAt(t, 10)
	src.setStatus(mediasession.Paused)
	now.Advance(time.Second)
	src.setTimeline(9.5, 200)
	src.setStatus(mediasession.Playing)
	if got := c.Position(); !approxEqual(got, 9.5) {
		t.Errorf("Position() = %v, want 9.5", got)
	}
}

func TestClockConfig_Normalized(t *testing.T) {
	tests := []struct {
		in   int
		want int
	}{
		{0, 100},
		{150, 150},
		{1000, 200},
	}
	for _, tt := range tests {
		cfg := &ClockConfig{TickIntervalMs: tt.in}
		n := cfg.normalized()
		if n.TickIntervalMs != tt.want {
			t.Errorf("normalized(%d).TickIntervalMs = %d, want %d", tt.in, n.TickIntervalMs, tt.want)
		}
		if n.SyncThresholdSecs != 1.5 || n.MinSyncIntervalMs != 500 {
			t.Errorf("normalized(%d) did not fill defaults: %+v", tt.in, n)
		}
	}
}
