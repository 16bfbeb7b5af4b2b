package backend

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/deluan/sanitize"
	"github.com/supersonic-app/lyricsync/backend/lyrics"
	"github.com/supersonic-app/lyricsync/backend/mediasession"
	"golang.org/x/text/cases"
)

var ErrLyricsNotFound = errors.New("lyrics not found")

const mediaInfoTimeout = 5 * time.Second

type TrackQuery struct {
	Title      string
	Artist     string
	Album      string
	DurationMs int
}

// TrackMetadata is a lyric provider's search match for the playing track.
type TrackMetadata struct {
	ID         string
	Source     string
	Title      string
	Artists    []string
	Album      string
	DurationMs int
}

func (t *TrackMetadata) ArtistString() string {
	return strings.Join(t.Artists, ", ")
}

// LyricProviderClient searches for and fetches lyrics from a remote
// source. Both calls return ErrLyricsNotFound for a clean miss.
type LyricProviderClient interface {
	Search(ctx context.Context, q TrackQuery) (*TrackMetadata, error)
	Fetch(ctx context.Context, id string) (*lyrics.Payload, error)
}

// MediaSource is the part of the session tracker the lyrics manager depends on.
type MediaSource interface {
	MediaInfo(ctx context.Context) *mediasession.MediaInfo
	OnMediaPropertiesChanged(func())
	OnSessionChanged(func())
}

// PositionSource is the part of the playback clock the lyrics manager depends on.
type PositionSource interface {
	Duration() float64
	SetFallbackDuration(seconds float64)
	OnPositionChanged(func(float64))
}

var (
	_ MediaSource    = (*mediasession.Tracker)(nil)
	_ PositionSource = (*PlaybackClock)(nil)
)

// LrcLine is the currently active lyric line with its paired
// translation and transliteration, if any.
type LrcLine struct {
	Index           int
	Line            lyrics.Line
	Translation     string
	Transliteration *lyrics.Line
}

// LyricsManager follows the playing track, fetches its lyrics and
// reports the active line as the playback clock advances.
//
// Only one search/fetch pipeline is in flight at a time. Each track
// change bumps a generation counter and cancels the previous pipeline;
// a pipeline only commits results while its generation is current.
type LyricsManager struct {
	media  MediaSource
	clock  PositionSource
	client LyricProviderClient

	generation atomic.Uint64
	wg         sync.WaitGroup

	// serializes state transitions with the events they raise, so that
	// no event for a superseded track follows MediaChanged.
	// Callbacks must not call Reload.
	eventLock sync.Mutex

	lock        sync.Mutex
	trackKey    string
	lastQuery   *TrackQuery
	fetchCancel context.CancelFunc
	current     *lyrics.Set
	metadata    *TrackMetadata
	currentLine *LrcLine
	notifiedIdx int

	// registered callbacks
	onMediaChanged       []func()
	onLyricLoaded        []func(*lyrics.Set)
	onCurrentLineChanged []func(*LrcLine)
	onTimeUpdated        []func(int)
	onMetadataUpdated    []func(*TrackMetadata)
}

func NewLyricsManager(media MediaSource, clock PositionSource, client LyricProviderClient) *LyricsManager {
	lm := &LyricsManager{
		media:       media,
		clock:       clock,
		client:      client,
		notifiedIdx: -1,
	}
	media.OnMediaPropertiesChanged(lm.loadFromCurrentMedia)
	media.OnSessionChanged(lm.loadFromCurrentMedia)
	clock.OnPositionChanged(lm.onPositionChanged)
	return lm
}

// Start loads lyrics for whatever is playing right now.
func (lm *LyricsManager) Start() {
	lm.loadFromCurrentMedia()
}

// Registers a callback that is notified when the track changes and any shown lyrics should be cleared.
func (lm *LyricsManager) OnMediaChanged(cb func()) {
	lm.onMediaChanged = append(lm.onMediaChanged, cb)
}

// Registers a callback that is notified when lyrics for the current track are loaded.
func (lm *LyricsManager) OnLyricLoaded(cb func(*lyrics.Set)) {
	lm.onLyricLoaded = append(lm.onLyricLoaded, cb)
}

// Registers a callback that is notified when the active lyric line changes.
func (lm *LyricsManager) OnCurrentLineChanged(cb func(*LrcLine)) {
	lm.onCurrentLineChanged = append(lm.onCurrentLineChanged, cb)
}

// Registers a callback that is notified with the playback position in ms on every clock update.
func (lm *LyricsManager) OnTimeUpdated(cb func(int)) {
	lm.onTimeUpdated = append(lm.onTimeUpdated, cb)
}

// Registers a callback that is notified with the lyric provider's match for the current track.
func (lm *LyricsManager) OnMetadataUpdated(cb func(*TrackMetadata)) {
	lm.onMetadataUpdated = append(lm.onMetadataUpdated, cb)
}

func (lm *LyricsManager) CurrentLyrics() *lyrics.Set {
	lm.lock.Lock()
	defer lm.lock.Unlock()
	return lm.current
}

func (lm *LyricsManager) CurrentLine() *LrcLine {
	lm.lock.Lock()
	defer lm.lock.Unlock()
	return lm.currentLine
}

func (lm *LyricsManager) CurrentMetadata() *TrackMetadata {
	lm.lock.Lock()
	defer lm.lock.Unlock()
	return lm.metadata
}

// NormalizeTrackKey builds the identity used to detect track changes.
func NormalizeTrackKey(title, artist string) string {
	return normalizeName(title) + "\n" + normalizeName(artist)
}

// normalizeName strips accents, folds case and collapses whitespace.
func normalizeName(s string) string {
	s = cases.Fold().String(sanitize.Accents(s))
	return strings.Join(strings.Fields(s), " ")
}

func (lm *LyricsManager) loadFromCurrentMedia() {
	ctx, cancel := context.WithTimeout(context.Background(), mediaInfoTimeout)
	info := lm.media.MediaInfo(ctx)
	cancel()
	if info == nil || info.Title == "" {
		return
	}
	if info.PlaybackType != "" && info.PlaybackType != "Music" {
		return
	}

	key := NormalizeTrackKey(info.Title, info.Artist)
	query := TrackQuery{
		Title:      info.Title,
		Artist:     info.Artist,
		Album:      info.AlbumTitle,
		DurationMs: int(lm.clock.Duration() * 1000),
	}

	lm.eventLock.Lock()
	lm.lock.Lock()
	if key == lm.trackKey {
		lm.lock.Unlock()
		lm.eventLock.Unlock()
		return
	}
	lm.trackKey = key
	lm.lastQuery = &query
	gen := lm.generation.Add(1)
	lm.current = nil
	lm.metadata = nil
	lm.currentLine = nil
	lm.notifiedIdx = -1
	ctx = lm.restartFetchLocked()
	lm.lock.Unlock()
	invokeNoArgCallbacks(lm.onMediaChanged)
	lm.eventLock.Unlock()

	lm.wg.Add(1)
	go lm.runPipeline(ctx, gen, query)
}

// Reload searches and fetches the current track's lyrics again,
// keeping the displayed lyrics until new ones are loaded.
func (lm *LyricsManager) Reload() {
	lm.eventLock.Lock()
	lm.lock.Lock()
	if lm.lastQuery == nil {
		lm.lock.Unlock()
		lm.eventLock.Unlock()
		return
	}
	query := *lm.lastQuery
	gen := lm.generation.Add(1)
	ctx := lm.restartFetchLocked()
	lm.lock.Unlock()
	lm.eventLock.Unlock()

	lm.wg.Add(1)
	go lm.runPipeline(ctx, gen, query)
}

// Shutdown cancels any in-flight pipeline and waits for it to exit.
func (lm *LyricsManager) Shutdown() {
	lm.lock.Lock()
	lm.generation.Add(1)
	if lm.fetchCancel != nil {
		lm.fetchCancel()
		lm.fetchCancel = nil
	}
	lm.lock.Unlock()
	lm.wg.Wait()
}

func (lm *LyricsManager) restartFetchLocked() context.Context {
	if lm.fetchCancel != nil {
		lm.fetchCancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	lm.fetchCancel = cancel
	return ctx
}

func (lm *LyricsManager) runPipeline(ctx context.Context, gen uint64, q TrackQuery) {
	defer lm.wg.Done()

	md, err := lm.client.Search(ctx, q)
	if err != nil || md == nil || md.ID == "" {
		logPipelineError("search", q, err)
		return
	}
	if !lm.commit(ctx, gen, func() { lm.metadata = md }, func() {
		if md.DurationMs > 0 {
			lm.clock.SetFallbackDuration(float64(md.DurationMs) / 1000)
		}
		for _, cb := range lm.onMetadataUpdated {
			cb(md)
		}
	}) {
		return
	}

	payload, err := lm.client.Fetch(ctx, md.ID)
	if err != nil || payload == nil {
		logPipelineError("fetch", q, err)
		return
	}
	set, err := lyrics.Load(payload)
	if err != nil {
		log.Printf("failed to parse lyrics for %q: %v", q.Title, err)
		return
	}
	lm.commit(ctx, gen, func() {
		lm.current = set
		lm.currentLine = nil
		lm.notifiedIdx = -1
	}, func() {
		for _, cb := range lm.onLyricLoaded {
			cb(set)
		}
	})
}

// commit applies a pipeline result and raises its events only if the
// pipeline has not been superseded or cancelled.
func (lm *LyricsManager) commit(ctx context.Context, gen uint64, apply, notify func()) bool {
	lm.eventLock.Lock()
	defer lm.eventLock.Unlock()

	lm.lock.Lock()
	if ctx.Err() != nil || lm.generation.Load() != gen {
		lm.lock.Unlock()
		return false
	}
	apply()
	lm.lock.Unlock()
	notify()
	return true
}

func logPipelineError(stage string, q TrackQuery, err error) {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, ErrLyricsNotFound) {
		return
	}
	log.Printf("lyrics %s failed for %q by %q: %v", stage, q.Title, q.Artist, err)
}

func (lm *LyricsManager) onPositionChanged(seconds float64) {
	ms := int(seconds * 1000)

	lm.eventLock.Lock()
	defer lm.eventLock.Unlock()
	for _, cb := range lm.onTimeUpdated {
		cb(ms)
	}

	lm.lock.Lock()
	set := lm.current
	if set == nil {
		lm.lock.Unlock()
		return
	}
	idx := lyrics.ActiveLine(set.Main, ms, set.PureTimeline)
	if idx < 0 || idx == lm.notifiedIdx {
		lm.lock.Unlock()
		return
	}
	lm.notifiedIdx = idx
	line := newLrcLine(set, idx)
	lm.currentLine = line
	lm.lock.Unlock()

	for _, cb := range lm.onCurrentLineChanged {
		cb(line)
	}
}

func newLrcLine(set *lyrics.Set, idx int) *LrcLine {
	l := &LrcLine{Index: idx, Line: set.Main.Lines[idx]}
	start := l.Line.StartMs
	if i := lyrics.PairedLine(set.Translation, start); i >= 0 {
		if text := set.Translation.Lines[i].Text; !lyrics.IsTranslationPlaceholder(text) {
			l.Translation = text
		}
	}
	if i := lyrics.PairedLine(set.Transliteration, start); i >= 0 {
		tl := set.Transliteration.Lines[i]
		l.Transliteration = &tl
	}
	return l
}

func invokeNoArgCallbacks(cbs []func()) {
	for _, cb := range cbs {
		cb()
	}
}
