package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	levenshtein "github.com/ka-weihe/fast-levenshtein"
	"github.com/samber/lo"
	"github.com/supersonic-app/lyricsync/backend/lyrics"
)

const (
	defaultLrcLibBaseURL = "https://lrclib.net"
	lrcLibSource         = "lrclib"

	lrcLibRequestTimeout = 10 * time.Second

	// search results this far off the playing track's duration are
	// only used when nothing closer was found
	lrcLibDurationTolerance = 3 * time.Second
)

// LrcLibFetcher is a LyricProviderClient for lrclib.net.
type LrcLibFetcher struct {
	baseURL   string
	userAgent string
	client    *retryablehttp.Client
	cache     *LyricCache // may be nil
}

var _ LyricProviderClient = (*LrcLibFetcher)(nil)

func NewLrcLibFetcher(baseURL, userAgent string, cache *LyricCache) *LrcLibFetcher {
	if baseURL == "" {
		baseURL = defaultLrcLibBaseURL
	}
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.Logger = nil
	client.HTTPClient.Timeout = lrcLibRequestTimeout
	return &LrcLibFetcher{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		userAgent: userAgent,
		client:    client,
		cache:     cache,
	}
}

// Search finds the best matching lrclib track for q.
// Results (including their lyrics) are cached when a cache is configured.
func (l *LrcLibFetcher) Search(ctx context.Context, q TrackQuery) (*TrackMetadata, error) {
	if l.cache != nil {
		if md, ok := l.cache.Search(q); ok {
			return md, nil
		}
	}

	params := url.Values{}
	params.Set("track_name", q.Title)
	if q.Artist != "" {
		params.Set("artist_name", q.Artist)
	}
	if q.Album != "" {
		params.Set("album_name", q.Album)
	}
	var results []lrcLibResponse
	if err := l.get(ctx, "/api/search?"+params.Encode(), &results); err != nil {
		return nil, err
	}

	best, ok := bestLrcLibMatch(q, results)
	if !ok {
		return nil, ErrLyricsNotFound
	}
	md := best.metadata()
	if l.cache != nil {
		if err := l.cache.PutSearch(q, md); err != nil {
			log.Printf("failed to cache lyric search: %v", err)
		}
		if p, err := best.payload(); err == nil {
			_ = l.cache.PutPayload(md.ID, p)
		}
	}
	return md, nil
}

// Fetch returns the lyrics of the lrclib track with the given id.
func (l *LrcLibFetcher) Fetch(ctx context.Context, id string) (*lyrics.Payload, error) {
	if l.cache != nil {
		if p, ok := l.cache.Payload(id); ok {
			return p, nil
		}
	}
	if _, err := strconv.Atoi(id); err != nil {
		return nil, fmt.Errorf("invalid lrclib id %q", id)
	}

	var resp lrcLibResponse
	if err := l.get(ctx, "/api/get/"+id, &resp); err != nil {
		return nil, err
	}
	p, err := resp.payload()
	if err != nil {
		return nil, err
	}
	if l.cache != nil {
		if err := l.cache.PutPayload(id, p); err != nil {
			log.Printf("failed to cache lyrics: %v", err)
		}
	}
	return p, nil
}

func (l *LrcLibFetcher) get(ctx context.Context, path string, v any) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, l.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Add("Accept", "application/json")
	if l.userAgent != "" {
		req.Header.Add("User-Agent", l.userAgent)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrLyricsNotFound
	} else if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("error from lrclib: status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode lrclib response: %w", err)
	}
	return nil
}

// bestLrcLibMatch picks the candidate with lyrics whose title and artist
// are closest to the query, preferring candidates whose duration matches.
func bestLrcLibMatch(q TrackQuery, results []lrcLibResponse) (lrcLibResponse, bool) {
	candidates := lo.Filter(results, func(r lrcLibResponse, _ int) bool {
		return r.hasLyrics()
	})
	if len(candidates) == 0 {
		return lrcLibResponse{}, false
	}
	if q.DurationMs > 0 {
		want := float64(q.DurationMs) / 1000
		matching := lo.Filter(candidates, func(r lrcLibResponse, _ int) bool {
			return math.Abs(r.Duration-want) <= lrcLibDurationTolerance.Seconds()
		})
		if len(matching) > 0 {
			candidates = matching
		}
	}

	title, artist := normalizeName(q.Title), normalizeName(q.Artist)
	distance := func(r lrcLibResponse) int {
		return levenshtein.Distance(title, normalizeName(r.TrackName)) +
			levenshtein.Distance(artist, normalizeName(r.ArtistName))
	}
	return lo.MinBy(candidates, func(a, b lrcLibResponse) bool {
		return distance(a) < distance(b)
	}), true
}

type lrcLibResponse struct {
	ID           int     `json:"id"`
	TrackName    string  `json:"trackName"`
	ArtistName   string  `json:"artistName"`
	AlbumName    string  `json:"albumName"`
	Duration     float64 `json:"duration"`
	Instrumental bool    `json:"instrumental"`
	PlainLyrics  string  `json:"plainLyrics"`
	SyncedLyrics string  `json:"syncedLyrics"`
}

func (r *lrcLibResponse) hasLyrics() bool {
	return r.SyncedLyrics != "" || r.PlainLyrics != ""
}

func (r *lrcLibResponse) metadata() *TrackMetadata {
	return &TrackMetadata{
		ID:         strconv.Itoa(r.ID),
		Source:     lrcLibSource,
		Title:      r.TrackName,
		Artists:    []string{r.ArtistName},
		Album:      r.AlbumName,
		DurationMs: int(r.Duration * 1000),
	}
}

func (r *lrcLibResponse) payload() (*lyrics.Payload, error) {
	switch {
	case r.SyncedLyrics != "":
		return &lyrics.Payload{Format: lyrics.FormatLRC, Lyric: r.SyncedLyrics}, nil
	case r.PlainLyrics != "":
		return &lyrics.Payload{Format: lyrics.FormatPlain, Lyric: r.PlainLyrics}, nil
	default:
		return nil, errors.Join(ErrLyricsNotFound, fmt.Errorf("lrclib track %d has no lyrics", r.ID))
	}
}
