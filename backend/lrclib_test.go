package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/supersonic-app/lyricsync/backend/lyrics"
)

func TestBestLrcLibMatch(t *testing.T) {
	results := []lrcLibResponse{
		{ID: 1, TrackName: "Song (Live)", ArtistName: "Artist", Duration: 200, SyncedLyrics: "[00:01.00]x"},
		{ID: 2, TrackName: "Song", ArtistName: "Artist", Duration: 260, SyncedLyrics: "[00:01.00]x"},
		{ID: 3, TrackName: "Song", ArtistName: "Artist", Duration: 201, Instrumental: true},
		{ID: 4, TrackName: "song", ArtistName: "ártist", Duration: 199, PlainLyrics: "x"},
	}
	tests := []struct {
		name   string
		query  TrackQuery
		wantID int
	}{
		{"duration matches and closest name", TrackQuery{Title: "Song", Artist: "Artist", DurationMs: 200_000}, 4},
		{"unknown duration ranks by name", TrackQuery{Title: "Song", Artist: "Artist"}, 2},
		{"no duration match falls back to all", TrackQuery{Title: "Song (Live)", Artist: "Artist", DurationMs: 30_000}, 1},
	}
	for _, tt := range tests {
		got, ok := bestLrcLibMatch(tt.query, results)
		if !ok || got.ID != tt.wantID {
			t.Errorf("%s: bestLrcLibMatch() = %d, %v, want %d", tt.name, got.ID, ok, tt.wantID)
		}
	}

	if _, ok := bestLrcLibMatch(TrackQuery{Title: "Song"}, results[2:3]); ok {
		t.Error("bestLrcLibMatch() matched a candidate without lyrics")
	}
}

func newLrcLibServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/search", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Query().Get("track_name") != "Song" {
			json.NewEncoder(w).Encode([]lrcLibResponse{})
			return
		}
		json.NewEncoder(w).Encode([]lrcLibResponse{
			{ID: 10, TrackName: "Song", ArtistName: "Artist", AlbumName: "Album", Duration: 180, SyncedLyrics: "[00:01.00]hello"},
		})
	})
	mux.HandleFunc("/api/get/", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch r.URL.Path {
		case "/api/get/10":
			json.NewEncoder(w).Encode(lrcLibResponse{ID: 10, SyncedLyrics: "[00:01.00]hello"})
		case "/api/get/11":
			json.NewEncoder(w).Encode(lrcLibResponse{ID: 11, PlainLyrics: "plain\ntext"})
		default:
			http.NotFound(w, r)
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestLrcLibFetcher(t *testing.T) {
	var hits atomic.Int32
	srv := newLrcLibServer(t, &hits)
	l := NewLrcLibFetcher(srv.URL, "lyricsync-test", nil)
	ctx := context.Background()

	md, err := l.Search(ctx, TrackQuery{Title: "Song", Artist: "Artist", DurationMs: 180_000})
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if md.ID != "10" || md.Source != lrcLibSource || md.DurationMs != 180_000 || md.ArtistString() != "Artist" {
		t.Errorf("Search() = %+v", md)
	}

	if _, err := l.Search(ctx, TrackQuery{Title: "Other"}); !errors.Is(err, ErrLyricsNotFound) {
		t.Errorf("Search() for a miss: err = %v, want ErrLyricsNotFound", err)
	}

	p, err := l.Fetch(ctx, "10")
	if err != nil || p.Format != lyrics.FormatLRC || p.Lyric != "[00:01.00]hello" {
		t.Errorf("Fetch(10) = %+v, %v", p, err)
	}
	p, err = l.Fetch(ctx, "11")
	if err != nil || p.Format != lyrics.FormatPlain {
		t.Errorf("Fetch(11) = %+v, %v, want plain lyrics", p, err)
	}
	if _, err := l.Fetch(ctx, "12"); !errors.Is(err, ErrLyricsNotFound) {
		t.Errorf("Fetch(12): err = %v, want ErrLyricsNotFound", err)
	}
	if _, err := l.Fetch(ctx, "../x"); err == nil {
		t.Error("Fetch() accepted a malformed id")
	}
}

func TestLrcLibFetcher_UsesCache(t *testing.T) {
	var hits atomic.Int32
	srv := newLrcLibServer(t, &hits)
	cache := NewLyricCache(afero.NewMemMapFs(), "/cache", time.Hour)
	l := NewLrcLibFetcher(srv.URL, "", cache)
	ctx := context.Background()
	q := TrackQuery{Title: "Song", Artist: "Artist", DurationMs: 180_000}

	md, err := l.Search(ctx, q)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if _, err := l.Search(ctx, q); err != nil {
		t.Fatalf("second Search() error: %v", err)
	}
	// the search result carries the lyrics, so no fetch request is needed
	if _, err := l.Fetch(ctx, md.ID); err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("server hit %d times, want 1", n)
	}
}

func TestLrcLibFetcher_Cancelled(t *testing.T) {
	var hits atomic.Int32
	srv := newLrcLibServer(t, &hits)
	l := NewLrcLibFetcher(srv.URL, "", nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := l.Search(ctx, TrackQuery{Title: "Song"}); !errors.Is(err, context.Canceled) {
		t.Errorf("Search() with cancelled ctx: err = %v, want context.Canceled", err)
	}
}
