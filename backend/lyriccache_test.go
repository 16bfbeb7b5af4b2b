package backend

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/supersonic-app/lyricsync/backend/lyrics"
)

func newTestLyricCache() (*LyricCache, afero.Fs) {
	fs := afero.NewMemMapFs()
	return NewLyricCache(fs, "/cache", time.Hour), fs
}

func TestSearchKey(t *testing.T) {
	base := TrackQuery{Title: "Café", Artist: "Someone", Album: "Album", DurationMs: 180_400}
	same := []TrackQuery{
		{Title: "cafe", Artist: "SOMEONE", Album: "album", DurationMs: 180_900},
		{Title: " Café ", Artist: "Someone", Album: "Album ", DurationMs: 180_000},
	}
	for _, q := range same {
		if SearchKey(q) != SearchKey(base) {
			t.Errorf("SearchKey(%+v) differs from SearchKey(%+v)", q, base)
		}
	}
	different := []TrackQuery{
		{Title: "Café", Artist: "Someone", Album: "Album", DurationMs: 200_000},
		{Title: "Café", Artist: "Someone else", Album: "Album", DurationMs: 180_400},
		{Title: "Café", Artist: "Someone", Album: "", DurationMs: 180_400},
	}
	for _, q := range different {
		if SearchKey(q) == SearchKey(base) {
			t.Errorf("SearchKey(%+v) collides with SearchKey(%+v)", q, base)
		}
	}
}

func TestLyricCache_Search(t *testing.T) {
	c, _ := newTestLyricCache()
	q := TrackQuery{Title: "Song", Artist: "Artist", DurationMs: 200_000}
	if _, ok := c.Search(q); ok {
		t.Fatal("Search() hit on an empty cache")
	}

	md := &TrackMetadata{ID: "42", Source: lrcLibSource, Title: "Song", Artists: []string{"Artist"}}
	if err := c.PutSearch(q, md); err != nil {
		t.Fatalf("PutSearch() error: %v", err)
	}
	got, ok := c.Search(TrackQuery{Title: "song", Artist: "artist", DurationMs: 200_300})
	if !ok || got.ID != "42" {
		t.Errorf("Search() = %+v, %v, want ID 42", got, ok)
	}
}

func TestLyricCache_Payload(t *testing.T) {
	c, _ := newTestLyricCache()
	if _, ok := c.Payload("1"); ok {
		t.Fatal("Payload() hit on an empty cache")
	}
	p := &lyrics.Payload{Format: lyrics.FormatLRC, Lyric: "[00:01.00]hello", Translation: "[00:01.00]hallo"}
	if err := c.PutPayload("1", p); err != nil {
		t.Fatalf("PutPayload() error: %v", err)
	}
	got, ok := c.Payload("1")
	if !ok || *got != *p {
		t.Errorf("Payload() = %+v, %v, want %+v", got, ok, p)
	}
}

func TestLyricCache_PayloadCorrupt(t *testing.T) {
	c, fs := newTestLyricCache()
	if err := afero.WriteFile(fs, c.payloadPath("7"), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Payload("7"); ok {
		t.Error("Payload() returned a corrupt entry")
	}
	if exists, _ := afero.Exists(fs, c.payloadPath("7")); exists {
		t.Error("corrupt entry was not removed")
	}
}

func TestLyricCache_PruneRemovesOldestFirst(t *testing.T) {
	c, fs := newTestLyricCache()
	ids := []string{"a", "b", "c"}
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var size int64
	for i, id := range ids {
		if err := c.PutPayload(id, &lyrics.Payload{Format: lyrics.FormatPlain, Lyric: "lyric " + id}); err != nil {
			t.Fatal(err)
		}
		mod := base.Add(time.Duration(i) * time.Hour)
		if err := fs.Chtimes(c.payloadPath(id), mod, mod); err != nil {
			t.Fatal(err)
		}
		info, err := fs.Stat(c.payloadPath(id))
		if err != nil {
			t.Fatal(err)
		}
		size = info.Size()
	}

	c.SetMaxSizeBytes(2 * size)
	c.Prune()

	want := map[string]bool{"a": false, "b": true, "c": true}
	for id, kept := range want {
		if _, ok := c.Payload(id); ok != kept {
			t.Errorf("after Prune: %q cached = %v, want %v", id, ok, kept)
		}
	}
}

func TestLyricCache_PruneWithinLimit(t *testing.T) {
	c, _ := newTestLyricCache()
	for _, id := range []string{"a", "b"} {
		if err := c.PutPayload(id, &lyrics.Payload{Format: lyrics.FormatPlain, Lyric: id}); err != nil {
			t.Fatal(err)
		}
	}
	c.Prune()
	for _, id := range []string{"a", "b"} {
		if _, ok := c.Payload(id); !ok {
			t.Errorf("Prune removed %q while under the size limit", id)
		}
	}
}
