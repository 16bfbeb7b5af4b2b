package backend

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/metafates/gache"
	"github.com/spf13/afero"
	"github.com/supersonic-app/lyricsync/backend/lyrics"
)

const (
	searchIndexFile = "search_index.json"
	payloadDirName  = "lyrics"

	defaultLyricCacheSizeBytes = 20 * 1_048_576
)

// LyricCache keeps lyric search results and fetched payloads on disk.
// Search results live in a single expiring index; payloads are stored
// one JSON file per track id and pruned least recently written first
// when the cache grows past its size limit.
type LyricCache struct {
	fs      afero.Fs
	baseDir string

	mu          sync.Mutex
	searchIndex *gache.Cache[*searchIndexData]

	maxSizeBytes               int64
	filesWrittenSinceLastPrune bool
}

type searchIndexData struct {
	Tracks map[string]*TrackMetadata `json:"tracks"`
}

func NewLyricCache(fsys afero.Fs, baseDir string, searchLifetime time.Duration) *LyricCache {
	if err := fsys.MkdirAll(filepath.Join(baseDir, payloadDirName), 0755); err != nil {
		log.Printf("failed to create lyric cache dir: %v", err)
	}
	return &LyricCache{
		fs:      fsys,
		baseDir: baseDir,
		searchIndex: gache.New[*searchIndexData](&gache.Options{
			Path:       filepath.Join(baseDir, searchIndexFile),
			Lifetime:   searchLifetime,
			FileSystem: gacheFs{fsys},
		}),
		maxSizeBytes: defaultLyricCacheSizeBytes,
	}
}

func (c *LyricCache) SetMaxSizeBytes(size int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxSizeBytes = size
}

// SearchKey returns the stable cache key of a search query.
func SearchKey(q TrackQuery) string {
	h := sha1.New()
	for _, s := range []string{
		NormalizeTrackKey(q.Title, q.Artist),
		normalizeName(q.Album),
		strconv.Itoa(q.DurationMs / 1000),
	} {
		io.WriteString(h, s)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (c *LyricCache) Search(q TrackQuery) (*TrackMetadata, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, expired, err := c.searchIndex.Get()
	if err != nil || expired || data == nil {
		return nil, false
	}
	md, ok := data.Tracks[SearchKey(q)]
	return md, ok && md != nil
}

func (c *LyricCache) PutSearch(q TrackQuery, md *TrackMetadata) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, expired, err := c.searchIndex.Get()
	if err != nil {
		return err
	}
	if expired || data == nil || data.Tracks == nil {
		data = &searchIndexData{Tracks: make(map[string]*TrackMetadata)}
	}
	data.Tracks[SearchKey(q)] = md
	return c.searchIndex.Set(data)
}

func (c *LyricCache) Payload(id string) (*lyrics.Payload, bool) {
	b, err := afero.ReadFile(c.fs, c.payloadPath(id))
	if err != nil {
		return nil, false
	}
	var p lyrics.Payload
	if err := json.Unmarshal(b, &p); err != nil {
		log.Printf("discarding corrupt cached lyrics %s: %v", id, err)
		_ = c.fs.Remove(c.payloadPath(id))
		return nil, false
	}
	return &p, true
}

func (c *LyricCache) PutPayload(id string, p *lyrics.Payload) error {
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	if err := afero.WriteFile(c.fs, c.payloadPath(id), b, 0644); err != nil {
		return err
	}
	c.mu.Lock()
	c.filesWrittenSinceLastPrune = true
	c.mu.Unlock()
	return nil
}

func (c *LyricCache) payloadPath(id string) string {
	sum := sha1.Sum([]byte(id))
	return filepath.Join(c.baseDir, payloadDirName, hex.EncodeToString(sum[:])+".json")
}

// Prune deletes cached payloads, least recently written first,
// until the cache is within its size limit.
func (c *LyricCache) Prune() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.filesWrittenSinceLastPrune {
		return
	}

	type fileInfo struct {
		path    string
		size    int64
		modTime int64
	}
	var files []fileInfo
	var totalSize int64
	afero.Walk(c.fs, filepath.Join(c.baseDir, payloadDirName), func(path string, info fs.FileInfo, err error) error {
		if err != nil || info.IsDir() || !strings.HasSuffix(path, ".json") {
			return nil
		}
		files = append(files, fileInfo{path: path, size: info.Size(), modTime: info.ModTime().UnixNano()})
		totalSize += info.Size()
		return nil
	})

	if totalSize > c.maxSizeBytes {
		sort.Slice(files, func(i, j int) bool {
			return files[i].modTime < files[j].modTime
		})
		for i := 0; i < len(files) && totalSize > c.maxSizeBytes; i++ {
			if err := c.fs.Remove(files[i].path); err == nil {
				totalSize -= files[i].size
			}
		}
	}
	c.filesWrittenSinceLastPrune = false
}

// gacheFs adapts an afero filesystem to the gache.FileSystem interface.
type gacheFs struct {
	fs afero.Fs
}

func (g gacheFs) OpenFile(name string, flag int, perm os.FileMode) (io.ReadWriteCloser, error) {
	return g.fs.OpenFile(name, flag, perm)
}

func (g gacheFs) MkdirAll(path string, perm os.FileMode) error {
	return g.fs.MkdirAll(path, perm)
}
