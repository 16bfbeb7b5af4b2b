package backend

import (
	"os"
	"sync"

	"github.com/pelletier/go-toml/v2"
)

type AppConfig struct {
	LastCheckedVersion  string
	LastLaunchedVersion string
	AllowMultiInstance  bool
	EnableLrcLib        bool
	LrcLibBaseURL       string
	MaxLyricCacheSizeMB int
	EnableUpdateCheck   bool
}

type SessionsConfig struct {
	// Source IDs of the media players to follow, e.g. "spotify" or "firefox".
	// Empty means follow every player.
	AllowedSourceIDs []string
}

// ClockConfig holds the playback clock's reconciliation thresholds.
type ClockConfig struct {
	TickIntervalMs      int
	SyncThresholdSecs   float64
	MinSyncIntervalMs   int
	JitterFloorSecs     float64
	DurationEpsilonSecs float64
}

type LyricsConfig struct {
	ShowTranslation          bool
	ShowTransliteration      bool
	SearchCacheLifetimeHours int
}

type Config struct {
	Application AppConfig
	Sessions    SessionsConfig
	Clock       ClockConfig
	Lyrics      LyricsConfig
}

func DefaultConfig(appVersionTag string) *Config {
	return &Config{
		Application: AppConfig{
			LastCheckedVersion:  appVersionTag,
			LastLaunchedVersion: "",
			AllowMultiInstance:  false,
			EnableLrcLib:        true,
			LrcLibBaseURL:       defaultLrcLibBaseURL,
			MaxLyricCacheSizeMB: 20,
			EnableUpdateCheck:   true,
		},
		Sessions: SessionsConfig{
			AllowedSourceIDs: []string{},
		},
		Clock: defaultClockConfig(),
		Lyrics: LyricsConfig{
			ShowTranslation:          true,
			ShowTransliteration:      false,
			SearchCacheLifetimeHours: 24 * 7,
		},
	}
}

func defaultClockConfig() ClockConfig {
	return ClockConfig{
		TickIntervalMs:      100,
		SyncThresholdSecs:   1.5,
		MinSyncIntervalMs:   500,
		JitterFloorSecs:     0.1,
		DurationEpsilonSecs: 0.01,
	}
}

// normalized returns a copy with the tick interval clamped to 100-200ms
// and unset thresholds replaced by their defaults.
func (c *ClockConfig) normalized() ClockConfig {
	def := defaultClockConfig()
	if c == nil {
		return def
	}
	n := *c
	n.TickIntervalMs = clamp(n.TickIntervalMs, 100, 200)
	if n.SyncThresholdSecs <= 0 {
		n.SyncThresholdSecs = def.SyncThresholdSecs
	}
	if n.MinSyncIntervalMs <= 0 {
		n.MinSyncIntervalMs = def.MinSyncIntervalMs
	}
	if n.JitterFloorSecs <= 0 {
		n.JitterFloorSecs = def.JitterFloorSecs
	}
	if n.DurationEpsilonSecs <= 0 {
		n.DurationEpsilonSecs = def.DurationEpsilonSecs
	}
	return n
}

func ReadConfigFile(filepath, appVersionTag string) (*Config, error) {
	f, err := os.Open(filepath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	c := DefaultConfig(appVersionTag)
	if err := toml.NewDecoder(f).Decode(c); err != nil {
		return nil, err
	}

	if c.Application.LrcLibBaseURL == "" {
		c.Application.LrcLibBaseURL = defaultLrcLibBaseURL
	}

	return c, nil
}

var writeLock sync.Mutex

func (c *Config) WriteConfigFile(filepath string) error {
	if !writeLock.TryLock() {
		return nil // another write in progress
	}
	defer writeLock.Unlock()

	b, err := toml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath, b, 0644)
}
